package xmlmode

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestModeCache(t *testing.T) {
	t.Run("get and set", func(t *testing.T) {
		c := NewModeCache()

		_, ok := c.Get(1)
		assert.False(t, ok)

		c.Set(1, ValidationDTD, 0)
		mode, ok := c.Get(1)
		assert.True(t, ok)
		assert.Equal(t, ValidationDTD, mode)

		stats := c.Stats()
		assert.Equal(t, int64(1), stats.Hits)
		assert.Equal(t, int64(1), stats.Misses)
		assert.Equal(t, int64(1), stats.Size)
		assert.InDelta(t, 0.5, stats.HitRate, 1e-9)
	})

	t.Run("expiry", func(t *testing.T) {
		c := NewModeCache()
		c.Set(1, ValidationXSD, time.Millisecond)
		c.Set(2, ValidationXSD, time.Hour)
		time.Sleep(5 * time.Millisecond)

		_, ok := c.Get(1)
		assert.False(t, ok)
		_, ok = c.Get(2)
		assert.True(t, ok)
	})

	t.Run("cleanup", func(t *testing.T) {
		c := NewModeCache()
		c.Set(1, ValidationXSD, time.Millisecond)
		c.Set(2, ValidationDTD, 0)
		time.Sleep(5 * time.Millisecond)

		c.Cleanup()
		assert.Equal(t, int64(1), c.Stats().Size)
	})

	t.Run("delete and clear", func(t *testing.T) {
		c := NewModeCache()
		c.Set(1, ValidationXSD, 0)
		c.Set(2, ValidationDTD, 0)

		c.Delete(1)
		_, ok := c.Get(1)
		assert.False(t, ok)

		c.Clear()
		assert.Equal(t, int64(0), c.Stats().Size)
	})

	t.Run("concurrent access", func(t *testing.T) {
		c := NewModeCache()
		var wg sync.WaitGroup
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func(key uint64) {
				defer wg.Done()
				c.Set(key, ValidationDTD, 0)
				c.Get(key)
			}(uint64(i))
		}
		wg.Wait()
		assert.Equal(t, int64(16), c.Stats().Size)
	})
}

func TestFingerprint(t *testing.T) {
	mod := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	base := FileInfo{Path: "beans.xml", Size: 120, ModTime: mod}

	assert.Equal(t, Fingerprint(&base), Fingerprint(&base))

	resized := base
	resized.Size = 121
	assert.NotEqual(t, Fingerprint(&base), Fingerprint(&resized))

	touched := base
	touched.ModTime = mod.Add(time.Second)
	assert.NotEqual(t, Fingerprint(&base), Fingerprint(&touched))

	moved := base
	moved.Path = "other.xml"
	assert.NotEqual(t, Fingerprint(&base), Fingerprint(&moved))
}

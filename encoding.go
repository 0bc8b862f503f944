package xmlmode

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// charset decodes document bytes into UTF-8 text.
type charset struct {
	name string

	// newTransformer returns a fresh transformer per scan; x/text
	// transformers carry state and must not be shared.
	newTransformer func() transform.Transformer

	// lossy is set when the decoder substitutes U+FFFD for bytes it cannot
	// map instead of failing.
	lossy bool
}

var utf8Charset = charset{
	name: "utf-8",
	newTransformer: func() transform.Transformer {
		return unicode.BOMOverride(encoding.UTF8Validator)
	},
}

// lookupCharset resolves an encoding label. The empty label selects strict
// UTF-8. A byte order mark at the start of a document overrides the label.
func lookupCharset(label string) (charset, error) {
	label = strings.TrimSpace(label)
	if label == "" || strings.EqualFold(label, "utf-8") || strings.EqualFold(label, "utf8") {
		return utf8Charset, nil
	}

	enc, err := htmlindex.Get(label)
	if err != nil {
		enc, err = ianaindex.IANA.Encoding(label)
	}
	if err != nil || enc == nil {
		return charset{}, fmt.Errorf("%w: %s", ErrUnsupportedEncoding, label)
	}

	name := label
	if canonical, err := htmlindex.Name(enc); err == nil {
		name = canonical
	}
	if name == "utf-8" {
		return utf8Charset, nil
	}

	return charset{
		name: name,
		newTransformer: func() transform.Transformer {
			return unicode.BOMOverride(enc.NewDecoder())
		},
		lossy: true,
	}, nil
}

// Byte order marks BOMOverride switches decoders on. The decoders it
// switches to substitute U+FFFD for bytes they cannot map.
var byteOrderMarks = [][]byte{
	{0xEF, 0xBB, 0xBF},
	{0xFE, 0xFF},
	{0xFF, 0xFE},
}

// reader wraps r with this charset's decoder.
func (c charset) reader(r io.Reader) (io.Reader, *bomSniffer) {
	sniffer := &bomSniffer{r: r}
	return transform.NewReader(sniffer, c.newTransformer()), sniffer
}

// bomSniffer notes whether the stream starts with a byte order mark as the
// decoder reads through it. BOMOverride holds back output until it has
// seen those bytes, so the answer is settled before any text comes out.
type bomSniffer struct {
	r    io.Reader
	head []byte
	bom  bool
}

func (s *bomSniffer) Read(p []byte) (int, error) {
	n, err := s.r.Read(p)
	if want := 3 - len(s.head); want > 0 && n > 0 {
		s.head = append(s.head, p[:min(want, n)]...)
		for _, bom := range byteOrderMarks {
			if bytes.HasPrefix(s.head, bom) {
				s.bom = true
			}
		}
	}
	return n, err
}

// textReader records how the decoded stream ended. Strict UTF-8 failures
// are reported wrapped in ErrDecode.
type textReader struct {
	r   io.Reader
	err error
}

func (t *textReader) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if err != nil && err != io.EOF {
		if errors.Is(err, encoding.ErrInvalidUTF8) {
			err = fmt.Errorf("%w: %w", ErrDecode, err)
		}
		if t.err == nil {
			t.err = err
		}
	}
	return n, err
}

package xmlmode

import (
	"context"
	"path"
	"strings"

	"github.com/gobwas/glob"
)

// Selector decides which documents a scan visits.
//
// Selectors compose with And, Or and Not:
//
//	sel := xmlmode.And(
//	    xmlmode.MustGlob("**.xml", "conf"),
//	    xmlmode.Depth(2, "conf"),
//	)
//	results, err := resolver.DetectSelected(ctx, "conf", sel)
type Selector interface {
	// Match reports whether a document is included.
	Match(file *FileInfo) bool

	// Descend reports whether the contents of a directory are visited.
	// Only called for directories.
	Descend(dir *FileInfo) bool
}

// ListSelected lists the documents under dir accepted by sel, walking one
// directory level at a time so that pruned directories are never listed.
func ListSelected(ctx context.Context, src Source, dir string, sel Selector) ([]FileInfo, error) {
	if sel == nil {
		sel = All()
	}

	var results []FileInfo
	if err := listSelected(ctx, src, dir, sel, &results); err != nil {
		return nil, err
	}
	return results, nil
}

func listSelected(ctx context.Context, src Source, dir string, sel Selector, results *[]FileInfo) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	entries, err := src.ListContents(ctx, dir, false)
	if err != nil {
		return err
	}

	for i := range entries {
		entry := &entries[i]
		if entry.IsDir {
			if sel.Descend(entry) {
				if err := listSelected(ctx, src, entry.Path, sel, results); err != nil {
					return err
				}
			}
			continue
		}
		if sel.Match(entry) {
			*results = append(*results, *entry)
		}
	}
	return nil
}

type allSelector struct{}

func (allSelector) Match(*FileInfo) bool   { return true }
func (allSelector) Descend(*FileInfo) bool { return true }

// All selects every document.
func All() Selector {
	return allSelector{}
}

type globSelector struct {
	base    string
	pattern glob.Glob
}

// Glob selects documents whose path relative to base matches pattern.
// '*' stops at '/', "**" crosses it.
func Glob(pattern, base string) (Selector, error) {
	g, err := glob.Compile(pattern, '/')
	if err != nil {
		return nil, &PathError{Op: "glob", Path: pattern, Err: err}
	}
	return &globSelector{base: base, pattern: g}, nil
}

// MustGlob is like Glob but panics on an invalid pattern.
func MustGlob(pattern, base string) Selector {
	sel, err := Glob(pattern, base)
	if err != nil {
		panic(err)
	}
	return sel
}

func (s *globSelector) Match(file *FileInfo) bool {
	return s.pattern.Match(relativeTo(s.base, file.Path))
}

func (s *globSelector) Descend(*FileInfo) bool { return true }

type depthSelector struct {
	maxDepth int
	base     string
}

// Depth limits a scan to maxDepth levels below base. Depth 1 selects the
// documents directly in base.
func Depth(maxDepth int, base string) Selector {
	return &depthSelector{maxDepth: maxDepth, base: base}
}

func (s *depthSelector) depth(p string) int {
	rel := relativeTo(s.base, p)
	if rel == "" {
		return 0
	}
	return strings.Count(rel, "/") + 1
}

func (s *depthSelector) Match(file *FileInfo) bool {
	return s.depth(file.Path) <= s.maxDepth
}

func (s *depthSelector) Descend(dir *FileInfo) bool {
	return s.depth(dir.Path) < s.maxDepth
}

type andSelector []Selector

// And selects documents every selector matches. A directory is visited
// only when every selector descends into it.
func And(selectors ...Selector) Selector {
	return andSelector(selectors)
}

func (s andSelector) Match(file *FileInfo) bool {
	for _, sel := range s {
		if !sel.Match(file) {
			return false
		}
	}
	return true
}

func (s andSelector) Descend(dir *FileInfo) bool {
	for _, sel := range s {
		if !sel.Descend(dir) {
			return false
		}
	}
	return true
}

type orSelector []Selector

// Or selects documents any selector matches.
func Or(selectors ...Selector) Selector {
	return orSelector(selectors)
}

func (s orSelector) Match(file *FileInfo) bool {
	for _, sel := range s {
		if sel.Match(file) {
			return true
		}
	}
	return false
}

func (s orSelector) Descend(dir *FileInfo) bool {
	for _, sel := range s {
		if sel.Descend(dir) {
			return true
		}
	}
	return false
}

type notSelector struct {
	sel Selector
}

// Not inverts the documents sel matches. Every directory is visited.
func Not(sel Selector) Selector {
	return notSelector{sel: sel}
}

func (s notSelector) Match(file *FileInfo) bool { return !s.sel.Match(file) }
func (s notSelector) Descend(*FileInfo) bool    { return true }

// SelectorFunc selects documents for which fn returns true.
type SelectorFunc func(file *FileInfo) bool

func (f SelectorFunc) Match(file *FileInfo) bool { return f(file) }
func (f SelectorFunc) Descend(*FileInfo) bool    { return true }

// Skip prunes directories with the given base names, such as "target" or
// ".git".
func Skip(names ...string) Selector {
	skip := make(map[string]bool, len(names))
	for _, n := range names {
		skip[n] = true
	}
	return skipSelector(skip)
}

type skipSelector map[string]bool

func (s skipSelector) Match(file *FileInfo) bool {
	for _, part := range strings.Split(path.Dir(file.Path), "/") {
		if s[part] {
			return false
		}
	}
	return true
}

func (s skipSelector) Descend(dir *FileInfo) bool {
	return !s[path.Base(dir.Path)]
}

// Package ignore implements exclude-list matching: a list of shell-style
// glob patterns, applied segment-aware against a replica-relative path.
package ignore

import (
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/pkg/errors"
)

// List is a compiled exclude list. A path is excluded if any pattern
// matches: a pattern containing no "/" matches against any path segment's
// basename anywhere in the tree, while a pattern containing "/" is anchored
// against the full path from the replica root.
type List struct {
	patterns []pattern
}

type pattern struct {
	raw      string
	anchored bool
}

// New compiles a list of glob patterns into a List. An invalid pattern
// (one doublestar cannot parse) is rejected immediately rather than failing
// silently at match time.
func New(patterns []string) (*List, error) {
	l := &List{patterns: make([]pattern, 0, len(patterns))}
	for _, raw := range patterns {
		raw = strings.TrimSpace(raw)
		if raw == "" || strings.HasPrefix(raw, "#") {
			continue
		}
		if !doublestar.ValidatePattern(raw) {
			return nil, errors.Errorf("invalid exclude pattern: %s", raw)
		}
		l.patterns = append(l.patterns, pattern{
			raw:      raw,
			anchored: strings.ContainsRune(raw, '/'),
		})
	}
	return l, nil
}

// Matches reports whether path (relative to the replica root, forward-slash
// separated, no leading slash) is excluded by any pattern in the list.
func (l *List) Matches(path string) bool {
	if l == nil {
		return false
	}
	base := path
	if idx := strings.LastIndexByte(path, '/'); idx >= 0 {
		base = path[idx+1:]
	}
	for _, p := range l.patterns {
		var candidate string
		if p.anchored {
			candidate = path
		} else {
			candidate = base
		}
		matched, err := doublestar.Match(p.raw, candidate)
		if err != nil {
			continue
		}
		if matched {
			return true
		}
	}
	return false
}

// Len reports the number of compiled patterns.
func (l *List) Len() int {
	if l == nil {
		return 0
	}
	return len(l.patterns)
}

package tasks

import (
	"fmt"
	"sort"
	"strings"
)

// Placeholders maps literal text to its replacement.
type Placeholders map[string]string

// Keys returns the keys in match priority: longest first, then
// lexicographic, so a key that is a prefix of another never pre-empts it.
func (p Placeholders) Keys() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})
	return keys
}

// Apply substitutes every key in content in a single left-to-right pass.
// Replaced text is never scanned again.
func (p Placeholders) Apply(content string) string {
	if len(p) == 0 {
		return content
	}
	pairs := make([]string, 0, 2*len(p))
	for _, k := range p.Keys() {
		pairs = append(pairs, k, p[k])
	}
	return strings.NewReplacer(pairs...).Replace(content)
}

// Validate rejects maps for which Apply(Apply(s)) could differ from
// Apply(s). Untouched text never holds a key after a pass, so a key can only
// reappear where it meets a replacement: inside it, around it, or across one
// of its edges.
func (p Placeholders) Validate() error {
	keys := p.Keys()
	for _, k := range keys {
		if k == "" {
			return fmt.Errorf("placeholder key must not be empty")
		}
	}
	for _, k := range keys {
		r := p[k]
		if r == "" {
			return fmt.Errorf("replacement for %q must not be empty", k)
		}
		for _, other := range keys {
			switch {
			case strings.Contains(r, other):
				return fmt.Errorf("replacement for %q contains placeholder %q", k, other)
			case strings.Contains(other, r):
				return fmt.Errorf("replacement for %q is part of placeholder %q", k, other)
			case edgeOverlap(r, other) || edgeOverlap(other, r):
				return fmt.Errorf("replacement for %q can join surrounding text to form placeholder %q", k, other)
			}
		}
	}
	return nil
}

// edgeOverlap reports whether a proper suffix of a is a proper prefix of b.
func edgeOverlap(a, b string) bool {
	for n := 1; n < len(a) && n < len(b); n++ {
		if strings.HasPrefix(b, a[len(a)-n:]) {
			return true
		}
	}
	return false
}

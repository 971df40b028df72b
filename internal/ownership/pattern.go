// Package ownership decides which files of the monorepo belong to the code
// generator and which are hand-authored.
//
// Ownership is described by an ordered list of glob patterns, each optionally
// negated with a leading "!". The list is folded left to right and the last
// pattern matching a path decides: a plain pattern claims the path for the
// generator, a negated one hands it back to humans. Paths matched by nothing
// are hand-authored.
package ownership

import (
	"fmt"
	"strings"

	"github.com/flapjackhq/codegen/internal/errs"
)

// Pattern is one entry of an ownership list.
type Pattern struct {
	Glob    string
	Negated bool
}

// String renders the pattern in its authored form.
func (p Pattern) String() string {
	if p.Negated {
		return "!" + p.Glob
	}
	return p.Glob
}

// Matches reports whether the pattern's glob matches path. Negation does not
// affect matching, only the resulting classification.
func (p Pattern) Matches(path string) bool {
	return Match(p.Glob, path)
}

// ParsePattern parses the authored form ("glob" or "!glob").
func ParsePattern(s string) (Pattern, error) {
	s = strings.TrimSpace(s)
	p := Pattern{Glob: s}
	if strings.HasPrefix(s, "!") {
		p = Pattern{Glob: strings.TrimPrefix(s, "!"), Negated: true}
	}
	if err := p.Validate(); err != nil {
		return Pattern{}, err
	}
	return p, nil
}

// Validate rejects globs the matcher cannot evaluate unambiguously.
func (p Pattern) Validate() error {
	fail := func(format string, args ...any) error {
		return errs.Configuration("validate pattern", fmt.Errorf(format, args...), "glob", p.String())
	}

	if p.Glob == "" {
		return fail("empty glob")
	}
	if strings.HasPrefix(p.Glob, "/") {
		return fail("glob must be relative to the repository root")
	}
	if strings.HasPrefix(p.Glob, "!") {
		return fail("double negation is not supported")
	}
	for _, seg := range strings.Split(p.Glob, "/") {
		if seg == ".." {
			return fail("glob must not contain '..'")
		}
		if strings.Contains(seg, globstar) && seg != globstar {
			return fail("'**' must be a whole path segment, got %q", seg)
		}
		if strings.ContainsAny(seg, "?[]{}") {
			return fail("unsupported glob syntax in %q", seg)
		}
	}
	return nil
}

// Patterns is an ordered, immutable ownership list.
type Patterns struct {
	list []Pattern
}

// NewPatterns validates and freezes patterns in the given order.
func NewPatterns(patterns ...Pattern) (Patterns, error) {
	list := make([]Pattern, len(patterns))
	for i, p := range patterns {
		if err := p.Validate(); err != nil {
			return Patterns{}, err
		}
		list[i] = p
	}
	return Patterns{list: list}, nil
}

// ParsePatterns parses authored strings in order.
func ParsePatterns(lines ...string) (Patterns, error) {
	list := make([]Pattern, 0, len(lines))
	for _, line := range lines {
		p, err := ParsePattern(line)
		if err != nil {
			return Patterns{}, err
		}
		list = append(list, p)
	}
	return Patterns{list: list}, nil
}

// MustParsePatterns is ParsePatterns for static lists; it panics on error.
func MustParsePatterns(lines ...string) Patterns {
	p, err := ParsePatterns(lines...)
	if err != nil {
		panic(err)
	}
	return p
}

// Len returns the number of patterns.
func (ps Patterns) Len() int {
	return len(ps.list)
}

// At returns the i-th pattern.
func (ps Patterns) At(i int) Pattern {
	return ps.list[i]
}

// All returns a copy of the patterns in authored order.
func (ps Patterns) All() []Pattern {
	out := make([]Pattern, len(ps.list))
	copy(out, ps.list)
	return out
}

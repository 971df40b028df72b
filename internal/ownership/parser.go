package ownership

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/flapjackhq/codegen/internal/errs"
)

// Parser reads ownership pattern files.
//
// The format is one pattern per line, in evaluation order:
//
//	# comment
//	clients/**
//	!clients/README.md
//	[!release] clients/js/packages/**/package.json
//	[release] !clients/js/packages/**/package.json
//
// A line prefixed with "[tag]" is only active when tag is enabled, "[!tag]"
// only when it is not. Inactive lines are dropped; the order of the remaining
// lines is preserved exactly.
type Parser struct {
	// Tags are the enabled condition tags (e.g. "release").
	Tags map[string]bool
}

// NewParser creates a parser with the given tags enabled.
func NewParser(tags ...string) *Parser {
	enabled := make(map[string]bool, len(tags))
	for _, t := range tags {
		enabled[t] = true
	}
	return &Parser{Tags: enabled}
}

// ParseFile reads patterns from a file.
func (p *Parser) ParseFile(path string) (Patterns, error) {
	file, err := os.Open(path)
	if err != nil {
		return Patterns{}, errs.Configuration("open pattern file", err, "path", path)
	}
	defer file.Close()

	patterns, err := p.Parse(file)
	if err != nil {
		var e *errs.Error
		if errors.As(err, &e) {
			return Patterns{}, e.With("path", path)
		}
		return Patterns{}, err
	}
	return patterns, nil
}

// Parse reads patterns from r.
func (p *Parser) Parse(r io.Reader) (Patterns, error) {
	var list []Pattern
	scanner := bufio.NewScanner(r)
	lineNo := 0

	for scanner.Scan() {
		lineNo++
		text, active, err := p.parseLine(scanner.Text())
		if err != nil {
			return Patterns{}, errs.Configuration("parse pattern file", fmt.Errorf("line %d: %w", lineNo, err))
		}
		if !active {
			continue
		}
		pattern, err := ParsePattern(text)
		if err != nil {
			var e *errs.Error
			if errors.As(err, &e) {
				return Patterns{}, e.With("line", fmt.Sprint(lineNo))
			}
			return Patterns{}, err
		}
		list = append(list, pattern)
	}

	if err := scanner.Err(); err != nil {
		return Patterns{}, errs.Configuration("read pattern file", err)
	}

	return Patterns{list: list}, nil
}

// parseLine strips comments and condition tags. It returns the pattern text
// and whether the line is active.
func (p *Parser) parseLine(line string) (string, bool, error) {
	line = strings.TrimSpace(line)

	if line == "" || strings.HasPrefix(line, "#") {
		return "", false, nil
	}

	if !strings.HasPrefix(line, "[") {
		return line, true, nil
	}

	end := strings.Index(line, "]")
	if end < 0 {
		return "", false, fmt.Errorf("unterminated condition tag in %q", line)
	}
	tag := line[1:end]
	rest := strings.TrimSpace(line[end+1:])
	if rest == "" {
		return "", false, fmt.Errorf("condition tag %q without pattern", tag)
	}

	want := true
	if strings.HasPrefix(tag, "!") {
		want = false
		tag = tag[1:]
	}
	if tag == "" {
		return "", false, fmt.Errorf("empty condition tag in %q", line)
	}

	return rest, p.Tags[tag] == want, nil
}

package ownership

import "strings"

const globstar = "**"

// Match reports whether path matches glob.
//
// Both are slash-separated and relative. `*` matches any run of characters
// inside one segment, `**` as a whole segment matches zero or more segments,
// anything else is literal. A trailing `/**` therefore matches the directory
// itself and all of its descendants. Wildcards never match a segment that
// starts with "."; the pattern segment must start with "." to reach hidden
// entries (e.g. `docs/**/.*`).
func Match(glob, path string) bool {
	return matchSegments(splitPath(glob), splitPath(path))
}

// matchSegments aligns pattern segments against path segments left to right.
// reach[j] holds whether the pattern prefix consumed so far can end exactly
// before path segment j; each pattern segment advances the table once, so the
// result does not depend on search order.
func matchSegments(pattern, path []string) bool {
	reach := make([]bool, len(path)+1)
	reach[0] = true

	for _, seg := range pattern {
		next := make([]bool, len(path)+1)
		if seg == globstar {
			// zero segments, then extend across visible segments only
			for j := 0; j <= len(path); j++ {
				if reach[j] {
					next[j] = true
				} else if j > 0 && next[j-1] && !hidden(path[j-1]) {
					next[j] = true
				}
			}
		} else {
			for j := 0; j < len(path); j++ {
				if reach[j] && matchSegment(seg, path[j]) {
					next[j+1] = true
				}
			}
		}
		reach = next
	}

	return reach[len(path)]
}

// matchSegment matches one pattern segment (with `*` wildcards) against one
// path segment.
func matchSegment(pattern, name string) bool {
	if !strings.Contains(pattern, "*") {
		return pattern == name
	}
	if hidden(name) && !strings.HasPrefix(pattern, ".") {
		return false
	}

	// greedy star matching with backtracking to the last star
	p, n := 0, 0
	star, mark := -1, 0
	for n < len(name) {
		switch {
		case p < len(pattern) && pattern[p] == '*':
			star = p
			mark = n
			p++
		case p < len(pattern) && pattern[p] == name[n]:
			p++
			n++
		case star >= 0:
			p = star + 1
			mark++
			n = mark
		default:
			return false
		}
	}
	for p < len(pattern) && pattern[p] == '*' {
		p++
	}
	return p == len(pattern)
}

func hidden(segment string) bool {
	return strings.HasPrefix(segment, ".")
}

// splitPath splits a slash path into segments, ignoring empty and "."
// segments so that "a//b/" and "./a/b" align like "a/b".
func splitPath(p string) []string {
	raw := strings.Split(p, "/")
	out := raw[:0]
	for _, s := range raw {
		if s == "" || s == "." {
			continue
		}
		out = append(out, s)
	}
	return out
}

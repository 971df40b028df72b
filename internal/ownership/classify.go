package ownership

import "sort"

// Classify reports whether path is owned by the generator under patterns.
//
// The last matching pattern wins; a negated pattern can only veto an earlier
// positive match.
func Classify(patterns Patterns, path string) bool {
	owned, _ := Explain(patterns, path)
	return owned
}

// Explain is Classify that also returns the index of the deciding pattern,
// or -1 when no pattern matched.
func Explain(patterns Patterns, path string) (owned bool, decidedBy int) {
	decidedBy = -1
	for i, p := range patterns.list {
		if p.Matches(path) {
			owned = !p.Negated
			decidedBy = i
		}
	}
	return owned, decidedBy
}

// Partition classifies paths and splits them into owned and preserved sets,
// each sorted.
func Partition(patterns Patterns, paths []string) (owned, preserved []string) {
	for _, p := range paths {
		if Classify(patterns, p) {
			owned = append(owned, p)
		} else {
			preserved = append(preserved, p)
		}
	}
	sort.Strings(owned)
	sort.Strings(preserved)
	return owned, preserved
}

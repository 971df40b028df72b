package push

import (
	"bytes"
	"sort"

	"github.com/flapjackhq/codegen/internal/extraction"
)

// Diff returns the changes turning current into the bundle's content. Files
// under the bundle's output location that the bundle no longer contains are
// deleted; files outside it are ignored. Changes are sorted by path.
func Diff(bundle *extraction.Bundle, current map[string][]byte) []FileChange {
	var changes []FileChange
	for _, p := range bundle.Paths() {
		want := bundle.Files[p]
		if have, ok := current[p]; ok && bytes.Equal(have, want) {
			continue
		}
		changes = append(changes, FileChange{Path: p, Content: want})
	}
	for p := range current {
		if _, ok := bundle.Files[p]; ok || !bundle.Owns(p) {
			continue
		}
		changes = append(changes, FileChange{Path: p, Delete: true})
	}
	sort.Slice(changes, func(i, j int) bool { return changes[i].Path < changes[j].Path })
	return changes
}

// changedPaths lists the paths of changes, marking deletions with a leading
// "-".
func changedPaths(changes []FileChange) []string {
	paths := make([]string, len(changes))
	for i, c := range changes {
		if c.Delete {
			paths[i] = "-" + c.Path
		} else {
			paths[i] = c.Path
		}
	}
	return paths
}

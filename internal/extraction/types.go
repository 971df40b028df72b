package extraction

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"

	"github.com/flapjackhq/codegen/internal/tasks"
)

// ErrNotFound is returned by a Store for an unknown identifier.
var ErrNotFound = errors.New("document not found")

// Document is one spec or guide read from a Store.
type Document struct {
	// ID is the client identifier for specs and the guide identifier
	// (slash path without extension) for guides.
	ID string
	// Name is the file name the document is published under.
	Name    string
	Content []byte

	// HasSnippets and HasSLA report whether the content may carry code
	// samples or SLA sections. Filtering is skipped when both are false.
	HasSnippets bool
	HasSLA      bool
}

// Store provides the documents extraction selects from. Listings are sorted
// by ID.
type Store interface {
	Specs(ctx context.Context, ext tasks.Ext) ([]Document, error)
	Spec(ctx context.Context, client string, ext tasks.Ext) (Document, error)
	Guides(ctx context.Context) ([]Document, error)
	Guide(ctx context.Context, id string) (Document, error)
}

// Bundle is the extracted content of one task, keyed by slash path relative
// to the target repository root.
type Bundle struct {
	// Output is the task's output location.
	Output string
	// Aggregated is set when Output is a single file rather than a
	// directory.
	Aggregated bool
	Files      map[string][]byte
}

func newBundle(output string, aggregated bool) *Bundle {
	return &Bundle{Output: path.Clean(output), Aggregated: aggregated, Files: make(map[string][]byte)}
}

func (b *Bundle) add(p string, content []byte) {
	b.Files[p] = content
}

// Paths returns the bundle's file paths in sorted order.
func (b *Bundle) Paths() []string {
	paths := make([]string, 0, len(b.Files))
	for p := range b.Files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Owns reports whether p lies in the output location managed by the bundle.
// Files the target has there but the bundle lacks are stale.
func (b *Bundle) Owns(p string) bool {
	if b.Aggregated {
		return p == b.Output
	}
	return p == b.Output || len(p) > len(b.Output) && p[:len(b.Output)+1] == b.Output+"/"
}

// WriteTo materialises the bundle under dir.
func (b *Bundle) WriteTo(dir string) error {
	for _, p := range b.Paths() {
		dst := filepath.Join(dir, filepath.FromSlash(p))
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return fmt.Errorf("create directory for %s: %w", p, err)
		}
		if err := os.WriteFile(dst, b.Files[p], 0o644); err != nil {
			return fmt.Errorf("write %s: %w", p, err)
		}
	}
	return nil
}

package extraction

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/flapjackhq/codegen/internal/tasks"
)

const (
	// DefaultSpecsDir holds the bundled specs, one <client>.<ext> per client.
	DefaultSpecsDir = "specs/bundled"
	// DefaultGuidesDir holds the guides, identified by their path without
	// extension.
	DefaultGuidesDir = "guides"

	snippetsKey = "x-codeSamples"
	slaKey      = "x-sla"
)

// FSStore reads documents from a generated tree on disk.
type FSStore struct {
	fsys      fs.FS
	specsDir  string
	guidesDir string
}

// FSStoreOption configures an FSStore.
type FSStoreOption func(*FSStore)

// WithSpecsDir overrides the specs directory (slash path relative to root).
func WithSpecsDir(dir string) FSStoreOption {
	return func(s *FSStore) { s.specsDir = dir }
}

// WithGuidesDir overrides the guides directory (slash path relative to root).
func WithGuidesDir(dir string) FSStoreOption {
	return func(s *FSStore) { s.guidesDir = dir }
}

// NewFSStore creates a store rooted at root.
func NewFSStore(root string, opts ...FSStoreOption) *FSStore {
	return NewFSStoreFS(os.DirFS(root), opts...)
}

// NewFSStoreFS creates a store over fsys.
func NewFSStoreFS(fsys fs.FS, opts ...FSStoreOption) *FSStore {
	s := &FSStore{fsys: fsys, specsDir: DefaultSpecsDir, guidesDir: DefaultGuidesDir}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Specs lists every spec with the given extension.
func (s *FSStore) Specs(ctx context.Context, ext tasks.Ext) ([]Document, error) {
	entries, err := fs.ReadDir(s.fsys, s.specsDir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list specs: %w", err)
	}

	suffix := "." + string(ext)
	var docs []Document
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if e.IsDir() || !strings.HasSuffix(e.Name(), suffix) {
			continue
		}
		doc, err := s.Spec(ctx, strings.TrimSuffix(e.Name(), suffix), ext)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	sortDocuments(docs)
	return docs, nil
}

// Spec reads the spec of one client.
func (s *FSStore) Spec(_ context.Context, client string, ext tasks.Ext) (Document, error) {
	if !validID(client) || strings.Contains(client, "/") {
		return Document{}, fmt.Errorf("spec %q: %w", client, ErrNotFound)
	}
	name := client + "." + string(ext)
	content, err := fs.ReadFile(s.fsys, path.Join(s.specsDir, name))
	if errors.Is(err, fs.ErrNotExist) {
		return Document{}, fmt.Errorf("spec %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return Document{}, fmt.Errorf("read spec %q: %w", name, err)
	}
	return Document{
		ID:          client,
		Name:        name,
		Content:     content,
		HasSnippets: bytes.Contains(content, []byte(snippetsKey)),
		HasSLA:      bytes.Contains(content, []byte(slaKey)),
	}, nil
}

// Guides lists every guide under the guides directory.
func (s *FSStore) Guides(ctx context.Context) ([]Document, error) {
	var docs []Document
	err := fs.WalkDir(s.fsys, s.guidesDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		rel := strings.TrimPrefix(p, s.guidesDir+"/")
		content, err := fs.ReadFile(s.fsys, p)
		if err != nil {
			return fmt.Errorf("read guide %q: %w", rel, err)
		}
		docs = append(docs, Document{ID: guideID(rel), Name: rel, Content: content})
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list guides: %w", err)
	}
	sortDocuments(docs)
	return docs, nil
}

// Guide reads one guide by identifier.
func (s *FSStore) Guide(ctx context.Context, id string) (Document, error) {
	if !validID(id) {
		return Document{}, fmt.Errorf("guide %q: %w", id, ErrNotFound)
	}
	docs, err := s.Guides(ctx)
	if err != nil {
		return Document{}, err
	}
	for _, d := range docs {
		if d.ID == id {
			return d, nil
		}
	}
	return Document{}, fmt.Errorf("guide %q: %w", id, ErrNotFound)
}

func guideID(rel string) string {
	return strings.TrimSuffix(rel, path.Ext(rel))
}

func validID(id string) bool {
	return id != "" && filepath.IsLocal(filepath.FromSlash(id))
}

func sortDocuments(docs []Document) {
	sort.Slice(docs, func(i, j int) bool {
		if docs[i].ID != docs[j].ID {
			return docs[i].ID < docs[j].ID
		}
		return docs[i].Name < docs[j].Name
	})
}

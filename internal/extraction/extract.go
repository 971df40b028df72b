package extraction

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"

	"github.com/flapjackhq/codegen/internal/errs"
	"github.com/flapjackhq/codegen/internal/tasks"
	"gopkg.in/yaml.v3"
)

// Extract renders the bundle described by files from store.
//
// Errors are *errs.Error of kind extraction naming the document at fault.
func Extract(ctx context.Context, store Store, files tasks.FileSpec) (*Bundle, error) {
	if err := tasks.ValidateOutput(files.OutputPath()); err != nil {
		return nil, errs.Extraction("validate output", err, "path", files.OutputPath())
	}

	switch f := files.(type) {
	case tasks.SpecsPush:
		return extractSpecs(ctx, store, f)
	case tasks.GuidesPush:
		return extractGuides(ctx, store, f)
	default:
		return nil, errs.Extraction("select documents", fmt.Errorf("unsupported file spec %q", files.Kind()))
	}
}

func extractSpecs(ctx context.Context, store Store, f tasks.SpecsPush) (*Bundle, error) {
	docs, err := selectSpecs(ctx, store, f)
	if err != nil {
		return nil, err
	}

	drop := make(map[string]bool, 2)
	if !f.IncludeSnippets {
		drop[snippetsKey] = true
	}
	if !f.IncludeSLA {
		drop[slaKey] = true
	}

	b := newBundle(f.Output, false)
	for _, d := range docs {
		content := d.Content
		if (drop[snippetsKey] && d.HasSnippets) || (drop[slaKey] && d.HasSLA) {
			content, err = strip(content, string(f.Ext), drop)
			if err != nil {
				return nil, errs.Extraction("filter spec", err, "document", d.Name)
			}
		}
		b.add(path.Join(b.Output, d.Name), applyPlaceholders(f.PlaceholderVariables, content))
	}
	return b, nil
}

func selectSpecs(ctx context.Context, store Store, f tasks.SpecsPush) ([]Document, error) {
	if len(f.Clients) == 0 {
		docs, err := store.Specs(ctx, f.Ext)
		if err != nil {
			return nil, errs.Extraction("list specs", err)
		}
		return docs, nil
	}

	docs := make([]Document, 0, len(f.Clients))
	seen := make(map[string]bool, len(f.Clients))
	for _, client := range f.Clients {
		if seen[client] {
			continue
		}
		seen[client] = true
		d, err := store.Spec(ctx, client, f.Ext)
		if err != nil {
			return nil, errs.Extraction("select spec", err, "document", client)
		}
		docs = append(docs, d)
	}
	sortDocuments(docs)
	return docs, nil
}

func extractGuides(ctx context.Context, store Store, f tasks.GuidesPush) (*Bundle, error) {
	docs, err := selectGuides(ctx, store, f.Names)
	if err != nil {
		return nil, err
	}

	ext := path.Ext(f.Output)
	if ext == "" {
		b := newBundle(f.Output, false)
		for _, d := range docs {
			b.add(path.Join(b.Output, d.Name), applyPlaceholders(f.PlaceholderVariables, d.Content))
		}
		return b, nil
	}

	aggregate := make(map[string]string, len(docs))
	for _, d := range docs {
		if _, dup := aggregate[d.ID]; dup {
			return nil, errs.Extraction("aggregate guides", errors.New("duplicate guide identifier"), "document", d.ID)
		}
		aggregate[d.ID] = string(applyPlaceholders(f.PlaceholderVariables, d.Content))
	}
	content, err := encodeAggregate(aggregate, ext)
	if err != nil {
		return nil, errs.Extraction("aggregate guides", err, "path", f.Output)
	}

	b := newBundle(f.Output, true)
	b.add(b.Output, content)
	return b, nil
}

func selectGuides(ctx context.Context, store Store, names []string) ([]Document, error) {
	if len(names) == 0 {
		docs, err := store.Guides(ctx)
		if err != nil {
			return nil, errs.Extraction("list guides", err)
		}
		return docs, nil
	}

	docs := make([]Document, 0, len(names))
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		if seen[name] {
			continue
		}
		seen[name] = true
		d, err := store.Guide(ctx, name)
		if err != nil {
			return nil, errs.Extraction("select guide", err, "document", name)
		}
		docs = append(docs, d)
	}
	sortDocuments(docs)
	return docs, nil
}

// encodeAggregate serialises the guide mapping. Both encoders emit map keys
// in sorted order.
func encodeAggregate(guides map[string]string, ext string) ([]byte, error) {
	switch ext {
	case ".json":
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		enc.SetEscapeHTML(false)
		enc.SetIndent("", "  ")
		if err := enc.Encode(guides); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case ".yml", ".yaml":
		var buf bytes.Buffer
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(guides); err != nil {
			return nil, err
		}
		if err := enc.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}
	return nil, fmt.Errorf("unsupported aggregate extension %q", ext)
}

func applyPlaceholders(p tasks.Placeholders, content []byte) []byte {
	if len(p) == 0 {
		return content
	}
	return []byte(p.Apply(string(content)))
}

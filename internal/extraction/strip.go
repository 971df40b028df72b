package extraction

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"gopkg.in/yaml.v3"
)

// strip removes every mapping entry whose key is in keys, at any depth.
// Content is returned unchanged when nothing matched.
func strip(content []byte, ext string, keys map[string]bool) ([]byte, error) {
	if len(keys) == 0 {
		return content, nil
	}
	switch ext {
	case "json":
		return stripJSON(content, keys)
	default:
		return stripYAML(content, keys)
	}
}

func stripYAML(content []byte, keys map[string]bool) ([]byte, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(content, &root); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	if !removeYAMLKeys(&root, keys) {
		return content, nil
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&root); err != nil {
		return nil, fmt.Errorf("encode yaml: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode yaml: %w", err)
	}
	return buf.Bytes(), nil
}

func removeYAMLKeys(n *yaml.Node, keys map[string]bool) bool {
	removed := false
	switch n.Kind {
	case yaml.MappingNode:
		kept := n.Content[:0]
		for i := 0; i+1 < len(n.Content); i += 2 {
			k, v := n.Content[i], n.Content[i+1]
			if k.Kind == yaml.ScalarNode && keys[k.Value] {
				removed = true
				continue
			}
			if removeYAMLKeys(v, keys) {
				removed = true
			}
			kept = append(kept, k, v)
		}
		n.Content = kept
	case yaml.DocumentNode, yaml.SequenceNode:
		for _, c := range n.Content {
			if removeYAMLKeys(c, keys) {
				removed = true
			}
		}
	}
	return removed
}

func stripJSON(content []byte, keys map[string]bool) ([]byte, error) {
	if !gjson.ValidBytes(content) {
		return nil, errors.New("parse json: invalid document")
	}

	var paths []string
	collectJSONPaths(gjson.ParseBytes(content), "", keys, &paths)
	if len(paths) == 0 {
		return content, nil
	}

	out := content
	// Deleting back to front keeps earlier paths valid.
	for i := len(paths) - 1; i >= 0; i-- {
		var err error
		out, err = sjson.DeleteBytes(out, paths[i])
		if err != nil {
			return nil, fmt.Errorf("delete %s: %w", paths[i], err)
		}
	}
	return out, nil
}

func collectJSONPaths(v gjson.Result, prefix string, keys map[string]bool, out *[]string) {
	join := func(comp string) string {
		if prefix == "" {
			return comp
		}
		return prefix + "." + comp
	}

	switch {
	case v.IsObject():
		v.ForEach(func(k, val gjson.Result) bool {
			p := join(gjson.Escape(k.String()))
			if keys[k.String()] {
				*out = append(*out, p)
				return true
			}
			collectJSONPaths(val, p, keys, out)
			return true
		})
	case v.IsArray():
		i := 0
		v.ForEach(func(_, val gjson.Result) bool {
			collectJSONPaths(val, join(strconv.Itoa(i)), keys, out)
			i++
			return true
		})
	}
}

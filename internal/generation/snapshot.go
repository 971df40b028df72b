package generation

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// snapshot holds copies of the owned files taken before the generator runs.
type snapshot struct {
	dir   string
	root  string
	files []string
}

func takeSnapshot(root string, owned []string) (*snapshot, error) {
	dir, err := os.MkdirTemp("", "codegen-snapshot-")
	if err != nil {
		return nil, fmt.Errorf("create snapshot dir: %w", err)
	}
	s := &snapshot{dir: dir, root: root, files: owned}
	for _, p := range owned {
		if err := copyFile(filepath.Join(root, filepath.FromSlash(p)), filepath.Join(dir, filepath.FromSlash(p))); err != nil {
			_ = s.discard()
			return nil, fmt.Errorf("snapshot %s: %w", p, err)
		}
	}
	return s, nil
}

// restore copies every snapshotted file back into the tree.
func (s *snapshot) restore() error {
	for _, p := range s.files {
		if err := copyFile(filepath.Join(s.dir, filepath.FromSlash(p)), filepath.Join(s.root, filepath.FromSlash(p))); err != nil {
			return fmt.Errorf("restore %s: %w", p, err)
		}
	}
	return nil
}

func (s *snapshot) discard() error {
	return os.RemoveAll(s.dir)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

package generation

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandGenerator(t *testing.T) {
	dir := t.TempDir()
	g := &CommandGenerator{
		Command: "sh",
		Args: []string{"-c", `
while read -r p; do echo "$p"; done
mkdir -p clients/new && printf 'generated' > clients/new/file.go
echo clients/new/file.go
echo
`},
		Dir: dir,
	}

	written, err := g.Generate(context.Background(), []string{"clients/a.go", "clients/b.go"})
	require.NoError(t, err)
	assert.Equal(t, []string{"clients/a.go", "clients/b.go", "clients/new/file.go"}, written)

	content, err := os.ReadFile(filepath.Join(dir, "clients", "new", "file.go"))
	require.NoError(t, err)
	assert.Equal(t, "generated", string(content))
}

func TestCommandGenerator_Env(t *testing.T) {
	g := &CommandGenerator{
		Command: "sh",
		Args:    []string{"-c", `echo "$CODEGEN_TARGET"`},
		Env:     []string{"CODEGEN_TARGET=clients/go.mod"},
	}

	written, err := g.Generate(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"clients/go.mod"}, written)
}

func TestCommandGenerator_Failure(t *testing.T) {
	g := &CommandGenerator{
		Command: "sh",
		Args:    []string{"-c", "echo starting >&2; echo 'template missing' >&2; exit 3"},
	}

	_, err := g.Generate(context.Background(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exit status 3")
	assert.Contains(t, err.Error(), "template missing")
	assert.NotContains(t, err.Error(), "starting")
}

func TestCommandGenerator_NotConfigured(t *testing.T) {
	_, err := (&CommandGenerator{}).Generate(context.Background(), nil)
	require.Error(t, err)
}

func TestCommandGenerator_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := (&CommandGenerator{Command: "sh", Args: []string{"-c", "sleep 5"}}).Generate(ctx, nil)
	require.Error(t, err)
}

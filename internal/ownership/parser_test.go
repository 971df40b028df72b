package ownership

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flapjackhq/codegen/internal/errs"
)

func TestParseLine(t *testing.T) {
	p := NewParser("release")

	tests := []struct {
		name     string
		line     string
		expected string
		active   bool
	}{
		{"empty line", "", "", false},
		{"whitespace only", "   ", "", false},
		{"comment", "# C#", "", false},
		{"plain pattern", "clients/**", "clients/**", true},
		{"negation kept", "!clients/README.md", "!clients/README.md", true},
		{"trailing whitespace", "yarn.lock \t", "yarn.lock", true},
		{"enabled tag", "[release] !clients/js/packages/**/package.json", "!clients/js/packages/**/package.json", true},
		{"disabled negated tag", "[!release] clients/js/packages/**/package.json", "clients/js/packages/**/package.json", false},
		{"unknown tag", "[nightly] docs/**", "docs/**", false},
		{"negated unknown tag", "[!nightly] docs/**", "docs/**", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text, active, err := p.parseLine(tt.line)
			require.NoError(t, err)
			assert.Equal(t, tt.active, active)
			if tt.active {
				assert.Equal(t, tt.expected, text)
			}
		})
	}
}

func TestParseLine_Malformed(t *testing.T) {
	p := NewParser()
	for _, line := range []string{"[release clients/**", "[release]", "[] clients/**", "[!] clients/**"} {
		_, _, err := p.parseLine(line)
		assert.Error(t, err, line)
	}
}

func TestParse_ReleaseToggle(t *testing.T) {
	src := `
clients/**
[!release] clients/js/packages/**/package.json
[release] !clients/js/packages/**/package.json
`
	path := "clients/js/packages/client-search/package.json"

	dev, err := NewParser().Parse(strings.NewReader(src))
	require.NoError(t, err)
	assert.Equal(t, 2, dev.Len())
	assert.True(t, Classify(dev, path))

	release, err := NewParser("release").Parse(strings.NewReader(src))
	require.NoError(t, err)
	assert.Equal(t, 2, release.Len())
	assert.False(t, Classify(release, path))
}

func TestParseFile(t *testing.T) {
	tmpDir := t.TempDir()
	file := filepath.Join(tmpDir, "generation.patterns")

	content := `# Ignore the roots and go down the tree by negating hand written files
specs/bundled/*.yml
clients/**
!clients/README.md

# Go
!clients/flapjack-search-go/*
!clients/flapjack-search-go/flapjack/transport/**
`
	require.NoError(t, os.WriteFile(file, []byte(content), 0644))

	patterns, err := NewParser().ParseFile(file)
	require.NoError(t, err)

	expected := []Pattern{
		{Glob: "specs/bundled/*.yml"},
		{Glob: "clients/**"},
		{Glob: "clients/README.md", Negated: true},
		{Glob: "clients/flapjack-search-go/*", Negated: true},
		{Glob: "clients/flapjack-search-go/flapjack/transport/**", Negated: true},
	}
	assert.Equal(t, expected, patterns.All(), "order is preserved exactly as authored")
}

func TestParseFile_InvalidPatternReportsLine(t *testing.T) {
	tmpDir := t.TempDir()
	file := filepath.Join(tmpDir, "bad.patterns")
	require.NoError(t, os.WriteFile(file, []byte("clients/**\n/absolute\n"), 0644))

	_, err := NewParser().ParseFile(file)
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrConfiguration)
	assert.Contains(t, err.Error(), "line=2")
	assert.Contains(t, err.Error(), "glob=/absolute")
	assert.Contains(t, err.Error(), file)
}

func TestParseFile_Missing(t *testing.T) {
	_, err := NewParser().ParseFile(filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrConfiguration)
}

func TestParseFile_ShippedPatterns(t *testing.T) {
	file := filepath.Join("..", "..", "config", "generation.patterns")

	dev, err := NewParser().ParseFile(file)
	require.NoError(t, err)
	release, err := NewParser("release").ParseFile(file)
	require.NoError(t, err)
	assert.Equal(t, dev.Len(), release.Len())

	tests := []struct {
		path       string
		dev        bool
		releaseRun bool
	}{
		{"clients/flapjack-search-go/flapjack/search/api_search.go", true, true},
		{"clients/flapjack-search-go/flapjack/transport/transport.go", false, false},
		{"clients/flapjack-search-go/go.mod", false, false},
		{"clients/flapjack-search-go/LICENSE", true, true},
		{"clients/README.md", false, false},
		{"clients/flapjack-search-python/.github/workflows/release.yml", false, false},
		{"clients/flapjack-search-python/.github/workflows/ci.yml", true, true},
		{"clients/flapjack-search-javascript/packages/client-search/package.json", true, false},
		{"clients/flapjack-search-javascript/packages/requester-node-http/package.json", false, false},
		{"docs/README.md", false, false},
		{"docs/guides/install.md", true, true},
		{"docs/guides/.vitepress/config.ts", true, true},
		{"specs/bundled/search.yml", true, true},
		{"specs/search/spec.yml", false, false},
		{"yarn.lock", true, true},
		{"scripts/ci/codegen/types.ts", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.dev, Classify(dev, tt.path), "default run")
			assert.Equal(t, tt.releaseRun, Classify(release, tt.path), "release run")
		})
	}
}

package generation

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Generator produces the generator-owned files of the tree.
//
// Generate receives the slash paths of every currently owned file, which it
// may overwrite, and returns the slash paths it wrote.
type Generator interface {
	Generate(ctx context.Context, owned []string) (written []string, err error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, owned []string) ([]string, error)

// Generate calls f.
func (f GeneratorFunc) Generate(ctx context.Context, owned []string) ([]string, error) {
	return f(ctx, owned)
}

// CommandGenerator runs an external command in the tree root. Owned paths
// are written to its stdin, one per line; every non-empty stdout line is a
// written path.
type CommandGenerator struct {
	Command string
	Args    []string
	Dir     string
	Env     []string
}

// Generate runs the command.
func (g *CommandGenerator) Generate(ctx context.Context, owned []string) ([]string, error) {
	if g.Command == "" {
		return nil, fmt.Errorf("generator command not configured")
	}

	cmd := exec.CommandContext(ctx, g.Command, g.Args...)
	cmd.Dir = g.Dir
	if len(g.Env) > 0 {
		cmd.Env = append(cmd.Environ(), g.Env...)
	}
	cmd.Stdin = strings.NewReader(joinLines(owned))

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%s: %w: %s", g.Command, err, lastLine(msg))
		}
		return nil, fmt.Errorf("%s: %w", g.Command, err)
	}

	var written []string
	scanner := bufio.NewScanner(&stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			written = append(written, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read generator output: %w", err)
	}
	return written, nil
}

func joinLines(lines []string) string {
	if len(lines) == 0 {
		return ""
	}
	return strings.Join(lines, "\n") + "\n"
}

func lastLine(s string) string {
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}

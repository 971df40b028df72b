// Codegen regenerates the generator-owned files of the monorepo and keeps
// external repositories in sync with the extracted specs and guides.
//
// Usage:
//
//	# Show which pattern owns a path
//	codegen classify clients/js/package.json
//
//	# Regenerate owned files, garbage-collecting stale ones
//	codegen generate --tag release
//
//	# Open or update the pull requests of every repository task
//	GITHUB_TOKEN=... codegen push
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/flapjackhq/codegen/internal/errs"
	"github.com/spf13/cobra"
)

var (
	// configPath is the configuration file, config/codegen.yaml when empty
	configPath string
	// tags are extra pattern condition tags
	tags []string
	// version information (set via ldflags during build)
	version = "dev"
)

// errTasksFailed marks a completed run with failed tasks.
var errTasksFailed = errors.New("tasks failed")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(exitCode(err))
	}
}

var rootCmd = &cobra.Command{
	Use:   "codegen",
	Short: "Ownership-aware generation and repository push automation",
	Long: `codegen regenerates the parts of the monorepo owned by the API client
generator and publishes the generated specs and guides to external
repositories as pull requests.

Ownership is decided by an ordered pattern list: the last matching pattern
wins and "!" patterns hand a path back to humans.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "configuration file (default config/codegen.yaml)")
	rootCmd.PersistentFlags().StringSliceVar(&tags, "tag", nil, "enable a pattern condition tag, e.g. release")
}

// exitCode maps an error to the process exit status: 2 for configuration
// problems, 1 for everything else.
func exitCode(err error) int {
	if errs.KindOf(err) == errs.KindConfiguration {
		return 2
	}
	return 1
}

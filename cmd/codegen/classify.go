package main

import (
	"fmt"
	"path"
	"path/filepath"
	"text/tabwriter"

	"github.com/flapjackhq/codegen/internal/ownership"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(classifyCmd)
}

var classifyCmd = &cobra.Command{
	Use:   "classify <path>...",
	Short: "Show whether paths are owned by the generator",
	Long: `Classify paths against the ownership patterns and show the pattern
that decided each one. Paths are relative to the generation root.

Examples:
  # Is this file regenerated?
  codegen classify clients/js/packages/client-search/package.json

  # Same question during a release
  codegen classify --tag release clients/js/packages/client-search/package.json`,
	Args: cobra.MinimumNArgs(1),
	RunE: runClassify,
}

func runClassify(cmd *cobra.Command, args []string) error {
	a, ctx, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close(ctx)

	patterns, err := a.patterns()
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	for _, arg := range args {
		p := path.Clean(filepath.ToSlash(arg))
		owned, decidedBy := ownership.Explain(patterns, p)

		status := "preserved"
		if owned {
			status = "owned"
		}
		reason := "no pattern matched"
		if decidedBy >= 0 {
			reason = fmt.Sprintf("pattern %d: %s", decidedBy+1, patterns.At(decidedBy))
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", status, p, reason)
	}
	return w.Flush()
}

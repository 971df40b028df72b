package main

import (
	"fmt"
	"time"

	"github.com/flapjackhq/codegen/internal/generation"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(generateCmd)
}

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Regenerate the generator-owned files",
	Long: `Run the configured generator over the generation root.

Owned files are snapshotted first. The generator receives the owned paths on
stdin and prints the paths it wrote; owned files it did not write are
deleted afterwards. A failing generator rolls the tree back.

Examples:
  # Regular run
  codegen generate

  # Release run: package.json files become generator-owned
  codegen generate --tag release`,
	Args: cobra.NoArgs,
	RunE: runGenerate,
}

func runGenerate(cmd *cobra.Command, _ []string) error {
	a, ctx, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close(ctx)

	patterns, err := a.patterns()
	if err != nil {
		return err
	}

	gc := a.cfg.Generation
	gen := &generation.CommandGenerator{
		Command: gc.Generator.Command,
		Args:    gc.Generator.Args,
		Dir:     gc.Root,
	}
	opts := []generation.Option{
		generation.WithLockFile(gc.LockFile),
		generation.WithTimeout(gc.Generator.Timeout.Duration()),
		generation.WithLogger(a.logger),
	}
	if gc.SkipSnapshot {
		opts = append(opts, generation.WithoutSnapshot())
	}

	driver, err := generation.NewDriver(gc.Root, patterns, gen, opts...)
	if err != nil {
		return err
	}
	res, err := driver.Run(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "written %d, removed %d, preserved %d in %s\n",
		len(res.Written), len(res.Removed), len(res.Preserved), res.Duration.Round(time.Millisecond))
	for _, p := range res.Removed {
		fmt.Fprintf(cmd.OutOrStdout(), "  removed %s\n", p)
	}
	return nil
}

package main

import (
	"fmt"

	"github.com/flapjackhq/codegen/internal/errs"
	"github.com/flapjackhq/codegen/internal/extraction"
	"github.com/flapjackhq/codegen/internal/tasks"
	"github.com/spf13/cobra"
)

var (
	extractRepo string
	extractTask string
	extractOut  string
)

func init() {
	rootCmd.AddCommand(extractCmd)
	extractCmd.Flags().StringVar(&extractRepo, "repo", "", "repository configuration id")
	extractCmd.Flags().StringVar(&extractTask, "task", "", "task pull request branch (optional if the repository has one task)")
	extractCmd.Flags().StringVarP(&extractOut, "out", "o", ".", "directory the bundle is written to")
	_ = extractCmd.MarkFlagRequired("repo")
}

var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Write the bundle of one push task to a local directory",
	Long: `Extract the documents one push task would publish and write them under
--out, at the paths they would have in the target repository.

Examples:
  # Materialise the docs specs
  codegen extract --repo docs --out /tmp/docs

  # Pick one task of a repository with several
  codegen extract --repo docs --task feat/automated-update-for-guides --out /tmp/docs`,
	Args: cobra.NoArgs,
	RunE: runExtract,
}

func runExtract(cmd *cobra.Command, _ []string) error {
	a, ctx, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close(ctx)

	cfgs, err := a.repositories([]string{extractRepo})
	if err != nil {
		return err
	}
	task, err := selectTask(cfgs[0], extractTask)
	if err != nil {
		return err
	}

	bundle, err := extraction.Extract(ctx, a.store(), task.Files)
	if err != nil {
		return err
	}
	if err := bundle.WriteTo(extractOut); err != nil {
		return errs.Extraction("write bundle", err, "path", extractOut)
	}

	for _, p := range bundle.Paths() {
		fmt.Fprintln(cmd.OutOrStdout(), p)
	}
	return nil
}

func selectTask(cfg tasks.RepositoryConfiguration, branch string) (tasks.RepositoryTask, error) {
	if branch == "" {
		if len(cfg.Tasks) == 1 {
			return cfg.Tasks[0], nil
		}
		return tasks.RepositoryTask{}, errs.Configurationf("select task",
			"repository %q has %d tasks, pick one with --task", cfg.ID, len(cfg.Tasks))
	}
	for _, t := range cfg.Tasks {
		if t.PRBranch == branch {
			return t, nil
		}
	}
	return tasks.RepositoryTask{}, errs.Configurationf("select task", "repository %q has no task %q", cfg.ID, branch)
}

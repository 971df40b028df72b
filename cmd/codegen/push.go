package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/flapjackhq/codegen/internal/push"
	"github.com/spf13/cobra"
)

var (
	pushDryRun bool
	pushRepos  []string
)

func init() {
	rootCmd.AddCommand(pushCmd)
	pushCmd.Flags().BoolVar(&pushDryRun, "dry-run", false, "compute diffs and report actions without mutating")
	pushCmd.Flags().StringSliceVar(&pushRepos, "repo", nil, "only sync these repository configuration ids")
}

var pushCmd = &cobra.Command{
	Use:   "push",
	Short: "Open or update the pull requests of every repository task",
	Long: `Extract the bundle of every repository task and commit what changed to
the task's pull request branch, opening the pull request if needed.
Unchanged tasks are no-ops. A failed task does not stop the others; the
command exits non-zero if any task failed.

Examples:
  # Sync everything
  GITHUB_TOKEN=... codegen push

  # See what would change in docs
  codegen push --dry-run --repo docs`,
	Args: cobra.NoArgs,
	RunE: runPush,
}

func runPush(cmd *cobra.Command, _ []string) error {
	a, ctx, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close(ctx)

	cfgs, err := a.repositories(pushRepos)
	if err != nil {
		return err
	}
	h, err := a.host(ctx)
	if err != nil {
		return err
	}

	pc := a.cfg.Push
	retry := push.DefaultRetryConfig()
	retry.MaxRetries = pc.ReadRetries
	orch := push.NewOrchestrator(h, a.store(),
		push.WithLogger(a.logger),
		push.WithConcurrency(pc.Concurrency),
		push.WithTaskTimeout(pc.TaskTimeout.Duration()),
		push.WithCallTimeout(pc.CallTimeout.Duration()),
		push.WithRetry(retry),
		push.WithDryRun(pc.DryRun || pushDryRun),
	)

	results := orch.SyncAll(ctx, cfgs)
	printResults(cmd, results)

	summary := push.Summarize(results)
	if summary.Failed() {
		return fmt.Errorf("%d of %d %w", summary[push.ActionFailed], len(results), errTasksFailed)
	}
	return nil
}

func printResults(cmd *cobra.Command, results []push.Result) {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	for _, r := range results {
		action := string(r.Action)
		if r.DryRun && r.Action != push.ActionFailed {
			action += " (dry run)"
		}
		detail := r.PullRequestURL
		if r.Err != nil {
			detail = r.Err.Error()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d files\t%s\t%s\n",
			r.RepoID, r.Task, action, len(r.Changed), r.Duration.Round(time.Millisecond), detail)
	}
	_ = w.Flush()
}

// Package push publishes extracted bundles to external repositories as pull
// requests.
//
// For every task of every repository configuration the Orchestrator extracts
// the bundle, diffs it byte for byte against the target repository and only
// touches the repository when the diff is non-empty: it resets the task's
// pull request branch to the base branch, commits the changes and opens or
// updates the pull request. Re-running with unchanged inputs is a no-op.
//
// Configurations run in parallel; tasks of one configuration run in order,
// so a later task sharing a branch with an earlier one commits on top of it.
// A failing task is reported and never stops its siblings.
//
// # Host calls
//
// Reads (GetContent, BranchExists, FindPullRequest) are bounded by the call
// timeout and retried with exponential backoff. Mutations (branch, commit,
// pull request) are bounded by the same timeout and never retried: a
// mutation that fails or times out fails the task.
//
// # Usage
//
//	orch := push.NewOrchestrator(host, extraction.NewFSStore(root),
//	    push.WithLogger(logger),
//	    push.WithConcurrency(4),
//	)
//	results := orch.SyncAll(ctx, configs)
//	for _, r := range results {
//	    fmt.Println(r.RepoID, r.Task, r.Action)
//	}
package push

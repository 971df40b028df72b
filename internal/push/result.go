package push

import "time"

// Action is the outcome of one task.
type Action string

const (
	ActionCreated Action = "created"
	ActionUpdated Action = "updated"
	ActionNoOp    Action = "no-op"
	ActionFailed  Action = "failed"
)

// Result reports one task of one repository configuration.
type Result struct {
	RepoID string
	// Task is the task's pull request branch.
	Task   string
	Action Action
	Err    error

	PullRequestURL string
	// Changed lists the committed paths, deletions prefixed with "-".
	Changed []string
	// DryRun is set when the action was computed but not performed.
	DryRun   bool
	Duration time.Duration
}

// Summary counts results per action.
type Summary map[Action]int

// Summarize counts results per action.
func Summarize(results []Result) Summary {
	s := make(Summary)
	for _, r := range results {
		s[r.Action]++
	}
	return s
}

// Failed reports whether any task failed.
func (s Summary) Failed() bool {
	return s[ActionFailed] > 0
}

package push

import (
	"context"
	"errors"
	"time"
)

// Repo identifies a repository on the host.
type Repo struct {
	Owner string
	Name  string
}

// String returns "owner/name".
func (r Repo) String() string {
	return r.Owner + "/" + r.Name
}

// FileChange is one file of a commit. Delete removes Path.
type FileChange struct {
	Path    string
	Content []byte
	Delete  bool
}

// PullRequest is an open pull request on the host.
type PullRequest struct {
	Number int
	URL    string
	Title  string
}

// Host is the repository host the orchestrator publishes to.
type Host interface {
	// GetContent returns the files at p on branch, keyed by slash path from
	// the repository root. p may name a file or a directory (recursively).
	// A missing path yields an empty map.
	GetContent(ctx context.Context, repo Repo, branch, p string) (map[string][]byte, error)
	BranchExists(ctx context.Context, repo Repo, branch string) (bool, error)
	// FindPullRequest returns the open pull request from branch into base,
	// or nil.
	FindPullRequest(ctx context.Context, repo Repo, branch, base string) (*PullRequest, error)

	// CreateOrUpdateBranch points branch at the head of base, creating it
	// if needed.
	CreateOrUpdateBranch(ctx context.Context, repo Repo, branch, base string) error
	// Commit applies changes on top of branch and returns the commit id.
	Commit(ctx context.Context, repo Repo, branch string, changes []FileChange, message string) (string, error)
	// OpenOrUpdatePullRequest opens a pull request from branch into base, or
	// updates the title of the open one. created reports which happened.
	OpenOrUpdatePullRequest(ctx context.Context, repo Repo, branch, base, title string) (pr *PullRequest, created bool, err error)
}

// ErrBranchNotFound is returned by hosts reading from a missing branch.
var ErrBranchNotFound = errors.New("branch not found")

// retryable is implemented by host errors that know whether repeating the
// call can succeed.
type retryable interface {
	Retryable() bool
}

// delayed is implemented by host errors that carry a server-imposed wait,
// such as a rate limit reset.
type delayed interface {
	RetryAfter() time.Duration
}

package push

import (
	"context"
	"fmt"
	"maps"
	"strings"
	"sync"
)

// fakeHost is an in-memory Host. Failures are injected per operation name.
type fakeHost struct {
	mu       sync.Mutex
	branches map[string]map[string][]byte // "owner/name@branch" -> files
	pulls    map[string]*PullRequest      // "owner/name@branch" -> open PR
	calls    []string
	commits  []string
	nextPR   int

	// fail returns the error for the n-th call (1-based) of op, or nil.
	fail func(op string, repo Repo, n int) error
	seen map[string]int
}

func newFakeHost() *fakeHost {
	return &fakeHost{
		branches: make(map[string]map[string][]byte),
		pulls:    make(map[string]*PullRequest),
		seen:     make(map[string]int),
	}
}

func key(repo Repo, branch string) string {
	return repo.String() + "@" + branch
}

func (h *fakeHost) seed(repo Repo, branch string, files map[string]string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	content := make(map[string][]byte, len(files))
	for p, c := range files {
		content[p] = []byte(c)
	}
	h.branches[key(repo, branch)] = content
}

func (h *fakeHost) file(repo Repo, branch, p string) (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.branches[key(repo, branch)][p]
	return string(c), ok
}

func (h *fakeHost) pull(repo Repo, branch string) *PullRequest {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pulls[key(repo, branch)]
}

func (h *fakeHost) count(op string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.seen[op]
}

func (h *fakeHost) enter(op string, repo Repo) error {
	h.seen[op]++
	h.calls = append(h.calls, op+" "+repo.String())
	if h.fail != nil {
		return h.fail(op, repo, h.seen[op])
	}
	return nil
}

func (h *fakeHost) GetContent(_ context.Context, repo Repo, branch, p string) (map[string][]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.enter("GetContent", repo); err != nil {
		return nil, err
	}
	files, ok := h.branches[key(repo, branch)]
	if !ok {
		return nil, fmt.Errorf("%s: %w", branch, ErrBranchNotFound)
	}
	out := make(map[string][]byte)
	for fp, c := range files {
		if fp == p || strings.HasPrefix(fp, p+"/") {
			out[fp] = c
		}
	}
	return out, nil
}

func (h *fakeHost) BranchExists(_ context.Context, repo Repo, branch string) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.enter("BranchExists", repo); err != nil {
		return false, err
	}
	_, ok := h.branches[key(repo, branch)]
	return ok, nil
}

func (h *fakeHost) FindPullRequest(_ context.Context, repo Repo, branch, _ string) (*PullRequest, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.enter("FindPullRequest", repo); err != nil {
		return nil, err
	}
	return h.pulls[key(repo, branch)], nil
}

func (h *fakeHost) CreateOrUpdateBranch(_ context.Context, repo Repo, branch, base string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.enter("CreateOrUpdateBranch", repo); err != nil {
		return err
	}
	files, ok := h.branches[key(repo, base)]
	if !ok {
		return fmt.Errorf("%s: %w", base, ErrBranchNotFound)
	}
	h.branches[key(repo, branch)] = maps.Clone(files)
	return nil
}

func (h *fakeHost) Commit(_ context.Context, repo Repo, branch string, changes []FileChange, message string) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.enter("Commit", repo); err != nil {
		return "", err
	}
	files, ok := h.branches[key(repo, branch)]
	if !ok {
		return "", fmt.Errorf("%s: %w", branch, ErrBranchNotFound)
	}
	for _, c := range changes {
		if c.Delete {
			delete(files, c.Path)
		} else {
			files[c.Path] = c.Content
		}
	}
	h.commits = append(h.commits, repo.String()+"@"+branch+": "+message)
	return fmt.Sprintf("sha%d", len(h.commits)), nil
}

func (h *fakeHost) OpenOrUpdatePullRequest(_ context.Context, repo Repo, branch, _, title string) (*PullRequest, bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.enter("OpenOrUpdatePullRequest", repo); err != nil {
		return nil, false, err
	}
	k := key(repo, branch)
	if pr, ok := h.pulls[k]; ok {
		pr.Title = title
		return pr, false, nil
	}
	h.nextPR++
	pr := &PullRequest{
		Number: h.nextPR,
		URL:    fmt.Sprintf("https://example.test/%s/pull/%d", repo, h.nextPR),
		Title:  title,
	}
	h.pulls[k] = pr
	return pr, true, nil
}

// transientError is a retryable host error.
type transientError struct{ retry bool }

func (e transientError) Error() string   { return "502 bad gateway" }
func (e transientError) Retryable() bool { return e.retry }

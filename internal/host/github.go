package host

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/flapjackhq/codegen/internal/config"
	"github.com/flapjackhq/codegen/internal/logging"
	"github.com/flapjackhq/codegen/internal/push"
	"github.com/google/go-github/v57/github"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

// GitHub publishes to repositories on GitHub through the git data API. A
// commit of any number of files is one tree and one commit, so branch
// history stays one commit per task.
type GitHub struct {
	client  *github.Client
	limiter *rate.Limiter
	logger  *logging.Logger
}

// GitHubOption configures a GitHub host.
type GitHubOption func(*GitHub) error

// WithBaseURL points the client at another API endpoint, such as GitHub
// Enterprise or a test server.
func WithBaseURL(raw string) GitHubOption {
	return func(g *GitHub) error {
		if !strings.HasSuffix(raw, "/") {
			raw += "/"
		}
		u, err := url.Parse(raw)
		if err != nil {
			return fmt.Errorf("parse github api url: %w", err)
		}
		g.client.BaseURL = u
		return nil
	}
}

// WithRequestsPerSecond throttles API calls. Zero or less disables the
// limiter.
func WithRequestsPerSecond(rps float64) GitHubOption {
	return func(g *GitHub) error {
		if rps <= 0 {
			g.limiter = nil
			return nil
		}
		g.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		return nil
	}
}

// WithGitHubLogger sets the logger.
func WithGitHubLogger(l *logging.Logger) GitHubOption {
	return func(g *GitHub) error {
		g.logger = l
		return nil
	}
}

// NewGitHub creates a GitHub host authenticated with token.
func NewGitHub(ctx context.Context, token config.Secret, opts ...GitHubOption) (*GitHub, error) {
	if !token.IsSet() {
		return nil, fmt.Errorf("GitHub token not set")
	}

	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token.Value()})
	g := &GitHub{
		client: github.NewClient(oauth2.NewClient(ctx, ts)),
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		if err := opt(g); err != nil {
			return nil, err
		}
	}
	return g, nil
}

// NewGitHubFromConfig creates a GitHub host from the github configuration
// section.
func NewGitHubFromConfig(ctx context.Context, cfg config.GitHubConfig, logger *logging.Logger) (*GitHub, error) {
	opts := []GitHubOption{
		WithRequestsPerSecond(cfg.RequestsPerSecond),
		WithGitHubLogger(logger),
	}
	if cfg.APIURL != "" {
		opts = append(opts, WithBaseURL(cfg.APIURL))
	}
	return NewGitHub(ctx, cfg.Token, opts...)
}

var _ push.Host = (*GitHub)(nil)

func (g *GitHub) wait(ctx context.Context) error {
	if g.limiter == nil {
		return nil
	}
	return g.limiter.Wait(ctx)
}

// headSHA resolves the commit branch points at.
func (g *GitHub) headSHA(ctx context.Context, repo push.Repo, branch string) (string, error) {
	if err := g.wait(ctx); err != nil {
		return "", err
	}
	ref, resp, err := g.client.Git.GetRef(ctx, repo.Owner, repo.Name, "heads/"+branch)
	if isNotFound(resp) {
		return "", fmt.Errorf("%s@%s: %w", repo, branch, push.ErrBranchNotFound)
	}
	if err != nil {
		return "", newAPIError("get ref", err, resp)
	}
	return ref.GetObject().GetSHA(), nil
}

// GetContent reads the files at p from the branch's tree.
func (g *GitHub) GetContent(ctx context.Context, repo push.Repo, branch, p string) (map[string][]byte, error) {
	sha, err := g.headSHA(ctx, repo, branch)
	if err != nil {
		return nil, err
	}

	if err := g.wait(ctx); err != nil {
		return nil, err
	}
	tree, resp, err := g.client.Git.GetTree(ctx, repo.Owner, repo.Name, sha, true)
	if err != nil {
		return nil, newAPIError("get tree", err, resp)
	}
	if tree.GetTruncated() {
		return nil, &APIError{Op: "get tree", Err: fmt.Errorf("tree of %s@%s is truncated", repo, branch)}
	}

	files := make(map[string][]byte)
	for _, e := range tree.Entries {
		if e.GetType() != "blob" || !within(e.GetPath(), p) {
			continue
		}
		if err := g.wait(ctx); err != nil {
			return nil, err
		}
		content, resp, err := g.client.Git.GetBlobRaw(ctx, repo.Owner, repo.Name, e.GetSHA())
		if err != nil {
			return nil, newAPIError("get blob", err, resp)
		}
		files[e.GetPath()] = content
	}

	g.logger.Debug(ctx, "read repository content",
		zap.String("repo", repo.String()),
		zap.String("branch", branch),
		zap.String("path", p),
		zap.Int("files", len(files)),
	)
	return files, nil
}

// BranchExists reports whether branch exists.
func (g *GitHub) BranchExists(ctx context.Context, repo push.Repo, branch string) (bool, error) {
	_, err := g.headSHA(ctx, repo, branch)
	if errors.Is(err, push.ErrBranchNotFound) {
		return false, nil
	}
	return err == nil, err
}

// FindPullRequest returns the open pull request from branch into base.
func (g *GitHub) FindPullRequest(ctx context.Context, repo push.Repo, branch, base string) (*push.PullRequest, error) {
	if err := g.wait(ctx); err != nil {
		return nil, err
	}
	prs, resp, err := g.client.PullRequests.List(ctx, repo.Owner, repo.Name, &github.PullRequestListOptions{
		State: "open",
		Head:  repo.Owner + ":" + branch,
		Base:  base,
	})
	if err != nil {
		return nil, newAPIError("list pull requests", err, resp)
	}
	if len(prs) == 0 {
		return nil, nil
	}
	return toPullRequest(prs[0]), nil
}

// CreateOrUpdateBranch force-moves branch to the head of base.
func (g *GitHub) CreateOrUpdateBranch(ctx context.Context, repo push.Repo, branch, base string) error {
	baseSHA, err := g.headSHA(ctx, repo, base)
	if err != nil {
		return err
	}
	exists, err := g.BranchExists(ctx, repo, branch)
	if err != nil {
		return err
	}

	ref := &github.Reference{
		Ref:    github.String("refs/heads/" + branch),
		Object: &github.GitObject{SHA: github.String(baseSHA)},
	}
	if err := g.wait(ctx); err != nil {
		return err
	}
	if exists {
		_, resp, err := g.client.Git.UpdateRef(ctx, repo.Owner, repo.Name, ref, true)
		if err != nil {
			return newAPIError("update ref", err, resp)
		}
	} else {
		_, resp, err := g.client.Git.CreateRef(ctx, repo.Owner, repo.Name, ref)
		if err != nil {
			return newAPIError("create ref", err, resp)
		}
	}

	g.logger.Info(ctx, "branch reset to base",
		zap.String("repo", repo.String()),
		zap.String("branch", branch),
		zap.String("base", base),
		zap.String("sha", baseSHA),
	)
	return nil
}

// Commit creates one commit on branch carrying every change.
func (g *GitHub) Commit(ctx context.Context, repo push.Repo, branch string, changes []push.FileChange, message string) (string, error) {
	parentSHA, err := g.headSHA(ctx, repo, branch)
	if err != nil {
		return "", err
	}

	if err := g.wait(ctx); err != nil {
		return "", err
	}
	parent, resp, err := g.client.Git.GetCommit(ctx, repo.Owner, repo.Name, parentSHA)
	if err != nil {
		return "", newAPIError("get commit", err, resp)
	}

	entries := make([]*github.TreeEntry, 0, len(changes))
	for _, c := range changes {
		entry := &github.TreeEntry{
			Path: github.String(c.Path),
			Mode: github.String("100644"),
			Type: github.String("blob"),
		}
		if !c.Delete {
			sha, err := g.createBlob(ctx, repo, c.Content)
			if err != nil {
				return "", err
			}
			entry.SHA = github.String(sha)
		}
		entries = append(entries, entry)
	}

	if err := g.wait(ctx); err != nil {
		return "", err
	}
	tree, resp, err := g.client.Git.CreateTree(ctx, repo.Owner, repo.Name, parent.GetTree().GetSHA(), entries)
	if err != nil {
		return "", newAPIError("create tree", err, resp)
	}

	if err := g.wait(ctx); err != nil {
		return "", err
	}
	commit, resp, err := g.client.Git.CreateCommit(ctx, repo.Owner, repo.Name, &github.Commit{
		Message: github.String(message),
		Tree:    &github.Tree{SHA: tree.SHA},
		Parents: []*github.Commit{{SHA: github.String(parentSHA)}},
	}, nil)
	if err != nil {
		return "", newAPIError("create commit", err, resp)
	}

	if err := g.wait(ctx); err != nil {
		return "", err
	}
	_, resp, err = g.client.Git.UpdateRef(ctx, repo.Owner, repo.Name, &github.Reference{
		Ref:    github.String("refs/heads/" + branch),
		Object: &github.GitObject{SHA: commit.SHA},
	}, false)
	if err != nil {
		return "", newAPIError("update ref", err, resp)
	}

	g.logger.Info(ctx, "committed changes",
		zap.String("repo", repo.String()),
		zap.String("branch", branch),
		zap.String("sha", commit.GetSHA()),
		zap.Int("files", len(changes)),
	)
	return commit.GetSHA(), nil
}

func (g *GitHub) createBlob(ctx context.Context, repo push.Repo, content []byte) (string, error) {
	if err := g.wait(ctx); err != nil {
		return "", err
	}
	blob, resp, err := g.client.Git.CreateBlob(ctx, repo.Owner, repo.Name, &github.Blob{
		Content:  github.String(base64.StdEncoding.EncodeToString(content)),
		Encoding: github.String("base64"),
	})
	if err != nil {
		return "", newAPIError("create blob", err, resp)
	}
	return blob.GetSHA(), nil
}

// OpenOrUpdatePullRequest opens a pull request or retitles the open one.
func (g *GitHub) OpenOrUpdatePullRequest(ctx context.Context, repo push.Repo, branch, base, title string) (*push.PullRequest, bool, error) {
	existing, err := g.FindPullRequest(ctx, repo, branch, base)
	if err != nil {
		return nil, false, err
	}

	if existing != nil {
		if existing.Title == title {
			return existing, false, nil
		}
		if err := g.wait(ctx); err != nil {
			return nil, false, err
		}
		pr, resp, err := g.client.PullRequests.Edit(ctx, repo.Owner, repo.Name, existing.Number, &github.PullRequest{
			Title: github.String(title),
		})
		if err != nil {
			return nil, false, newAPIError("edit pull request", err, resp)
		}
		return toPullRequest(pr), false, nil
	}

	if err := g.wait(ctx); err != nil {
		return nil, false, err
	}
	pr, resp, err := g.client.PullRequests.Create(ctx, repo.Owner, repo.Name, &github.NewPullRequest{
		Title: github.String(title),
		Head:  github.String(branch),
		Base:  github.String(base),
	})
	if err != nil {
		return nil, false, newAPIError("create pull request", err, resp)
	}

	g.logger.Info(ctx, "opened pull request",
		zap.String("repo", repo.String()),
		zap.String("branch", branch),
		zap.Int("number", pr.GetNumber()),
		zap.String("url", pr.GetHTMLURL()),
	)
	return toPullRequest(pr), true, nil
}

func toPullRequest(pr *github.PullRequest) *push.PullRequest {
	return &push.PullRequest{
		Number: pr.GetNumber(),
		URL:    pr.GetHTMLURL(),
		Title:  pr.GetTitle(),
	}
}

// within reports whether file p is at or below dir.
func within(p, dir string) bool {
	return p == dir || strings.HasPrefix(p, dir+"/")
}

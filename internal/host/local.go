package host

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/flapjackhq/codegen/internal/logging"
	"github.com/flapjackhq/codegen/internal/push"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// PullRequestsFile is the registry of pull requests opened by the local
// host, kept in the host's root directory.
const PullRequestsFile = ".pulls.yaml"

// Local publishes to git repositories on disk, laid out as
// <root>/<owner>/<name> or <root>/<owner>/<name>.git. Branches are updated
// by writing objects and refs directly, so working trees are never touched;
// bare repositories are the natural fit. Pull requests are recorded in
// PullRequestsFile.
type Local struct {
	root   string
	author object.Signature
	logger *logging.Logger
	now    func() time.Time

	mu sync.Mutex
}

// LocalOption configures a Local host.
type LocalOption func(*Local)

// WithAuthor sets the author and committer of created commits.
func WithAuthor(name, email string) LocalOption {
	return func(l *Local) {
		l.author.Name = name
		l.author.Email = email
	}
}

// WithLocalLogger sets the logger.
func WithLocalLogger(logger *logging.Logger) LocalOption {
	return func(l *Local) { l.logger = logger }
}

// NewLocal creates a host over the repositories under root.
func NewLocal(root string, opts ...LocalOption) (*Local, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("local host root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("local host root %s is not a directory", root)
	}

	l := &Local{
		root:   root,
		author: object.Signature{Name: "codegen", Email: "codegen@flapjack.io"},
		logger: logging.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

var _ push.Host = (*Local)(nil)

func (l *Local) open(repo push.Repo) (*git.Repository, error) {
	base := filepath.Join(l.root, repo.Owner, repo.Name)
	r, err := git.PlainOpen(base)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		r, err = git.PlainOpen(base + ".git")
	}
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, permanentError{fmt.Errorf("open %s: %w", repo, err)}
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", repo, err)
	}
	return r, nil
}

// permanentError is a local failure that retrying cannot fix.
type permanentError struct{ err error }

func (e permanentError) Error() string   { return e.err.Error() }
func (e permanentError) Unwrap() error   { return e.err }
func (e permanentError) Retryable() bool { return false }

func (l *Local) head(r *git.Repository, repo push.Repo, branch string) (*plumbing.Reference, error) {
	ref, err := r.Reference(plumbing.NewBranchReferenceName(branch), true)
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return nil, fmt.Errorf("%s@%s: %w", repo, branch, push.ErrBranchNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("resolve %s@%s: %w", repo, branch, err)
	}
	return ref, nil
}

// GetContent reads the files at p from the branch head.
func (l *Local) GetContent(ctx context.Context, repo push.Repo, branch, p string) (map[string][]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	r, err := l.open(repo)
	if err != nil {
		return nil, err
	}
	ref, err := l.head(r, repo, branch)
	if err != nil {
		return nil, err
	}
	commit, err := r.CommitObject(ref.Hash())
	if err != nil {
		return nil, fmt.Errorf("read commit %s: %w", ref.Hash(), err)
	}
	tree, err := commit.Tree()
	if err != nil {
		return nil, fmt.Errorf("read tree of %s: %w", ref.Hash(), err)
	}

	files := make(map[string][]byte)
	err = tree.Files().ForEach(func(f *object.File) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !within(f.Name, p) {
			return nil
		}
		rd, err := f.Reader()
		if err != nil {
			return err
		}
		defer rd.Close()
		content, err := io.ReadAll(rd)
		if err != nil {
			return err
		}
		files[f.Name] = content
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read %s@%s:%s: %w", repo, branch, p, err)
	}
	return files, nil
}

// BranchExists reports whether branch exists.
func (l *Local) BranchExists(_ context.Context, repo push.Repo, branch string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	r, err := l.open(repo)
	if err != nil {
		return false, err
	}
	_, err = l.head(r, repo, branch)
	if errors.Is(err, push.ErrBranchNotFound) {
		return false, nil
	}
	return err == nil, err
}

// CreateOrUpdateBranch points branch at the head of base.
func (l *Local) CreateOrUpdateBranch(ctx context.Context, repo push.Repo, branch, base string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	r, err := l.open(repo)
	if err != nil {
		return err
	}
	baseRef, err := l.head(r, repo, base)
	if err != nil {
		return err
	}
	ref := plumbing.NewHashReference(plumbing.NewBranchReferenceName(branch), baseRef.Hash())
	if err := r.Storer.SetReference(ref); err != nil {
		return fmt.Errorf("set %s@%s: %w", repo, branch, err)
	}

	l.logger.Info(ctx, "branch reset to base",
		zap.String("repo", repo.String()),
		zap.String("branch", branch),
		zap.String("base", base),
		zap.String("sha", baseRef.Hash().String()),
	)
	return nil
}

// Commit writes one commit carrying every change on top of branch.
func (l *Local) Commit(ctx context.Context, repo push.Repo, branch string, changes []push.FileChange, message string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	r, err := l.open(repo)
	if err != nil {
		return "", err
	}
	parentRef, err := l.head(r, repo, branch)
	if err != nil {
		return "", err
	}
	parent, err := r.CommitObject(parentRef.Hash())
	if err != nil {
		return "", fmt.Errorf("read commit %s: %w", parentRef.Hash(), err)
	}
	parentTree, err := parent.Tree()
	if err != nil {
		return "", fmt.Errorf("read tree of %s: %w", parent.Hash, err)
	}

	root, err := flatten(parentTree)
	if err != nil {
		return "", err
	}
	for _, c := range changes {
		if c.Delete {
			root.remove(c.Path)
			continue
		}
		hash, err := writeObject(r, plumbing.BlobObject, func(w io.Writer) error {
			_, err := w.Write(c.Content)
			return err
		})
		if err != nil {
			return "", fmt.Errorf("write blob %s: %w", c.Path, err)
		}
		root.put(c.Path, object.TreeEntry{Mode: filemode.Regular, Hash: hash})
	}

	treeHash, err := root.write(r)
	if err != nil {
		return "", fmt.Errorf("write tree: %w", err)
	}

	sig := l.author
	sig.When = l.now()
	commit := &object.Commit{
		Author:       sig,
		Committer:    sig,
		Message:      message,
		TreeHash:     treeHash,
		ParentHashes: []plumbing.Hash{parent.Hash},
	}
	obj := r.Storer.NewEncodedObject()
	if err := commit.Encode(obj); err != nil {
		return "", fmt.Errorf("encode commit: %w", err)
	}
	hash, err := r.Storer.SetEncodedObject(obj)
	if err != nil {
		return "", fmt.Errorf("write commit: %w", err)
	}

	ref := plumbing.NewHashReference(parentRef.Name(), hash)
	if err := r.Storer.CheckAndSetReference(ref, parentRef); err != nil {
		return "", fmt.Errorf("update %s@%s: %w", repo, branch, err)
	}

	l.logger.Info(ctx, "committed changes",
		zap.String("repo", repo.String()),
		zap.String("branch", branch),
		zap.String("sha", hash.String()),
		zap.Int("files", len(changes)),
	)
	return hash.String(), nil
}

// treeNode is a mutable directory used to rebuild a tree after changes.
type treeNode struct {
	files map[string]object.TreeEntry
	dirs  map[string]*treeNode
}

func newTreeNode() *treeNode {
	return &treeNode{files: make(map[string]object.TreeEntry), dirs: make(map[string]*treeNode)}
}

func flatten(tree *object.Tree) (*treeNode, error) {
	root := newTreeNode()
	w := object.NewTreeWalker(tree, true, nil)
	defer w.Close()
	for {
		name, entry, err := w.Next()
		if errors.Is(err, io.EOF) {
			return root, nil
		}
		if err != nil {
			return nil, fmt.Errorf("walk tree: %w", err)
		}
		if entry.Mode == filemode.Dir {
			continue
		}
		root.put(name, entry)
	}
}

func (n *treeNode) dir(parts []string, create bool) *treeNode {
	for _, part := range parts {
		child, ok := n.dirs[part]
		if !ok {
			if !create {
				return nil
			}
			child = newTreeNode()
			n.dirs[part] = child
		}
		n = child
	}
	return n
}

func (n *treeNode) put(p string, entry object.TreeEntry) {
	dir, name := path.Split(p)
	parent := n.dir(splitDir(dir), true)
	entry.Name = name
	delete(parent.dirs, name)
	parent.files[name] = entry
}

func (n *treeNode) remove(p string) {
	dir, name := path.Split(p)
	if parent := n.dir(splitDir(dir), false); parent != nil {
		delete(parent.files, name)
	}
}

// write stores the tree and its subtrees. Empty directories are dropped.
func (n *treeNode) write(r *git.Repository) (plumbing.Hash, error) {
	entries := make([]object.TreeEntry, 0, len(n.files)+len(n.dirs))
	for _, e := range n.files {
		entries = append(entries, e)
	}
	for name, child := range n.dirs {
		if child.empty() {
			continue
		}
		hash, err := child.write(r)
		if err != nil {
			return plumbing.ZeroHash, err
		}
		entries = append(entries, object.TreeEntry{Name: name, Mode: filemode.Dir, Hash: hash})
	}
	sort.Sort(object.TreeEntrySorter(entries))

	tree := &object.Tree{Entries: entries}
	obj := r.Storer.NewEncodedObject()
	if err := tree.Encode(obj); err != nil {
		return plumbing.ZeroHash, err
	}
	return r.Storer.SetEncodedObject(obj)
}

func (n *treeNode) empty() bool {
	if len(n.files) > 0 {
		return false
	}
	for _, child := range n.dirs {
		if !child.empty() {
			return false
		}
	}
	return true
}

func splitDir(dir string) []string {
	dir = strings.Trim(dir, "/")
	if dir == "" {
		return nil
	}
	return strings.Split(dir, "/")
}

func writeObject(r *git.Repository, t plumbing.ObjectType, fill func(io.Writer) error) (plumbing.Hash, error) {
	obj := r.Storer.NewEncodedObject()
	obj.SetType(t)
	w, err := obj.Writer()
	if err != nil {
		return plumbing.ZeroHash, err
	}
	if err := fill(w); err != nil {
		_ = w.Close()
		return plumbing.ZeroHash, err
	}
	if err := w.Close(); err != nil {
		return plumbing.ZeroHash, err
	}
	return r.Storer.SetEncodedObject(obj)
}

// localPull is one entry of the pull request registry.
type localPull struct {
	Number int    `yaml:"number"`
	Repo   string `yaml:"repo"`
	Branch string `yaml:"branch"`
	Base   string `yaml:"base"`
	Title  string `yaml:"title"`
}

type pullRegistry struct {
	Pulls []*localPull `yaml:"pulls"`
}

func (l *Local) loadPulls() (*pullRegistry, error) {
	reg := &pullRegistry{}
	data, err := os.ReadFile(filepath.Join(l.root, PullRequestsFile))
	if errors.Is(err, os.ErrNotExist) {
		return reg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read pull requests: %w", err)
	}
	if err := yaml.Unmarshal(data, reg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", PullRequestsFile, err)
	}
	return reg, nil
}

func (l *Local) savePulls(reg *pullRegistry) error {
	data, err := yaml.Marshal(reg)
	if err != nil {
		return fmt.Errorf("encode pull requests: %w", err)
	}
	tmp := filepath.Join(l.root, PullRequestsFile+".tmp")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write pull requests: %w", err)
	}
	return os.Rename(tmp, filepath.Join(l.root, PullRequestsFile))
}

func (reg *pullRegistry) find(repo push.Repo, branch, base string) *localPull {
	for _, pr := range reg.Pulls {
		if pr.Repo == repo.String() && pr.Branch == branch && pr.Base == base {
			return pr
		}
	}
	return nil
}

func (l *Local) toPullRequest(pr *localPull) *push.PullRequest {
	return &push.PullRequest{
		Number: pr.Number,
		URL:    fmt.Sprintf("file://%s#%s/pull/%d", filepath.ToSlash(l.root), pr.Repo, pr.Number),
		Title:  pr.Title,
	}
}

// FindPullRequest returns the registered pull request from branch into base.
func (l *Local) FindPullRequest(_ context.Context, repo push.Repo, branch, base string) (*push.PullRequest, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	reg, err := l.loadPulls()
	if err != nil {
		return nil, err
	}
	if pr := reg.find(repo, branch, base); pr != nil {
		return l.toPullRequest(pr), nil
	}
	return nil, nil
}

// OpenOrUpdatePullRequest registers a pull request or retitles the
// registered one.
func (l *Local) OpenOrUpdatePullRequest(ctx context.Context, repo push.Repo, branch, base, title string) (*push.PullRequest, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	reg, err := l.loadPulls()
	if err != nil {
		return nil, false, err
	}

	created := false
	pr := reg.find(repo, branch, base)
	if pr == nil {
		number := 1
		for _, p := range reg.Pulls {
			if p.Repo == repo.String() && p.Number >= number {
				number = p.Number + 1
			}
		}
		pr = &localPull{Number: number, Repo: repo.String(), Branch: branch, Base: base}
		reg.Pulls = append(reg.Pulls, pr)
		created = true
	}
	pr.Title = title

	if err := l.savePulls(reg); err != nil {
		return nil, false, err
	}
	if created {
		l.logger.Info(ctx, "opened pull request",
			zap.String("repo", repo.String()),
			zap.String("branch", branch),
			zap.Int("number", pr.Number),
		)
	}
	return l.toPullRequest(pr), created, nil
}

package push

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/flapjackhq/codegen/internal/errs"
	"github.com/flapjackhq/codegen/internal/extraction"
	"github.com/flapjackhq/codegen/internal/logging"
	"github.com/flapjackhq/codegen/internal/tasks"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Orchestrator runs repository tasks against a Host.
type Orchestrator struct {
	host        Host
	store       extraction.Store
	logger      *logging.Logger
	metrics     *Metrics
	tracer      trace.Tracer
	concurrency int
	taskTimeout time.Duration
	callTimeout time.Duration
	retry       RetryConfig
	dryRun      bool
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m *Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithTracer sets the tracer for run and task spans.
func WithTracer(t trace.Tracer) Option {
	return func(o *Orchestrator) { o.tracer = t }
}

// WithConcurrency bounds the number of configurations synced in parallel.
func WithConcurrency(n int) Option {
	return func(o *Orchestrator) { o.concurrency = n }
}

// WithTaskTimeout bounds one task, including all its host calls.
func WithTaskTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.taskTimeout = d }
}

// WithCallTimeout bounds every single host call.
func WithCallTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.callTimeout = d }
}

// WithRetry configures retries of host reads.
func WithRetry(cfg RetryConfig) Option {
	return func(o *Orchestrator) { o.retry = cfg }
}

// WithDryRun computes every diff and reports the action that would be taken
// without mutating the host.
func WithDryRun(dryRun bool) Option {
	return func(o *Orchestrator) { o.dryRun = dryRun }
}

// NewOrchestrator creates an orchestrator publishing documents from store to
// host.
func NewOrchestrator(host Host, store extraction.Store, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		host:        host,
		store:       store,
		concurrency: 4,
		taskTimeout: 5 * time.Minute,
		callTimeout: 30 * time.Second,
		retry:       DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = logging.NewNop()
	}
	if o.metrics == nil {
		o.metrics = NewMetrics(nil, o.logger)
	}
	if o.tracer == nil {
		o.tracer = otel.Tracer(instrumentationName)
	}
	if o.concurrency < 1 {
		o.concurrency = 1
	}
	return o
}

// SyncAll runs every task of every configuration and returns one Result per
// task, in configuration then task order.
//
// Cancelling ctx stops the run between tasks: the task in flight completes
// under its own timeout and every task not yet started is reported failed
// with the cancellation cause.
func (o *Orchestrator) SyncAll(ctx context.Context, configs []tasks.RepositoryConfiguration) []Result {
	if logging.RunIDFromContext(ctx) == "" {
		ctx = logging.WithRunID(ctx, uuid.NewString())
	}
	ctx, span := o.tracer.Start(ctx, "push.sync", trace.WithAttributes(
		attribute.String("run.id", logging.RunIDFromContext(ctx)),
		attribute.Int("repositories", len(configs)),
		attribute.Bool("dry_run", o.dryRun),
	))
	defer span.End()

	o.logger.Info(ctx, "push started",
		zap.Int("repositories", len(configs)),
		zap.Bool("dry_run", o.dryRun),
	)

	perConfig := make([][]Result, len(configs))
	var g errgroup.Group
	g.SetLimit(o.concurrency)
	for i, cfg := range configs {
		g.Go(func() error {
			perConfig[i] = o.syncConfig(ctx, cfg)
			return nil
		})
	}
	_ = g.Wait()

	var results []Result
	for _, rs := range perConfig {
		results = append(results, rs...)
	}

	summary := Summarize(results)
	span.SetAttributes(
		attribute.Int("tasks.created", summary[ActionCreated]),
		attribute.Int("tasks.updated", summary[ActionUpdated]),
		attribute.Int("tasks.no_op", summary[ActionNoOp]),
		attribute.Int("tasks.failed", summary[ActionFailed]),
	)
	if summary[ActionFailed] > 0 {
		span.SetStatus(codes.Error, fmt.Sprintf("%d tasks failed", summary[ActionFailed]))
	}
	o.logger.Info(ctx, "push complete",
		zap.Int("created", summary[ActionCreated]),
		zap.Int("updated", summary[ActionUpdated]),
		zap.Int("no_op", summary[ActionNoOp]),
		zap.Int("failed", summary[ActionFailed]),
	)
	return results
}

// branchState tracks a pull request branch across the tasks of one
// configuration.
type branchState struct {
	exists bool
	// claimed is set once a task of this run has reset the branch or
	// accepted its existing content; later tasks then commit on top.
	claimed bool
	// title is the pull request title set by the first committing task.
	title string
}

func (o *Orchestrator) syncConfig(ctx context.Context, cfg tasks.RepositoryConfiguration) []Result {
	results := make([]Result, 0, len(cfg.Tasks))
	branches := make(map[string]*branchState)

	for _, task := range cfg.Tasks {
		if err := ctx.Err(); err != nil {
			cause := context.Cause(ctx)
			results = append(results, Result{
				RepoID: cfg.ID,
				Task:   task.PRBranch,
				Action: ActionFailed,
				Err:    errs.Push("start task", fmt.Errorf("run cancelled: %w", cause), "repo", cfg.ID, "task", task.PRBranch),
				DryRun: o.dryRun,
			})
			continue
		}

		// The task runs to completion even if the run is cancelled meanwhile.
		taskCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.taskTimeout)
		taskCtx = logging.WithTask(taskCtx, cfg.ID, task.PRBranch)
		taskCtx, span := o.tracer.Start(taskCtx, "push.task", trace.WithAttributes(
			attribute.String("repo.id", cfg.ID),
			attribute.String("repo.name", cfg.Repository),
			attribute.String("task.branch", task.PRBranch),
			attribute.String("task.base", cfg.BaseBranch),
		))
		r := o.runTask(taskCtx, cfg, task, branches)
		span.SetAttributes(
			attribute.String("action", string(r.Action)),
			attribute.Int("files.changed", len(r.Changed)),
		)
		if r.Err != nil {
			span.RecordError(r.Err)
			span.SetStatus(codes.Error, "push task failed")
		}
		span.End()
		cancel()

		o.metrics.recordTask(taskCtx, r)
		if r.Err != nil {
			o.logger.Error(taskCtx, "push task failed",
				zap.String("files", tasks.String(task.Files)),
				zap.Error(r.Err),
			)
		} else {
			o.logger.Info(taskCtx, "push task finished",
				zap.String("files", tasks.String(task.Files)),
				zap.String("action", string(r.Action)),
				zap.Strings("changed", r.Changed),
				zap.String("pull_request", r.PullRequestURL),
				zap.Duration("duration", r.Duration),
			)
		}
		results = append(results, r)
	}
	return results
}

func (o *Orchestrator) runTask(ctx context.Context, cfg tasks.RepositoryConfiguration, task tasks.RepositoryTask, branches map[string]*branchState) Result {
	start := time.Now()
	res := Result{RepoID: cfg.ID, Task: task.PRBranch, DryRun: o.dryRun}
	fail := func(err error) Result {
		res.Action = ActionFailed
		res.Err = err
		res.Duration = time.Since(start)
		return res
	}
	done := func(action Action, changes []FileChange, pr *PullRequest) Result {
		res.Action = action
		res.Changed = changedPaths(changes)
		if pr != nil {
			res.PullRequestURL = pr.URL
		}
		res.Duration = time.Since(start)
		return res
	}
	pushErr := func(op string, err error) error {
		return errs.Push(op, err, "repo", cfg.ID, "task", task.PRBranch)
	}

	bundle, err := extraction.Extract(ctx, o.store, task.Files)
	if err != nil {
		var e *errs.Error
		if errors.As(err, &e) {
			return fail(e.With("repo", cfg.ID).With("task", task.PRBranch))
		}
		return fail(errs.Extraction("extract", err, "repo", cfg.ID, "task", task.PRBranch))
	}

	repo := Repo{Owner: cfg.Owner(), Name: cfg.Name()}
	st := branches[task.PRBranch]
	if st == nil {
		exists, err := o.branchExists(ctx, repo, task.PRBranch)
		if err != nil {
			return fail(pushErr("check branch", err))
		}
		st = &branchState{exists: exists}
		branches[task.PRBranch] = st
	}

	var changes []FileChange
	if st.exists {
		current, err := o.getContent(ctx, repo, task.PRBranch, bundle.Output)
		if err != nil {
			return fail(pushErr("get content", err))
		}
		changes = Diff(bundle, current)

		if len(changes) == 0 {
			// The branch already carries this content.
			st.claimed = true
			pr, err := o.findPullRequest(ctx, repo, task.PRBranch, cfg.BaseBranch)
			if err != nil {
				return fail(pushErr("find pull request", err))
			}
			if pr != nil {
				if st.title == "" {
					st.title = pr.Title
				}
				return done(ActionNoOp, nil, pr)
			}
			baseChanges, err := o.diffBase(ctx, repo, cfg.BaseBranch, bundle)
			if err != nil {
				return fail(pushErr("get content", err))
			}
			if len(baseChanges) == 0 {
				return done(ActionNoOp, nil, nil)
			}
			// A previous run committed but never opened the pull request.
			return o.openPullRequest(ctx, repo, cfg, task, st, baseChanges, done, fail, pushErr)
		}

		if !st.claimed {
			// First commit of this run: restart the branch from base.
			baseChanges, err := o.diffBase(ctx, repo, cfg.BaseBranch, bundle)
			if err != nil {
				return fail(pushErr("get content", err))
			}
			if len(baseChanges) == 0 {
				return done(ActionNoOp, nil, nil)
			}
			changes = baseChanges
			if err := o.resetBranch(ctx, repo, task.PRBranch, cfg.BaseBranch); err != nil {
				return fail(pushErr("reset branch", err))
			}
			st.claimed = true
		}
	} else {
		changes, err = o.diffBase(ctx, repo, cfg.BaseBranch, bundle)
		if err != nil {
			return fail(pushErr("get content", err))
		}
		if len(changes) == 0 {
			return done(ActionNoOp, nil, nil)
		}
		if err := o.resetBranch(ctx, repo, task.PRBranch, cfg.BaseBranch); err != nil {
			return fail(pushErr("create branch", err))
		}
		st.exists = true
		st.claimed = true
	}

	if !o.dryRun {
		if _, err := mutate(ctx, o, "commit", func(ctx context.Context) (string, error) {
			return o.host.Commit(ctx, repo, task.PRBranch, changes, task.CommitMessage)
		}); err != nil {
			return fail(pushErr("commit", err))
		}
	}
	return o.openPullRequest(ctx, repo, cfg, task, st, changes, done, fail, pushErr)
}

func (o *Orchestrator) openPullRequest(
	ctx context.Context,
	repo Repo,
	cfg tasks.RepositoryConfiguration,
	task tasks.RepositoryTask,
	st *branchState,
	changes []FileChange,
	done func(Action, []FileChange, *PullRequest) Result,
	fail func(error) Result,
	pushErr func(string, error) error,
) Result {
	if st.title == "" {
		st.title = task.CommitMessage
	}

	if o.dryRun {
		pr, err := o.findPullRequest(ctx, repo, task.PRBranch, cfg.BaseBranch)
		if err != nil {
			return fail(pushErr("find pull request", err))
		}
		if pr != nil {
			return done(ActionUpdated, changes, pr)
		}
		return done(ActionCreated, changes, nil)
	}

	var created bool
	pr, err := mutate(ctx, o, "open pull request", func(ctx context.Context) (*PullRequest, error) {
		pr, c, err := o.host.OpenOrUpdatePullRequest(ctx, repo, task.PRBranch, cfg.BaseBranch, st.title)
		created = c
		return pr, err
	})
	if err != nil {
		return fail(pushErr("open pull request", err))
	}
	if created {
		return done(ActionCreated, changes, pr)
	}
	return done(ActionUpdated, changes, pr)
}

func (o *Orchestrator) diffBase(ctx context.Context, repo Repo, base string, bundle *extraction.Bundle) ([]FileChange, error) {
	current, err := o.getContent(ctx, repo, base, bundle.Output)
	if err != nil {
		return nil, err
	}
	return Diff(bundle, current), nil
}

func (o *Orchestrator) resetBranch(ctx context.Context, repo Repo, branch, base string) error {
	if o.dryRun {
		return nil
	}
	_, err := mutate(ctx, o, "create or update branch", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, o.host.CreateOrUpdateBranch(ctx, repo, branch, base)
	})
	return err
}

func (o *Orchestrator) getContent(ctx context.Context, repo Repo, branch, p string) (map[string][]byte, error) {
	var content map[string][]byte
	err := o.read(ctx, "get content", func(ctx context.Context) error {
		var err error
		content, err = o.host.GetContent(ctx, repo, branch, p)
		return err
	})
	return content, err
}

func (o *Orchestrator) branchExists(ctx context.Context, repo Repo, branch string) (bool, error) {
	var exists bool
	err := o.read(ctx, "branch exists", func(ctx context.Context) error {
		var err error
		exists, err = o.host.BranchExists(ctx, repo, branch)
		return err
	})
	return exists, err
}

func (o *Orchestrator) findPullRequest(ctx context.Context, repo Repo, branch, base string) (*PullRequest, error) {
	var pr *PullRequest
	err := o.read(ctx, "find pull request", func(ctx context.Context) error {
		var err error
		pr, err = o.host.FindPullRequest(ctx, repo, branch, base)
		return err
	})
	return pr, err
}

// read runs an idempotent host call with retries.
func (o *Orchestrator) read(ctx context.Context, op string, call func(ctx context.Context) error) error {
	return retryRead(ctx, o.retry, o.callTimeout, o.logger, op,
		func() { o.metrics.recordRetry(ctx, op) },
		func(ctx context.Context) error {
			err := call(ctx)
			o.metrics.recordCall(ctx, op, err)
			return err
		})
}

// mutate runs a host mutation exactly once under the call timeout.
func mutate[T any](ctx context.Context, o *Orchestrator, op string, call func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := callWithTimeout(ctx, o.callTimeout, func(ctx context.Context) error {
		var err error
		out, err = call(ctx)
		return err
	})
	o.metrics.recordCall(ctx, op, err)
	return out, err
}

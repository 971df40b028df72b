package push

import (
	"context"
	"errors"
	"testing"
	"testing/fstest"
	"time"

	"github.com/flapjackhq/codegen/internal/errs"
	"github.com/flapjackhq/codegen/internal/extraction"
	"github.com/flapjackhq/codegen/internal/logging"
	"github.com/flapjackhq/codegen/internal/tasks"
	"github.com/flapjackhq/codegen/internal/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap/zapcore"
)

var (
	docsRepo    = Repo{Owner: "flapjackhq", Name: "docs"}
	websiteRepo = Repo{Owner: "flapjackhq", Name: "website"}
)

func sourceStore() *extraction.FSStore {
	return extraction.NewFSStoreFS(fstest.MapFS{
		"specs/bundled/search.yml":    {Data: []byte("openapi: 3.0.2\ninfo:\n  title: Search\n")},
		"specs/bundled/recommend.yml": {Data: []byte("openapi: 3.0.2\ninfo:\n  title: Recommend\n")},
		"guides/install.md":           {Data: []byte("Install it.\n")},
		"guides/retries.md":           {Data: []byte("Retries are automatic.\n")},
	})
}

func specsTask(branch, message string, clients ...string) tasks.RepositoryTask {
	return tasks.RepositoryTask{
		PRBranch:      branch,
		CommitMessage: message,
		Files: tasks.SpecsPush{
			Ext:             tasks.ExtYML,
			IncludeSnippets: true,
			IncludeSLA:      true,
			Output:          "specs",
			Clients:         clients,
		},
	}
}

func guidesTask(branch, message string) tasks.RepositoryTask {
	return tasks.RepositoryTask{
		PRBranch:      branch,
		CommitMessage: message,
		Files:         tasks.GuidesPush{Output: "guides.json", Names: []string{"install"}},
	}
}

func docsConfig(ts ...tasks.RepositoryTask) tasks.RepositoryConfiguration {
	return tasks.RepositoryConfiguration{
		ID:         "docs",
		Repository: "flapjackhq/docs",
		BaseBranch: "main",
		Tasks:      ts,
	}
}

func newTestOrchestrator(host Host, opts ...Option) *Orchestrator {
	opts = append([]Option{
		WithRetry(RetryConfig{MaxRetries: 3, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond}),
		WithCallTimeout(time.Second),
	}, opts...)
	return NewOrchestrator(host, sourceStore(), opts...)
}

func TestSyncAll_CreatesThenNoOp(t *testing.T) {
	host := newFakeHost()
	host.seed(docsRepo, "main", map[string]string{"README.md": "docs"})
	cfg := docsConfig(specsTask("feat/specs", "feat: update specs"))

	results := newTestOrchestrator(host).SyncAll(context.Background(), []tasks.RepositoryConfiguration{cfg})
	require.Len(t, results, 1)
	r := results[0]
	require.NoError(t, r.Err)
	assert.Equal(t, ActionCreated, r.Action)
	assert.Equal(t, "docs", r.RepoID)
	assert.Equal(t, "feat/specs", r.Task)
	assert.Equal(t, []string{"specs/recommend.yml", "specs/search.yml"}, r.Changed)
	assert.NotEmpty(t, r.PullRequestURL)

	content, ok := host.file(docsRepo, "feat/specs", "specs/search.yml")
	require.True(t, ok)
	assert.Contains(t, content, "title: Search")
	_, ok = host.file(docsRepo, "feat/specs", "README.md")
	assert.True(t, ok, "branch starts from base")
	_, ok = host.file(docsRepo, "main", "specs/search.yml")
	assert.False(t, ok, "base is never written")
	assert.Equal(t, "feat: update specs", host.pull(docsRepo, "feat/specs").Title)

	// Unchanged source: nothing to do.
	results = newTestOrchestrator(host).SyncAll(context.Background(), []tasks.RepositoryConfiguration{cfg})
	require.Len(t, results, 1)
	require.NoError(t, results[0].Err)
	assert.Equal(t, ActionNoOp, results[0].Action)
	assert.Empty(t, results[0].Changed)
	assert.Len(t, host.commits, 1)
	assert.Equal(t, 1, host.count("OpenOrUpdatePullRequest"))
}

func TestSyncAll_BaseAlreadyUpToDate(t *testing.T) {
	host := newFakeHost()
	host.seed(docsRepo, "main", map[string]string{
		"specs/search.yml": "openapi: 3.0.2\ninfo:\n  title: Search\n",
	})
	cfg := docsConfig(specsTask("feat/specs", "feat: update specs", "search"))

	results := newTestOrchestrator(host).SyncAll(context.Background(), []tasks.RepositoryConfiguration{cfg})
	require.Len(t, results, 1)
	assert.Equal(t, ActionNoOp, results[0].Action)
	assert.Zero(t, host.count("CreateOrUpdateBranch"))
	assert.Nil(t, host.pull(docsRepo, "feat/specs"))
}

func TestSyncAll_SharedBranchStacksCommits(t *testing.T) {
	host := newFakeHost()
	host.seed(docsRepo, "main", map[string]string{})
	cfg := docsConfig(
		specsTask("feat/update", "feat: update specs"),
		guidesTask("feat/update", "docs: update guides"),
	)

	results := newTestOrchestrator(host).SyncAll(context.Background(), []tasks.RepositoryConfiguration{cfg})
	require.Len(t, results, 2)
	assert.Equal(t, ActionCreated, results[0].Action)
	assert.Equal(t, ActionUpdated, results[1].Action)
	assert.Equal(t, results[0].PullRequestURL, results[1].PullRequestURL)

	assert.Equal(t, []string{
		"flapjackhq/docs@feat/update: feat: update specs",
		"flapjackhq/docs@feat/update: docs: update guides",
	}, host.commits)
	assert.Equal(t, "feat: update specs", host.pull(docsRepo, "feat/update").Title)
	_, ok := host.file(docsRepo, "feat/update", "specs/search.yml")
	assert.True(t, ok)
	guides, ok := host.file(docsRepo, "feat/update", "guides.json")
	require.True(t, ok)
	assert.JSONEq(t, `{"install": "Install it.\n"}`, guides)

	// A second run finds both tasks already applied on the branch.
	results = newTestOrchestrator(host).SyncAll(context.Background(), []tasks.RepositoryConfiguration{cfg})
	require.Len(t, results, 2)
	assert.Equal(t, ActionNoOp, results[0].Action)
	assert.Equal(t, ActionNoOp, results[1].Action)
	assert.Len(t, host.commits, 2)
}

func TestSyncAll_ResetsStaleBranch(t *testing.T) {
	host := newFakeHost()
	host.seed(docsRepo, "main", map[string]string{
		"README.md":        "docs",
		"specs/legacy.yml": "old client",
	})
	// Left behind by an earlier run with older sources.
	host.seed(docsRepo, "feat/specs", map[string]string{
		"README.md":        "docs",
		"specs/search.yml": "openapi: 3.0.0\n",
		"notes.txt":        "manual edit",
	})
	_, _, err := host.OpenOrUpdatePullRequest(context.Background(), docsRepo, "feat/specs", "main", "old title")
	require.NoError(t, err)

	cfg := docsConfig(specsTask("feat/specs", "feat: update specs"))
	results := newTestOrchestrator(host).SyncAll(context.Background(), []tasks.RepositoryConfiguration{cfg})
	require.Len(t, results, 1)
	r := results[0]
	require.NoError(t, r.Err)
	assert.Equal(t, ActionUpdated, r.Action)
	assert.Equal(t, []string{"-specs/legacy.yml", "specs/recommend.yml", "specs/search.yml"}, r.Changed)

	_, ok := host.file(docsRepo, "feat/specs", "notes.txt")
	assert.False(t, ok, "branch is reset to base before committing")
	_, ok = host.file(docsRepo, "feat/specs", "specs/legacy.yml")
	assert.False(t, ok, "stale files in the output location are deleted")
	assert.Equal(t, "feat: update specs", host.pull(docsRepo, "feat/specs").Title)
}

func TestSyncAll_OpensMissingPullRequest(t *testing.T) {
	host := newFakeHost()
	host.seed(docsRepo, "main", map[string]string{})
	cfg := docsConfig(specsTask("feat/specs", "feat: update specs", "search"))

	// First run commits but the pull request call fails.
	host.fail = func(op string, _ Repo, _ int) error {
		if op == "OpenOrUpdatePullRequest" {
			return errors.New("422 validation failed")
		}
		return nil
	}
	results := newTestOrchestrator(host).SyncAll(context.Background(), []tasks.RepositoryConfiguration{cfg})
	require.Len(t, results, 1)
	assert.Equal(t, ActionFailed, results[0].Action)
	assert.Len(t, host.commits, 1)

	host.fail = nil
	results = newTestOrchestrator(host).SyncAll(context.Background(), []tasks.RepositoryConfiguration{cfg})
	require.Len(t, results, 1)
	require.NoError(t, results[0].Err)
	assert.Equal(t, ActionCreated, results[0].Action)
	assert.Len(t, host.commits, 1, "content already on the branch")
	require.NotNil(t, host.pull(docsRepo, "feat/specs"))
}

func TestSyncAll_FailureIsolation(t *testing.T) {
	host := newFakeHost()
	host.seed(docsRepo, "main", map[string]string{})
	host.seed(websiteRepo, "main", map[string]string{})
	host.fail = func(op string, repo Repo, _ int) error {
		if op == "Commit" && repo == docsRepo {
			return errors.New("403 forbidden")
		}
		return nil
	}

	configs := []tasks.RepositoryConfiguration{
		docsConfig(specsTask("feat/specs", "feat: update specs"), guidesTask("feat/guides", "docs: guides")),
		{
			ID:         "website",
			Repository: "flapjackhq/website",
			BaseBranch: "main",
			Tasks:      []tasks.RepositoryTask{specsTask("feat/specs", "feat: update specs")},
		},
	}

	results := newTestOrchestrator(host).SyncAll(context.Background(), configs)
	require.Len(t, results, 3)

	assert.Equal(t, ActionFailed, results[0].Action)
	require.Error(t, results[0].Err)
	assert.ErrorIs(t, results[0].Err, errs.ErrPush)
	assert.Contains(t, results[0].Err.Error(), "repo=docs, task=feat/specs")
	assert.Contains(t, results[0].Err.Error(), "403 forbidden")

	assert.Equal(t, ActionFailed, results[1].Action, "same repository, also rejected")
	assert.Equal(t, "website", results[2].RepoID)
	assert.Equal(t, ActionCreated, results[2].Action)
	assert.True(t, Summarize(results).Failed())
}

func TestSyncAll_ExtractionErrorFailsOnlyItsTask(t *testing.T) {
	host := newFakeHost()
	host.seed(docsRepo, "main", map[string]string{})
	cfg := docsConfig(
		specsTask("feat/specs", "feat: update specs", "missing"),
		guidesTask("feat/guides", "docs: guides"),
	)

	results := newTestOrchestrator(host).SyncAll(context.Background(), []tasks.RepositoryConfiguration{cfg})
	require.Len(t, results, 2)
	assert.Equal(t, ActionFailed, results[0].Action)
	assert.ErrorIs(t, results[0].Err, errs.ErrExtraction)
	assert.ErrorIs(t, results[0].Err, extraction.ErrNotFound)
	assert.Contains(t, results[0].Err.Error(), "repo=docs, task=feat/specs")
	assert.Equal(t, ActionCreated, results[1].Action)
	assert.Equal(t, 1, host.count("BranchExists"), "failed extraction reaches no host")
}

func TestSyncAll_MutationsAreNotRetried(t *testing.T) {
	host := newFakeHost()
	host.seed(docsRepo, "main", map[string]string{})
	host.fail = func(op string, _ Repo, _ int) error {
		if op == "Commit" {
			return transientError{retry: true}
		}
		return nil
	}

	results := newTestOrchestrator(host).SyncAll(context.Background(),
		[]tasks.RepositoryConfiguration{docsConfig(specsTask("feat/specs", "feat: update specs"))})
	require.Len(t, results, 1)
	assert.Equal(t, ActionFailed, results[0].Action)
	assert.Equal(t, 1, host.count("Commit"))
	assert.Zero(t, host.count("OpenOrUpdatePullRequest"))
}

func TestSyncAll_RetriesReads(t *testing.T) {
	host := newFakeHost()
	host.seed(docsRepo, "main", map[string]string{})
	host.fail = func(op string, _ Repo, n int) error {
		if op == "GetContent" && n <= 2 {
			return transientError{retry: true}
		}
		return nil
	}

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	orch := newTestOrchestrator(host, WithMetrics(NewMetrics(mp.Meter(instrumentationName), nil)))

	results := orch.SyncAll(context.Background(),
		[]tasks.RepositoryConfiguration{docsConfig(specsTask("feat/specs", "feat: update specs"))})
	require.Len(t, results, 1)
	require.NoError(t, results[0].Err)
	assert.Equal(t, ActionCreated, results[0].Action)
	assert.Equal(t, 3, host.count("GetContent"))

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	retries := findSum(t, rm, "codegen.push.host.retries")
	assert.Equal(t, int64(2), retries["get content"])
}

func TestSyncAll_NonRetryableReadFailsFast(t *testing.T) {
	host := newFakeHost()
	host.seed(docsRepo, "main", map[string]string{})
	host.fail = func(op string, _ Repo, _ int) error {
		if op == "BranchExists" {
			return transientError{retry: false}
		}
		return nil
	}

	results := newTestOrchestrator(host).SyncAll(context.Background(),
		[]tasks.RepositoryConfiguration{docsConfig(specsTask("feat/specs", "feat: update specs"))})
	require.Len(t, results, 1)
	assert.Equal(t, ActionFailed, results[0].Action)
	assert.Equal(t, 1, host.count("BranchExists"))
}

func TestSyncAll_DryRun(t *testing.T) {
	host := newFakeHost()
	host.seed(docsRepo, "main", map[string]string{})
	host.seed(websiteRepo, "main", map[string]string{})
	host.seed(websiteRepo, "feat/specs", map[string]string{"specs/search.yml": "stale"})
	_, _, err := host.OpenOrUpdatePullRequest(context.Background(), websiteRepo, "feat/specs", "main", "t")
	require.NoError(t, err)
	host.seen = map[string]int{}

	configs := []tasks.RepositoryConfiguration{
		docsConfig(specsTask("feat/specs", "feat: update specs")),
		{
			ID:         "website",
			Repository: "flapjackhq/website",
			BaseBranch: "main",
			Tasks:      []tasks.RepositoryTask{specsTask("feat/specs", "feat: update specs", "search")},
		},
	}
	results := newTestOrchestrator(host, WithDryRun(true)).SyncAll(context.Background(), configs)
	require.Len(t, results, 2)

	assert.Equal(t, ActionCreated, results[0].Action)
	assert.True(t, results[0].DryRun)
	assert.Equal(t, []string{"specs/recommend.yml", "specs/search.yml"}, results[0].Changed)
	assert.Equal(t, ActionUpdated, results[1].Action)
	assert.NotEmpty(t, results[1].PullRequestURL)

	for _, op := range []string{"CreateOrUpdateBranch", "Commit", "OpenOrUpdatePullRequest"} {
		assert.Zero(t, host.count(op), op)
	}
	_, ok := host.file(docsRepo, "feat/specs", "specs/search.yml")
	assert.False(t, ok)
}

func TestSyncAll_CancelledBeforeStart(t *testing.T) {
	host := newFakeHost()
	host.seed(docsRepo, "main", map[string]string{})
	ctx, cancel := context.WithCancelCause(context.Background())
	cancel(errors.New("interrupted"))

	results := newTestOrchestrator(host).SyncAll(ctx,
		[]tasks.RepositoryConfiguration{docsConfig(specsTask("feat/a", "a"), specsTask("feat/b", "b"))})
	require.Len(t, results, 2)
	for _, r := range results {
		assert.Equal(t, ActionFailed, r.Action)
		assert.ErrorIs(t, r.Err, errs.ErrPush)
		assert.Contains(t, r.Err.Error(), "interrupted")
	}
	assert.Empty(t, host.calls)
}

func TestSyncAll_CancelledMidRunFinishesCurrentTask(t *testing.T) {
	host := newFakeHost()
	host.seed(docsRepo, "main", map[string]string{})
	ctx, cancel := context.WithCancelCause(context.Background())
	host.fail = func(op string, _ Repo, _ int) error {
		if op == "Commit" {
			cancel(errors.New("interrupted"))
		}
		return nil
	}

	results := newTestOrchestrator(host).SyncAll(ctx,
		[]tasks.RepositoryConfiguration{docsConfig(specsTask("feat/a", "a"), specsTask("feat/b", "b"))})
	require.Len(t, results, 2)
	require.NoError(t, results[0].Err)
	assert.Equal(t, ActionCreated, results[0].Action, "in-flight task completes")
	assert.Equal(t, ActionFailed, results[1].Action)
	assert.Contains(t, results[1].Err.Error(), "task=feat/b")
	assert.Equal(t, 1, host.count("Commit"))
}

func TestSyncAll_LogsWithTaskContext(t *testing.T) {
	host := newFakeHost()
	host.seed(docsRepo, "main", map[string]string{})
	logger := logging.NewTestLogger()

	ctx := logging.WithRunID(context.Background(), "run-1")
	newTestOrchestrator(host, WithLogger(logger.Logger)).SyncAll(ctx,
		[]tasks.RepositoryConfiguration{docsConfig(specsTask("feat/specs", "feat: update specs"))})

	logger.AssertLogged(t, zapcore.InfoLevel, "push task finished")
	logger.AssertField(t, "push task finished", "repo.id", "docs")
	logger.AssertField(t, "push task finished", "task.branch", "feat/specs")
	logger.AssertField(t, "push task finished", "action", "created")
	logger.AssertField(t, "push task finished", "files", "specs(yml) -> specs")
	logger.AssertField(t, "push complete", "run.id", "run-1")
}

func findSum(t *testing.T, rm metricdata.ResourceMetrics, name string) map[string]int64 {
	t.Helper()
	out := make(map[string]int64)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok, name)
			for _, dp := range sum.DataPoints {
				op, _ := dp.Attributes.Value("op")
				out[op.AsString()] += dp.Value
			}
		}
	}
	return out
}

func TestSyncAll_Spans(t *testing.T) {
	host := newFakeHost()
	host.seed(docsRepo, "main", map[string]string{})
	cfg := docsConfig(
		specsTask("feat/specs", "feat: update specs", "missing"),
		guidesTask("feat/guides", "docs: guides"),
	)

	tel := telemetry.NewTestTelemetry()
	orch := newTestOrchestrator(host, WithTracer(tel.Tracer(instrumentationName)))
	orch.SyncAll(logging.WithRunID(context.Background(), "run-7"), []tasks.RepositoryConfiguration{cfg})

	tel.AssertSpanAttribute(t, "push.sync", "run.id", "run-7")
	tel.AssertSpanAttribute(t, "push.sync", "tasks.failed", int64(1))
	tel.AssertSpanAttribute(t, "push.sync", "tasks.created", int64(1))

	taskSpans := tel.SpansByName("push.task")
	require.Len(t, taskSpans, 2)
	syncSpan := tel.SpansByName("push.sync")[0]
	for _, span := range taskSpans {
		assert.Equal(t, syncSpan.SpanContext().SpanID(), span.Parent().SpanID())
	}

	assert.Equal(t, codes.Error, taskSpans[0].Status().Code)
	tel.AssertSpanAttribute(t, "push.task", "task.branch", "feat/guides")
	tel.AssertSpanAttribute(t, "push.task", "action", string(ActionCreated))
	tel.AssertSpanAttribute(t, "push.task", "files.changed", int64(1))
	assert.Equal(t, codes.Unset, taskSpans[1].Status().Code)
}

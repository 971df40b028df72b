package logging

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type runCtxKey struct{}
type taskCtxKey struct{}

type taskRef struct {
	repoID string
	branch string
}

// WithRunID tags the context with the run identifier shared by every line
// and span of one generate or push invocation.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runCtxKey{}, runID)
}

// RunIDFromContext returns the run identifier, or "".
func RunIDFromContext(ctx context.Context) string {
	r, _ := ctx.Value(runCtxKey{}).(string)
	return r
}

// WithTask tags the context with the repository and PR branch of the push
// task being run.
func WithTask(ctx context.Context, repoID, branch string) context.Context {
	return context.WithValue(ctx, taskCtxKey{}, taskRef{repoID: repoID, branch: branch})
}

func contextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 5)

	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}
	if runID := RunIDFromContext(ctx); runID != "" {
		fields = append(fields, zap.String("run.id", runID))
	}
	if t, ok := ctx.Value(taskCtxKey{}).(taskRef); ok {
		fields = append(fields, zap.String("repo.id", t.repoID))
		if t.branch != "" {
			fields = append(fields, zap.String("task.branch", t.branch))
		}
	}
	return fields
}

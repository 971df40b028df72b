package push

import (
	"context"

	"github.com/flapjackhq/codegen/internal/logging"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/flapjackhq/codegen/internal/push"

// Metrics records push task outcomes and host calls.
type Metrics struct {
	meter        metric.Meter
	logger       *logging.Logger
	tasks        metric.Int64Counter
	taskDuration metric.Float64Histogram
	hostCalls    metric.Int64Counter
	hostRetries  metric.Int64Counter
	filesChanged metric.Int64Counter
}

// NewMetrics creates push metrics on meter. A nil meter uses the global
// provider.
func NewMetrics(meter metric.Meter, logger *logging.Logger) *Metrics {
	if meter == nil {
		meter = otel.Meter(instrumentationName)
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	m := &Metrics{meter: meter, logger: logger}
	m.init()
	return m
}

func (m *Metrics) init() {
	ctx := context.Background()
	var err error

	// Task outcome counter
	m.tasks, err = m.meter.Int64Counter(
		"codegen.push.tasks",
		metric.WithDescription("Push tasks labeled by repository and action (created, updated, no-op, failed)"),
		metric.WithUnit("{task}"),
	)
	if err != nil {
		m.logger.Warn(ctx, "failed to create tasks counter", zap.Error(err))
	}

	// Task duration histogram
	m.taskDuration, err = m.meter.Float64Histogram(
		"codegen.push.task.duration",
		metric.WithDescription("Duration of push tasks from extraction to pull request"),
		metric.WithUnit("s"),
	)
	if err != nil {
		m.logger.Warn(ctx, "failed to create task duration histogram", zap.Error(err))
	}

	// Host call counter
	m.hostCalls, err = m.meter.Int64Counter(
		"codegen.push.host.calls",
		metric.WithDescription("Repository host calls labeled by operation and outcome"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		m.logger.Warn(ctx, "failed to create host calls counter", zap.Error(err))
	}

	// Host retry counter
	m.hostRetries, err = m.meter.Int64Counter(
		"codegen.push.host.retries",
		metric.WithDescription("Retried repository host reads labeled by operation"),
		metric.WithUnit("{retry}"),
	)
	if err != nil {
		m.logger.Warn(ctx, "failed to create host retries counter", zap.Error(err))
	}

	// Committed files counter
	m.filesChanged, err = m.meter.Int64Counter(
		"codegen.push.files_changed",
		metric.WithDescription("Files committed to target repositories, including deletions"),
		metric.WithUnit("{file}"),
	)
	if err != nil {
		m.logger.Warn(ctx, "failed to create files changed counter", zap.Error(err))
	}
}

func (m *Metrics) recordTask(ctx context.Context, r Result) {
	attrs := metric.WithAttributes(
		attribute.String("repo", r.RepoID),
		attribute.String("action", string(r.Action)),
		attribute.Bool("dry_run", r.DryRun),
	)
	if m.tasks != nil {
		m.tasks.Add(ctx, 1, attrs)
	}
	if m.taskDuration != nil {
		m.taskDuration.Record(ctx, r.Duration.Seconds(), attrs)
	}
	if m.filesChanged != nil && !r.DryRun && (r.Action == ActionCreated || r.Action == ActionUpdated) {
		m.filesChanged.Add(ctx, int64(len(r.Changed)), metric.WithAttributes(attribute.String("repo", r.RepoID)))
	}
}

func (m *Metrics) recordCall(ctx context.Context, op string, err error) {
	if m.hostCalls == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.hostCalls.Add(ctx, 1, metric.WithAttributes(
		attribute.String("op", op),
		attribute.String("outcome", outcome),
	))
}

func (m *Metrics) recordRetry(ctx context.Context, op string) {
	if m.hostRetries != nil {
		m.hostRetries.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op)))
	}
}

package generation

import (
	"context"
	"time"

	"github.com/flapjackhq/codegen/internal/logging"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/flapjackhq/codegen/internal/generation"

// Metrics records generation run outcomes.
type Metrics struct {
	meter        metric.Meter
	logger       *logging.Logger
	runs         metric.Int64Counter
	runDuration  metric.Float64Histogram
	filesRemoved metric.Int64Counter
	filesWritten metric.Int64Counter
}

// NewMetrics creates generation metrics on meter. A nil meter uses the
// global provider.
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

	m.runs, err = m.meter.Int64Counter(
		"codegen.generation.runs",
		metric.WithDescription("Generation runs labeled by outcome (success, failure, locked)"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		m.logger.Warn(ctx, "failed to create runs counter", zap.Error(err))
	}

	m.runDuration, err = m.meter.Float64Histogram(
		"codegen.generation.duration",
		metric.WithDescription("Duration of generation runs including garbage collection"),
		metric.WithUnit("s"),
	)
	if err != nil {
		m.logger.Warn(ctx, "failed to create duration histogram", zap.Error(err))
	}

	m.filesRemoved, err = m.meter.Int64Counter(
		"codegen.generation.files_removed",
		metric.WithDescription("Owned files garbage-collected because the generator no longer produces them"),
		metric.WithUnit("{file}"),
	)
	if err != nil {
		m.logger.Warn(ctx, "failed to create files removed counter", zap.Error(err))
	}

	m.filesWritten, err = m.meter.Int64Counter(
		"codegen.generation.files_written",
		metric.WithDescription("Files reported written by the generator"),
		metric.WithUnit("{file}"),
	)
	if err != nil {
		m.logger.Warn(ctx, "failed to create files written counter", zap.Error(err))
	}
}

func (m *Metrics) recordRun(ctx context.Context, outcome string, d time.Duration, res *Result) {
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	if m.runs != nil {
		m.runs.Add(ctx, 1, attrs)
	}
	if m.runDuration != nil {
		m.runDuration.Record(ctx, d.Seconds(), attrs)
	}
	if res == nil {
		return
	}
	if m.filesRemoved != nil {
		m.filesRemoved.Add(ctx, int64(len(res.Removed)))
	}
	if m.filesWritten != nil {
		m.filesWritten.Add(ctx, int64(len(res.Written)))
	}
}

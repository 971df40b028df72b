// Package logging is the zap logger used across codegen.
//
// Lines go to stderr, JSON in CI and console text locally, and carry the run
// identifier, the repository and PR branch of the push task, and the trace
// and span ids when telemetry is on. GitHub tokens are masked before
// encoding. TraceLevel, below Debug, records per-file decisions.
//
//	cfg, err := logging.Configure("info", "json")
//	...
//	logger, err := logging.New(cfg, os.Stderr)
//	...
//	ctx = logging.WithRunID(ctx, runID)
//	ctx = logging.WithTask(ctx, "docs", "feat/automated-update-for-specs")
//	logger.Info(ctx, "pull request opened", zap.String("url", url))
//
// Tests use NewTestLogger and assert on what was recorded:
//
//	tl := logging.NewTestLogger()
//	o := push.NewOrchestrator(host, store, push.WithLogger(tl.Logger))
//	...
//	tl.AssertLogged(t, zapcore.ErrorLevel, "push task failed")
package logging

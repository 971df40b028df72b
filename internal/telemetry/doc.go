// Package telemetry sets up OpenTelemetry metric and trace export for
// codegen runs.
//
// The generation driver and the push orchestrator record their metrics on
// the global meter provider and their spans on the global tracer provider.
// New installs OTLP exporting providers there when telemetry is enabled;
// otherwise the globals stay no-op.
//
//	tel, err := telemetry.New(ctx, telemetry.FromConfig(cfg.Telemetry, version))
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(ctx)
//
// A CLI run is short lived, so Shutdown must be called to flush the last
// export interval.
//
// Tests use NewTestTelemetry, which records spans and metrics in memory.
package telemetry

package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/flapjackhq/codegen/internal/config"
	"github.com/flapjackhq/codegen/internal/errs"
	"github.com/flapjackhq/codegen/internal/extraction"
	"github.com/flapjackhq/codegen/internal/host"
	"github.com/flapjackhq/codegen/internal/logging"
	"github.com/flapjackhq/codegen/internal/ownership"
	"github.com/flapjackhq/codegen/internal/push"
	"github.com/flapjackhq/codegen/internal/tasks"
	"github.com/flapjackhq/codegen/internal/telemetry"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// app holds what every command needs: configuration, logger and telemetry.
type app struct {
	cfg       *config.Config
	logger    *logging.Logger
	telemetry *telemetry.Telemetry
}

// newApp loads the configuration and starts logging and telemetry. The
// returned context carries a fresh run ID.
func newApp(cmd *cobra.Command) (*app, context.Context, error) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = logging.WithRunID(ctx, uuid.NewString())

	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return nil, nil, errs.Configuration("load configuration", err)
	}
	cfg.Generation.Tags = append(cfg.Generation.Tags, tags...)

	logCfg, err := logging.Configure(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return nil, nil, errs.Configuration("configure logging", err)
	}
	logger, err := logging.New(logCfg, cmd.ErrOrStderr())
	if err != nil {
		return nil, nil, errs.Configuration("create logger", err)
	}

	tel, err := telemetry.New(ctx, telemetry.FromConfig(cfg.Telemetry, version))
	if err != nil {
		return nil, nil, errs.Configuration("start telemetry", err)
	}
	if h := tel.Health(); h.Degraded {
		logger.Warn(ctx, "telemetry degraded", zap.Error(h.Problem))
	}

	return &app{cfg: cfg, logger: logger, telemetry: tel}, ctx, nil
}

// close flushes telemetry and logs. It runs even when ctx was cancelled.
func (a *app) close(ctx context.Context) {
	if err := a.telemetry.Shutdown(context.WithoutCancel(ctx)); err != nil {
		a.logger.Warn(ctx, "telemetry shutdown failed", zap.Error(err))
	}
	_ = a.logger.Sync()
}

// patterns returns the active ownership patterns, inline or from the
// patterns file, with the configured tags applied.
func (a *app) patterns() (ownership.Patterns, error) {
	parser := ownership.NewParser(a.cfg.Generation.Tags...)
	if len(a.cfg.Generation.Patterns) > 0 {
		return parser.Parse(strings.NewReader(strings.Join(a.cfg.Generation.Patterns, "\n")))
	}
	return parser.ParseFile(a.cfg.Generation.PatternsFile)
}

// repositories loads the repository configurations, keeping only ids when
// any are given.
func (a *app) repositories(ids []string) (tasks.Configurations, error) {
	all, err := tasks.Load(a.cfg.Push.RepositoriesFile, a.cfg.GitHub.Owner)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return all, nil
	}

	selected := make(tasks.Configurations, 0, len(ids))
	for _, id := range ids {
		c, ok := all.Get(id)
		if !ok {
			return nil, errs.Configurationf("select repository", "unknown repository %q, have %s", id, strings.Join(all.IDs(), ", "))
		}
		selected = append(selected, c)
	}
	return selected, nil
}

func (a *app) store() *extraction.FSStore {
	return extraction.NewFSStore(a.cfg.Push.SourceRoot,
		extraction.WithSpecsDir(a.cfg.Push.SpecsDir),
		extraction.WithGuidesDir(a.cfg.Push.GuidesDir),
	)
}

// host returns the configured repository host.
func (a *app) host(ctx context.Context) (push.Host, error) {
	switch a.cfg.Push.Host {
	case config.HostLocal:
		return host.NewLocal(a.cfg.Push.LocalRoot, host.WithLocalLogger(a.logger))
	case config.HostGitHub:
		return host.NewGitHubFromConfig(ctx, a.cfg.GitHub, a.logger)
	default:
		return nil, fmt.Errorf("unknown push host %q", a.cfg.Push.Host)
	}
}

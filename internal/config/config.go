// Package config provides configuration loading for codegen.
//
// Configuration is read from a YAML file and overridden by environment
// variables. The ownership pattern list and the repository push tasks live in
// their own files; this package only records where they are.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"
)

// Config holds the complete codegen configuration.
type Config struct {
	Generation GenerationConfig `koanf:"generation"`
	Push       PushConfig       `koanf:"push"`
	GitHub     GitHubConfig     `koanf:"github"`
	Logging    LoggingConfig    `koanf:"logging"`
	Telemetry  TelemetryConfig  `koanf:"telemetry"`
}

// GenerationConfig configures the generation driver.
type GenerationConfig struct {
	Root         string          `koanf:"root"`          // monorepo root
	PatternsFile string          `koanf:"patterns_file"` // ownership pattern list
	Patterns     []string        `koanf:"patterns"`      // inline alternative to PatternsFile
	Tags         []string        `koanf:"tags"`          // enabled pattern condition tags
	LockFile     string          `koanf:"lock_file"`     // relative to Root
	SkipSnapshot bool            `koanf:"skip_snapshot"` // do not back up owned files before generating
	Generator    GeneratorConfig `koanf:"generator"`
}

// GeneratorConfig describes the external generator command.
type GeneratorConfig struct {
	Command string   `koanf:"command"`
	Args    []string `koanf:"args"`
	Timeout Duration `koanf:"timeout"`
}

// PushConfig configures the push orchestrator.
type PushConfig struct {
	RepositoriesFile string   `koanf:"repositories_file"`
	SourceRoot       string   `koanf:"source_root"` // tree holding specs/ and guides/, defaults to generation root
	SpecsDir         string   `koanf:"specs_dir"`   // bundled specs, relative to source_root
	GuidesDir        string   `koanf:"guides_dir"`  // guides, relative to source_root
	Host             string   `koanf:"host"`        // "github" or "local"
	LocalRoot        string   `koanf:"local_root"`  // directory of local clones for the local host
	Concurrency      int      `koanf:"concurrency"`
	TaskTimeout      Duration `koanf:"task_timeout"`
	CallTimeout      Duration `koanf:"call_timeout"`
	ReadRetries      int      `koanf:"read_retries"`
	DryRun           bool     `koanf:"dry_run"`
}

// GitHubConfig configures the GitHub repository host.
type GitHubConfig struct {
	Token             Secret  `koanf:"token"`
	APIURL            string  `koanf:"api_url"` // empty for github.com
	Owner             string  `koanf:"owner"`   // default owner for repository identifiers without one
	RequestsPerSecond float64 `koanf:"requests_per_second"`
}

// LoggingConfig selects the log level and encoder.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// TelemetryConfig controls OpenTelemetry metric and trace export.
type TelemetryConfig struct {
	Enabled    bool     `koanf:"enabled"`
	Endpoint   string   `koanf:"endpoint"`
	Protocol   string   `koanf:"protocol"` // "http/protobuf" or "grpc"
	Insecure   bool     `koanf:"insecure"`
	Interval   Duration `koanf:"interval"`
	SampleRate float64  `koanf:"sample_rate"`
}

const (
	HostGitHub = "github"
	HostLocal  = "local"
)

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	// Generation defaults
	if cfg.Generation.Root == "" {
		cfg.Generation.Root = "."
	}
	if cfg.Generation.PatternsFile == "" && len(cfg.Generation.Patterns) == 0 {
		cfg.Generation.PatternsFile = "config/generation.patterns"
	}
	if cfg.Generation.LockFile == "" {
		cfg.Generation.LockFile = ".codegen.lock"
	}
	if cfg.Generation.Generator.Timeout == 0 {
		cfg.Generation.Generator.Timeout = Duration(30 * time.Minute)
	}

	// Push defaults
	if cfg.Push.RepositoriesFile == "" {
		cfg.Push.RepositoriesFile = "config/repositories.yaml"
	}
	if cfg.Push.SourceRoot == "" {
		cfg.Push.SourceRoot = cfg.Generation.Root
	}
	if cfg.Push.SpecsDir == "" {
		cfg.Push.SpecsDir = "specs/bundled"
	}
	if cfg.Push.GuidesDir == "" {
		cfg.Push.GuidesDir = "guides"
	}
	if cfg.Push.Host == "" {
		cfg.Push.Host = HostGitHub
	}
	if cfg.Push.Concurrency == 0 {
		cfg.Push.Concurrency = 4
	}
	if cfg.Push.TaskTimeout == 0 {
		cfg.Push.TaskTimeout = Duration(5 * time.Minute)
	}
	if cfg.Push.CallTimeout == 0 {
		cfg.Push.CallTimeout = Duration(30 * time.Second)
	}
	if cfg.Push.ReadRetries == 0 {
		cfg.Push.ReadRetries = 3
	}

	// GitHub defaults
	if cfg.GitHub.Owner == "" {
		cfg.GitHub.Owner = "flapjackhq"
	}
	if cfg.GitHub.RequestsPerSecond == 0 {
		cfg.GitHub.RequestsPerSecond = 5
	}

	// Logging defaults
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "console"
	}

	// Telemetry defaults
	if cfg.Telemetry.Endpoint == "" {
		cfg.Telemetry.Endpoint = "localhost:4318"
	}
	if cfg.Telemetry.Protocol == "" {
		cfg.Telemetry.Protocol = "http/protobuf"
	}
	if cfg.Telemetry.Interval == 0 {
		cfg.Telemetry.Interval = Duration(15 * time.Second)
	}
	if cfg.Telemetry.SampleRate == 0 {
		cfg.Telemetry.SampleRate = 1.0
	}
}

// Validate validates the configuration.
//
// Returns an error if:
//   - both an inline pattern list and a pattern file are configured
//   - the push host is unknown, or local without a local root
//   - concurrency, timeouts or retry counts are not positive
func (c *Config) Validate() error {
	if c.Generation.PatternsFile != "" && len(c.Generation.Patterns) > 0 {
		return errors.New("generation.patterns and generation.patterns_file are mutually exclusive")
	}
	if c.Generation.Generator.Timeout <= 0 {
		return errors.New("generation.generator.timeout must be positive")
	}

	switch c.Push.Host {
	case HostGitHub:
	case HostLocal:
		if c.Push.LocalRoot == "" {
			return errors.New("push.local_root is required for the local host")
		}
	default:
		return fmt.Errorf("push.host must be %q or %q, got %q", HostGitHub, HostLocal, c.Push.Host)
	}
	if !fs.ValidPath(c.Push.SpecsDir) {
		return fmt.Errorf("push.specs_dir must be a slash path relative to push.source_root, got %q", c.Push.SpecsDir)
	}
	if !fs.ValidPath(c.Push.GuidesDir) {
		return fmt.Errorf("push.guides_dir must be a slash path relative to push.source_root, got %q", c.Push.GuidesDir)
	}
	if c.Push.Concurrency < 1 {
		return fmt.Errorf("push.concurrency must be >= 1, got %d", c.Push.Concurrency)
	}
	if c.Push.TaskTimeout <= 0 || c.Push.CallTimeout <= 0 {
		return errors.New("push timeouts must be positive")
	}
	if c.Push.ReadRetries < 0 {
		return fmt.Errorf("push.read_retries must be >= 0, got %d", c.Push.ReadRetries)
	}

	if c.GitHub.RequestsPerSecond < 0 {
		return errors.New("github.requests_per_second must not be negative")
	}

	if c.Telemetry.Enabled && c.Telemetry.Endpoint == "" {
		return errors.New("telemetry.endpoint is required when telemetry is enabled")
	}

	return nil
}

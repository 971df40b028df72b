package generation

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/flapjackhq/codegen/internal/errs"
	"github.com/flapjackhq/codegen/internal/logging"
	"github.com/flapjackhq/codegen/internal/ownership"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// DefaultLockFile is the lock file name created in the root during a run.
const DefaultLockFile = ".codegen.lock"

// Result describes a successful run. Paths are slash-separated, relative to
// the root and sorted.
type Result struct {
	RunID string
	// Written are the owned paths the generator wrote.
	Written []string
	// Removed are the owned paths deleted because they were not rewritten.
	Removed []string
	// Preserved are the hand-written paths left untouched.
	Preserved []string
	// Ignored are hand-written paths the generator reported writing. They
	// are neither tracked as written nor garbage-collected.
	Ignored  []string
	Duration time.Duration
}

// Driver runs the generator over one tree.
type Driver struct {
	root      string
	patterns  ownership.Patterns
	generator Generator
	lockFile  string
	snapshot  bool
	timeout   time.Duration
	logger    *logging.Logger
	metrics   *Metrics
	tracer    trace.Tracer
}

// Option configures a Driver.
type Option func(*Driver)

// WithLockFile sets the lock file name, relative to the root.
func WithLockFile(name string) Option {
	return func(d *Driver) { d.lockFile = name }
}

// WithoutSnapshot disables the pre-run copy of owned files. A failed run
// then still removes files the generator added but cannot undo overwrites.
func WithoutSnapshot() Option {
	return func(d *Driver) { d.snapshot = false }
}

// WithTimeout bounds the generator call.
func WithTimeout(timeout time.Duration) Option {
	return func(d *Driver) { d.timeout = timeout }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(d *Driver) { d.logger = l }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m *Metrics) Option {
	return func(d *Driver) { d.metrics = m }
}

// WithTracer sets the tracer for run spans.
func WithTracer(t trace.Tracer) Option {
	return func(d *Driver) { d.tracer = t }
}

// NewDriver creates a driver for the tree at root.
func NewDriver(root string, patterns ownership.Patterns, gen Generator, opts ...Option) (*Driver, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, errs.Configuration("resolve generation root", err, "path", root)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, errs.Configuration("open generation root", err, "path", root)
	}
	if !info.IsDir() {
		return nil, errs.Configurationf("open generation root", "%s is not a directory", root)
	}
	if patterns.Len() == 0 {
		return nil, errs.Configurationf("create driver", "no ownership patterns configured")
	}
	if gen == nil {
		return nil, errs.Configurationf("create driver", "no generator configured")
	}

	d := &Driver{
		root:      abs,
		patterns:  patterns,
		generator: gen,
		lockFile:  DefaultLockFile,
		snapshot:  true,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.logger == nil {
		d.logger = logging.NewNop()
	}
	if d.metrics == nil {
		d.metrics = NewMetrics(nil, d.logger)
	}
	if d.tracer == nil {
		d.tracer = otel.Tracer(instrumentationName)
	}
	if !filepath.IsLocal(d.lockFile) {
		return nil, errs.Configurationf("create driver", "lock file %q must be inside the root", d.lockFile)
	}
	return d, nil
}

// Root returns the absolute tree root.
func (d *Driver) Root() string {
	return d.root
}

// Plan classifies every file currently under the root.
func (d *Driver) Plan(ctx context.Context) (owned, preserved []string, err error) {
	files, err := d.walk(ctx)
	if err != nil {
		return nil, nil, err
	}
	owned, preserved = ownership.Partition(d.patterns, files)
	if d.logger.Enabled(logging.TraceLevel) {
		for _, p := range owned {
			d.logger.Trace(ctx, "path classified", zap.String("path", p), zap.Bool("owned", true))
		}
		for _, p := range preserved {
			d.logger.Trace(ctx, "path classified", zap.String("path", p), zap.Bool("owned", false))
		}
	}
	return owned, preserved, nil
}

// Run performs one generation transaction.
//
// On generator failure the tree is rolled back and the returned error is an
// *errs.Error of kind generation.
func (d *Driver) Run(ctx context.Context) (*Result, error) {
	start := time.Now()
	runID := logging.RunIDFromContext(ctx)
	if runID == "" {
		runID = uuid.NewString()
		ctx = logging.WithRunID(ctx, runID)
	}

	ctx, span := d.tracer.Start(ctx, "generation.run", trace.WithAttributes(
		attribute.String("run.id", runID),
		attribute.String("generation.root", d.root),
	))
	defer span.End()

	lock, err := acquireLock(ctx, d.root, filepath.Join(d.root, d.lockFile))
	if err != nil {
		d.metrics.recordRun(ctx, "locked", time.Since(start), nil)
		span.SetAttributes(attribute.String("outcome", "locked"))
		span.RecordError(err)
		span.SetStatus(codes.Error, "run lock held")
		return nil, errs.Generation("acquire run lock", err, "path", d.root)
	}
	defer func() {
		if err := lock.release(); err != nil {
			d.logger.Warn(ctx, "failed to release run lock", zap.Error(err))
		}
	}()

	res, err := d.run(ctx, runID)
	if err != nil {
		d.metrics.recordRun(ctx, "failure", time.Since(start), nil)
		span.SetAttributes(attribute.String("outcome", "failure"))
		span.RecordError(err)
		span.SetStatus(codes.Error, "generation failed")
		return nil, err
	}
	res.Duration = time.Since(start)
	d.metrics.recordRun(ctx, "success", res.Duration, res)
	span.SetAttributes(
		attribute.String("outcome", "success"),
		attribute.Int("files.written", len(res.Written)),
		attribute.Int("files.removed", len(res.Removed)),
		attribute.Int("files.preserved", len(res.Preserved)),
	)
	d.logger.Info(ctx, "generation complete",
		zap.Int("written", len(res.Written)),
		zap.Int("removed", len(res.Removed)),
		zap.Int("preserved", len(res.Preserved)),
		zap.Duration("duration", res.Duration),
	)
	return res, nil
}

func (d *Driver) run(ctx context.Context, runID string) (*Result, error) {
	owned, preserved, err := d.Plan(ctx)
	if err != nil {
		return nil, errs.Generation("classify tree", err, "path", d.root)
	}
	d.logger.Info(ctx, "generation started",
		zap.Int("owned", len(owned)),
		zap.Int("preserved", len(preserved)),
	)

	var snap *snapshot
	if d.snapshot {
		snap, err = takeSnapshot(d.root, owned)
		if err != nil {
			return nil, errs.Generation("snapshot owned files", err, "path", d.root)
		}
		defer func() {
			if err := snap.discard(); err != nil {
				d.logger.Warn(ctx, "failed to discard snapshot", zap.Error(err))
			}
		}()
	}

	genCtx := ctx
	if d.timeout > 0 {
		var cancel context.CancelFunc
		genCtx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	reported, genErr := d.generator.Generate(genCtx, slices.Clone(owned))
	var written, ignored []string
	if genErr == nil {
		written, ignored, genErr = d.checkWritten(reported)
	}
	if genErr != nil {
		d.logger.Error(ctx, "generator failed, rolling back", zap.Error(genErr))
		// A cancelled run must still restore the tree.
		if rbErr := d.rollback(context.WithoutCancel(ctx), owned, snap); rbErr != nil {
			genErr = errors.Join(genErr, fmt.Errorf("rollback: %w", rbErr))
		}
		return nil, errs.Generation("run generator", genErr, "path", d.root)
	}
	for _, p := range ignored {
		d.logger.Warn(ctx, "generator wrote a hand-written path", zap.String("path", p))
	}

	removed, err := d.collectGarbage(ctx, owned, written)
	if err != nil {
		return nil, errs.Generation("garbage collect", err, "path", d.root)
	}

	return &Result{
		RunID:     runID,
		Written:   written,
		Removed:   removed,
		Preserved: preserved,
		Ignored:   ignored,
	}, nil
}

// checkWritten normalises the generator's report. Every reported path must
// exist inside the root.
func (d *Driver) checkWritten(reported []string) (written, ignored []string, err error) {
	seen := make(map[string]bool, len(reported))
	for _, raw := range reported {
		p, err := d.relative(raw)
		if err != nil {
			return nil, nil, err
		}
		if seen[p] {
			continue
		}
		seen[p] = true

		info, err := os.Stat(filepath.Join(d.root, filepath.FromSlash(p)))
		if err != nil {
			return nil, nil, fmt.Errorf("reported path %s: %w", p, err)
		}
		if info.IsDir() {
			return nil, nil, fmt.Errorf("reported path %s is a directory", p)
		}
		if ownership.Classify(d.patterns, p) {
			written = append(written, p)
		} else {
			ignored = append(ignored, p)
		}
	}
	sort.Strings(written)
	sort.Strings(ignored)
	return written, ignored, nil
}

func (d *Driver) relative(raw string) (string, error) {
	p := raw
	if filepath.IsAbs(p) {
		rel, err := filepath.Rel(d.root, p)
		if err != nil {
			return "", fmt.Errorf("reported path %s: %w", raw, err)
		}
		p = rel
	}
	p = path.Clean(filepath.ToSlash(p))
	if p == "." || !filepath.IsLocal(filepath.FromSlash(p)) {
		return "", fmt.Errorf("reported path %s is outside the root", raw)
	}
	return p, nil
}

// collectGarbage deletes staged paths that were not rewritten.
func (d *Driver) collectGarbage(ctx context.Context, staged, written []string) ([]string, error) {
	keep := make(map[string]bool, len(written))
	for _, p := range written {
		keep[p] = true
	}

	var removed []string
	for _, p := range staged {
		if keep[p] {
			continue
		}
		err := os.Remove(filepath.Join(d.root, filepath.FromSlash(p)))
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return removed, fmt.Errorf("remove %s: %w", p, err)
		}
		d.logger.Debug(ctx, "removed stale generated file", zap.String("path", p))
		removed = append(removed, p)
	}
	d.pruneEmptyDirs(removed)
	return removed, nil
}

// rollback undoes a failed generator call: owned files that did not exist
// before are removed and the snapshot, if any, is restored.
func (d *Driver) rollback(ctx context.Context, before []string, snap *snapshot) error {
	existed := make(map[string]bool, len(before))
	for _, p := range before {
		existed[p] = true
	}

	files, err := d.walk(ctx)
	if err != nil {
		return err
	}
	var added []string
	for _, p := range files {
		if existed[p] || !ownership.Classify(d.patterns, p) {
			continue
		}
		if err := os.Remove(filepath.Join(d.root, filepath.FromSlash(p))); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("remove %s: %w", p, err)
		}
		added = append(added, p)
	}
	d.pruneEmptyDirs(added)

	if snap == nil {
		if len(before) > 0 {
			d.logger.Warn(ctx, "snapshot disabled, overwritten owned files were not restored")
		}
		return nil
	}
	return snap.restore()
}

// pruneEmptyDirs removes directories emptied by deleting files, deepest
// first, never the root itself.
func (d *Driver) pruneEmptyDirs(files []string) {
	dirs := make(map[string]bool)
	for _, p := range files {
		for dir := path.Dir(p); dir != "."; dir = path.Dir(dir) {
			dirs[dir] = true
		}
	}
	ordered := make([]string, 0, len(dirs))
	for dir := range dirs {
		ordered = append(ordered, dir)
	}
	sort.Slice(ordered, func(i, j int) bool {
		di, dj := strings.Count(ordered[i], "/"), strings.Count(ordered[j], "/")
		if di != dj {
			return di > dj
		}
		return ordered[i] < ordered[j]
	})
	for _, dir := range ordered {
		// Fails on non-empty directories, which is what we want.
		_ = os.Remove(filepath.Join(d.root, filepath.FromSlash(dir)))
	}
}

// walk lists every file under the root as sorted slash paths, skipping VCS
// metadata and the lock file.
func (d *Driver) walk(ctx context.Context) ([]string, error) {
	var files []string
	err := filepath.WalkDir(d.root, func(p string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(d.root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if entry.IsDir() {
			if rel != "." && entry.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		if rel == filepath.ToSlash(d.lockFile) {
			return nil
		}
		files = append(files, rel)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", d.root, err)
	}
	sort.Strings(files)
	return files, nil
}

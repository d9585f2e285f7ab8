package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/backmassage/metascrub/internal/backup"
	"github.com/backmassage/metascrub/internal/check"
	"github.com/backmassage/metascrub/internal/classify"
	"github.com/backmassage/metascrub/internal/cleaner"
	"github.com/backmassage/metascrub/internal/config"
	"github.com/backmassage/metascrub/internal/metrics"
	"github.com/backmassage/metascrub/internal/planner"
	"github.com/backmassage/metascrub/internal/runner"
	"github.com/backmassage/metascrub/internal/timestamp"
)

// Env holds the run-wide collaborators built before the run starts.
type Env struct {
	Runner  runner.Runner
	Caps    check.Capabilities
	Metrics *metrics.Metrics // Optional.
}

// pipeline is the per-run state shared by workers.
type pipeline struct {
	cfg      *config.Config
	caps     check.Capabilities
	planOpts planner.Options
	engine   cleaner.Cleaner
	backups  *backup.Manager // nil unless backups are taken.
	metrics  *metrics.Metrics
	stats    *Collector
	log      Logger

	total     int
	done      atomic.Int64
	cancelled atomic.Bool // A running file was stopped by cancellation.
}

// Run discovers every file under cfg.Root, cleans them on cfg.Workers
// workers, and returns the aggregate report. Only run-level problems (root
// unusable, backup root or ledger cannot be created) are returned as errors;
// per-file problems become outcomes. Cancelling ctx stops new files from
// starting and marks the report Interrupted.
func Run(ctx context.Context, cfg *config.Config, env Env, log Logger) (*RunReport, error) {
	start := time.Now()

	root, err := resolveRoot(cfg.Root)
	if err != nil {
		return nil, err
	}

	p := &pipeline{
		cfg:      cfg,
		caps:     env.Caps,
		planOpts: planner.Options{ReencodeVideos: cfg.ReencodeVideos},
		metrics:  env.Metrics,
		log:      log,
	}
	p.engine = cleaner.NewEngine(env.Runner, cleaner.Options{
		ToolTimeout:      cfg.ToolTimeout,
		TranscodeTimeout: cfg.TranscodeTimeout,
	}, log)

	walkOpts := WalkOptions{SkipDirs: cfg.SkipDirs}
	if cfg.BackupDir != "" {
		if abs, err := filepath.Abs(cfg.BackupDir); err == nil {
			walkOpts.SkipPaths = append(walkOpts.SkipPaths, abs)
		}
	}

	runID := uuid.NewString()
	var backupRoot string
	if cfg.Backup && !cfg.DryRun {
		mgr, err := openBackups(ctx, cfg, root, start, log)
		if err != nil {
			return nil, err
		}
		defer mgr.Close()
		p.backups = mgr
		runID = mgr.RunID()
		backupRoot = mgr.RunRoot()
		walkOpts.SkipPaths = append(walkOpts.SkipPaths, filepath.Dir(backupRoot))
		log.Info("Backups: %s", backupRoot)
	}

	entries, err := Discover(ctx, root, walkOpts, log)
	if err != nil {
		if ctx.Err() != nil {
			p.stats = NewCollector(runID, cfg.DryRun, start)
			return p.stats.Finish(0, true, backupRoot), nil
		}
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}
	p.total = len(entries)
	p.stats = NewCollector(runID, cfg.DryRun, start)

	if cfg.DryRun {
		log.Info("Dry run: %d files found, nothing will be modified", len(entries))
	} else {
		log.Info("Found %d files", len(entries))
	}

	interrupted := p.runWorkers(ctx, entries)
	if interrupted {
		log.Warn("Interrupted; report covers the files that finished")
	}
	return p.stats.Finish(len(entries), interrupted, backupRoot), nil
}

// resolveRoot returns the absolute, symlink-resolved root directory.
func resolveRoot(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", path, err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", fmt.Errorf("root %s: %w", path, err)
	}
	fi, err := os.Stat(resolved)
	if err != nil {
		return "", fmt.Errorf("root %s: %w", path, err)
	}
	if !fi.IsDir() {
		return "", fmt.Errorf("root %s is not a directory", path)
	}
	return resolved, nil
}

// openBackups creates the backup directory and this run's manifest.
func openBackups(ctx context.Context, cfg *config.Config, root string, start time.Time, log Logger) (*backup.Manager, error) {
	dir, err := filepath.Abs(cfg.BackupDir)
	if err != nil {
		return nil, fmt.Errorf("backup directory: %w", err)
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create backup directory: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(dir); err == nil {
		dir = resolved
	}
	if err := cfg.ValidatePaths(root, dir); err != nil {
		return nil, err
	}
	return backup.NewManager(ctx, dir, root, start, log)
}

// runWorkers feeds entries to the pool and waits for it to drain. Reports
// whether ctx was cancelled before every entry finished.
func (p *pipeline) runWorkers(ctx context.Context, entries []Entry) bool {
	workers := p.cfg.Workers
	if workers < 1 {
		workers = 1
	}
	jobs := make(chan Entry)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for e := range jobs {
				p.handle(ctx, e)
			}
		}()
	}

	sent := 0
feed:
	for _, e := range entries {
		select {
		case <-ctx.Done():
			break feed
		case jobs <- e:
			sent++
		}
	}
	close(jobs)
	wg.Wait()

	return ctx.Err() != nil && (sent < len(entries) || p.cancelled.Load())
}

// handle runs one file through the pipeline and records its outcome.
func (p *pipeline) handle(ctx context.Context, e Entry) {
	started := time.Now()
	o := p.process(ctx, e)
	if ctx.Err() != nil && o.Status == cleaner.Failed && errors.Is(o.Err, context.Canceled) {
		o = cancelledOutcome(o)
		p.cancelled.Store(true)
	}
	elapsed := time.Since(started)

	p.stats.Add(o)
	if p.metrics != nil {
		p.metrics.RecordOutcome(o, elapsed)
	}
	n := p.done.Add(1)
	p.logOutcome(int(n), o, elapsed)
}

// process is the per-file state machine: classify, plan, back up, clean,
// normalize timestamps. It returns exactly one outcome.
func (p *pipeline) process(ctx context.Context, e Entry) cleaner.Outcome {
	task, err := classify.Classify(e.Path, e.RelPath, e.Size)
	if err != nil {
		return cleaner.Fail(task, cleaner.StrategyNone,
			&cleaner.Error{Kind: cleaner.IOError, Op: "classify", Path: e.Path, Err: err})
	}

	plan := planner.BuildPlan(task, p.caps, p.planOpts)
	if p.cfg.DryRun {
		return plan.Project()
	}
	if !plan.Runnable() {
		return plan.Blocked()
	}

	if p.backups != nil {
		if _, err := p.backups.Backup(ctx, task.Path, task.RelPath); err != nil {
			o := cleaner.Fail(task, plan.Strategy,
				&cleaner.Error{Kind: cleaner.BackupFailure, Op: "backup", Path: task.Path, Err: err})
			o.Tier = cleaner.TierNone
			return o
		}
	}

	o := p.engine.Clean(ctx, plan.Job())
	if len(plan.Notes) > 0 {
		o.Notes = append(append([]string(nil), plan.Notes...), o.Notes...)
	}

	if p.cfg.NormalizeTime && (o.Status == cleaner.Cleaned || o.Status == cleaner.PartiallyCleaned) {
		if err := timestamp.Normalize(task.Path, p.log); err != nil {
			p.log.Warn("Timestamps not normalized for %s: %v", task.RelPath, err)
			o.Notes = append(o.Notes, "timestamps not normalized: "+err.Error())
		}
	}
	return o
}

// cancelledOutcome turns a failure caused by cancellation into a skip; the
// original is untouched because cleaners only replace it on success.
func cancelledOutcome(o cleaner.Outcome) cleaner.Outcome {
	return cleaner.Outcome{
		Task:        o.Task,
		Status:      cleaner.Skipped,
		Strategy:    o.Strategy,
		BytesBefore: o.Task.Size,
		BytesAfter:  o.Task.Size,
		Notes:       []string{"interrupted before completion"},
	}
}

func (p *pipeline) logOutcome(n int, o cleaner.Outcome, elapsed time.Duration) {
	prefix := fmt.Sprintf("[%d/%d] %s", n, p.total, o.Task.RelPath)
	switch o.Status {
	case cleaner.Cleaned, cleaner.PartiallyCleaned:
		verb := "Cleaned"
		if o.Projected {
			verb = "[DRY] Would clean"
		} else if o.Status == cleaner.PartiallyCleaned {
			verb = "Partially cleaned"
		}
		p.log.Success("%s: %s with %s (%s tier) in %s", prefix, verb, o.Strategy, o.Tier, elapsed.Round(time.Millisecond))
	case cleaner.Skipped:
		p.log.Debug("%s: skipped (%s)", prefix, o.Task.Category)
	default:
		p.log.Error("%s: %v [%s]", prefix, o.Err, o.Kind())
	}
	for _, note := range o.Notes {
		p.log.Debug("  %s", note)
	}
}

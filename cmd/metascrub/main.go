// Command metascrub is the CLI entrypoint for the metascrub metadata cleaner.
//
// It parses flags and the config file, then either reports tool availability
// (--check), restores a backup run (--restore), or cleans a directory tree in
// place and prints a summary.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/backmassage/metascrub/internal/backup"
	"github.com/backmassage/metascrub/internal/check"
	"github.com/backmassage/metascrub/internal/config"
	"github.com/backmassage/metascrub/internal/display"
	"github.com/backmassage/metascrub/internal/logging"
	"github.com/backmassage/metascrub/internal/metrics"
	"github.com/backmassage/metascrub/internal/pipeline"
	"github.com/backmassage/metascrub/internal/runner"
)

// version and commit are injected at build time via -ldflags.
var (
	version = "1.0.0"
	commit  = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	// Phase 1: Bootstrap. The logger doesn't exist yet, so errors go to stderr.
	cfg := config.DefaultConfig()
	if err := config.ParseFlags(&cfg, version, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "metascrub: %v\n", err)
		return pipeline.ExitFailures
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "metascrub: %v\n", err)
		return pipeline.ExitFailures
	}

	log, err := logging.NewLogger(&cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "metascrub: %v\n", err)
		return pipeline.ExitFailures
	}
	defer log.Close()

	// Phase 2: Logger available.
	display.PrintBanner(os.Stdout)
	log.Info("=== metascrub v%s (%s) ===", version, commit)
	if cfg.ConfigFile != "" {
		log.Debug("Config: %s", cfg.ConfigFile)
	}
	if path := log.FilePath(); path != "" {
		log.Debug("Log file: %s", path)
	}

	// Phase 3: Signal handling. Cancelling the context stops dispatch; files
	// already being cleaned either finish or keep their original.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		if _, ok := <-sigCh; ok {
			log.Warn("Received interrupt, stopping after files in progress")
			cancel()
		}
	}()

	if cfg.RestoreFrom != "" {
		return restore(ctx, cfg.RestoreFrom, log)
	}

	m := metrics.New()
	exec := runner.New(cfg.MaxProcs, m.ObserveCommand)
	caps := check.Probe(ctx, exec)

	if cfg.CheckOnly {
		if !check.RunCheck(caps, log) {
			return pipeline.ExitFailures
		}
		return pipeline.ExitOK
	}

	log.Info("Root: %s", cfg.Root)
	if cfg.DryRun {
		log.Warn("DRY RUN: no files will be modified")
	}

	// Phase 4: Clean.
	report, err := pipeline.Run(ctx, &cfg, pipeline.Env{Runner: exec, Caps: caps, Metrics: m}, log)
	if err != nil {
		log.Error("%v", err)
		return pipeline.ExitFailures
	}
	pipeline.PrintSummary(os.Stdout, report, log, cfg.Verbose)

	if report.Interrupted {
		m.RunInterrupted.Set(1)
	}
	if cfg.MetricsFile != "" {
		if err := m.WriteTextfile(cfg.MetricsFile); err != nil {
			log.Warn("Could not write metrics to %s: %v", cfg.MetricsFile, err)
		} else {
			log.Debug("Metrics written to %s", cfg.MetricsFile)
		}
	}
	return report.ExitCode()
}

// restore puts back every original recorded in a backup run directory.
func restore(ctx context.Context, runRoot string, log *logging.Logger) int {
	log.Info("Restoring from %s", runRoot)
	res, err := backup.Restore(ctx, runRoot, log)
	if err != nil {
		log.Error("Restore failed: %v", err)
		if ctx.Err() != nil {
			return pipeline.ExitInterrupted
		}
		return pipeline.ExitFailures
	}
	log.Success("Restored %d file(s) under %s", res.Restored, res.Run.Root)
	if len(res.Failures) > 0 {
		log.Error("%d file(s) could not be restored:", len(res.Failures))
		for _, f := range res.Failures {
			log.Error("  %s: %v", f.Path, f.Err)
		}
		return pipeline.ExitFailures
	}
	return pipeline.ExitOK
}

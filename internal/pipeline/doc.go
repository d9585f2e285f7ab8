// Package pipeline drives one cleaning run: it walks the root, classifies and
// plans every file, backs up and cleans them on a bounded worker pool, and
// aggregates the outcomes into a RunReport.
//
// Files:
//   - walker.go: symlink-aware discovery with cycle and duplicate detection
//   - runner.go: Run, the worker pool and per-file processing
//   - stats.go: Collector, RunReport and exit codes
//   - summary.go: the end-of-run report
package pipeline

// Package planner decides, for each classified file, which cleaning strategy
// applies, the tier it achieves, and the single fallback it may use. The
// decision depends only on the file's category and format, the probed tool
// capabilities and the run options, so dry-run projections and real runs
// share it.
package planner

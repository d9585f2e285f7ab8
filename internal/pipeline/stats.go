package pipeline

import (
	"sort"
	"sync"
	"time"

	"github.com/backmassage/metascrub/internal/classify"
	"github.com/backmassage/metascrub/internal/cleaner"
)

// Exit statuses derived from a report.
const (
	ExitOK          = 0
	ExitFailures    = 1
	ExitInterrupted = 130
)

// Failure is one failed file in the report.
type Failure struct {
	Path   string
	Kind   cleaner.Kind
	Reason string
}

// RunReport is the aggregate result of a run.
type RunReport struct {
	RunID          string
	Projected      bool
	Counts         map[classify.Category]map[cleaner.Status]int
	Strategies     map[cleaner.Strategy]int
	BytesReclaimed int64
	Elapsed        time.Duration
	Failures       []Failure
	Interrupted    bool
	BackupRoot     string
	Discovered     int
	Outcomes       []cleaner.Outcome // In completion order; rendered at verbose level.
}

// Count returns the number of outcomes for category and status.
func (r *RunReport) Count(category classify.Category, status cleaner.Status) int {
	return r.Counts[category][status]
}

// Total returns the number of files with a status.
func (r *RunReport) Total(status cleaner.Status) int {
	n := 0
	for _, byStatus := range r.Counts {
		n += byStatus[status]
	}
	return n
}

// Processed returns the number of outcomes recorded.
func (r *RunReport) Processed() int {
	n := 0
	for _, s := range cleaner.Statuses {
		n += r.Total(s)
	}
	return n
}

// ExitCode is 0 without failures, 1 when any file failed, and 130 when an
// interrupted run had no failures.
func (r *RunReport) ExitCode() int {
	switch {
	case r.Total(cleaner.Failed) > 0:
		return ExitFailures
	case r.Interrupted:
		return ExitInterrupted
	}
	return ExitOK
}

// Collector accumulates outcomes from concurrent workers.
type Collector struct {
	mu     sync.Mutex
	start  time.Time
	report RunReport
}

// NewCollector starts the run clock.
func NewCollector(runID string, projected bool, start time.Time) *Collector {
	return &Collector{
		start: start,
		report: RunReport{
			RunID:      runID,
			Projected:  projected,
			Counts:     make(map[classify.Category]map[cleaner.Status]int),
			Strategies: make(map[cleaner.Strategy]int),
		},
	}
}

// Add records one outcome.
func (c *Collector) Add(o cleaner.Outcome) {
	c.mu.Lock()
	defer c.mu.Unlock()

	r := &c.report
	byStatus, ok := r.Counts[o.Task.Category]
	if !ok {
		byStatus = make(map[cleaner.Status]int)
		r.Counts[o.Task.Category] = byStatus
	}
	byStatus[o.Status]++
	if o.Strategy != cleaner.StrategyNone && o.Status != cleaner.Skipped {
		r.Strategies[o.Strategy]++
	}
	r.BytesReclaimed += o.Reclaimed()
	if o.Status == cleaner.Failed {
		reason := "unknown error"
		if o.Err != nil {
			reason = o.Err.Error()
		}
		r.Failures = append(r.Failures, Failure{Path: o.Task.Path, Kind: o.Kind(), Reason: reason})
	}
	r.Outcomes = append(r.Outcomes, o)
}

// Finish stamps the elapsed time and returns the report. Failures are
// sorted by path.
func (c *Collector) Finish(discovered int, interrupted bool, backupRoot string) *RunReport {
	c.mu.Lock()
	defer c.mu.Unlock()

	r := c.report
	r.Elapsed = time.Since(c.start)
	r.Discovered = discovered
	r.Interrupted = interrupted
	r.BackupRoot = backupRoot
	r.Failures = append([]Failure(nil), r.Failures...)
	sort.Slice(r.Failures, func(i, j int) bool { return r.Failures[i].Path < r.Failures[j].Path })
	return &r
}

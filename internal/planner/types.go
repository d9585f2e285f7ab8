package planner

import (
	"github.com/backmassage/metascrub/internal/classify"
	"github.com/backmassage/metascrub/internal/cleaner"
)

// Options are the run settings that influence planning.
type Options struct {
	ReencodeVideos bool
}

// Plan holds the complete set of decisions for cleaning a single file. It is
// produced by BuildPlan and consumed by the pipeline, which either runs it
// through a cleaner or projects its outcome for a dry run.
type Plan struct {
	Task     classify.FileTask
	Strategy cleaner.Strategy
	Fallback cleaner.Strategy // Tried once if Strategy fails; StrategyNone for no fallback.
	Tier     cleaner.Tier
	Status   cleaner.Status // Expected status when Strategy succeeds.

	// Blocker is set when the file cannot be cleaned in this run. An
	// UnsupportedFormat blocker skips the file; any other kind fails it.
	Blocker error

	Notes []string
}

// Runnable reports whether the plan should be handed to a cleaner.
func (p *Plan) Runnable() bool {
	return p.Blocker == nil && p.Strategy != cleaner.StrategyNone
}

// Job converts the plan into the cleaner's unit of work.
func (p *Plan) Job() cleaner.Job {
	return cleaner.Job{Task: p.Task, Strategy: p.Strategy, Fallback: p.Fallback, Tier: p.Tier}
}

// Blocked returns the outcome for a plan with a Blocker: Skipped for an
// unsupported format, Failed otherwise.
func (p *Plan) Blocked() cleaner.Outcome {
	var o cleaner.Outcome
	if cleaner.KindOf(p.Blocker) == cleaner.UnsupportedFormat {
		o = cleaner.Skip(p.Task, "unrecognized format")
		o.Err = p.Blocker
	} else {
		o = cleaner.Fail(p.Task, p.Strategy, p.Blocker)
	}
	o.Notes = append(o.Notes, p.Notes...)
	return o
}

// Project returns the outcome a real run would most likely record, without
// touching the file. Sizes are reported unchanged.
func (p *Plan) Project() cleaner.Outcome {
	if !p.Runnable() {
		o := p.Blocked()
		o.Projected = true
		return o
	}
	return cleaner.Outcome{
		Task:        p.Task,
		Status:      p.Status,
		Tier:        p.Tier,
		Strategy:    p.Strategy,
		BytesBefore: p.Task.Size,
		BytesAfter:  p.Task.Size,
		Notes:       p.Notes,
		Projected:   true,
	}
}

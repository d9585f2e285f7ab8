package cleaner

import (
	"context"
)

// DocumentCleaner removes author, revision and property metadata from PDF,
// OOXML and legacy Office files. Every path runs in-process.
type DocumentCleaner struct {
	log Logger
}

func (c *DocumentCleaner) Clean(ctx context.Context, job Job) Outcome {
	path := job.Task.Path
	var (
		after  int64
		err    error
		status = Cleaned
		notes  []string
	)
	switch job.Strategy {
	case StrategyPDF:
		after, err = rewrite(path, false, func(tmp string) error { return cleanPDF(path, tmp) })
		notes = append(notes, "pdf writer stamps its own Producer and dates into the new info dictionary")
	case StrategyOOXML:
		after, err = rewrite(path, false, func(tmp string) error { return cleanOOXML(path, tmp) })
	case StrategyOLE:
		after, err = rewrite(path, true, func(tmp string) error { return cleanOLE(tmp, job.Task.Format) })
		status = PartiallyCleaned
		notes = append(notes, oleResidue(job.Task.Format)...)
	default:
		err = Errorf(UnsupportedFormat, "document", path, "no document strategy %q", job.Strategy)
	}
	if err != nil {
		return Fail(job.Task, job.Strategy, ioError(string(job.Strategy), path, err))
	}
	c.log.Debug("Cleaned %s with %s", path, job.Strategy)
	return done(job, status, after, notes...)
}

package cleaner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/backmassage/metascrub/internal/classify"
	"github.com/backmassage/metascrub/internal/fsutil"
	"github.com/backmassage/metascrub/internal/runner"
)

// Logger is the logging surface cleaners need.
type Logger interface {
	Warn(string, ...interface{})
	Debug(string, ...interface{})
}

// Options carries the run-wide knobs cleaners read.
type Options struct {
	ToolTimeout      time.Duration // exiftool, ffprobe and audio remux.
	TranscodeTimeout time.Duration // Video remux and re-encode.
}

// Job is one planned cleaning: the strategy to apply to a task, the tier it
// achieves, and the single fallback allowed when it fails.
type Job struct {
	Task     classify.FileTask
	Strategy Strategy
	Fallback Strategy
	Tier     Tier
}

// Cleaner applies a Job to one file. Implementations never leave a
// half-written original: output is built in a sibling temp file and moved
// over the original only after it verifies.
type Cleaner interface {
	Clean(ctx context.Context, job Job) Outcome
}

// Engine routes jobs to the cleaner for their category.
type Engine struct {
	cleaners map[classify.Category]Cleaner
}

// NewEngine wires the four format cleaners around a shared runner.
func NewEngine(r runner.Runner, opts Options, log Logger) *Engine {
	return &Engine{cleaners: map[classify.Category]Cleaner{
		classify.Image:    &ImageCleaner{run: r, opts: opts, log: log},
		classify.Video:    &VideoCleaner{run: r, opts: opts, log: log},
		classify.Document: &DocumentCleaner{log: log},
		classify.Audio:    &AudioCleaner{run: r, opts: opts, log: log},
	}}
}

// Clean dispatches job. Unknown categories are skipped.
func (e *Engine) Clean(ctx context.Context, job Job) Outcome {
	c, ok := e.cleaners[job.Task.Category]
	if !ok || job.Strategy == StrategyNone {
		return Skip(job.Task, "unrecognized format")
	}
	if err := ctx.Err(); err != nil {
		return Fail(job.Task, job.Strategy, &Error{Kind: IOError, Op: "clean", Path: job.Task.Path, Err: err})
	}
	return c.Clean(ctx, job)
}

// rewrite builds the cleaned file in a sibling temp and, when fn succeeds,
// moves it over path. With seed the temp starts as a copy of path; otherwise
// it is empty for fn to fill. Returns the size of the new file.
func rewrite(path string, seed bool, fn func(tmp string) error) (int64, error) {
	var (
		tmp string
		err error
	)
	if seed {
		tmp, err = fsutil.CopyToTemp(path)
	} else {
		tmp, err = fsutil.TempSibling(path)
	}
	if err != nil {
		return 0, &Error{Kind: IOError, Op: "temp", Path: path, Err: err}
	}
	defer os.Remove(tmp)

	if err := fn(tmp); err != nil {
		return 0, err
	}
	fi, err := os.Stat(tmp)
	if err != nil {
		return 0, &Error{Kind: IOError, Op: "stat", Path: tmp, Err: err}
	}
	if fi.Size() == 0 {
		return 0, Errorf(VerificationFailure, "verify", path, "cleaned output is empty")
	}
	if err := fsutil.ReplaceFile(tmp, path); err != nil {
		return 0, &Error{Kind: IOError, Op: "replace", Path: path, Err: err}
	}
	return fi.Size(), nil
}

// done builds the success outcome for job.
func done(job Job, status Status, after int64, notes ...string) Outcome {
	return Outcome{
		Task:        job.Task,
		Status:      status,
		Tier:        job.Tier,
		Strategy:    job.Strategy,
		BytesBefore: job.Task.Size,
		BytesAfter:  after,
		Notes:       notes,
	}
}

// toolError converts a failed external invocation into a typed error.
func toolError(op, path string, res runner.Result) *Error {
	kind := IOError
	if errors.Is(res.Err, runner.ErrNotFound) {
		kind = ToolUnavailable
	}
	err := res.Err
	if tail := runner.Tail(res.Stderr, 1); len(tail) > 0 {
		err = fmt.Errorf("%w: %s", res.Err, tail[0])
	}
	return &Error{Kind: kind, Op: op, Path: path, Err: err}
}

// ioError wraps a library error as IOError unless it already carries a kind.
func ioError(op, path string, err error) error {
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return &Error{Kind: IOError, Op: op, Path: path, Err: err}
}

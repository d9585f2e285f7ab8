package cleaner

import (
	"context"
	"errors"
	"fmt"

	"github.com/backmassage/metascrub/internal/ffmpeg"
	"github.com/backmassage/metascrub/internal/probe"
	"github.com/backmassage/metascrub/internal/runner"
)

// VideoCleaner rewrites video containers through ffmpeg and verifies the
// result with ffprobe. A failed re-encode falls back to a remux exactly once.
type VideoCleaner struct {
	run  runner.Runner
	opts Options
	log  Logger
}

func (c *VideoCleaner) Clean(ctx context.Context, job Job) Outcome {
	task := job.Task
	src, err := probe.Probe(ctx, c.run, task.Path, c.opts.ToolTimeout)
	if err != nil {
		return Fail(task, job.Strategy, probeError(task.Path, err, IOError))
	}

	state := ffmpeg.NewFallbackState(job.Strategy == StrategyVideoReencode)
	for {
		strategy := StrategyVideoRemux
		if state.Mode == ffmpeg.ModeReencode {
			strategy = StrategyVideoReencode
		}
		after, err := rewrite(task.Path, false, func(tmp string) error {
			return c.transcode(ctx, task.Format, task.Path, tmp, state.Mode, src)
		})
		if err == nil {
			o := done(job, Cleaned, after)
			if state.FellBack {
				o.Strategy = StrategyVideoRemux
				o.Tier = TierReduced
				o.FellBack = true
				o.Notes = append(o.Notes, "re-encode failed ("+state.Reason+"); container remuxed instead")
			}
			return o
		}
		if ctx.Err() != nil || !state.Advance(err.Error()) {
			o := Fail(task, strategy, err)
			if state.FellBack {
				o.FellBack = true
				o.Notes = append(o.Notes, "re-encode failed ("+state.Reason+")")
			}
			return o
		}
		c.log.Warn("Re-encode of %s failed, falling back to remux: %v", task.Path, err)
	}
}

// transcode runs one ffmpeg pass into tmp and verifies the output.
func (c *VideoCleaner) transcode(ctx context.Context, format, in, tmp string, mode ffmpeg.Mode, src *probe.ProbeResult) error {
	var args []string
	if mode == ffmpeg.ModeReencode {
		var ok bool
		if args, ok = ffmpeg.ReencodeArgs(in, tmp, format); !ok {
			return Errorf(UnsupportedFormat, "reencode", in, "no encoder preset for %s: %w", format, ErrUnsupported)
		}
	} else {
		args = ffmpeg.RemuxArgs(in, tmp, format)
	}

	cmd := runner.Command{Name: "ffmpeg", Args: args, Timeout: c.opts.TranscodeTimeout}
	c.log.Debug("%s", cmd)
	res := c.run.Run(ctx, cmd)
	if !res.OK() {
		return ffmpegError(in, res)
	}

	out, err := probe.Probe(ctx, c.run, tmp, c.opts.ToolTimeout)
	if err != nil {
		return probeError(in, err, VerificationFailure)
	}
	if err := probe.Verify(src, out); err != nil {
		return &Error{Kind: VerificationFailure, Op: "verify", Path: in, Err: err}
	}
	return nil
}

func ffmpegError(path string, res runner.Result) *Error {
	if errors.Is(res.Err, runner.ErrNotFound) {
		return &Error{Kind: ToolUnavailable, Op: "ffmpeg", Path: path, Err: fmt.Errorf("%w: %v", ErrToolUnavailable, res.Err)}
	}
	kind := IOError
	problem := ffmpeg.Classify(res.Stderr)
	if problem == ffmpeg.ProblemEncoderMissing {
		kind = ToolUnavailable
	}
	err := fmt.Errorf("%s: %w", problem, res.Err)
	if line := ffmpeg.Summary(res.Stderr); line != "" {
		err = fmt.Errorf("%s: %s: %w", problem, line, res.Err)
	}
	return &Error{Kind: kind, Op: "ffmpeg", Path: path, Err: err}
}

func probeError(path string, err error, kind Kind) *Error {
	if errors.Is(err, runner.ErrNotFound) {
		kind = ToolUnavailable
	}
	return &Error{Kind: kind, Op: "ffprobe", Path: path, Err: err}
}

// Package runner executes external tools (exiftool, ffmpeg, ffprobe) with a
// per-command timeout, captured output, and a process-wide limit on how many
// run at once. Cleaners depend on the Runner interface so tests can replace
// real processes with scripted results.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Sentinel errors carried in Result.Err.
var (
	ErrNotFound = errors.New("executable not found on PATH")
	ErrTimeout  = errors.New("command timed out")
)

// Command describes one external invocation.
type Command struct {
	Name    string
	Args    []string
	Timeout time.Duration // Zero means no timeout beyond the caller's context.
}

// String renders the command line for logs.
func (c Command) String() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

// Result holds the outcome of a single invocation. Err is nil only when the
// process started and exited with status 0 before its deadline.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	TimedOut bool
	Duration time.Duration
	Err      error
}

// OK reports whether the command succeeded.
func (r Result) OK() bool { return r.Err == nil }

// Runner is the capability cleaners and the probe need from the process layer.
type Runner interface {
	Run(ctx context.Context, cmd Command) Result
	LookPath(name string) (string, error)
}

// Observer is notified after every completed invocation.
type Observer func(cmd Command, res Result)

// Exec runs real processes through os/exec.
type Exec struct {
	sem      chan struct{}
	observer Observer
}

// New returns an Exec that allows at most maxProcs concurrent processes.
func New(maxProcs int, observer Observer) *Exec {
	if maxProcs < 1 {
		maxProcs = 1
	}
	return &Exec{sem: make(chan struct{}, maxProcs), observer: observer}
}

// LookPath resolves name on PATH.
func (e *Exec) LookPath(name string) (string, error) {
	p, err := exec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	return p, nil
}

// Run waits for a process slot, then runs cmd with stdout and stderr
// captured. Cancelling ctx or exceeding cmd.Timeout kills the process and,
// on Unix, every process it started.
func (e *Exec) Run(ctx context.Context, cmd Command) Result {
	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		return Result{ExitCode: -1, Err: ctx.Err()}
	}
	defer func() { <-e.sem }()

	runCtx := ctx
	if cmd.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, cmd.Timeout)
		defer cancel()
	}

	c := exec.CommandContext(runCtx, cmd.Name, cmd.Args...)
	killGroup(c)
	c.WaitDelay = 5 * time.Second
	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr

	start := time.Now()
	err := c.Run()
	res := Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	switch {
	case err == nil:
	case errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
		res.ExitCode = -1
		res.TimedOut = true
		res.Err = fmt.Errorf("%s after %s: %w", cmd.Name, cmd.Timeout, ErrTimeout)
	case errors.Is(err, exec.ErrNotFound):
		res.ExitCode = -1
		res.Err = fmt.Errorf("%s: %w", cmd.Name, ErrNotFound)
	default:
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
		} else {
			res.ExitCode = -1
		}
		if ctx.Err() != nil {
			res.Err = ctx.Err()
		} else {
			res.Err = fmt.Errorf("%s exited with status %d: %w", cmd.Name, res.ExitCode, err)
		}
	}

	if e.observer != nil {
		e.observer(cmd, res)
	}
	return res
}

// Tail returns the last n non-empty lines of s, for error reports.
func Tail(s string, n int) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	lines := strings.Split(s, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines
}

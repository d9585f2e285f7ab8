// Package runnertest provides a scripted Runner for tests of packages that
// shell out to external tools.
package runnertest

import (
	"context"
	"fmt"

	"github.com/stretchr/testify/mock"

	"github.com/backmassage/metascrub/internal/runner"
)

// Runner is a testify mock implementing runner.Runner.
type Runner struct {
	mock.Mock
}

// Run records the call and returns the scripted Result.
func (m *Runner) Run(ctx context.Context, cmd runner.Command) runner.Result {
	args := m.Called(ctx, cmd)
	return args.Get(0).(runner.Result)
}

// LookPath records the call and returns the scripted path and error.
func (m *Runner) LookPath(name string) (string, error) {
	args := m.Called(name)
	return args.String(0), args.Error(1)
}

// Tool matches a Command by executable name.
func Tool(name string) interface{} {
	return mock.MatchedBy(func(cmd runner.Command) bool { return cmd.Name == name })
}

// Fail returns a non-zero Result with stderr.
func Fail(code int, stderr string) runner.Result {
	return runner.Result{ExitCode: code, Stderr: stderr, Err: fmt.Errorf("exited with status %d", code)}
}

// OK returns a successful Result with stdout.
func OK(stdout string) runner.Result {
	return runner.Result{Stdout: stdout}
}

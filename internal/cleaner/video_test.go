package cleaner

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/backmassage/metascrub/internal/classify"
	"github.com/backmassage/metascrub/internal/logging"
	"github.com/backmassage/metascrub/internal/runner"
	"github.com/backmassage/metascrub/internal/runner/runnertest"
)

// Source recording with device and location tags.
const tagged = `{
  "streams": [
    {"index": 0, "codec_name": "h264", "codec_type": "video", "width": 1280, "height": 720,
     "disposition": {"attached_pic": 0}, "tags": {"creation_time": "2024-05-01T10:00:00Z"}},
    {"index": 1, "codec_name": "aac", "codec_type": "audio", "disposition": {"attached_pic": 0}}
  ],
  "format": {
    "nb_streams": 2, "format_name": "mov,mp4,m4a,3gp,3g2,mj2", "duration": "30.000000",
    "size": "4000000", "bit_rate": "1066666",
    "tags": {"location": "+48.8584+002.2945/", "com.apple.quicktime.make": "Apple"}
  }
}`

// Remuxed output with tags gone and the duration kept.
const untagged = `{
  "streams": [
    {"index": 0, "codec_name": "h264", "codec_type": "video", "width": 1280, "height": 720,
     "disposition": {"attached_pic": 0}, "tags": {"handler_name": "VideoHandler"}},
    {"index": 1, "codec_name": "aac", "codec_type": "audio", "disposition": {"attached_pic": 0}}
  ],
  "format": {
    "nb_streams": 2, "format_name": "mov,mp4,m4a,3gp,3g2,mj2", "duration": "29.980000",
    "size": "3990000", "bit_rate": "1064000", "tags": {"major_brand": "isom"}
  }
}`

func lastArg(cmd runner.Command) string {
	if len(cmd.Args) == 0 {
		return ""
	}
	return cmd.Args[len(cmd.Args)-1]
}

func hasArg(cmd runner.Command, want string) bool {
	for _, a := range cmd.Args {
		if a == want {
			return true
		}
	}
	return false
}

// videoRunner scripts ffprobe: the source probes as tagged, anything else as
// out.
func videoRunner(src, out string) *runnertest.Runner {
	r := &runnertest.Runner{}
	r.On("Run", mock.Anything, mock.MatchedBy(func(cmd runner.Command) bool {
		return cmd.Name == "ffprobe" && lastArg(cmd) == src
	})).Return(runnertest.OK(tagged))
	r.On("Run", mock.Anything, mock.MatchedBy(func(cmd runner.Command) bool {
		return cmd.Name == "ffprobe" && lastArg(cmd) != src
	})).Return(runnertest.OK(out))
	return r
}

// writesOutput makes a scripted ffmpeg call produce its output file.
func writesOutput(args mock.Arguments) {
	cmd := args.Get(1).(runner.Command)
	os.WriteFile(lastArg(cmd), []byte("remuxed container"), 0o600)
}

func videoTask(t *testing.T) (string, classify.FileTask) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "clip.mp4")
	writeFile(t, path, []byte("original container with tags"))
	return dir, fileTask(t, path, classify.Video, "mp4")
}

func newVideoCleaner(r runner.Runner) *VideoCleaner {
	return &VideoCleaner{run: r, log: logging.Discard()}
}

func TestVideo_Remux(t *testing.T) {
	dir, task := videoTask(t)
	r := videoRunner(task.Path, untagged)
	r.On("Run", mock.Anything, mock.MatchedBy(func(cmd runner.Command) bool {
		return cmd.Name == "ffmpeg" && hasArg(cmd, "copy") && hasArg(cmd, "-map_metadata")
	})).Run(writesOutput).Return(runnertest.OK("")).Once()

	o := newVideoCleaner(r).Clean(context.Background(),
		Job{Task: task, Strategy: StrategyVideoRemux, Tier: TierReduced})
	require.NoError(t, o.Err)
	assert.Equal(t, Cleaned, o.Status)
	assert.Equal(t, StrategyVideoRemux, o.Strategy)
	assert.Equal(t, TierReduced, o.Tier)
	assert.False(t, o.FellBack)

	got, err := os.ReadFile(task.Path)
	require.NoError(t, err)
	assert.Equal(t, "remuxed container", string(got))
	r.AssertExpectations(t)
	noTemps(t, dir)
}

func TestVideo_ReencodeFallsBackToRemux(t *testing.T) {
	dir, task := videoTask(t)
	r := videoRunner(task.Path, untagged)
	r.On("Run", mock.Anything, mock.MatchedBy(func(cmd runner.Command) bool {
		return cmd.Name == "ffmpeg" && !hasArg(cmd, "copy")
	})).Return(runnertest.Fail(1, "Error while opening encoder\nConversion failed!")).Once()
	r.On("Run", mock.Anything, mock.MatchedBy(func(cmd runner.Command) bool {
		return cmd.Name == "ffmpeg" && hasArg(cmd, "copy")
	})).Run(writesOutput).Return(runnertest.OK("")).Once()

	o := newVideoCleaner(r).Clean(context.Background(),
		Job{Task: task, Strategy: StrategyVideoReencode, Fallback: StrategyVideoRemux, Tier: TierHigh})
	require.NoError(t, o.Err)
	assert.Equal(t, Cleaned, o.Status)
	assert.True(t, o.FellBack)
	assert.Equal(t, StrategyVideoRemux, o.Strategy)
	assert.Equal(t, TierReduced, o.Tier)
	require.Len(t, o.Notes, 1)
	assert.Contains(t, o.Notes[0], "container remuxed instead")
	r.AssertExpectations(t)
	noTemps(t, dir)
}

func TestVideo_ReencodeTimeoutFallsBackToRemux(t *testing.T) {
	dir, task := videoTask(t)
	r := videoRunner(task.Path, untagged)
	r.On("Run", mock.Anything, mock.MatchedBy(func(cmd runner.Command) bool {
		return cmd.Name == "ffmpeg" && hasArg(cmd, "libx264")
	})).Return(runner.Result{ExitCode: -1, TimedOut: true, Err: fmt.Errorf("ffmpeg: %w", runner.ErrTimeout)}).Once()
	r.On("Run", mock.Anything, mock.MatchedBy(func(cmd runner.Command) bool {
		return cmd.Name == "ffmpeg" && hasArg(cmd, "copy")
	})).Run(writesOutput).Return(runnertest.OK("")).Once()

	var logs bytes.Buffer
	c := &VideoCleaner{run: r, log: logging.New(&logs, false)}
	o := c.Clean(context.Background(),
		Job{Task: task, Strategy: StrategyVideoReencode, Fallback: StrategyVideoRemux, Tier: TierHigh})
	require.NoError(t, o.Err)
	assert.Equal(t, Cleaned, o.Status)
	assert.Equal(t, TierReduced, o.Tier)
	assert.True(t, o.FellBack)
	assert.Contains(t, logs.String(), "falling back to remux")

	got, err := os.ReadFile(task.Path)
	require.NoError(t, err)
	assert.Equal(t, "remuxed container", string(got))
	r.AssertExpectations(t)
	noTemps(t, dir)
}

func TestVideo_FallbackHappensOnce(t *testing.T) {
	_, task := videoTask(t)
	r := videoRunner(task.Path, untagged)
	r.On("Run", mock.Anything, runnertest.Tool("ffmpeg")).
		Return(runnertest.Fail(1, "Invalid data found when processing input")).Twice()

	o := newVideoCleaner(r).Clean(context.Background(),
		Job{Task: task, Strategy: StrategyVideoReencode, Fallback: StrategyVideoRemux, Tier: TierHigh})
	assert.Equal(t, Failed, o.Status)
	assert.True(t, o.FellBack)
	assert.Equal(t, StrategyVideoRemux, o.Strategy)
	r.AssertNumberOfCalls(t, "Run", 3) // source probe + two ffmpeg passes

	got, _ := os.ReadFile(task.Path)
	assert.Equal(t, "original container with tags", string(got))
}

func TestVideo_LeakedTagsFailVerification(t *testing.T) {
	dir, task := videoTask(t)
	r := videoRunner(task.Path, tagged)
	r.On("Run", mock.Anything, runnertest.Tool("ffmpeg")).Run(writesOutput).Return(runnertest.OK("")).Once()

	o := newVideoCleaner(r).Clean(context.Background(),
		Job{Task: task, Strategy: StrategyVideoRemux, Tier: TierReduced})
	assert.Equal(t, Failed, o.Status)
	assert.Equal(t, VerificationFailure, o.Kind())
	assert.Contains(t, o.Err.Error(), "identifying tags remain")

	got, _ := os.ReadFile(task.Path)
	assert.Equal(t, "original container with tags", string(got), "original must be untouched")
	noTemps(t, dir)
}

func TestVideo_ProbeMissing(t *testing.T) {
	_, task := videoTask(t)
	r := &runnertest.Runner{}
	r.On("Run", mock.Anything, runnertest.Tool("ffprobe")).
		Return(runner.Result{ExitCode: -1, Err: runner.ErrNotFound}).Once()

	o := newVideoCleaner(r).Clean(context.Background(),
		Job{Task: task, Strategy: StrategyVideoRemux, Tier: TierReduced})
	assert.Equal(t, Failed, o.Status)
	assert.Equal(t, ToolUnavailable, o.Kind())
}

func TestFFmpegError(t *testing.T) {
	missing := ffmpegError("/a.mp4", runnertest.Fail(1, "Unknown encoder 'libx265'"))
	assert.Equal(t, ToolUnavailable, missing.Kind)

	corrupt := ffmpegError("/a.mp4", runnertest.Fail(1, "moov atom not found"))
	assert.Equal(t, IOError, corrupt.Kind)
}

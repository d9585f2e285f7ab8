package cleaner

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/backmassage/metascrub/internal/classify"
	"github.com/backmassage/metascrub/internal/logging"
	"github.com/backmassage/metascrub/internal/runner"
	"github.com/backmassage/metascrub/internal/runner/runnertest"
)

// --- Helper builders ---

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

func fileTask(t *testing.T, path string, category classify.Category, format string) classify.FileTask {
	t.Helper()
	fi, err := os.Stat(path)
	require.NoError(t, err)
	return classify.FileTask{
		Path:     path,
		RelPath:  filepath.Base(path),
		Category: category,
		Format:   format,
		Size:     fi.Size(),
	}
}

// noTemps fails when a cleaner left a sibling temp file behind.
func noTemps(t *testing.T, dir string) {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, ".*.metascrub-*"))
	require.NoError(t, err)
	assert.Empty(t, matches, "temp files left behind")
}

// --- Engine ---

func TestEngine_SkipsUnknown(t *testing.T) {
	e := NewEngine(&runnertest.Runner{}, Options{}, logging.Discard())
	task := classify.FileTask{Path: "/data/blob.bin", Category: classify.Unknown, Size: 10}

	o := e.Clean(context.Background(), Job{Task: task})
	assert.Equal(t, Skipped, o.Status)
	assert.Equal(t, UnsupportedFormat, o.Kind())
	assert.Equal(t, int64(10), o.BytesAfter)
}

func TestEngine_NoStrategySkips(t *testing.T) {
	e := NewEngine(&runnertest.Runner{}, Options{}, logging.Discard())
	task := classify.FileTask{Path: "/data/a.jpg", Category: classify.Image, Format: "jpeg"}

	o := e.Clean(context.Background(), Job{Task: task, Strategy: StrategyNone})
	assert.Equal(t, Skipped, o.Status)
}

func TestEngine_CancelledContext(t *testing.T) {
	e := NewEngine(&runnertest.Runner{}, Options{}, logging.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	task := classify.FileTask{Path: "/data/a.pdf", Category: classify.Document, Format: "pdf"}

	o := e.Clean(ctx, Job{Task: task, Strategy: StrategyPDF, Tier: TierHigh})
	assert.Equal(t, Failed, o.Status)
	assert.Equal(t, IOError, o.Kind())
	assert.ErrorIs(t, o.Err, context.Canceled)
}

// --- rewrite ---

func TestRewrite_ReplacesOnSuccess(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	writeFile(t, path, []byte("original"))

	n, err := rewrite(path, true, func(tmp string) error {
		got, err := os.ReadFile(tmp)
		require.NoError(t, err)
		assert.Equal(t, "original", string(got), "seeded temp starts as a copy")
		return os.WriteFile(tmp, []byte("clean"), 0o600)
	})
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "clean", string(got))
	noTemps(t, dir)
}

func TestRewrite_FailureLeavesOriginal(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	writeFile(t, path, []byte("original"))

	_, err := rewrite(path, false, func(tmp string) error {
		os.WriteFile(tmp, []byte("half"), 0o600)
		return errors.New("tool crashed")
	})
	require.Error(t, err)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "original", string(got))
	noTemps(t, dir)
}

func TestRewrite_EmptyOutputIsVerificationFailure(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	writeFile(t, path, []byte("original"))

	_, err := rewrite(path, false, func(string) error { return nil })
	assert.Equal(t, VerificationFailure, KindOf(err))

	got, _ := os.ReadFile(path)
	assert.Equal(t, "original", string(got))
}

// --- Error taxonomy ---

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, KindNone},
		{"typed", Errorf(EncryptedInput, "pdf", "/a.pdf", "locked"), EncryptedInput},
		{"wrapped typed", errors.Join(errors.New("ctx"), &Error{Kind: BackupFailure}), BackupFailure},
		{"encrypted sentinel", ErrEncrypted, EncryptedInput},
		{"tool sentinel", ErrToolUnavailable, ToolUnavailable},
		{"unsupported sentinel", ErrUnsupported, UnsupportedFormat},
		{"foreign", errors.New("disk on fire"), IOError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestToolError(t *testing.T) {
	missing := toolError("exiftool", "/a.jpg", runner.Result{ExitCode: -1, Err: runner.ErrNotFound})
	assert.Equal(t, ToolUnavailable, missing.Kind)

	failed := toolError("exiftool", "/a.jpg", runnertest.Fail(1, "Warning: x\nError: Not a valid JPEG"))
	assert.Equal(t, IOError, failed.Kind)
	assert.Contains(t, failed.Error(), "Not a valid JPEG")
}

func TestOutcome_Reclaimed(t *testing.T) {
	o := Outcome{Status: Cleaned, BytesBefore: 100, BytesAfter: 60}
	assert.Equal(t, int64(40), o.Reclaimed())
	o.Status = Failed
	assert.Equal(t, int64(0), o.Reclaimed())
	o = Outcome{Status: PartiallyCleaned, BytesBefore: 100, BytesAfter: 120}
	assert.Equal(t, int64(-20), o.Reclaimed())
}

package backup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/backmassage/metascrub/internal/fsutil"
)

// ErrChecksumMismatch reports a backup copy whose bytes no longer match the
// hash recorded when it was taken.
var ErrChecksumMismatch = errors.New("backup checksum mismatch")

// RestoreFailure is one record that could not be restored.
type RestoreFailure struct {
	Path string
	Err  error
}

// RestoreResult summarizes a Restore call.
type RestoreResult struct {
	Run      Run
	Restored int
	Failures []RestoreFailure
}

// Restore copies every backup recorded in runRoot's manifest back over its
// original. Each copy is checked against its recorded SHA-256 before and
// after it is written; the original is replaced atomically.
func Restore(ctx context.Context, runRoot string, log Logger) (RestoreResult, error) {
	var result RestoreResult
	manifest := filepath.Join(runRoot, ManifestName)
	if _, err := os.Stat(manifest); err != nil {
		return result, fmt.Errorf("no manifest in %s: %w", runRoot, err)
	}
	ledger, err := OpenLedger(ctx, manifest, log)
	if err != nil {
		return result, err
	}
	defer ledger.Close()

	run, err := ledger.Run(ctx)
	if err != nil {
		return result, err
	}
	result.Run = run
	recs, err := ledger.Records(ctx, run.ID)
	if err != nil {
		return result, fmt.Errorf("read manifest: %w", err)
	}

	for _, rec := range recs {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		// Copies are looked up relative to runRoot so a moved backup tree
		// still restores.
		rec.BackupPath = filepath.Join(runRoot, filepath.FromSlash(rec.RelPath))
		if err := restoreOne(rec); err != nil {
			log.Warn("Restore failed for %s: %v", rec.OriginalPath, err)
			result.Failures = append(result.Failures, RestoreFailure{Path: rec.OriginalPath, Err: err})
			continue
		}
		if err := ledger.MarkRestored(ctx, run.ID, rec.OriginalPath, time.Now().UTC()); err != nil {
			log.Warn("Could not record restore of %s: %v", rec.OriginalPath, err)
		}
		log.Debug("Restored %s", rec.OriginalPath)
		result.Restored++
	}
	return result, nil
}

func restoreOne(rec Record) error {
	sum, err := fsutil.HashFile(rec.BackupPath)
	if err != nil {
		return err
	}
	if sum != rec.SHA256 {
		return fmt.Errorf("%s: %w", rec.BackupPath, ErrChecksumMismatch)
	}

	if err := os.MkdirAll(filepath.Dir(rec.OriginalPath), 0o755); err != nil {
		return err
	}
	tmp, err := fsutil.TempSibling(rec.OriginalPath)
	if err != nil {
		return err
	}
	defer os.Remove(tmp)

	perm := os.FileMode(0o644)
	if fi, err := os.Stat(rec.BackupPath); err == nil {
		perm = fi.Mode().Perm()
	}
	n, written, err := fsutil.CopyFile(rec.BackupPath, tmp, perm)
	if err != nil {
		return err
	}
	if n != rec.Size || written != rec.SHA256 {
		return fmt.Errorf("%s: %w", tmp, ErrChecksumMismatch)
	}
	return fsutil.ReplaceFile(tmp, rec.OriginalPath)
}

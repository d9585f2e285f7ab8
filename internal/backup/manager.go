// Package backup keeps verified copies of files before they are cleaned.
// Every run gets its own timestamped root under the backup directory, holding
// the copies at their root-relative paths and a SQLite manifest that Restore
// reads to put originals back.
package backup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/backmassage/metascrub/internal/fsutil"
)

// runDirLayout names run roots after the run start time.
const runDirLayout = "20060102_150405"

// ErrSizeMismatch reports a copy whose length differs from its source.
var ErrSizeMismatch = errors.New("backup size does not match source")

// Logger is the logging surface the backup package needs.
type Logger interface {
	Debug(string, ...interface{})
	Warn(string, ...interface{})
	Error(string, ...interface{})
}

// Manager creates write-once backups for one run. All methods are
// goroutine-safe.
type Manager struct {
	runID   string
	root    string // Cleaning root the relative paths hang off.
	runRoot string
	ledger  *Ledger
	log     Logger

	mu      sync.Mutex
	entries map[string]*entry // original path → backup state
}

type entry struct {
	once sync.Once
	rec  Record
	err  error
}

// NewManager creates the run root under backupDir and its manifest.
func NewManager(ctx context.Context, backupDir, root string, started time.Time, log Logger) (*Manager, error) {
	runRoot, err := createRunDir(backupDir, started)
	if err != nil {
		return nil, fmt.Errorf("create backup root: %w", err)
	}
	ledger, err := OpenLedger(ctx, filepath.Join(runRoot, ManifestName), log)
	if err != nil {
		return nil, err
	}
	m := &Manager{
		runID:   uuid.NewString(),
		root:    root,
		runRoot: runRoot,
		ledger:  ledger,
		log:     log,
		entries: make(map[string]*entry),
	}
	run := Run{ID: m.runID, Root: root, BackupRoot: runRoot, StartedAt: started.UTC()}
	if err := ledger.StartRun(ctx, run); err != nil {
		ledger.Close()
		return nil, fmt.Errorf("record run: %w", err)
	}
	return m, nil
}

// createRunDir makes <backupDir>/<timestamp>, adding "-2", "-3", ... when a
// run in the same second already claimed the name. Existing directories are
// never reused.
func createRunDir(backupDir string, started time.Time) (string, error) {
	if err := os.MkdirAll(backupDir, 0o700); err != nil {
		return "", err
	}
	base := filepath.Join(backupDir, started.Format(runDirLayout))
	candidate := base
	for n := 2; ; n++ {
		err := os.Mkdir(candidate, 0o700)
		if err == nil {
			return candidate, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return "", err
		}
		candidate = fmt.Sprintf("%s-%d", base, n)
	}
}

// RunID is the identifier stored with every record of this run.
func (m *Manager) RunID() string { return m.runID }

// RunRoot is the directory holding this run's copies and manifest.
func (m *Manager) RunRoot() string { return m.runRoot }

// Backup copies path (at relPath under the cleaning root) into the run root,
// verifies its size and records it. Repeated calls for the same path return
// the first result without copying again.
func (m *Manager) Backup(ctx context.Context, path, relPath string) (Record, error) {
	m.mu.Lock()
	e, ok := m.entries[path]
	if !ok {
		e = &entry{}
		m.entries[path] = e
	}
	m.mu.Unlock()

	e.once.Do(func() {
		e.rec, e.err = m.copy(ctx, path, relPath)
	})
	return e.rec, e.err
}

func (m *Manager) copy(ctx context.Context, path, relPath string) (Record, error) {
	clean := filepath.Clean(relPath)
	if relPath == "" || filepath.IsAbs(relPath) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return Record{}, fmt.Errorf("backup %s: relative path %q escapes the run root", path, relPath)
	}
	if clean == ManifestName || strings.HasPrefix(clean, ManifestName+"-") {
		return Record{}, fmt.Errorf("backup %s: name collides with the run manifest", path)
	}
	src, err := os.Stat(path)
	if err != nil {
		return Record{}, fmt.Errorf("backup %s: %w", path, err)
	}

	dst := filepath.Join(m.runRoot, relPath)
	if err := os.MkdirAll(filepath.Dir(dst), 0o700); err != nil {
		return Record{}, fmt.Errorf("backup %s: %w", path, err)
	}
	n, sum, err := fsutil.CopyFile(path, dst, src.Mode().Perm())
	if err != nil {
		return Record{}, fmt.Errorf("backup %s: %w", path, err)
	}
	if n != src.Size() {
		return Record{}, fmt.Errorf("backup %s: copied %d of %d bytes: %w", path, n, src.Size(), ErrSizeMismatch)
	}
	if fi, err := os.Stat(dst); err != nil || fi.Size() != src.Size() {
		return Record{}, fmt.Errorf("backup %s: %w", path, ErrSizeMismatch)
	}

	rec := Record{
		RunID:        m.runID,
		OriginalPath: path,
		RelPath:      filepath.ToSlash(relPath),
		BackupPath:   dst,
		Size:         n,
		SHA256:       sum,
		CreatedAt:    time.Now().UTC(),
	}
	if err := m.ledger.Insert(ctx, rec); err != nil {
		return Record{}, fmt.Errorf("backup %s: record in ledger: %w", path, err)
	}
	m.log.Debug("Backed up %s -> %s (%d bytes)", path, dst, n)
	return rec, nil
}

// Close flushes and closes the manifest.
func (m *Manager) Close() error {
	return m.ledger.Close()
}

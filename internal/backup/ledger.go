package backup

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
	sqldblogger "github.com/simukti/sqldb-logger"
)

const (
	sqlDialect = "sqlite3"
	// ManifestName is the ledger file inside every run root.
	ManifestName = "manifest.db"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Run is the ledger row describing one backup run.
type Run struct {
	ID         string    `db:"id"`
	Root       string    `db:"root"`
	BackupRoot string    `db:"backup_root"`
	StartedAt  time.Time `db:"started_at"`
}

// Record is one verified backup copy.
type Record struct {
	RunID        string    `db:"run_id"`
	OriginalPath string    `db:"original_path"`
	RelPath      string    `db:"rel_path"`
	BackupPath   string    `db:"backup_path"`
	Size         int64     `db:"size"`
	SHA256       string    `db:"sha256"`
	CreatedAt    time.Time `db:"created_at"`
}

// Ledger is the SQLite manifest of a run root.
type Ledger struct {
	rawDb *sql.DB
	db    *sqlx.DB
	log   Logger
}

// OpenLedger opens (creating if needed) the manifest at path and brings its
// schema up to date.
func OpenLedger(ctx context.Context, path string, log Logger) (*Ledger, error) {
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=FULL&_busy_timeout=5000&_foreign_keys=on", path)
	plain, err := sql.Open(sqlDialect, dsn)
	if err != nil {
		return nil, fmt.Errorf("open ledger %s: %w", path, err)
	}
	rawDb := sqldblogger.OpenDriver(dsn, plain.Driver(), &sqlLogger{log: log})
	plain.Close()
	rawDb.SetMaxOpenConns(1)

	if err := rawDb.PingContext(ctx); err != nil {
		rawDb.Close()
		return nil, fmt.Errorf("open ledger %s: %w", path, err)
	}

	l := &Ledger{rawDb: rawDb, db: sqlx.NewDb(rawDb, sqlDialect), log: log}
	if err := l.migrate(); err != nil {
		rawDb.Close()
		return nil, err
	}
	return l, nil
}

// migrate applies the embedded goose migrations.
func (l *Ledger) migrate() error {
	goose.SetBaseFS(migrations)
	goose.SetLogger(&gooseLogger{log: l.log})
	if err := goose.SetDialect(sqlDialect); err != nil {
		return fmt.Errorf("failed to set dialect for ledger migration: %w", err)
	}
	if err := goose.Up(l.rawDb, "migrations"); err != nil {
		return fmt.Errorf("failed to migrate ledger: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// StartRun records the run row every backup refers to.
func (l *Ledger) StartRun(ctx context.Context, run Run) error {
	_, err := l.db.NamedExecContext(ctx,
		`INSERT INTO runs (id, root, backup_root, started_at) VALUES (:id, :root, :backup_root, :started_at)`, run)
	return err
}

// Run returns the run row stored in this manifest.
func (l *Ledger) Run(ctx context.Context) (Run, error) {
	var run Run
	err := l.db.GetContext(ctx, &run, `SELECT id, root, backup_root, started_at FROM runs ORDER BY started_at LIMIT 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return run, fmt.Errorf("ledger holds no run")
	}
	return run, err
}

// Insert stores rec.
func (l *Ledger) Insert(ctx context.Context, rec Record) error {
	_, err := l.db.NamedExecContext(ctx, `
		INSERT INTO backups (run_id, original_path, rel_path, backup_path, size, sha256, created_at)
		VALUES (:run_id, :original_path, :rel_path, :backup_path, :size, :sha256, :created_at)`, rec)
	return err
}

// Records returns every backup of runID in path order.
func (l *Ledger) Records(ctx context.Context, runID string) ([]Record, error) {
	var recs []Record
	err := l.db.SelectContext(ctx, &recs, `
		SELECT run_id, original_path, rel_path, backup_path, size, sha256, created_at
		FROM backups WHERE run_id = ? ORDER BY rel_path`, runID)
	return recs, err
}

// MarkRestored appends a restore entry for original.
func (l *Ledger) MarkRestored(ctx context.Context, runID, original string, at time.Time) error {
	return l.wrapTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO restores (run_id, original_path, restored_at) VALUES (?, ?, ?)`, runID, original, at)
		return err
	})
}

// wrapTx runs f in a transaction, committing only when f succeeds.
func (l *Ledger) wrapTx(ctx context.Context, f func(*sqlx.Tx) error) error {
	tx, err := l.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := f(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// sqlLogger forwards statement logs to the debug level.
type sqlLogger struct {
	log Logger
}

func (s *sqlLogger) Log(_ context.Context, level sqldblogger.Level, msg string, data map[string]interface{}) {
	switch level {
	case sqldblogger.LevelError:
		s.log.Warn("ledger %s - %v", msg, data)
	default:
		if query, ok := data["query"]; ok {
			s.log.Debug("ledger %s [%vms] -- %v", msg, data["duration"], query)
		} else {
			s.log.Debug("ledger %s [%vms]", msg, data["duration"])
		}
	}
}

// gooseLogger adapts Logger to goose's logger. Fatal variants log as errors
// and leave the caller to handle the returned error.
type gooseLogger struct {
	log Logger
}

func (g *gooseLogger) Fatal(v ...interface{})                 { g.log.Error("%s", fmt.Sprint(v...)) }
func (g *gooseLogger) Fatalf(format string, v ...interface{}) { g.log.Error(format, v...) }
func (g *gooseLogger) Print(v ...interface{})                 { g.log.Debug("%s", fmt.Sprint(v...)) }
func (g *gooseLogger) Println(v ...interface{})               { g.log.Debug("%s", fmt.Sprint(v...)) }
func (g *gooseLogger) Printf(format string, v ...interface{}) { g.log.Debug(format, v...) }

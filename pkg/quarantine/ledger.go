package quarantine

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"syscall"
	"time"

	_ "modernc.org/sqlite"

	"github.com/jingkaihe/pitfile/internal/errx"
)

// LedgerFile is the ledger database name inside the quarantine area.
const LedgerFile = "ledger.db"

const ledgerModule = "quarantine"

// timeLayout is fixed width so stored timestamps sort chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

type migration struct {
	Version int
	Name    string
	SQL     string
}

var ledgerMigrations = []migration{
	{
		Version: 1,
		Name:    "create_quarantined",
		SQL: `CREATE TABLE IF NOT EXISTS quarantined (
  digest TEXT PRIMARY KEY,
  path TEXT NOT NULL,
  destination TEXT NOT NULL,
  size INTEGER NOT NULL,
  domain TEXT NOT NULL,
  pattern TEXT NOT NULL,
  quarantined_at TEXT NOT NULL
)`,
	},
}

// Entry is one quarantined file.
type Entry struct {
	Digest        string
	Path          string
	Destination   string
	Size          int64
	Domain        string
	Pattern       string
	QuarantinedAt time.Time
}

// Ledger records quarantines in sqlite. Rows are keyed by digest, so a
// second quarantine of the same path replaces the first, as the file does.
type Ledger struct {
	db *sql.DB
}

// LedgerPath returns the ledger location for a quarantine area.
func LedgerPath(area string) string {
	return filepath.Join(area, LedgerFile)
}

// OpenLedger opens or creates the ledger at path and applies migrations.
func OpenLedger(path string) (*Ledger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, errx.Wrap(ErrOpenLedger, err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errx.Wrap(ErrOpenLedger, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := withInitLock(path, func() error {
		if err := configure(db); err != nil {
			return err
		}
		return migrate(db)
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Ledger{db: db}, nil
}

func configure(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA busy_timeout = 15000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA journal_mode = WAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return errx.With(ErrConfigureLedger, ": %s: %w", pragma, err)
		}
	}
	return nil
}

func migrate(db *sql.DB) error {
	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS schema_migrations (
  module TEXT NOT NULL,
  version INTEGER NOT NULL,
  name TEXT NOT NULL,
  applied_at TEXT NOT NULL,
  PRIMARY KEY (module, version)
)`); err != nil {
		return errx.Wrap(ErrMigrateLedger, err)
	}

	for _, m := range ledgerMigrations {
		var n int
		if err := db.QueryRow(
			`SELECT COUNT(*) FROM schema_migrations WHERE module = ? AND version = ?`,
			ledgerModule, m.Version,
		).Scan(&n); err != nil {
			return errx.Wrap(ErrMigrateLedger, err)
		}
		if n > 0 {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return errx.With(ErrMigrateLedger, ": begin %d %s: %w", m.Version, m.Name, err)
		}
		if _, err := tx.Exec(m.SQL); err != nil {
			_ = tx.Rollback()
			return errx.With(ErrMigrateLedger, ": %d %s: %w", m.Version, m.Name, err)
		}
		if _, err := tx.Exec(
			`INSERT INTO schema_migrations(module, version, name, applied_at) VALUES (?, ?, ?, ?)`,
			ledgerModule, m.Version, m.Name, time.Now().UTC().Format(time.RFC3339Nano),
		); err != nil {
			_ = tx.Rollback()
			return errx.With(ErrMigrateLedger, ": record %d %s: %w", m.Version, m.Name, err)
		}
		if err := tx.Commit(); err != nil {
			return errx.With(ErrMigrateLedger, ": commit %d %s: %w", m.Version, m.Name, err)
		}
	}
	return nil
}

// withInitLock serializes ledger setup between the mount and the CLI.
func withInitLock(path string, fn func() error) error {
	lockFile, err := os.OpenFile(path+".init.lock", os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return errx.Wrap(ErrAcquireLedgerLock, err)
	}
	defer lockFile.Close()

	if err := syscall.Flock(int(lockFile.Fd()), syscall.LOCK_EX); err != nil {
		return errx.Wrap(ErrAcquireLedgerLock, err)
	}

	fnErr := fn()

	if err := syscall.Flock(int(lockFile.Fd()), syscall.LOCK_UN); err != nil {
		return errors.Join(fnErr, errx.Wrap(ErrReleaseLedgerLock, err))
	}
	return fnErr
}

// Record inserts e, replacing any row with the same digest.
func (l *Ledger) Record(ctx context.Context, e Entry) error {
	_, err := l.db.ExecContext(ctx, `
INSERT OR REPLACE INTO quarantined(digest, path, destination, size, domain, pattern, quarantined_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.Digest, e.Path, e.Destination, e.Size, e.Domain, e.Pattern,
		e.QuarantinedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return errx.Wrap(ErrRecordLedger, err)
	}
	return nil
}

// List returns every entry, newest first.
func (l *Ledger) List(ctx context.Context) ([]Entry, error) {
	rows, err := l.db.QueryContext(ctx, `
SELECT digest, path, destination, size, domain, pattern, quarantined_at
FROM quarantined ORDER BY quarantined_at DESC, path`)
	if err != nil {
		return nil, errx.Wrap(ErrListLedger, err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e  Entry
			at string
		)
		if err := rows.Scan(&e.Digest, &e.Path, &e.Destination, &e.Size, &e.Domain, &e.Pattern, &at); err != nil {
			return nil, errx.Wrap(ErrListLedger, err)
		}
		e.QuarantinedAt, err = time.Parse(timeLayout, at)
		if err != nil {
			return nil, errx.Wrap(ErrListLedger, err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errx.Wrap(ErrListLedger, err)
	}
	return entries, nil
}

func (l *Ledger) Close() error {
	return l.db.Close()
}

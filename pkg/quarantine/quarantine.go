// Package quarantine moves offending files out of the repository and tells
// an operator about it.
package quarantine

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/jingkaihe/pitfile/internal/errx"
	"github.com/jingkaihe/pitfile/pkg/config"
	"github.com/jingkaihe/pitfile/pkg/notify"
	"github.com/jingkaihe/pitfile/pkg/policy"
)

// Subject is the notification subject line.
const Subject = "Quarantine advisor"

// AreaFor returns the quarantine area of repository: the repository path
// with trailing separators removed, plus ".quarantine".
func AreaFor(repository string) string {
	trimmed := strings.TrimRight(repository, string(filepath.Separator))
	if trimmed == "" {
		trimmed = string(filepath.Separator)
	}
	return trimmed + ".quarantine"
}

// Digest names the quarantined copy of relPath. It depends on the path
// only, so a later quarantine of the same path overwrites the earlier copy.
func Digest(relPath string) string {
	sum := sha1.Sum([]byte(relPath))
	return hex.EncodeToString(sum[:])
}

// Hit identifies the rule that condemned a file.
type Hit struct {
	Domain  policy.Domain
	Pattern string
}

// Record describes a completed quarantine.
type Record struct {
	Path        string
	Destination string
	Size        int64
	Excerpt     []byte
	// Replaced is set when an earlier copy of the same path was overwritten.
	Replaced bool
}

// Options configures a Manager.
type Options struct {
	Repository string
	Notifier   notify.Notifier
	// LedgerPath enables the ledger. It is opened on the first quarantine.
	LedgerPath string
	Logger     *slog.Logger
}

// Manager performs quarantines for one repository.
type Manager struct {
	area       string
	notifier   notify.Notifier
	ledgerPath string
	ledger     *Ledger
	log        *slog.Logger
	now        func() time.Time
}

func NewManager(opts Options) *Manager {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.NewLogNotifier(opts.Logger)
	}
	return &Manager{
		area:       AreaFor(opts.Repository),
		notifier:   opts.Notifier,
		ledgerPath: opts.LedgerPath,
		log:        opts.Logger.With("component", "quarantine"),
		now:        time.Now,
	}
}

// Area returns the quarantine directory.
func (m *Manager) Area() string { return m.area }

// Prepare creates the area with owner-only permissions, tightening an
// existing one, and checks that files can be written into it.
func (m *Manager) Prepare() error {
	if err := os.MkdirAll(m.area, 0o700); err != nil {
		return errx.Wrap(ErrCreateArea, err)
	}
	if err := os.Chmod(m.area, 0o700); err != nil {
		return errx.Wrap(ErrCreateArea, err)
	}
	f, err := os.CreateTemp(m.area, ".write-check-*")
	if err != nil {
		return errx.Wrap(ErrAreaNotWritable, err)
	}
	name := f.Name()
	f.Close()
	if err := os.Remove(name); err != nil {
		return errx.Wrap(ErrAreaNotWritable, err)
	}
	return nil
}

// Destination returns where relPath would be quarantined.
func (m *Manager) Destination(relPath string) string {
	return filepath.Join(m.area, Digest(relPath))
}

// Quarantine moves absPath into the area under the digest of relPath, then
// sends a notification with an excerpt capped at cfg.ExcerptSize. Only a
// failure to move the file is returned; notification and ledger failures
// are logged since the file is already out of reach by then.
func (m *Manager) Quarantine(ctx context.Context, cfg *config.RuntimeConfig, relPath, absPath string, hit Hit) (*Record, error) {
	if err := os.MkdirAll(m.area, 0o700); err != nil {
		return nil, errx.Wrap(ErrCreateArea, err)
	}
	dest := m.Destination(relPath)
	_, statErr := os.Lstat(dest)
	replaced := statErr == nil
	if err := move(absPath, dest); err != nil {
		return nil, errx.With(ErrRenameQuarantine, " %s: %w", relPath, err)
	}

	rec := &Record{Path: relPath, Destination: dest, Replaced: replaced}
	if info, err := os.Stat(dest); err == nil {
		rec.Size = info.Size()
	}
	m.log.Warn("file quarantined",
		"path", relPath,
		"destination", dest,
		"domain", hit.Domain,
		"pattern", hit.Pattern,
	)

	excerpt, err := readExcerpt(dest, cfg.ExcerptSize)
	if err != nil {
		m.log.Warn("read excerpt failed", "path", relPath, "error", err)
	}
	rec.Excerpt = excerpt

	if err := m.notifier.Notify(ctx, Compose(cfg, rec)); err != nil {
		m.log.Warn("notification failed", "path", relPath, "error", errx.Wrap(ErrNotify, err))
	}

	if ledger := m.openLedger(); ledger != nil {
		err := ledger.Record(ctx, Entry{
			Digest:        Digest(relPath),
			Path:          relPath,
			Destination:   dest,
			Size:          rec.Size,
			Domain:        string(hit.Domain),
			Pattern:       hit.Pattern,
			QuarantinedAt: m.now(),
		})
		if err != nil {
			m.log.Warn("ledger write failed", "path", relPath, "error", err)
		}
	}
	return rec, nil
}

func (m *Manager) openLedger() *Ledger {
	if m.ledger != nil || m.ledgerPath == "" {
		return m.ledger
	}
	ledger, err := OpenLedger(m.ledgerPath)
	if err != nil {
		m.log.Warn("ledger unavailable", "path", m.ledgerPath, "error", err)
		return nil
	}
	m.ledger = ledger
	return ledger
}

// Close closes the ledger if it was opened.
func (m *Manager) Close() error {
	if m.ledger == nil {
		return nil
	}
	err := m.ledger.Close()
	m.ledger = nil
	return err
}

// Compose builds the operator notification for rec.
func Compose(cfg *config.RuntimeConfig, rec *Record) notify.Message {
	var b strings.Builder
	fmt.Fprintf(&b, "A file was quarantined on %s.\n\n", cfg.Hostname)
	fmt.Fprintf(&b, "Original path: %s\n", rec.Path)
	fmt.Fprintf(&b, "Quarantined to: %s\n", rec.Destination)
	fmt.Fprintf(&b, "Excerpt (%d bytes):\n\n", len(rec.Excerpt))
	b.Write(rec.Excerpt)
	b.WriteString("\n")
	return notify.Message{
		From:    cfg.Sender(),
		To:      cfg.Recipient,
		Subject: Subject,
		Body:    b.String(),
	}
}

func readExcerpt(path string, limit int64) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errx.Wrap(ErrReadExcerpt, err)
	}
	defer f.Close()

	var r io.Reader = f
	if limit > 0 {
		r = io.LimitReader(f, limit)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return data, errx.Wrap(ErrReadExcerpt, err)
	}
	return data, nil
}

// move renames src to dst, copying and removing when they sit on
// different filesystems.
func move(src, dst string) error {
	err := os.Rename(src, dst)
	if err == nil || !errors.Is(err, syscall.EXDEV) {
		return err
	}
	if err := copyFile(src, dst); err != nil {
		return err
	}
	return os.Remove(src)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp := dst + ".partial"
	out, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dst)
}

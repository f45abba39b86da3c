// Package config owns the .pitfilerc policy document and the runtime
// snapshot built from it.
package config

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jingkaihe/pitfile/internal/errx"
	"github.com/jingkaihe/pitfile/pkg/policy"
	"github.com/jingkaihe/pitfile/pkg/vfs"
)

// RuntimeConfig is an immutable snapshot of the active configuration.
// Holders may keep using a snapshot after a newer one is installed.
type RuntimeConfig struct {
	Recipient   string
	ExcerptSize int64
	Hostname    string
	Policy      *policy.Policy
	LoadedAt    time.Time
}

// Sender is the notification sender address for this snapshot.
func (c *RuntimeConfig) Sender() string {
	return "pitfile@" + c.Hostname
}

// PathFor returns the .pitfilerc location inside repository.
func PathFor(repository string) string {
	return filepath.Join(repository, vfs.ReservedName)
}

// Options configures a Store.
type Options struct {
	Repository string
	Hostname   HostnameFunc
	Logger     *slog.Logger
}

// Store holds the active RuntimeConfig and swaps it on reload.
type Store struct {
	path     string
	hostname HostnameFunc
	log      *slog.Logger

	current atomic.Pointer[RuntimeConfig]
	// reloadMu serializes reloads; readers never take it.
	reloadMu sync.Mutex
}

func NewStore(opts Options) *Store {
	if opts.Hostname == nil {
		opts.Hostname = ResolveHostname
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	return &Store{
		path:     PathFor(opts.Repository),
		hostname: opts.Hostname,
		log:      opts.Logger.With("component", "config"),
	}
}

// Path returns the document location on the backing tree.
func (s *Store) Path() string { return s.path }

// Current returns the active snapshot, or nil before Load succeeds.
func (s *Store) Current() *RuntimeConfig { return s.current.Load() }

// Load materializes the default template if needed, then parses the
// document and installs the first snapshot. Callers treat failure as fatal.
func (s *Store) Load() error {
	s.reloadMu.Lock()
	defer s.reloadMu.Unlock()

	created, err := Materialize(s.path)
	if err != nil {
		return err
	}
	if created {
		s.log.Info("wrote default policy", "path", s.path)
	}

	cfg, err := LoadFile(s.path, s.hostname)
	if err != nil {
		return err
	}
	s.current.Store(cfg)
	s.log.Info("policy loaded",
		"rules", cfg.Policy.RuleCount(),
		"recipient", cfg.Recipient,
		"excerpt_size", cfg.ExcerptSize,
	)
	return nil
}

// Reload rebuilds the snapshot from disk and swaps it in. On failure the
// previous snapshot stays active and the error is logged and returned.
func (s *Store) Reload() error {
	s.reloadMu.Lock()
	defer s.reloadMu.Unlock()

	prev := s.current.Load()
	if prev == nil {
		return ErrNotLoaded
	}
	cfg, err := LoadFile(s.path, s.hostname)
	if err != nil {
		s.log.Error("policy reload failed, keeping previous policy",
			"path", s.path,
			"active_since", prev.LoadedAt.Format(time.RFC3339),
			"error", err,
		)
		return err
	}
	s.current.Store(cfg)
	s.log.Info("policy reloaded", "rules", cfg.Policy.RuleCount())
	return nil
}

// Materialize writes DefaultTemplate to path unless a file already exists.
func Materialize(path string) (bool, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return false, nil
		}
		return false, errx.Wrap(ErrMaterializeConfig, err)
	}
	if _, err := f.WriteString(DefaultTemplate); err != nil {
		f.Close()
		os.Remove(path)
		return false, errx.Wrap(ErrMaterializeConfig, err)
	}
	if err := f.Close(); err != nil {
		return false, errx.Wrap(ErrMaterializeConfig, err)
	}
	return true, nil
}

// LoadFile parses the document at path into a new snapshot.
func LoadFile(path string, hostname HostnameFunc) (*RuntimeConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errx.Wrap(ErrReadConfig, err)
	}
	doc, err := Parse(data)
	if err != nil {
		return nil, err
	}
	p, err := doc.Policy()
	if err != nil {
		return nil, err
	}
	if hostname == nil {
		hostname = ResolveHostname
	}
	return &RuntimeConfig{
		Recipient:   doc.Recipient(),
		ExcerptSize: doc.ExcerptSize(),
		Hostname:    hostname(),
		Policy:      p,
		LoadedAt:    time.Now(),
	}, nil
}

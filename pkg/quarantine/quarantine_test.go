package quarantine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jingkaihe/pitfile/pkg/config"
	"github.com/jingkaihe/pitfile/pkg/notify"
	"github.com/jingkaihe/pitfile/pkg/policy"
)

type recordingNotifier struct {
	msgs []notify.Message
	err  error
}

func (r *recordingNotifier) Notify(_ context.Context, msg notify.Message) error {
	r.msgs = append(r.msgs, msg)
	return r.err
}

func testConfig(excerpt int64) *config.RuntimeConfig {
	return &config.RuntimeConfig{
		Recipient:   "ops@example.org",
		ExcerptSize: excerpt,
		Hostname:    "web1.example.org",
		Policy:      &policy.Policy{},
	}
}

func newRepo(t *testing.T) string {
	t.Helper()
	repo := filepath.Join(t.TempDir(), "site")
	require.NoError(t, os.MkdirAll(filepath.Join(repo, "uploads"), 0o755))
	return repo
}

func TestAreaFor(t *testing.T) {
	tests := []struct {
		repo string
		want string
	}{
		{"/srv/www", "/srv/www.quarantine"},
		{"/srv/www/", "/srv/www.quarantine"},
		{"/srv/www///", "/srv/www.quarantine"},
		{"/", "/.quarantine"},
	}
	for _, tt := range tests {
		t.Run(tt.repo, func(t *testing.T) {
			assert.Equal(t, tt.want, AreaFor(tt.repo))
		})
	}
}

func TestDigest(t *testing.T) {
	assert.Equal(t, "eaf9b6742352e4f0db4b7f1cd19bd880b1822251", Digest("/uploads/shell.php"))
	assert.NotEqual(t, Digest("/a"), Digest("/b"))
}

func TestQuarantine_MovesAndNotifies(t *testing.T) {
	repo := newRepo(t)
	abs := filepath.Join(repo, "uploads", "shell.php")
	require.NoError(t, os.WriteFile(abs, []byte("<?php system($_GET['c']);"), 0o644))

	n := &recordingNotifier{}
	m := NewManager(Options{Repository: repo + "/", Notifier: n})

	rec, err := m.Quarantine(context.Background(), testConfig(5), "/uploads/shell.php", abs,
		Hit{Domain: policy.DomainContent, Pattern: `<\?php`})
	require.NoError(t, err)

	_, err = os.Stat(abs)
	assert.True(t, os.IsNotExist(err))

	dest := filepath.Join(repo+".quarantine", "eaf9b6742352e4f0db4b7f1cd19bd880b1822251")
	assert.Equal(t, dest, rec.Destination)
	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "<?php system($_GET['c']);", string(data))
	assert.Equal(t, int64(len(data)), rec.Size)

	info, err := os.Stat(m.Area())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o700), info.Mode().Perm())

	assert.Equal(t, []byte("<?php"), rec.Excerpt)
	require.Len(t, n.msgs, 1)
	msg := n.msgs[0]
	assert.Equal(t, "Quarantine advisor", msg.Subject)
	assert.Equal(t, "pitfile@web1.example.org", msg.From)
	assert.Equal(t, "ops@example.org", msg.To)
	assert.Contains(t, msg.Body, "Original path: /uploads/shell.php\n")
	assert.Contains(t, msg.Body, "Quarantined to: "+dest+"\n")
	assert.Contains(t, msg.Body, "Excerpt (5 bytes):\n\n<?php\n")
}

func TestQuarantine_ZeroExcerptReadsWholeFile(t *testing.T) {
	repo := newRepo(t)
	abs := filepath.Join(repo, "x.php")
	content := []byte("<?= 'hello' ?> and more")
	require.NoError(t, os.WriteFile(abs, content, 0o644))

	n := &recordingNotifier{}
	m := NewManager(Options{Repository: repo, Notifier: n})

	rec, err := m.Quarantine(context.Background(), testConfig(0), "/x.php", abs, Hit{})
	require.NoError(t, err)
	assert.Equal(t, content, rec.Excerpt)
	assert.Contains(t, n.msgs[0].Body, "Excerpt (23 bytes):")
}

func TestQuarantine_SamePathOverwritesEarlierCopy(t *testing.T) {
	repo := newRepo(t)
	abs := filepath.Join(repo, "x.php")
	m := NewManager(Options{Repository: repo, Notifier: &recordingNotifier{}})

	require.NoError(t, os.WriteFile(abs, []byte("first"), 0o644))
	first, err := m.Quarantine(context.Background(), testConfig(0), "/x.php", abs, Hit{})
	require.NoError(t, err)
	assert.False(t, first.Replaced)

	require.NoError(t, os.WriteFile(abs, []byte("second"), 0o644))
	rec, err := m.Quarantine(context.Background(), testConfig(0), "/x.php", abs, Hit{})
	require.NoError(t, err)

	assert.True(t, rec.Replaced)
	data, err := os.ReadFile(rec.Destination)
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))

	entries, err := os.ReadDir(m.Area())
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestQuarantine_RenameFailure(t *testing.T) {
	repo := newRepo(t)
	n := &recordingNotifier{}
	m := NewManager(Options{Repository: repo, Notifier: n})

	_, err := m.Quarantine(context.Background(), testConfig(0), "/gone.php", filepath.Join(repo, "gone.php"), Hit{})
	assert.ErrorIs(t, err, ErrRenameQuarantine)
	assert.Empty(t, n.msgs)
}

func TestQuarantine_NotifyFailureIsNotFatal(t *testing.T) {
	repo := newRepo(t)
	abs := filepath.Join(repo, "x.php")
	require.NoError(t, os.WriteFile(abs, []byte("<?php"), 0o644))

	n := &recordingNotifier{err: errors.New("relay down")}
	m := NewManager(Options{Repository: repo, Notifier: n})

	rec, err := m.Quarantine(context.Background(), testConfig(0), "/x.php", abs, Hit{})
	require.NoError(t, err)
	assert.FileExists(t, rec.Destination)
	assert.Len(t, n.msgs, 1)
}

func TestQuarantine_RecordsLedger(t *testing.T) {
	repo := newRepo(t)
	ledgerPath := LedgerPath(AreaFor(repo))
	m := NewManager(Options{Repository: repo, Notifier: &recordingNotifier{}, LedgerPath: ledgerPath})
	defer m.Close()
	assert.NoDirExists(t, m.Area())

	abs := filepath.Join(repo, "uploads", "shell.php")

	for _, body := range []string{"<?php one", "<?php two!"} {
		require.NoError(t, os.WriteFile(abs, []byte(body), 0o644))
		_, err := m.Quarantine(context.Background(), testConfig(0), "/uploads/shell.php", abs,
			Hit{Domain: policy.DomainPath, Pattern: "glob:/uploads/**"})
		require.NoError(t, err)
	}

	ledger, err := OpenLedger(ledgerPath)
	require.NoError(t, err)
	defer ledger.Close()

	entries, err := ledger.List(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	e := entries[0]
	assert.Equal(t, Digest("/uploads/shell.php"), e.Digest)
	assert.Equal(t, "/uploads/shell.php", e.Path)
	assert.Equal(t, m.Destination("/uploads/shell.php"), e.Destination)
	assert.Equal(t, int64(len("<?php two!")), e.Size)
	assert.Equal(t, "path", e.Domain)
	assert.Equal(t, "glob:/uploads/**", e.Pattern)
	assert.False(t, e.QuarantinedAt.IsZero())
}

func TestPrepare_CreatesOwnerOnlyArea(t *testing.T) {
	repo := newRepo(t)
	m := NewManager(Options{Repository: repo})
	assert.NoDirExists(t, m.Area())

	require.NoError(t, m.Prepare())
	info, err := os.Stat(m.Area())
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.Equal(t, os.FileMode(0o700), info.Mode().Perm())

	entries, err := os.ReadDir(m.Area())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestPrepare_TightensExistingArea(t *testing.T) {
	repo := newRepo(t)
	require.NoError(t, os.Mkdir(AreaFor(repo), 0o755))
	m := NewManager(Options{Repository: repo})

	require.NoError(t, m.Prepare())
	info, err := os.Stat(m.Area())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o700), info.Mode().Perm())
}

func TestPrepare_AreaBlockedByFile(t *testing.T) {
	repo := newRepo(t)
	require.NoError(t, os.WriteFile(AreaFor(repo), []byte("not a dir"), 0o644))
	m := NewManager(Options{Repository: repo})

	assert.ErrorIs(t, m.Prepare(), ErrCreateArea)
}

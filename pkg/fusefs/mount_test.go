package fusefs

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jingkaihe/pitfile/pkg/vfs"
)

func fuseAvailable(t *testing.T) {
	t.Helper()
	if _, err := os.Stat("/dev/fuse"); err != nil {
		t.Skip("skipping: /dev/fuse not available")
	}
}

type released struct {
	rel string
	abs string
}

type releaseLog struct {
	mu    sync.Mutex
	calls []released
}

func (l *releaseLog) add(r released) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, r)
}

func (l *releaseLog) has(r released) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, c := range l.calls {
		if c == r {
			return true
		}
	}
	return false
}

// testMount mounts a fresh repository and returns it with the mountpoint.
// Written files whose content contains "EVIL" are removed on release.
// The kernel sends release after close returns, so callers poll.
func testMount(t *testing.T) (repo, mnt string, calls *releaseLog) {
	t.Helper()
	fuseAvailable(t)

	root := t.TempDir()
	repo = filepath.Join(root, "repo")
	mnt = filepath.Join(root, "mnt")
	require.NoError(t, os.MkdirAll(repo, 0o755))
	require.NoError(t, os.MkdirAll(mnt, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(repo, vfs.ReservedName), []byte("runtime: {}\n"), 0o644))

	got := &releaseLog{}
	pt := vfs.NewPassthrough(vfs.Options{
		Repository: repo,
		OnRelease: func(rel, abs string) {
			got.add(released{rel: rel, abs: abs})
			if data, err := os.ReadFile(abs); err == nil && strings.Contains(string(data), "EVIL") {
				os.Remove(abs)
			}
		},
	})

	srv, err := Mount(Options{Mountpoint: mnt, Passthrough: pt})
	if err != nil {
		t.Skipf("skipping: mount failed: %v", err)
	}
	t.Cleanup(func() { _ = srv.Unmount() })
	return repo, mnt, got
}

func TestMountValidatesOptions(t *testing.T) {
	_, err := Mount(Options{})
	assert.ErrorIs(t, err, ErrMountpointRequired)

	_, err = Mount(Options{Mountpoint: t.TempDir()})
	assert.ErrorIs(t, err, ErrPassthroughRequired)
}

func TestMountHidesReservedDocument(t *testing.T) {
	repo, mnt, _ := testMount(t)
	require.NoError(t, os.WriteFile(filepath.Join(repo, "index.html"), []byte("hi"), 0o644))

	entries, err := os.ReadDir(mnt)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.Equal(t, []string{"index.html"}, names)

	_, err = os.Stat(filepath.Join(mnt, vfs.ReservedName))
	assert.True(t, errors.Is(err, os.ErrNotExist))

	_, err = os.ReadFile(filepath.Join(mnt, vfs.ReservedName))
	assert.True(t, errors.Is(err, os.ErrNotExist))

	err = os.WriteFile(filepath.Join(mnt, vfs.ReservedName), []byte("x"), 0o644)
	assert.ErrorIs(t, err, syscall.EROFS)

	data, err := os.ReadFile(filepath.Join(repo, vfs.ReservedName))
	require.NoError(t, err)
	assert.Equal(t, "runtime: {}\n", string(data))
}

func TestMountPassesThroughOperations(t *testing.T) {
	repo, mnt, calls := testMount(t)

	require.NoError(t, os.MkdirAll(filepath.Join(mnt, "a", "b"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(mnt, "a", "b", "f.txt"), []byte("hello"), 0o644))

	data, err := os.ReadFile(filepath.Join(repo, "a", "b", "f.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	want := released{rel: "/a/b/f.txt", abs: filepath.Join(repo, "a", "b", "f.txt")}
	assert.Eventually(t, func() bool { return calls.has(want) }, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, os.Rename(filepath.Join(mnt, "a", "b", "f.txt"), filepath.Join(mnt, "a", "g.txt")))
	assert.FileExists(t, filepath.Join(repo, "a", "g.txt"))

	require.NoError(t, os.Symlink("g.txt", filepath.Join(mnt, "a", "link")))
	target, err := os.Readlink(filepath.Join(mnt, "a", "link"))
	require.NoError(t, err)
	assert.Equal(t, "g.txt", target)

	require.NoError(t, os.Chmod(filepath.Join(mnt, "a", "g.txt"), 0o600))
	info, err := os.Stat(filepath.Join(repo, "a", "g.txt"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	require.NoError(t, os.Truncate(filepath.Join(mnt, "a", "g.txt"), 2))
	data, err = os.ReadFile(filepath.Join(mnt, "a", "g.txt"))
	require.NoError(t, err)
	assert.Equal(t, "he", string(data))

	require.NoError(t, os.Remove(filepath.Join(mnt, "a", "link")))
	require.NoError(t, os.Remove(filepath.Join(mnt, "a", "g.txt")))
	require.NoError(t, os.Remove(filepath.Join(mnt, "a", "b")))
	assert.NoDirExists(t, filepath.Join(repo, "a", "b"))
}

func TestMountFileDisappearsAfterRelease(t *testing.T) {
	repo, mnt, _ := testMount(t)

	require.NoError(t, os.WriteFile(filepath.Join(mnt, "shell.php"), []byte("EVIL"), 0o644))

	assert.Eventually(t, func() bool {
		_, err := os.Stat(filepath.Join(mnt, "shell.php"))
		return errors.Is(err, os.ErrNotExist)
	}, 5*time.Second, 10*time.Millisecond)
	assert.NoFileExists(t, filepath.Join(repo, "shell.php"))
}

func TestMountUnlinkedOpenFileDoesNotTouchRoot(t *testing.T) {
	repo, mnt, _ := testMount(t)
	before, err := os.Stat(repo)
	require.NoError(t, err)

	f, err := os.Create(filepath.Join(mnt, "tmp.txt"))
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, os.Remove(filepath.Join(mnt, "tmp.txt")))

	assert.Error(t, f.Chmod(0o700))
	assert.Error(t, f.Truncate(0))

	after, err := os.Stat(repo)
	require.NoError(t, err)
	assert.Equal(t, before.Mode(), after.Mode())
}

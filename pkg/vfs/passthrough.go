package vfs

import (
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

const writeFlags = os.O_WRONLY | os.O_RDWR | os.O_CREATE | os.O_TRUNC | os.O_APPEND

// Options configures a Passthrough.
type Options struct {
	// Repository is the absolute path of the backing tree.
	Repository string

	// DeviceNodes enables character and block device creation through
	// Mknod. When false those requests report ENOSYS.
	DeviceNodes bool

	// OnRelease is called after a handle opened for writing is closed.
	OnRelease ReleaseFunc

	Logger *slog.Logger
}

// Passthrough re-implements every mount operation against the backing
// repository. Statuses follow the dispatch convention: zero or positive on
// success, negated errno on failure.
type Passthrough struct {
	tr          *Translator
	policyAbs   string
	handles     handleTable
	deviceNodes bool
	onRelease   ReleaseFunc
	log         *slog.Logger
}

func NewPassthrough(opts Options) *Passthrough {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	tr := NewTranslator(opts.Repository)
	return &Passthrough{
		tr:          tr,
		policyAbs:   filepath.Join(tr.Root(), ReservedName),
		deviceNodes: opts.DeviceNodes,
		onRelease:   opts.OnRelease,
		log:         logger,
	}
}

func (p *Passthrough) Translator() *Translator { return p.tr }

func (p *Passthrough) Init() {
	p.log.Info("filesystem initialised", "repository", p.tr.Root())
}

// Destroy releases every handle the dispatch layer left open. Written files
// still go through the release hook.
func (p *Passthrough) Destroy() {
	files := p.handles.openFiles()
	for _, fh := range files {
		p.Release(fh)
	}
	dirs := p.handles.openDirs()
	for _, dh := range dirs {
		p.Releasedir(dh)
	}
	p.log.Info("filesystem destroyed", "repository", p.tr.Root(), "files_closed", len(files), "dirs_closed", len(dirs))
}

func (p *Passthrough) Getattr(path string) (*syscall.Stat_t, int32) {
	if p.reserved(path) {
		return nil, hiddenStatus
	}
	var st syscall.Stat_t
	if err := syscall.Lstat(p.tr.Translate(path), &st); err != nil {
		return nil, errnoFromError(err)
	}
	if p.isPolicy(&st) {
		return nil, hiddenStatus
	}
	return &st, OK
}

func (p *Passthrough) Readlink(path string) (string, int32) {
	if p.reserved(path) {
		return "", hiddenStatus
	}
	target, err := os.Readlink(p.tr.Translate(path))
	if err != nil {
		return "", errnoFromError(err)
	}
	return target, OK
}

func (p *Passthrough) Mknod(path string, mode, dev uint32) int32 {
	if p.reserved(path) {
		return readonlyStatus
	}
	abs := p.tr.Translate(path)
	perm := mode & 07777

	switch mode & syscall.S_IFMT {
	case 0, syscall.S_IFREG:
		f, err := os.OpenFile(abs, os.O_CREATE|os.O_EXCL|os.O_WRONLY, os.FileMode(perm&0777))
		if err != nil {
			return errnoFromError(err)
		}
		if err := f.Close(); err != nil {
			return errnoFromError(err)
		}
		return errnoFromError(syscall.Chmod(abs, perm))
	case syscall.S_IFIFO:
		return errnoFromError(unix.Mkfifo(abs, perm))
	case syscall.S_IFCHR, syscall.S_IFBLK:
		if !p.deviceNodes {
			return Status(syscall.ENOSYS)
		}
		return errnoFromError(unix.Mknod(abs, mode, int(dev)))
	case syscall.S_IFSOCK:
		return Status(syscall.ENOSYS)
	default:
		return Status(syscall.EINVAL)
	}
}

func (p *Passthrough) Mkdir(path string, mode uint32) int32 {
	if p.reserved(path) {
		return readonlyStatus
	}
	return errnoFromError(syscall.Mkdir(p.tr.Translate(path), mode))
}

func (p *Passthrough) Unlink(path string) int32 {
	abs := p.tr.Translate(path)
	if p.reserved(path) || p.aliasesPolicy(abs, false) {
		return readonlyStatus
	}
	return errnoFromError(syscall.Unlink(abs))
}

func (p *Passthrough) Rmdir(path string) int32 {
	if p.reserved(path) {
		return readonlyStatus
	}
	return errnoFromError(syscall.Rmdir(p.tr.Translate(path)))
}

// Symlink creates link pointing at target. The target is stored verbatim.
func (p *Passthrough) Symlink(target, link string) int32 {
	if p.reserved(link) {
		return readonlyStatus
	}
	return errnoFromError(os.Symlink(target, p.tr.Translate(link)))
}

// Link creates a hard link named link for the existing file target. Both
// are client paths.
func (p *Passthrough) Link(target, link string) int32 {
	targetAbs, linkAbs := p.tr.Translate(target), p.tr.Translate(link)
	if p.reserved(target, link) || p.aliasesPolicy(targetAbs, false) {
		return readonlyStatus
	}
	return errnoFromError(os.Link(targetAbs, linkAbs))
}

// Rename moves oldPath to newPath. Non-zero flags are passed to renameat2.
func (p *Passthrough) Rename(oldPath, newPath string, flags uint32) int32 {
	oldAbs, newAbs := p.tr.Translate(oldPath), p.tr.Translate(newPath)
	if p.reserved(oldPath, newPath) || p.aliasesPolicy(oldAbs, false) || p.aliasesPolicy(newAbs, false) {
		return readonlyStatus
	}
	if flags != 0 {
		return errnoFromError(unix.Renameat2(unix.AT_FDCWD, oldAbs, unix.AT_FDCWD, newAbs, uint(flags)))
	}
	return errnoFromError(os.Rename(oldAbs, newAbs))
}

func (p *Passthrough) Chmod(path string, mode uint32) int32 {
	abs := p.tr.Translate(path)
	if p.reserved(path) || p.aliasesPolicy(abs, true) {
		return readonlyStatus
	}
	return errnoFromError(syscall.Chmod(abs, mode&07777))
}

// Chown changes ownership without following symlinks. -1 leaves an id
// unchanged.
func (p *Passthrough) Chown(path string, uid, gid int) int32 {
	abs := p.tr.Translate(path)
	if p.reserved(path) || p.aliasesPolicy(abs, false) {
		return readonlyStatus
	}
	return errnoFromError(os.Lchown(abs, uid, gid))
}

func (p *Passthrough) Truncate(path string, size int64) int32 {
	abs := p.tr.Translate(path)
	if p.reserved(path) || p.aliasesPolicy(abs, true) {
		return readonlyStatus
	}
	return errnoFromError(syscall.Truncate(abs, size))
}

// Utime sets access and modification times with whole-second precision.
func (p *Passthrough) Utime(path string, atime, mtime time.Time) int32 {
	abs := p.tr.Translate(path)
	if p.reserved(path) || p.aliasesPolicy(abs, true) {
		return readonlyStatus
	}
	return errnoFromError(os.Chtimes(
		abs,
		time.Unix(atime.Unix(), 0),
		time.Unix(mtime.Unix(), 0),
	))
}

func (p *Passthrough) Open(path string, flags int) (uint64, int32) {
	if p.reserved(path) {
		return 0, reservedOpenStatus(flags)
	}
	abs := p.tr.Translate(path)
	f, status := p.openFile(abs, flags, 0)
	if status != OK {
		return 0, status
	}
	return p.handles.addFile(&fileHandle{file: f, path: path, abs: abs, flags: flags}), OK
}

func (p *Passthrough) Create(path string, flags int, mode uint32) (uint64, int32) {
	if p.reserved(path) {
		return 0, readonlyStatus
	}
	abs := p.tr.Translate(path)
	f, status := p.openFile(abs, flags|os.O_CREATE, os.FileMode(mode&0777))
	if status != OK {
		return 0, status
	}
	return p.handles.addFile(&fileHandle{file: f, path: path, abs: abs, flags: flags | os.O_CREATE}), OK
}

// openFile opens abs and refuses descriptors that land on the policy
// document through a symlink or hard link. Truncation is applied only after
// that check so a refused open leaves the document intact.
func (p *Passthrough) openFile(abs string, flags int, perm os.FileMode) (*os.File, int32) {
	f, err := os.OpenFile(abs, flags&^os.O_TRUNC, perm)
	if err != nil {
		return nil, errnoFromError(err)
	}
	var st syscall.Stat_t
	if err := syscall.Fstat(int(f.Fd()), &st); err != nil {
		f.Close()
		return nil, errnoFromError(err)
	}
	if p.isPolicy(&st) {
		f.Close()
		return nil, reservedOpenStatus(flags)
	}
	if flags&os.O_TRUNC != 0 && flags&(os.O_WRONLY|os.O_RDWR) != 0 {
		if err := f.Truncate(0); err != nil {
			f.Close()
			return nil, errnoFromError(err)
		}
	}
	return f, OK
}

func reservedOpenStatus(flags int) int32 {
	if flags&writeFlags != 0 {
		return readonlyStatus
	}
	return hiddenStatus
}

// Read returns up to size bytes at off. A short or empty buffer means end of
// file.
func (p *Passthrough) Read(fh uint64, size int, off int64) ([]byte, int32) {
	h, ok := p.handles.file(fh)
	if !ok {
		return nil, Status(syscall.EBADF)
	}
	buf := make([]byte, size)
	n, err := h.file.ReadAt(buf, off)
	if err != nil && err != io.EOF {
		return nil, errnoFromError(err)
	}
	return buf[:n], OK
}

// Write returns the number of bytes written as a positive status.
func (p *Passthrough) Write(fh uint64, data []byte, off int64) int32 {
	h, ok := p.handles.file(fh)
	if !ok {
		return Status(syscall.EBADF)
	}
	var (
		n   int
		err error
	)
	if h.flags&os.O_APPEND != 0 {
		n, err = h.file.Write(data)
	} else {
		n, err = h.file.WriteAt(data, off)
	}
	if err != nil {
		return errnoFromError(err)
	}
	return int32(n)
}

func (p *Passthrough) Statfs(path string) (*syscall.Statfs_t, int32) {
	if p.reserved(path) {
		return nil, hiddenStatus
	}
	var st syscall.Statfs_t
	if err := syscall.Statfs(p.tr.Translate(path), &st); err != nil {
		return nil, errnoFromError(err)
	}
	return &st, OK
}

// Flush surfaces deferred write errors by closing a duplicate descriptor.
func (p *Passthrough) Flush(fh uint64) int32 {
	h, ok := p.handles.file(fh)
	if !ok {
		return Status(syscall.EBADF)
	}
	dup, err := unix.Dup(int(h.file.Fd()))
	if err != nil {
		return errnoFromError(err)
	}
	return errnoFromError(unix.Close(dup))
}

func (p *Passthrough) Fsync(fh uint64, datasync bool) int32 {
	h, ok := p.handles.file(fh)
	if !ok {
		return Status(syscall.EBADF)
	}
	if datasync {
		return errnoFromError(unix.Fdatasync(int(h.file.Fd())))
	}
	return errnoFromError(h.file.Sync())
}

// Release closes the handle and, when it was opened for writing, runs the
// release hook afterwards whatever the close reported. Releasing an unknown
// or already released handle is a no-op.
func (p *Passthrough) Release(fh uint64) int32 {
	h, ok := p.handles.takeFile(fh)
	if !ok {
		return OK
	}
	status := errnoFromError(h.file.Close())
	if h.written() {
		p.onRelease.run(h.path, h.abs)
	}
	return status
}

func (p *Passthrough) Opendir(path string) (uint64, int32) {
	if p.reserved(path) {
		return 0, hiddenStatus
	}
	d, err := os.OpenFile(p.tr.Translate(path), os.O_RDONLY|syscall.O_DIRECTORY, 0)
	if err != nil {
		return 0, errnoFromError(err)
	}
	return p.handles.addDir(&dirHandle{dir: d, path: path}), OK
}

// DirEntry is one record of a directory listing. The final record of every
// listing is a terminator with End set and no name.
type DirEntry struct {
	Name string
	Mode uint32
	Ino  uint64
	End  bool
}

// Readdir lists the directory behind dh from the start. The reserved
// document is never listed, under its own name or any other.
func (p *Passthrough) Readdir(dh uint64) ([]DirEntry, int32) {
	h, ok := p.handles.dir(dh)
	if !ok {
		return nil, Status(syscall.EBADF)
	}
	if _, err := h.dir.Seek(0, io.SeekStart); err != nil {
		return nil, errnoFromError(err)
	}
	entries, err := h.dir.ReadDir(-1)
	if err != nil {
		return nil, errnoFromError(err)
	}

	policy, havePolicy := p.policyID()
	out := make([]DirEntry, 0, len(entries)+1)
	for _, e := range entries {
		if IsReserved(h.path + "/" + e.Name()) {
			continue
		}
		de := DirEntry{Name: e.Name(), Mode: modeFromType(e.Type())}
		if info, err := e.Info(); err == nil {
			if st, ok := info.Sys().(*syscall.Stat_t); ok {
				if havePolicy && idOf(st) == policy {
					continue
				}
				de.Ino = st.Ino
			}
		}
		out = append(out, de)
	}
	return append(out, DirEntry{End: true}), OK
}

func (p *Passthrough) Releasedir(dh uint64) int32 {
	h, ok := p.handles.takeDir(dh)
	if !ok {
		return OK
	}
	return errnoFromError(h.dir.Close())
}

func modeFromType(t fs.FileMode) uint32 {
	switch {
	case t&fs.ModeDir != 0:
		return syscall.S_IFDIR
	case t&fs.ModeSymlink != 0:
		return syscall.S_IFLNK
	case t&fs.ModeNamedPipe != 0:
		return syscall.S_IFIFO
	case t&fs.ModeSocket != 0:
		return syscall.S_IFSOCK
	case t&fs.ModeCharDevice != 0:
		return syscall.S_IFCHR
	case t&fs.ModeDevice != 0:
		return syscall.S_IFBLK
	default:
		return syscall.S_IFREG
	}
}

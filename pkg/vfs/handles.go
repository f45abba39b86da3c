package vfs

import (
	"os"
	"sync"
	"sync/atomic"
)

type fileHandle struct {
	file  *os.File
	path  string
	abs   string
	flags int
}

// written reports whether the handle could have modified the file.
func (h *fileHandle) written() bool {
	return h.flags&(os.O_WRONLY|os.O_RDWR) != 0
}

type dirHandle struct {
	dir  *os.File
	path string
}

// handleTable hands out opaque identifiers for open files and directories.
// Identifiers are never reused within a mount.
type handleTable struct {
	files sync.Map
	dirs  sync.Map
	next  atomic.Uint64
}

func (t *handleTable) addFile(h *fileHandle) uint64 {
	fh := t.next.Add(1)
	t.files.Store(fh, h)
	return fh
}

func (t *handleTable) file(fh uint64) (*fileHandle, bool) {
	v, ok := t.files.Load(fh)
	if !ok {
		return nil, false
	}
	return v.(*fileHandle), true
}

func (t *handleTable) takeFile(fh uint64) (*fileHandle, bool) {
	v, ok := t.files.LoadAndDelete(fh)
	if !ok {
		return nil, false
	}
	return v.(*fileHandle), true
}

func (t *handleTable) addDir(h *dirHandle) uint64 {
	dh := t.next.Add(1)
	t.dirs.Store(dh, h)
	return dh
}

func (t *handleTable) dir(dh uint64) (*dirHandle, bool) {
	v, ok := t.dirs.Load(dh)
	if !ok {
		return nil, false
	}
	return v.(*dirHandle), true
}

func (t *handleTable) takeDir(dh uint64) (*dirHandle, bool) {
	v, ok := t.dirs.LoadAndDelete(dh)
	if !ok {
		return nil, false
	}
	return v.(*dirHandle), true
}

func (t *handleTable) openFiles() []uint64 {
	var ids []uint64
	t.files.Range(func(k, _ any) bool {
		ids = append(ids, k.(uint64))
		return true
	})
	return ids
}

func (t *handleTable) openDirs() []uint64 {
	var ids []uint64
	t.dirs.Range(func(k, _ any) bool {
		ids = append(ids, k.(uint64))
		return true
	})
	return ids
}

package vfs

import (
	"path/filepath"
	"syscall"
)

const (
	// ReservedName is the policy document kept at the repository root.
	ReservedName = ".pitfilerc"
	// ReservedPath is ReservedName as a mount client sees it.
	ReservedPath = "/" + ReservedName
)

// IsReserved reports whether clientPath names the policy document.
func IsReserved(clientPath string) bool {
	return collapseSeparators(clientPath) == ReservedPath
}

// Lookups on the reserved document behave as if it does not exist, while
// anything that would change it reports a read-only filesystem.
var (
	hiddenStatus   = Status(syscall.ENOENT)
	readonlyStatus = Status(syscall.EROFS)
)

type fileID struct {
	dev uint64
	ino uint64
}

func idOf(st *syscall.Stat_t) fileID {
	return fileID{dev: uint64(st.Dev), ino: st.Ino}
}

// reserved reports whether path names the policy document, either by its
// client name or because it translates onto the document's backing path.
func (p *Passthrough) reserved(paths ...string) bool {
	for _, path := range paths {
		if IsReserved(path) {
			return true
		}
		if abs := p.tr.Translate(path); abs != "" && filepath.Clean(abs) == p.policyAbs {
			return true
		}
	}
	return false
}

// policyID returns the identity of the document on disk. It is read on every
// check since editors replace the file on save.
func (p *Passthrough) policyID() (fileID, bool) {
	var st syscall.Stat_t
	if err := syscall.Stat(p.policyAbs, &st); err != nil {
		return fileID{}, false
	}
	return idOf(&st), true
}

func (p *Passthrough) isPolicy(st *syscall.Stat_t) bool {
	id, ok := p.policyID()
	return ok && idOf(st) == id
}

// aliasesPolicy reports whether abs reaches the document through a hard
// link or a symlinked directory. With follow set, a final symlink counts too.
func (p *Passthrough) aliasesPolicy(abs string, follow bool) bool {
	var st syscall.Stat_t
	if err := syscall.Lstat(abs, &st); err == nil && p.isPolicy(&st) {
		return true
	}
	if !follow {
		return false
	}
	if err := syscall.Stat(abs, &st); err == nil && p.isPolicy(&st) {
		return true
	}
	return false
}

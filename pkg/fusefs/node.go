package fusefs

import (
	"context"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/jingkaihe/pitfile/pkg/vfs"
)

// node is any file or directory in the mount. Its client path is derived
// from its place in the inode tree, so renames need no bookkeeping here.
type node struct {
	fs.Inode
	pt *vfs.Passthrough
}

var _ = (fs.NodeGetattrer)((*node)(nil))
var _ = (fs.NodeLookuper)((*node)(nil))
var _ = (fs.NodeReadlinker)((*node)(nil))
var _ = (fs.NodeMknoder)((*node)(nil))
var _ = (fs.NodeMkdirer)((*node)(nil))
var _ = (fs.NodeUnlinker)((*node)(nil))
var _ = (fs.NodeRmdirer)((*node)(nil))
var _ = (fs.NodeSymlinker)((*node)(nil))
var _ = (fs.NodeLinker)((*node)(nil))
var _ = (fs.NodeRenamer)((*node)(nil))
var _ = (fs.NodeSetattrer)((*node)(nil))
var _ = (fs.NodeOpener)((*node)(nil))
var _ = (fs.NodeCreater)((*node)(nil))
var _ = (fs.NodeStatfser)((*node)(nil))
var _ = (fs.NodeReaddirer)((*node)(nil))

// path returns the client path of n. It reports false once n or one of its
// ancestors has been unlinked, since the inode no longer has a name.
func (n *node) path() (string, bool) {
	return clientPath(n.EmbeddedInode())
}

func (n *node) child(name string) (string, bool) {
	p, ok := n.path()
	if !ok {
		return "", false
	}
	if p == "/" {
		return "/" + name, true
	}
	return p + "/" + name, true
}

func clientPath(in *fs.Inode) (string, bool) {
	var segments []string
	for !in.IsRoot() {
		name, parent := in.Parent()
		if parent == nil {
			return "", false
		}
		segments = append(segments, name)
		in = parent
	}
	slices.Reverse(segments)
	return "/" + strings.Join(segments, "/"), true
}

// newChild stats path and wraps it in an inode keyed by its inode number,
// so hard links share one kernel inode.
func (n *node) newChild(ctx context.Context, path string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	st, status := n.pt.Getattr(path)
	if status != vfs.OK {
		return nil, vfs.Errno(status)
	}
	out.Attr.FromStat(st)
	stable := fs.StableAttr{Mode: st.Mode & syscall.S_IFMT, Ino: st.Ino}
	return n.NewInode(ctx, &node{pt: n.pt}, stable), fs.OK
}

func (n *node) Getattr(ctx context.Context, fh fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	p, ok := n.path()
	if !ok {
		return syscall.ENOENT
	}
	st, status := n.pt.Getattr(p)
	if status != vfs.OK {
		return vfs.Errno(status)
	}
	out.Attr.FromStat(st)
	return fs.OK
}

func (n *node) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	p, ok := n.child(name)
	if !ok {
		return nil, syscall.ENOENT
	}
	return n.newChild(ctx, p, out)
}

func (n *node) Readlink(ctx context.Context) ([]byte, syscall.Errno) {
	p, ok := n.path()
	if !ok {
		return nil, syscall.ENOENT
	}
	target, status := n.pt.Readlink(p)
	if status != vfs.OK {
		return nil, vfs.Errno(status)
	}
	return []byte(target), fs.OK
}

func (n *node) Mknod(ctx context.Context, name string, mode, dev uint32, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	p, ok := n.child(name)
	if !ok {
		return nil, syscall.ENOENT
	}
	if status := n.pt.Mknod(p, mode, dev); status != vfs.OK {
		return nil, vfs.Errno(status)
	}
	return n.newChild(ctx, p, out)
}

func (n *node) Mkdir(ctx context.Context, name string, mode uint32, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	p, ok := n.child(name)
	if !ok {
		return nil, syscall.ENOENT
	}
	if status := n.pt.Mkdir(p, mode); status != vfs.OK {
		return nil, vfs.Errno(status)
	}
	return n.newChild(ctx, p, out)
}

func (n *node) Unlink(ctx context.Context, name string) syscall.Errno {
	p, ok := n.child(name)
	if !ok {
		return syscall.ENOENT
	}
	return vfs.Errno(n.pt.Unlink(p))
}

func (n *node) Rmdir(ctx context.Context, name string) syscall.Errno {
	p, ok := n.child(name)
	if !ok {
		return syscall.ENOENT
	}
	return vfs.Errno(n.pt.Rmdir(p))
}

func (n *node) Symlink(ctx context.Context, target, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	p, ok := n.child(name)
	if !ok {
		return nil, syscall.ENOENT
	}
	if status := n.pt.Symlink(target, p); status != vfs.OK {
		return nil, vfs.Errno(status)
	}
	return n.newChild(ctx, p, out)
}

func (n *node) Link(ctx context.Context, target fs.InodeEmbedder, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	p, ok := n.child(name)
	if !ok {
		return nil, syscall.ENOENT
	}
	targetPath, ok := clientPath(target.EmbeddedInode())
	if !ok {
		return nil, syscall.ENOENT
	}
	if status := n.pt.Link(targetPath, p); status != vfs.OK {
		return nil, vfs.Errno(status)
	}
	return n.newChild(ctx, p, out)
}

func (n *node) Rename(ctx context.Context, name string, newParent fs.InodeEmbedder, newName string, flags uint32) syscall.Errno {
	parent, ok := newParent.(*node)
	if !ok {
		return syscall.EXDEV
	}
	oldPath, ok := n.child(name)
	if !ok {
		return syscall.ENOENT
	}
	newPath, ok := parent.child(newName)
	if !ok {
		return syscall.ENOENT
	}
	return vfs.Errno(n.pt.Rename(oldPath, newPath, flags))
}

func (n *node) Setattr(ctx context.Context, fh fs.FileHandle, in *fuse.SetAttrIn, out *fuse.AttrOut) syscall.Errno {
	p, ok := n.path()
	if !ok {
		return syscall.ENOENT
	}

	if mode, ok := in.GetMode(); ok {
		if status := n.pt.Chmod(p, mode); status != vfs.OK {
			return vfs.Errno(status)
		}
	}

	uid, uok := in.GetUID()
	gid, gok := in.GetGID()
	if uok || gok {
		u, g := -1, -1
		if uok {
			u = int(uid)
		}
		if gok {
			g = int(gid)
		}
		if status := n.pt.Chown(p, u, g); status != vfs.OK {
			return vfs.Errno(status)
		}
	}

	if size, ok := in.GetSize(); ok {
		if status := n.pt.Truncate(p, int64(size)); status != vfs.OK {
			return vfs.Errno(status)
		}
	}

	atime, aok := in.GetATime()
	mtime, mok := in.GetMTime()
	if aok || mok {
		if !aok || !mok {
			st, status := n.pt.Getattr(p)
			if status != vfs.OK {
				return vfs.Errno(status)
			}
			if !aok {
				atime = time.Unix(st.Atim.Unix())
			}
			if !mok {
				mtime = time.Unix(st.Mtim.Unix())
			}
		}
		if status := n.pt.Utime(p, atime, mtime); status != vfs.OK {
			return vfs.Errno(status)
		}
	}

	return n.Getattr(ctx, fh, out)
}

func (n *node) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	p, ok := n.path()
	if !ok {
		return nil, 0, syscall.ENOENT
	}
	fh, status := n.pt.Open(p, int(flags))
	if status != vfs.OK {
		return nil, 0, vfs.Errno(status)
	}
	return &handle{pt: n.pt, fh: fh, node: n}, 0, fs.OK
}

func (n *node) Create(ctx context.Context, name string, flags, mode uint32, out *fuse.EntryOut) (*fs.Inode, fs.FileHandle, uint32, syscall.Errno) {
	p, ok := n.child(name)
	if !ok {
		return nil, nil, 0, syscall.ENOENT
	}
	fh, status := n.pt.Create(p, int(flags), mode)
	if status != vfs.OK {
		return nil, nil, 0, vfs.Errno(status)
	}
	inode, errno := n.newChild(ctx, p, out)
	if errno != fs.OK {
		n.pt.Release(fh)
		return nil, nil, 0, errno
	}
	child := inode.Operations().(*node)
	return inode, &handle{pt: n.pt, fh: fh, node: child}, 0, fs.OK
}

func (n *node) Statfs(ctx context.Context, out *fuse.StatfsOut) syscall.Errno {
	p, ok := n.path()
	if !ok {
		return syscall.ENOENT
	}
	st, status := n.pt.Statfs(p)
	if status != vfs.OK {
		return vfs.Errno(status)
	}
	out.FromStatfsT(st)
	return fs.OK
}

// Readdir drains one directory handle into a list stream. The passthrough
// marks the end of the listing with a terminator entry.
func (n *node) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	p, ok := n.path()
	if !ok {
		return nil, syscall.ENOENT
	}
	dh, status := n.pt.Opendir(p)
	if status != vfs.OK {
		return nil, vfs.Errno(status)
	}
	defer n.pt.Releasedir(dh)

	entries, status := n.pt.Readdir(dh)
	if status != vfs.OK {
		return nil, vfs.Errno(status)
	}
	list := make([]fuse.DirEntry, 0, len(entries))
	for _, e := range entries {
		if e.End {
			break
		}
		list = append(list, fuse.DirEntry{Name: e.Name, Mode: e.Mode, Ino: e.Ino})
	}
	return fs.NewListDirStream(list), fs.OK
}

package fusefs

import (
	"context"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/jingkaihe/pitfile/pkg/vfs"
)

// fsyncDatasync is FUSE_FSYNC_FDATASYNC in the fsync request flags.
const fsyncDatasync = 1 << 0

// handle threads a passthrough file handle between open and release.
type handle struct {
	pt   *vfs.Passthrough
	fh   uint64
	node *node
}

var _ = (fs.FileReader)((*handle)(nil))
var _ = (fs.FileWriter)((*handle)(nil))
var _ = (fs.FileFlusher)((*handle)(nil))
var _ = (fs.FileFsyncer)((*handle)(nil))
var _ = (fs.FileReleaser)((*handle)(nil))
var _ = (fs.FileGetattrer)((*handle)(nil))

func (h *handle) Read(ctx context.Context, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	data, status := h.pt.Read(h.fh, len(dest), off)
	if status != vfs.OK {
		return nil, vfs.Errno(status)
	}
	return fuse.ReadResultData(data), fs.OK
}

func (h *handle) Write(ctx context.Context, data []byte, off int64) (uint32, syscall.Errno) {
	status := h.pt.Write(h.fh, data, off)
	if status < 0 {
		return 0, vfs.Errno(status)
	}
	return uint32(status), fs.OK
}

func (h *handle) Flush(ctx context.Context) syscall.Errno {
	return vfs.Errno(h.pt.Flush(h.fh))
}

func (h *handle) Fsync(ctx context.Context, flags uint32) syscall.Errno {
	return vfs.Errno(h.pt.Fsync(h.fh, flags&fsyncDatasync != 0))
}

// Release closes the handle; for written files this is where analysis runs.
func (h *handle) Release(ctx context.Context) syscall.Errno {
	return vfs.Errno(h.pt.Release(h.fh))
}

func (h *handle) Getattr(ctx context.Context, out *fuse.AttrOut) syscall.Errno {
	return h.node.Getattr(ctx, h, out)
}

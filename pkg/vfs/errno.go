package vfs

import (
	"errors"
	"io/fs"
	"syscall"
)

// OK is the success status. Operations report failures as a negated errno and
// successful writes as the positive byte count.
const OK int32 = 0

// Status converts errno into the negative status carried back to the
// dispatch layer.
func Status(errno syscall.Errno) int32 {
	return -int32(errno)
}

// Errno converts a status back into the errno the kernel expects. Zero and
// positive statuses map to 0.
func Errno(status int32) syscall.Errno {
	if status >= 0 {
		return 0
	}
	return syscall.Errno(-status)
}

func errnoFromError(err error) int32 {
	if err == nil {
		return OK
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return Status(errno)
	}
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return Status(syscall.ENOENT)
	case errors.Is(err, fs.ErrPermission):
		return Status(syscall.EACCES)
	case errors.Is(err, fs.ErrExist):
		return Status(syscall.EEXIST)
	}
	return Status(syscall.EIO)
}

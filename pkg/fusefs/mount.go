// Package fusefs serves a vfs.Passthrough through the kernel FUSE interface.
package fusefs

import (
	"log/slog"
	"sync"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/jingkaihe/pitfile/internal/errx"
	"github.com/jingkaihe/pitfile/pkg/vfs"
)

// Options configures a mount.
type Options struct {
	Mountpoint  string
	Passthrough *vfs.Passthrough

	// AllowOther lets other users, such as a web server, use the mount.
	// Requires user_allow_other in /etc/fuse.conf when not root.
	AllowOther bool
	// Debug logs every FUSE request.
	Debug bool

	Logger *slog.Logger
}

// Server is a live mount.
type Server struct {
	srv        *fuse.Server
	pt         *vfs.Passthrough
	mountpoint string
	log        *slog.Logger

	destroyOnce sync.Once
}

// Mount mounts the passthrough at opts.Mountpoint. Requests are served one
// at a time. Kernel caching of entries and attributes is disabled so a
// quarantined file disappears as soon as its release returns.
func Mount(opts Options) (*Server, error) {
	if opts.Mountpoint == "" {
		return nil, ErrMountpointRequired
	}
	if opts.Passthrough == nil {
		return nil, ErrPassthroughRequired
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}

	var zero time.Duration
	root := &node{pt: opts.Passthrough}
	srv, err := fs.Mount(opts.Mountpoint, root, &fs.Options{
		EntryTimeout:    &zero,
		AttrTimeout:     &zero,
		NegativeTimeout: &zero,
		MountOptions: fuse.MountOptions{
			FsName:         opts.Passthrough.Translator().Root(),
			Name:           "pitfile",
			AllowOther:     opts.AllowOther,
			Debug:          opts.Debug,
			SingleThreaded: true,
		},
	})
	if err != nil {
		return nil, errx.With(ErrMount, " at %s: %w", opts.Mountpoint, err)
	}

	opts.Passthrough.Init()
	opts.Logger.Info("filesystem mounted",
		"mountpoint", opts.Mountpoint,
		"repository", opts.Passthrough.Translator().Root(),
	)
	return &Server{
		srv:        srv,
		pt:         opts.Passthrough,
		mountpoint: opts.Mountpoint,
		log:        opts.Logger,
	}, nil
}

// Wait blocks until the filesystem is unmounted, then closes any handles the
// kernel left open.
func (s *Server) Wait() {
	s.srv.Wait()
	s.destroy()
}

// Unmount detaches the filesystem.
func (s *Server) Unmount() error {
	if err := s.srv.Unmount(); err != nil {
		return errx.With(ErrUnmount, " %s: %w", s.mountpoint, err)
	}
	s.destroy()
	return nil
}

func (s *Server) destroy() {
	s.destroyOnce.Do(func() {
		s.pt.Destroy()
		s.log.Info("filesystem unmounted", "mountpoint", s.mountpoint)
	})
}

package vfs

// ReleaseFunc runs after a handle opened for writing has been closed. It
// receives the client-visible path and the backing path.
type ReleaseFunc func(relPath, absPath string)

func (f ReleaseFunc) run(relPath, absPath string) {
	if f == nil {
		return
	}
	f(relPath, absPath)
}

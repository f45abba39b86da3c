package fusefs

import "errors"

var (
	ErrMountpointRequired  = errors.New("mountpoint is required")
	ErrPassthroughRequired = errors.New("passthrough is required")
	ErrMount               = errors.New("mount filesystem")
	ErrUnmount             = errors.New("unmount filesystem")
)

// Package errdefs holds the error kinds shared by the snapshot packages.
// Callers compare against them with errors.Is.
package errdefs

import "errors"

var (
	ErrRuntimeUnavailable = errors.New("container runtime unavailable")
	ErrNotFound           = errors.New("not found")
	ErrAlreadyExists      = errors.New("already exists")
	ErrCorruptSnapshot    = errors.New("corrupt snapshot")
	ErrPartialCapture     = errors.New("partial capture")
	ErrInvalidName        = errors.New("invalid snapshot name")
	ErrUnsupportedRuntime = errors.New("unsupported container runtime")
	ErrConfig             = errors.New("config error")
)

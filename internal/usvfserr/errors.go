// Package usvfserr centralizes the error vocabulary shared by the
// virtual file tree, the mount manager, and the filesystem callbacks.
// Every failure the core generates by construction is one of the
// sentinels below; everything else is a raw syscall errno passed
// through unchanged.
package usvfserr

import (
	"errors"
	"fmt"
	"os"
	"syscall"
)

var (
	// ErrInvalid is returned for empty paths, empty real paths, or
	// otherwise malformed arguments.
	ErrInvalid = errors.New("invalid argument")
	// ErrNotFound is returned when a lookup misses.
	ErrNotFound = errors.New("path not found")
	// ErrExists is returned when an insert collides with a non-tombstoned entry.
	ErrExists = errors.New("path already exists")
	// ErrNotEmpty is returned when a non-empty directory is erased.
	ErrNotEmpty = errors.New("directory not empty")
	// ErrNotDir is returned when a directory-only operation targets a file.
	ErrNotDir = errors.New("not a directory")
	// ErrIO is returned when internal bookkeeping diverges from a
	// successful syscall, or request context is missing.
	ErrIO = errors.New("i/o error")
	// ErrNoMem models allocation failure. Go's allocator does not fail
	// into an error return, so nothing in this module produces it; it
	// exists so ToErrno covers the full errno vocabulary callers map.
	ErrNoMem = errors.New("out of memory")
)

// Error wraps a failed operation with the operation name, the affected
// virtual path, and the underlying sentinel or syscall error.
type Error struct {
	Op   string
	Path string
	Err  error
}

func (e *Error) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an *Error for op on path wrapping err.
func New(op, path string, err error) *Error {
	return &Error{Op: op, Path: path, Err: err}
}

// ToErrno converts an error produced anywhere in this module into the
// negative errno a FUSE callback must return. nil maps to nil so
// callers can return ToErrno(err) directly.
func ToErrno(err error) error {
	if err == nil {
		return nil
	}

	var fsErr *Error
	cause := err
	if errors.As(err, &fsErr) {
		cause = fsErr.Err
	}

	switch {
	case errors.Is(cause, ErrInvalid):
		return syscall.EINVAL
	case errors.Is(cause, ErrNotFound):
		return syscall.ENOENT
	case errors.Is(cause, ErrExists):
		return syscall.EEXIST
	case errors.Is(cause, ErrNotEmpty):
		return syscall.ENOTEMPTY
	case errors.Is(cause, ErrNotDir):
		return syscall.ENOTDIR
	case errors.Is(cause, ErrIO):
		return syscall.EIO
	case errors.Is(cause, ErrNoMem):
		return syscall.ENOMEM
	case errors.Is(cause, os.ErrNotExist):
		return syscall.ENOENT
	case errors.Is(cause, os.ErrPermission):
		return syscall.EACCES
	}

	// Already a raw errno from a syscall (e.g. unix.Openat's error) —
	// pass it through so the caller returns the kernel's own code.
	var errno syscall.Errno
	if errors.As(cause, &errno) {
		return errno
	}

	return syscall.EIO
}

// Errno extracts the negative-able syscall.Errno ToErrno would return,
// for call sites that need the numeric value rather than an error.
func Errno(err error) syscall.Errno {
	e := ToErrno(err)
	if e == nil {
		return 0
	}
	errno, _ := e.(syscall.Errno)
	return errno
}

// Package backingfs anchors every mutating syscall the core performs
// through a stable directory fd plus a last-component name (openat,
// mkdirat, unlinkat, fstatat, renameat2, fchmodat, fchownat,
// readlinkat), so that operations are immune to path races under the
// mountpoint.
package backingfs

import (
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"

	"usvfs/internal/fdmap"
	"usvfs/internal/usvfserr"
)

// OpenDirFd opens path as a stable, race-immune anchor for subsequent
// *at syscalls.
func OpenDirFd(path string) (int, error) {
	fd, err := unix.Open(path, unix.O_PATH|unix.O_DIRECTORY|unix.O_NOFOLLOW, 0)
	if err != nil {
		return -1, err
	}
	return fd, nil
}

// CloseFd closes fd, matching the signature fdmap.Map.CloseAll and
// mount.State.Close expect.
func CloseFd(fd int) error {
	return unix.Close(fd)
}

// MkdirAllReal creates every missing directory component of path,
// starting from "/", using a chain of openat/mkdirat calls rather than
// os.MkdirAll so that the whole walk happens through fds instead of
// repeatedly re-resolving the path by name.
func MkdirAllReal(path string) error {
	path = filepath.Clean(path)
	if path == "/" || path == "." {
		return nil
	}

	comps := strings.Split(strings.TrimPrefix(path, "/"), "/")

	dirFd, err := OpenDirFd("/")
	if err != nil {
		return err
	}
	defer unix.Close(dirFd)

	for _, comp := range comps {
		if comp == "" {
			continue
		}
		if mkErr := unix.Mkdirat(dirFd, comp, 0755); mkErr != nil && mkErr != unix.EEXIST {
			return mkErr
		}
		childFd, openErr := unix.Openat(dirFd, comp, unix.O_PATH|unix.O_DIRECTORY|unix.O_NOFOLLOW, 0)
		if openErr != nil {
			return openErr
		}
		unix.Close(dirFd)
		dirFd = childFd
	}
	unix.Close(dirFd)
	return nil
}

// EnsureDirFd returns the fd recorded for realDir in fds, opening and
// recording it if absent. If upperDir is non-empty and realDir sits
// under it, the parent chain is created on disk first, then opened and
// recorded.
func EnsureDirFd(fds *fdmap.Map, upperDir, realDir string) (int, error) {
	if fd := fds.At(realDir); fd != fdmap.NoFd {
		return fd, nil
	}

	if upperDir != "" && strings.HasPrefix(realDir, upperDir) {
		if err := MkdirAllReal(realDir); err != nil {
			return -1, usvfserr.New("ensure-dir", realDir, err)
		}
	}

	fd, err := OpenDirFd(realDir)
	if err != nil {
		return -1, usvfserr.New("ensure-dir", realDir, err)
	}
	fds.Insert(realDir, fd)
	return fd, nil
}

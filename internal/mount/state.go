// Package mount implements MountState: the lifecycle object for one
// pending or active virtual filesystem instance. A MountState owns its
// own virtual file tree and fd map, and tracks readiness for whichever
// goroutine is waiting on mount() to finish attaching the kernel
// bridge.
package mount

import (
	"sync"

	"github.com/google/uuid"

	"usvfs/internal/fdmap"
	"usvfs/internal/vft"
)

// Readiness is a mount's activation tri-state: a State starts Unknown,
// and transitions exactly once to either Success or Failure as Mount
// finishes attaching (or fails to attach) the kernel bridge.
type Readiness int

const (
	Unknown Readiness = iota
	Success
	Failure
)

// State is one pending or active mount. The zero value is not usable;
// construct with NewPending.
type State struct {
	// ID is a synthetic identity independent of Mountpoint, used to tag
	// the state in log output. The manager tracks states by mountpoint,
	// not by ID.
	ID uuid.UUID

	Mountpoint string
	UpperDir   string

	Root *vft.Item
	Fds  *fdmap.Map

	// UpperFd is the fd for UpperDir, recorded once it has been opened;
	// fdmap.NoFd until then.
	UpperFd int

	// NSPidfd is the namespaced-mount case's pidfd for the child that
	// owns the mount's user+mount namespace, or -1 when this mount is
	// served in-process on a goroutine instead.
	NSPidfd int

	mu       sync.Mutex
	cond     *sync.Cond
	ready    Readiness
	readyErr error

	// closer is invoked by Unmount/Close to tear down whatever is
	// actually serving the mount (a goroutine+fuse.Conn, or a namespaced
	// child process). Set by the caller that activates the mount.
	closer func() error
}

// NewPending creates a MountState that has not yet been activated. Its
// fd map and tree are ready to receive link requests immediately.
func NewPending(mountpoint, upperDir string) *State {
	s := &State{
		ID:         uuid.New(),
		Mountpoint: mountpoint,
		UpperDir:   upperDir,
		Root:       vft.NewRoot(mountpoint),
		Fds:        fdmap.New(),
		UpperFd:    fdmap.NoFd,
		NSPidfd:    -1,
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// SetCloser records the teardown function Unmount should invoke once,
// for whichever activation strategy (goroutine or namespaced process)
// actually attached the kernel bridge.
func (s *State) SetCloser(closer func() error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closer = closer
}

// SetReady transitions the MountState out of Unknown exactly once,
// waking every goroutine blocked in WaitReady. err nil means Success;
// non-nil means Failure.
func (s *State) SetReady(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ready != Unknown {
		return
	}
	if err != nil {
		s.ready = Failure
		s.readyErr = err
	} else {
		s.ready = Success
	}
	s.cond.Broadcast()
}

// WaitReady blocks until SetReady has been called, returning the
// readiness outcome and, on Failure, the recorded error.
func (s *State) WaitReady() (Readiness, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.ready == Unknown {
		s.cond.Wait()
	}
	return s.ready, s.readyErr
}

// Readiness reports the current state without blocking.
func (s *State) Readiness() Readiness {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

// Close tears down the mount's kernel-bridge attachment (via the
// recorded closer, if any) and releases every fd this mount's fd map
// and upper-dir fd hold, each exactly once (an upper-dir fd that is also
// recorded in the fd map is closed only there). It is safe to call even if the mount was never
// activated (closer is nil in that case).
func (s *State) Close(closeFd func(fd int) error) error {
	s.mu.Lock()
	closer := s.closer
	s.mu.Unlock()

	var firstErr error
	if closer != nil {
		if err := closer(); err != nil {
			firstErr = err
		}
	}

	upperInMap := s.UpperFd != fdmap.NoFd && s.Fds.At(s.UpperDir) == s.UpperFd
	if errs := s.Fds.CloseAll(closeFd); len(errs) > 0 && firstErr == nil {
		firstErr = errs[0]
	}

	if s.UpperFd != fdmap.NoFd {
		if !upperInMap {
			if err := closeFd(s.UpperFd); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		s.UpperFd = fdmap.NoFd
	}

	return firstErr
}

// Package manager implements the process-wide mount manager: it
// accumulates link requests into pending mount.States, mounts and
// unmounts them, tracks policy sets (skip-suffixes, skip-dirs,
// blacklist, forced libraries), and launches hooked child processes.
package manager

import (
	"io"
	"sync"

	"github.com/gofrs/flock"

	"usvfs/internal/launch"
	"usvfs/internal/logging"
	"usvfs/internal/mount"
	"usvfs/internal/state"
)

var log = logging.Get("manager")

// Manager is the process-wide mount manager. The zero value is not
// usable; construct with New.
type Manager struct {
	mu sync.RWMutex

	// mounts is keyed by mountpoint. A mount.State here may be pending
	// (not yet attached to the kernel bridge) or active.
	mounts map[string]*mount.State

	// locks holds one advisory <mountpoint>.lock per tracked mount, so
	// two independent invocations of this core cannot both claim the
	// same mountpoint.
	locks map[string]*flock.Flock

	policy    *state.PolicySet
	persister *state.Manager

	// upperDir, when set, is installed at mount time on every state that
	// has no upper dir of its own (one set by CreateTarget).
	upperDir string

	// children are the pids of hooked child processes still believed to
	// be running; Unmount refuses while any of them is.
	children []int

	useMountNamespace bool

	// nsChild owns the canonical user+mount namespace once the first
	// namespaced mount has been activated.
	nsChild *launch.NamespacedChild
}

// New creates an empty Manager. policyFile is where
// BlacklistExecutable/AddSkipFileSuffix/AddSkipDirectory/
// ForceLoadLibrary persist across process restarts.
func New(policyFile string) (*Manager, error) {
	persister, err := state.NewManager(policyFile)
	if err != nil {
		return nil, err
	}
	p, err := persister.LoadPolicy()
	if err != nil {
		return nil, err
	}
	return &Manager{
		mounts:    make(map[string]*mount.State),
		locks:     make(map[string]*flock.Flock),
		policy:    p,
		persister: persister,
	}, nil
}

// UseMountNamespace enables the namespaced-mount activation strategy
// (a child process owning fresh user+mount namespaces) instead of the
// in-process goroutine+fuse.Conn strategy.
func (m *Manager) UseMountNamespace(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.useMountNamespace = enabled
}

// stateFor returns the pending or active mount.State that owns
// mountpoint, creating one if none exists yet.
func (m *Manager) stateFor(mountpoint, upperDir string) *mount.State {
	if s, ok := m.mounts[mountpoint]; ok {
		return s
	}
	s := mount.NewPending(mountpoint, upperDir)
	m.mounts[mountpoint] = s
	return s
}

// DumpState writes a diagnostic snapshot of every tracked mount's tree
// to w, in the same indentation format as vft.Item.Dump.
func (m *Manager) DumpState(w io.Writer) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for mountpoint, s := range m.mounts {
		if _, err := io.WriteString(w, mountpoint+":\n"); err != nil {
			return err
		}
		s.Root.Dump(w, 1)
	}
	return nil
}

// Package fdmap provides a concurrent mapping from real directory path
// to an open directory file descriptor. Directories the core keeps open
// as anchors (opened O_PATH|O_DIRECTORY|O_NOFOLLOW) have their fd
// recorded here, keyed by the lowercased path, so that a later
// callback can reuse it as the anchor for an *at syscall instead of
// re-resolving the path.
package fdmap

import (
	"sync"

	"usvfs/internal/pathutil"
)

// NoFd is the sentinel returned by At for a path with no recorded fd.
const NoFd = -1

// Map is a concurrent path -> fd table. The zero value is not usable;
// use New.
type Map struct {
	mu  sync.RWMutex
	fds map[string]int
}

// New creates an empty Map.
func New() *Map {
	return &Map{fds: make(map[string]int)}
}

// At returns the fd recorded for path, or NoFd if none is recorded.
// Never returns an error — a miss is ordinary, not exceptional.
func (m *Map) At(path string) int {
	key := pathutil.ILower(path)
	m.mu.RLock()
	defer m.mu.RUnlock()
	if fd, ok := m.fds[key]; ok {
		return fd
	}
	return NoFd
}

// Insert records fd for path, overwriting any previous entry for the
// same lowercased key. The caller is responsible for not leaking the
// fd that was overwritten, if any (see Swap).
func (m *Map) Insert(path string, fd int) {
	key := pathutil.ILower(path)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fds[key] = fd
}

// Swap records fd for path and returns the fd that was previously
// recorded there, or NoFd if there was none.
func (m *Map) Swap(path string, fd int) int {
	key := pathutil.ILower(path)
	m.mu.Lock()
	defer m.mu.Unlock()
	prev, ok := m.fds[key]
	m.fds[key] = fd
	if !ok {
		return NoFd
	}
	return prev
}

// Len returns the number of recorded entries.
func (m *Map) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.fds)
}

// Range calls f for every (path, fd) entry, in unspecified order. If f
// returns false, iteration stops early. Range holds only a read lock
// for the duration of the call, consistent with the package's general
// reader/writer discipline — f must not call back into the Map.
func (m *Map) Range(f func(path string, fd int) bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for k, fd := range m.fds {
		if !f(k, fd) {
			return
		}
	}
}

// CloseAll calls closeFn on every recorded fd exactly once and clears
// the map. Intended to be called exactly once, from the owning
// MountState's teardown path.
func (m *Map) CloseAll(closeFn func(fd int) error) []error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for _, fd := range m.fds {
		if err := closeFn(fd); err != nil {
			errs = append(errs, err)
		}
	}
	m.fds = make(map[string]int)
	return errs
}

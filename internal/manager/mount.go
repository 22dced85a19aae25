package manager

import (
	"os"
	"strings"
	"time"

	"bazil.org/fuse"
	fusefs "bazil.org/fuse/fs"
	"github.com/avast/retry-go/v4"
	"github.com/gofrs/flock"
	"golang.org/x/sys/unix"

	"usvfs/internal/backingfs"
	"usvfs/internal/fuseops"
	"usvfs/internal/launch"
	"usvfs/internal/mount"
	"usvfs/internal/usvfserr"
)

// SetUpperDir configures the write-through upper directory that every
// subsequently mounted state without an upper dir of its own redirects
// creations into. Empty disables this manager-wide redirection.
func (m *Manager) SetUpperDir(dir string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upperDir = dir
}

// Mount activates every pending MountState: install the upper dir if
// configured, then attach the kernel bridge either on a service
// goroutine or inside a namespaced child process. It fails fast on the
// first state that reports Failure through its readiness condition,
// dropping that state from the pending set without rolling back
// on-disk effects.
func (m *Manager) Mount() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mountLocked()
}

// mountLocked is Mount's body, shared with CreateProcessHooked's
// ensure-mounted step. Caller holds m.mu for writing.
func (m *Manager) mountLocked() error {
	for mountpoint, st := range m.mounts {
		if st.Readiness() != mount.Unknown {
			continue
		}

		lock := flock.New(mountpoint + ".lock")
		locked, err := lock.TryLock()
		if err == nil && !locked {
			err = usvfserr.New("mount", mountpoint, unix.EBUSY)
		}
		if err != nil {
			delete(m.mounts, mountpoint)
			return err
		}
		m.locks[mountpoint] = lock

		if st.UpperDir == "" {
			st.UpperDir = m.upperDir
		}
		if st.UpperDir != "" {
			if err := m.installUpperDir(st); err != nil {
				m.dropLocked(mountpoint)
				return err
			}
		}

		if m.useMountNamespace {
			err = m.activateNamespaced(st)
		} else {
			err = m.activateGoroutine(st)
		}
		if err != nil {
			m.dropLocked(mountpoint)
			return err
		}

		if r, werr := st.WaitReady(); r == mount.Failure {
			m.dropLocked(mountpoint)
			return werr
		}
	}
	return nil
}

// installUpperDir materializes the upper directory on disk and records
// its fd on the state.
func (m *Manager) installUpperDir(st *mount.State) error {
	if err := backingfs.MkdirAllReal(st.UpperDir); err != nil {
		return usvfserr.New("mount", st.UpperDir, err)
	}
	fd, err := backingfs.OpenDirFd(st.UpperDir)
	if err != nil {
		return usvfserr.New("mount", st.UpperDir, err)
	}
	st.UpperFd = fd
	st.Fds.Insert(st.UpperDir, fd)
	return nil
}

// dropLocked removes mountpoint from the tracked set, releasing its
// advisory lock and every fd the state holds. Caller holds m.mu.
func (m *Manager) dropLocked(mountpoint string) {
	if st, ok := m.mounts[mountpoint]; ok {
		st.Close(backingfs.CloseFd)
		delete(m.mounts, mountpoint)
	}
	if lock, ok := m.locks[mountpoint]; ok {
		lock.Unlock()
		delete(m.locks, mountpoint)
	}
}

// activateGoroutine attaches the kernel bridge on a service goroutine:
// fuse.Mount, signal readiness, then serve until unmounted. Readiness
// becomes Success only after the mount syscall has succeeded and before
// the serve loop is entered, so the pending -> active transition is
// atomic from a waiter's perspective.
func (m *Manager) activateGoroutine(st *mount.State) error {
	go func() {
		conn, err := fuse.Mount(st.Mountpoint,
			fuse.FSName("usvfs"),
			fuse.Subtype("usvfs"),
			fuse.DefaultPermissions(),
		)
		if err != nil {
			st.SetReady(err)
			return
		}

		st.SetCloser(func() error {
			err := fuse.Unmount(st.Mountpoint)
			conn.Close()
			return err
		})
		st.SetReady(nil)

		log.Info("serving %s (mount %s)", st.Mountpoint, st.ID)
		if err := fusefs.Serve(conn, fuseops.New(st)); err != nil {
			log.Error("serve %s: %v", st.Mountpoint, err)
		}
	}()

	if r, err := st.WaitReady(); r == mount.Failure {
		return err
	}
	return waitForMounted(st.Mountpoint)
}

// waitForMounted polls /proc/self/mounts until mountpoint shows up.
// fuse.Mount returning only proves the kernel accepted the connection;
// the mount table entry can trail it slightly.
func waitForMounted(mountpoint string) error {
	return retry.Do(
		func() error {
			data, err := os.ReadFile("/proc/self/mounts")
			if err != nil {
				return err
			}
			if !strings.Contains(string(data), " "+mountpoint+" ") {
				return usvfserr.New("mount", mountpoint, usvfserr.ErrNotFound)
			}
			return nil
		},
		retry.Attempts(30),
		retry.Delay(100*time.Millisecond),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
	)
}

// activateNamespaced attaches the kernel bridge inside a child process
// owning a fresh user+mount namespace (or, once one exists, entered
// into the existing namespace). The child re-executes this binary in
// serve-plan mode against a snapshot of the state's tree.
func (m *Manager) activateNamespaced(st *mount.State) error {
	planFile, err := os.CreateTemp("", "usvfs-plan-*.json")
	if err != nil {
		st.SetReady(err)
		return err
	}
	planPath := planFile.Name()
	planFile.Close()

	if err := st.Plan().Save(planPath); err != nil {
		os.Remove(planPath)
		st.SetReady(err)
		return err
	}

	if m.nsChild != nil {
		// The canonical namespace already exists; enter it instead of
		// cloning a second one.
		exe, err := os.Executable()
		if err != nil {
			st.SetReady(err)
			return err
		}
		pid, err := launch.Spec{
			File:         exe,
			Arg:          "-serve-plan " + planPath,
			NamespacePid: m.nsChild.Pid,
		}.Spawn()
		if err != nil {
			st.SetReady(err)
			return err
		}
		st.NSPidfd, err = unix.PidfdOpen(pid, 0)
		if err != nil {
			st.SetReady(err)
			return err
		}
		st.SetCloser(closerForPidfd(st.NSPidfd))
		st.SetReady(nil)
		return nil
	}

	child, err := launch.StartNamespaced([]string{"-serve-plan", planPath})
	if err != nil {
		st.SetReady(err)
		return err
	}
	m.nsChild = child
	st.NSPidfd = child.PidFD
	st.SetCloser(func() error {
		if err := child.Interrupt(); err != nil {
			return err
		}
		return child.Reap()
	})
	st.SetReady(nil)
	return nil
}

func closerForPidfd(pidfd int) func() error {
	return func() error {
		if err := unix.PidfdSendSignal(pidfd, unix.SIGINT, nil, 0); err != nil {
			return err
		}
		var si unix.Siginfo
		err := unix.Waitid(unix.P_PIDFD, pidfd, &si, unix.WEXITED, nil)
		unix.Close(pidfd)
		return err
	}
}

// Unmount tears down every active mount. It refuses, returning EBUSY,
// while any hooked child process is still running — those children are
// operating under the mountpoints being torn down.
func (m *Manager) Unmount() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	live := m.children[:0]
	for _, pid := range m.children {
		if launch.StillRunning(pid) {
			live = append(live, pid)
		}
	}
	m.children = live
	if len(live) > 0 {
		return usvfserr.New("unmount", "", unix.EBUSY)
	}

	var firstErr error
	for mountpoint, st := range m.mounts {
		if err := st.Close(backingfs.CloseFd); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(m.mounts, mountpoint)
		if lock, ok := m.locks[mountpoint]; ok {
			lock.Unlock()
			os.Remove(lock.Path())
			delete(m.locks, mountpoint)
		}
	}
	m.nsChild = nil
	return firstErr
}

// ServePlan is the body of the -serve-plan child: rebuild the mount
// state from the plan at planPath, attach the kernel bridge, and serve
// until SIGINT. Runs inside the namespace its parent put it in.
func ServePlan(planPath string, sigint <-chan os.Signal) error {
	p, err := mount.LoadPlan(planPath)
	if err != nil {
		return err
	}
	defer os.Remove(planPath)

	st, err := p.Realize()
	if err != nil {
		return err
	}
	defer st.Close(backingfs.CloseFd)

	conn, err := fuse.Mount(st.Mountpoint,
		fuse.FSName("usvfs"),
		fuse.Subtype("usvfs"),
		fuse.DefaultPermissions(),
	)
	if err != nil {
		return err
	}
	defer conn.Close()

	go func() {
		<-sigint
		if err := fuse.Unmount(st.Mountpoint); err != nil {
			log.Error("unmount %s: %v", st.Mountpoint, err)
		}
	}()

	log.Info("namespaced child serving %s", st.Mountpoint)
	return fusefs.Serve(conn, fuseops.New(st))
}

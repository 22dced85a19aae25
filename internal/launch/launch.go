// Package launch spawns child processes on behalf of the mount
// manager: ordinary hooked children that run under the virtual
// namespace, and the namespaced service child that owns a fresh
// user+mount namespace when unprivileged mount isolation is required.
//
// Exec failures are distinguished from child failures the same way the
// close-on-exec error-pipe design does it: os/exec's Start already
// carries the child's errno back over a CLOEXEC pipe, so a failed exec
// surfaces as an error from Spawn rather than as a dead child.
package launch

import (
	"os"
	"os/exec"
	"strconv"
	"syscall"

	"golang.org/x/sys/unix"

	"usvfs/internal/logging"
)

var log = logging.Get("launch")

// Spec describes one hooked child process.
type Spec struct {
	// File is the executable to run; Arg is its argument string. The
	// two are joined and handed to "/bin/sh -c", which is what lets a
	// caller pass shell-quoted argument lists through unchanged.
	File string
	Arg  string

	// WorkDir is the child's working directory; empty inherits the
	// parent's.
	WorkDir string

	// Env is the complete environment for the child. nil inherits the
	// parent's environment.
	Env []string

	// NamespacePid, when non-zero, is the pid of the process owning the
	// user+mount namespace the child must enter before exec. A
	// multithreaded Go runtime cannot setns(CLONE_NEWUSER) itself, so
	// entry goes through nsenter(1) targeting that pid.
	NamespacePid int
}

// Spawn starts the child described by spec and returns its pid. The
// child is not waited on; the caller owns reaping it (the manager polls
// with WNOHANG before allowing an unmount).
func (s Spec) Spawn() (int, error) {
	cmdline := s.File
	if s.Arg != "" {
		cmdline += " " + s.Arg
	}

	var cmd *exec.Cmd
	if s.NamespacePid > 0 {
		cmd = exec.Command("nsenter",
			"-t", strconv.Itoa(s.NamespacePid),
			"-U", "-m", "--preserve-credentials",
			"--", "/bin/sh", "-c", cmdline)
	} else {
		cmd = exec.Command("/bin/sh", "-c", cmdline)
	}
	cmd.Dir = s.WorkDir
	cmd.Env = s.Env
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return -1, err
	}
	pid := cmd.Process.Pid
	cmd.Process.Release()

	log.Debug("spawned hooked child pid=%d file=%s", pid, s.File)
	return pid, nil
}

// StillRunning reports whether pid is a live, unreaped child of this
// process. A child that has exited is reaped as a side effect, so a
// false return means the pid no longer needs tracking.
func StillRunning(pid int) bool {
	var ws unix.WaitStatus
	got, err := unix.Wait4(pid, &ws, unix.WNOHANG, nil)
	if err != nil {
		// ECHILD: already reaped or never ours; either way not running.
		return false
	}
	return got == 0
}

// NamespacedChild is the service child that owns the canonical
// user+mount namespace for namespaced mounts.
type NamespacedChild struct {
	Pid   int
	PidFD int
}

// StartNamespaced re-executes the current binary with args inside fresh
// user and mount namespaces. The Go runtime writes the uid/gid mapping
// (0 -> current uid/gid, size 1, setgroups denied) before the child
// execs, which is the same /proc/self/{uid_map,setgroups,gid_map}
// sequence the manual clone dance performs, driven here through
// SysProcAttr. The returned PidFD is the canonical namespace handle.
func StartNamespaced(args []string) (*NamespacedChild, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, err
	}

	pidfd := -1
	cmd := exec.Command(exe, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Cloneflags: unix.CLONE_NEWUSER | unix.CLONE_NEWNS,
		UidMappings: []syscall.SysProcIDMap{
			{ContainerID: 0, HostID: os.Getuid(), Size: 1},
		},
		GidMappings: []syscall.SysProcIDMap{
			{ContainerID: 0, HostID: os.Getgid(), Size: 1},
		},
		GidMappingsEnableSetgroups: false,
		PidFD:                      &pidfd,
	}

	if err := cmd.Start(); err != nil {
		return nil, err
	}
	pid := cmd.Process.Pid
	cmd.Process.Release()

	child := &NamespacedChild{Pid: pid, PidFD: pidfd}

	// A child that dies inside its first 10ms did not survive namespace
	// setup; catch that now. A slower failure is indistinguishable from
	// success and is treated as success.
	if child.exitedWithin(10) {
		child.Reap()
		return nil, unix.ECHILD
	}

	log.Info("namespaced mount child started pid=%d pidfd=%d", pid, pidfd)
	return child, nil
}

// exitedWithin polls the pidfd for up to timeoutMs milliseconds; a
// readable pidfd means the child has exited.
func (c *NamespacedChild) exitedWithin(timeoutMs int) bool {
	if c.PidFD < 0 {
		return false
	}
	fds := []unix.PollFd{{Fd: int32(c.PidFD), Events: unix.POLLIN}}
	n, err := unix.Poll(fds, timeoutMs)
	return err == nil && n > 0
}

// Interrupt sends SIGINT through the pidfd, the teardown signal the
// service child translates into a clean unmount.
func (c *NamespacedChild) Interrupt() error {
	return unix.PidfdSendSignal(c.PidFD, unix.SIGINT, nil, 0)
}

// Reap waits for the child to exit and releases the pidfd.
func (c *NamespacedChild) Reap() error {
	var si unix.Siginfo
	err := unix.Waitid(unix.P_PIDFD, c.PidFD, &si, unix.WEXITED, nil)
	unix.Close(c.PidFD)
	c.PidFD = -1
	return err
}

package manager

import (
	"os"
	"path/filepath"

	"usvfs/internal/launch"
	"usvfs/internal/mount"
	"usvfs/internal/pathutil"
	"usvfs/internal/usvfserr"
)

// CreateProcessHooked launches file with arg as a child operating under
// the virtual namespace. Pending mounts are realized first
// unless file is blacklisted; wine/proton loaders get a
// WINEDLLOVERRIDES entry assembled from the forced-library table. The
// returned pid is tracked so Unmount can refuse while the child lives.
func (m *Manager) CreateProcessHooked(file, arg, workDir string, extraEnv []string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	base := filepath.Base(file)

	// Sanity check: with namespaced mounts active, a hooked child that
	// cannot enter the namespace would see none of them.
	if m.useMountNamespace && m.hasActiveLocked() && m.nsChild == nil {
		return -1, usvfserr.New("create-process", file, usvfserr.ErrIO)
	}

	if !contains(m.policy.BlacklistedExecs, base) {
		if err := m.mountLocked(); err != nil {
			return -1, err
		}
	}

	env := os.Environ()
	env = append(env, extraEnv...)

	if launch.IsWineLike(base) {
		if overrides := launch.WineDLLOverrides(m.forcedLibsLocked(base)); overrides != "" {
			env = append(env, "WINEDLLOVERRIDES="+overrides)
		}
	}

	spec := launch.Spec{
		File:    file,
		Arg:     arg,
		WorkDir: workDir,
		Env:     env,
	}
	if m.nsChild != nil {
		spec.NamespacePid = m.nsChild.Pid
	}

	pid, err := spec.Spawn()
	if err != nil {
		return -1, err
	}
	m.children = append(m.children, pid)
	return pid, nil
}

// hasActiveLocked reports whether any tracked state is serving
// requests. Caller holds m.mu.
func (m *Manager) hasActiveLocked() bool {
	for _, st := range m.mounts {
		if st.Readiness() == mount.Success {
			return true
		}
	}
	return false
}

// forcedLibsLocked collects the forced-library paths whose process name
// matches base case-insensitively. Caller holds m.mu.
func (m *Manager) forcedLibsLocked(base string) []string {
	var libs []string
	for process, l := range m.policy.ForcedLibraries {
		if pathutil.IEqual(process, base) {
			libs = append(libs, l...)
		}
	}
	return libs
}

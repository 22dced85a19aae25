package manager

import (
	"strings"

	"usvfs/internal/pathutil"
)

// BlacklistExecutable marks basename as never allowed to trigger a
// mount realization in CreateProcessHooked.
func (m *Manager) BlacklistExecutable(basename string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.policy.BlacklistedExecs = appendUnique(m.policy.BlacklistedExecs, basename)
	return m.persister.SavePolicy(m.policy)
}

// ClearExecutableBlacklist removes every blacklisted executable.
func (m *Manager) ClearExecutableBlacklist() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.policy.BlacklistedExecs = nil
	return m.persister.SavePolicy(m.policy)
}

// IsBlacklisted reports whether basename is blocked from triggering a
// mount.
func (m *Manager) IsBlacklisted(basename string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return contains(m.policy.BlacklistedExecs, basename)
}

// AddSkipFileSuffix registers a file suffix that virtualLinkFile and
// virtualLinkDirectoryStatic silently (or, with FailIfSkipped, loudly)
// skip.
func (m *Manager) AddSkipFileSuffix(suffix string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.policy.SkipFileSuffixes = appendUnique(m.policy.SkipFileSuffixes, suffix)
	return m.persister.SavePolicy(m.policy)
}

// ClearSkipFileSuffixes removes every skip-suffix rule.
func (m *Manager) ClearSkipFileSuffixes() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.policy.SkipFileSuffixes = nil
	return m.persister.SavePolicy(m.policy)
}

func (m *Manager) skipsSuffix(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, suf := range m.policy.SkipFileSuffixes {
		if strings.HasSuffix(strings.ToLower(name), strings.ToLower(suf)) {
			return true
		}
	}
	return false
}

// AddSkipDirectory registers a directory basename that
// virtualLinkDirectoryStatic's recursive walk skips.
func (m *Manager) AddSkipDirectory(basename string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.policy.SkipDirectories = appendUnique(m.policy.SkipDirectories, basename)
	return m.persister.SavePolicy(m.policy)
}

// ClearSkipDirectories removes every skip-directory rule.
func (m *Manager) ClearSkipDirectories() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.policy.SkipDirectories = nil
	return m.persister.SavePolicy(m.policy)
}

func (m *Manager) skipsDirectory(basename string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, dir := range m.policy.SkipDirectories {
		if pathutil.IEqual(basename, dir) {
			return true
		}
	}
	return false
}

// ForceLoadLibrary registers lib as a forced-load entry for process
// (a wine/proton-suffixed executable basename), contributing one
// "lib=n,b" term to that process's WINEDLLOVERRIDES.
func (m *Manager) ForceLoadLibrary(process, lib string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.policy.ForcedLibraries[process] = appendUnique(m.policy.ForcedLibraries[process], lib)
	return m.persister.SavePolicy(m.policy)
}

// ClearForcedLibraries removes every forced-library rule for process.
func (m *Manager) ClearForcedLibraries(process string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.policy.ForcedLibraries, process)
	return m.persister.SavePolicy(m.policy)
}

func appendUnique(list []string, v string) []string {
	if contains(list, v) {
		return list
	}
	return append(list, v)
}

func contains(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

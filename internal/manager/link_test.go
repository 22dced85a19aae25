package manager

import (
	"os"
	"path/filepath"
	"testing"

	"usvfs/internal/fdmap"
)

// newTestManager builds a Manager with a throwaway policy file, the
// same shape as the fuseops tests' setupFS helper.
func newTestManager(t *testing.T) *Manager {
	t.Helper()
	dir := t.TempDir()
	m, err := New(filepath.Join(dir, "policy.json"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return m
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

func TestVirtualLinkFileCreatesPendingState(t *testing.T) {
	m := newTestManager(t)
	src := t.TempDir()
	dst := t.TempDir()
	writeFile(t, filepath.Join(src, "data.txt"), "payload")
	writeFile(t, filepath.Join(dst, "existing.txt"), "already here")

	if err := m.VirtualLinkFile(filepath.Join(src, "data.txt"), filepath.Join(dst, "data.txt"), 0); err != nil {
		t.Fatalf("VirtualLinkFile: %v", err)
	}

	st, ok := m.mounts[dst]
	if !ok {
		t.Fatalf("no pending state for %s", dst)
	}

	// The linked file is layered on top of a snapshot of what was
	// already physically present at the destination.
	linked, err := st.Root.Find("/data.txt", false)
	if err != nil {
		t.Fatalf("Find(/data.txt): %v", err)
	}
	if got := linked.RealPath(); got != filepath.Join(src, "data.txt") {
		t.Errorf("linked realPath = %q, want %q", got, filepath.Join(src, "data.txt"))
	}
	if _, err := st.Root.Find("/existing.txt", false); err != nil {
		t.Errorf("snapshot missed pre-existing file: %v", err)
	}

	// The source's parent directory fd was opened and recorded.
	if st.Fds.At(src) == fdmap.NoFd {
		t.Errorf("source parent fd not recorded")
	}
}

func TestVirtualLinkFileSecondLinkJoinsExistingState(t *testing.T) {
	m := newTestManager(t)
	src := t.TempDir()
	dst := t.TempDir()
	writeFile(t, filepath.Join(src, "a.txt"), "a")
	writeFile(t, filepath.Join(src, "b.txt"), "b")

	if err := m.VirtualLinkFile(filepath.Join(src, "a.txt"), filepath.Join(dst, "a.txt"), 0); err != nil {
		t.Fatalf("first link: %v", err)
	}
	if err := m.VirtualLinkFile(filepath.Join(src, "b.txt"), filepath.Join(dst, "b.txt"), 0); err != nil {
		t.Fatalf("second link: %v", err)
	}

	if len(m.mounts) != 1 {
		t.Fatalf("expected both links in one pending state, got %d states", len(m.mounts))
	}
	st := m.mounts[dst]
	for _, name := range []string{"/a.txt", "/b.txt"} {
		if _, err := st.Root.Find(name, false); err != nil {
			t.Errorf("Find(%s): %v", name, err)
		}
	}
}

func TestVirtualLinkFileSkipSuffix(t *testing.T) {
	m := newTestManager(t)
	src := t.TempDir()
	dst := t.TempDir()
	writeFile(t, filepath.Join(src, "notes.bak"), "old")

	if err := m.AddSkipFileSuffix(".bak"); err != nil {
		t.Fatalf("AddSkipFileSuffix: %v", err)
	}

	// Silently skipped: success, but no state created.
	if err := m.VirtualLinkFile(filepath.Join(src, "notes.bak"), filepath.Join(dst, "notes.bak"), 0); err != nil {
		t.Fatalf("skipped link should succeed silently: %v", err)
	}
	if len(m.mounts) != 0 {
		t.Errorf("skipped link still created a pending state")
	}

	// With FailIfSkipped the same link fails loudly.
	if err := m.VirtualLinkFile(filepath.Join(src, "notes.bak"), filepath.Join(dst, "notes.bak"), FailIfSkipped); err == nil {
		t.Errorf("expected failure with FailIfSkipped")
	}
}

func TestVirtualLinkFileFailIfExists(t *testing.T) {
	m := newTestManager(t)
	src := t.TempDir()
	dst := t.TempDir()
	writeFile(t, filepath.Join(src, "x.txt"), "x")
	writeFile(t, filepath.Join(dst, "x.txt"), "already")

	err := m.VirtualLinkFile(filepath.Join(src, "x.txt"), filepath.Join(dst, "x.txt"), FailIfExists)
	if err == nil {
		t.Fatalf("expected EEXIST for physically present destination")
	}
}

func TestVirtualLinkDirectoryStaticRecursive(t *testing.T) {
	m := newTestManager(t)
	src := t.TempDir()
	dst := t.TempDir() + "-mnt"
	writeFile(t, filepath.Join(src, "top.txt"), "t")
	writeFile(t, filepath.Join(src, "sub", "inner.txt"), "i")

	if err := m.VirtualLinkDirectoryStatic(src, dst, Recursive); err != nil {
		t.Fatalf("VirtualLinkDirectoryStatic: %v", err)
	}

	st, ok := m.mounts[dst]
	if !ok {
		t.Fatalf("no pending state for %s", dst)
	}
	for _, p := range []string{"/top.txt", "/sub", "/sub/inner.txt"} {
		if _, err := st.Root.Find(p, false); err != nil {
			t.Errorf("Find(%s): %v", p, err)
		}
	}
	// Source root and its subdirectory both got fds recorded.
	if st.Fds.At(src) == fdmap.NoFd {
		t.Errorf("source root fd missing")
	}
	if st.Fds.At(filepath.Join(src, "sub")) == fdmap.NoFd {
		t.Errorf("subdirectory fd missing")
	}
}

func TestVirtualLinkDirectoryStaticSkipDirectory(t *testing.T) {
	m := newTestManager(t)
	src := t.TempDir()
	dst := t.TempDir() + "-mnt"
	writeFile(t, filepath.Join(src, "keep", "a.txt"), "a")
	writeFile(t, filepath.Join(src, "skipme", "b.txt"), "b")

	if err := m.AddSkipDirectory("skipme"); err != nil {
		t.Fatalf("AddSkipDirectory: %v", err)
	}
	if err := m.VirtualLinkDirectoryStatic(src, dst, Recursive); err != nil {
		t.Fatalf("VirtualLinkDirectoryStatic: %v", err)
	}

	st := m.mounts[dst]
	if _, err := st.Root.Find("/keep/a.txt", false); err != nil {
		t.Errorf("kept entry missing: %v", err)
	}
	if _, err := st.Root.Find("/skipme", false); err == nil {
		t.Errorf("skipped directory leaked into the tree")
	}

	if err := m.VirtualLinkDirectoryStatic(src, dst+"2", Recursive|FailIfSkipped); err == nil {
		t.Errorf("expected failure with FailIfSkipped on first filtered entry")
	}
}

func TestVirtualLinkDirectoryStaticMergesIntoExisting(t *testing.T) {
	m := newTestManager(t)
	srcA := t.TempDir()
	srcB := t.TempDir()
	dst := t.TempDir() + "-mnt"
	writeFile(t, filepath.Join(srcA, "from-a.txt"), "a")
	writeFile(t, filepath.Join(srcB, "from-b.txt"), "b")

	if err := m.VirtualLinkDirectoryStatic(srcA, dst, Recursive); err != nil {
		t.Fatalf("link A: %v", err)
	}
	if err := m.VirtualLinkDirectoryStatic(srcB, dst, Recursive); err != nil {
		t.Fatalf("link B: %v", err)
	}

	st := m.mounts[dst]
	if _, err := st.Root.Find("/from-a.txt", false); err != nil {
		t.Errorf("entry from first link lost by merge: %v", err)
	}
	if _, err := st.Root.Find("/from-b.txt", false); err != nil {
		t.Errorf("entry from second link missing: %v", err)
	}
	// Merge overwrote the root's real path with the later source.
	if got := st.Root.RealPath(); got != srcB {
		t.Errorf("root realPath = %q, want %q (last merge wins)", got, srcB)
	}
}

func TestCreateTargetSetsWriteRedirect(t *testing.T) {
	m := newTestManager(t)
	src := t.TempDir()
	src2 := t.TempDir()
	dst := t.TempDir() + "-mnt"

	if err := m.VirtualLinkDirectoryStatic(src, dst, Recursive|CreateTarget); err != nil {
		t.Fatalf("link: %v", err)
	}
	if got := m.mounts[dst].UpperDir; got != src {
		t.Errorf("UpperDir = %q, want %q", got, src)
	}

	// A later CreateTarget on the same directory replaces the earlier
	// one: innermost wins.
	if err := m.VirtualLinkDirectoryStatic(src2, dst, Recursive|CreateTarget); err != nil {
		t.Fatalf("second link: %v", err)
	}
	if got := m.mounts[dst].UpperDir; got != src2 {
		t.Errorf("UpperDir after replacement = %q, want %q", got, src2)
	}
}

func TestPolicyPersistsAcrossManagers(t *testing.T) {
	dir := t.TempDir()
	policyPath := filepath.Join(dir, "policy.json")

	m1, err := New(policyPath)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := m1.AddSkipFileSuffix(".tmp"); err != nil {
		t.Fatalf("AddSkipFileSuffix: %v", err)
	}
	if err := m1.BlacklistExecutable("explorer.exe"); err != nil {
		t.Fatalf("BlacklistExecutable: %v", err)
	}
	if err := m1.ForceLoadLibrary("wine", "/opt/libs/xaudio2_7.dll"); err != nil {
		t.Fatalf("ForceLoadLibrary: %v", err)
	}

	m2, err := New(policyPath)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if !m2.skipsSuffix("scratch.tmp") {
		t.Errorf("skip suffix did not survive reload")
	}
	if !m2.IsBlacklisted("explorer.exe") {
		t.Errorf("blacklist did not survive reload")
	}
	if libs := m2.forcedLibsLocked("wine"); len(libs) != 1 {
		t.Errorf("forced libraries did not survive reload: %v", libs)
	}
}

func TestSkipSuffixCaseInsensitive(t *testing.T) {
	m := newTestManager(t)
	if err := m.AddSkipFileSuffix(".BAK"); err != nil {
		t.Fatalf("AddSkipFileSuffix: %v", err)
	}
	if !m.skipsSuffix("save.bak") {
		t.Errorf("suffix match should be case-insensitive")
	}
}

func TestSkipDirectoryCaseInsensitive(t *testing.T) {
	m := newTestManager(t)
	if err := m.AddSkipDirectory(".Git"); err != nil {
		t.Fatalf("AddSkipDirectory: %v", err)
	}
	if !m.skipsDirectory(".GIT") {
		t.Errorf("directory match should be case-insensitive")
	}

	src := t.TempDir()
	dst := t.TempDir() + "-mnt"
	writeFile(t, filepath.Join(src, ".GIT", "config"), "x")

	if err := m.VirtualLinkDirectoryStatic(src, dst, Recursive); err != nil {
		t.Fatalf("VirtualLinkDirectoryStatic: %v", err)
	}
	if _, err := m.mounts[dst].Root.Find("/.GIT", false); err == nil {
		t.Errorf("differently-cased skip directory leaked into the tree")
	}
}

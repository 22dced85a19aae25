package state

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadPolicyCreatesDefault(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(filepath.Join(dir, "policy.json"))
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	p, err := m.LoadPolicy()
	if err != nil {
		t.Fatalf("LoadPolicy: %v", err)
	}
	if p.ForcedLibraries == nil {
		t.Errorf("expected non-nil ForcedLibraries map on a fresh policy set")
	}
	if len(p.SkipFileSuffixes) != 0 {
		t.Errorf("expected empty SkipFileSuffixes on a fresh policy set")
	}
}

func TestSaveAndLoadPolicyRoundTrip(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(filepath.Join(dir, "policy.json"))
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	p := &PolicySet{
		SkipFileSuffixes: []string{".tmp", ".bak"},
		SkipDirectories:  []string{".git"},
		BlacklistedExecs: []string{"updater.exe"},
		ForcedLibraries:  map[string][]string{"wine": {"d3d9=n,b"}},
		Version:          1,
	}
	if err := m.SavePolicy(p); err != nil {
		t.Fatalf("SavePolicy: %v", err)
	}

	loaded, err := m.LoadPolicy()
	if err != nil {
		t.Fatalf("LoadPolicy: %v", err)
	}
	if len(loaded.SkipFileSuffixes) != 2 || loaded.SkipFileSuffixes[0] != ".tmp" {
		t.Errorf("SkipFileSuffixes = %v, want [.tmp .bak]", loaded.SkipFileSuffixes)
	}
	if loaded.ForcedLibraries["wine"][0] != "d3d9=n,b" {
		t.Errorf("ForcedLibraries[wine] = %v, want [d3d9=n,b]", loaded.ForcedLibraries["wine"])
	}
}

func TestSavePolicyWritesBackup(t *testing.T) {
	dir := t.TempDir()
	statePath := filepath.Join(dir, "policy.json")
	m, err := NewManager(statePath)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	if err := m.SavePolicy(&PolicySet{ForcedLibraries: map[string][]string{}, Version: 1}); err != nil {
		t.Fatalf("first SavePolicy: %v", err)
	}
	if err := m.SavePolicy(&PolicySet{ForcedLibraries: map[string][]string{}, Version: 2}); err != nil {
		t.Fatalf("second SavePolicy: %v", err)
	}

	backupDir := filepath.Join(dir, ".usvfs-backups")
	entries, err := os.ReadDir(backupDir)
	if err != nil {
		t.Fatalf("ReadDir backups: %v", err)
	}
	if len(entries) == 0 {
		t.Errorf("expected at least one backup after two saves")
	}
}

package mount

import (
	"os"
	"path/filepath"
	"testing"

	"usvfs/internal/backingfs"
	"usvfs/internal/fdmap"
	"usvfs/internal/vft"
)

func TestPlanRoundTrip(t *testing.T) {
	realRoot := t.TempDir()
	if err := os.MkdirAll(filepath.Join(realRoot, "sub"), 0755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(filepath.Join(realRoot, "sub", "f.txt"), []byte("x"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	src := NewPending("/mnt/point", "/upper")
	src.Root.SetRealPath(realRoot)
	if _, err := src.Root.Add("/Sub", filepath.Join(realRoot, "sub"), vft.KindDir, false); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if _, err := src.Root.Add("/Sub/f.txt", filepath.Join(realRoot, "sub", "f.txt"), vft.KindFile, false); err != nil {
		t.Fatalf("Add: %v", err)
	}

	planPath := filepath.Join(t.TempDir(), "plan.json")
	if err := src.Plan().Save(planPath); err != nil {
		t.Fatalf("Save: %v", err)
	}

	p, err := LoadPlan(planPath)
	if err != nil {
		t.Fatalf("LoadPlan: %v", err)
	}
	if p.Mountpoint != "/mnt/point" || p.UpperDir != "/upper" {
		t.Errorf("plan header = %q/%q, want /mnt/point and /upper", p.Mountpoint, p.UpperDir)
	}

	got, err := p.Realize()
	if err != nil {
		t.Fatalf("Realize: %v", err)
	}
	defer got.Close(backingfs.CloseFd)

	// Display case survives the round trip, and lookups stay
	// case-insensitive on the rebuilt tree.
	sub, err := got.Root.Find("/sub", false)
	if err != nil {
		t.Fatalf("Find(/sub): %v", err)
	}
	if sub.Name() != "Sub" {
		t.Errorf("display name = %q, want Sub", sub.Name())
	}
	if _, err := got.Root.Find("/SUB/F.TXT", false); err != nil {
		t.Errorf("Find(/SUB/F.TXT): %v", err)
	}

	// The rebuilt state opened its own fds for the root and every
	// directory entry.
	if got.Fds.At(realRoot) == fdmap.NoFd {
		t.Errorf("root fd missing after Realize")
	}
	if got.Fds.At(filepath.Join(realRoot, "sub")) == fdmap.NoFd {
		t.Errorf("directory fd missing after Realize")
	}
}

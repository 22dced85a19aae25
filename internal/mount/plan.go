package mount

import (
	"encoding/json"
	"os"

	"usvfs/internal/backingfs"
	"usvfs/internal/fdmap"
	"usvfs/internal/vft"
)

// Plan is the serialized form of a pending State, handed to the
// namespaced service child over a temp file. Fds are deliberately not
// part of a Plan — the child opens its own set inside its namespace,
// since fd numbers do not survive exec.
type Plan struct {
	Mountpoint string      `json:"mountpoint"`
	RootReal   string      `json:"root_real"`
	UpperDir   string      `json:"upper_dir,omitempty"`
	Entries    []PlanEntry `json:"entries"`
}

// PlanEntry is one virtual-path -> real-path binding. Entries are
// ordered parents-before-children, so replaying them with Add never
// hits a missing intermediate component.
type PlanEntry struct {
	Path     string `json:"path"`
	RealPath string `json:"real_path"`
	Dir      bool   `json:"dir,omitempty"`
}

// Plan snapshots s's tree into a serializable Plan.
func (s *State) Plan() *Plan {
	p := &Plan{
		Mountpoint: s.Mountpoint,
		RootReal:   s.Root.RealPath(),
		UpperDir:   s.UpperDir,
	}
	collectPlan(s.Root, p)
	return p
}

func collectPlan(it *vft.Item, p *Plan) {
	for _, c := range it.Children() {
		p.Entries = append(p.Entries, PlanEntry{
			Path:     c.FilePath(),
			RealPath: c.RealPath(),
			Dir:      c.Kind() == vft.KindDir,
		})
		collectPlan(c, p)
	}
}

// Save writes p as JSON to path, world-unreadable since real paths may
// leak directory layout.
func (p *Plan) Save(path string) error {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// LoadPlan reads a Plan back from path.
func LoadPlan(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var p Plan
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Realize rebuilds a pending State from p, opening a fresh directory fd
// for the root and for every directory entry. It is the receiving half
// of State.Plan, run inside the service child's own namespace.
func (p *Plan) Realize() (*State, error) {
	s := NewPending(p.Mountpoint, p.UpperDir)
	s.Root.SetRealPath(p.RootReal)

	if fd, err := backingfs.OpenDirFd(p.RootReal); err == nil {
		s.Fds.Insert(p.RootReal, fd)
	}

	for _, e := range p.Entries {
		kind := vft.KindFile
		if e.Dir {
			kind = vft.KindDir
		}
		if _, err := s.Root.Add(e.Path, e.RealPath, kind, true); err != nil {
			s.Close(backingfs.CloseFd)
			return nil, err
		}
		if e.Dir && s.Fds.At(e.RealPath) == fdmap.NoFd {
			if fd, err := backingfs.OpenDirFd(e.RealPath); err == nil {
				s.Fds.Insert(e.RealPath, fd)
			}
		}
	}
	return s, nil
}

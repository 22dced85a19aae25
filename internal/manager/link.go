package manager

import (
	"io/fs"
	"os"
	"path/filepath"

	"usvfs/internal/backingfs"
	"usvfs/internal/fdmap"
	"usvfs/internal/mount"
	"usvfs/internal/usvfserr"
	"usvfs/internal/vft"
)

// VirtualLinkFile maps a single real file at source onto a virtual
// destination path, creating or extending whichever pending
// mount.State owns destination's parent directory.
func (m *Manager) VirtualLinkFile(source, destination string, flags LinkFlags) error {
	base := filepath.Base(source)
	if m.skipsSuffix(base) {
		if flags.has(FailIfSkipped) {
			return usvfserr.New("link-file", destination, usvfserr.ErrInvalid)
		}
		return nil
	}

	destDir := filepath.Dir(destination)
	destName := filepath.Base(destination)

	m.mu.Lock()
	defer m.mu.Unlock()

	if flags.has(FailIfExists) {
		if _, err := os.Stat(destination); err == nil {
			return usvfserr.New("link-file", destination, usvfserr.ErrExists)
		}
		if st, ok := m.mounts[destDir]; ok {
			if _, err := st.Root.Find("/"+destName, false); err == nil {
				return usvfserr.New("link-file", destination, usvfserr.ErrExists)
			}
		}
	}

	st, ok := m.mounts[destDir]
	if !ok {
		st = mount.NewPending(destDir, "")
		if err := snapshotDirInto(st.Root, st.Fds, destDir); err != nil {
			log.Debug("virtualLinkFile: %s has no existing contents to snapshot: %v", destDir, err)
		}
		m.mounts[destDir] = st
	}

	if srcParent := filepath.Dir(source); st.Fds.At(srcParent) == fdmap.NoFd {
		if fd, err := backingfs.OpenDirFd(srcParent); err == nil {
			st.Fds.Insert(srcParent, fd)
		}
	}

	if _, err := st.Root.AddDetect("/"+destName, source, true); err != nil {
		return err
	}
	return nil
}

// snapshotDirInto populates root (and fds, for every directory visited)
// from the real contents of realDir, the way virtualLinkFile's fallback
// path builds a fresh pending MountState by snapshotting the
// destination directory on disk before layering the new file on top.
func snapshotDirInto(root *vft.Item, fds *fdmap.Map, realDir string) error {
	return filepath.WalkDir(realDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || path == realDir {
			return err
		}
		rel, relErr := filepath.Rel(realDir, path)
		if relErr != nil {
			return relErr
		}
		vpath := "/" + filepath.ToSlash(rel)

		kind := vft.KindFile
		if d.IsDir() {
			kind = vft.KindDir
		}
		if _, err := root.Add(vpath, path, kind, true); err != nil {
			return err
		}
		if d.IsDir() {
			if fd, err := backingfs.OpenDirFd(path); err == nil {
				fds.Insert(path, fd)
			}
		}
		return nil
	})
}

// VirtualLinkDirectoryStatic maps an entire real directory tree onto
// destination, merging it into whichever pending mount.State already
// owns destination.
func (m *Manager) VirtualLinkDirectoryStatic(source, destination string, flags LinkFlags) error {
	if flags.has(FailIfExists) {
		if _, err := os.Stat(destination); err == nil {
			return usvfserr.New("link-dir", destination, usvfserr.ErrExists)
		}
	}

	srcFd, err := backingfs.OpenDirFd(source)
	if err != nil {
		return usvfserr.New("link-dir", destination, err)
	}

	fresh := vft.NewRoot(source)
	freshFds := fdmap.New()
	freshFds.Insert(source, srcFd)

	if flags.has(Recursive) {
		if err := m.walkSourceInto(fresh, freshFds, source, flags); err != nil {
			freshFds.CloseAll(backingfs.CloseFd)
			return err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.mounts[destination]
	if ok && flags.has(FailIfExists) {
		freshFds.CloseAll(backingfs.CloseFd)
		return usvfserr.New("link-dir", destination, usvfserr.ErrExists)
	}
	if !ok {
		st = mount.NewPending(destination, "")
		m.mounts[destination] = st
	}
	if flags.has(CreateTarget) {
		// Writes to the destination redirect back to source. A later
		// CreateTarget on the same directory replaces this one, so the
		// innermost link wins.
		st.UpperDir = source
	}
	st.Root.Merge(fresh)

	freshFds.Range(func(path string, fd int) bool {
		st.Fds.Insert(path, fd)
		return true
	})
	return nil
}

// walkSourceInto recurses through realDir, adding every entry not
// excluded by a skip rule into root. The caller has already inserted
// root's own fd into fds; this only handles descendants.
func (m *Manager) walkSourceInto(root *vft.Item, fds *fdmap.Map, realDir string, flags LinkFlags) error {
	return filepath.WalkDir(realDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || path == realDir {
			return err
		}

		name := d.Name()
		if d.IsDir() && m.skipsDirectory(name) {
			if flags.has(FailIfSkipped) {
				return usvfserr.New("link-dir", path, usvfserr.ErrInvalid)
			}
			return filepath.SkipDir
		}
		if !d.IsDir() && m.skipsSuffix(name) {
			if flags.has(FailIfSkipped) {
				return usvfserr.New("link-dir", path, usvfserr.ErrInvalid)
			}
			return nil
		}

		rel, relErr := filepath.Rel(realDir, path)
		if relErr != nil {
			return relErr
		}
		vpath := "/" + filepath.ToSlash(rel)

		kind := vft.KindFile
		if d.IsDir() {
			kind = vft.KindDir
		}
		if _, err := root.Add(vpath, path, kind, true); err != nil {
			return err
		}
		if d.IsDir() {
			if fd, err := backingfs.OpenDirFd(path); err == nil {
				fds.Insert(path, fd)
			}
		}
		return nil
	})
}

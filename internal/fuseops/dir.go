package fuseops

import (
	"context"
	"path/filepath"
	"syscall"

	"bazil.org/fuse"
	fusefs "bazil.org/fuse/fs"
	"golang.org/x/sys/unix"

	"usvfs/internal/backingfs"
	"usvfs/internal/usvfserr"
	"usvfs/internal/vft"
)

// Dir represents a directory node — virtual, mapped, or the root.
// Every directory, virtual or mapped, wraps a vft.Item.
type Dir struct {
	base
}

// realParentDir returns the real directory a new child of d should be
// created under: the upper-dir-rooted path if an upper dir is
// configured, otherwise d's own real path.
func (d *Dir) realParentDir() string {
	if d.fsys.State.UpperDir != "" {
		return filepath.Join(d.fsys.State.UpperDir, d.item.FilePath())
	}
	return d.item.RealPath()
}

// Lookup implements fs.NodeStringLookuper.
func (d *Dir) Lookup(ctx context.Context, name string) (fusefs.Node, error) {
	// ".directory" compatibility quirk: some file managers probe
	// for a literal ".directory" settings file that the tree never
	// tracks. Pass the probe straight through to the real backing
	// directory instead of failing it out of hand.
	if name == ".directory" {
		return d.lookupDotDirectory()
	}

	child, err := d.item.Find(name, false)
	if err != nil {
		return nil, syscall.ENOENT
	}

	if child.Kind() == vft.KindDir {
		return &Dir{base{fsys: d.fsys, item: child}}, nil
	}
	return &File{base{fsys: d.fsys, item: child}}, nil
}

func (d *Dir) lookupDotDirectory() (fusefs.Node, error) {
	realDir := d.item.RealPath()
	fd, err := backingfs.OpenDirFd(realDir)
	if err != nil {
		return nil, syscall.ENOENT
	}
	defer unix.Close(fd)

	var st unix.Stat_t
	if err := unix.Fstatat(fd, ".directory", &st, unix.AT_SYMLINK_NOFOLLOW); err != nil {
		return nil, syscall.ENOENT
	}

	item := vft.Detached(".directory", filepath.Join(realDir, ".directory"), vft.KindFile)
	return &File{base{fsys: d.fsys, item: item}}, nil
}

// ReadDirAll implements fs.HandleReadDirAller.
func (d *Dir) ReadDirAll(ctx context.Context) ([]fuse.Dirent, error) {
	children := d.item.Children()
	entries := make([]fuse.Dirent, 0, len(children))
	for _, c := range children {
		typ := fuse.DT_File
		if c.Kind() == vft.KindDir {
			typ = fuse.DT_Dir
		}
		entries = append(entries, fuse.Dirent{Name: c.Name(), Type: typ})
	}
	return entries, nil
}

// Mkdir implements fs.NodeMkdirer.
func (d *Dir) Mkdir(ctx context.Context, req *fuse.MkdirRequest) (fusefs.Node, error) {
	if existing, err := d.item.Find(req.Name, true); err == nil {
		if !existing.Deleted() {
			return nil, syscall.EEXIST
		}
		existing.Resurrect(req.Name)
		return &Dir{base{fsys: d.fsys, item: existing}}, nil
	}

	parentReal := d.realParentDir()
	fd, err := backingfs.EnsureDirFd(d.fsys.State.Fds, d.fsys.State.UpperDir, parentReal)
	if err != nil {
		return nil, usvfserr.ToErrno(usvfserr.New("mkdir", req.Name, err))
	}

	if err := unix.Mkdirat(fd, req.Name, uint32(req.Mode.Perm())); err != nil {
		return nil, usvfserr.ToErrno(usvfserr.New("mkdir", req.Name, err))
	}

	realChild := filepath.Join(parentReal, req.Name)
	child, err := d.item.Add(req.Name, realChild, vft.KindDir, false)
	if err != nil {
		return nil, usvfserr.ToErrno(err)
	}
	return &Dir{base{fsys: d.fsys, item: child}}, nil
}

// Create implements fs.NodeCreater.
func (d *Dir) Create(ctx context.Context, req *fuse.CreateRequest, resp *fuse.CreateResponse) (fusefs.Node, fusefs.Handle, error) {
	parentReal := d.realParentDir()
	fd, err := backingfs.EnsureDirFd(d.fsys.State.Fds, d.fsys.State.UpperDir, parentReal)
	if err != nil {
		return nil, nil, usvfserr.ToErrno(usvfserr.New("create", req.Name, err))
	}

	handleFd, err := unix.Openat(fd, req.Name, int(req.Flags)|unix.O_CREAT, uint32(req.Mode.Perm()))
	if err != nil {
		return nil, nil, usvfserr.ToErrno(usvfserr.New("create", req.Name, err))
	}

	realChild := filepath.Join(parentReal, req.Name)
	child, err := d.item.Find(req.Name, false)
	if err != nil {
		child, err = d.item.Add(req.Name, realChild, vft.KindFile, true)
		if err != nil {
			unix.Close(handleFd)
			return nil, nil, usvfserr.ToErrno(err)
		}
	}

	node := &File{base{fsys: d.fsys, item: child}}
	return node, &Handle{fd: handleFd}, nil
}

// Remove implements fs.NodeRemover, covering both unlink and rmdir —
// bazil folds both into one callback distinguished by req.Dir.
func (d *Dir) Remove(ctx context.Context, req *fuse.RemoveRequest) error {
	target, err := d.item.Find(req.Name, false)
	if err != nil {
		return syscall.ENOENT
	}

	realPath := target.RealPath()
	parentDir := filepath.Dir(realPath)
	name := filepath.Base(realPath)
	fd, err := backingfs.EnsureDirFd(d.fsys.State.Fds, d.fsys.State.UpperDir, parentDir)
	if err != nil {
		return usvfserr.ToErrno(usvfserr.New("remove", req.Name, err))
	}

	if req.Dir {
		if target.Kind() != vft.KindDir {
			return syscall.ENOTDIR
		}
		if !target.IsEmpty() {
			return syscall.ENOTEMPTY
		}
		if err := unix.Unlinkat(fd, name, unix.AT_REMOVEDIR); err != nil {
			return usvfserr.ToErrno(usvfserr.New("rmdir", req.Name, err))
		}
	} else {
		if err := unix.Unlinkat(fd, name, 0); err != nil {
			return usvfserr.ToErrno(usvfserr.New("unlink", req.Name, err))
		}
	}

	if err := d.item.Erase(req.Name, false); err != nil {
		log.Warn("erase after remove %q: %v", req.Name, err)
	}
	return nil
}

// Rename implements fs.NodeRenamer. bazil.org/fuse's RenameRequest
// carries no rename(2) flags (it predates renameat2's NOREPLACE/
// EXCHANGE passthrough), so every rename here is a plain renameat2
// call with flags 0.
func (d *Dir) Rename(ctx context.Context, req *fuse.RenameRequest, newDir fusefs.Node) error {
	target, ok := newDir.(*Dir)
	if !ok {
		return syscall.EINVAL
	}

	src, err := d.item.Find(req.OldName, false)
	if err != nil {
		return syscall.ENOENT
	}

	srcReal := src.RealPath()
	srcParent := filepath.Dir(srcReal)
	srcName := filepath.Base(srcReal)

	dstParent := target.realParentDir()
	dstReal := filepath.Join(dstParent, req.NewName)

	fdSrc, err := backingfs.EnsureDirFd(d.fsys.State.Fds, d.fsys.State.UpperDir, srcParent)
	if err != nil {
		return usvfserr.ToErrno(usvfserr.New("rename", req.OldName, err))
	}
	fdDst, err := backingfs.EnsureDirFd(d.fsys.State.Fds, d.fsys.State.UpperDir, dstParent)
	if err != nil {
		return usvfserr.ToErrno(usvfserr.New("rename", req.NewName, err))
	}

	if err := unix.Renameat2(fdSrc, srcName, fdDst, req.NewName, 0); err != nil {
		return usvfserr.ToErrno(usvfserr.New("rename", req.OldName, err))
	}

	if _, err := target.item.Add(req.NewName, dstReal, src.Kind(), true); err != nil {
		// Best-effort reverse: the tree update failed after the real
		// rename succeeded, so put the backing file back where readers
		// still expect to find it and report I/O failure either way.
		if revErr := unix.Renameat2(fdDst, req.NewName, fdSrc, srcName, 0); revErr != nil {
			log.Error("rename recovery for %q failed: %v", req.OldName, revErr)
		}
		return usvfserr.ToErrno(usvfserr.New("rename", req.OldName, usvfserr.ErrIO))
	}

	if err := d.item.Erase(req.OldName, true); err != nil {
		log.Warn("erase old name after rename %q: %v", req.OldName, err)
	}
	return nil
}

// Symlink implements fs.NodeSymlinker. Symlink creation is not part
// of this filesystem's surface.
func (d *Dir) Symlink(ctx context.Context, req *fuse.SymlinkRequest) (fusefs.Node, error) {
	return nil, syscall.ENOSYS
}

// Link implements fs.NodeLinker. Hardlinking across the virtual tree's
// distinct backing locations has no single well-defined real target.
func (d *Dir) Link(ctx context.Context, req *fuse.LinkRequest, old fusefs.Node) (fusefs.Node, error) {
	return nil, syscall.ENOSYS
}

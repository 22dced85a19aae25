package fuseops

import (
	"context"
	"path/filepath"

	"bazil.org/fuse"
	fusefs "bazil.org/fuse/fs"
	"golang.org/x/sys/unix"

	"usvfs/internal/backingfs"
	"usvfs/internal/usvfserr"
)

// File represents a regular file node. Opens go through the backing
// directory's fd rather than a full path resolution.
type File struct {
	base
}

// Open implements fs.NodeOpener.
func (f *File) Open(ctx context.Context, req *fuse.OpenRequest, resp *fuse.OpenResponse) (fusefs.Handle, error) {
	realPath := f.item.RealPath()
	parentDir := filepath.Dir(realPath)
	name := filepath.Base(realPath)

	fd, err := backingfs.EnsureDirFd(f.fsys.State.Fds, f.fsys.State.UpperDir, parentDir)
	if err != nil {
		return nil, usvfserr.ToErrno(usvfserr.New("open", f.item.FilePath(), err))
	}

	handleFd, err := unix.Openat(fd, name, int(req.Flags), 0)
	if err != nil {
		return nil, usvfserr.ToErrno(usvfserr.New("open", f.item.FilePath(), err))
	}

	resp.Flags |= fuse.OpenDirectIO
	return &Handle{fd: handleFd}, nil
}

// Package fuseops is the filesystem-callback layer: it implements
// bazil.org/fuse's fs.FS/fs.Node/fs.Handle interfaces against a
// mount.State's virtual file tree and fd map. Every method here either
// reads the tree (vft.Item), issues an *at syscall anchored through
// backingfs, or both. Entries inside a directory are reached through
// that directory's fd; a directory itself is opened by full path when
// no fd for it is recorded yet, and Statfs opens the root by path.
package fuseops

import (
	"context"

	"bazil.org/fuse"
	fusefs "bazil.org/fuse/fs"
	"golang.org/x/sys/unix"

	"usvfs/internal/logging"
	"usvfs/internal/mount"
	"usvfs/internal/usvfserr"
)

var log = logging.Get("fuseops")

// FS is the bazil.org/fuse fs.FS implementation for one mount.State.
type FS struct {
	State *mount.State
}

// New builds the fs.FS to hand to fusefs.Serve for state.
func New(state *mount.State) *FS {
	return &FS{State: state}
}

// Root implements fs.FS.
func (f *FS) Root() (fusefs.Node, error) {
	return &Dir{base{fsys: f, item: f.State.Root}}, nil
}

// Statfs implements fs.FSStatfser against the mount's own backing
// directory, so df/statvfs report the real filesystem's capacity
// rather than a synthetic one.
func (f *FS) Statfs(ctx context.Context, req *fuse.StatfsRequest, resp *fuse.StatfsResponse) error {
	realPath := f.State.Root.RealPath()
	fd, err := unix.Open(realPath, unix.O_PATH|unix.O_DIRECTORY, 0)
	if err != nil {
		return usvfserr.ToErrno(usvfserr.New("statfs", "/", err))
	}
	defer unix.Close(fd)

	var st unix.Statfs_t
	if err := unix.Fstatfs(fd, &st); err != nil {
		return usvfserr.ToErrno(usvfserr.New("statfs", "/", err))
	}

	resp.Blocks = st.Blocks
	resp.Bfree = st.Bfree
	resp.Bavail = st.Bavail
	resp.Files = st.Files
	resp.Ffree = st.Ffree
	resp.Bsize = uint32(st.Bsize)
	resp.Namelen = uint32(st.Namelen)
	resp.Frsize = uint32(st.Frsize)
	return nil
}

package fuseops

import (
	"context"
	"path/filepath"
	"syscall"

	"bazil.org/fuse"
	"golang.org/x/sys/unix"

	"usvfs/internal/backingfs"
	"usvfs/internal/usvfserr"
	"usvfs/internal/vft"
)

// base is embedded by Dir and File: both wrap a *vft.Item against the
// same *FS and share the getattr/setattr implementation.
type base struct {
	fsys *FS
	item *vft.Item
}

// Attr implements fs.Node.
func (b *base) Attr(ctx context.Context, a *fuse.Attr) error {
	st, err := statItem(b.fsys.State, b.item)
	if err != nil {
		return usvfserr.ToErrno(usvfserr.New("getattr", b.item.FilePath(), err))
	}
	fillAttr(a, st)
	return nil
}

// Setattr implements fs.NodeSetattrer, covering chmod, chown, and
// truncate.
func (b *base) Setattr(ctx context.Context, req *fuse.SetattrRequest, resp *fuse.SetattrResponse) error {
	realPath := b.item.RealPath()
	parentDir := filepath.Dir(realPath)
	name := filepath.Base(realPath)

	fd, err := backingfs.EnsureDirFd(b.fsys.State.Fds, b.fsys.State.UpperDir, parentDir)
	if err != nil {
		return usvfserr.ToErrno(usvfserr.New("setattr", b.item.FilePath(), err))
	}

	if req.Valid.Mode() {
		if err := unix.Fchmodat(fd, name, uint32(req.Mode.Perm()), 0); err != nil {
			return usvfserr.ToErrno(usvfserr.New("setattr", b.item.FilePath(), err))
		}
	}

	if req.Valid.Uid() || req.Valid.Gid() {
		uid, gid := -1, -1
		if req.Valid.Uid() {
			uid = int(req.Uid)
		}
		if req.Valid.Gid() {
			gid = int(req.Gid)
		}
		if err := unix.Fchownat(fd, name, uid, gid, unix.AT_SYMLINK_NOFOLLOW); err != nil {
			return usvfserr.ToErrno(usvfserr.New("setattr", b.item.FilePath(), err))
		}
	}

	if req.Valid.Size() {
		wfd, err := unix.Openat(fd, name, unix.O_WRONLY, 0)
		if err != nil {
			return usvfserr.ToErrno(usvfserr.New("setattr", b.item.FilePath(), err))
		}
		truncErr := unix.Ftruncate(wfd, int64(req.Size))
		unix.Close(wfd)
		if truncErr != nil {
			return usvfserr.ToErrno(usvfserr.New("setattr", b.item.FilePath(), truncErr))
		}
	}

	st, err := statItem(b.fsys.State, b.item)
	if err != nil {
		return usvfserr.ToErrno(usvfserr.New("setattr", b.item.FilePath(), err))
	}
	fillAttr(&resp.Attr, st)
	return nil
}

// Fsync implements fs.NodeFsyncer. Durability syncing is not part of
// this filesystem's surface.
func (b *base) Fsync(ctx context.Context, req *fuse.FsyncRequest) error {
	return syscall.ENOSYS
}

// Readlink implements fs.NodeReadlinker for any node backed by a real
// symlink.
func (b *base) Readlink(ctx context.Context, req *fuse.ReadlinkRequest) (string, error) {
	realPath := b.item.RealPath()
	parentDir := filepath.Dir(realPath)
	name := filepath.Base(realPath)

	fd, err := backingfs.EnsureDirFd(b.fsys.State.Fds, b.fsys.State.UpperDir, parentDir)
	if err != nil {
		return "", usvfserr.ToErrno(usvfserr.New("readlink", b.item.FilePath(), err))
	}

	buf := make([]byte, 4096)
	n, err := unix.Readlinkat(fd, name, buf)
	if err != nil {
		return "", usvfserr.ToErrno(usvfserr.New("readlink", b.item.FilePath(), err))
	}
	return string(buf[:n]), nil
}

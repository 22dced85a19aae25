package fuseops

import (
	"os"
	"path/filepath"
	"time"

	"bazil.org/fuse"
	"golang.org/x/sys/unix"

	"usvfs/internal/backingfs"
	"usvfs/internal/fdmap"
	"usvfs/internal/mount"
	"usvfs/internal/vft"
)

// statItem resolves item's current attributes through the fd anchored
// at its parent directory: every attribute lookup goes through an *at
// syscall rather than a bare path lookup. Directories
// that already have an open fd (recorded because a child was resolved
// through them) are stat'd directly via AT_EMPTY_PATH to avoid an extra
// path resolution.
func statItem(state *mount.State, item *vft.Item) (*unix.Stat_t, error) {
	realPath := item.RealPath()

	if item.Kind() == vft.KindDir {
		if fd := state.Fds.At(realPath); fd != fdmap.NoFd {
			var st unix.Stat_t
			if err := unix.Fstatat(fd, "", &st, unix.AT_EMPTY_PATH); err == nil {
				return &st, nil
			}
		}
	}

	parentDir := filepath.Dir(realPath)
	base := filepath.Base(realPath)

	fd, err := backingfs.EnsureDirFd(state.Fds, state.UpperDir, parentDir)
	if err != nil {
		return nil, err
	}

	var st unix.Stat_t
	if err := unix.Fstatat(fd, base, &st, unix.AT_SYMLINK_NOFOLLOW); err != nil {
		return nil, err
	}
	return &st, nil
}

// fillAttr translates a raw unix.Stat_t into a fuse.Attr field by
// field.
func fillAttr(a *fuse.Attr, st *unix.Stat_t) {
	a.Size = uint64(st.Size)
	a.Mode = modeFromRaw(uint32(st.Mode))
	a.Uid = st.Uid
	a.Gid = st.Gid
	a.Nlink = uint32(st.Nlink)
	a.BlockSize = uint32(st.Blksize)
	a.Blocks = uint64(st.Blocks)
	a.Mtime = time.Unix(st.Mtim.Sec, st.Mtim.Nsec)
	a.Atime = time.Unix(st.Atim.Sec, st.Atim.Nsec)
	a.Ctime = time.Unix(st.Ctim.Sec, st.Ctim.Nsec)
}

func modeFromRaw(mode uint32) os.FileMode {
	perm := os.FileMode(mode & 0o777)
	switch mode & unix.S_IFMT {
	case unix.S_IFDIR:
		perm |= os.ModeDir
	case unix.S_IFLNK:
		perm |= os.ModeSymlink
	case unix.S_IFSOCK:
		perm |= os.ModeSocket
	case unix.S_IFIFO:
		perm |= os.ModeNamedPipe
	case unix.S_IFBLK:
		perm |= os.ModeDevice
	case unix.S_IFCHR:
		perm |= os.ModeDevice | os.ModeCharDevice
	}
	return perm
}

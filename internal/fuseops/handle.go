package fuseops

import (
	"context"
	"syscall"

	"bazil.org/fuse"
	"golang.org/x/sys/unix"

	"usvfs/internal/usvfserr"
)

// Handle is an open file's raw fd. Reads and writes are positional, so
// the handle carries no offset state of its own.
type Handle struct {
	fd int
}

// Read implements fs.HandleReader.
func (h *Handle) Read(ctx context.Context, req *fuse.ReadRequest, resp *fuse.ReadResponse) error {
	buf := make([]byte, req.Size)
	n, err := unix.Pread(h.fd, buf, req.Offset)
	if err != nil {
		return usvfserr.ToErrno(usvfserr.New("read", "", err))
	}
	resp.Data = buf[:n]
	return nil
}

// Write implements fs.HandleWriter.
func (h *Handle) Write(ctx context.Context, req *fuse.WriteRequest, resp *fuse.WriteResponse) error {
	n, err := unix.Pwrite(h.fd, req.Data, req.Offset)
	if err != nil {
		return usvfserr.ToErrno(usvfserr.New("write", "", err))
	}
	resp.Size = n
	return nil
}

// Flush implements fs.HandleFlusher. There is no userspace write
// buffering — every Write already lands via pwrite(2).
func (h *Handle) Flush(ctx context.Context, req *fuse.FlushRequest) error {
	return syscall.ENOSYS
}

// Release implements fs.HandleReleaser.
func (h *Handle) Release(ctx context.Context, req *fuse.ReleaseRequest) error {
	if err := unix.Close(h.fd); err != nil {
		return usvfserr.ToErrno(usvfserr.New("release", "", err))
	}
	return nil
}

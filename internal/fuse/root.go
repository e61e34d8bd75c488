package fuse

import (
	"context"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/systemshift/opdag/internal/repo"
)

// RootNode is the mountpoint directory. Contains "heads", "log/", "ops/"
// and "views/".
type RootNode struct {
	fs.Inode
	loader *repo.Loader
}

var _ = (fs.NodeOnAdder)((*RootNode)(nil))
var _ = (fs.NodeGetattrer)((*RootNode)(nil))

func (r *RootNode) OnAdd(ctx context.Context) {
	heads := &textFile{
		ino:    stableIno("heads"),
		render: func() ([]byte, error) { return renderHeads(r.loader) },
	}
	r.AddChild("heads", r.NewPersistentInode(ctx, heads, fs.StableAttr{
		Mode: syscall.S_IFREG,
		Ino:  stableIno("heads"),
	}), true)

	logDir := &LogDir{loader: r.loader}
	r.AddChild("log", r.NewPersistentInode(ctx, logDir, fs.StableAttr{
		Mode: syscall.S_IFDIR,
		Ino:  stableIno("log"),
	}), true)

	opsDir := &OpsDir{loader: r.loader}
	r.AddChild("ops", r.NewPersistentInode(ctx, opsDir, fs.StableAttr{
		Mode: syscall.S_IFDIR,
		Ino:  stableIno("ops"),
	}), true)

	viewsDir := &ViewsDir{loader: r.loader}
	r.AddChild("views", r.NewPersistentInode(ctx, viewsDir, fs.StableAttr{
		Mode: syscall.S_IFDIR,
		Ino:  stableIno("views"),
	}), true)
}

func (r *RootNode) Getattr(ctx context.Context, fh fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	out.Mode = 0555
	out.Ino = stableIno()
	return fs.OK
}

// textFile is a read-only file whose bytes are rendered on demand.
// Immutable content (an operation or a view) is cached by the kernel.
type textFile struct {
	fs.Inode
	ino       uint64
	immutable bool
	render    func() ([]byte, error)
}

var _ = (fs.NodeGetattrer)((*textFile)(nil))
var _ = (fs.NodeReader)((*textFile)(nil))
var _ = (fs.NodeOpener)((*textFile)(nil))

func (f *textFile) Getattr(ctx context.Context, fh fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	data, err := f.render()
	if err != nil {
		return syscall.EIO
	}
	out.Mode = 0444
	out.Size = uint64(len(data))
	out.Ino = f.ino
	return fs.OK
}

func (f *textFile) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	if flags&(syscall.O_WRONLY|syscall.O_RDWR) != 0 {
		return nil, 0, syscall.EROFS
	}
	if f.immutable {
		return nil, fuse.FOPEN_KEEP_CACHE, fs.OK
	}
	return nil, fuse.FOPEN_DIRECT_IO, fs.OK
}

func (f *textFile) Read(ctx context.Context, fh fs.FileHandle, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	data, err := f.render()
	if err != nil {
		return nil, syscall.EIO
	}
	return fuse.ReadResultData(readAt(data, dest, off)), fs.OK
}

// readAt returns the part of data a read of len(dest) bytes at off sees.
func readAt(data, dest []byte, off int64) []byte {
	if off >= int64(len(data)) {
		return nil
	}
	end := off + int64(len(dest))
	if end > int64(len(data)) {
		end = int64(len(data))
	}
	return data[off:end]
}

package fuse

import (
	"context"
	"strconv"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/systemshift/opdag/internal/repo"
)

// LogDir exposes recent operations as files in the FUSE tree.
// Layout: log/0 (newest operation JSON), log/1, ...
type LogDir struct {
	fs.Inode
	loader *repo.Loader
}

var _ = (fs.NodeLookuper)((*LogDir)(nil))
var _ = (fs.NodeReaddirer)((*LogDir)(nil))
var _ = (fs.NodeGetattrer)((*LogDir)(nil))

func (d *LogDir) Getattr(ctx context.Context, fh fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	out.Mode = 0555
	out.Ino = stableIno("log")
	return fs.OK
}

func (d *LogDir) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	ops, err := recentOperations(d.loader, maxLogEntries)
	if err != nil {
		return nil, syscall.EIO
	}
	entries := make([]fuse.DirEntry, len(ops))
	for i := range ops {
		name := strconv.Itoa(i)
		entries[i] = fuse.DirEntry{
			Name: name,
			Mode: syscall.S_IFREG,
			Ino:  stableIno("log", name),
		}
	}
	return fs.NewListDirStream(entries), fs.OK
}

// Lookup pins log/<n> to the operation at that position when it is looked
// up. A later lookup after new operations may see a different one.
func (d *LogDir) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	idx, err := strconv.Atoi(name)
	if err != nil || idx < 0 || idx >= maxLogEntries {
		return nil, syscall.ENOENT
	}
	ops, err := recentOperations(d.loader, idx+1)
	if err != nil {
		return nil, syscall.EIO
	}
	if idx >= len(ops) {
		return nil, syscall.ENOENT
	}
	op := ops[idx]
	f := &textFile{
		ino:    stableIno("log", name),
		render: func() ([]byte, error) { return renderOperation(op) },
	}
	return d.NewInode(ctx, f, fs.StableAttr{
		Mode: syscall.S_IFREG,
		Ino:  stableIno("log", name),
	}), fs.OK
}

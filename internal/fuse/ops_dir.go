package fuse

import (
	"context"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/systemshift/opdag/internal/dag"
	"github.com/systemshift/opdag/internal/repo"
)

// OpsDir holds one file per operation, named by its full hex id. Listing
// shows the recent operations; any stored operation can be looked up.
type OpsDir struct {
	fs.Inode
	loader *repo.Loader
}

var _ = (fs.NodeLookuper)((*OpsDir)(nil))
var _ = (fs.NodeReaddirer)((*OpsDir)(nil))
var _ = (fs.NodeGetattrer)((*OpsDir)(nil))

func (d *OpsDir) Getattr(ctx context.Context, fh fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	out.Mode = 0555
	out.Ino = stableIno("ops")
	return fs.OK
}

func (d *OpsDir) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	ops, err := recentOperations(d.loader, maxLogEntries)
	if err != nil {
		return nil, syscall.EIO
	}
	entries := make([]fuse.DirEntry, len(ops))
	for i, op := range ops {
		name := op.ID.Hex()
		entries[i] = fuse.DirEntry{Name: name, Mode: syscall.S_IFREG, Ino: stableIno("ops", name)}
	}
	return fs.NewListDirStream(entries), fs.OK
}

func (d *OpsDir) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	op, err := lookupOperation(d.loader, name)
	if err != nil {
		return nil, syscall.ENOENT
	}
	f := &textFile{
		ino:       stableIno("ops", name),
		immutable: true,
		render:    func() ([]byte, error) { return renderOperation(op) },
	}
	return d.NewInode(ctx, f, fs.StableAttr{
		Mode: syscall.S_IFREG,
		Ino:  stableIno("ops", name),
	}), fs.OK
}

// ViewsDir holds the views recorded by operations, named by hex id.
type ViewsDir struct {
	fs.Inode
	loader *repo.Loader
}

var _ = (fs.NodeLookuper)((*ViewsDir)(nil))
var _ = (fs.NodeReaddirer)((*ViewsDir)(nil))
var _ = (fs.NodeGetattrer)((*ViewsDir)(nil))

func (d *ViewsDir) Getattr(ctx context.Context, fh fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	out.Mode = 0555
	out.Ino = stableIno("views")
	return fs.OK
}

func (d *ViewsDir) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	ops, err := recentOperations(d.loader, maxLogEntries)
	if err != nil {
		return nil, syscall.EIO
	}
	seen := make(map[dag.ViewID]bool)
	var entries []fuse.DirEntry
	for _, op := range ops {
		if seen[op.ViewID] {
			continue
		}
		seen[op.ViewID] = true
		name := dag.ID(op.ViewID).Hex()
		entries = append(entries, fuse.DirEntry{Name: name, Mode: syscall.S_IFREG, Ino: stableIno("views", name)})
	}
	return fs.NewListDirStream(entries), fs.OK
}

func (d *ViewsDir) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	v, err := lookupView(d.loader, name)
	if err != nil {
		return nil, syscall.ENOENT
	}
	f := &textFile{
		ino:       stableIno("views", name),
		immutable: true,
		render:    func() ([]byte, error) { return renderView(v) },
	}
	return d.NewInode(ctx, f, fs.StableAttr{
		Mode: syscall.S_IFREG,
		Ino:  stableIno("views", name),
	}), fs.OK
}

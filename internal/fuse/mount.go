// Package fuse serves a repository's operation log as a read-only
// filesystem.
package fuse

import (
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	gofuse "github.com/hanwen/go-fuse/v2/fuse"

	"github.com/systemshift/opdag/internal/repo"
)

// Mount mounts the operation log of the repository behind loader at
// mountpoint. Returns the server (call server.Wait() to block,
// server.Unmount() to stop).
func Mount(mountpoint string, loader *repo.Loader, debug bool) (*gofuse.Server, error) {
	root := &RootNode{loader: loader}

	// Heads and log positions move as operations are published.
	timeout := time.Second
	opts := &fs.Options{
		EntryTimeout: &timeout,
		AttrTimeout:  &timeout,
		MountOptions: gofuse.MountOptions{
			FsName:        "opdag",
			Name:          "opdag",
			DisableXAttrs: true,
			Debug:         debug,
			Options:       []string{"ro"},
		},
	}

	server, err := fs.Mount(mountpoint, root, opts)
	if err != nil {
		return nil, err
	}
	return server, nil
}

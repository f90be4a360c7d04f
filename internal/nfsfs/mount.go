//go:build linux
// +build linux

package nfsfs

import (
	"context"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/snapetech/prolink/internal/nfs"
)

// Mount exposes client's exports at mountPoint and returns an unmount
// function. ctx cancellation also unmounts.
func Mount(ctx context.Context, mountPoint string, client *nfs.Client) (unmount func(), err error) {
	root := NewRoot(client)
	opts := &fs.Options{
		MountOptions: fuse.MountOptions{
			FsName: "prolink-nfs",
			Name:   "prolinknfs",
		},
	}
	server, err := fs.Mount(mountPoint, root, opts)
	if err != nil {
		return nil, err
	}
	go func() {
		<-ctx.Done()
		_ = server.Unmount()
	}()
	return func() { _ = server.Unmount() }, nil
}

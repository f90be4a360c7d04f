//go:build linux
// +build linux

// Package nfsfs exposes a player's NFS exports as a read-only local
// filesystem: the mount root lists the export roots (/B, /C), directories
// are listed with READDIR on demand, and the first read of a file fetches it
// whole with NFS READ calls; later reads are served from memory. It exists for browsing a deck's media without pulling the USB
// stick.
package nfsfs

import (
	"context"
	"hash/fnv"
	"sync"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/snapetech/prolink/internal/nfs"
)

// Root is the filesystem root. All nodes funnel through its single NFS
// client, serialized by a mutex because the underlying RPC sockets carry one
// call at a time.
type Root struct {
	fs.Inode

	mu     sync.Mutex
	client *nfs.Client
}

// NewRoot wraps an established NFS client.
func NewRoot(client *nfs.Client) *Root {
	return &Root{client: client}
}

var _ fs.NodeLookuper = (*Root)(nil)
var _ fs.NodeReaddirer = (*Root)(nil)

// opTimeout bounds every NFS round trip issued on behalf of a FUSE request;
// without it a powered-off player would wedge the kernel caller forever.
const opTimeout = 30 * time.Second

func (r *Root) exports(ctx context.Context) ([]string, syscall.Errno) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	r.mu.Lock()
	defer r.mu.Unlock()
	exports, err := r.client.Exports(ctx)
	if err != nil {
		return nil, syscall.EIO
	}
	return exports, 0
}

func (r *Root) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	exports, errno := r.exports(ctx)
	if errno != 0 {
		return nil, errno
	}
	for _, export := range exports {
		if export == "/"+name {
			node := &dirNode{root: r, path: export}
			ch := r.NewInode(ctx, node, fs.StableAttr{
				Mode: fuse.S_IFDIR,
				Ino:  inoFromPath(export),
			})
			out.Mode = fuse.S_IFDIR | 0555
			return ch, 0
		}
	}
	return nil, syscall.ENOENT
}

func (r *Root) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	exports, errno := r.exports(ctx)
	if errno != 0 {
		return nil, errno
	}
	entries := make([]fuse.DirEntry, 0, len(exports))
	for _, export := range exports {
		entries = append(entries, fuse.DirEntry{
			Name: export[1:], // drop the leading slash
			Ino:  inoFromPath(export),
			Mode: fuse.S_IFDIR | 0555,
		})
	}
	return fs.NewListDirStream(entries), 0
}

// dirNode is a directory below an export root.
type dirNode struct {
	fs.Inode
	root *Root
	path string
}

var _ fs.NodeLookuper = (*dirNode)(nil)
var _ fs.NodeReaddirer = (*dirNode)(nil)

func (d *dirNode) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	d.root.mu.Lock()
	names, err := d.root.client.ReadDir(ctx, d.path)
	d.root.mu.Unlock()
	if err != nil {
		return nil, syscall.EIO
	}
	entries := make([]fuse.DirEntry, 0, len(names))
	for _, name := range names {
		if name == "." || name == ".." {
			continue
		}
		entries = append(entries, fuse.DirEntry{
			Name: name,
			Ino:  inoFromPath(d.path + "/" + name),
			// Mode is unknown without a stat; readdir consumers re-lookup.
			Mode: fuse.S_IFREG | 0444,
		})
	}
	return fs.NewListDirStream(entries), 0
}

func (d *dirNode) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	path := d.path + "/" + name

	// A name that lists as a directory is one; everything else is a file.
	d.root.mu.Lock()
	_, dirErr := d.root.client.ReadDir(ctx, path)
	d.root.mu.Unlock()
	if dirErr == nil {
		node := &dirNode{root: d.root, path: path}
		ch := d.NewInode(ctx, node, fs.StableAttr{
			Mode: fuse.S_IFDIR,
			Ino:  inoFromPath(path),
		})
		out.Mode = fuse.S_IFDIR | 0555
		return ch, 0
	}

	node := &fileNode{root: d.root, path: path}
	ch := d.NewInode(ctx, node, fs.StableAttr{
		Mode: fuse.S_IFREG,
		Ino:  inoFromPath(path),
	})
	out.Mode = fuse.S_IFREG | 0444
	return ch, 0
}

// fileNode reads a remote file on demand. The whole file is fetched on the
// first read and held by the node from then on; player media files are
// small enough (databases, artwork, audio) for that to beat chattering
// 8 KiB READs per page fault.
type fileNode struct {
	fs.Inode
	root *Root
	path string

	once sync.Once
	data []byte
	err  error
}

var _ fs.NodeOpener = (*fileNode)(nil)
var _ fs.NodeReader = (*fileNode)(nil)
var _ fs.NodeGetattrer = (*fileNode)(nil)

func (f *fileNode) fetch(ctx context.Context) ([]byte, syscall.Errno) {
	f.once.Do(func() {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Minute) // whole-file fetch
		defer cancel()
		f.root.mu.Lock()
		defer f.root.mu.Unlock()
		f.data, f.err = f.root.client.ReadFile(ctx, f.path)
	})
	if f.err != nil {
		return nil, syscall.EIO
	}
	return f.data, 0
}

func (f *fileNode) Getattr(ctx context.Context, fh fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	out.Mode = fuse.S_IFREG | 0444
	if f.data != nil {
		out.Size = uint64(len(f.data))
	}
	return 0
}

func (f *fileNode) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	if flags&(syscall.O_WRONLY|syscall.O_RDWR) != 0 {
		return nil, 0, syscall.EROFS
	}
	return nil, fuse.FOPEN_KEEP_CACHE, 0
}

func (f *fileNode) Read(ctx context.Context, fh fs.FileHandle, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	data, errno := f.fetch(ctx)
	if errno != 0 {
		return nil, errno
	}
	if off >= int64(len(data)) {
		return fuse.ReadResultData(nil), 0
	}
	end := off + int64(len(dest))
	if end > int64(len(data)) {
		end = int64(len(data))
	}
	return fuse.ReadResultData(data[off:end]), 0
}

// inoFromPath derives a stable inode number so the same remote path keeps
// the same identity across lookups.
func inoFromPath(path string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(path))
	return h.Sum64()
}

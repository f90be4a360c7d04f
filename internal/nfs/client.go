package nfs

import (
	"context"
	"fmt"
	"net/netip"
	"strings"
)

// Client is the façade the metadata task talks to: POSIX-like paths in,
// bytes out. It owns one portmap, one mount and one NFS endpoint on a single
// player and caches the export-root handles it has mounted.
//
// Calls are single-flighted by construction: the underlying RPC sockets
// allow one outstanding call, and the metadata task serializes requests.
type Client struct {
	ip     netip.Addr
	mount  *Mount
	nfs    *NFS
	mounts map[string]Handle // export path -> root handle
}

// Connect runs the portmap handshake against ip and dials the mount and NFS
// programs on the ports it reports.
func Connect(ctx context.Context, ip netip.Addr) (*Client, error) {
	return connect(ctx, ip, portmapPort)
}

func connect(ctx context.Context, ip netip.Addr, pmPort uint16) (*Client, error) {
	pm, err := dialPortmap(ip, pmPort)
	if err != nil {
		return nil, err
	}
	defer pm.Close()

	mountPort, err := pm.GetPort(ctx, mountProg, mountVers)
	if err != nil {
		return nil, fmt.Errorf("nfs: locate mount daemon: %w", err)
	}
	nfsPort, err := pm.GetPort(ctx, nfsProg, nfsVers)
	if err != nil {
		return nil, fmt.Errorf("nfs: locate nfs daemon: %w", err)
	}

	mount, err := DialMount(ip, mountPort)
	if err != nil {
		return nil, err
	}
	nfs, err := DialNFS(ip, nfsPort)
	if err != nil {
		mount.Close()
		return nil, err
	}
	return &Client{
		ip:     ip,
		mount:  mount,
		nfs:    nfs,
		mounts: make(map[string]Handle),
	}, nil
}

// Addr reports the player address this client is bound to.
func (c *Client) Addr() netip.Addr { return c.ip }

func (c *Client) Close() error {
	c.mount.Close()
	return c.nfs.Close()
}

// Exports lists the export roots the player offers.
func (c *Client) Exports(ctx context.Context) ([]string, error) {
	return c.mount.Exports(ctx)
}

// resolveMount finds the export whose path is a prefix of path, mounting it
// on first use, and returns the root handle plus the remaining components.
func (c *Client) resolveMount(ctx context.Context, path string) (Handle, []string, error) {
	for mountPath, h := range c.mounts {
		if rest, ok := strings.CutPrefix(path, mountPath); ok {
			return h, splitComponents(rest), nil
		}
	}

	exports, err := c.mount.Exports(ctx)
	if err != nil {
		return Handle{}, nil, err
	}
	for _, export := range exports {
		rest, ok := strings.CutPrefix(path, export)
		if !ok {
			continue
		}
		h, err := c.mount.Mnt(ctx, export)
		if err != nil {
			return Handle{}, nil, fmt.Errorf("nfs: mount %q: %w", export, err)
		}
		c.mounts[export] = h
		return h, splitComponents(rest), nil
	}
	return Handle{}, nil, fmt.Errorf("%w: %q", ErrExportNotFound, path)
}

// walk resolves path to a handle, looking up one component at a time from
// the export root.
func (c *Client) walk(ctx context.Context, path string) (Handle, error) {
	h, components, err := c.resolveMount(ctx, path)
	if err != nil {
		return Handle{}, err
	}
	for _, component := range components {
		next, err := c.nfs.Lookup(ctx, h, component)
		if err != nil {
			return Handle{}, &LookupError{Component: component, Err: err}
		}
		h = next
	}
	return h, nil
}

// ReadDir lists the directory at path.
func (c *Client) ReadDir(ctx context.Context, path string) ([]string, error) {
	h, err := c.walk(ctx, path)
	if err != nil {
		return nil, err
	}
	entries, err := c.nfs.ReadDir(ctx, h)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name
	}
	return names, nil
}

// ReadFile fetches the whole file at path by issuing sequential READs until
// the server returns a short block.
func (c *Client) ReadFile(ctx context.Context, path string) ([]byte, error) {
	h, err := c.walk(ctx, path)
	if err != nil {
		return nil, err
	}
	var data []byte
	for {
		block, err := c.nfs.Read(ctx, h, uint32(len(data)), MaxData)
		if err != nil {
			return nil, err
		}
		data = append(data, block...)
		if len(block) < MaxData {
			return data, nil
		}
	}
}

// ReadFileAt fetches length bytes starting at offset.
func (c *Client) ReadFileAt(ctx context.Context, path string, offset uint32, length int) ([]byte, error) {
	h, err := c.walk(ctx, path)
	if err != nil {
		return nil, err
	}
	data := make([]byte, 0, length)
	for len(data) < length {
		want := uint32(length - len(data))
		block, err := c.nfs.Read(ctx, h, offset+uint32(len(data)), want)
		if err != nil {
			return nil, err
		}
		if len(block) == 0 {
			return nil, ErrShortReadPrefix
		}
		data = append(data, block...)
	}
	return data[:length], nil
}

func splitComponents(rest string) []string {
	var out []string
	for _, component := range strings.Split(rest, "/") {
		if component != "" {
			out = append(out, component)
		}
	}
	return out
}

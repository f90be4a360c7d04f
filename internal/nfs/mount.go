package nfs

import (
	"context"
	"fmt"
	"net/netip"

	"github.com/snapetech/prolink/internal/rpc"
	"github.com/snapetech/prolink/internal/xdr"
)

// Mount is a client for the mount daemon (program 100005 v1).
type Mount struct {
	rpc *rpc.Client
}

func DialMount(ip netip.Addr, port uint16) (*Mount, error) {
	c, err := rpc.Dial(netip.AddrPortFrom(ip, port))
	if err != nil {
		return nil, err
	}
	return &Mount{rpc: c}, nil
}

func (m *Mount) Close() error { return m.rpc.Close() }

// Mnt mounts path and returns its root handle. The path travels as UTF-16LE
// bytes inside the dirpath opaque.
func (m *Mount) Mnt(ctx context.Context, path string) (Handle, error) {
	var h Handle
	args := xdr.NewEncoder().Opaque(encodeUTF16LE(path)).Bytes()
	result, err := m.rpc.Call(ctx, mountProg, mountVers, procMountMnt, args)
	if err != nil {
		return h, err
	}
	d := xdr.NewDecoder(result)
	status, err := d.U32()
	if err != nil {
		return h, fmt.Errorf("mount: truncated MNT reply: %w", err)
	}
	if status != 0 {
		return h, &StatusError{Code: status}
	}
	raw, err := d.FixedOpaque(HandleSize)
	if err != nil {
		return h, fmt.Errorf("mount: truncated handle: %w", err)
	}
	copy(h[:], raw)
	return h, nil
}

// Exports lists the export roots, usually /B (USB) and /C (SD). The reply is
// an XDR linked list of (dirpath, groups) pairs; groups are themselves a
// list and are skipped. Decoded iteratively, never recursively: a hostile or
// broken server must not be able to blow the stack with a long list.
func (m *Mount) Exports(ctx context.Context) ([]string, error) {
	result, err := m.rpc.Call(ctx, mountProg, mountVers, procMountExport, nil)
	if err != nil {
		return nil, err
	}
	d := xdr.NewDecoder(result)
	var out []string
	for {
		more, err := d.Bool()
		if err != nil {
			return nil, fmt.Errorf("mount: truncated EXPORT reply: %w", err)
		}
		if !more {
			return out, nil
		}
		raw, err := d.Opaque(0)
		if err != nil {
			return nil, fmt.Errorf("mount: truncated export path: %w", err)
		}
		out = append(out, decodeUTF16LE(raw))

		// Skip the group list.
		for {
			moreGroups, err := d.Bool()
			if err != nil {
				return nil, fmt.Errorf("mount: truncated group list: %w", err)
			}
			if !moreGroups {
				break
			}
			if _, err := d.Opaque(0); err != nil {
				return nil, fmt.Errorf("mount: truncated group name: %w", err)
			}
		}
	}
}

package nfs

import (
	"context"
	"fmt"
	"net/netip"

	"github.com/snapetech/prolink/internal/rpc"
	"github.com/snapetech/prolink/internal/xdr"
)

// NFS is a client for the NFSv2 daemon (program 100003 v2).
type NFS struct {
	rpc *rpc.Client
}

// DirEntry is one READDIR record.
type DirEntry struct {
	FileID uint32
	Name   string
	cookie [cookieSize]byte
}

func DialNFS(ip netip.Addr, port uint16) (*NFS, error) {
	c, err := rpc.Dial(netip.AddrPortFrom(ip, port))
	if err != nil {
		return nil, err
	}
	return &NFS{rpc: c}, nil
}

func (n *NFS) Close() error { return n.rpc.Close() }

// Lookup resolves one name inside dir. Names are UTF-16LE on the wire.
func (n *NFS) Lookup(ctx context.Context, dir Handle, name string) (Handle, error) {
	var h Handle
	args := xdr.NewEncoder().
		FixedOpaque(dir[:]).
		Opaque(encodeUTF16LE(name)).
		Bytes()
	result, err := n.rpc.Call(ctx, nfsProg, nfsVers, procNFSLookup, args)
	if err != nil {
		return h, err
	}
	d := xdr.NewDecoder(result)
	status, err := d.U32()
	if err != nil {
		return h, fmt.Errorf("nfs: truncated LOOKUP reply: %w", err)
	}
	if status != 0 {
		return h, &StatusError{Code: status}
	}
	raw, err := d.FixedOpaque(HandleSize)
	if err != nil {
		return h, fmt.Errorf("nfs: truncated handle: %w", err)
	}
	copy(h[:], raw)
	// The trailing fattr is not consumed by anything downstream.
	return h, nil
}

// Read returns up to count bytes of file at offset; count is capped at
// MaxData per the protocol.
func (n *NFS) Read(ctx context.Context, file Handle, offset, count uint32) ([]byte, error) {
	if count > MaxData {
		count = MaxData
	}
	args := xdr.NewEncoder().
		FixedOpaque(file[:]).
		U32(offset).
		U32(count).
		U32(0). // totalcount, unused
		Bytes()
	result, err := n.rpc.Call(ctx, nfsProg, nfsVers, procNFSRead, args)
	if err != nil {
		return nil, err
	}
	d := xdr.NewDecoder(result)
	status, err := d.U32()
	if err != nil {
		return nil, fmt.Errorf("nfs: truncated READ reply: %w", err)
	}
	if status != 0 {
		return nil, &StatusError{Code: status}
	}
	if _, err := d.FixedOpaque(fattrSize); err != nil {
		return nil, fmt.Errorf("nfs: truncated attributes: %w", err)
	}
	data, err := d.Opaque(0)
	if err != nil {
		return nil, fmt.Errorf("nfs: truncated data: %w", err)
	}
	return data, nil
}

// ReadDir lists dir completely, continuing with the returned cookie until the
// server reports EOF. The entry list is decoded iteratively.
func (n *NFS) ReadDir(ctx context.Context, dir Handle) ([]DirEntry, error) {
	var out []DirEntry
	var cookie [cookieSize]byte
	for {
		args := xdr.NewEncoder().
			FixedOpaque(dir[:]).
			FixedOpaque(cookie[:]).
			U32(readDirCount).
			Bytes()
		result, err := n.rpc.Call(ctx, nfsProg, nfsVers, procNFSReadDir, args)
		if err != nil {
			return nil, err
		}
		d := xdr.NewDecoder(result)
		status, err := d.U32()
		if err != nil {
			return nil, fmt.Errorf("nfs: truncated READDIR reply: %w", err)
		}
		if status != 0 {
			return nil, &StatusError{Code: status}
		}
		last := len(out)
		for {
			more, err := d.Bool()
			if err != nil {
				return nil, fmt.Errorf("nfs: truncated entry list: %w", err)
			}
			if !more {
				break
			}
			var e DirEntry
			if e.FileID, err = d.U32(); err != nil {
				return nil, fmt.Errorf("nfs: truncated entry: %w", err)
			}
			raw, err := d.Opaque(0)
			if err != nil {
				return nil, fmt.Errorf("nfs: truncated entry name: %w", err)
			}
			e.Name = decodeUTF16LE(raw)
			ck, err := d.FixedOpaque(cookieSize)
			if err != nil {
				return nil, fmt.Errorf("nfs: truncated cookie: %w", err)
			}
			copy(e.cookie[:], ck)
			out = append(out, e)
		}
		eof, err := d.Bool()
		if err != nil {
			return nil, fmt.Errorf("nfs: truncated READDIR eof: %w", err)
		}
		if eof || len(out) == last {
			return out, nil
		}
		cookie = out[len(out)-1].cookie
	}
}

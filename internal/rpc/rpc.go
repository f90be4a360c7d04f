// Package rpc implements the client half of ONC RPC v2 (RFC 1057) over UDP,
// as spoken by the portmap, mount and NFS daemons embedded in Pro DJ Link
// players. Calls are strictly synchronous: one outstanding request per
// client, matched by XID.
package rpc

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"time"
)

// RPC message constants.
const (
	rpcVersion = 2

	msgCall  = 0
	msgReply = 1

	replyAccepted = 0
	replyDenied   = 1

	acceptSuccess      = 0
	acceptProgUnavail  = 1
	acceptProgMismatch = 2
	acceptProcUnavail  = 3
	acceptGarbageArgs  = 4
	acceptSystemErr    = 5

	authFlavorNone = 0
	authFlavorSys  = 1
)

// authSysBody is the fixed 20-byte AUTH_SYS credential body: a stamp, an
// empty machine name, uid 0, gid 0 and no auxiliary gids. Players only check
// the length, never the contents.
var authSysBody = []byte{
	0x95, 0x7b, 0x87, 0x03, // stamp
	0x00, 0x00, 0x00, 0x00, // machine name: 0 bytes
	0x00, 0x00, 0x00, 0x00, // uid 0
	0x00, 0x00, 0x00, 0x00, // gid 0
	0x00, 0x00, 0x00, 0x00, // 0 gids
}

// ProtocolError is a non-SUCCESS RPC reply, classified per the accept/reject
// status that produced it.
type ProtocolError struct {
	Kind   string // "ProgMismatch", "AuthError", "Garbage", ...
	Detail string
}

func (e *ProtocolError) Error() string {
	if e.Detail == "" {
		return "rpc: " + e.Kind
	}
	return fmt.Sprintf("rpc: %s (%s)", e.Kind, e.Detail)
}

const maxDatagram = 16 * 1024

// Client is a UDP RPC endpoint bound to one remote program address.
type Client struct {
	conn *net.UDPConn
	addr *net.UDPAddr
	xid  uint32
}

// Dial binds an ephemeral UDP socket for calls to addr.
func Dial(addr netip.AddrPort) (*Client, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: 0})
	if err != nil {
		return nil, fmt.Errorf("rpc: bind: %w", err)
	}
	return &Client{
		conn: conn,
		addr: net.UDPAddrFromAddrPort(addr),
	}, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}

// Call performs one RPC to (prog, vers, proc) with args as the pre-encoded
// XDR parameter body and returns the XDR result body. The reply must be
// REPLY/MSG_ACCEPTED/SUCCESS; anything else is a *ProtocolError.
func (c *Client) Call(ctx context.Context, prog, vers, proc uint32, args []byte) ([]byte, error) {
	c.xid++
	req := encodeCall(c.xid, prog, vers, proc, args)

	if deadline, ok := ctx.Deadline(); ok {
		if err := c.conn.SetDeadline(deadline); err != nil {
			return nil, err
		}
		defer c.conn.SetDeadline(time.Time{})
	}

	if _, err := c.conn.WriteToUDP(req, c.addr); err != nil {
		return nil, fmt.Errorf("rpc: send: %w", err)
	}

	buf := make([]byte, maxDatagram)
	for {
		n, _, err := c.conn.ReadFromUDP(buf)
		if err != nil {
			return nil, fmt.Errorf("rpc: recv: %w", err)
		}
		result, xid, err := decodeReply(buf[:n])
		if err != nil {
			return nil, err
		}
		if xid != c.xid {
			// Stale reply to an abandoned call; keep waiting.
			continue
		}
		return result, nil
	}
}

package rpc

import (
	"context"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snapetech/prolink/internal/xdr"
)

func TestEncodeCallLayout(t *testing.T) {
	args := []byte{0xde, 0xad, 0xbe, 0xef}
	buf := encodeCall(7, 100003, 2, 6, args)

	d := xdr.NewDecoder(buf)
	u := func() uint32 {
		v, err := d.U32()
		require.NoError(t, err)
		return v
	}
	assert.Equal(t, uint32(7), u())      // xid
	assert.Equal(t, uint32(0), u())      // CALL
	assert.Equal(t, uint32(2), u())      // RPC version
	assert.Equal(t, uint32(100003), u()) // program
	assert.Equal(t, uint32(2), u())      // version
	assert.Equal(t, uint32(6), u())      // procedure
	assert.Equal(t, uint32(1), u())      // AUTH_SYS
	cred, err := d.Opaque(0)
	require.NoError(t, err)
	assert.Len(t, cred, 20)
	assert.Equal(t, []byte{0x95, 0x7b, 0x87, 0x03}, cred[:4])
	assert.Equal(t, uint32(0), u()) // AUTH_NONE verifier
	verf, err := d.Opaque(0)
	require.NoError(t, err)
	assert.Empty(t, verf)
	assert.Equal(t, args, buf[len(buf)-d.Remaining():])
}

func successReply(xid uint32, result []byte) []byte {
	e := xdr.NewEncoder()
	e.U32(xid)
	e.U32(msgReply)
	e.U32(replyAccepted)
	e.U32(authFlavorNone)
	e.Opaque(nil) // verifier
	e.U32(acceptSuccess)
	return append(e.Bytes(), result...)
}

func TestDecodeReplySuccess(t *testing.T) {
	result, xid, err := decodeReply(successReply(42, []byte{1, 2, 3, 4}))
	require.NoError(t, err)
	assert.Equal(t, uint32(42), xid)
	assert.Equal(t, []byte{1, 2, 3, 4}, result)
}

func TestDecodeReplyClassification(t *testing.T) {
	base := func(accept uint32) []byte {
		e := xdr.NewEncoder()
		e.U32(1).U32(msgReply).U32(replyAccepted)
		e.U32(authFlavorNone).Opaque(nil)
		e.U32(accept)
		return e.Bytes()
	}
	cases := []struct {
		name string
		buf  []byte
		kind string
	}{
		{"prog unavail", base(acceptProgUnavail), "ProgUnavail"},
		{"prog mismatch", append(base(acceptProgMismatch), make([]byte, 8)...), "ProgMismatch"},
		{"proc unavail", base(acceptProcUnavail), "ProcUnavail"},
		{"garbage args", base(acceptGarbageArgs), "Garbage"},
		{"system err", base(acceptSystemErr), "SystemErr"},
		{"auth error", xdr.NewEncoder().U32(1).U32(msgReply).U32(replyDenied).U32(1).U32(3).Bytes(), "AuthError"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := decodeReply(tc.buf)
			var perr *ProtocolError
			require.ErrorAs(t, err, &perr)
			assert.Equal(t, tc.kind, perr.Kind)
		})
	}
}

// fakeServer answers every call with the datagrams produced by reply on a
// loopback UDP socket and returns its address.
func fakeServer(t *testing.T, reply func(xid uint32, args []byte) [][]byte) netip.AddrPort {
	t.Helper()
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	go func() {
		buf := make([]byte, maxDatagram)
		for {
			n, src, err := conn.ReadFromUDP(buf)
			if err != nil {
				return
			}
			d := xdr.NewDecoder(buf[:n])
			xid, _ := d.U32()
			// Skip to the parameter body: mtype, rpcvers, prog, vers, proc.
			for i := 0; i < 5; i++ {
				d.U32()
			}
			d.U32()
			d.Opaque(0) // credential
			d.U32()
			d.Opaque(0) // verifier
			args := buf[n-d.Remaining() : n]
			for _, dgram := range reply(xid, args) {
				conn.WriteToUDP(dgram, src)
			}
		}
	}()
	return conn.LocalAddr().(*net.UDPAddr).AddrPort()
}

func TestCallRoundTrip(t *testing.T) {
	addr := fakeServer(t, func(xid uint32, args []byte) [][]byte {
		return [][]byte{successReply(xid, args)}
	})

	c, err := Dial(addr)
	require.NoError(t, err)
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	got, err := c.Call(ctx, 100000, 2, 0, []byte{9, 9, 9, 9})
	require.NoError(t, err)
	assert.Equal(t, []byte{9, 9, 9, 9}, got)

	// XIDs increase monotonically from 1.
	assert.Equal(t, uint32(1), c.xid)
	_, err = c.Call(ctx, 100000, 2, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), c.xid)
}

func TestCallStaleXIDSkipped(t *testing.T) {
	// The server sends a stale reply first; the client must keep reading
	// until the XID matches its outstanding call.
	addr := fakeServer(t, func(xid uint32, args []byte) [][]byte {
		return [][]byte{
			successReply(xid+100, []byte{0xff}),
			successReply(xid, args),
		}
	})
	c, err := Dial(addr)
	require.NoError(t, err)
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	got, err := c.Call(ctx, 100000, 2, 0, []byte{5})
	require.NoError(t, err)
	assert.Equal(t, []byte{5}, got)
}

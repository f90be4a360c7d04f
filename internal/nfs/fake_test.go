package nfs

import (
	"net"
	"net/netip"
	"sort"
	"strings"
	"testing"

	"github.com/snapetech/prolink/internal/xdr"
)

// fakePlayer is an in-memory portmap + mount + NFSv2 server speaking the
// player dialect (UTF-16LE names) over loopback UDP. Files are keyed by
// absolute path; directories are implied.
type fakePlayer struct {
	t     *testing.T
	files map[string][]byte

	portmapConn *net.UDPConn
	mountConn   *net.UDPConn
	nfsConn     *net.UDPConn

	// paths maps a handle's first byte to a path; handle 0 is invalid.
	paths   []string
	exports []string
}

func newFakePlayer(t *testing.T, exports []string, files map[string][]byte) *fakePlayer {
	t.Helper()
	p := &fakePlayer{t: t, files: files, exports: exports, paths: []string{""}}
	p.portmapConn = p.listen()
	p.mountConn = p.listen()
	p.nfsConn = p.listen()
	go p.serve(p.portmapConn, p.handlePortmap)
	go p.serve(p.mountConn, p.handleMount)
	go p.serve(p.nfsConn, p.handleNFS)
	return p
}

func (p *fakePlayer) listen() *net.UDPConn {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		p.t.Fatal(err)
	}
	p.t.Cleanup(func() { conn.Close() })
	return conn
}

func (p *fakePlayer) port(conn *net.UDPConn) uint16 {
	return conn.LocalAddr().(*net.UDPAddr).AddrPort().Port()
}

func (p *fakePlayer) addr() netip.Addr {
	return netip.AddrFrom4([4]byte{127, 0, 0, 1})
}

// handleOf interns path into a handle.
func (p *fakePlayer) handleOf(path string) Handle {
	var h Handle
	for i, known := range p.paths {
		if known == path && i > 0 {
			h[0] = byte(i)
			return h
		}
	}
	p.paths = append(p.paths, path)
	h[0] = byte(len(p.paths) - 1)
	return h
}

func (p *fakePlayer) pathOf(h Handle) (string, bool) {
	i := int(h[0])
	if i == 0 || i >= len(p.paths) {
		return "", false
	}
	return p.paths[i], true
}

type fakeCall struct {
	xid  uint32
	proc uint32
	args *xdr.Decoder
}

func (p *fakePlayer) serve(conn *net.UDPConn, handle func(fakeCall) *xdr.Encoder) {
	buf := make([]byte, 64*1024)
	for {
		n, src, err := conn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		d := xdr.NewDecoder(buf[:n])
		xid, _ := d.U32()
		d.U32() // CALL
		d.U32() // rpcvers
		d.U32() // prog
		d.U32() // vers
		proc, _ := d.U32()
		d.U32()
		d.Opaque(0) // cred
		d.U32()
		d.Opaque(0) // verf

		args := xdr.NewDecoder(buf[n-d.Remaining() : n])
		result := handle(fakeCall{xid: xid, proc: proc, args: args})

		reply := xdr.NewEncoder()
		reply.U32(xid).U32(1).U32(0) // REPLY, MSG_ACCEPTED
		reply.U32(0).Opaque(nil)     // null verifier
		reply.U32(0)                 // SUCCESS
		conn.WriteToUDP(append(reply.Bytes(), result.Bytes()...), src)
	}
}

func (p *fakePlayer) handlePortmap(c fakeCall) *xdr.Encoder {
	e := xdr.NewEncoder()
	switch c.proc {
	case procPortmapNull:
	case procPortmapGetPort:
		prog, _ := c.args.U32()
		switch prog {
		case mountProg:
			e.U32(uint32(p.port(p.mountConn)))
		case nfsProg:
			e.U32(uint32(p.port(p.nfsConn)))
		default:
			e.U32(0)
		}
	case procPortmapDump:
		for _, m := range []Mapping{
			{Prog: mountProg, Vers: mountVers, Proto: ipProtoUDP, Port: uint32(p.port(p.mountConn))},
			{Prog: nfsProg, Vers: nfsVers, Proto: ipProtoUDP, Port: uint32(p.port(p.nfsConn))},
		} {
			e.Bool(true).U32(m.Prog).U32(m.Vers).U32(m.Proto).U32(m.Port)
		}
		e.Bool(false)
	}
	return e
}

func (p *fakePlayer) handleMount(c fakeCall) *xdr.Encoder {
	e := xdr.NewEncoder()
	switch c.proc {
	case procMountMnt:
		raw, _ := c.args.Opaque(0)
		path := decodeUTF16LE(raw)
		for _, export := range p.exports {
			if export == path {
				h := p.handleOf(path)
				e.U32(0).FixedOpaque(h[:])
				return e
			}
		}
		e.U32(2) // NFSERR_NOENT
	case procMountExport:
		for _, export := range p.exports {
			e.Bool(true).Opaque(encodeUTF16LE(export))
			e.Bool(false) // no groups
		}
		e.Bool(false)
	}
	return e
}

func (p *fakePlayer) handleNFS(c fakeCall) *xdr.Encoder {
	e := xdr.NewEncoder()
	switch c.proc {
	case procNFSLookup:
		rawDir, _ := c.args.FixedOpaque(HandleSize)
		var dir Handle
		copy(dir[:], rawDir)
		rawName, _ := c.args.Opaque(0)
		name := decodeUTF16LE(rawName)
		base, ok := p.pathOf(dir)
		if !ok {
			e.U32(70) // NFSERR_STALE
			return e
		}
		full := base + "/" + name
		if !p.exists(full) {
			e.U32(2) // NFSERR_NOENT
			return e
		}
		h := p.handleOf(full)
		e.U32(0).FixedOpaque(h[:]).FixedOpaque(make([]byte, fattrSize))
	case procNFSRead:
		rawFile, _ := c.args.FixedOpaque(HandleSize)
		var file Handle
		copy(file[:], rawFile)
		offset, _ := c.args.U32()
		count, _ := c.args.U32()
		path, ok := p.pathOf(file)
		if !ok {
			e.U32(70)
			return e
		}
		data, ok := p.files[path]
		if !ok {
			e.U32(2)
			return e
		}
		if int(offset) > len(data) {
			offset = uint32(len(data))
		}
		end := int(offset) + int(count)
		if end > len(data) {
			end = len(data)
		}
		e.U32(0).FixedOpaque(make([]byte, fattrSize)).Opaque(data[offset:end])
	case procNFSReadDir:
		rawDir, _ := c.args.FixedOpaque(HandleSize)
		var dir Handle
		copy(dir[:], rawDir)
		path, ok := p.pathOf(dir)
		if !ok {
			e.U32(70)
			return e
		}
		names := p.children(path)
		e.U32(0)
		for i, name := range names {
			e.Bool(true).U32(uint32(i + 1)).Opaque(encodeUTF16LE(name))
			e.FixedOpaque([]byte{byte(i + 1), 0, 0, 0})
		}
		e.Bool(false).Bool(true) // end of list, EOF
	}
	return e
}

func (p *fakePlayer) exists(path string) bool {
	if _, ok := p.files[path]; ok {
		return true
	}
	return len(p.children(path)) > 0
}

func (p *fakePlayer) children(dir string) []string {
	seen := map[string]bool{}
	for path := range p.files {
		rest, ok := strings.CutPrefix(path, dir+"/")
		if !ok {
			continue
		}
		name, _, _ := strings.Cut(rest, "/")
		seen[name] = true
	}
	var out []string
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

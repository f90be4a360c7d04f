// Package proto implements the Pro DJ Link wire format: the announce /
// device-number-claim / keep-alive membership packets on UDP 50000, the beat
// packets on UDP 50001 and the player-status packets on UDP 50002.
//
// All packets share a 10-byte magic prefix. Control packets carry a
// [type, 0x00] pair after the magic; status and beat packets carry the bare
// type byte followed immediately by the 20-byte device name, which is why
// Announce and PlayerStatus can share type code 0x0a: byte 0x0b is 0x00 for
// an Announce and the first byte of the device name otherwise.
//
// Parsing is done at fixed byte offsets against the captures the layout was
// reverse engineered from. Unknown regions are preserved as opaque byte
// blocks so a decoded packet can be re-encoded bit-exactly.
package proto

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"time"
)

// Magic is the prefix carried by every Pro DJ Link packet.
var Magic = []byte{0x51, 0x73, 0x70, 0x74, 0x31, 0x57, 0x6d, 0x4a, 0x4f, 0x4c}

// Packet type codes.
const (
	TypeClaim1    = 0x00
	TypeClaim2    = 0x02
	TypeClaim3    = 0x04
	TypeKeepAlive = 0x06
	TypeAnnounce  = 0x0a // shared with PlayerStatus; see package doc
	TypeBeat      = 0x28
)

// Well-known UDP ports.
const (
	PortMembership = 50000
	PortBeat       = 50001
	PortStatus     = 50002
)

const nameLen = 20

// Packet is implemented by every decoded packet variant.
type Packet interface {
	packet()
}

func (*Announce) packet()        {}
func (*DeviceNumClaim1) packet() {}
func (*DeviceNumClaim2) packet() {}
func (*DeviceNumClaim3) packet() {}
func (*KeepAlive) packet()       {}
func (*PlayerStatus) packet()    {}
func (*Beat) packet()            {}

// Kind names a packet variant for logs and metrics labels.
func Kind(p Packet) string {
	switch p.(type) {
	case *Announce:
		return "announce"
	case *DeviceNumClaim1:
		return "claim1"
	case *DeviceNumClaim2:
		return "claim2"
	case *DeviceNumClaim3:
		return "claim3"
	case *KeepAlive:
		return "keep_alive"
	case *PlayerStatus:
		return "player_status"
	case *Beat:
		return "beat"
	}
	return "unknown"
}

// ParseError describes a packet that could not be decoded. It is always
// recoverable: callers log it and drop the datagram.
type ParseError struct {
	Kind   string    // what went wrong, e.g. "bad magic", "short packet"
	Offset int       // byte offset the decoder had reached
	When   time.Time // when the packet was seen
	Dump   string    // hex dump of the full datagram
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse: %s at offset %#x\n%s", e.Kind, e.Offset, e.Dump)
}

// decoder is a bounds-checked cursor over a datagram. The first failure is
// latched; subsequent reads return zero values so parse functions can run
// straight through and check err once.
type decoder struct {
	buf []byte
	off int
	err *ParseError
}

func newDecoder(buf []byte) *decoder {
	return &decoder{buf: buf}
}

func (d *decoder) fail(kind string) {
	if d.err == nil {
		d.err = &ParseError{Kind: kind, Offset: d.off, When: time.Now(), Dump: hex.Dump(d.buf)}
	}
}

func (d *decoder) need(n int) bool {
	if d.err != nil {
		return false
	}
	if d.off+n > len(d.buf) {
		d.fail("short packet")
		return false
	}
	return true
}

func (d *decoder) u8() uint8 {
	if !d.need(1) {
		return 0
	}
	v := d.buf[d.off]
	d.off++
	return v
}

func (d *decoder) u16() uint16 {
	if !d.need(2) {
		return 0
	}
	v := uint16(d.buf[d.off])<<8 | uint16(d.buf[d.off+1])
	d.off += 2
	return v
}

func (d *decoder) u24() uint32 {
	if !d.need(3) {
		return 0
	}
	v := uint32(d.buf[d.off])<<16 | uint32(d.buf[d.off+1])<<8 | uint32(d.buf[d.off+2])
	d.off += 3
	return v
}

func (d *decoder) u32() uint32 {
	if !d.need(4) {
		return 0
	}
	v := uint32(d.buf[d.off])<<24 | uint32(d.buf[d.off+1])<<16 |
		uint32(d.buf[d.off+2])<<8 | uint32(d.buf[d.off+3])
	d.off += 4
	return v
}

func (d *decoder) take(n int) []byte {
	if !d.need(n) {
		return make([]byte, n)
	}
	v := d.buf[d.off : d.off+n]
	d.off += n
	return v
}

// expect consumes n bytes that must equal want.
func (d *decoder) expect(want []byte, kind string) {
	got := d.take(len(want))
	if d.err == nil && !bytes.Equal(got, want) {
		d.off -= len(want)
		d.fail(kind)
	}
}

// skip consumes n bytes without looking at them.
func (d *decoder) skip(n int) {
	d.take(n)
}

func (d *decoder) magic() {
	d.expect(Magic, "bad magic")
}

func (d *decoder) name() string {
	raw := d.take(nameLen)
	return string(bytes.TrimRight(raw, "\x00"))
}

// finish asserts the whole datagram was consumed.
func (d *decoder) finish() *ParseError {
	if d.err != nil {
		return d.err
	}
	if d.off != len(d.buf) {
		d.fail("trailing bytes after packet")
	}
	return d.err
}

// writeName pads name with NULs to the 20-byte wire field. Callers validate
// length up front; anything longer is truncated here.
func writeName(b *bytes.Buffer, name string) {
	var field [nameLen]byte
	copy(field[:], name)
	b.Write(field[:])
}

// writeHeader emits the shared control-packet header: magic, [type, 0x00],
// name, the 0x01 constant, protocol version, and the big-endian total length.
func writeHeader(b *bytes.Buffer, typ byte, name string, protoVer uint8, pktLen uint16) {
	b.Write(Magic)
	b.WriteByte(typ)
	b.WriteByte(0x00)
	writeName(b, name)
	b.WriteByte(0x01)
	b.WriteByte(protoVer)
	b.WriteByte(byte(pktLen >> 8))
	b.WriteByte(byte(pktLen))
}

// controlHeader parses the shared header for control packet type typ and
// returns the device name, protocol version and declared length.
func (d *decoder) controlHeader(typ byte) (name string, protoVer uint8, length uint16) {
	d.magic()
	d.expect([]byte{typ, 0x00}, "wrong packet type")
	name = d.name()
	d.expect([]byte{0x01}, "bad header constant")
	protoVer = d.u8()
	length = d.u16()
	return name, protoVer, length
}

// wrap lifts a concrete parse result into the Packet interface without
// wrapping a concrete nil.
func wrap[T Packet](pkt T, err error) (Packet, error) {
	if err != nil {
		return nil, err
	}
	return pkt, nil
}

// ParseMembership decodes a datagram from the membership port (50000).
func ParseMembership(buf []byte) (Packet, error) {
	if len(buf) < 0x0c || !bytes.HasPrefix(buf, Magic) {
		d := newDecoder(buf)
		d.fail("bad magic")
		return nil, d.err
	}
	switch buf[0x0a] {
	case TypeAnnounce:
		return wrap(parseAnnounce(buf))
	case TypeClaim1:
		return wrap(parseClaim1(buf))
	case TypeClaim2:
		return wrap(parseClaim2(buf))
	case TypeClaim3:
		return wrap(parseClaim3(buf))
	case TypeKeepAlive:
		return wrap(parseKeepAlive(buf))
	}
	d := newDecoder(buf)
	d.off = 0x0a
	d.fail("unknown membership packet type")
	return nil, d.err
}

// ParseStatus decodes a datagram from the status port (50002). Both Announce
// and PlayerStatus arrive with type code 0x0a; byte 0x0b disambiguates.
func ParseStatus(buf []byte) (Packet, error) {
	if len(buf) < 0x0c || !bytes.HasPrefix(buf, Magic) {
		d := newDecoder(buf)
		d.fail("bad magic")
		return nil, d.err
	}
	if buf[0x0a] == TypeAnnounce && buf[0x0b] != 0x00 {
		return wrap(parsePlayerStatus(buf))
	}
	return ParseMembership(buf)
}

// ParseSync decodes a datagram from the beat port (50001).
func ParseSync(buf []byte) (Packet, error) {
	if len(buf) < 0x0c || !bytes.HasPrefix(buf, Magic) {
		d := newDecoder(buf)
		d.fail("bad magic")
		return nil, d.err
	}
	if buf[0x0a] == TypeBeat {
		return wrap(parseBeat(buf))
	}
	d := newDecoder(buf)
	d.off = 0x0a
	d.fail("unknown sync packet type")
	return nil, d.err
}

// Package xdr implements the subset of XDR (RFC 4506) needed to speak ONC
// RPC, portmap, mount and NFSv2: big-endian 4-byte scalars, booleans, and
// opaque data padded to 4-byte boundaries.
package xdr

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	ErrShort       = errors.New("xdr: buffer too short")
	ErrBadBool     = errors.New("xdr: invalid boolean value")
	ErrLengthLimit = errors.New("xdr: length exceeds limit")
)

// Pad returns the number of padding bytes after n data bytes.
func Pad(n int) int {
	if n%4 == 0 {
		return 0
	}
	return 4 - n%4
}

// Encoder appends XDR-encoded values to a byte slice.
type Encoder struct {
	buf []byte
}

func NewEncoder() *Encoder {
	return &Encoder{}
}

func (e *Encoder) Bytes() []byte { return e.buf }

func (e *Encoder) U32(v uint32) *Encoder {
	e.buf = binary.BigEndian.AppendUint32(e.buf, v)
	return e
}

func (e *Encoder) I32(v int32) *Encoder {
	return e.U32(uint32(v))
}

func (e *Encoder) U64(v uint64) *Encoder {
	e.buf = binary.BigEndian.AppendUint64(e.buf, v)
	return e
}

func (e *Encoder) Bool(v bool) *Encoder {
	if v {
		return e.U32(1)
	}
	return e.U32(0)
}

// FixedOpaque appends b without a length prefix, padded to 4 bytes.
func (e *Encoder) FixedOpaque(b []byte) *Encoder {
	e.buf = append(e.buf, b...)
	e.buf = append(e.buf, make([]byte, Pad(len(b)))...)
	return e
}

// Opaque appends a length-prefixed variable opaque, padded to 4 bytes.
func (e *Encoder) Opaque(b []byte) *Encoder {
	e.U32(uint32(len(b)))
	return e.FixedOpaque(b)
}

// String appends an XDR string (same wire form as Opaque).
func (e *Encoder) String(s string) *Encoder {
	return e.Opaque([]byte(s))
}

// Decoder consumes XDR-encoded values from a byte slice.
type Decoder struct {
	buf []byte
	off int
}

func NewDecoder(buf []byte) *Decoder {
	return &Decoder{buf: buf}
}

// Remaining reports how many bytes have not been consumed.
func (d *Decoder) Remaining() int { return len(d.buf) - d.off }

func (d *Decoder) U32() (uint32, error) {
	if d.Remaining() < 4 {
		return 0, ErrShort
	}
	v := binary.BigEndian.Uint32(d.buf[d.off:])
	d.off += 4
	return v, nil
}

func (d *Decoder) I32() (int32, error) {
	v, err := d.U32()
	return int32(v), err
}

func (d *Decoder) U64() (uint64, error) {
	if d.Remaining() < 8 {
		return 0, ErrShort
	}
	v := binary.BigEndian.Uint64(d.buf[d.off:])
	d.off += 8
	return v, nil
}

func (d *Decoder) Bool() (bool, error) {
	v, err := d.I32()
	if err != nil {
		return false, err
	}
	switch v {
	case 0:
		return false, nil
	case 1:
		return true, nil
	}
	return false, fmt.Errorf("%w: %d", ErrBadBool, v)
}

// FixedOpaque reads n bytes plus padding.
func (d *Decoder) FixedOpaque(n int) ([]byte, error) {
	if d.Remaining() < n {
		return nil, ErrShort
	}
	v := d.buf[d.off : d.off+n]
	skip := n + Pad(n)
	if d.Remaining() < skip {
		return nil, ErrShort
	}
	d.off += skip
	return v, nil
}

// Opaque reads a length-prefixed variable opaque. max bounds the accepted
// length; pass 0 for no limit.
func (d *Decoder) Opaque(max int) ([]byte, error) {
	n, err := d.U32()
	if err != nil {
		return nil, err
	}
	if max > 0 && int(n) > max {
		return nil, fmt.Errorf("%w: %d > %d", ErrLengthLimit, n, max)
	}
	return d.FixedOpaque(int(n))
}

// String reads an XDR string.
func (d *Decoder) String(max int) (string, error) {
	b, err := d.Opaque(max)
	return string(b), err
}

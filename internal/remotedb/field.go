// Package remotedb implements the proprietary TCP metadata service the
// players expose next to NFS: a tagged-field codec and the request sequence
// for track metadata and artwork. The library's metadata task reads the
// on-media database over NFS instead, but the channel is kept for tooling
// and for players whose media is not browsable.
package remotedb

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"unicode/utf16"
)

// Field type tags on the wire.
const (
	tagU8     = 0x0f
	tagU16    = 0x10
	tagU32    = 0x11
	tagBlob   = 0x14
	tagString = 0x26
)

var errShortField = errors.New("remotedb: truncated field")

// Field is one tagged value. Exactly one member is meaningful, selected by
// Kind.
type Field struct {
	Kind uint8 // one of the tag constants
	U8   uint8
	U16  uint16
	U32  uint32
	Blob []byte
	Str  string
}

func U8(v uint8) Field    { return Field{Kind: tagU8, U8: v} }
func U16(v uint16) Field  { return Field{Kind: tagU16, U16: v} }
func U32(v uint32) Field  { return Field{Kind: tagU32, U32: v} }
func Blob(b []byte) Field { return Field{Kind: tagBlob, Blob: b} }
func Str(s string) Field  { return Field{Kind: tagString, Str: s} }

// DMST packs the (device, menu, slot, track-type) tuple every request
// carries into its u32 form.
func DMST(device, menu, slot, trackType uint8) Field {
	return U32(uint32(device)<<24 | uint32(menu)<<16 | uint32(slot)<<8 | uint32(trackType))
}

// encode appends the field's wire form. Strings travel as big-endian UTF-16
// code units with a u32 unit count.
func (f Field) encode(b *bytes.Buffer) {
	b.WriteByte(f.Kind)
	switch f.Kind {
	case tagU8:
		b.WriteByte(f.U8)
	case tagU16:
		binary.Write(b, binary.BigEndian, f.U16)
	case tagU32:
		binary.Write(b, binary.BigEndian, f.U32)
	case tagBlob:
		binary.Write(b, binary.BigEndian, uint32(len(f.Blob)))
		b.Write(f.Blob)
	case tagString:
		units := utf16.Encode([]rune(f.Str))
		binary.Write(b, binary.BigEndian, uint32(len(units)))
		for _, u := range units {
			binary.Write(b, binary.BigEndian, u)
		}
	}
}

// decodeField reads one field from data, returning the remainder.
// errShortField signals that more bytes are needed, not a corrupt stream.
func decodeField(data []byte) (Field, []byte, error) {
	if len(data) < 1 {
		return Field{}, nil, errShortField
	}
	kind := data[0]
	rest := data[1:]
	switch kind {
	case tagU8:
		if len(rest) < 1 {
			return Field{}, nil, errShortField
		}
		return U8(rest[0]), rest[1:], nil
	case tagU16:
		if len(rest) < 2 {
			return Field{}, nil, errShortField
		}
		return U16(binary.BigEndian.Uint16(rest)), rest[2:], nil
	case tagU32:
		if len(rest) < 4 {
			return Field{}, nil, errShortField
		}
		return U32(binary.BigEndian.Uint32(rest)), rest[4:], nil
	case tagBlob:
		if len(rest) < 4 {
			return Field{}, nil, errShortField
		}
		n := int(binary.BigEndian.Uint32(rest))
		rest = rest[4:]
		if len(rest) < n {
			return Field{}, nil, errShortField
		}
		return Blob(append([]byte{}, rest[:n]...)), rest[n:], nil
	case tagString:
		if len(rest) < 4 {
			return Field{}, nil, errShortField
		}
		n := int(binary.BigEndian.Uint32(rest))
		rest = rest[4:]
		if len(rest) < 2*n {
			return Field{}, nil, errShortField
		}
		units := make([]uint16, n)
		for i := range units {
			units[i] = binary.BigEndian.Uint16(rest[2*i:])
		}
		s := string(utf16.Decode(units))
		for len(s) > 0 && s[len(s)-1] == 0 {
			s = s[:len(s)-1]
		}
		return Str(s), rest[2*n:], nil
	}
	return Field{}, nil, fmt.Errorf("remotedb: unknown field tag %#x", kind)
}

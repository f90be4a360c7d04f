package pdb

import (
	"encoding/binary"
	"strings"
	"unicode/utf16"
)

// decodeDeviceString decodes a DeviceSQL string blob. The first byte
// discriminates three layouts:
//
//   - 0x90 with a kind byte of 3 at offset 4: long ASCII. The u16le at
//     offset 1 is the total blob length; payload runs [5, len-1).
//   - low bit clear: long UTF-16LE. The u16le at offset 1 is the total blob
//     length; payload runs [4, len) as little-endian code units.
//   - low bit set: short ASCII. The length is flags>>1 counting the flag
//     byte itself; payload runs [1, len).
//
// Anything below the minimum length for its layout decodes to "".
func decodeDeviceString(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	flags := data[0]

	if flags == 0x90 && len(data) >= 5 && data[4] == 3 {
		blobLen := int(binary.LittleEndian.Uint16(data[1:]))
		if blobLen < 6 || blobLen-1 > len(data) {
			return ""
		}
		return trimNul(string(data[5 : blobLen-1]))
	}

	if flags&0x01 == 0 {
		if len(data) < 4 {
			return ""
		}
		blobLen := int(binary.LittleEndian.Uint16(data[1:]))
		if blobLen < 4 || blobLen > len(data) {
			return ""
		}
		payload := data[4:blobLen]
		units := make([]uint16, 0, len(payload)/2)
		for i := 0; i+1 < len(payload); i += 2 {
			units = append(units, uint16(payload[i])|uint16(payload[i+1])<<8)
		}
		return trimNul(string(utf16.Decode(units)))
	}

	blobLen := int(flags >> 1)
	if blobLen < 1 || blobLen > len(data) {
		return ""
	}
	return trimNul(string(data[1:blobLen]))
}

func trimNul(s string) string {
	return strings.TrimRight(s, "\x00")
}

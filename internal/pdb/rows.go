package pdb

import "encoding/binary"

// Row layouts. Offsets are relative to the row start; all values are
// little-endian. Rows sit inside a page, so a row slice runs to the end of
// its page and every read is bounds-checked against that.

func rowU16(row []byte, ofs int) uint16 {
	if ofs+2 > len(row) {
		return 0
	}
	return binary.LittleEndian.Uint16(row[ofs:])
}

func rowU32(row []byte, ofs int) uint32 {
	if ofs+4 > len(row) {
		return 0
	}
	return binary.LittleEndian.Uint32(row[ofs:])
}

func rowU8(row []byte, ofs int) uint8 {
	if ofs >= len(row) {
		return 0
	}
	return row[ofs]
}

func rowString(row []byte, ofs int) string {
	if ofs <= 0 || ofs >= len(row) {
		return ""
	}
	return decodeDeviceString(row[ofs:])
}

func (db *Database) parseTrackRow(row []byte) {
	t := Track{
		SampleRate:       rowU32(row, 0x08),
		ComposerID:       rowU32(row, 0x0c),
		FileSize:         rowU32(row, 0x10),
		ArtworkID:        rowU32(row, 0x1c),
		KeyID:            rowU32(row, 0x20),
		OriginalArtistID: rowU32(row, 0x24),
		LabelID:          rowU32(row, 0x28),
		RemixerID:        rowU32(row, 0x2c),
		Bitrate:          rowU32(row, 0x30),
		TrackNumber:      rowU32(row, 0x34),
		Tempo:            rowU32(row, 0x38),
		GenreID:          rowU32(row, 0x3c),
		AlbumID:          rowU32(row, 0x40),
		ArtistID:         rowU32(row, 0x44),
		ID:               rowU32(row, 0x48),
		Disc:             rowU16(row, 0x4c),
		PlayCount:        rowU16(row, 0x4e),
		Year:             rowU16(row, 0x50),
		SampleDepth:      rowU16(row, 0x52),
		Duration:         rowU16(row, 0x54),
		ColorID:          rowU8(row, 0x58),
		Rating:           rowU8(row, 0x59),
	}
	for i := 0; i < numTrackStrings; i++ {
		t.Strings[i] = rowString(row, int(rowU16(row, 0x5e+2*i)))
	}
	db.Tracks[t.ID] = t
}

// Artist rows come in two sub-types: 0x60 stores a one-byte name offset at
// 0x09, 0x64 a wider offset at 0x0a.
func (db *Database) parseArtistRow(row []byte) {
	subtype := rowU16(row, 0x00)
	id := rowU32(row, 0x04)
	var ofs int
	switch subtype {
	case 0x60:
		ofs = int(rowU8(row, 0x09))
	case 0x64:
		ofs = int(rowU16(row, 0x0a))
	default:
		return
	}
	db.Artists[id] = rowString(row, ofs)
}

func (db *Database) parseAlbumRow(row []byte) {
	id := rowU32(row, 0x0c)
	db.Albums[id] = Album{
		ArtistID: rowU32(row, 0x08),
		Name:     rowString(row, int(rowU8(row, 0x15))),
	}
}

// parseNamedRow handles the tables that are just (id, name): genres, labels.
func parseNamedRow(row []byte, into map[uint32]string) {
	into[rowU32(row, 0x00)] = rowString(row, 4)
}

func (db *Database) parseKeyRow(row []byte) {
	db.Keys[rowU32(row, 0x00)] = rowString(row, 8)
}

func (db *Database) parseColorRow(row []byte) {
	db.Colors[uint32(rowU16(row, 0x05))] = rowString(row, 8)
}

func (db *Database) parseArtworkRow(row []byte) {
	db.Artwork[rowU32(row, 0x00)] = rowString(row, 4)
}

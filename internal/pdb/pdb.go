// Package pdb decodes the rekordbox "export.pdb" library file found on a
// player's USB or SD media. The format is a paginated table store: a header
// with per-table page ranges, fixed-size pages holding packed rows, and a
// custom string encoding ("DeviceSQL") with ASCII and UTF-16LE variants.
//
// Everything in the file is little-endian, unlike the rest of the wire
// protocol.
package pdb

import (
	"encoding/binary"
	"fmt"
)

// Table type codes in the file header's table directory.
const (
	tableTracks           = 0x00
	tableGenres           = 0x01
	tableArtists          = 0x02
	tableAlbums           = 0x03
	tableLabels           = 0x04
	tableKeys             = 0x05
	tableColors           = 0x06
	tablePlaylistTree     = 0x07
	tablePlaylistEntries  = 0x08
	tableArtwork          = 0x0d
	tableColumns          = 0x10
	tableHistoryPlaylists = 0x11
	tableHistoryEntries   = 0x12
	tableHistory          = 0x13
)

// Page geometry.
const (
	pageHeaderLen = 0x28

	ofsPageNext     = 0x0c
	ofsPageFlags    = 0x1b
	ofsNumRowsSmall = 0x18
	ofsNumRowsLarge = 0x22

	// A page with this flag bit set is an index page: it holds no rows but
	// still links to the next data page.
	flagStrangePage = 0x40

	// When the large row count holds this sentinel only the small count is
	// valid.
	numRowsLargeInvalid = 0x1fff

	rowGroupSize   = 16
	rowGroupStride = 36
)

// Track is one row of the track table. Foreign keys reference the satellite
// tables; StringAt exposes the per-row string heap.
type Track struct {
	ID               uint32
	SampleRate       uint32
	ComposerID       uint32
	FileSize         uint32
	ArtworkID        uint32
	KeyID            uint32
	OriginalArtistID uint32
	LabelID          uint32
	RemixerID        uint32
	Bitrate          uint32
	TrackNumber      uint32
	Tempo            uint32 // BPM * 100
	GenreID          uint32
	AlbumID          uint32
	ArtistID         uint32
	Disc             uint16
	PlayCount        uint16
	Year             uint16
	SampleDepth      uint16
	Duration         uint16 // seconds
	ColorID          uint8
	Rating           uint8
	Strings          [numTrackStrings]string
}

// String-heap indices consumed downstream.
const (
	numTrackStrings = 21

	TrackStringISRC        = 0
	TrackStringDateAdded   = 10
	TrackStringReleaseDate = 11
	TrackStringMixName     = 12
	TrackStringComment     = 16
	TrackStringTitle       = 17
)

// Album carries its own name plus the album-artist reference.
type Album struct {
	Name     string
	ArtistID uint32
}

// Database is the decoded file: every table we consume, fully indexed by id.
type Database struct {
	PageSize uint32
	Sequence uint32

	Tracks  map[uint32]Track
	Genres  map[uint32]string
	Artists map[uint32]string
	Albums  map[uint32]Album
	Labels  map[uint32]string
	Keys    map[uint32]string
	Colors  map[uint32]string
	Artwork map[uint32]string // artwork id -> path under the export root
}

type tablePointer struct {
	typ       uint32
	firstPage uint32
	lastPage  uint32
}

// Parse decodes a whole export.pdb image.
func Parse(data []byte) (*Database, error) {
	if len(data) < 0x1c {
		return nil, fmt.Errorf("pdb: file too short: %d bytes", len(data))
	}
	pageSize := binary.LittleEndian.Uint32(data[4:])
	numTables := binary.LittleEndian.Uint32(data[8:])
	sequence := binary.LittleEndian.Uint32(data[0x14:])
	if pageSize == 0 || pageSize > 1<<20 {
		return nil, fmt.Errorf("pdb: implausible page size %d", pageSize)
	}

	tables := make([]tablePointer, 0, numTables)
	off := 0x1c
	for i := uint32(0); i < numTables; i++ {
		if off+16 > len(data) {
			return nil, fmt.Errorf("pdb: truncated table directory")
		}
		tables = append(tables, tablePointer{
			typ:       binary.LittleEndian.Uint32(data[off:]),
			firstPage: binary.LittleEndian.Uint32(data[off+8:]),
			lastPage:  binary.LittleEndian.Uint32(data[off+12:]),
		})
		off += 16
	}

	db := &Database{
		PageSize: pageSize,
		Sequence: sequence,
		Tracks:   make(map[uint32]Track),
		Genres:   make(map[uint32]string),
		Artists:  make(map[uint32]string),
		Albums:   make(map[uint32]Album),
		Labels:   make(map[uint32]string),
		Keys:     make(map[uint32]string),
		Colors:   make(map[uint32]string),
		Artwork:  make(map[uint32]string),
	}

	for _, table := range tables {
		parseRow := db.rowParser(table.typ)
		if parseRow == nil {
			continue // table we do not consume
		}
		if err := walkTable(data, pageSize, table, parseRow); err != nil {
			return nil, fmt.Errorf("pdb: table %#x: %w", table.typ, err)
		}
	}
	return db, nil
}

// rowParser picks the row decoder for a table type; nil means skip.
func (db *Database) rowParser(typ uint32) func(row []byte) {
	switch typ {
	case tableTracks:
		return db.parseTrackRow
	case tableGenres:
		return func(row []byte) { parseNamedRow(row, db.Genres) }
	case tableArtists:
		return db.parseArtistRow
	case tableAlbums:
		return db.parseAlbumRow
	case tableLabels:
		return func(row []byte) { parseNamedRow(row, db.Labels) }
	case tableKeys:
		return db.parseKeyRow
	case tableColors:
		return db.parseColorRow
	case tableArtwork:
		return db.parseArtworkRow
	}
	return nil
}

// walkTable follows the page chain from firstPage through lastPage, handing
// every populated row to parseRow.
func walkTable(data []byte, pageSize uint32, table tablePointer, parseRow func([]byte)) error {
	pageIndex := table.firstPage
	seen := make(map[uint32]bool)
	for {
		if seen[pageIndex] {
			return fmt.Errorf("page chain loops at page %d", pageIndex)
		}
		seen[pageIndex] = true

		start := int(pageIndex) * int(pageSize)
		end := start + int(pageSize)
		if start < 0 || end > len(data) {
			return fmt.Errorf("page %d out of file bounds", pageIndex)
		}
		page := data[start:end]

		if page[ofsPageFlags]&flagStrangePage == 0 {
			parsePageRows(page, parseRow)
		}

		if pageIndex == table.lastPage {
			return nil
		}
		next := binary.LittleEndian.Uint32(page[ofsPageNext:])
		if next == 0 || next == pageIndex {
			return nil
		}
		pageIndex = next
	}
}

// parsePageRows walks the row-offset groups packed at the tail of the page.
// Rows come in groups of 16; each group stores 16 little-endian u16 offsets
// growing down from the page end plus a presence bitmask.
func parsePageRows(page []byte, parseRow func([]byte)) {
	pageLen := len(page)
	numRows := int(page[ofsNumRowsSmall])
	large := int(binary.LittleEndian.Uint16(page[ofsNumRowsLarge:]))
	if large != numRowsLargeInvalid && large > numRows {
		numRows = large
	}

	for i := 0; i < numRows; i++ {
		g := i / rowGroupSize
		s := i % rowGroupSize

		maskOfs := pageLen - g*rowGroupStride - 4
		ofsOfs := pageLen - g*rowGroupStride - 6 - 2*s
		if maskOfs < pageHeaderLen || ofsOfs < pageHeaderLen {
			return
		}
		mask := binary.LittleEndian.Uint16(page[maskOfs:])
		if mask&(1<<uint(s)) == 0 {
			continue
		}
		rowOfs := pageHeaderLen + int(binary.LittleEndian.Uint16(page[ofsOfs:]))
		if rowOfs >= pageLen {
			continue
		}
		parseRow(page[rowOfs:])
	}
}

package prolink

// Message is an event delivered on the public queue returned by Handle.Next.
// The concrete types are *PeerJoined, *PeerLeft, *NewTrack and *Beat.
type Message interface {
	message()
}

func (*PeerJoined) message() {}
func (*PeerLeft) message()   {}
func (*NewTrack) message()   {}
func (*Beat) message()       {}

// Peer is the public view of a discovered device.
type Peer struct {
	Name      string
	DeviceNum uint8
}

// PeerJoined announces a device that appeared on the network.
type PeerJoined struct {
	Peer
}

// PeerLeft announces a device that timed out or changed identity.
type PeerLeft struct {
	Peer
}

// Track describes the track loaded on a deck. Two Tracks are the same load
// when the five identifying fields match; Metadata and Artwork are
// enrichment and do not participate in identity.
type Track struct {
	PlayerDevice uint8 // deck reporting the load
	TrackDevice  uint8 // device holding the media
	TrackSlot    uint8 // 2 = USB, 3 = SD
	TrackType    uint8
	RekordboxID  uint32

	Metadata *TrackMetadata // nil when the id is 0; a failed lookup emits no NewTrack
	Artwork  []byte         // nil when the track has none or the fetch failed
}

// sameIdentity reports whether t and o refer to the same track load.
func (t *Track) sameIdentity(o *Track) bool {
	return t.PlayerDevice == o.PlayerDevice &&
		t.TrackDevice == o.TrackDevice &&
		t.TrackSlot == o.TrackSlot &&
		t.TrackType == o.TrackType &&
		t.RekordboxID == o.RekordboxID
}

// NewTrack reports a changed track load on a deck.
type NewTrack struct {
	Track
}

// TrackMetadata is the flat record resolved from the player's library file.
// Unresolved references come back as empty strings, never as an error.
type TrackMetadata struct {
	Title          string
	Artist         string
	Album          string
	AlbumArtist    string
	Genre          string
	Label          string
	Remixer        string
	Composer       string
	OriginalArtist string
	Key            string
	Color          string
	Comment        string
	MixName        string
	ISRC           string
	DateAdded      string
	ReleaseDate    string

	Tempo       float32 // BPM
	TrackNumber uint32
	SampleRate  uint32
	Bitrate     uint32
	FileSize    uint32
	Duration    uint16 // seconds
	Year        uint16
	Disc        uint16
	PlayCount   uint16
	SampleDepth uint16
	Rating      uint8
}

// Beat is the per-beat timing event. The six offsets are milliseconds until
// the named upcoming beat at the current tempo.
type Beat struct {
	DeviceNum  uint8
	NextBeat   uint32
	SecondBeat uint32
	NextBar    uint32
	FourthBeat uint32
	SecondBar  uint32
	EighthBeat uint32
	Pitch      float32 // percent
	BPM        float32
	BeatInBar  uint8 // 1..4
}

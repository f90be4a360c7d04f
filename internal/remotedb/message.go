package remotedb

import (
	"bytes"
	"errors"
	"fmt"
)

// messageMagic opens every message as a tagged u32 field.
const messageMagic = 0x872349ae

const maxArgs = 12

// Message types exchanged with the service.
const (
	MsgSetup           = 0x0000
	MsgMetadataRequest = 0x2002
	MsgArtworkRequest  = 0x2003
	MsgRenderRequest   = 0x3000
	MsgSuccess         = 0x4000
	MsgArtwork         = 0x4002
	MsgMenuItem        = 0x4101
	MsgMenuFooter      = 0x4201
)

// Message is one request or response frame.
type Message struct {
	TxID uint32
	Type uint16
	Args []Field
}

// argTag maps a field to its slot in the argument-tag blob.
func argTag(f Field) (byte, error) {
	switch f.Kind {
	case tagU32:
		return 0x06, nil
	case tagBlob:
		return 0x03, nil
	case tagString:
		return 0x02, nil
	}
	return 0, fmt.Errorf("remotedb: field kind %#x cannot be a message argument", f.Kind)
}

// Encode serializes the message frame.
func (m *Message) Encode() ([]byte, error) {
	if len(m.Args) > maxArgs {
		return nil, fmt.Errorf("remotedb: %d args exceeds the %d-arg limit", len(m.Args), maxArgs)
	}
	tags := make([]byte, 0, len(m.Args))
	for _, arg := range m.Args {
		tag, err := argTag(arg)
		if err != nil {
			return nil, err
		}
		tags = append(tags, tag)
	}

	var b bytes.Buffer
	U32(messageMagic).encode(&b)
	U32(m.TxID).encode(&b)
	U16(m.Type).encode(&b)
	U8(uint8(len(m.Args))).encode(&b)
	Blob(tags).encode(&b)
	for _, arg := range m.Args {
		arg.encode(&b)
	}
	return b.Bytes(), nil
}

// ErrIncomplete reports that a frame is not fully buffered yet.
var ErrIncomplete = errors.New("remotedb: incomplete message")

// Decode parses one message from the front of data and returns the unread
// remainder. ErrIncomplete means read more and retry.
func Decode(data []byte) (*Message, []byte, error) {
	magic, rest, err := decodeField(data)
	if err != nil {
		return nil, nil, incomplete(err)
	}
	if magic.Kind != tagU32 || magic.U32 != messageMagic {
		return nil, nil, fmt.Errorf("remotedb: bad message magic %#x", magic.U32)
	}
	txID, rest, err := decodeField(rest)
	if err != nil {
		return nil, nil, incomplete(err)
	}
	typ, rest, err := decodeField(rest)
	if err != nil {
		return nil, nil, incomplete(err)
	}
	numArgs, rest, err := decodeField(rest)
	if err != nil {
		return nil, nil, incomplete(err)
	}
	if _, rest, err = decodeField(rest); err != nil { // arg-tag blob
		return nil, nil, incomplete(err)
	}
	if txID.Kind != tagU32 || typ.Kind != tagU16 || numArgs.Kind != tagU8 {
		return nil, nil, errors.New("remotedb: malformed message header")
	}

	msg := &Message{TxID: txID.U32, Type: typ.U16}
	for i := 0; i < int(numArgs.U8); i++ {
		var arg Field
		arg, rest, err = decodeField(rest)
		if err != nil {
			return nil, nil, incomplete(err)
		}
		msg.Args = append(msg.Args, arg)
	}
	return msg, rest, nil
}

func incomplete(err error) error {
	if errors.Is(err, errShortField) {
		return ErrIncomplete
	}
	return err
}

// ArgU32 returns argument idx, which must be a u32.
func (m *Message) ArgU32(idx int) (uint32, error) {
	if idx >= len(m.Args) {
		return 0, fmt.Errorf("remotedb: arg %d out of range", idx)
	}
	if m.Args[idx].Kind != tagU32 {
		return 0, fmt.Errorf("remotedb: arg %d is not a u32", idx)
	}
	return m.Args[idx].U32, nil
}

// ArgString returns argument idx, which must be a string.
func (m *Message) ArgString(idx int) (string, error) {
	if idx >= len(m.Args) {
		return "", fmt.Errorf("remotedb: arg %d out of range", idx)
	}
	if m.Args[idx].Kind != tagString {
		return "", fmt.Errorf("remotedb: arg %d is not a string", idx)
	}
	return m.Args[idx].Str, nil
}

// ArgBlob returns argument idx, which must be a blob.
func (m *Message) ArgBlob(idx int) ([]byte, error) {
	if idx >= len(m.Args) {
		return nil, fmt.Errorf("remotedb: arg %d out of range", idx)
	}
	if m.Args[idx].Kind != tagBlob {
		return nil, fmt.Errorf("remotedb: arg %d is not a blob", idx)
	}
	return m.Args[idx].Blob, nil
}

// MenuItemType labels the rows of a rendered menu.
type MenuItemType uint32

const (
	ItemFolder         MenuItemType = 0x0001
	ItemAlbumTitle     MenuItemType = 0x0002
	ItemDisc           MenuItemType = 0x0003
	ItemTrackTitle     MenuItemType = 0x0004
	ItemGenre          MenuItemType = 0x0006
	ItemArtist         MenuItemType = 0x0007
	ItemPlaylist       MenuItemType = 0x0008
	ItemRating         MenuItemType = 0x000a
	ItemDuration       MenuItemType = 0x000b
	ItemTempo          MenuItemType = 0x000d
	ItemLabel          MenuItemType = 0x000e
	ItemKey            MenuItemType = 0x000f
	ItemBitRate        MenuItemType = 0x0010
	ItemYear           MenuItemType = 0x0011
	ItemComment        MenuItemType = 0x0023
	ItemOriginalArtist MenuItemType = 0x0028
	ItemRemixer        MenuItemType = 0x0029
	ItemDateAdded      MenuItemType = 0x002e
)

var menuItemNames = map[MenuItemType]string{
	ItemFolder:         "folder",
	ItemAlbumTitle:     "album",
	ItemDisc:           "disc",
	ItemTrackTitle:     "title",
	ItemGenre:          "genre",
	ItemArtist:         "artist",
	ItemPlaylist:       "playlist",
	ItemRating:         "rating",
	ItemDuration:       "duration",
	ItemTempo:          "tempo",
	ItemLabel:          "label",
	ItemKey:            "key",
	ItemBitRate:        "bitrate",
	ItemYear:           "year",
	ItemComment:        "comment",
	ItemOriginalArtist: "original_artist",
	ItemRemixer:        "remixer",
	ItemDateAdded:      "date_added",
}

func (t MenuItemType) String() string {
	if name, ok := menuItemNames[t]; ok {
		return name
	}
	return fmt.Sprintf("item_%#x", uint32(t))
}

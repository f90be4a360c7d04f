package proto

import "bytes"

// Player type codes observed at offset 0xcc of a status packet. They select
// the trailer form: 0x05 has none, 0x1f carries the extended trailer below.
// Anything else is tolerated and decoded as preamble-only.
const (
	PlayerTypeCDJ  = 0x05
	PlayerType3000 = 0x1f
)

const (
	statusPreambleLen = 0xd0
	statusExtendedLen = 0x3f4
)

var statusTrailerMagic = []byte{0x12, 0x34, 0x56, 0x78}

// StatusExtra is the extended trailer appended by player type 0x1f devices.
// Most of it is opaque; the opaque regions are kept so the packet can be
// re-encoded bit-exactly.
type StatusExtra struct {
	UnknownD4     [28]byte
	UnknownF4     [6]byte
	WaveformColor uint8
	UnknownFB     uint16
	WaveformPos   uint8
	UnknownFE     [31]byte
	BufF          uint8
	BufB          uint8
	BufS          uint8
	Unknown120    [0x38]byte
	MasterTempo   uint8
	Unknown159    [3]byte
	Key           uint32 // 24 bits on the wire
	Unknown160    [4]byte
	KeyShift      [8]byte
	Unknown16C    [0x288]byte
}

// PlayerStatus is the large per-deck state packet broadcast on port 50002.
// Fields keep the names they acquired during reverse engineering; the
// interesting ones for track tracking are DeviceNum, TrackDevice, TrackSlot,
// TrackType and RekordboxID.
type PlayerStatus struct {
	Name          string
	Unknown10     uint8
	DeviceNum     uint8
	Unknown16     uint8
	Active        uint8
	TrackDevice   uint8
	TrackSlot     uint8
	TrackType     uint8
	RekordboxID   uint32
	TrackNum      uint16
	DL            uint8
	Unknown38     [14]byte
	DN            uint16
	USBActivity   uint8
	SDActivity    uint8
	UL            uint8
	SL            uint8
	LinkAvailable uint8
	Unknown78     uint8
	PlayMode      uint8
	FirmwareVer   string
	SyncNum       uint32
	Flags         uint8
	Unknown8B     uint8
	PlayState     uint8
	Pitch1        uint32
	MV            uint16
	BPM           uint16
	Unknown94     uint32
	Pitch2        uint32
	P3            uint8
	MM            uint8
	MH            uint8
	Beat          uint32
	Cue           uint16
	BarBeat       uint8
	MediaPresence uint8
	UE            uint8
	SE            uint8
	EmergencyLoop uint8
	Pitch3        uint32
	Pitch4        uint32
	SeqNum        uint32
	PlayerType    uint8
	UnknownCD     [3]byte
	Extra         *StatusExtra
}

func parsePlayerStatus(buf []byte) (*PlayerStatus, error) {
	d := newDecoder(buf)
	d.magic()
	d.expect([]byte{TypeAnnounce}, "wrong packet type")
	p := &PlayerStatus{}
	p.Name = d.name()
	d.expect([]byte{0x01}, "bad header constant")
	p.Unknown10 = d.u8()
	p.DeviceNum = d.u8()
	d.u16() // declared length; the buffer length is authoritative
	d.u8()  // device number repeated
	d.expect([]byte{0x00}, "bad status constant")
	p.Unknown16 = d.u8()

	p.Active = d.u8()
	p.TrackDevice = d.u8()
	p.TrackSlot = d.u8()
	p.TrackType = d.u8()

	// 0x2b
	d.expect([]byte{0x00}, "bad status constant")
	p.RekordboxID = d.u32()
	d.expect([]byte{0x00, 0x00}, "bad status constant")
	p.TrackNum = d.u16()
	d.expect([]byte{0x00, 0x00, 0x00}, "bad status constant")
	p.DL = d.u8()

	// 0x38
	copy(p.Unknown38[:], d.take(14))

	// 0x46
	p.DN = d.u16()
	d.expect(make([]byte, 32), "bad status constant")
	d.expect([]byte{0x01, 0x00}, "bad status constant")

	// 0x6a
	p.USBActivity = d.u8()
	p.SDActivity = d.u8()
	d.expect([]byte{0x00, 0x00, 0x00}, "bad status constant")
	p.UL = d.u8()

	// 0x70
	d.expect([]byte{0x00, 0x00, 0x00}, "bad status constant")
	p.SL = d.u8()
	d.expect([]byte{0x00}, "bad status constant")
	p.LinkAvailable = d.u8()

	// 0x76
	d.expect([]byte{0x00, 0x00}, "bad status constant")
	p.Unknown78 = d.u8()
	d.expect([]byte{0x00, 0x00}, "bad status constant")
	p.PlayMode = d.u8()
	p.FirmwareVer = string(bytes.TrimRight(d.take(4), "\x00"))

	// 0x80
	d.expect([]byte{0x00, 0x00, 0x00, 0x00}, "bad status constant")
	p.SyncNum = d.u32()
	d.expect([]byte{0x00}, "bad status constant")
	p.Flags = d.u8()
	p.Unknown8B = d.u8()
	p.PlayState = d.u8()
	p.Pitch1 = d.u32()

	// 0x90
	p.MV = d.u16()
	p.BPM = d.u16()
	p.Unknown94 = d.u32()
	p.Pitch2 = d.u32()
	d.expect([]byte{0x00}, "bad status constant")
	p.P3 = d.u8()
	p.MM = d.u8()
	p.MH = d.u8()

	// 0xa0
	p.Beat = d.u32()
	p.Cue = d.u16()
	p.BarBeat = d.u8()
	d.expect(make([]byte, 9), "bad status constant")

	// 0xb0
	d.expect([]byte{0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x01}, "bad status constant")
	p.MediaPresence = d.u8()
	p.UE = d.u8()
	p.SE = d.u8()
	p.EmergencyLoop = d.u8()
	d.expect(make([]byte, 5), "bad status constant")

	// 0xc0
	p.Pitch3 = d.u32()
	p.Pitch4 = d.u32()
	p.SeqNum = d.u32()
	p.PlayerType = d.u8()
	copy(p.UnknownCD[:], d.take(3))

	switch p.PlayerType {
	case PlayerType3000:
		extra := &StatusExtra{}
		// 0xd0
		d.expect(statusTrailerMagic, "bad trailer magic")
		copy(extra.UnknownD4[:], d.take(28))
		// 0xf0
		d.expect(statusTrailerMagic, "bad trailer magic")
		copy(extra.UnknownF4[:], d.take(6))
		extra.WaveformColor = d.u8()
		extra.UnknownFB = d.u16()
		extra.WaveformPos = d.u8()
		copy(extra.UnknownFE[:], d.take(31))
		extra.BufF = d.u8()
		extra.BufB = d.u8()
		extra.BufS = d.u8()
		// 0x120
		copy(extra.Unknown120[:], d.take(0x38))
		// 0x158
		extra.MasterTempo = d.u8()
		copy(extra.Unknown159[:], d.take(3))
		extra.Key = d.u24()
		d.expect([]byte{0x01}, "bad trailer constant")
		// 0x160
		copy(extra.Unknown160[:], d.take(4))
		copy(extra.KeyShift[:], d.take(8))
		// 0x16c
		copy(extra.Unknown16C[:], d.take(0x288))
		p.Extra = extra
		if err := d.finish(); err != nil {
			return nil, err
		}
	case PlayerTypeCDJ:
		if err := d.finish(); err != nil {
			return nil, err
		}
	default:
		// Unknown player type: accept the common preamble, ignore whatever
		// trailer it carries, and let the caller record the value.
		if d.err != nil {
			return nil, d.err
		}
	}

	return p, nil
}

// Encode serializes the packet back to its wire form. The declared length
// field is recomputed from the trailer form.
func (p *PlayerStatus) Encode() []byte {
	var b bytes.Buffer
	b.Write(Magic)
	b.WriteByte(TypeAnnounce)
	writeName(&b, p.Name)
	b.WriteByte(0x01)
	b.WriteByte(p.Unknown10)
	b.WriteByte(p.DeviceNum)
	length := uint16(statusPreambleLen)
	if p.Extra != nil {
		length = statusExtendedLen
	}
	b.WriteByte(byte(length >> 8))
	b.WriteByte(byte(length))
	b.WriteByte(p.DeviceNum)
	b.WriteByte(0x00)
	b.WriteByte(p.Unknown16)

	b.WriteByte(p.Active)
	b.WriteByte(p.TrackDevice)
	b.WriteByte(p.TrackSlot)
	b.WriteByte(p.TrackType)

	b.WriteByte(0x00)
	writeU32(&b, p.RekordboxID)
	b.Write([]byte{0x00, 0x00})
	b.WriteByte(byte(p.TrackNum >> 8))
	b.WriteByte(byte(p.TrackNum))
	b.Write([]byte{0x00, 0x00, 0x00})
	b.WriteByte(p.DL)

	b.Write(p.Unknown38[:])

	b.WriteByte(byte(p.DN >> 8))
	b.WriteByte(byte(p.DN))
	b.Write(make([]byte, 32))
	b.Write([]byte{0x01, 0x00})

	b.WriteByte(p.USBActivity)
	b.WriteByte(p.SDActivity)
	b.Write([]byte{0x00, 0x00, 0x00})
	b.WriteByte(p.UL)

	b.Write([]byte{0x00, 0x00, 0x00})
	b.WriteByte(p.SL)
	b.WriteByte(0x00)
	b.WriteByte(p.LinkAvailable)

	b.Write([]byte{0x00, 0x00})
	b.WriteByte(p.Unknown78)
	b.Write([]byte{0x00, 0x00})
	b.WriteByte(p.PlayMode)
	var fw [4]byte
	copy(fw[:], p.FirmwareVer)
	b.Write(fw[:])

	b.Write([]byte{0x00, 0x00, 0x00, 0x00})
	writeU32(&b, p.SyncNum)
	b.WriteByte(0x00)
	b.WriteByte(p.Flags)
	b.WriteByte(p.Unknown8B)
	b.WriteByte(p.PlayState)
	writeU32(&b, p.Pitch1)

	b.WriteByte(byte(p.MV >> 8))
	b.WriteByte(byte(p.MV))
	b.WriteByte(byte(p.BPM >> 8))
	b.WriteByte(byte(p.BPM))
	writeU32(&b, p.Unknown94)
	writeU32(&b, p.Pitch2)
	b.WriteByte(0x00)
	b.WriteByte(p.P3)
	b.WriteByte(p.MM)
	b.WriteByte(p.MH)

	writeU32(&b, p.Beat)
	b.WriteByte(byte(p.Cue >> 8))
	b.WriteByte(byte(p.Cue))
	b.WriteByte(p.BarBeat)
	b.Write(make([]byte, 9))

	b.Write([]byte{0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x01})
	b.WriteByte(p.MediaPresence)
	b.WriteByte(p.UE)
	b.WriteByte(p.SE)
	b.WriteByte(p.EmergencyLoop)
	b.Write(make([]byte, 5))

	writeU32(&b, p.Pitch3)
	writeU32(&b, p.Pitch4)
	writeU32(&b, p.SeqNum)
	b.WriteByte(p.PlayerType)
	b.Write(p.UnknownCD[:])

	if e := p.Extra; e != nil {
		b.Write(statusTrailerMagic)
		b.Write(e.UnknownD4[:])
		b.Write(statusTrailerMagic)
		b.Write(e.UnknownF4[:])
		b.WriteByte(e.WaveformColor)
		b.WriteByte(byte(e.UnknownFB >> 8))
		b.WriteByte(byte(e.UnknownFB))
		b.WriteByte(e.WaveformPos)
		b.Write(e.UnknownFE[:])
		b.WriteByte(e.BufF)
		b.WriteByte(e.BufB)
		b.WriteByte(e.BufS)
		b.Write(e.Unknown120[:])
		b.WriteByte(e.MasterTempo)
		b.Write(e.Unknown159[:])
		b.WriteByte(byte(e.Key >> 16))
		b.WriteByte(byte(e.Key >> 8))
		b.WriteByte(byte(e.Key))
		b.WriteByte(0x01)
		b.Write(e.Unknown160[:])
		b.Write(e.KeyShift[:])
		b.Write(e.Unknown16C[:])
	}

	return b.Bytes()
}

func writeU32(b *bytes.Buffer, v uint32) {
	b.WriteByte(byte(v >> 24))
	b.WriteByte(byte(v >> 16))
	b.WriteByte(byte(v >> 8))
	b.WriteByte(byte(v))
}

package proto

import "bytes"

// Beat is the per-beat timing broadcast (type 0x28, port 50001, 0x60 bytes).
// The six tick offsets count milliseconds until the named upcoming beat at
// the current tempo; BeatInBar cycles 1..4.
type Beat struct {
	Name       string
	DeviceNum  uint8
	NextBeat   uint32
	SecondBeat uint32
	NextBar    uint32
	FourthBeat uint32
	SecondBar  uint32
	EighthBeat uint32
	Pitch      float32 // percent, from the raw 24-bit sliding scale
	BPM        float32 // raw BPM / 100
	BeatInBar  uint8
}

const beatPacketLen = 0x60

// pitchPercent converts the raw pitch representation, where 0x100000 is
// neutral, to percent.
func pitchPercent(raw uint32) float32 {
	return (float32(raw) - float32(0x100000)) / float32(0x100000) * 100.0
}

func parseBeat(buf []byte) (*Beat, error) {
	d := newDecoder(buf)
	d.magic()
	d.expect([]byte{TypeBeat}, "wrong packet type")
	p := &Beat{}
	p.Name = d.name()
	d.expect([]byte{0x01, 0x00}, "bad header constant")
	p.DeviceNum = d.u8()
	d.u16() // declared length, 0x003c
	p.NextBeat = d.u32()
	p.SecondBeat = d.u32()
	p.NextBar = d.u32()
	p.FourthBeat = d.u32()
	p.SecondBar = d.u32()
	p.EighthBeat = d.u32()
	d.skip(24) // 0xff padding
	p.Pitch = pitchPercent(d.u32())
	d.skip(2)
	p.BPM = float32(d.u16()) / 100.0
	p.BeatInBar = d.u8()
	d.skip(2)
	d.u8() // device number repeated
	if err := d.finish(); err != nil {
		return nil, err
	}
	return p, nil
}

// Encode serializes a beat packet. We never emit beats on the wire; this
// exists for round-trip tests and simulated peers.
func (p *Beat) Encode() []byte {
	var b bytes.Buffer
	b.Write(Magic)
	b.WriteByte(TypeBeat)
	writeName(&b, p.Name)
	b.Write([]byte{0x01, 0x00})
	b.WriteByte(p.DeviceNum)
	b.Write([]byte{0x00, 0x3c})
	writeU32(&b, p.NextBeat)
	writeU32(&b, p.SecondBeat)
	writeU32(&b, p.NextBar)
	writeU32(&b, p.FourthBeat)
	writeU32(&b, p.SecondBar)
	writeU32(&b, p.EighthBeat)
	b.Write(bytes.Repeat([]byte{0xff}, 24))
	raw := int64(float64(p.Pitch)/100.0*float64(0x100000)) + 0x100000
	writeU32(&b, uint32(raw))
	b.Write([]byte{0x00, 0x00})
	bpm := uint16(p.BPM * 100.0)
	b.WriteByte(byte(bpm >> 8))
	b.WriteByte(byte(bpm))
	b.WriteByte(p.BeatInBar)
	b.Write([]byte{0x00, 0x00})
	b.WriteByte(p.DeviceNum)
	return b.Bytes()
}

package proto

import "bytes"

// Announce is the first packet of the join handshake (type 0x0a, port 50000).
// Length 0x25 for protocol version 2, 0x26 (one trailing NUL) for version 3.
type Announce struct {
	Name     string
	ProtoVer uint8
}

func (p *Announce) Encode() []byte {
	var b bytes.Buffer
	length := uint16(0x25)
	if p.ProtoVer == 3 {
		length = 0x26
	}
	writeHeader(&b, TypeAnnounce, p.Name, p.ProtoVer, length)
	b.WriteByte(0x01)
	if p.ProtoVer == 3 {
		b.WriteByte(0x00)
	}
	return b.Bytes()
}

func parseAnnounce(buf []byte) (*Announce, error) {
	d := newDecoder(buf)
	name, ver, _ := d.controlHeader(TypeAnnounce)
	d.expect([]byte{0x01}, "bad announce constant")
	if ver == 3 {
		d.expect([]byte{0x00}, "bad announce trailer")
	}
	if err := d.finish(); err != nil {
		return nil, err
	}
	return &Announce{Name: name, ProtoVer: ver}, nil
}

// DeviceNumClaim1 is the first claim round (type 0x00, length 0x2c). Sent
// three times with PktNum 1..3.
type DeviceNumClaim1 struct {
	Name     string
	ProtoVer uint8
	PktNum   uint8
	MacAddr  [6]byte
}

func (p *DeviceNumClaim1) Encode() []byte {
	var b bytes.Buffer
	writeHeader(&b, TypeClaim1, p.Name, p.ProtoVer, 0x2c)
	b.WriteByte(p.PktNum)
	b.WriteByte(0x01) // device type
	b.Write(p.MacAddr[:])
	return b.Bytes()
}

func parseClaim1(buf []byte) (*DeviceNumClaim1, error) {
	d := newDecoder(buf)
	name, ver, _ := d.controlHeader(TypeClaim1)
	p := &DeviceNumClaim1{Name: name, ProtoVer: ver}
	p.PktNum = d.u8()
	d.expect([]byte{0x01}, "bad claim1 constant")
	copy(p.MacAddr[:], d.take(6))
	if err := d.finish(); err != nil {
		return nil, err
	}
	return p, nil
}

// DeviceNumClaim2 is the second claim round (type 0x02, length 0x32).
type DeviceNumClaim2 struct {
	Name       string
	ProtoVer   uint8
	IPAddr     [4]byte
	MacAddr    [6]byte
	DeviceNum  uint8
	PktNum     uint8
	AutoAssign bool
}

func (p *DeviceNumClaim2) Encode() []byte {
	var b bytes.Buffer
	writeHeader(&b, TypeClaim2, p.Name, p.ProtoVer, 0x32)
	b.Write(p.IPAddr[:])
	b.Write(p.MacAddr[:])
	b.WriteByte(p.DeviceNum)
	b.WriteByte(p.PktNum)
	b.WriteByte(0x01)
	if p.AutoAssign {
		b.WriteByte(0x01)
	} else {
		b.WriteByte(0x02)
	}
	return b.Bytes()
}

func parseClaim2(buf []byte) (*DeviceNumClaim2, error) {
	d := newDecoder(buf)
	name, ver, _ := d.controlHeader(TypeClaim2)
	p := &DeviceNumClaim2{Name: name, ProtoVer: ver}
	copy(p.IPAddr[:], d.take(4))
	copy(p.MacAddr[:], d.take(6))
	p.DeviceNum = d.u8()
	p.PktNum = d.u8()
	d.expect([]byte{0x01}, "bad claim2 constant")
	p.AutoAssign = d.u8() == 0x01
	if err := d.finish(); err != nil {
		return nil, err
	}
	return p, nil
}

// DeviceNumClaim3 finishes the claim (type 0x04, length 0x26). In
// fixed-number mode only one is sent.
type DeviceNumClaim3 struct {
	Name      string
	ProtoVer  uint8
	DeviceNum uint8
	PktNum    uint8
}

func (p *DeviceNumClaim3) Encode() []byte {
	var b bytes.Buffer
	writeHeader(&b, TypeClaim3, p.Name, p.ProtoVer, 0x26)
	b.WriteByte(p.DeviceNum)
	b.WriteByte(p.PktNum)
	return b.Bytes()
}

func parseClaim3(buf []byte) (*DeviceNumClaim3, error) {
	d := newDecoder(buf)
	name, ver, _ := d.controlHeader(TypeClaim3)
	p := &DeviceNumClaim3{Name: name, ProtoVer: ver}
	p.DeviceNum = d.u8()
	p.PktNum = d.u8()
	if err := d.finish(); err != nil {
		return nil, err
	}
	return p, nil
}

// KeepAlive is the periodic liveness broadcast (type 0x06, length 0x36).
// Every device on the segment emits one roughly every 1.5 s.
type KeepAlive struct {
	Name       string
	ProtoVer   uint8
	DeviceNum  uint8
	DeviceType uint8
	MacAddr    [6]byte
	IPAddr     [4]byte
	PeersSeen  uint8
	Unknown35  uint8
}

func (p *KeepAlive) Encode() []byte {
	var b bytes.Buffer
	writeHeader(&b, TypeKeepAlive, p.Name, p.ProtoVer, 0x36)
	b.WriteByte(p.DeviceNum)
	b.WriteByte(p.DeviceType)
	b.Write(p.MacAddr[:])
	b.Write(p.IPAddr[:])
	b.Write([]byte{p.PeersSeen, 0x00, 0x00, 0x00, 0x01, p.Unknown35})
	return b.Bytes()
}

func parseKeepAlive(buf []byte) (*KeepAlive, error) {
	d := newDecoder(buf)
	name, ver, _ := d.controlHeader(TypeKeepAlive)
	p := &KeepAlive{Name: name, ProtoVer: ver}
	p.DeviceNum = d.u8()
	p.DeviceType = d.u8()
	copy(p.MacAddr[:], d.take(6))
	copy(p.IPAddr[:], d.take(4))
	p.PeersSeen = d.u8()
	d.expect([]byte{0x00, 0x00, 0x00, 0x01}, "bad keep-alive constant")
	p.Unknown35 = d.u8()
	if err := d.finish(); err != nil {
		return nil, err
	}
	return p, nil
}

package remotedb

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"net/netip"
)

// portLookupPort answers the "RemoteDBServer" service-port query.
const portLookupPort = 12523

var portLookupRequest = []byte("\x00\x00\x00\x0fRemoteDBServer\x00")

// LookupPort asks the player which TCP port its metadata service listens on.
func LookupPort(ctx context.Context, ip netip.Addr) (uint16, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp4", netip.AddrPortFrom(ip, portLookupPort).String())
	if err != nil {
		return 0, fmt.Errorf("remotedb: port lookup: %w", err)
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	if _, err := conn.Write(portLookupRequest); err != nil {
		return 0, fmt.Errorf("remotedb: port lookup: %w", err)
	}
	var reply [2]byte
	if _, err := io.ReadFull(conn, reply[:]); err != nil {
		return 0, fmt.Errorf("remotedb: port lookup: %w", err)
	}
	return binary.BigEndian.Uint16(reply[:]), nil
}

// MenuEntry is one (label, value) row of a rendered metadata menu.
type MenuEntry struct {
	Type  MenuItemType
	Value string
}

// Conn is an established metadata-service connection.
type Conn struct {
	conn      net.Conn
	buf       []byte
	txID      uint32
	deviceNum uint8
}

// Connect performs the connection handshake: the 0x01 probe echo and the
// device-number introduction.
func Connect(ctx context.Context, ip netip.Addr, port uint16, deviceNum uint8) (*Conn, error) {
	var d net.Dialer
	raw, err := d.DialContext(ctx, "tcp4", netip.AddrPortFrom(ip, port).String())
	if err != nil {
		return nil, fmt.Errorf("remotedb: connect: %w", err)
	}
	c := &Conn{conn: raw, deviceNum: deviceNum}
	if deadline, ok := ctx.Deadline(); ok {
		raw.SetDeadline(deadline)
	}

	var probe bytes.Buffer
	U32(0x1).encode(&probe)
	if _, err := raw.Write(probe.Bytes()); err != nil {
		raw.Close()
		return nil, fmt.Errorf("remotedb: handshake: %w", err)
	}
	echo := make([]byte, probe.Len())
	if _, err := io.ReadFull(raw, echo); err != nil || !bytes.Equal(echo, probe.Bytes()) {
		raw.Close()
		return nil, errors.New("remotedb: handshake echo mismatch")
	}

	intro := &Message{TxID: 0xfffffffe, Type: MsgSetup, Args: []Field{U32(uint32(deviceNum))}}
	if err := c.write(intro); err != nil {
		raw.Close()
		return nil, err
	}
	if _, err := c.read(); err != nil {
		raw.Close()
		return nil, err
	}
	return c, nil
}

func (c *Conn) Close() error { return c.conn.Close() }

func (c *Conn) write(m *Message) error {
	data, err := m.Encode()
	if err != nil {
		return err
	}
	if _, err := c.conn.Write(data); err != nil {
		return fmt.Errorf("remotedb: send: %w", err)
	}
	return nil
}

// send assigns the next transaction id and writes the message.
func (c *Conn) send(typ uint16, args ...Field) error {
	c.txID++
	return c.write(&Message{TxID: c.txID, Type: typ, Args: args})
}

// read returns the next full message, buffering partial frames.
func (c *Conn) read() (*Message, error) {
	for {
		msg, rest, err := Decode(c.buf)
		if err == nil {
			c.buf = append(c.buf[:0], rest...)
			return msg, nil
		}
		if !errors.Is(err, ErrIncomplete) {
			return nil, err
		}
		chunk := make([]byte, 4096)
		n, err := c.conn.Read(chunk)
		if n > 0 {
			c.buf = append(c.buf, chunk[:n]...)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("remotedb: recv: %w", err)
		}
	}
}

// TrackMenu runs the metadata request + menu render sequence for a track and
// returns the menu rows plus the artwork id (0 if none).
func (c *Conn) TrackMenu(slot, trackType uint8, rekordboxID uint32) ([]MenuEntry, uint32, error) {
	err := c.send(MsgMetadataRequest,
		DMST(c.deviceNum, 0x1, slot, trackType),
		U32(rekordboxID),
	)
	if err != nil {
		return nil, 0, err
	}
	resp, err := c.read()
	if err != nil {
		return nil, 0, err
	}
	if resp.Type != MsgSuccess || len(resp.Args) != 2 {
		return nil, 0, fmt.Errorf("remotedb: metadata request refused (type %#x)", resp.Type)
	}
	numRows, err := resp.ArgU32(1)
	if err != nil {
		return nil, 0, err
	}

	err = c.send(MsgRenderRequest,
		DMST(c.deviceNum, 0x1, slot, trackType),
		U32(0),       // offset
		U32(numRows), // limit
		U32(0),
		U32(numRows), // total
		U32(0),
	)
	if err != nil {
		return nil, 0, err
	}

	var entries []MenuEntry
	var artworkID uint32
	for {
		item, err := c.read()
		if err != nil {
			return nil, 0, err
		}
		if item.Type == MsgMenuFooter {
			return entries, artworkID, nil
		}
		if item.Type != MsgMenuItem {
			continue
		}
		rawType, err := item.ArgU32(6)
		if err != nil {
			continue
		}
		value, err := item.ArgString(3)
		if err != nil {
			continue
		}
		itemType := MenuItemType(rawType)
		entries = append(entries, MenuEntry{Type: itemType, Value: value})
		if itemType == ItemTrackTitle {
			if id, err := item.ArgU32(8); err == nil {
				artworkID = id
			}
		}
	}
}

// Artwork fetches the artwork blob by id.
func (c *Conn) Artwork(slot, trackType uint8, artworkID uint32) ([]byte, error) {
	err := c.send(MsgArtworkRequest,
		DMST(c.deviceNum, 0x8, slot, trackType),
		U32(artworkID),
	)
	if err != nil {
		return nil, err
	}
	resp, err := c.read()
	if err != nil {
		return nil, err
	}
	if resp.Type != MsgArtwork || len(resp.Args) != 4 {
		return nil, fmt.Errorf("remotedb: no artwork for id %d (type %#x)", artworkID, resp.Type)
	}
	return resp.ArgBlob(3)
}


package remotedb

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFieldRoundTrip(t *testing.T) {
	fields := []Field{
		U8(0x7f),
		U16(0x1234),
		U32(0xdeadbeef),
		Blob([]byte{1, 2, 3}),
		Blob(nil),
		Str("Demo Track"),
		Str(""),
	}
	for _, f := range fields {
		var b bytes.Buffer
		f.encode(&b)
		got, rest, err := decodeField(b.Bytes())
		require.NoError(t, err)
		assert.Empty(t, rest)
		if f.Kind == tagBlob && f.Blob == nil {
			f.Blob = []byte{}
		}
		assert.Equal(t, f, got)
	}
}

func TestDMSTPacking(t *testing.T) {
	f := DMST(2, 0x1, 3, 1)
	assert.Equal(t, uint32(0x02010301), f.U32)
}

func TestMessageRoundTrip(t *testing.T) {
	msg := &Message{
		TxID: 7,
		Type: MsgMetadataRequest,
		Args: []Field{DMST(2, 1, 3, 1), U32(0x73)},
	}
	data, err := msg.Encode()
	require.NoError(t, err)

	got, rest, err := Decode(data)
	require.NoError(t, err)
	assert.Empty(t, rest)
	assert.Equal(t, msg, got)
}

func TestDecodeIncomplete(t *testing.T) {
	msg := &Message{TxID: 1, Type: MsgSuccess, Args: []Field{U32(MsgMetadataRequest), U32(9)}}
	data, err := msg.Encode()
	require.NoError(t, err)

	for cut := 0; cut < len(data); cut++ {
		_, _, err := Decode(data[:cut])
		assert.ErrorIs(t, err, ErrIncomplete, "prefix of %d bytes", cut)
	}

	// Two messages back to back: the remainder carries the second.
	double := append(append([]byte{}, data...), data...)
	first, rest, err := Decode(double)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), first.TxID)
	second, rest, err := Decode(rest)
	require.NoError(t, err)
	assert.Empty(t, rest)
	assert.Equal(t, first, second)
}

func TestDecodeBadMagic(t *testing.T) {
	var b bytes.Buffer
	U32(0x12345678).encode(&b)
	_, _, err := Decode(b.Bytes())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrIncomplete)
}

func TestEncodeRejectsBadArgs(t *testing.T) {
	_, err := (&Message{Args: []Field{U8(1)}}).Encode()
	assert.Error(t, err, "u8 cannot be a message argument")

	args := make([]Field, maxArgs+1)
	for i := range args {
		args[i] = U32(0)
	}
	_, err = (&Message{Args: args}).Encode()
	assert.Error(t, err)
}

func TestMenuItemTypeString(t *testing.T) {
	assert.Equal(t, "title", ItemTrackTitle.String())
	assert.Equal(t, "item_0x9999", MenuItemType(0x9999).String())
}

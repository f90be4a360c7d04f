package nfs

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUTF16LERoundTrip(t *testing.T) {
	for _, s := range []string{"", "/C", "/C/PIONEER/rekordbox/export.pdb", "naïve – ünïcode"} {
		assert.Equal(t, s, decodeUTF16LE(encodeUTF16LE(s)), "%q", s)
	}
	// Odd-length input drops the dangling byte instead of failing.
	raw := encodeUTF16LE("abc")
	assert.Equal(t, "ab", decodeUTF16LE(raw[:len(raw)-1]))
}

func TestSplitComponents(t *testing.T) {
	assert.Nil(t, splitComponents(""))
	assert.Nil(t, splitComponents("/"))
	assert.Equal(t, []string{"PIONEER", "rekordbox"}, splitComponents("/PIONEER/rekordbox"))
	assert.Equal(t, []string{"a", "b"}, splitComponents("a//b/"))
}

func testClient(t *testing.T, files map[string][]byte) *Client {
	t.Helper()
	player := newFakePlayer(t, []string{"/B", "/C"}, files)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	c, err := connect(ctx, player.addr(), player.port(player.portmapConn))
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestClientReadFile(t *testing.T) {
	// A payload spanning several READ calls plus a short tail.
	big := bytes.Repeat([]byte{0xab}, MaxData*2+100)
	c := testClient(t, map[string][]byte{
		"/C/PIONEER/rekordbox/export.pdb": big,
		"/C/small.txt":                    []byte("hello"),
	})
	ctx := context.Background()

	got, err := c.ReadFile(ctx, "/C/PIONEER/rekordbox/export.pdb")
	require.NoError(t, err)
	assert.Equal(t, big, got)

	got, err = c.ReadFile(ctx, "/C/small.txt")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), got)
}

func TestClientExportsAndReadDir(t *testing.T) {
	c := testClient(t, map[string][]byte{
		"/C/PIONEER/rekordbox/export.pdb": {1},
		"/C/PIONEER/ARTWORK/1/a.jpg":      {2},
		"/C/Contents/track.mp3":           {3},
	})
	ctx := context.Background()

	exports, err := c.Exports(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"/B", "/C"}, exports)

	names, err := c.ReadDir(ctx, "/C")
	require.NoError(t, err)
	assert.Equal(t, []string{"Contents", "PIONEER"}, names)

	names, err = c.ReadDir(ctx, "/C/PIONEER")
	require.NoError(t, err)
	assert.Equal(t, []string{"ARTWORK", "rekordbox"}, names)
}

func TestClientErrors(t *testing.T) {
	c := testClient(t, map[string][]byte{"/C/x": {1}})
	ctx := context.Background()

	_, err := c.ReadFile(ctx, "/Z/whatever")
	assert.ErrorIs(t, err, ErrExportNotFound)

	_, err = c.ReadFile(ctx, "/C/missing/file")
	var lookupErr *LookupError
	require.ErrorAs(t, err, &lookupErr)
	assert.Equal(t, "missing", lookupErr.Component)
	var statusErr *StatusError
	assert.ErrorAs(t, err, &statusErr)
}

func TestClientMountCache(t *testing.T) {
	c := testClient(t, map[string][]byte{"/C/a": {1}, "/C/b": {2}})
	ctx := context.Background()

	_, err := c.ReadFile(ctx, "/C/a")
	require.NoError(t, err)
	require.Len(t, c.mounts, 1)
	h := c.mounts["/C"]

	_, err = c.ReadFile(ctx, "/C/b")
	require.NoError(t, err)
	assert.Equal(t, h, c.mounts["/C"], "second read must reuse the mounted handle")
}

package tracklog

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordAndRecent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	l, err := Open(path)
	require.NoError(t, err)
	defer l.Close()

	base := time.Date(2024, 5, 1, 20, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		require.NoError(t, l.Record(Play{
			At:          base.Add(time.Duration(i) * time.Minute),
			Player:      2,
			Source:      2,
			Slot:        3,
			RekordboxID: uint32(0x70 + i),
			Title:       "Track",
			Artist:      "Artist",
		}))
	}

	plays, err := l.Recent(2)
	require.NoError(t, err)
	require.Len(t, plays, 2)
	assert.Equal(t, uint32(0x72), plays[0].RekordboxID, "newest first")
	assert.Equal(t, uint32(0x71), plays[1].RekordboxID)
	assert.Equal(t, base.Add(2*time.Minute), plays[0].At)
}

func TestReopenKeepsHistory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	l, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, l.Record(Play{At: time.Now(), RekordboxID: 1}))
	require.NoError(t, l.Close())

	l, err = Open(path)
	require.NoError(t, err)
	defer l.Close()
	plays, err := l.Recent(10)
	require.NoError(t, err)
	assert.Len(t, plays, 1)
}

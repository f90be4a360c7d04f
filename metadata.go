package prolink

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/snapetech/prolink/internal/broadcast"
	"github.com/snapetech/prolink/internal/nfs"
	"github.com/snapetech/prolink/internal/pdb"
)

// UnsupportedSlotError means metadata was requested for media we cannot
// browse; only USB (2) and SD (3) slots carry a rekordbox export.
type UnsupportedSlotError struct {
	Slot uint8
}

func (e *UnsupportedSlotError) Error() string {
	return fmt.Sprintf("prolink: metadata request on unsupported slot %d", e.Slot)
}

// slotPrefix maps a slot to its export root on the player.
func slotPrefix(slot uint8) (string, error) {
	switch slot {
	case 2:
		return "/B", nil
	case 3:
		return "/C", nil
	}
	return "", &UnsupportedSlotError{Slot: slot}
}

const databasePath = "/PIONEER/rekordbox/export.pdb"

// Per-operation deadlines. UDP RPC has no call-layer timeout, so a powered
// off peer would otherwise hang the task on a lost reply.
const (
	nfsConnectTimeout = 30 * time.Second
	lookupTimeout     = 2 * time.Minute // bulk library fetch at 8 KiB a call
)

// trackInfo is a resolved lookup result.
type trackInfo struct {
	metadata *TrackMetadata
	artwork  []byte
}

type metadataRequest struct {
	device      uint8
	slot        uint8
	rekordboxID uint32
	reply       chan<- lookupResult
}

type lookupResult struct {
	info trackInfo
	err  error
}

// metadataClient is the thin handle status-task lookups go through.
type metadataClient struct {
	requests chan<- metadataRequest
}

func (c *metadataClient) lookup(ctx context.Context, device, slot uint8, rekordboxID uint32) (trackInfo, error) {
	reply := make(chan lookupResult, 1)
	req := metadataRequest{device: device, slot: slot, rekordboxID: rekordboxID, reply: reply}
	select {
	case c.requests <- req:
	case <-ctx.Done():
		return trackInfo{}, ctx.Err()
	}
	select {
	case res := <-reply:
		return res.info, res.err
	case <-ctx.Done():
		// The task will still answer into the buffered reply channel and
		// find nobody listening; that is fine.
		return trackInfo{}, ctx.Err()
	}
}

// metadataTask owns one NFS client per peer and a (device, slot) cache of
// decoded databases. Requests are handled one at a time: the per-peer RPC
// sockets are single-flighted anyway, and a deck change is not latency
// critical.
type metadataTask struct {
	h        *Handle
	peersRx  *broadcast.Receiver[peerEvent]
	requests chan metadataRequest

	clients   map[uint8]*nfs.Client
	databases map[uint8]map[uint8]*pdb.Database
}

func newMetadataTask(h *Handle) *metadataTask {
	return &metadataTask{
		h:         h,
		peersRx:   h.peersTx.Subscribe(),
		requests:  make(chan metadataRequest, metadataRequestCap),
		clients:   make(map[uint8]*nfs.Client),
		databases: make(map[uint8]map[uint8]*pdb.Database),
	}
}

func (t *metadataTask) client() *metadataClient {
	return &metadataClient{requests: t.requests}
}

func (t *metadataTask) run() error {
	defer t.closeAll()
	for {
		select {
		case <-t.h.ctx.Done():
			return nil
		case <-t.peersRx.Wake():
			t.drainPeerEvents()
		case req := <-t.requests:
			info, err := t.handleRequest(req)
			req.reply <- lookupResult{info: info, err: err}
		}
	}
}

func (t *metadataTask) closeAll() {
	for _, client := range t.clients {
		client.Close()
	}
	clear(t.clients)
	clear(t.databases)
}

func (t *metadataTask) drainPeerEvents() {
	for {
		ev, ok, err := t.peersRx.TryRecv()
		if err != nil {
			var lagged *broadcast.ErrLagged
			if errors.As(err, &lagged) {
				t.h.log.Warn("metadata task lagged behind peer events", "missed", lagged.Missed)
				continue
			}
			return
		}
		if !ok {
			return
		}
		if ev.joined {
			t.peerJoined(ev.peer)
		} else {
			t.peerLeft(ev.peer)
		}
	}
}

// peerJoined eagerly connects to the peer's NFS stack so the first lookup
// does not pay the portmap round trips. A peer that refuses (laptops and
// mixers announce themselves too) simply never gets a client.
func (t *metadataTask) peerJoined(peer peerState) {
	if old, ok := t.clients[peer.DeviceNum]; ok {
		old.Close()
	}
	ctx, cancel := context.WithTimeout(t.h.ctx, nfsConnectTimeout)
	defer cancel()
	client, err := nfs.Connect(ctx, peer.IP)
	if err != nil {
		t.h.log.Warn("peer has no reachable NFS service",
			"name", peer.Name, "device", peer.DeviceNum, "err", err)
		delete(t.clients, peer.DeviceNum)
		return
	}
	t.h.log.Debug("nfs client established", "device", peer.DeviceNum, "ip", peer.IP)
	t.clients[peer.DeviceNum] = client
}

func (t *metadataTask) peerLeft(peer peerState) {
	if client, ok := t.clients[peer.DeviceNum]; ok {
		client.Close()
		delete(t.clients, peer.DeviceNum)
	}
	delete(t.databases, peer.DeviceNum)
}

func (t *metadataTask) handleRequest(req metadataRequest) (trackInfo, error) {
	ctx, cancel := context.WithTimeout(t.h.ctx, lookupTimeout)
	defer cancel()

	prefix, err := slotPrefix(req.slot)
	if err != nil {
		return trackInfo{}, err
	}
	client, ok := t.clients[req.device]
	if !ok {
		return trackInfo{}, fmt.Errorf("prolink: no NFS client for device %d", req.device)
	}

	db, err := t.database(ctx, req.device, req.slot, prefix, client)
	if err != nil {
		return trackInfo{}, err
	}

	track, ok := db.Tracks[req.rekordboxID]
	if !ok {
		return trackInfo{}, fmt.Errorf("prolink: no track with id %d on device %d slot %d",
			req.rekordboxID, req.device, req.slot)
	}

	info := trackInfo{metadata: resolveMetadata(db, &track)}

	// Artwork failures only cost the artwork, never the lookup.
	if path, ok := db.Artwork[track.ArtworkID]; ok && path != "" {
		data, err := client.ReadFile(ctx, prefix+path)
		if err != nil {
			t.h.log.Warn("artwork fetch failed", "path", prefix+path, "err", err)
		} else {
			info.artwork = data
		}
	}
	return info, nil
}

// database returns the decoded library for (device, slot), fetching and
// parsing export.pdb on first use.
func (t *metadataTask) database(ctx context.Context, device, slot uint8, prefix string, client *nfs.Client) (*pdb.Database, error) {
	slots, ok := t.databases[device]
	if !ok {
		slots = make(map[uint8]*pdb.Database)
		t.databases[device] = slots
	}
	if db, ok := slots[slot]; ok {
		return db, nil
	}

	data, err := client.ReadFile(ctx, prefix+databasePath)
	if err != nil {
		return nil, fmt.Errorf("prolink: fetch library: %w", err)
	}
	t.h.log.Info("library fetched", "device", device, "slot", slot, "bytes", len(data))
	db, err := pdb.Parse(data)
	if err != nil {
		return nil, err
	}
	t.h.log.Info("library decoded", "device", device, "slot", slot, "tracks", len(db.Tracks))
	slots[slot] = db
	return db, nil
}

// resolveMetadata joins the track row with its satellite tables. Broken
// references resolve to the empty string by way of Go's zero-value map
// reads.
func resolveMetadata(db *pdb.Database, track *pdb.Track) *TrackMetadata {
	album := db.Albums[track.AlbumID]
	return &TrackMetadata{
		Title:          track.Strings[pdb.TrackStringTitle],
		Artist:         db.Artists[track.ArtistID],
		Album:          album.Name,
		AlbumArtist:    db.Artists[album.ArtistID],
		Genre:          db.Genres[track.GenreID],
		Label:          db.Labels[track.LabelID],
		Remixer:        db.Artists[track.RemixerID],
		Composer:       db.Artists[track.ComposerID],
		OriginalArtist: db.Artists[track.OriginalArtistID],
		Key:            db.Keys[track.KeyID],
		Color:          db.Colors[uint32(track.ColorID)],
		Comment:        track.Strings[pdb.TrackStringComment],
		MixName:        track.Strings[pdb.TrackStringMixName],
		ISRC:           track.Strings[pdb.TrackStringISRC],
		DateAdded:      track.Strings[pdb.TrackStringDateAdded],
		ReleaseDate:    track.Strings[pdb.TrackStringReleaseDate],

		Tempo:       float32(track.Tempo) / 100.0,
		TrackNumber: track.TrackNumber,
		SampleRate:  track.SampleRate,
		Bitrate:     track.Bitrate,
		FileSize:    track.FileSize,
		Duration:    track.Duration,
		Year:        track.Year,
		Disc:        track.Disc,
		PlayCount:   track.PlayCount,
		SampleDepth: track.SampleDepth,
		Rating:      track.Rating,
	}
}

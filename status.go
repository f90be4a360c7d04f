package prolink

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"golang.org/x/time/rate"

	"github.com/snapetech/prolink/internal/broadcast"
	"github.com/snapetech/prolink/internal/metrics"
	"github.com/snapetech/prolink/internal/proto"
)

// statusTask watches UDP 50002 for player-status packets and turns track
// changes into NewTrack events, enriching them through the metadata task
// when the deck reports a rekordbox id.
type statusTask struct {
	h        *Handle
	conn     *net.UDPConn
	peersRx  *broadcast.Receiver[peerEvent]
	metadata *metadataClient

	peers         map[uint8]peerState
	currentTracks map[uint8]Track

	logLimit *rate.Limiter
}

func newStatusTask(h *Handle, metadata *metadataClient) (*statusTask, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: proto.PortStatus})
	if err != nil {
		return nil, fmt.Errorf("prolink: bind status socket: %w", err)
	}
	return &statusTask{
		h:             h,
		conn:          conn,
		peersRx:       h.peersTx.Subscribe(),
		metadata:      metadata,
		peers:         make(map[uint8]peerState),
		currentTracks: make(map[uint8]Track),
		logLimit:      rate.NewLimiter(rate.Every(time.Second), 5),
	}, nil
}

func (t *statusTask) close() {
	t.conn.Close()
}

func (t *statusTask) run() error {
	stop := context.AfterFunc(t.h.ctx, func() { t.conn.Close() })
	defer stop()
	defer t.conn.Close()

	packets := make(chan []byte, 16)
	go readLoop(t.h.ctx, t.conn, packets)

	for {
		select {
		case <-t.h.ctx.Done():
			return nil
		case <-t.peersRx.Wake():
			t.drainPeerEvents()
		case buf, ok := <-packets:
			if !ok {
				return nil
			}
			if err := t.handleBuf(buf); err != nil {
				return err
			}
		}
	}
}

// drainPeerEvents folds queued peer events into the local peer table. A lag
// notification resets nothing here: subsequent Joined/Left events converge
// the table, and unknown-peer packets are dropped in the meantime.
func (t *statusTask) drainPeerEvents() {
	for {
		ev, ok, err := t.peersRx.TryRecv()
		if err != nil {
			var lagged *broadcast.ErrLagged
			if errors.As(err, &lagged) {
				t.h.log.Warn("status task lagged behind peer events", "missed", lagged.Missed)
				continue
			}
			return // closed
		}
		if !ok {
			return
		}
		if ev.joined {
			t.peers[ev.peer.DeviceNum] = ev.peer
		} else {
			delete(t.peers, ev.peer.DeviceNum)
			delete(t.currentTracks, ev.peer.DeviceNum)
		}
	}
}

func (t *statusTask) handleBuf(buf []byte) error {
	pkt, err := proto.ParseStatus(buf)
	if err != nil {
		metrics.ParseErrors.WithLabelValues("status").Inc()
		if t.logLimit.Allow() {
			t.h.log.Debug("dropping unparseable status packet", "err", err)
		}
		return nil
	}
	metrics.PacketsParsed.WithLabelValues("status", proto.Kind(pkt)).Inc()
	status, ok := pkt.(*proto.PlayerStatus)
	if !ok {
		return nil
	}
	return t.handlePlayerStatus(status)
}

func (t *statusTask) handlePlayerStatus(status *proto.PlayerStatus) error {
	if _, known := t.peers[status.DeviceNum]; !known {
		if t.logLimit.Allow() {
			t.h.log.Warn("status packet from unknown player", "device", status.DeviceNum)
		}
		return nil
	}
	if status.PlayerType != proto.PlayerTypeCDJ && status.PlayerType != proto.PlayerType3000 {
		if t.logLimit.Allow() {
			t.h.log.Debug("unknown player type", "device", status.DeviceNum, "type", status.PlayerType)
		}
	}

	track := Track{
		PlayerDevice: status.DeviceNum,
		TrackDevice:  status.TrackDevice,
		TrackSlot:    status.TrackSlot,
		TrackType:    status.TrackType,
		RekordboxID:  status.RekordboxID,
	}

	prev, seen := t.currentTracks[status.DeviceNum]
	t.currentTracks[status.DeviceNum] = track
	if seen && prev.sameIdentity(&track) {
		return nil
	}

	if track.RekordboxID == 0 {
		t.h.send(&NewTrack{Track: track})
		return nil
	}

	// Resolution happens off this task so a slow NFS fetch cannot stall
	// status processing; correctness never depends on the fetch finishing.
	go t.fetchMetadata(track)
	return nil
}

func (t *statusTask) fetchMetadata(track Track) {
	info, err := t.metadata.lookup(t.h.ctx, track.TrackDevice, track.TrackSlot, track.RekordboxID)
	if err != nil {
		metrics.MetadataLookups.WithLabelValues("error").Inc()
		t.h.log.Warn("metadata fetch failed",
			"device", track.TrackDevice, "slot", track.TrackSlot,
			"id", track.RekordboxID, "err", err)
		return
	}
	metrics.MetadataLookups.WithLabelValues("ok").Inc()
	track.Metadata = info.metadata
	track.Artwork = info.artwork
	t.h.send(&NewTrack{Track: track})
}

// readLoop pumps datagrams into out until the socket closes.
func readLoop(ctx context.Context, conn *net.UDPConn, out chan<- []byte) {
	buf := make([]byte, 4096)
	for {
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			close(out)
			return
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		select {
		case out <- data:
		case <-ctx.Done():
			close(out)
			return
		}
	}
}

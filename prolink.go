// Package prolink joins a Pro DJ Link network as a passive virtual device.
// It claims a device number, tracks the players that are present, follows
// what they are playing and beating, and resolves track metadata and cover
// art straight off a player's exported media.
//
// Usage is a three-call affair:
//
//	handle, err := prolink.Join(ctx, prolink.Config{Name: "observer", DeviceNum: 4})
//	...
//	for {
//		msg, err := handle.Next()
//		if errors.Is(err, prolink.ErrTerminating) {
//			break
//		}
//		...
//	}
//	handle.Terminate()
//
// Backpressure: the event queue is bounded. A consumer that stops draining
// eventually stalls the protocol loops; that is deliberate and preferred to
// unbounded memory growth.
package prolink

import (
	"context"
	"errors"
	"fmt"
	"sync"

	charmlog "github.com/charmbracelet/log"

	"github.com/snapetech/prolink/internal/broadcast"
	"github.com/snapetech/prolink/internal/metrics"
)

// Queue capacities. See the package comment for the backpressure story.
const (
	eventQueueCap      = 256
	peerBroadcastCap   = 64
	metadataRequestCap = 16
)

// ErrTerminating is returned by Next once the handle is shut down, whether
// by Terminate or by a fatal task error.
var ErrTerminating = errors.New("prolink: terminating")

// ConfigError reports an invalid Config field.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("prolink: config: %s %s", e.Field, e.Reason)
}

// Config selects how the virtual device presents itself.
type Config struct {
	// Name is the device name broadcast to the network, at most 20 bytes.
	Name string
	// DeviceNum is the device number to claim, 1..6. Pick one no physical
	// deck uses.
	DeviceNum uint8
	// InterfaceName pins the network interface. When empty the interface is
	// discovered by observing a keep-alive from an existing device and
	// matching its network.
	InterfaceName string
}

func (c *Config) validate() error {
	if len(c.Name) == 0 || len(c.Name) > 20 {
		return &ConfigError{Field: "Name", Reason: "must be 1..20 bytes"}
	}
	if c.DeviceNum < 1 || c.DeviceNum > 6 {
		return &ConfigError{Field: "DeviceNum", Reason: "must be 1..6"}
	}
	return nil
}

// peerEvent flows on the internal broadcast channel between the membership
// task and its subscribers.
type peerEvent struct {
	joined bool
	peer   peerState
}

// Handle is a joined session. All methods are safe for concurrent use.
type Handle struct {
	cfg Config
	log *charmlog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	msgq    chan Message
	peersTx *broadcast.Sender[peerEvent]

	terminate sync.Once
	finished  chan struct{}
}

// Join validates cfg, discovers the network interface, runs the announce and
// device-number-claim handshake, and returns once the virtual device has
// entered its keep-alive phase. The ctx deadline bounds interface discovery
// and the handshake; the session itself outlives ctx.
func Join(ctx context.Context, cfg Config) (*Handle, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	sessionCtx, cancel := context.WithCancel(context.Background())
	h := &Handle{
		cfg:      cfg,
		log:      charmlog.Default().With("prolink", cfg.Name),
		ctx:      sessionCtx,
		cancel:   cancel,
		msgq:     make(chan Message, eventQueueCap),
		peersTx:  broadcast.NewSender[peerEvent](peerBroadcastCap),
		finished: make(chan struct{}),
	}

	// The membership task starts last so no subscriber can miss the initial
	// peer burst: metadata and status subscribe before the first PeerJoined
	// can possibly be published.
	meta := newMetadataTask(h)
	status, err := newStatusTask(h, meta.client())
	if err != nil {
		cancel()
		return nil, err
	}
	beat, err := newBeatTask(h)
	if err != nil {
		status.close()
		cancel()
		return nil, err
	}
	membership, err := newMembershipTask(ctx, h)
	if err != nil {
		status.close()
		beat.close()
		cancel()
		return nil, err
	}

	h.spawn("metadata", meta.run)
	h.spawn("status", status.run)
	h.spawn("beat", beat.run)
	h.spawn("membership", membership.run)

	go func() {
		h.wg.Wait()
		close(h.msgq)
		close(h.finished)
	}()

	// Wait for the handshake to reach the keep-alive phase.
	select {
	case <-membership.joined:
		return h, nil
	case <-ctx.Done():
		h.shutdown()
		return nil, fmt.Errorf("prolink: join: %w", ctx.Err())
	case <-h.finished:
		h.shutdown()
		if err := membership.err; err != nil {
			return nil, fmt.Errorf("prolink: join: %w", err)
		}
		return nil, ErrTerminating
	}
}

// spawn runs a task goroutine; a task error is fatal to the session.
func (h *Handle) spawn(name string, run func() error) {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		if err := run(); err != nil {
			h.log.Error("task failed", "task", name, "err", err)
			h.cancel()
		}
	}()
}

// Next blocks for the next event. After shutdown it drains the remaining
// queue, then returns ErrTerminating forever.
func (h *Handle) Next() (Message, error) {
	msg, ok := <-h.msgq
	if !ok {
		return nil, ErrTerminating
	}
	return msg, nil
}

// Terminate initiates cooperative shutdown and waits for every task to
// finish. Safe to call more than once.
func (h *Handle) Terminate() {
	h.shutdown()
	<-h.finished
}

func (h *Handle) shutdown() {
	h.terminate.Do(func() {
		h.cancel()
		h.peersTx.Close()
	})
}

// send delivers a message to the public queue, yielding to shutdown. The
// send blocks when the consumer is behind; that backpressure is what keeps
// memory bounded.
func (h *Handle) send(m Message) bool {
	select {
	case h.msgq <- m:
		metrics.Events.WithLabelValues(messageType(m)).Inc()
		return true
	case <-h.ctx.Done():
		return false
	}
}

func messageType(m Message) string {
	switch m.(type) {
	case *PeerJoined:
		return "peer_joined"
	case *PeerLeft:
		return "peer_left"
	case *NewTrack:
		return "new_track"
	case *Beat:
		return "beat"
	}
	return "unknown"
}

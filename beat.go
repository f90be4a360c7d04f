package prolink

import (
	"context"
	"fmt"
	"net"
	"time"

	"golang.org/x/time/rate"

	"github.com/snapetech/prolink/internal/metrics"
	"github.com/snapetech/prolink/internal/proto"
)

// beatTask relays beat packets from UDP 50001 as Beat events. It keeps no
// state at all.
type beatTask struct {
	h        *Handle
	conn     *net.UDPConn
	logLimit *rate.Limiter
}

func newBeatTask(h *Handle) (*beatTask, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: proto.PortBeat})
	if err != nil {
		return nil, fmt.Errorf("prolink: bind beat socket: %w", err)
	}
	return &beatTask{
		h:        h,
		conn:     conn,
		logLimit: rate.NewLimiter(rate.Every(time.Second), 5),
	}, nil
}

func (t *beatTask) close() {
	t.conn.Close()
}

func (t *beatTask) run() error {
	stop := context.AfterFunc(t.h.ctx, func() { t.conn.Close() })
	defer stop()
	defer t.conn.Close()

	packets := make(chan []byte, 16)
	go readLoop(t.h.ctx, t.conn, packets)

	for {
		select {
		case <-t.h.ctx.Done():
			return nil
		case buf, ok := <-packets:
			if !ok {
				return nil
			}
			t.handleBuf(buf)
		}
	}
}

func (t *beatTask) handleBuf(buf []byte) {
	pkt, err := proto.ParseSync(buf)
	if err != nil {
		metrics.ParseErrors.WithLabelValues("beat").Inc()
		if t.logLimit.Allow() {
			t.h.log.Debug("dropping unparseable beat packet", "err", err)
		}
		return
	}
	metrics.PacketsParsed.WithLabelValues("beat", proto.Kind(pkt)).Inc()
	beat, ok := pkt.(*proto.Beat)
	if !ok {
		return
	}
	t.h.send(&Beat{
		DeviceNum:  beat.DeviceNum,
		NextBeat:   beat.NextBeat,
		SecondBeat: beat.SecondBeat,
		NextBar:    beat.NextBar,
		FourthBeat: beat.FourthBeat,
		SecondBar:  beat.SecondBar,
		EighthBeat: beat.EighthBeat,
		Pitch:      beat.Pitch,
		BPM:        beat.BPM,
		BeatInBar:  beat.BeatInBar,
	})
}

package prolink

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"time"

	"golang.org/x/net/ipv4"
	"golang.org/x/sys/unix"
	"golang.org/x/time/rate"

	"github.com/snapetech/prolink/internal/metrics"
	"github.com/snapetech/prolink/internal/proto"
)

// Timing constants of the membership protocol.
const (
	handshakeStep     = 300 * time.Millisecond
	keepAliveInterval = 1500 * time.Millisecond
	peerTimeout       = 10 * time.Second
)

// ErrInterfaceDiscoveryTimeout means no keep-alive from an existing device
// arrived before the Join deadline, so the network interface could not be
// determined. Pin Config.InterfaceName or raise the deadline.
var ErrInterfaceDiscoveryTimeout = errors.New("prolink: no keep-alive observed; interface discovery timed out")

// peerState is the membership task's full record of a device. Snapshots of
// it travel to the other tasks on the peer broadcast.
type peerState struct {
	Name      string
	DeviceNum uint8
	MacAddr   [6]byte
	IP        netip.Addr
	ProtoVer  uint8
	LastSeen  time.Time
}

// isSame reports whether two records describe the same physical device. The
// device number alone is not sufficient: a different box can reuse a number.
func (p *peerState) isSame(o *peerState) bool {
	return p.Name == o.Name &&
		p.MacAddr == o.MacAddr &&
		p.IP == o.IP &&
		p.ProtoVer == o.ProtoVer
}

type datagram struct {
	data []byte
	src  netip.AddrPort
}

type membershipTask struct {
	h    *Handle
	conn *net.UDPConn

	myAddr    netip.AddrPort
	broadcast *net.UDPAddr
	macAddr   [6]byte
	ipAddr    [4]byte

	peers   map[uint8]peerState
	packets chan datagram
	joined  chan struct{}
	err     error

	logLimit *rate.Limiter
}

// newMembershipTask binds the membership socket and resolves the interface
// to use. ctx (the Join deadline) bounds interface discovery.
func newMembershipTask(ctx context.Context, h *Handle) (*membershipTask, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: proto.PortMembership})
	if err != nil {
		return nil, fmt.Errorf("prolink: bind membership socket: %w", err)
	}
	if err := setBroadcast(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("prolink: enable broadcast: %w", err)
	}

	t := &membershipTask{
		h:        h,
		conn:     conn,
		peers:    make(map[uint8]peerState),
		packets:  make(chan datagram, 16),
		joined:   make(chan struct{}),
		logLimit: rate.NewLimiter(rate.Every(time.Second), 5),
	}

	iface, err := t.selectInterface(ctx)
	if err != nil {
		conn.Close()
		return nil, err
	}
	ip, mask, err := ifaceIPv4(iface)
	if err != nil {
		conn.Close()
		return nil, err
	}
	if len(iface.HardwareAddr) != 6 {
		conn.Close()
		return nil, fmt.Errorf("prolink: interface %s has no usable MAC address", iface.Name)
	}
	copy(t.macAddr[:], iface.HardwareAddr)
	t.ipAddr = ip.As4()
	t.myAddr = netip.AddrPortFrom(ip, proto.PortMembership)
	t.broadcast = &net.UDPAddr{IP: broadcastIP(ip, mask), Port: proto.PortMembership}

	h.log.Info("joining network",
		"interface", iface.Name, "ip", ip, "broadcast", t.broadcast.IP)
	return t, nil
}

// setBroadcast flips SO_BROADCAST so sends to the segment broadcast address
// are allowed.
func setBroadcast(conn *net.UDPConn) error {
	raw, err := conn.SyscallConn()
	if err != nil {
		return err
	}
	var optErr error
	err = raw.Control(func(fd uintptr) {
		optErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_BROADCAST, 1)
	})
	if err != nil {
		return err
	}
	return optErr
}

// selectInterface either honors the pinned interface name or discovers one:
// wait for a keep-alive from a real device and pick the interface it arrived
// on (by control-message index when the kernel offers it, by netmask match
// otherwise).
func (t *membershipTask) selectInterface(ctx context.Context) (*net.Interface, error) {
	if name := t.h.cfg.InterfaceName; name != "" {
		iface, err := net.InterfaceByName(name)
		if err != nil {
			return nil, &ConfigError{Field: "InterfaceName", Reason: fmt.Sprintf("%q: %v", name, err)}
		}
		return iface, nil
	}

	pc := ipv4.NewPacketConn(t.conn)
	// Best effort: not every platform hands out the arrival interface.
	_ = pc.SetControlMessage(ipv4.FlagInterface, true)
	defer pc.SetControlMessage(ipv4.FlagInterface, false)

	if deadline, ok := ctx.Deadline(); ok {
		t.conn.SetReadDeadline(deadline)
		defer t.conn.SetReadDeadline(time.Time{})
	}
	// Cancellation without a deadline must also unblock the read.
	stopWatch := context.AfterFunc(ctx, func() { t.conn.SetReadDeadline(time.Now()) })
	defer stopWatch()

	buf := make([]byte, 4096)
	for {
		n, cm, src, err := pc.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil && !errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, fmt.Errorf("prolink: interface discovery: %w", ctx.Err())
			}
			var nerr net.Error
			if errors.As(err, &nerr) && nerr.Timeout() {
				return nil, ErrInterfaceDiscoveryTimeout
			}
			return nil, fmt.Errorf("prolink: interface discovery: %w", err)
		}
		pkt, perr := proto.ParseMembership(buf[:n])
		if perr != nil {
			continue
		}
		ka, ok := pkt.(*proto.KeepAlive)
		if !ok {
			continue
		}
		srcIP, ok := addrOf(src)
		if !ok {
			continue
		}
		t.h.log.Debug("observed keep-alive", "from", srcIP, "device", ka.DeviceNum)

		if cm != nil && cm.IfIndex > 0 {
			if iface, err := net.InterfaceByIndex(cm.IfIndex); err == nil {
				if _, _, err := ifaceIPv4(iface); err == nil {
					return iface, nil
				}
			}
		}
		if iface := interfaceForNetwork(srcIP); iface != nil {
			return iface, nil
		}
		return nil, fmt.Errorf("prolink: no interface shares a network with %s", srcIP)
	}
}

func addrOf(addr net.Addr) (netip.Addr, bool) {
	udp, ok := addr.(*net.UDPAddr)
	if !ok {
		return netip.Addr{}, false
	}
	ap := udp.AddrPort()
	return ap.Addr().Unmap(), ap.Addr().Is4() || ap.Addr().Is4In6()
}

// ifaceIPv4 returns the first IPv4 address and mask on iface.
func ifaceIPv4(iface *net.Interface) (netip.Addr, net.IPMask, error) {
	addrs, err := iface.Addrs()
	if err != nil {
		return netip.Addr{}, nil, err
	}
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok {
			continue
		}
		ip4 := ipNet.IP.To4()
		if ip4 == nil || ipNet.IP.IsLoopback() {
			continue
		}
		naddr, _ := netip.AddrFromSlice(ip4)
		return naddr, ipNet.Mask, nil
	}
	return netip.Addr{}, nil, fmt.Errorf("prolink: interface %s has no IPv4 address", iface.Name)
}

// interfaceForNetwork finds the interface whose network contains ip.
func interfaceForNetwork(ip netip.Addr) *net.Interface {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil
	}
	target := ip.As4()
	for i := range ifaces {
		iface := ifaces[i]
		addr, mask, err := ifaceIPv4(&iface)
		if err != nil {
			continue
		}
		local := addr.As4()
		match := true
		for b := 0; b < 4; b++ {
			if local[b]&mask[b] != target[b]&mask[b] {
				match = false
				break
			}
		}
		if match {
			return &iface
		}
	}
	return nil
}

func broadcastIP(ip netip.Addr, mask net.IPMask) net.IP {
	a := ip.As4()
	out := make(net.IP, 4)
	for i := 0; i < 4; i++ {
		out[i] = a[i] | ^mask[i]
	}
	return out
}

func (t *membershipTask) close() {
	t.conn.Close()
}

func (t *membershipTask) run() error {
	stop := context.AfterFunc(t.h.ctx, func() { t.conn.Close() })
	defer stop()
	defer t.conn.Close()

	go t.reader()

	if err := t.handshake(); err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		t.err = err
		return err
	}
	close(t.joined)

	return t.keepAliveLoop()
}

// reader pumps datagrams from the socket into the task's packet channel.
func (t *membershipTask) reader() {
	buf := make([]byte, 4096)
	for {
		n, src, err := t.conn.ReadFromUDP(buf)
		if err != nil {
			close(t.packets)
			return
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		select {
		case t.packets <- datagram{data: data, src: src.AddrPort()}:
		case <-t.h.ctx.Done():
			close(t.packets)
			return
		}
	}
}

// handshake runs the announce and claim sequence: three announces, three
// claim1s, three claim2s, one claim3, each 300 ms apart, receiving between
// sends.
func (t *membershipTask) handshake() error {
	cfg := t.h.cfg
	const protoVer = 2

	announce := &proto.Announce{Name: cfg.Name, ProtoVer: protoVer}
	for i := 0; i < 3; i++ {
		if err := t.send(announce.Encode()); err != nil {
			return err
		}
		if err := t.wait(handshakeStep); err != nil {
			return err
		}
	}

	claim1 := &proto.DeviceNumClaim1{Name: cfg.Name, ProtoVer: protoVer, MacAddr: t.macAddr}
	for i := uint8(1); i <= 3; i++ {
		claim1.PktNum = i
		if err := t.send(claim1.Encode()); err != nil {
			return err
		}
		if err := t.wait(handshakeStep); err != nil {
			return err
		}
	}

	claim2 := &proto.DeviceNumClaim2{
		Name:      cfg.Name,
		ProtoVer:  protoVer,
		IPAddr:    t.ipAddr,
		MacAddr:   t.macAddr,
		DeviceNum: cfg.DeviceNum,
	}
	for i := uint8(1); i <= 3; i++ {
		claim2.PktNum = i
		if err := t.send(claim2.Encode()); err != nil {
			return err
		}
		if err := t.wait(handshakeStep); err != nil {
			return err
		}
	}

	// In fixed-number mode a single claim3 settles it.
	claim3 := &proto.DeviceNumClaim3{
		Name:      cfg.Name,
		ProtoVer:  protoVer,
		DeviceNum: cfg.DeviceNum,
		PktNum:    1,
	}
	if err := t.send(claim3.Encode()); err != nil {
		return err
	}
	return t.wait(handshakeStep)
}

func (t *membershipTask) send(data []byte) error {
	if _, err := t.conn.WriteToUDP(data, t.broadcast); err != nil {
		if t.h.ctx.Err() != nil {
			return context.Canceled
		}
		return fmt.Errorf("prolink: broadcast send: %w", err)
	}
	return nil
}

// wait sleeps for dur while still consuming incoming packets.
func (t *membershipTask) wait(dur time.Duration) error {
	timer := time.NewTimer(dur)
	defer timer.Stop()
	for {
		select {
		case <-timer.C:
			return nil
		case <-t.h.ctx.Done():
			return context.Canceled
		case dgram, ok := <-t.packets:
			if !ok {
				return context.Canceled
			}
			if err := t.handlePacket(dgram); err != nil {
				return err
			}
		}
	}
}

// keepAliveLoop is the steady state: broadcast a keep-alive every 1.5 s,
// expire silent peers, and fold incoming keep-alives into the peer table.
// time.Ticker drops missed ticks, which is exactly the cadence we want
// under load.
func (t *membershipTask) keepAliveLoop() error {
	keepAlive := &proto.KeepAlive{
		Name:       t.h.cfg.Name,
		ProtoVer:   2,
		DeviceNum:  t.h.cfg.DeviceNum,
		DeviceType: 2,
		MacAddr:    t.macAddr,
		IPAddr:     t.ipAddr,
		Unknown35:  1,
	}

	tick := func() error {
		t.processTimeouts()
		keepAlive.PeersSeen = uint8(len(t.peers)) + 1
		return t.send(keepAlive.Encode())
	}

	if err := tick(); err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}

	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-t.h.ctx.Done():
			return nil
		case <-ticker.C:
			if err := tick(); err != nil {
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			}
		case dgram, ok := <-t.packets:
			if !ok {
				return nil
			}
			if err := t.handlePacket(dgram); err != nil {
				return err
			}
		}
	}
}

func (t *membershipTask) handlePacket(dgram datagram) error {
	// Our own broadcasts loop back; drop them before they can register a
	// phantom peer.
	if dgram.src.Addr().Unmap() == t.myAddr.Addr() {
		return nil
	}
	pkt, err := proto.ParseMembership(dgram.data)
	if err != nil {
		metrics.ParseErrors.WithLabelValues("membership").Inc()
		if t.logLimit.Allow() {
			t.h.log.Debug("dropping unparseable packet", "err", err)
		}
		return nil
	}
	metrics.PacketsParsed.WithLabelValues("membership", proto.Kind(pkt)).Inc()
	ka, ok := pkt.(*proto.KeepAlive)
	if !ok {
		return nil
	}
	return t.handleKeepAlive(ka)
}

func (t *membershipTask) handleKeepAlive(ka *proto.KeepAlive) error {
	ip := netip.AddrFrom4(ka.IPAddr)
	if ip == t.myAddr.Addr() {
		return nil
	}

	// Another device already holding our number during the claim phase is a
	// configuration problem, not something to paper over.
	if !t.isJoined() && ka.DeviceNum == t.h.cfg.DeviceNum {
		return &ConfigError{
			Field:  "DeviceNum",
			Reason: fmt.Sprintf("%d is already in use by %q", ka.DeviceNum, ka.Name),
		}
	}

	peer := peerState{
		Name:      ka.Name,
		DeviceNum: ka.DeviceNum,
		MacAddr:   ka.MacAddr,
		IP:        ip,
		ProtoVer:  ka.ProtoVer,
		LastSeen:  time.Now(),
	}

	prev, existed := t.peers[ka.DeviceNum]
	t.peers[ka.DeviceNum] = peer
	if existed && prev.isSame(&peer) {
		return nil
	}
	if existed {
		// Same device number, different identity: the old device is gone.
		t.emitLeft(prev)
	}
	t.h.log.Info("peer joined", "name", peer.Name, "device", peer.DeviceNum, "ip", peer.IP)
	metrics.Peers.Set(float64(len(t.peers)))
	t.h.send(&PeerJoined{Peer: Peer{Name: peer.Name, DeviceNum: peer.DeviceNum}})
	t.h.peersTx.Send(peerEvent{joined: true, peer: peer})
	return nil
}

func (t *membershipTask) isJoined() bool {
	select {
	case <-t.joined:
		return true
	default:
		return false
	}
}

func (t *membershipTask) processTimeouts() {
	now := time.Now()
	for num, peer := range t.peers {
		if now.Sub(peer.LastSeen) > peerTimeout {
			delete(t.peers, num)
			t.emitLeft(peer)
		}
	}
}

func (t *membershipTask) emitLeft(peer peerState) {
	t.h.log.Info("peer left", "name", peer.Name, "device", peer.DeviceNum)
	metrics.Peers.Set(float64(len(t.peers)))
	t.h.send(&PeerLeft{Peer: Peer{Name: peer.Name, DeviceNum: peer.DeviceNum}})
	t.h.peersTx.Send(peerEvent{joined: false, peer: peer})
}

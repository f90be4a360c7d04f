package nfs

import (
	"context"
	"fmt"
	"net/netip"

	"github.com/snapetech/prolink/internal/rpc"
	"github.com/snapetech/prolink/internal/xdr"
)

// Portmap is a client for the RPC bind service on port 111.
type Portmap struct {
	rpc *rpc.Client
}

// Mapping is one registered (program, version, protocol, port) entry.
type Mapping struct {
	Prog  uint32
	Vers  uint32
	Proto uint32
	Port  uint32
}

func DialPortmap(ip netip.Addr) (*Portmap, error) {
	return dialPortmap(ip, portmapPort)
}

func dialPortmap(ip netip.Addr, port uint16) (*Portmap, error) {
	c, err := rpc.Dial(netip.AddrPortFrom(ip, port))
	if err != nil {
		return nil, err
	}
	return &Portmap{rpc: c}, nil
}

func (p *Portmap) Close() error { return p.rpc.Close() }

// Ping issues the portmap NULL procedure; a reply means RPC service is up.
// prolink-nfs uses it as a reachability probe.
func (p *Portmap) Ping(ctx context.Context) error {
	_, err := p.rpc.Call(ctx, portmapProg, portmapVers, procPortmapNull, nil)
	return err
}

// GetPort resolves the UDP port of (prog, vers).
func (p *Portmap) GetPort(ctx context.Context, prog, vers uint32) (uint16, error) {
	args := xdr.NewEncoder().U32(prog).U32(vers).U32(ipProtoUDP).U32(0).Bytes()
	result, err := p.rpc.Call(ctx, portmapProg, portmapVers, procPortmapGetPort, args)
	if err != nil {
		return 0, err
	}
	port, err := xdr.NewDecoder(result).U32()
	if err != nil {
		return 0, fmt.Errorf("portmap: truncated GETPORT reply: %w", err)
	}
	if port == 0 || port > 0xffff {
		return 0, fmt.Errorf("portmap: program %d v%d not registered", prog, vers)
	}
	return uint16(port), nil
}

// Dump lists every registered mapping. The reply is an XDR linked list,
// decoded iteratively.
func (p *Portmap) Dump(ctx context.Context) ([]Mapping, error) {
	result, err := p.rpc.Call(ctx, portmapProg, portmapVers, procPortmapDump, nil)
	if err != nil {
		return nil, err
	}
	d := xdr.NewDecoder(result)
	var out []Mapping
	for {
		more, err := d.Bool()
		if err != nil {
			return nil, fmt.Errorf("portmap: truncated DUMP reply: %w", err)
		}
		if !more {
			return out, nil
		}
		var m Mapping
		for _, f := range []*uint32{&m.Prog, &m.Vers, &m.Proto, &m.Port} {
			if *f, err = d.U32(); err != nil {
				return nil, fmt.Errorf("portmap: truncated DUMP entry: %w", err)
			}
		}
		out = append(out, m)
	}
}

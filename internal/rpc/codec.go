package rpc

import (
	"fmt"

	"github.com/snapetech/prolink/internal/xdr"
)

// encodeCall builds the full call message: header, AUTH_SYS credential, null
// verifier, then the caller's parameter body verbatim.
func encodeCall(xid, prog, vers, proc uint32, args []byte) []byte {
	e := xdr.NewEncoder()
	e.U32(xid)
	e.U32(msgCall)
	e.U32(rpcVersion)
	e.U32(prog)
	e.U32(vers)
	e.U32(proc)
	e.U32(authFlavorSys)
	e.Opaque(authSysBody)
	e.U32(authFlavorNone)
	e.Opaque(nil)
	return append(e.Bytes(), args...)
}

// decodeReply unwraps an RPC reply down to the result body, classifying
// every non-success branch.
func decodeReply(buf []byte) (result []byte, xid uint32, err error) {
	d := xdr.NewDecoder(buf)
	xid, err = d.U32()
	if err != nil {
		return nil, 0, fmt.Errorf("rpc: truncated reply: %w", err)
	}
	mtype, err := d.U32()
	if err != nil {
		return nil, 0, fmt.Errorf("rpc: truncated reply: %w", err)
	}
	if mtype != msgReply {
		return nil, xid, &ProtocolError{Kind: "Garbage", Detail: "message is not a reply"}
	}

	stat, err := d.U32()
	if err != nil {
		return nil, xid, fmt.Errorf("rpc: truncated reply: %w", err)
	}
	switch stat {
	case replyAccepted:
		// Verifier, then accept status.
		if _, err := d.U32(); err != nil {
			return nil, xid, fmt.Errorf("rpc: truncated verifier: %w", err)
		}
		if _, err := d.Opaque(0); err != nil {
			return nil, xid, fmt.Errorf("rpc: truncated verifier: %w", err)
		}
		accept, err := d.U32()
		if err != nil {
			return nil, xid, fmt.Errorf("rpc: truncated reply: %w", err)
		}
		switch accept {
		case acceptSuccess:
			return buf[len(buf)-d.Remaining():], xid, nil
		case acceptProgUnavail:
			return nil, xid, &ProtocolError{Kind: "ProgUnavail"}
		case acceptProgMismatch:
			low, _ := d.U32()
			high, _ := d.U32()
			return nil, xid, &ProtocolError{
				Kind:   "ProgMismatch",
				Detail: fmt.Sprintf("server supports versions %d..%d", low, high),
			}
		case acceptProcUnavail:
			return nil, xid, &ProtocolError{Kind: "ProcUnavail"}
		case acceptGarbageArgs:
			return nil, xid, &ProtocolError{Kind: "Garbage"}
		case acceptSystemErr:
			return nil, xid, &ProtocolError{Kind: "SystemErr"}
		}
		return nil, xid, &ProtocolError{Kind: "Garbage", Detail: fmt.Sprintf("accept status %d", accept)}
	case replyDenied:
		reject, err := d.U32()
		if err != nil {
			return nil, xid, fmt.Errorf("rpc: truncated reply: %w", err)
		}
		if reject == 1 {
			code, _ := d.U32()
			return nil, xid, &ProtocolError{Kind: "AuthError", Detail: fmt.Sprintf("auth status %d", code)}
		}
		low, _ := d.U32()
		high, _ := d.U32()
		return nil, xid, &ProtocolError{
			Kind:   "ProgMismatch",
			Detail: fmt.Sprintf("rpc versions %d..%d", low, high),
		}
	}
	return nil, xid, &ProtocolError{Kind: "Garbage", Detail: fmt.Sprintf("reply status %d", stat)}
}

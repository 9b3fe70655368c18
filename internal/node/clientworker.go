package node

import (
	"fmt"
	"net"

	"github.com/chordkv/chordkv/internal/wire"
)

// ServeClients runs the client-listen accept loop. It is started as
// its own goroutine, independent of Serve's I/O multiplexer, so the
// coordinator's control channel keeps working while client traffic is
// quiesced: this loop is the one that observes SWITCHING_PRIMARY and
// short-circuits new requests with SERVER_FAILURE.
func (n *Node) ServeClients() error {
	ln, err := net.Listen("tcp", n.cfg.ClientAddr)
	if err != nil {
		return fmt.Errorf("node: listen client: %w", err)
	}
	go func() {
		<-n.Done()
		ln.Close()
	}()

	n.acceptLoop(ln, n.handleClientConn)
	return nil
}

func (n *Node) handleClientConn(conn net.Conn) {
	defer conn.Close()
	for {
		typ, payload, err := wire.ReadFrame(conn)
		if err != nil {
			return
		}
		if typ != wire.OperationReq {
			n.log.Printf("client conn: unexpected message type %s", typ)
			return
		}
		req, err := wire.DecodeOperationReq(payload)
		if err != nil {
			n.log.Printf("client conn: %v", err)
			return
		}

		resp := n.dispatchClientOp(req)
		if err := wire.WriteFrame(conn, wire.OperationResp, wire.EncodeOperationResp(resp)); err != nil {
			return
		}
	}
}

func (n *Node) dispatchClientOp(req wire.OperationReqPayload) wire.OperationRespPayload {
	if n.State() == StateSwitchingPrimary {
		return wire.OperationRespPayload{Status: wire.StatusServerFailure}
	}

	switch req.Op {
	case wire.OpGet:
		v, status := n.HandleClientGet(req.Key)
		return wire.OperationRespPayload{Value: v, Status: status}
	case wire.OpPut:
		status := n.HandleClientPut(req.Key, req.Value)
		return wire.OperationRespPayload{Status: status}
	default:
		return wire.OperationRespPayload{Status: wire.StatusServerFailure}
	}
}

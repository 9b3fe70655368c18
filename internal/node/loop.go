package node

import (
	"fmt"
	"net"
	"time"

	"github.com/chordkv/chordkv/internal/ring"
	"github.com/chordkv/chordkv/internal/shard"
	"github.com/chordkv/chordkv/internal/wire"
)

// Serve starts the I/O multiplexer: the peer-listen and
// control-listen accept loops, each dispatching inline as connections
// arrive, plus the heartbeat ticker to the coordinator. It blocks
// until the node is shut down or one of its listeners fails to bind.
func (n *Node) Serve() error {
	peerLn, err := net.Listen("tcp", n.cfg.PeerAddr)
	if err != nil {
		return fmt.Errorf("node: listen peer: %w", err)
	}
	ctrlLn, err := net.Listen("tcp", n.cfg.ControlAddr)
	if err != nil {
		peerLn.Close()
		return fmt.Errorf("node: listen control: %w", err)
	}

	go n.acceptLoop(peerLn, n.handlePeerConn)
	go n.acceptLoop(ctrlLn, n.handleControlConn)
	go n.heartbeatLoop()

	<-n.Done()
	peerLn.Close()
	ctrlLn.Close()
	return nil
}

func (n *Node) acceptLoop(ln net.Listener, handle func(net.Conn)) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-n.Done():
				return
			default:
				n.log.Printf("accept on %s: %v", ln.Addr(), err)
				return
			}
		}
		go handle(conn)
	}
}

// handlePeerConn serves operation requests arriving from another
// node: forwarded primary writes landing on our secondary shard,
// bulk-catch-up streams, or ordinary peer GETs. See serveOperationStream.
func (n *Node) handlePeerConn(conn net.Conn) {
	defer conn.Close()
	n.serveOperationStream(conn, n.secondary)
}

// serveOperationStream answers OPERATION_REQ frames against dst until
// the connection closes or an OP_NOOP sentinel arrives (the trailing
// frame of a BulkPushShard stream). The same loop therefore serves two
// distinct traffic shapes, each on its own connection: ordinary
// forwarded writes/reads, and a recovery bulk-catch-up dump.
func (n *Node) serveOperationStream(conn net.Conn, dst *shard.Shard) {
	for {
		typ, payload, err := wire.ReadFrame(conn)
		if err != nil {
			return
		}
		if typ != wire.OperationReq {
			n.log.Printf("operation stream: unexpected message type %s", typ)
			return
		}
		req, err := wire.DecodeOperationReq(payload)
		if err != nil {
			n.log.Printf("operation stream: %v", err)
			return
		}
		if !n.respondOperation(conn, dst, req) {
			return
		}
	}
}

// applyOperation runs one OPERATION_REQ against dst. The bool return
// is true for OP_NOOP, BulkPushShard's end-of-stream sentinel, which
// carries no reply.
func applyOperation(dst *shard.Shard, req wire.OperationReqPayload) (resp wire.OperationRespPayload, noop bool) {
	switch req.Op {
	case wire.OpPut:
		if _, err := dst.Put(req.Key, req.Value); err != nil {
			resp.Status = wire.StatusOutOfSpace
		} else {
			resp.Status = wire.StatusSuccess
		}
	case wire.OpGet:
		val, err := dst.Get(req.Key)
		if err != nil {
			resp.Status = wire.StatusKeyNotFound
		} else {
			resp = wire.OperationRespPayload{Value: val, Status: wire.StatusSuccess}
		}
	case wire.OpNoop:
		return wire.OperationRespPayload{}, true
	default:
		resp.Status = wire.StatusServerFailure
	}
	return resp, false
}

// respondOperation applies req to dst and writes its reply, unless req
// is the OP_NOOP stream terminator. Returns false once the caller
// should stop reading from conn (NOOP seen, or the reply didn't go out).
func (n *Node) respondOperation(conn net.Conn, dst *shard.Shard, req wire.OperationReqPayload) bool {
	resp, noop := applyOperation(dst, req)
	if noop {
		return false
	}
	if err := wire.WriteFrame(conn, wire.OperationResp, wire.EncodeOperationResp(resp)); err != nil {
		return false
	}
	return true
}

// handleControlConn serves SERVER_CTRL_REQ messages from the
// coordinator: recovery protocol steps and shutdown. A connection can
// also carry a recovery catch-up stream instead: Sb pushes its
// secondary shard here (destined for our primary shard) rather than
// through the peer listener, since that always installs into our
// secondary. The two are told apart by the first frame's type, since
// a given connection only ever carries one or the other.
func (n *Node) handleControlConn(conn net.Conn) {
	defer conn.Close()
	for first := true; ; first = false {
		typ, payload, err := wire.ReadFrame(conn)
		if err != nil {
			return
		}
		if first && typ == wire.OperationReq {
			n.receivePrimaryCatchup(conn, payload)
			return
		}
		if typ != wire.ServerCtrlReq {
			n.log.Printf("control conn: unexpected message type %s", typ)
			return
		}
		req, err := wire.DecodeServerCtrlReq(payload)
		if err != nil {
			n.log.Printf("control conn: %v", err)
			return
		}

		status := n.handleCtrl(req)
		if err := wire.WriteFrame(conn, wire.ServerCtrlResp, wire.EncodeServerCtrlResp(wire.ServerCtrlRespPayload{Status: status})); err != nil {
			return
		}
		if req.Kind == wire.CtrlShutdown {
			n.Shutdown()
			return
		}
	}
}

// receivePrimaryCatchup installs Sb's pushed records into our primary
// shard: first is the already-read opening OPERATION_REQ frame, handled
// the same way serveOperationStream would handle any later one. Sb's
// standing recoveryForward connection, which carries its forwarded
// writes for Sa's range, arrives the same way and is served
// identically from record one.
func (n *Node) receivePrimaryCatchup(conn net.Conn, first []byte) {
	req, err := wire.DecodeOperationReq(first)
	if err != nil {
		n.log.Printf("control conn: decode catch-up record: %v", err)
		return
	}
	if !n.respondOperation(conn, n.primary, req) {
		return
	}
	n.serveOperationStream(conn, n.primary)
}

// handleCtrl dispatches one SERVER_CTRL_REQ kind to the corresponding
// state-machine event and side effect, per the recovery orchestrator
// protocol.
func (n *Node) handleCtrl(req wire.ServerCtrlReqPayload) wire.Status {
	switch req.Kind {
	case wire.CtrlSetSecondary:
		addr := fmt.Sprintf("%s:%d", req.Host, req.Port)
		conn, err := net.Dial("tcp", addr)
		if err != nil {
			n.log.Printf("SET_SECONDARY dial %s: %v", addr, err)
			return wire.StatusServerFailure
		}
		n.SetPeerNext(conn)
		return wire.StatusSuccess

	case wire.CtrlUpdatePrimary:
		// This node is Sc: bulk-push its primary shard to the
		// replacement, who installs it as their secondary shard.
		if err := n.fire(EventUpdatePrimary); err != nil {
			return wire.StatusServerFailure
		}
		addr := fmt.Sprintf("%s:%d", req.Host, req.Port)
		conn, err := net.Dial("tcp", addr)
		if err != nil {
			n.log.Printf("UPDATE_PRIMARY dial %s: %v", addr, err)
			return wire.StatusServerFailure
		}
		sa := ring.SecondaryOwner(n.cfg.ServerID, n.cfg.N)
		go func() {
			defer conn.Close()
			if err := BulkPushShard(conn, n.primary); err != nil {
				n.log.Printf("bulk push (Sc) failed: %v", err)
				n.reportToCoordinator(wire.MCtrlUpdateSecondaryFailed, sa)
				return
			}
			n.reportToCoordinator(wire.MCtrlUpdatedSecondary, sa)
			n.fire(EventBulkPushComplete) //nolint:errcheck
		}()
		return wire.StatusSuccess

	case wire.CtrlUpdateSecondary:
		// This node is Sb: start serving Sa's former primary range
		// out of our own secondary shard. Two separate connections go
		// to the replacement's control listener: a standing one for
		// ongoing forwarded writes (recoveryForward, held open
		// indefinitely like an ordinary peerNext), and a one-shot one
		// for the bulk catch-up dump (closed once the stream ends, so
		// it can't be starved behind a long-lived connection that
		// never sees an OP_NOOP).
		if err := n.fire(EventUpdateSecondary); err != nil {
			return wire.StatusServerFailure
		}
		addr := fmt.Sprintf("%s:%d", req.Host, req.Port)
		fwdConn, err := net.Dial("tcp", addr)
		if err != nil {
			n.log.Printf("UPDATE_SECONDARY dial %s: %v", addr, err)
			return wire.StatusServerFailure
		}
		n.SetRecoveryForward(fwdConn)
		sa := ring.PredecessorOf(n.cfg.ServerID, n.cfg.N)
		go func() {
			pushConn, err := net.Dial("tcp", addr)
			if err != nil {
				n.log.Printf("UPDATE_SECONDARY catch-up dial %s: %v", addr, err)
				n.reportToCoordinator(wire.MCtrlUpdatePrimaryFailed, sa)
				return
			}
			defer pushConn.Close()
			if err := BulkPushShard(pushConn, n.secondary); err != nil {
				n.log.Printf("bulk push (Sb) failed: %v", err)
				n.reportToCoordinator(wire.MCtrlUpdatePrimaryFailed, sa)
				return
			}
			n.reportToCoordinator(wire.MCtrlUpdatedPrimary, sa)
		}()
		return wire.StatusSuccess

	case wire.CtrlSwitchPrimary:
		if err := n.fire(EventSwitchPrimary); err != nil {
			return wire.StatusServerFailure
		}
		n.flushAndRebind()
		return wire.StatusSuccess

	case wire.CtrlShutdown:
		return wire.StatusSuccess

	default:
		return wire.StatusServerFailure
	}
}

// flushAndRebind implements Sb's half of step 7/8: the client worker
// already rejects new requests once SWITCHING_PRIMARY is observed; this
// fires EventFlushComplete at once, returning the node to ONLINE. It
// does not wait for client writes already in progress to finish, and
// it neither sends nor waits for a SET_SECONDARY.
func (n *Node) flushAndRebind() {
	n.fire(EventFlushComplete) //nolint:errcheck
}

// reportToCoordinator sends one M_SERVER_CTRL_REQ of the given kind
// naming serverID: this node's own id for heartbeats, the failed
// node's (Sa's) id for recovery acks and failures.
func (n *Node) reportToCoordinator(kind wire.MCtrlKind, serverID int) {
	conn := n.getCoordConn()
	if conn == nil {
		n.log.Printf("no coordinator connection to report %v on", kind)
		return
	}
	payload := wire.EncodeMServerCtrlReq(wire.MServerCtrlReqPayload{Kind: kind, ServerID: uint16(serverID)})
	if err := wire.WriteFrame(conn, wire.MServerCtrlReq, payload); err != nil {
		n.log.Printf("report %v to coordinator: %v", kind, err)
	}
}

// heartbeatLoop sends a HEARTBEAT to the coordinator once a second
// until the node shuts down.
func (n *Node) heartbeatLoop() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-n.Done():
			return
		case <-ticker.C:
			n.reportToCoordinator(wire.MCtrlHeartbeat, n.cfg.ServerID)
		}
	}
}

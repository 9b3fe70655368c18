package node

import (
	"bytes"
	"net"
	"testing"
	"time"

	"github.com/chordkv/chordkv/internal/wire"
)

// fakeSaa mimics a replacement node's receivePrimaryCatchup/
// serveOperationStream pairing closely enough for this test: it
// records every installed key and replies SUCCESS to each, then stops
// silently on OP_NOOP. Run on every accepted connection uniformly,
// exactly as a real node's control listener would (the catch-up dump
// and the standing forward connection get identical treatment).
func fakeSaa(t *testing.T, conn net.Conn, installed chan<- wire.OperationReqPayload) {
	t.Helper()
	go func() {
		defer conn.Close()
		for {
			typ, payload, err := wire.ReadFrame(conn)
			if err != nil {
				return
			}
			if typ != wire.OperationReq {
				return
			}
			req, err := wire.DecodeOperationReq(payload)
			if err != nil {
				return
			}
			if req.Op == wire.OpNoop {
				return
			}
			installed <- req
			resp := wire.EncodeOperationResp(wire.OperationRespPayload{Status: wire.StatusSuccess})
			if err := wire.WriteFrame(conn, wire.OperationResp, resp); err != nil {
				return
			}
		}
	}()
}

// TestCtrlUpdateSecondaryUsesTwoConnections verifies the fix for a bulk
// catch-up ambiguity: Sb's push of its secondary shard must land on the
// replacement's PRIMARY shard, which can't share a connection (let
// alone a listener) with Sc's push of its own primary shard, which
// lands on the replacement's secondary shard instead. Sb dials the
// target twice: once for the one-shot catch-up dump, once for the
// standing forward connection used by later client writes, and both
// must still work correctly once the catch-up dump has finished.
func TestCtrlUpdateSecondaryUsesTwoConnections(t *testing.T) {
	n := New(Config{ServerID: 1, N: 3, ClientAddr: ":0", PeerAddr: ":0", ControlAddr: ":0"}, testLogger(t))
	key := keyForPrimary(t, 0, 3) // n's secondary shard mirrors node 0's primary range
	if _, err := n.secondary.Put(key, []byte("mirrored")); err != nil {
		t.Fatalf("seed secondary: %v", err)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	addr := ln.Addr().(*net.TCPAddr)

	installed := make(chan wire.OperationReqPayload, 4)
	go func() {
		for i := 0; i < 2; i++ {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			fakeSaa(t, c, installed)
		}
	}()

	status := n.handleCtrl(wire.ServerCtrlReqPayload{
		Kind: wire.CtrlUpdateSecondary,
		Host: "127.0.0.1",
		Port: uint16(addr.Port),
	})
	if status != wire.StatusSuccess {
		t.Fatalf("handleCtrl(CtrlUpdateSecondary) = %v, want SUCCESS", status)
	}

	select {
	case got := <-installed:
		if !bytes.Equal(got.Key[:], key[:]) || !bytes.Equal(got.Value, []byte("mirrored")) {
			t.Errorf("catch-up record = %+v, want key=%v value=mirrored", got, key)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("catch-up dump never reached the replacement")
	}

	// The standing forward connection must still work after the
	// catch-up dump finished: a later client write goes out over it
	// and gets a normal reply, not a hang.
	deadline := time.Now().Add(time.Second)
	for n.getRecoveryForward() == nil && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if n.getRecoveryForward() == nil {
		t.Fatal("recoveryForward was never set")
	}
	status2, err := forwardPut(n.getRecoveryForward(), key, []byte("live-write"))
	if err != nil {
		t.Fatalf("forwardPut over recoveryForward: %v", err)
	}
	if status2 != wire.StatusSuccess {
		t.Errorf("forwardPut status = %v, want SUCCESS", status2)
	}
	select {
	case got := <-installed:
		if !bytes.Equal(got.Value, []byte("live-write")) {
			t.Errorf("live write recorded = %+v, want value=live-write", got)
		}
	case <-time.After(time.Second):
		t.Fatal("live write never reached the replacement")
	}
}

// TestReceivePrimaryCatchupInstallsIntoPrimary exercises the receiving
// side directly: a control connection whose first frame is an
// OPERATION_REQ (as opposed to a SERVER_CTRL_REQ) is a recovery
// catch-up stream and installs into this node's primary shard, never
// its secondary.
func TestReceivePrimaryCatchupInstallsIntoPrimary(t *testing.T) {
	n := New(Config{ServerID: 0, N: 3, ClientAddr: ":0", PeerAddr: ":0", ControlAddr: ":0"}, testLogger(t))
	client, server := net.Pipe()
	go n.handleControlConn(server)

	key := keyForPrimary(t, 0, 3)
	payload := wire.EncodeOperationReq(wire.OperationReqPayload{Op: wire.OpPut, Key: key, Value: []byte("v1")})
	if err := wire.WriteFrame(client, wire.OperationReq, payload); err != nil {
		t.Fatalf("write: %v", err)
	}
	typ, respPayload, err := wire.ReadFrame(client)
	if err != nil {
		t.Fatalf("read reply: %v", err)
	}
	if typ != wire.OperationResp {
		t.Fatalf("message type = %s, want OPERATION_RESP", typ)
	}
	resp, err := wire.DecodeOperationResp(respPayload)
	if err != nil {
		t.Fatalf("decode reply: %v", err)
	}
	if resp.Status != wire.StatusSuccess {
		t.Fatalf("reply status = %v, want SUCCESS", resp.Status)
	}

	noop := wire.EncodeOperationReq(wire.OperationReqPayload{Op: wire.OpNoop})
	if err := wire.WriteFrame(client, wire.OperationReq, noop); err != nil {
		t.Fatalf("write noop: %v", err)
	}
	client.Close()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if v, err := n.primary.Get(key); err == nil && bytes.Equal(v, []byte("v1")) {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("catch-up record never landed in primary shard")
}

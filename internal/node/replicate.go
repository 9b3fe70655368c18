package node

import (
	"errors"
	"fmt"
	"net"

	"github.com/chordkv/chordkv/internal/kvstore"
	"github.com/chordkv/chordkv/internal/ring"
	"github.com/chordkv/chordkv/internal/shard"
	"github.com/chordkv/chordkv/internal/wire"
)

// forwardPut sends a PUT for (key, value) to conn and waits for its
// OPERATION_RESP, translating transport failure into
// wire.StatusServerFailure so callers never need to distinguish "the
// peer replied failure" from "the peer connection broke".
func forwardPut(conn net.Conn, key wire.Key, value []byte) (wire.Status, error) {
	if conn == nil {
		return wire.StatusServerFailure, fmt.Errorf("node: no standing connection to forward to")
	}
	payload := wire.EncodeOperationReq(wire.OperationReqPayload{Op: wire.OpPut, Key: key, Value: value})
	if err := wire.WriteFrame(conn, wire.OperationReq, payload); err != nil {
		return wire.StatusServerFailure, err
	}
	typ, respPayload, err := wire.ReadFrame(conn)
	if err != nil {
		return wire.StatusServerFailure, err
	}
	if typ != wire.OperationResp {
		return wire.StatusServerFailure, fmt.Errorf("node: expected OPERATION_RESP, got %s", typ)
	}
	resp, err := wire.DecodeOperationResp(respPayload)
	if err != nil {
		return wire.StatusServerFailure, err
	}
	return resp.Status, nil
}

// HandleClientPut executes a client PUT against this node's primary
// shard (or, while UPDATING_SECONDARY, against the secondary shard
// standing in for Sa's former primary range), and synchronously
// forwards the write to the owning secondary under a single per-key
// critical section.
//
// This is the lock-around-forward policy: lock(k), install locally,
// forward over the standing peer connection, unlock, reply. A
// secondary-side failure is reported to the client as
// wire.StatusServerFailure without rolling back the local write; the
// coordinator's recovery path is responsible for repairing the
// secondary from this node's now-authoritative copy.
func (n *Node) HandleClientPut(key wire.Key, value []byte) wire.Status {
	st := n.State()

	if st == StateUpdatingSecondary && n.ownsAsStandInPrimary(key) {
		return n.handlePutOn(n.secondary, key, value, n.getRecoveryForward)
	}
	if n.ownsPrimary(key) {
		return n.handlePutOn(n.primary, key, value, n.getPeerNext)
	}
	return wire.StatusServerFailure
}

func (n *Node) handlePutOn(s *shard.Shard, key wire.Key, value []byte, peer func() net.Conn) wire.Status {
	s.Lock(key)
	defer s.Unlock(key)

	if _, err := s.PutLocked(key, value); err != nil {
		if errors.Is(err, kvstore.ErrOutOfSpace) {
			return wire.StatusOutOfSpace
		}
		return wire.StatusServerFailure
	}

	status, err := forwardPut(peer(), key, value)
	if err != nil {
		n.log.Printf("forward put to secondary failed: %v", err)
		return wire.StatusServerFailure
	}
	return status
}

// HandleClientGet serves a read from whichever of this node's shards
// is authoritative for key right now.
func (n *Node) HandleClientGet(key wire.Key) ([]byte, wire.Status) {
	st := n.State()

	var s *shard.Shard
	switch {
	case st == StateUpdatingSecondary && n.ownsAsStandInPrimary(key):
		s = n.secondary
	case n.ownsPrimary(key):
		s = n.primary
	case n.ownsSecondary(key):
		s = n.secondary
	default:
		return nil, wire.StatusServerFailure
	}

	v, err := s.Get(key)
	if err != nil {
		if errors.Is(err, kvstore.ErrKeyNotFound) {
			return nil, wire.StatusKeyNotFound
		}
		return nil, wire.StatusServerFailure
	}
	return v, wire.StatusSuccess
}

func (n *Node) ownsPrimary(key wire.Key) bool {
	return ring.Primary(key, n.cfg.N) == n.cfg.ServerID
}

func (n *Node) ownsSecondary(key wire.Key) bool {
	return n.secondary.ShardID == ring.Primary(key, n.cfg.N)
}

// ownsAsStandInPrimary reports whether key belongs to the range this
// node is temporarily serving as primary for, i.e. its own secondary
// shard's range, valid only while UPDATING_SECONDARY/SWITCHING_PRIMARY.
func (n *Node) ownsAsStandInPrimary(key wire.Key) bool {
	return n.ownsSecondary(key)
}

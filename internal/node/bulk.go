package node

import (
	"fmt"
	"net"

	"github.com/chordkv/chordkv/internal/shard"
	"github.com/chordkv/chordkv/internal/wire"
)

// BulkPushShard streams every (key, value) pair in s to conn as
// OPERATION_REQ/OP_PUT records, then emits an OP_NOOP sentinel. The
// receiving side is the same dispatch ordinary forwarded writes go
// through (serveOperationStream/applyOperation/respondOperation),
// which answers every OP_PUT with an OPERATION_RESP; BulkPushShard
// reads and discards each one as it goes; a shard large enough that
// the replies don't all fit in the kernel's send buffer would
// otherwise stall the receiver on an unread reply while this function
// kept writing, deadlocking the catch-up instead of completing it.
func BulkPushShard(conn net.Conn, s *shard.Shard) error {
	var sendErr error
	s.Iterate(func(k wire.Key, v []byte) bool {
		payload := wire.EncodeOperationReq(wire.OperationReqPayload{Op: wire.OpPut, Key: k, Value: v})
		if err := wire.WriteFrame(conn, wire.OperationReq, payload); err != nil {
			sendErr = fmt.Errorf("node: bulk push: %w", err)
			return false
		}
		typ, respPayload, err := wire.ReadFrame(conn)
		if err != nil {
			sendErr = fmt.Errorf("node: bulk push: reading ack: %w", err)
			return false
		}
		if typ != wire.OperationResp {
			sendErr = fmt.Errorf("node: bulk push: expected OPERATION_RESP, got %s", typ)
			return false
		}
		if _, err := wire.DecodeOperationResp(respPayload); err != nil {
			sendErr = fmt.Errorf("node: bulk push: decode ack: %w", err)
			return false
		}
		return true
	})
	if sendErr != nil {
		return sendErr
	}
	noop := wire.EncodeOperationReq(wire.OperationReqPayload{Op: wire.OpNoop})
	return wire.WriteFrame(conn, wire.OperationReq, noop)
}

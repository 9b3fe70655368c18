// Package client is a small Go client for chordkv: resolve a key's
// current owner with the coordinator, then talk directly to that
// node. A SERVER_FAILURE response or a failed connection to the owner
// (the owner died between LOCATE and the operation landing) triggers
// one fresh LOCATE_REQ and a single
// retry, per spec.md §9 Q4 — redirection is the client's job, not a
// cascading server-side hop.
package client

import (
	"fmt"
	"net"

	"github.com/chordkv/chordkv/internal/wire"
)

// Client holds a standing connection to the coordinator's client port
// and dials storage nodes on demand, one connection per in-flight
// operation.
type Client struct {
	coordAddr string
	coord     net.Conn
}

// Dial connects to the coordinator at coordAddr ("host:port").
func Dial(coordAddr string) (*Client, error) {
	conn, err := net.Dial("tcp", coordAddr)
	if err != nil {
		return nil, fmt.Errorf("client: dial coordinator: %w", err)
	}
	return &Client{coordAddr: coordAddr, coord: conn}, nil
}

// Close releases the coordinator connection.
func (c *Client) Close() error {
	if c.coord == nil {
		return nil
	}
	return c.coord.Close()
}

// ErrNotFound is returned when the coordinator has no owner to offer
// for a key (its primary is down and quiescing a recovery switch).
var ErrNotFound = fmt.Errorf("client: coordinator has no owner for this key right now")

func (c *Client) locate(key wire.Key) (string, error) {
	if err := wire.WriteFrame(c.coord, wire.LocateReq, wire.EncodeLocateReq(wire.LocateReqPayload{Key: key})); err != nil {
		return "", fmt.Errorf("client: LOCATE_REQ: %w", err)
	}
	typ, payload, err := wire.ReadFrame(c.coord)
	if err != nil {
		return "", fmt.Errorf("client: LOCATE_RESP: %w", err)
	}
	if typ != wire.LocateResp {
		return "", fmt.Errorf("client: expected LOCATE_RESP, got %s", typ)
	}
	resp, err := wire.DecodeLocateResp(payload)
	if err != nil {
		return "", err
	}
	if !resp.Found {
		return "", ErrNotFound
	}
	return fmt.Sprintf("%s:%d", resp.Host, resp.Port), nil
}

func doOp(addr string, op wire.OperationReqPayload) (wire.OperationRespPayload, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return wire.OperationRespPayload{}, fmt.Errorf("client: dial node %s: %w", addr, err)
	}
	defer conn.Close()

	if err := wire.WriteFrame(conn, wire.OperationReq, wire.EncodeOperationReq(op)); err != nil {
		return wire.OperationRespPayload{}, fmt.Errorf("client: OPERATION_REQ: %w", err)
	}
	typ, payload, err := wire.ReadFrame(conn)
	if err != nil {
		return wire.OperationRespPayload{}, fmt.Errorf("client: OPERATION_RESP: %w", err)
	}
	if typ != wire.OperationResp {
		return wire.OperationRespPayload{}, fmt.Errorf("client: expected OPERATION_RESP, got %s", typ)
	}
	return wire.DecodeOperationResp(payload)
}

// do resolves key's owner, performs op against it, and — if the owner
// reports SERVER_FAILURE or cannot be reached — re-resolves once and
// retries, per Q4. The second attempt's result is returned as-is.
func (c *Client) do(key wire.Key, op wire.OperationReqPayload) (wire.OperationRespPayload, error) {
	addr, err := c.locate(key)
	if err != nil {
		return wire.OperationRespPayload{}, err
	}
	resp, err := doOp(addr, op)
	if err == nil && resp.Status != wire.StatusServerFailure {
		return resp, nil
	}

	addr, err = c.locate(key)
	if err != nil {
		return wire.OperationRespPayload{}, err
	}
	return doOp(addr, op)
}

// Get fetches the value for key.
func (c *Client) Get(key wire.Key) ([]byte, wire.Status, error) {
	resp, err := c.do(key, wire.OperationReqPayload{Op: wire.OpGet, Key: key})
	if err != nil {
		return nil, wire.StatusServerFailure, err
	}
	return resp.Value, resp.Status, nil
}

// Put stores value under key.
func (c *Client) Put(key wire.Key, value []byte) (wire.Status, error) {
	resp, err := c.do(key, wire.OperationReqPayload{Op: wire.OpPut, Key: key, Value: value})
	if err != nil {
		return wire.StatusServerFailure, err
	}
	return resp.Status, nil
}

package coordinator

import (
	"fmt"
	"log"
	"net"
	"sync"

	"github.com/chordkv/chordkv/internal/wire"
)

// Server is the coordinator's two listening sockets: servers_port
// (nodes connect here to report heartbeats and recovery acks) and
// client_port (clients connect here to resolve a key's owner).
type Server struct {
	Coord *Coordinator
	log   *log.Logger

	ClientAddr  string
	ServersAddr string

	mu        sync.Mutex
	clientLn  net.Listener
	serversLn net.Listener
}

// NewServer builds a Server around an already-wired Coordinator.
func NewServer(c *Coordinator, clientAddr, serversAddr string, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	return &Server{Coord: c, log: logger, ClientAddr: clientAddr, ServersAddr: serversAddr}
}

// Serve runs both accept loops until either listener fails to bind,
// or Shutdown is called; it blocks.
func (s *Server) Serve() error {
	clientLn, err := net.Listen("tcp", s.ClientAddr)
	if err != nil {
		return fmt.Errorf("coordinator: listen client: %w", err)
	}
	serversLn, err := net.Listen("tcp", s.ServersAddr)
	if err != nil {
		clientLn.Close()
		return fmt.Errorf("coordinator: listen servers: %w", err)
	}

	s.mu.Lock()
	s.clientLn = clientLn
	s.serversLn = serversLn
	s.mu.Unlock()
	defer clientLn.Close()
	defer serversLn.Close()

	errCh := make(chan error, 2)
	go func() { errCh <- acceptLoop(clientLn, s.handleClientConn) }()
	go func() { errCh <- acceptLoop(serversLn, s.handleNodeConn) }()
	return <-errCh
}

// Shutdown closes both listeners, causing a running Serve call to
// return. Safe to call before Serve has started listening (a no-op).
func (s *Server) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.clientLn != nil {
		s.clientLn.Close()
	}
	if s.serversLn != nil {
		s.serversLn.Close()
	}
}

func acceptLoop(ln net.Listener, handle func(net.Conn)) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		go handle(conn)
	}
}

// handleClientConn serves LOCATE_REQ lookups.
func (s *Server) handleClientConn(conn net.Conn) {
	defer conn.Close()
	for {
		typ, payload, err := wire.ReadFrame(conn)
		if err != nil {
			return
		}
		if typ != wire.LocateReq {
			s.log.Printf("client conn: unexpected message type %s", typ)
			return
		}
		req, err := wire.DecodeLocateReq(payload)
		if err != nil {
			s.log.Printf("client conn: %v", err)
			return
		}
		host, port, found := Locate(s.Coord.Registry, req.Key)
		resp := wire.EncodeLocateResp(wire.LocateRespPayload{Host: host, Port: port, Found: found})
		if err := wire.WriteFrame(conn, wire.LocateResp, resp); err != nil {
			return
		}
	}
}

// handleNodeConn serves MSERVER_CTRL_REQ messages: heartbeats and
// recovery acks/failures from storage nodes. Unlike the client and
// control connections, no reply is defined for this message type.
func (s *Server) handleNodeConn(conn net.Conn) {
	defer conn.Close()
	for {
		typ, payload, err := wire.ReadFrame(conn)
		if err != nil {
			return
		}
		if typ != wire.MServerCtrlReq {
			s.log.Printf("node conn: unexpected message type %s", typ)
			return
		}
		req, err := wire.DecodeMServerCtrlReq(payload)
		if err != nil {
			s.log.Printf("node conn: %v", err)
			return
		}
		s.dispatch(int(req.ServerID), req.Kind)
	}
}

func (s *Server) dispatch(serverID int, kind wire.MCtrlKind) {
	switch kind {
	case wire.MCtrlHeartbeat:
		s.Coord.Heartbeat.RecordHeartbeat(serverID)
	case wire.MCtrlUpdatedPrimary:
		s.Coord.OnUpdatedPrimary(serverID)
	case wire.MCtrlUpdatedSecondary:
		s.Coord.OnUpdatedSecondary(serverID)
	case wire.MCtrlUpdatePrimaryFailed:
		s.Coord.OnUpdatePrimaryFailed(serverID)
	case wire.MCtrlUpdateSecondaryFailed:
		s.Coord.OnUpdateSecondaryFailed(serverID)
	default:
		s.log.Printf("node conn: unknown control kind %d", kind)
	}
}

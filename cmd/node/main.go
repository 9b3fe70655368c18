// Command node runs one chordkv storage node: a primary shard for the
// key range it owns, a secondary shard replicating its ring
// predecessor's range, and the peer/control/client listeners spec.md
// §4.5 describes.
//
// Flags (spec.md §6's node CLI):
//
//	-h M_host       coordinator host to report heartbeats/acks to
//	-m M_port       coordinator's servers_port
//	-c client_port  this node's client-listen port
//	-s peer_port    this node's peer-listen port (replication forwarding)
//	-M control_port this node's control-listen port (coordinator commands)
//	-S server_id    this node's identity in the ring, 0..N-1
//	-n N            cluster size
//	-l log          optional log file path (default: stderr)
package main

import (
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chordkv/chordkv/internal/node"
)

// logFatal is a variable so tests can intercept a fatal configuration
// error without terminating the test process.
var logFatal = log.Fatalf

func main() {
	mHost := flag.String("h", "", "coordinator host")
	mPort := flag.Int("m", 0, "coordinator servers_port")
	clientPort := flag.Int("c", 0, "client-listen port")
	peerPort := flag.Int("s", 0, "peer-listen port")
	controlPort := flag.Int("M", 0, "control-listen port")
	serverID := flag.Int("S", -1, "this node's server id")
	n := flag.Int("n", 0, "cluster size")
	logPath := flag.String("l", "", "log file path (default stderr)")
	flag.Parse()

	if *mHost == "" || *mPort == 0 || *clientPort == 0 || *peerPort == 0 || *controlPort == 0 || *serverID < 0 || *n < 3 {
		logFatal("missing or invalid required flags: -h -m -c -s -M -S -n are all mandatory, -n must be >= 3")
		return
	}

	logger := log.New(os.Stderr, fmt.Sprintf("node[%d] ", *serverID), log.LstdFlags)
	if *logPath != "" {
		f, err := os.OpenFile(*logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			logFatal("open log file %s: %v", *logPath, err)
			return
		}
		defer f.Close()
		logger.SetOutput(f)
	}

	cfg := node.Config{
		ServerID:    *serverID,
		N:           *n,
		CoordHost:   *mHost,
		CoordPort:   *mPort,
		ClientAddr:  fmt.Sprintf(":%d", *clientPort),
		PeerAddr:    fmt.Sprintf(":%d", *peerPort),
		ControlAddr: fmt.Sprintf(":%d", *controlPort),
	}
	n0 := node.New(cfg, logger)

	coordConn, err := dialCoordinator(cfg.CoordHost, cfg.CoordPort)
	if err != nil {
		logFatal("connect to coordinator: %v", err)
		return
	}
	n0.SetCoordConn(coordConn)

	errCh := make(chan error, 2)
	go func() { errCh <- n0.Serve() }()
	go func() { errCh <- n0.ServeClients() }()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-stop:
		logger.Printf("received %s, shutting down", sig)
		n0.Shutdown()
	case err := <-errCh:
		if err != nil {
			logger.Printf("listener failed: %v", err)
		}
		n0.Shutdown()
	}
	<-n0.Done()
	logger.Println("node stopped")
}

// dialCoordinator opens the control connection this node reports
// heartbeats and recovery acks on, retrying to absorb a coordinator
// that hasn't finished binding its listeners yet.
func dialCoordinator(host string, port int) (net.Conn, error) {
	addr := fmt.Sprintf("%s:%d", host, port)
	var lastErr error
	for attempt := 0; attempt < 10; attempt++ {
		conn, err := net.Dial("tcp", addr)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		time.Sleep(400 * time.Millisecond)
	}
	return nil, fmt.Errorf("dial %s after 10 attempts: %w", addr, lastErr)
}

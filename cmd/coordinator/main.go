// Command coordinator runs the chordkv cluster's single metadata
// node: it answers client LOCATE_REQ lookups, tracks node liveness
// via push-model heartbeats, and drives the recovery protocol when a
// node goes FAILED.
//
// Flags (spec.md §6's coordinator CLI):
//
//	-c client_port   client-listen port (LOCATE_REQ)
//	-s servers_port  node-listen port (heartbeats, recovery acks)
//	-C config        cluster topology file (required)
//	-t timeout       heartbeat_check_diff, seconds (default 3)
//	-l log           optional log file path (default: stderr)
//
// EOF on standard input triggers a clean shutdown, per spec.md §6.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"golang.org/x/exp/slices"

	"github.com/chordkv/chordkv/internal/config"
	"github.com/chordkv/chordkv/internal/coordinator"
	"github.com/chordkv/chordkv/internal/spawn"
)

// logFatal is a variable so tests can intercept a fatal configuration
// error without terminating the test process.
var logFatal = log.Fatalf

func main() {
	clientPort := flag.Int("c", 0, "client-listen port")
	serversPort := flag.Int("s", 0, "node-listen port")
	configPath := flag.String("C", "", "cluster topology file (required)")
	timeoutSec := flag.Int("t", 3, "heartbeat_check_diff, seconds")
	logPath := flag.String("l", "", "log file path (default stderr)")
	binaryPath := flag.String("b", "node", "node executable path for spawning replacements")
	flag.Parse()

	if *clientPort == 0 || *serversPort == 0 || *configPath == "" {
		logFatal("missing required flags: -c -s -C are all mandatory")
		return
	}

	logger := log.New(os.Stderr, "coordinator ", log.LstdFlags)
	if *logPath != "" {
		f, err := os.OpenFile(*logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			logFatal("open log file %s: %v", *logPath, err)
			return
		}
		defer f.Close()
		logger.SetOutput(f)
	}

	configFile, err := os.Open(*configPath)
	if err != nil {
		logFatal("open cluster config %s: %v", *configPath, err)
		return
	}
	cfgs, err := config.ParseClusterFile(configFile)
	configFile.Close()
	if err != nil {
		logFatal("parse cluster config %s: %v", *configPath, err)
		return
	}
	if dup := firstDuplicateAddr(cfgs); dup != "" {
		logFatal("cluster config %s: duplicate node address %s", *configPath, dup)
		return
	}

	reg := coordinator.NewRegistry(cfgs)
	hb := coordinator.NewHeartbeatMonitor(time.Duration(*timeoutSec) * time.Second)
	launcher := &spawn.ProcessLauncher{LocalBinaryPath: *binaryPath, ErrWriter: os.Stderr}
	coord := coordinator.NewCoordinator(reg, hb, launcher, *binaryPath, logger)
	coord.SelfHost = "127.0.0.1"
	coord.SelfPort = *serversPort

	srv := coordinator.NewServer(coord, fmt.Sprintf(":%d", *clientPort), fmt.Sprintf(":%d", *serversPort), logger)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve() }()

	if err := coord.SpawnInitialFleet(); err != nil {
		logFatal("spawn initial fleet: %v", err)
		return
	}
	if err := coord.BootstrapPeers(); err != nil {
		logFatal("bootstrap peer topology: %v", err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hb.Start(ctx)

	stdinEOF := make(chan struct{})
	go func() {
		io.Copy(io.Discard, os.Stdin) //nolint:errcheck
		close(stdinEOF)
	}()

	select {
	case <-stdinEOF:
		logger.Println("stdin closed, shutting down")
		coord.ShutdownCluster()
		srv.Shutdown()
	case err := <-errCh:
		if err != nil {
			logger.Printf("server failed: %v", err)
		}
	}
	cancel()
	logger.Println("coordinator stopped")
}

// firstDuplicateAddr reports the first host:client_port pair that
// appears more than once in cfgs, or "" if every node is distinct.
// Mirrors torua's own use of slices.IndexFunc in cmd/coordinator's
// registration path, here checking the static cluster file instead
// of a dynamic node-registration request.
func firstDuplicateAddr(cfgs []config.NodeConfig) string {
	for i, c := range cfgs {
		addr := fmt.Sprintf("%s:%d", c.Host, c.ClientPort)
		rest := cfgs[i+1:]
		if slices.IndexFunc(rest, func(other config.NodeConfig) bool {
			return other.Host == c.Host && other.ClientPort == c.ClientPort
		}) >= 0 {
			return addr
		}
	}
	return ""
}

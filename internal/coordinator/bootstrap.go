package coordinator

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/chordkv/chordkv/internal/ring"
	"github.com/chordkv/chordkv/internal/wire"
)

// SpawnInitialFleet launches every node in the cluster config through
// the coordinator's Launcher, per spec.md §3's "a node is created by
// the coordinator's spawn path" — the same path spawnReplacement
// reuses for a recovery replacement, just with every node's own
// identity instead of a failed one's. Call this once, before
// BootstrapPeers, so there is something listening on each node's
// control port for BootstrapPeers to dial.
func (c *Coordinator) SpawnInitialFleet() error {
	n := c.Registry.N()
	for _, rec := range c.Registry.All() {
		target := nodeSpawnTarget(c.SelfHost, c.SelfPort, c.BinaryPath, rec.Config, rec.ServerID, n)
		// The launched node outlives this call: ProcessLauncher kills the
		// child when its context ends, so the context is never canceled.
		_, err := c.Launcher.Launch(context.Background(), target)
		if err != nil {
			return fmt.Errorf("coordinator: spawn node %d: %w", rec.ServerID, err)
		}
	}
	for _, rec := range c.Registry.All() {
		addr := fmt.Sprintf("%s:%d", rec.Config.Host, rec.Config.ControlPort)
		conn, err := dialWithRetry(addr, 50, 200*time.Millisecond)
		if err != nil {
			return fmt.Errorf("coordinator: node %d never accepted a control connection: %w", rec.ServerID, err)
		}
		conn.Close()
		c.Heartbeat.Track(rec.ServerID)
	}
	return nil
}

// BootstrapPeers sends every node its initial SET_SECONDARY, pointing
// it at the ring successor that holds the secondary replica of its
// primary shard (spec.md §2's S(k) relation). Nodes have no other way
// to learn this address: it is never part of a node's own CLI flags,
// only the coordinator knows the full cluster topology. Call this
// once, after every node's control-listen socket is up.
//
// Dialing retries briefly per node since nodes and the coordinator may
// start in either order.
func (c *Coordinator) BootstrapPeers() error {
	n := c.Registry.N()
	for _, rec := range c.Registry.All() {
		peerOwner := ring.SecondaryOwner(rec.ServerID, n)
		peerCfg := c.Registry.Get(peerOwner)
		if peerCfg == nil {
			return fmt.Errorf("coordinator: bootstrap: no config for node %d", peerOwner)
		}

		addr := fmt.Sprintf("%s:%d", rec.Config.Host, rec.Config.ControlPort)
		conn, err := dialWithRetry(addr, 10, 200*time.Millisecond)
		if err != nil {
			return fmt.Errorf("coordinator: bootstrap: dial node %d control port: %w", rec.ServerID, err)
		}

		status, err := sendCtrl(conn, wire.ServerCtrlReqPayload{
			Kind: wire.CtrlSetSecondary,
			Host: peerCfg.Config.Host,
			Port: uint16(peerCfg.Config.PeerPort),
		})
		conn.Close()
		if err != nil {
			return fmt.Errorf("coordinator: bootstrap: SET_SECONDARY to node %d: %w", rec.ServerID, err)
		}
		if status != wire.StatusSuccess {
			return fmt.Errorf("coordinator: bootstrap: node %d rejected SET_SECONDARY: %s", rec.ServerID, status)
		}
	}
	return nil
}

// ShutdownCluster tells every node to exit, per spec.md §8 S5: closing
// the coordinator's stdin must bring every node down within a few
// seconds, not just the coordinator itself. Best-effort per node — a
// node that doesn't answer (already dead, or mid-recovery with its
// control port in a strange state) is logged and skipped rather than
// retried, since the coordinator is on its way out regardless.
func (c *Coordinator) ShutdownCluster() {
	for _, rec := range c.Registry.All() {
		addr := fmt.Sprintf("%s:%d", rec.Config.Host, rec.Config.ControlPort)
		conn, err := net.Dial("tcp", addr)
		if err != nil {
			c.log.Printf("shutdown: dial node %d: %v", rec.ServerID, err)
			continue
		}
		if _, err := sendCtrl(conn, wire.ServerCtrlReqPayload{Kind: wire.CtrlShutdown}); err != nil {
			c.log.Printf("shutdown: SHUTDOWN to node %d: %v", rec.ServerID, err)
		}
		conn.Close()
	}
}

func dialWithRetry(addr string, attempts int, delay time.Duration) (net.Conn, error) {
	var lastErr error
	for i := 0; i < attempts; i++ {
		conn, err := net.Dial("tcp", addr)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		time.Sleep(delay)
	}
	return nil, lastErr
}

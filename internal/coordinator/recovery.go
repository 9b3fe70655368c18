package coordinator

import (
	"context"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"github.com/chordkv/chordkv/internal/config"
	"github.com/chordkv/chordkv/internal/ring"
	"github.com/chordkv/chordkv/internal/spawn"
	"github.com/chordkv/chordkv/internal/wire"
)

// Coordinator ties the registry, failure detector, and spawn launcher
// together and drives the nine-step recovery protocol of §4.3 when a
// node goes FAILED. Naming follows the protocol: the failed node is
// Sa, its replacement (same identity) is Saa, the neighbor that was
// Sa's secondary is Sb, and the node whose secondary was Sa's primary
// shard is Sc.
type Coordinator struct {
	Registry  *Registry
	Heartbeat *HeartbeatMonitor
	Launcher  spawn.Launcher

	// BinaryPath is the node executable's path, passed to the launcher
	// as the remote path for ssh spawns. Local spawns use the launcher's
	// own LocalBinaryPath instead.
	BinaryPath string
	// SelfHost/SelfPort are this coordinator's own control address, so
	// a spawned node's CLI args can be told where to report heartbeats.
	SelfHost string
	SelfPort int

	log *log.Logger

	mu       sync.Mutex
	inFlight map[int]*recoveryRun // keyed by Sa's server id
	retries  map[int]int          // bulk-push retry count per Sa, per Q1's resolution
}

// recoveryRun holds the transient state of one in-progress recovery,
// torn down once step 9 completes.
type recoveryRun struct {
	sa, saa, sb, sc int
}

// NewCoordinator wires a Coordinator from its collaborators. logger
// may be nil, in which case a default stderr logger is used.
func NewCoordinator(reg *Registry, hb *HeartbeatMonitor, launcher spawn.Launcher, binaryPath string, logger *log.Logger) *Coordinator {
	if logger == nil {
		logger = log.Default()
	}
	c := &Coordinator{
		Registry:   reg,
		Heartbeat:  hb,
		Launcher:   launcher,
		BinaryPath: binaryPath,
		log:        logger,
		inFlight:   make(map[int]*recoveryRun),
		retries:    make(map[int]int),
	}
	hb.SetOnFailed(c.BeginRecovery)
	return c
}

// BeginRecovery implements steps 1-4 of the recovery protocol for a
// node Sa that the heartbeat monitor has just declared FAILED.
func (c *Coordinator) BeginRecovery(sa int) {
	n := c.Registry.N()
	sb := ring.SecondaryOwner(sa, n) // Sa's former secondary
	sc := ring.PredecessorOf(sa, n)  // the node whose secondary is Sa's primary range

	c.mu.Lock()
	if _, active := c.inFlight[sa]; active {
		c.mu.Unlock()
		return
	}
	c.inFlight[sa] = &recoveryRun{sa: sa, saa: sa, sb: sb, sc: sc}
	c.mu.Unlock()

	saRecord := c.Registry.Get(sa)
	sbRecord := c.Registry.Get(sb)
	scRecord := c.Registry.Get(sc)
	if saRecord == nil || sbRecord == nil || scRecord == nil {
		c.log.Printf("recovery: node %d missing registry records, aborting", sa)
		return
	}
	saRecord.MarkFailed()

	// Q2: refuse to recover Sa while its designated helper (Sb) is
	// itself not ONLINE — promoting a dead node's secondary can't work.
	if sbSnap := sbRecord.Snapshot(); sbSnap.Status != StatusOnline {
		c.log.Printf("recovery: cannot recover node %d, its secondary %d is %s", sa, sb, sbSnap.Status)
		c.mu.Lock()
		delete(c.inFlight, sa)
		c.mu.Unlock()
		return
	}

	c.log.Printf("recovery: node %d failed (Sa=%d Sb=%d Sc=%d), spawning replacement", sa, sa, sb, sc)

	proc, controlConn, err := c.spawnReplacement(sa, saRecord.Config)
	if err != nil {
		c.log.Printf("recovery: spawn replacement for %d: %v", sa, err)
		c.mu.Lock()
		delete(c.inFlight, sa)
		c.mu.Unlock()
		return
	}
	saRecord.BeginRecovery(proc, controlConn)

	if err := c.promoteSb(sbRecord, saRecord.Config); err != nil {
		c.log.Printf("recovery: UPDATE_SECONDARY to Sb(%d): %v", sb, err)
		return
	}
	if err := c.instructSc(scRecord, saRecord.Config); err != nil {
		c.log.Printf("recovery: UPDATE_PRIMARY to Sc(%d): %v", sc, err)
		return
	}
}

// nodeSpawnTarget builds the spawn.Target for node serverID, shared by
// the initial fleet launch and a recovery replacement: both start the
// same binary with the same CLI shape (cmd/node's -h -m -c -s -M -S -n
// flags), the only difference being which server id and listen ports
// it's told to take on.
func nodeSpawnTarget(selfHost string, selfPort int, binaryPath string, cfg config.NodeConfig, serverID, n int) spawn.Target {
	return spawn.Target{
		Host:             cfg.Host,
		User:             cfg.User,
		RemoteBinaryPath: binaryPath,
		Args: []string{
			"-h", selfHost,
			"-m", fmt.Sprintf("%d", selfPort),
			"-c", fmt.Sprintf("%d", cfg.ClientPort),
			"-s", fmt.Sprintf("%d", cfg.PeerPort),
			"-M", fmt.Sprintf("%d", cfg.ControlPort),
			"-S", fmt.Sprintf("%d", serverID),
			"-n", fmt.Sprintf("%d", n),
		},
	}
}

// spawnReplacement is recovery step 2: launch Saa reusing Sa's
// identity and open the coordinator's side of the control channel.
func (c *Coordinator) spawnReplacement(sa int, cfg config.NodeConfig) (*spawn.Process, net.Conn, error) {
	target := nodeSpawnTarget(c.SelfHost, c.SelfPort, c.BinaryPath, cfg, sa, c.Registry.N())
	// Saa outlives this call, so its launch context is never canceled.
	proc, err := c.Launcher.Launch(context.Background(), target)
	if err != nil {
		return nil, nil, fmt.Errorf("coordinator: spawn: %w", err)
	}

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.ControlPort)
	var conn net.Conn
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		conn, err = net.Dial("tcp", addr)
		if err == nil {
			break
		}
		time.Sleep(200 * time.Millisecond)
	}
	if conn == nil {
		return proc, nil, fmt.Errorf("coordinator: replacement at %s never accepted a control connection: %w", addr, err)
	}
	c.Heartbeat.Track(sa)
	return proc, conn, nil
}

func sendCtrl(conn net.Conn, req wire.ServerCtrlReqPayload) (wire.Status, error) {
	if err := wire.WriteFrame(conn, wire.ServerCtrlReq, wire.EncodeServerCtrlReq(req)); err != nil {
		return wire.StatusServerFailure, err
	}
	typ, payload, err := wire.ReadFrame(conn)
	if err != nil {
		return wire.StatusServerFailure, err
	}
	if typ != wire.ServerCtrlResp {
		return wire.StatusServerFailure, fmt.Errorf("coordinator: expected SERVER_CTRL_RESP, got %s", typ)
	}
	resp, err := wire.DecodeServerCtrlResp(payload)
	if err != nil {
		return wire.StatusServerFailure, err
	}
	return resp.Status, nil
}

// promoteSb is recovery step 3: tell Sb to start treating its
// own secondary shard as Sa's primary, and points it at Saa's control
// listener for when it later pushes the catch-up stream. Sb's push
// lands on Saa's PRIMARY shard, unlike Sc's (see instructSc), so it
// can't share Saa's peer-listen port with ordinary secondary traffic;
// the control listener disambiguates by noticing OPERATION_REQ arrive
// before any SERVER_CTRL_REQ on a given connection.
func (c *Coordinator) promoteSb(sb *NodeRecord, saaCfg config.NodeConfig) error {
	conn := sb.ControlConn
	if conn == nil {
		var err error
		conn, err = net.Dial("tcp", fmt.Sprintf("%s:%d", sb.Config.Host, sb.Config.ControlPort))
		if err != nil {
			return err
		}
		sb.ControlConn = conn
	}
	status, err := sendCtrl(conn, wire.ServerCtrlReqPayload{
		Kind: wire.CtrlUpdateSecondary, // Sb receives UPDATE_SECONDARY (see state table: Sb's event is EventUpdateSecondary)
		Host: saaCfg.Host,
		Port: uint16(saaCfg.ControlPort),
	})
	if err != nil {
		return err
	}
	if status != wire.StatusSuccess {
		return fmt.Errorf("coordinator: Sb rejected UPDATE_SECONDARY: %s", status)
	}
	return nil
}

// instructSc is recovery step 4: tell Sc to bulk-push its
// primary shard to Saa, which installs it as Saa's secondary shard.
func (c *Coordinator) instructSc(sc *NodeRecord, saaCfg config.NodeConfig) error {
	conn := sc.ControlConn
	if conn == nil {
		var err error
		conn, err = net.Dial("tcp", fmt.Sprintf("%s:%d", sc.Config.Host, sc.Config.ControlPort))
		if err != nil {
			return err
		}
		sc.ControlConn = conn
	}
	status, err := sendCtrl(conn, wire.ServerCtrlReqPayload{
		Kind: wire.CtrlUpdatePrimary, // Sc receives UPDATE_PRIMARY (event EventUpdatePrimary)
		Host: saaCfg.Host,
		Port: uint16(saaCfg.PeerPort),
	})
	if err != nil {
		return err
	}
	if status != wire.StatusSuccess {
		return fmt.Errorf("coordinator: Sc rejected UPDATE_PRIMARY: %s", status)
	}
	return nil
}

// OnUpdatedPrimary handles Sb's UPDATED_PRIMARY report (step 6):
// Sb's bulk push into Saa's primary shard landed.
func (c *Coordinator) OnUpdatedPrimary(sa int) {
	c.onAck(sa, (*NodeRecord).RecordPrimaryAck)
}

// OnUpdatedSecondary handles Sc's UPDATED_SECONDARY report (step 6):
// Sc's bulk push into Saa's secondary shard landed.
func (c *Coordinator) OnUpdatedSecondary(sa int) {
	c.onAck(sa, (*NodeRecord).RecordSecondaryAck)
}

func (c *Coordinator) onAck(sa int, record func(*NodeRecord) bool) {
	saRecord := c.Registry.Get(sa)
	if saRecord == nil {
		return
	}
	if snap := saRecord.Snapshot(); snap.Status != StatusRecon {
		c.log.Printf("recovery: dropping ack for node %d not in RECON", sa)
		return
	}
	if record(saRecord) {
		c.switchPrimary(sa)
	}
}

// switchPrimary is recovery step 7-9: quiesce, tell Sb to flush and
// hand over, re-bind Saa's own secondary, then resume traffic.
func (c *Coordinator) switchPrimary(sa int) {
	c.mu.Lock()
	run, ok := c.inFlight[sa]
	if ok {
		delete(c.inFlight, sa)
	}
	c.mu.Unlock()
	if !ok {
		return
	}

	saRecord := c.Registry.Get(sa)
	sbRecord := c.Registry.Get(run.sb)
	if saRecord == nil || sbRecord == nil {
		return
	}

	saRecord.BeginSwitch()
	sbRecord.BeginSwitch()

	if sbRecord.ControlConn != nil {
		status, err := sendCtrl(sbRecord.ControlConn, wire.ServerCtrlReqPayload{Kind: wire.CtrlSwitchPrimary})
		if err != nil || status != wire.StatusSuccess {
			c.log.Printf("recovery: SWITCH_PRIMARY to Sb(%d): status=%v err=%v", run.sb, status, err)
		}
	}

	if saRecord.ControlConn != nil {
		secOwner := ring.SecondaryOwner(sa, c.Registry.N())
		secCfg := c.Registry.Get(secOwner)
		if secCfg != nil {
			sendCtrl(saRecord.ControlConn, wire.ServerCtrlReqPayload{ //nolint:errcheck
				Kind: wire.CtrlSetSecondary,
				Host: secCfg.Config.Host,
				Port: uint16(secCfg.Config.PeerPort),
			})
		}
	}

	saRecord.Resume()
	c.mu.Lock()
	delete(c.retries, sa)
	c.mu.Unlock()
	c.log.Printf("recovery: node %d switch complete, ONLINE", sa)
}

// OnUpdatePrimaryFailed and OnUpdateSecondaryFailed implement Q1's
// resolution: retry the recovery exactly once, then abandon it and
// leave the shard's range served in degraded mode (Sb standing in
// indefinitely) rather than retrying forever.
func (c *Coordinator) OnUpdatePrimaryFailed(sa int) {
	c.retryOrAbort(sa)
}

func (c *Coordinator) OnUpdateSecondaryFailed(sa int) {
	c.retryOrAbort(sa)
}

func (c *Coordinator) retryOrAbort(sa int) {
	c.mu.Lock()
	_, active := c.inFlight[sa]
	delete(c.inFlight, sa)
	if !active {
		c.mu.Unlock()
		return
	}
	attempts := c.retries[sa]
	c.retries[sa] = attempts + 1
	c.mu.Unlock()

	if attempts >= 1 {
		c.log.Printf("recovery: bulk push for node %d failed again after one retry, abandoning recovery", sa)
		return
	}
	c.log.Printf("recovery: bulk push for node %d failed, retrying once", sa)
	c.BeginRecovery(sa)
}

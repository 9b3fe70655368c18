// Package node implements the storage node half of the cluster: two
// shards (a primary and a secondary), the replication path between
// them, the four-state recovery state machine, and the network loop
// that serves clients, peers, and the coordinator.
//
// Node state is held in an explicit *Node passed to every handler
// rather than in package-level variables, so a test can run several
// nodes side by side in one process.
package node

import (
	"fmt"
	"log"
	"net"
	"os"
	"sync"

	"github.com/chordkv/chordkv/internal/ring"
	"github.com/chordkv/chordkv/internal/shard"
)

// ErrNotOwner names the case of an operation on a key that belongs to
// neither shard this node holds. HandleClientGet and HandleClientPut
// report that case as SERVER_FAILURE and do not return this error.
var ErrNotOwner = fmt.Errorf("node: key not owned by this node")

// Config carries a node's identity as assigned by the cluster
// configuration file and CLI flags.
type Config struct {
	ServerID    int
	N           int
	CoordHost   string
	CoordPort   int
	ClientAddr  string
	PeerAddr    string
	ControlAddr string
}

// Node is the full runtime state of one storage node: its two shards,
// its standing peer connections, its recovery state, and the sockets
// it listens on.
type Node struct {
	cfg Config
	log *log.Logger

	mu    sync.RWMutex
	state State

	primary   *shard.Shard // this node's own primary shard (ShardID == ServerID)
	secondary *shard.Shard // replica of the predecessor's primary shard

	// peerNext is the standing outbound connection to (ServerID+1)%N,
	// the node holding the secondary replica of this node's primary
	// shard. Writes to the primary shard are forwarded here.
	peerNext net.Conn
	// recoveryForward is a transient outbound connection opened only
	// while this node is acting as Sb: writes accepted for Sa's former
	// primary range (served out of this node's secondary shard) are
	// forwarded here to Saa once the replacement is reachable.
	recoveryForward net.Conn

	coordConn net.Conn

	shutdownCh chan struct{}
	closeOnce  sync.Once
}

// New creates a node with fresh, empty primary and secondary shards
// for the given configuration. The shards are named by the ring
// relation: primary shard id == ServerID, secondary shard id ==
// predecessor(ServerID).
func New(cfg Config, logger *log.Logger) *Node {
	if logger == nil {
		logger = log.New(os.Stderr, fmt.Sprintf("node[%d] ", cfg.ServerID), log.LstdFlags)
	}
	return &Node{
		cfg:        cfg,
		log:        logger,
		state:      StateOnline,
		primary:    shard.New(cfg.ServerID, shard.RolePrimary),
		secondary:  shard.New(ring.PredecessorOf(cfg.ServerID, cfg.N), shard.RoleSecondary),
		shutdownCh: make(chan struct{}),
	}
}

// State returns the node's current recovery state.
func (n *Node) State() State {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.state
}

// fire applies event ev to the node's state machine, logging the
// transition. Callers hold no lock when calling this.
func (n *Node) fire(ev Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	next, err := transition(n.state, ev)
	if err != nil {
		return err
	}
	n.log.Printf("state %s -> %s (%s)", n.state, next, ev)
	n.state = next
	return nil
}

// ServerID returns this node's stable identity.
func (n *Node) ServerID() int { return n.cfg.ServerID }

// Primary returns this node's primary shard.
func (n *Node) Primary() *shard.Shard { return n.primary }

// Secondary returns this node's secondary shard.
func (n *Node) Secondary() *shard.Shard { return n.secondary }

// SetPeerNext installs the standing connection to the node holding
// the secondary replica of this node's primary shard.
func (n *Node) SetPeerNext(conn net.Conn) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.peerNext != nil {
		n.peerNext.Close()
	}
	n.peerNext = conn
}

// SetRecoveryForward installs the transient outbound connection to
// Saa used while this node is UPDATING_SECONDARY / SWITCHING_PRIMARY.
func (n *Node) SetRecoveryForward(conn net.Conn) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.recoveryForward != nil {
		n.recoveryForward.Close()
	}
	n.recoveryForward = conn
}

func (n *Node) getRecoveryForward() net.Conn {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.recoveryForward
}

func (n *Node) getPeerNext() net.Conn {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.peerNext
}

// SetCoordConn installs the outbound connection used to send
// heartbeats and *_FAILED / UPDATED_* reports to the coordinator.
func (n *Node) SetCoordConn(conn net.Conn) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.coordConn != nil {
		n.coordConn.Close()
	}
	n.coordConn = conn
}

func (n *Node) getCoordConn() net.Conn {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.coordConn
}

// Shutdown signals every worker loop to stop and releases standing
// connections. Safe to call more than once.
func (n *Node) Shutdown() {
	n.closeOnce.Do(func() {
		close(n.shutdownCh)
		n.mu.Lock()
		defer n.mu.Unlock()
		for _, c := range []net.Conn{n.peerNext, n.recoveryForward, n.coordConn} {
			if c != nil {
				c.Close()
			}
		}
	})
}

// Done returns the channel that closes when Shutdown is called.
func (n *Node) Done() <-chan struct{} { return n.shutdownCh }

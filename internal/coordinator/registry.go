package coordinator

import (
	"fmt"
	"net"
	"sync"

	"github.com/chordkv/chordkv/internal/config"
	"github.com/chordkv/chordkv/internal/spawn"
)

// Status is a node record's coarse recovery status, as tracked by the
// coordinator (distinct from node.State, which a storage node tracks
// about itself).
type Status int

const (
	StatusOnline Status = iota
	StatusRecon
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusOnline:
		return "ONLINE"
	case StatusRecon:
		return "RECON"
	case StatusFailed:
		return "FAILED"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// NodeRecord is the coordinator's per-node bookkeeping: stable
// identity plus the transient recovery-protocol state described by
// the flags updated_primary_ack, updated_secondary_ack, and
// quiesce_puts. It is modeled as a single tagged variant (Status plus
// flags) with explicit transition methods so the nine recovery steps
// are individually testable.
type NodeRecord struct {
	mu sync.Mutex

	ServerID int
	Config   config.NodeConfig

	Status Status

	// Proc is the external process handle for a locally- or
	// ssh-spawned node, nil until the coordinator has spawned one.
	Proc *spawn.Process
	// ControlConn is the coordinator's outbound control connection to
	// this node.
	ControlConn net.Conn

	UpdatedPrimaryAck   bool
	UpdatedSecondaryAck bool
	QuiescePuts         bool
}

// NewNodeRecord creates a record in ONLINE with all recovery flags
// clear.
func NewNodeRecord(serverID int, cfg config.NodeConfig) *NodeRecord {
	return &NodeRecord{ServerID: serverID, Config: cfg, Status: StatusOnline}
}

// MarkFailed is recovery step 1: the heartbeat sweep found this node
// stale.
func (r *NodeRecord) MarkFailed() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Status = StatusFailed
}

// BeginRecovery is recovery step 2: a replacement has been spawned
// and the control channel re-opened. Resets all three flags.
func (r *NodeRecord) BeginRecovery(proc *spawn.Process, controlConn net.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Proc = proc
	r.ControlConn = controlConn
	r.Status = StatusRecon
	r.UpdatedPrimaryAck = false
	r.UpdatedSecondaryAck = false
	r.QuiescePuts = false
}

// RecordPrimaryAck records UPDATED_PRIMARY (Sb's bulk push to Saa
// landed) and reports whether both acks are now in, per I4.
func (r *NodeRecord) RecordPrimaryAck() (bothAcked bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.UpdatedPrimaryAck = true
	return r.UpdatedPrimaryAck && r.UpdatedSecondaryAck
}

// RecordSecondaryAck records UPDATED_SECONDARY (Sc's bulk push to Saa
// landed) and reports whether both acks are now in.
func (r *NodeRecord) RecordSecondaryAck() (bothAcked bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.UpdatedSecondaryAck = true
	return r.UpdatedPrimaryAck && r.UpdatedSecondaryAck
}

// BeginSwitch is recovery step 7: both acks are in, so client PUTs
// for this range stop being redirected anywhere until the switch
// completes.
func (r *NodeRecord) BeginSwitch() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.QuiescePuts = true
}

// Resume is recovery step 9: the replacement is ONLINE and traffic
// resumes flowing to it directly.
func (r *NodeRecord) Resume() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Status = StatusOnline
	r.QuiescePuts = false
	r.UpdatedPrimaryAck = false
	r.UpdatedSecondaryAck = false
}

// Snapshot returns a value copy of the record's status and flags,
// safe to read without holding the record's lock afterward.
type RecordSnapshot struct {
	Status              Status
	UpdatedPrimaryAck   bool
	UpdatedSecondaryAck bool
	QuiescePuts         bool
}

func (r *NodeRecord) Snapshot() RecordSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return RecordSnapshot{
		Status:              r.Status,
		UpdatedPrimaryAck:   r.UpdatedPrimaryAck,
		UpdatedSecondaryAck: r.UpdatedSecondaryAck,
		QuiescePuts:         r.QuiescePuts,
	}
}

// Registry holds every node's record, keyed by server id.
type Registry struct {
	mu      sync.RWMutex
	records map[int]*NodeRecord
	n       int
}

// NewRegistry builds a registry with one ONLINE record per node
// described by cfgs, in cluster-file order (server id == index).
func NewRegistry(cfgs []config.NodeConfig) *Registry {
	records := make(map[int]*NodeRecord, len(cfgs))
	for i, c := range cfgs {
		records[i] = NewNodeRecord(i, c)
	}
	return &Registry{records: records, n: len(cfgs)}
}

// N returns the cluster size.
func (reg *Registry) N() int { return reg.n }

// Get returns the record for serverID, or nil if out of range.
func (reg *Registry) Get(serverID int) *NodeRecord {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return reg.records[serverID]
}

// All returns every record, ordered by server id.
func (reg *Registry) All() []*NodeRecord {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	out := make([]*NodeRecord, reg.n)
	for id, r := range reg.records {
		out[id] = r
	}
	return out
}

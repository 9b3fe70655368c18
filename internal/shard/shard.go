// Package shard is the per-node holder for one of a node's two data
// partitions (its primary shard or its secondary shard), wrapping a
// kvstore.Store with the bookkeeping the rest of the system needs:
// which shard ID it holds, whether it is acting as primary or
// secondary, and operation counters.
//
// See doc.go for the fuller architecture notes.
package shard

import (
	"sync/atomic"

	"github.com/chordkv/chordkv/internal/kvstore"
	"github.com/chordkv/chordkv/internal/wire"
)

// Role distinguishes a node's two shards.
type Role int

const (
	// RolePrimary is the shard this node is authoritative for.
	RolePrimary Role = iota
	// RoleSecondary is the shard this node replicates on behalf of
	// its ring predecessor.
	RoleSecondary
)

func (r Role) String() string {
	if r == RolePrimary {
		return "primary"
	}
	return "secondary"
}

// Stats tracks per-shard operation counts, updated atomically so
// readers never block behind a writer.
type Stats struct {
	Gets    uint64
	Puts    uint64
	Deletes uint64
}

// Info is a point-in-time snapshot of a shard's identity and size,
// safe to copy and hand to a caller outside the shard's lock.
type Info struct {
	ShardID  int
	Role     Role
	KeyCount int
	Bytes    int
}

// Shard is one of a node's two data partitions.
type Shard struct {
	Store   *kvstore.Store
	stats   Stats
	ShardID int
	Role    Role
}

// New creates an empty shard for shardID, acting in the given role.
func New(shardID int, role Role) *Shard {
	return &Shard{
		Store:   kvstore.New(),
		ShardID: shardID,
		Role:    role,
	}
}

// Get retrieves a value, recording the operation in Stats.
func (s *Shard) Get(k wire.Key) ([]byte, error) {
	atomic.AddUint64(&s.stats.Gets, 1)
	return s.Store.Get(k)
}

// Put stores a value, recording the operation in Stats.
func (s *Shard) Put(k wire.Key, v []byte) (displaced []byte, err error) {
	atomic.AddUint64(&s.stats.Puts, 1)
	return s.Store.Put(k, v)
}

// PutLocked is Put for a caller that already holds k's lock via Lock,
// e.g. the lock-around-forward replication path.
func (s *Shard) PutLocked(k wire.Key, v []byte) (displaced []byte, err error) {
	atomic.AddUint64(&s.stats.Puts, 1)
	return s.Store.PutLocked(k, v)
}

// Delete removes a value, recording the operation in Stats.
func (s *Shard) Delete(k wire.Key) (displaced []byte, ok bool) {
	atomic.AddUint64(&s.stats.Deletes, 1)
	return s.Store.Delete(k)
}

// Lock acquires the per-key lock for k on this shard's store, so a
// caller can atomize a Put with a replication forward.
func (s *Shard) Lock(k wire.Key) { s.Store.Lock(k) }

// Unlock releases the per-key lock for k.
func (s *Shard) Unlock(k wire.Key) { s.Store.Unlock(k) }

// Iterate visits every (key, value) pair present at the start of the
// call; used for the recovery-time bulk catch-up push.
func (s *Shard) Iterate(fn func(k wire.Key, v []byte) bool) {
	s.Store.Iterate(fn)
}

// Info returns a snapshot of this shard's identity and size.
func (s *Shard) Info() Info {
	return Info{
		ShardID:  s.ShardID,
		Role:     s.Role,
		KeyCount: s.Store.Len(),
		Bytes:    s.Store.Bytes(),
	}
}

// StatsSnapshot returns a copy of the current operation counters.
func (s *Shard) StatsSnapshot() Stats {
	return Stats{
		Gets:    atomic.LoadUint64(&s.stats.Gets),
		Puts:    atomic.LoadUint64(&s.stats.Puts),
		Deletes: atomic.LoadUint64(&s.stats.Deletes),
	}
}

// Reset discards all data held by the shard and resets its role,
// without changing its ShardID. Used when a node repurposes a shard
// slot during recovery (e.g. a replacement's primary shard starts
// empty and is filled by the bulk catch-up stream).
func (s *Shard) Reset(role Role) {
	s.Store = kvstore.New()
	s.Role = role
	atomic.StoreUint64(&s.stats.Gets, 0)
	atomic.StoreUint64(&s.stats.Puts, 0)
	atomic.StoreUint64(&s.stats.Deletes, 0)
}

// Package kvstore implements the per-shard key-value map: a
// concurrent mapping from fixed-width keys to length-prefixed values,
// with per-key locking exposed so composite operations (forward a
// write while holding the key's lock) can be built on top of it.
package kvstore

import (
	"errors"
	"hash/fnv"
	"sync"
	"sync/atomic"

	"github.com/chordkv/chordkv/internal/wire"
)

// Key is the store's key type: a fixed KeySize-byte array, matching
// the wire protocol's key encoding exactly so a frame's key bytes can
// be used as a map key with no further conversion.
type Key = wire.Key

// ErrKeyNotFound is returned by Get when the key is absent. Delete
// reports an absent key through its ok result instead.
var ErrKeyNotFound = errors.New("kvstore: key not found")

// ErrOutOfSpace is returned by Put when the store has reached its
// configured capacity and the key is new (an overwrite of an existing
// key never fails with ErrOutOfSpace).
var ErrOutOfSpace = errors.New("kvstore: out of space")

// numStripes is the number of lock stripes backing Lock/Unlock.
// A fixed stripe count (rather than one mutex per key) bounds the
// store's lock overhead independent of key cardinality, and also
// partitions the backing map so two keys in different stripes never
// contend on the same mutex, per spec.md §4.1's "sharding by key
// prevents contention between independent keys".
const numStripes = 256

// stripe is one partition of the store: its own map plus the mutex
// that guards both structural access to that map and, for callers
// that need to atomize a Put with something else (an RPC forward),
// the key itself. Partitioning the map per stripe, rather than
// sharing one map behind per-key mutexes, is what makes it safe for
// Get/Put/Delete to take only the stripe lock: two goroutines working
// different stripes never touch the same map.
type stripe struct {
	mu   sync.Mutex
	data map[Key][]byte
}

// Store is a concurrent key-value map with per-key locking.
// The zero value is not usable; construct with New.
type Store struct {
	stripes  [numStripes]stripe
	count    atomic.Int64 // total keys across all stripes
	capacity int          // 0 means unbounded
}

// New creates an empty Store with no capacity limit.
func New() *Store {
	s := &Store{}
	for i := range s.stripes {
		s.stripes[i].data = make(map[Key][]byte)
	}
	return s
}

// NewWithCapacity creates an empty Store that reports ErrOutOfSpace
// once it holds capacity distinct keys.
func NewWithCapacity(capacity int) *Store {
	s := New()
	s.capacity = capacity
	return s
}

func stripeFor(k Key) int {
	h := fnv.New32a()
	h.Write(k[:])
	return int(h.Sum32() % numStripes)
}

func (s *Store) stripeFor(k Key) *stripe {
	return &s.stripes[stripeFor(k)]
}

// Lock acquires the stripe lock covering k. Callers use this to
// atomize a Put with an RPC forward: Lock, PutLocked, forward,
// Unlock. Get/Put/Delete take this same lock internally, so they must
// never be called for k while the caller itself already holds it —
// use the Locked variants instead in that case.
func (s *Store) Lock(k Key) {
	s.stripeFor(k).mu.Lock()
}

// Unlock releases the stripe lock covering k.
func (s *Store) Unlock(k Key) {
	s.stripeFor(k).mu.Unlock()
}

// Get retrieves the value stored for k.
func (s *Store) Get(k Key) ([]byte, error) {
	st := s.stripeFor(k)
	st.mu.Lock()
	defer st.mu.Unlock()
	return s.getLocked(st, k)
}

// GetLocked is Get for a caller that already holds k's stripe lock
// via Lock.
func (s *Store) GetLocked(k Key) ([]byte, error) {
	return s.getLocked(s.stripeFor(k), k)
}

func (s *Store) getLocked(st *stripe, k Key) ([]byte, error) {
	v, ok := st.data[k]
	if !ok {
		return nil, ErrKeyNotFound
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

// Put stores value under k, returning any value it displaced. A Put
// of a new key into a store already at capacity fails with
// ErrOutOfSpace and does not modify the store; a Put that overwrites
// an existing key always succeeds regardless of capacity.
func (s *Store) Put(k Key, value []byte) (displaced []byte, err error) {
	st := s.stripeFor(k)
	st.mu.Lock()
	defer st.mu.Unlock()
	return s.putLocked(st, k, value)
}

// PutLocked is Put for a caller that already holds k's stripe lock
// via Lock, e.g. a lock-around-forward replication write.
func (s *Store) PutLocked(k Key, value []byte) (displaced []byte, err error) {
	return s.putLocked(s.stripeFor(k), k, value)
}

func (s *Store) putLocked(st *stripe, k Key, value []byte) (displaced []byte, err error) {
	old, existed := st.data[k]
	if !existed && s.capacity > 0 && int(s.count.Load()) >= s.capacity {
		return nil, ErrOutOfSpace
	}

	stored := make([]byte, len(value))
	copy(stored, value)
	st.data[k] = stored
	if !existed {
		s.count.Add(1)
	}
	if existed {
		return old, nil
	}
	return nil, nil
}

// Delete removes k, returning the value it held if present.
func (s *Store) Delete(k Key) (displaced []byte, ok bool) {
	st := s.stripeFor(k)
	st.mu.Lock()
	defer st.mu.Unlock()
	return s.deleteLocked(st, k)
}

// DeleteLocked is Delete for a caller that already holds k's stripe
// lock via Lock.
func (s *Store) DeleteLocked(k Key) (displaced []byte, ok bool) {
	return s.deleteLocked(s.stripeFor(k), k)
}

func (s *Store) deleteLocked(st *stripe, k Key) (displaced []byte, ok bool) {
	old, existed := st.data[k]
	if existed {
		delete(st.data, k)
		s.count.Add(-1)
	}
	return old, existed
}

// Iterate visits each (key, value) pair present at the start of the
// call. fn returning false stops iteration early. Concurrent writes
// during iteration may or may not be observed (weak consistency), but
// every key present when Iterate began is visited exactly once.
// Snapshotting one stripe at a time, rather than holding every stripe
// lock at once, keeps a long Iterate (the recovery-time bulk push)
// from stalling unrelated Gets/Puts for the whole store's duration.
func (s *Store) Iterate(fn func(k Key, v []byte) bool) {
	for i := range s.stripes {
		st := &s.stripes[i]
		st.mu.Lock()
		snapshot := make(map[Key][]byte, len(st.data))
		for k, v := range st.data {
			snapshot[k] = v
		}
		st.mu.Unlock()

		for k, v := range snapshot {
			if !fn(k, v) {
				return
			}
		}
	}
}

// Len returns the number of keys currently stored.
func (s *Store) Len() int {
	return int(s.count.Load())
}

// Bytes returns the total size, in bytes, of all stored values.
func (s *Store) Bytes() int {
	total := 0
	for i := range s.stripes {
		st := &s.stripes[i]
		st.mu.Lock()
		for _, v := range st.data {
			total += len(v)
		}
		st.mu.Unlock()
	}
	return total
}

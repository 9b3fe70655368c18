// Package ring implements key_server_id, the deterministic map from a
// key to the node that owns it, and the one-step successor relation
// used to derive a key's secondary owner.
package ring

import (
	"hash/fnv"

	"github.com/chordkv/chordkv/internal/wire"
)

// Primary returns P(k): the node id responsible for k's primary
// shard, for a cluster of n nodes.
func Primary(k wire.Key, n int) int {
	h := fnv.New32a()
	h.Write(k[:])
	return int(h.Sum32() % uint32(n))
}

// Secondary returns S(k) = (P(k)+1) mod n: the node id holding the
// replica of k's shard.
func Secondary(k wire.Key, n int) int {
	return (Primary(k, n) + 1) % n
}

// PrimaryOf returns the node id whose primary shard is shardID, i.e.
// the identity function under this scheme: node i's primary shard id
// is i.
func PrimaryOf(shardID int) int { return shardID }

// SecondaryOwner returns the node id whose secondary shard holds
// shardID's replica, i.e. (shardID+1) mod n.
func SecondaryOwner(shardID, n int) int { return (shardID + 1) % n }

// PredecessorOf returns (id-1) mod n, the node whose primary shard
// this node replicates as its own secondary shard.
func PredecessorOf(id, n int) int { return (id - 1 + n) % n }

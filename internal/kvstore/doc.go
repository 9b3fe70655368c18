// Package kvstore: the leaf of the system. Everything above it
// (shard, node, coordinator) assumes Get/Put/Delete/Iterate are atomic
// per key and that Lock/Unlock can be composed with an RPC to make a
// forward-to-secondary write appear atomic to readers of either
// replica.
package kvstore

// Package shard sits between the per-key kvstore.Store and the node's
// network loop. A node holds exactly two: a primary shard for the key
// range it owns, and a secondary shard replicating its ring
// predecessor's range (spec.md §2/§3). During recovery a shard's Role
// can be repurposed in place (Reset) rather than replaced, since the
// replacement node inherits the failed node's identity and ports but
// starts with empty shards that the bulk catch-up stream fills.
package shard

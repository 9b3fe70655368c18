// Package coordinator implements the cluster's single metadata node.
//
// It tracks which of the N storage nodes are alive via a push-model
// heartbeat (heartbeat.go), answers client lookups for which node
// currently owns a key's writes (redirect.go), and drives the
// nine-step recovery protocol that replaces a failed node and
// promotes a new primary for its range (recovery.go). registry.go
// holds the per-node record — identity plus the RECON-state flags —
// that the recovery protocol reads and mutates at each step.
//
// A single coordinator process is a known single point of failure
// for the cluster; there is no coordinator replication or leader
// election here.
package coordinator

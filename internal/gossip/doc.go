// Package gossip implements a SWIM-style membership and failure
// detection protocol for small, bounded clusters.
//
// A State owns every protocol table: the member registry (active and
// confirmed members plus the round-robin index permutation), the
// update buffer that decides what to piggyback, and the ping and
// ping-request trackers. All of it sits behind one mutex; the receive
// loop and the failure-detection tick each hold it for one message or
// one tick.
//
// Tables never point into each other's storage. Members live in an
// arena and every other table stores a generation-tagged Handle, so
// compacting the active list cannot leave a dangling reference and a
// stale handle fails its lookup instead of aliasing another member.
//
// Limitations:
// - Fixed capacities; full tables drop work with a warning
// - No authentication or encryption of datagrams
// - No persistence across restarts
package gossip

package gossip

import (
	"fmt"
	"time"

	"swimd/internal/clock"
)

// PingReq is an indirect ping this node performs for a peer.
type PingReq struct {
	Source   Handle
	SourceID string
	Target   Handle
	TargetID string
	Deadline uint64
}

// PingReqTracker tracks relayed pings, at most one per (source, target).
// Removal swaps with the last entry.
type PingReqTracker struct {
	reqs     []PingReq
	capacity int
	clock    clock.Clock
	timeout  time.Duration
}

// NewPingReqTracker creates a ping-request tracker.
func NewPingReqTracker(opts Options, c clock.Clock) *PingReqTracker {
	return &PingReqTracker{
		reqs:     make([]PingReq, 0, opts.MaxPingReqs),
		capacity: opts.MaxPingReqs,
		clock:    c,
		timeout:  opts.ProtocolPeriod,
	}
}

// Len returns the number of tracked ping-requests.
func (t *PingReqTracker) Len() int {
	return len(t.reqs)
}

// Start records a relayed ping, replacing an earlier one for the same
// pair. Pairs with an unknown id are ignored.
func (t *PingReqTracker) Start(source Handle, sourceID string, target Handle, targetID string) error {
	if i := t.index(sourceID, targetID); i >= 0 {
		t.removeAt(i)
	}
	if sourceID == "" || targetID == "" {
		return ErrAnonymousMember
	}
	if len(t.reqs) >= t.capacity {
		return fmt.Errorf("ping-requests (%d): %w", t.capacity, ErrCapacityExceeded)
	}
	t.reqs = append(t.reqs, PingReq{
		Source:   source,
		SourceID: sourceID,
		Target:   target,
		TargetID: targetID,
		Deadline: clock.Deadline(t.clock, t.timeout),
	})
	return nil
}

// Find returns the ping-request for the pair.
func (t *PingReqTracker) Find(sourceID, targetID string) (PingReq, bool) {
	if i := t.index(sourceID, targetID); i >= 0 {
		return t.reqs[i], true
	}
	return PingReq{}, false
}

// Remove drops the ping-request for the pair.
func (t *PingReqTracker) Remove(sourceID, targetID string) bool {
	i := t.index(sourceID, targetID)
	if i < 0 {
		return false
	}
	t.removeAt(i)
	return true
}

// ForTarget returns copies of every ping-request probing targetID.
func (t *PingReqTracker) ForTarget(targetID string) []PingReq {
	var out []PingReq
	for _, r := range t.reqs {
		if targetID != "" && r.TargetID == targetID {
			out = append(out, r)
		}
	}
	return out
}

// Sweep removes ping-requests past their deadline and returns how many
// were dropped. The requester simply gives up on them.
func (t *PingReqTracker) Sweep(now uint64) int {
	removed := 0
	for i := 0; i < len(t.reqs); {
		if now > t.reqs[i].Deadline {
			t.removeAt(i)
			removed++
			continue
		}
		i++
	}
	return removed
}

func (t *PingReqTracker) index(sourceID, targetID string) int {
	for i := range t.reqs {
		if t.reqs[i].SourceID == sourceID && t.reqs[i].TargetID == targetID {
			return i
		}
	}
	return -1
}

func (t *PingReqTracker) removeAt(i int) {
	last := len(t.reqs) - 1
	t.reqs[i] = t.reqs[last]
	t.reqs = t.reqs[:last]
}

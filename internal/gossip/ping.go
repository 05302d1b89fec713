package gossip

import (
	"fmt"
	"time"

	"swimd/internal/clock"
)

// Ping is an in-flight direct ping.
type Ping struct {
	Target   Handle
	TargetID string
	// PingReqDeadline is when helpers are asked to ping the target.
	PingReqDeadline uint64
	// SuspectDeadline is when the target is marked Suspect.
	SuspectDeadline uint64
	PingReqSent     bool
}

// PingTracker tracks direct pings, at most one per target id.
// Removal swaps with the last entry, so order is not preserved.
type PingTracker struct {
	pings    []Ping
	capacity int

	clock         clock.Clock
	pingReqPeriod time.Duration
	suspectPeriod time.Duration
}

// NewPingTracker creates a ping tracker.
func NewPingTracker(opts Options, c clock.Clock) *PingTracker {
	return &PingTracker{
		pings:         make([]Ping, 0, opts.MaxPings),
		capacity:      opts.MaxPings,
		clock:         c,
		pingReqPeriod: opts.PingReqPeriod,
		suspectPeriod: opts.ProtocolPeriod,
	}
}

// Len returns the number of in-flight pings.
func (t *PingTracker) Len() int {
	return len(t.pings)
}

// Start records a ping to target, replacing any earlier ping to the
// same id. Anonymous targets are never tracked.
func (t *PingTracker) Start(target Handle, targetID string) (Ping, error) {
	t.Cancel(targetID)
	if targetID == "" {
		return Ping{}, ErrAnonymousMember
	}
	if len(t.pings) >= t.capacity {
		return Ping{}, fmt.Errorf("pings (%d): %w", t.capacity, ErrCapacityExceeded)
	}

	now := t.clock.NowMillis()
	p := Ping{
		Target:          target,
		TargetID:        targetID,
		PingReqDeadline: now + uint64(t.pingReqPeriod.Milliseconds()),
		SuspectDeadline: now + uint64(t.suspectPeriod.Milliseconds()),
	}
	t.pings = append(t.pings, p)
	return p, nil
}

// Find returns the ping to targetID.
func (t *PingTracker) Find(targetID string) (Ping, bool) {
	if i := t.index(targetID); i >= 0 {
		return t.pings[i], true
	}
	return Ping{}, false
}

// Cancel removes the ping to targetID, if any.
func (t *PingTracker) Cancel(targetID string) bool {
	i := t.index(targetID)
	if i < 0 {
		return false
	}
	t.removeAt(i)
	return true
}

func (t *PingTracker) index(targetID string) int {
	if targetID == "" {
		return -1
	}
	for i := range t.pings {
		if t.pings[i].TargetID == targetID {
			return i
		}
	}
	return -1
}

func (t *PingTracker) removeAt(i int) {
	last := len(t.pings) - 1
	t.pings[i] = t.pings[last]
	t.pings = t.pings[:last]
}

// Sweep walks the pings once. Pings past their suspect deadline are
// removed and passed to expired. Pings past their ping-request deadline
// that have not fallen back yet are passed to fallback and flagged; they
// stay tracked until an ack or the suspect deadline.
func (t *PingTracker) Sweep(now uint64, expired func(Ping), fallback func(Ping)) {
	var due []Ping
	for i := 0; i < len(t.pings); {
		p := t.pings[i]
		switch {
		case now > p.SuspectDeadline:
			t.removeAt(i)
			due = append(due, p)
			continue
		case now > p.PingReqDeadline && !p.PingReqSent:
			t.pings[i].PingReqSent = true
			fallback(t.pings[i])
		}
		i++
	}
	for _, p := range due {
		expired(p)
	}
}

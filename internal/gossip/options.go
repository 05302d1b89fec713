package gossip

import (
	"fmt"
	"time"
)

// Options holds the protocol constants. All capacities are fixed for
// the lifetime of a State.
type Options struct {
	MaxMembers   int // active member slots, self included
	MaxConfirmed int // confirmed (dead) member slots
	MaxUpdates   int // tracked gossip entries
	MaxPings     int
	MaxPingReqs  int
	MaxPiggyback int // members carried per outgoing message
	MaxEvents    int

	SuspectTimeout time.Duration
	ProtocolPeriod time.Duration
	PingReqPeriod  time.Duration
	SweepInterval  time.Duration

	GossipFanout          int // pings issued per tick
	FailureDetectionGroup int // helpers asked per ping-request fallback
	BufferSize            int // datagram buffer size

	// InsertStatusFromIncarnation reproduces the legacy insert rule
	// that derives a new member's status from its incarnation number.
	InsertStatusFromIncarnation bool
}

// DefaultOptions returns the defaults for a ten-member cluster.
func DefaultOptions() Options {
	return Options{
		MaxMembers:            10,
		MaxConfirmed:          10,
		MaxUpdates:            10,
		MaxPings:              10,
		MaxPingReqs:           10,
		MaxPiggyback:          6,
		MaxEvents:             8,
		SuspectTimeout:        30 * time.Second,
		ProtocolPeriod:        2 * time.Second,
		PingReqPeriod:         1 * time.Second,
		SweepInterval:         100 * time.Millisecond,
		GossipFanout:          1,
		FailureDetectionGroup: 2,
		BufferSize:            1024,
	}
}

// Validate checks that the options are usable.
func (o Options) Validate() error {
	for name, v := range map[string]int{
		"MaxMembers":            o.MaxMembers,
		"MaxConfirmed":          o.MaxConfirmed,
		"MaxUpdates":            o.MaxUpdates,
		"MaxPings":              o.MaxPings,
		"MaxPingReqs":           o.MaxPingReqs,
		"MaxPiggyback":          o.MaxPiggyback,
		"GossipFanout":          o.GossipFanout,
		"FailureDetectionGroup": o.FailureDetectionGroup,
		"BufferSize":            o.BufferSize,
	} {
		if v <= 0 {
			return fmt.Errorf("%s must be positive, got %d", name, v)
		}
	}
	if o.MaxEvents < 0 {
		return fmt.Errorf("MaxEvents must not be negative, got %d", o.MaxEvents)
	}
	if o.MaxMembers < 2 {
		return fmt.Errorf("MaxMembers must leave room for self and one peer, got %d", o.MaxMembers)
	}
	if o.SuspectTimeout <= 0 || o.ProtocolPeriod <= 0 || o.PingReqPeriod <= 0 || o.SweepInterval <= 0 {
		return fmt.Errorf("timeouts and periods must be positive")
	}
	if o.PingReqPeriod >= o.ProtocolPeriod {
		return fmt.Errorf("PingReqPeriod (%s) must be shorter than ProtocolPeriod (%s)", o.PingReqPeriod, o.ProtocolPeriod)
	}
	return nil
}

package gossip

import (
	"go.uber.org/zap"

	"swimd/internal/clock"
	"swimd/internal/telemetry"
)

// reconcile merges one member snapshot from an inbound message into
// the local view.
func (s *State) reconcile(c Member) {
	if c.ID != "" && c.ID == s.selfID() {
		s.refute(c)
		return
	}
	if _, dead := s.registry.FindConfirmed(c.ID); dead {
		s.forgetSeed(c)
		return
	}

	h, ok := s.registry.Find(c)
	if !ok {
		s.admit(c)
		return
	}

	h = s.apply(h, c)
	m := s.registry.member(h)
	if m.Status != Confirmed && m.ID != "" {
		if _, tracked := s.updates.Find(h); !tracked {
			s.register(h)
		}
	}
}

// forgetSeed drops an anonymous seed at c's address once c turns out to
// be a confirmed member, so the id never lands in both lists.
func (s *State) forgetSeed(c Member) {
	h, ok := s.registry.FindByAddress(c.Addr)
	if !ok || s.registry.member(h).ID != "" {
		return
	}
	s.registry.Drop(h)
	s.log.Info("dropping seed of confirmed member", zap.Stringer("member", c))
}

// admit inserts a member seen for the first time.
func (s *State) admit(c Member) {
	if c.ID == "" {
		// Nothing to key it on; seeds are added through Join.
		return
	}
	if _, dead := s.registry.FindConfirmed(c.ID); dead {
		return
	}

	if c.Status == Confirmed {
		h := s.registry.AddConfirmed(c)
		s.register(h)
		s.log.Debug("learned confirmed member", zap.Stringer("member", c))
		return
	}

	h, err := s.registry.Add(c)
	if err != nil {
		telemetry.CapacityExceeded.WithLabelValues("members").Inc()
		s.log.Warn("member not added", zap.Stringer("member", c), zap.Error(err))
		return
	}
	s.register(h)
	s.log.Info("member added", zap.Stringer("member", s.registry.member(h)))
}

// apply runs the incarnation precedence rules for an incoming claim c
// about the active member h. It returns h, or the confirmed handle if
// the member was promoted.
func (s *State) apply(h Handle, c Member) Handle {
	ex := s.registry.member(h)

	switch c.Status {
	case Alive:
		if (ex.Status == Suspect || ex.Status == Alive) && c.Incarnation > ex.Incarnation {
			s.override(h, Alive, c.Incarnation)
		}
	case Suspect:
		if (ex.Status == Suspect && c.Incarnation > ex.Incarnation) ||
			(ex.Status == Alive && c.Incarnation >= ex.Incarnation) {
			s.override(h, Suspect, c.Incarnation)
		}
	case Confirmed:
		if ex.Status == Alive || ex.Status == Suspect {
			ex.Incarnation = c.Incarnation
			return s.markConfirmed(h)
		}
	}
	return h
}

// override replaces the status and incarnation of h and cancels any
// outstanding ping to it.
func (s *State) override(h Handle, st Status, inc uint64) {
	m := s.registry.member(h)
	prev := m.Status
	m.Status = st
	m.Incarnation = inc
	m.SuspicionDeadline = clock.Deadline(s.clock, s.opts.SuspectTimeout)
	s.pings.Cancel(m.ID)
	s.touch(h)

	if prev != st {
		telemetry.Transitions.WithLabelValues(st.String()).Inc()
		s.log.Info("member status changed by gossip",
			zap.String("member", m.ID), zap.Stringer("from", prev), zap.Stringer("to", st), zap.Uint64("incarnation", inc))
	}
}

// refute answers a claim about this node. Suspect and Confirmed claims
// at or above our incarnation are refuted by moving past them and
// gossiping the new incarnation.
func (s *State) refute(c Member) {
	if c.Status == Alive {
		return
	}
	self := s.selfMember()
	if c.Incarnation < self.Incarnation {
		return
	}

	self.Incarnation = c.Incarnation + 1
	self.Status = Alive
	s.touch(s.self)
	telemetry.Refutations.Inc()
	s.log.Info("refuting suspicion", zap.Stringer("claim", c.Status), zap.Uint64("incarnation", self.Incarnation))
	s.gossipStatus(AliveMessage, *self)
}

// markAlive records a successful ping of h. A suspect coming back is
// announced to one peer.
func (s *State) markAlive(h Handle) {
	m := s.registry.member(h)
	if m == nil || m.Status == Confirmed {
		return
	}
	prev := m.Status
	m.Status = Alive
	m.SuspicionDeadline = clock.Deadline(s.clock, s.opts.SuspectTimeout)

	if prev == Suspect {
		telemetry.Transitions.WithLabelValues(Alive.String()).Inc()
		s.log.Info("member marked alive", zap.String("member", m.ID))
		s.touch(h)
		s.gossipStatus(AliveMessage, *m)
	}
}

// markSuspect records a failed ping of h. Only Alive members become
// Suspect.
func (s *State) markSuspect(h Handle) {
	m := s.registry.member(h)
	if m == nil || m.Status != Alive {
		return
	}
	m.Status = Suspect
	m.SuspicionDeadline = clock.Deadline(s.clock, s.opts.SuspectTimeout)

	telemetry.Transitions.WithLabelValues(Suspect.String()).Inc()
	s.log.Info("member marked suspect", zap.String("member", m.ID), zap.Uint64("incarnation", m.Incarnation))
	s.touch(h)
	s.gossipStatus(SuspectMessage, *m)
}

// markConfirmed declares h dead and moves it to the confirmed list.
// It returns the confirmed handle.
func (s *State) markConfirmed(h Handle) Handle {
	m := s.registry.member(h)
	if m == nil {
		return h
	}
	m.Status = Confirmed
	s.pings.Cancel(m.ID)

	nh, ok := s.registry.Promote(h)
	if !ok {
		return h
	}
	s.touch(nh)
	dead, _ := s.registry.Get(nh)

	telemetry.Transitions.WithLabelValues(Confirmed.String()).Inc()
	s.log.Info("member marked confirmed", zap.String("member", dead.ID), zap.Uint64("incarnation", dead.Incarnation))
	s.gossipStatus(ConfirmMessage, dead)
	return nh
}

// checkSuspects confirms suspects whose suspicion timeout passed. A
// suspect already present in the confirmed list is dropped from the
// active list instead of being confirmed twice.
func (s *State) checkSuspects(now uint64) {
	for _, h := range s.registry.Active() {
		m := s.registry.member(h)
		if m == nil || m.Status != Suspect || now <= m.SuspicionDeadline {
			continue
		}
		if _, dead := s.registry.FindConfirmed(m.ID); dead {
			s.log.Debug("dropping stale suspect", zap.String("member", m.ID))
			s.pings.Cancel(m.ID)
			s.registry.Drop(h)
			continue
		}
		s.markConfirmed(h)
	}
}

// gossipStatus sends a single-member notice to the next round-robin
// peer.
func (s *State) gossipStatus(t MessageType, about Member) {
	h, ok := s.registry.RetrieveRoundRobin(s.selfID())
	if !ok {
		return
	}
	s.send(s.registry.member(h).Addr, s.buildStatusMessage(t, about))
}

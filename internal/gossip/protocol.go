package gossip

import (
	"errors"

	"go.uber.org/zap"

	"swimd/internal/telemetry"
)

// buildGossipMessage stamps self as the sender and piggybacks the
// least-disseminated updates.
func (s *State) buildGossipMessage(t MessageType) *Message {
	selected := s.updates.Select(s.opts.MaxPiggyback, func(h Handle) bool {
		m := s.registry.member(h)
		return m != nil && m.ID != ""
	})

	msg := s.header(t)
	msg.Updates = make([]Member, 0, len(selected))
	for _, h := range selected {
		msg.Updates = append(msg.Updates, *s.registry.member(h))
	}
	return msg
}

// buildStatusMessage carries exactly one member: the subject of an
// Alive, Suspect or Confirm notice, or the target of a ping-request.
func (s *State) buildStatusMessage(t MessageType, about Member) *Message {
	msg := s.header(t)
	msg.Updates = []Member{about}
	return msg
}

func (s *State) header(t MessageType) *Message {
	self := s.selfMember()
	return &Message{
		Type:              t,
		SenderID:          self.ID,
		SenderAddr:        self.Addr,
		SenderStatus:      self.Status,
		SenderIncarnation: self.Incarnation,
	}
}

// send encodes and transmits msg. Failures are logged and counted,
// never retried.
func (s *State) send(to Address, msg *Message) {
	b, err := s.codec.Encode(msg)
	if err != nil {
		telemetry.SendFailures.Inc()
		s.log.Error("encode failed", zap.Stringer("type", msg.Type), zap.Error(err))
		return
	}
	if len(b) > s.opts.BufferSize {
		telemetry.SendFailures.Inc()
		s.log.Warn("datagram larger than buffer, dropped",
			zap.Stringer("type", msg.Type), zap.Int("bytes", len(b)), zap.Int("buffer", s.opts.BufferSize))
		return
	}
	if err := s.transport.Send(to, b); err != nil {
		telemetry.SendFailures.Inc()
		s.log.Error("send failed", zap.Stringer("type", msg.Type), zap.Stringer("to", to), zap.Error(err))
		return
	}
	telemetry.MessagesSent.WithLabelValues(msg.Type.String()).Inc()
	s.log.Debug("sent", zap.Stringer("type", msg.Type), zap.Stringer("to", to), zap.Int("updates", len(msg.Updates)))
}

// handle merges every member a message mentions, then dispatches on
// its type.
func (s *State) handle(msg *Message) {
	if len(msg.Updates) > s.opts.MaxUpdates {
		msg.Updates = msg.Updates[:s.opts.MaxUpdates]
	}
	if ce := s.log.Check(zap.DebugLevel, "received"); ce != nil {
		ce.Write(
			zap.Stringer("type", msg.Type),
			zap.String("sender", msg.SenderID),
			zap.Stringer("status", msg.SenderStatus),
			zap.Uint64("incarnation", msg.SenderIncarnation),
			zap.Stringer("addr", msg.SenderAddr),
			zap.Stringers("updates", msg.Updates),
		)
	}

	s.reconcile(msg.Sender())
	for _, u := range msg.Updates {
		s.reconcile(u)
	}

	switch msg.Type {
	case PingMessage:
		s.handlePing(msg)
	case PingReqMessage:
		s.handlePingReq(msg)
	case AckMessage:
		s.handleAck(msg)
	case EventMessage:
		s.handleEvent(msg)
	case AliveMessage, SuspectMessage, ConfirmMessage:
		// Already merged above.
	}
}

// handlePing acks the sender. A ping is as good as an ack for showing
// the sender is alive.
func (s *State) handlePing(msg *Message) {
	s.send(msg.SenderAddr, s.buildGossipMessage(AckMessage))
	s.pings.Cancel(msg.SenderID)
	if h, ok := s.registry.FindByID(msg.SenderID); ok {
		s.markAlive(h)
	}
}

// handlePingReq pings the requested target on the sender's behalf.
func (s *State) handlePingReq(msg *Message) {
	source, ok := s.registry.FindByID(msg.SenderID)
	if !ok {
		s.log.Warn("ping-request from unknown source", zap.String("source", msg.SenderID), zap.Error(ErrNotFound))
		return
	}
	if len(msg.Updates) == 0 {
		s.log.Warn("ping-request without target", zap.String("source", msg.SenderID))
		return
	}
	target, ok := s.registry.FindByID(msg.Updates[0].ID)
	if !ok {
		s.log.Warn("ping-request for unknown target", zap.String("target", msg.Updates[0].ID), zap.Error(ErrNotFound))
		return
	}

	t := s.registry.member(target)
	s.send(t.Addr, s.buildGossipMessage(PingMessage))
	if err := s.pingReqs.Start(source, msg.SenderID, target, t.ID); err != nil {
		if errors.Is(err, ErrCapacityExceeded) {
			telemetry.CapacityExceeded.WithLabelValues("ping_reqs").Inc()
		}
		s.log.Warn("ping-request not tracked", zap.String("target", t.ID), zap.Error(err))
	}
}

// handleAck closes our own ping to the sender and relays the ack to
// every peer that asked us to ping it.
func (s *State) handleAck(msg *Message) {
	if p, ok := s.pings.Find(msg.SenderID); ok {
		if h, ok := s.registry.FindByID(p.TargetID); ok {
			s.markAlive(h)
		}
		s.pings.Cancel(p.TargetID)
	}

	for _, req := range s.pingReqs.ForTarget(msg.SenderID) {
		source := s.registry.member(req.Source)
		target := s.registry.member(req.Target)
		if source == nil || target == nil {
			s.pingReqs.Remove(req.SourceID, req.TargetID)
			continue
		}

		relay := s.buildGossipMessage(AckMessage)
		relay.SenderID = target.ID
		relay.SenderAddr = target.Addr
		relay.SenderStatus = target.Status
		relay.SenderIncarnation = target.Incarnation
		s.send(source.Addr, relay)
		s.pingReqs.Remove(req.SourceID, req.TargetID)
	}
}

// pingMember pings h and starts tracking the ping. Anonymous seeds are
// pinged but not tracked.
func (s *State) pingMember(h Handle) {
	m := s.registry.member(h)
	s.send(m.Addr, s.buildGossipMessage(PingMessage))

	if _, err := s.pings.Start(h, m.ID); err != nil {
		if errors.Is(err, ErrAnonymousMember) {
			return
		}
		telemetry.CapacityExceeded.WithLabelValues("pings").Inc()
		s.log.Warn("ping not tracked", zap.String("target", m.ID), zap.Error(err))
	}
}

// pingExpired marks the target of an unanswered ping Suspect.
func (s *State) pingExpired(p Ping) {
	h, ok := s.registry.FindByID(p.TargetID)
	if !ok {
		return
	}
	s.markSuspect(h)
}

// pingFallback asks up to FailureDetectionGroup random helpers to ping
// the target of an unanswered ping.
func (s *State) pingFallback(p Ping) {
	target, ok := s.registry.FindByID(p.TargetID)
	if !ok {
		return
	}
	helpers := s.registry.Sample(s.opts.FailureDetectionGroup, s.selfID(), target)
	if len(helpers) == 0 {
		s.log.Debug("no helpers for ping-request", zap.String("target", p.TargetID))
		return
	}

	msg := s.buildStatusMessage(PingReqMessage, *s.registry.member(target))
	for _, h := range helpers {
		s.send(s.registry.member(h).Addr, msg)
	}
	s.log.Debug("ping-requests sent", zap.String("target", p.TargetID), zap.Int("helpers", len(helpers)))
}

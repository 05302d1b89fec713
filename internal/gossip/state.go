package gossip

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"swimd/internal/clock"
	"swimd/internal/telemetry"
)

// Deps are the collaborators a State needs. Codec and Transport are
// required; the rest default to production implementations.
type Deps struct {
	Clock     clock.Clock
	Random    Random
	IDs       IDGenerator
	Codec     Codec
	Transport Transport
	Logger    *zap.Logger
	// Executor runs event handlers. Defaults to running them on the
	// goroutine that released the protocol lock.
	Executor Executor
}

// Snapshot is a point-in-time copy of the membership view.
type Snapshot struct {
	Self      Member
	Active    []Member // includes self
	Confirmed []Member
}

// State is the protocol state of one node. All exported methods are
// safe for concurrent use; each holds the state lock for the duration
// of one packet, tick or sweep.
type State struct {
	mu sync.Mutex

	opts      Options
	log       *zap.Logger
	clock     clock.Clock
	codec     Codec
	transport Transport
	executor  Executor

	registry *Registry
	updates  *UpdateBuffer
	pings    *PingTracker
	pingReqs *PingReqTracker
	events   *eventTable
	self     Handle

	// pending holds event handler invocations collected under the lock.
	pending []func()
}

// New creates the protocol state for self. A self without an id gets a
// freshly generated one. Self is registered as the first active member
// and the first gossip entry.
func New(self Member, opts Options, deps Deps) (*State, error) {
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("invalid options: %w", err)
	}
	if deps.Codec == nil || deps.Transport == nil {
		return nil, errors.New("codec and transport are required")
	}
	if deps.Clock == nil {
		deps.Clock = clock.System{}
	}
	if deps.Random == nil {
		deps.Random = NewRandom(uint64(time.Now().UnixNano()))
	}
	if deps.IDs == nil {
		deps.IDs = UUIDGenerator{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Executor == nil {
		deps.Executor = inlineExecutor{}
	}
	if self.ID == "" {
		self.ID = deps.IDs.NewID()
	}
	if self.Addr.IsZero() {
		return nil, errors.New("self address is required")
	}

	updates := NewUpdateBuffer(opts.MaxUpdates)
	s := &State{
		opts:      opts,
		log:       deps.Logger.With(zap.String("node", self.ID)),
		clock:     deps.Clock,
		codec:     deps.Codec,
		transport: deps.Transport,
		executor:  deps.Executor,
		registry:  NewRegistry(opts, deps.Clock, deps.Random, updates),
		updates:   updates,
		pings:     NewPingTracker(opts, deps.Clock),
		pingReqs:  NewPingReqTracker(opts, deps.Clock),
		events:    newEventTable(opts.MaxEvents),
	}

	h, err := s.registry.Add(self)
	if err != nil {
		return nil, fmt.Errorf("add self: %w", err)
	}
	s.registry.Update(h, func(m *Member) { m.Status = Alive })
	if err := s.updates.Register(h); err != nil {
		return nil, fmt.Errorf("register self: %w", err)
	}
	s.self = h
	return s, nil
}

// unlock releases the state lock and hands collected event handler
// calls to the executor.
func (s *State) unlock() {
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()

	for _, fn := range pending {
		if err := s.executor.Submit(fn); err != nil {
			s.log.Warn("event handler rejected", zap.Error(err))
		}
	}
}

// Self returns a copy of this node's own record.
func (s *State) Self() Member {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.selfMember()
}

func (s *State) selfMember() *Member {
	return s.registry.member(s.self)
}

func (s *State) selfID() string {
	return s.selfMember().ID
}

// Snapshot copies the current membership view.
func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{Self: *s.selfMember()}
	for _, h := range s.registry.Active() {
		m, _ := s.registry.Get(h)
		snap.Active = append(snap.Active, m)
	}
	for _, h := range s.registry.ConfirmedHandles() {
		m, _ := s.registry.Get(h)
		snap.Confirmed = append(snap.Confirmed, m)
	}
	return snap
}

// Join adds a seed member known only by its "ip:port" uri and pings it.
// Its id is learned from its first message. Joining an address that is
// already known, or our own address, is a no-op.
func (s *State) Join(uri string) error {
	addr, err := ParseURI(uri)
	if err != nil {
		return fmt.Errorf("join: %w", err)
	}

	s.mu.Lock()
	defer s.unlock()

	if _, ok := s.registry.FindByAddress(addr); ok {
		return nil
	}
	h, err := s.registry.Add(Member{Addr: addr, Status: Alive})
	if err != nil {
		telemetry.CapacityExceeded.WithLabelValues("members").Inc()
		return fmt.Errorf("join %s: %w", addr, err)
	}
	s.log.Info("joining seed", zap.Stringer("addr", addr))
	s.send(s.registry.member(h).Addr, s.buildGossipMessage(PingMessage))
	return nil
}

// HandlePacket decodes and processes one inbound datagram.
func (s *State) HandlePacket(payload []byte, from Address) {
	s.mu.Lock()
	defer s.unlock()

	typ := s.codec.DecodeType(payload)
	telemetry.MessagesReceived.WithLabelValues(typ.String()).Inc()
	if !typ.Known() {
		s.log.Debug("dropping datagram", zap.Stringer("type", typ), zap.Stringer("from", from), zap.Int("bytes", len(payload)))
		return
	}

	msg, err := s.codec.Decode(payload)
	if err != nil {
		s.log.Warn("dropping undecodable datagram", zap.Stringer("from", from), zap.Error(err))
		return
	}
	if msg.SenderAddr.IsZero() {
		msg.SenderAddr = from
	}
	s.handle(msg)
}

// Tick runs one failure-detection round: a sweep, then GossipFanout
// pings to round-robin targets. Targets with a ping still in flight
// are not pinged again.
func (s *State) Tick() {
	start := time.Now()
	s.mu.Lock()
	defer s.unlock()
	defer telemetry.ObserveSince(telemetry.TickDuration, start)

	s.sweep()

	pinged := make([]Handle, 0, s.opts.GossipFanout)
	for i := 0; i < s.opts.GossipFanout; i++ {
		h, ok := s.registry.RetrieveRoundRobin(s.selfID())
		if !ok || containsHandle(pinged, h) {
			break
		}
		pinged = append(pinged, h)
		// An outstanding ping is left to the sweep; restarting it would
		// push its deadline out every period.
		if _, inFlight := s.pings.Find(s.registry.member(h).ID); inFlight {
			continue
		}
		s.pingMember(h)
	}
	s.recordGauges()
}

// Sweep expires ping-requests, escalates unanswered pings and confirms
// suspects whose timeout passed.
func (s *State) Sweep() {
	s.mu.Lock()
	defer s.unlock()
	s.sweep()
	s.recordGauges()
}

func (s *State) sweep() {
	now := s.clock.NowMillis()
	if n := s.pingReqs.Sweep(now); n > 0 {
		s.log.Debug("ping-requests expired", zap.Int("count", n))
	}
	s.pings.Sweep(now, s.pingExpired, s.pingFallback)
	s.checkSuspects(now)
}

func (s *State) recordGauges() {
	counts := map[Status]int{}
	for _, h := range s.registry.active {
		counts[s.registry.member(h).Status]++
	}
	telemetry.Members.WithLabelValues(Alive.String()).Set(float64(counts[Alive]))
	telemetry.Members.WithLabelValues(Suspect.String()).Set(float64(counts[Suspect]))
	telemetry.Members.WithLabelValues(Confirmed.String()).Set(float64(s.registry.ConfirmedLen()))
	telemetry.InFlight.WithLabelValues("ping").Set(float64(s.pings.Len()))
	telemetry.InFlight.WithLabelValues("ping_req").Set(float64(s.pingReqs.Len()))
}

// register adds an update entry for h, logging when the buffer is full.
func (s *State) register(h Handle) {
	if err := s.updates.Register(h); err != nil {
		telemetry.CapacityExceeded.WithLabelValues("updates").Inc()
		s.log.Warn("update not tracked", zap.Stringer("member", s.registry.member(h)), zap.Error(err))
	}
}

// touch queues h to be gossiped again.
func (s *State) touch(h Handle) {
	if !s.updates.Reset(h) {
		s.register(h)
	}
}

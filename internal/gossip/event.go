package gossip

import (
	"fmt"

	"go.uber.org/zap"
)

// EventHandler encodes, decodes and handles one kind of application
// event carried on EventMessages. Handle runs on the State's Executor,
// never under the protocol lock.
type EventHandler interface {
	Encode(v any) ([]byte, error)
	Decode(payload []byte) (any, error)
	Handle(from Member, v any)
}

// RawEvent is an EventHandler for plain byte payloads.
type RawEvent func(from Member, payload []byte)

func (RawEvent) Encode(v any) ([]byte, error) {
	switch b := v.(type) {
	case []byte:
		return b, nil
	case string:
		return []byte(b), nil
	default:
		return nil, fmt.Errorf("raw event: unsupported value %T", v)
	}
}

func (RawEvent) Decode(payload []byte) (any, error) {
	return payload, nil
}

func (f RawEvent) Handle(from Member, v any) {
	f(from, v.([]byte))
}

type eventTable struct {
	handlers map[uint8]EventHandler
	capacity int
}

func newEventTable(capacity int) *eventTable {
	return &eventTable{handlers: make(map[uint8]EventHandler, capacity), capacity: capacity}
}

// RegisterEvent installs the handler for kind, replacing any earlier one.
func (s *State) RegisterEvent(kind uint8, h EventHandler) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.events.handlers[kind]; !ok && len(s.events.handlers) >= s.events.capacity {
		return fmt.Errorf("events (%d): %w", s.events.capacity, ErrCapacityExceeded)
	}
	s.events.handlers[kind] = h
	return nil
}

// SendEvent encodes v with the handler registered for kind and sends it
// to the next round-robin peer, with the usual piggybacked updates.
func (s *State) SendEvent(kind uint8, v any) error {
	s.mu.Lock()
	h, ok := s.events.handlers[kind]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("event kind %d: %w", kind, ErrNotFound)
	}

	payload, err := h.Encode(v)
	if err != nil {
		return fmt.Errorf("encode event kind %d: %w", kind, err)
	}

	s.mu.Lock()
	defer s.unlock()

	peer, ok := s.registry.RetrieveRoundRobin(s.selfID())
	if !ok {
		return fmt.Errorf("no peer for event: %w", ErrNotFound)
	}
	msg := s.buildGossipMessage(EventMessage)
	msg.Event = &Event{Kind: kind, Payload: payload}
	s.send(s.registry.member(peer).Addr, msg)
	return nil
}

// handleEvent queues the registered handler for an inbound event. It
// runs once the protocol lock is released.
func (s *State) handleEvent(msg *Message) {
	if msg.Event == nil {
		s.log.Warn("event message without payload", zap.String("sender", msg.SenderID))
		return
	}
	h, ok := s.events.handlers[msg.Event.Kind]
	if !ok {
		s.log.Debug("no handler for event", zap.Uint8("kind", msg.Event.Kind))
		return
	}

	from := msg.Sender()
	payload := append([]byte(nil), msg.Event.Payload...)
	kind := msg.Event.Kind
	s.pending = append(s.pending, func() {
		v, err := h.Decode(payload)
		if err != nil {
			s.log.Warn("dropping undecodable event", zap.Uint8("kind", kind), zap.Error(err))
			return
		}
		h.Handle(from, v)
	})
}

package codec

import (
	"fmt"

	"swimd/internal/gossip"
)

type wireMember struct {
	UUID        *string `json:"uuid" codec:"uuid"`
	URI         string  `json:"uri" codec:"uri"`
	Status      uint8   `json:"status" codec:"status"`
	Incarnation uint64  `json:"incarnation" codec:"incarnation"`
}

type wireEvent struct {
	Kind    uint8  `json:"kind" codec:"kind"`
	Payload []byte `json:"payload" codec:"payload"`
}

// wireMessage is the on-the-wire layout. Readers find "message" by key,
// not by position.
type wireMessage struct {
	Message     uint8        `json:"message" codec:"message"`
	UUID        *string      `json:"uuid" codec:"uuid"`
	URI         string       `json:"uri" codec:"uri"`
	Status      uint8        `json:"status" codec:"status"`
	Incarnation uint64       `json:"incarnation" codec:"incarnation"`
	Updates     []wireMember `json:"updates" codec:"updates"`
	Event       *wireEvent   `json:"event,omitempty" codec:"event,omitempty"`
}

// optionalID maps an empty id to null.
func optionalID(id string) *string {
	if id == "" {
		return nil
	}
	return &id
}

func uri(a gossip.Address) string {
	if a.IsZero() {
		return ""
	}
	return a.String()
}

func toWire(m *gossip.Message) *wireMessage {
	w := &wireMessage{
		Message:     uint8(m.Type),
		UUID:        optionalID(m.SenderID),
		URI:         uri(m.SenderAddr),
		Status:      uint8(m.SenderStatus),
		Incarnation: m.SenderIncarnation,
		Updates:     make([]wireMember, 0, len(m.Updates)),
	}
	for _, u := range m.Updates {
		w.Updates = append(w.Updates, wireMember{
			UUID:        optionalID(u.ID),
			URI:         uri(u.Addr),
			Status:      uint8(u.Status),
			Incarnation: u.Incarnation,
		})
	}
	if m.Event != nil {
		w.Event = &wireEvent{Kind: m.Event.Kind, Payload: m.Event.Payload}
	}
	return w
}

func parseStatus(s uint8) (gossip.Status, error) {
	st := gossip.Status(s)
	if st > gossip.Confirmed {
		return 0, fmt.Errorf("status %d: %w", s, gossip.ErrDecode)
	}
	return st, nil
}

func parseURI(s string) (gossip.Address, error) {
	if s == "" {
		return gossip.Address{}, nil
	}
	a, err := gossip.ParseURI(s)
	if err != nil {
		return gossip.Address{}, fmt.Errorf("%v: %w", err, gossip.ErrDecode)
	}
	return a, nil
}

func fromWire(w *wireMessage) (*gossip.Message, error) {
	t := gossip.MessageType(w.Message)
	if !t.Known() {
		t = gossip.UnknownMessage
	}
	status, err := parseStatus(w.Status)
	if err != nil {
		return nil, err
	}
	addr, err := parseURI(w.URI)
	if err != nil {
		return nil, err
	}

	m := &gossip.Message{
		Type:              t,
		SenderAddr:        addr,
		SenderStatus:      status,
		SenderIncarnation: w.Incarnation,
	}
	if w.UUID != nil {
		m.SenderID = *w.UUID
	}
	for i, u := range w.Updates {
		st, err := parseStatus(u.Status)
		if err != nil {
			return nil, fmt.Errorf("update %d: %w", i, err)
		}
		a, err := parseURI(u.URI)
		if err != nil {
			return nil, fmt.Errorf("update %d: %w", i, err)
		}
		member := gossip.Member{Addr: a, Status: st, Incarnation: u.Incarnation}
		if u.UUID != nil {
			member.ID = *u.UUID
		}
		m.Updates = append(m.Updates, member)
	}
	if w.Event != nil {
		m.Event = &gossip.Event{Kind: w.Event.Kind, Payload: w.Event.Payload}
	}
	return m, nil
}

package gossip

import (
	"errors"
	"fmt"
	"net/netip"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"swimd/internal/clock"
)

// memoCodec encodes a message as a key into a table of copies, so tests
// can inspect exactly what was sent without a real wire format.
type memoCodec struct {
	mu   sync.Mutex
	msgs map[string]*Message
	next int
}

func newMemoCodec() *memoCodec {
	return &memoCodec{msgs: make(map[string]*Message)}
}

func cloneMessage(m *Message) *Message {
	cp := *m
	cp.Updates = append([]Member(nil), m.Updates...)
	if m.Event != nil {
		ev := *m.Event
		ev.Payload = append([]byte(nil), m.Event.Payload...)
		cp.Event = &ev
	}
	return &cp
}

func (c *memoCodec) Encode(m *Message) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.next++
	key := strconv.Itoa(c.next)
	c.msgs[key] = cloneMessage(m)
	return []byte(key), nil
}

func (c *memoCodec) Decode(b []byte) (*Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.msgs[string(b)]
	if !ok {
		return nil, fmt.Errorf("unknown key %q: %w", b, ErrDecode)
	}
	return cloneMessage(m), nil
}

func (c *memoCodec) DecodeType(b []byte) MessageType {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.msgs[string(b)]
	if !ok {
		return MalformedMessage
	}
	return m.Type
}

type sent struct {
	To  Address
	Msg *Message
	Raw []byte
}

// recorder is a Transport that keeps everything sent through it.
type recorder struct {
	mu    sync.Mutex
	codec *memoCodec
	out   []sent
	err   error
}

func (r *recorder) Send(to Address, payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	m, err := r.codec.Decode(payload)
	if err != nil {
		return err
	}
	r.out = append(r.out, sent{To: to, Msg: m, Raw: payload})
	return nil
}

// take returns and clears the outbox.
func (r *recorder) take() []sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.out
	r.out = nil
	return out
}

func ofType(out []sent, t MessageType) []sent {
	var res []sent
	for _, s := range out {
		if s.Msg.Type == t {
			res = append(res, s)
		}
	}
	return res
}

func addr(port uint16) Address {
	return AddressFrom(netip.AddrPortFrom(netip.MustParseAddr("127.0.0.1"), port))
}

func testOptions() Options {
	opts := DefaultOptions()
	opts.SuspectTimeout = 5 * time.Second
	return opts
}

type testNode struct {
	*State
	addr Address
	out  *recorder
}

// cluster is a set of States sharing a manual clock and codec, with
// explicit, step-by-step delivery.
type cluster struct {
	t     *testing.T
	opts  Options
	codec *memoCodec
	clock *clock.Manual
	nodes map[Address]*testNode
}

func newCluster(t *testing.T, opts Options) *cluster {
	return &cluster{
		t:     t,
		opts:  opts,
		codec: newMemoCodec(),
		clock: clock.NewManual(1_000_000),
		nodes: make(map[Address]*testNode),
	}
}

func (c *cluster) add(id string, port uint16) *testNode {
	c.t.Helper()
	rec := &recorder{codec: c.codec}
	s, err := New(Member{ID: id, Addr: addr(port)}, c.opts, Deps{
		Clock:     c.clock,
		Random:    NewRandom(uint64(port)),
		Codec:     c.codec,
		Transport: rec,
		Logger:    zaptest.NewLogger(c.t),
	})
	require.NoError(c.t, err)
	n := &testNode{State: s, addr: addr(port), out: rec}
	c.nodes[n.addr] = n
	return n
}

// deliver hands every datagram in from's outbox to its addressee and
// returns what was delivered. Datagrams to unknown addresses are lost.
func (c *cluster) deliver(from *testNode) []sent {
	out := from.out.take()
	for _, s := range out {
		if to, ok := c.nodes[s.To]; ok {
			to.HandlePacket(s.Raw, from.addr)
		}
	}
	return out
}

// introduce makes n aware of the given members as if it had received
// gossip about them.
func introduce(n *testNode, members ...Member) {
	n.mu.Lock()
	defer n.unlock()
	for _, m := range members {
		n.reconcile(m)
	}
}

// activeMember returns a copy of n's active record for id.
func activeMember(t *testing.T, s *State, id string) Member {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.registry.FindByID(id)
	require.True(t, ok, "member %s not active", id)
	m, _ := s.registry.Get(h)
	return m
}

var errSendFailed = errors.New("send failed")

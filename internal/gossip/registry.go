package gossip

import (
	"fmt"
	"time"

	"swimd/internal/clock"
)

// Handle is a stable reference to a member record. The generation
// changes every time a slot is reused, so a handle kept past the
// record's lifetime fails lookups.
type Handle struct {
	slot uint32
	gen  uint32
}

// NoHandle is the zero Handle; it never resolves.
var NoHandle Handle

// Valid reports whether h was ever issued.
func (h Handle) Valid() bool {
	return h.gen != 0
}

func (h Handle) String() string {
	return fmt.Sprintf("#%d.%d", h.slot, h.gen)
}

type arenaSlot struct {
	member Member
	gen    uint32
	used   bool
}

// arena stores every member record, active or confirmed.
type arena struct {
	slots []arenaSlot
	free  []uint32
}

func (a *arena) alloc(m Member) Handle {
	var idx uint32
	if n := len(a.free); n > 0 {
		idx = a.free[n-1]
		a.free = a.free[:n-1]
	} else {
		a.slots = append(a.slots, arenaSlot{})
		idx = uint32(len(a.slots) - 1)
	}
	s := &a.slots[idx]
	s.gen++
	if s.gen == 0 {
		s.gen = 1
	}
	s.used = true
	s.member = m
	return Handle{slot: idx, gen: s.gen}
}

func (a *arena) get(h Handle) *Member {
	if !h.Valid() || int(h.slot) >= len(a.slots) {
		return nil
	}
	s := &a.slots[h.slot]
	if !s.used || s.gen != h.gen {
		return nil
	}
	return &s.member
}

func (a *arena) release(h Handle) {
	if a.get(h) == nil {
		return
	}
	s := &a.slots[h.slot]
	s.used = false
	s.member = Member{}
	a.free = append(a.free, h.slot)
}

// Registry owns the known members: an ordered active list, a bounded
// confirmed list and the round-robin index permutation over the active
// list. Not safe for concurrent use; State serializes access.
type Registry struct {
	arena     arena
	active    []Handle
	confirmed []Handle
	indices   []int // permutation of [0, len(active))
	cursor    int

	maxActive    int
	maxConfirmed int
	suspectAfter time.Duration
	legacyInsert bool

	clock   clock.Clock
	rand    Random
	updates *UpdateBuffer
}

// NewRegistry creates a registry. updates may be nil; when set, every
// removal keeps its entries consistent.
func NewRegistry(opts Options, c clock.Clock, r Random, updates *UpdateBuffer) *Registry {
	return &Registry{
		active:       make([]Handle, 0, opts.MaxMembers),
		confirmed:    make([]Handle, 0, opts.MaxConfirmed),
		indices:      make([]int, 0, opts.MaxMembers),
		maxActive:    opts.MaxMembers,
		maxConfirmed: opts.MaxConfirmed,
		suspectAfter: opts.SuspectTimeout,
		legacyInsert: opts.InsertStatusFromIncarnation,
		clock:        c,
		rand:         r,
		updates:      updates,
	}
}

// Len returns the number of active members.
func (r *Registry) Len() int {
	return len(r.active)
}

// ConfirmedLen returns the number of confirmed members.
func (r *Registry) ConfirmedLen() int {
	return len(r.confirmed)
}

// Get returns a copy of the member behind h.
func (r *Registry) Get(h Handle) (Member, bool) {
	m := r.arena.get(h)
	if m == nil {
		return Member{}, false
	}
	return *m, true
}

// Update applies fn to the member behind h in place.
func (r *Registry) Update(h Handle, fn func(*Member)) bool {
	m := r.arena.get(h)
	if m == nil {
		return false
	}
	fn(m)
	return true
}

// member returns the live record behind h, or nil.
func (r *Registry) member(h Handle) *Member {
	return r.arena.get(h)
}

// Active returns the active handles in storage order.
func (r *Registry) Active() []Handle {
	return append([]Handle(nil), r.active...)
}

// ConfirmedHandles returns the confirmed handles, oldest first.
func (r *Registry) ConfirmedHandles() []Handle {
	return append([]Handle(nil), r.confirmed...)
}

// Find looks a candidate up among the active members, by id first.
// Failing that, an active member whose id is still unknown matches on
// full address (family, port and host) and adopts the candidate's id.
func (r *Registry) Find(candidate Member) (Handle, bool) {
	if h, ok := r.FindByID(candidate.ID); ok {
		return h, true
	}
	for _, h := range r.active {
		m := r.arena.get(h)
		if m.ID == "" && m.Addr.Compare(candidate.Addr) == MatchAll {
			m.ID = candidate.ID
			return h, true
		}
	}
	return NoHandle, false
}

// FindByID looks an active member up by id only.
func (r *Registry) FindByID(id string) (Handle, bool) {
	if id == "" {
		return NoHandle, false
	}
	for _, h := range r.active {
		if r.arena.get(h).ID == id {
			return h, true
		}
	}
	return NoHandle, false
}

// FindByAddress looks an active member up by full address match,
// whether or not its id is known.
func (r *Registry) FindByAddress(addr Address) (Handle, bool) {
	for _, h := range r.active {
		if r.arena.get(h).Addr.Compare(addr) == MatchAll {
			return h, true
		}
	}
	return NoHandle, false
}

// FindConfirmed looks a confirmed member up by id.
func (r *Registry) FindConfirmed(id string) (Handle, bool) {
	if id == "" {
		return NoHandle, false
	}
	for _, h := range r.confirmed {
		if r.arena.get(h).ID == id {
			return h, true
		}
	}
	return NoHandle, false
}

// Add inserts a new active member and appends its round-robin index.
// One slot is always kept free, so at most MaxMembers-1 members fit.
func (r *Registry) Add(m Member) (Handle, error) {
	if len(r.active)+1 >= r.maxActive {
		return NoHandle, fmt.Errorf("active members (%d): %w", r.maxActive, ErrCapacityExceeded)
	}

	rec := Member{
		ID:                m.ID,
		Addr:              m.Addr,
		Status:            m.Status,
		Incarnation:       m.Incarnation,
		SuspicionDeadline: clock.Deadline(r.clock, r.suspectAfter),
	}
	if r.legacyInsert {
		rec.Status = Confirmed
		if m.Incarnation < uint64(Confirmed) {
			rec.Status = Status(m.Incarnation)
		}
	}

	h := r.arena.alloc(rec)
	r.active = append(r.active, h)
	r.indexAdd()
	return h, nil
}

// AddConfirmed appends a member to the confirmed list, evicting the
// oldest confirmed record when the list is full.
func (r *Registry) AddConfirmed(m Member) Handle {
	if len(r.confirmed) >= r.maxConfirmed {
		r.evictOldestConfirmed()
	}
	m.SuspicionDeadline = 0
	h := r.arena.alloc(m)
	r.confirmed = append(r.confirmed, h)
	return h
}

func (r *Registry) evictOldestConfirmed() {
	oldest := r.confirmed[0]
	r.confirmed = append(r.confirmed[:0], r.confirmed[1:]...)
	if r.updates != nil {
		r.updates.Remove(oldest)
	}
	r.arena.release(oldest)
}

// position returns the storage position of h in the active list.
func (r *Registry) position(h Handle) int {
	for i, a := range r.active {
		if a == h {
			return i
		}
	}
	return -1
}

// RemoveAndCompact removes the active member at position index by
// shifting later members left. Storage order is preserved because the
// index permutation refers to positions. The record itself is released
// and its update entry dropped.
func (r *Registry) RemoveAndCompact(index int) {
	if index < 0 || index >= len(r.active) {
		return
	}
	h := r.active[index]
	r.detach(index)
	if r.updates != nil {
		r.updates.Remove(h)
	}
	r.arena.release(h)
}

// detach shift-removes position index from the active list and fixes
// the index permutation, without touching the record.
func (r *Registry) detach(index int) {
	copy(r.active[index:], r.active[index+1:])
	r.active = r.active[:len(r.active)-1]
	r.indexRemove(index)
}

// Promote moves an active member to the confirmed list. The confirmed
// copy gets a fresh handle and the update entry is repointed to it in
// the same step. Promoting a handle that is not active is a no-op.
func (r *Registry) Promote(h Handle) (Handle, bool) {
	index := r.position(h)
	if index < 0 {
		return NoHandle, false
	}
	m := *r.arena.get(h)
	r.detach(index)

	if len(r.confirmed) >= r.maxConfirmed {
		r.evictOldestConfirmed()
	}
	m.SuspicionDeadline = 0
	nh := r.arena.alloc(m)
	r.confirmed = append(r.confirmed, nh)

	if r.updates != nil {
		r.updates.Repoint(h, nh)
	}
	r.arena.release(h)
	return nh, true
}

// Drop removes an active member without confirming it, releasing the
// record and its update entry.
func (r *Registry) Drop(h Handle) bool {
	index := r.position(h)
	if index < 0 {
		return false
	}
	r.RemoveAndCompact(index)
	return true
}

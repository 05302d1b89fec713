package gossip

import (
	"fmt"
	"sort"
)

// update is one fact worth gossiping: a member record and how many
// times it has been piggybacked.
type update struct {
	member Handle
	count  int
}

// UpdateBuffer is the bounded set of members whose state gets
// piggybacked on outgoing messages, least-disseminated first.
// At most one entry exists per member handle.
type UpdateBuffer struct {
	entries  []update
	capacity int
}

// NewUpdateBuffer creates an update buffer holding at most capacity entries.
func NewUpdateBuffer(capacity int) *UpdateBuffer {
	return &UpdateBuffer{
		entries:  make([]update, 0, capacity),
		capacity: capacity,
	}
}

// Len returns the number of entries.
func (u *UpdateBuffer) Len() int {
	return len(u.entries)
}

// Register adds an entry for h with a zero dissemination count.
// Registering a member twice is a no-op.
func (u *UpdateBuffer) Register(h Handle) error {
	if _, ok := u.Find(h); ok {
		return nil
	}
	if len(u.entries) >= u.capacity {
		return fmt.Errorf("updates (%d): %w", u.capacity, ErrCapacityExceeded)
	}
	u.entries = append(u.entries, update{member: h})
	return nil
}

// Find returns the position of the entry for h.
func (u *UpdateBuffer) Find(h Handle) (int, bool) {
	for i, e := range u.entries {
		if e.member == h {
			return i, true
		}
	}
	return -1, false
}

// Count returns the dissemination count of h's entry.
func (u *UpdateBuffer) Count(h Handle) (int, bool) {
	i, ok := u.Find(h)
	if !ok {
		return 0, false
	}
	return u.entries[i].count, true
}

// Repoint moves the entry for old onto replacement, keeping its count.
func (u *UpdateBuffer) Repoint(old, replacement Handle) bool {
	i, ok := u.Find(old)
	if !ok {
		return false
	}
	u.entries[i].member = replacement
	return true
}

// Reset zeroes the dissemination count of h's entry so a changed
// member is gossiped again from the front of the queue.
func (u *UpdateBuffer) Reset(h Handle) bool {
	i, ok := u.Find(h)
	if !ok {
		return false
	}
	u.entries[i].count = 0
	return true
}

// Remove drops the entry for h, preserving the order of the rest.
func (u *UpdateBuffer) Remove(h Handle) bool {
	i, ok := u.Find(h)
	if !ok {
		return false
	}
	copy(u.entries[i:], u.entries[i+1:])
	u.entries = u.entries[:len(u.entries)-1]
	return true
}

// Select returns up to limit entries with the lowest dissemination
// counts and increments their counts. The buffer is stable-sorted in
// place, so ties keep their previous relative order and selection
// rotates fairly over time. Entries whose member id is still unknown
// are skipped; eligible decides that.
func (u *UpdateBuffer) Select(limit int, eligible func(Handle) bool) []Handle {
	sort.SliceStable(u.entries, func(i, j int) bool {
		return u.entries[i].count < u.entries[j].count
	})

	out := make([]Handle, 0, limit)
	for i := 0; i < len(u.entries) && len(out) < limit; i++ {
		if !eligible(u.entries[i].member) {
			continue
		}
		u.entries[i].count++
		out = append(out, u.entries[i].member)
	}
	return out
}

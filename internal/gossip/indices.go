package gossip

// indexAdd appends the position of the member just added to the
// active list.
func (r *Registry) indexAdd() {
	r.indices = append(r.indices, len(r.active)-1)
}

// indexRemove drops the entry for a removed position and renumbers the
// positions that shifted left, keeping indices a permutation of
// [0, len(active)). The cursor keeps pointing at the same next member.
func (r *Registry) indexRemove(position int) {
	at := -1
	for i, p := range r.indices {
		if p == position {
			at = i
			break
		}
	}
	if at < 0 {
		return
	}
	copy(r.indices[at:], r.indices[at+1:])
	r.indices = r.indices[:len(r.indices)-1]
	for i, p := range r.indices {
		if p > position {
			r.indices[i] = p - 1
		}
	}

	if at < r.cursor {
		r.cursor--
	}
	if r.cursor >= len(r.indices) {
		r.cursor = 0
	}
}

// shuffle reorders the permutation with Fisher-Yates.
func (r *Registry) shuffle() {
	for i := len(r.indices) - 1; i > 0; i-- {
		j := r.rand.Intn(i + 1)
		r.indices[i], r.indices[j] = r.indices[j], r.indices[i]
	}
}

// Indices returns a copy of the current round-robin permutation.
func (r *Registry) Indices() []int {
	return append([]int(nil), r.indices...)
}

// RetrieveRoundRobin returns the next active member to ping, skipping
// selfID. The permutation is reshuffled each time the cursor wraps.
// It returns false when no member other than self exists.
func (r *Registry) RetrieveRoundRobin(selfID string) (Handle, bool) {
	n := len(r.indices)
	// A wrap reshuffles mid-scan; after it, n more steps cover every
	// position of the new permutation.
	for step := 0; step < 2*n; step++ {
		h := r.active[r.indices[r.cursor]]
		r.cursor = (r.cursor + 1) % n
		if r.cursor == 0 {
			r.shuffle()
		}

		if m := r.arena.get(h); m.ID == "" || m.ID != selfID {
			return h, true
		}
	}
	return NoHandle, false
}

// Sample picks up to k distinct active members at random, skipping any
// handle in exclude and any member whose id equals selfID.
func (r *Registry) Sample(k int, selfID string, exclude ...Handle) []Handle {
	eligible := make([]Handle, 0, len(r.active))
	for _, h := range r.active {
		if containsHandle(exclude, h) {
			continue
		}
		if m := r.arena.get(h); m.ID != "" && m.ID == selfID {
			continue
		}
		eligible = append(eligible, h)
	}

	if k > len(eligible) {
		k = len(eligible)
	}
	// Partial Fisher-Yates: the first k slots end up a uniform sample.
	for i := 0; i < k; i++ {
		j := i + r.rand.Intn(len(eligible)-i)
		eligible[i], eligible[j] = eligible[j], eligible[i]
	}
	return eligible[:k]
}

func containsHandle(hs []Handle, h Handle) bool {
	for _, x := range hs {
		if x == h {
			return true
		}
	}
	return false
}

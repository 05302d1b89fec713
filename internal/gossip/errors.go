package gossip

import "errors"

var (
	// ErrCapacityExceeded is returned when a bounded table is full.
	// It is backpressure, never fatal: the caller logs and moves on.
	ErrCapacityExceeded = errors.New("capacity exceeded")
	// ErrNotFound is returned when a lookup misses.
	ErrNotFound = errors.New("not found")
	// ErrAnonymousMember is returned when an operation needs a member id
	// that has not been learned yet.
	ErrAnonymousMember = errors.New("member id unknown")
	// ErrDecode wraps malformed wire payloads.
	ErrDecode = errors.New("malformed message")
)

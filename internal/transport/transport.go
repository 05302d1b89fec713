// Package transport moves gossip datagrams: over UDP in production and
// over an in-memory network in tests.
package transport

import (
	"context"

	"swimd/internal/gossip"
)

// Handler receives one datagram. The payload buffer is reused after the
// handler returns.
type Handler func(payload []byte, from gossip.Address)

// Conn is a bound datagram endpoint.
type Conn interface {
	gossip.Transport
	// Serve delivers inbound datagrams to h until ctx is done or the
	// connection is closed.
	Serve(ctx context.Context, h Handler) error
	LocalAddress() gossip.Address
	Close() error
}

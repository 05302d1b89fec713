package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"

	"swimd/internal/gossip"
)

// readTimeout bounds each blocking read so Serve notices cancellation.
const readTimeout = 250 * time.Millisecond

// UDP is a Conn over a UDP socket.
type UDP struct {
	conn    *net.UDPConn
	bufSize int
	log     *zap.Logger
}

var _ Conn = (*UDP)(nil)

// ListenUDP binds bind ("ip:port"). bufSize is the largest datagram
// accepted; longer ones are truncated by the kernel and fail to decode.
func ListenUDP(bind string, bufSize int, log *zap.Logger) (*UDP, error) {
	laddr, err := net.ResolveUDPAddr("udp", bind)
	if err != nil {
		return nil, fmt.Errorf("resolve %q: %w", bind, err)
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, fmt.Errorf("listen %q: %w", bind, err)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &UDP{conn: conn, bufSize: bufSize, log: log}, nil
}

// Send writes one datagram. It never blocks on the peer.
func (u *UDP) Send(to gossip.Address, payload []byte) error {
	if _, err := u.conn.WriteToUDPAddrPort(payload, to.AddrPort()); err != nil {
		return fmt.Errorf("udp send to %s: %w", to, err)
	}
	return nil
}

// Serve reads datagrams until ctx is done. Reads happen outside any
// protocol lock; h is called once per datagram.
func (u *UDP) Serve(ctx context.Context, h Handler) error {
	buf := make([]byte, u.bufSize)
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		if err := u.conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
			return fmt.Errorf("set read deadline: %w", err)
		}
		n, from, err := u.conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			var ne net.Error
			switch {
			case errors.As(err, &ne) && ne.Timeout():
				continue
			case errors.Is(err, net.ErrClosed):
				return nil
			default:
				u.log.Warn("udp read failed", zap.Error(err))
				continue
			}
		}
		h(buf[:n], gossip.AddressFrom(from))
	}
}

// LocalAddress returns the bound address.
func (u *UDP) LocalAddress() gossip.Address {
	return gossip.AddressFrom(u.conn.LocalAddr().(*net.UDPAddr).AddrPort())
}

// Close closes the socket; a running Serve returns.
func (u *UDP) Close() error {
	return u.conn.Close()
}

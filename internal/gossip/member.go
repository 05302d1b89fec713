package gossip

import (
	"fmt"
	"net"
	"net/netip"
	"strconv"
)

// Status represents the state of a cluster member.
type Status uint8

const (
	Alive Status = iota
	Suspect
	Confirmed
)

// String returns the string representation of Status.
func (s Status) String() string {
	switch s {
	case Alive:
		return "ALIVE"
	case Suspect:
		return "SUSPECT"
	case Confirmed:
		return "CONFIRMED"
	default:
		return "UNKNOWN"
	}
}

// Family is the address family of a member endpoint.
type Family uint8

const (
	FamilyUnspecified Family = iota
	FamilyIPv4
	FamilyIPv6
)

// Address match bits returned by Address.Compare.
const (
	MatchFamily = 1 << iota
	MatchPort
	MatchHost

	MatchAll = MatchFamily | MatchPort | MatchHost
)

// Address is a datagram endpoint.
type Address struct {
	Family Family
	Host   netip.Addr
	Port   uint16
}

// AddressFrom builds an Address from a netip.AddrPort.
func AddressFrom(ap netip.AddrPort) Address {
	host := ap.Addr().Unmap()
	family := FamilyIPv6
	if host.Is4() {
		family = FamilyIPv4
	}
	if !host.IsValid() {
		family = FamilyUnspecified
	}
	return Address{Family: family, Host: host, Port: ap.Port()}
}

// ParseURI parses the "ip:port" textual form used on the wire.
func ParseURI(uri string) (Address, error) {
	host, port, err := net.SplitHostPort(uri)
	if err != nil {
		return Address{}, fmt.Errorf("invalid uri %q: %w", uri, err)
	}
	ip, err := netip.ParseAddr(host)
	if err != nil {
		return Address{}, fmt.Errorf("invalid uri host %q: %w", host, err)
	}
	p, err := strconv.ParseUint(port, 10, 16)
	if err != nil || p == 0 {
		return Address{}, fmt.Errorf("invalid uri port %q", port)
	}
	return AddressFrom(netip.AddrPortFrom(ip, uint16(p))), nil
}

// AddrPort returns the endpoint as a netip.AddrPort.
func (a Address) AddrPort() netip.AddrPort {
	return netip.AddrPortFrom(a.Host, a.Port)
}

// IsZero reports whether the address was never set.
func (a Address) IsZero() bool {
	return a.Family == FamilyUnspecified && !a.Host.IsValid() && a.Port == 0
}

// String returns the "ip:port" form. IPv6 hosts are bracketed.
func (a Address) String() string {
	if !a.Host.IsValid() {
		return ":" + strconv.Itoa(int(a.Port))
	}
	return a.AddrPort().String()
}

// Compare returns a bitmask of the fields on which a and b agree.
func (a Address) Compare(b Address) int {
	r := 0
	if a.Family == b.Family {
		r |= MatchFamily
	}
	if a.Port == b.Port {
		r |= MatchPort
	}
	if a.Host == b.Host {
		r |= MatchHost
	}
	return r
}

// Member represents a cluster member.
type Member struct {
	ID          string // empty until learned from the member itself
	Addr        Address
	Status      Status
	Incarnation uint64
	// SuspicionDeadline is the millisecond timestamp after which a
	// Suspect member is declared Confirmed.
	SuspicionDeadline uint64
}

// Anonymous reports whether the member's id is still unknown.
func (m Member) Anonymous() bool {
	return m.ID == ""
}

// String returns a short description for logs.
func (m Member) String() string {
	id := m.ID
	if id == "" {
		id = "?"
	}
	return fmt.Sprintf("%s@%s(%s,%d)", id, m.Addr, m.Status, m.Incarnation)
}

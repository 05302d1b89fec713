package gossip

// MessageType identifies a protocol message. The numeric values are
// part of the wire format.
type MessageType uint8

const (
	PingMessage MessageType = iota
	PingReqMessage
	AckMessage
	AliveMessage
	SuspectMessage
	ConfirmMessage
	EventMessage
	UnknownMessage
	MalformedMessage
)

// String returns the string representation of MessageType.
func (t MessageType) String() string {
	switch t {
	case PingMessage:
		return "PING"
	case PingReqMessage:
		return "PING_REQ"
	case AckMessage:
		return "ACK"
	case AliveMessage:
		return "ALIVE"
	case SuspectMessage:
		return "SUSPECT"
	case ConfirmMessage:
		return "CONFIRM"
	case EventMessage:
		return "EVENT"
	case MalformedMessage:
		return "MALFORMED"
	default:
		return "UNKNOWN"
	}
}

// Known reports whether t is a type the protocol handles.
func (t MessageType) Known() bool {
	return t <= EventMessage
}

// Event is an application payload carried by an EventMessage.
type Event struct {
	Kind    uint8
	Payload []byte
}

// Message is one datagram's worth of protocol state: the sender's own
// view of itself plus piggybacked member snapshots.
type Message struct {
	Type              MessageType
	SenderID          string
	SenderAddr        Address
	SenderStatus      Status
	SenderIncarnation uint64
	Updates           []Member
	Event             *Event
}

// Sender returns the sender as a member snapshot.
func (m *Message) Sender() Member {
	return Member{
		ID:          m.SenderID,
		Addr:        m.SenderAddr,
		Status:      m.SenderStatus,
		Incarnation: m.SenderIncarnation,
	}
}

// Codec converts messages to and from datagrams.
type Codec interface {
	Encode(m *Message) ([]byte, error)
	Decode(b []byte) (*Message, error)
	// DecodeType peeks at the message type without a full decode.
	// Payloads that cannot be read return MalformedMessage.
	DecodeType(b []byte) MessageType
}

// Transport sends datagrams. Delivery is best effort.
type Transport interface {
	Send(to Address, payload []byte) error
}

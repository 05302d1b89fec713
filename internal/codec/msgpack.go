package codec

import (
	"fmt"

	msgpack "github.com/hashicorp/go-msgpack/codec"

	"swimd/internal/gossip"
)

// Msgpack is the binary wire format.
type Msgpack struct{}

var _ gossip.Codec = Msgpack{}

var mh = &msgpack.MsgpackHandle{}

func (Msgpack) Encode(m *gossip.Message) ([]byte, error) {
	var out []byte
	if err := msgpack.NewEncoderBytes(&out, mh).Encode(toWire(m)); err != nil {
		return nil, fmt.Errorf("msgpack: %w", err)
	}
	return out, nil
}

func (Msgpack) Decode(b []byte) (*gossip.Message, error) {
	var w wireMessage
	if err := msgpack.NewDecoderBytes(b, mh).Decode(&w); err != nil {
		return nil, fmt.Errorf("msgpack: %v: %w", err, gossip.ErrDecode)
	}
	return fromWire(&w)
}

// typeOnly picks the "message" entry out of an encoded map. The other
// entries are skipped by the decoder; key order does not matter.
type typeOnly struct {
	Message *uint64 `codec:"message"`
}

// DecodeType checks for a map header, then decodes only the "message"
// entry.
func (Msgpack) DecodeType(b []byte) gossip.MessageType {
	if !isMap(b) {
		return gossip.MalformedMessage
	}
	var w typeOnly
	if err := msgpack.NewDecoderBytes(b, mh).Decode(&w); err != nil || w.Message == nil {
		return gossip.MalformedMessage
	}
	return classify(*w.Message)
}

// isMap reports whether b starts with a non-empty map header.
func isMap(b []byte) bool {
	if len(b) == 0 {
		return false
	}
	switch c := b[0]; {
	case c > 0x80 && c <= 0x8f:
		return true
	case c == 0xde:
		return len(b) >= 3
	case c == 0xdf:
		return len(b) >= 5
	}
	return false
}

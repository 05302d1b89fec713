package codec

import (
	"bytes"
	"encoding/json"
	"fmt"

	"swimd/internal/gossip"
)

// JSON is the text wire format.
type JSON struct{}

var _ gossip.Codec = JSON{}

func (JSON) Encode(m *gossip.Message) ([]byte, error) {
	return json.Marshal(toWire(m))
}

func (JSON) Decode(b []byte) (*gossip.Message, error) {
	var w wireMessage
	if err := json.Unmarshal(b, &w); err != nil {
		return nil, fmt.Errorf("json: %v: %w", err, gossip.ErrDecode)
	}
	return fromWire(&w)
}

// DecodeType scans top-level keys until it finds "message", skipping
// other values without interpreting them.
func (JSON) DecodeType(b []byte) gossip.MessageType {
	dec := json.NewDecoder(bytes.NewReader(b))
	if tok, err := dec.Token(); err != nil || tok != json.Delim('{') {
		return gossip.MalformedMessage
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return gossip.MalformedMessage
		}
		key, ok := tok.(string)
		if !ok {
			return gossip.MalformedMessage
		}
		if key != "message" {
			var skip json.RawMessage
			if err := dec.Decode(&skip); err != nil {
				return gossip.MalformedMessage
			}
			continue
		}
		var t uint64
		if err := dec.Decode(&t); err != nil {
			return gossip.MalformedMessage
		}
		return classify(t)
	}
	return gossip.MalformedMessage
}

// classify maps a non-negative wire type number to a MessageType.
// Numbers outside the known range are Unknown, never Malformed.
func classify(t uint64) gossip.MessageType {
	if t > uint64(gossip.EventMessage) {
		return gossip.UnknownMessage
	}
	return gossip.MessageType(t)
}

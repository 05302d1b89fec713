package codec

import (
	"fmt"

	"swimd/internal/gossip"
)

// New returns the codec registered under name: "json" or "msgpack".
func New(name string) (gossip.Codec, error) {
	switch name {
	case "json", "":
		return JSON{}, nil
	case "msgpack":
		return Msgpack{}, nil
	default:
		return nil, fmt.Errorf("unknown codec %q", name)
	}
}

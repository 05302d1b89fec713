package node

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/structpb"

	"swimd/internal/gossip"
)

func TestSnapshotProtoRoundTrip(t *testing.T) {
	self := gossip.Member{ID: "a", Addr: memAddr(1), Status: gossip.Alive, Incarnation: 3}
	snap := gossip.Snapshot{
		Self: self,
		Active: []gossip.Member{
			self,
			{ID: "b", Addr: memAddr(2), Status: gossip.Suspect, Incarnation: 1},
			{Addr: memAddr(3), Status: gossip.Alive},
		},
		Confirmed: []gossip.Member{{ID: "c", Addr: memAddr(4), Status: gossip.Confirmed, Incarnation: 9}},
	}

	got, err := protoToSnapshot(snapshotToProto(snap))
	require.NoError(t, err)
	assert.Equal(t, snap, got)
}

func TestProtoToSnapshot_Rejects(t *testing.T) {
	tests := []struct {
		name string
		pb   *structpb.Struct
	}{
		{name: "missing self", pb: &structpb.Struct{}},
		{name: "bad status", pb: &structpb.Struct{Fields: map[string]*structpb.Value{
			"self": structpb.NewStructValue(&structpb.Struct{Fields: map[string]*structpb.Value{
				"addr":   structpb.NewStringValue("127.0.0.1:1"),
				"status": structpb.NewStringValue("ZOMBIE"),
			}}),
		}}},
		{name: "bad addr", pb: &structpb.Struct{Fields: map[string]*structpb.Value{
			"self": structpb.NewStructValue(&structpb.Struct{Fields: map[string]*structpb.Value{
				"addr":   structpb.NewStringValue("nowhere"),
				"status": structpb.NewStringValue("ALIVE"),
			}}),
		}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := protoToSnapshot(tt.pb)
			assert.Error(t, err)
		})
	}
}

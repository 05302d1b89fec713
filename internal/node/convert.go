package node

import (
	"fmt"

	"google.golang.org/protobuf/types/known/structpb"

	"swimd/internal/gossip"
)

// memberToValue converts a member to a protobuf Struct value.
// Incarnations travel as JSON numbers and are exact below 2^53.
func memberToValue(m gossip.Member) *structpb.Value {
	return structpb.NewStructValue(&structpb.Struct{Fields: map[string]*structpb.Value{
		"id":          structpb.NewStringValue(m.ID),
		"addr":        structpb.NewStringValue(m.Addr.String()),
		"status":      structpb.NewStringValue(m.Status.String()),
		"incarnation": structpb.NewNumberValue(float64(m.Incarnation)),
	}})
}

func membersToValue(ms []gossip.Member) *structpb.Value {
	values := make([]*structpb.Value, 0, len(ms))
	for _, m := range ms {
		values = append(values, memberToValue(m))
	}
	return structpb.NewListValue(&structpb.ListValue{Values: values})
}

// snapshotToProto converts a membership snapshot to the admin response.
func snapshotToProto(s gossip.Snapshot) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"self":      memberToValue(s.Self),
		"active":    membersToValue(s.Active),
		"confirmed": membersToValue(s.Confirmed),
	}}
}

// protoToSnapshot is the inverse of snapshotToProto.
func protoToSnapshot(pb *structpb.Struct) (gossip.Snapshot, error) {
	var snap gossip.Snapshot
	self, err := protoToMember(pb.GetFields()["self"].GetStructValue())
	if err != nil {
		return snap, fmt.Errorf("self: %w", err)
	}
	snap.Self = self
	if snap.Active, err = protoToMembers(pb.GetFields()["active"]); err != nil {
		return snap, fmt.Errorf("active: %w", err)
	}
	if snap.Confirmed, err = protoToMembers(pb.GetFields()["confirmed"]); err != nil {
		return snap, fmt.Errorf("confirmed: %w", err)
	}
	return snap, nil
}

func protoToMembers(v *structpb.Value) ([]gossip.Member, error) {
	var out []gossip.Member
	for _, item := range v.GetListValue().GetValues() {
		m, err := protoToMember(item.GetStructValue())
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

func protoToMember(pb *structpb.Struct) (gossip.Member, error) {
	if pb == nil {
		return gossip.Member{}, fmt.Errorf("missing member")
	}
	f := pb.GetFields()
	addr, err := gossip.ParseURI(f["addr"].GetStringValue())
	if err != nil {
		return gossip.Member{}, err
	}
	st, err := statusFromString(f["status"].GetStringValue())
	if err != nil {
		return gossip.Member{}, err
	}
	return gossip.Member{
		ID:          f["id"].GetStringValue(),
		Addr:        addr,
		Status:      st,
		Incarnation: uint64(f["incarnation"].GetNumberValue()),
	}, nil
}

func statusFromString(s string) (gossip.Status, error) {
	for _, st := range []gossip.Status{gossip.Alive, gossip.Suspect, gossip.Confirmed} {
		if st.String() == s {
			return st, nil
		}
	}
	return 0, fmt.Errorf("unknown status %q", s)
}

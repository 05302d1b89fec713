package node

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"swimd/internal/gossip"
)

// Connection timeout
const dialTimeout = 5 * time.Second

// Client talks to a node's admin service.
type Client struct {
	cc   grpc.ClientConnInterface
	conn *grpc.ClientConn // nil when cc was supplied by the caller
}

// Dial connects to the admin service at addr.
func Dial(addr string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", addr, err)
	}
	return &Client{cc: conn, conn: conn}, nil
}

// NewClient wraps an existing connection.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Members fetches the node's membership view.
func (c *Client) Members(ctx context.Context) (gossip.Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+AdminServiceName+"/Members", &emptypb.Empty{}, out); err != nil {
		return gossip.Snapshot{}, err
	}
	return protoToSnapshot(out)
}

// Join asks the node to join the seed at uri.
func (c *Client) Join(ctx context.Context, uri string) error {
	ctx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	in := &structpb.Struct{Fields: map[string]*structpb.Value{"uri": structpb.NewStringValue(uri)}}
	return c.cc.Invoke(ctx, "/"+AdminServiceName+"/Join", in, new(emptypb.Empty))
}

// Close closes the connection if the client owns it.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

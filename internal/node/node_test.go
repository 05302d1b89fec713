package node

import (
	"context"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"swimd/internal/config"
	"swimd/internal/gossip"
	"swimd/internal/transport"
)

func memAddr(port uint16) gossip.Address {
	return gossip.AddressFrom(netip.AddrPortFrom(netip.MustParseAddr("127.0.0.1"), port))
}

func fastConfig(id string) config.Config {
	cfg := config.Default()
	cfg.NodeID = id
	cfg.AdminAddr = ""
	cfg.Protocol.ProtocolPeriod = 50 * time.Millisecond
	cfg.Protocol.PingReqPeriod = 20 * time.Millisecond
	cfg.Protocol.SweepInterval = 10 * time.Millisecond
	cfg.Protocol.SuspectTimeout = 500 * time.Millisecond
	return cfg
}

func startNode(t *testing.T, network *transport.Network, id string, port uint16, opts ...Option) *Node {
	t.Helper()
	ep, err := network.Listen(memAddr(port))
	require.NoError(t, err)

	opts = append([]Option{WithConn(ep), WithLogger(zaptest.NewLogger(t))}, opts...)
	n, err := NewNode(fastConfig(id), opts...)
	require.NoError(t, err)
	require.NoError(t, n.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		assert.NoError(t, n.Stop(ctx))
	})
	return n
}

func adminClient(t *testing.T, lis *bufconn.Listener) (*Client, *grpc.ClientConn) {
	t.Helper()
	dialer := grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	})
	c, err := Dial("passthrough:///bufnet", dialer)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c, c.conn
}

func ids(ms []gossip.Member) []string {
	out := make([]string, 0, len(ms))
	for _, m := range ms {
		out = append(out, m.ID)
	}
	return out
}

func TestNode_AdminJoinAndMembers(t *testing.T) {
	network := transport.NewNetwork(64)
	lis := bufconn.Listen(1 << 20)
	a := startNode(t, network, "a", 7001, WithAdminListener(lis))
	b := startNode(t, network, "b", 7002)

	client, _ := adminClient(t, lis)
	require.NoError(t, client.Join(context.Background(), b.Addr().String()))

	require.Eventually(t, func() bool {
		snap, err := client.Members(context.Background())
		if err != nil {
			return false
		}
		return assert.ObjectsAreEqual([]string{"a", "b"}, ids(snap.Active))
	}, 3*time.Second, 20*time.Millisecond)

	require.Eventually(t, func() bool {
		return len(b.State().Snapshot().Active) == 2
	}, 3*time.Second, 20*time.Millisecond)

	snap, err := client.Members(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "a", snap.Self.ID)
	assert.Equal(t, a.Addr(), snap.Self.Addr)
	assert.Equal(t, gossip.Alive, snap.Active[1].Status)
	assert.Empty(t, snap.Confirmed)
}

func TestNode_AdminJoinRejectsBadURI(t *testing.T) {
	network := transport.NewNetwork(8)
	lis := bufconn.Listen(1 << 20)
	startNode(t, network, "a", 7001, WithAdminListener(lis))
	client, _ := adminClient(t, lis)

	tests := []struct {
		name string
		uri  string
	}{
		{name: "empty", uri: ""},
		{name: "hostname", uri: "node-b:7946"},
		{name: "no port", uri: "10.0.0.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := client.Join(context.Background(), tt.uri)
			require.Error(t, err)
			assert.Equal(t, codes.InvalidArgument, status.Code(err))
		})
	}
}

func TestNode_Health(t *testing.T) {
	network := transport.NewNetwork(8)
	lis := bufconn.Listen(1 << 20)
	startNode(t, network, "a", 7001, WithAdminListener(lis))
	_, conn := adminClient(t, lis)

	resp, err := healthpb.NewHealthClient(conn).Check(context.Background(), &healthpb.HealthCheckRequest{Service: AdminServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.Status)
}

func TestNode_DetectsFailure(t *testing.T) {
	network := transport.NewNetwork(64)
	a := startNode(t, network, "a", 7001)
	b := startNode(t, network, "b", 7002)

	require.NoError(t, a.State().Join(b.Addr().String()))
	require.Eventually(t, func() bool {
		return len(a.State().Snapshot().Active) == 2
	}, 3*time.Second, 20*time.Millisecond)

	network.Isolate(b.Addr())
	require.Eventually(t, func() bool {
		return assert.ObjectsAreEqual([]string{"b"}, ids(a.State().Snapshot().Confirmed))
	}, 5*time.Second, 20*time.Millisecond)
}

func TestNewNode_InvalidConfig(t *testing.T) {
	cfg := fastConfig("a")
	cfg.Codec = "xml"
	_, err := NewNode(cfg, WithLogger(zaptest.NewLogger(t)))
	assert.Error(t, err)
}

func TestNode_StopWithoutStart(t *testing.T) {
	network := transport.NewNetwork(8)
	ep, err := network.Listen(memAddr(7001))
	require.NoError(t, err)
	n, err := NewNode(fastConfig("a"), WithConn(ep), WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	assert.NoError(t, n.Stop(context.Background()))
}

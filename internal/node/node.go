package node

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/panjf2000/ants/v2"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"swimd/internal/clock"
	"swimd/internal/codec"
	"swimd/internal/config"
	"swimd/internal/discovery"
	"swimd/internal/gossip"
	"swimd/internal/logging"
	"swimd/internal/telemetry"
	"swimd/internal/transport"
)

const (
	// eventWorkers bounds concurrently running event handlers.
	eventWorkers = 16
	// leaseTTL is the etcd registration lease in seconds.
	leaseTTL = 10
)

// Node represents a single member process.
type Node struct {
	cfg   config.Config
	log   *zap.Logger
	conn  transport.Conn
	state *gossip.State
	pool  *ants.Pool

	adminLis   net.Listener
	grpcServer *grpc.Server
	health     *health.Server
	metrics    *http.Server

	etcd *clientv3.Client
	reg  *discovery.Registration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option customises a Node.
type Option func(*nodeOptions)

type nodeOptions struct {
	conn     transport.Conn
	adminLis net.Listener
	log      *zap.Logger
	clock    clock.Clock
}

// WithConn uses c instead of binding a UDP socket.
func WithConn(c transport.Conn) Option {
	return func(o *nodeOptions) { o.conn = c }
}

// WithAdminListener serves the admin service on lis instead of AdminAddr.
func WithAdminListener(lis net.Listener) Option {
	return func(o *nodeOptions) { o.adminLis = lis }
}

// WithLogger uses log instead of building one from the configuration.
func WithLogger(log *zap.Logger) Option {
	return func(o *nodeOptions) { o.log = log }
}

// WithClock overrides the protocol clock.
func WithClock(c clock.Clock) Option {
	return func(o *nodeOptions) { o.clock = c }
}

// NewNode creates a node from cfg. Nothing runs until Start.
func NewNode(cfg config.Config, opts ...Option) (*Node, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	var o nodeOptions
	for _, opt := range opts {
		opt(&o)
	}

	log := o.log
	if log == nil {
		var err error
		if log, err = logging.New(cfg.LogLevel, cfg.LogFormat); err != nil {
			return nil, err
		}
	}

	wire, err := codec.New(cfg.Codec)
	if err != nil {
		return nil, err
	}

	conn := o.conn
	if conn == nil {
		udp, err := transport.ListenUDP(cfg.BindAddr, cfg.Protocol.BufferSize, log)
		if err != nil {
			return nil, err
		}
		conn = udp
	}

	advertise := conn.LocalAddress()
	if cfg.AdvertiseAddr != "" {
		if advertise, err = cfg.Advertise(); err != nil {
			conn.Close()
			return nil, err
		}
	}

	pool, err := ants.NewPool(eventWorkers, ants.WithPanicHandler(func(p any) {
		log.Error("event handler panicked", zap.Any("panic", p))
	}))
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("event pool: %w", err)
	}

	state, err := gossip.New(
		gossip.Member{ID: cfg.NodeID, Addr: advertise, Status: gossip.Alive},
		cfg.Protocol,
		gossip.Deps{
			Clock:     o.clock,
			Codec:     wire,
			Transport: conn,
			Logger:    log,
			Executor:  pool,
		},
	)
	if err != nil {
		pool.Release()
		conn.Close()
		return nil, err
	}

	return &Node{
		cfg:      cfg,
		log:      logging.Named(log, state.Self().ID),
		conn:     conn,
		state:    state,
		pool:     pool,
		adminLis: o.adminLis,
	}, nil
}

// State returns the protocol state.
func (n *Node) State() *gossip.State { return n.state }

// ID returns this node's member id.
func (n *Node) ID() string { return n.state.Self().ID }

// Addr returns the address peers use to reach this node.
func (n *Node) Addr() gossip.Address { return n.state.Self().Addr }

// Start launches the receive, tick and sweep loops, joins the seeds and
// starts the optional admin, metrics and etcd integrations. It returns
// once everything is running.
func (n *Node) Start(ctx context.Context) error {
	ctx, n.cancel = context.WithCancel(ctx)

	n.wg.Add(3)
	go func() {
		defer n.wg.Done()
		if err := n.conn.Serve(ctx, n.state.HandlePacket); err != nil {
			n.log.Error("receive loop stopped", zap.Error(err))
		}
	}()
	go n.loop(ctx, n.cfg.Protocol.ProtocolPeriod, n.state.Tick)
	go n.loop(ctx, n.cfg.Protocol.SweepInterval, n.state.Sweep)

	if err := n.startAdmin(); err != nil {
		return err
	}
	if err := n.startMetrics(); err != nil {
		return err
	}

	seeds := append([]string(nil), n.cfg.Seeds...)
	if len(n.cfg.EtcdEndpoints) > 0 {
		found, err := n.startDiscovery(ctx)
		if err != nil {
			return err
		}
		seeds = append(seeds, found...)
	}
	for _, seed := range seeds {
		if err := n.state.Join(seed); err != nil {
			n.log.Warn("seed not joined", zap.String("seed", seed), zap.Error(err))
		}
	}

	self := n.state.Self()
	n.log.Info("node started", zap.Stringer("addr", self.Addr), zap.Int("seeds", len(seeds)))
	return nil
}

// loop calls fn every period until ctx is done.
func (n *Node) loop(ctx context.Context, period time.Duration, fn func()) {
	defer n.wg.Done()
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}

func (n *Node) startAdmin() error {
	lis := n.adminLis
	if lis == nil {
		if n.cfg.AdminAddr == "" {
			return nil
		}
		var err error
		if lis, err = net.Listen("tcp", n.cfg.AdminAddr); err != nil {
			return fmt.Errorf("failed to listen on %s: %w", n.cfg.AdminAddr, err)
		}
	}

	n.grpcServer = grpc.NewServer()
	RegisterAdminServer(n.grpcServer, NewServer(n.state, n.log))
	n.health = health.NewServer()
	n.health.SetServingStatus(AdminServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(n.grpcServer, n.health)

	// Enable gRPC reflection for grpcurl
	reflection.Register(n.grpcServer)

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.log.Info("admin service listening", zap.Stringer("addr", lis.Addr()))
		if err := n.grpcServer.Serve(lis); err != nil {
			n.log.Error("admin service stopped", zap.Error(err))
		}
	}()
	return nil
}

func (n *Node) startMetrics() error {
	if n.cfg.MetricsAddr == "" {
		return nil
	}
	lis, err := net.Listen("tcp", n.cfg.MetricsAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", n.cfg.MetricsAddr, err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", telemetry.MetricsHandler())
	n.metrics = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		if err := n.metrics.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			n.log.Error("metrics server stopped", zap.Error(err))
		}
	}()
	return nil
}

// startDiscovery registers this node in etcd, returns the members already
// registered and keeps joining members that register later.
func (n *Node) startDiscovery(ctx context.Context) ([]string, error) {
	cli, err := discovery.NewClient(n.cfg.EtcdEndpoints)
	if err != nil {
		return nil, fmt.Errorf("etcd: %w", err)
	}
	n.etcd = cli

	self := n.state.Self()
	seeds, err := discovery.Seeds(ctx, cli, n.cfg.EtcdPrefix, self.ID, n.log)
	if err != nil {
		return nil, err
	}
	if n.reg, err = discovery.Register(ctx, cli, cli, n.cfg.EtcdPrefix, self.ID, self.Addr.String(), leaseTTL, n.log); err != nil {
		return nil, err
	}

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		discovery.Watch(ctx, cli, n.cfg.EtcdPrefix, self.ID, n.log, func(addr string) {
			if err := n.state.Join(addr); err != nil {
				n.log.Warn("discovered member not joined", zap.String("addr", addr), zap.Error(err))
			}
		})
	}()
	return seeds, nil
}

// Stop shuts the node down and waits for its goroutines. ctx bounds the
// graceful parts (metrics drain, lease revoke).
func (n *Node) Stop(ctx context.Context) error {
	var result *multierror.Error

	if n.cancel != nil {
		n.cancel()
	}
	if n.health != nil {
		n.health.Shutdown()
	}
	if n.grpcServer != nil {
		n.log.Info("stopping admin service")
		n.grpcServer.GracefulStop()
	}
	if n.metrics != nil {
		if err := n.metrics.Shutdown(ctx); err != nil {
			result = multierror.Append(result, fmt.Errorf("metrics: %w", err))
		}
	}
	if n.reg != nil {
		if err := n.reg.Close(ctx); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if n.etcd != nil {
		if err := n.etcd.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("etcd: %w", err))
		}
	}
	if err := n.conn.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("transport: %w", err))
	}

	n.wg.Wait()
	if err := n.pool.ReleaseTimeout(time.Second); err != nil {
		result = multierror.Append(result, fmt.Errorf("event pool: %w", err))
	}
	n.log.Info("node stopped")
	return result.ErrorOrNil()
}

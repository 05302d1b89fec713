// Command swimd runs one SWIM membership node.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"swimd/internal/config"
	"swimd/internal/logging"
	"swimd/internal/node"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "swimd:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, err := config.FromEnv(config.Default(), os.LookupEnv)
	if err != nil {
		return err
	}
	if err := parseFlags(&cfg, args); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	defer log.Sync()

	n, err := node.NewNode(cfg, node.WithLogger(log))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := n.Start(ctx); err != nil {
		_ = n.Stop(context.Background())
		return err
	}
	log.Info("swimd running", zap.String("id", n.ID()), zap.Stringer("addr", n.Addr()))

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return n.Stop(shutdownCtx)
}

// parseFlags overlays command-line flags on cfg. Flags win over SWIM_*
// environment variables.
func parseFlags(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("swimd", flag.ContinueOnError)
	fs.StringVar(&cfg.NodeID, "node-id", cfg.NodeID, "member id (generated when empty)")
	fs.StringVar(&cfg.BindAddr, "bind", cfg.BindAddr, "UDP address to listen on")
	fs.StringVar(&cfg.AdvertiseAddr, "advertise", cfg.AdvertiseAddr, "address peers use to reach this node (defaults to -bind)")
	seeds := fs.String("seeds", strings.Join(cfg.Seeds, ","), "comma-separated seed addresses (ip:port)")
	fs.StringVar(&cfg.AdminAddr, "admin", cfg.AdminAddr, "gRPC admin address (empty disables)")
	fs.StringVar(&cfg.MetricsAddr, "metrics", cfg.MetricsAddr, "Prometheus metrics address (empty disables)")
	etcd := fs.String("etcd", strings.Join(cfg.EtcdEndpoints, ","), "comma-separated etcd endpoints for discovery")
	fs.StringVar(&cfg.EtcdPrefix, "etcd-prefix", cfg.EtcdPrefix, "etcd key prefix for registrations")
	fs.StringVar(&cfg.Codec, "codec", cfg.Codec, "wire codec: json or msgpack")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "debug, info, warn or error")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "json or console")

	p := &cfg.Protocol
	fs.DurationVar(&p.ProtocolPeriod, "protocol-period", p.ProtocolPeriod, "failure detection period")
	fs.DurationVar(&p.PingReqPeriod, "ping-req-period", p.PingReqPeriod, "wait before asking helpers to ping the target")
	fs.DurationVar(&p.SuspectTimeout, "suspect-timeout", p.SuspectTimeout, "suspicion period before confirming a member dead")
	fs.DurationVar(&p.SweepInterval, "sweep-interval", p.SweepInterval, "timeout sweep interval")
	fs.IntVar(&p.MaxMembers, "max-members", p.MaxMembers, "active member capacity, self included")
	fs.IntVar(&p.GossipFanout, "fanout", p.GossipFanout, "members pinged per protocol period")
	fs.IntVar(&p.FailureDetectionGroup, "ping-req-group", p.FailureDetectionGroup, "helpers asked per indirect ping")

	if err := fs.Parse(args); err != nil {
		return err
	}

	var err error
	if cfg.Seeds, err = config.ParseSeeds(*seeds); err != nil {
		return err
	}
	cfg.EtcdEndpoints = config.ParseList(*etcd)
	return nil
}

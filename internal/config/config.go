package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"swimd/internal/gossip"
)

// Config holds the node configuration.
type Config struct {
	NodeID        string // empty: generate one
	BindAddr      string
	AdvertiseAddr string // empty: BindAddr
	Seeds         []string
	AdminAddr     string // gRPC admin service; empty disables
	MetricsAddr   string // Prometheus /metrics; empty disables
	EtcdEndpoints []string
	EtcdPrefix    string
	Codec         string
	LogLevel      string
	LogFormat     string
	Protocol      gossip.Options
}

// Default returns a configuration for a single local node.
func Default() Config {
	return Config{
		BindAddr:   "127.0.0.1:7946",
		AdminAddr:  "127.0.0.1:7947",
		EtcdPrefix: "/swimd/members/",
		Codec:      "json",
		LogLevel:   "info",
		LogFormat:  "json",
		Protocol:   gossip.DefaultOptions(),
	}
}

// ParseSeeds parses a comma-separated list of seed addresses in the format:
// "ip1:port1,ip2:port2"
func ParseSeeds(seedsStr string) ([]string, error) {
	seeds := []string{}
	for _, part := range strings.Split(seedsStr, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if _, err := gossip.ParseURI(part); err != nil {
			return nil, fmt.Errorf("invalid seed %q: %w", part, err)
		}
		seeds = append(seeds, part)
	}
	return seeds, nil
}

// ParseList splits a comma-separated list, dropping empty entries.
func ParseList(s string) []string {
	out := []string{}
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// FromEnv overlays SWIM_* variables read through lookup onto base.
func FromEnv(base Config, lookup func(string) (string, bool)) (Config, error) {
	c := base
	str := map[string]*string{
		"SWIM_NODE_ID":     &c.NodeID,
		"SWIM_BIND":        &c.BindAddr,
		"SWIM_ADVERTISE":   &c.AdvertiseAddr,
		"SWIM_ADMIN":       &c.AdminAddr,
		"SWIM_METRICS":     &c.MetricsAddr,
		"SWIM_ETCD_PREFIX": &c.EtcdPrefix,
		"SWIM_CODEC":       &c.Codec,
		"SWIM_LOG_LEVEL":   &c.LogLevel,
		"SWIM_LOG_FORMAT":  &c.LogFormat,
	}
	for key, dst := range str {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}

	if v, ok := lookup("SWIM_SEEDS"); ok {
		seeds, err := ParseSeeds(v)
		if err != nil {
			return Config{}, fmt.Errorf("SWIM_SEEDS: %w", err)
		}
		c.Seeds = seeds
	}
	if v, ok := lookup("SWIM_ETCD_ENDPOINTS"); ok {
		c.EtcdEndpoints = ParseList(v)
	}

	durations := map[string]*time.Duration{
		"SWIM_PROTOCOL_PERIOD": &c.Protocol.ProtocolPeriod,
		"SWIM_PING_REQ_PERIOD": &c.Protocol.PingReqPeriod,
		"SWIM_SUSPECT_TIMEOUT": &c.Protocol.SuspectTimeout,
		"SWIM_SWEEP_INTERVAL":  &c.Protocol.SweepInterval,
	}
	for key, dst := range durations {
		if v, ok := lookup(key); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				return Config{}, fmt.Errorf("%s: %w", key, err)
			}
			*dst = d
		}
	}

	ints := map[string]*int{
		"SWIM_MAX_MEMBERS":    &c.Protocol.MaxMembers,
		"SWIM_FANOUT":         &c.Protocol.GossipFanout,
		"SWIM_PING_REQ_GROUP": &c.Protocol.FailureDetectionGroup,
	}
	for key, dst := range ints {
		if v, ok := lookup(key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				return Config{}, fmt.Errorf("%s: %w", key, err)
			}
			*dst = n
		}
	}
	return c, nil
}

// Advertise returns the address other members should use to reach this
// node. It must be a concrete host: peers learn identities by address.
func (c *Config) Advertise() (gossip.Address, error) {
	raw := c.AdvertiseAddr
	if raw == "" {
		raw = c.BindAddr
	}
	a, err := gossip.ParseURI(raw)
	if err != nil {
		return gossip.Address{}, fmt.Errorf("advertise address: %w", err)
	}
	if a.Host.IsUnspecified() {
		return gossip.Address{}, fmt.Errorf("advertise address %s is unspecified; set an explicit advertise address", a)
	}
	return a, nil
}

// Validate checks the configuration as a whole.
func (c *Config) Validate() error {
	if err := c.Protocol.Validate(); err != nil {
		return err
	}
	if _, err := gossip.ParseURI(c.BindAddr); err != nil {
		return fmt.Errorf("bind address: %w", err)
	}
	if _, err := c.Advertise(); err != nil {
		return err
	}
	for _, s := range c.Seeds {
		if _, err := gossip.ParseURI(s); err != nil {
			return fmt.Errorf("seed: %w", err)
		}
	}
	switch c.Codec {
	case "json", "msgpack":
	default:
		return fmt.Errorf("unknown codec %q (expected json or msgpack)", c.Codec)
	}
	switch c.LogFormat {
	case "json", "console":
	default:
		return fmt.Errorf("unknown log format %q (expected json or console)", c.LogFormat)
	}
	if len(c.EtcdEndpoints) > 0 && c.EtcdPrefix == "" {
		return fmt.Errorf("etcd prefix is required with etcd endpoints")
	}
	return nil
}

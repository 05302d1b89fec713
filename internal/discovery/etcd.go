// Package discovery finds seed members through etcd. Each node keeps a
// leased key under a shared prefix whose value is its advertise address.
package discovery

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"

	"swimd/internal/gossip"
)

// NewClient dials etcd.
func NewClient(endpoints []string) (*clientv3.Client, error) {
	return clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
	})
}

// Registration is a live lease on this node's key.
type Registration struct {
	lease  clientv3.Lease
	id     clientv3.LeaseID
	key    string
	cancel context.CancelFunc
	done   chan struct{}
}

// Register writes prefix/id = addr under a lease of ttl seconds and keeps
// the lease alive until Close.
func Register(ctx context.Context, lease clientv3.Lease, kv clientv3.KV, prefix, id, addr string, ttl int64, log *zap.Logger) (*Registration, error) {
	if id == "" {
		return nil, fmt.Errorf("register: empty node id")
	}
	grant, err := lease.Grant(ctx, ttl)
	if err != nil {
		return nil, fmt.Errorf("grant lease: %w", err)
	}
	key := Key(prefix, id)
	if _, err := kv.Put(ctx, key, addr, clientv3.WithLease(grant.ID)); err != nil {
		return nil, fmt.Errorf("put %s: %w", key, err)
	}

	kaCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	ch, err := lease.KeepAlive(kaCtx, grant.ID)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("keepalive: %w", err)
	}

	r := &Registration{lease: lease, id: grant.ID, key: key, cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(r.done)
		for range ch {
		}
		if kaCtx.Err() == nil {
			log.Warn("etcd lease keepalive stopped", zap.String("key", key))
		}
	}()
	log.Info("registered in etcd", zap.String("key", key), zap.String("addr", addr), zap.Int64("ttl", ttl))
	return r, nil
}

// LeaseID returns the lease backing the registration.
func (r *Registration) LeaseID() clientv3.LeaseID { return r.id }

// Close stops the keepalive and revokes the lease, deleting the key.
func (r *Registration) Close(ctx context.Context) error {
	r.cancel()
	<-r.done
	if _, err := r.lease.Revoke(ctx, r.id); err != nil {
		return fmt.Errorf("revoke %s: %w", r.key, err)
	}
	return nil
}

// Key returns the etcd key for a node id.
func Key(prefix, id string) string {
	return path.Join(prefix, id)
}

// Seeds returns the addresses registered under prefix, excluding selfID.
// Values that are not valid addresses are skipped.
func Seeds(ctx context.Context, kv clientv3.KV, prefix, selfID string, log *zap.Logger) ([]string, error) {
	resp, err := kv.Get(ctx, dir(prefix), clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", prefix, err)
	}
	seeds := []string{}
	for _, item := range resp.Kvs {
		id, addr, ok := parse(prefix, selfID, item.Key, item.Value, log)
		if !ok {
			continue
		}
		log.Debug("discovered seed", zap.String("id", id), zap.String("addr", addr))
		seeds = append(seeds, addr)
	}
	sort.Strings(seeds)
	return seeds, nil
}

// Watch calls fn for every member that registers under prefix after the
// watch starts. It returns when ctx is done or the watch channel closes.
func Watch(ctx context.Context, w clientv3.Watcher, prefix, selfID string, log *zap.Logger, fn func(addr string)) {
	for resp := range w.Watch(ctx, dir(prefix), clientv3.WithPrefix()) {
		if err := resp.Err(); err != nil {
			log.Warn("etcd watch", zap.Error(err))
			continue
		}
		for _, ev := range resp.Events {
			if ev.Type != clientv3.EventTypePut || ev.Kv == nil {
				continue
			}
			if _, addr, ok := parse(prefix, selfID, ev.Kv.Key, ev.Kv.Value, log); ok {
				fn(addr)
			}
		}
	}
}

func dir(prefix string) string {
	return strings.TrimSuffix(prefix, "/") + "/"
}

func parse(prefix, selfID string, key, value []byte, log *zap.Logger) (string, string, bool) {
	id := strings.TrimPrefix(string(key), dir(prefix))
	if id == selfID {
		return "", "", false
	}
	addr := strings.TrimSpace(string(value))
	if _, err := gossip.ParseURI(addr); err != nil {
		log.Warn("skipping registered member", zap.String("id", id), zap.Error(err))
		return "", "", false
	}
	return id, addr, true
}

package discovery

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.etcd.io/etcd/api/v3/mvccpb"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap/zaptest"
)

type fakeKV struct {
	clientv3.KV
	mu   sync.Mutex
	kvs  []*mvccpb.KeyValue
	puts map[string]string
	err  error
}

func (f *fakeKV) Get(_ context.Context, key string, _ ...clientv3.OpOption) (*clientv3.GetResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &clientv3.GetResponse{Kvs: f.kvs}, nil
}

func (f *fakeKV) Put(_ context.Context, key, val string, _ ...clientv3.OpOption) (*clientv3.PutResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.puts == nil {
		f.puts = map[string]string{}
	}
	f.puts[key] = val
	return &clientv3.PutResponse{}, nil
}

type fakeLease struct {
	clientv3.Lease
	mu      sync.Mutex
	revoked []clientv3.LeaseID
}

func (f *fakeLease) Grant(_ context.Context, ttl int64) (*clientv3.LeaseGrantResponse, error) {
	return &clientv3.LeaseGrantResponse{ID: 42, TTL: ttl}, nil
}

func (f *fakeLease) KeepAlive(ctx context.Context, _ clientv3.LeaseID) (<-chan *clientv3.LeaseKeepAliveResponse, error) {
	ch := make(chan *clientv3.LeaseKeepAliveResponse)
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch, nil
}

func (f *fakeLease) Revoke(_ context.Context, id clientv3.LeaseID) (*clientv3.LeaseRevokeResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revoked = append(f.revoked, id)
	return &clientv3.LeaseRevokeResponse{}, nil
}

type fakeWatcher struct {
	clientv3.Watcher
	ch chan clientv3.WatchResponse
}

func (f *fakeWatcher) Watch(context.Context, string, ...clientv3.OpOption) clientv3.WatchChan {
	return f.ch
}

func kv(key, value string) *mvccpb.KeyValue {
	return &mvccpb.KeyValue{Key: []byte(key), Value: []byte(value)}
}

func TestSeeds(t *testing.T) {
	store := &fakeKV{kvs: []*mvccpb.KeyValue{
		kv("/swimd/members/b", "10.0.0.2:7946"),
		kv("/swimd/members/self", "10.0.0.1:7946"),
		kv("/swimd/members/a", "10.0.0.3:7946"),
		kv("/swimd/members/broken", "not-an-address"),
	}}

	seeds, err := Seeds(context.Background(), store, "/swimd/members/", "self", zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Equal(t, []string{"10.0.0.2:7946", "10.0.0.3:7946"}, seeds)
}

func TestSeeds_Error(t *testing.T) {
	store := &fakeKV{err: errors.New("unavailable")}
	_, err := Seeds(context.Background(), store, "/swimd/members", "self", zaptest.NewLogger(t))
	assert.Error(t, err)
}

func TestRegister(t *testing.T) {
	store := &fakeKV{}
	lease := &fakeLease{}

	reg, err := Register(context.Background(), lease, store, "/swimd/members/", "n1", "10.0.0.1:7946", 10, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Equal(t, clientv3.LeaseID(42), reg.LeaseID())
	assert.Equal(t, map[string]string{"/swimd/members/n1": "10.0.0.1:7946"}, store.puts)

	require.NoError(t, reg.Close(context.Background()))
	assert.Equal(t, []clientv3.LeaseID{42}, lease.revoked)
}

func TestRegister_EmptyID(t *testing.T) {
	_, err := Register(context.Background(), &fakeLease{}, &fakeKV{}, "/p", "", "10.0.0.1:7946", 10, zaptest.NewLogger(t))
	assert.Error(t, err)
}

func TestWatch(t *testing.T) {
	w := &fakeWatcher{ch: make(chan clientv3.WatchResponse, 1)}
	w.ch <- clientv3.WatchResponse{Events: []*clientv3.Event{
		{Type: clientv3.EventTypePut, Kv: kv("/swimd/members/self", "10.0.0.1:7946")},
		{Type: clientv3.EventTypePut, Kv: kv("/swimd/members/c", "10.0.0.4:7946")},
		{Type: clientv3.EventTypeDelete, Kv: kv("/swimd/members/d", "")},
	}}
	close(w.ch)

	var got []string
	done := make(chan struct{})
	go func() {
		defer close(done)
		Watch(context.Background(), w, "/swimd/members", "self", zaptest.NewLogger(t), func(addr string) {
			got = append(got, addr)
		})
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("watch did not return after the channel closed")
	}
	assert.Equal(t, []string{"10.0.0.4:7946"}, got)
}

func TestKey(t *testing.T) {
	assert.Equal(t, "/swimd/members/n1", Key("/swimd/members/", "n1"))
	assert.Equal(t, "/swimd/members/n1", Key("/swimd/members", "n1"))
}

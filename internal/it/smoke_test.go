package it

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"swimd/internal/config"
	"swimd/internal/gossip"
)

func newCluster(t *testing.T, size int, tune func(*config.Config)) *Cluster {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	c := NewCluster(zaptest.NewLogger(t), tune)
	t.Cleanup(func() { assert.NoError(t, c.Stop()) })
	require.NoError(t, c.StartCluster(context.Background(), size), "Failed to start cluster")
	return c
}

func ids(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("n%d", i+1)
	}
	return out
}

func TestCluster_Converges(t *testing.T) {
	c := newCluster(t, 5, nil)
	want := ids(5)

	require.Eventually(t, func() bool {
		for _, id := range want {
			active, _ := c.View(id)
			if !assert.ObjectsAreEqual(want, active) {
				return false
			}
		}
		return true
	}, 10*time.Second, 50*time.Millisecond, "every node should learn every other node")

	for _, observer := range want {
		for _, id := range want {
			m, ok := c.Member(observer, id)
			require.True(t, ok)
			assert.Equal(t, gossip.Alive, m.Status, "%s's view of %s", observer, id)
		}
	}
}

func TestCluster_ConvergesOverMsgpack(t *testing.T) {
	c := newCluster(t, 3, func(cfg *config.Config) { cfg.Codec = "msgpack" })
	want := ids(3)

	require.Eventually(t, func() bool {
		for _, id := range want {
			active, _ := c.View(id)
			if !assert.ObjectsAreEqual(want, active) {
				return false
			}
		}
		return true
	}, 10*time.Second, 50*time.Millisecond, "msgpack nodes should learn every other node")
}

func TestCluster_ConfirmsIsolatedMember(t *testing.T) {
	c := newCluster(t, 4, nil)
	require.Eventually(t, func() bool {
		active, _ := c.View("n1")
		return len(active) == 4
	}, 10*time.Second, 50*time.Millisecond)

	c.Isolate("n3")

	require.Eventually(t, func() bool {
		for _, observer := range []string{"n1", "n2", "n4"} {
			active, confirmed := c.View(observer)
			if !assert.ObjectsAreEqual([]string{"n3"}, confirmed) || len(active) != 3 {
				return false
			}
		}
		return true
	}, 10*time.Second, 50*time.Millisecond, "n3 should be confirmed by every other node")
}

func TestCluster_IndirectPingKeepsPartitionedPairAlive(t *testing.T) {
	c := newCluster(t, 3, nil)
	require.Eventually(t, func() bool {
		active, _ := c.View("n1")
		return len(active) == 3
	}, 10*time.Second, 50*time.Millisecond)

	c.Partition("n1", "n2")
	time.Sleep(1500 * time.Millisecond)

	for _, pair := range [][2]string{{"n1", "n2"}, {"n2", "n1"}} {
		_, confirmed := c.View(pair[0])
		assert.NotContains(t, confirmed, pair[1], "%s confirmed %s despite a live helper", pair[0], pair[1])
	}
}

func TestCluster_RefutesSuspicion(t *testing.T) {
	c := newCluster(t, 3, func(cfg *config.Config) {
		cfg.Protocol.SuspectTimeout = 3 * time.Second
	})
	require.Eventually(t, func() bool {
		active, _ := c.View("n1")
		return len(active) == 3
	}, 10*time.Second, 50*time.Millisecond)

	c.Isolate("n2")
	require.Eventually(t, func() bool {
		m, ok := c.Member("n1", "n2")
		return ok && m.Status == gossip.Suspect
	}, 5*time.Second, 10*time.Millisecond, "n1 should suspect n2")
	c.Rejoin("n2")

	require.Eventually(t, func() bool {
		m, ok := c.Member("n1", "n2")
		return ok && m.Status == gossip.Alive && m.Incarnation > 0
	}, 5*time.Second, 20*time.Millisecond, "n2 should refute with a higher incarnation")

	_, confirmed := c.View("n1")
	assert.Empty(t, confirmed)
}

func TestCluster_DeliversEvents(t *testing.T) {
	c := newCluster(t, 2, nil)
	require.Eventually(t, func() bool {
		active, _ := c.View("n1")
		return len(active) == 2
	}, 10*time.Second, 50*time.Millisecond)

	var (
		mu   sync.Mutex
		got  []string
		from []string
	)
	const kind = 7
	err := c.GetNode("n2").State().RegisterEvent(kind, gossip.RawEvent(func(sender gossip.Member, payload []byte) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, string(payload))
		from = append(from, sender.ID)
	}))
	require.NoError(t, err)
	require.NoError(t, c.GetNode("n1").State().RegisterEvent(kind, gossip.RawEvent(func(gossip.Member, []byte) {})))

	require.NoError(t, c.GetNode("n1").State().SendEvent(kind, "deploy started"))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, 5*time.Second, 10*time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"deploy started"}, got)
	assert.Equal(t, []string{"n1"}, from)
}

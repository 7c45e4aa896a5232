package heartbeat

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"nodestack-go/bus"
	"nodestack-go/types"
)

func TestPublishesStatsRetained(t *testing.T) {
	b := bus.NewBus(16)
	stack := b.NewConnection("stack")
	query := stack.Subscribe(topicQuery)
	conn := b.NewConnection("heartbeat")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Stand-in for the netstack service.
	want := types.StackStats{Addr: types.ShortAddr(7), Neighbors: 2}
	want.MAC.TxOK = 3
	go func() {
		for m := range query.Channel() {
			stack.Reply(m, want, false)
		}
	}()

	s := &Service{Interval: 10 * time.Millisecond}
	require.NoError(t, s.Start(ctx, conn))

	stats := conn.Subscribe(topicStats)
	select {
	case m := <-stats.Channel():
		require.True(t, m.Retained)
		require.Equal(t, want, m.Payload)
	case <-time.After(2 * time.Second):
		t.Fatal("no stats published")
	}
	stack.Unsubscribe(query)
}

func TestInterval(t *testing.T) {
	require.Equal(t, 2*time.Second, interval(types.HeartbeatConfig{Interval: 2 * time.Second}))
	require.Equal(t, 1500*time.Millisecond, interval(map[string]any{"interval": 1.5}))
	require.Equal(t, 3*time.Second, interval(map[string]any{"interval": 3}))
	require.Equal(t, time.Duration(0), interval("x"))
}

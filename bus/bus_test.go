package bus

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPublishSubscribe(t *testing.T) {
	b := NewBus(4)
	c := b.NewConnection("test")

	sub := c.Subscribe(T("netstack", "rx"))
	c.Publish(c.NewMessage(T("netstack", "rx"), "frame", false))
	require.Equal(t, "frame", recv(t, sub))

	c.Publish(c.NewMessage(T("netstack", "tx"), "other", false))
	expectNone(t, sub)
}

func TestRetained(t *testing.T) {
	b := NewBus(4)
	c := b.NewConnection("test")

	c.Publish(c.NewMessage(T("config", "netstack"), "cfg", true))
	sub := c.Subscribe(T("config", "netstack"))
	require.Equal(t, "cfg", recv(t, sub))

	// Clearing removes the retained copy and prunes the store.
	c.Publish(c.NewMessage(T("config", "netstack"), nil, true))
	late := c.Subscribe(T("config", "#"))
	expectNone(t, late)
	require.Empty(t, b.retained.children)
}

func TestWildcards(t *testing.T) {
	b := NewBus(16)
	c := b.NewConnection("test")

	one := c.Subscribe(T("sensor", "+", "co2"))
	all := c.Subscribe(T("sensor", "#"))
	root := c.Subscribe(T("#"))
	exact := c.Subscribe(T("sensor"))

	c.Publish(c.NewMessage(T("sensor", "co2sa", "co2"), "v1", false))
	require.Equal(t, "v1", recv(t, one))
	require.Equal(t, "v1", recv(t, all))
	require.Equal(t, "v1", recv(t, root))
	expectNone(t, exact)

	c.Publish(c.NewMessage(T("sensor"), "v2", false))
	require.Equal(t, "v2", recv(t, all))
	require.Equal(t, "v2", recv(t, root))
	require.Equal(t, "v2", recv(t, exact))
	expectNone(t, one)

	c.Publish(c.NewMessage(T("sensor", "co2sa", "rh"), "v3", false))
	expectNone(t, one)
	require.Equal(t, "v3", recv(t, all))
}

func TestRetainedWildcardDelivery(t *testing.T) {
	b := NewBus(16)
	c := b.NewConnection("test")

	c.Publish(c.NewMessage(T("netstack"), "r0", true))
	c.Publish(c.NewMessage(T("netstack", "state"), "r1", true))
	c.Publish(c.NewMessage(T("netstack", "stats", "mac"), "r2", true))
	c.Publish(c.NewMessage(T("netstack", "stats"), "r3", true))

	require.Equal(t, []string{"r0", "r1", "r2", "r3"}, drain(t, c.Subscribe(T("netstack", "#")), 4))
	require.Equal(t, []string{"r1", "r2", "r3"}, drain(t, c.Subscribe(T("netstack", "+", "#")), 3))
	require.Equal(t, []string{"r1", "r3"}, drain(t, c.Subscribe(T("netstack", "+")), 2))
}

func TestDropOldest(t *testing.T) {
	b := NewBus(2)
	c := b.NewConnection("test")
	sub := c.Subscribe(T("x"))

	for _, p := range []string{"a", "b", "c"} {
		c.Publish(c.NewMessage(T("x"), p, false))
	}
	require.Equal(t, uint64(1), b.Dropped())
	require.Equal(t, "b", recv(t, sub))
	require.Equal(t, "c", recv(t, sub))
}

func TestUnsubscribe(t *testing.T) {
	b := NewBus(2)
	c := b.NewConnection("test")
	sub := c.Subscribe(T("a", "b"))
	sub.Unsubscribe()
	sub.Unsubscribe()

	_, ok := <-sub.Channel()
	require.False(t, ok)
	require.Empty(t, b.subs.children)

	c.Publish(c.NewMessage(T("a", "b"), "x", false))
}

func TestRequestWait(t *testing.T) {
	b := NewBus(4)
	req := b.NewConnection("requester")
	resp := b.NewConnection("responder")

	in := resp.Subscribe(T("netstack", "send"))
	defer resp.Disconnect()
	go func() {
		if m, ok := <-in.Channel(); ok {
			resp.Reply(m, "ok", false)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msg := req.NewMessage(T("netstack", "send"), "pkt", false)
	reply, err := req.RequestWait(ctx, msg)
	require.NoError(t, err)
	require.Equal(t, "ok", reply.Payload)
	require.Equal(t, msg.ReplyTo, reply.Topic)
}

func TestRequestWaitTimeout(t *testing.T) {
	b := NewBus(4)
	c := b.NewConnection("requester")
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.RequestWait(ctx, c.NewMessage(T("nobody"), nil, false))
	require.Equal(t, context.DeadlineExceeded, err)
}

func TestTopicTokens(t *testing.T) {
	require.Equal(t, "sensor/co2sa/3", T("sensor", "co2sa").Append(3).String())
	require.Panics(t, func() { T([]byte{1}) })
}

// ---- helpers ----

func recv(t *testing.T, sub *Subscription) any {
	t.Helper()
	select {
	case m := <-sub.Channel():
		return m.Payload
	case <-time.After(200 * time.Millisecond):
		t.Fatalf("timeout on %v", sub.Topic())
	}
	return nil
}

func expectNone(t *testing.T, sub *Subscription) {
	t.Helper()
	select {
	case m := <-sub.Channel():
		t.Fatalf("unexpected message on %v: %#v", sub.Topic(), m.Payload)
	case <-time.After(30 * time.Millisecond):
	}
}

func drain(t *testing.T, sub *Subscription, n int) []string {
	t.Helper()
	var out []string
	for i := 0; i < n; i++ {
		out = append(out, recv(t, sub).(string))
	}
	sort.Strings(out)
	expectNone(t, sub)
	return out
}

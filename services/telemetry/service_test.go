package telemetry

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"nodestack-go/bus"
	"nodestack-go/types"
)

type published struct {
	topic    string
	retained bool
	payload  []byte
}

type fakeClient struct {
	mu     sync.Mutex
	pubs   chan published
	subs   map[string]func(string, []byte)
	closed bool
}

func newFakeClient() *fakeClient {
	return &fakeClient{pubs: make(chan published, 16), subs: map[string]func(string, []byte){}}
}

func (f *fakeClient) Publish(topic string, qos byte, retained bool, payload []byte) error {
	f.pubs <- published{topic, retained, payload}
	return nil
}

func (f *fakeClient) Subscribe(topic string, qos byte, fn func(string, []byte)) error {
	f.mu.Lock()
	f.subs[topic] = fn
	f.mu.Unlock()
	return nil
}

func (f *fakeClient) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

func (f *fakeClient) deliver(topic string, payload []byte) bool {
	f.mu.Lock()
	fn := f.subs[topic]
	f.mu.Unlock()
	if fn == nil {
		return false
	}
	fn(topic, payload)
	return true
}

func (f *fakeClient) next(t *testing.T) published {
	t.Helper()
	select {
	case p := <-f.pubs:
		return p
	case <-time.After(2 * time.Second):
		t.Fatal("nothing published")
	}
	return published{}
}

func start(t *testing.T) (*bus.Connection, *fakeClient, context.CancelFunc) {
	b := bus.NewBus(16)
	conn := b.NewConnection("test")
	fc := newFakeClient()
	dialed := make(chan types.TelemetryConfig, 1)
	s := &Service{Dial: func(cfg types.TelemetryConfig) (Client, error) {
		dialed <- cfg
		return fc, nil
	}}
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Start(ctx, conn))
	conn.Publish(conn.NewMessage(topicConfig, types.TelemetryConfig{Broker: "mqtt://broker:1883", Prefix: "nodes/n1/"}, true))
	select {
	case cfg := <-dialed:
		require.Equal(t, "mqtt://broker:1883", cfg.Broker)
	case <-time.After(2 * time.Second):
		t.Fatal("not dialed")
	}
	return conn, fc, cancel
}

func TestForwardsBusTopicsAsJSON(t *testing.T) {
	conn, fc, cancel := start(t)
	defer cancel()

	reading := types.SensorReading{Sensor: "co2", Variable: "co2", Value: 700, OK: true, TS: 5}
	conn.Publish(conn.NewMessage(bus.T("sensor", "co2", "co2"), reading, true))

	p := fc.next(t)
	require.Equal(t, "nodes/n1/sensor/co2/co2", p.topic)
	require.True(t, p.retained)
	var got types.SensorReading
	require.NoError(t, json.Unmarshal(p.payload, &got))
	require.Equal(t, reading, got)

	conn.Publish(conn.NewMessage(bus.T("netstack", "event"), types.LinkEvent{Kind: "tx_failed", Code: "no_ack"}, false))
	p = fc.next(t)
	require.Equal(t, "nodes/n1/netstack/event", p.topic)
	require.False(t, p.retained)
}

func TestRelaysSendCommands(t *testing.T) {
	conn, fc, cancel := start(t)
	defer cancel()

	reqs := conn.Subscribe(topicSend)
	go func() {
		for m := range reqs.Channel() {
			req := m.Payload.(types.SendRequest)
			conn.Reply(m, types.SendReply{OK: len(req.Data) == 3}, false)
		}
	}()
	defer conn.Unsubscribe(reqs)

	deadline := time.Now().Add(2 * time.Second)
	for !fc.deliver("nodes/n1/cmd/send", []byte(`{"dst":"00:07","data":"AQID"}`)) {
		require.True(t, time.Now().Before(deadline), "command topic never subscribed")
		time.Sleep(5 * time.Millisecond)
	}
	p := fc.next(t)
	require.Equal(t, "nodes/n1/cmd/send/reply", p.topic)
	require.JSONEq(t, `{"ok":true}`, string(p.payload))

	fc.deliver("nodes/n1/cmd/send", []byte(`{`))
	p = fc.next(t)
	var rep types.SendReply
	require.NoError(t, json.Unmarshal(p.payload, &rep))
	require.Equal(t, "invalid_payload", rep.Code)
}

func TestMQTTTopic(t *testing.T) {
	require.Equal(t, "a/b", mqttTopic("", "a/b"))
	require.Equal(t, "p/a/b", mqttTopic("/p/", "a/b"))
}

func TestClientOptionsFromURL(t *testing.T) {
	opts, err := ClientOptionsFromURL("mqtt://u:pw@example.com:1883?client-id=node1")
	require.NoError(t, err)
	require.Equal(t, "tcp://example.com:1883", opts.Servers[0].String())
	require.Equal(t, "u", opts.Username)
	require.Equal(t, "pw", opts.Password)
	require.Equal(t, "node1", opts.ClientID)
}

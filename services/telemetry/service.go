// Package telemetry mirrors stack and sensor traffic to an MQTT broker as
// JSON, and accepts send requests from it.
package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/golang/glog"

	"nodestack-go/bus"
	"nodestack-go/errcode"
	"nodestack-go/types"
)

var (
	topicConfig = bus.T("config", "telemetry")
	topicSend   = bus.T("netstack", "send")

	errConnectTimeout = errors.New("telemetry: broker connect timeout")
)

const (
	cmdSend     = "cmd/send"
	sendTimeout = 5 * time.Second
)

// forwarded lists the bus topics mirrored to the broker.
var forwarded = []bus.Topic{
	bus.T("netstack", "state"),
	bus.T("netstack", "stats"),
	bus.T("netstack", "rx"),
	bus.T("netstack", "event"),
	bus.T("sensor", "#"),
}

type Service struct {
	// Dial opens the broker connection; nil uses DialMQTT.
	Dial func(cfg types.TelemetryConfig) (Client, error)

	conn   *bus.Connection
	client Client
	cfg    types.TelemetryConfig
}

func NewService() *Service { return &Service{Dial: DialMQTT} }

// Start launches the service goroutine. Nothing is forwarded until a
// "config/telemetry" with a broker arrives.
func (s *Service) Start(ctx context.Context, conn *bus.Connection) error {
	if s.Dial == nil {
		s.Dial = DialMQTT
	}
	s.conn = conn
	go s.serviceLoop(ctx)
	return nil
}

func (s *Service) serviceLoop(ctx context.Context) {
	cfgSub := s.conn.Subscribe(topicConfig)
	defer s.conn.Unsubscribe(cfgSub)

	var cfg types.TelemetryConfig
	for s.client == nil {
		select {
		case <-ctx.Done():
			return
		case msg := <-cfgSub.Channel():
			if msg == nil {
				continue
			}
			c, ok := msg.Payload.(types.TelemetryConfig)
			if !ok || c.Broker == "" {
				glog.Infof("[telemetry] no broker configured")
				continue
			}
			client, err := s.Dial(c)
			if err != nil {
				glog.Errorf("[telemetry] dial %s: %v", c.Broker, err)
				continue
			}
			s.client, cfg = client, c
		}
	}
	s.cfg = cfg
	defer s.client.Close()

	if err := s.client.Subscribe(mqttTopic(cfg.Prefix, cmdSend), cfg.QoS, func(_ string, payload []byte) {
		go s.handleSend(ctx, payload)
	}); err != nil {
		glog.Warningf("[telemetry] subscribe %s: %v", cmdSend, err)
	}

	merged := make(chan *bus.Message, 16)
	for _, t := range forwarded {
		sub := s.conn.Subscribe(t)
		defer s.conn.Unsubscribe(sub)
		go func(ch <-chan *bus.Message) {
			for m := range ch {
				select {
				case merged <- m:
				case <-ctx.Done():
					return
				}
			}
		}(sub.Channel())
	}

	for {
		select {
		case <-ctx.Done():
			glog.Info("[telemetry] service stopping")
			return
		case m := <-merged:
			s.forward(m)
		}
	}
}

func (s *Service) forward(m *bus.Message) {
	b, err := json.Marshal(m.Payload)
	if err != nil {
		glog.Warningf("[telemetry] encode %s: %v", m.Topic, err)
		return
	}
	topic := mqttTopic(s.cfg.Prefix, m.Topic.String())
	if err := s.client.Publish(topic, s.cfg.QoS, m.Retained, b); err != nil {
		glog.Warningf("[telemetry] publish %s: %v", topic, err)
	}
}

// handleSend relays a JSON SendRequest to the stack and publishes the reply
// on "<prefix>/cmd/send/reply".
func (s *Service) handleSend(ctx context.Context, payload []byte) {
	var req types.SendRequest
	var rep types.SendReply
	if err := json.Unmarshal(payload, &req); err != nil {
		rep = types.SendReply{Code: string(errcode.InvalidPayload), Error: err.Error()}
	} else {
		rctx, cancel := context.WithTimeout(ctx, sendTimeout)
		defer cancel()
		msg, err := s.conn.RequestWait(rctx, s.conn.NewMessage(topicSend, req, false))
		if err != nil {
			rep = types.SendReply{Code: string(errcode.Timeout), Error: err.Error()}
		} else {
			rep, _ = msg.Payload.(types.SendReply)
		}
	}
	b, _ := json.Marshal(rep)
	if err := s.client.Publish(mqttTopic(s.cfg.Prefix, cmdSend+"/reply"), s.cfg.QoS, false, b); err != nil {
		glog.Warningf("[telemetry] reply: %v", err)
	}
}

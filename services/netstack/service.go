package netstack

import (
	"context"
	"errors"

	"github.com/golang/glog"
	"gopkg.in/yaml.v3"

	"nodestack-go/bus"
	"nodestack-go/drivers/radio"
	"nodestack-go/errcode"
	"nodestack-go/types"
)

var (
	TopicConfig = bus.T("config", "netstack")
	TopicState  = bus.T("netstack", "state")
	TopicSend   = bus.T("netstack", "send")
	TopicRx     = bus.T("netstack", "rx")
	TopicEvent  = bus.T("netstack", "event")
	TopicQuery  = bus.T("netstack", "query", "stats")
)

// Service runs a stack behind the bus. It builds the stack from the first
// retained "config/netstack" message; later configurations are ignored.
type Service struct {
	Driver  radio.Driver
	Options Options

	conn  *bus.Connection
	stack *Stack
	ran   chan struct{}
}

func NewService(drv radio.Driver, opts Options) *Service {
	return &Service{Driver: drv, Options: opts}
}

// Start launches the service goroutine.
func (s *Service) Start(ctx context.Context, conn *bus.Connection) error {
	if s.Driver == nil {
		return errors.New("netstack: no radio driver")
	}
	s.conn = conn
	go s.serviceLoop(ctx)
	return nil
}

func (s *Service) serviceLoop(ctx context.Context) {
	cfgSub := s.conn.Subscribe(TopicConfig)
	defer s.conn.Unsubscribe(cfgSub)
	sendSub := s.conn.Subscribe(TopicSend)
	defer s.conn.Unsubscribe(sendSub)
	querySub := s.conn.Subscribe(TopicQuery)
	defer s.conn.Unsubscribe(querySub)

	s.publishState("idle", "awaiting_config")
	for {
		select {
		case <-ctx.Done():
			s.shutdown()
			return
		case msg := <-cfgSub.Channel():
			if msg == nil {
				continue
			}
			if s.stack != nil {
				glog.Warningf("[netstack] ignoring new configuration, stack already running")
				continue
			}
			s.configure(ctx, msg.Payload)
		case msg := <-sendSub.Channel():
			if msg != nil {
				s.handleSend(msg)
			}
		case msg := <-querySub.Channel():
			if msg != nil {
				s.handleQuery(msg)
			}
		}
	}
}

func (s *Service) configure(ctx context.Context, payload any) {
	cfg, err := decodeConfig(payload)
	if err != nil {
		glog.Errorf("[netstack] bad configuration: %v", err)
		s.publishState("idle", string(errcode.Of(err)))
		return
	}
	opts := s.Options
	opts.Deliver = s.deliver
	opts.Events = s.event
	st, err := New(cfg, s.Driver, opts)
	if err != nil {
		glog.Errorf("[netstack] build stack: %v", err)
		s.publishState("idle", string(errcode.Of(err)))
		return
	}
	s.stack = st
	st.loop.Post(func() {
		if err := st.Start(); err != nil {
			glog.Errorf("[netstack] start: %v", err)
			s.publishState("idle", string(errcode.Of(err)))
			return
		}
		s.publishState("ready", "running")
	})
	if !st.loop.Virtual() {
		s.ran = make(chan struct{})
		go func() {
			defer close(s.ran)
			st.loop.Run(ctx)
		}()
	}
}

func (s *Service) shutdown() {
	if st := s.stack; st != nil {
		if s.ran != nil {
			<-s.ran
			st.Stop()
		} else {
			st.loop.Post(func() { st.Stop() })
		}
	}
	glog.Info("[netstack] service stopping")
	s.publishState("stopped", "context_done")
}

func (s *Service) handleSend(msg *bus.Message) {
	req, ok := sendRequest(msg.Payload)
	if !ok {
		s.conn.Reply(msg, sendReply(&errcode.E{C: errcode.InvalidPayload, Op: "netstack", Msg: "expected SendRequest"}), false)
		return
	}
	st := s.stack
	if st == nil {
		s.conn.Reply(msg, sendReply(&errcode.E{C: errcode.NotReady, Op: "netstack"}), false)
		return
	}
	pkt := Packet{Dst: req.Dst, NextHop: req.NextHop, Data: append([]byte(nil), req.Data...)}
	posted := st.loop.Post(func() {
		err := st.Send(pkt, func(err error) { s.conn.Reply(msg, sendReply(err), false) })
		if err != nil {
			s.conn.Reply(msg, sendReply(err), false)
		}
	})
	if !posted {
		s.conn.Reply(msg, sendReply(&errcode.E{C: errcode.QueueFull, Op: "netstack", Msg: "run loop busy"}), false)
	}
}

func (s *Service) handleQuery(msg *bus.Message) {
	st := s.stack
	if st == nil {
		s.conn.Reply(msg, nil, false)
		return
	}
	if !st.loop.Post(func() { s.conn.Reply(msg, st.Stats(), false) }) {
		s.conn.Reply(msg, nil, false)
	}
}

func (s *Service) deliver(p Packet) {
	d := types.Delivery{Src: p.Src, Dst: p.Dst, Data: append([]byte(nil), p.Data...), TS: s.stack.loop.Now().UnixMilli()}
	s.conn.Publish(s.conn.NewMessage(TopicRx, d, false))
	if s.Options.Deliver != nil {
		s.Options.Deliver(p)
	}
}

func (s *Service) event(ev types.LinkEvent) {
	s.conn.Publish(s.conn.NewMessage(TopicEvent, ev, false))
	if s.Options.Events != nil {
		s.Options.Events(ev)
	}
}

func (s *Service) publishState(level, status string) {
	st := types.StackState{Level: level, Status: status}
	if s.stack != nil {
		st.Addr = s.stack.Addr()
		st.TS = s.stack.loop.Now().UnixMilli()
	}
	s.conn.Publish(s.conn.NewMessage(TopicState, st, true))
}

// decodeConfig accepts a StackConfig value or its YAML text.
func decodeConfig(payload any) (types.StackConfig, error) {
	switch v := payload.(type) {
	case types.StackConfig:
		return v, nil
	case *types.StackConfig:
		if v != nil {
			return *v, nil
		}
	case []byte:
		var cfg types.StackConfig
		if err := yaml.Unmarshal(v, &cfg); err != nil {
			return cfg, &errcode.E{C: errcode.InvalidConfig, Op: "netstack", Err: err}
		}
		return cfg, nil
	case string:
		return decodeConfig([]byte(v))
	}
	return types.StackConfig{}, &errcode.E{C: errcode.InvalidConfig, Op: "netstack", Msg: "unsupported config payload"}
}

func sendRequest(payload any) (types.SendRequest, bool) {
	switch v := payload.(type) {
	case types.SendRequest:
		return v, true
	case *types.SendRequest:
		if v != nil {
			return *v, true
		}
	}
	return types.SendRequest{}, false
}

func sendReply(err error) types.SendReply {
	if err == nil {
		return types.SendReply{OK: true}
	}
	r := types.SendReply{Code: string(errcode.Of(err)), Error: err.Error()}
	if reason := errcode.Reason(err); reason != errcode.Of(err) {
		r.Reason = string(reason)
	}
	return r
}

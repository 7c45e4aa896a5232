package heartbeat

import (
	"context"
	"time"

	"github.com/golang/glog"

	"nodestack-go/bus"
	"nodestack-go/types"
)

var (
	topicConfigHeartbeat = bus.T("config", "heartbeat")
	topicQuery           = bus.T("netstack", "query", "stats")
	topicStats           = bus.T("netstack", "stats")
)

const (
	defaultInterval = 10 * time.Second
	queryTimeout    = time.Second
)

type Service struct {
	Interval time.Duration
}

func (s *Service) serviceLoop(ctx context.Context, conn *bus.Connection) {
	cfgSub := conn.Subscribe(topicConfigHeartbeat)
	defer conn.Unsubscribe(cfgSub)

	iv := s.Interval
	if iv <= 0 {
		iv = defaultInterval
	}
	tick := time.NewTicker(iv)
	defer tick.Stop()

	// loop until context is cancelled, respond to tick and config changes
	for {
		select {
		case <-ctx.Done():
			glog.Info("[heartbeat] service stopping")
			return
		case <-tick.C:
			s.beat(ctx, conn)
		case msg := <-cfgSub.Channel():
			if msg == nil {
				continue
			}
			if iv := interval(msg.Payload); iv > 0 {
				tick.Reset(iv)
				glog.Infof("[heartbeat] interval set to %s", iv)
			}
		}
	}
}

// beat asks the stack for its counters and republishes them retained.
func (s *Service) beat(ctx context.Context, conn *bus.Connection) {
	qctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	reply, err := conn.RequestWait(qctx, conn.NewMessage(topicQuery, nil, false))
	if err != nil {
		if glog.V(1) {
			glog.Infof("[heartbeat] no stats: %v", err)
		}
		return
	}
	st, ok := reply.Payload.(types.StackStats)
	if !ok {
		return
	}
	conn.Publish(conn.NewMessage(topicStats, st, true))
	glog.Infof("[heartbeat] %s tx %d/%d rx %d nbrs %d queue %d/%d",
		st.Addr, st.MAC.TxOK, st.MAC.TxAttempts, st.Net.RxPackets, st.Neighbors, st.Queue.InUse, st.Queue.Cap)
}

// interval reads the period from a HeartbeatConfig or a generic
// {"interval": seconds} object.
func interval(p any) time.Duration {
	switch v := p.(type) {
	case types.HeartbeatConfig:
		return v.Interval
	case map[string]any:
		switch n := v["interval"].(type) {
		case float64:
			return time.Duration(n * float64(time.Second))
		case int:
			return time.Duration(n) * time.Second
		}
	}
	return 0
}

// Start the heartbeat service.
func (s *Service) Start(ctx context.Context, conn *bus.Connection) error {
	go s.serviceLoop(ctx, conn)
	return nil
}

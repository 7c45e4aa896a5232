// Package sensors polls a sensor and publishes each reading on
// "sensor/<name>/<variable>".
package sensors

import (
	"context"
	"time"

	"github.com/golang/glog"

	"nodestack-go/bus"
	"nodestack-go/types"
)

var topicConfig = bus.T("config", "sensors")

// Sensor is the synchronous sensor boundary. Value returns 0 on failure.
type Sensor interface {
	Status(kind int) int
	Configure(kind, value int) int
	Value(variable int) int
}

// errorer is implemented by sensors that record why a Value failed.
type errorer interface {
	LastErr() error
}

const defaultInterval = 30 * time.Second

type Service struct {
	Sensor Sensor
	// Variables maps configured variable names to sensor variable ids.
	Variables map[string]int

	conn *bus.Connection
	now  func() time.Time
}

func NewService(s Sensor, vars map[string]int) *Service {
	return &Service{Sensor: s, Variables: vars, now: time.Now}
}

// Start launches the service goroutine. Polling begins once a retained
// "config/sensors" arrives.
func (s *Service) Start(ctx context.Context, conn *bus.Connection) error {
	s.conn = conn
	if s.now == nil {
		s.now = time.Now
	}
	go s.serviceLoop(ctx)
	return nil
}

func (s *Service) serviceLoop(ctx context.Context) {
	cfgSub := s.conn.Subscribe(topicConfig)
	defer s.conn.Unsubscribe(cfgSub)

	var (
		cfg  types.SensorsConfig
		tick *time.Ticker
		tc   <-chan time.Time
	)
	defer func() {
		if tick != nil {
			tick.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			glog.Info("[sensors] service stopping")
			return
		case msg := <-cfgSub.Channel():
			if msg == nil {
				continue
			}
			c, ok := msg.Payload.(types.SensorsConfig)
			if !ok {
				glog.Warningf("[sensors] ignoring config payload %T", msg.Payload)
				continue
			}
			if c.Interval <= 0 {
				c.Interval = defaultInterval
			}
			cfg = c
			if tick == nil {
				tick = time.NewTicker(cfg.Interval)
				tc = tick.C
			} else {
				tick.Reset(cfg.Interval)
			}
			glog.Infof("[sensors] %s every %s: %v", cfg.Name, cfg.Interval, cfg.Variables)
			s.poll(cfg)
		case <-tc:
			s.poll(cfg)
		}
	}
}

// poll reads every configured variable once.
func (s *Service) poll(cfg types.SensorsConfig) {
	for _, name := range cfg.Variables {
		id, ok := s.Variables[name]
		if !ok {
			glog.Warningf("[sensors] %s: unknown variable %q", cfg.Name, name)
			continue
		}
		r := types.SensorReading{
			Sensor:   cfg.Name,
			Variable: name,
			Value:    s.Sensor.Value(id),
			OK:       true,
			TS:       s.now().UnixMilli(),
		}
		if e, ok := s.Sensor.(errorer); ok {
			if err := e.LastErr(); err != nil {
				r.OK = false
				glog.Warningf("[sensors] %s/%s: %v", cfg.Name, name, err)
			}
		}
		s.conn.Publish(s.conn.NewMessage(bus.T("sensor", cfg.Name, name), r, true))
	}
}

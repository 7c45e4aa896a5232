// Package bridge connects the stack to a border network. Outbound, it is the
// stack's fallback for packets with no on-link next hop; inbound, packets
// read from the link are handed to the stack on "netstack/send".
package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang/glog"
	"gopkg.in/yaml.v3"

	"nodestack-go/bus"
	"nodestack-go/types"
	"nodestack-go/x/slip"
)

// -----------------------------------------------------------------------------
// Configuration
// -----------------------------------------------------------------------------

// Config is expected on "config/bridge".
type Config struct {
	Transport TransportConfig `yaml:"transport" json:"transport"`
}

type TransportConfig struct {
	// "tap", "uart" or names registered via RegisterTransport.
	Type string      `yaml:"type" json:"type"`
	Tap  *TapConfig  `yaml:"tap,omitempty" json:"tap,omitempty"`
	UART *UARTConfig `yaml:"uart,omitempty" json:"uart,omitempty"`
}

type TapConfig struct {
	// Name of the interface; empty lets the kernel choose.
	Name string `yaml:"name" json:"name"`
	// MAC is the node side's Ethernet address.
	MAC string `yaml:"mac" json:"mac"`
	// PeerMAC is the destination of outbound frames; empty broadcasts.
	PeerMAC string `yaml:"peer_mac" json:"peer_mac"`
}

// UARTConfig carries enough information for an injected dialler to open the
// UART. IPv6 packets travel SLIP-framed.
type UARTConfig struct {
	Baud  int `yaml:"baud" json:"baud"`
	RxPin int `yaml:"rx_pin" json:"rx_pin"`
	TxPin int `yaml:"tx_pin" json:"tx_pin"`
}

const maxPacket = 1280

// -----------------------------------------------------------------------------
// Service
// -----------------------------------------------------------------------------

type Service struct {
	conn       *bus.Connection
	stateTopic bus.Topic

	mu     sync.Mutex
	curRun context.CancelFunc
	link   Link

	out, in, dropped atomic.Uint32
}

func NewService() *Service {
	return &Service{stateTopic: bus.T("bridge", "state")}
}

// Start launches the service goroutine. It listens for configuration on
// "config/bridge" and (re)opens the link.
func (s *Service) Start(ctx context.Context, conn *bus.Connection) error {
	s.conn = conn
	go s.run(ctx)
	return nil
}

func (s *Service) run(ctx context.Context) {
	cfgSub := s.conn.Subscribe(bus.T("config", "bridge"))
	defer s.conn.Unsubscribe(cfgSub)

	s.publishState("idle", "awaiting_config", nil)

	for {
		select {
		case <-ctx.Done():
			s.stopCurrent()
			return
		case msg, ok := <-cfgSub.Channel():
			if !ok {
				s.publishState("error", "config_subscription_closed", nil)
				return
			}
			cfg, err := decodeConfig(msg.Payload)
			if err != nil {
				s.publishState("error", "config_decode_failed", err)
				continue
			}
			s.reconfigure(ctx, cfg)
		}
	}
}

func (s *Service) stopCurrent() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.curRun != nil {
		s.curRun()
		s.curRun = nil
	}
}

func (s *Service) reconfigure(parent context.Context, cfg Config) {
	s.mu.Lock()
	if s.curRun != nil {
		s.curRun()
		s.curRun = nil
	}
	ctx, cancel := context.WithCancel(parent)
	s.curRun = cancel
	s.mu.Unlock()

	go s.runLink(ctx, cfg)
}

// -----------------------------------------------------------------------------
// Fallback
// -----------------------------------------------------------------------------

func (s *Service) Init() {}

// Output writes pkt to the current link. Without a link the packet is dropped.
func (s *Service) Output(pkt []byte) int {
	s.mu.Lock()
	l := s.link
	s.mu.Unlock()
	if l == nil {
		s.dropped.Add(1)
		return -1
	}
	if err := l.WritePacket(pkt); err != nil {
		s.dropped.Add(1)
		glog.Warningf("[bridge] write: %v", err)
		return -1
	}
	s.out.Add(1)
	return 0
}

// Counts reports packets written out, packets read in, and drops.
func (s *Service) Counts() (out, in, dropped uint32) {
	return s.out.Load(), s.in.Load(), s.dropped.Load()
}

func (s *Service) setLink(l Link) {
	s.mu.Lock()
	s.link = l
	s.mu.Unlock()
}

// -----------------------------------------------------------------------------
// Link supervision and I/O
// -----------------------------------------------------------------------------

func (s *Service) runLink(ctx context.Context, cfg Config) {
	tr, err := newTransport(cfg.Transport)
	if err != nil {
		s.publishState("error", "transport_init_failed", err)
		return
	}

	backoff := backoffSeq(250*time.Millisecond, 5*time.Second)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		l, err := tr.Open(ctx)
		if err != nil {
			delay := backoff()
			s.publishState("degraded", "dial_failed_retrying", fmt.Errorf("%v (retry in %s)", err, delay))
			if !sleep(ctx, delay) {
				return
			}
			continue
		}

		s.setLink(l)
		s.publishState("up", "link_established", nil)
		err = s.handleLink(ctx, l)
		s.setLink(nil)
		_ = l.Close()
		if err != nil {
			delay := backoff()
			s.publishState("degraded", "link_lost_retrying", fmt.Errorf("%v (retry in %s)", err, delay))
			if !sleep(ctx, delay) {
				return
			}
			continue
		}
		return
	}
}

// handleLink forwards inbound packets to the stack until the link fails or
// ctx ends.
func (s *Service) handleLink(ctx context.Context, l Link) error {
	errCh := make(chan error, 1)
	go func() {
		for {
			pkt, err := l.ReadPacket()
			if err != nil {
				errCh <- err
				return
			}
			s.in.Add(1)
			req := types.SendRequest{Data: append([]byte(nil), pkt...)}
			s.conn.Publish(s.conn.NewMessage(bus.T("netstack", "send"), req, false))
		}
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
}

// -----------------------------------------------------------------------------
// Transports
// -----------------------------------------------------------------------------

// Link carries whole IPv6 packets.
type Link interface {
	ReadPacket() ([]byte, error)
	WritePacket(pkt []byte) error
	Close() error
}

// Transport is a pluggable link dialler.
type Transport interface {
	Open(ctx context.Context) (Link, error)
	String() string
}

type transportFactory func(TransportConfig) (Transport, error)

var (
	regMu     sync.RWMutex
	registry  = map[string]transportFactory{}
	errNoDial = errors.New("UARTDial not implemented")
	errNoTap  = errors.New("tap transport not available on this platform")
)

// RegisterTransport adds a transport by name.
func RegisterTransport(name string, f transportFactory) {
	regMu.Lock()
	defer regMu.Unlock()
	registry[name] = f
}

func newTransport(cfg TransportConfig) (Transport, error) {
	regMu.RLock()
	f, ok := registry[cfg.Type]
	regMu.RUnlock()
	if ok {
		return f(cfg)
	}
	switch cfg.Type {
	case "uart":
		return newUARTTransport(cfg)
	case "tap":
		return newTapTransport(cfg)
	default:
		return nil, fmt.Errorf("unknown transport type: %q", cfg.Type)
	}
}

// UARTDial is injected by platform code. It must open and return an
// io.ReadWriteCloser over the configured UART.
var UARTDial func(ctx context.Context, u UARTConfig) (io.ReadWriteCloser, error)

type uartTransport struct {
	cfg TransportConfig
}

func newUARTTransport(cfg TransportConfig) (Transport, error) {
	if cfg.UART == nil {
		return nil, errors.New("uart transport requires uart config")
	}
	return &uartTransport{cfg: cfg}, nil
}

func (u *uartTransport) Open(ctx context.Context) (Link, error) {
	if UARTDial == nil {
		return nil, errNoDial
	}
	rwc, err := UARTDial(ctx, *u.cfg.UART)
	if err != nil {
		return nil, err
	}
	return newSLIPLink(rwc), nil
}

func (u *uartTransport) String() string { return "uart" }

// slipLink frames packets with SLIP over a byte stream.
type slipLink struct {
	rwc io.ReadWriteCloser
	dec *slip.Decoder
	rd  []byte
	pos int
	n   int

	wmu  sync.Mutex
	wbuf []byte
}

func newSLIPLink(rwc io.ReadWriteCloser) *slipLink {
	return &slipLink{rwc: rwc, dec: slip.NewDecoder(maxPacket), rd: make([]byte, 256)}
}

func (l *slipLink) ReadPacket() ([]byte, error) {
	for {
		for l.pos < l.n {
			b := l.rd[l.pos]
			l.pos++
			if p, ok := l.dec.Feed(b); ok {
				return p, nil
			}
		}
		n, err := l.rwc.Read(l.rd)
		if err != nil {
			return nil, err
		}
		l.pos, l.n = 0, n
	}
}

func (l *slipLink) WritePacket(pkt []byte) error {
	l.wmu.Lock()
	defer l.wmu.Unlock()
	l.wbuf = slip.Append(l.wbuf[:0], pkt)
	_, err := l.rwc.Write(l.wbuf)
	return err
}

func (l *slipLink) Close() error { return l.rwc.Close() }

// tapLink exchanges Ethernet frames with a TAP device.
type tapLink struct {
	dev io.ReadWriteCloser
	out *TapFallback
	rd  []byte
}

func newTapLink(dev io.ReadWriteCloser, cfg TapConfig) (*tapLink, error) {
	src, err := parseMAC(cfg.MAC, net.HardwareAddr{0x02, 0, 0, 0, 0, 1})
	if err != nil {
		return nil, err
	}
	dst, err := parseMAC(cfg.PeerMAC, nil)
	if err != nil {
		return nil, err
	}
	return &tapLink{dev: dev, out: NewTapFallback(dev, src, dst), rd: make([]byte, maxPacket+18)}, nil
}

func (l *tapLink) ReadPacket() ([]byte, error) {
	for {
		n, err := l.dev.Read(l.rd)
		if err != nil {
			return nil, err
		}
		if p, ok := unframe(l.rd[:n]); ok {
			return p, nil
		}
	}
}

func (l *tapLink) WritePacket(pkt []byte) error {
	if l.out.Output(pkt) != 0 {
		return errors.New("tap: frame not written")
	}
	return nil
}

func (l *tapLink) Close() error { return l.dev.Close() }

func parseMAC(s string, def net.HardwareAddr) (net.HardwareAddr, error) {
	if s == "" {
		return def, nil
	}
	return net.ParseMAC(s)
}

// -----------------------------------------------------------------------------
// Utilities
// -----------------------------------------------------------------------------

func decodeConfig(p any) (Config, error) {
	var cfg Config
	switch v := p.(type) {
	case Config:
		return v, nil
	case *Config:
		if v == nil {
			return cfg, errors.New("nil config")
		}
		return *v, nil
	case []byte:
		err := yaml.Unmarshal(v, &cfg)
		return cfg, err
	case string:
		err := yaml.Unmarshal([]byte(v), &cfg)
		return cfg, err
	case map[string]any:
		// Already decoded as generic values; re-encode into the struct.
		b, err := yaml.Marshal(v)
		if err != nil {
			return cfg, err
		}
		err = yaml.Unmarshal(b, &cfg)
		return cfg, err
	default:
		return cfg, fmt.Errorf("unsupported config payload type: %T", p)
	}
}

func (s *Service) publishState(level, status string, err error) {
	payload := map[string]any{
		"level":  level,  // "up", "degraded", "error", "idle"
		"status": status, // short machine string
		"ts_ms":  time.Now().UnixMilli(),
	}
	if err != nil {
		payload["error"] = err.Error()
		glog.Warningf("[bridge] %s: %v", status, err)
	}
	s.conn.Publish(s.conn.NewMessage(s.stateTopic, payload, true))
}

func backoffSeq(min, max time.Duration) func() time.Duration {
	if min <= 0 {
		min = 100 * time.Millisecond
	}
	if max < min {
		max = min
	}
	var cur = min
	return func() time.Duration {
		d := cur
		cur *= 2
		if cur > max {
			cur = max
		}
		return d
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

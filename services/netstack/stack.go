// Package netstack assembles a link stack from its configuration: a radio
// driver at the bottom, then MAC, RDC and network layers chosen by name,
// all driven by one run loop.
package netstack

import (
	"fmt"
	"math/rand"
	"net/netip"
	"time"

	"github.com/golang/glog"

	"nodestack-go/drivers/radio"
	"nodestack-go/errcode"
	"nodestack-go/services/netstack/internal/framer"
	"nodestack-go/services/netstack/internal/link"
	"nodestack-go/services/netstack/internal/nbr"
	"nodestack-go/services/netstack/internal/netlayer"
	"nodestack-go/services/netstack/internal/queuebuf"
	"nodestack-go/services/netstack/internal/registry"
	"nodestack-go/services/netstack/internal/sched"
	"nodestack-go/types"
	"nodestack-go/x/timex"

	_ "nodestack-go/services/netstack/internal/mac"
	_ "nodestack-go/services/netstack/internal/rdc"
)

type (
	Loop     = sched.Loop
	Packet   = link.Packet
	Fallback = link.Fallback
	Neighbor = nbr.Entry
)

// NewLoop returns a run loop on the wall clock.
func NewLoop() *Loop { return sched.New(timex.System{}, 0) }

// NewVirtualLoop returns a run loop on simulated time, for tests and
// simulations. Several stacks may share it.
func NewVirtualLoop() *Loop { return sched.NewVirtual() }

// LinkLocal is the fe80::/64 address derived from a link address.
func LinkLocal(a types.LinkAddr) netip.Addr { return netlayer.LinkLocal(a) }

// UDP builds an IPv6 datagram carrying one UDP message.
func UDP(src, dst netip.Addr, sport, dport uint16, hopLimit uint8, payload []byte) []byte {
	return netlayer.UDP(src, dst, sport, dport, hopLimit, payload)
}

// UDPPayload splits an IPv6 UDP datagram; ok is false for anything else.
func UDPPayload(datagram []byte) (sport, dport uint16, payload []byte, ok bool) {
	return netlayer.UDPPayload(datagram)
}

const neighborSweep = time.Minute

type Options struct {
	// Loop runs the stack; nil creates a wall-clock loop.
	Loop *Loop
	// Rand drives backoff and wake-up offsets; nil seeds one from the address.
	Rand *rand.Rand
	// Deliver receives every packet the network layer completes. Data is
	// only valid during the call.
	Deliver func(Packet)
	// Fallback takes packets without an on-link next hop.
	Fallback Fallback
	// Events receives failures that have no caller to report to.
	Events func(types.LinkEvent)
}

// addresser is implemented by drivers that know their own link address.
type addresser interface {
	Addr() types.LinkAddr
}

// Stack is one node's assembled layers. Apart from New, its methods must be
// called from the loop's goroutine, or before the loop runs.
type Stack struct {
	cfg     types.StackConfig
	loop    *Loop
	radio   radio.Driver
	bufs    *queuebuf.Buffers
	nbrs    *nbr.Table
	framer  framer.Framer
	mac     link.MAC
	rdc     link.RDC
	net     link.Network
	sweep   *sched.Timer
	started bool
}

// New validates cfg and builds the layers it names on top of drv.
func New(cfg types.StackConfig, drv radio.Driver, opts Options) (*Stack, error) {
	if drv == nil {
		return nil, &errcode.E{C: errcode.InvalidParams, Op: "netstack", Msg: "nil radio driver"}
	}
	cfg = cfg.WithDefaults()
	if cfg.LinkAddr.IsZero() {
		a, err := defaultAddr(drv, cfg.AddrSize)
		if err != nil {
			return nil, err
		}
		cfg.LinkAddr = a
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := drv.SetChannel(cfg.Radio.Channel); err != nil {
		return nil, &errcode.E{C: errcode.RadioError, Op: "netstack", Msg: "set channel", Err: err}
	}
	if err := drv.SetTxPower(cfg.Radio.TxPower); err != nil {
		return nil, &errcode.E{C: errcode.RadioError, Op: "netstack", Msg: "set tx power", Err: err}
	}

	s := &Stack{cfg: cfg, loop: opts.Loop, radio: drv}
	if s.loop == nil {
		s.loop = NewLoop()
	}
	rng := opts.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(seed(cfg.LinkAddr)))
	}
	s.bufs = queuebuf.New(cfg.Buffers)
	s.nbrs = nbr.New(cfg.Neighbors)

	in := registry.BuildInput{
		Config:    cfg,
		Loop:      s.loop,
		Radio:     drv,
		Buffers:   s.bufs,
		Neighbors: s.nbrs,
		Seq:       link.NewSeq(uint8(rng.Intn(256))),
		Rand:      rng,
		Events:    opts.Events,
		Deliver:   opts.Deliver,
		Fallback:  opts.Fallback,
	}
	out, err := build(registry.RoleFramer, cfg.Layers.Framer, in)
	if err != nil {
		return nil, err
	}
	in.Framer, s.framer = out.Framer, out.Framer
	if out, err = build(registry.RoleMAC, cfg.Layers.MAC, in); err != nil {
		return nil, err
	}
	in.MAC, s.mac = out.MAC, out.MAC
	if out, err = build(registry.RoleRDC, cfg.Layers.RDC, in); err != nil {
		return nil, err
	}
	in.RDC, s.rdc = out.RDC, out.RDC
	if out, err = build(registry.RoleNetwork, cfg.Layers.Network, in); err != nil {
		return nil, err
	}
	s.net = out.Network

	mac := s.mac
	drv.SetReceiveNotify(func() { s.loop.Post(mac.Poll) })

	glog.Infof("[netstack] %s: %s/%s/%s/%s on channel %d", cfg.LinkAddr,
		cfg.Layers.Network, cfg.Layers.RDC, cfg.Layers.MAC, cfg.Layers.Framer, cfg.Radio.Channel)
	return s, nil
}

func build(role registry.Role, name string, in registry.BuildInput) (registry.BuildOutput, error) {
	b, ok := registry.Lookup(role, name)
	if !ok {
		return registry.BuildOutput{}, &errcode.E{C: errcode.InvalidConfig, Op: "netstack", Msg: fmt.Sprintf("no %s named %q", role, name)}
	}
	out, err := b.Build(in)
	if err != nil {
		return registry.BuildOutput{}, &errcode.E{C: errcode.Of(err), Op: "netstack", Msg: fmt.Sprintf("build %s %q", role, name), Err: err}
	}
	return out, nil
}

func defaultAddr(drv radio.Driver, size int) (types.LinkAddr, error) {
	if a, ok := drv.(addresser); ok && a.Addr().Len() == size {
		return a.Addr(), nil
	}
	a, err := types.LinkAddrFromMachineID(size)
	if err != nil {
		return types.LinkAddr{}, &errcode.E{C: errcode.InvalidConfig, Op: "netstack", Msg: "no link_addr and no machine id", Err: err}
	}
	return a, nil
}

func seed(a types.LinkAddr) int64 {
	var v int64
	for _, b := range a.Bytes() {
		v = v<<8 | int64(b)
	}
	return v ^ time.Now().UnixNano()
}

// Start turns the duty cycle (or the always-on receiver) on.
func (s *Stack) Start() error {
	if s.started {
		return nil
	}
	if err := s.rdc.On(); err != nil {
		return err
	}
	s.started = true
	s.scheduleSweep()
	return nil
}

// Stop turns the radio off. Queued frames are left to complete or fail.
func (s *Stack) Stop() error {
	if !s.started {
		return nil
	}
	s.started = false
	s.sweep.Stop()
	s.sweep = nil
	return s.rdc.Off()
}

func (s *Stack) scheduleSweep() {
	s.sweep = s.loop.After(neighborSweep, func() {
		if n := s.nbrs.Expire(s.loop.Now()); n > 0 && glog.V(2) {
			glog.Infof("[netstack] expired %d neighbors", n)
		}
		if s.started {
			s.scheduleSweep()
		}
	})
}

// Send hands pkt to the network layer. A non-nil error means nothing was
// sent and done will not be called.
func (s *Stack) Send(pkt Packet, done func(error)) error {
	if !s.started {
		return &errcode.E{C: errcode.NotReady, Op: "netstack", Msg: "stack not started"}
	}
	return s.net.Send(pkt, done)
}

// SendUDP wraps payload in an IPv6 UDP datagram from this node's link-local
// address and sends it. Only the sicslowpan network carries IPv6.
func (s *Stack) SendUDP(dst netip.Addr, sport, dport uint16, payload []byte, done func(error)) error {
	if s.cfg.Layers.Network != types.NetSicslowpan {
		return &errcode.E{C: errcode.Unsupported, Op: "netstack", Msg: "udp needs the sicslowpan network"}
	}
	dg := UDP(LinkLocal(s.cfg.LinkAddr), dst, sport, dport, s.cfg.Network.HopLimit, payload)
	return s.Send(Packet{Data: dg}, done)
}

func (s *Stack) Addr() types.LinkAddr      { return s.cfg.LinkAddr }
func (s *Stack) Config() types.StackConfig { return s.cfg }
func (s *Stack) Loop() *Loop               { return s.loop }
func (s *Stack) Neighbors() []Neighbor     { return s.nbrs.Snapshot() }
func (s *Stack) Started() bool             { return s.started }

// Stats snapshots every layer's counters.
func (s *Stack) Stats() types.StackStats {
	return types.StackStats{
		Addr:      s.cfg.LinkAddr,
		MAC:       s.mac.Stats(),
		RDC:       s.rdc.Stats(),
		Net:       s.net.Stats(),
		Queue:     s.bufs.Queue.Stats(),
		Ref:       s.bufs.Ref.Stats(),
		Neighbors: s.nbrs.Len(),
		TS:        s.loop.Now().UnixMilli(),
	}
}

package main

import (
	"fmt"
	"math/rand"
	"time"

	"nodestack-go/drivers/radio/simradio"
	"nodestack-go/services/netstack"
	"nodestack-go/types"
)

const simPort = 5683

// simNode is one stack on the simulated medium.
type simNode struct {
	st *netstack.Stack
	r  *simradio.Radio

	sent, acked, failed int
	received            int
}

// simNet is a line of nodes sharing a virtual-time loop; each node hears
// only its immediate neighbors.
type simNet struct {
	cfg   types.StackConfig
	loop  *netstack.Loop
	med   *simradio.Medium
	nodes []*simNode
}

func newSimNet(cfg types.StackConfig, n int, seed int64) (*simNet, error) {
	if n < 2 {
		return nil, fmt.Errorf("need at least 2 nodes, have %d", n)
	}
	s := &simNet{cfg: cfg.WithDefaults(), loop: netstack.NewVirtualLoop()}
	s.med = simradio.NewMedium(s.loop)
	index := map[*simradio.Radio]int{}
	s.med.Loss = func(from, to *simradio.Radio, _ []byte) bool {
		d := index[from] - index[to]
		return d > 1 || d < -1
	}

	for i := 0; i < n; i++ {
		addr, err := simAddr(s.cfg.AddrSize, i)
		if err != nil {
			return nil, err
		}
		node := &simNode{}
		node.r = s.med.NewRadio(addr, simradio.FromConfig(s.cfg.Radio))
		index[node.r] = i

		c := s.cfg
		c.LinkAddr = addr
		st, err := netstack.New(c, node.r, netstack.Options{
			Loop:    s.loop,
			Rand:    rand.New(rand.NewSource(seed + int64(i))),
			Deliver: func(netstack.Packet) { node.received++ },
		})
		if err != nil {
			return nil, err
		}
		if err := st.Start(); err != nil {
			return nil, err
		}
		node.st = st
		s.nodes = append(s.nodes, node)
	}
	return s, nil
}

// simAddr numbers nodes from 1 in the low bytes of an address of the given size.
func simAddr(size, i int) (types.LinkAddr, error) {
	b := make([]byte, size)
	b[size-2], b[size-1] = byte((i+1)>>8), byte(i+1)
	return types.LinkAddrFromBytes(b)
}

// send queues one packet from node i to node j.
func (s *simNet) send(i, j int, payload []byte) error {
	if i < 0 || j < 0 || i >= len(s.nodes) || j >= len(s.nodes) {
		return fmt.Errorf("node index out of range 0..%d", len(s.nodes)-1)
	}
	from, to := s.nodes[i], s.nodes[j]
	done := func(err error) {
		if err != nil {
			from.failed++
		} else {
			from.acked++
		}
	}
	var err error
	if s.cfg.Layers.Network == types.NetSicslowpan {
		err = from.st.SendUDP(netstack.LinkLocal(to.st.Addr()), simPort, simPort, payload, done)
	} else {
		err = from.st.Send(netstack.Packet{Dst: to.st.Addr(), Data: payload}, done)
	}
	if err == nil {
		from.sent++
	}
	return err
}

func (s *simNet) run(d time.Duration) { s.loop.RunFor(d) }

// simReport is one node's line in the results.
type simReport struct {
	Node      int                 `yaml:"node" json:"node"`
	Addr      types.LinkAddr      `yaml:"addr" json:"addr"`
	Sent      int                 `yaml:"sent" json:"sent"`
	Acked     int                 `yaml:"acked" json:"acked"`
	Failed    int                 `yaml:"failed" json:"failed"`
	Received  int                 `yaml:"received" json:"received"`
	DutyCycle float64             `yaml:"duty_cycle" json:"duty_cycle"`
	Stats     types.StackStats    `yaml:"stats" json:"stats"`
	Radio     simradio.RadioStats `yaml:"radio" json:"radio"`
}

func (s *simNet) report() []simReport {
	elapsed := s.loop.Now().Sub(time.Time{})
	out := make([]simReport, len(s.nodes))
	for i, n := range s.nodes {
		r := simReport{
			Node:     i,
			Addr:     n.st.Addr(),
			Sent:     n.sent,
			Acked:    n.acked,
			Failed:   n.failed,
			Received: n.received,
			Stats:    n.st.Stats(),
			Radio:    n.r.Stats(),
		}
		if elapsed > 0 {
			r.DutyCycle = float64(n.r.Energy().On) / float64(elapsed)
		}
		out[i] = r
	}
	return out
}

package types

import (
	"fmt"
	"net/netip"
	"time"

	"nodestack-go/errcode"
	"nodestack-go/x/mathx"
)

// Stack configuration supplied on topic "config/netstack".
// A StackConfig is treated as immutable once a stack has been built from it.

// Layer variant names.
const (
	NetSicslowpan = "sicslowpan"
	NetRime       = "rime"

	MACCSMA = "csma"
	MACNull = "nullmac"

	RDCContikiMAC = "contikimac"
	RDCNull       = "nullrdc"

	Framer802154 = "802154"
	FramerPadded = "contikimac"

	CompressionIPHC = "iphc"
	CompressionIPv6 = "ipv6"
)

// Physical and framing limits.
const (
	MaxPHYPacket = 127
	FCSLen       = 2
	MaxFrameLen  = MaxPHYPacket - FCSLen

	// RefBufSize is the size of a reference buffer slot (a link header copy).
	RefBufSize = 54

	MaxContexts = 16
)

type StackConfig struct {
	Name      string          `yaml:"name,omitempty" json:"name,omitempty"`
	LinkAddr  LinkAddr        `yaml:"link_addr,omitempty" json:"link_addr,omitempty"`
	AddrSize  int             `yaml:"addr_size" json:"addr_size"`
	PANID     uint16          `yaml:"pan_id" json:"pan_id"`
	Layers    LayersConfig    `yaml:"layers" json:"layers"`
	Radio     RadioConfig     `yaml:"radio" json:"radio"`
	MAC       MACConfig       `yaml:"mac" json:"mac"`
	RDC       RDCConfig       `yaml:"rdc" json:"rdc"`
	Framer    FramerConfig    `yaml:"framer" json:"framer"`
	Network   NetworkConfig   `yaml:"network" json:"network"`
	Buffers   BuffersConfig   `yaml:"buffers" json:"buffers"`
	Neighbors NeighborsConfig `yaml:"neighbors" json:"neighbors"`
}

type LayersConfig struct {
	Network string `yaml:"network" json:"network"`
	MAC     string `yaml:"mac" json:"mac"`
	RDC     string `yaml:"rdc" json:"rdc"`
	Framer  string `yaml:"framer" json:"framer"`
}

type RadioConfig struct {
	Channel      uint8 `yaml:"channel" json:"channel"`
	TxPower      int8  `yaml:"tx_power" json:"tx_power"`
	RxBuffers    int   `yaml:"rx_buffers" json:"rx_buffers"`
	HardwareAck  bool  `yaml:"hardware_ack" json:"hardware_ack"`
	HardwareCSMA bool  `yaml:"hardware_csma" json:"hardware_csma"`
}

type MACConfig struct {
	MaxTransmissions int           `yaml:"max_transmissions" json:"max_transmissions"`
	QueueLen         int           `yaml:"queue_len" json:"queue_len"`
	MinBE            int           `yaml:"min_be" json:"min_be"`
	MaxBE            int           `yaml:"max_be" json:"max_be"`
	BackoffUnit      time.Duration `yaml:"backoff_unit" json:"backoff_unit"`
	AckWait          time.Duration `yaml:"ack_wait" json:"ack_wait"`
	DupWindow        time.Duration `yaml:"dup_window" json:"dup_window"`
	DupHistory       int           `yaml:"dup_history" json:"dup_history"`
}

type RDCConfig struct {
	CheckRate         int           `yaml:"check_rate" json:"check_rate"`
	CCACount          int           `yaml:"cca_count" json:"cca_count"`
	CCASpacing        time.Duration `yaml:"cca_spacing" json:"cca_spacing"`
	ListenAfterDetect time.Duration `yaml:"listen_after_detect" json:"listen_after_detect"`
	MinStrobePeriods  int           `yaml:"min_strobe_periods" json:"min_strobe_periods"`
	InterFrameGap     time.Duration `yaml:"inter_frame_gap" json:"inter_frame_gap"`
	PhaseOptimization bool          `yaml:"phase_optimization" json:"phase_optimization"`
	PhaseGuard        time.Duration `yaml:"phase_guard" json:"phase_guard"`
	HardwareRetry     bool          `yaml:"hardware_retry" json:"hardware_retry"`
}

type FramerConfig struct {
	ShortestPacket int `yaml:"shortest_packet" json:"shortest_packet"`
}

type NetworkConfig struct {
	Compression     string          `yaml:"compression" json:"compression"`
	Fragmentation   bool            `yaml:"fragmentation" json:"fragmentation"`
	MaxPacket       int             `yaml:"max_packet" json:"max_packet"`
	MaxReassemblies int             `yaml:"max_reassemblies" json:"max_reassemblies"`
	MaxAge          time.Duration   `yaml:"max_age" json:"max_age"`
	HopLimit        uint8           `yaml:"hop_limit" json:"hop_limit"`
	Contexts        []ContextConfig `yaml:"contexts,omitempty" json:"contexts,omitempty"`
}

// ContextConfig maps a context index to an IPv6 /64 prefix. The table must be
// identical on every node sharing a link; a mismatch silently decodes to
// different addresses.
type ContextConfig struct {
	Index  int    `yaml:"index" json:"index"`
	Prefix string `yaml:"prefix" json:"prefix"`
}

type BuffersConfig struct {
	Queue int `yaml:"queue" json:"queue"`
	Ref   int `yaml:"ref" json:"ref"`
}

type NeighborsConfig struct {
	Capacity int           `yaml:"capacity" json:"capacity"`
	Timeout  time.Duration `yaml:"timeout" json:"timeout"`
	// AlwaysOn lists neighbors known not to duty-cycle (a mains-powered
	// border router, for instance). Frames to them are not strobed.
	AlwaysOn []LinkAddr `yaml:"always_on,omitempty" json:"always_on,omitempty"`
}

// WithDefaults returns a copy of c with zero fields filled in.
func (c StackConfig) WithDefaults() StackConfig {
	if c.AddrSize <= 0 {
		c.AddrSize = ExtAddrLen
	}
	if c.PANID == 0 {
		c.PANID = 0xabcd
	}
	if c.Layers.Network == "" {
		c.Layers.Network = NetSicslowpan
	}
	if c.Layers.MAC == "" {
		c.Layers.MAC = MACCSMA
	}
	if c.Layers.RDC == "" {
		c.Layers.RDC = RDCContikiMAC
	}
	if c.Layers.Framer == "" {
		if c.Layers.RDC == RDCContikiMAC {
			c.Layers.Framer = FramerPadded
		} else {
			c.Layers.Framer = Framer802154
		}
	}

	if c.Radio.Channel == 0 {
		c.Radio.Channel = 26
	}
	if c.Radio.RxBuffers <= 0 {
		c.Radio.RxBuffers = 4
	}

	if c.MAC.MaxTransmissions <= 0 {
		c.MAC.MaxTransmissions = 4
	}
	if c.MAC.QueueLen <= 0 {
		c.MAC.QueueLen = 4
	}
	if c.MAC.MinBE <= 0 && c.MAC.MaxBE <= 0 {
		c.MAC.MinBE, c.MAC.MaxBE = 3, 5
	}
	if c.MAC.BackoffUnit <= 0 {
		c.MAC.BackoffUnit = 320 * time.Microsecond
	}
	if c.MAC.AckWait <= 0 {
		c.MAC.AckWait = 400 * time.Microsecond
	}
	if c.MAC.DupWindow <= 0 {
		c.MAC.DupWindow = 2 * time.Second
	}
	if c.MAC.DupHistory <= 0 {
		c.MAC.DupHistory = 8
	}

	if c.RDC.CheckRate <= 0 {
		c.RDC.CheckRate = 8
	}
	if c.RDC.CCACount <= 0 {
		c.RDC.CCACount = 2
	}
	if c.RDC.CCASpacing <= 0 {
		c.RDC.CCASpacing = 500 * time.Microsecond
	}
	if c.RDC.ListenAfterDetect <= 0 {
		c.RDC.ListenAfterDetect = 20 * time.Millisecond
	}
	if c.RDC.MinStrobePeriods <= 0 {
		c.RDC.MinStrobePeriods = 2
	}
	if c.RDC.PhaseGuard <= 0 {
		c.RDC.PhaseGuard = 4 * time.Millisecond
	}

	if c.Framer.ShortestPacket <= 0 {
		c.Framer.ShortestPacket = 43
	}

	if c.Network.Compression == "" {
		c.Network.Compression = CompressionIPHC
	}
	if c.Network.MaxPacket <= 0 {
		if c.Layers.Network == NetRime {
			c.Network.MaxPacket = 100
		} else {
			c.Network.MaxPacket = 1280
		}
	}
	if c.Network.MaxReassemblies <= 0 {
		c.Network.MaxReassemblies = 2
	}
	if c.Network.MaxAge <= 0 {
		c.Network.MaxAge = 3 * time.Second
	}
	if c.Network.HopLimit == 0 {
		c.Network.HopLimit = 64
	}

	if c.Buffers.Queue <= 0 {
		c.Buffers.Queue = 8
	}
	if c.Buffers.Ref <= 0 && c.Layers.RDC == RDCContikiMAC {
		c.Buffers.Ref = 2
	}

	if c.Neighbors.Capacity <= 0 {
		c.Neighbors.Capacity = 20
	}
	if c.Neighbors.Timeout <= 0 {
		c.Neighbors.Timeout = 10 * time.Minute
	}
	return c
}

// CheckInterval is the duty-cycle period, 1/check_rate.
func (c StackConfig) CheckInterval() time.Duration {
	return time.Second / time.Duration(mathx.Max(c.RDC.CheckRate, 1))
}

// FragmentBudget estimates how many link frames a datagram of network.max_packet
// bytes needs, from the worst-case link header for the configured address size.
func (c StackConfig) FragmentBudget() int {
	hdr := 3 + 2 + 2*c.AddrSize // fcf+seq, dst pan, dst+src (pan compressed)
	if c.Layers.Framer == FramerPadded {
		hdr += 2
	}
	room := (MaxFrameLen - hdr - 5) &^ 7 // FRAGN header, 8-octet units
	if room <= 0 {
		return 0
	}
	return mathx.CeilDiv(c.Network.MaxPacket, room)
}

func invalid(format string, args ...any) error {
	return &errcode.E{C: errcode.InvalidConfig, Op: "config", Msg: fmt.Sprintf(format, args...)}
}

// Validate checks ranges and that the numeric parameters fit the buffer pools.
// Call it on a config that already has defaults applied.
func (c StackConfig) Validate() error {
	switch c.AddrSize {
	case ShortAddrLen, LegacyAddrLen, ExtAddrLen:
	default:
		return invalid("addr_size %d not one of 2, 4, 8", c.AddrSize)
	}
	if !c.LinkAddr.IsZero() && c.LinkAddr.Len() != c.AddrSize {
		return invalid("link_addr %s does not have %d bytes", c.LinkAddr, c.AddrSize)
	}
	if c.LinkAddr.IsBroadcast() {
		return invalid("link_addr is the broadcast address")
	}

	// ---- layers ----
	switch c.Layers.Network {
	case NetSicslowpan, NetRime:
	default:
		return invalid("unknown network layer %q", c.Layers.Network)
	}
	switch c.Layers.MAC {
	case MACCSMA, MACNull:
	default:
		return invalid("unknown mac layer %q", c.Layers.MAC)
	}
	switch c.Layers.RDC {
	case RDCContikiMAC, RDCNull:
	default:
		return invalid("unknown rdc layer %q", c.Layers.RDC)
	}
	switch c.Layers.Framer {
	case Framer802154, FramerPadded:
		if c.AddrSize != ShortAddrLen && c.AddrSize != ExtAddrLen {
			return invalid("framer %s needs a 2 or 8 byte address, have %d", c.Layers.Framer, c.AddrSize)
		}
	default:
		return invalid("unknown framer %q", c.Layers.Framer)
	}

	// ---- radio / mac ----
	if c.Radio.Channel < 11 || c.Radio.Channel > 26 {
		return invalid("channel %d outside 11..26", c.Radio.Channel)
	}
	if c.Radio.RxBuffers < 1 {
		return invalid("radio.rx_buffers must be >= 1")
	}
	if c.MAC.MaxTransmissions < 1 || c.MAC.MaxTransmissions > 15 {
		return invalid("mac.max_transmissions %d outside 1..15", c.MAC.MaxTransmissions)
	}
	if c.MAC.MinBE < 0 || c.MAC.MaxBE > 8 || c.MAC.MinBE > c.MAC.MaxBE {
		return invalid("mac backoff exponents %d..%d invalid", c.MAC.MinBE, c.MAC.MaxBE)
	}
	if c.MAC.QueueLen < 1 {
		return invalid("mac.queue_len must be >= 1")
	}
	if c.MAC.QueueLen > c.Buffers.Queue {
		return invalid("mac.queue_len %d exceeds buffers.queue %d", c.MAC.QueueLen, c.Buffers.Queue)
	}
	if c.MAC.DupHistory < 1 {
		return invalid("mac.dup_history must be >= 1")
	}

	// ---- rdc ----
	if !mathx.IsPow2(c.RDC.CheckRate) || c.RDC.CheckRate > 128 {
		return invalid("rdc.check_rate %d must be a power of two in 1..128", c.RDC.CheckRate)
	}
	if c.Layers.RDC == RDCContikiMAC {
		if c.Buffers.Ref < 1 {
			return invalid("rdc %s needs buffers.ref >= 1", c.Layers.RDC)
		}
		if c.RDC.CCACount < 1 {
			return invalid("rdc.cca_count must be >= 1")
		}
		if time.Duration(c.RDC.CCACount)*c.RDC.CCASpacing >= c.CheckInterval() {
			return invalid("rdc channel check does not fit in the check interval")
		}
		if c.RDC.MinStrobePeriods < 1 {
			return invalid("rdc.min_strobe_periods must be >= 1")
		}
	}
	if c.Layers.Framer == FramerPadded && (c.Framer.ShortestPacket < 1 || c.Framer.ShortestPacket > MaxFrameLen) {
		return invalid("framer.shortest_packet %d outside 1..%d", c.Framer.ShortestPacket, MaxFrameLen)
	}

	// ---- network ----
	if c.Layers.Network == NetSicslowpan {
		switch c.Network.Compression {
		case CompressionIPHC, CompressionIPv6:
		default:
			return invalid("unknown compression %q", c.Network.Compression)
		}
		if c.Network.MaxPacket < 40 {
			return invalid("network.max_packet %d below the IPv6 header size", c.Network.MaxPacket)
		}
		if c.Network.Fragmentation {
			if c.Network.MaxReassemblies < 1 {
				return invalid("network.max_reassemblies must be >= 1")
			}
			if n := c.FragmentBudget(); n > c.Buffers.Queue {
				return invalid("network.max_packet %d needs %d fragments, buffers.queue is %d",
					c.Network.MaxPacket, n, c.Buffers.Queue)
			}
		}
		if len(c.Network.Contexts) > MaxContexts {
			return invalid("%d address contexts, at most %d", len(c.Network.Contexts), MaxContexts)
		}
		var seen [MaxContexts]bool
		for _, ctx := range c.Network.Contexts {
			if ctx.Index < 0 || ctx.Index >= MaxContexts {
				return invalid("context index %d outside 0..15", ctx.Index)
			}
			if seen[ctx.Index] {
				return invalid("duplicate context index %d", ctx.Index)
			}
			seen[ctx.Index] = true
			if _, err := ctx.ParsePrefix(); err != nil {
				return invalid("context %d: %v", ctx.Index, err)
			}
		}
	}

	// ---- buffers / neighbors ----
	if c.Buffers.Queue < 1 {
		return invalid("buffers.queue must be >= 1")
	}
	if c.Neighbors.Capacity < 1 {
		return invalid("neighbors.capacity must be >= 1")
	}
	for _, a := range c.Neighbors.AlwaysOn {
		if a.Len() != c.AddrSize {
			return invalid("always_on neighbor %s does not have %d bytes", a, c.AddrSize)
		}
	}
	return nil
}

// ParsePrefix parses the context prefix, which must be an IPv6 /64.
func (cc ContextConfig) ParsePrefix() (netip.Prefix, error) {
	p, err := netip.ParsePrefix(cc.Prefix)
	if err != nil {
		return netip.Prefix{}, err
	}
	if !p.Addr().Is6() || p.Bits() != 64 {
		return netip.Prefix{}, fmt.Errorf("prefix %s is not an IPv6 /64", cc.Prefix)
	}
	return p.Masked(), nil
}

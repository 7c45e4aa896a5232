package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"nodestack-go/errcode"
)

func TestDefaultsValidate(t *testing.T) {
	c := StackConfig{}.WithDefaults()
	require.NoError(t, c.Validate())
	require.Equal(t, 125*time.Millisecond, c.CheckInterval())
	require.Equal(t, FramerPadded, c.Layers.Framer)
	require.Equal(t, 2, c.Buffers.Ref)

	n := StackConfig{Layers: LayersConfig{RDC: RDCNull}}.WithDefaults()
	require.Equal(t, Framer802154, n.Layers.Framer)
	require.Equal(t, 0, n.Buffers.Ref)
	require.NoError(t, n.Validate())
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]func(c *StackConfig){
		"channel":          func(c *StackConfig) { c.Radio.Channel = 27 },
		"max tx":           func(c *StackConfig) { c.MAC.MaxTransmissions = 16 },
		"backoff":          func(c *StackConfig) { c.MAC.MinBE, c.MAC.MaxBE = 5, 3 },
		"check rate":       func(c *StackConfig) { c.RDC.CheckRate = 6 },
		"queue vs pool":    func(c *StackConfig) { c.MAC.QueueLen = c.Buffers.Queue + 1 },
		"ref pool":         func(c *StackConfig) { c.Buffers.Ref = 0 },
		"addr size":        func(c *StackConfig) { c.AddrSize = 3 },
		"framer addr size": func(c *StackConfig) { c.AddrSize = 4 },
		"addr width":       func(c *StackConfig) { c.LinkAddr = ShortAddr(1) },
		"unknown mac":      func(c *StackConfig) { c.Layers.MAC = "tdma" },
		"fragments": func(c *StackConfig) {
			c.Network.Fragmentation = true
			c.Buffers.Queue = 4
			c.MAC.QueueLen = 4
		},
		"ctx index": func(c *StackConfig) {
			c.Network.Contexts = []ContextConfig{{Index: 16, Prefix: "aaaa::/64"}}
		},
		"ctx dup": func(c *StackConfig) {
			c.Network.Contexts = []ContextConfig{{Index: 0, Prefix: "aaaa::/64"}, {Index: 0, Prefix: "bbbb::/64"}}
		},
		"ctx prefix": func(c *StackConfig) {
			c.Network.Contexts = []ContextConfig{{Index: 1, Prefix: "aaaa::/48"}}
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := StackConfig{}.WithDefaults()
			mutate(&c)
			err := c.Validate()
			require.Error(t, err)
			require.Equal(t, errcode.InvalidConfig, errcode.Of(err))
		})
	}
}

func TestFragmentBudget(t *testing.T) {
	c := StackConfig{Network: NetworkConfig{Fragmentation: true}}.WithDefaults()
	// 125 - 23 header - 5 FRAGN = 97, floored to 96 octets per fragment.
	require.Equal(t, 14, c.FragmentBudget())
	c.Buffers.Queue = 15
	require.NoError(t, c.Validate())
}

func TestYAMLDecode(t *testing.T) {
	src := `
name: test
link_addr: "00:12:4b:00:00:00:00:01"
layers: {network: sicslowpan, mac: csma, rdc: contikimac}
mac: {ack_wait: 864us, max_transmissions: 3}
rdc: {check_rate: 16, cca_spacing: 250us}
network:
  contexts:
    - {index: 0, prefix: "aaaa::/64"}
neighbors:
  always_on: ["00:12:4b:00:00:00:00:02"]
`
	var c StackConfig
	require.NoError(t, yaml.Unmarshal([]byte(src), &c))
	c = c.WithDefaults()
	require.NoError(t, c.Validate())
	require.Equal(t, 864*time.Microsecond, c.MAC.AckWait)
	require.Equal(t, 3, c.MAC.MaxTransmissions)
	require.Equal(t, 62500*time.Microsecond, c.CheckInterval())
	require.Equal(t, "00:12:4b:00:00:00:00:01", c.LinkAddr.String())
	require.Len(t, c.Neighbors.AlwaysOn, 1)

	p, err := c.Network.Contexts[0].ParsePrefix()
	require.NoError(t, err)
	require.Equal(t, "aaaa::/64", p.String())
}

package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"nodestack-go/services/config"
)

func TestSimDeliversAlongLine(t *testing.T) {
	for _, name := range []string{"rss2", "rfa1-always-on", "rfa1-contikimac", "rime"} {
		t.Run(name, func(t *testing.T) {
			cfg, err := config.Profile(name)
			require.NoError(t, err)
			net, err := newSimNet(cfg, 3, 1)
			require.NoError(t, err)

			runSim(net, 3, 16, 6*time.Second)

			received := 0
			for i, r := range net.report() {
				require.Equal(t, i, r.Node)
				require.Equal(t, 3, r.Sent)
				require.Equal(t, r.Sent, r.Acked+r.Failed, "every send completes")
				require.True(t, r.DutyCycle > 0 && r.DutyCycle <= 1)
				received += r.Received
			}
			require.True(t, received > 0)
		})
	}
}

func TestSimRadiosFollowProfile(t *testing.T) {
	cfg, err := config.Profile("rfa1-always-on")
	require.NoError(t, err)
	net, err := newSimNet(cfg, 2, 1)
	require.NoError(t, err)
	for _, n := range net.nodes {
		caps := n.r.Capabilities()
		require.True(t, caps.HardwareAck)
		require.True(t, caps.HardwareCSMA)
	}

	cfg, err = config.Profile("rss2")
	require.NoError(t, err)
	net, err = newSimNet(cfg, 2, 1)
	require.NoError(t, err)
	require.False(t, net.nodes[0].r.Capabilities().HardwareAck)
}

func TestSimRejects(t *testing.T) {
	cfg, err := config.Profile(config.DefaultProfile)
	require.NoError(t, err)
	_, err = newSimNet(cfg, 1, 1)
	require.Error(t, err)

	net, err := newSimNet(cfg, 2, 1)
	require.NoError(t, err)
	require.Error(t, net.send(0, 2, []byte("x")))
}

func TestSimAddr(t *testing.T) {
	a, err := simAddr(2, 0)
	require.NoError(t, err)
	require.Equal(t, "00:01", a.String())
	a, err = simAddr(8, 299)
	require.NoError(t, err)
	require.Equal(t, "00:00:00:00:00:00:01:2c", a.String())
}

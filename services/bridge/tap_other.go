//go:build !linux

package bridge

func newTapTransport(cfg TransportConfig) (Transport, error) { return nil, errNoTap }

//go:build linux

package bridge

import (
	"context"
	"errors"

	"github.com/golang/glog"
	"github.com/songgao/water"
)

type tapTransport struct {
	cfg TapConfig
}

func newTapTransport(cfg TransportConfig) (Transport, error) {
	if cfg.Tap == nil {
		return nil, errors.New("tap transport requires tap config")
	}
	return &tapTransport{cfg: *cfg.Tap}, nil
}

func (t *tapTransport) Open(ctx context.Context) (Link, error) {
	wc := water.Config{DeviceType: water.TAP}
	wc.Name = t.cfg.Name
	ifce, err := water.New(wc)
	if err != nil {
		return nil, err
	}
	glog.Infof("[bridge] tap %s up", ifce.Name())
	l, err := newTapLink(ifce, t.cfg)
	if err != nil {
		ifce.Close()
		return nil, err
	}
	return l, nil
}

func (t *tapTransport) String() string { return "tap" }

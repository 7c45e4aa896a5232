package bridge

import (
	"io"
	"net"
	"sync"

	"github.com/golang/glog"
	"github.com/songgao/packets/ethernet"
	"golang.org/x/net/ipv6"
)

// Fallback takes IPv6 packets that have no on-link next hop. Output returns
// 0 when the packet was taken and -1 otherwise.
type Fallback interface {
	Init()
	Output(pkt []byte) int
}

var (
	_ Fallback = LogFallback{}
	_ Fallback = (*TapFallback)(nil)
	_ Fallback = (*Service)(nil)
)

// LogFallback logs each packet's addresses and takes it.
type LogFallback struct{}

func (LogFallback) Init() { glog.Info("[bridge] log fallback") }

func (LogFallback) Output(pkt []byte) int {
	if h, err := ipv6.ParseHeader(pkt); err == nil {
		glog.Infof("[bridge] fallback %s -> %s (%d bytes)", h.Src, h.Dst, len(pkt))
	} else {
		glog.Infof("[bridge] fallback %d bytes: %v", len(pkt), err)
	}
	return 0
}

var broadcastMAC = net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

// TapFallback wraps IPv6 packets in Ethernet frames and writes them to w,
// normally a TAP interface.
type TapFallback struct {
	mu    sync.Mutex
	w     io.Writer
	src   net.HardwareAddr
	dst   net.HardwareAddr
	frame ethernet.Frame
}

// NewTapFallback writes frames from src to dst; a nil dst broadcasts.
func NewTapFallback(w io.Writer, src, dst net.HardwareAddr) *TapFallback {
	if dst == nil {
		dst = broadcastMAC
	}
	return &TapFallback{w: w, src: src, dst: dst}
}

func (t *TapFallback) Init() {
	glog.Infof("[bridge] tap fallback %s -> %s", t.src, t.dst)
}

func (t *TapFallback) Output(pkt []byte) int {
	if len(pkt) < ipv6.HeaderLen || pkt[0]>>4 != ipv6.Version {
		return -1
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.frame.Prepare(t.dst, t.src, ethernet.NotTagged, ethernet.IPv6, len(pkt))
	copy(t.frame.Payload(), pkt)
	if _, err := t.w.Write(t.frame); err != nil {
		glog.Warningf("[bridge] tap write: %v", err)
		return -1
	}
	return 0
}

// unframe returns the IPv6 payload of an Ethernet frame.
func unframe(f ethernet.Frame) ([]byte, bool) {
	if len(f) < 14 || f.Ethertype() != ethernet.IPv6 {
		return nil, false
	}
	return f.Payload(), true
}

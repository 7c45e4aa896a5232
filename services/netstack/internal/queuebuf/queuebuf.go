package queuebuf

import (
	"github.com/golang/glog"

	"nodestack-go/errcode"
	"nodestack-go/types"
)

// Handle names an acquired slot. The high half is a generation counter, so a
// handle kept past its Release is detected rather than aliasing the next owner.
// The zero Handle is never issued.
type Handle uint32

func (h Handle) index() int  { return int(h & 0xffff) }
func (h Handle) gen() uint16 { return uint16(h >> 16) }

func makeHandle(i int, g uint16) Handle { return Handle(uint32(g)<<16 | uint32(i)) }

// Pool is a fixed arena of equal-size slots. It never grows and never
// blocks; an empty pool fails Acquire with PoolExhausted.
// Pools belong to one run loop and are not safe for concurrent use.
type Pool struct {
	name  string
	size  int
	mem   []byte
	gen   []uint16
	used  []bool
	free  []int
	inUse int
	high  int
	fails uint32
}

func NewPool(name string, slots, size int) *Pool {
	if slots < 0 || slots > 0xffff {
		panic("queuebuf: slot count out of range")
	}
	p := &Pool{
		name: name,
		size: size,
		mem:  make([]byte, slots*size),
		gen:  make([]uint16, slots),
		used: make([]bool, slots),
		free: make([]int, 0, slots),
	}
	for i := slots - 1; i >= 0; i-- {
		p.gen[i] = 1
		p.free = append(p.free, i)
	}
	return p
}

func (p *Pool) Acquire() (Handle, error) {
	n := len(p.free)
	if n == 0 {
		p.fails++
		if glog.V(2) {
			glog.Infof("[queuebuf] %s exhausted (%d slots)", p.name, len(p.used))
		}
		return 0, &errcode.E{C: errcode.PoolExhausted, Op: p.name}
	}
	i := p.free[n-1]
	p.free = p.free[:n-1]
	p.used[i] = true
	p.inUse++
	if p.inUse > p.high {
		p.high = p.inUse
	}
	return makeHandle(i, p.gen[i]), nil
}

func (p *Pool) valid(h Handle) bool {
	i := h.index()
	return h != 0 && i < len(p.used) && p.used[i] && p.gen[i] == h.gen()
}

// Release returns the slot. Stale or repeated releases fail with InvalidHandle.
func (p *Pool) Release(h Handle) error {
	if !p.valid(h) {
		return &errcode.E{C: errcode.InvalidHandle, Op: p.name}
	}
	i := h.index()
	p.used[i] = false
	p.gen[i]++
	if p.gen[i] == 0 {
		p.gen[i] = 1
	}
	p.free = append(p.free, i)
	p.inUse--
	return nil
}

// Bytes returns the full slot for h, or nil for an invalid handle.
func (p *Pool) Bytes(h Handle) []byte {
	if !p.valid(h) {
		return nil
	}
	off := h.index() * p.size
	return p.mem[off : off+p.size : off+p.size]
}

func (p *Pool) Name() string     { return p.name }
func (p *Pool) Cap() int         { return len(p.used) }
func (p *Pool) Size() int        { return p.size }
func (p *Pool) InUse() int       { return p.inUse }
func (p *Pool) HighWater() int   { return p.high }
func (p *Pool) Failures() uint32 { return p.fails }

func (p *Pool) Stats() types.PoolStats {
	return types.PoolStats{Cap: p.Cap(), InUse: p.inUse, HighWater: p.high, Failures: p.fails}
}

// Buffers is the pair of pools shared by the layers of one stack.
type Buffers struct {
	Queue *Pool // whole frames
	Ref   *Pool // header copies for repeated transmissions
}

func New(cfg types.BuffersConfig) *Buffers {
	return &Buffers{
		Queue: NewPool("queuebuf", cfg.Queue, types.MaxFrameLen),
		Ref:   NewPool("refbuf", cfg.Ref, types.RefBufSize),
	}
}

package netlayer

import (
	"time"

	"nodestack-go/services/netstack/internal/sched"
	"nodestack-go/types"
)

func putFrag1(b []byte, size int, tag uint16) {
	b[0] = dispatchFrag1 | byte(size>>8)&0x07
	b[1] = byte(size)
	b[2] = byte(tag >> 8)
	b[3] = byte(tag)
}

func putFragN(b []byte, size int, tag uint16, off int) {
	b[0] = dispatchFragN | byte(size>>8)&0x07
	b[1] = byte(size)
	b[2] = byte(tag >> 8)
	b[3] = byte(tag)
	b[4] = byte(off / 8)
}

func fragSize(b []byte) int   { return int(b[0]&0x07)<<8 | int(b[1]) }
func fragTag(b []byte) uint16 { return uint16(b[2])<<8 | uint16(b[3]) }

// slot reassembles one datagram. Coverage is tracked per 8-octet unit so
// fragments may arrive in any order, more than once.
type slot struct {
	used    bool
	gen     uint32
	src     types.LinkAddr
	tag     uint16
	size    int
	buf     []byte
	have    []bool
	covered int
	timer   *sched.Timer
}

func (s *slot) units() int { return (s.size + 7) / 8 }

// mark records bytes [from, to) as received.
func (s *slot) mark(from, to int) {
	for u := from / 8; u < (to+7)/8 && u < len(s.have); u++ {
		if !s.have[u] {
			s.have[u] = true
			s.covered++
		}
	}
}

func (s *slot) complete() bool { return s.covered >= s.units() }

// reassembly is a fixed set of slots, each with a max-age timer.
type reassembly struct {
	loop   *sched.Loop
	maxAge time.Duration
	slots  []slot
	gen    uint32

	// expired is called when a slot times out.
	expired func(src types.LinkAddr, tag uint16)
}

func newReassembly(loop *sched.Loop, n, maxPacket int, maxAge time.Duration) *reassembly {
	r := &reassembly{loop: loop, maxAge: maxAge, slots: make([]slot, n)}
	for i := range r.slots {
		r.slots[i].buf = make([]byte, maxPacket)
		r.slots[i].have = make([]bool, (maxPacket+7)/8)
	}
	return r
}

// get returns the slot for (src, tag, size), opening one if needed. It
// returns nil when every slot is busy.
func (r *reassembly) get(src types.LinkAddr, tag uint16, size int) *slot {
	var free *slot
	for i := range r.slots {
		s := &r.slots[i]
		if s.used && s.src == src && s.tag == tag && s.size == size {
			return s
		}
		if !s.used && free == nil {
			free = s
		}
	}
	if free == nil {
		return nil
	}
	r.gen++
	free.used = true
	free.gen = r.gen
	free.src, free.tag, free.size = src, tag, size
	free.covered = 0
	for i := range free.have {
		free.have[i] = false
	}
	gen := free.gen
	s := free
	free.timer = r.loop.After(r.maxAge, func() {
		if !s.used || s.gen != gen {
			return
		}
		src, tag := s.src, s.tag
		r.release(s)
		if r.expired != nil {
			r.expired(src, tag)
		}
	})
	return free
}

func (r *reassembly) release(s *slot) {
	s.timer.Stop()
	s.timer = nil
	s.used = false
}

func (r *reassembly) active() int {
	n := 0
	for i := range r.slots {
		if r.slots[i].used {
			n++
		}
	}
	return n
}

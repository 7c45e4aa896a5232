package nbr

import (
	"bytes"
	"sort"
	"time"

	"github.com/golang/glog"

	"nodestack-go/types"
)

// Entry is the link-level state kept per neighbor.
type Entry struct {
	Addr     types.LinkAddr
	LastSeen time.Time
	// WakeAt is a recent instant at which the neighbor was observed awake
	// (an acknowledged strobe). Its channel checks recur every interval.
	WakeAt   time.Time
	AlwaysOn bool
	Static   bool // configured; never evicted or expired
	TxOK     uint32
	TxFail   uint32

	used uint64
}

func (e *Entry) HasPhase() bool { return !e.WakeAt.IsZero() }

// Table is a bounded neighbor table. When full, the least recently used
// dynamic entry makes room; idle entries expire after the timeout.
// Not safe for concurrent use.
type Table struct {
	capacity int
	timeout  time.Duration
	m        map[types.LinkAddr]*Entry
	clock    uint64
	evicted  uint32
}

func New(cfg types.NeighborsConfig) *Table {
	t := &Table{
		capacity: cfg.Capacity,
		timeout:  cfg.Timeout,
		m:        make(map[types.LinkAddr]*Entry, cfg.Capacity),
	}
	for _, a := range cfg.AlwaysOn {
		if len(t.m) >= t.capacity {
			glog.Warningf("[nbr] table full, always-on neighbor %s not added", a)
			break
		}
		t.m[a] = &Entry{Addr: a, AlwaysOn: true, Static: true}
	}
	return t
}

func (t *Table) Len() int        { return len(t.m) }
func (t *Table) Cap() int        { return t.capacity }
func (t *Table) Evicted() uint32 { return t.evicted }

// Lookup returns the entry for addr without refreshing it.
func (t *Table) Lookup(addr types.LinkAddr) *Entry { return t.m[addr] }

// Touch records activity from addr, inserting it if needed. It returns nil
// only when every slot holds a static entry.
func (t *Table) Touch(addr types.LinkAddr, now time.Time) *Entry {
	if addr.IsZero() || addr.IsBroadcast() {
		return nil
	}
	t.clock++
	if e := t.m[addr]; e != nil {
		e.LastSeen = now
		e.used = t.clock
		return e
	}
	if len(t.m) >= t.capacity && !t.evictLRU() {
		return nil
	}
	e := &Entry{Addr: addr, LastSeen: now, used: t.clock}
	t.m[addr] = e
	return e
}

func (t *Table) evictLRU() bool {
	var victim *Entry
	for _, e := range t.m {
		if e.Static {
			continue
		}
		if victim == nil || e.used < victim.used {
			victim = e
		}
	}
	if victim == nil {
		return false
	}
	if glog.V(2) {
		glog.Infof("[nbr] evict %s", victim.Addr)
	}
	delete(t.m, victim.Addr)
	t.evicted++
	return true
}

// Expire drops dynamic entries idle for longer than the timeout and returns
// how many were removed.
func (t *Table) Expire(now time.Time) int {
	if t.timeout <= 0 {
		return 0
	}
	n := 0
	for a, e := range t.m {
		if !e.Static && now.Sub(e.LastSeen) > t.timeout {
			delete(t.m, a)
			n++
		}
	}
	return n
}

// Remove deletes a dynamic entry.
func (t *Table) Remove(addr types.LinkAddr) {
	if e := t.m[addr]; e != nil && !e.Static {
		delete(t.m, addr)
	}
}

// Snapshot copies the entries, ordered by address.
func (t *Table) Snapshot() []Entry {
	out := make([]Entry, 0, len(t.m))
	for _, e := range t.m {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Addr.Array(), out[j].Addr.Array()
		return bytes.Compare(a[:], b[:]) < 0
	})
	return out
}

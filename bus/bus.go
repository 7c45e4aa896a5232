package bus

import (
	"context"
	"reflect"
	"strconv"
	"sync"
	"sync/atomic"
)

// -----------------------------------------------------------------------------
// Topics
// -----------------------------------------------------------------------------

// Topic is a sequence of comparable tokens, usually strings.
// In subscriptions "+" matches one token and a trailing "#" matches zero or more.
type Topic []any

const (
	wildOne = "+"
	wildAll = "#"
)

// T builds a topic. It panics on a token that cannot be used as a map key.
func T(parts ...any) Topic {
	for _, p := range parts {
		if p == nil || !reflect.TypeOf(p).Comparable() {
			panic("bus: topic token is not comparable")
		}
	}
	return Topic(parts)
}

// Append returns a new topic with parts added.
func (t Topic) Append(parts ...any) Topic {
	out := make(Topic, 0, len(t)+len(parts))
	out = append(out, t...)
	return append(out, T(parts...)...)
}

func (t Topic) Len() int { return len(t) }

// At returns the i-th token, or nil when out of range.
func (t Topic) At(i int) any {
	if i < 0 || i >= len(t) {
		return nil
	}
	return t[i]
}

func (t Topic) String() string {
	s := ""
	for i, p := range t {
		if i > 0 {
			s += "/"
		}
		switch v := p.(type) {
		case string:
			s += v
		case int:
			s += strconv.Itoa(v)
		default:
			s += "?"
		}
	}
	return s
}

// -----------------------------------------------------------------------------
// Message
// -----------------------------------------------------------------------------

type Message struct {
	Topic    Topic
	Payload  any
	Retained bool
	ReplyTo  Topic
}

func (m *Message) CanReply() bool { return m != nil && len(m.ReplyTo) > 0 }

// -----------------------------------------------------------------------------
// Subscription
// -----------------------------------------------------------------------------

type Subscription struct {
	topic Topic
	ch    chan *Message
	conn  *Connection
}

func (s *Subscription) Topic() Topic             { return s.topic }
func (s *Subscription) Channel() <-chan *Message { return s.ch }
func (s *Subscription) Unsubscribe()             { s.conn.Unsubscribe(s) }

// -----------------------------------------------------------------------------
// Trie
// -----------------------------------------------------------------------------

type node struct {
	children map[any]*node
	subs     []*Subscription
	retained *Message
}

func (n *node) child(tok any, create bool) *node {
	if c, ok := n.children[tok]; ok || !create {
		return c
	}
	if n.children == nil {
		n.children = make(map[any]*node)
	}
	c := &node{}
	n.children[tok] = c
	return c
}

func (n *node) empty() bool {
	return len(n.subs) == 0 && len(n.children) == 0 && n.retained == nil
}

// -----------------------------------------------------------------------------
// Bus
// -----------------------------------------------------------------------------

// Bus routes messages between connections. Subscriber queues are bounded;
// when one is full the oldest queued message is dropped.
type Bus struct {
	mu       sync.RWMutex
	subs     *node // subscription patterns
	retained *node // concrete topics with a retained message
	qLen     int
	seq      atomic.Uint64
	dropped  atomic.Uint64
}

// NewBus creates a bus with the given per-subscription queue length.
func NewBus(queueLen int) *Bus {
	if queueLen <= 0 {
		queueLen = 8
	}
	return &Bus{subs: &node{}, retained: &node{}, qLen: queueLen}
}

func (b *Bus) NewMessage(topic Topic, payload any, retained bool) *Message {
	return &Message{Topic: topic, Payload: payload, Retained: retained}
}

// Dropped is the number of messages discarded from full subscriber queues.
func (b *Bus) Dropped() uint64 { return b.dropped.Load() }

func (b *Bus) deliver(sub *Subscription, msg *Message) {
	select {
	case sub.ch <- msg:
		return
	default:
	}
	select {
	case <-sub.ch:
		b.dropped.Add(1)
	default:
	}
	select {
	case sub.ch <- msg:
	default:
		b.dropped.Add(1)
	}
}

// Publish delivers msg to every matching subscription and updates the
// retained store. A retained message with a nil payload clears the topic.
func (b *Bus) Publish(msg *Message) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if msg.Retained {
		b.storeRetained(msg)
	}
	b.match(b.subs, msg.Topic, func(s *Subscription) { b.deliver(s, msg) })
}

func (b *Bus) storeRetained(msg *Message) {
	if msg.Payload != nil {
		n := b.retained
		for _, tok := range msg.Topic {
			n = n.child(tok, true)
		}
		n.retained = msg
		return
	}
	path := make([]*node, 0, len(msg.Topic)+1)
	n := b.retained
	path = append(path, n)
	for _, tok := range msg.Topic {
		if n = n.child(tok, false); n == nil {
			return
		}
		path = append(path, n)
	}
	n.retained = nil
	prune(path, msg.Topic)
}

// match calls fn for each subscription whose pattern matches topic.
func (b *Bus) match(n *node, topic Topic, fn func(*Subscription)) {
	if all := n.child(wildAll, false); all != nil {
		for _, s := range all.subs {
			fn(s)
		}
	}
	if len(topic) == 0 {
		for _, s := range n.subs {
			fn(s)
		}
		return
	}
	if c := n.child(topic[0], false); c != nil {
		b.match(c, topic[1:], fn)
	}
	if topic[0] != wildOne {
		if c := n.child(wildOne, false); c != nil {
			b.match(c, topic[1:], fn)
		}
	}
}

// collectRetained walks the retained store with a subscription pattern.
func collectRetained(n *node, pattern Topic, out []*Message) []*Message {
	if len(pattern) == 0 {
		if n.retained != nil {
			out = append(out, n.retained)
		}
		return out
	}
	switch pattern[0] {
	case wildAll:
		return collectAll(n, out)
	case wildOne:
		for _, c := range n.children {
			out = collectRetained(c, pattern[1:], out)
		}
		return out
	}
	if c := n.child(pattern[0], false); c != nil {
		out = collectRetained(c, pattern[1:], out)
	}
	return out
}

func collectAll(n *node, out []*Message) []*Message {
	if n.retained != nil {
		out = append(out, n.retained)
	}
	for _, c := range n.children {
		out = collectAll(c, out)
	}
	return out
}

func (b *Bus) addSubscription(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := b.subs
	for _, tok := range sub.topic {
		n = n.child(tok, true)
	}
	n.subs = append(n.subs, sub)

	for _, m := range collectRetained(b.retained, sub.topic, nil) {
		b.deliver(sub, m)
	}
}

func (b *Bus) removeSubscription(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	path := make([]*node, 0, len(sub.topic)+1)
	n := b.subs
	path = append(path, n)
	for _, tok := range sub.topic {
		if n = n.child(tok, false); n == nil {
			return
		}
		path = append(path, n)
	}
	for i, s := range n.subs {
		if s == sub {
			n.subs = append(n.subs[:i], n.subs[i+1:]...)
			break
		}
	}
	prune(path, sub.topic)
}

// prune deletes empty nodes bottom-up along path (path[i+1] is path[i]'s child topic[i]).
func prune(path []*node, topic Topic) {
	for i := len(topic) - 1; i >= 0; i-- {
		if !path[i+1].empty() {
			return
		}
		delete(path[i].children, topic[i])
	}
}

// -----------------------------------------------------------------------------
// Connection
// -----------------------------------------------------------------------------

type Connection struct {
	bus  *Bus
	id   string
	mu   sync.Mutex
	subs []*Subscription
}

func (b *Bus) NewConnection(id string) *Connection {
	return &Connection{bus: b, id: id}
}

func (c *Connection) ID() string { return c.id }

func (c *Connection) NewMessage(topic Topic, payload any, retained bool) *Message {
	return c.bus.NewMessage(topic, payload, retained)
}

func (c *Connection) Publish(msg *Message) { c.bus.Publish(msg) }

// Subscribe registers a subscription owned by this connection. Matching
// retained messages are queued immediately.
func (c *Connection) Subscribe(topic Topic) *Subscription {
	sub := &Subscription{
		topic: topic,
		ch:    make(chan *Message, c.bus.qLen),
		conn:  c,
	}
	c.mu.Lock()
	c.subs = append(c.subs, sub)
	c.mu.Unlock()
	c.bus.addSubscription(sub)
	return sub
}

// Unsubscribe removes sub and closes its channel. Safe to call twice.
func (c *Connection) Unsubscribe(sub *Subscription) {
	c.mu.Lock()
	found := false
	for i, s := range c.subs {
		if s == sub {
			c.subs = append(c.subs[:i], c.subs[i+1:]...)
			found = true
			break
		}
	}
	c.mu.Unlock()
	if !found {
		return
	}
	c.bus.removeSubscription(sub)
	close(sub.ch)
}

// Disconnect drops every subscription of the connection.
func (c *Connection) Disconnect() {
	c.mu.Lock()
	subs := c.subs
	c.subs = nil
	c.mu.Unlock()

	for _, sub := range subs {
		c.bus.removeSubscription(sub)
		close(sub.ch)
	}
}

// ---- request / reply ----

// Request publishes msg with a fresh ReplyTo topic and returns the
// subscription on which replies arrive. The caller unsubscribes it.
func (c *Connection) Request(msg *Message) *Subscription {
	id := c.bus.seq.Add(1)
	msg.ReplyTo = T("_reply", c.id, int(id))
	sub := c.Subscribe(msg.ReplyTo)
	c.Publish(msg)
	return sub
}

// RequestWait sends msg and waits for the first reply or ctx expiry.
func (c *Connection) RequestWait(ctx context.Context, msg *Message) (*Message, error) {
	sub := c.Request(msg)
	defer c.Unsubscribe(sub)
	select {
	case r := <-sub.Channel():
		return r, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Reply answers req on its ReplyTo topic. Requests without one are ignored.
func (c *Connection) Reply(req *Message, payload any, retained bool) {
	if !req.CanReply() {
		return
	}
	c.Publish(c.NewMessage(req.ReplyTo, payload, retained))
}

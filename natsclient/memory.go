package natsclient

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/c360/natsrpc/errors"
)

// memSubBuffer is the per-subscription queue depth of the in-memory
// network. Messages beyond it are dropped, like a slow consumer on a
// real server.
const memSubBuffer = 1024

// Network is an in-process pub/sub fabric with NATS subject semantics.
// It backs unit tests and single-process deployments that need no server.
type Network struct {
	mu    sync.RWMutex
	subs  map[*memSub]struct{}
	conns map[*memConn]struct{}
	queue map[string]uint64 // round-robin cursor per queue group

	dials   atomic.Int32
	dropped atomic.Int64

	hookMu   sync.Mutex
	dialHook func(ctx context.Context) error
}

// NewNetwork creates an empty in-memory network.
func NewNetwork() *Network {
	return &Network{
		subs:  make(map[*memSub]struct{}),
		conns: make(map[*memConn]struct{}),
		queue: make(map[string]uint64),
	}
}

// Dialer returns a Dialer that opens connections to n.
func (n *Network) Dialer() Dialer {
	return n.Dial
}

// SetDialHook installs fn to run before every dial completes. A non-nil
// error fails the dial. fn may block to simulate a slow server.
func (n *Network) SetDialHook(fn func(ctx context.Context) error) {
	n.hookMu.Lock()
	n.dialHook = fn
	n.hookMu.Unlock()
}

// Dials returns how many dial attempts were made.
func (n *Network) Dials() int { return int(n.dials.Load()) }

// Dropped returns how many messages were dropped because a subscriber was full.
func (n *Network) Dropped() int64 { return n.dropped.Load() }

// Dial opens a connection.
func (n *Network) Dial(ctx context.Context) (Conn, error) {
	n.dials.Add(1)

	n.hookMu.Lock()
	hook := n.dialHook
	n.hookMu.Unlock()

	if hook != nil {
		if err := hook(ctx); err != nil {
			return nil, errors.WrapTransient(err, "Network", "Dial", "establish connection")
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, errors.WrapTransient(err, "Network", "Dial", "connection cancelled")
	}

	c := &memConn{
		net:    n,
		subs:   make(map[*memSub]struct{}),
		status: make(chan StatusEvent, statusBuffer),
		closed: make(chan struct{}),
	}

	n.mu.Lock()
	n.conns[c] = struct{}{}
	n.mu.Unlock()

	return c, nil
}

// InjectStatus reports ev on every open connection.
func (n *Network) InjectStatus(ev StatusEvent) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	for c := range n.conns {
		c.pushStatus(ev)
	}
}

// Sever closes every open connection without draining, as when a server
// goes away and reconnects are exhausted.
func (n *Network) Sever() {
	n.mu.RLock()
	conns := make([]*memConn, 0, len(n.conns))
	for c := range n.conns {
		conns = append(conns, c)
	}
	n.mu.RUnlock()

	for _, c := range conns {
		c.Close()
	}
}

// Subscribers returns the number of live subscriptions matching subject.
func (n *Network) Subscribers(subject string) int {
	n.mu.RLock()
	defer n.mu.RUnlock()

	count := 0
	for s := range n.subs {
		if subjectMatches(s.subject, subject) {
			count++
		}
	}
	return count
}

// deliver routes msg to matching subscriptions and reports how many
// received it. Queue groups receive one copy per group.
func (n *Network) deliver(msg Msg) int {
	n.mu.Lock()

	var plain []*memSub
	groups := make(map[string][]*memSub)
	for s := range n.subs {
		if !subjectMatches(s.subject, msg.Subject) {
			continue
		}
		if s.queue == "" {
			plain = append(plain, s)
			continue
		}
		groups[s.queue] = append(groups[s.queue], s)
	}

	targets := plain
	for name, members := range groups {
		cursor := n.queue[name]
		n.queue[name] = cursor + 1
		targets = append(targets, members[cursor%uint64(len(members))])
	}

	var ended []*memSub
	for _, s := range targets {
		if s.push(msg) {
			ended = append(ended, s)
		}
	}
	for _, s := range ended {
		delete(n.subs, s)
	}
	n.mu.Unlock()

	for _, s := range ended {
		s.end()
	}

	return len(targets)
}

func (n *Network) removeSub(s *memSub) {
	n.mu.Lock()
	delete(n.subs, s)
	n.mu.Unlock()
}

func (n *Network) removeConn(c *memConn) {
	n.mu.Lock()
	delete(n.conns, c)
	n.mu.Unlock()
}

// memConn is a connection to a Network.
type memConn struct {
	net    *Network
	status chan StatusEvent

	mu       sync.Mutex
	subs     map[*memSub]struct{}
	draining bool
	drains   int

	closeOnce sync.Once
	closed    chan struct{}
}

func (c *memConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *memConn) Publish(subject string, data []byte) error {
	return c.PublishRequest(subject, "", data)
}

func (c *memConn) PublishRequest(subject, reply string, data []byte) error {
	if c.isClosed() {
		return errors.Join(errors.ErrPublish, errors.ErrClosed)
	}
	if !validSubject(subject, false) {
		return errors.Join(errors.ErrPublish, errors.ErrInvalidSubject)
	}

	payload := append([]byte(nil), data...)
	receivers := c.net.deliver(Msg{Subject: subject, Reply: reply, Data: payload})

	// natsSubscription.Next yields the same Msg for nats.ErrNoResponders.
	if receivers == 0 && reply != "" {
		c.net.deliver(Msg{Subject: reply, NoResponders: true})
	}
	return nil
}

func (c *memConn) Subscribe(subject string, opts SubscribeOptions) (Subscription, error) {
	if !validSubject(subject, true) {
		return nil, errors.WrapInvalid(errors.ErrInvalidSubject, "memConn", "Subscribe", "subscribe to "+subject)
	}

	c.mu.Lock()
	if c.draining || c.isClosed() {
		c.mu.Unlock()
		return nil, errors.WrapFatal(errors.ErrClosed, "memConn", "Subscribe", "subscribe to "+subject)
	}
	s := &memSub{
		conn:    c,
		subject: subject,
		queue:   opts.Queue,
		max:     opts.Max,
		ch:      make(chan *Msg, memSubBuffer),
		done:    make(chan struct{}),
	}
	c.subs[s] = struct{}{}

	c.net.mu.Lock()
	c.net.subs[s] = struct{}{}
	c.net.mu.Unlock()
	c.mu.Unlock()

	return s, nil
}

func (c *memConn) NewInbox() string {
	return "_INBOX." + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Drain ends every subscription after its buffered messages are consumed
// and closes the connection.
func (c *memConn) Drain() error {
	c.mu.Lock()
	if c.isClosed() {
		c.mu.Unlock()
		return errors.WrapFatal(errors.ErrClosed, "memConn", "Drain", "drain connection")
	}
	c.draining = true
	c.drains++
	c.mu.Unlock()

	go c.Close()
	return nil
}

// DrainCount returns how many times Drain was called.
func (c *memConn) DrainCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.drains
}

func (c *memConn) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.draining = true
		subs := make([]*memSub, 0, len(c.subs))
		for s := range c.subs {
			subs = append(subs, s)
		}
		c.mu.Unlock()

		for _, s := range subs {
			_ = s.Unsubscribe()
		}
		c.net.removeConn(c)
		close(c.closed)
	})
}

func (c *memConn) Closed() <-chan struct{}    { return c.closed }
func (c *memConn) Status() <-chan StatusEvent { return c.status }

func (c *memConn) pushStatus(ev StatusEvent) {
	select {
	case c.status <- ev:
	default:
	}
}

// memSub is a subscription on a Network.
type memSub struct {
	conn    *memConn
	subject string
	queue   string
	max     int

	delivered int // guarded by Network.mu
	ch        chan *Msg

	endOnce sync.Once
	done    chan struct{}
}

// push queues msg and reports whether the subscription reached its limit.
// The caller holds Network.mu.
func (s *memSub) push(msg Msg) bool {
	m := msg
	select {
	case s.ch <- &m:
	default:
		s.conn.net.dropped.Add(1)
		return false
	}
	s.delivered++
	return s.max > 0 && s.delivered >= s.max
}

func (s *memSub) end() {
	s.endOnce.Do(func() {
		s.conn.mu.Lock()
		delete(s.conn.subs, s)
		s.conn.mu.Unlock()
		close(s.done)
	})
}

func (s *memSub) Subject() string { return s.subject }

func (s *memSub) Next(ctx context.Context) (*Msg, error) {
	select {
	case m := <-s.ch:
		return m, nil
	default:
	}

	select {
	case m := <-s.ch:
		return m, nil
	case <-s.done:
		select {
		case m := <-s.ch:
			return m, nil
		default:
			return nil, errors.ErrSubscriptionEnded
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *memSub) Unsubscribe() error {
	s.conn.net.removeSub(s)
	s.end()
	return nil
}

// validSubject reports whether subject is a well-formed NATS subject.
// Wildcards are only valid for subscriptions.
func validSubject(subject string, wildcards bool) bool {
	if subject == "" {
		return false
	}
	tokens := strings.Split(subject, ".")
	for i, tok := range tokens {
		if tok == "" || strings.ContainsAny(tok, " \t\r\n") {
			return false
		}
		if tok == "*" || tok == ">" {
			if !wildcards || (tok == ">" && i != len(tokens)-1) {
				return false
			}
		}
	}
	return true
}

// subjectMatches reports whether subject matches pattern, which may use
// the "*" and ">" wildcards.
func subjectMatches(pattern, subject string) bool {
	pt := strings.Split(pattern, ".")
	st := strings.Split(subject, ".")

	for i, p := range pt {
		if p == ">" {
			return len(st) > i
		}
		if i >= len(st) {
			return false
		}
		if p != "*" && p != st[i] {
			return false
		}
	}
	return len(pt) == len(st)
}

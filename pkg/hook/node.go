package hook

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/cuemby/hookio/pkg/dns"
	"github.com/cuemby/hookio/pkg/events"
	"github.com/cuemby/hookio/pkg/log"
	"github.com/cuemby/hookio/pkg/metrics"
	"github.com/cuemby/hookio/pkg/monitor"
	"github.com/cuemby/hookio/pkg/registry"
	"github.com/cuemby/hookio/pkg/rpc"
	"github.com/cuemby/hookio/pkg/types"
	"github.com/rs/zerolog"
	"go.uber.org/multierr"
)

// Emission is one call to emit
type Emission struct {
	Event   string
	Payload any
	// Reply receives the answer of whichever handler, local or remote,
	// replies first
	Reply events.Reply
	// LocalOnly keeps the event inside this process
	LocalOnly bool
}

// Node is one hook in the overlay. It is a server for its children once
// Listen succeeds and a client of its parent once Connect succeeds; both
// roles may be held at the same time.
type Node struct {
	opts       Options
	matcher    *events.Matcher
	broker     *events.Broker
	registry   *registry.Registry
	resolver   *dns.Resolver
	factory    *Factory
	transports []Transport

	mu        sync.RWMutex
	name      string
	logger    zerolog.Logger
	host      string
	port      int
	role      types.Role
	server    *rpc.Server
	parent    *rpc.Link
	parentOut *outbox
	children  map[string]*child
	spawned   map[string]types.SpawnRecord
	closed    bool
}

// child is the server side of one accepted link
type child struct {
	link *rpc.Link
	out  *outbox

	mu   sync.RWMutex
	name string
}

func (c *child) Name() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.name
}

func (c *child) setName(name string) {
	c.mu.Lock()
	c.name = name
	c.mu.Unlock()
}

// New creates an unbound node. Call Start, Listen or Connect to join the
// overlay.
func New(opts Options) *Node {
	opts.setDefaults()

	n := &Node{
		opts:       opts,
		matcher:    events.NewMatcher(),
		broker:     events.NewBroker(),
		registry:   registry.New(),
		resolver:   opts.Resolver,
		factory:    opts.Factory,
		transports: opts.Transports,
		name:       opts.Name,
		host:       opts.Host,
		port:       opts.Port,
		children:   make(map[string]*child),
		spawned:    make(map[string]types.SpawnRecord),
	}
	n.logger = n.peerLogger(opts.Name)

	n.On("*::getEvents", func(events.Event) {
		n.Emit("gotEvents", n.Patterns())
	})
	n.registerQueryHandlers()

	for pattern, h := range opts.EventMap {
		n.On(pattern, h)
	}
	return n
}

func (n *Node) peerLogger(name string) zerolog.Logger {
	l := log.WithPeer(name, n.opts.Type)
	if n.opts.Debug {
		l = l.Level(zerolog.DebugLevel)
	}
	return l
}

// Name returns the current name; it changes once when a parent negotiates it
func (n *Node) Name() string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.name
}

// Type returns the hook type
func (n *Node) Type() string {
	return n.opts.Type
}

// Role reports which overlay roles the node currently holds
func (n *Node) Role() types.Role {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.role
}

// Listening reports whether the node holds the server role
func (n *Node) Listening() bool {
	return n.Role().Has(types.RoleServer)
}

// Connected reports whether the node holds the client role
func (n *Node) Connected() bool {
	return n.Role().Has(types.RoleClient)
}

// Addr returns host:port the node is bound to, or dials when it is a client
func (n *Node) Addr() string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return net.JoinHostPort(n.host, strconv.Itoa(n.port))
}

// Port returns the overlay port
func (n *Node) Port() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.port
}

// Registry returns the peers known to this node. It is only populated while
// listening.
func (n *Node) Registry() *registry.Registry {
	return n.registry
}

// Logger returns a copy of the node's logger
func (n *Node) Logger() *zerolog.Logger {
	n.mu.RLock()
	l := n.logger
	n.mu.RUnlock()
	return &l
}

// On registers h for pattern and returns a func that removes it
func (n *Node) On(pattern string, h events.Handler) (off func()) {
	return n.matcher.On(pattern, h)
}

// Once registers h for the first event matching pattern
func (n *Node) Once(pattern string, h events.Handler) (off func()) {
	return n.matcher.Once(pattern, h)
}

// Patterns lists every registered event pattern
func (n *Node) Patterns() []string {
	return n.matcher.Patterns()
}

// Subscribe taps every event dispatched on this node whose name matches
// pattern. Slow subscribers miss events rather than block dispatch.
func (n *Node) Subscribe(pattern string) events.Subscriber {
	return n.broker.Subscribe(pattern)
}

// Unsubscribe removes a tap created by Subscribe
func (n *Node) Unsubscribe(sub events.Subscriber) {
	n.broker.Unsubscribe(sub)
}

// Emit dispatches event locally and forwards it into the overlay
func (n *Node) Emit(event string, payload any) {
	n.Dispatch(Emission{Event: event, Payload: payload})
}

// EmitLocal dispatches event to local handlers only
func (n *Node) EmitLocal(event string, payload any) {
	n.Dispatch(Emission{Event: event, Payload: payload, LocalOnly: true})
}

// Request emits event and hands reply to whichever handler answers first
func (n *Node) Request(event string, payload any, reply events.Reply) {
	n.Dispatch(Emission{Event: event, Payload: payload, Reply: reply})
}

// Dispatch runs every local handler for the emission, in registration
// order, before anything is sent to the parent or to children.
func (n *Node) Dispatch(em Emission) {
	n.mu.RLock()
	self := n.name
	logger := n.logger
	parent, parentOut := n.parent, n.parentOut
	listening := n.role.Has(types.RoleServer)
	n.mu.RUnlock()

	logger.Debug().
		Str("event", em.Event).
		Str("payload", log.Payload(em.Payload)).
		Msg("emit")

	var reply events.Reply
	if em.Reply != nil {
		reply = events.OnceReply(em.Reply)
	}
	n.dispatchLocal(em.Event, em.Payload, reply)

	if em.LocalOnly || events.IsReserved(em.Event) {
		return
	}

	remote := events.Join(self, em.Event)
	if parent == nil && !listening {
		return
	}
	n.writeTransports(remote, em.Payload)

	if parent != nil {
		n.forwardUp(parent, parentOut, remote, em.Payload, reply)
	}
	if listening {
		n.fanOut(remote, em.Payload, "")
	}
}

func (n *Node) dispatchLocal(event string, payload any, reply events.Reply) {
	n.matcher.Dispatch(events.Event{Name: event, Payload: payload, Reply: reply})
	n.broker.Publish(&events.Record{Name: event, Payload: payload, Timestamp: time.Now()})
	metrics.EventsEmitted.WithLabelValues("local").Inc()
}

func (n *Node) writeTransports(event string, payload any) {
	for _, t := range n.transports {
		if err := t.Message(event, payload); err != nil {
			n.Logger().Warn().Err(err).Str("transport", t.Type()).Str("event", event).Msg("Transport failed")
		}
	}
}

// Children returns the spawn records of this node's children
func (n *Node) Children() []types.SpawnRecord {
	n.mu.RLock()
	defer n.mu.RUnlock()

	records := make([]types.SpawnRecord, 0, len(n.spawned))
	for _, r := range n.spawned {
		records = append(records, r)
	}
	return records
}

// Close leaves the overlay: it stops spawned children, drops the parent
// link, closes every child link and the listener, and closes transports.
func (n *Node) Close() error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	server, parent, parentOut := n.server, n.parent, n.parentOut
	spawned := n.spawned
	n.spawned = make(map[string]types.SpawnRecord)
	n.mu.Unlock()

	var err error
	for _, rec := range spawned {
		switch h := rec.Handle.(type) {
		case *monitor.Monitor:
			err = multierr.Append(err, h.Stop())
		case *Node:
			err = multierr.Append(err, h.Close())
		}
	}
	if parent != nil {
		parentOut.close()
		err = multierr.Append(err, parent.Close())
	}
	if server != nil {
		err = multierr.Append(err, server.Close())
	}
	for _, t := range n.transports {
		err = multierr.Append(err, t.Close())
	}
	n.broker.Close()

	if err != nil {
		return fmt.Errorf("failed to close hook %s: %w", n.Name(), err)
	}
	return nil
}

// Wait blocks until ctx is done, then closes the node
func (n *Node) Wait(ctx context.Context) error {
	<-ctx.Done()
	return n.Close()
}

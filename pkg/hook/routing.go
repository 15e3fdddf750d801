package hook

import (
	"context"
	"sync"

	"github.com/cuemby/hookio/pkg/events"
	"github.com/cuemby/hookio/pkg/metrics"
	"github.com/cuemby/hookio/pkg/rpc"
)

// Remote methods exposed across a link
const (
	methodReport   = "report"
	methodMessage  = "message"
	methodHasEvent = "hasEvent"
)

// outbox runs queued sends for one link in order on its own goroutine, so
// an emitter never waits on the network and a peer sees events in the order
// they were emitted.
type outbox struct {
	mu     sync.Mutex
	queue  []func()
	closed bool
	wake   chan struct{}
	done   chan struct{}
}

func newOutbox() *outbox {
	o := &outbox{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go o.run()
	return o
}

func (o *outbox) push(fn func()) bool {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return false
	}
	o.queue = append(o.queue, fn)
	o.mu.Unlock()

	select {
	case o.wake <- struct{}{}:
	default:
	}
	return true
}

func (o *outbox) run() {
	defer close(o.done)
	for {
		o.mu.Lock()
		items := o.queue
		o.queue = nil
		closed := o.closed
		o.mu.Unlock()

		for _, fn := range items {
			fn()
		}
		if closed {
			return
		}
		if len(items) == 0 {
			<-o.wake
		}
	}
}

func (o *outbox) close() {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()

	select {
	case o.wake <- struct{}{}:
	default:
	}
}

// forwardUp sends an event named {self}::{event} to the parent. With a
// reply the parent may answer back through it.
func (n *Node) forwardUp(parent *rpc.Link, out *outbox, event string, payload any, reply events.Reply) {
	out.push(func() {
		var err error
		if reply == nil {
			err = parent.Notify(methodMessage, event, payload)
		} else {
			err = parent.Go(context.Background(), methodMessage, func(result any, err error) {
				reply(err, result)
			}, event, payload)
		}
		if err != nil {
			n.Logger().Warn().Err(err).Str("event", event).Msg("Failed to forward event to parent")
			return
		}
		metrics.EventsEmitted.WithLabelValues("parent").Inc()
	})
}

// fanOut offers an event to every reported child except the one it came
// from. Each candidate is asked whether it has a handler first; events go
// only to children that do.
func (n *Node) fanOut(event string, payload any, fromSession string) {
	if events.IsReserved(event) {
		return
	}
	origin := events.Head(event)

	for _, c := range n.childLinks() {
		name := c.Name()
		if c.link.ID() == fromSession || name == "" || name == origin {
			continue
		}

		c := c
		c.out.push(func() {
			var interested bool
			if err := c.link.CallInto(context.Background(), methodHasEvent, &interested, event); err != nil {
				n.Logger().Debug().Err(err).Str("child", name).Str("event", event).Msg("Interest check failed")
				return
			}
			if !interested {
				metrics.EventsDropped.Inc()
				n.EmitLocal("hook::noevent", event)
				return
			}
			if err := c.link.Notify(methodMessage, event, payload); err != nil {
				n.Logger().Debug().Err(err).Str("child", name).Str("event", event).Msg("Failed to forward event to child")
				return
			}
			metrics.EventsEmitted.WithLabelValues("child").Inc()
		})
	}
}

func (n *Node) childLinks() []*child {
	n.mu.RLock()
	defer n.mu.RUnlock()

	children := make([]*child, 0, len(n.children))
	for _, c := range n.children {
		children = append(children, c)
	}
	return children
}

// handleChildMessage applies an event relayed by a child and offers it to
// the other children. It is never sent further up.
func (n *Node) handleChildMessage(c *child) rpc.Handler {
	return func(ctx context.Context, args rpc.Args, reply rpc.ReplyFunc) {
		event, payload := args.String(0), args.At(1)
		if event == "" {
			replyError(reply, errMissingEvent)
			return
		}

		n.Logger().Debug().Str("child", c.Name()).Str("event", event).Msg("message")
		n.dispatchLocal(event, payload, replyBridge(reply))

		if !events.IsReserved(event) {
			n.writeTransports(event, payload)
			n.fanOut(event, payload, c.link.ID())
		}
	}
}

// handleParentMessage applies an event pushed down by the parent locally
func (n *Node) handleParentMessage(ctx context.Context, args rpc.Args, reply rpc.ReplyFunc) {
	event, payload := args.String(0), args.At(1)
	if event == "" {
		replyError(reply, errMissingEvent)
		return
	}
	n.dispatchLocal(event, payload, replyBridge(reply))
}

// handleHasEvent answers the parent's interest check. Remote names carry
// the origin hook as first segment, so it is matched as a wildcard.
func (n *Node) handleHasEvent(ctx context.Context, args rpc.Args, reply rpc.ReplyFunc) {
	if reply != nil {
		reply(n.matcher.MatchesRemote(args.String(0)), nil)
	}
}

// replyBridge adapts a link reply to an event reply. Notifications carry
// no reply, so handlers see a nil Reply for them.
func replyBridge(reply rpc.ReplyFunc) events.Reply {
	if reply == nil {
		return nil
	}
	return func(err error, result any) {
		reply(result, err)
	}
}

func replyError(reply rpc.ReplyFunc, err error) {
	if reply != nil {
		reply(nil, err)
	}
}

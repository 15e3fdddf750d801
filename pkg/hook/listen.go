package hook

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"

	"github.com/cuemby/hookio/pkg/metrics"
	"github.com/cuemby/hookio/pkg/rpc"
	"github.com/cuemby/hookio/pkg/types"
)

// Start listens on the configured address. When another hook already owns
// the address the node joins it as a client instead.
func (n *Node) Start(ctx context.Context) error {
	err := n.Listen(ctx)
	if err == nil {
		return nil
	}

	if rpc.IsBindConflict(err) {
		n.Logger().Info().Str("addr", n.Addr()).Msg("Address in use, connecting as client")
		n.Emit("error::bind", n.Addr())
		return n.Connect(ctx)
	}

	n.Emit("error::unknown", err.Error())
	return err
}

// Listen binds the overlay port and accepts children
func (n *Node) Listen(ctx context.Context) error {
	n.mu.RLock()
	host, port := n.host, n.port
	listening, closed := n.role.Has(types.RoleServer), n.closed
	n.mu.RUnlock()

	if closed {
		return rpc.ErrClosed
	}
	if listening {
		return fmt.Errorf("hook %s is already listening on %s", n.Name(), n.Addr())
	}

	ips, err := n.resolver.ToIPs(ctx, host)
	if err != nil {
		return fmt.Errorf("failed to resolve bind host: %w", err)
	}

	srv, err := rpc.Listen(net.JoinHostPort(host, strconv.Itoa(port)), rpc.Options{
		CallTimeout: n.opts.CallTimeout,
		OnAccept:    n.accept,
	})
	if err != nil {
		return err
	}

	n.mu.Lock()
	n.server = srv
	n.port = srv.Port()
	n.role |= types.RoleServer
	name := n.name
	n.mu.Unlock()

	n.registry.RegisterSelf(types.PeerInfo{
		Name:     name,
		Type:     n.opts.Type,
		Remote:   types.Remote{Host: ips[0], Port: srv.Port()},
		IsServer: true,
	})

	go func() {
		if err := srv.Serve(); err != nil {
			n.Logger().Error().Err(err).Msg("Listener stopped")
			metrics.UpdateComponent("listener", false, err.Error())
		}
	}()

	addr := n.Addr()
	metrics.UpdateComponent("listener", true, addr)
	n.Logger().Info().Str("addr", addr).Msg("Listening")

	n.Emit("hook::listening", addr)
	n.Emit("hook::ready", addr)
	return nil
}

func (n *Node) accept(l *rpc.Link) {
	c := &child{link: l, out: newOutbox()}

	n.mu.Lock()
	n.children[l.ID()] = c
	n.mu.Unlock()

	l.Handle(methodReport, n.handleReport(c))
	l.Handle(methodMessage, n.handleChildMessage(c))
	l.OnEnd(func(err error) {
		n.dropChild(c, err)
	})

	n.Emit("connection::open", l.Remote().String())
}

// handleReport negotiates a unique name for a newly connected child
func (n *Node) handleReport(c *child) rpc.Handler {
	return func(ctx context.Context, args rpc.Args, reply rpc.ReplyFunc) {
		if reply == nil {
			return
		}
		proposed, hookType := args.String(0), args.String(1)
		if proposed == "" {
			reply(nil, errors.New("report without a name"))
			return
		}
		if name := c.Name(); name != "" {
			reply(name, nil)
			return
		}

		name := n.registry.Negotiate(proposed)
		info, err := n.registry.Bind(name, hookType, c.link.ID(), c.link.Remote())
		if err != nil {
			reply(nil, err)
			return
		}
		metrics.PeersConnected.Inc()
		select {
		case <-c.link.Done():
			// the link ended while negotiating; dropChild may have missed the entry
			if _, ok := n.registry.RemoveSession(c.link.ID()); ok {
				metrics.PeersConnected.Dec()
			}
			reply(nil, rpc.ErrClosed)
			return
		default:
		}
		c.setName(name)

		n.Logger().Info().
			Str("child", name).
			Str("child_type", hookType).
			Str("remote", info.Remote.String()).
			Msg("Child connected")

		n.Emit("client::connected", name)
		reply(name, nil)
	}
}

func (n *Node) dropChild(c *child, err error) {
	c.out.close()

	n.mu.Lock()
	delete(n.children, c.link.ID())
	n.mu.Unlock()

	info, ok := n.registry.RemoveSession(c.link.ID())
	if !ok {
		return
	}
	metrics.PeersConnected.Dec()

	logger := n.Logger()
	ev := logger.Info()
	if err != nil {
		ev = logger.Warn().Err(err)
	}
	ev.Str("child", info.Name).Msg("Child disconnected")

	n.Emit("client::disconnected", info.Name)
}

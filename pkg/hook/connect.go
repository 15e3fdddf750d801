package hook

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/cuemby/hookio/pkg/dns"
	"github.com/cuemby/hookio/pkg/metrics"
	"github.com/cuemby/hookio/pkg/rpc"
	"github.com/cuemby/hookio/pkg/types"
)

// Connect joins the hook listening on the configured address as its child.
// The parent may hand back a different name, which the node adopts.
func (n *Node) Connect(ctx context.Context) error {
	n.mu.RLock()
	connected, closed := n.parent != nil, n.closed
	n.mu.RUnlock()

	if closed {
		return rpc.ErrClosed
	}
	if connected {
		return fmt.Errorf("hook %s is already connected", n.Name())
	}

	addr := n.dialAddr()
	link, err := rpc.Dial(ctx, addr, rpc.Options{CallTimeout: n.opts.CallTimeout})
	if err != nil {
		return err
	}
	link.Handle(methodMessage, n.handleParentMessage)
	link.Handle(methodHasEvent, n.handleHasEvent)
	go func() {
		_ = link.Serve()
	}()

	var name string
	if err := link.CallInto(ctx, methodReport, &name, n.Name(), n.Type()); err != nil {
		_ = link.Close()
		return fmt.Errorf("failed to report to %s: %w", addr, err)
	}

	out := newOutbox()
	n.mu.Lock()
	n.name = name
	n.logger = n.peerLogger(name)
	n.parent = link
	n.parentOut = out
	n.role |= types.RoleClient
	listening := n.role.Has(types.RoleServer)
	port := n.port
	n.mu.Unlock()

	if listening {
		if self, ok := n.registry.Self(); ok {
			self.Name = name
			n.registry.RegisterSelf(self)
		}
	}

	link.OnEnd(func(err error) {
		n.mu.Lock()
		if n.parent == link {
			n.parent = nil
			n.parentOut = nil
			n.role &^= types.RoleClient
		}
		n.mu.Unlock()
		out.close()

		metrics.UpdateComponent("parent", false, "disconnected")
		n.Logger().Info().Str("parent", addr).Msg("Parent connection ended")
		n.Emit("connection::end", addr)
	})

	metrics.UpdateComponent("parent", true, addr)
	n.Logger().Info().Str("parent", addr).Msg("Connected")

	n.Emit("hook::connected", port)
	n.Emit("hook::ready", port)
	return nil
}

// dialAddr is the parent address; a wildcard bind host is reached through
// loopback
func (n *Node) dialAddr() string {
	n.mu.RLock()
	host, port := n.host, n.port
	n.mu.RUnlock()

	if dns.IsWildcard(host) {
		if ip := net.ParseIP(host); ip != nil && ip.To4() == nil {
			host = "::1"
		} else {
			host = "127.0.0.1"
		}
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

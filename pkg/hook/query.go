package hook

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/cuemby/hookio/pkg/events"
	"github.com/cuemby/hookio/pkg/metrics"
	"github.com/cuemby/hookio/pkg/registry"
	"github.com/cuemby/hookio/pkg/rpc"
	"github.com/cuemby/hookio/pkg/types"
)

// Events answered by a listening hook with details about known peers.
// Clients emit them unprefixed; they reach the parent as {client}::query.
var queryEvents = []string{"hookDetails", "*::hookDetails", "query", "*::query"}

func (n *Node) registerQueryHandlers() {
	for _, pattern := range queryEvents {
		n.On(pattern, n.onQuery)
	}
}

// onQuery answers discovery events. Only a listening hook answers, so a
// client's own handler stays silent and its parent's answer wins.
func (n *Node) onQuery(e events.Event) {
	if !n.Listening() {
		return
	}

	var q types.Query
	if e.Payload != nil {
		if err := e.Decode(&q); err != nil {
			if e.Reply != nil {
				e.Reply(err, nil)
			}
			return
		}
	}

	reply := e.Reply
	if reply == nil {
		reply = func(err error, result any) {
			n.Emit("query::out", types.QueryOut{Query: q, Details: details(result)})
		}
	}

	// name and type are answered inline; host and event need the network
	if q.Name != "" || q.Type != "" {
		result, err := n.answer(context.Background(), q)
		reply(err, result)
		return
	}
	go func() {
		result, err := n.answer(context.Background(), q)
		reply(err, result)
	}()
}

// answer runs q against the registry. A name query yields a single
// PeerInfo, every other query a slice that is empty, never nil, on error.
func (n *Node) answer(ctx context.Context, q types.Query) (any, error) {
	switch {
	case q.Name != "":
		metrics.QueriesTotal.WithLabelValues("name").Inc()
		info, err := n.registry.Get(q.Name)
		if err != nil {
			return nil, err
		}
		return info, nil

	case q.Type != "":
		metrics.QueriesTotal.WithLabelValues("type").Inc()
		return n.registry.ByType(q.Type)

	case q.Host != "":
		metrics.QueriesTotal.WithLabelValues("host").Inc()
		ips, err := n.resolver.ToIPs(ctx, q.Host)
		if err != nil {
			return []types.PeerInfo{}, err
		}
		return n.registry.ByHost(q.Host, ips)

	case q.Event != "":
		metrics.QueriesTotal.WithLabelValues("event").Inc()
		return n.peersWithEvent(ctx, q.Event)

	default:
		metrics.QueriesTotal.WithLabelValues("all").Inc()
		return n.registry.List(), nil
	}
}

// peersWithEvent asks every connected child whether it handles event, all
// at once, and adds this hook when it handles event itself
func (n *Node) peersWithEvent(ctx context.Context, event string) ([]types.PeerInfo, error) {
	var candidates []*child
	for _, c := range n.childLinks() {
		if c.Name() != "" {
			candidates = append(candidates, c)
		}
	}

	interested := make([]bool, len(candidates))
	errs := make([]error, len(candidates))
	var wg sync.WaitGroup
	for i, c := range candidates {
		wg.Add(1)
		go func(i int, c *child) {
			defer wg.Done()
			errs[i] = c.link.CallInto(ctx, methodHasEvent, &interested[i], event)
		}(i, c)
	}
	wg.Wait()

	found := []types.PeerInfo{}
	for i, c := range candidates {
		if errs[i] != nil {
			return []types.PeerInfo{}, fmt.Errorf("interest check on %s failed: %w", c.Name(), errs[i])
		}
		if !interested[i] {
			continue
		}
		if info, err := n.registry.Get(c.Name()); err == nil {
			found = append(found, info)
		}
	}

	if n.matcher.Matches(event) {
		if self, ok := n.registry.Self(); ok {
			found = append(found, self)
		}
	}
	return found, nil
}

// Query runs a discovery query. A listening hook answers from its own
// registry; a client asks its parent and waits for the answer.
func (n *Node) Query(ctx context.Context, q types.Query) ([]types.PeerInfo, error) {
	if n.Listening() {
		result, err := n.answer(ctx, q)
		return details(result), err
	}
	if !n.Connected() {
		return nil, ErrNotConnected
	}

	type answer struct {
		result any
		err    error
	}
	done := make(chan answer, 1)
	n.Request("hookDetails", q, func(err error, result any) {
		done <- answer{result: result, err: err}
	})

	select {
	case a := <-done:
		return details(a.result), a.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// details normalizes a query result to a slice. Results that crossed a
// link arrive as generic JSON values.
func details(result any) []types.PeerInfo {
	switch v := result.(type) {
	case nil:
		return []types.PeerInfo{}
	case types.PeerInfo:
		return []types.PeerInfo{v}
	case []types.PeerInfo:
		if v == nil {
			return []types.PeerInfo{}
		}
		return v
	case []any:
		out := make([]types.PeerInfo, 0, len(v))
		for _, item := range v {
			var info types.PeerInfo
			if err := rpc.Decode(item, &info); err == nil {
				out = append(out, info)
			}
		}
		return out
	default:
		var info types.PeerInfo
		if err := rpc.Decode(v, &info); err != nil || info.Name == "" {
			return []types.PeerInfo{}
		}
		return []types.PeerInfo{info}
	}
}

// IsNotFound reports whether a query failed because nothing matched,
// including misses reported by a parent hook
func IsNotFound(err error) bool {
	if errors.Is(err, registry.ErrNotFound) {
		return true
	}
	var remote *rpc.RemoteError
	return errors.As(err, &remote) && strings.Contains(remote.Message, registry.ErrNotFound.Error())
}

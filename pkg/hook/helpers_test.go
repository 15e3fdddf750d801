package hook

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/cuemby/hookio/pkg/events"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = 5 * time.Second
	tick    = 10 * time.Millisecond
)

// freePort returns a loopback port that was free a moment ago
func freePort(t *testing.T) int {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := lis.Addr().(*net.TCPAddr).Port
	require.NoError(t, lis.Close())
	return port
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	t.Cleanup(cancel)
	return ctx
}

func listenNode(t *testing.T, opts Options) *Node {
	t.Helper()
	if opts.CallTimeout == 0 {
		opts.CallTimeout = waitFor
	}
	n := New(opts)
	require.NoError(t, n.Listen(testContext(t)))
	t.Cleanup(func() { _ = n.Close() })
	return n
}

func connectNode(t *testing.T, opts Options) *Node {
	t.Helper()
	if opts.CallTimeout == 0 {
		opts.CallTimeout = waitFor
	}
	n := New(opts)
	require.NoError(t, n.Connect(testContext(t)))
	t.Cleanup(func() { _ = n.Close() })
	return n
}

// connectChild connects a client and waits until the server has registered
// it under its negotiated name
func connectChild(t *testing.T, server *Node, opts Options) *Node {
	t.Helper()
	opts.Port = server.Port()
	c := connectNode(t, opts)
	require.Eventually(t, func() bool {
		_, err := server.Registry().Get(c.Name())
		return err == nil
	}, waitFor, tick)
	return c
}

// recorder collects events matching a pattern
type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func record(n *Node, pattern string) *recorder {
	r := &recorder{}
	n.On(pattern, func(e events.Event) {
		r.mu.Lock()
		r.events = append(r.events, e)
		r.mu.Unlock()
	})
	return r
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func (r *recorder) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.events))
	for _, e := range r.events {
		names = append(names, e.Name)
	}
	return names
}

func (r *recorder) last() events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[len(r.events)-1]
}

// memTransport records everything written to it
type memTransport struct {
	mu       sync.Mutex
	messages []string
	closed   bool
}

func (m *memTransport) Type() string { return "memory" }

func (m *memTransport) Message(event string, payload any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, event)
	return nil
}

func (m *memTransport) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *memTransport) events() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.messages...)
}

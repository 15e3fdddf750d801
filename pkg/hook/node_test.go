package hook

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/cuemby/hookio/pkg/events"
	"github.com/cuemby/hookio/pkg/journal"
	"github.com/cuemby/hookio/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaults(t *testing.T) {
	tests := []struct {
		name     string
		opts     Options
		wantName string
		wantType string
	}{
		{name: "empty", opts: Options{}, wantName: "hook", wantType: "hook"},
		{name: "name only", opts: Options{Name: "a"}, wantName: "a", wantType: "a"},
		{name: "type only", opts: Options{Type: "echo"}, wantName: "echo", wantType: "echo"},
		{name: "both", opts: Options{Name: "a", Type: "echo"}, wantName: "a", wantType: "echo"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := New(tt.opts)
			assert.Equal(t, tt.wantName, n.Name())
			assert.Equal(t, tt.wantType, n.Type())
			assert.Equal(t, DefaultPort, n.Port())
			assert.Equal(t, types.RoleUnbound, n.Role())
		})
	}
}

func TestLocalDispatch(t *testing.T) {
	var got []string
	n := New(Options{
		Name: "a",
		EventMap: map[string]events.Handler{
			"job::*": func(e events.Event) { got = append(got, "map:"+e.Name) },
		},
	})

	off := n.On("job::done", func(e events.Event) { got = append(got, "on:"+e.Name) })
	n.Once("job::*", func(e events.Event) { got = append(got, "once:"+e.Name) })

	n.Emit("job::done", nil)
	n.Emit("job::done", nil)
	off()
	n.EmitLocal("job::done", nil)

	assert.Equal(t, []string{
		"map:job::done", "on:job::done", "once:job::done",
		"map:job::done", "on:job::done",
		"map:job::done",
	}, got)
	assert.Contains(t, n.Patterns(), "*::getEvents")
	assert.Contains(t, n.Patterns(), "job::*")
}

func TestLocalRequest(t *testing.T) {
	n := New(Options{Name: "a"})
	n.On("double", func(e events.Event) {
		var v int
		require.NoError(t, e.Decode(&v))
		e.Reply(nil, v*2)
		e.Reply(nil, -1)
	})

	var results []any
	n.Request("double", 4, func(err error, result any) {
		assert.NoError(t, err)
		results = append(results, result)
	})
	assert.Equal(t, []any{8}, results)
}

func TestSubscribeTapsDispatch(t *testing.T) {
	n := New(Options{Name: "a"})
	sub := n.Subscribe("job::*")
	defer n.Unsubscribe(sub)

	n.Emit("job::done", "x")
	n.Emit("other", "y")

	select {
	case rec := <-sub:
		assert.Equal(t, "job::done", rec.Name)
		assert.Equal(t, "x", rec.Payload)
	case <-time.After(waitFor):
		t.Fatal("no record")
	}
	assert.Empty(t, sub)
}

// Scenario A: a client connecting with the server's own name is renamed,
// and can discover the server by name.
func TestScenarioNameNegotiationAndDiscovery(t *testing.T) {
	server := listenNode(t, Options{Name: "server", Port: 5010})
	assert.True(t, server.Listening())
	assert.Equal(t, 5010, server.Port())

	client := connectChild(t, server, Options{Name: "server"})
	assert.NotEqual(t, server.Name(), client.Name())
	assert.Equal(t, "server-0", client.Name())
	assert.True(t, client.Connected())
	assert.False(t, client.Listening())

	found, err := client.Query(testContext(t), types.Query{Name: "server"})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "server", found[0].Name)
	assert.Equal(t, DefaultHost, found[0].Remote.Host)
	assert.Equal(t, 5010, found[0].Remote.Port)
	assert.True(t, found[0].IsServer)
}

// Scenario B: discovery by type and by host across two children.
func TestScenarioDiscoveryByTypeAndHost(t *testing.T) {
	server := listenNode(t, Options{Name: "server", Port: freePort(t)})
	c1 := connectChild(t, server, Options{Name: "c1", Type: "t"})
	c2 := connectChild(t, server, Options{Name: "c2", Type: "t2"})

	byType, err := c1.Query(testContext(t), types.Query{Type: "t"})
	require.NoError(t, err)
	require.Len(t, byType, 1)
	assert.Equal(t, c1.Name(), byType[0].Name)
	assert.Equal(t, "t", byType[0].Type)

	byHost, err := c2.Query(testContext(t), types.Query{Host: "127.0.0.1"})
	require.NoError(t, err)
	names := make([]string, 0, len(byHost))
	for _, p := range byHost {
		names = append(names, p.Name)
	}
	assert.ElementsMatch(t, []string{"server", "c1", "c2"}, names)

	local, err := server.Query(testContext(t), types.Query{Type: "t2"})
	require.NoError(t, err)
	require.Len(t, local, 1)
	assert.Equal(t, "c2", local[0].Name)
	assert.Equal(t, "127.0.0.1", local[0].Remote.Host)
}

// Scenario C: a second hook on a taken port becomes a client of the first.
func TestScenarioBindConflictFallsBackToClient(t *testing.T) {
	first := New(Options{Name: "first", Port: 5011, CallTimeout: waitFor})
	require.NoError(t, first.Start(testContext(t)))
	t.Cleanup(func() { _ = first.Close() })
	connected := record(first, "client::connected")

	second := New(Options{Name: "first", Port: 5011, CallTimeout: waitFor})
	bind := record(second, "error::bind")
	ready := record(second, "hook::ready")
	require.NoError(t, second.Start(testContext(t)))
	t.Cleanup(func() { _ = second.Close() })

	assert.True(t, first.Listening())
	assert.False(t, second.Listening())
	assert.True(t, second.Connected())
	assert.Equal(t, types.RoleClient, second.Role())
	assert.Equal(t, 1, bind.count())
	assert.Equal(t, 1, ready.count())
	assert.Equal(t, "first-0", second.Name())

	require.Eventually(t, func() bool { return connected.count() == 1 }, waitFor, tick)
	assert.Equal(t, "first-0", connected.last().Payload)
}

func TestClientEventsReachParentAndSiblings(t *testing.T) {
	server := listenNode(t, Options{Name: "server", Port: freePort(t)})
	c1 := connectChild(t, server, Options{Name: "c1"})
	c2 := connectChild(t, server, Options{Name: "c2"})

	atServer := record(server, "*::ping")
	atSibling := record(c2, "*::ping")
	atSelf := record(c1, "*::ping")
	local := record(c1, "ping")

	c1.Emit("ping", map[string]any{"n": 1})

	assert.Equal(t, 1, local.count())
	require.Eventually(t, func() bool { return atSibling.count() == 1 }, waitFor, tick)
	require.Eventually(t, func() bool { return atServer.count() == 1 }, waitFor, tick)

	e := atSibling.last()
	assert.Equal(t, "c1::ping", e.Name)
	var payload map[string]int
	require.NoError(t, e.Decode(&payload))
	assert.Equal(t, 1, payload["n"])

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 0, atSelf.count())
}

func TestServerEventsReachChildren(t *testing.T) {
	server := listenNode(t, Options{Name: "server", Port: freePort(t)})
	c1 := connectChild(t, server, Options{Name: "c1"})
	got := record(c1, "*::announce")

	server.Emit("announce", "hello")

	require.Eventually(t, func() bool { return got.count() == 1 }, waitFor, tick)
	assert.Equal(t, "server::announce", got.last().Name)
	assert.Equal(t, "hello", got.last().Payload)
}

func TestInterestGateDropsUnwantedEvents(t *testing.T) {
	server := listenNode(t, Options{Name: "server", Port: freePort(t)})
	c1 := connectChild(t, server, Options{Name: "c1"})
	c2 := connectChild(t, server, Options{Name: "c2"})
	noevent := record(server, "hook::noevent")
	unrelated := record(c2, "*::other")

	c1.Emit("pong", nil)

	require.Eventually(t, func() bool { return noevent.count() == 1 }, waitFor, tick)
	assert.Equal(t, "c1::pong", noevent.last().Payload)
	assert.Equal(t, 0, unrelated.count())
}

func TestReservedAndLocalEventsStayLocal(t *testing.T) {
	transport := &memTransport{}
	server := listenNode(t, Options{Name: "server", Port: freePort(t)})
	c1 := connectChild(t, server, Options{Name: "c1", Transports: []Transport{transport}})

	sub := server.Subscribe("c1::*")
	defer server.Unsubscribe(sub)
	reserved := server.Subscribe("c1::*::*")
	defer server.Unsubscribe(reserved)

	c1.Emit("hook::custom", nil)
	c1.Emit("client::custom", nil)
	c1.EmitLocal("quiet", nil)
	c1.Emit("loud", nil)

	select {
	case rec := <-sub:
		assert.Equal(t, "c1::loud", rec.Name)
	case <-time.After(waitFor):
		t.Fatal("forwarded event never arrived")
	}
	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, sub)
	assert.Empty(t, reserved)
	assert.Equal(t, []string{"c1::loud"}, transport.events())
}

func TestRequestAnsweredByParent(t *testing.T) {
	server := listenNode(t, Options{Name: "server", Port: freePort(t)})
	server.On("*::double", func(e events.Event) {
		var v int
		if err := e.Decode(&v); err != nil {
			e.Reply(err, nil)
			return
		}
		e.Reply(nil, v*2)
	})
	c1 := connectChild(t, server, Options{Name: "c1"})

	result := make(chan any, 1)
	c1.Request("double", 21, func(err error, r any) {
		assert.NoError(t, err)
		result <- r
	})

	select {
	case r := <-result:
		assert.Equal(t, float64(42), r)
	case <-time.After(waitFor):
		t.Fatal("no reply from parent")
	}
}

func TestGetEvents(t *testing.T) {
	server := listenNode(t, Options{Name: "server", Port: freePort(t)})
	c1 := connectChild(t, server, Options{Name: "c1"})
	got := record(c1, "*::gotEvents")

	c1.Emit("getEvents", nil)

	require.Eventually(t, func() bool { return got.count() == 1 }, waitFor, tick)
	var patterns []string
	require.NoError(t, got.last().Decode(&patterns))
	assert.Contains(t, patterns, "*::getEvents")
	assert.Contains(t, patterns, "*::hookDetails")
}

func TestDisconnectDeregisters(t *testing.T) {
	server := listenNode(t, Options{Name: "server", Port: freePort(t)})
	disconnected := record(server, "client::disconnected")
	opened := record(server, "connection::open")

	c1 := connectChild(t, server, Options{Name: "c1"})
	ended := record(c1, "connection::end")
	assert.Equal(t, 2, server.Registry().Len())
	assert.Equal(t, 1, opened.count())

	require.NoError(t, c1.Close())

	require.Eventually(t, func() bool { return disconnected.count() == 1 }, waitFor, tick)
	assert.Equal(t, "c1", disconnected.last().Payload)
	_, err := server.Registry().Get("c1")
	assert.True(t, IsNotFound(err))
	assert.Equal(t, 1, server.Registry().Len())
	require.Eventually(t, func() bool { return ended.count() == 1 }, waitFor, tick)
	assert.False(t, c1.Connected())
}

func TestParentCloseEndsChildConnection(t *testing.T) {
	server := New(Options{Name: "server", Port: freePort(t), CallTimeout: waitFor})
	require.NoError(t, server.Listen(testContext(t)))

	c1 := connectChild(t, server, Options{Name: "c1"})
	ended := record(c1, "connection::end")

	require.NoError(t, server.Close())
	require.Eventually(t, func() bool { return ended.count() == 1 }, waitFor, tick)
	assert.False(t, c1.Connected())
	assert.NoError(t, server.Close())
}

func TestJournalTransportRecordsRelayedEvents(t *testing.T) {
	j, err := journal.Open(filepath.Join(t.TempDir(), "events.db"))
	require.NoError(t, err)

	server := listenNode(t, Options{Name: "server", Port: freePort(t), Transports: []Transport{j}})
	c1 := connectChild(t, server, Options{Name: "c1"})

	c1.Emit("ping", "one")
	require.Eventually(t, func() bool {
		n, err := j.Len()
		return err == nil && n == 1
	}, waitFor, tick)

	var names []string
	require.NoError(t, j.Replay(func(e journal.Entry) error {
		names = append(names, e.Event)
		return nil
	}))
	assert.Equal(t, []string{"c1::ping"}, names)
}

func TestQueryMisses(t *testing.T) {
	server := listenNode(t, Options{Name: "server", Port: freePort(t)})
	c1 := connectChild(t, server, Options{Name: "c1", Type: "t"})

	queries := []types.Query{
		{Name: "nobody"},
		{Type: "missing"},
		{Host: "10.255.255.1"},
	}
	for _, q := range queries {
		t.Run("local "+q.String(), func(t *testing.T) {
			found, err := server.Query(testContext(t), q)
			require.Error(t, err)
			assert.True(t, IsNotFound(err))
			assert.NotNil(t, found)
			assert.Empty(t, found)
		})
		t.Run("remote "+q.String(), func(t *testing.T) {
			found, err := c1.Query(testContext(t), q)
			require.Error(t, err)
			assert.True(t, IsNotFound(err))
			assert.NotNil(t, found)
			assert.Empty(t, found)
		})
	}

	found, err := c1.Query(testContext(t), types.Query{Event: "nothing::here"})
	require.NoError(t, err)
	assert.Empty(t, found)
}

func TestQueryByEvent(t *testing.T) {
	server := listenNode(t, Options{Name: "server", Port: freePort(t)})
	worker := connectChild(t, server, Options{Name: "worker"})
	idle := connectChild(t, server, Options{Name: "idle"})
	worker.On("*::work", func(events.Event) {})

	found, err := idle.Query(testContext(t), types.Query{Event: "server::work"})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "worker", found[0].Name)

	server.On("*::work", func(events.Event) {})
	found, err = server.Query(testContext(t), types.Query{Event: "x::work"})
	require.NoError(t, err)
	names := make([]string, 0, len(found))
	for _, p := range found {
		names = append(names, p.Name)
	}
	assert.ElementsMatch(t, []string{"worker", "server"}, names)
}

func TestQueryOutWithoutReply(t *testing.T) {
	server := listenNode(t, Options{Name: "server", Port: freePort(t)})
	c1 := connectChild(t, server, Options{Name: "c1", Type: "t"})
	out := record(c1, "*::query::out")

	c1.Emit("query", types.Query{Type: "t"})

	require.Eventually(t, func() bool { return out.count() == 1 }, waitFor, tick)
	e := out.last()
	assert.Equal(t, "server::query::out", e.Name)

	var qo types.QueryOut
	require.NoError(t, e.Decode(&qo))
	assert.Equal(t, "t", qo.Query.Type)
	require.Len(t, qo.Details, 1)
	assert.Equal(t, "c1", qo.Details[0].Name)
}

package hook

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/cuemby/hookio/pkg/events"
	"github.com/cuemby/hookio/pkg/monitor"
	"github.com/cuemby/hookio/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpawnRequiresListening(t *testing.T) {
	n := New(Options{Name: "lonely"})
	failed := record(n, "error::spawn")

	err := n.SpawnTypes(context.Background(), "hook")
	require.ErrorIs(t, err, ErrNotListening)
	assert.Equal(t, 1, failed.count())
	assert.Empty(t, n.Children())
}

func TestSpawnNothingIsReadyAtOnce(t *testing.T) {
	server := listenNode(t, Options{Name: "server", Port: freePort(t)})
	ready := record(server, "children::ready")

	require.NoError(t, server.Spawn(testContext(t)))
	assert.Equal(t, 1, ready.count())
}

func TestSpawnInProcess(t *testing.T) {
	factory := NewFactory()
	greeted := make(chan string, 1)
	factory.Register("greeter", func(opts Options) (*Node, error) {
		opts.EventMap = map[string]events.Handler{
			"*::hello": func(e events.Event) { greeted <- e.Name },
		}
		return New(opts), nil
	})

	server := listenNode(t, Options{Name: "server", Port: freePort(t), Factory: factory})
	ready := record(server, "children::ready")
	spawning := record(server, "hook::spawning")
	spawned := record(server, "children::spawned")

	err := server.Spawn(testContext(t),
		types.SpawnSpec{Name: "g", Type: "greeter"},
		types.SpecFor("hook"),
	)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return ready.count() == 1 }, waitFor, tick)
	assert.Equal(t, 2, spawning.count())
	assert.Equal(t, 1, spawned.count())

	children := server.Children()
	require.Len(t, children, 2)
	for _, c := range children {
		assert.Equal(t, types.SpawnInProcess, c.Mode)
		assert.IsType(t, &Node{}, c.Handle)
	}

	g, err := server.Registry().Get("g")
	require.NoError(t, err)
	assert.Equal(t, "greeter", g.Type)

	server.Emit("hello", nil)
	select {
	case name := <-greeted:
		assert.Equal(t, "server::hello", name)
	case <-time.After(waitFor):
		t.Fatal("in-process child never received the event")
	}

	// a later connection does not fire children::ready again
	connectChild(t, server, Options{Name: "late"})
	assert.Equal(t, 1, ready.count())
}

func TestSpawnUnknownType(t *testing.T) {
	server := listenNode(t, Options{Name: "server", Port: freePort(t), Factory: NewFactory()})
	failed := record(server, "error::spawn")

	err := server.SpawnTypes(testContext(t), "missing")
	require.ErrorIs(t, err, ErrUnknownType)
	assert.Equal(t, 1, failed.count())
}

func TestSpawnKeepsCallerSpecs(t *testing.T) {
	server := listenNode(t, Options{Name: "server", Port: freePort(t)})
	ready := record(server, "children::ready")

	specs := []types.SpawnSpec{{Name: "plain", Type: "hook"}}
	require.NoError(t, server.Spawn(testContext(t), specs...))
	require.Eventually(t, func() bool { return ready.count() == 1 }, waitFor, tick)

	assert.Empty(t, specs[0].Host)
	assert.Zero(t, specs[0].Port)
}

func TestSpawnInvalidSpec(t *testing.T) {
	server := listenNode(t, Options{Name: "server", Port: freePort(t)})

	err := server.Spawn(testContext(t), types.SpawnSpec{Name: "nameless"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "has no type")
}

func TestSpawnOutOfProcess(t *testing.T) {
	dir := t.TempDir()
	var (
		mu      sync.Mutex
		gotArgs []string
		gotOpts monitor.Options
	)
	launcher := func(args []string, opts monitor.Options) *monitor.Monitor {
		mu.Lock()
		gotArgs, gotOpts = args, opts
		mu.Unlock()
		opts.LogFile = filepath.Join(dir, filepath.Base(opts.LogFile))
		opts.Silent = true
		return monitor.New("/bin/sh", []string{"-c", "sleep 30"}, opts)
	}

	server := listenNode(t, Options{Name: "server", Port: freePort(t), Launcher: launcher})
	started := record(server, "child::start")
	exited := record(server, "child::exit")

	err := server.Spawn(testContext(t), types.SpawnSpec{
		Name:  "worker",
		Type:  "echo",
		Extra: map[string]any{"verbose": true},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, started.count())

	mu.Lock()
	spec, err := ParseArgs(gotArgs)
	opts := gotOpts
	mu.Unlock()
	require.NoError(t, err)
	assert.Equal(t, "worker", spec.Name)
	assert.Equal(t, "echo", spec.Type)
	assert.Equal(t, DefaultHost, spec.Host)
	assert.Equal(t, server.Port(), spec.Port)
	assert.Equal(t, "true", spec.Extra["verbose"])
	assert.Equal(t, DefaultMaxRestarts, opts.MaxRestarts)
	assert.False(t, opts.Silent)
	assert.Equal(t, "forever-echo-worker", opts.LogFile)

	children := server.Children()
	require.Len(t, children, 1)
	assert.Equal(t, types.SpawnOutOfProcess, children[0].Mode)
	mon, ok := children[0].Handle.(*monitor.Monitor)
	require.True(t, ok)
	assert.Positive(t, mon.PID())

	require.NoError(t, server.Close())
	require.Eventually(t, func() bool { return exited.count() == 1 }, waitFor, tick)
	assert.Empty(t, server.Children())
}

func TestLocalForcesInProcess(t *testing.T) {
	n := New(Options{Local: true, Launcher: ExecLauncher("/bin/true")})
	assert.Equal(t, types.SpawnInProcess, n.spawnMode())

	n = New(Options{Launcher: ExecLauncher("/bin/true")})
	assert.Equal(t, types.SpawnOutOfProcess, n.spawnMode())

	n = New(Options{})
	assert.Equal(t, types.SpawnInProcess, n.spawnMode())
}

package hook

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/cuemby/hookio/pkg/events"
	"github.com/cuemby/hookio/pkg/metrics"
	"github.com/cuemby/hookio/pkg/monitor"
	"github.com/cuemby/hookio/pkg/types"
)

// SpawnTypes spawns one child per type, each named after its type
func (n *Node) SpawnTypes(ctx context.Context, hookTypes ...string) error {
	specs := make([]types.SpawnSpec, 0, len(hookTypes))
	for _, t := range hookTypes {
		specs = append(specs, types.SpecFor(t))
	}
	return n.Spawn(ctx, specs...)
}

// Spawn starts children that connect back to this hook. It returns once
// every child has started, or with the first failure; children already
// started keep running. children::ready fires once as many children have
// reported in as were requested.
func (n *Node) Spawn(ctx context.Context, specs ...types.SpawnSpec) error {
	if !n.Listening() {
		return n.spawnFailed(fmt.Errorf("cannot spawn children: %w", ErrNotListening))
	}

	n.mu.RLock()
	host, port := n.host, n.port
	n.mu.RUnlock()

	specs = append([]types.SpawnSpec(nil), specs...)
	names := make([]string, 0, len(specs))
	for i := range specs {
		if specs[i].Host == "" {
			specs[i].Host = host
		}
		if specs[i].Port == 0 {
			specs[i].Port = port
		}
		if err := specs[i].Validate(); err != nil {
			return n.spawnFailed(err)
		}
		names = append(names, specs[i].Name)
	}

	mode := n.spawnMode()
	n.awaitChildren(names)

	errs := make(chan error, len(specs))
	for _, spec := range specs {
		go func(spec types.SpawnSpec) {
			errs <- n.spawnOne(ctx, spec, mode)
		}(spec)
	}

	for range specs {
		select {
		case err := <-errs:
			if err != nil {
				return n.spawnFailed(err)
			}
		case <-ctx.Done():
			return n.spawnFailed(ctx.Err())
		}
	}

	n.Logger().Info().Strs("children", names).Str("mode", string(mode)).Msg("Children spawned")
	n.Emit("children::spawned", names)
	return nil
}

func (n *Node) spawnFailed(err error) error {
	n.Logger().Error().Err(err).Msg("Spawn failed")
	n.Emit("error::spawn", err.Error())
	return err
}

func (n *Node) spawnMode() types.SpawnMode {
	if n.opts.Local || n.opts.Launcher == nil {
		return types.SpawnInProcess
	}
	return types.SpawnOutOfProcess
}

// awaitChildren counts client::connected until it reaches len(names), then
// fires children::ready and stops counting
func (n *Node) awaitChildren(names []string) {
	if len(names) == 0 {
		n.Emit("children::ready", names)
		return
	}

	var (
		count int64
		mu    sync.Mutex
		off   func()
		done  bool
	)
	detach := n.On("client::connected", func(events.Event) {
		if atomic.AddInt64(&count, 1) != int64(len(names)) {
			return
		}
		n.Emit("children::ready", names)

		mu.Lock()
		done = true
		if off != nil {
			off()
		}
		mu.Unlock()
	})

	mu.Lock()
	off = detach
	if done {
		off()
	}
	mu.Unlock()
}

func (n *Node) spawnOne(ctx context.Context, spec types.SpawnSpec, mode types.SpawnMode) error {
	n.Emit("hook::spawning", spec.Name)
	metrics.SpawnsTotal.WithLabelValues(string(mode)).Inc()

	if mode == types.SpawnInProcess {
		return n.spawnInProcess(ctx, spec)
	}
	return n.spawnOutOfProcess(ctx, spec)
}

func (n *Node) spawnInProcess(ctx context.Context, spec types.SpawnSpec) error {
	c, err := n.factory.Create(spec.Type, Options{
		Name:        spec.Name,
		Host:        spec.Host,
		Port:        spec.Port,
		Debug:       n.opts.Debug,
		Local:       true,
		CallTimeout: n.opts.CallTimeout,
		Resolver:    n.resolver,
		Factory:     n.factory,
		Extra:       spec.Extra,
	})
	if err != nil {
		return fmt.Errorf("failed to spawn %s: %w", spec.Name, err)
	}

	ready := make(chan struct{})
	c.Once("hook::ready", func(events.Event) {
		close(ready)
	})
	if err := c.Connect(ctx); err != nil {
		return fmt.Errorf("failed to spawn %s: %w", spec.Name, err)
	}

	select {
	case <-ready:
	case <-ctx.Done():
		_ = c.Close()
		return ctx.Err()
	}

	n.record(types.SpawnRecord{Name: spec.Name, Type: spec.Type, Mode: types.SpawnInProcess, Handle: c})
	return nil
}

func (n *Node) spawnOutOfProcess(ctx context.Context, spec types.SpawnSpec) error {
	mon := n.opts.Launcher(CLIArgs(spec), monitor.Options{
		MaxRestarts: DefaultMaxRestarts,
		Silent:      false,
		LogFile:     filepath.Join(".", "forever-"+spec.Type+"-"+spec.Name),
	})

	started := make(chan struct{}, 1)
	mon.On(monitor.SignalStart, func(e monitor.Event) {
		n.record(types.SpawnRecord{Name: spec.Name, Type: spec.Type, Mode: types.SpawnOutOfProcess, Handle: mon})
		n.Logger().Info().Str("child", spec.Name).Int("pid", e.PID).Msg("Child started")
		n.Emit("child::start", spec.Name)
		select {
		case started <- struct{}{}:
		default:
		}
	})
	mon.On(monitor.SignalRestart, func(e monitor.Event) {
		n.Logger().Warn().Str("child", spec.Name).Int("restarts", e.Restarts).Msg("Child restarted")
		n.Emit("child::restart", spec.Name)
	})
	mon.On(monitor.SignalExit, func(e monitor.Event) {
		n.forget(spec.Name, mon)
		n.Emit("child::exit", spec.Name)
	})

	if err := mon.Start(); err != nil {
		return fmt.Errorf("failed to spawn %s: %w", spec.Name, err)
	}

	select {
	case <-started:
		return nil
	case <-ctx.Done():
		_ = mon.Stop()
		return ctx.Err()
	}
}

func (n *Node) record(r types.SpawnRecord) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.closed {
		n.spawned[r.Name] = r
	}
}

func (n *Node) forget(name string, handle any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if r, ok := n.spawned[name]; ok && r.Handle == handle {
		delete(n.spawned, name)
	}
}

package monitor

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/cuemby/hookio/pkg/log"
	"github.com/cuemby/hookio/pkg/metrics"
	"github.com/rs/zerolog"
	"go.uber.org/multierr"
)

// Signal names a lifecycle transition of a supervised process
type Signal string

const (
	SignalStart   Signal = "start"
	SignalRestart Signal = "restart"
	SignalExit    Signal = "exit"
)

const (
	// DefaultMaxRestarts is how many times a crashed child is brought back
	DefaultMaxRestarts = 10

	// DefaultRestartDelay separates an exit from the next launch
	DefaultRestartDelay = 500 * time.Millisecond

	// DefaultStopTimeout is how long Stop waits after SIGTERM before killing
	DefaultStopTimeout = 10 * time.Second
)

// Options configure a Monitor
type Options struct {
	MaxRestarts  int
	RestartDelay time.Duration
	StopTimeout  time.Duration
	// Silent suppresses the child's output on the parent's stdout/stderr
	Silent bool
	// LogFile receives the child's stdout and stderr when set
	LogFile string
	Env     []string
}

// Event is delivered to lifecycle handlers
type Event struct {
	Signal   Signal
	PID      int
	Restarts int
	Err      error
}

// Monitor launches an external process and keeps it running up to a
// bounded number of restarts
type Monitor struct {
	Binary string
	Args   []string

	opts   Options
	logger zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	handlers map[Signal][]func(Event)
	cmd      *exec.Cmd
	logFile  *os.File
	restarts int
	started  bool
	exitErr  error
	done     chan struct{}
}

// New creates a monitor for binary; nothing runs until Start
func New(binary string, args []string, opts Options) *Monitor {
	if opts.RestartDelay <= 0 {
		opts.RestartDelay = DefaultRestartDelay
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = DefaultStopTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Monitor{
		Binary:   binary,
		Args:     args,
		opts:     opts,
		logger:   log.WithComponent("monitor").With().Str("binary", binary).Logger(),
		ctx:      ctx,
		cancel:   cancel,
		handlers: make(map[Signal][]func(Event)),
		done:     make(chan struct{}),
	}
}

// On registers fn for a lifecycle signal. Handlers run on the supervising
// goroutine.
func (m *Monitor) On(sig Signal, fn func(Event)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[sig] = append(m.handlers[sig], fn)
}

// Start launches the process and begins supervising it
func (m *Monitor) Start() error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return fmt.Errorf("monitor for %s already started", m.Binary)
	}
	m.started = true

	if m.opts.LogFile != "" {
		f, err := os.OpenFile(m.opts.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			m.mu.Unlock()
			close(m.done)
			return fmt.Errorf("failed to open log file: %w", err)
		}
		m.logFile = f
	}

	cmd, err := m.launch()
	if err != nil {
		m.closeLog()
		m.mu.Unlock()
		close(m.done)
		return err
	}
	m.mu.Unlock()

	m.logger.Info().Int("pid", cmd.Process.Pid).Msg("Process started")
	m.emit(Event{Signal: SignalStart, PID: cmd.Process.Pid})

	go m.supervise(cmd)
	return nil
}

// launch must be called with m.mu held
func (m *Monitor) launch() (*exec.Cmd, error) {
	cmd := exec.CommandContext(m.ctx, m.Binary, m.Args...)
	cmd.Env = append(os.Environ(), m.opts.Env...)
	cmd.Stdout, cmd.Stderr = m.outputs()
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = m.opts.StopTimeout

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start process: %w", err)
	}
	m.cmd = cmd
	return cmd, nil
}

func (m *Monitor) outputs() (io.Writer, io.Writer) {
	var stdout, stderr []io.Writer
	if m.logFile != nil {
		stdout = append(stdout, m.logFile)
		stderr = append(stderr, m.logFile)
	}
	if !m.opts.Silent {
		stdout = append(stdout, os.Stdout)
		stderr = append(stderr, os.Stderr)
	}
	return combine(stdout), combine(stderr)
}

func combine(ws []io.Writer) io.Writer {
	switch len(ws) {
	case 0:
		return nil
	case 1:
		return ws[0]
	default:
		return io.MultiWriter(ws...)
	}
}

func (m *Monitor) supervise(cmd *exec.Cmd) {
	for {
		err := cmd.Wait()

		m.mu.Lock()
		stopping := m.ctx.Err() != nil
		restarts := m.restarts
		exhausted := restarts >= m.opts.MaxRestarts
		m.mu.Unlock()

		if stopping || exhausted {
			m.finish(cmd, err)
			return
		}

		m.logger.Warn().Err(err).Int("restarts", restarts).Msg("Process exited, restarting")

		select {
		case <-time.After(m.opts.RestartDelay):
		case <-m.ctx.Done():
			m.finish(cmd, err)
			return
		}

		m.mu.Lock()
		next, launchErr := m.launch()
		if launchErr == nil {
			m.restarts++
		}
		restarts = m.restarts
		m.mu.Unlock()

		if launchErr != nil {
			m.finish(cmd, launchErr)
			return
		}

		cmd = next
		metrics.ChildRestarts.Inc()
		m.emit(Event{Signal: SignalRestart, PID: cmd.Process.Pid, Restarts: restarts})
	}
}

func (m *Monitor) finish(cmd *exec.Cmd, err error) {
	m.mu.Lock()
	m.exitErr = err
	restarts := m.restarts
	m.closeLog()
	m.mu.Unlock()

	pid := 0
	if cmd.Process != nil {
		pid = cmd.Process.Pid
	}
	m.logger.Info().Err(err).Int("pid", pid).Int("restarts", restarts).Msg("Process exited")
	m.emit(Event{Signal: SignalExit, PID: pid, Restarts: restarts, Err: err})
	close(m.done)
}

func (m *Monitor) closeLog() {
	if m.logFile != nil {
		_ = m.logFile.Close()
		m.logFile = nil
	}
}

func (m *Monitor) emit(e Event) {
	m.mu.Lock()
	handlers := append([]func(Event){}, m.handlers[e.Signal]...)
	m.mu.Unlock()

	for _, fn := range handlers {
		fn(e)
	}
}

// Stop terminates the process with SIGTERM, killing it after the stop
// timeout, and waits for supervision to end
func (m *Monitor) Stop() error {
	m.cancel()

	m.mu.Lock()
	started := m.started
	m.mu.Unlock()
	if !started {
		return nil
	}

	<-m.done
	return m.Err()
}

// Err returns the final exit error once supervision has ended. Exits
// caused by Stop are not errors.
func (m *Monitor) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ctx.Err() != nil {
		return nil
	}
	return m.exitErr
}

// Done is closed when the process has exited for good
func (m *Monitor) Done() <-chan struct{} {
	return m.done
}

// PID returns the pid of the current process, or 0
func (m *Monitor) PID() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cmd == nil || m.cmd.Process == nil {
		return 0
	}
	return m.cmd.Process.Pid
}

// Restarts returns how many times the process was restarted
func (m *Monitor) Restarts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.restarts
}

// StopAll stops every monitor and aggregates their errors
func StopAll(monitors ...*Monitor) error {
	var err error
	for _, m := range monitors {
		err = multierr.Append(err, m.Stop())
	}
	return err
}

package hook

import (
	"errors"
	"time"

	"github.com/cuemby/hookio/pkg/dns"
	"github.com/cuemby/hookio/pkg/events"
	"github.com/cuemby/hookio/pkg/monitor"
)

const (
	// DefaultHost is where servers bind and clients dial when unset
	DefaultHost = "0.0.0.0"

	// DefaultPort is the overlay port shared by every hook unless configured
	DefaultPort = 5000

	// BaseType is the type of a plain hook with no extra behavior
	BaseType = "hook"

	// DefaultMaxRestarts bounds restarts of out-of-process children
	DefaultMaxRestarts = monitor.DefaultMaxRestarts
)

var (
	// ErrNotListening is returned by operations that need the server role
	ErrNotListening = errors.New("hook is not listening")

	// ErrNotConnected is returned by operations that need a parent
	ErrNotConnected = errors.New("hook is not connected to a parent")

	// ErrUnknownType is returned when no constructor is registered for a type
	ErrUnknownType = errors.New("unknown hook type")

	errMissingEvent = errors.New("message without event name")
)

// Transport is a side channel that receives a copy of every event leaving
// the hook, such as the bbolt journal
type Transport interface {
	Type() string
	Message(event string, payload any) error
	Close() error
}

// Options configure a Node
type Options struct {
	Name string
	Type string
	Host string
	Port int

	// Debug raises this node's log level to debug
	Debug bool

	// Local forces spawned children to run in-process
	Local bool

	// CallTimeout bounds every remote call; zero waits until the link ends
	CallTimeout time.Duration

	// EventMap registers handlers at construction
	EventMap map[string]events.Handler

	Transports []Transport
	Resolver   *dns.Resolver

	// Factory builds in-process children; DefaultFactory when nil
	Factory *Factory

	// Launcher creates monitors for out-of-process children. Without one
	// every child runs in-process.
	Launcher Launcher

	// Extra holds spawn options not understood by the node itself
	Extra map[string]any
}

func (o *Options) setDefaults() {
	if o.Name == "" {
		o.Name = o.Type
	}
	if o.Name == "" {
		o.Name = BaseType
	}
	if o.Type == "" {
		o.Type = o.Name
	}
	if o.Host == "" {
		o.Host = DefaultHost
	}
	if o.Port == 0 {
		o.Port = DefaultPort
	}
	if o.Resolver == nil {
		o.Resolver = dns.NewResolver(dns.DefaultConfig())
	}
	if o.Factory == nil {
		o.Factory = DefaultFactory
	}
}

// Launcher creates the process monitor for an out-of-process child from
// its generated argument list
type Launcher func(args []string, opts monitor.Options) *monitor.Monitor

// ExecLauncher runs children as binary followed by prefix and the
// generated arguments, e.g. the hookio binary with the child command
func ExecLauncher(binary string, prefix ...string) Launcher {
	return func(args []string, opts monitor.Options) *monitor.Monitor {
		full := append(append([]string{}, prefix...), args...)
		return monitor.New(binary, full, opts)
	}
}

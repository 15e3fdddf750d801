package hook

import (
	"fmt"
	"sort"
	"sync"
)

// Constructor builds a hook of one type from its spawn options
type Constructor func(opts Options) (*Node, error)

// Factory maps hook types to constructors for in-process spawning
type Factory struct {
	mu    sync.RWMutex
	ctors map[string]Constructor
}

// DefaultFactory knows the base hook type; hook implementations register
// themselves here
var DefaultFactory *Factory

func init() {
	DefaultFactory = NewFactory()
}

// NewFactory creates a factory with the base type registered
func NewFactory() *Factory {
	f := &Factory{ctors: make(map[string]Constructor)}
	f.Register(BaseType, func(opts Options) (*Node, error) {
		return New(opts), nil
	})
	return f
}

// Register adds or replaces the constructor for hookType
func (f *Factory) Register(hookType string, c Constructor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ctors[hookType] = c
}

// Has reports whether hookType can be created
func (f *Factory) Has(hookType string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, ok := f.ctors[hookType]
	return ok
}

// Create builds a hook of hookType
func (f *Factory) Create(hookType string, opts Options) (*Node, error) {
	f.mu.RLock()
	c, ok := f.ctors[hookType]
	f.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, hookType)
	}

	opts.Type = hookType
	n, err := c(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create hook of type %s: %w", hookType, err)
	}
	return n, nil
}

// Types lists registered hook types
func (f *Factory) Types() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	types := make([]string, 0, len(f.ctors))
	for t := range f.ctors {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

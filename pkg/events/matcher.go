package events

import (
	"sort"
	"sync"
	"sync/atomic"
)

// Matcher is a namespace tree of handler registrations keyed by event
// segments. It answers both "who handles this event" for local dispatch and
// "does anybody here care" for interest queries coming from a parent.
type Matcher struct {
	mu   sync.RWMutex
	root *node
	seq  uint64
}

type node struct {
	children map[string]*node
	handlers []*registration
}

type registration struct {
	id       uint64
	pattern  string
	segments []string
	fn       Handler
	once     bool
	fired    atomic.Bool
}

// NewMatcher creates an empty matcher
func NewMatcher() *Matcher {
	return &Matcher{root: newNode()}
}

func newNode() *node {
	return &node{children: make(map[string]*node)}
}

// On registers h for pattern. Registering the same pattern more than once
// keeps every handler. The returned func removes this registration.
func (m *Matcher) On(pattern string, h Handler) (off func()) {
	return m.add(pattern, h, false)
}

// Once registers h for the first matching event only.
func (m *Matcher) Once(pattern string, h Handler) (off func()) {
	return m.add(pattern, h, true)
}

func (m *Matcher) add(pattern string, h Handler, once bool) func() {
	m.mu.Lock()
	m.seq++
	reg := &registration{
		id:       m.seq,
		pattern:  pattern,
		segments: Split(pattern),
		fn:       h,
		once:     once,
	}
	n := m.root
	for _, seg := range reg.segments {
		child, ok := n.children[seg]
		if !ok {
			child = newNode()
			n.children[seg] = child
		}
		n = child
	}
	n.handlers = append(n.handlers, reg)
	m.mu.Unlock()

	var removed sync.Once
	return func() {
		removed.Do(func() { m.remove(reg) })
	}
}

func (m *Matcher) remove(reg *registration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prune(m.root, reg.segments, reg.id)
}

// prune drops the registration from the terminal node and removes nodes
// left without handlers or children. It reports whether n became empty.
func prune(n *node, segments []string, id uint64) bool {
	if len(segments) == 0 {
		kept := n.handlers[:0]
		for _, r := range n.handlers {
			if r.id != id {
				kept = append(kept, r)
			}
		}
		for i := len(kept); i < len(n.handlers); i++ {
			n.handlers[i] = nil
		}
		n.handlers = kept
	} else if child, ok := n.children[segments[0]]; ok {
		if prune(child, segments[1:], id) {
			delete(n.children, segments[0])
		}
	}
	return len(n.handlers) == 0 && len(n.children) == 0
}

// walk visits every terminal node reachable by name. Concrete and wildcard
// branches are both explored, so "*::b" still matches "a::b" when "a::c"
// is registered too. A wildcard segment in the name itself matches every
// branch. visit returns true to stop the walk early.
func walk(n *node, segments []string, visit func(*node) bool) bool {
	if len(segments) == 0 {
		return visit(n)
	}
	seg, rest := segments[0], segments[1:]
	if seg == Wildcard {
		for _, child := range n.children {
			if walk(child, rest, visit) {
				return true
			}
		}
		return false
	}
	if child, ok := n.children[seg]; ok {
		if walk(child, rest, visit) {
			return true
		}
	}
	if child, ok := n.children[Wildcard]; ok {
		if walk(child, rest, visit) {
			return true
		}
	}
	return false
}

// Matches reports whether at least one handler is registered for name.
func (m *Matcher) Matches(name string) bool {
	return m.matches(Split(name))
}

// MatchesRemote is the interest check used on behalf of a parent. Names
// arriving from a link are prefixed with the origin hook's name rather than
// a namespace registered here, so the first segment is treated as a
// wildcard before the walk.
func (m *Matcher) MatchesRemote(name string) bool {
	segments := Split(name)
	segments[0] = Wildcard
	return m.matches(segments)
}

func (m *Matcher) matches(segments []string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return walk(m.root, segments, func(n *node) bool {
		return len(n.handlers) > 0
	})
}

// Dispatch invokes every handler matching e.Name, synchronously and in
// registration order, and returns how many ran. Handlers are called
// without the matcher lock held, so they may register or remove handlers.
// A nil e.Reply reaches handlers as nil.
func (m *Matcher) Dispatch(e Event) int {
	var matched []*registration
	m.mu.RLock()
	walk(m.root, Split(e.Name), func(n *node) bool {
		matched = append(matched, n.handlers...)
		return false
	})
	m.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool { return matched[i].id < matched[j].id })

	ran := 0
	for _, reg := range matched {
		if reg.once {
			if !reg.fired.CompareAndSwap(false, true) {
				continue
			}
			m.remove(reg)
		}
		reg.fn(e)
		ran++
	}
	return ran
}

// Patterns lists the distinct registered patterns in sorted order.
func (m *Matcher) Patterns() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[string]struct{})
	var collect func(n *node)
	collect = func(n *node) {
		for _, r := range n.handlers {
			seen[r.pattern] = struct{}{}
		}
		for _, child := range n.children {
			collect(child)
		}
	}
	collect(m.root)

	patterns := make([]string, 0, len(seen))
	for p := range seen {
		patterns = append(patterns, p)
	}
	sort.Strings(patterns)
	return patterns
}

// Len returns the number of live registrations.
func (m *Matcher) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	var collect func(n *node)
	collect = func(n *node) {
		count += len(n.handlers)
		for _, child := range n.children {
			collect(child)
		}
	}
	collect(m.root)
	return count
}

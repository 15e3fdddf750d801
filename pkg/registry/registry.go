package registry

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/cuemby/hookio/pkg/dns"
	"github.com/cuemby/hookio/pkg/types"
)

// ErrNotFound is returned when no entry matches a lookup
var ErrNotFound = errors.New("no matching hook")

// Registry maps hook names to what a listening hook knows about them.
// It is owned by one hook and safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	self  string
	seq   uint64
	peers map[string]*entry
}

type entry struct {
	info types.PeerInfo
	seq  uint64
}

// New creates an empty registry
func New() *Registry {
	return &Registry{peers: make(map[string]*entry)}
}

// RegisterSelf records the owning hook. Calling it again replaces the
// previous self entry, which happens when a parent renames this hook.
func (r *Registry) RegisterSelf(info types.PeerInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.self != "" && r.self != info.Name {
		delete(r.peers, r.self)
	}
	info.IsServer = true
	r.self = info.Name
	r.put(info)
}

// Self returns the owning hook's entry, if it registered
func (r *Registry) Self() (types.PeerInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.peers[r.self]
	if !ok {
		return types.PeerInfo{}, false
	}
	return e.info, true
}

func (r *Registry) put(info types.PeerInfo) {
	r.seq++
	r.peers[info.Name] = &entry{info: info, seq: r.seq}
}

// Negotiate picks a free name for a connecting hook and reserves it in the
// same critical section. The proposed name is tried first, then
// proposed-0, proposed-1 and so on, skipping anything already taken
// including the owner's own name.
func (r *Registry) Negotiate(proposed string) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := proposed
	for n := 0; r.taken(name); n++ {
		name = proposed + "-" + strconv.Itoa(n)
	}
	r.put(types.PeerInfo{Name: name})
	return name
}

func (r *Registry) taken(name string) bool {
	if name == r.self {
		return true
	}
	_, ok := r.peers[name]
	return ok
}

// Bind fills in a name reserved by Negotiate
func (r *Registry) Bind(name, hookType, sessionID string, remote types.Remote) (types.PeerInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.peers[name]
	if !ok {
		return types.PeerInfo{}, fmt.Errorf("%w: %s was never reserved", ErrNotFound, name)
	}
	e.info.Type = hookType
	e.info.SessionID = sessionID
	e.info.Remote = remote
	return e.info, nil
}

// RemoveSession drops the entry owned by a closed session
func (r *Registry) RemoveSession(sessionID string) (types.PeerInfo, bool) {
	if sessionID == "" {
		return types.PeerInfo{}, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for name, e := range r.peers {
		if e.info.SessionID == sessionID {
			delete(r.peers, name)
			return e.info, true
		}
	}
	return types.PeerInfo{}, false
}

// BySession finds the entry owned by a live session
func (r *Registry) BySession(sessionID string) (types.PeerInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, e := range r.peers {
		if sessionID != "" && e.info.SessionID == sessionID {
			return e.info, true
		}
	}
	return types.PeerInfo{}, false
}

// Get returns the entry registered under name
func (r *Registry) Get(name string) (types.PeerInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.peers[name]
	if !ok {
		return types.PeerInfo{}, fmt.Errorf("%w: no hook named %s is connected", ErrNotFound, name)
	}
	return e.info, nil
}

// ByType returns every entry of hookType. The error is set, and the slice
// empty, when nothing matches.
func (r *Registry) ByType(hookType string) ([]types.PeerInfo, error) {
	found := r.filter(func(info types.PeerInfo) bool {
		return info.Type == hookType
	})
	if len(found) == 0 {
		return found, fmt.Errorf("%w: no hook of type %s is connected", ErrNotFound, hookType)
	}
	return found, nil
}

// ByHost returns every entry living on one of ips, already resolved by the
// caller. host is only used in the error message.
func (r *Registry) ByHost(host string, ips []string) ([]types.PeerInfo, error) {
	found := r.filter(func(info types.PeerInfo) bool {
		return dns.HostMatches(ips, info.Remote.Host, info.IsServer)
	})
	if len(found) == 0 {
		return found, fmt.Errorf("%w: no hook for host %s is connected", ErrNotFound, host)
	}
	return found, nil
}

// List returns every entry in registration order
func (r *Registry) List() []types.PeerInfo {
	return r.filter(func(types.PeerInfo) bool { return true })
}

// Len returns the number of entries, reservations included
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}

func (r *Registry) filter(keep func(types.PeerInfo) bool) []types.PeerInfo {
	r.mu.RLock()
	matched := make([]entry, 0, len(r.peers))
	for _, e := range r.peers {
		if keep(e.info) {
			matched = append(matched, *e)
		}
	}
	r.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool { return matched[i].seq < matched[j].seq })

	out := make([]types.PeerInfo, 0, len(matched))
	for _, e := range matched {
		out = append(out, e.info)
	}
	return out
}

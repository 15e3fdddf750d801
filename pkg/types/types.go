package types

import (
	"fmt"
	"net"
	"strconv"
)

// Remote is the network address a peer is known under
type Remote struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// String returns host:port
func (r Remote) String() string {
	return net.JoinHostPort(r.Host, strconv.Itoa(r.Port))
}

// PeerInfo is one registry entry: a hook known to a listening hook
type PeerInfo struct {
	Name      string `json:"name"`
	Type      string `json:"type"`
	Remote    Remote `json:"remote"`
	SessionID string `json:"session,omitempty"`
	IsServer  bool   `json:"server,omitempty"`
}

// Role describes how a hook is attached to the overlay. A hook can hold
// both roles at once: server for its children, client of its parent.
type Role uint8

const (
	RoleUnbound Role = 0
	RoleServer  Role = 1 << iota
	RoleClient
)

// Has reports whether r includes other
func (r Role) Has(other Role) bool {
	return r&other != 0
}

func (r Role) String() string {
	switch {
	case r.Has(RoleServer) && r.Has(RoleClient):
		return "server+client"
	case r.Has(RoleServer):
		return "server"
	case r.Has(RoleClient):
		return "client"
	default:
		return "unbound"
	}
}

// Query selects registry entries. Exactly one field should be set; with
// none set every entry is returned.
type Query struct {
	Name  string `json:"name,omitempty"`
	Type  string `json:"type,omitempty"`
	Host  string `json:"host,omitempty"`
	Event string `json:"event,omitempty"`
}

// String renders the active filter, e.g. type=test
func (q Query) String() string {
	switch {
	case q.Name != "":
		return "name=" + q.Name
	case q.Type != "":
		return "type=" + q.Type
	case q.Host != "":
		return "host=" + q.Host
	case q.Event != "":
		return "event=" + q.Event
	default:
		return "all"
	}
}

// QueryOut is the payload of query::out, broadcast when a query arrives
// without a continuation. Details is never nil.
type QueryOut struct {
	Query   Query      `json:"query"`
	Details []PeerInfo `json:"details"`
}

// SpawnMode says where a spawned child runs
type SpawnMode string

const (
	SpawnInProcess    SpawnMode = "in-process"
	SpawnOutOfProcess SpawnMode = "out-of-process"
)

// SpawnSpec describes one child to spawn. Extra carries any additional
// options; they reach in-process children as options and out-of-process
// children as --key value arguments.
type SpawnSpec struct {
	Name  string         `json:"name" yaml:"name" toml:"name"`
	Type  string         `json:"type" yaml:"type" toml:"type"`
	Host  string         `json:"host,omitempty" yaml:"host,omitempty" toml:"host,omitempty"`
	Port  int            `json:"port,omitempty" yaml:"port,omitempty" toml:"port,omitempty"`
	Extra map[string]any `json:"extra,omitempty" yaml:"extra,omitempty" toml:"extra,omitempty"`
}

// SpecFor expands a bare hook type into a spec whose name equals its type
func SpecFor(hookType string) SpawnSpec {
	return SpawnSpec{Name: hookType, Type: hookType}
}

// Validate checks the fields every spawn needs
func (s SpawnSpec) Validate() error {
	if s.Type == "" {
		return fmt.Errorf("spawn spec %q has no type", s.Name)
	}
	if s.Name == "" {
		return fmt.Errorf("spawn spec of type %q has no name", s.Type)
	}
	if s.Port < 0 || s.Port > 65535 {
		return fmt.Errorf("spawn spec %q has invalid port %d", s.Name, s.Port)
	}
	return nil
}

// SpawnRecord tracks one spawned child for the lifetime of the parent
type SpawnRecord struct {
	Name string
	Type string
	Mode SpawnMode
	// Handle is the in-process child or the external process monitor.
	Handle any
}

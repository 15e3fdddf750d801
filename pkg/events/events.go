package events

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
)

const (
	// Delimiter separates the segments of an event name.
	Delimiter = "::"

	// Wildcard matches exactly one segment.
	Wildcard = "*"
)

// Reserved top-level segments. Events under these namespaces describe the
// local hook itself and never cross a link.
const (
	NamespaceHook       = "hook"
	NamespaceConnection = "connection"
	NamespaceChildren   = "children"
	NamespaceError      = "error"
	NamespaceClient     = "client"
)

var reserved = map[string]struct{}{
	NamespaceHook:       {},
	NamespaceConnection: {},
	NamespaceChildren:   {},
	NamespaceError:      {},
	NamespaceClient:     {},
}

// Split breaks an event name into its segments.
func Split(name string) []string {
	return strings.Split(name, Delimiter)
}

// Join builds an event name from segments.
func Join(segments ...string) string {
	return strings.Join(segments, Delimiter)
}

// Head returns the first segment of an event name.
func Head(name string) string {
	if i := strings.Index(name, Delimiter); i >= 0 {
		return name[:i]
	}
	return name
}

// IsReserved reports whether the first segment of name is reserved.
func IsReserved(name string) bool {
	_, ok := reserved[Head(name)]
	return ok
}

// Match reports whether a single pattern matches a concrete event name.
// Both must have the same number of segments; a wildcard segment on either
// side matches anything.
func Match(pattern, name string) bool {
	ps, ns := Split(pattern), Split(name)
	if len(ps) != len(ns) {
		return false
	}
	for i := range ps {
		if ps[i] != ns[i] && ps[i] != Wildcard && ns[i] != Wildcard {
			return false
		}
	}
	return true
}

// Reply is the continuation handed along with an event. The first call wins;
// later calls are ignored.
type Reply func(err error, result any)

// OnceReply wraps r so that only its first invocation reaches r. A nil r
// stays nil, so handlers can tell notifications from requests.
func OnceReply(r Reply) Reply {
	if r == nil {
		return nil
	}
	var once sync.Once
	return func(err error, result any) {
		once.Do(func() { r(err, result) })
	}
}

// Event is what a handler receives.
type Event struct {
	Name    string
	Payload any

	// Reply is nil unless the sender asked for an answer
	Reply Reply
}

// Decode copies the payload into v. Payloads that crossed a link arrive as
// generic JSON values, so decoding goes through a JSON round trip.
func (e Event) Decode(v any) error {
	if e.Payload == nil {
		return fmt.Errorf("event %s carries no payload", e.Name)
	}
	data, err := json.Marshal(e.Payload)
	if err != nil {
		return fmt.Errorf("failed to encode payload of %s: %w", e.Name, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode payload of %s: %w", e.Name, err)
	}
	return nil
}

// Handler reacts to a dispatched event.
type Handler func(e Event)

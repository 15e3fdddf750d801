/*
Package events implements the namespaced event matching used by hookio.

Event names are made of segments joined by "::", for example
"server::user::created". Handlers are registered against patterns of the
same shape in which any segment may be the wildcard "*":

	m := events.NewMatcher()
	off := m.On("*::user::created", func(e events.Event) {
		var u User
		if err := e.Decode(&u); err == nil && e.Reply != nil {
			e.Reply(nil, u.ID)
		}
	})
	defer off()

	m.Dispatch(events.Event{Name: "server::user::created", Payload: u})

# Matching

Patterns are stored in a tree keyed by segment. A lookup walks the tree one
segment at a time and follows both the concrete child and the wildcard
child, so every registered pattern that can match a name is found. A
wildcard matches exactly one segment; a name and a pattern of different
lengths never match.

Dispatch runs the matched handlers synchronously in the caller's goroutine,
in the order they were registered. Handlers run without the matcher lock
held and may register or remove handlers, including themselves.

MatchesRemote answers interest queries from a parent hook. Names arriving
over a link are prefixed with the origin hook's name instead of a local
namespace, so the first segment is replaced by the wildcard before the walk.

# Reserved namespaces

The top-level segments hook, connection, children, error and client describe
the local hook itself. IsReserved reports them; the overlay never forwards
such events across a link.

# Broker

Broker is a non-blocking tap: every published Record is copied to the
subscribers whose pattern matches, and slow subscribers lose records instead
of stalling the publisher.
*/
package events

/*
Package hook implements a node of the hookio event overlay.

A Node emits and handles namespaced events (segments joined by "::", with
"*" matching any single segment). Nodes form a tree: the first node on a
port listens and becomes the server, later nodes on the same port connect
to it as children. Start picks the role automatically.

# Routing

Every emission runs local handlers first, in registration order. A child
then forwards the event to its parent prefixed with its own name, so "ping"
emitted by "worker" arrives upstairs as "worker::ping". A server offers
events to each connected child after asking it whether any handler would
match; children that are not interested are skipped and "hook::noevent" is
emitted locally instead. Events never go back to the child they came from.

Events in the reserved namespaces hook, connection, children, error and
client describe the local node and never cross a link.

# Discovery

A listening node keeps a registry of itself and its children and answers
queries by name, type, host or handled event:

	peers, err := node.Query(ctx, types.Query{Type: "worker"})

Clients send the query to their parent and wait for the answer.

# Spawning

Spawn starts children that connect back to the node, either in this
process through a Factory or as supervised processes through a Launcher.
children::ready fires once every requested child has connected.
*/
package hook

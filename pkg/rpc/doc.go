/*
Package rpc links hooks together with symmetric remote calls.

Each parent/child connection is a single gRPC bidirectional stream. Frames
are protobuf Structs carrying a call (id, method, positional arguments) or
a reply (id, result or error), so either side may call methods the other
exposed with Link.Handle. Incoming calls on one link are dispatched in
arrival order; a handler may hold on to its ReplyFunc and answer later.

A server hook calls Listen and exposes per-connection methods from
Options.OnAccept. A client hook calls Dial, registers its own methods and
then runs Serve.
*/
package rpc

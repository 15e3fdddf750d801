/*
Package log provides structured logging for hookio using zerolog.

A single package-level zerolog.Logger is shared by every package. It is a
no-op logger until Init is called, which keeps library users and tests quiet
unless they opt in.

# Usage

	log.Init(log.Config{
		Level:      log.DebugLevel,
		JSONOutput: false,
		Output:     os.Stderr,
	})

	logger := log.WithComponent("rpc")
	logger.Info().Str("addr", addr).Msg("link established")

Hooks log through WithPeer so every line carries the hook name and type:

	logger := log.WithPeer("server", "hook")
	logger.Debug().
		Str("event", "hello").
		Str("payload", log.Payload(data)).
		Msg("emit")

Payload renders arbitrary event data as JSON, cut after 50 characters.
*/
package log

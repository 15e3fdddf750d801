package main

import (
	"github.com/cuemby/hookio/pkg/events"
	"github.com/cuemby/hookio/pkg/hook"
)

// echoType answers every {origin}::echo request with its own payload
const echoType = "echo"

func init() {
	hook.DefaultFactory.Register(echoType, newEcho)
}

func newEcho(opts hook.Options) (*hook.Node, error) {
	opts.EventMap = map[string]events.Handler{
		"*::echo": func(e events.Event) {
			if e.Reply != nil {
				e.Reply(nil, e.Payload)
			}
		},
	}
	return hook.New(opts), nil
}

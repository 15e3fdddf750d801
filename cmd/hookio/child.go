package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/cuemby/hookio/pkg/events"
	"github.com/cuemby/hookio/pkg/hook"
	"github.com/spf13/cobra"
)

var childCmd = &cobra.Command{
	Use:    "child --hook-name NAME --hook-type TYPE --hook-host HOST --hook-port PORT [--key value...]",
	Short:  "Run a spawned child hook",
	Hidden: true,
	// spawn options are arbitrary --key value pairs
	DisableFlagParsing: true,
	RunE:               runChild,
}

func runChild(cmd *cobra.Command, args []string) error {
	spec, err := hook.ParseArgs(args)
	if err != nil {
		return err
	}
	if err := spec.Validate(); err != nil {
		return err
	}

	debug := spec.Extra["debug"] == true || spec.Extra["debug"] == "true"
	node, err := hook.DefaultFactory.Create(spec.Type, hook.Options{
		Name:  spec.Name,
		Host:  spec.Host,
		Port:  spec.Port,
		Debug: debug,
		Extra: spec.Extra,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	node.Once("connection::end", func(events.Event) { stop() })
	if err := node.Connect(ctx); err != nil {
		return fmt.Errorf("failed to reach parent: %w", err)
	}
	return node.Wait(ctx)
}

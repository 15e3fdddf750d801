package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuemby/hookio/pkg/config"
	"github.com/cuemby/hookio/pkg/events"
	"github.com/cuemby/hookio/pkg/hook"
	"github.com/cuemby/hookio/pkg/log"
	"github.com/cuemby/hookio/pkg/metrics"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start a hook",
	Long: `Start a hook. It listens on the configured port, or connects to the
hook already listening there, then spawns the configured children.

Examples:
  # Start a hook from a config file
  hookio run -c hook.yaml

  # Start a server with two in-process children and print every event
  hookio run --name server --spawn echo --spawn hook --local --watch '*::*'`,
	RunE: runHook,
}

func init() {
	addRunFlags(runCmd)
}

func addRunFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("config", "c", "", "Config file (.yaml, .yml, .toml or .json)")
	cmd.Flags().String("name", "", "Hook name")
	cmd.Flags().String("type", "", "Hook type")
	cmd.Flags().String("host", config.DefaultHost, "Host to listen on or connect to")
	cmd.Flags().Int("port", config.DefaultPort, "Port to listen on or connect to")
	cmd.Flags().Bool("debug", false, "Log every event")
	cmd.Flags().Bool("local", false, "Spawn children in this process")
	cmd.Flags().Duration("call-timeout", 0, "Bound on every remote call (0 waits forever)")
	cmd.Flags().StringSlice("spawn", nil, "Child hook types to spawn")
	cmd.Flags().String("metrics-addr", "", "Address for /metrics, /health and /ready")
	cmd.Flags().StringSlice("watch", nil, "Print events matching these patterns")
}

func runHook(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	log.Init(cfg.Logging())

	opts, err := nodeOptions(cfg)
	if err != nil {
		return err
	}
	node := hook.New(opts)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var metricsServer *http.Server
	if cfg.MetricsAddr != "" {
		metricsServer = &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           metrics.Mux(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Logger.Error().Err(err).Str("addr", cfg.MetricsAddr).Msg("Metrics server failed")
			}
		}()
	}

	patterns, _ := cmd.Flags().GetStringSlice("watch")
	for _, pattern := range patterns {
		go watch(node, pattern)
	}

	if err := node.Start(ctx); err != nil {
		_ = node.Close()
		return fmt.Errorf("failed to start hook: %w", err)
	}
	metrics.SetCritical(criticalComponent(node))

	if specs := cfg.Specs(); len(specs) > 0 {
		if node.Listening() {
			if err := node.Spawn(ctx, specs...); err != nil {
				_ = node.Close()
				return err
			}
		} else {
			node.Logger().Warn().Int("children", len(specs)).Msg("Not listening, children ignored")
		}
	}

	if !node.Listening() {
		// a client has nothing left to do once its parent is gone
		node.Once("connection::end", func(events.Event) { stop() })
	}

	fmt.Printf("Hook %s is running as %s on %s. Press Ctrl+C to stop.\n", node.Name(), node.Role(), node.Addr())
	<-ctx.Done()

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}
	if err := node.Close(); err != nil {
		return fmt.Errorf("failed to shutdown: %w", err)
	}
	fmt.Println("✓ Shutdown complete")
	return nil
}

func criticalComponent(node *hook.Node) string {
	if node.Listening() {
		return "listener"
	}
	return "parent"
}

// watch prints every event matching pattern as one line
func watch(node *hook.Node, pattern string) {
	sub := node.Subscribe(pattern)
	for rec := range sub {
		fmt.Printf("%s %-30s %s\n", rec.Timestamp.Format(time.RFC3339), rec.Name, log.Payload(rec.Payload))
	}
}

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/cuemby/hookio/pkg/config"
	"github.com/cuemby/hookio/pkg/hook"
	"github.com/cuemby/hookio/pkg/types"
	"github.com/spf13/cobra"
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Find hooks connected to a running server",
	Long: `Connect to the hook listening on --host/--port and list the hooks it
knows, filtered by at most one of --name, --type, --by-host or --event.

Examples:
  # Everything the server knows
  hookio query

  # Hooks that handle worker::done
  hookio query --event worker::done`,
	RunE: runQuery,
}

func init() {
	queryCmd.Flags().String("host", config.DefaultHost, "Server host")
	queryCmd.Flags().Int("port", config.DefaultPort, "Server port")
	queryCmd.Flags().String("name", "", "Match a hook name")
	queryCmd.Flags().String("type", "", "Match a hook type")
	queryCmd.Flags().String("by-host", "", "Match hooks on a host")
	queryCmd.Flags().String("event", "", "Match hooks handling an event")
	queryCmd.Flags().Duration("timeout", 10*time.Second, "Give up after this long")
}

func runQuery(cmd *cobra.Command, args []string) error {
	host, _ := cmd.Flags().GetString("host")
	port, _ := cmd.Flags().GetInt("port")
	timeout, _ := cmd.Flags().GetDuration("timeout")

	var q types.Query
	q.Name, _ = cmd.Flags().GetString("name")
	q.Type, _ = cmd.Flags().GetString("type")
	q.Host, _ = cmd.Flags().GetString("by-host")
	q.Event, _ = cmd.Flags().GetString("event")

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	node := hook.New(hook.Options{Name: "query", Host: host, Port: port, CallTimeout: timeout})
	defer node.Close()

	if err := node.Connect(ctx); err != nil {
		return fmt.Errorf("failed to reach %s:%d: %w", host, port, err)
	}

	peers, err := node.Query(ctx, q)
	if err != nil {
		if hook.IsNotFound(err) {
			fmt.Printf("No hooks match %s\n", q)
			return nil
		}
		return fmt.Errorf("query failed: %w", err)
	}

	printPeers(peers, node.Name())
	return nil
}

func printPeers(peers []types.PeerInfo, self string) {
	fmt.Printf("%-20s %-15s %-25s %s\n", "NAME", "TYPE", "REMOTE", "ROLE")
	for _, p := range peers {
		if p.Name == self {
			continue
		}
		role := "client"
		if p.IsServer {
			role = "server"
		}
		fmt.Printf("%-20s %-15s %-25s %s\n", p.Name, p.Type, p.Remote, role)
	}
}

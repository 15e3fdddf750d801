package main

import (
	"fmt"
	"os"

	"github.com/cuemby/hookio/pkg/config"
	"github.com/cuemby/hookio/pkg/dns"
	"github.com/cuemby/hookio/pkg/hook"
	"github.com/cuemby/hookio/pkg/journal"
	"github.com/cuemby/hookio/pkg/types"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
)

// loadConfig reads --config when given and applies the flags the user set
// on top of it
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg := config.Default()
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return config.Config{}, err
		}
		cfg = loaded
	}

	flags := cmd.Flags()
	if flags.Changed("name") {
		cfg.Name, _ = flags.GetString("name")
	}
	if flags.Changed("type") {
		cfg.Type, _ = flags.GetString("type")
	}
	if flags.Changed("host") {
		cfg.Host, _ = flags.GetString("host")
	}
	if flags.Changed("port") {
		cfg.Port, _ = flags.GetInt("port")
	}
	if flags.Changed("debug") {
		cfg.Debug, _ = flags.GetBool("debug")
	}
	if flags.Changed("local") {
		cfg.Local, _ = flags.GetBool("local")
	}
	if flags.Changed("call-timeout") {
		timeout, _ := flags.GetDuration("call-timeout")
		cfg.CallTimeout = config.Duration(timeout)
	}
	if flags.Changed("metrics-addr") {
		cfg.MetricsAddr, _ = flags.GetString("metrics-addr")
	}
	if flags.Changed("log-level") {
		cfg.Log.Level, _ = flags.GetString("log-level")
	}
	if flags.Changed("log-json") {
		cfg.Log.JSON, _ = flags.GetBool("log-json")
	}
	if flags.Changed("spawn") {
		spawn, _ := flags.GetStringSlice("spawn")
		for _, t := range spawn {
			cfg.Children = append(cfg.Children, config.NewChild(types.SpecFor(t)))
		}
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// nodeOptions turns a config into hook options. Out-of-process children
// are this binary running the child command.
func nodeOptions(cfg config.Config) (hook.Options, error) {
	transports, err := openTransports(cfg.Transports)
	if err != nil {
		return hook.Options{}, err
	}

	opts := hook.Options{
		Name:        cfg.Name,
		Type:        cfg.Type,
		Host:        cfg.Host,
		Port:        cfg.Port,
		Debug:       cfg.Debug,
		Local:       cfg.Local,
		CallTimeout: cfg.CallTimeout.Std(),
		Transports:  transports,
		Resolver:    dns.NewResolver(cfg.DNS()),
	}
	if !cfg.Local {
		exe, err := os.Executable()
		if err != nil {
			return hook.Options{}, fmt.Errorf("failed to locate hookio binary: %w", err)
		}
		opts.Launcher = hook.ExecLauncher(exe, childCmd.Name())
	}
	return opts, nil
}

func openTransports(configs []config.TransportConfig) ([]hook.Transport, error) {
	var transports []hook.Transport
	for _, tc := range configs {
		switch tc.Type {
		case config.TransportJournal:
			j, err := journal.Open(tc.Path())
			if err != nil {
				var closeErr error
				for _, t := range transports {
					closeErr = multierr.Append(closeErr, t.Close())
				}
				return nil, multierr.Append(fmt.Errorf("failed to open journal: %w", err), closeErr)
			}
			transports = append(transports, j)
		default:
			return nil, fmt.Errorf("unknown transport type %q", tc.Type)
		}
	}
	return transports, nil
}

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/conductor/internal/channel"
	"github.com/ShayCichocki/conductor/internal/config"
	"github.com/ShayCichocki/conductor/internal/contextfilter"
	"github.com/ShayCichocki/conductor/internal/coordinator"
	"github.com/ShayCichocki/conductor/internal/state"
)

var rootCmd = &cobra.Command{
	Use:   "conductor",
	Short: "Task delegation to named agent categories",
	Long: `Conductor delegates discrete tasks to named agent categories, choosing
per call between in-process execution over an internal message bus and an
out-of-process execution channel, with one stable result contract.

Agent instruction templates are discovered under .conductor/agents in the
project, its parent, and the user config directory. A CONDUCTOR.md document
in the working directory (or up to three parents) can disable local
orchestration with the line:

  CONDUCTOR_ORCHESTRATION: DISABLED`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(delegateCmd)
	rootCmd.AddCommand(metricsCmd)
	rootCmd.AddCommand(agentsCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(versionCmd)
}

// newCoordinator builds a coordinator from the loaded configuration.
// The returned cleanup closes the metrics store, if one was opened.
func newCoordinator(workDir string) (*coordinator.Coordinator, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("loading configuration: %w", err)
	}

	var ch channel.Channel
	switch cfg.Channel.Kind {
	case "api":
		apiCh, err := channel.NewAPIChannel(channel.APIConfig{
			APIKey: cfg.Channel.APIKey,
			Model:  cfg.Channel.Model,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("building API channel: %w", err)
		}
		ch = apiCh
	default:
		cli := channel.NewCLIChannel(workDir)
		cli.Model = cfg.Channel.Model
		ch = cli
	}

	var store *state.DB
	cleanup := func() {}
	if cfg.Metrics.Persist {
		store, err = state.OpenProject(workDir)
		if err != nil {
			return nil, nil, fmt.Errorf("opening metrics store: %w", err)
		}
		if err := store.Migrate(); err != nil {
			store.Close()
			return nil, nil, fmt.Errorf("migrating metrics store: %w", err)
		}
		cleanup = func() { store.Close() }
	}

	c := coordinator.New(coordinator.Options{
		WorkingDir:      workDir,
		Channel:         ch,
		DefaultTimeout:  cfg.Defaults.Timeout,
		DefaultPriority: cfg.Defaults.Priority,
		Store:           store,
		DirectoryTTL:    cfg.Directory.TTL,
		WatchTemplates:  cfg.Directory.Watch,
	})

	if cfg.Filter.PolicyFile != "" {
		policies, err := contextfilter.LoadPolicies(cfg.Filter.PolicyFile)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("loading filter policies: %w", err)
		}
		for _, p := range policies {
			if err := c.RegisterCustomFilter(p.Category, p); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("registering policy %q: %w", p.Category, err)
			}
		}
	}

	return c, cleanup, nil
}

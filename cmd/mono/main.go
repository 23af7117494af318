// Command mono is the operator-facing CLI: it reads a YAML service
// config and reconciles the running set of microVMs against it.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/monocore/monocore/pkg/homedir"
	"github.com/monocore/monocore/pkg/log"
	"github.com/monocore/monocore/pkg/orchestrator"
	"github.com/monocore/monocore/pkg/types"
)

var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "mono",
	Short:   "mono reconciles a microVM service config against the running set",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("mono version %s\nCommit: %s\n", Version, Commit))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().String("home", "", "Override MONOCORE_HOME")
	rootCmd.PersistentFlags().String("mcrun", "mcrun", "Path to the mcrun supervisor binary")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(upCmd)
	rootCmd.AddCommand(downCmd)
	rootCmd.AddCommand(statusCmd)
}

func initLogging() {
	level, _ := rootCmd.PersistentFlags().GetString("log-level")
	jsonOut, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(level), JSONOutput: jsonOut})
}

// newOrchestrator builds an orchestrator rooted at MONOCORE_HOME (or
// --home), re-adopting any sandbox rows left behind by a prior process.
func newOrchestrator(cmd *cobra.Command) (*orchestrator.Orchestrator, error) {
	home, _ := cmd.Flags().GetString("home")
	if home == "" {
		h, err := homedir.MonocoreHome()
		if err != nil {
			return nil, err
		}
		home = h
	}
	mcrunPath, _ := cmd.Flags().GetString("mcrun")
	resolved, err := filepath.Abs(mcrunPath)
	if err != nil {
		resolved = mcrunPath
	}
	return orchestrator.Load(home, resolved)
}

func loadConfig(path string) (types.Config, error) {
	var cfg types.Config
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

var upCmd = &cobra.Command{
	Use:   "up <config.yaml>",
	Short: "Reconcile the running set of services to match a config file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(args[0])
		if err != nil {
			return err
		}
		o, err := newOrchestrator(cmd)
		if err != nil {
			return err
		}
		defer o.Close()

		report, err := o.Up(context.Background(), cfg)
		if err != nil {
			return err
		}
		printReport(report)
		return nil
	},
}

var downCmd = &cobra.Command{
	Use:   "down",
	Short: "Stop tracked services, optionally filtered by name or group",
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		group, _ := cmd.Flags().GetString("group")

		o, err := newOrchestrator(cmd)
		if err != nil {
			return err
		}
		defer o.Close()

		var filter *orchestrator.DownFilter
		if name != "" || group != "" {
			filter = &orchestrator.DownFilter{Name: name, Group: group}
		}
		report, err := o.Down(context.Background(), filter)
		if err != nil {
			return err
		}
		printReport(report)
		return nil
	},
}

func init() {
	downCmd.Flags().String("name", "", "Only stop the service with this name")
	downCmd.Flags().String("group", "", "Only stop services in this group")
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the status of every tracked service",
	RunE: func(cmd *cobra.Command, args []string) error {
		o, err := newOrchestrator(cmd)
		if err != nil {
			return err
		}
		defer o.Close()

		states, err := o.Status(context.Background())
		if err != nil {
			return err
		}
		printStates(states)
		return nil
	},
}

func printReport(r *orchestrator.Report) {
	for _, name := range r.Started {
		fmt.Printf("started  %s\n", name)
	}
	for _, name := range r.Removed {
		fmt.Printf("removed  %s\n", name)
	}
	for name, err := range r.Failed {
		fmt.Printf("failed   %s: %v\n", name, err)
	}
}

func printStates(states []types.MicroVmState) {
	fmt.Printf("%-20s %-12s %-8s %-8s %-10s\n", "NAME", "GROUP", "PID", "STATUS", "MEM(MiB)")
	for _, s := range states {
		fmt.Printf("%-20s %-12s %-8d %-8s %-10d\n",
			s.Service.Name, s.Group.Name, s.PID, s.Status.Kind, s.Metrics.MemoryUsage/(1024*1024))
	}
}

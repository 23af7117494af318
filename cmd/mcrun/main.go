// Command mcrun is the per-service supervisor binary the Orchestrator
// execs for every microVM it starts. It hosts the guest in-process via
// the VMM FFI (pkg/vm) rather than forking a child: supervisor_pid and
// microvm_pid are the same process for the lifetime of the sandbox row.
package main

import (
	"bufio"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/monocore/monocore/pkg/log"
	"github.com/monocore/monocore/pkg/types"
	"github.com/monocore/monocore/pkg/vm"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "mcrun",
	Short: "mcrun hosts a single microVM in-process",
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	cobra.OnInitialize(initLogging)
	rootCmd.AddCommand(runCmd)
}

func initLogging() {
	level, _ := rootCmd.PersistentFlags().GetString("log-level")
	jsonOut, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(level), JSONOutput: jsonOut})
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the microVM described by --service-json/--group-json",
	RunE:  runRun,
}

func init() {
	runCmd.Flags().String("service-json", "", "base64-encoded JSON types.Service")
	runCmd.Flags().String("group-json", "", "base64-encoded JSON types.Group")
	runCmd.Flags().String("rootfs", "", "Merged rootfs directory for this service")
	// log-dir and db are accepted for wire-contract parity with the
	// argv the Orchestrator's Supervisor builds, but mcrun itself never
	// opens either: the Supervisor already holds the sandbox database
	// open in the parent process and reports the console log path this
	// process should use over stdin, avoiding a second process trying
	// to lock the same bbolt file.
	runCmd.Flags().String("log-dir", "", "Directory the monitor writes its rotating console log into (unused by mcrun itself)")
	runCmd.Flags().String("db", "", "Path to the sandbox database file (unused by mcrun itself)")
	for _, name := range []string{"service-json", "group-json", "rootfs", "log-dir", "db"} {
		runCmd.MarkFlagRequired(name)
	}
}

func decodeJSONFlag(cmd *cobra.Command, flag string, out interface{}) error {
	raw, _ := cmd.Flags().GetString(flag)
	decoded, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return fmt.Errorf("decode --%s: %w", flag, err)
	}
	return json.Unmarshal(decoded, out)
}

// readConsoleLogPath reads the single line the Supervisor writes into
// this process's stdin once it has installed its Monitor around our
// pid: the path of the rotating console log it created for us. A
// closed stdin with no line written (r returns io.EOF before a
// newline) means the caller never reported one, which is always a
// caller bug since the only production caller is Supervisor.Run.
func readConsoleLogPath(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	line = strings.TrimSuffix(line, "\n")
	if line == "" {
		if err != nil {
			return "", fmt.Errorf("no console log path reported: %w", err)
		}
		return "", fmt.Errorf("no console log path reported")
	}
	return line, nil
}

func runRun(cmd *cobra.Command, args []string) error {
	var svc types.Service
	var grp types.Group
	if err := decodeJSONFlag(cmd, "service-json", &svc); err != nil {
		return err
	}
	if err := decodeJSONFlag(cmd, "group-json", &grp); err != nil {
		return err
	}
	rootfsPath, _ := cmd.Flags().GetString("rootfs")

	logger := log.WithSupervisorPID(os.Getpid())
	logger = logger.With().Str("service", svc.Name).Logger()

	consoleLogPath, err := readConsoleLogPath(os.Stdin)
	if err != nil {
		return fmt.Errorf("read console log path from supervisor: %w", err)
	}

	cfg, err := vm.NewMicroVMConfig(svc, rootfsPath, consoleLogPath)
	if err != nil {
		return fmt.Errorf("build vm config: %w", err)
	}

	guest, err := vm.FromConfig(cfg)
	if err != nil {
		return fmt.Errorf("create vm: %w", err)
	}
	defer guest.Close()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	// libkrun's enter call blocks and must run with the calling
	// goroutine pinned to its OS thread for the guest's whole lifetime,
	// so it runs on its own goroutine rather than the main one.
	startErrCh := make(chan error, 1)
	go func() {
		startErrCh <- guest.Start()
	}()

	select {
	case err := <-startErrCh:
		if err != nil {
			logger.Error().Err(err).Msg("guest exited with error")
			return err
		}
		logger.Info().Msg("guest exited")
		return nil
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("received shutdown signal")
		// There is no in-process cancellation path into libkrun's
		// blocking enter call; Close below frees the VMM context,
		// which is the only teardown primitive the FFI exposes.
		return nil
	}
}

// Command mfsrun serves a single content-addressed filesystem over
// NFSv3, recording a Filesystem row for its lifetime. Unlike mcrun, whose
// sandbox row is kept by the parent-side monitor, mfsrun opens the
// database and keeps its own row.
package main

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/monocore/monocore/pkg/ioplex"
	"github.com/monocore/monocore/pkg/ipld"
	"github.com/monocore/monocore/pkg/log"
	"github.com/monocore/monocore/pkg/monitor"
	"github.com/monocore/monocore/pkg/nfsfs"
	"github.com/monocore/monocore/pkg/storage"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "mfsrun",
	Short: "mfsrun serves one content-addressed tree over NFSv3",
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
	Short: "Start the NFS server described by the flags",
	RunE:  runRun,
}

func init() {
	runCmd.Flags().String("name", "", "Filesystem name, used for the sandbox-style log filename")
	runCmd.Flags().String("mount-dir", "", "Advisory mount path recorded on the filesystem row")
	runCmd.Flags().String("listen", "127.0.0.1:2049", "Address to serve NFSv3 on")
	runCmd.Flags().String("store-dir", "", "Directory holding this filesystem's bbolt block store")
	runCmd.Flags().String("log-dir", "", "Directory the monitor writes its log into")
	runCmd.Flags().String("db", "", "Path to the sandbox database file")
	for _, name := range []string{"name", "mount-dir", "store-dir", "log-dir", "db"} {
		runCmd.MarkFlagRequired(name)
	}
}

func runRun(cmd *cobra.Command, args []string) error {
	name, _ := cmd.Flags().GetString("name")
	mountDir, _ := cmd.Flags().GetString("mount-dir")
	listenAddr, _ := cmd.Flags().GetString("listen")
	storeDir, _ := cmd.Flags().GetString("store-dir")
	logDir, _ := cmd.Flags().GetString("log-dir")
	dbPath, _ := cmd.Flags().GetString("db")

	logger := log.WithSupervisorPID(os.Getpid()).With().Str("filesystem", name).Logger()

	store, err := storage.NewBoltStore(filepath.Dir(dbPath))
	if err != nil {
		return fmt.Errorf("open sandbox database: %w", err)
	}
	defer store.Close()

	blocks, err := ipld.NewBoltBlockStore(storeDir, ipld.Options{})
	if err != nil {
		return fmt.Errorf("open block store: %w", err)
	}
	defer blocks.Close()

	ln, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", listenAddr, err)
	}

	mon := monitor.NewNfsServerMonitor(store, mountDir, logDir, logger)
	if err := mon.Start(os.Getpid(), name, ioplex.ChildIO{}); err != nil {
		ln.Close()
		return fmt.Errorf("start monitor: %w", err)
	}
	defer mon.Stop()

	server := nfsfs.NewServer(ln, blocks, logger)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	serveErrCh := make(chan error, 1)
	go func() { serveErrCh <- server.Serve() }()

	select {
	case err := <-serveErrCh:
		if err != nil {
			logger.Error().Err(err).Msg("nfs server exited with error")
			return err
		}
		return nil
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("received shutdown signal")
		return ln.Close()
	}
}

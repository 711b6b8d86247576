// Command kerneld is the kernel server daemon: it opens an engine.Engine
// over a data directory and serves it over both the TCP wire protocol and
// the gRPC admin/introspection service until interrupted.
package main

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/kernaldb/kernel/internal/config"
	"github.com/kernaldb/kernel/internal/engine"
	"github.com/kernaldb/kernel/internal/observability"
	"github.com/kernaldb/kernel/internal/wire"
	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "kerneld",
	Short: "kerneld runs the kernel storage/execution engine as a server",
	Long: `kerneld opens a single-node relational storage and execution kernel
and serves it over a length-prefixed TCP protocol plus a gRPC
admin/introspection service, until interrupted.`,
	RunE: runServe,
}

func init() {
	rootCmd.Flags().String("config", "", "path to a YAML config file (defaults applied, then overridden by flags)")
	rootCmd.Flags().String("data-dir", "", "data directory (overrides config)")
	rootCmd.Flags().String("log-dir", "", "WAL directory (overrides config)")
	rootCmd.Flags().String("listen-addr", "", "TCP wire protocol listen address (overrides config)")
	rootCmd.Flags().String("admin-addr", "", "gRPC admin service listen address (overrides config)")
	rootCmd.Flags().String("log-level", "", "log level: debug, info, warn, error (overrides config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if v, _ := cmd.Flags().GetString("data-dir"); v != "" {
		cfg.DataDirectory = v
	}
	if v, _ := cmd.Flags().GetString("log-dir"); v != "" {
		cfg.LogDirectory = v
	}
	if v, _ := cmd.Flags().GetString("listen-addr"); v != "" {
		cfg.ListenAddr = v
	}
	if v, _ := cmd.Flags().GetString("admin-addr"); v != "" {
		cfg.AdminGRPCAddr = v
	}
	if v, _ := cmd.Flags().GetString("log-level"); v != "" {
		cfg.LogLevel = v
	}

	if err := os.MkdirAll(cfg.DataDirectory, 0o755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}
	if err := os.MkdirAll(cfg.LogDirectory, 0o755); err != nil {
		return fmt.Errorf("create log directory: %w", err)
	}

	eng, err := engine.Open(cfg)
	if err != nil {
		return fmt.Errorf("open engine: %w", err)
	}
	defer eng.Close()

	log := observability.New(cfg.LogLevel, nil)
	wireLog := observability.Component(log, "wire")

	wireSrv := wire.NewServer(eng, wireLog)
	wireErrCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.ListenAddr).Msg("kerneld: wire protocol listening")
		if err := wireSrv.ListenAndServe(cfg.ListenAddr); err != nil {
			wireErrCh <- err
		}
	}()

	adminLn, err := net.Listen("tcp", cfg.AdminGRPCAddr)
	if err != nil {
		return fmt.Errorf("listen admin grpc: %w", err)
	}
	adminSrv := wire.NewGRPCServer(eng)
	adminErrCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.AdminGRPCAddr).Msg("kerneld: admin grpc listening")
		if err := adminSrv.Serve(adminLn); err != nil {
			adminErrCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		log.Info().Msg("kerneld: shutting down")
	case err := <-wireErrCh:
		log.Error().Err(err).Msg("kerneld: wire server failed")
	case err := <-adminErrCh:
		log.Error().Err(err).Msg("kerneld: admin server failed")
	}

	adminSrv.GracefulStop()
	return wireSrv.Close()
}

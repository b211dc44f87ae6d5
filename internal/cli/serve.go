package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/harun/mcpagent/internal/config"
	"github.com/harun/mcpagent/internal/daemon"
	"github.com/harun/mcpagent/internal/logger"
)

var (
	serveHost string
	servePort int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP relay",
	Long: `Start the HTTP relay in the foreground. The agent is built once at startup;
the process exits on SIGINT or SIGTERM after draining in-flight queries.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "", "listen host (overrides server.host)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "listen port (overrides server.port)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serveHost != "" {
		cfg.Server.Host = serveHost
	}
	if servePort != 0 {
		cfg.Server.Port = servePort
	}

	log, err := logger.New(logger.FromConfig(cfg.Logging))
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Close()

	zl := log.Zerolog()
	for _, warning := range config.NewValidator().ValidateConfig(cfg) {
		zl.Warn().Err(warning).Msg("Configuration warning")
	}

	d, err := daemon.New(cfg, log)
	if err != nil {
		zl.Error().Err(err).Msg("Failed to initialize MCP Agent")
		return err
	}
	if err := d.Start(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var serveErr error
	select {
	case <-ctx.Done():
		zl.Info().Msg("Shutdown signal received")
	case serveErr = <-d.Errors():
		zl.Error().Err(serveErr).Msg("HTTP relay failed")
	}

	timeout := cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := d.Stop(shutdownCtx); err != nil {
		zl.Error().Err(err).Msg("Unclean shutdown")
		if serveErr == nil {
			serveErr = err
		}
	}

	return serveErr
}

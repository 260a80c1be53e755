package cmd

import (
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tvshift/tvshift/internal/config"
	"github.com/tvshift/tvshift/internal/daemon"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the tvshift server",
	Long: `Start the session protocol server and the admin API.

The session server accepts producer and consumer connections on the
configured TCP port. The admin API exposes health and per-session
buffer statistics.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "0.0.0.0", "Host to bind the session server to")
	serveCmd.Flags().Int("port", 34892, "Session server port")
	serveCmd.Flags().String("timeshift-dir", "/video", "Directory for ring buffer files")
	serveCmd.Flags().String("buffer-size", "1GB", "Per-session ring buffer capacity")

	mustBindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	mustBindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	mustBindPFlag("timeshift.dir", serveCmd.Flags().Lookup("timeshift-dir"))
	mustBindPFlag("timeshift.buffer_size", serveCmd.Flags().Lookup("buffer-size"))
}

func runServe(cmd *cobra.Command, _ []string) error {
	var cfg config.Config
	if err := viper.Unmarshal(&cfg, config.DecodeHooks()); err != nil {
		return fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	logger := slog.Default()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return daemon.New(&cfg, logger).Run(ctx)
}

package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/ticketdesk/reportd/internal/server"
)

var (
	servePort        int
	serveHost        string
	serveNoScheduler bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the API server and the report scheduler",
	Long: `Run the HTTP API and the scheduler loop.

On start, executions left running by a previous process are marked failed
and schedules whose next run passed while the service was down are moved
to their next future slot. On SIGINT or SIGTERM the server stops accepting
requests and in-flight executions get scheduler.shutdown_timeout to finish.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Port to listen on (overrides config)")
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Host to bind to (overrides config)")
	serveCmd.Flags().BoolVar(&serveNoScheduler, "no-scheduler", false, "Serve the API without the scheduler loop")

	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if cmd.Flags().Changed("port") {
		cfg.Server.Port = servePort
	}
	if cmd.Flags().Changed("host") {
		cfg.Server.Host = serveHost
	}
	if serveNoScheduler {
		cfg.Scheduler.Enabled = false
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.sched.Start(ctx); err != nil {
		return fmt.Errorf("starting scheduler: %w", err)
	}

	srv, err := server.New(cfg, a.db, a.sched, a.execs,
		server.WithBroker(a.broker),
		server.WithArchive(a.archive),
		server.WithVersion(version),
	)
	if err != nil {
		return err
	}

	logServerInfo(a)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(context.Background())
	}()

	var serveErr error
	select {
	case serveErr = <-errCh:
		if serveErr != nil {
			log.Error().Err(serveErr).Msg("Server error")
		}
	case <-ctx.Done():
		log.Info().Msg("Shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Scheduler.ShutdownTimeout+5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("HTTP server shutdown incomplete")
	}

	schedCtx, schedCancel := context.WithTimeout(context.Background(), cfg.Scheduler.ShutdownTimeout)
	defer schedCancel()
	if err := a.sched.Stop(schedCtx); err != nil {
		log.Warn().Err(err).Msg("Scheduler shutdown incomplete")
	}

	log.Info().Msg("Shutdown complete")
	return serveErr
}

func logServerInfo(a *app) {
	cfg := a.cfg
	base := "http://" + cfg.Server.Address()

	event := log.Info().
		Str("api", base+"/scheduled-reports").
		Str("health", base+"/health").
		Bool("scheduler", cfg.Scheduler.Enabled).
		Bool("auth", cfg.Auth.Enabled).
		Str("archive", archiveKind(cfg.Archive.Type))

	if cfg.Metrics.Enabled {
		event = event.Str("metrics", base+cfg.Metrics.Path)
	}
	if a.broker != nil {
		event = event.Str("stream", "ws://"+cfg.Server.Address()+"/scheduled-reports/executions/stream")
	}
	if cfg.Email.DryRun {
		event = event.Bool("email_dry_run", true)
	}

	event.Msg("reportd ready")
}

func archiveKind(t string) string {
	if t == "" {
		return "none"
	}
	return t
}

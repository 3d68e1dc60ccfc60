package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	internalhttp "github.com/jmylchreest/esplay/internal/http"
	"github.com/jmylchreest/esplay/internal/http/handlers"
	"github.com/jmylchreest/esplay/internal/observability"
	"github.com/jmylchreest/esplay/internal/session"
	"github.com/jmylchreest/esplay/internal/version"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the esplay control server",
	Long: `Start the esplay HTTP server.

The server provides:
- REST API for opening, controlling and closing playback sessions
- Server-sent event streams of player events per session
- Health check endpoints (/livez, /health)
- OpenAPI documentation at /docs`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "0.0.0.0", "Host to bind to")
	serveCmd.Flags().Int("port", 8080, "Port to listen on")
	serveCmd.Flags().Int("max-sessions", 16, "Maximum concurrent playback sessions")
	serveCmd.Flags().String("backend", "player", "Default backend (player, es)")
	serveCmd.Flags().Bool("request-logging", true, "Log every request, not only failures")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig(cmd, map[string]string{
		"server.host":             "host",
		"server.port":             "port",
		"session.max_sessions":    "max-sessions",
		"backend.kind":            "backend",
		"logging.request_logging": "request-logging",
	})
	if err != nil {
		return err
	}
	observability.SetRequestLogging(cfg.Logging.RequestLogging)

	manager := session.NewManager(session.ManagerConfigFrom(cfg), logger)

	serverConfig := internalhttp.ServerConfigFrom(cfg.Server)
	server := internalhttp.NewServer(serverConfig, logger)

	docsHandler := handlers.NewDocsHandler("esplay API", "/openapi.yaml")
	server.Router().Get("/docs", docsHandler.ServeHTTP)

	handlers.NewHealthHandler(manager).Register(server.API())

	sessionHandler := handlers.NewSessionHandler(manager, logger)
	sessionHandler.Register(server.API())
	sessionHandler.RegisterSSE(server.Router())

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("starting esplay server",
		slog.String("address", cfg.Server.Address()),
		slog.String("version", version.Version),
		slog.String("default_backend", cfg.Backend.Kind),
		slog.Int("max_sessions", cfg.Session.MaxSessions),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.ListenAndServe(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), serverConfig.ShutdownTimeout)
		defer cancel()
		logger.Info("closing sessions", slog.Int("active", manager.Stats().ActiveSessions))
		return manager.CloseAll(shutdownCtx)
	})

	return g.Wait()
}

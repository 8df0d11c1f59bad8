package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	h "github.com/gorilla/handlers"
	"github.com/rs/zerolog"

	"github.com/feraraujofilho/prod-staging-sync-app-sub000/internal/config"
	"github.com/feraraujofilho/prod-staging-sync-app-sub000/internal/handlers"
	"github.com/feraraujofilho/prod-staging-sync-app-sub000/internal/mapping"
	"github.com/feraraujofilho/prod-staging-sync-app-sub000/internal/middleware"
	"github.com/feraraujofilho/prod-staging-sync-app-sub000/internal/migration"
	"github.com/feraraujofilho/prod-staging-sync-app-sub000/internal/notification"
	"github.com/feraraujofilho/prod-staging-sync-app-sub000/internal/orchestrator"
	"github.com/feraraujofilho/prod-staging-sync-app-sub000/internal/repository"
	"github.com/feraraujofilho/prod-staging-sync-app-sub000/internal/routes"
	"github.com/feraraujofilho/prod-staging-sync-app-sub000/internal/scheduler"
	"github.com/feraraujofilho/prod-staging-sync-app-sub000/internal/utils"

	_ "github.com/lib/pq" // PostgreSQL driver
)

type application struct {
	config        *config.Config
	db            *sql.DB
	logger        zerolog.Logger
	notifications notification.Service
	orchestrator  *orchestrator.Orchestrator
	scheduler     *scheduler.Scheduler
	mappings      *mapping.Store
	cipher        *utils.TokenCipher
}

func main() {
	// Set up structured, level-based logging.
	consoleWriter := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen}
	logger := zerolog.New(consoleWriter).With().Timestamp().Logger()

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	log.SetFlags(0)
	log.SetOutput(logger)

	// Load configuration.
	cfg := config.Load()

	// Initialize database connection.
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to the database")
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to ping database")
	}

	// Run database migrations.
	migration.RunMigrations(cfg.DatabaseURL)

	// Token cipher for access tokens at rest.
	cipher, err := utils.NewTokenCipher(cfg.EncryptionSecret)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize token cipher")
	}

	// Repositories.
	connRepo := repository.NewConnectionRepository(db)
	syncLogRepo := repository.NewSyncLogRepository(db)
	mappingRepo := repository.NewMappingRepository(db)
	scheduleRepo := repository.NewScheduleRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)

	// Notification service with the configured delivery channels.
	var notifiers []notification.Notifier
	if cfg.Email.SMTPHost != "" {
		emailNotifier, err := notification.NewEmailNotifier(cfg.Email, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to configure email notifier")
		}
		notifiers = append(notifiers, emailNotifier)
	}
	if cfg.Webhook.Enabled {
		notifiers = append(notifiers, notification.NewWebhookNotifier(cfg.Webhook, logger))
	}
	notificationService := notification.NewService(notificationRepo, logger, notifiers...)

	mappingStore := mapping.NewStore(mappingRepo, logger)

	orc := orchestrator.New(connRepo, syncLogRepo, mappingStore, cipher, notificationService, cfg.APIVersion, logger)

	// Fail any runs a previous process abandoned mid-flight.
	ctx := context.Background()
	if _, err := orc.RecoverStaleRuns(ctx, cfg.Sync.StaleRunAge); err != nil {
		logger.Error().Err(err).Msg("Failed to recover stale sync runs")
	}

	sched := scheduler.New(scheduleRepo, connRepo, orc, notificationService, logger)
	if err := sched.Init(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Failed to arm sync schedules")
	}

	// Create the application instance.
	app := &application{
		config:        cfg,
		db:            db,
		logger:        logger,
		notifications: notificationService,
		orchestrator:  orc,
		scheduler:     sched,
		mappings:      mappingStore,
		cipher:        cipher,
	}

	// Initialize the HTTP router and middleware.
	router := app.initRouter(connRepo, scheduleRepo, logger)
	loggedRouter := middleware.LoggingMiddleware(router)
	corsHandler := h.CORS(
		h.AllowedOrigins(cfg.AllowedOrigins),
		h.AllowedMethods([]string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
		h.AllowedHeaders([]string{"Content-Type", "Authorization"}),
		h.AllowCredentials(),
	)(loggedRouter)

	// Start the HTTP server and handle graceful shutdown.
	app.startServer(corsHandler, logger)

	logger.Info().Msg("Application terminated.")
}

// initRouter sets up all HTTP handlers and returns the router.
func (app *application) initRouter(
	connRepo repository.ConnectionRepository,
	scheduleRepo repository.ScheduleRepository,
	logger zerolog.Logger,
) http.Handler {
	connHandler := handlers.NewConnectionHandler(connRepo, app.cipher, app.scheduler, app.config.APIVersion, logger)
	syncHandler := handlers.NewSyncHandler(app.orchestrator, connRepo, app.config.Sync.RequestTimeout, logger)
	mappingHandler := handlers.NewMappingHandler(app.mappings, logger)
	scheduleHandler := handlers.NewScheduleHandler(scheduleRepo, connRepo, app.scheduler, logger)
	notificationHandler := handlers.NewNotificationHandler(app.notifications, logger)

	return routes.NewRouter(
		app.config.AppAPIKey,
		app.config.AppAPISecret,
		connHandler,
		syncHandler,
		mappingHandler,
		scheduleHandler,
		notificationHandler,
	)
}

// startServer launches the HTTP server and handles graceful shutdown.
func (app *application) startServer(handler http.Handler, logger zerolog.Logger) {
	server := &http.Server{
		Addr:    ":" + app.config.ServerPort,
		Handler: handler,
	}

	// Channel to listen for server errors
	serverErrCh := make(chan error, 1)
	go func() {
		logger.Info().Msgf("Server listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrCh <- err
		}
	}()

	// Wait for an interrupt signal or a server error.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info().Msgf("Received signal: %s. Shutting down...", sig)
	case err := <-serverErrCh:
		logger.Error().Err(err).Msg("Server error occurred")
	}

	// Gracefully shut down the HTTP server. Scheduled runs already in
	// flight keep their own contexts; armed timers die with the process
	// and are re-armed from next_run_at on the next start.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown error")
	} else {
		logger.Info().Msg("HTTP server shutdown complete.")
	}
}

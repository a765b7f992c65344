package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/jwalitptl/queue-api/internal/config"
	"github.com/jwalitptl/queue-api/internal/handler"
	cabinHandler "github.com/jwalitptl/queue-api/internal/handler/cabin"
	displayHandler "github.com/jwalitptl/queue-api/internal/handler/display"
	queueHandler "github.com/jwalitptl/queue-api/internal/handler/queue"
	registrationHandler "github.com/jwalitptl/queue-api/internal/handler/registration"
	"github.com/jwalitptl/queue-api/internal/middleware"
	"github.com/jwalitptl/queue-api/internal/repository/postgres"
	"github.com/jwalitptl/queue-api/internal/router"
	cabinService "github.com/jwalitptl/queue-api/internal/service/cabin"
	displayService "github.com/jwalitptl/queue-api/internal/service/display"
	queueService "github.com/jwalitptl/queue-api/internal/service/queue"
	"github.com/jwalitptl/queue-api/internal/service/timer"
	tokenService "github.com/jwalitptl/queue-api/internal/service/token"
	"github.com/jwalitptl/queue-api/pkg/auth"
	"github.com/jwalitptl/queue-api/pkg/metrics"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	db, err := postgres.NewDB(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	patientRepo := postgres.NewPatientRepository(db)
	transactionRepo := postgres.NewTransactionRepository(db)
	cabinRepo := postgres.NewCabinRepository(db)
	groupRepo := postgres.NewGroupRepository(db)
	tokenRepo := postgres.NewTokenRepository(db)
	outboxRepo := postgres.NewOutboxRepository(db)

	m := metrics.New("queue_api")
	timers := timer.NewSupervisor(cfg.Queue.NoShowGrace, log.Logger)
	defer timers.Stop()

	queueSvc := queueService.NewService(
		transactionRepo,
		patientRepo,
		cabinRepo,
		groupRepo,
		tokenService.NewService(tokenRepo),
		timers,
		outboxRepo,
		m,
		log.Logger,
	)
	cabinSvc := cabinService.NewService(cabinRepo, transactionRepo, patientRepo, queueSvc, log.Logger)
	displaySvc := displayService.NewService(
		groupRepo,
		transactionRepo,
		patientRepo,
		cabinRepo,
		cfg.Queue.DisplayWindow,
		cfg.Queue.SnapshotCacheTTL,
		log.Logger,
	)

	jwtSvc := auth.NewJWTService(cfg.JWT.Secret, time.Duration(cfg.JWT.ExpiryHours)*time.Hour)
	authMiddleware := middleware.NewAuthMiddleware(jwtSvc)

	r := router.NewRouter(
		authMiddleware,
		registrationHandler.NewHandler(queueSvc),
		displayHandler.NewHandler(displaySvc),
		queueHandler.NewHandler(queueSvc),
		cabinHandler.NewHandler(cabinSvc, queueSvc),
		handler.NewHealthHandler(db),
		router.Config{
			RateLimit:           rate.Limit(cfg.Server.RateLimit),
			RateBurst:           cfg.Server.RateBurst,
			CORSConfig:          middleware.DefaultCORSConfig(),
			MetricsPrefix:       "queue_api_http",
			RequestTimeout:      time.Duration(cfg.Server.TimeoutSeconds) * time.Second,
			DisplayCacheSeconds: int(cfg.Queue.SnapshotCacheTTL.Seconds()),
		},
	)
	r.Setup()

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: r.Engine(),
	}

	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("starting queue API")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server exited properly")
}

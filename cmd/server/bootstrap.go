package main

import (
	"fmt"
	"os"
	"time"

	"github.com/feedrelay/feedrelay/internal/config"
	"github.com/feedrelay/feedrelay/internal/handlers"
	"github.com/feedrelay/feedrelay/internal/models"
	"github.com/feedrelay/feedrelay/internal/services"
	"github.com/feedrelay/feedrelay/internal/utils"
	"github.com/feedrelay/feedrelay/pkg/logger"
	"github.com/google/uuid"
)

// appServices holds all initialized services and handlers needed by the application.
type appServices struct {
	leaseService    *services.LeaseService
	dispatchService *services.DispatchService
	scheduleService *services.ScheduleService
	fetchService    *services.FetchService
	retryService    *services.RetryService
	kickQueue       services.KickQueue
	kickWorker      *services.KickWorker

	authHandler        *handlers.AuthHandler
	automationHandler  *handlers.AutomationHandler
	sourceHandler      *handlers.SourceHandler
	destinationHandler *handlers.DestinationHandler
	dispatchHandler    *handlers.DispatchHandler
	leaseHandler       *handlers.LeaseHandler
	healthHandler      *handlers.HealthHandler
}

// instanceID identifies this process as a lease owner and dispatch
// claimant. Unique per start so a restarted process never mistakes a
// stale row for its own.
func instanceID() string {
	host, err := os.Hostname()
	if err != nil {
		host = "feedrelay"
	}
	return fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])
}

// bootstrap initializes all application dependencies: database, services, schedulers.
func bootstrap(cfg *config.Config) *appServices {
	utils.SetJWTSecret(cfg.JWT.Secret)

	if err := models.InitDB(&cfg.Database); err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	if err := models.AutoMigrate(); err != nil {
		logger.Fatalf("Failed to migrate database: %v", err)
	}
	if err := models.SeedDefaultData(); err != nil {
		logger.Warn().Err(err).Msg("Failed to seed default data")
	}

	db := models.GetDB()
	owner := instanceID()
	logger.SetInstance(owner)

	leaseService := services.NewLeaseService(db, owner,
		time.Duration(cfg.Lease.TTLSeconds)*time.Second,
		time.Duration(cfg.Lease.RenewIntervalSeconds)*time.Second)

	pacer := services.NewSendPacer(cfg.Dispatch.GlobalSendsPerSecond)
	sender := services.NewWebhookSender(time.Duration(cfg.Sender.TimeoutSeconds) * time.Second)

	dispatchService := services.NewDispatchService(db, leaseService, sender, pacer, owner,
		cfg.Dispatch.MaxRetries,
		time.Duration(cfg.Dispatch.BatchGraceMinutes)*time.Minute,
		time.Duration(cfg.Dispatch.WorkerTickSeconds)*time.Second)

	contentService := services.NewContentService(db)
	scheduleService := services.NewScheduleService(db, contentService, dispatchService, leaseService,
		time.Duration(cfg.Schedule.TickSeconds)*time.Second)

	// Kick queue (uses Redis if enabled, otherwise in-process)
	kickQueue := services.InitKickQueue(cfg, dispatchService)
	scheduleService.SetKicker(kickQueue)

	var kickWorker *services.KickWorker
	if cfg.Redis.Enabled {
		kickWorker = services.NewKickWorker(&cfg.Redis, dispatchService, leaseService)
	}

	fetcher := services.NewHTTPFeedFetcher(time.Duration(cfg.Sender.TimeoutSeconds) * time.Second)
	fetchService := services.NewFetchService(db, fetcher, contentService, leaseService,
		time.Duration(cfg.Schedule.FetchIntervalSeconds)*time.Second)

	retryService := services.NewRetryService(db, cfg.Dispatch.MaxRetries,
		time.Duration(cfg.Dispatch.WatchdogTimeoutMinutes)*time.Minute,
		time.Duration(cfg.Dispatch.SweepIntervalMinutes)*time.Minute)

	operatorService := services.NewOperatorService(db, cfg.JWT.ExpireHour)
	if err := operatorService.EnsureDefaultAdmin(); err != nil {
		logger.Warn().Err(err).Msg("Failed to create admin user")
	}

	diagService := services.NewDiagnosticsService(db, leaseService)

	return &appServices{
		leaseService:    leaseService,
		dispatchService: dispatchService,
		scheduleService: scheduleService,
		fetchService:    fetchService,
		retryService:    retryService,
		kickQueue:       kickQueue,
		kickWorker:      kickWorker,

		authHandler:        handlers.NewAuthHandler(operatorService),
		automationHandler:  handlers.NewAutomationHandler(db, scheduleService, diagService),
		sourceHandler:      handlers.NewSourceHandler(db),
		destinationHandler: handlers.NewDestinationHandler(db),
		dispatchHandler:    handlers.NewDispatchHandler(db, dispatchService),
		leaseHandler:       handlers.NewLeaseHandler(leaseService),
		healthHandler:      handlers.NewHealthHandler(db, leaseService),
	}
}

// start launches the background loops.
func (s *appServices) start() {
	s.leaseService.Start()
	s.dispatchService.Start()
	s.scheduleService.Start()
	s.fetchService.Start()
	s.retryService.Start()
	if s.kickWorker != nil {
		if err := s.kickWorker.Start(); err != nil {
			logger.Warn().Err(err).Msg("kick worker failed to start, continuing without it")
		}
	}
}

// shutdown gracefully stops all services. Producers stop before the
// dispatch worker so in-flight sends finish; the lease goes last so the
// session stays owned until the final drain.
func (s *appServices) shutdown() {
	s.scheduleService.Stop()
	s.fetchService.Stop()
	s.retryService.Stop()
	if s.kickWorker != nil {
		s.kickWorker.Stop()
	}
	s.dispatchService.Stop()
	if s.kickQueue != nil {
		if err := s.kickQueue.Close(); err != nil {
			logger.Warn().Err(err).Msg("kick queue close failed")
		}
	}
	s.leaseService.Stop()
	logger.Info().Msg("All services stopped")
}

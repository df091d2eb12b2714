package main

import (
	"context"
	"time"

	"github.com/hirewire/billing/internal/api"
	"github.com/hirewire/billing/internal/api/cron"
	v1 "github.com/hirewire/billing/internal/api/v1"
	"github.com/hirewire/billing/internal/cache"
	"github.com/hirewire/billing/internal/clickhouse"
	"github.com/hirewire/billing/internal/clock"
	"github.com/hirewire/billing/internal/config"
	"github.com/hirewire/billing/internal/httpclient"
	"github.com/hirewire/billing/internal/idempotency"
	"github.com/hirewire/billing/internal/lock"
	"github.com/hirewire/billing/internal/logger"
	"github.com/hirewire/billing/internal/notification"
	"github.com/hirewire/billing/internal/postgres"
	pubsubRouter "github.com/hirewire/billing/internal/pubsub/router"
	"github.com/hirewire/billing/internal/pyroscope"
	"github.com/hirewire/billing/internal/repository"
	"github.com/hirewire/billing/internal/sentry"
	"github.com/hirewire/billing/internal/service"
	"github.com/hirewire/billing/internal/types"
	"github.com/hirewire/billing/internal/validator"
	"go.uber.org/fx"

	_ "github.com/hirewire/billing/docs/swagger"
	"github.com/gin-gonic/gin"
)

// @title Hirewire Billing API
// @version 1.0
// @description Subscription lifecycle and proration billing service
// @BasePath /v1
// @schemes http https

func init() {
	// Set UTC timezone for the entire application
	time.Local = time.UTC
}

func main() {
	// Initialize Fx application
	var opts []fx.Option

	// Core dependencies
	opts = append(opts,
		fx.Provide(
			// Validator
			validator.NewValidator,

			// Config
			config.NewConfig,

			// Logger
			logger.NewLogger,

			// Monitoring
			sentry.NewSentryService,

			// Clock
			clock.New,

			// Cache
			cache.NewInMemoryCache,

			// Postgres
			postgres.NewDB,

			// Clickhouse
			clickhouse.NewClickHouseStore,

			// HTTP Client
			httpclient.NewDefaultClient,

			// Sweep run locks
			lock.NewManager,

			// Idempotency keys
			idempotency.NewGenerator,

			// Repositories
			repository.NewEventRepository,
			repository.NewPlanRepository,
			repository.NewSubscriptionRepository,
			repository.NewHistoryRepository,
			repository.NewPaymentRepository,
			repository.NewReminderRepository,
			repository.NewUsageRepository,

			// PubSub
			pubsubRouter.NewRouter,
		),
	)

	// Notification module (must be initialised before services)
	opts = append(opts, notification.Module)

	// Continuous profiling
	opts = append(opts, pyroscope.Module())

	// Service layer
	opts = append(opts,
		fx.Provide(
			service.NewServiceParams,

			// Business services
			service.NewPlanService,
			service.NewSubscriptionService,
			service.NewUsageService,
			service.NewPaymentService,
			service.NewSweepService,
			service.NewAnalyticsService,
		),
	)

	// API
	opts = append(opts,
		fx.Provide(
			provideHandlers,
			provideRouter,
		),
		fx.Invoke(
			sentry.RegisterHooks,
			startServer,
		),
	)

	app := fx.New(opts...)
	app.Run()
}

func provideHandlers(
	logger *logger.Logger,
	subscriptionService service.SubscriptionService,
	usageService service.UsageService,
	planService service.PlanService,
	paymentService service.PaymentService,
	analyticsService service.AnalyticsService,
	sweepService service.SweepService,
) api.Handlers {
	return api.Handlers{
		Health:           v1.NewHealthHandler(logger),
		Subscription:     v1.NewSubscriptionHandler(subscriptionService, logger),
		Usage:            v1.NewUsageHandler(usageService, logger),
		Plan:             v1.NewPlanHandler(planService, logger),
		Payment:          v1.NewPaymentHandler(paymentService, logger),
		Analytics:        v1.NewAnalyticsHandler(analyticsService, logger),
		CronSubscription: cron.NewSubscriptionHandler(sweepService, logger),
	}
}

func provideRouter(handlers api.Handlers, cfg *config.Configuration) *gin.Engine {
	return api.NewRouter(handlers, cfg)
}

func startServer(
	lc fx.Lifecycle,
	cfg *config.Configuration,
	r *gin.Engine,
	router *pubsubRouter.Router,
	notificationHandler notification.Handler,
	log *logger.Logger,
) {
	mode := cfg.Deployment.Mode
	if mode == "" {
		mode = types.ModeLocal
	}

	switch mode {
	case types.ModeLocal:
		startAPIServer(lc, r, cfg, log)
		startMessageRouter(lc, router, notificationHandler, log)
	case types.ModeAPI:
		startAPIServer(lc, r, cfg, log)
	case types.ModeConsumer:
		startMessageRouter(lc, router, notificationHandler, log)
	default:
		log.Fatalf("Unknown deployment mode: %s", mode)
	}
}

func startAPIServer(
	lc fx.Lifecycle,
	r *gin.Engine,
	cfg *config.Configuration,
	log *logger.Logger,
) {
	log.Info("Registering API server start hook")
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Info("Starting API server...")
			go func() {
				if err := r.Run(cfg.Server.Address); err != nil {
					log.Fatalf("Failed to start server: %v", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Info("Shutting down server...")
			return nil
		},
	})
}

func startMessageRouter(
	lc fx.Lifecycle,
	router *pubsubRouter.Router,
	handler notification.Handler,
	logger *logger.Logger,
) {
	// Register handlers before starting the router
	handler.RegisterHandler(router)

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			logger.Info("starting message router")
			go func() {
				if err := router.Run(); err != nil {
					logger.Errorw("message router failed", "error", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("stopping message router")
			return router.Close()
		},
	})
}

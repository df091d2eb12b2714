package api

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/hirewire/billing/internal/api/cron"
	v1 "github.com/hirewire/billing/internal/api/v1"
	"github.com/hirewire/billing/internal/config"
	"github.com/hirewire/billing/internal/rest/middleware"
)

type Handlers struct {
	Health           *v1.HealthHandler
	Subscription     *v1.SubscriptionHandler
	Usage            *v1.UsageHandler
	Plan             *v1.PlanHandler
	Payment          *v1.PaymentHandler
	Analytics        *v1.AnalyticsHandler
	CronSubscription *cron.SubscriptionHandler
}

func NewRouter(handlers Handlers, cfg *config.Configuration) *gin.Engine {
	router := gin.Default()

	router.Use(
		middleware.RequestIDMiddleware,
		middleware.TenantMiddleware,
		middleware.CORSMiddleware,
		middleware.SentryMiddleware(cfg),
		middleware.PyroscopeMiddleware(cfg),
		middleware.ErrorHandler(),
	)

	router.GET("/health", handlers.Health.Health)

	// Swagger documentation
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// v1 routes
	v1Group := router.Group("/v1")
	registerV1Routes(v1Group, handlers)

	// cron routes, called by the scheduler rather than subscribers
	cronGroup := router.Group("/cron")
	registerCronRoutes(cronGroup, handlers)

	return router
}

func registerV1Routes(router *gin.RouterGroup, handlers Handlers) {
	// Subscription routes
	subscriptions := router.Group("/subscriptions")
	{
		subscriptions.POST("", handlers.Subscription.CreateSubscription)
		subscriptions.POST("/trial", handlers.Subscription.CreateTrialSubscription)
		subscriptions.GET("", handlers.Subscription.ListSubscriptions)
		subscriptions.GET("/:id", handlers.Subscription.GetSubscription)
		subscriptions.GET("/:id/history", handlers.Subscription.GetSubscriptionHistory)
		subscriptions.POST("/:id/renew", handlers.Subscription.RenewSubscription)
		subscriptions.POST("/:id/upgrade", handlers.Subscription.UpgradeSubscription)
		subscriptions.POST("/:id/downgrade", handlers.Subscription.ScheduleDowngrade)
		subscriptions.POST("/:id/cancel", handlers.Subscription.CancelSubscription)
		subscriptions.POST("/:id/convert", handlers.Subscription.ConvertTrialToPaid)

		// Usage routes scoped to a subscription
		subscriptions.POST("/:id/usage", handlers.Usage.RecordUsage)
		subscriptions.GET("/:id/usage", handlers.Usage.GetUsage)
		subscriptions.GET("/:id/usage/events", handlers.Usage.ListUsageEvents)
		subscriptions.GET("/:id/limits/:feature", handlers.Usage.CheckLimit)
	}

	// Plan routes
	plans := router.Group("/plans")
	{
		plans.POST("", handlers.Plan.CreatePlan)
		plans.GET("", handlers.Plan.ListPlans)
		plans.GET("/:id", handlers.Plan.GetPlan)
		plans.PUT("/:id", handlers.Plan.UpdatePlan)
		plans.DELETE("/:id", handlers.Plan.DeletePlan)
	}

	// Payment routes
	payments := router.Group("/payments")
	{
		payments.GET("", handlers.Payment.ListPayments)
		payments.GET("/:id", handlers.Payment.GetPayment)
	}

	// Analytics routes
	router.GET("/analytics", handlers.Analytics.GetAnalytics)
}

func registerCronRoutes(router *gin.RouterGroup, handlers Handlers) {
	subscriptions := router.Group("/subscriptions")
	{
		subscriptions.POST("/expire", handlers.CronSubscription.RunExpirationSweep)
		subscriptions.POST("/downgrades", handlers.CronSubscription.RunScheduledDowngradeSweep)
		subscriptions.POST("/reminders", handlers.CronSubscription.RunRenewalReminderSweep)
	}
}

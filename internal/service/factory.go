package service

import (
	"github.com/hirewire/billing/internal/clock"
	"github.com/hirewire/billing/internal/config"
	"github.com/hirewire/billing/internal/domain/events"
	"github.com/hirewire/billing/internal/domain/payment"
	"github.com/hirewire/billing/internal/domain/plan"
	"github.com/hirewire/billing/internal/domain/reminder"
	"github.com/hirewire/billing/internal/domain/subscription"
	"github.com/hirewire/billing/internal/domain/usage"
	"github.com/hirewire/billing/internal/idempotency"
	"github.com/hirewire/billing/internal/lock"
	"github.com/hirewire/billing/internal/logger"
	"github.com/hirewire/billing/internal/notification"
)

// ServiceParams holds common dependencies for services
type ServiceParams struct {
	Logger *logger.Logger
	Config *config.Configuration

	// Clock is the single source of time for every lifecycle decision
	Clock clock.Clock

	// Publisher dispatches subscriber facing notification events
	Publisher notification.Publisher

	// IdempotencyGen derives the ledger idempotency keys
	IdempotencyGen *idempotency.Generator

	// Locks hands out the per sweep run locks
	Locks *lock.Manager

	// Repositories
	PlanRepo     plan.Repository
	SubRepo      subscription.Repository
	HistoryRepo  subscription.HistoryRepository
	PaymentRepo  payment.Repository
	ReminderRepo reminder.Repository
	UsageRepo    usage.Repository
	EventRepo    events.Repository
}

// NewServiceParams creates a new ServiceParams
func NewServiceParams(
	logger *logger.Logger,
	config *config.Configuration,
	clock clock.Clock,
	publisher notification.Publisher,
	idempotencyGen *idempotency.Generator,
	locks *lock.Manager,
	planRepo plan.Repository,
	subRepo subscription.Repository,
	historyRepo subscription.HistoryRepository,
	paymentRepo payment.Repository,
	reminderRepo reminder.Repository,
	usageRepo usage.Repository,
	eventRepo events.Repository,
) ServiceParams {
	return ServiceParams{
		Logger:         logger,
		Config:         config,
		Clock:          clock,
		Publisher:      publisher,
		IdempotencyGen: idempotencyGen,
		Locks:          locks,
		PlanRepo:       planRepo,
		SubRepo:        subRepo,
		HistoryRepo:    historyRepo,
		PaymentRepo:    paymentRepo,
		ReminderRepo:   reminderRepo,
		UsageRepo:      usageRepo,
		EventRepo:      eventRepo,
	}
}

package repository

import (
	"github.com/hirewire/billing/internal/cache"
	"github.com/hirewire/billing/internal/clickhouse"
	"github.com/hirewire/billing/internal/domain/events"
	"github.com/hirewire/billing/internal/domain/payment"
	"github.com/hirewire/billing/internal/domain/plan"
	"github.com/hirewire/billing/internal/domain/reminder"
	"github.com/hirewire/billing/internal/domain/subscription"
	"github.com/hirewire/billing/internal/domain/usage"
	"github.com/hirewire/billing/internal/logger"
	"github.com/hirewire/billing/internal/postgres"
	clickhouseRepo "github.com/hirewire/billing/internal/repository/clickhouse"
	postgresRepo "github.com/hirewire/billing/internal/repository/postgres"
)

type RepositoryType string

const (
	PostgresRepo   RepositoryType = "postgres"
	ClickHouseRepo RepositoryType = "clickhouse"
)

func NewEventRepository(store *clickhouse.ClickHouseStore, logger *logger.Logger) events.Repository {
	return clickhouseRepo.NewEventRepository(store, logger)
}

func NewPlanRepository(db *postgres.DB, logger *logger.Logger, cache cache.Cache) plan.Repository {
	return postgresRepo.NewPlanRepository(db, logger, cache)
}

func NewSubscriptionRepository(db *postgres.DB, logger *logger.Logger) subscription.Repository {
	return postgresRepo.NewSubscriptionRepository(db, logger)
}

func NewHistoryRepository(db *postgres.DB, logger *logger.Logger) subscription.HistoryRepository {
	return postgresRepo.NewHistoryRepository(db, logger)
}

func NewPaymentRepository(db *postgres.DB, logger *logger.Logger) payment.Repository {
	return postgresRepo.NewPaymentRepository(db, logger)
}

func NewReminderRepository(db *postgres.DB, logger *logger.Logger) reminder.Repository {
	return postgresRepo.NewReminderRepository(db, logger)
}

func NewUsageRepository(db *postgres.DB, logger *logger.Logger) usage.Repository {
	return postgresRepo.NewUsageRepository(db, logger)
}

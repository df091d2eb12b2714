package postgres

import (
	"context"
	"time"

	domainReminder "github.com/hirewire/billing/internal/domain/reminder"
	ierr "github.com/hirewire/billing/internal/errors"
	"github.com/hirewire/billing/internal/logger"
	"github.com/hirewire/billing/internal/postgres"
	"github.com/hirewire/billing/internal/types"
)

type reminderRepository struct {
	db     *postgres.DB
	logger *logger.Logger
}

func NewReminderRepository(db *postgres.DB, logger *logger.Logger) domainReminder.Repository {
	return &reminderRepository{db: db, logger: logger}
}

func (r *reminderRepository) Create(ctx context.Context, reminder *domainReminder.Reminder) error {
	span := StartRepositorySpan(ctx, "reminder", "create", map[string]interface{}{
		"reminder_id":     reminder.ID,
		"subscription_id": reminder.SubscriptionID,
		"days_before":     reminder.DaysBefore,
	})
	defer FinishSpan(span)

	query := `
		INSERT INTO reminders (
			id,
			subscription_id,
			days_before,
			sent_on,
			sent_at,
			tenant_id,
			status,
			created_at,
			updated_at,
			created_by,
			updated_by
		) VALUES (
			:id,
			:subscription_id,
			:days_before,
			:sent_on,
			:sent_at,
			:tenant_id,
			:status,
			:created_at,
			:updated_at,
			:created_by,
			:updated_by
		)
	`

	if _, err := r.db.NamedExecContext(ctx, query, reminder); err != nil {
		SetSpanError(span, err)

		// The unique index on (subscription_id, days_before, sent_on) keeps
		// overlapping sweep runs from sending the same reminder twice.
		if isUniqueViolation(err) {
			return ierr.WithError(err).
				WithHint("Reminder was already sent").
				WithReportableDetails(map[string]any{
					"subscription_id": reminder.SubscriptionID,
					"days_before":     reminder.DaysBefore,
					"sent_on":         reminder.SentOn,
				}).
				Mark(ierr.ErrAlreadyExists)
		}
		return ierr.WithError(err).
			WithHint("Failed to create reminder").
			WithReportableDetails(map[string]any{"reminder_id": reminder.ID}).
			Mark(ierr.ErrDatabase)
	}

	SetSpanSuccess(span)
	return nil
}

func (r *reminderRepository) Exists(ctx context.Context, subscriptionID string, daysBefore int, sentOn time.Time) (bool, error) {
	span := StartRepositorySpan(ctx, "reminder", "exists", map[string]interface{}{
		"subscription_id": subscriptionID,
		"days_before":     daysBefore,
	})
	defer FinishSpan(span)

	query := `
		SELECT EXISTS (
			SELECT 1 FROM reminders
			WHERE
				subscription_id = $1 AND
				days_before = $2 AND
				sent_on = $3 AND
				tenant_id = $4 AND
				status != $5
		)
	`

	var exists bool
	err := r.db.GetQuerier(ctx).GetContext(ctx, &exists, query,
		subscriptionID, daysBefore, domainReminder.DateOf(sentOn),
		types.GetTenantID(ctx), types.StatusDeleted)
	if err != nil {
		SetSpanError(span, err)
		return false, ierr.WithError(err).
			WithHint("Failed to check reminder").
			Mark(ierr.ErrDatabase)
	}

	SetSpanSuccess(span)
	return exists, nil
}

func (r *reminderRepository) ListBySubscription(ctx context.Context, subscriptionID string) ([]*domainReminder.Reminder, error) {
	span := StartRepositorySpan(ctx, "reminder", "list_by_subscription", map[string]interface{}{
		"subscription_id": subscriptionID,
	})
	defer FinishSpan(span)

	query := `
		SELECT * FROM reminders
		WHERE
			subscription_id = $1 AND
			tenant_id = $2 AND
			status != $3
		ORDER BY sent_at, id
	`

	var reminders []*domainReminder.Reminder
	err := r.db.GetQuerier(ctx).SelectContext(ctx, &reminders, query,
		subscriptionID, types.GetTenantID(ctx), types.StatusDeleted)
	if err != nil {
		SetSpanError(span, err)
		return nil, ierr.WithError(err).
			WithHint("Failed to list reminders").
			Mark(ierr.ErrDatabase)
	}

	SetSpanSuccess(span)
	return reminders, nil
}

package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	domainSub "github.com/hirewire/billing/internal/domain/subscription"
	ierr "github.com/hirewire/billing/internal/errors"
	"github.com/hirewire/billing/internal/logger"
	"github.com/hirewire/billing/internal/postgres"
	"github.com/hirewire/billing/internal/types"
	"github.com/jmoiron/sqlx"
)

type subscriptionRepository struct {
	db     *postgres.DB
	logger *logger.Logger
}

func NewSubscriptionRepository(db *postgres.DB, logger *logger.Logger) domainSub.Repository {
	return &subscriptionRepository{db: db, logger: logger}
}

const subscriptionColumns = `
	id,
	user_id,
	employer_id,
	plan_id,
	subscription_status,
	is_trial,
	start_date,
	end_date,
	next_billing_date,
	trial_start,
	trial_end,
	renewal_count,
	scheduled_downgrade_id,
	scheduled_downgrade_date,
	upgrade_id,
	cancelled_at,
	cancellation_reason,
	version,
	metadata,
	tenant_id,
	status,
	created_at,
	updated_at,
	created_by,
	updated_by
`

func (r *subscriptionRepository) CreateIfNoActive(ctx context.Context, sub *domainSub.Subscription) error {
	span := StartRepositorySpan(ctx, "subscription", "create_if_no_active", map[string]interface{}{
		"subscription_id": sub.ID,
		"plan_id":         sub.PlanID,
	})
	defer FinishSpan(span)

	r.logger.Debugw("creating subscription",
		"subscription_id", sub.ID,
		"user_id", sub.UserID,
		"employer_id", sub.EmployerID,
		"plan_id", sub.PlanID,
	)

	// The guarded insert and the partial unique index on active rows
	// together keep one active subscription per subscriber even under
	// concurrent creates.
	query := `
		INSERT INTO subscriptions (` + subscriptionColumns + `)
		SELECT
			:id,
			:user_id,
			:employer_id,
			:plan_id,
			:subscription_status,
			:is_trial,
			:start_date,
			:end_date,
			:next_billing_date,
			:trial_start,
			:trial_end,
			:renewal_count,
			:scheduled_downgrade_id,
			:scheduled_downgrade_date,
			:upgrade_id,
			:cancelled_at,
			:cancellation_reason,
			:version,
			:metadata,
			:tenant_id,
			:status,
			:created_at,
			:updated_at,
			:created_by,
			:updated_by
		WHERE NOT EXISTS (
			SELECT 1 FROM subscriptions
			WHERE
				tenant_id = :tenant_id AND
				user_id = :user_id AND
				employer_id = :employer_id AND
				subscription_status = 'active' AND
				status != 'deleted'
		)
	`

	result, err := r.db.NamedExecContext(ctx, query, sub)
	if err != nil {
		SetSpanError(span, err)

		if isUniqueViolation(err) {
			return ierr.WithError(err).
				WithHint("Subscriber already has an active subscription").
				WithReportableDetails(map[string]any{
					"user_id":     sub.UserID,
					"employer_id": sub.EmployerID,
				}).
				Mark(ierr.ErrAlreadyExists)
		}
		return ierr.WithError(err).
			WithHint("Failed to create subscription").
			WithReportableDetails(map[string]any{"subscription_id": sub.ID}).
			Mark(ierr.ErrDatabase)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		SetSpanError(span, err)
		return ierr.WithError(err).
			WithHint("Failed to create subscription").
			Mark(ierr.ErrDatabase)
	}
	if affected == 0 {
		conflict := ierr.NewError("subscriber already has an active subscription").
			WithHint("Subscriber already has an active subscription").
			WithReportableDetails(map[string]any{
				"user_id":     sub.UserID,
				"employer_id": sub.EmployerID,
			}).
			Mark(ierr.ErrAlreadyExists)
		SetSpanError(span, conflict)
		return conflict
	}

	SetSpanSuccess(span)
	return nil
}

func (r *subscriptionRepository) Get(ctx context.Context, id string) (*domainSub.Subscription, error) {
	span := StartRepositorySpan(ctx, "subscription", "get", map[string]interface{}{
		"subscription_id": id,
	})
	defer FinishSpan(span)

	query := `
		SELECT * FROM subscriptions
		WHERE
			id = :id AND
			tenant_id = :tenant_id AND
			status != :deleted
	`

	rows, err := r.db.NamedQueryContext(ctx, query, map[string]interface{}{
		"id":        id,
		"tenant_id": types.GetTenantID(ctx),
		"deleted":   types.StatusDeleted,
	})
	if err != nil {
		SetSpanError(span, err)
		return nil, ierr.WithError(err).
			WithHint("Failed to get subscription").
			WithReportableDetails(map[string]any{"subscription_id": id}).
			Mark(ierr.ErrDatabase)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			SetSpanError(span, err)
			return nil, ierr.WithError(err).
				WithHint("Failed to get subscription").
				Mark(ierr.ErrDatabase)
		}
		notFound := ierr.NewError("subscription not found").
			WithHintf("Subscription with ID %s was not found", id).
			WithReportableDetails(map[string]any{"subscription_id": id}).
			Mark(ierr.ErrNotFound)
		SetSpanError(span, notFound)
		return nil, notFound
	}

	var sub domainSub.Subscription
	if err := rows.StructScan(&sub); err != nil {
		SetSpanError(span, err)
		return nil, ierr.WithError(err).
			WithHint("Failed to scan subscription").
			Mark(ierr.ErrDatabase)
	}

	SetSpanSuccess(span)
	return &sub, nil
}

func (r *subscriptionRepository) buildFilterConditions(ctx context.Context, filter *types.SubscriptionFilter) ([]string, []interface{}) {
	conditions := []string{"tenant_id = ?", "status != ?"}
	args := []interface{}{types.GetTenantID(ctx), types.StatusDeleted}

	if filter.SubscriberRef != nil {
		conditions = append(conditions, "user_id = ?", "employer_id = ?")
		args = append(args, filter.SubscriberRef.UserID, filter.SubscriberRef.EmployerID)
	}
	if len(filter.PlanIDs) > 0 {
		conditions = append(conditions, "plan_id IN (?)")
		args = append(args, filter.PlanIDs)
	}
	if len(filter.SubscriptionStatus) > 0 {
		conditions = append(conditions, "subscription_status IN (?)")
		args = append(args, filter.SubscriptionStatus)
	}
	if filter.IsTrial != nil {
		conditions = append(conditions, "is_trial = ?")
		args = append(args, *filter.IsTrial)
	}
	if filter.TimeRangeFilter != nil {
		if filter.StartTime != nil {
			conditions = append(conditions, "created_at >= ?")
			args = append(args, *filter.StartTime)
		}
		if filter.EndTime != nil {
			conditions = append(conditions, "created_at <= ?")
			args = append(args, *filter.EndTime)
		}
	}
	return conditions, args
}

func (r *subscriptionRepository) List(ctx context.Context, filter *types.SubscriptionFilter) ([]*domainSub.Subscription, error) {
	span := StartRepositorySpan(ctx, "subscription", "list", nil)
	defer FinishSpan(span)

	conditions, args := r.buildFilterConditions(ctx, filter)

	query := "SELECT * FROM subscriptions WHERE " + strings.Join(conditions, " AND ") +
		" ORDER BY created_at DESC, id"

	if !filter.IsUnlimited() {
		query += " LIMIT ? OFFSET ?"
		args = append(args, filter.GetLimit(), filter.GetOffset())
	}

	query, args, err := sqlx.In(query, args...)
	if err != nil {
		SetSpanError(span, err)
		return nil, ierr.WithError(err).
			WithHint("Failed to build subscription query").
			Mark(ierr.ErrDatabase)
	}
	query = sqlx.Rebind(sqlx.DOLLAR, query)

	var subs []*domainSub.Subscription
	if err := r.db.GetQuerier(ctx).SelectContext(ctx, &subs, query, args...); err != nil {
		SetSpanError(span, err)
		return nil, ierr.WithError(err).
			WithHint("Failed to list subscriptions").
			Mark(ierr.ErrDatabase)
	}

	SetSpanSuccess(span)
	return subs, nil
}

func (r *subscriptionRepository) ListAll(ctx context.Context, filter *types.SubscriptionFilter) ([]*domainSub.Subscription, error) {
	unlimitedFilter := &types.SubscriptionFilter{
		QueryFilter:        types.NewNoLimitQueryFilter(),
		TimeRangeFilter:    filter.TimeRangeFilter,
		SubscriberRef:      filter.SubscriberRef,
		PlanIDs:            filter.PlanIDs,
		SubscriptionStatus: filter.SubscriptionStatus,
		IsTrial:            filter.IsTrial,
	}
	return r.List(ctx, unlimitedFilter)
}

func (r *subscriptionRepository) Count(ctx context.Context, filter *types.SubscriptionFilter) (int, error) {
	span := StartRepositorySpan(ctx, "subscription", "count", nil)
	defer FinishSpan(span)

	conditions, args := r.buildFilterConditions(ctx, filter)

	query := "SELECT COUNT(*) FROM subscriptions WHERE " + strings.Join(conditions, " AND ")

	query, args, err := sqlx.In(query, args...)
	if err != nil {
		SetSpanError(span, err)
		return 0, ierr.WithError(err).
			WithHint("Failed to build subscription count query").
			Mark(ierr.ErrDatabase)
	}
	query = sqlx.Rebind(sqlx.DOLLAR, query)

	var count int
	if err := r.db.GetQuerier(ctx).GetContext(ctx, &count, query, args...); err != nil {
		SetSpanError(span, err)
		return 0, ierr.WithError(err).
			WithHint("Failed to count subscriptions").
			Mark(ierr.ErrDatabase)
	}

	SetSpanSuccess(span)
	return count, nil
}

func (r *subscriptionRepository) UpdateWithVersion(ctx context.Context, sub *domainSub.Subscription, expectedVersion int) error {
	span := StartRepositorySpan(ctx, "subscription", "update_with_version", map[string]interface{}{
		"subscription_id":  sub.ID,
		"expected_version": expectedVersion,
	})
	defer FinishSpan(span)

	query := `
		UPDATE subscriptions SET
			plan_id = :plan_id,
			subscription_status = :subscription_status,
			is_trial = :is_trial,
			start_date = :start_date,
			end_date = :end_date,
			next_billing_date = :next_billing_date,
			trial_start = :trial_start,
			trial_end = :trial_end,
			renewal_count = :renewal_count,
			scheduled_downgrade_id = :scheduled_downgrade_id,
			scheduled_downgrade_date = :scheduled_downgrade_date,
			upgrade_id = :upgrade_id,
			cancelled_at = :cancelled_at,
			cancellation_reason = :cancellation_reason,
			version = version + 1,
			metadata = :metadata,
			updated_at = :updated_at,
			updated_by = :updated_by
		WHERE
			id = :id AND
			tenant_id = :tenant_id AND
			version = :expected_version AND
			status != 'deleted'
	`

	params := struct {
		*domainSub.Subscription
		ExpectedVersion int `db:"expected_version"`
	}{
		Subscription:    sub,
		ExpectedVersion: expectedVersion,
	}

	result, err := r.db.NamedExecContext(ctx, query, params)
	if err != nil {
		SetSpanError(span, err)
		return ierr.WithError(err).
			WithHint("Failed to update subscription").
			WithReportableDetails(map[string]any{"subscription_id": sub.ID}).
			Mark(ierr.ErrDatabase)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		SetSpanError(span, err)
		return ierr.WithError(err).
			WithHint("Failed to update subscription").
			Mark(ierr.ErrDatabase)
	}
	if affected == 0 {
		conflict, err := r.classifyUpdateMiss(ctx, sub.ID, expectedVersion)
		if err != nil {
			SetSpanError(span, err)
			return err
		}
		SetSpanError(span, conflict)
		return conflict
	}

	sub.Version = expectedVersion + 1
	SetSpanSuccess(span)
	return nil
}

// classifyUpdateMiss tells a missing row apart from a version mismatch after
// a versioned update touched nothing.
func (r *subscriptionRepository) classifyUpdateMiss(ctx context.Context, id string, expectedVersion int) (error, error) {
	query := `
		SELECT version FROM subscriptions
		WHERE id = $1 AND tenant_id = $2 AND status != $3
	`

	var actualVersion int
	err := r.db.GetQuerier(ctx).GetContext(ctx, &actualVersion, query,
		id, types.GetTenantID(ctx), types.StatusDeleted)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ierr.NewError("subscription not found").
				WithHintf("Subscription with ID %s was not found", id).
				WithReportableDetails(map[string]any{"subscription_id": id}).
				Mark(ierr.ErrNotFound), nil
		}
		return nil, ierr.WithError(err).
			WithHint("Failed to update subscription").
			Mark(ierr.ErrDatabase)
	}

	return ierr.NewError("subscription was modified concurrently").
		WithHint("The subscription changed since it was read, retry the operation").
		WithReportableDetails(map[string]any{
			"subscription_id":  id,
			"expected_version": expectedVersion,
			"actual_version":   actualVersion,
		}).
		Mark(ierr.ErrVersionConflict), nil
}

func (r *subscriptionRepository) CountTrials(ctx context.Context, ref types.SubscriberRef) (int, error) {
	span := StartRepositorySpan(ctx, "subscription", "count_trials", map[string]interface{}{
		"user_id":     ref.UserID,
		"employer_id": ref.EmployerID,
	})
	defer FinishSpan(span)

	// trial_start survives conversion to paid, so this also counts
	// trials that later converted.
	query := `
		SELECT COUNT(*) FROM subscriptions
		WHERE
			tenant_id = $1 AND
			user_id = $2 AND
			employer_id = $3 AND
			trial_start IS NOT NULL AND
			status != $4
	`

	var count int
	err := r.db.GetQuerier(ctx).GetContext(ctx, &count, query,
		types.GetTenantID(ctx), ref.UserID, ref.EmployerID, types.StatusDeleted)
	if err != nil {
		SetSpanError(span, err)
		return 0, ierr.WithError(err).
			WithHint("Failed to count trials").
			Mark(ierr.ErrDatabase)
	}

	SetSpanSuccess(span)
	return count, nil
}

func (r *subscriptionRepository) ListExpiringBefore(ctx context.Context, q domainSub.ExpiringBeforeQuery) ([]*domainSub.Subscription, error) {
	span := StartRepositorySpan(ctx, "subscription", "list_expiring_before", map[string]interface{}{
		"cutoff": q.Cutoff,
		"status": q.Status,
	})
	defer FinishSpan(span)

	query := `
		SELECT * FROM subscriptions
		WHERE
			tenant_id = $1 AND
			subscription_status = $2 AND
			end_date < $3 AND
			status != $4
		ORDER BY end_date, id
	`

	var subs []*domainSub.Subscription
	err := r.db.GetQuerier(ctx).SelectContext(ctx, &subs, query,
		types.GetTenantID(ctx), q.Status, q.Cutoff, types.StatusDeleted)
	if err != nil {
		SetSpanError(span, err)
		return nil, ierr.WithError(err).
			WithHint("Failed to list expiring subscriptions").
			Mark(ierr.ErrDatabase)
	}

	SetSpanSuccess(span)
	return subs, nil
}

func (r *subscriptionRepository) ListDueDowngrades(ctx context.Context, q domainSub.DueDowngradesQuery) ([]*domainSub.Subscription, error) {
	span := StartRepositorySpan(ctx, "subscription", "list_due_downgrades", map[string]interface{}{
		"cutoff": q.Cutoff,
	})
	defer FinishSpan(span)

	query := `
		SELECT * FROM subscriptions
		WHERE
			tenant_id = $1 AND
			subscription_status = $2 AND
			scheduled_downgrade_date IS NOT NULL AND
			scheduled_downgrade_date <= $3 AND
			status != $4
		ORDER BY scheduled_downgrade_date, id
	`

	var subs []*domainSub.Subscription
	err := r.db.GetQuerier(ctx).SelectContext(ctx, &subs, query,
		types.GetTenantID(ctx), types.SubscriptionStatusActive, q.Cutoff, types.StatusDeleted)
	if err != nil {
		SetSpanError(span, err)
		return nil, ierr.WithError(err).
			WithHint("Failed to list due downgrades").
			Mark(ierr.ErrDatabase)
	}

	SetSpanSuccess(span)
	return subs, nil
}

func (r *subscriptionRepository) ListExpiringOnDay(ctx context.Context, q domainSub.ExpiringOnDayQuery) ([]*domainSub.Subscription, error) {
	span := StartRepositorySpan(ctx, "subscription", "list_expiring_on_day", map[string]interface{}{
		"day": q.Day,
	})
	defer FinishSpan(span)

	day := q.Day.UTC()
	dayStart := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	dayEnd := dayStart.AddDate(0, 0, 1)

	query := `
		SELECT * FROM subscriptions
		WHERE
			tenant_id = $1 AND
			subscription_status = $2 AND
			end_date >= $3 AND
			end_date < $4 AND
			status != $5
		ORDER BY end_date, id
	`

	var subs []*domainSub.Subscription
	err := r.db.GetQuerier(ctx).SelectContext(ctx, &subs, query,
		types.GetTenantID(ctx), types.SubscriptionStatusActive, dayStart, dayEnd, types.StatusDeleted)
	if err != nil {
		SetSpanError(span, err)
		return nil, ierr.WithError(err).
			WithHint("Failed to list subscriptions expiring on day").
			Mark(ierr.ErrDatabase)
	}

	SetSpanSuccess(span)
	return subs, nil
}

package postgres

import (
	"context"
	"time"

	domainSub "github.com/hirewire/billing/internal/domain/subscription"
	ierr "github.com/hirewire/billing/internal/errors"
	"github.com/hirewire/billing/internal/logger"
	"github.com/hirewire/billing/internal/postgres"
	"github.com/hirewire/billing/internal/types"
)

// historyRepository persists the append only lifecycle ledger. Rows are
// immutable once written, except the applied flag on downgrades.
type historyRepository struct {
	db     *postgres.DB
	logger *logger.Logger
}

func NewHistoryRepository(db *postgres.DB, logger *logger.Logger) domainSub.HistoryRepository {
	return &historyRepository{db: db, logger: logger}
}

func (r *historyRepository) CreateRenewal(ctx context.Context, renewal *domainSub.Renewal) error {
	span := StartRepositorySpan(ctx, "history", "create_renewal", map[string]interface{}{
		"renewal_id":      renewal.ID,
		"subscription_id": renewal.SubscriptionID,
	})
	defer FinishSpan(span)

	query := `
		INSERT INTO subscription_renewals (
			id, subscription_id, plan_id, amount, previous_end_date, new_end_date,
			renewal_number, tenant_id, status, created_at, updated_at, created_by, updated_by
		) VALUES (
			:id, :subscription_id, :plan_id, :amount, :previous_end_date, :new_end_date,
			:renewal_number, :tenant_id, :status, :created_at, :updated_at, :created_by, :updated_by
		)
	`

	if _, err := r.db.NamedExecContext(ctx, query, renewal); err != nil {
		SetSpanError(span, err)
		return r.createRecordError(err, "renewal", renewal.ID)
	}

	SetSpanSuccess(span)
	return nil
}

func (r *historyRepository) CreateUpgrade(ctx context.Context, upgrade *domainSub.Upgrade) error {
	span := StartRepositorySpan(ctx, "history", "create_upgrade", map[string]interface{}{
		"upgrade_id":      upgrade.ID,
		"subscription_id": upgrade.SubscriptionID,
	})
	defer FinishSpan(span)

	query := `
		INSERT INTO subscription_upgrades (
			id, subscription_id, from_plan_id, to_plan_id, remaining_fraction,
			amount_charged, effective_at, tenant_id, status, created_at, updated_at,
			created_by, updated_by
		) VALUES (
			:id, :subscription_id, :from_plan_id, :to_plan_id, :remaining_fraction,
			:amount_charged, :effective_at, :tenant_id, :status, :created_at, :updated_at,
			:created_by, :updated_by
		)
	`

	if _, err := r.db.NamedExecContext(ctx, query, upgrade); err != nil {
		SetSpanError(span, err)
		return r.createRecordError(err, "upgrade", upgrade.ID)
	}

	SetSpanSuccess(span)
	return nil
}

func (r *historyRepository) CreateDowngrade(ctx context.Context, downgrade *domainSub.Downgrade) error {
	span := StartRepositorySpan(ctx, "history", "create_downgrade", map[string]interface{}{
		"downgrade_id":    downgrade.ID,
		"subscription_id": downgrade.SubscriptionID,
	})
	defer FinishSpan(span)

	query := `
		INSERT INTO subscription_downgrades (
			id, subscription_id, from_plan_id, to_plan_id, scheduled_at, effective_date,
			credit_amount, applied, applied_at, tenant_id, status, created_at, updated_at,
			created_by, updated_by
		) VALUES (
			:id, :subscription_id, :from_plan_id, :to_plan_id, :scheduled_at, :effective_date,
			:credit_amount, :applied, :applied_at, :tenant_id, :status, :created_at, :updated_at,
			:created_by, :updated_by
		)
	`

	if _, err := r.db.NamedExecContext(ctx, query, downgrade); err != nil {
		SetSpanError(span, err)
		return r.createRecordError(err, "downgrade", downgrade.ID)
	}

	SetSpanSuccess(span)
	return nil
}

func (r *historyRepository) CreateCancellation(ctx context.Context, cancellation *domainSub.Cancellation) error {
	span := StartRepositorySpan(ctx, "history", "create_cancellation", map[string]interface{}{
		"cancellation_id": cancellation.ID,
		"subscription_id": cancellation.SubscriptionID,
	})
	defer FinishSpan(span)

	query := `
		INSERT INTO subscription_cancellations (
			id, subscription_id, refund_amount, used_fraction, reason, cancelled_at,
			tenant_id, status, created_at, updated_at, created_by, updated_by
		) VALUES (
			:id, :subscription_id, :refund_amount, :used_fraction, :reason, :cancelled_at,
			:tenant_id, :status, :created_at, :updated_at, :created_by, :updated_by
		)
	`

	if _, err := r.db.NamedExecContext(ctx, query, cancellation); err != nil {
		SetSpanError(span, err)
		return r.createRecordError(err, "cancellation", cancellation.ID)
	}

	SetSpanSuccess(span)
	return nil
}

func (r *historyRepository) CreateTrialConversion(ctx context.Context, conversion *domainSub.TrialConversion) error {
	span := StartRepositorySpan(ctx, "history", "create_trial_conversion", map[string]interface{}{
		"conversion_id":   conversion.ID,
		"subscription_id": conversion.SubscriptionID,
	})
	defer FinishSpan(span)

	query := `
		INSERT INTO trial_conversions (
			id, subscription_id, to_plan_id, remaining_trial_days, new_end_date,
			converted_at, tenant_id, status, created_at, updated_at, created_by, updated_by
		) VALUES (
			:id, :subscription_id, :to_plan_id, :remaining_trial_days, :new_end_date,
			:converted_at, :tenant_id, :status, :created_at, :updated_at, :created_by, :updated_by
		)
	`

	if _, err := r.db.NamedExecContext(ctx, query, conversion); err != nil {
		SetSpanError(span, err)
		return r.createRecordError(err, "trial conversion", conversion.ID)
	}

	SetSpanSuccess(span)
	return nil
}

func (r *historyRepository) createRecordError(err error, kind string, id string) error {
	if isUniqueViolation(err) {
		return ierr.WithError(err).
			WithHintf("A %s record with this ID already exists", kind).
			WithReportableDetails(map[string]any{"record_id": id}).
			Mark(ierr.ErrAlreadyExists)
	}
	return ierr.WithError(err).
		WithHintf("Failed to create %s record", kind).
		WithReportableDetails(map[string]any{"record_id": id}).
		Mark(ierr.ErrDatabase)
}

func (r *historyRepository) GetDowngrade(ctx context.Context, id string) (*domainSub.Downgrade, error) {
	span := StartRepositorySpan(ctx, "history", "get_downgrade", map[string]interface{}{
		"downgrade_id": id,
	})
	defer FinishSpan(span)

	query := `
		SELECT * FROM subscription_downgrades
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
			WithHint("Failed to get downgrade").
			WithReportableDetails(map[string]any{"downgrade_id": id}).
			Mark(ierr.ErrDatabase)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			SetSpanError(span, err)
			return nil, ierr.WithError(err).
				WithHint("Failed to get downgrade").
				Mark(ierr.ErrDatabase)
		}
		notFound := ierr.NewError("downgrade not found").
			WithHintf("Downgrade with ID %s was not found", id).
			WithReportableDetails(map[string]any{"downgrade_id": id}).
			Mark(ierr.ErrNotFound)
		SetSpanError(span, notFound)
		return nil, notFound
	}

	var downgrade domainSub.Downgrade
	if err := rows.StructScan(&downgrade); err != nil {
		SetSpanError(span, err)
		return nil, ierr.WithError(err).
			WithHint("Failed to scan downgrade").
			Mark(ierr.ErrDatabase)
	}

	SetSpanSuccess(span)
	return &downgrade, nil
}

func (r *historyRepository) MarkDowngradeApplied(ctx context.Context, id string, appliedAt time.Time) error {
	span := StartRepositorySpan(ctx, "history", "mark_downgrade_applied", map[string]interface{}{
		"downgrade_id": id,
	})
	defer FinishSpan(span)

	// The applied guard makes the sweep idempotent, a second mark touches
	// nothing.
	query := `
		UPDATE subscription_downgrades SET
			applied = TRUE,
			applied_at = :applied_at,
			updated_at = :applied_at
		WHERE
			id = :id AND
			tenant_id = :tenant_id AND
			applied = FALSE AND
			status != :deleted
	`

	result, err := r.db.NamedExecContext(ctx, query, map[string]interface{}{
		"applied_at": appliedAt,
		"id":         id,
		"tenant_id":  types.GetTenantID(ctx),
		"deleted":    types.StatusDeleted,
	})
	if err != nil {
		SetSpanError(span, err)
		return ierr.WithError(err).
			WithHint("Failed to mark downgrade applied").
			WithReportableDetails(map[string]any{"downgrade_id": id}).
			Mark(ierr.ErrDatabase)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		SetSpanError(span, err)
		return ierr.WithError(err).
			WithHint("Failed to mark downgrade applied").
			Mark(ierr.ErrDatabase)
	}
	if affected == 0 {
		// Either the row is missing or it was already applied. Only the
		// former is an error.
		if _, err := r.GetDowngrade(ctx, id); err != nil {
			SetSpanError(span, err)
			return err
		}
	}

	SetSpanSuccess(span)
	return nil
}

func (r *historyRepository) CountRenewals(ctx context.Context, tf types.Timeframe) (int, error) {
	span := StartRepositorySpan(ctx, "history", "count_renewals", map[string]interface{}{
		"start": tf.Start,
		"end":   tf.End,
	})
	defer FinishSpan(span)

	query := `
		SELECT COUNT(*) FROM subscription_renewals
		WHERE
			tenant_id = $1 AND
			created_at >= $2 AND
			created_at < $3 AND
			status != $4
	`

	var count int
	err := r.db.GetQuerier(ctx).GetContext(ctx, &count, query,
		types.GetTenantID(ctx), tf.Start, tf.End, types.StatusDeleted)
	if err != nil {
		SetSpanError(span, err)
		return 0, ierr.WithError(err).
			WithHint("Failed to count renewals").
			Mark(ierr.ErrDatabase)
	}

	SetSpanSuccess(span)
	return count, nil
}

func (r *historyRepository) GetBySubscription(ctx context.Context, subscriptionID string) (*domainSub.History, error) {
	span := StartRepositorySpan(ctx, "history", "get_by_subscription", map[string]interface{}{
		"subscription_id": subscriptionID,
	})
	defer FinishSpan(span)

	history := &domainSub.History{
		Renewals:         []*domainSub.Renewal{},
		Upgrades:         []*domainSub.Upgrade{},
		Downgrades:       []*domainSub.Downgrade{},
		Cancellations:    []*domainSub.Cancellation{},
		TrialConversions: []*domainSub.TrialConversion{},
	}

	tenantID := types.GetTenantID(ctx)
	querier := r.db.GetQuerier(ctx)

	renewalQuery := `
		SELECT * FROM subscription_renewals
		WHERE subscription_id = $1 AND tenant_id = $2 AND status != $3
		ORDER BY created_at, id
	`
	if err := querier.SelectContext(ctx, &history.Renewals, renewalQuery,
		subscriptionID, tenantID, types.StatusDeleted); err != nil {
		SetSpanError(span, err)
		return nil, ierr.WithError(err).
			WithHint("Failed to load renewal history").
			Mark(ierr.ErrDatabase)
	}

	upgradeQuery := `
		SELECT * FROM subscription_upgrades
		WHERE subscription_id = $1 AND tenant_id = $2 AND status != $3
		ORDER BY created_at, id
	`
	if err := querier.SelectContext(ctx, &history.Upgrades, upgradeQuery,
		subscriptionID, tenantID, types.StatusDeleted); err != nil {
		SetSpanError(span, err)
		return nil, ierr.WithError(err).
			WithHint("Failed to load upgrade history").
			Mark(ierr.ErrDatabase)
	}

	downgradeQuery := `
		SELECT * FROM subscription_downgrades
		WHERE subscription_id = $1 AND tenant_id = $2 AND status != $3
		ORDER BY created_at, id
	`
	if err := querier.SelectContext(ctx, &history.Downgrades, downgradeQuery,
		subscriptionID, tenantID, types.StatusDeleted); err != nil {
		SetSpanError(span, err)
		return nil, ierr.WithError(err).
			WithHint("Failed to load downgrade history").
			Mark(ierr.ErrDatabase)
	}

	cancellationQuery := `
		SELECT * FROM subscription_cancellations
		WHERE subscription_id = $1 AND tenant_id = $2 AND status != $3
		ORDER BY created_at, id
	`
	if err := querier.SelectContext(ctx, &history.Cancellations, cancellationQuery,
		subscriptionID, tenantID, types.StatusDeleted); err != nil {
		SetSpanError(span, err)
		return nil, ierr.WithError(err).
			WithHint("Failed to load cancellation history").
			Mark(ierr.ErrDatabase)
	}

	conversionQuery := `
		SELECT * FROM trial_conversions
		WHERE subscription_id = $1 AND tenant_id = $2 AND status != $3
		ORDER BY created_at, id
	`
	if err := querier.SelectContext(ctx, &history.TrialConversions, conversionQuery,
		subscriptionID, tenantID, types.StatusDeleted); err != nil {
		SetSpanError(span, err)
		return nil, ierr.WithError(err).
			WithHint("Failed to load trial conversion history").
			Mark(ierr.ErrDatabase)
	}

	SetSpanSuccess(span)
	return history, nil
}

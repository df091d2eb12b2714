package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	domainUsage "github.com/hirewire/billing/internal/domain/usage"
	ierr "github.com/hirewire/billing/internal/errors"
	"github.com/hirewire/billing/internal/logger"
	"github.com/hirewire/billing/internal/postgres"
	"github.com/hirewire/billing/internal/types"
)

type usageRepository struct {
	db     *postgres.DB
	logger *logger.Logger
}

func NewUsageRepository(db *postgres.DB, logger *logger.Logger) domainUsage.Repository {
	return &usageRepository{db: db, logger: logger}
}

func (r *usageRepository) IncrementIfBelowLimit(ctx context.Context, q domainUsage.IncrementQuery) (*domainUsage.Counter, error) {
	span := StartRepositorySpan(ctx, "usage", "increment_if_below_limit", map[string]interface{}{
		"subscription_id": q.SubscriptionID,
		"feature":         q.Feature,
		"count":           q.Count,
		"limit":           q.Limit,
	})
	defer FinishSpan(span)

	now := time.Now().UTC()
	base := types.GetDefaultBaseModel(ctx)

	// Guarded upsert. Both arms carry the cap check, so the check and the
	// write are one statement and concurrent increments can never jointly
	// cross the limit. A guarded out write returns no row.
	query := `
		INSERT INTO usage_counters (
			id, subscription_id, feature, window_start, used,
			tenant_id, status, created_at, updated_at, created_by, updated_by
		)
		SELECT $1, $2, $3, $4, $5::bigint, $6, $7, $8, $9, $10, $11
		WHERE $12::bigint <= 0 OR $5::bigint <= $12::bigint
		ON CONFLICT (tenant_id, subscription_id, feature, window_start) DO UPDATE SET
			used = usage_counters.used + EXCLUDED.used,
			updated_at = EXCLUDED.updated_at,
			updated_by = EXCLUDED.updated_by
		WHERE $12::bigint <= 0 OR usage_counters.used + EXCLUDED.used <= $12::bigint
		RETURNING *
	`

	var counter domainUsage.Counter
	err := r.db.GetQuerier(ctx).GetContext(ctx, &counter, query,
		types.GenerateUUIDWithPrefix(types.UUID_PREFIX_USAGE_COUNTER),
		q.SubscriptionID,
		q.Feature,
		q.WindowStart.UTC(),
		q.Count,
		base.TenantID,
		base.Status,
		now,
		now,
		base.CreatedBy,
		base.UpdatedBy,
		q.Limit,
	)
	if err == nil {
		SetSpanSuccess(span)
		return &counter, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		SetSpanError(span, err)
		return nil, ierr.WithError(err).
			WithHint("Failed to increment usage counter").
			WithReportableDetails(map[string]any{
				"subscription_id": q.SubscriptionID,
				"feature":         q.Feature,
			}).
			Mark(ierr.ErrDatabase)
	}

	// No row means the guard rejected the write. Read the current counter
	// back for the error details, a missing row reads as zero usage.
	var used int64
	if existing, getErr := r.Get(ctx, q.SubscriptionID, q.Feature, q.WindowStart); getErr == nil {
		used = existing.Used
	} else if !ierr.IsNotFound(getErr) {
		SetSpanError(span, getErr)
		return nil, getErr
	}

	exceeded := ierr.NewError("usage limit exceeded").
		WithHint("The increment would cross the feature limit").
		WithReportableDetails(map[string]any{
			"subscription_id": q.SubscriptionID,
			"feature":         q.Feature,
			"used":            used,
			"count":           q.Count,
			"limit":           q.Limit,
		}).
		Mark(ierr.ErrValidation)
	SetSpanError(span, exceeded)
	return nil, exceeded
}

func (r *usageRepository) Get(ctx context.Context, subscriptionID string, feature types.FeatureCode, windowStart time.Time) (*domainUsage.Counter, error) {
	span := StartRepositorySpan(ctx, "usage", "get", map[string]interface{}{
		"subscription_id": subscriptionID,
		"feature":         feature,
	})
	defer FinishSpan(span)

	query := `
		SELECT * FROM usage_counters
		WHERE
			subscription_id = $1 AND
			feature = $2 AND
			window_start = $3 AND
			tenant_id = $4 AND
			status != $5
	`

	var counter domainUsage.Counter
	err := r.db.GetQuerier(ctx).GetContext(ctx, &counter, query,
		subscriptionID, feature, windowStart.UTC(),
		types.GetTenantID(ctx), types.StatusDeleted)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			notFound := ierr.NewError("usage counter not found").
				WithHint("No usage has been recorded for this feature in this window").
				WithReportableDetails(map[string]any{
					"subscription_id": subscriptionID,
					"feature":         feature,
				}).
				Mark(ierr.ErrNotFound)
			SetSpanError(span, notFound)
			return nil, notFound
		}
		SetSpanError(span, err)
		return nil, ierr.WithError(err).
			WithHint("Failed to get usage counter").
			Mark(ierr.ErrDatabase)
	}

	SetSpanSuccess(span)
	return &counter, nil
}

func (r *usageRepository) ListByWindow(ctx context.Context, subscriptionID string, windowStart time.Time) ([]*domainUsage.Counter, error) {
	span := StartRepositorySpan(ctx, "usage", "list_by_window", map[string]interface{}{
		"subscription_id": subscriptionID,
	})
	defer FinishSpan(span)

	query := `
		SELECT * FROM usage_counters
		WHERE
			subscription_id = $1 AND
			window_start = $2 AND
			tenant_id = $3 AND
			status != $4
		ORDER BY feature
	`

	var counters []*domainUsage.Counter
	err := r.db.GetQuerier(ctx).SelectContext(ctx, &counters, query,
		subscriptionID, windowStart.UTC(),
		types.GetTenantID(ctx), types.StatusDeleted)
	if err != nil {
		SetSpanError(span, err)
		return nil, ierr.WithError(err).
			WithHint("Failed to list usage counters").
			Mark(ierr.ErrDatabase)
	}

	SetSpanSuccess(span)
	return counters, nil
}

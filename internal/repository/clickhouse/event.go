package clickhouse

import (
	"context"
	"encoding/json"

	"github.com/hirewire/billing/internal/clickhouse"
	"github.com/hirewire/billing/internal/domain/events"
	ierr "github.com/hirewire/billing/internal/errors"
	"github.com/hirewire/billing/internal/logger"
	"github.com/hirewire/billing/internal/types"
	"github.com/samber/lo"
)

type EventRepository struct {
	store  *clickhouse.ClickHouseStore
	logger *logger.Logger
}

func NewEventRepository(store *clickhouse.ClickHouseStore, logger *logger.Logger) events.Repository {
	return &EventRepository{store: store, logger: logger}
}

func (r *EventRepository) InsertEvent(ctx context.Context, event *events.UsageEvent) error {
	span := StartRepositorySpan(ctx, "event", "insert", map[string]interface{}{
		"event_id":        event.ID,
		"subscription_id": event.SubscriptionID,
		"feature":         event.Feature,
	})
	defer FinishSpan(span)

	if err := event.Validate(); err != nil {
		SetSpanError(span, err)
		return err
	}

	propertiesJSON, err := json.Marshal(event.Properties)
	if err != nil {
		SetSpanError(span, err)
		return ierr.WithError(err).
			WithHint("Failed to marshal event properties").
			WithReportableDetails(map[string]interface{}{
				"event_id": event.ID,
			}).
			Mark(ierr.ErrValidation)
	}

	query := `
		INSERT INTO usage_events (
			id, tenant_id, subscription_id, user_id, employer_id, feature, quantity, timestamp, source, properties
		) VALUES (
			?, ?, ?, ?, ?, ?, ?, ?, ?, ?
		)
	`

	err = r.store.GetConn().Exec(ctx, query,
		event.ID,
		event.TenantID,
		event.SubscriptionID,
		event.UserID,
		event.EmployerID,
		string(event.Feature),
		event.Quantity,
		event.Timestamp,
		event.Source,
		string(propertiesJSON),
	)
	if err != nil {
		SetSpanError(span, err)
		return ierr.WithError(err).
			WithHint("Failed to insert usage event").
			WithReportableDetails(map[string]interface{}{
				"event_id":        event.ID,
				"subscription_id": event.SubscriptionID,
			}).
			Mark(ierr.ErrDatabase)
	}

	SetSpanSuccess(span)
	return nil
}

// BulkInsertEvents inserts multiple events in a bulk operation for better performance
func (r *EventRepository) BulkInsertEvents(ctx context.Context, usageEvents []*events.UsageEvent) error {
	if len(usageEvents) == 0 {
		return nil
	}

	span := StartRepositorySpan(ctx, "event", "bulk_insert", map[string]interface{}{
		"event_count": len(usageEvents),
	})
	defer FinishSpan(span)

	// split events in batches of 100
	eventBatches := lo.Chunk(usageEvents, 100)

	for _, eventBatch := range eventBatches {
		batch, err := r.store.GetConn().PrepareBatch(ctx, `
		INSERT INTO usage_events (
			id, tenant_id, subscription_id, user_id, employer_id, feature, quantity, timestamp, source, properties
		)
	`)
		if err != nil {
			SetSpanError(span, err)
			return ierr.WithError(err).
				WithHint("Failed to prepare batch for usage events").
				Mark(ierr.ErrDatabase)
		}

		for _, event := range eventBatch {
			if err := event.Validate(); err != nil {
				SetSpanError(span, err)
				return err
			}

			propertiesJSON, err := json.Marshal(event.Properties)
			if err != nil {
				SetSpanError(span, err)
				return ierr.WithError(err).
					WithHint("Failed to marshal event properties").
					WithReportableDetails(map[string]interface{}{
						"event_id": event.ID,
					}).
					Mark(ierr.ErrValidation)
			}

			err = batch.Append(
				event.ID,
				event.TenantID,
				event.SubscriptionID,
				event.UserID,
				event.EmployerID,
				string(event.Feature),
				event.Quantity,
				event.Timestamp,
				event.Source,
				string(propertiesJSON),
			)
			if err != nil {
				SetSpanError(span, err)
				return ierr.WithError(err).
					WithHint("Failed to append usage event to batch").
					WithReportableDetails(map[string]interface{}{
						"event_id": event.ID,
					}).
					Mark(ierr.ErrDatabase)
			}
		}

		if err := batch.Send(); err != nil {
			SetSpanError(span, err)
			return ierr.WithError(err).
				WithHint("Failed to execute batch insert for usage events").
				WithReportableDetails(map[string]interface{}{
					"event_count": len(usageEvents),
				}).
				Mark(ierr.ErrDatabase)
		}
	}

	SetSpanSuccess(span)
	return nil
}

func (r *EventRepository) GetUsageEvents(ctx context.Context, params *events.GetUsageEventsParams) ([]*events.UsageEvent, error) {
	span := StartRepositorySpan(ctx, "event", "get_usage_events", map[string]interface{}{
		"subscription_id": params.SubscriptionID,
		"feature":         params.Feature,
	})
	defer FinishSpan(span)

	baseQuery := `
		SELECT
			id,
			tenant_id,
			subscription_id,
			user_id,
			employer_id,
			feature,
			quantity,
			timestamp,
			ingested_at,
			source,
			properties
		FROM usage_events
		WHERE tenant_id = ? AND subscription_id = ?
	`
	args := make([]interface{}, 0)
	args = append(args, types.GetTenantID(ctx), params.SubscriptionID)

	if params.Feature != "" {
		baseQuery += " AND feature = ?"
		args = append(args, string(params.Feature))
	}
	if !params.StartTime.IsZero() {
		baseQuery += " AND timestamp >= ?"
		args = append(args, params.StartTime)
	}
	if !params.EndTime.IsZero() {
		baseQuery += " AND timestamp <= ?"
		args = append(args, params.EndTime)
	}

	baseQuery += " ORDER BY timestamp DESC, id DESC"

	limit := params.Limit
	if limit <= 0 {
		limit = 100
	}
	baseQuery += " LIMIT ?"
	args = append(args, limit)

	r.logger.Debugw("executing get usage events query",
		"query", baseQuery,
		"args", args)

	rows, err := r.store.GetConn().Query(ctx, baseQuery, args...)
	if err != nil {
		SetSpanError(span, err)
		return nil, ierr.WithError(err).
			WithHint("Failed to query usage events").
			WithReportableDetails(map[string]interface{}{
				"subscription_id": params.SubscriptionID,
			}).
			Mark(ierr.ErrDatabase)
	}
	defer rows.Close()

	var eventsList []*events.UsageEvent
	for rows.Next() {
		var event events.UsageEvent
		var feature string
		var propertiesJSON string

		err := rows.Scan(
			&event.ID,
			&event.TenantID,
			&event.SubscriptionID,
			&event.UserID,
			&event.EmployerID,
			&feature,
			&event.Quantity,
			&event.Timestamp,
			&event.IngestedAt,
			&event.Source,
			&propertiesJSON,
		)
		if err != nil {
			SetSpanError(span, err)
			return nil, ierr.WithError(err).
				WithHint("Failed to scan usage event").
				WithReportableDetails(map[string]interface{}{
					"event_id": event.ID,
				}).
				Mark(ierr.ErrDatabase)
		}

		event.Feature = types.FeatureCode(feature)
		if err := json.Unmarshal([]byte(propertiesJSON), &event.Properties); err != nil {
			SetSpanError(span, err)
			return nil, ierr.WithError(err).
				WithHint("Failed to unmarshal event properties").
				WithReportableDetails(map[string]interface{}{
					"event_id": event.ID,
				}).
				Mark(ierr.ErrValidation)
		}

		eventsList = append(eventsList, &event)
	}
	if err := rows.Err(); err != nil {
		SetSpanError(span, err)
		return nil, ierr.WithError(err).
			WithHint("Failed to read usage events").
			Mark(ierr.ErrDatabase)
	}

	SetSpanSuccess(span)
	return eventsList, nil
}

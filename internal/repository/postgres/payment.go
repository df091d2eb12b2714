package postgres

import (
	"context"
	"strings"

	"github.com/getsentry/sentry-go"
	domainPayment "github.com/hirewire/billing/internal/domain/payment"
	ierr "github.com/hirewire/billing/internal/errors"
	"github.com/hirewire/billing/internal/logger"
	"github.com/hirewire/billing/internal/postgres"
	"github.com/hirewire/billing/internal/types"
	"github.com/jmoiron/sqlx"
)

type paymentRepository struct {
	db     *postgres.DB
	logger *logger.Logger
}

func NewPaymentRepository(db *postgres.DB, logger *logger.Logger) domainPayment.Repository {
	return &paymentRepository{db: db, logger: logger}
}

func (r *paymentRepository) Create(ctx context.Context, payment *domainPayment.Payment) error {
	span := StartRepositorySpan(ctx, "payment", "create", map[string]interface{}{
		"payment_id":      payment.ID,
		"subscription_id": payment.SubscriptionID,
		"kind":            payment.Kind,
	})
	defer FinishSpan(span)

	r.logger.Debugw("creating payment",
		"payment_id", payment.ID,
		"subscription_id", payment.SubscriptionID,
		"kind", payment.Kind,
		"amount", payment.Amount,
	)

	query := `
		INSERT INTO payments (
			id,
			reference_number,
			subscription_id,
			user_id,
			employer_id,
			kind,
			amount,
			description,
			idempotency_key,
			metadata,
			tenant_id,
			status,
			created_at,
			updated_at,
			created_by,
			updated_by
		) VALUES (
			:id,
			:reference_number,
			:subscription_id,
			:user_id,
			:employer_id,
			:kind,
			:amount,
			:description,
			:idempotency_key,
			:metadata,
			:tenant_id,
			:status,
			:created_at,
			:updated_at,
			:created_by,
			:updated_by
		)
	`

	if _, err := r.db.NamedExecContext(ctx, query, payment); err != nil {
		SetSpanError(span, err)

		// The unique index on idempotency_key turns a retried write into a
		// conflict the caller resolves by reading back the earlier entry.
		if isUniqueViolation(err) {
			return ierr.WithError(err).
				WithHint("A payment with this idempotency key already exists").
				WithReportableDetails(map[string]any{
					"payment_id":      payment.ID,
					"idempotency_key": payment.IdempotencyKey,
				}).
				Mark(ierr.ErrAlreadyExists)
		}
		return ierr.WithError(err).
			WithHint("Failed to create payment").
			WithReportableDetails(map[string]any{"payment_id": payment.ID}).
			Mark(ierr.ErrDatabase)
	}

	SetSpanSuccess(span)
	return nil
}

func (r *paymentRepository) Get(ctx context.Context, id string) (*domainPayment.Payment, error) {
	span := StartRepositorySpan(ctx, "payment", "get", map[string]interface{}{
		"payment_id": id,
	})
	defer FinishSpan(span)

	query := `
		SELECT * FROM payments
		WHERE
			id = :id AND
			tenant_id = :tenant_id AND
			status != :deleted
	`

	return r.getOne(ctx, span, query, map[string]interface{}{
		"id":        id,
		"tenant_id": types.GetTenantID(ctx),
		"deleted":   types.StatusDeleted,
	}, "payment_id", id)
}

func (r *paymentRepository) GetByIdempotencyKey(ctx context.Context, key string) (*domainPayment.Payment, error) {
	span := StartRepositorySpan(ctx, "payment", "get_by_idempotency_key", map[string]interface{}{
		"idempotency_key": key,
	})
	defer FinishSpan(span)

	query := `
		SELECT * FROM payments
		WHERE
			idempotency_key = :idempotency_key AND
			tenant_id = :tenant_id AND
			status != :deleted
	`

	return r.getOne(ctx, span, query, map[string]interface{}{
		"idempotency_key": key,
		"tenant_id":       types.GetTenantID(ctx),
		"deleted":         types.StatusDeleted,
	}, "idempotency_key", key)
}

func (r *paymentRepository) getOne(ctx context.Context, span *sentry.Span, query string, params map[string]interface{}, detailKey, detailValue string) (*domainPayment.Payment, error) {
	rows, err := r.db.NamedQueryContext(ctx, query, params)
	if err != nil {
		SetSpanError(span, err)
		return nil, ierr.WithError(err).
			WithHint("Failed to get payment").
			WithReportableDetails(map[string]any{detailKey: detailValue}).
			Mark(ierr.ErrDatabase)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			SetSpanError(span, err)
			return nil, ierr.WithError(err).
				WithHint("Failed to get payment").
				Mark(ierr.ErrDatabase)
		}
		notFound := ierr.NewError("payment not found").
			WithHint("Payment was not found").
			WithReportableDetails(map[string]any{detailKey: detailValue}).
			Mark(ierr.ErrNotFound)
		SetSpanError(span, notFound)
		return nil, notFound
	}

	var payment domainPayment.Payment
	if err := rows.StructScan(&payment); err != nil {
		SetSpanError(span, err)
		return nil, ierr.WithError(err).
			WithHint("Failed to scan payment").
			Mark(ierr.ErrDatabase)
	}

	SetSpanSuccess(span)
	return &payment, nil
}

func (r *paymentRepository) buildFilterConditions(ctx context.Context, filter *types.PaymentFilter) ([]string, []interface{}) {
	conditions := []string{"tenant_id = ?", "status != ?"}
	args := []interface{}{types.GetTenantID(ctx), types.StatusDeleted}

	if filter.SubscriberRef != nil {
		conditions = append(conditions, "user_id = ?", "employer_id = ?")
		args = append(args, filter.SubscriberRef.UserID, filter.SubscriberRef.EmployerID)
	}
	if filter.SubscriptionID != nil {
		conditions = append(conditions, "subscription_id = ?")
		args = append(args, *filter.SubscriptionID)
	}
	if len(filter.Kinds) > 0 {
		conditions = append(conditions, "kind IN (?)")
		args = append(args, filter.Kinds)
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

func (r *paymentRepository) List(ctx context.Context, filter *types.PaymentFilter) ([]*domainPayment.Payment, error) {
	span := StartRepositorySpan(ctx, "payment", "list", nil)
	defer FinishSpan(span)

	conditions, args := r.buildFilterConditions(ctx, filter)

	query := "SELECT * FROM payments WHERE " + strings.Join(conditions, " AND ") +
		" ORDER BY created_at DESC, id"

	if !filter.IsUnlimited() {
		query += " LIMIT ? OFFSET ?"
		args = append(args, filter.GetLimit(), filter.GetOffset())
	}

	query, args, err := sqlx.In(query, args...)
	if err != nil {
		SetSpanError(span, err)
		return nil, ierr.WithError(err).
			WithHint("Failed to build payment query").
			Mark(ierr.ErrDatabase)
	}
	query = sqlx.Rebind(sqlx.DOLLAR, query)

	var payments []*domainPayment.Payment
	if err := r.db.GetQuerier(ctx).SelectContext(ctx, &payments, query, args...); err != nil {
		SetSpanError(span, err)
		return nil, ierr.WithError(err).
			WithHint("Failed to list payments").
			Mark(ierr.ErrDatabase)
	}

	SetSpanSuccess(span)
	return payments, nil
}

func (r *paymentRepository) Count(ctx context.Context, filter *types.PaymentFilter) (int, error) {
	span := StartRepositorySpan(ctx, "payment", "count", nil)
	defer FinishSpan(span)

	conditions, args := r.buildFilterConditions(ctx, filter)

	query := "SELECT COUNT(*) FROM payments WHERE " + strings.Join(conditions, " AND ")

	query, args, err := sqlx.In(query, args...)
	if err != nil {
		SetSpanError(span, err)
		return 0, ierr.WithError(err).
			WithHint("Failed to build payment count query").
			Mark(ierr.ErrDatabase)
	}
	query = sqlx.Rebind(sqlx.DOLLAR, query)

	var count int
	if err := r.db.GetQuerier(ctx).GetContext(ctx, &count, query, args...); err != nil {
		SetSpanError(span, err)
		return 0, ierr.WithError(err).
			WithHint("Failed to count payments").
			Mark(ierr.ErrDatabase)
	}

	SetSpanSuccess(span)
	return count, nil
}

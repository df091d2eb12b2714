package postgres

import (
	"context"
	"strings"

	"github.com/hirewire/billing/internal/cache"
	domainPlan "github.com/hirewire/billing/internal/domain/plan"
	ierr "github.com/hirewire/billing/internal/errors"
	"github.com/hirewire/billing/internal/logger"
	"github.com/hirewire/billing/internal/postgres"
	"github.com/hirewire/billing/internal/types"
	"github.com/jmoiron/sqlx"
)

type planRepository struct {
	db     *postgres.DB
	logger *logger.Logger
	cache  cache.Cache
}

func NewPlanRepository(db *postgres.DB, logger *logger.Logger, cache cache.Cache) domainPlan.Repository {
	return &planRepository{db: db, logger: logger, cache: cache}
}

func (r *planRepository) Create(ctx context.Context, p *domainPlan.Plan) error {
	span := StartRepositorySpan(ctx, "plan", "create", map[string]interface{}{
		"plan_id": p.ID,
		"name":    p.Name,
	})
	defer FinishSpan(span)

	r.logger.Debugw("creating plan",
		"plan_id", p.ID,
		"name", p.Name,
		"lookup_key", p.LookupKey,
	)

	query := `
		INSERT INTO plans (
			id,
			name,
			lookup_key,
			description,
			price,
			duration_months,
			is_trial,
			limits,
			metadata,
			tenant_id,
			status,
			created_at,
			updated_at,
			created_by,
			updated_by
		) VALUES (
			:id,
			:name,
			:lookup_key,
			:description,
			:price,
			:duration_months,
			:is_trial,
			:limits,
			:metadata,
			:tenant_id,
			:status,
			:created_at,
			:updated_at,
			:created_by,
			:updated_by
		)
	`

	_, err := r.db.NamedExecContext(ctx, query, p)
	if err != nil {
		SetSpanError(span, err)

		if isUniqueViolation(err) {
			return ierr.WithError(err).
				WithHint("A plan with this lookup key already exists").
				WithReportableDetails(map[string]any{
					"plan_id":    p.ID,
					"lookup_key": p.LookupKey,
				}).
				Mark(ierr.ErrAlreadyExists)
		}
		return ierr.WithError(err).
			WithHint("Failed to create plan").
			WithReportableDetails(map[string]any{"plan_id": p.ID}).
			Mark(ierr.ErrDatabase)
	}

	SetSpanSuccess(span)
	return nil
}

func (r *planRepository) Get(ctx context.Context, id string) (*domainPlan.Plan, error) {
	span := StartRepositorySpan(ctx, "plan", "get", map[string]interface{}{
		"plan_id": id,
	})
	defer FinishSpan(span)

	if p := r.GetCache(ctx, id); p != nil {
		SetSpanSuccess(span)
		return p, nil
	}

	query := `
		SELECT * FROM plans
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
			WithHint("Failed to get plan").
			WithReportableDetails(map[string]any{"plan_id": id}).
			Mark(ierr.ErrDatabase)
	}
	defer rows.Close()

	if !rows.Next() {
		notFound := ierr.NewError("plan not found").
			WithHintf("Plan with ID %s was not found", id).
			WithReportableDetails(map[string]any{"plan_id": id}).
			Mark(ierr.ErrNotFound)
		SetSpanError(span, notFound)
		return nil, notFound
	}

	var p domainPlan.Plan
	if err := rows.StructScan(&p); err != nil {
		SetSpanError(span, err)
		return nil, ierr.WithError(err).
			WithHint("Failed to scan plan").
			Mark(ierr.ErrDatabase)
	}

	SetSpanSuccess(span)
	r.SetCache(ctx, &p)
	return &p, nil
}

func (r *planRepository) List(ctx context.Context, filter *types.PlanFilter) ([]*domainPlan.Plan, error) {
	span := StartRepositorySpan(ctx, "plan", "list", nil)
	defer FinishSpan(span)

	conditions := []string{"tenant_id = ?", "status != ?"}
	args := []interface{}{types.GetTenantID(ctx), types.StatusDeleted}

	if len(filter.PlanIDs) > 0 {
		conditions = append(conditions, "id IN (?)")
		args = append(args, filter.PlanIDs)
	}
	if filter.IsTrial != nil {
		conditions = append(conditions, "is_trial = ?")
		args = append(args, *filter.IsTrial)
	}

	query := "SELECT * FROM plans WHERE " + strings.Join(conditions, " AND ") +
		" ORDER BY created_at DESC, id"

	if !filter.IsUnlimited() {
		query += " LIMIT ? OFFSET ?"
		args = append(args, filter.GetLimit(), filter.GetOffset())
	}

	query, args, err := sqlx.In(query, args...)
	if err != nil {
		SetSpanError(span, err)
		return nil, ierr.WithError(err).
			WithHint("Failed to build plan query").
			Mark(ierr.ErrDatabase)
	}
	query = sqlx.Rebind(sqlx.DOLLAR, query)

	var plans []*domainPlan.Plan
	if err := r.db.GetQuerier(ctx).SelectContext(ctx, &plans, query, args...); err != nil {
		SetSpanError(span, err)
		return nil, ierr.WithError(err).
			WithHint("Failed to list plans").
			Mark(ierr.ErrDatabase)
	}

	SetSpanSuccess(span)
	return plans, nil
}

func (r *planRepository) ListAll(ctx context.Context, filter *types.PlanFilter) ([]*domainPlan.Plan, error) {
	unlimitedFilter := &types.PlanFilter{
		QueryFilter: types.NewNoLimitQueryFilter(),
		PlanIDs:     filter.PlanIDs,
		IsTrial:     filter.IsTrial,
	}
	return r.List(ctx, unlimitedFilter)
}

func (r *planRepository) Count(ctx context.Context, filter *types.PlanFilter) (int, error) {
	span := StartRepositorySpan(ctx, "plan", "count", nil)
	defer FinishSpan(span)

	conditions := []string{"tenant_id = ?", "status != ?"}
	args := []interface{}{types.GetTenantID(ctx), types.StatusDeleted}

	if len(filter.PlanIDs) > 0 {
		conditions = append(conditions, "id IN (?)")
		args = append(args, filter.PlanIDs)
	}
	if filter.IsTrial != nil {
		conditions = append(conditions, "is_trial = ?")
		args = append(args, *filter.IsTrial)
	}

	query := "SELECT COUNT(*) FROM plans WHERE " + strings.Join(conditions, " AND ")

	query, args, err := sqlx.In(query, args...)
	if err != nil {
		SetSpanError(span, err)
		return 0, ierr.WithError(err).
			WithHint("Failed to build plan count query").
			Mark(ierr.ErrDatabase)
	}
	query = sqlx.Rebind(sqlx.DOLLAR, query)

	var count int
	if err := r.db.GetQuerier(ctx).GetContext(ctx, &count, query, args...); err != nil {
		SetSpanError(span, err)
		return 0, ierr.WithError(err).
			WithHint("Failed to count plans").
			Mark(ierr.ErrDatabase)
	}

	SetSpanSuccess(span)
	return count, nil
}

func (r *planRepository) Update(ctx context.Context, p *domainPlan.Plan) error {
	span := StartRepositorySpan(ctx, "plan", "update", map[string]interface{}{
		"plan_id": p.ID,
	})
	defer FinishSpan(span)

	query := `
		UPDATE plans SET
			name = :name,
			lookup_key = :lookup_key,
			description = :description,
			price = :price,
			duration_months = :duration_months,
			is_trial = :is_trial,
			limits = :limits,
			metadata = :metadata,
			updated_at = :updated_at,
			updated_by = :updated_by
		WHERE
			id = :id AND
			tenant_id = :tenant_id AND
			status != 'deleted'
	`

	result, err := r.db.NamedExecContext(ctx, query, p)
	if err != nil {
		SetSpanError(span, err)
		return ierr.WithError(err).
			WithHint("Failed to update plan").
			WithReportableDetails(map[string]any{"plan_id": p.ID}).
			Mark(ierr.ErrDatabase)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		SetSpanError(span, err)
		return ierr.WithError(err).
			WithHint("Failed to update plan").
			Mark(ierr.ErrDatabase)
	}
	if affected == 0 {
		notFound := ierr.NewError("plan not found").
			WithHintf("Plan with ID %s was not found", p.ID).
			WithReportableDetails(map[string]any{"plan_id": p.ID}).
			Mark(ierr.ErrNotFound)
		SetSpanError(span, notFound)
		return notFound
	}

	SetSpanSuccess(span)
	r.DeleteCache(ctx, p.ID)
	return nil
}

func (r *planRepository) Delete(ctx context.Context, id string) error {
	span := StartRepositorySpan(ctx, "plan", "delete", map[string]interface{}{
		"plan_id": id,
	})
	defer FinishSpan(span)

	query := `
		UPDATE plans SET
			status = :deleted,
			updated_at = NOW(),
			updated_by = :updated_by
		WHERE
			id = :id AND
			tenant_id = :tenant_id AND
			status != :deleted
	`

	result, err := r.db.NamedExecContext(ctx, query, map[string]interface{}{
		"deleted":    types.StatusDeleted,
		"updated_by": types.GetUserID(ctx),
		"id":         id,
		"tenant_id":  types.GetTenantID(ctx),
	})
	if err != nil {
		SetSpanError(span, err)
		return ierr.WithError(err).
			WithHint("Failed to delete plan").
			WithReportableDetails(map[string]any{"plan_id": id}).
			Mark(ierr.ErrDatabase)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		SetSpanError(span, err)
		return ierr.WithError(err).
			WithHint("Failed to delete plan").
			Mark(ierr.ErrDatabase)
	}
	if affected == 0 {
		notFound := ierr.NewError("plan not found").
			WithHintf("Plan with ID %s was not found", id).
			WithReportableDetails(map[string]any{"plan_id": id}).
			Mark(ierr.ErrNotFound)
		SetSpanError(span, notFound)
		return notFound
	}

	SetSpanSuccess(span)
	r.DeleteCache(ctx, id)
	return nil
}

// caching

func (r *planRepository) SetCache(ctx context.Context, p *domainPlan.Plan) {
	span := cache.StartCacheSpan(ctx, "plan", "set", map[string]interface{}{
		"plan_id": p.ID,
	})
	defer cache.FinishSpan(span)

	cacheKey := cache.GenerateKey(cache.PrefixPlan, types.GetTenantID(ctx), p.ID)
	r.cache.Set(ctx, cacheKey, p, cache.PlanExpiration)
	r.logger.Debugw("cache set", "key", cacheKey)
}

func (r *planRepository) GetCache(ctx context.Context, id string) *domainPlan.Plan {
	span := cache.StartCacheSpan(ctx, "plan", "get", map[string]interface{}{
		"plan_id": id,
	})
	defer cache.FinishSpan(span)

	cacheKey := cache.GenerateKey(cache.PrefixPlan, types.GetTenantID(ctx), id)
	if value, found := r.cache.Get(ctx, cacheKey); found {
		if p, ok := value.(*domainPlan.Plan); ok {
			r.logger.Debugw("cache hit", "key", cacheKey)
			return p
		}
	}
	return nil
}

func (r *planRepository) DeleteCache(ctx context.Context, id string) {
	span := cache.StartCacheSpan(ctx, "plan", "delete", map[string]interface{}{
		"plan_id": id,
	})
	defer cache.FinishSpan(span)

	cacheKey := cache.GenerateKey(cache.PrefixPlan, types.GetTenantID(ctx), id)
	r.cache.Delete(ctx, cacheKey)
}

package internal

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/hirewire/billing/internal/cache"
	"github.com/hirewire/billing/internal/config"
	"github.com/hirewire/billing/internal/domain/plan"
	"github.com/hirewire/billing/internal/logger"
	"github.com/hirewire/billing/internal/postgres"
	"github.com/hirewire/billing/internal/repository"
	"github.com/hirewire/billing/internal/types"
)

// SeedPlans inserts the starter catalog into the configured Postgres
// database. Plans that already exist (matched by lookup key) are left alone,
// so the script is safe to rerun against a developer database.
func SeedPlans() error {
	cfg, err := config.NewConfig()
	if err != nil {
		return err
	}

	log, err := logger.NewLogger(cfg)
	if err != nil {
		return err
	}

	db, err := postgres.NewDB(cfg, log)
	if err != nil {
		return err
	}
	defer db.Close()

	planRepo := repository.NewPlanRepository(db, log, cache.NewInMemoryCache())

	ctx := types.SetTenantID(context.Background(), types.DefaultTenantID)
	ctx = types.SetUserID(ctx, "seed-script")

	existing, err := planRepo.ListAll(ctx, types.NewNoLimitPlanFilter())
	if err != nil {
		return err
	}
	byLookupKey := make(map[string]bool, len(existing))
	for _, p := range existing {
		byLookupKey[p.LookupKey] = true
	}

	seeded := 0
	for _, p := range starterCatalog() {
		if byLookupKey[p.LookupKey] {
			log.Debugw("plan already seeded", "lookup_key", p.LookupKey)
			continue
		}

		p.ID = types.GenerateUUIDWithPrefix(types.UUID_PREFIX_PLAN)
		p.BaseModel = types.GetDefaultBaseModel(ctx)

		if err := p.Validate(); err != nil {
			return err
		}
		if err := planRepo.Create(ctx, p); err != nil {
			return err
		}

		log.Infow("seeded plan", "id", p.ID, "name", p.Name, "price", p.Price)
		seeded++
	}

	log.Infow("seed complete", "created", seeded, "skipped", len(existing))
	return nil
}

func starterCatalog() []*plan.Plan {
	return []*plan.Plan{
		{
			Name:           "Jobseeker Trial",
			LookupKey:      "jobseeker-trial",
			Description:    "14 day trial of the jobseeker toolkit",
			Price:          decimal.Zero,
			DurationMonths: 1,
			IsTrial:        true,
			Limits: types.FeatureLimits{
				types.FeatureApplications: 10,
				types.FeatureResumeViews:  5,
			},
		},
		{
			Name:           "Jobseeker Monthly",
			LookupKey:      "jobseeker-monthly",
			Description:    "Full jobseeker toolkit, billed monthly",
			Price:          decimal.NewFromInt(19),
			DurationMonths: 1,
			Limits: types.FeatureLimits{
				types.FeatureApplications: 100,
				types.FeatureResumeViews:  50,
				types.FeatureScoringCalls: 20,
			},
		},
		{
			Name:           "Jobseeker Annual",
			LookupKey:      "jobseeker-annual",
			Description:    "Full jobseeker toolkit, billed yearly",
			Price:          decimal.NewFromInt(190),
			DurationMonths: 12,
			Limits: types.FeatureLimits{
				types.FeatureApplications: 100,
				types.FeatureResumeViews:  50,
				types.FeatureScoringCalls: 20,
			},
		},
		{
			Name:           "Employer Monthly",
			LookupKey:      "employer-monthly",
			Description:    "Hiring tools for small teams, billed monthly",
			Price:          decimal.NewFromInt(99),
			DurationMonths: 1,
			Limits: types.FeatureLimits{
				types.FeatureJobPostings:    10,
				types.FeatureResumeViews:    500,
				types.FeatureScoringCalls:   200,
				types.FeatureSupportTickets: 5,
			},
		},
		{
			Name:           "Employer Annual",
			LookupKey:      "employer-annual",
			Description:    "Hiring tools for small teams, billed yearly",
			Price:          decimal.NewFromInt(990),
			DurationMonths: 12,
			Limits: types.FeatureLimits{
				types.FeatureJobPostings:    10,
				types.FeatureResumeViews:    500,
				types.FeatureScoringCalls:   200,
				types.FeatureSupportTickets: 5,
			},
		},
	}
}

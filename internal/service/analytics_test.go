package service

import (
	"testing"
	"time"

	"github.com/hirewire/billing/internal/domain/plan"
	"github.com/hirewire/billing/internal/domain/subscription"
	ierr "github.com/hirewire/billing/internal/errors"
	"github.com/hirewire/billing/internal/idempotency"
	"github.com/hirewire/billing/internal/lock"
	"github.com/hirewire/billing/internal/testutil"
	"github.com/hirewire/billing/internal/types"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"
)

type AnalyticsServiceSuite struct {
	testutil.BaseServiceTestSuite
	service AnalyticsService
}

func TestAnalyticsService(t *testing.T) {
	suite.Run(t, new(AnalyticsServiceSuite))
}

func (s *AnalyticsServiceSuite) SetupTest() {
	s.BaseServiceTestSuite.SetupTest()
	s.service = NewAnalyticsService(ServiceParams{
		Logger:         s.GetLogger(),
		Config:         s.GetConfig(),
		Clock:          s.GetClock(),
		Publisher:      s.GetPublisher(),
		IdempotencyGen: idempotency.NewGenerator(),
		Locks:          lock.NewManager(s.GetClock()),
		PlanRepo:       s.GetStores().PlanRepo,
		SubRepo:        s.GetStores().SubscriptionRepo,
		HistoryRepo:    s.GetStores().HistoryRepo,
		PaymentRepo:    s.GetStores().PaymentRepo,
		ReminderRepo:   s.GetStores().ReminderRepo,
		UsageRepo:      s.GetStores().UsageRepo,
		EventRepo:      s.GetStores().EventRepo,
	})
}

func (s *AnalyticsServiceSuite) seedPlan(name string, price int64, months int, isTrial bool) *plan.Plan {
	p := &plan.Plan{
		ID:             types.GenerateUUIDWithPrefix(types.UUID_PREFIX_PLAN),
		Name:           name,
		Price:          decimal.NewFromInt(price),
		DurationMonths: months,
		IsTrial:        isTrial,
		BaseModel:      types.GetDefaultBaseModelAt(s.GetContext(), s.GetNow()),
	}
	s.NoError(s.GetStores().PlanRepo.Create(s.GetContext(), p))
	return p
}

func (s *AnalyticsServiceSuite) seed(sub *subscription.Subscription) *subscription.Subscription {
	s.NoError(s.GetStores().SubscriptionRepo.CreateIfNoActive(s.GetContext(), sub))
	return sub
}

// TestGetAnalytics aggregates a mixed population over an explicit 30 day
// window:
//
//	four paid active rows worth 100/month each, one of them annual
//	one active trial
//	one cancellation inside the window
//	one expiry predating the window entirely
//	two of the active rows due for renewal inside the window, one renewed
func (s *AnalyticsServiceSuite) TestGetAnalytics() {
	ctx := s.GetContext()
	now := s.GetNow()
	tf := types.Timeframe{Start: now.AddDate(0, 0, -30), End: now}

	monthly := s.seedPlan("Professional", 100, 1, false)
	annual := s.seedPlan("Professional Annual", 1200, 12, false)
	trial := s.seedPlan("Free Trial", 0, 1, true)

	sub := func(ref types.SubscriberRef, p *plan.Plan, status types.SubscriptionStatus, createdAt, start, end time.Time) *subscription.Subscription {
		row := &subscription.Subscription{
			ID:                 types.GenerateUUIDWithPrefix(types.UUID_PREFIX_SUBSCRIPTION),
			PlanID:             p.ID,
			SubscriptionStatus: status,
			IsTrial:            p.IsTrial,
			StartDate:          start,
			EndDate:            end,
			NextBillingDate:    end,
			Version:            1,
			BaseModel:          types.GetDefaultBaseModelAt(ctx, createdAt),
		}
		row.SetSubscriber(ref)
		return row
	}

	s.seed(sub(types.NewUserRef("user-an-1"), monthly, types.SubscriptionStatusActive,
		now.AddDate(0, 0, -45), now.AddDate(0, 0, -15), now.AddDate(0, 0, 15)))
	s.seed(sub(types.NewEmployerRef("employer-an-2"), annual, types.SubscriptionStatusActive,
		now.AddDate(0, 0, -100), now.AddDate(0, 0, -100), now.AddDate(0, 0, 265)))
	s.seed(sub(types.NewUserRef("user-an-3"), trial, types.SubscriptionStatusActive,
		now.AddDate(0, 0, -5), now.AddDate(0, 0, -5), now.AddDate(0, 0, 25)))

	churned := sub(types.NewUserRef("user-an-4"), monthly, types.SubscriptionStatusCancelled,
		now.AddDate(0, 0, -90), now.AddDate(0, 0, -30), now)
	churned.CancelledAt = lo.ToPtr(now.AddDate(0, 0, -10))
	s.seed(churned)

	dueA := s.seed(sub(types.NewUserRef("user-an-5"), monthly, types.SubscriptionStatusActive,
		now.AddDate(0, 0, -33), now.AddDate(0, 0, -33), now.AddDate(0, 0, -3)))
	s.seed(sub(types.NewUserRef("user-an-6"), monthly, types.SubscriptionStatusExpired,
		now.AddDate(0, 0, -200), now.AddDate(0, 0, -80), now.AddDate(0, 0, -50)))
	s.seed(sub(types.NewUserRef("user-an-7"), monthly, types.SubscriptionStatusActive,
		now.AddDate(0, 0, -40), now.AddDate(0, 0, -31), now.AddDate(0, 0, -1)))

	s.NoError(s.GetStores().HistoryRepo.CreateRenewal(ctx, &subscription.Renewal{
		ID:              types.GenerateUUIDWithPrefix(types.UUID_PREFIX_RENEWAL),
		SubscriptionID:  dueA.ID,
		PlanID:          monthly.ID,
		Amount:          monthly.Price,
		PreviousEndDate: now.AddDate(0, 0, -33),
		NewEndDate:      now.AddDate(0, 0, -3),
		RenewalNumber:   1,
		BaseModel:       types.GetDefaultBaseModelAt(ctx, now.AddDate(0, 0, -10)),
	}))

	resp, err := s.service.GetAnalytics(ctx, tf)
	s.NoError(err)
	s.Equal(tf, resp.Timeframe)

	// Expired before the window never enters the population of 6
	s.Equal(5, resp.ActiveCount)
	s.Equal(1, resp.TrialCount)
	s.Equal(1, resp.CancelledInPeriod)
	s.Equal(1, resp.RenewalsInPeriod)
	s.Equal("0.1667", resp.ChurnRate.StringFixed(4))

	// Two active rows ended inside the window, one of them renewed
	s.Equal("0.5000", resp.RenewalRate.StringFixed(4))

	// The annual plan contributes its normalized 100/month; the trial nothing
	s.Equal("400.00", resp.MRR.StringFixed(2))
	s.Equal("4800.00", resp.ARR.StringFixed(2))

	s.Run("growth against the prior window", func() {
		g := resp.Growth
		s.NotNil(g)
		s.Equal("400.00", g.CurrentMRR.StringFixed(2))

		// Thirty days earlier the churned row still paid and the trial did
		// not exist yet
		s.Equal("500.00", g.PriorMRR.StringFixed(2))
		s.Equal("-100.00", g.MRRGrowth.StringFixed(2))
		s.Equal("-20.00", g.MRRGrowthPercent.StringFixed(2))
		s.Equal(5, g.CurrentActiveCount)
		s.Equal(5, g.PriorActiveCount)
		s.Equal(0, g.ActiveGrowth)
		s.Equal("0.00", g.ActiveGrowthPercent.StringFixed(2))
	})
}

func (s *AnalyticsServiceSuite) TestGetAnalyticsDefaultTimeframe() {
	now := s.GetNow()

	resp, err := s.service.GetAnalytics(s.GetContext(), types.Timeframe{})
	s.NoError(err)
	s.Equal(now.AddDate(0, 0, -30), resp.Timeframe.Start)
	s.Equal(now, resp.Timeframe.End)

	s.Equal(0, resp.ActiveCount)
	s.Equal(0, resp.RenewalsInPeriod)
	s.True(resp.ChurnRate.IsZero())
	s.True(resp.RenewalRate.IsZero())
	s.True(resp.MRR.IsZero())
	s.True(resp.ARR.IsZero())
	s.NotNil(resp.Growth)
	s.True(resp.Growth.MRRGrowthPercent.IsZero())
}

func (s *AnalyticsServiceSuite) TestGetAnalyticsTimeframeValidation() {
	now := s.GetNow()

	_, err := s.service.GetAnalytics(s.GetContext(), types.Timeframe{
		Start: now,
		End:   now.AddDate(0, 0, -30),
	})
	s.Error(err)
	s.True(ierr.IsValidation(err))

	_, err = s.service.GetAnalytics(s.GetContext(), types.Timeframe{Start: now})
	s.Error(err)
	s.True(ierr.IsValidation(err))

	_, err = s.service.GetAnalytics(s.GetContext(), types.Timeframe{
		Start: now,
		End:   now,
	})
	s.Error(err)
	s.True(ierr.IsValidation(err))
}

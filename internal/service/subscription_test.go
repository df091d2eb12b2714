package service

import (
	"sync"
	"testing"
	"time"

	"github.com/hirewire/billing/internal/api/dto"
	"github.com/hirewire/billing/internal/domain/payment"
	"github.com/hirewire/billing/internal/domain/plan"
	"github.com/hirewire/billing/internal/domain/subscription"
	ierr "github.com/hirewire/billing/internal/errors"
	"github.com/hirewire/billing/internal/idempotency"
	"github.com/hirewire/billing/internal/lock"
	"github.com/hirewire/billing/internal/testutil"
	"github.com/hirewire/billing/internal/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"
)

type SubscriptionServiceSuite struct {
	testutil.BaseServiceTestSuite
	service  SubscriptionService
	testData struct {
		basicPlan   *plan.Plan // 50 / 1 month
		monthlyPlan *plan.Plan // 100 / 1 month
		premiumPlan *plan.Plan // 200 / 1 month
		trialPlan   *plan.Plan // 0 / 1 month trial
	}
}

func TestSubscriptionService(t *testing.T) {
	suite.Run(t, new(SubscriptionServiceSuite))
}

func (s *SubscriptionServiceSuite) SetupTest() {
	s.BaseServiceTestSuite.SetupTest()
	s.service = NewSubscriptionService(s.serviceParams())
	s.setupTestData()
}

func (s *SubscriptionServiceSuite) serviceParams() ServiceParams {
	return ServiceParams{
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
	}
}

func (s *SubscriptionServiceSuite) setupTestData() {
	ctx := s.GetContext()

	s.testData.basicPlan = &plan.Plan{
		ID:             types.GenerateUUIDWithPrefix(types.UUID_PREFIX_PLAN),
		Name:           "Starter",
		LookupKey:      "starter_monthly",
		Price:          decimal.NewFromInt(50),
		DurationMonths: 1,
		BaseModel:      types.GetDefaultBaseModelAt(ctx, s.GetNow()),
	}
	s.NoError(s.GetStores().PlanRepo.Create(ctx, s.testData.basicPlan))

	s.testData.monthlyPlan = &plan.Plan{
		ID:             types.GenerateUUIDWithPrefix(types.UUID_PREFIX_PLAN),
		Name:           "Professional",
		LookupKey:      "professional_monthly",
		Price:          decimal.NewFromInt(100),
		DurationMonths: 1,
		Limits: types.FeatureLimits{
			types.FeatureJobPostings: 10,
		},
		BaseModel: types.GetDefaultBaseModelAt(ctx, s.GetNow()),
	}
	s.NoError(s.GetStores().PlanRepo.Create(ctx, s.testData.monthlyPlan))

	s.testData.premiumPlan = &plan.Plan{
		ID:             types.GenerateUUIDWithPrefix(types.UUID_PREFIX_PLAN),
		Name:           "Premium",
		LookupKey:      "premium_monthly",
		Price:          decimal.NewFromInt(200),
		DurationMonths: 1,
		BaseModel:      types.GetDefaultBaseModelAt(ctx, s.GetNow()),
	}
	s.NoError(s.GetStores().PlanRepo.Create(ctx, s.testData.premiumPlan))

	s.testData.trialPlan = &plan.Plan{
		ID:             types.GenerateUUIDWithPrefix(types.UUID_PREFIX_PLAN),
		Name:           "Free Trial",
		LookupKey:      "free_trial",
		Price:          decimal.Zero,
		DurationMonths: 1,
		IsTrial:        true,
		BaseModel:      types.GetDefaultBaseModelAt(ctx, s.GetNow()),
	}
	s.NoError(s.GetStores().PlanRepo.Create(ctx, s.testData.trialPlan))
}

// seedSubscription inserts an active subscription with an explicit billing
// period, bypassing the service so tests control the period fractions.
func (s *SubscriptionServiceSuite) seedSubscription(ref types.SubscriberRef, p *plan.Plan, start, end time.Time) *subscription.Subscription {
	sub := &subscription.Subscription{
		ID:                 types.GenerateUUIDWithPrefix(types.UUID_PREFIX_SUBSCRIPTION),
		PlanID:             p.ID,
		SubscriptionStatus: types.SubscriptionStatusActive,
		StartDate:          start,
		EndDate:            end,
		NextBillingDate:    end,
		Version:            1,
		BaseModel:          types.GetDefaultBaseModelAt(s.GetContext(), start),
	}
	sub.SetSubscriber(ref)
	s.NoError(s.GetStores().SubscriptionRepo.CreateIfNoActive(s.GetContext(), sub))
	return sub
}

func (s *SubscriptionServiceSuite) paymentsOfKind(kind types.PaymentKind, subscriptionID string) []*dto.PaymentResponse {
	payments, err := s.GetStores().PaymentRepo.List(s.GetContext(), &types.PaymentFilter{
		QueryFilter:    types.NewNoLimitQueryFilter(),
		SubscriptionID: &subscriptionID,
		Kinds:          []types.PaymentKind{kind},
	})
	s.NoError(err)
	result := make([]*dto.PaymentResponse, len(payments))
	for i, p := range payments {
		result[i] = dto.NewPaymentResponse(p)
	}
	return result
}

func (s *SubscriptionServiceSuite) TestCreateSubscription() {
	now := s.GetNow()
	resp, err := s.service.CreateSubscription(s.GetContext(), dto.CreateSubscriptionRequest{
		UserID: "user-1",
		PlanID: s.testData.monthlyPlan.ID,
	})
	s.NoError(err)
	s.NotNil(resp)
	s.Equal(types.SubscriptionStatusActive, resp.SubscriptionStatus)
	s.Equal(s.testData.monthlyPlan.ID, resp.PlanID)
	s.Equal("user-1", resp.UserID)
	s.False(resp.IsTrial)
	s.Equal(now, resp.StartDate)
	s.Equal(now.AddDate(0, 1, 0), resp.EndDate)
	s.Equal(resp.EndDate, resp.NextBillingDate)
	s.Equal(1, resp.Version)
	s.Nil(resp.TrialStart)
	s.NotNil(resp.Plan)
	s.Equal(s.testData.monthlyPlan.Name, resp.Plan.Name)
	s.True(s.GetPublisher().HasEventOfType(types.NotificationSubscriptionCreated))

	s.Run("rejects a second active subscription for the same subscriber", func() {
		_, err := s.service.CreateSubscription(s.GetContext(), dto.CreateSubscriptionRequest{
			UserID: "user-1",
			PlanID: s.testData.basicPlan.ID,
		})
		s.Error(err)
		s.True(ierr.IsAlreadyExists(err))
	})

	s.Run("allows a new subscription after cancellation", func() {
		_, err := s.service.CancelSubscription(s.GetContext(), resp.ID, dto.CancelSubscriptionRequest{})
		s.NoError(err)

		again, err := s.service.CreateSubscription(s.GetContext(), dto.CreateSubscriptionRequest{
			UserID: "user-1",
			PlanID: s.testData.basicPlan.ID,
		})
		s.NoError(err)
		s.Equal(s.testData.basicPlan.ID, again.PlanID)
	})

	s.Run("rejects a trial plan", func() {
		_, err := s.service.CreateSubscription(s.GetContext(), dto.CreateSubscriptionRequest{
			UserID: "user-2",
			PlanID: s.testData.trialPlan.ID,
		})
		s.Error(err)
		s.True(ierr.IsValidation(err))
	})

	s.Run("rejects an unknown plan", func() {
		_, err := s.service.CreateSubscription(s.GetContext(), dto.CreateSubscriptionRequest{
			UserID: "user-2",
			PlanID: "plan_missing",
		})
		s.Error(err)
		s.True(ierr.IsNotFound(err))
	})

	s.Run("rejects an empty subscriber ref", func() {
		_, err := s.service.CreateSubscription(s.GetContext(), dto.CreateSubscriptionRequest{
			PlanID: s.testData.monthlyPlan.ID,
		})
		s.Error(err)
		s.True(ierr.IsValidation(err))
	})

	s.Run("rejects an ambiguous subscriber ref", func() {
		_, err := s.service.CreateSubscription(s.GetContext(), dto.CreateSubscriptionRequest{
			UserID:     "user-2",
			EmployerID: "emp-2",
			PlanID:     s.testData.monthlyPlan.ID,
		})
		s.Error(err)
		s.True(ierr.IsValidation(err))
	})

	s.Run("employer accounts subscribe independently of users", func() {
		resp, err := s.service.CreateSubscription(s.GetContext(), dto.CreateSubscriptionRequest{
			EmployerID: "emp-1",
			PlanID:     s.testData.premiumPlan.ID,
		})
		s.NoError(err)
		s.Equal("emp-1", resp.EmployerID)
		s.Empty(resp.UserID)
	})
}

func (s *SubscriptionServiceSuite) TestCreateTrialSubscription() {
	now := s.GetNow()
	resp, err := s.service.CreateTrialSubscription(s.GetContext(), dto.CreateSubscriptionRequest{
		UserID: "user-trial",
		PlanID: s.testData.trialPlan.ID,
	})
	s.NoError(err)
	s.True(resp.IsTrial)
	s.NotNil(resp.TrialStart)
	s.NotNil(resp.TrialEnd)
	s.Equal(now, *resp.TrialStart)
	s.Equal(now.AddDate(0, 1, 0), *resp.TrialEnd)
	s.True(s.GetPublisher().HasEventOfType(types.NotificationTrialStarted))

	s.Run("rejects a paid plan", func() {
		_, err := s.service.CreateTrialSubscription(s.GetContext(), dto.CreateSubscriptionRequest{
			UserID: "user-other",
			PlanID: s.testData.monthlyPlan.ID,
		})
		s.Error(err)
		s.True(ierr.IsValidation(err))
	})

	s.Run("one trial per subscriber, even after cancellation", func() {
		_, err := s.service.CancelSubscription(s.GetContext(), resp.ID, dto.CancelSubscriptionRequest{})
		s.NoError(err)

		_, err = s.service.CreateTrialSubscription(s.GetContext(), dto.CreateSubscriptionRequest{
			UserID: "user-trial",
			PlanID: s.testData.trialPlan.ID,
		})
		s.Error(err)
		s.True(ierr.IsAlreadyExists(err))
	})
}

func (s *SubscriptionServiceSuite) TestGetSubscription() {
	created, err := s.service.CreateSubscription(s.GetContext(), dto.CreateSubscriptionRequest{
		UserID: "user-get",
		PlanID: s.testData.monthlyPlan.ID,
	})
	s.NoError(err)

	resp, err := s.service.GetSubscription(s.GetContext(), created.ID)
	s.NoError(err)
	s.Equal(created.ID, resp.ID)
	s.NotNil(resp.Plan)
	s.Equal(s.testData.monthlyPlan.ID, resp.Plan.ID)

	s.Run("unknown subscription", func() {
		_, err := s.service.GetSubscription(s.GetContext(), "subs_missing")
		s.Error(err)
		s.True(ierr.IsNotFound(err))
	})
}

func (s *SubscriptionServiceSuite) TestListSubscriptions() {
	_, err := s.service.CreateSubscription(s.GetContext(), dto.CreateSubscriptionRequest{
		UserID: "user-a",
		PlanID: s.testData.monthlyPlan.ID,
	})
	s.NoError(err)
	cancelled, err := s.service.CreateSubscription(s.GetContext(), dto.CreateSubscriptionRequest{
		UserID: "user-b",
		PlanID: s.testData.premiumPlan.ID,
	})
	s.NoError(err)
	_, err = s.service.CancelSubscription(s.GetContext(), cancelled.ID, dto.CancelSubscriptionRequest{})
	s.NoError(err)

	resp, err := s.service.ListSubscriptions(s.GetContext(), nil)
	s.NoError(err)
	s.Len(resp.Items, 2)
	s.Equal(2, resp.Pagination.Total)

	s.Run("filter by status", func() {
		resp, err := s.service.ListSubscriptions(s.GetContext(), &types.SubscriptionFilter{
			QueryFilter:        types.NewDefaultQueryFilter(),
			SubscriptionStatus: []types.SubscriptionStatus{types.SubscriptionStatusCancelled},
		})
		s.NoError(err)
		s.Len(resp.Items, 1)
		s.Equal(cancelled.ID, resp.Items[0].ID)
	})

	s.Run("filter by subscriber", func() {
		ref := types.NewUserRef("user-a")
		resp, err := s.service.ListSubscriptions(s.GetContext(), &types.SubscriptionFilter{
			QueryFilter:   types.NewDefaultQueryFilter(),
			SubscriberRef: &ref,
		})
		s.NoError(err)
		s.Len(resp.Items, 1)
		s.Equal("user-a", resp.Items[0].UserID)
	})

	s.Run("invalid status in filter", func() {
		_, err := s.service.ListSubscriptions(s.GetContext(), &types.SubscriptionFilter{
			QueryFilter:        types.NewDefaultQueryFilter(),
			SubscriptionStatus: []types.SubscriptionStatus{"paused"},
		})
		s.Error(err)
		s.True(ierr.IsValidation(err))
	})
}

func (s *SubscriptionServiceSuite) TestRenewSubscription() {
	created, err := s.service.CreateSubscription(s.GetContext(), dto.CreateSubscriptionRequest{
		UserID: "user-renew",
		PlanID: s.testData.monthlyPlan.ID,
	})
	s.NoError(err)
	firstEnd := created.EndDate

	// Renew 40 days in, well past the period end. The expiration sweep has
	// not run, so the row is still active.
	s.AdvanceClock(40 * 24 * time.Hour)

	resp, err := s.service.RenewSubscription(s.GetContext(), created.ID)
	s.NoError(err)
	s.Equal(1, resp.RenewalNumber)
	s.True(s.testData.monthlyPlan.Price.Equal(resp.Amount))

	s.Run("new period anchors at the previous end, not at now", func() {
		s.Equal(firstEnd, resp.Subscription.StartDate)
		s.Equal(firstEnd.AddDate(0, 1, 0), resp.Subscription.EndDate)
		s.Equal(resp.Subscription.EndDate, resp.Subscription.NextBillingDate)
	})

	s.Run("renewal is recorded and charged", func() {
		history, err := s.GetStores().HistoryRepo.GetBySubscription(s.GetContext(), created.ID)
		s.NoError(err)
		s.Len(history.Renewals, 1)
		s.Equal(firstEnd, history.Renewals[0].PreviousEndDate)
		s.Equal(firstEnd.AddDate(0, 1, 0), history.Renewals[0].NewEndDate)
		s.Equal(1, history.Renewals[0].RenewalNumber)

		charges := s.paymentsOfKind(types.PaymentKindCharge, created.ID)
		s.Len(charges, 1)
		s.True(s.testData.monthlyPlan.Price.Equal(charges[0].Amount))
		s.NotNil(resp.Payment)
		s.Equal(charges[0].ID, resp.Payment.ID)
		s.True(s.GetPublisher().HasEventOfType(types.NotificationSubscriptionRenewed))
	})

	s.Run("consecutive renewals keep extending from the last end", func() {
		again, err := s.service.RenewSubscription(s.GetContext(), created.ID)
		s.NoError(err)
		s.Equal(2, again.RenewalNumber)
		s.Equal(firstEnd.AddDate(0, 1, 0), again.Subscription.StartDate)
		s.Equal(firstEnd.AddDate(0, 2, 0), again.Subscription.EndDate)
		s.Len(s.paymentsOfKind(types.PaymentKindCharge, created.ID), 2)
	})

	s.Run("cancelled subscription cannot renew", func() {
		_, err := s.service.CancelSubscription(s.GetContext(), created.ID, dto.CancelSubscriptionRequest{})
		s.NoError(err)

		_, err = s.service.RenewSubscription(s.GetContext(), created.ID)
		s.Error(err)
		s.True(ierr.IsInvalidOperation(err))
	})
}

func (s *SubscriptionServiceSuite) TestRenewalRetryReusesLedgerEntry() {
	created, err := s.service.CreateSubscription(s.GetContext(), dto.CreateSubscriptionRequest{
		UserID: "user-retry",
		PlanID: s.testData.monthlyPlan.ID,
	})
	s.NoError(err)

	// A previous attempt crashed after writing the ledger row. The retry
	// derives the same key and must return that row instead of a second one.
	gen := idempotency.NewGenerator()
	key := gen.GenerateKey(idempotency.ScopeChargeRenewal, map[string]interface{}{
		"subscription_id": created.ID,
		"period_start":    created.EndDate.Format(time.RFC3339),
	})
	existing := &payment.Payment{
		ID:              types.GenerateUUIDWithPrefix(types.UUID_PREFIX_PAYMENT),
		ReferenceNumber: types.GenerateShortIDWithPrefix("PAY-"),
		SubscriptionID:  created.ID,
		UserID:          "user-retry",
		Kind:            types.PaymentKindCharge,
		Amount:          s.testData.monthlyPlan.Price,
		Description:     "Subscription renewal",
		IdempotencyKey:  key,
		BaseModel:       types.GetDefaultBaseModelAt(s.GetContext(), s.GetNow()),
	}
	s.NoError(s.GetStores().PaymentRepo.Create(s.GetContext(), existing))

	resp, err := s.service.RenewSubscription(s.GetContext(), created.ID)
	s.NoError(err)
	s.NotNil(resp.Payment)
	s.Equal(existing.ID, resp.Payment.ID)
	s.Len(s.paymentsOfKind(types.PaymentKindCharge, created.ID), 1)
}

func (s *SubscriptionServiceSuite) TestUpgradeSubscription() {
	now := s.GetNow()
	// 30 day period, 10 days in: two thirds of the period remain.
	sub := s.seedSubscription(types.NewUserRef("user-upgrade"), s.testData.monthlyPlan,
		now.AddDate(0, 0, -10), now.AddDate(0, 0, 20))

	resp, err := s.service.UpgradeSubscription(s.GetContext(), sub.ID, dto.UpgradeSubscriptionRequest{
		PlanID: s.testData.premiumPlan.ID,
	})
	s.NoError(err)
	s.Equal("66.67", resp.AmountCharged.StringFixed(2))
	s.InDelta(0.6667, resp.RemainingFraction.InexactFloat64(), 0.0001)
	s.Equal(s.testData.premiumPlan.ID, resp.Subscription.PlanID)
	s.NotNil(resp.Subscription.UpgradeID)

	s.Run("period dates are untouched by the upgrade", func() {
		s.Equal(sub.StartDate, resp.Subscription.StartDate)
		s.Equal(sub.EndDate, resp.Subscription.EndDate)
	})

	s.Run("upgrade is recorded and charged", func() {
		history, err := s.GetStores().HistoryRepo.GetBySubscription(s.GetContext(), sub.ID)
		s.NoError(err)
		s.Len(history.Upgrades, 1)
		s.Equal(s.testData.monthlyPlan.ID, history.Upgrades[0].FromPlanID)
		s.Equal(s.testData.premiumPlan.ID, history.Upgrades[0].ToPlanID)
		s.Equal("66.67", history.Upgrades[0].AmountCharged.StringFixed(2))

		charges := s.paymentsOfKind(types.PaymentKindCharge, sub.ID)
		s.Len(charges, 1)
		s.Equal("66.67", charges[0].Amount.StringFixed(2))
		s.True(s.GetPublisher().HasEventOfType(types.NotificationSubscriptionUpgraded))
	})

	s.Run("rejects a cheaper plan", func() {
		_, err := s.service.UpgradeSubscription(s.GetContext(), sub.ID, dto.UpgradeSubscriptionRequest{
			PlanID: s.testData.basicPlan.ID,
		})
		s.Error(err)
		s.True(ierr.IsValidation(err))
	})

	s.Run("rejects the same plan", func() {
		_, err := s.service.UpgradeSubscription(s.GetContext(), sub.ID, dto.UpgradeSubscriptionRequest{
			PlanID: s.testData.premiumPlan.ID,
		})
		s.Error(err)
		s.True(ierr.IsValidation(err))
	})

	s.Run("rejects a trial plan as target", func() {
		_, err := s.service.UpgradeSubscription(s.GetContext(), sub.ID, dto.UpgradeSubscriptionRequest{
			PlanID: s.testData.trialPlan.ID,
		})
		s.Error(err)
		s.True(ierr.IsValidation(err))
	})
}

func (s *SubscriptionServiceSuite) TestUpgradeClearsPendingDowngrade() {
	now := s.GetNow()
	sub := s.seedSubscription(types.NewUserRef("user-upg-down"), s.testData.monthlyPlan,
		now.AddDate(0, 0, -10), now.AddDate(0, 0, 20))

	scheduled, err := s.service.ScheduleDowngrade(s.GetContext(), sub.ID, dto.ScheduleDowngradeRequest{
		PlanID:        s.testData.basicPlan.ID,
		EffectiveDate: now.AddDate(0, 0, 15),
	})
	s.NoError(err)
	s.NotNil(scheduled.Subscription.ScheduledDowngradeID)

	resp, err := s.service.UpgradeSubscription(s.GetContext(), sub.ID, dto.UpgradeSubscriptionRequest{
		PlanID: s.testData.premiumPlan.ID,
	})
	s.NoError(err)
	s.Nil(resp.Subscription.ScheduledDowngradeID)
	s.Nil(resp.Subscription.ScheduledDowngradeDate)

	// The superseded downgrade is no longer a sweep candidate.
	due, err := s.GetStores().SubscriptionRepo.ListDueDowngrades(s.GetContext(), subscription.DueDowngradesQuery{
		Cutoff: now.AddDate(0, 0, 30),
	})
	s.NoError(err)
	s.Empty(due)
}

func (s *SubscriptionServiceSuite) TestScheduleDowngrade() {
	now := s.GetNow()
	// 30 day period, 10 days in, downgrade effective at day 25: the credit
	// covers the final 5 days of the price difference.
	sub := s.seedSubscription(types.NewUserRef("user-downgrade"), s.testData.premiumPlan,
		now.AddDate(0, 0, -10), now.AddDate(0, 0, 20))
	effective := sub.StartDate.AddDate(0, 0, 25)

	resp, err := s.service.ScheduleDowngrade(s.GetContext(), sub.ID, dto.ScheduleDowngradeRequest{
		PlanID:        s.testData.monthlyPlan.ID,
		EffectiveDate: effective,
	})
	s.NoError(err)
	s.Equal("16.67", resp.CreditAmount.StringFixed(2))
	s.Equal(effective, resp.EffectiveDate)
	s.NotEmpty(resp.DowngradeID)

	s.Run("plan swap is deferred to the sweep", func() {
		current, err := s.GetStores().SubscriptionRepo.Get(s.GetContext(), sub.ID)
		s.NoError(err)
		s.Equal(s.testData.premiumPlan.ID, current.PlanID)
		s.NotNil(current.ScheduledDowngradeID)
		s.Equal(resp.DowngradeID, *current.ScheduledDowngradeID)
		s.NotNil(current.ScheduledDowngradeDate)
		s.Equal(effective, *current.ScheduledDowngradeDate)
	})

	s.Run("downgrade record is pending, no credit issued yet", func() {
		dg, err := s.GetStores().HistoryRepo.GetDowngrade(s.GetContext(), resp.DowngradeID)
		s.NoError(err)
		s.False(dg.Applied)
		s.Nil(dg.AppliedAt)
		s.Equal("16.67", dg.CreditAmount.StringFixed(2))
		s.Empty(s.paymentsOfKind(types.PaymentKindCredit, sub.ID))
		s.True(s.GetPublisher().HasEventOfType(types.NotificationDowngradeScheduled))
	})

	s.Run("at most one pending downgrade", func() {
		_, err := s.service.ScheduleDowngrade(s.GetContext(), sub.ID, dto.ScheduleDowngradeRequest{
			PlanID:        s.testData.basicPlan.ID,
			EffectiveDate: effective,
		})
		s.Error(err)
		s.True(ierr.IsAlreadyExists(err))
	})
}

func (s *SubscriptionServiceSuite) TestScheduleDowngradeValidation() {
	now := s.GetNow()
	sub := s.seedSubscription(types.NewUserRef("user-dg-val"), s.testData.premiumPlan,
		now.AddDate(0, 0, -10), now.AddDate(0, 0, 20))

	s.Run("rejects a pricier plan", func() {
		_, err := s.service.ScheduleDowngrade(s.GetContext(), sub.ID, dto.ScheduleDowngradeRequest{
			PlanID:        s.testData.premiumPlan.ID,
			EffectiveDate: now.AddDate(0, 0, 5),
		})
		s.Error(err)
		s.True(ierr.IsValidation(err))
	})

	s.Run("rejects an effective date in the past", func() {
		_, err := s.service.ScheduleDowngrade(s.GetContext(), sub.ID, dto.ScheduleDowngradeRequest{
			PlanID:        s.testData.monthlyPlan.ID,
			EffectiveDate: now.AddDate(0, 0, -1),
		})
		s.Error(err)
		s.True(ierr.IsValidation(err))
	})

	s.Run("rejects an effective date beyond the period end", func() {
		_, err := s.service.ScheduleDowngrade(s.GetContext(), sub.ID, dto.ScheduleDowngradeRequest{
			PlanID:        s.testData.monthlyPlan.ID,
			EffectiveDate: sub.EndDate.AddDate(0, 0, 1),
		})
		s.Error(err)
		s.True(ierr.IsValidation(err))
	})

	s.Run("the period end itself is a valid effective date", func() {
		resp, err := s.service.ScheduleDowngrade(s.GetContext(), sub.ID, dto.ScheduleDowngradeRequest{
			PlanID:        s.testData.monthlyPlan.ID,
			EffectiveDate: sub.EndDate,
		})
		s.NoError(err)
		// Nothing remains at the boundary, so nothing is credited.
		s.Equal("0.00", resp.CreditAmount.StringFixed(2))
	})
}

func (s *SubscriptionServiceSuite) TestCancelSubscription() {
	now := s.GetNow()
	// 30 day period, cancelled exactly halfway: half the price comes back.
	sub := s.seedSubscription(types.NewUserRef("user-cancel"), s.testData.monthlyPlan,
		now.AddDate(0, 0, -15), now.AddDate(0, 0, 15))

	resp, err := s.service.CancelSubscription(s.GetContext(), sub.ID, dto.CancelSubscriptionRequest{
		Reason: "too expensive",
	})
	s.NoError(err)
	s.Equal("50.00", resp.RefundAmount.StringFixed(2))
	s.InDelta(0.5, resp.UsedFraction.InexactFloat64(), 0.0001)
	s.Equal(types.SubscriptionStatusCancelled, resp.Subscription.SubscriptionStatus)
	s.NotNil(resp.Subscription.CancelledAt)
	s.Equal(now, *resp.Subscription.CancelledAt)
	s.Equal("too expensive", resp.Subscription.CancellationReason)

	s.Run("cancellation is recorded and refunded", func() {
		history, err := s.GetStores().HistoryRepo.GetBySubscription(s.GetContext(), sub.ID)
		s.NoError(err)
		s.Len(history.Cancellations, 1)
		s.Equal("50.00", history.Cancellations[0].RefundAmount.StringFixed(2))
		s.Equal("too expensive", history.Cancellations[0].Reason)

		refunds := s.paymentsOfKind(types.PaymentKindRefund, sub.ID)
		s.Len(refunds, 1)
		s.Equal("50.00", refunds[0].Amount.StringFixed(2))
		s.True(s.GetPublisher().HasEventOfType(types.NotificationSubscriptionCancelled))
	})

	s.Run("cancelled is terminal", func() {
		_, err := s.service.CancelSubscription(s.GetContext(), sub.ID, dto.CancelSubscriptionRequest{})
		s.Error(err)
		s.True(ierr.IsInvalidOperation(err))

		_, err = s.service.UpgradeSubscription(s.GetContext(), sub.ID, dto.UpgradeSubscriptionRequest{
			PlanID: s.testData.premiumPlan.ID,
		})
		s.Error(err)
		s.True(ierr.IsInvalidOperation(err))
	})
}

func (s *SubscriptionServiceSuite) TestConvertTrialToPaid() {
	created, err := s.service.CreateTrialSubscription(s.GetContext(), dto.CreateSubscriptionRequest{
		UserID: "user-convert",
		PlanID: s.testData.trialPlan.ID,
	})
	s.NoError(err)
	trialEnd := *created.TrialEnd

	// Convert 20 days into the 30 day June-July trial: 10 whole days remain.
	s.AdvanceClock(20 * 24 * time.Hour)
	now := s.GetNow()

	resp, err := s.service.ConvertTrialToPaid(s.GetContext(), created.ID, dto.ConvertTrialRequest{
		PlanID: s.testData.monthlyPlan.ID,
	})
	s.NoError(err)
	s.Equal(10, resp.RemainingTrialDays)
	s.True(s.testData.monthlyPlan.Price.Equal(resp.AmountCharged))
	s.False(resp.Subscription.IsTrial)
	s.Equal(s.testData.monthlyPlan.ID, resp.Subscription.PlanID)
	s.Equal(now, resp.Subscription.StartDate)
	// Leftover trial days stack on top of the paid month.
	s.Equal(now.AddDate(0, 1, 10), resp.Subscription.EndDate)
	s.Equal(trialEnd.AddDate(0, 1, 0), resp.Subscription.EndDate)

	s.Run("trial history survives conversion", func() {
		current, err := s.GetStores().SubscriptionRepo.Get(s.GetContext(), created.ID)
		s.NoError(err)
		s.NotNil(current.TrialStart)
		s.False(current.IsTrial)

		// A converted trial still counts against the one-trial rule, so the
		// subscriber cannot start another after cancelling.
		_, err = s.service.CancelSubscription(s.GetContext(), created.ID, dto.CancelSubscriptionRequest{})
		s.NoError(err)
		_, err = s.service.CreateTrialSubscription(s.GetContext(), dto.CreateSubscriptionRequest{
			UserID: "user-convert",
			PlanID: s.testData.trialPlan.ID,
		})
		s.Error(err)
		s.True(ierr.IsAlreadyExists(err))
	})
}

func (s *SubscriptionServiceSuite) TestConvertTrialEdgeCases() {
	s.Run("a started day counts as remaining", func() {
		created, err := s.service.CreateTrialSubscription(s.GetContext(), dto.CreateSubscriptionRequest{
			UserID: "user-partial-day",
			PlanID: s.testData.trialPlan.ID,
		})
		s.NoError(err)

		// 10 days and 10 hours left: rounds up to 11.
		s.AdvanceClock(19*24*time.Hour + 14*time.Hour)

		resp, err := s.service.ConvertTrialToPaid(s.GetContext(), created.ID, dto.ConvertTrialRequest{
			PlanID: s.testData.monthlyPlan.ID,
		})
		s.NoError(err)
		s.Equal(11, resp.RemainingTrialDays)
		s.Equal(s.GetNow().AddDate(0, 1, 11), resp.Subscription.EndDate)
	})

	s.Run("overrun trial converts with zero remaining days", func() {
		created, err := s.service.CreateTrialSubscription(s.GetContext(), dto.CreateSubscriptionRequest{
			UserID: "user-overrun",
			PlanID: s.testData.trialPlan.ID,
		})
		s.NoError(err)

		s.AdvanceClock(45 * 24 * time.Hour)

		resp, err := s.service.ConvertTrialToPaid(s.GetContext(), created.ID, dto.ConvertTrialRequest{
			PlanID: s.testData.monthlyPlan.ID,
		})
		s.NoError(err)
		s.Equal(0, resp.RemainingTrialDays)
		s.Equal(s.GetNow().AddDate(0, 1, 0), resp.Subscription.EndDate)

		history, err := s.GetStores().HistoryRepo.GetBySubscription(s.GetContext(), created.ID)
		s.NoError(err)
		s.Len(history.TrialConversions, 1)
		s.Equal(0, history.TrialConversions[0].RemainingTrialDays)
	})

	s.Run("rejects a paid subscription", func() {
		created, err := s.service.CreateSubscription(s.GetContext(), dto.CreateSubscriptionRequest{
			UserID: "user-paid",
			PlanID: s.testData.monthlyPlan.ID,
		})
		s.NoError(err)

		_, err = s.service.ConvertTrialToPaid(s.GetContext(), created.ID, dto.ConvertTrialRequest{
			PlanID: s.testData.premiumPlan.ID,
		})
		s.Error(err)
		s.True(ierr.IsInvalidOperation(err))
	})

	s.Run("rejects a trial plan as conversion target", func() {
		created, err := s.service.CreateTrialSubscription(s.GetContext(), dto.CreateSubscriptionRequest{
			UserID: "user-trial-target",
			PlanID: s.testData.trialPlan.ID,
		})
		s.NoError(err)

		_, err = s.service.ConvertTrialToPaid(s.GetContext(), created.ID, dto.ConvertTrialRequest{
			PlanID: s.testData.trialPlan.ID,
		})
		s.Error(err)
		s.True(ierr.IsValidation(err))
	})

	s.Run("conversion charges the target plan price", func() {
		created, err := s.service.CreateTrialSubscription(s.GetContext(), dto.CreateSubscriptionRequest{
			UserID: "user-charge",
			PlanID: s.testData.trialPlan.ID,
		})
		s.NoError(err)

		resp, err := s.service.ConvertTrialToPaid(s.GetContext(), created.ID, dto.ConvertTrialRequest{
			PlanID: s.testData.premiumPlan.ID,
		})
		s.NoError(err)
		s.True(s.testData.premiumPlan.Price.Equal(resp.AmountCharged))

		charges := s.paymentsOfKind(types.PaymentKindCharge, created.ID)
		s.Len(charges, 1)
		s.True(s.testData.premiumPlan.Price.Equal(charges[0].Amount))
		s.True(s.GetPublisher().HasEventOfType(types.NotificationTrialConverted))
	})
}

func (s *SubscriptionServiceSuite) TestGetSubscriptionHistory() {
	created, err := s.service.CreateSubscription(s.GetContext(), dto.CreateSubscriptionRequest{
		UserID: "user-history",
		PlanID: s.testData.monthlyPlan.ID,
	})
	s.NoError(err)

	_, err = s.service.RenewSubscription(s.GetContext(), created.ID)
	s.NoError(err)
	_, err = s.service.UpgradeSubscription(s.GetContext(), created.ID, dto.UpgradeSubscriptionRequest{
		PlanID: s.testData.premiumPlan.ID,
	})
	s.NoError(err)
	_, err = s.service.CancelSubscription(s.GetContext(), created.ID, dto.CancelSubscriptionRequest{Reason: "done"})
	s.NoError(err)

	resp, err := s.service.GetSubscriptionHistory(s.GetContext(), created.ID)
	s.NoError(err)
	s.Equal(created.ID, resp.SubscriptionID)
	s.Len(resp.History.Renewals, 1)
	s.Len(resp.History.Upgrades, 1)
	s.Len(resp.History.Cancellations, 1)
	s.Empty(resp.History.Downgrades)
	s.Empty(resp.History.TrialConversions)

	s.Run("unknown subscription", func() {
		_, err := s.service.GetSubscriptionHistory(s.GetContext(), "subs_missing")
		s.Error(err)
		s.True(ierr.IsNotFound(err))
	})
}

func (s *SubscriptionServiceSuite) TestConcurrentCreatesKeepOneActive() {
	const attempts = 16

	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.service.CreateSubscription(s.GetContext(), dto.CreateSubscriptionRequest{
				UserID: "user-race",
				PlanID: s.testData.monthlyPlan.ID,
			})
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		s.True(ierr.IsAlreadyExists(err))
	}
	s.Equal(1, succeeded)

	count, err := s.GetStores().SubscriptionRepo.Count(s.GetContext(), &types.SubscriptionFilter{
		QueryFilter:        types.NewNoLimitQueryFilter(),
		SubscriberRef:      &types.SubscriberRef{UserID: "user-race"},
		SubscriptionStatus: []types.SubscriptionStatus{types.SubscriptionStatusActive},
	})
	s.NoError(err)
	s.Equal(1, count)
}

func (s *SubscriptionServiceSuite) TestStaleVersionWriteIsRejected() {
	created, err := s.service.CreateSubscription(s.GetContext(), dto.CreateSubscriptionRequest{
		UserID: "user-stale",
		PlanID: s.testData.monthlyPlan.ID,
	})
	s.NoError(err)

	// Two readers load the same version; the slower writer must lose.
	first, err := s.GetStores().SubscriptionRepo.Get(s.GetContext(), created.ID)
	s.NoError(err)
	second, err := s.GetStores().SubscriptionRepo.Get(s.GetContext(), created.ID)
	s.NoError(err)

	first.SubscriptionStatus = types.SubscriptionStatusExpired
	s.NoError(s.GetStores().SubscriptionRepo.UpdateWithVersion(s.GetContext(), first, first.Version))

	staleVersion := second.Version
	second.SubscriptionStatus = types.SubscriptionStatusCancelled
	err = s.GetStores().SubscriptionRepo.UpdateWithVersion(s.GetContext(), second, staleVersion)
	s.Error(err)
	s.True(ierr.IsVersionConflict(err))

	// The winner's transition stands and the loser's is not applied.
	current, err := s.GetStores().SubscriptionRepo.Get(s.GetContext(), created.ID)
	s.NoError(err)
	s.Equal(types.SubscriptionStatusExpired, current.SubscriptionStatus)

	s.Run("a fresh read lets the cancel path surface a state error instead", func() {
		_, err := s.service.CancelSubscription(s.GetContext(), created.ID, dto.CancelSubscriptionRequest{})
		s.Error(err)
		s.True(ierr.IsInvalidOperation(err))
	})
}

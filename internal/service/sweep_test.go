package service

import (
	"errors"
	"testing"
	"time"

	"github.com/hirewire/billing/internal/api/dto"
	"github.com/hirewire/billing/internal/config"
	"github.com/hirewire/billing/internal/domain/payment"
	"github.com/hirewire/billing/internal/domain/plan"
	"github.com/hirewire/billing/internal/domain/reminder"
	"github.com/hirewire/billing/internal/domain/subscription"
	ierr "github.com/hirewire/billing/internal/errors"
	"github.com/hirewire/billing/internal/idempotency"
	"github.com/hirewire/billing/internal/lock"
	"github.com/hirewire/billing/internal/testutil"
	"github.com/hirewire/billing/internal/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"
)

type SweepServiceSuite struct {
	testutil.BaseServiceTestSuite
	service    SweepService
	subService SubscriptionService
	locks      *lock.Manager
	testData   struct {
		monthlyPlan *plan.Plan // 100 / 1 month
		premiumPlan *plan.Plan // 200 / 1 month
	}
}

func TestSweepService(t *testing.T) {
	suite.Run(t, new(SweepServiceSuite))
}

func (s *SweepServiceSuite) SetupTest() {
	s.BaseServiceTestSuite.SetupTest()
	s.locks = lock.NewManager(s.GetClock())
	params := s.serviceParams(s.GetConfig())
	s.service = NewSweepService(params)
	s.subService = NewSubscriptionService(params)
	s.setupTestData()
}

func (s *SweepServiceSuite) serviceParams(cfg *config.Configuration) ServiceParams {
	return ServiceParams{
		Logger:         s.GetLogger(),
		Config:         cfg,
		Clock:          s.GetClock(),
		Publisher:      s.GetPublisher(),
		IdempotencyGen: idempotency.NewGenerator(),
		Locks:          s.locks,
		PlanRepo:       s.GetStores().PlanRepo,
		SubRepo:        s.GetStores().SubscriptionRepo,
		HistoryRepo:    s.GetStores().HistoryRepo,
		PaymentRepo:    s.GetStores().PaymentRepo,
		ReminderRepo:   s.GetStores().ReminderRepo,
		UsageRepo:      s.GetStores().UsageRepo,
		EventRepo:      s.GetStores().EventRepo,
	}
}

func (s *SweepServiceSuite) setupTestData() {
	ctx := s.GetContext()

	s.testData.monthlyPlan = &plan.Plan{
		ID:             types.GenerateUUIDWithPrefix(types.UUID_PREFIX_PLAN),
		Name:           "Professional",
		Price:          decimal.NewFromInt(100),
		DurationMonths: 1,
		BaseModel:      types.GetDefaultBaseModelAt(ctx, s.GetNow()),
	}
	s.NoError(s.GetStores().PlanRepo.Create(ctx, s.testData.monthlyPlan))

	s.testData.premiumPlan = &plan.Plan{
		ID:             types.GenerateUUIDWithPrefix(types.UUID_PREFIX_PLAN),
		Name:           "Premium",
		Price:          decimal.NewFromInt(200),
		DurationMonths: 1,
		BaseModel:      types.GetDefaultBaseModelAt(ctx, s.GetNow()),
	}
	s.NoError(s.GetStores().PlanRepo.Create(ctx, s.testData.premiumPlan))
}

func (s *SweepServiceSuite) seedSubscription(ref types.SubscriberRef, p *plan.Plan, start, end time.Time) *subscription.Subscription {
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

func (s *SweepServiceSuite) subscriptionStatus(id string) types.SubscriptionStatus {
	sub, err := s.GetStores().SubscriptionRepo.Get(s.GetContext(), id)
	s.NoError(err)
	return sub.SubscriptionStatus
}

func (s *SweepServiceSuite) creditsFor(subscriptionID string) []*payment.Payment {
	payments, err := s.GetStores().PaymentRepo.List(s.GetContext(), &types.PaymentFilter{
		QueryFilter:    types.NewNoLimitQueryFilter(),
		SubscriptionID: &subscriptionID,
		Kinds:          []types.PaymentKind{types.PaymentKindCredit},
	})
	s.NoError(err)
	return payments
}

func (s *SweepServiceSuite) TestExpirationSweep() {
	now := s.GetNow()
	overdueA := s.seedSubscription(types.NewUserRef("user-exp-a"), s.testData.monthlyPlan,
		now.AddDate(0, -1, -2), now.AddDate(0, 0, -2))
	overdueB := s.seedSubscription(types.NewUserRef("user-exp-b"), s.testData.monthlyPlan,
		now.AddDate(0, -1, -1), now.AddDate(0, 0, -1))
	current := s.seedSubscription(types.NewUserRef("user-exp-c"), s.testData.monthlyPlan,
		now.AddDate(0, 0, -20), now.AddDate(0, 0, 10))

	resp, err := s.service.RunExpirationSweep(s.GetContext())
	s.NoError(err)
	s.Equal(types.SweepTypeExpiration, resp.SweepType)
	s.Equal(now, resp.StartedAt)
	s.Equal(2, resp.Processed)
	s.Equal(2, resp.Succeeded)
	s.Equal(0, resp.Failed)
	s.Len(resp.Items, 2)

	s.Equal(types.SubscriptionStatusExpired, s.subscriptionStatus(overdueA.ID))
	s.Equal(types.SubscriptionStatusExpired, s.subscriptionStatus(overdueB.ID))
	s.Equal(types.SubscriptionStatusActive, s.subscriptionStatus(current.ID))
	s.Len(s.GetPublisher().EventsOfType(types.NotificationSubscriptionExpired), 2)

	s.Run("a second run finds nothing left", func() {
		resp, err := s.service.RunExpirationSweep(s.GetContext())
		s.NoError(err)
		s.Equal(0, resp.Processed)
		s.Len(s.GetPublisher().EventsOfType(types.NotificationSubscriptionExpired), 2)
	})

	s.Run("expired is terminal for interactive operations", func() {
		_, err := s.subService.RenewSubscription(s.GetContext(), overdueA.ID)
		s.Error(err)
		s.True(ierr.IsInvalidOperation(err))
	})
}

func (s *SweepServiceSuite) TestExpirationSweepWithGrace() {
	cfg := *s.GetConfig()
	cfg.Billing.GracePeriodDays = 5
	service := NewSweepService(s.serviceParams(&cfg))

	now := s.GetNow()
	overdue := s.seedSubscription(types.NewUserRef("user-grace"), s.testData.monthlyPlan,
		now.AddDate(0, -1, -1), now.AddDate(0, 0, -1))
	recovering := s.seedSubscription(types.NewUserRef("user-grace-pays"), s.testData.monthlyPlan,
		now.AddDate(0, -1, -1), now.AddDate(0, 0, -1))

	resp, err := service.RunExpirationSweep(s.GetContext())
	s.NoError(err)
	s.Equal(2, resp.Processed)
	s.Equal(2, resp.Succeeded)
	s.Equal(types.SubscriptionStatusPastDue, s.subscriptionStatus(overdue.ID))
	s.Equal(types.SubscriptionStatusPastDue, s.subscriptionStatus(recovering.ID))
	s.Len(s.GetPublisher().EventsOfType(types.NotificationSubscriptionPastDue), 2)
	s.False(s.GetPublisher().HasEventOfType(types.NotificationSubscriptionExpired))

	s.Run("repeat run within the grace window is a no-op", func() {
		resp, err := service.RunExpirationSweep(s.GetContext())
		s.NoError(err)
		s.Equal(0, resp.Processed)
		s.Equal(types.SubscriptionStatusPastDue, s.subscriptionStatus(overdue.ID))
	})

	s.Run("renewing during grace settles and reactivates", func() {
		_, err := s.subService.RenewSubscription(s.GetContext(), recovering.ID)
		s.NoError(err)

		renewed := s.mustGetSubscription(recovering.ID)
		s.Equal(types.SubscriptionStatusActive, renewed.SubscriptionStatus)
		s.Equal(now.AddDate(0, 0, -1), renewed.StartDate)
		s.Equal(now.AddDate(0, 1, -1), renewed.EndDate)
	})

	s.Run("only the unpaid row expires once grace has lapsed", func() {
		s.AdvanceClock(6 * 24 * time.Hour)

		resp, err := service.RunExpirationSweep(s.GetContext())
		s.NoError(err)
		s.Equal(1, resp.Processed)
		s.Equal(1, resp.Succeeded)
		s.Equal(types.SubscriptionStatusExpired, s.subscriptionStatus(overdue.ID))
		s.Equal(types.SubscriptionStatusActive, s.subscriptionStatus(recovering.ID))
		s.True(s.GetPublisher().HasEventOfType(types.NotificationSubscriptionExpired))
	})
}

func (s *SweepServiceSuite) TestSweepRunLock() {
	release, err := s.locks.Acquire(types.SweepTypeExpiration.String(), time.Minute)
	s.NoError(err)

	_, err = s.service.RunExpirationSweep(s.GetContext())
	s.Error(err)
	s.True(ierr.IsAlreadyExists(err))

	s.Run("other sweeps hold independent locks", func() {
		_, err := s.service.RunRenewalReminderSweep(s.GetContext(), dto.RunReminderSweepRequest{})
		s.NoError(err)
	})

	s.Run("release frees the next run", func() {
		release()
		_, err := s.service.RunExpirationSweep(s.GetContext())
		s.NoError(err)
	})
}

func (s *SweepServiceSuite) TestScheduledDowngradeSweep() {
	now := s.GetNow()
	sub := s.seedSubscription(types.NewUserRef("user-dg"), s.testData.premiumPlan,
		now.AddDate(0, 0, -10), now.AddDate(0, 0, 20))
	effective := now.AddDate(0, 0, 15)

	scheduled, err := s.subService.ScheduleDowngrade(s.GetContext(), sub.ID, dto.ScheduleDowngradeRequest{
		PlanID:        s.testData.monthlyPlan.ID,
		EffectiveDate: effective,
	})
	s.NoError(err)

	s.Run("nothing happens before the effective date", func() {
		resp, err := s.service.RunScheduledDowngradeSweep(s.GetContext())
		s.NoError(err)
		s.Equal(0, resp.Processed)
		s.Equal(s.testData.premiumPlan.ID, s.mustGetSubscription(sub.ID).PlanID)
	})

	s.Run("the due downgrade is applied with its credit", func() {
		s.AdvanceClockTo(effective)

		resp, err := s.service.RunScheduledDowngradeSweep(s.GetContext())
		s.NoError(err)
		s.Equal(types.SweepTypeScheduledDowngrade, resp.SweepType)
		s.Equal(1, resp.Processed)
		s.Equal(1, resp.Succeeded)
		s.NotNil(resp.Items[0].Amount)
		s.Equal("16.67", resp.Items[0].Amount.StringFixed(2))

		current := s.mustGetSubscription(sub.ID)
		s.Equal(s.testData.monthlyPlan.ID, current.PlanID)
		s.Nil(current.ScheduledDowngradeID)
		s.Nil(current.ScheduledDowngradeDate)

		dg, err := s.GetStores().HistoryRepo.GetDowngrade(s.GetContext(), scheduled.DowngradeID)
		s.NoError(err)
		s.True(dg.Applied)
		s.NotNil(dg.AppliedAt)

		credits := s.creditsFor(sub.ID)
		s.Len(credits, 1)
		s.Equal("16.67", credits[0].Amount.StringFixed(2))
		s.True(s.GetPublisher().HasEventOfType(types.NotificationDowngradeApplied))
	})

	s.Run("a rerun has no candidates and no second credit", func() {
		resp, err := s.service.RunScheduledDowngradeSweep(s.GetContext())
		s.NoError(err)
		s.Equal(0, resp.Processed)
		s.Len(s.creditsFor(sub.ID), 1)
	})
}

func (s *SweepServiceSuite) TestDowngradeSweepResumesAfterPartialRun() {
	now := s.GetNow()
	sub := s.seedSubscription(types.NewUserRef("user-dg-resume"), s.testData.premiumPlan,
		now.AddDate(0, 0, -10), now.AddDate(0, 0, 20))
	effective := now.AddDate(0, 0, 5)

	scheduled, err := s.subService.ScheduleDowngrade(s.GetContext(), sub.ID, dto.ScheduleDowngradeRequest{
		PlanID:        s.testData.monthlyPlan.ID,
		EffectiveDate: effective,
	})
	s.NoError(err)

	// A previous run crashed right after writing the credit. The key derives
	// from the downgrade id alone, so the resumed run lands on this row.
	key := idempotency.NewGenerator().GenerateKey(idempotency.ScopeCreditDowngrade, map[string]interface{}{
		"downgrade_id": scheduled.DowngradeID,
	})
	existing := &payment.Payment{
		ID:              types.GenerateUUIDWithPrefix(types.UUID_PREFIX_PAYMENT),
		ReferenceNumber: types.GenerateShortIDWithPrefix("PAY-"),
		SubscriptionID:  sub.ID,
		UserID:          "user-dg-resume",
		Kind:            types.PaymentKindCredit,
		Amount:          scheduled.CreditAmount,
		Description:     "Credit for unused time on downgrade",
		IdempotencyKey:  key,
		BaseModel:       types.GetDefaultBaseModelAt(s.GetContext(), now),
	}
	s.NoError(s.GetStores().PaymentRepo.Create(s.GetContext(), existing))

	s.AdvanceClockTo(effective)
	resp, err := s.service.RunScheduledDowngradeSweep(s.GetContext())
	s.NoError(err)
	s.Equal(1, resp.Processed)
	s.Equal(1, resp.Succeeded)

	credits := s.creditsFor(sub.ID)
	s.Len(credits, 1)
	s.Equal(existing.ID, credits[0].ID)

	dg, err := s.GetStores().HistoryRepo.GetDowngrade(s.GetContext(), scheduled.DowngradeID)
	s.NoError(err)
	s.True(dg.Applied)
	s.Equal(s.testData.monthlyPlan.ID, s.mustGetSubscription(sub.ID).PlanID)
}

func (s *SweepServiceSuite) TestRenewalReminderSweep() {
	now := s.GetNow()
	subWeek := s.seedSubscription(types.NewUserRef("user-rem-7"), s.testData.monthlyPlan,
		now.AddDate(0, 0, -23), now.AddDate(0, 0, 7))
	subThree := s.seedSubscription(types.NewUserRef("user-rem-3"), s.testData.monthlyPlan,
		now.AddDate(0, 0, -27), now.AddDate(0, 0, 3))
	subOne := s.seedSubscription(types.NewUserRef("user-rem-1"), s.testData.monthlyPlan,
		now.AddDate(0, 0, -29), now.AddDate(0, 0, 1))
	s.seedSubscription(types.NewUserRef("user-rem-far"), s.testData.monthlyPlan,
		now.AddDate(0, 0, -10), now.AddDate(0, 0, 20))

	resp, err := s.service.RunRenewalReminderSweep(s.GetContext(), dto.RunReminderSweepRequest{})
	s.NoError(err)
	s.Equal(types.SweepTypeRenewalReminder, resp.SweepType)
	s.Equal(3, resp.Processed)
	s.Equal(3, resp.Succeeded)
	s.Len(s.GetPublisher().EventsOfType(types.NotificationRenewalReminder), 3)

	s.Run("each reminder records its offset and day", func() {
		for _, tc := range []struct {
			subscriptionID string
			daysBefore     int
		}{
			{subWeek.ID, 7},
			{subThree.ID, 3},
			{subOne.ID, 1},
		} {
			reminders, err := s.GetStores().ReminderRepo.ListBySubscription(s.GetContext(), tc.subscriptionID)
			s.NoError(err)
			s.Len(reminders, 1)
			s.Equal(tc.daysBefore, reminders[0].DaysBefore)
			s.Equal(reminder.DateOf(now), reminders[0].SentOn)
		}
	})

	s.Run("a repeat run on the same day sends nothing", func() {
		resp, err := s.service.RunRenewalReminderSweep(s.GetContext(), dto.RunReminderSweepRequest{})
		s.NoError(err)
		s.Equal(3, resp.Processed)
		s.Equal(0, resp.Succeeded)
		s.Equal(3, resp.Skipped)
		s.Len(s.GetPublisher().EventsOfType(types.NotificationRenewalReminder), 3)
	})

	s.Run("explicit offsets override the configured ones", func() {
		s.seedSubscription(types.NewUserRef("user-rem-10"), s.testData.monthlyPlan,
			now.AddDate(0, 0, -20), now.AddDate(0, 0, 10))

		resp, err := s.service.RunRenewalReminderSweep(s.GetContext(), dto.RunReminderSweepRequest{
			Offsets: []int{10},
		})
		s.NoError(err)
		s.Equal(1, resp.Processed)
		s.Equal(1, resp.Succeeded)
		s.Equal(10, resp.Items[0].DaysBefore)
	})

	s.Run("offsets below one day are rejected", func() {
		_, err := s.service.RunRenewalReminderSweep(s.GetContext(), dto.RunReminderSweepRequest{
			Offsets: []int{3, 0},
		})
		s.Error(err)
		s.True(ierr.IsValidation(err))
	})
}

func (s *SweepServiceSuite) TestReminderSweepSkipsInactive() {
	now := s.GetNow()
	sub := s.seedSubscription(types.NewUserRef("user-rem-cxl"), s.testData.monthlyPlan,
		now.AddDate(0, 0, -23), now.AddDate(0, 0, 7))
	_, err := s.subService.CancelSubscription(s.GetContext(), sub.ID, dto.CancelSubscriptionRequest{})
	s.NoError(err)

	resp, err := s.service.RunRenewalReminderSweep(s.GetContext(), dto.RunReminderSweepRequest{})
	s.NoError(err)
	s.Equal(0, resp.Processed)
	s.Empty(s.GetPublisher().EventsOfType(types.NotificationRenewalReminder))
}

func (s *SweepServiceSuite) TestSweepItemOutcomes() {
	conflict := ierr.NewError("subscription was modified concurrently").
		Mark(ierr.ErrVersionConflict)
	item := sweepItemError("subs_1", conflict)
	s.Equal(dto.SweepItemSkipped, item.Status)
	s.Equal("concurrently modified", item.Error)

	failure := errors.New("connection reset")
	item = sweepItemError("subs_2", failure)
	s.Equal(dto.SweepItemFailed, item.Status)
	s.Equal("connection reset", item.Error)

	resp := &dto.SweepResponse{SweepType: types.SweepTypeExpiration}
	resp.Record(&dto.SweepItemResult{Status: dto.SweepItemSucceeded})
	resp.Record(&dto.SweepItemResult{Status: dto.SweepItemSkipped})
	resp.Record(&dto.SweepItemResult{Status: dto.SweepItemFailed})
	s.Equal(3, resp.Processed)
	s.Equal(1, resp.Succeeded)
	s.Equal(1, resp.Skipped)
	s.Equal(1, resp.Failed)
}

func (s *SweepServiceSuite) mustGetSubscription(id string) *subscription.Subscription {
	sub, err := s.GetStores().SubscriptionRepo.Get(s.GetContext(), id)
	s.NoError(err)
	return sub
}

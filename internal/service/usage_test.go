package service

import (
	"testing"
	"time"

	"github.com/hirewire/billing/internal/api/dto"
	"github.com/hirewire/billing/internal/config"
	"github.com/hirewire/billing/internal/domain/events"
	"github.com/hirewire/billing/internal/domain/plan"
	ierr "github.com/hirewire/billing/internal/errors"
	"github.com/hirewire/billing/internal/idempotency"
	"github.com/hirewire/billing/internal/lock"
	"github.com/hirewire/billing/internal/testutil"
	"github.com/hirewire/billing/internal/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"
)

type UsageServiceSuite struct {
	testutil.BaseServiceTestSuite
	service    UsageService
	subService SubscriptionService
	testData   struct {
		meteredPlan *plan.Plan
		sub         string // active subscription on meteredPlan
	}
}

func TestUsageService(t *testing.T) {
	suite.Run(t, new(UsageServiceSuite))
}

func (s *UsageServiceSuite) SetupTest() {
	s.BaseServiceTestSuite.SetupTest()
	params := s.serviceParams(s.GetConfig())
	s.service = NewUsageService(params)
	s.subService = NewSubscriptionService(params)
	s.setupTestData()
}

func (s *UsageServiceSuite) serviceParams(cfg *config.Configuration) ServiceParams {
	return ServiceParams{
		Logger:         s.GetLogger(),
		Config:         cfg,
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

func (s *UsageServiceSuite) setupTestData() {
	ctx := s.GetContext()

	s.testData.meteredPlan = &plan.Plan{
		ID:             types.GenerateUUIDWithPrefix(types.UUID_PREFIX_PLAN),
		Name:           "Professional",
		Price:          decimal.NewFromInt(100),
		DurationMonths: 1,
		Limits: types.FeatureLimits{
			types.FeatureJobPostings: 10,
			types.FeatureResumeViews: 100,
		},
		BaseModel: types.GetDefaultBaseModelAt(ctx, s.GetNow()),
	}
	s.NoError(s.GetStores().PlanRepo.Create(ctx, s.testData.meteredPlan))

	created, err := s.subService.CreateSubscription(ctx, dto.CreateSubscriptionRequest{
		PlanID: s.testData.meteredPlan.ID,
		UserID: "user-usage",
	})
	s.NoError(err)
	s.testData.sub = created.Subscription.ID
}

func (s *UsageServiceSuite) record(feature types.FeatureCode, count int64) *dto.RecordUsageResponse {
	resp, err := s.service.RecordUsage(s.GetContext(), s.testData.sub, dto.RecordUsageRequest{
		Feature: feature,
		Count:   count,
	})
	s.NoError(err)
	return resp
}

// waitForMirror blocks until the async clickhouse mirror has caught up to n
// events.
func (s *UsageServiceSuite) waitForMirror(n int) {
	s.Eventually(func() bool {
		return s.GetStores().EventRepo.(*testutil.InMemoryEventStore).EventCount() == n
	}, time.Second, 5*time.Millisecond)
}

func (s *UsageServiceSuite) TestRecordUsage() {
	resp := s.record(types.FeatureJobPostings, 0)
	s.Equal(s.testData.sub, resp.SubscriptionID)
	s.Equal(types.FeatureJobPostings, resp.Feature)
	s.Equal(int64(1), resp.Used)
	s.Equal(int64(10), resp.Limit)
	s.Equal(int64(9), resp.Remaining)
	s.Equal(types.UsageStatusOK, resp.Status)
	s.False(resp.Unlimited)
	s.InDelta(10.0, resp.Percentage, 0.0001)

	resp = s.record(types.FeatureJobPostings, 4)
	s.Equal(int64(5), resp.Used)
	s.Equal(int64(5), resp.Remaining)
	s.InDelta(50.0, resp.Percentage, 0.0001)

	s.Run("each increment lands in the audit trail", func() {
		s.waitForMirror(2)

		list, err := s.service.ListUsageEvents(s.GetContext(), s.testData.sub, nil)
		s.NoError(err)
		s.Len(list.Items, 2)

		var total int64
		for _, event := range list.Items {
			s.Equal(types.FeatureJobPostings, event.Feature)
			s.Equal("user-usage", event.UserID)
			total += event.Quantity
		}
		s.Equal(int64(5), total)
	})
}

func (s *UsageServiceSuite) TestRecordUsageValidation() {
	s.Run("unknown feature", func() {
		_, err := s.service.RecordUsage(s.GetContext(), s.testData.sub, dto.RecordUsageRequest{
			Feature: "video_interviews",
		})
		s.Error(err)
		s.True(ierr.IsValidation(err))
	})

	s.Run("negative count", func() {
		_, err := s.service.RecordUsage(s.GetContext(), s.testData.sub, dto.RecordUsageRequest{
			Feature: types.FeatureJobPostings,
			Count:   -2,
		})
		s.Error(err)
		s.True(ierr.IsValidation(err))
	})

	s.Run("unknown subscription", func() {
		_, err := s.service.RecordUsage(s.GetContext(), "subs_missing", dto.RecordUsageRequest{
			Feature: types.FeatureJobPostings,
		})
		s.Error(err)
		s.True(ierr.IsNotFound(err))
	})

	s.Run("cancelled subscription", func() {
		_, err := s.subService.CancelSubscription(s.GetContext(), s.testData.sub, dto.CancelSubscriptionRequest{})
		s.NoError(err)

		_, err = s.service.RecordUsage(s.GetContext(), s.testData.sub, dto.RecordUsageRequest{
			Feature: types.FeatureJobPostings,
		})
		s.Error(err)
		s.True(ierr.IsInvalidOperation(err))
	})
}

func (s *UsageServiceSuite) TestRecordUsageLimitEnforcement() {
	resp := s.record(types.FeatureJobPostings, 9)
	s.Equal(int64(9), resp.Used)
	s.Equal(types.UsageStatusNearLimit, resp.Status)
	s.True(s.GetPublisher().HasEventOfType(types.NotificationUsageNearLimit))

	s.Run("an increment crossing the cap is rejected atomically", func() {
		_, err := s.service.RecordUsage(s.GetContext(), s.testData.sub, dto.RecordUsageRequest{
			Feature: types.FeatureJobPostings,
			Count:   2,
		})
		s.Error(err)
		s.True(ierr.IsValidation(err))
		s.True(s.GetPublisher().HasEventOfType(types.NotificationUsageExceeded))

		// The counter is untouched by the failed attempt
		check, err := s.service.CheckLimit(s.GetContext(), s.testData.sub, types.FeatureJobPostings, 1)
		s.NoError(err)
		s.True(check.Allowed)
		s.Equal(int64(1), check.Remaining)
	})

	s.Run("filling the cap exactly is allowed", func() {
		resp := s.record(types.FeatureJobPostings, 1)
		s.Equal(int64(10), resp.Used)
		s.Equal(int64(0), resp.Remaining)
		s.Equal(types.UsageStatusExceeded, resp.Status)
	})

	s.Run("nothing fits once the cap is reached", func() {
		_, err := s.service.RecordUsage(s.GetContext(), s.testData.sub, dto.RecordUsageRequest{
			Feature: types.FeatureJobPostings,
		})
		s.Error(err)
		s.True(ierr.IsValidation(err))
	})

	s.Run("uncapped features are never limited", func() {
		resp := s.record(types.FeatureSupportTickets, 500)
		s.Equal(int64(500), resp.Used)
		s.True(resp.Unlimited)
		s.Equal(types.UsageStatusOK, resp.Status)
	})
}

func (s *UsageServiceSuite) TestNearLimitThresholdFromConfig() {
	cfg := *s.GetConfig()
	cfg.Billing.NearLimitPercent = 50
	service := NewUsageService(s.serviceParams(&cfg))

	resp, err := service.RecordUsage(s.GetContext(), s.testData.sub, dto.RecordUsageRequest{
		Feature: types.FeatureJobPostings,
		Count:   5,
	})
	s.NoError(err)
	s.Equal(types.UsageStatusNearLimit, resp.Status)
	s.True(s.GetPublisher().HasEventOfType(types.NotificationUsageNearLimit))
}

func (s *UsageServiceSuite) TestCheckLimit() {
	s.Run("a fresh window has the full cap", func() {
		resp, err := s.service.CheckLimit(s.GetContext(), s.testData.sub, types.FeatureJobPostings, 10)
		s.NoError(err)
		s.True(resp.Allowed)
		s.Equal(int64(10), resp.Remaining)
		s.Equal(int64(0), resp.ExceededBy)
	})

	s.Run("requesting past the cap reports the overshoot", func() {
		resp, err := s.service.CheckLimit(s.GetContext(), s.testData.sub, types.FeatureJobPostings, 11)
		s.NoError(err)
		s.False(resp.Allowed)
		s.Equal(int64(1), resp.ExceededBy)
	})

	s.Run("zero requested normalizes to one", func() {
		resp, err := s.service.CheckLimit(s.GetContext(), s.testData.sub, types.FeatureJobPostings, 0)
		s.NoError(err)
		s.Equal(int64(1), resp.Requested)
		s.True(resp.Allowed)
	})

	s.Run("a consumed cap rejects even a single unit", func() {
		s.record(types.FeatureJobPostings, 10)

		resp, err := s.service.CheckLimit(s.GetContext(), s.testData.sub, types.FeatureJobPostings, 1)
		s.NoError(err)
		s.False(resp.Allowed)
		s.Equal(int64(0), resp.Remaining)
		s.Equal(int64(1), resp.ExceededBy)
	})

	s.Run("uncapped features always pass", func() {
		resp, err := s.service.CheckLimit(s.GetContext(), s.testData.sub, types.FeatureSupportTickets, 100000)
		s.NoError(err)
		s.True(resp.Allowed)
		s.True(resp.Unlimited)
	})

	s.Run("unknown feature", func() {
		_, err := s.service.CheckLimit(s.GetContext(), s.testData.sub, "video_interviews", 1)
		s.Error(err)
		s.True(ierr.IsValidation(err))
	})
}

func (s *UsageServiceSuite) TestGetUsage() {
	resp, err := s.service.GetUsage(s.GetContext(), s.testData.sub)
	s.NoError(err)
	s.Equal(s.testData.sub, resp.SubscriptionID)
	s.Equal(s.GetNow(), resp.WindowStart)
	s.Equal(s.GetNow().AddDate(0, 1, 0), resp.WindowEnd)

	s.Run("limited features report even before any consumption", func() {
		s.Len(resp.Features, 2)
		fu := s.featureReport(resp, types.FeatureJobPostings)
		s.Equal(int64(0), fu.Used)
		s.Equal(int64(10), fu.Remaining)
		s.Equal(types.UsageStatusOK, fu.Status)
		s.NotNil(s.featureReport(resp, types.FeatureResumeViews))
	})

	s.Run("uncapped features appear once consumed", func() {
		s.record(types.FeatureSupportTickets, 2)

		resp, err := s.service.GetUsage(s.GetContext(), s.testData.sub)
		s.NoError(err)
		s.Len(resp.Features, 3)
		fu := s.featureReport(resp, types.FeatureSupportTickets)
		s.True(fu.Unlimited)
		s.Equal(int64(2), fu.Used)
	})

	s.Run("readable after cancellation", func() {
		s.record(types.FeatureJobPostings, 3)
		_, err := s.subService.CancelSubscription(s.GetContext(), s.testData.sub, dto.CancelSubscriptionRequest{})
		s.NoError(err)

		resp, err := s.service.GetUsage(s.GetContext(), s.testData.sub)
		s.NoError(err)
		s.Equal(int64(3), s.featureReport(resp, types.FeatureJobPostings).Used)
	})
}

func (s *UsageServiceSuite) TestUsageWindowResetsOnRenewal() {
	windowStart := s.GetNow()
	s.record(types.FeatureJobPostings, 10)

	check, err := s.service.CheckLimit(s.GetContext(), s.testData.sub, types.FeatureJobPostings, 1)
	s.NoError(err)
	s.False(check.Allowed)

	_, err = s.subService.RenewSubscription(s.GetContext(), s.testData.sub)
	s.NoError(err)

	s.Run("the renewed window starts empty", func() {
		check, err := s.service.CheckLimit(s.GetContext(), s.testData.sub, types.FeatureJobPostings, 1)
		s.NoError(err)
		s.True(check.Allowed)
		s.Equal(int64(10), check.Remaining)

		resp := s.record(types.FeatureJobPostings, 1)
		s.Equal(int64(1), resp.Used)
	})

	s.Run("the previous window's counter is preserved", func() {
		counter, err := s.GetStores().UsageRepo.Get(s.GetContext(), s.testData.sub, types.FeatureJobPostings, windowStart)
		s.NoError(err)
		s.Equal(int64(10), counter.Used)
	})
}

func (s *UsageServiceSuite) TestListUsageEvents() {
	s.record(types.FeatureJobPostings, 1)
	s.waitForMirror(1)
	s.AdvanceClock(time.Hour)
	s.record(types.FeatureResumeViews, 5)
	s.waitForMirror(2)
	s.AdvanceClock(time.Hour)
	second := s.GetNow()
	s.record(types.FeatureJobPostings, 2)
	s.waitForMirror(3)

	s.Run("newest first without parameters", func() {
		resp, err := s.service.ListUsageEvents(s.GetContext(), s.testData.sub, nil)
		s.NoError(err)
		s.Len(resp.Items, 3)
		s.Equal(int64(2), resp.Items[0].Quantity)
		s.Equal(int64(1), resp.Items[2].Quantity)
	})

	s.Run("feature filter", func() {
		resp, err := s.service.ListUsageEvents(s.GetContext(), s.testData.sub, &events.GetUsageEventsParams{
			Feature: types.FeatureResumeViews,
		})
		s.NoError(err)
		s.Len(resp.Items, 1)
		s.Equal(int64(5), resp.Items[0].Quantity)
	})

	s.Run("time window filter", func() {
		resp, err := s.service.ListUsageEvents(s.GetContext(), s.testData.sub, &events.GetUsageEventsParams{
			StartTime: second,
		})
		s.NoError(err)
		s.Len(resp.Items, 1)
	})

	s.Run("limit", func() {
		resp, err := s.service.ListUsageEvents(s.GetContext(), s.testData.sub, &events.GetUsageEventsParams{
			Limit: 2,
		})
		s.NoError(err)
		s.Len(resp.Items, 2)
	})

	s.Run("unknown subscription", func() {
		_, err := s.service.ListUsageEvents(s.GetContext(), "subs_missing", nil)
		s.Error(err)
		s.True(ierr.IsNotFound(err))
	})
}

// featureReport finds one feature's entry in a usage report.
func (s *UsageServiceSuite) featureReport(resp *dto.GetUsageResponse, feature types.FeatureCode) *dto.FeatureUsage {
	for _, fu := range resp.Features {
		if fu.Feature == feature {
			return fu
		}
	}
	s.FailNowf("feature missing from usage report", "feature %s", feature)
	return nil
}

package service

import (
	"testing"

	"github.com/hirewire/billing/internal/api/dto"
	ierr "github.com/hirewire/billing/internal/errors"
	"github.com/hirewire/billing/internal/idempotency"
	"github.com/hirewire/billing/internal/lock"
	"github.com/hirewire/billing/internal/testutil"
	"github.com/hirewire/billing/internal/types"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"
)

type PlanServiceSuite struct {
	testutil.BaseServiceTestSuite
	service    PlanService
	subService SubscriptionService
}

func TestPlanService(t *testing.T) {
	suite.Run(t, new(PlanServiceSuite))
}

func (s *PlanServiceSuite) SetupTest() {
	s.BaseServiceTestSuite.SetupTest()
	params := ServiceParams{
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
	s.service = NewPlanService(params)
	s.subService = NewSubscriptionService(params)
}

func (s *PlanServiceSuite) createPlan(req dto.CreatePlanRequest) *dto.PlanResponse {
	resp, err := s.service.CreatePlan(s.GetContext(), req)
	s.NoError(err)
	return resp
}

func (s *PlanServiceSuite) TestCreatePlan() {
	resp := s.createPlan(dto.CreatePlanRequest{
		Name:           "Professional",
		LookupKey:      "professional_monthly",
		Description:    "Monthly plan for growing teams",
		Price:          decimal.NewFromInt(100),
		DurationMonths: 1,
		Limits: types.FeatureLimits{
			types.FeatureJobPostings:  10,
			types.FeatureResumeViews:  200,
			types.FeatureScoringCalls: 50,
		},
	})

	s.NotEmpty(resp.ID)
	s.Equal("Professional", resp.Name)
	s.Equal("professional_monthly", resp.LookupKey)
	s.True(decimal.NewFromInt(100).Equal(resp.Price))
	s.Equal(1, resp.DurationMonths)
	s.False(resp.IsTrial)

	limit, limited := resp.LimitFor(types.FeatureJobPostings)
	s.True(limited)
	s.Equal(int64(10), limit)
	_, limited = resp.LimitFor(types.FeatureApplications)
	s.False(limited)

	stored, err := s.GetStores().PlanRepo.Get(s.GetContext(), resp.ID)
	s.NoError(err)
	s.Equal(resp.ID, stored.ID)
}

func (s *PlanServiceSuite) TestCreatePlanValidation() {
	base := dto.CreatePlanRequest{
		Name:           "Starter",
		Price:          decimal.NewFromInt(50),
		DurationMonths: 1,
	}

	testCases := []struct {
		name   string
		mutate func(req *dto.CreatePlanRequest)
	}{
		{
			name:   "missing name",
			mutate: func(req *dto.CreatePlanRequest) { req.Name = "" },
		},
		{
			name:   "negative price",
			mutate: func(req *dto.CreatePlanRequest) { req.Price = decimal.NewFromInt(-10) },
		},
		{
			name:   "zero duration",
			mutate: func(req *dto.CreatePlanRequest) { req.DurationMonths = 0 },
		},
		{
			name: "unknown feature code in limits",
			mutate: func(req *dto.CreatePlanRequest) {
				req.Limits = types.FeatureLimits{"video_interviews": 5}
			},
		},
		{
			name: "negative feature limit",
			mutate: func(req *dto.CreatePlanRequest) {
				req.Limits = types.FeatureLimits{types.FeatureJobPostings: -1}
			},
		},
	}

	for _, tc := range testCases {
		s.Run(tc.name, func() {
			req := base
			tc.mutate(&req)
			_, err := s.service.CreatePlan(s.GetContext(), req)
			s.Error(err)
			s.True(ierr.IsValidation(err))
		})
	}

	s.Run("free paid plan is allowed", func() {
		resp := s.createPlan(dto.CreatePlanRequest{
			Name:           "Community",
			Price:          decimal.Zero,
			DurationMonths: 1,
		})
		s.True(resp.Price.IsZero())
		s.False(resp.IsTrial)
	})
}

func (s *PlanServiceSuite) TestGetPlan() {
	created := s.createPlan(dto.CreatePlanRequest{
		Name:           "Premium",
		Price:          decimal.NewFromInt(200),
		DurationMonths: 1,
	})

	resp, err := s.service.GetPlan(s.GetContext(), created.ID)
	s.NoError(err)
	s.Equal(created.ID, resp.ID)
	s.Equal("Premium", resp.Name)

	s.Run("empty id", func() {
		_, err := s.service.GetPlan(s.GetContext(), "")
		s.Error(err)
		s.True(ierr.IsValidation(err))
	})

	s.Run("unknown id", func() {
		_, err := s.service.GetPlan(s.GetContext(), "plan_missing")
		s.Error(err)
		s.True(ierr.IsNotFound(err))
	})
}

func (s *PlanServiceSuite) TestListPlans() {
	s.createPlan(dto.CreatePlanRequest{
		Name: "Starter", Price: decimal.NewFromInt(50), DurationMonths: 1,
	})
	s.createPlan(dto.CreatePlanRequest{
		Name: "Professional", Price: decimal.NewFromInt(100), DurationMonths: 1,
	})
	s.createPlan(dto.CreatePlanRequest{
		Name: "Free Trial", DurationMonths: 1, IsTrial: true,
	})

	s.Run("nil filter lists everything with defaults", func() {
		resp, err := s.service.ListPlans(s.GetContext(), nil)
		s.NoError(err)
		s.Len(resp.Items, 3)
		s.Equal(3, resp.Pagination.Total)
		s.Equal(types.FILTER_DEFAULT_LIMIT, resp.Pagination.Limit)
	})

	s.Run("trial filter", func() {
		resp, err := s.service.ListPlans(s.GetContext(), &types.PlanFilter{
			QueryFilter: types.NewDefaultQueryFilter(),
			IsTrial:     lo.ToPtr(true),
		})
		s.NoError(err)
		s.Len(resp.Items, 1)
		s.Equal("Free Trial", resp.Items[0].Name)

		resp, err = s.service.ListPlans(s.GetContext(), &types.PlanFilter{
			QueryFilter: types.NewDefaultQueryFilter(),
			IsTrial:     lo.ToPtr(false),
		})
		s.NoError(err)
		s.Len(resp.Items, 2)
	})

	s.Run("pagination window", func() {
		resp, err := s.service.ListPlans(s.GetContext(), &types.PlanFilter{
			QueryFilter: &types.QueryFilter{
				Limit:  lo.ToPtr(2),
				Offset: lo.ToPtr(2),
			},
		})
		s.NoError(err)
		s.Len(resp.Items, 1)
		s.Equal(3, resp.Pagination.Total)
		s.Equal(2, resp.Pagination.Offset)
	})

	s.Run("invalid limit is rejected", func() {
		_, err := s.service.ListPlans(s.GetContext(), &types.PlanFilter{
			QueryFilter: &types.QueryFilter{Limit: lo.ToPtr(5000)},
		})
		s.Error(err)
	})
}

func (s *PlanServiceSuite) TestUpdatePlan() {
	created := s.createPlan(dto.CreatePlanRequest{
		Name:           "Professional",
		Price:          decimal.NewFromInt(100),
		DurationMonths: 1,
		Limits:         types.FeatureLimits{types.FeatureJobPostings: 10},
	})

	resp, err := s.service.UpdatePlan(s.GetContext(), created.ID, dto.UpdatePlanRequest{
		Price:  lo.ToPtr(decimal.NewFromInt(120)),
		Limits: &types.FeatureLimits{types.FeatureJobPostings: 15},
	})
	s.NoError(err)
	s.True(decimal.NewFromInt(120).Equal(resp.Price))
	s.Equal("Professional", resp.Name)
	s.Equal(s.GetNow(), resp.UpdatedAt)

	limit, limited := resp.LimitFor(types.FeatureJobPostings)
	s.True(limited)
	s.Equal(int64(15), limit)

	s.Run("untouched fields survive a partial update", func() {
		resp, err := s.service.UpdatePlan(s.GetContext(), created.ID, dto.UpdatePlanRequest{
			Description: lo.ToPtr("For growing teams"),
		})
		s.NoError(err)
		s.Equal("For growing teams", resp.Description)
		s.True(decimal.NewFromInt(120).Equal(resp.Price))
	})

	s.Run("update must still validate", func() {
		_, err := s.service.UpdatePlan(s.GetContext(), created.ID, dto.UpdatePlanRequest{
			Price: lo.ToPtr(decimal.NewFromInt(-1)),
		})
		s.Error(err)
		s.True(ierr.IsValidation(err))
	})

	s.Run("unknown plan", func() {
		_, err := s.service.UpdatePlan(s.GetContext(), "plan_missing", dto.UpdatePlanRequest{
			Name: lo.ToPtr("Renamed"),
		})
		s.Error(err)
		s.True(ierr.IsNotFound(err))
	})
}

func (s *PlanServiceSuite) TestDeletePlan() {
	created := s.createPlan(dto.CreatePlanRequest{
		Name:           "Professional",
		Price:          decimal.NewFromInt(100),
		DurationMonths: 1,
	})

	sub, err := s.subService.CreateSubscription(s.GetContext(), dto.CreateSubscriptionRequest{
		PlanID: created.ID,
		UserID: "user-plan-del",
	})
	s.NoError(err)

	s.Run("a plan with active subscriptions cannot be deleted", func() {
		err := s.service.DeletePlan(s.GetContext(), created.ID)
		s.Error(err)
		s.True(ierr.IsInvalidOperation(err))
	})

	s.Run("deletable once its subscriptions are gone", func() {
		_, err := s.subService.CancelSubscription(s.GetContext(), sub.Subscription.ID, dto.CancelSubscriptionRequest{
			Reason: "switching plans",
		})
		s.NoError(err)

		s.NoError(s.service.DeletePlan(s.GetContext(), created.ID))

		_, err = s.service.GetPlan(s.GetContext(), created.ID)
		s.Error(err)
		s.True(ierr.IsNotFound(err))
	})

	s.Run("unknown plan", func() {
		err := s.service.DeletePlan(s.GetContext(), "plan_missing")
		s.Error(err)
		s.True(ierr.IsNotFound(err))
	})
}

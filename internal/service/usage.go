package service

import (
	"context"

	"github.com/cenkalti/backoff/v4"
	"github.com/hirewire/billing/internal/api/dto"
	"github.com/hirewire/billing/internal/domain/events"
	"github.com/hirewire/billing/internal/domain/plan"
	"github.com/hirewire/billing/internal/domain/subscription"
	"github.com/hirewire/billing/internal/domain/usage"
	ierr "github.com/hirewire/billing/internal/errors"
	"github.com/hirewire/billing/internal/notification"
	"github.com/hirewire/billing/internal/types"
)

const defaultNearLimitPercent = 90

// mirrorMaxRetries bounds the fire and forget clickhouse mirror. The postgres
// counter is authoritative; a lost mirror event costs audit detail only.
const mirrorMaxRetries = 3

// UsageService meters feature consumption against plan limits within the
// current billing window. The counter increment is atomic, so concurrent
// requests can never jointly cross a cap.
type UsageService interface {
	RecordUsage(ctx context.Context, subscriptionID string, req dto.RecordUsageRequest) (*dto.RecordUsageResponse, error)
	CheckLimit(ctx context.Context, subscriptionID string, feature types.FeatureCode, requested int64) (*dto.CheckLimitResponse, error)
	GetUsage(ctx context.Context, subscriptionID string) (*dto.GetUsageResponse, error)
	ListUsageEvents(ctx context.Context, subscriptionID string, params *events.GetUsageEventsParams) (*dto.ListUsageEventsResponse, error)
}

type usageService struct {
	ServiceParams
}

func NewUsageService(params ServiceParams) UsageService {
	return &usageService{ServiceParams: params}
}

func (s *usageService) RecordUsage(ctx context.Context, subscriptionID string, req dto.RecordUsageRequest) (*dto.RecordUsageResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	sub, p, err := s.activeSubscriptionWithPlan(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}

	limit, limited := p.LimitFor(req.Feature)
	count := req.Count
	if count == 0 {
		count = 1
	}

	counter, err := s.UsageRepo.IncrementIfBelowLimit(ctx, usage.IncrementQuery{
		SubscriptionID: sub.ID,
		Feature:        req.Feature,
		WindowStart:    sub.StartDate,
		Count:          count,
		Limit:          limit,
	})
	if err != nil {
		if ierr.IsValidation(err) {
			s.publishUsage(ctx, types.NotificationUsageExceeded, sub, req.Feature, map[string]interface{}{
				"feature":   req.Feature,
				"requested": count,
				"limit":     limit,
			})
		}
		return nil, err
	}

	s.mirrorUsageEvent(ctx, sub, req, count)

	fu := s.featureUsage(req.Feature, counter.Used, limit, limited)
	if limited && fu.Status == types.UsageStatusNearLimit {
		s.publishUsage(ctx, types.NotificationUsageNearLimit, sub, req.Feature, map[string]interface{}{
			"feature":    req.Feature,
			"used":       fu.Used,
			"limit":      fu.Limit,
			"percentage": fu.Percentage,
		})
	}

	s.Logger.Debugw("recorded usage",
		"subscription_id", sub.ID,
		"feature", req.Feature,
		"count", count,
		"used", counter.Used,
		"limit", limit,
	)

	return &dto.RecordUsageResponse{
		SubscriptionID: sub.ID,
		FeatureUsage:   *fu,
	}, nil
}

func (s *usageService) CheckLimit(ctx context.Context, subscriptionID string, feature types.FeatureCode, requested int64) (*dto.CheckLimitResponse, error) {
	if err := feature.Validate(); err != nil {
		return nil, err
	}
	if requested < 1 {
		requested = 1
	}

	sub, p, err := s.activeSubscriptionWithPlan(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}

	limit, limited := p.LimitFor(feature)
	if !limited {
		return &dto.CheckLimitResponse{
			Feature:   feature,
			Allowed:   true,
			Requested: requested,
			Unlimited: true,
		}, nil
	}

	used := s.usedInWindow(ctx, sub, feature)
	remaining := limit - used
	if remaining < 0 {
		remaining = 0
	}

	response := &dto.CheckLimitResponse{
		Feature:   feature,
		Requested: requested,
		Remaining: remaining,
		Allowed:   remaining >= requested,
	}
	if !response.Allowed {
		response.ExceededBy = requested - remaining
	}
	return response, nil
}

func (s *usageService) GetUsage(ctx context.Context, subscriptionID string) (*dto.GetUsageResponse, error) {
	sub, p, err := s.subscriptionWithPlan(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}

	counters, err := s.UsageRepo.ListByWindow(ctx, sub.ID, sub.StartDate)
	if err != nil {
		return nil, err
	}
	usedByFeature := make(map[types.FeatureCode]int64, len(counters))
	for _, counter := range counters {
		usedByFeature[counter.Feature] = counter.Used
	}

	// Every limited feature of the plan appears in the report, consumed or
	// not. Uncapped features show up only once they have usage.
	response := &dto.GetUsageResponse{
		SubscriptionID: sub.ID,
		WindowStart:    sub.StartDate,
		WindowEnd:      sub.EndDate,
	}
	seen := make(map[types.FeatureCode]bool)
	for _, feature := range types.FeatureCodeValues {
		limit, limited := p.LimitFor(feature)
		used := usedByFeature[feature]
		if !limited && used == 0 {
			continue
		}
		response.Features = append(response.Features, s.featureUsage(feature, used, limit, limited))
		seen[feature] = true
	}
	for feature, used := range usedByFeature {
		if !seen[feature] {
			response.Features = append(response.Features, s.featureUsage(feature, used, 0, false))
		}
	}

	return response, nil
}

func (s *usageService) ListUsageEvents(ctx context.Context, subscriptionID string, params *events.GetUsageEventsParams) (*dto.ListUsageEventsResponse, error) {
	if _, err := s.SubRepo.Get(ctx, subscriptionID); err != nil {
		return nil, err
	}

	if params == nil {
		params = &events.GetUsageEventsParams{}
	}
	params.SubscriptionID = subscriptionID

	items, err := s.EventRepo.GetUsageEvents(ctx, params)
	if err != nil {
		return nil, err
	}

	return &dto.ListUsageEventsResponse{Items: items}, nil
}

// featureUsage classifies consumption of one feature. The near limit
// threshold comes from config, default 90 percent.
func (s *usageService) featureUsage(feature types.FeatureCode, used, limit int64, limited bool) *dto.FeatureUsage {
	fu := &dto.FeatureUsage{
		Feature:   feature,
		Used:      used,
		Limit:     limit,
		Unlimited: !limited,
		Status:    types.UsageStatusOK,
	}
	if !limited {
		return fu
	}

	fu.Remaining = limit - used
	if fu.Remaining < 0 {
		fu.Remaining = 0
	}
	fu.Percentage = float64(used) / float64(limit) * 100

	nearLimit := s.Config.Billing.NearLimitPercent
	if nearLimit <= 0 {
		nearLimit = defaultNearLimitPercent
	}
	switch {
	case fu.Percentage >= 100:
		fu.Status = types.UsageStatusExceeded
	case fu.Percentage >= float64(nearLimit):
		fu.Status = types.UsageStatusNearLimit
	}
	return fu
}

func (s *usageService) usedInWindow(ctx context.Context, sub *subscription.Subscription, feature types.FeatureCode) int64 {
	counter, err := s.UsageRepo.Get(ctx, sub.ID, feature, sub.StartDate)
	if err != nil {
		// No counter row means nothing consumed yet this window.
		return 0
	}
	return counter.Used
}

func (s *usageService) subscriptionWithPlan(ctx context.Context, subscriptionID string) (*subscription.Subscription, *plan.Plan, error) {
	sub, err := s.SubRepo.Get(ctx, subscriptionID)
	if err != nil {
		return nil, nil, err
	}
	p, err := s.PlanRepo.Get(ctx, sub.PlanID)
	if err != nil {
		return nil, nil, err
	}
	return sub, p, nil
}

func (s *usageService) activeSubscriptionWithPlan(ctx context.Context, subscriptionID string) (*subscription.Subscription, *plan.Plan, error) {
	sub, p, err := s.subscriptionWithPlan(ctx, subscriptionID)
	if err != nil {
		return nil, nil, err
	}
	if err := requireActive(sub); err != nil {
		return nil, nil, err
	}
	return sub, p, nil
}

// mirrorUsageEvent appends the consumption event to the clickhouse audit
// trail. The write happens off the request path with bounded retry; a
// failure is logged and never reaches the caller.
func (s *usageService) mirrorUsageEvent(ctx context.Context, sub *subscription.Subscription, req dto.RecordUsageRequest, count int64) {
	event := events.NewUsageEvent(
		types.GetTenantID(ctx),
		sub.ID,
		sub.Subscriber(),
		req.Feature,
		count,
		s.Clock.Now().UTC(),
		req.Source,
		req.Properties,
	)

	detached := context.WithoutCancel(ctx)
	go func() {
		operation := func() error {
			return s.EventRepo.InsertEvent(detached, event)
		}
		if err := backoff.Retry(operation, backoff.WithMaxRetries(backoff.NewExponentialBackOff(), mirrorMaxRetries)); err != nil {
			s.Logger.Errorw("failed to mirror usage event",
				"error", err,
				"event_id", event.ID,
				"subscription_id", sub.ID,
				"feature", req.Feature,
			)
		}
	}()
}

func (s *usageService) publishUsage(ctx context.Context, eventType types.NotificationType, sub *subscription.Subscription, feature types.FeatureCode, payload map[string]interface{}) {
	event := notification.NewEvent(eventType, types.GetTenantID(ctx), sub.Subscriber(), sub.ID, s.Clock.Now().UTC(), payload)
	if err := s.Publisher.Publish(ctx, event); err != nil {
		s.Logger.Errorw("failed to publish usage notification",
			"error", err,
			"event_type", eventType,
			"subscription_id", sub.ID,
			"feature", feature,
		)
	}
}

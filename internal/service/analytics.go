package service

import (
	"context"
	"time"

	"github.com/hirewire/billing/internal/api/dto"
	"github.com/hirewire/billing/internal/domain/plan"
	"github.com/hirewire/billing/internal/domain/subscription"
	"github.com/hirewire/billing/internal/types"
	"github.com/shopspring/decimal"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/pool"
)

// AnalyticsService aggregates revenue and retention metrics over a window.
// Metrics are computed from the subscription population and the renewal
// records; nothing here mutates state.
type AnalyticsService interface {
	GetAnalytics(ctx context.Context, tf types.Timeframe) (*dto.AnalyticsResponse, error)
}

type analyticsService struct {
	ServiceParams
}

func NewAnalyticsService(params ServiceParams) AnalyticsService {
	return &analyticsService{ServiceParams: params}
}

// GetAnalytics computes churn, renewal rate, MRR/ARR and growth against the
// prior window of the same length. A zero timeframe means the default
// trailing window ending now.
func (s *analyticsService) GetAnalytics(ctx context.Context, tf types.Timeframe) (*dto.AnalyticsResponse, error) {
	if tf.Start.IsZero() && tf.End.IsZero() {
		tf = types.NewTimeframe(s.Clock.Now().UTC())
	}
	if err := tf.Validate(); err != nil {
		return nil, err
	}

	var (
		subs     []*subscription.Subscription
		plans    []*plan.Plan
		renewals int
	)
	fetch := pool.New().WithErrors().WithContext(ctx)
	fetch.Go(func(ctx context.Context) error {
		var err error
		subs, err = s.SubRepo.ListAll(ctx, types.NewNoLimitSubscriptionFilter())
		return err
	})
	fetch.Go(func(ctx context.Context) error {
		var err error
		plans, err = s.PlanRepo.ListAll(ctx, types.NewNoLimitPlanFilter())
		return err
	})
	fetch.Go(func(ctx context.Context) error {
		var err error
		renewals, err = s.HistoryRepo.CountRenewals(ctx, tf)
		return err
	})
	if err := fetch.Wait(); err != nil {
		return nil, err
	}

	monthly := make(map[string]decimal.Decimal, len(plans))
	for _, p := range plans {
		monthly[p.ID] = p.MonthlyPrice()
	}

	var (
		current currentMetrics
		prior   priorMetrics
		wg      conc.WaitGroup
	)
	wg.Go(func() { current = aggregateCurrent(subs, monthly, tf) })
	wg.Go(func() { prior = aggregatePrior(subs, monthly, tf.Prior()) })
	wg.Wait()

	mrr := current.MRR.Round(2)
	priorMRR := prior.MRR.Round(2)

	s.Logger.Debugw("analytics computed",
		"timeframe_start", tf.Start,
		"timeframe_end", tf.End,
		"population", len(subs),
		"active", current.Active,
		"cancelled_in_period", current.Cancelled,
		"renewals_in_period", renewals,
	)

	return &dto.AnalyticsResponse{
		Timeframe:         tf,
		ChurnRate:         ratio(current.Cancelled, current.Total),
		RenewalRate:       ratio(renewals, current.Eligible),
		MRR:               mrr,
		ARR:               mrr.Mul(decimal.NewFromInt(12)).Round(2),
		ActiveCount:       current.Active,
		TrialCount:        current.Trials,
		CancelledInPeriod: current.Cancelled,
		RenewalsInPeriod:  renewals,
		Growth: &dto.GrowthMetrics{
			CurrentMRR:          mrr,
			PriorMRR:            priorMRR,
			MRRGrowth:           mrr.Sub(priorMRR),
			MRRGrowthPercent:    growthPercent(mrr, priorMRR),
			CurrentActiveCount:  current.Active,
			PriorActiveCount:    prior.Active,
			ActiveGrowth:        current.Active - prior.Active,
			ActiveGrowthPercent: growthPercent(decimal.NewFromInt(int64(current.Active)), decimal.NewFromInt(int64(prior.Active))),
		},
	}, nil
}

// currentMetrics is the aggregation over the requested window, judged from
// present row state.
type currentMetrics struct {
	MRR       decimal.Decimal
	Active    int
	Trials    int
	Cancelled int
	Total     int
	Eligible  int
}

// priorMetrics estimates the prior window. Rows keep only current period
// state, so liveness at a past instant is reconstructed from creation,
// cancellation and expiry dates.
type priorMetrics struct {
	MRR    decimal.Decimal
	Active int
}

func aggregateCurrent(subs []*subscription.Subscription, monthly map[string]decimal.Decimal, tf types.Timeframe) currentMetrics {
	m := currentMetrics{MRR: decimal.Zero}
	for _, sub := range subs {
		if existedDuring(sub, tf) {
			m.Total++
		}
		if sub.CancelledAt != nil && tf.Contains(*sub.CancelledAt) {
			m.Cancelled++
		}
		if !sub.IsActive() {
			continue
		}
		m.Active++
		if sub.IsTrial {
			m.Trials++
		} else if price, ok := monthly[sub.PlanID]; ok {
			m.MRR = m.MRR.Add(price)
		}
		// Still active with an end date inside the window: due for renewal
		// during the period, the denominator of the renewal rate.
		if tf.Contains(sub.EndDate) {
			m.Eligible++
		}
	}
	return m
}

func aggregatePrior(subs []*subscription.Subscription, monthly map[string]decimal.Decimal, tf types.Timeframe) priorMetrics {
	m := priorMetrics{MRR: decimal.Zero}
	for _, sub := range subs {
		if !wasActiveAt(sub, tf.End) {
			continue
		}
		m.Active++
		if sub.IsTrial {
			continue
		}
		if price, ok := monthly[sub.PlanID]; ok {
			m.MRR = m.MRR.Add(price)
		}
	}
	return m
}

// wasActiveAt reconstructs whether the subscription was active at instant t
// from its dates.
func wasActiveAt(sub *subscription.Subscription, t time.Time) bool {
	if sub.CreatedAt.After(t) {
		return false
	}
	if sub.CancelledAt != nil && !sub.CancelledAt.After(t) {
		return false
	}
	if sub.SubscriptionStatus == types.SubscriptionStatusExpired && !sub.EndDate.After(t) {
		return false
	}
	return true
}

// existedDuring reports whether the subscription was part of the population
// at any point inside the window.
func existedDuring(sub *subscription.Subscription, tf types.Timeframe) bool {
	if !sub.CreatedAt.Before(tf.End) {
		return false
	}
	if sub.CancelledAt != nil && sub.CancelledAt.Before(tf.Start) {
		return false
	}
	if sub.SubscriptionStatus == types.SubscriptionStatusExpired && sub.EndDate.Before(tf.Start) {
		return false
	}
	return true
}

// ratio divides two counts into a rate, 0 when the denominator is 0.
func ratio(num, den int) decimal.Decimal {
	if den == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(num)).Div(decimal.NewFromInt(int64(den))).Round(4)
}

// growthPercent is the relative delta between current and prior, 0 when the
// prior is 0.
func growthPercent(current, prior decimal.Decimal) decimal.Decimal {
	if prior.IsZero() {
		return decimal.Zero
	}
	return current.Sub(prior).Div(prior).Mul(decimal.NewFromInt(100)).Round(2)
}

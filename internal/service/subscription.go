package service

import (
	"context"
	"time"

	"github.com/hirewire/billing/internal/api/dto"
	"github.com/hirewire/billing/internal/domain/payment"
	"github.com/hirewire/billing/internal/domain/plan"
	"github.com/hirewire/billing/internal/domain/proration"
	"github.com/hirewire/billing/internal/domain/subscription"
	ierr "github.com/hirewire/billing/internal/errors"
	"github.com/hirewire/billing/internal/idempotency"
	"github.com/hirewire/billing/internal/notification"
	"github.com/hirewire/billing/internal/types"
	"github.com/shopspring/decimal"
)

// SubscriptionService drives the subscription lifecycle state machine. Every
// mutation is an optimistic locked read-modify-write; racing writers get a
// version conflict instead of silently overwriting each other.
type SubscriptionService interface {
	CreateSubscription(ctx context.Context, req dto.CreateSubscriptionRequest) (*dto.SubscriptionResponse, error)
	CreateTrialSubscription(ctx context.Context, req dto.CreateSubscriptionRequest) (*dto.SubscriptionResponse, error)
	GetSubscription(ctx context.Context, id string) (*dto.SubscriptionResponse, error)
	ListSubscriptions(ctx context.Context, filter *types.SubscriptionFilter) (*dto.ListSubscriptionsResponse, error)
	GetSubscriptionHistory(ctx context.Context, id string) (*dto.SubscriptionHistoryResponse, error)
	RenewSubscription(ctx context.Context, id string) (*dto.RenewSubscriptionResponse, error)
	UpgradeSubscription(ctx context.Context, id string, req dto.UpgradeSubscriptionRequest) (*dto.UpgradeSubscriptionResponse, error)
	ScheduleDowngrade(ctx context.Context, id string, req dto.ScheduleDowngradeRequest) (*dto.ScheduleDowngradeResponse, error)
	CancelSubscription(ctx context.Context, id string, req dto.CancelSubscriptionRequest) (*dto.CancelSubscriptionResponse, error)
	ConvertTrialToPaid(ctx context.Context, id string, req dto.ConvertTrialRequest) (*dto.ConvertTrialResponse, error)
}

type subscriptionService struct {
	ServiceParams
	calculator proration.Calculator
}

func NewSubscriptionService(params ServiceParams) SubscriptionService {
	return &subscriptionService{
		ServiceParams: params,
		calculator:    proration.NewCalculator(params.Config.Billing.ProrationStrategy),
	}
}

func (s *subscriptionService) CreateSubscription(ctx context.Context, req dto.CreateSubscriptionRequest) (*dto.SubscriptionResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	p, err := s.PlanRepo.Get(ctx, req.PlanID)
	if err != nil {
		return nil, err
	}
	if p.IsTrial {
		return nil, ierr.NewError("plan is a trial plan").
			WithHint("Use the trial creation operation for trial plans").
			WithReportableDetails(map[string]any{"plan_id": p.ID}).
			Mark(ierr.ErrValidation)
	}

	sub, err := s.createWithPlan(ctx, req, p)
	if err != nil {
		return nil, err
	}

	s.publish(ctx, types.NotificationSubscriptionCreated, sub, map[string]interface{}{
		"plan_id":    p.ID,
		"start_date": sub.StartDate,
		"end_date":   sub.EndDate,
	})

	return dto.NewSubscriptionResponse(sub).WithPlan(dto.NewPlanResponse(p)), nil
}

func (s *subscriptionService) CreateTrialSubscription(ctx context.Context, req dto.CreateSubscriptionRequest) (*dto.SubscriptionResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	p, err := s.PlanRepo.Get(ctx, req.PlanID)
	if err != nil {
		return nil, err
	}
	if !p.IsTrial {
		return nil, ierr.NewError("plan is not a trial plan").
			WithHint("Trial subscriptions require a trial plan").
			WithReportableDetails(map[string]any{"plan_id": p.ID}).
			Mark(ierr.ErrValidation)
	}

	// One trial per subscriber, ever. Conversion keeps trial_start set, so
	// converted trials still count here.
	trialCount, err := s.SubRepo.CountTrials(ctx, req.Subscriber())
	if err != nil {
		return nil, err
	}
	if trialCount > 0 {
		return nil, ierr.NewError("subscriber already used a trial").
			WithHint("Each subscriber may start only one trial").
			WithReportableDetails(map[string]any{
				"user_id":     req.UserID,
				"employer_id": req.EmployerID,
			}).
			Mark(ierr.ErrAlreadyExists)
	}

	sub, err := s.createWithPlan(ctx, req, p)
	if err != nil {
		return nil, err
	}

	s.publish(ctx, types.NotificationTrialStarted, sub, map[string]interface{}{
		"plan_id":   p.ID,
		"trial_end": sub.TrialEnd,
	})

	return dto.NewSubscriptionResponse(sub).WithPlan(dto.NewPlanResponse(p)), nil
}

// createWithPlan builds and atomically inserts the subscription row. The
// conditional create enforces at most one active subscription per subscriber.
func (s *subscriptionService) createWithPlan(ctx context.Context, req dto.CreateSubscriptionRequest, p *plan.Plan) (*subscription.Subscription, error) {
	now := s.Clock.Now().UTC()
	end := p.PeriodEnd(now)

	sub := &subscription.Subscription{
		ID:                 types.GenerateUUIDWithPrefix(types.UUID_PREFIX_SUBSCRIPTION),
		PlanID:             p.ID,
		SubscriptionStatus: types.SubscriptionStatusActive,
		IsTrial:            p.IsTrial,
		StartDate:          now,
		EndDate:            end,
		NextBillingDate:    end,
		Version:            1,
		Metadata:           req.Metadata,
		BaseModel:          types.GetDefaultBaseModelAt(ctx, now),
	}
	sub.SetSubscriber(req.Subscriber())
	if p.IsTrial {
		sub.TrialStart = &now
		sub.TrialEnd = &end
	}

	if err := sub.Validate(); err != nil {
		return nil, err
	}

	if err := s.SubRepo.CreateIfNoActive(ctx, sub); err != nil {
		return nil, err
	}

	s.Logger.Infow("created subscription",
		"subscription_id", sub.ID,
		"user_id", sub.UserID,
		"employer_id", sub.EmployerID,
		"plan_id", p.ID,
		"is_trial", sub.IsTrial,
		"end_date", sub.EndDate,
	)

	return sub, nil
}

func (s *subscriptionService) GetSubscription(ctx context.Context, id string) (*dto.SubscriptionResponse, error) {
	sub, err := s.SubRepo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	response := dto.NewSubscriptionResponse(sub)
	if p, err := s.PlanRepo.Get(ctx, sub.PlanID); err == nil {
		response.WithPlan(dto.NewPlanResponse(p))
	} else {
		s.Logger.Warnw("failed to expand plan on subscription",
			"subscription_id", sub.ID,
			"plan_id", sub.PlanID,
			"error", err)
	}

	return response, nil
}

func (s *subscriptionService) ListSubscriptions(ctx context.Context, filter *types.SubscriptionFilter) (*dto.ListSubscriptionsResponse, error) {
	if filter == nil {
		filter = types.NewSubscriptionFilter()
	}
	if filter.QueryFilter == nil {
		filter.QueryFilter = types.NewDefaultQueryFilter()
	}
	if err := filter.Validate(); err != nil {
		return nil, err
	}

	subs, err := s.SubRepo.List(ctx, filter)
	if err != nil {
		return nil, err
	}

	count, err := s.SubRepo.Count(ctx, filter)
	if err != nil {
		return nil, err
	}

	items := make([]*dto.SubscriptionResponse, len(subs))
	for i, sub := range subs {
		items[i] = dto.NewSubscriptionResponse(sub)
	}

	response := types.NewListResponse(items, count, filter.GetLimit(), filter.GetOffset())
	return &response, nil
}

func (s *subscriptionService) GetSubscriptionHistory(ctx context.Context, id string) (*dto.SubscriptionHistoryResponse, error) {
	if _, err := s.SubRepo.Get(ctx, id); err != nil {
		return nil, err
	}

	history, err := s.HistoryRepo.GetBySubscription(ctx, id)
	if err != nil {
		return nil, err
	}

	return &dto.SubscriptionHistoryResponse{
		SubscriptionID: id,
		History:        history,
	}, nil
}

func (s *subscriptionService) RenewSubscription(ctx context.Context, id string) (*dto.RenewSubscriptionResponse, error) {
	sub, err := s.SubRepo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := requireRenewable(sub); err != nil {
		return nil, err
	}

	p, err := s.PlanRepo.Get(ctx, sub.PlanID)
	if err != nil {
		return nil, err
	}

	now := s.Clock.Now().UTC()
	expectedVersion := sub.Version
	previousEnd := sub.EndDate

	// The new period starts where the old one ended, not at "now", so a
	// late renewal does not shift the billing anchor.
	sub.SubscriptionStatus = types.SubscriptionStatusActive
	sub.StartDate = previousEnd
	sub.EndDate = p.PeriodEnd(previousEnd)
	sub.NextBillingDate = sub.EndDate
	sub.RenewalCount++
	sub.UpdatedAt = now
	sub.UpdatedBy = types.GetUserID(ctx)

	if err := s.SubRepo.UpdateWithVersion(ctx, sub, expectedVersion); err != nil {
		return nil, err
	}

	renewal := &subscription.Renewal{
		ID:              types.GenerateUUIDWithPrefix(types.UUID_PREFIX_RENEWAL),
		SubscriptionID:  sub.ID,
		PlanID:          p.ID,
		Amount:          p.Price,
		PreviousEndDate: previousEnd,
		NewEndDate:      sub.EndDate,
		RenewalNumber:   sub.RenewalCount,
		BaseModel:       types.GetDefaultBaseModelAt(ctx, now),
	}
	if err := s.HistoryRepo.CreateRenewal(ctx, renewal); err != nil {
		return nil, err
	}

	pay, err := s.writeLedgerEntry(ctx, sub, ledgerEntry{
		Kind:        types.PaymentKindCharge,
		Amount:      p.Price,
		Description: "Subscription renewal",
		Scope:       idempotency.ScopeChargeRenewal,
		ScopeParams: map[string]interface{}{
			"subscription_id": sub.ID,
			"period_start":    previousEnd.Format(time.RFC3339),
		},
		At: now,
	})
	if err != nil {
		return nil, err
	}

	s.Logger.Infow("renewed subscription",
		"subscription_id", sub.ID,
		"renewal_number", sub.RenewalCount,
		"new_end_date", sub.EndDate,
		"amount", p.Price,
	)

	s.publish(ctx, types.NotificationSubscriptionRenewed, sub, map[string]interface{}{
		"plan_id":        p.ID,
		"renewal_number": sub.RenewalCount,
		"new_end_date":   sub.EndDate,
		"amount":         p.Price,
	})

	return &dto.RenewSubscriptionResponse{
		Subscription:  dto.NewSubscriptionResponse(sub).WithPlan(dto.NewPlanResponse(p)),
		Amount:        p.Price,
		RenewalNumber: sub.RenewalCount,
		Payment:       dto.NewPaymentResponse(pay),
	}, nil
}

func (s *subscriptionService) UpgradeSubscription(ctx context.Context, id string, req dto.UpgradeSubscriptionRequest) (*dto.UpgradeSubscriptionResponse, error) {
	sub, err := s.SubRepo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := requireActive(sub); err != nil {
		return nil, err
	}

	currentPlan, err := s.PlanRepo.Get(ctx, sub.PlanID)
	if err != nil {
		return nil, err
	}
	newPlan, err := s.PlanRepo.Get(ctx, req.PlanID)
	if err != nil {
		return nil, err
	}
	if newPlan.IsTrial {
		return nil, ierr.NewError("cannot upgrade to a trial plan").
			WithHint("Upgrade target must be a paid plan").
			WithReportableDetails(map[string]any{"plan_id": newPlan.ID}).
			Mark(ierr.ErrValidation)
	}
	if !newPlan.IsPricierThan(currentPlan) {
		return nil, ierr.NewError("upgrade requires a pricier plan").
			WithHintf("Plan %s does not cost more than the current plan", newPlan.ID).
			WithReportableDetails(map[string]any{
				"current_plan_id": currentPlan.ID,
				"current_price":   currentPlan.Price,
				"new_plan_id":     newPlan.ID,
				"new_price":       newPlan.Price,
			}).
			Mark(ierr.ErrValidation)
	}

	now := s.Clock.Now().UTC()
	result, err := s.calculator.Calculate(ctx, proration.Params{
		SubscriptionID: sub.ID,
		PeriodStart:    sub.StartDate,
		PeriodEnd:      sub.EndDate,
		Action:         types.ProrationActionUpgrade,
		OldPrice:       currentPlan.Price,
		NewPrice:       newPlan.Price,
		ProrationDate:  now,
	})
	if err != nil {
		return nil, err
	}

	upgradeID := types.GenerateUUIDWithPrefix(types.UUID_PREFIX_UPGRADE)
	expectedVersion := sub.Version
	fromPlanID := sub.PlanID
	supersededDowngrade := sub.ScheduledDowngradeID

	sub.PlanID = newPlan.ID
	sub.UpgradeID = &upgradeID
	// An upgrade supersedes any pending downgrade.
	sub.ScheduledDowngradeID = nil
	sub.ScheduledDowngradeDate = nil
	sub.UpdatedAt = now
	sub.UpdatedBy = types.GetUserID(ctx)

	if err := s.SubRepo.UpdateWithVersion(ctx, sub, expectedVersion); err != nil {
		return nil, err
	}

	if supersededDowngrade != nil {
		s.Logger.Infow("cleared pending downgrade superseded by upgrade",
			"subscription_id", sub.ID,
			"downgrade_id", *supersededDowngrade,
		)
	}

	upgrade := &subscription.Upgrade{
		ID:                upgradeID,
		SubscriptionID:    sub.ID,
		FromPlanID:        fromPlanID,
		ToPlanID:          newPlan.ID,
		RemainingFraction: result.RemainingFraction,
		AmountCharged:     result.Amount,
		EffectiveAt:       now,
		BaseModel:         types.GetDefaultBaseModelAt(ctx, now),
	}
	if err := s.HistoryRepo.CreateUpgrade(ctx, upgrade); err != nil {
		return nil, err
	}

	pay, err := s.writeLedgerEntry(ctx, sub, ledgerEntry{
		Kind:        types.PaymentKindCharge,
		Amount:      result.Amount,
		Description: "Prorated upgrade charge",
		Scope:       idempotency.ScopeChargeUpgrade,
		ScopeParams: map[string]interface{}{"upgrade_id": upgradeID},
		At:          now,
	})
	if err != nil {
		return nil, err
	}

	s.Logger.Infow("upgraded subscription",
		"subscription_id", sub.ID,
		"from_plan_id", fromPlanID,
		"to_plan_id", newPlan.ID,
		"amount_charged", result.Amount,
	)

	s.publish(ctx, types.NotificationSubscriptionUpgraded, sub, map[string]interface{}{
		"from_plan_id":   fromPlanID,
		"to_plan_id":     newPlan.ID,
		"amount_charged": result.Amount,
	})

	return &dto.UpgradeSubscriptionResponse{
		Subscription:      dto.NewSubscriptionResponse(sub).WithPlan(dto.NewPlanResponse(newPlan)),
		AmountCharged:     result.Amount,
		RemainingFraction: result.RemainingFraction,
		Payment:           dto.NewPaymentResponse(pay),
	}, nil
}

func (s *subscriptionService) ScheduleDowngrade(ctx context.Context, id string, req dto.ScheduleDowngradeRequest) (*dto.ScheduleDowngradeResponse, error) {
	sub, err := s.SubRepo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := requireActive(sub); err != nil {
		return nil, err
	}
	if sub.HasScheduledDowngrade() {
		return nil, ierr.NewError("a downgrade is already scheduled").
			WithHint("At most one downgrade may be pending per subscription").
			WithReportableDetails(map[string]any{
				"subscription_id": sub.ID,
				"downgrade_id":    *sub.ScheduledDowngradeID,
			}).
			Mark(ierr.ErrAlreadyExists)
	}

	currentPlan, err := s.PlanRepo.Get(ctx, sub.PlanID)
	if err != nil {
		return nil, err
	}
	newPlan, err := s.PlanRepo.Get(ctx, req.PlanID)
	if err != nil {
		return nil, err
	}
	if !newPlan.IsCheaperThan(currentPlan) {
		return nil, ierr.NewError("downgrade requires a cheaper plan").
			WithHintf("Plan %s does not cost less than the current plan", newPlan.ID).
			WithReportableDetails(map[string]any{
				"current_plan_id": currentPlan.ID,
				"current_price":   currentPlan.Price,
				"new_plan_id":     newPlan.ID,
				"new_price":       newPlan.Price,
			}).
			Mark(ierr.ErrValidation)
	}

	now := s.Clock.Now().UTC()
	effectiveDate := req.EffectiveDate.UTC()
	if !effectiveDate.After(now) || effectiveDate.After(sub.EndDate) {
		return nil, ierr.NewError("invalid effective date").
			WithHint("Effective date must lie after now and within the current billing period").
			WithReportableDetails(map[string]any{
				"effective_date": effectiveDate,
				"now":            now,
				"period_end":     sub.EndDate,
			}).
			Mark(ierr.ErrValidation)
	}

	// The credit is valued for the scheduled effective date, not for the
	// moment of scheduling.
	result, err := s.calculator.Calculate(ctx, proration.Params{
		SubscriptionID: sub.ID,
		PeriodStart:    sub.StartDate,
		PeriodEnd:      sub.EndDate,
		Action:         types.ProrationActionDowngrade,
		OldPrice:       currentPlan.Price,
		NewPrice:       newPlan.Price,
		ProrationDate:  effectiveDate,
	})
	if err != nil {
		return nil, err
	}

	downgrade := &subscription.Downgrade{
		ID:             types.GenerateUUIDWithPrefix(types.UUID_PREFIX_DOWNGRADE),
		SubscriptionID: sub.ID,
		FromPlanID:     sub.PlanID,
		ToPlanID:       newPlan.ID,
		ScheduledAt:    now,
		EffectiveDate:  effectiveDate,
		CreditAmount:   result.Amount,
		Applied:        false,
		BaseModel:      types.GetDefaultBaseModelAt(ctx, now),
	}
	if err := s.HistoryRepo.CreateDowngrade(ctx, downgrade); err != nil {
		return nil, err
	}

	expectedVersion := sub.Version
	sub.ScheduledDowngradeID = &downgrade.ID
	sub.ScheduledDowngradeDate = &effectiveDate
	sub.UpdatedAt = now
	sub.UpdatedBy = types.GetUserID(ctx)

	if err := s.SubRepo.UpdateWithVersion(ctx, sub, expectedVersion); err != nil {
		return nil, err
	}

	s.Logger.Infow("scheduled downgrade",
		"subscription_id", sub.ID,
		"downgrade_id", downgrade.ID,
		"to_plan_id", newPlan.ID,
		"effective_date", effectiveDate,
		"credit_amount", result.Amount,
	)

	s.publish(ctx, types.NotificationDowngradeScheduled, sub, map[string]interface{}{
		"downgrade_id":   downgrade.ID,
		"to_plan_id":     newPlan.ID,
		"effective_date": effectiveDate,
		"credit_amount":  result.Amount,
	})

	return &dto.ScheduleDowngradeResponse{
		Subscription:  dto.NewSubscriptionResponse(sub),
		DowngradeID:   downgrade.ID,
		EffectiveDate: effectiveDate,
		CreditAmount:  result.Amount,
	}, nil
}

func (s *subscriptionService) CancelSubscription(ctx context.Context, id string, req dto.CancelSubscriptionRequest) (*dto.CancelSubscriptionResponse, error) {
	sub, err := s.SubRepo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := requireActive(sub); err != nil {
		return nil, err
	}

	p, err := s.PlanRepo.Get(ctx, sub.PlanID)
	if err != nil {
		return nil, err
	}

	now := s.Clock.Now().UTC()
	result, err := s.calculator.Calculate(ctx, proration.Params{
		SubscriptionID: sub.ID,
		PeriodStart:    sub.StartDate,
		PeriodEnd:      sub.EndDate,
		Action:         types.ProrationActionCancellation,
		OldPrice:       p.Price,
		ProrationDate:  now,
	})
	if err != nil {
		return nil, err
	}

	expectedVersion := sub.Version
	sub.SubscriptionStatus = types.SubscriptionStatusCancelled
	sub.CancelledAt = &now
	sub.CancellationReason = req.Reason
	sub.UpdatedAt = now
	sub.UpdatedBy = types.GetUserID(ctx)

	if err := s.SubRepo.UpdateWithVersion(ctx, sub, expectedVersion); err != nil {
		return nil, err
	}

	cancellation := &subscription.Cancellation{
		ID:             types.GenerateUUIDWithPrefix(types.UUID_PREFIX_CANCELLATION),
		SubscriptionID: sub.ID,
		RefundAmount:   result.Amount,
		UsedFraction:   result.UsedFraction,
		Reason:         req.Reason,
		CancelledAt:    now,
		BaseModel:      types.GetDefaultBaseModelAt(ctx, now),
	}
	if err := s.HistoryRepo.CreateCancellation(ctx, cancellation); err != nil {
		return nil, err
	}

	pay, err := s.writeLedgerEntry(ctx, sub, ledgerEntry{
		Kind:        types.PaymentKindRefund,
		Amount:      result.Amount,
		Description: "Refund for unused time on cancellation",
		Scope:       idempotency.ScopeRefundCancel,
		ScopeParams: map[string]interface{}{"subscription_id": sub.ID},
		At:          now,
	})
	if err != nil {
		return nil, err
	}

	s.Logger.Infow("cancelled subscription",
		"subscription_id", sub.ID,
		"refund_amount", result.Amount,
		"used_fraction", result.UsedFraction,
		"reason", req.Reason,
	)

	s.publish(ctx, types.NotificationSubscriptionCancelled, sub, map[string]interface{}{
		"refund_amount": result.Amount,
		"reason":        req.Reason,
	})

	return &dto.CancelSubscriptionResponse{
		Subscription: dto.NewSubscriptionResponse(sub),
		RefundAmount: result.Amount,
		UsedFraction: result.UsedFraction,
		Payment:      dto.NewPaymentResponse(pay),
	}, nil
}

func (s *subscriptionService) ConvertTrialToPaid(ctx context.Context, id string, req dto.ConvertTrialRequest) (*dto.ConvertTrialResponse, error) {
	sub, err := s.SubRepo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := requireActive(sub); err != nil {
		return nil, err
	}
	if !sub.IsTrial {
		return nil, ierr.NewError("subscription is not in a trial").
			WithHint("Only trial subscriptions can be converted").
			WithReportableDetails(map[string]any{"subscription_id": sub.ID}).
			Mark(ierr.ErrInvalidOperation)
	}

	newPlan, err := s.PlanRepo.Get(ctx, req.PlanID)
	if err != nil {
		return nil, err
	}
	if newPlan.IsTrial {
		return nil, ierr.NewError("conversion target is a trial plan").
			WithHint("Trials convert to paid plans only").
			WithReportableDetails(map[string]any{"plan_id": newPlan.ID}).
			Mark(ierr.ErrValidation)
	}

	now := s.Clock.Now().UTC()
	remainingDays := remainingWholeDays(now, sub.EndDate)

	// The unused trial days carry over: the paid period runs from now,
	// through the leftover trial time, plus a full plan duration.
	newEnd := newPlan.PeriodEnd(now.AddDate(0, 0, remainingDays))

	expectedVersion := sub.Version
	sub.PlanID = newPlan.ID
	sub.IsTrial = false
	sub.StartDate = now
	sub.EndDate = newEnd
	sub.NextBillingDate = newEnd
	sub.UpdatedAt = now
	sub.UpdatedBy = types.GetUserID(ctx)

	if err := s.SubRepo.UpdateWithVersion(ctx, sub, expectedVersion); err != nil {
		return nil, err
	}

	conversion := &subscription.TrialConversion{
		ID:                 types.GenerateUUIDWithPrefix(types.UUID_PREFIX_TRIAL_CONVERSION),
		SubscriptionID:     sub.ID,
		ToPlanID:           newPlan.ID,
		RemainingTrialDays: remainingDays,
		NewEndDate:         newEnd,
		ConvertedAt:        now,
		BaseModel:          types.GetDefaultBaseModelAt(ctx, now),
	}
	if err := s.HistoryRepo.CreateTrialConversion(ctx, conversion); err != nil {
		return nil, err
	}

	pay, err := s.writeLedgerEntry(ctx, sub, ledgerEntry{
		Kind:        types.PaymentKindCharge,
		Amount:      newPlan.Price,
		Description: "First charge after trial conversion",
		Scope:       idempotency.ScopeChargeConversion,
		ScopeParams: map[string]interface{}{
			"subscription_id": sub.ID,
			"converted_at":    now.Format(time.RFC3339),
		},
		At: now,
	})
	if err != nil {
		return nil, err
	}

	s.Logger.Infow("converted trial to paid",
		"subscription_id", sub.ID,
		"to_plan_id", newPlan.ID,
		"remaining_trial_days", remainingDays,
		"new_end_date", newEnd,
	)

	s.publish(ctx, types.NotificationTrialConverted, sub, map[string]interface{}{
		"to_plan_id":           newPlan.ID,
		"remaining_trial_days": remainingDays,
		"new_end_date":         newEnd,
		"amount_charged":       newPlan.Price,
	})

	return &dto.ConvertTrialResponse{
		Subscription:       dto.NewSubscriptionResponse(sub).WithPlan(dto.NewPlanResponse(newPlan)),
		AmountCharged:      newPlan.Price,
		RemainingTrialDays: remainingDays,
		Payment:            dto.NewPaymentResponse(pay),
	}, nil
}

// ledgerEntry describes one payment ledger write.
type ledgerEntry struct {
	Kind        types.PaymentKind
	Amount      decimal.Decimal
	Description string
	Scope       idempotency.Scope
	ScopeParams map[string]interface{}
	At          time.Time
}

// writeLedgerEntry inserts the ledger row. A duplicate idempotency key means
// an earlier attempt already wrote the entry; that entry is returned instead.
func (s *subscriptionService) writeLedgerEntry(ctx context.Context, sub *subscription.Subscription, entry ledgerEntry) (*payment.Payment, error) {
	key := s.IdempotencyGen.GenerateKey(entry.Scope, entry.ScopeParams)

	p := &payment.Payment{
		ID:              types.GenerateUUIDWithPrefix(types.UUID_PREFIX_PAYMENT),
		ReferenceNumber: types.GenerateShortIDWithPrefix("PAY-"),
		SubscriptionID:  sub.ID,
		Kind:            entry.Kind,
		Amount:          entry.Amount,
		Description:     entry.Description,
		IdempotencyKey:  key,
		BaseModel:       types.GetDefaultBaseModelAt(ctx, entry.At),
	}
	p.SetSubscriber(sub.Subscriber())

	if err := p.Validate(); err != nil {
		return nil, err
	}

	if err := s.PaymentRepo.Create(ctx, p); err != nil {
		if ierr.IsAlreadyExists(err) {
			s.Logger.Debugw("ledger entry already written, reusing",
				"subscription_id", sub.ID,
				"idempotency_key", key,
			)
			return s.PaymentRepo.GetByIdempotencyKey(ctx, key)
		}
		return nil, err
	}

	return p, nil
}

// publish dispatches a notification event. Failures are logged and never
// propagated; notifications do not gate state transitions.
func (s *subscriptionService) publish(ctx context.Context, eventType types.NotificationType, sub *subscription.Subscription, payload map[string]interface{}) {
	event := notification.NewEvent(eventType, types.GetTenantID(ctx), sub.Subscriber(), sub.ID, s.Clock.Now().UTC(), payload)
	if err := s.Publisher.Publish(ctx, event); err != nil {
		s.Logger.Errorw("failed to publish notification event",
			"error", err,
			"event_type", eventType,
			"subscription_id", sub.ID,
		)
	}
}

// requireActive rejects lifecycle events on subscriptions outside the active
// state. Cancelled and expired are terminal.
func requireActive(sub *subscription.Subscription) error {
	if sub.IsActive() {
		return nil
	}
	return ierr.NewError("subscription is not active").
		WithHintf("Subscription is %s; this operation requires an active subscription", sub.SubscriptionStatus).
		WithReportableDetails(map[string]any{
			"subscription_id": sub.ID,
			"status":          sub.SubscriptionStatus,
		}).
		Mark(ierr.ErrInvalidOperation)
}

// requireRenewable additionally admits past due subscriptions. Renewing
// inside the grace window settles the overdue period and reactivates the row.
func requireRenewable(sub *subscription.Subscription) error {
	if sub.IsActive() || sub.SubscriptionStatus == types.SubscriptionStatusPastDue {
		return nil
	}
	return ierr.NewError("subscription cannot be renewed").
		WithHintf("Subscription is %s; renewal requires an active or past due subscription", sub.SubscriptionStatus).
		WithReportableDetails(map[string]any{
			"subscription_id": sub.ID,
			"status":          sub.SubscriptionStatus,
		}).
		Mark(ierr.ErrInvalidOperation)
}

// remainingWholeDays counts the days left until end, rounding any partial
// day up so started days are never lost.
func remainingWholeDays(now, end time.Time) int {
	remaining := end.Sub(now)
	if remaining <= 0 {
		return 0
	}
	days := int(remaining / (24 * time.Hour))
	if remaining%(24*time.Hour) != 0 {
		days++
	}
	return days
}

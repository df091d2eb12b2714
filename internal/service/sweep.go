package service

import (
	"context"
	"time"

	"github.com/hirewire/billing/internal/api/dto"
	"github.com/hirewire/billing/internal/domain/payment"
	"github.com/hirewire/billing/internal/domain/reminder"
	"github.com/hirewire/billing/internal/domain/subscription"
	ierr "github.com/hirewire/billing/internal/errors"
	"github.com/hirewire/billing/internal/idempotency"
	"github.com/hirewire/billing/internal/notification"
	"github.com/hirewire/billing/internal/types"
)

// sweepLockTTL bounds how long a crashed run keeps its successor locked out.
const sweepLockTTL = 10 * time.Minute

// SweepService runs the periodic batch jobs over the subscription population.
// Runs are triggered externally and hold a per sweep run lock for their
// duration. Items are processed independently: a failing subscription is
// recorded in the report and the rest of the batch proceeds, so a rerun after
// a partial failure picks up exactly the items that did not commit.
type SweepService interface {
	RunExpirationSweep(ctx context.Context) (*dto.SweepResponse, error)
	RunScheduledDowngradeSweep(ctx context.Context) (*dto.SweepResponse, error)
	RunRenewalReminderSweep(ctx context.Context, req dto.RunReminderSweepRequest) (*dto.SweepResponse, error)
}

type sweepService struct {
	ServiceParams
}

func NewSweepService(params ServiceParams) SweepService {
	return &sweepService{ServiceParams: params}
}

// RunExpirationSweep transitions overdue subscriptions out of active. With a
// grace period configured the transition is two phased: overdue rows first go
// to past_due, and a later run expires those whose grace has elapsed. Without
// grace an overdue row expires immediately.
func (s *sweepService) RunExpirationSweep(ctx context.Context) (*dto.SweepResponse, error) {
	release, err := s.Locks.Acquire(types.SweepTypeExpiration.String(), sweepLockTTL)
	if err != nil {
		return nil, err
	}
	defer release()

	now := s.Clock.Now().UTC()
	resp := &dto.SweepResponse{
		SweepType: types.SweepTypeExpiration,
		StartedAt: now,
		Items:     []*dto.SweepItemResult{},
	}
	graceDays := s.Config.Billing.GracePeriodDays

	overdue, err := s.SubRepo.ListExpiringBefore(ctx, subscription.ExpiringBeforeQuery{
		Cutoff: now,
		Status: types.SubscriptionStatusActive,
	})
	if err != nil {
		return nil, err
	}
	for _, sub := range overdue {
		if graceDays > 0 && now.Before(sub.EndDate.AddDate(0, 0, graceDays)) {
			resp.Record(s.markPastDue(ctx, sub, now))
			continue
		}
		resp.Record(s.expire(ctx, sub, now))
	}

	if graceDays > 0 {
		lapsed, err := s.SubRepo.ListExpiringBefore(ctx, subscription.ExpiringBeforeQuery{
			Cutoff: now.AddDate(0, 0, -graceDays),
			Status: types.SubscriptionStatusPastDue,
		})
		if err != nil {
			return nil, err
		}
		for _, sub := range lapsed {
			resp.Record(s.expire(ctx, sub, now))
		}
	}

	resp.CompletedAt = s.Clock.Now().UTC()
	s.Logger.Infow("expiration sweep complete",
		"processed", resp.Processed,
		"succeeded", resp.Succeeded,
		"failed", resp.Failed,
		"skipped", resp.Skipped,
	)
	return resp, nil
}

// RunScheduledDowngradeSweep applies downgrades whose effective date has
// arrived. The credit is written before the plan swap because the swap clears
// the schedule fields that make the subscription a candidate: every step
// before the swap is idempotent, so an interrupted run resumes cleanly on the
// next trigger.
func (s *sweepService) RunScheduledDowngradeSweep(ctx context.Context) (*dto.SweepResponse, error) {
	release, err := s.Locks.Acquire(types.SweepTypeScheduledDowngrade.String(), sweepLockTTL)
	if err != nil {
		return nil, err
	}
	defer release()

	now := s.Clock.Now().UTC()
	resp := &dto.SweepResponse{
		SweepType: types.SweepTypeScheduledDowngrade,
		StartedAt: now,
		Items:     []*dto.SweepItemResult{},
	}

	due, err := s.SubRepo.ListDueDowngrades(ctx, subscription.DueDowngradesQuery{Cutoff: now})
	if err != nil {
		return nil, err
	}
	for _, sub := range due {
		resp.Record(s.applyDowngrade(ctx, sub, now))
	}

	resp.CompletedAt = s.Clock.Now().UTC()
	s.Logger.Infow("downgrade sweep complete",
		"processed", resp.Processed,
		"succeeded", resp.Succeeded,
		"failed", resp.Failed,
		"skipped", resp.Skipped,
	)
	return resp, nil
}

// RunRenewalReminderSweep sends reminders at each configured offset to
// subscriptions expiring on the matching calendar day. The reminder row is
// inserted before the notification goes out; its uniqueness over
// (subscription, offset, day) makes repeated runs send at most once.
func (s *sweepService) RunRenewalReminderSweep(ctx context.Context, req dto.RunReminderSweepRequest) (*dto.SweepResponse, error) {
	release, err := s.Locks.Acquire(types.SweepTypeRenewalReminder.String(), sweepLockTTL)
	if err != nil {
		return nil, err
	}
	defer release()

	offsets := req.Offsets
	if len(offsets) == 0 {
		offsets = s.Config.Billing.ReminderDays
	}
	if len(offsets) == 0 {
		offsets = types.DefaultReminderOffsets
	}
	for _, daysBefore := range offsets {
		if daysBefore < 1 {
			return nil, ierr.NewError("invalid reminder offset").
				WithHint("Reminder offsets must be at least one day").
				WithReportableDetails(map[string]any{"offsets": offsets}).
				Mark(ierr.ErrValidation)
		}
	}

	now := s.Clock.Now().UTC()
	resp := &dto.SweepResponse{
		SweepType: types.SweepTypeRenewalReminder,
		StartedAt: now,
		Items:     []*dto.SweepItemResult{},
	}

	for _, daysBefore := range offsets {
		expiring, err := s.SubRepo.ListExpiringOnDay(ctx, subscription.ExpiringOnDayQuery{
			Day: now.AddDate(0, 0, daysBefore),
		})
		if err != nil {
			return nil, err
		}
		for _, sub := range expiring {
			resp.Record(s.sendReminder(ctx, sub, daysBefore, now))
		}
	}

	resp.CompletedAt = s.Clock.Now().UTC()
	s.Logger.Infow("reminder sweep complete",
		"offsets", offsets,
		"processed", resp.Processed,
		"succeeded", resp.Succeeded,
		"failed", resp.Failed,
		"skipped", resp.Skipped,
	)
	return resp, nil
}

func (s *sweepService) markPastDue(ctx context.Context, sub *subscription.Subscription, now time.Time) *dto.SweepItemResult {
	expectedVersion := sub.Version
	sub.SubscriptionStatus = types.SubscriptionStatusPastDue
	sub.UpdatedAt = now
	sub.UpdatedBy = types.GetUserID(ctx)

	if err := s.SubRepo.UpdateWithVersion(ctx, sub, expectedVersion); err != nil {
		return sweepItemError(sub.ID, err)
	}

	s.Logger.Infow("marked subscription past due",
		"subscription_id", sub.ID,
		"end_date", sub.EndDate,
		"grace_days", s.Config.Billing.GracePeriodDays,
	)
	s.publish(ctx, types.NotificationSubscriptionPastDue, sub, map[string]interface{}{
		"end_date":   sub.EndDate,
		"grace_days": s.Config.Billing.GracePeriodDays,
	})

	return &dto.SweepItemResult{SubscriptionID: sub.ID, Status: dto.SweepItemSucceeded}
}

func (s *sweepService) expire(ctx context.Context, sub *subscription.Subscription, now time.Time) *dto.SweepItemResult {
	expectedVersion := sub.Version
	sub.SubscriptionStatus = types.SubscriptionStatusExpired
	sub.UpdatedAt = now
	sub.UpdatedBy = types.GetUserID(ctx)

	if err := s.SubRepo.UpdateWithVersion(ctx, sub, expectedVersion); err != nil {
		return sweepItemError(sub.ID, err)
	}

	s.Logger.Infow("expired subscription",
		"subscription_id", sub.ID,
		"end_date", sub.EndDate,
	)
	s.publish(ctx, types.NotificationSubscriptionExpired, sub, map[string]interface{}{
		"end_date": sub.EndDate,
	})

	return &dto.SweepItemResult{SubscriptionID: sub.ID, Status: dto.SweepItemSucceeded}
}

func (s *sweepService) applyDowngrade(ctx context.Context, sub *subscription.Subscription, now time.Time) *dto.SweepItemResult {
	if sub.ScheduledDowngradeID == nil {
		return &dto.SweepItemResult{
			SubscriptionID: sub.ID,
			Status:         dto.SweepItemSkipped,
			Error:          "no scheduled downgrade on record",
		}
	}

	dg, err := s.HistoryRepo.GetDowngrade(ctx, *sub.ScheduledDowngradeID)
	if err != nil {
		return sweepItemError(sub.ID, err)
	}

	pay, err := s.writeCredit(ctx, sub, dg, now)
	if err != nil {
		return sweepItemError(sub.ID, err)
	}

	if err := s.HistoryRepo.MarkDowngradeApplied(ctx, dg.ID, now); err != nil {
		return sweepItemError(sub.ID, err)
	}

	expectedVersion := sub.Version
	sub.PlanID = dg.ToPlanID
	sub.ScheduledDowngradeID = nil
	sub.ScheduledDowngradeDate = nil
	sub.UpdatedAt = now
	sub.UpdatedBy = types.GetUserID(ctx)

	if err := s.SubRepo.UpdateWithVersion(ctx, sub, expectedVersion); err != nil {
		return sweepItemError(sub.ID, err)
	}

	s.Logger.Infow("applied scheduled downgrade",
		"subscription_id", sub.ID,
		"downgrade_id", dg.ID,
		"to_plan_id", dg.ToPlanID,
		"credit_amount", dg.CreditAmount,
		"payment_id", pay.ID,
	)
	s.publish(ctx, types.NotificationDowngradeApplied, sub, map[string]interface{}{
		"downgrade_id":  dg.ID,
		"to_plan_id":    dg.ToPlanID,
		"credit_amount": dg.CreditAmount,
	})

	return &dto.SweepItemResult{
		SubscriptionID: sub.ID,
		Status:         dto.SweepItemSucceeded,
		Amount:         &dg.CreditAmount,
	}
}

func (s *sweepService) sendReminder(ctx context.Context, sub *subscription.Subscription, daysBefore int, now time.Time) *dto.SweepItemResult {
	sent, err := s.ReminderRepo.Exists(ctx, sub.ID, daysBefore, now)
	if err != nil {
		return sweepItemError(sub.ID, err)
	}
	if sent {
		return &dto.SweepItemResult{
			SubscriptionID: sub.ID,
			Status:         dto.SweepItemSkipped,
			DaysBefore:     daysBefore,
		}
	}

	rem := &reminder.Reminder{
		ID:             types.GenerateUUIDWithPrefix(types.UUID_PREFIX_REMINDER),
		SubscriptionID: sub.ID,
		DaysBefore:     daysBefore,
		SentOn:         reminder.DateOf(now),
		SentAt:         now,
		BaseModel:      types.GetDefaultBaseModelAt(ctx, now),
	}
	if err := s.ReminderRepo.Create(ctx, rem); err != nil {
		// The unique key is the real guard; a duplicate here means another
		// writer got in between the existence check and the insert.
		if ierr.IsAlreadyExists(err) {
			return &dto.SweepItemResult{
				SubscriptionID: sub.ID,
				Status:         dto.SweepItemSkipped,
				DaysBefore:     daysBefore,
			}
		}
		return sweepItemError(sub.ID, err)
	}

	s.publish(ctx, types.NotificationRenewalReminder, sub, map[string]interface{}{
		"days_before": daysBefore,
		"end_date":    sub.EndDate,
	})

	return &dto.SweepItemResult{
		SubscriptionID: sub.ID,
		Status:         dto.SweepItemSucceeded,
		DaysBefore:     daysBefore,
	}
}

// writeCredit issues the downgrade credit. The key is derived from the
// downgrade id alone, so reruns and retries land on the same ledger row.
func (s *sweepService) writeCredit(ctx context.Context, sub *subscription.Subscription, dg *subscription.Downgrade, now time.Time) (*payment.Payment, error) {
	key := s.IdempotencyGen.GenerateKey(idempotency.ScopeCreditDowngrade, map[string]interface{}{
		"downgrade_id": dg.ID,
	})

	p := &payment.Payment{
		ID:              types.GenerateUUIDWithPrefix(types.UUID_PREFIX_PAYMENT),
		ReferenceNumber: types.GenerateShortIDWithPrefix("PAY-"),
		SubscriptionID:  sub.ID,
		Kind:            types.PaymentKindCredit,
		Amount:          dg.CreditAmount,
		Description:     "Credit for unused time on downgrade",
		IdempotencyKey:  key,
		BaseModel:       types.GetDefaultBaseModelAt(ctx, now),
	}
	p.SetSubscriber(sub.Subscriber())

	if err := p.Validate(); err != nil {
		return nil, err
	}

	if err := s.PaymentRepo.Create(ctx, p); err != nil {
		if ierr.IsAlreadyExists(err) {
			s.Logger.Debugw("downgrade credit already issued, reusing",
				"downgrade_id", dg.ID,
				"idempotency_key", key,
			)
			return s.PaymentRepo.GetByIdempotencyKey(ctx, key)
		}
		return nil, err
	}

	return p, nil
}

func (s *sweepService) publish(ctx context.Context, eventType types.NotificationType, sub *subscription.Subscription, payload map[string]interface{}) {
	event := notification.NewEvent(eventType, types.GetTenantID(ctx), sub.Subscriber(), sub.ID, s.Clock.Now().UTC(), payload)
	if err := s.Publisher.Publish(ctx, event); err != nil {
		s.Logger.Errorw("failed to publish notification event",
			"error", err,
			"event_type", eventType,
			"subscription_id", sub.ID,
		)
	}
}

// sweepItemError folds one failed item into the report. A version conflict
// means an interactive operation changed the row between the candidate query
// and the update; the row is left for the next run to reconsider.
func sweepItemError(subscriptionID string, err error) *dto.SweepItemResult {
	if ierr.IsVersionConflict(err) {
		return &dto.SweepItemResult{
			SubscriptionID: subscriptionID,
			Status:         dto.SweepItemSkipped,
			Error:          "concurrently modified",
		}
	}
	return &dto.SweepItemResult{
		SubscriptionID: subscriptionID,
		Status:         dto.SweepItemFailed,
		Error:          err.Error(),
	}
}

package subscription

import (
	"context"
	"time"

	"github.com/hirewire/billing/internal/types"
)

// ExpiringBeforeQuery selects subscriptions in the given status whose end
// date lies strictly before the cutoff.
type ExpiringBeforeQuery struct {
	Cutoff time.Time
	Status types.SubscriptionStatus
}

// DueDowngradesQuery selects active subscriptions whose scheduled downgrade
// date has reached the cutoff.
type DueDowngradesQuery struct {
	Cutoff time.Time
}

// ExpiringOnDayQuery selects active subscriptions whose end date falls on
// the UTC calendar day containing Day.
type ExpiringOnDayQuery struct {
	Day time.Time
}

// Repository defines the interface for subscription persistence
type Repository interface {
	// CreateIfNoActive inserts the subscription only if its subscriber has
	// no active subscription, atomically. A second active row for the same
	// subscriber fails with an already exists error.
	CreateIfNoActive(ctx context.Context, sub *Subscription) error
	Get(ctx context.Context, id string) (*Subscription, error)
	List(ctx context.Context, filter *types.SubscriptionFilter) ([]*Subscription, error)
	ListAll(ctx context.Context, filter *types.SubscriptionFilter) ([]*Subscription, error)
	Count(ctx context.Context, filter *types.SubscriptionFilter) (int, error)
	// UpdateWithVersion persists sub only when the stored row still carries
	// expectedVersion, bumping the version on success. A mismatch fails with
	// a version conflict error.
	UpdateWithVersion(ctx context.Context, sub *Subscription, expectedVersion int) error
	// CountTrials counts subscriptions of the subscriber that ever entered a
	// trial, including trials since converted to paid.
	CountTrials(ctx context.Context, ref types.SubscriberRef) (int, error)
	ListExpiringBefore(ctx context.Context, q ExpiringBeforeQuery) ([]*Subscription, error)
	ListDueDowngrades(ctx context.Context, q DueDowngradesQuery) ([]*Subscription, error)
	ListExpiringOnDay(ctx context.Context, q ExpiringOnDayQuery) ([]*Subscription, error)
}

// HistoryRepository persists the append only lifecycle records.
type HistoryRepository interface {
	CreateRenewal(ctx context.Context, renewal *Renewal) error
	CreateUpgrade(ctx context.Context, upgrade *Upgrade) error
	CreateDowngrade(ctx context.Context, downgrade *Downgrade) error
	CreateCancellation(ctx context.Context, cancellation *Cancellation) error
	CreateTrialConversion(ctx context.Context, conversion *TrialConversion) error
	GetDowngrade(ctx context.Context, id string) (*Downgrade, error)
	// MarkDowngradeApplied flips the applied flag exactly once. Marking an
	// already applied downgrade is a no op.
	MarkDowngradeApplied(ctx context.Context, id string, appliedAt time.Time) error
	GetBySubscription(ctx context.Context, subscriptionID string) (*History, error)
	// CountRenewals counts renewal records created inside the timeframe.
	CountRenewals(ctx context.Context, tf types.Timeframe) (int, error)
}

package types

// NotificationType names a subscriber facing event dispatched by the engine.
// Delivery is fire and forget; rendering and channels live in the notifier
// service downstream.
type NotificationType string

const (
	NotificationSubscriptionCreated   NotificationType = "subscription.created"
	NotificationTrialStarted          NotificationType = "subscription.trial_started"
	NotificationSubscriptionRenewed   NotificationType = "subscription.renewed"
	NotificationSubscriptionUpgraded  NotificationType = "subscription.upgraded"
	NotificationDowngradeScheduled    NotificationType = "subscription.downgrade_scheduled"
	NotificationDowngradeApplied      NotificationType = "subscription.downgrade_applied"
	NotificationSubscriptionCancelled NotificationType = "subscription.cancelled"
	NotificationSubscriptionPastDue   NotificationType = "subscription.past_due"
	NotificationSubscriptionExpired   NotificationType = "subscription.expired"
	NotificationTrialConverted        NotificationType = "subscription.trial_converted"
	NotificationRenewalReminder       NotificationType = "subscription.renewal_reminder"
	NotificationUsageNearLimit        NotificationType = "usage.near_limit"
	NotificationUsageExceeded         NotificationType = "usage.limit_exceeded"
)

func (n NotificationType) String() string {
	return string(n)
}

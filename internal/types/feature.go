package types

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"

	ierr "github.com/hirewire/billing/internal/errors"
	"github.com/samber/lo"
)

// FeatureCode identifies a metered feature of the hiring platform. Plan
// limits and usage counters are keyed by these codes.
type FeatureCode string

const (
	FeatureJobPostings    FeatureCode = "job_postings"
	FeatureApplications   FeatureCode = "applications"
	FeatureResumeViews    FeatureCode = "resume_views"
	FeatureScoringCalls   FeatureCode = "scoring_calls"
	FeatureSupportTickets FeatureCode = "support_tickets"
)

// FeatureCodeValues lists every known feature code
var FeatureCodeValues = []FeatureCode{
	FeatureJobPostings,
	FeatureApplications,
	FeatureResumeViews,
	FeatureScoringCalls,
	FeatureSupportTickets,
}

func (f FeatureCode) String() string {
	return string(f)
}

func (f FeatureCode) Validate() error {
	if !lo.Contains(FeatureCodeValues, f) {
		return ierr.NewError("invalid feature code").
			WithHint("Unknown feature code").
			WithReportableDetails(map[string]any{
				"feature":        f,
				"allowed_values": FeatureCodeValues,
			}).
			Mark(ierr.ErrValidation)
	}
	return nil
}

// FeatureLimits maps a feature code to its integer cap for a plan, stored as
// a JSONB column. A missing feature or a cap <= 0 means unlimited.
type FeatureLimits map[FeatureCode]int64

// Scan implements the sql.Scanner interface for FeatureLimits
func (l *FeatureLimits) Scan(value interface{}) error {
	if value == nil {
		*l = make(FeatureLimits)
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("failed to unmarshal JSONB value: %v", value)
	}

	result := make(FeatureLimits)
	err := json.Unmarshal(bytes, &result)
	*l = result
	return err
}

// Value implements the driver.Valuer interface for FeatureLimits
func (l FeatureLimits) Value() (driver.Value, error) {
	if l == nil {
		return json.Marshal(make(FeatureLimits))
	}
	return json.Marshal(l)
}

// Get returns the cap for a feature and whether the feature is limited at
// all. Unlimited features report ok=false.
func (l FeatureLimits) Get(feature FeatureCode) (int64, bool) {
	limit, exists := l[feature]
	if !exists || limit <= 0 {
		return 0, false
	}
	return limit, true
}

func (l FeatureLimits) Validate() error {
	for feature, limit := range l {
		if err := feature.Validate(); err != nil {
			return err
		}
		if limit < 0 {
			return ierr.NewError("invalid feature limit").
				WithHintf("Limit for %s cannot be negative", feature).
				WithReportableDetails(map[string]any{
					"feature": feature,
					"limit":   limit,
				}).
				Mark(ierr.ErrValidation)
		}
	}
	return nil
}

// UsageStatus classifies consumption of a limited feature within the current
// billing window.
type UsageStatus string

const (
	UsageStatusOK        UsageStatus = "ok"
	UsageStatusNearLimit UsageStatus = "near_limit"
	UsageStatusExceeded  UsageStatus = "exceeded"
)

func (s UsageStatus) String() string {
	return string(s)
}

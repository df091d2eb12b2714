package plan

import (
	"time"

	ierr "github.com/hirewire/billing/internal/errors"
	"github.com/hirewire/billing/internal/types"
	"github.com/shopspring/decimal"
)

type Plan struct {
	ID             string              `db:"id" json:"id"`
	Name           string              `db:"name" json:"name"`
	LookupKey      string              `db:"lookup_key" json:"lookup_key"`
	Description    string              `db:"description" json:"description"`
	Price          decimal.Decimal     `db:"price" json:"price"`
	DurationMonths int                 `db:"duration_months" json:"duration_months"`
	IsTrial        bool                `db:"is_trial" json:"is_trial"`
	Limits         types.FeatureLimits `db:"limits" json:"limits"`
	Metadata       types.Metadata      `db:"metadata" json:"metadata,omitempty"`
	types.BaseModel
}

func (p *Plan) Validate() error {
	if p.Name == "" {
		return ierr.NewError("plan name is required").
			WithHint("Plan name is required").
			Mark(ierr.ErrValidation)
	}
	if p.Price.IsNegative() {
		return ierr.NewError("plan price cannot be negative").
			WithHint("Price must be zero or positive").
			WithReportableDetails(map[string]any{
				"price": p.Price,
			}).
			Mark(ierr.ErrValidation)
	}
	if p.DurationMonths < 1 {
		return ierr.NewError("plan duration must be at least one month").
			WithHint("Duration must be at least one month").
			WithReportableDetails(map[string]any{
				"duration_months": p.DurationMonths,
			}).
			Mark(ierr.ErrValidation)
	}
	return p.Limits.Validate()
}

// LimitFor returns the cap for a feature and whether the feature is limited
// on this plan at all.
func (p *Plan) LimitFor(feature types.FeatureCode) (int64, bool) {
	return p.Limits.Get(feature)
}

// PeriodEnd returns the end of a billing period starting at start.
func (p *Plan) PeriodEnd(start time.Time) time.Time {
	return start.AddDate(0, p.DurationMonths, 0)
}

// MonthlyPrice normalizes the plan price to one month for recurring revenue
// aggregation. A 12 month plan priced 1200 contributes 100.
func (p *Plan) MonthlyPrice() decimal.Decimal {
	if p.DurationMonths <= 1 {
		return p.Price
	}
	return p.Price.Div(decimal.NewFromInt(int64(p.DurationMonths)))
}

// IsPricierThan reports whether this plan costs strictly more than other.
func (p *Plan) IsPricierThan(other *Plan) bool {
	return p.Price.GreaterThan(other.Price)
}

// IsCheaperThan reports whether this plan costs strictly less than other.
func (p *Plan) IsCheaperThan(other *Plan) bool {
	return p.Price.LessThan(other.Price)
}

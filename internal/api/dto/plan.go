package dto

import (
	"context"

	"github.com/hirewire/billing/internal/domain/plan"
	"github.com/hirewire/billing/internal/types"
	"github.com/shopspring/decimal"
)

// CreatePlanRequest represents a request to create a catalog plan
type CreatePlanRequest struct {
	Name           string              `json:"name" binding:"required"`
	LookupKey      string              `json:"lookup_key"`
	Description    string              `json:"description"`
	Price          decimal.Decimal     `json:"price"`
	DurationMonths int                 `json:"duration_months" binding:"required,min=1"`
	IsTrial        bool                `json:"is_trial"`
	Limits         types.FeatureLimits `json:"limits,omitempty"`
	Metadata       types.Metadata      `json:"metadata,omitempty"`
}

// ToPlan converts the request to a domain plan
func (r *CreatePlanRequest) ToPlan(ctx context.Context) *plan.Plan {
	return &plan.Plan{
		ID:             types.GenerateUUIDWithPrefix(types.UUID_PREFIX_PLAN),
		Name:           r.Name,
		LookupKey:      r.LookupKey,
		Description:    r.Description,
		Price:          r.Price,
		DurationMonths: r.DurationMonths,
		IsTrial:        r.IsTrial,
		Limits:         r.Limits,
		Metadata:       r.Metadata,
		BaseModel:      types.GetDefaultBaseModel(ctx),
	}
}

// UpdatePlanRequest represents a request to update a catalog plan. Nil fields
// are left untouched.
type UpdatePlanRequest struct {
	Name           *string              `json:"name,omitempty"`
	LookupKey      *string              `json:"lookup_key,omitempty"`
	Description    *string              `json:"description,omitempty"`
	Price          *decimal.Decimal     `json:"price,omitempty"`
	DurationMonths *int                 `json:"duration_months,omitempty"`
	Limits         *types.FeatureLimits `json:"limits,omitempty"`
	Metadata       *types.Metadata      `json:"metadata,omitempty"`
}

// PlanResponse represents a plan in API responses
type PlanResponse struct {
	*plan.Plan
}

// NewPlanResponse creates a plan response from a domain plan
func NewPlanResponse(p *plan.Plan) *PlanResponse {
	return &PlanResponse{Plan: p}
}

// ListPlansResponse represents the response for listing plans
type ListPlansResponse = types.ListResponse[*PlanResponse]

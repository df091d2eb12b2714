package v1

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hirewire/billing/internal/api/dto"
	"github.com/hirewire/billing/internal/domain/events"
	ierr "github.com/hirewire/billing/internal/errors"
	"github.com/hirewire/billing/internal/logger"
	"github.com/hirewire/billing/internal/service"
	"github.com/hirewire/billing/internal/types"
)

type UsageHandler struct {
	service service.UsageService
	log     *logger.Logger
}

func NewUsageHandler(service service.UsageService, log *logger.Logger) *UsageHandler {
	return &UsageHandler{service: service, log: log}
}

// @Summary Record usage
// @Description Record feature consumption against the subscription's limits
// @Tags Usage
// @Accept json
// @Produce json
// @Param id path string true "Subscription ID"
// @Param request body dto.RecordUsageRequest true "Usage Request"
// @Success 200 {object} dto.RecordUsageResponse
// @Failure 400 {object} ierr.ErrorResponse
// @Failure 404 {object} ierr.ErrorResponse
// @Failure 500 {object} ierr.ErrorResponse
// @Router /subscriptions/{id}/usage [post]
func (h *UsageHandler) RecordUsage(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		c.Error(ierr.NewError("subscription ID is required").
			WithHint("Please provide a valid subscription ID").
			Mark(ierr.ErrValidation))
		return
	}

	var req dto.RecordUsageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Error("Failed to bind JSON", "error", err)
		c.Error(ierr.WithError(err).
			WithHint("Invalid request format").
			Mark(ierr.ErrValidation))
		return
	}

	resp, err := h.service.RecordUsage(c.Request.Context(), id, req)
	if err != nil {
		h.log.Error("Failed to record usage", "error", err)
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// @Summary Check feature limit
// @Description Check whether a prospective consumption fits under the feature cap
// @Tags Usage
// @Produce json
// @Param id path string true "Subscription ID"
// @Param feature path string true "Feature code"
// @Param count query int false "Requested count, default 1"
// @Success 200 {object} dto.CheckLimitResponse
// @Failure 400 {object} ierr.ErrorResponse
// @Failure 404 {object} ierr.ErrorResponse
// @Failure 500 {object} ierr.ErrorResponse
// @Router /subscriptions/{id}/limits/{feature} [get]
func (h *UsageHandler) CheckLimit(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		c.Error(ierr.NewError("subscription ID is required").
			WithHint("Please provide a valid subscription ID").
			Mark(ierr.ErrValidation))
		return
	}

	feature := types.FeatureCode(c.Param("feature"))

	requested := int64(1)
	if raw := c.Query("count"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed < 1 {
			c.Error(ierr.NewError("invalid count").
				WithHint("Count must be a positive integer").
				WithReportableDetails(map[string]any{"count": raw}).
				Mark(ierr.ErrValidation))
			return
		}
		requested = parsed
	}

	resp, err := h.service.CheckLimit(c.Request.Context(), id, feature, requested)
	if err != nil {
		h.log.Error("Failed to check limit", "error", err)
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// @Summary Get usage
// @Description Get per feature consumption for the current billing window
// @Tags Usage
// @Produce json
// @Param id path string true "Subscription ID"
// @Success 200 {object} dto.GetUsageResponse
// @Failure 404 {object} ierr.ErrorResponse
// @Failure 500 {object} ierr.ErrorResponse
// @Router /subscriptions/{id}/usage [get]
func (h *UsageHandler) GetUsage(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		c.Error(ierr.NewError("subscription ID is required").
			WithHint("Please provide a valid subscription ID").
			Mark(ierr.ErrValidation))
		return
	}

	resp, err := h.service.GetUsage(c.Request.Context(), id)
	if err != nil {
		h.log.Error("Failed to get usage", "error", err)
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// @Summary List usage events
// @Description List the audit trail of recorded usage events for a subscription
// @Tags Usage
// @Produce json
// @Param id path string true "Subscription ID"
// @Param feature query string false "Filter by feature code"
// @Param start_time query string false "RFC3339 window start"
// @Param end_time query string false "RFC3339 window end"
// @Param limit query int false "Max events, default 100"
// @Success 200 {object} dto.ListUsageEventsResponse
// @Failure 400 {object} ierr.ErrorResponse
// @Failure 500 {object} ierr.ErrorResponse
// @Router /subscriptions/{id}/usage/events [get]
func (h *UsageHandler) ListUsageEvents(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		c.Error(ierr.NewError("subscription ID is required").
			WithHint("Please provide a valid subscription ID").
			Mark(ierr.ErrValidation))
		return
	}

	params := &events.GetUsageEventsParams{SubscriptionID: id}
	if raw := c.Query("feature"); raw != "" {
		params.Feature = types.FeatureCode(raw)
	}
	if raw := c.Query("start_time"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.Error(ierr.WithError(err).
				WithHint("start_time must be RFC3339").
				Mark(ierr.ErrValidation))
			return
		}
		params.StartTime = t
	}
	if raw := c.Query("end_time"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.Error(ierr.WithError(err).
				WithHint("end_time must be RFC3339").
				Mark(ierr.ErrValidation))
			return
		}
		params.EndTime = t
	}
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			c.Error(ierr.NewError("invalid limit").
				WithHint("Limit must be a positive integer").
				Mark(ierr.ErrValidation))
			return
		}
		params.Limit = parsed
	}

	resp, err := h.service.ListUsageEvents(c.Request.Context(), id, params)
	if err != nil {
		h.log.Error("Failed to list usage events", "error", err)
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

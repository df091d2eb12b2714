package cron

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/hirewire/billing/internal/api/dto"
	ierr "github.com/hirewire/billing/internal/errors"
	"github.com/hirewire/billing/internal/logger"
	"github.com/hirewire/billing/internal/service"
)

// SubscriptionHandler exposes the batch sweeps to the external scheduler.
// Each endpoint runs one sweep synchronously and returns its report; a 409
// means another run of the same sweep still holds the lock.
type SubscriptionHandler struct {
	sweepService service.SweepService
	logger       *logger.Logger
}

func NewSubscriptionHandler(
	sweepService service.SweepService,
	logger *logger.Logger,
) *SubscriptionHandler {
	return &SubscriptionHandler{
		sweepService: sweepService,
		logger:       logger,
	}
}

// @Summary Run expiration sweep
// @Description Expire overdue subscriptions, honoring the configured grace period
// @Tags Cron
// @Produce json
// @Success 200 {object} dto.SweepResponse
// @Failure 409 {object} ierr.ErrorResponse
// @Failure 500 {object} ierr.ErrorResponse
// @Router /cron/subscriptions/expire [post]
func (h *SubscriptionHandler) RunExpirationSweep(c *gin.Context) {
	h.logger.Infow("starting expiration sweep")

	resp, err := h.sweepService.RunExpirationSweep(c.Request.Context())
	if err != nil {
		h.logger.Errorw("expiration sweep failed",
			"error", err)
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// @Summary Run scheduled downgrade sweep
// @Description Apply downgrades whose effective date has arrived
// @Tags Cron
// @Produce json
// @Success 200 {object} dto.SweepResponse
// @Failure 409 {object} ierr.ErrorResponse
// @Failure 500 {object} ierr.ErrorResponse
// @Router /cron/subscriptions/downgrades [post]
func (h *SubscriptionHandler) RunScheduledDowngradeSweep(c *gin.Context) {
	h.logger.Infow("starting scheduled downgrade sweep")

	resp, err := h.sweepService.RunScheduledDowngradeSweep(c.Request.Context())
	if err != nil {
		h.logger.Errorw("scheduled downgrade sweep failed",
			"error", err)
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// @Summary Run renewal reminder sweep
// @Description Send renewal reminders at the configured days-before-expiry offsets
// @Tags Cron
// @Accept json
// @Produce json
// @Param request body dto.RunReminderSweepRequest false "Offset override"
// @Success 200 {object} dto.SweepResponse
// @Failure 400 {object} ierr.ErrorResponse
// @Failure 409 {object} ierr.ErrorResponse
// @Failure 500 {object} ierr.ErrorResponse
// @Router /cron/subscriptions/reminders [post]
func (h *SubscriptionHandler) RunRenewalReminderSweep(c *gin.Context) {
	var req dto.RunReminderSweepRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.Error(ierr.WithError(err).
				WithHint("Invalid request format").
				Mark(ierr.ErrValidation))
			return
		}
	}

	h.logger.Infow("starting renewal reminder sweep",
		"offsets", req.Offsets)

	resp, err := h.sweepService.RunRenewalReminderSweep(c.Request.Context(), req)
	if err != nil {
		h.logger.Errorw("renewal reminder sweep failed",
			"error", err)
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

package v1

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	ierr "github.com/hirewire/billing/internal/errors"
	"github.com/hirewire/billing/internal/logger"
	"github.com/hirewire/billing/internal/service"
	"github.com/hirewire/billing/internal/types"
)

type AnalyticsHandler struct {
	service service.AnalyticsService
	log     *logger.Logger
}

func NewAnalyticsHandler(service service.AnalyticsService, log *logger.Logger) *AnalyticsHandler {
	return &AnalyticsHandler{service: service, log: log}
}

// @Summary Get analytics
// @Description Get churn, renewal rate, MRR/ARR and growth for a window, default last 30 days
// @Tags Analytics
// @Produce json
// @Param from query string false "RFC3339 window start"
// @Param to query string false "RFC3339 window end"
// @Success 200 {object} dto.AnalyticsResponse
// @Failure 400 {object} ierr.ErrorResponse
// @Failure 500 {object} ierr.ErrorResponse
// @Router /analytics [get]
func (h *AnalyticsHandler) GetAnalytics(c *gin.Context) {
	var tf types.Timeframe
	if raw := c.Query("from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.Error(ierr.WithError(err).
				WithHint("from must be RFC3339").
				Mark(ierr.ErrValidation))
			return
		}
		tf.Start = t
	}
	if raw := c.Query("to"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.Error(ierr.WithError(err).
				WithHint("to must be RFC3339").
				Mark(ierr.ErrValidation))
			return
		}
		tf.End = t
	}

	resp, err := h.service.GetAnalytics(c.Request.Context(), tf)
	if err != nil {
		h.log.Error("Failed to compute analytics", "error", err)
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

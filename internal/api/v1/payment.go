package v1

import (
	"net/http"

	"github.com/gin-gonic/gin"
	ierr "github.com/hirewire/billing/internal/errors"
	"github.com/hirewire/billing/internal/logger"
	"github.com/hirewire/billing/internal/service"
	"github.com/hirewire/billing/internal/types"
)

type PaymentHandler struct {
	service service.PaymentService
	log     *logger.Logger
}

func NewPaymentHandler(service service.PaymentService, log *logger.Logger) *PaymentHandler {
	return &PaymentHandler{service: service, log: log}
}

// @Summary Get ledger entry
// @Description Get a single payment ledger entry by ID
// @Tags Payments
// @Produce json
// @Param id path string true "Payment ID"
// @Success 200 {object} dto.PaymentResponse
// @Failure 404 {object} ierr.ErrorResponse
// @Failure 500 {object} ierr.ErrorResponse
// @Router /payments/{id} [get]
func (h *PaymentHandler) GetPayment(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		c.Error(ierr.NewError("payment ID is required").
			WithHint("Please provide a valid payment ID").
			Mark(ierr.ErrValidation))
		return
	}

	resp, err := h.service.GetPayment(c.Request.Context(), id)
	if err != nil {
		h.log.Error("Failed to get payment", "error", err)
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// @Summary List ledger entries
// @Description Get payment ledger entries filtered by subscriber or subscription
// @Tags Payments
// @Produce json
// @Param filter query types.PaymentFilter false "Filter"
// @Param user_id query string false "Filter by user"
// @Param employer_id query string false "Filter by employer"
// @Success 200 {object} dto.ListPaymentsResponse
// @Failure 400 {object} ierr.ErrorResponse
// @Failure 500 {object} ierr.ErrorResponse
// @Router /payments [get]
func (h *PaymentHandler) ListPayments(c *gin.Context) {
	var filter types.PaymentFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		h.log.Error("Failed to bind query", "error", err)
		c.Error(ierr.WithError(err).
			WithHint("Invalid filter parameters").
			Mark(ierr.ErrValidation))
		return
	}

	if userID, employerID := c.Query("user_id"), c.Query("employer_id"); userID != "" || employerID != "" {
		filter.SubscriberRef = &types.SubscriberRef{UserID: userID, EmployerID: employerID}
	}

	resp, err := h.service.ListPayments(c.Request.Context(), &filter)
	if err != nil {
		h.log.Error("Failed to list payments", "error", err)
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

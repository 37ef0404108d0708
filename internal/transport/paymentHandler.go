package transport

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/ds124wfegd/roombooker/internal/entity"
	"github.com/ds124wfegd/roombooker/internal/service"
)

const WebhookSecretHeader = "X-Webhook-Secret"

type PaymentHandler struct {
	paymentService service.PaymentService
	webhookSecret  string
	log            *logrus.Entry
}

func NewPaymentHandler(paymentService service.PaymentService, webhookSecret string, log *logrus.Entry) *PaymentHandler {
	return &PaymentHandler{
		paymentService: paymentService,
		webhookSecret:  webhookSecret,
		log:            log.WithField("component", "payment_handler"),
	}
}

type RefundRequest struct {
	Amount *float64 `json:"amount,omitempty"`
}

func (h *PaymentHandler) CreatePayment(c *gin.Context) {
	actor, ok := actorOrAbort(c)
	if !ok {
		return
	}

	var req service.RecordPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	payment, err := h.paymentService.CreatePayment(c.Request.Context(), actor, &req)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	respond(c, http.StatusOK, "Payment recorded", payment)
}

func (h *PaymentHandler) CreateIntent(c *gin.Context) {
	actor, ok := actorOrAbort(c)
	if !ok {
		return
	}

	var req service.CreateIntentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	result, err := h.paymentService.CreateIntent(c.Request.Context(), actor, &req)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	respond(c, http.StatusCreated, "Payment intent created", result)
}

func (h *PaymentHandler) ConfirmIntent(c *gin.Context) {
	actor, ok := actorOrAbort(c)
	if !ok {
		return
	}

	payment, err := h.paymentService.ConfirmIntent(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	respond(c, http.StatusOK, "Payment intent confirmed", payment)
}

func (h *PaymentHandler) CancelIntent(c *gin.Context) {
	actor, ok := actorOrAbort(c)
	if !ok {
		return
	}

	payment, err := h.paymentService.CancelIntent(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	respond(c, http.StatusOK, "Payment intent cancelled", payment)
}

func (h *PaymentHandler) Refund(c *gin.Context) {
	actor, ok := actorOrAbort(c)
	if !ok {
		return
	}

	// Тело необязательно: без amount возвращается вся сумма
	var req RefundRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
	}

	payment, err := h.paymentService.Refund(c.Request.Context(), actor, c.Param("id"), req.Amount)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	respond(c, http.StatusOK, "Payment refunded", payment)
}

// Webhook принимает уведомления шлюза. Повторная доставка того же события
// отвечает 200 с applied=false.
func (h *PaymentHandler) Webhook(c *gin.Context) {
	if h.webhookSecret != "" {
		got := c.GetHeader(WebhookSecretHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.webhookSecret)) != 1 {
			c.JSON(http.StatusUnauthorized, ErrorResponse{Success: false, Error: entity.ErrUnauthorized.Error()})
			return
		}
	}

	var event entity.GatewayEvent
	if err := c.ShouldBindJSON(&event); err != nil {
		badRequest(c, err.Error())
		return
	}

	applied, err := h.paymentService.HandleGatewayEvent(c.Request.Context(), &event)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	respond(c, http.StatusOK, "Event processed", gin.H{"event_id": event.ID, "applied": applied})
}

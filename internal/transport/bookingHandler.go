package transport

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/ds124wfegd/roombooker/internal/entity"
	"github.com/ds124wfegd/roombooker/internal/service"
)

type BookingHandler struct {
	bookingService service.BookingService
	paymentService service.PaymentService
	log            *logrus.Entry
}

func NewBookingHandler(bookingService service.BookingService, paymentService service.PaymentService, log *logrus.Entry) *BookingHandler {
	return &BookingHandler{
		bookingService: bookingService,
		paymentService: paymentService,
		log:            log.WithField("component", "booking_handler"),
	}
}

// StatusRequest смена статуса брони или статуса оплаты администратором
type StatusRequest struct {
	Status string `json:"status" binding:"required"`
}

type PriceRequest struct {
	TotalPrice *float64 `json:"total_price" binding:"required"`
}

// PaginationMeta описывает срез списка
type PaginationMeta struct {
	Total  int `json:"total"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

func (h *BookingHandler) CreateBooking(c *gin.Context) {
	actor, ok := actorOrAbort(c)
	if !ok {
		return
	}

	var req service.CreateBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	details, err := h.bookingService.Create(c.Request.Context(), actor, &req)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	respond(c, http.StatusCreated, "Booking created", details)
}

func (h *BookingHandler) GetBookings(c *gin.Context) {
	actor, ok := actorOrAbort(c)
	if !ok {
		return
	}

	var filter entity.BookingFilter
	if filter.RoomID, ok = queryInt64(c, "room_id"); !ok {
		return
	}
	if filter.RequesterID, ok = queryInt64(c, "requester_id"); !ok {
		return
	}
	// Клиент видит только свои брони, что бы ни пришло в запросе
	if !actor.IsAdmin() {
		own := actor.ID
		filter.RequesterID = &own
	}
	if raw := c.Query("status"); raw != "" {
		status := entity.BookingStatus(raw)
		filter.Status = &status
	}
	if raw := c.Query("payment_status"); raw != "" {
		status := entity.PaymentStatus(raw)
		filter.PaymentStatus = &status
	}

	limit, offset, ok := pagination(c)
	if !ok {
		return
	}

	bookings, err := h.bookingService.List(c.Request.Context(), filter)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	total := len(bookings)
	c.JSON(http.StatusOK, SuccessResponse{
		Success: true,
		Message: "Bookings retrieved",
		Data:    page(bookings, limit, offset),
		Meta:    PaginationMeta{Total: total, Limit: limit, Offset: offset},
	})
}

func (h *BookingHandler) GetBooking(c *gin.Context) {
	actor, ok := actorOrAbort(c)
	if !ok {
		return
	}
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	details, err := h.bookingService.Get(c.Request.Context(), actor, id)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	respond(c, http.StatusOK, "Booking retrieved", details)
}

func (h *BookingHandler) CancelBooking(c *gin.Context) {
	actor, ok := actorOrAbort(c)
	if !ok {
		return
	}
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	booking, err := h.bookingService.Cancel(c.Request.Context(), actor, id)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	respond(c, http.StatusOK, "Booking cancelled", booking)
}

// GetStats статистика текущего клиента. Администратор может запросить
// статистику любого клиента через requester_id.
func (h *BookingHandler) GetStats(c *gin.Context) {
	actor, ok := actorOrAbort(c)
	if !ok {
		return
	}

	requesterID := actor.ID
	if actor.IsAdmin() {
		requested, ok := queryInt64(c, "requester_id")
		if !ok {
			return
		}
		if requested != nil {
			requesterID = *requested
		}
	}

	stats, err := h.bookingService.GetStats(c.Request.Context(), requesterID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	respond(c, http.StatusOK, "Booking stats retrieved", stats)
}

func (h *BookingHandler) GetBookingPayments(c *gin.Context) {
	actor, ok := actorOrAbort(c)
	if !ok {
		return
	}
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	payments, err := h.paymentService.ListPayments(c.Request.Context(), actor, id)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	respond(c, http.StatusOK, "Payments retrieved", payments)
}

// Admin handlers

func (h *BookingHandler) UpdateStatus(c *gin.Context) {
	h.updateStatus(c, h.bookingService.UpdateStatus, "Booking status updated")
}

func (h *BookingHandler) UpdatePaymentStatus(c *gin.Context) {
	h.updateStatus(c, h.bookingService.UpdatePaymentStatus, "Payment status updated")
}

type statusUpdater func(ctx context.Context, actor *entity.Actor, bookingID int64, status string) (*entity.Booking, error)

func (h *BookingHandler) updateStatus(c *gin.Context, update statusUpdater, message string) {
	actor, ok := actorOrAbort(c)
	if !ok {
		return
	}
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	var req StatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	booking, err := update(c.Request.Context(), actor, id, req.Status)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	respond(c, http.StatusOK, message, booking)
}

func (h *BookingHandler) CorrectPrice(c *gin.Context) {
	actor, ok := actorOrAbort(c)
	if !ok {
		return
	}
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	var req PriceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	booking, err := h.bookingService.AdminCorrectPrice(c.Request.Context(), actor, id, *req.TotalPrice)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	respond(c, http.StatusOK, "Booking price corrected", booking)
}

func (h *BookingHandler) PurgeBooking(c *gin.Context) {
	actor, ok := actorOrAbort(c)
	if !ok {
		return
	}
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	if err := h.bookingService.AdminPurgeBooking(c.Request.Context(), actor, id); err != nil {
		respondError(c, h.log, err)
		return
	}

	respond(c, http.StatusOK, "Booking deleted", nil)
}

func (h *BookingHandler) GetPaidCancelled(c *gin.Context) {
	actor, ok := actorOrAbort(c)
	if !ok {
		return
	}

	bookings, err := h.bookingService.ListPaidCancelled(c.Request.Context(), actor)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	respond(c, http.StatusOK, "Paid cancelled bookings retrieved", bookings)
}

func pagination(c *gin.Context) (int, int, bool) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit < 1 || limit > 500 {
		badRequest(c, "limit must be between 1 and 500")
		return 0, 0, false
	}
	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		badRequest(c, "offset must not be negative")
		return 0, 0, false
	}
	return limit, offset, true
}

func page(bookings []*entity.Booking, limit, offset int) []*entity.Booking {
	if offset >= len(bookings) {
		return []*entity.Booking{}
	}
	end := offset + limit
	if end > len(bookings) {
		end = len(bookings)
	}
	return bookings[offset:end]
}

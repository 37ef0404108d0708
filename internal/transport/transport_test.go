package transport

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ds124wfegd/roombooker/internal/database/memory"
	"github.com/ds124wfegd/roombooker/internal/entity"
	"github.com/ds124wfegd/roombooker/internal/gateway"
	"github.com/ds124wfegd/roombooker/internal/service"
	"github.com/ds124wfegd/roombooker/internal/timeslot"
	"github.com/ds124wfegd/roombooker/pkg/auth"
)

const testWebhookSecret = "hook-secret"

type envelope struct {
	Success       bool                `json:"success"`
	Message       string              `json:"message"`
	Data          json.RawMessage     `json:"data"`
	Meta          json.RawMessage     `json:"meta"`
	Error         string              `json:"error"`
	Fields        map[string][]string `json:"fields"`
	NextAvailable *time.Time          `json:"next_available"`
	Conflicts     []*entity.Booking   `json:"conflicts"`
}

type api struct {
	router  *gin.Engine
	tokens  *auth.TokenManager
	sandbox *gateway.Sandbox
	room    *entity.Room

	admin    string
	customer string
	stranger string
}

func init() {
	gin.SetMode(gin.TestMode)
}

// at returns hour:00 UTC on 2025-06-01
func at(hour int) time.Time {
	return time.Date(2025, 6, 1, hour, 0, 0, 0, time.UTC)
}

func newAPI(t *testing.T) *api {
	t.Helper()

	l := logrus.New()
	l.SetOutput(io.Discard)
	log := logrus.NewEntry(l)

	clock := func() time.Time { return at(8) }
	store := memory.NewStore().WithClock(clock)
	sandbox := gateway.NewSandbox("thb", 2000)
	policy := service.NewRolePolicy()
	opts := timeslot.Options{SlotDuration: time.Hour, BreakDuration: 10 * time.Minute, Location: time.UTC}

	bookings := service.NewBookingService(service.BookingDeps{
		Bookings: store.Bookings(),
		Rooms:    store.Rooms(),
		Policy:   policy,
		Clock:    clock,
		Location: time.UTC,
		Log:      log,
	})
	payments := service.NewPaymentService(service.PaymentDeps{
		Payments:       store.Payments(),
		Bookings:       store.Bookings(),
		Gateway:        sandbox,
		Policy:         policy,
		Timeout:        50 * time.Millisecond,
		ReconcileAfter: 10 * time.Minute,
		Clock:          clock,
		Log:            log,
	})
	rooms := service.NewRoomService(store.Rooms(), policy, nil, clock, log)
	availability := service.NewAvailabilityService(store.Rooms(), store.Bookings(), clock, log)
	slots := service.NewSlotService(store.Rooms(), store.Bookings(), nil, opts, clock, log)
	sync := service.NewRoomSyncService(store.Rooms(), store.Bookings(), nil, nil, time.UTC, log)

	tokens := auth.NewTokenManager("test-secret", time.Hour)
	router := InitRoutes(Handlers{
		Booking: NewBookingHandler(bookings, payments, log),
		Payment: NewPaymentHandler(payments, testWebhookSecret, log),
		Room:    NewRoomHandler(rooms, availability, slots, time.UTC, clock, log),
		Admin:   NewAdminHandler(sync, nil, clock, log),
	}, RouterOptions{Tokens: tokens, RequestTimeout: 5 * time.Second, Log: log})

	a := &api{router: router, tokens: tokens, sandbox: sandbox}
	a.admin = a.token(t, 1, entity.RoleAdmin)
	a.customer = a.token(t, 42, entity.RoleCustomer)
	a.stranger = a.token(t, 77, entity.RoleCustomer)

	rec, env := a.do(t, http.MethodPost, "/api/v1/rooms", a.admin, gin.H{
		"name":           "Karaoke A",
		"capacity":       8,
		"price_per_hour": 300,
		"open_time":      "09:00",
		"close_time":     "23:00",
	})
	require.Equal(t, http.StatusCreated, rec.Code, env.Error)
	var room entity.Room
	require.NoError(t, json.Unmarshal(env.Data, &room))
	a.room = &room

	return a
}

func (a *api) token(t *testing.T, id int64, role entity.Role) string {
	t.Helper()
	token, err := a.tokens.CreateAccessToken(strconv.FormatInt(id, 10), string(role))
	require.NoError(t, err)
	return token
}

func (a *api) request(t *testing.T, method, path, token string, body interface{}, headers map[string]string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)

	var env envelope
	if rec.Body.Len() > 0 && rec.Header().Get("Content-Type") != "" {
		_ = json.Unmarshal(rec.Body.Bytes(), &env)
	}
	return rec, env
}

func (a *api) do(t *testing.T, method, path, token string, body interface{}) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	return a.request(t, method, path, token, body, nil)
}

func (a *api) book(t *testing.T, token string, start, end time.Time) *entity.Booking {
	t.Helper()
	rec, env := a.do(t, http.MethodPost, "/api/v1/bookings", token, gin.H{
		"room_id": a.room.ID,
		"start":   start.Format(time.RFC3339),
		"end":     end.Format(time.RFC3339),
	})
	require.Equal(t, http.StatusCreated, rec.Code, env.Error)

	var details entity.BookingDetails
	require.NoError(t, json.Unmarshal(env.Data, &details))
	return details.Booking
}

func TestCreateBookingAndConflict(t *testing.T) {
	a := newAPI(t)

	first := a.book(t, a.customer, at(14), at(16))
	assert.Equal(t, entity.BookingStatusActive, first.Status)
	assert.Equal(t, entity.PaymentStatusPending, first.PaymentStatus)
	assert.Equal(t, 600.0, first.TotalPrice)
	assert.Equal(t, int64(42), first.RequesterID)

	rec, env := a.do(t, http.MethodPost, "/api/v1/bookings", a.stranger, gin.H{
		"room_id": a.room.ID,
		"start":   at(15).Format(time.RFC3339),
		"end":     at(17).Format(time.RFC3339),
	})
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.False(t, env.Success)
	assert.NotEmpty(t, env.Error)
	require.NotNil(t, env.NextAvailable)
	assert.True(t, env.NextAvailable.Equal(at(16)))
	require.Len(t, env.Conflicts, 1)
	assert.Equal(t, first.ID, env.Conflicts[0].ID)
}

func TestCreateBookingValidation(t *testing.T) {
	a := newAPI(t)

	rec, env := a.do(t, http.MethodPost, "/api/v1/bookings", a.customer, gin.H{
		"room_id": a.room.ID,
		"start":   at(12).Format(time.RFC3339),
		"end":     at(11).Format(time.RFC3339),
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.NotEmpty(t, env.Fields)

	rec, _ = a.do(t, http.MethodPost, "/api/v1/bookings", a.customer, gin.H{"start": "yesterday"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = a.do(t, http.MethodPost, "/api/v1/bookings", a.customer, gin.H{
		"room_id": 999,
		"start":   at(10).Format(time.RFC3339),
		"end":     at(11).Format(time.RFC3339),
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAuthentication(t *testing.T) {
	a := newAPI(t)

	rec, _ := a.do(t, http.MethodGet, "/api/v1/bookings", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = a.do(t, http.MethodGet, "/api/v1/bookings", "not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	other := auth.NewTokenManager("another-secret", time.Hour)
	forged, err := other.CreateAccessToken("1", string(entity.RoleAdmin))
	require.NoError(t, err)
	rec, _ = a.do(t, http.MethodGet, "/api/v1/bookings", forged, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Room reads are public
	rec, _ = a.do(t, http.MethodGet, "/api/v1/rooms", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestListBookingsScopedToCustomer(t *testing.T) {
	a := newAPI(t)
	mine := a.book(t, a.customer, at(10), at(11))
	a.book(t, a.stranger, at(12), at(13))

	rec, env := a.do(t, http.MethodGet, "/api/v1/bookings?requester_id=77", a.customer, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var bookings []*entity.Booking
	require.NoError(t, json.Unmarshal(env.Data, &bookings))
	require.Len(t, bookings, 1)
	assert.Equal(t, mine.ID, bookings[0].ID)

	rec, env = a.do(t, http.MethodGet, "/api/v1/bookings?limit=1", a.admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(env.Data, &bookings))
	assert.Len(t, bookings, 1)
	var meta PaginationMeta
	require.NoError(t, json.Unmarshal(env.Meta, &meta))
	assert.Equal(t, 2, meta.Total)

	rec, _ = a.do(t, http.MethodGet, "/api/v1/bookings?status=lost", a.admin, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetAndCancelBooking(t *testing.T) {
	a := newAPI(t)
	b := a.book(t, a.customer, at(10), at(11))
	path := "/api/v1/bookings/" + strconv.FormatInt(b.ID, 10)

	rec, _ := a.do(t, http.MethodGet, path, a.stranger, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, _ = a.do(t, http.MethodGet, "/api/v1/bookings/999", a.customer, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = a.do(t, http.MethodGet, "/api/v1/bookings/abc", a.customer, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, env := a.do(t, http.MethodGet, path, a.customer, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var details entity.BookingDetails
	require.NoError(t, json.Unmarshal(env.Data, &details))
	assert.Equal(t, "Karaoke A", details.RoomName)

	rec, _ = a.do(t, http.MethodPost, path+"/cancel", a.stranger, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, env = a.do(t, http.MethodPost, path+"/cancel", a.customer, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var cancelled entity.Booking
	require.NoError(t, json.Unmarshal(env.Data, &cancelled))
	assert.Equal(t, entity.BookingStatusCancelled, cancelled.Status)

	rec, _ = a.do(t, http.MethodPost, path+"/cancel", a.customer, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestAdminRoutesRequireAdmin(t *testing.T) {
	a := newAPI(t)
	room := gin.H{"name": "Studio", "capacity": 4, "price_per_hour": 150, "open_time": "18:00", "close_time": "02:00"}

	rec, _ := a.do(t, http.MethodPost, "/api/v1/rooms", a.customer, room)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, _ = a.do(t, http.MethodPost, "/api/v1/admin/rooms/sync", a.customer, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, _ = a.do(t, http.MethodPost, "/api/v1/rooms", a.admin, room)
	assert.Equal(t, http.StatusCreated, rec.Code)

	rec, env := a.do(t, http.MethodPost, "/api/v1/rooms/"+strconv.FormatInt(a.room.ID, 10)+"/maintenance", a.admin, gin.H{"maintenance": true})
	require.Equal(t, http.StatusOK, rec.Code)
	var updated entity.Room
	require.NoError(t, json.Unmarshal(env.Data, &updated))
	assert.Equal(t, entity.RoomStatusMaintenance, updated.Status)

	rec, env = a.do(t, http.MethodPost, "/api/v1/admin/rooms/sync", a.admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var report entity.SyncReport
	require.NoError(t, json.Unmarshal(env.Data, &report))
	assert.Equal(t, 2, report.RoomsChecked)

	rec, _ = a.do(t, http.MethodGet, "/api/v1/admin/queue", a.admin, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestAdminBookingCorrections(t *testing.T) {
	a := newAPI(t)
	b := a.book(t, a.customer, at(10), at(11))
	path := "/api/v1/admin/bookings/" + strconv.FormatInt(b.ID, 10)

	rec, env := a.do(t, http.MethodPatch, path+"/price", a.admin, gin.H{"total_price": 250})
	require.Equal(t, http.StatusOK, rec.Code, env.Error)

	rec, _ = a.do(t, http.MethodPatch, path+"/status", a.admin, gin.H{"status": "bogus"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = a.do(t, http.MethodPatch, path+"/payment-status", a.admin, gin.H{"status": "paid"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec, _ = a.do(t, http.MethodPost, "/api/v1/bookings/"+strconv.FormatInt(b.ID, 10)+"/cancel", a.customer, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, env = a.do(t, http.MethodGet, "/api/v1/admin/bookings/paid-cancelled", a.admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var report []*entity.Booking
	require.NoError(t, json.Unmarshal(env.Data, &report))
	require.Len(t, report, 1)
	assert.Equal(t, 250.0, report[0].TotalPrice)

	rec, _ = a.do(t, http.MethodDelete, path, a.admin, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = a.do(t, http.MethodDelete, path, a.admin, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRoomSlotsAndAvailability(t *testing.T) {
	a := newAPI(t)
	a.book(t, a.customer, at(9), at(10))
	base := "/api/v1/rooms/" + strconv.FormatInt(a.room.ID, 10)

	rec, env := a.do(t, http.MethodGet, base+"/slots?date=2025-06-01", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var slots entity.RoomSlots
	require.NoError(t, json.Unmarshal(env.Data, &slots))
	assert.Equal(t, 12, slots.Total)
	assert.Equal(t, 1, slots.BookedCount)
	assert.Equal(t, 11, slots.AvailableCount)

	rec, _ = a.do(t, http.MethodGet, base+"/slots?date=01.06.2025", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, env = a.do(t, http.MethodGet, base+"/availability?start=2025-06-01T09:30:00Z&end=2025-06-01T11:00:00Z", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var result entity.AvailabilityResult
	require.NoError(t, json.Unmarshal(env.Data, &result))
	assert.False(t, result.Available)
	require.NotNil(t, result.NextAvailable)
	assert.True(t, result.NextAvailable.Equal(at(10)))

	rec, _ = a.do(t, http.MethodGet, base+"/availability?start=soon", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, env = a.do(t, http.MethodGet, "/api/v1/rooms/availability?date=2025-06-01", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var fleet []*entity.RoomAvailability
	require.NoError(t, json.Unmarshal(env.Data, &fleet))
	require.Len(t, fleet, 1)
	assert.Equal(t, 1, fleet[0].Summary.BookedCount)

	rec, env = a.do(t, http.MethodGet, "/api/v1/rooms/availability?start=2025-06-01T09:00:00Z&end=2025-06-01T12:00:00Z", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(env.Data, &fleet))
	require.Len(t, fleet, 1)
	assert.False(t, fleet[0].Available)

	rec, env = a.do(t, http.MethodGet, "/api/v1/rooms/available?start=2025-06-01T12:00:00Z&end=2025-06-01T13:00:00Z", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var rooms []*entity.Room
	require.NoError(t, json.Unmarshal(env.Data, &rooms))
	assert.Len(t, rooms, 1)
}

func TestPaymentEndpoints(t *testing.T) {
	a := newAPI(t)
	b := a.book(t, a.customer, at(10), at(11))

	rec, env := a.do(t, http.MethodPost, "/api/v1/payments", a.customer, gin.H{"booking_id": b.ID, "method": "promptpay"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, env.Error, "validation")

	rec, env = a.do(t, http.MethodPost, "/api/v1/payments/intents", a.customer, gin.H{"booking_id": b.ID, "token": "tok_visa"})
	require.Equal(t, http.StatusCreated, rec.Code, env.Error)
	var intent service.IntentResult
	require.NoError(t, json.Unmarshal(env.Data, &intent))
	intentPath := "/api/v1/payments/intents/" + intent.Intent.ID

	rec, _ = a.do(t, http.MethodPost, intentPath+"/confirm", a.stranger, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, env = a.do(t, http.MethodPost, intentPath+"/confirm", a.customer, nil)
	require.Equal(t, http.StatusOK, rec.Code, env.Error)
	var paid entity.Payment
	require.NoError(t, json.Unmarshal(env.Data, &paid))
	assert.Equal(t, entity.PaymentStatusPaid, paid.Status)

	rec, _ = a.do(t, http.MethodPost, "/api/v1/payments", a.customer, gin.H{"booking_id": b.ID, "method": "cash"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec, _ = a.do(t, http.MethodPost, intentPath+"/refund", a.customer, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, env = a.do(t, http.MethodPost, intentPath+"/refund", a.admin, nil)
	require.Equal(t, http.StatusOK, rec.Code, env.Error)

	rec, env = a.do(t, http.MethodGet, "/api/v1/bookings/"+strconv.FormatInt(b.ID, 10)+"/payments", a.customer, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var payments []*entity.Payment
	require.NoError(t, json.Unmarshal(env.Data, &payments))
	require.Len(t, payments, 1)
	assert.Equal(t, entity.PaymentStatusRefunded, payments[0].Status)
}

func TestGatewayTimeoutIsBadGateway(t *testing.T) {
	a := newAPI(t)
	b := a.book(t, a.customer, at(10), at(11))

	rec, env := a.do(t, http.MethodPost, "/api/v1/payments/intents", a.customer, gin.H{"booking_id": b.ID, "token": "tok_visa"})
	require.Equal(t, http.StatusCreated, rec.Code, env.Error)
	var intent service.IntentResult
	require.NoError(t, json.Unmarshal(env.Data, &intent))

	a.sandbox.SetDelay(300 * time.Millisecond)
	rec, env = a.do(t, http.MethodPost, "/api/v1/payments/intents/"+intent.Intent.ID+"/confirm", a.customer, nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.NotContains(t, env.Error, "deadline")
}

func TestWebhook(t *testing.T) {
	a := newAPI(t)
	b := a.book(t, a.customer, at(10), at(11))

	rec, env := a.do(t, http.MethodPost, "/api/v1/payments/intents", a.customer, gin.H{"booking_id": b.ID, "token": "tok_visa"})
	require.Equal(t, http.StatusCreated, rec.Code, env.Error)
	var intent service.IntentResult
	require.NoError(t, json.Unmarshal(env.Data, &intent))

	event := gin.H{"id": "evt_1", "type": "payment.succeeded", "intent_id": intent.Intent.ID, "transaction_id": "txn_1"}
	secret := map[string]string{WebhookSecretHeader: testWebhookSecret}

	rec, _ = a.request(t, http.MethodPost, "/api/v1/payments/webhook", "", event, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, env = a.request(t, http.MethodPost, "/api/v1/payments/webhook", "", event, secret)
	require.Equal(t, http.StatusOK, rec.Code, env.Error)
	assert.JSONEq(t, `{"event_id":"evt_1","applied":true}`, string(env.Data))

	rec, env = a.request(t, http.MethodPost, "/api/v1/payments/webhook", "", event, secret)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"event_id":"evt_1","applied":false}`, string(env.Data))

	rec, _ = a.request(t, http.MethodPost, "/api/v1/payments/webhook", "",
		gin.H{"id": "evt_2", "type": "payment.exploded", "intent_id": intent.Intent.ID}, secret)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = a.request(t, http.MethodPost, "/api/v1/payments/webhook", "", gin.H{"type": "payment.succeeded"}, secret)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStats(t *testing.T) {
	a := newAPI(t)
	a.book(t, a.customer, at(10), at(11))
	a.book(t, a.stranger, at(12), at(13))

	rec, env := a.do(t, http.MethodGet, "/api/v1/bookings/stats", a.customer, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var stats entity.UserBookingStats
	require.NoError(t, json.Unmarshal(env.Data, &stats))
	assert.Equal(t, int64(42), stats.RequesterID)
}

func TestHealthAndMetrics(t *testing.T) {
	a := newAPI(t)

	rec, _ := a.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = a.do(t, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = a.do(t, http.MethodGet, "/health", "", nil)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

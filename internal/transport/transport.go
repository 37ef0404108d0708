package transport

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/ds124wfegd/roombooker/internal/transport/middleware"
)

// Handlers собирает обработчики всех групп маршрутов
type Handlers struct {
	Booking *BookingHandler
	Payment *PaymentHandler
	Room    *RoomHandler
	Admin   *AdminHandler
}

type RouterOptions struct {
	Tokens         middleware.TokenParser
	RequestTimeout time.Duration
	Log            *logrus.Entry
}

func InitRoutes(h Handlers, opts RouterOptions) *gin.Engine {
	router := gin.New()

	// Middleware
	router.Use(gin.Recovery())
	router.Use(middleware.CORS())
	router.Use(middleware.Logger(opts.Log))
	router.Use(middleware.Metrics())
	router.Use(middleware.Timeout(opts.RequestTimeout))

	auth := middleware.Auth(opts.Tokens)
	adminOnly := middleware.RequireAdmin()

	// API routes
	api := router.Group("/api/v1")
	{
		// Public room routes
		rooms := api.Group("/rooms")
		{
			rooms.GET("", h.Room.GetAllRooms)
			rooms.GET("/availability", h.Room.GetFleetAvailability)
			rooms.GET("/available", h.Room.GetAvailableRooms)
			rooms.GET("/:id", h.Room.GetRoom)
			rooms.GET("/:id/slots", h.Room.GetTimeSlots)
			rooms.GET("/:id/availability", h.Room.CheckAvailability)
		}

		// Webhook аутентифицируется общим секретом, а не JWT
		api.POST("/payments/webhook", h.Payment.Webhook)

		// Booking routes
		bookings := api.Group("/bookings", auth)
		{
			bookings.POST("", h.Booking.CreateBooking)
			bookings.GET("", h.Booking.GetBookings)
			bookings.GET("/stats", h.Booking.GetStats)
			bookings.GET("/:id", h.Booking.GetBooking)
			bookings.GET("/:id/payments", h.Booking.GetBookingPayments)
			bookings.POST("/:id/cancel", h.Booking.CancelBooking)
		}

		// Payment routes
		payments := api.Group("/payments", auth)
		{
			payments.POST("", h.Payment.CreatePayment)
			payments.POST("/intents", h.Payment.CreateIntent)
			payments.POST("/intents/:id/confirm", h.Payment.ConfirmIntent)
			payments.POST("/intents/:id/cancel", h.Payment.CancelIntent)
			payments.POST("/intents/:id/refund", adminOnly, h.Payment.Refund)
		}

		// Room administration
		roomAdmin := api.Group("/rooms", auth, adminOnly)
		{
			roomAdmin.POST("", h.Room.CreateRoom)
			roomAdmin.PUT("/:id", h.Room.UpdateRoom)
			roomAdmin.POST("/:id/maintenance", h.Room.SetMaintenance)
		}

		// Admin routes
		admin := api.Group("/admin", auth, adminOnly)
		{
			admin.POST("/rooms/sync", h.Admin.SyncRooms)

			admin.GET("/bookings/paid-cancelled", h.Booking.GetPaidCancelled)
			admin.PATCH("/bookings/:id/status", h.Booking.UpdateStatus)
			admin.PATCH("/bookings/:id/payment-status", h.Booking.UpdatePaymentStatus)
			admin.PATCH("/bookings/:id/price", h.Booking.CorrectPrice)
			admin.DELETE("/bookings/:id", h.Booking.PurgeBooking)

			admin.GET("/queue", h.Admin.QueueStats)
			admin.GET("/queue/dlq", h.Admin.FailedTasks)
			admin.POST("/queue/dlq/:id/requeue", h.Admin.RequeueTask)
		}
	}

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"timestamp": time.Now().UTC(),
		})
	})

	return router
}

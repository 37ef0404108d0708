package appServer

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	goredis "github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/ds124wfegd/roombooker/config"
	"github.com/ds124wfegd/roombooker/internal/database/cache"
	"github.com/ds124wfegd/roombooker/internal/database/memory"
	repository "github.com/ds124wfegd/roombooker/internal/database/postgres"
	"github.com/ds124wfegd/roombooker/internal/entity"
	"github.com/ds124wfegd/roombooker/internal/gateway"
	"github.com/ds124wfegd/roombooker/internal/metrics"
	"github.com/ds124wfegd/roombooker/internal/service"
	"github.com/ds124wfegd/roombooker/internal/timeslot"
	"github.com/ds124wfegd/roombooker/internal/transport"
	"github.com/ds124wfegd/roombooker/internal/worker"
	"github.com/ds124wfegd/roombooker/pkg/auth"
	"github.com/ds124wfegd/roombooker/pkg/broker"
	"github.com/ds124wfegd/roombooker/pkg/postgres"
	"github.com/ds124wfegd/roombooker/pkg/queue"
	"github.com/ds124wfegd/roombooker/pkg/redis"
	"github.com/ds124wfegd/roombooker/pkg/scheduler"
)

const shutdownTimeout = 15 * time.Second

type Server struct {
	httpServer *http.Server
}

func (s *Server) Run(cfg *config.Config, handler http.Handler) error {
	s.httpServer = &http.Server{
		Addr:              cfg.GetServerAddress(),
		Handler:           handler,
		MaxHeaderBytes:    1 << 20,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      cfg.Server.Timeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
		ReadHeaderTimeout: 3 * time.Second,
		TLSConfig:         &tls.Config{MinVersion: tls.VersionTLS12},           // ban on outdate TLS certificate
		ErrorLog:          log.New(os.Stderr, "SERVER ERROR: ", log.LstdFlags), // os.Stderr can be replaced with ElsasticSearch in the feature
	}
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// repositories набор хранилищ выбранного драйвера
type repositories struct {
	rooms    repository.RoomRepository
	bookings repository.BookingRepository
	payments repository.PaymentRepository
}

// NewLogger настраивает глобальный logrus и возвращает корневой entry
func NewLogger(cfg *config.Config) *logrus.Entry {
	logrus.SetFormatter(&logrus.JSONFormatter{})
	logrus.SetOutput(os.Stdout)
	logrus.SetLevel(logrus.InfoLevel)
	if !cfg.IsProduction() {
		logrus.SetLevel(logrus.DebugLevel)
	}
	return logrus.WithFields(logrus.Fields{
		"service": "roombooker",
		"version": cfg.Server.AppVersion,
	})
}

// NewServer собирает приложение и блокируется до SIGINT/SIGTERM
func NewServer(cfg *config.Config) error {
	logger := NewLogger(cfg)

	loc := cfg.Booking.Location()
	entity.DefaultLocation = loc
	metrics.Register()

	var closers []io.Closer
	defer func() {
		// Закрываем в обратном порядке открытия
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i].Close(); err != nil {
				logger.WithError(err).Warn("Failed to close resource")
			}
		}
	}()

	// Initialize storage
	repos, db, err := newRepositories(cfg, logger)
	if err != nil {
		return err
	}
	if db != nil {
		closers = append(closers, db)
	}

	// Redis нужен для кэша слотов и очереди задач, без него сервис работает
	var (
		slotCache     service.SlotCache
		taskPublisher service.TaskPublisher
		redisQueue    *queue.RedisQueue
		queueStats    transport.QueueInspector
	)
	if cfg.Redis.Enabled {
		client, err := redis.NewRedisClient(&cfg.Redis)
		if err != nil {
			logger.WithError(err).Warn("Redis unavailable, continuing without slot cache and task queue")
		} else {
			closers = append(closers, client)
			slotCache = cache.NewSlotCache(client, cfg.Redis.SlotCacheTTL, logger)
			redisQueue = newRedisQueue(cfg, client, logger)
			closers = append(closers, redisQueue)
			taskPublisher = service.NewQueueAdapter(redisQueue)
			queueStats = redisQueue
			logger.Info("Redis queue initialized")
		}
	}

	pay, err := newGateway(cfg, logger)
	if err != nil {
		return err
	}

	publisher := newPublisher(cfg, logger)
	closers = append(closers, publisher)

	// Initialize services
	clock := time.Now
	policy := service.NewRolePolicy()
	slotOptions := timeslot.Options{
		SlotDuration:  cfg.Booking.SlotDuration,
		BreakDuration: cfg.Booking.BreakDuration,
		Location:      loc,
	}

	availabilityService := service.NewAvailabilityService(repos.rooms, repos.bookings, clock, logger)
	slotService := service.NewSlotService(repos.rooms, repos.bookings, slotCache, slotOptions, clock, logger)
	bookingService := service.NewBookingService(service.BookingDeps{
		Bookings: repos.bookings,
		Rooms:    repos.rooms,
		Policy:   policy,
		Cache:    slotCache,
		Events:   publisher,
		Queue:    taskPublisher,
		Clock:    clock,
		Location: loc,
		Log:      logger,
	})
	paymentService := service.NewPaymentService(service.PaymentDeps{
		Payments:       repos.payments,
		Bookings:       repos.bookings,
		Gateway:        pay,
		Policy:         policy,
		Events:         publisher,
		Timeout:        cfg.Gateway.Timeout,
		ReconcileAfter: cfg.Worker.ReconcileAfter,
		Clock:          clock,
		Log:            logger,
	})
	roomService := service.NewRoomService(repos.rooms, policy, slotCache, clock, logger)
	syncService := service.NewRoomSyncService(repos.rooms, repos.bookings, slotCache, publisher, loc, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Background workers
	syncWorker := worker.NewRoomSyncWorker(syncService, cfg.Worker.SyncInterval, clock, logger)
	go syncWorker.Start(ctx)

	reconciler := scheduler.NewScheduler("reconcile_payments", cfg.Worker.ReconcileInterval, func(ctx context.Context) error {
		n, err := paymentService.ReconcilePending(ctx)
		if n > 0 {
			logger.WithField("changed", n).Info("Pending payment intents reconciled")
		}
		return err
	}, logger)
	go reconciler.Start(ctx)

	if redisQueue != nil {
		taskHandler := worker.NewTaskHandler(syncService, clock, logger)
		if err := redisQueue.Subscribe(ctx, taskHandler.HandleTask); err != nil {
			logger.WithError(err).Error("Queue subscriber error")
		} else {
			logger.Info("Queue subscriber started")
		}
	}

	if consumer := startGatewayConsumer(ctx, cfg, paymentService, logger); consumer != nil {
		closers = append(closers, consumer)
	}

	// Setup HTTP server
	if cfg.Server.Mode == "release" || cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	tokens := auth.NewTokenManager(cfg.JWT.Secret, cfg.JWT.Expiration)
	router := transport.InitRoutes(transport.Handlers{
		Booking: transport.NewBookingHandler(bookingService, paymentService, logger),
		Payment: transport.NewPaymentHandler(paymentService, cfg.Gateway.WebhookSecret, logger),
		Room:    transport.NewRoomHandler(roomService, availabilityService, slotService, loc, clock, logger),
		Admin:   transport.NewAdminHandler(syncService, queueStats, clock, logger),
	}, transport.RouterOptions{
		Tokens:         tokens,
		RequestTimeout: cfg.Server.Timeout,
		Log:            logger,
	})

	srv := new(Server)
	serverErr := make(chan error, 1)
	go func() {
		if err := srv.Run(cfg, router); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	logger.WithFields(logrus.Fields{
		"addr":     cfg.GetServerAddress(),
		"storage":  cfg.Database.Driver,
		"gateway":  cfg.Gateway.Provider,
		"broker":   cfg.Broker.Driver,
		"timezone": loc.String(),
	}).Info("App Started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)

	select {
	case <-quit:
	case err := <-serverErr:
		logger.WithError(err).Error("HTTP server failed")
		cancel()
		return fmt.Errorf("http server: %w", err)
	}

	logger.Info("App Shutting Down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("error occured on server shutting down")
	}
	cancel()
	return nil
}

func newRepositories(cfg *config.Config, logger *logrus.Entry) (*repositories, io.Closer, error) {
	switch cfg.Database.Driver {
	case "memory":
		logger.Warn("Using in-memory storage, data is lost on restart")
		store := memory.NewStore()
		return &repositories{
			rooms:    store.Rooms(),
			bookings: store.Bookings(),
			payments: store.Payments(),
		}, nil, nil
	case "postgres", "":
		db, err := postgres.NewPostgresDB(&cfg.Database)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize database: %w", err)
		}
		if err := postgres.RunMigrations(db); err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		return &repositories{
			rooms:    repository.NewRoomRepository(db),
			bookings: repository.NewBookingRepository(db),
			payments: repository.NewPaymentRepository(db),
		}, db, nil
	default:
		return nil, nil, fmt.Errorf("unknown database driver %q", cfg.Database.Driver)
	}
}

func newRedisQueue(cfg *config.Config, client *goredis.Client, logger *logrus.Entry) *queue.RedisQueue {
	qcfg := queue.DefaultRedisQueueConfig(cfg.Queue.Name)
	if cfg.Queue.MaxRetries > 0 {
		qcfg.MaxRetries = cfg.Queue.MaxRetries
	}
	if cfg.Queue.RetryBackoff > 0 {
		qcfg.BaseDelay = cfg.Queue.RetryBackoff
	}
	if cfg.Queue.PollInterval > 0 {
		qcfg.PollInterval = cfg.Queue.PollInterval
	}
	return queue.NewRedisQueue(client, qcfg, logger)
}

func newGateway(cfg *config.Config, logger *logrus.Entry) (gateway.Gateway, error) {
	switch cfg.Gateway.Provider {
	case "omise":
		g, err := gateway.NewOmiseGateway(cfg.Gateway.PublicKey, cfg.Gateway.SecretKey, cfg.Gateway.Currency, cfg.Gateway.MinimumAmount, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize omise gateway: %w", err)
		}
		return g, nil
	case "sandbox", "":
		if cfg.IsProduction() {
			logger.Warn("Sandbox payment gateway in production, payments are simulated")
		}
		return gateway.NewSandbox(cfg.Gateway.Currency, cfg.Gateway.MinimumAmount), nil
	default:
		return nil, fmt.Errorf("unknown payment gateway %q", cfg.Gateway.Provider)
	}
}

// newPublisher никогда не возвращает ошибку: без брокера события теряются,
// но бронирование продолжает работать
func newPublisher(cfg *config.Config, logger *logrus.Entry) broker.Publisher {
	switch cfg.Broker.Driver {
	case "rabbitmq":
		p, err := broker.NewRabbitPublisher(cfg.Broker.URL, cfg.Broker.Exchange)
		if err != nil {
			logger.WithError(err).Warn("RabbitMQ unavailable, events will be dropped")
			return broker.NewNopPublisher(logger)
		}
		logger.WithField("exchange", cfg.Broker.Exchange).Info("RabbitMQ publisher initialized")
		return p
	case "kafka":
		return broker.NewKafkaPublisher(cfg.Broker.KafkaBrokers, cfg.Broker.KafkaTopic, logger)
	default:
		return broker.NewNopPublisher(logger)
	}
}

// startGatewayConsumer подписывается на уведомления шлюза в RabbitMQ.
// Возвращает nil, если брокер другой или недоступен.
func startGatewayConsumer(ctx context.Context, cfg *config.Config, handler worker.GatewayEventHandler, logger *logrus.Entry) io.Closer {
	if cfg.Broker.Driver != "rabbitmq" || cfg.Broker.GatewayQueue == "" {
		return nil
	}

	consumer, err := broker.NewConsumer(cfg.Broker.URL, cfg.Broker.Exchange, cfg.Broker.GatewayQueue, cfg.Broker.GatewayKeys)
	if err != nil {
		logger.WithError(err).Warn("Gateway event consumer disabled")
		return nil
	}
	deliveries, err := consumer.Deliveries(ctx)
	if err != nil {
		logger.WithError(err).Warn("Gateway event consumer disabled")
		_ = consumer.Close()
		return nil
	}

	go worker.NewGatewayEventConsumer(handler, logger).Run(ctx, deliveries)
	return consumer
}

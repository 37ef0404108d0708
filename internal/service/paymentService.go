package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	repository "github.com/ds124wfegd/roombooker/internal/database/postgres"
	"github.com/ds124wfegd/roombooker/internal/entity"
	"github.com/ds124wfegd/roombooker/internal/gateway"
	"github.com/ds124wfegd/roombooker/internal/metrics"
)

type paymentService struct {
	paymentRepo    repository.PaymentRepository
	bookingRepo    repository.BookingRepository
	gateway        gateway.Gateway
	policy         AuthorizationPolicy
	events         EventPublisher
	timeout        time.Duration
	reconcileAfter time.Duration
	clock          Clock
	log            *logrus.Entry
}

// PaymentDeps зависимости PaymentService. Events необязателен.
type PaymentDeps struct {
	Payments repository.PaymentRepository
	Bookings repository.BookingRepository
	Gateway  gateway.Gateway
	Policy   AuthorizationPolicy
	Events   EventPublisher
	// Timeout ограничивает каждый вызов шлюза
	Timeout time.Duration
	// ReconcileAfter: более молодые намерения ждут вебхука
	ReconcileAfter time.Duration
	Clock          Clock
	Log            *logrus.Entry
}

// NewPaymentService создает новый экземпляр PaymentService
func NewPaymentService(deps PaymentDeps) PaymentService {
	return &paymentService{
		paymentRepo:    deps.Payments,
		bookingRepo:    deps.Bookings,
		gateway:        deps.Gateway,
		policy:         deps.Policy,
		events:         deps.Events,
		timeout:        deps.Timeout,
		reconcileAfter: deps.ReconcileAfter,
		clock:          deps.Clock,
		log:            deps.Log.WithField("component", "payment"),
	}
}

// gatewayCtx ограничивает вызов шлюза таймаутом
func (s *paymentService) gatewayCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

// payableBooking загружает бронь, проверяет права и что ее еще можно оплатить
func (s *paymentService) payableBooking(ctx context.Context, actor *entity.Actor, bookingID int64) (*entity.Booking, error) {
	booking, err := s.bookingRepo.GetByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if err := s.policy.CanAccessBooking(actor, booking); err != nil {
		return nil, err
	}

	switch {
	case booking.PaymentStatus == entity.PaymentStatusPaid:
		return nil, entity.ErrAlreadyPaid
	case booking.Status == entity.BookingStatusCancelled:
		return nil, entity.ErrBookingCancelled
	case booking.PaymentStatus == entity.PaymentStatusRefunded:
		return nil, fmt.Errorf("%w: booking was refunded", entity.ErrInvalidPaymentTransition)
	}
	return booking, nil
}

// CreatePayment фиксирует оплату, принятую вне шлюза
func (s *paymentService) CreatePayment(ctx context.Context, actor *entity.Actor, req *RecordPaymentRequest) (*entity.Payment, error) {
	verr := entity.NewValidationError()
	switch {
	case !req.Method.Valid():
		verr.Add("method", fmt.Sprintf("unknown payment method %q", req.Method))
	case req.Method == entity.PaymentMethodGateway:
		verr.Add("method", "gateway payments are created through payment intents")
	}
	if req.Amount != nil && *req.Amount <= 0 {
		verr.Add("amount", "amount must be positive")
	}
	if err := verr.OrNil(); err != nil {
		return nil, err
	}
	if req.Method.RequiresProof() && req.ProofRef == "" {
		return nil, entity.ErrProofRequired
	}

	booking, err := s.payableBooking(ctx, actor, req.BookingID)
	if err != nil {
		return nil, err
	}

	amount := booking.TotalPrice
	if req.Amount != nil {
		amount = *req.Amount
	}

	payment := &entity.Payment{
		BookingID:     req.BookingID,
		Amount:        amount,
		Method:        req.Method,
		TransactionID: req.TransactionID,
		ProofRef:      req.ProofRef,
	}
	// Повторная проверка статуса делается в той же транзакции, что и вставка
	if _, err := s.paymentRepo.RecordManual(ctx, payment); err != nil {
		return nil, err
	}
	metrics.IncPaymentTransition(string(entity.PaymentStatusPaid), string(payment.Method))

	s.log.WithFields(logrus.Fields{
		"booking_id": payment.BookingID,
		"payment_id": payment.ID,
		"method":     payment.Method,
		"amount":     payment.Amount,
	}).Info("Оплата зафиксирована")

	publishEvent(ctx, s.events, s.log, EventPaymentPaid, paymentEventData(payment))
	return payment, nil
}

// ListPayments возвращает платежи брони, новые первыми
func (s *paymentService) ListPayments(ctx context.Context, actor *entity.Actor, bookingID int64) ([]*entity.Payment, error) {
	booking, err := s.bookingRepo.GetByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if err := s.policy.CanAccessBooking(actor, booking); err != nil {
		return nil, err
	}

	payments, err := s.paymentRepo.ListByBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if payments == nil {
		payments = []*entity.Payment{}
	}
	return payments, nil
}

// CreateIntent открывает намерение оплаты у шлюза и сохраняет его как
// ожидающий платеж
func (s *paymentService) CreateIntent(ctx context.Context, actor *entity.Actor, req *CreateIntentRequest) (*IntentResult, error) {
	booking, err := s.payableBooking(ctx, actor, req.BookingID)
	if err != nil {
		return nil, err
	}

	units := gateway.MinorUnits(booking.TotalPrice, s.gateway.MinimumAmount())

	gctx, cancel := s.gatewayCtx(ctx)
	started := time.Now()
	intent, err := s.gateway.CreateIntent(gctx, gateway.IntentRequest{
		BookingID:   booking.ID,
		Amount:      units,
		Currency:    s.gateway.Currency(),
		Token:       req.Token,
		Description: fmt.Sprintf("Room booking #%d", booking.ID),
	})
	cancel()
	metrics.ObserveGatewayCall("create_intent", started, err)
	if err != nil {
		s.log.WithError(err).WithField("booking_id", booking.ID).Error("Ошибка шлюза при создании намерения")
		return nil, err
	}

	payment := &entity.Payment{
		BookingID: booking.ID,
		Amount:    float64(intent.Amount) / 100,
		Method:    entity.PaymentMethodGateway,
		IntentID:  intent.ID,
	}
	if err := s.paymentRepo.CreateIntent(ctx, payment); err != nil {
		// Бронь успели оплатить или отменить, намерение больше не нужно
		cctx, cancel := s.gatewayCtx(context.Background())
		if _, cerr := s.gateway.CancelIntent(cctx, intent.ID); cerr != nil {
			s.log.WithError(cerr).WithField("intent_id", intent.ID).Warn("Не удалось отменить лишнее намерение")
		}
		cancel()
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"booking_id": booking.ID,
		"intent_id":  intent.ID,
		"amount":     intent.Amount,
	}).Info("Намерение оплаты создано")

	return &IntentResult{Payment: payment, Intent: intent}, nil
}

// intentPayment находит платеж по намерению и проверяет права на бронь
func (s *paymentService) intentPayment(ctx context.Context, actor *entity.Actor, intentID string) (*entity.Payment, error) {
	payment, err := s.paymentRepo.GetByIntentID(ctx, intentID)
	if err != nil {
		return nil, err
	}
	booking, err := s.bookingRepo.GetByID(ctx, payment.BookingID)
	if err != nil {
		return nil, err
	}
	if err := s.policy.CanAccessBooking(actor, booking); err != nil {
		return nil, err
	}
	return payment, nil
}

// ConfirmIntent подтверждает намерение. При ошибке или таймауте шлюза
// бронь остается в pending, итог придет вебхуком или сверкой.
func (s *paymentService) ConfirmIntent(ctx context.Context, actor *entity.Actor, intentID string) (*entity.Payment, error) {
	payment, err := s.intentPayment(ctx, actor, intentID)
	if err != nil {
		return nil, err
	}
	switch payment.Status {
	case entity.PaymentStatusPending:
	case entity.PaymentStatusPaid:
		return nil, entity.ErrAlreadyPaid
	default:
		// Закрытое намерение шлюз все равно отклонит
		return nil, fmt.Errorf("%w: payment is %s", entity.ErrInvalidPaymentTransition, payment.Status)
	}

	gctx, cancel := s.gatewayCtx(ctx)
	started := time.Now()
	intent, err := s.gateway.ConfirmIntent(gctx, intentID)
	cancel()
	metrics.ObserveGatewayCall("confirm_intent", started, err)
	if err != nil {
		s.log.WithError(err).WithField("intent_id", intentID).Warn("Ошибка шлюза при подтверждении, бронь остается в ожидании")
		return nil, err
	}

	return s.applyIntent(ctx, payment, intent, "")
}

// CancelIntent отменяет ожидающее намерение, платеж становится failed
func (s *paymentService) CancelIntent(ctx context.Context, actor *entity.Actor, intentID string) (*entity.Payment, error) {
	payment, err := s.intentPayment(ctx, actor, intentID)
	if err != nil {
		return nil, err
	}
	if payment.Status != entity.PaymentStatusPending {
		return nil, fmt.Errorf("%w: payment is %s", entity.ErrInvalidPaymentTransition, payment.Status)
	}

	gctx, cancel := s.gatewayCtx(ctx)
	started := time.Now()
	intent, err := s.gateway.CancelIntent(gctx, intentID)
	cancel()
	metrics.ObserveGatewayCall("cancel_intent", started, err)
	if err != nil {
		s.log.WithError(err).WithField("intent_id", intentID).Warn("Ошибка шлюза при отмене намерения")
		return nil, err
	}

	return s.applyIntent(ctx, payment, intent, "")
}

// Refund возвращает деньги по оплаченному намерению. amount == nil означает
// полный возврат.
func (s *paymentService) Refund(ctx context.Context, actor *entity.Actor, intentID string, amount *float64) (*entity.Payment, error) {
	if err := s.policy.RequireAdmin(actor); err != nil {
		return nil, err
	}
	if amount != nil && *amount <= 0 {
		return nil, entity.Validationf("amount", "amount must be positive")
	}

	payment, err := s.paymentRepo.GetByIntentID(ctx, intentID)
	if err != nil {
		return nil, err
	}
	if payment.Status != entity.PaymentStatusPaid {
		return nil, entity.ErrNotPaid
	}

	var units int64
	if amount != nil {
		units = gateway.MinorUnits(*amount, 0)
	}

	gctx, cancel := s.gatewayCtx(ctx)
	started := time.Now()
	intent, err := s.gateway.Refund(gctx, intentID, units)
	cancel()
	metrics.ObserveGatewayCall("refund", started, err)
	if err != nil {
		s.log.WithError(err).WithField("intent_id", intentID).Error("Ошибка шлюза при возврате")
		return nil, err
	}

	// Возврат сохраняет исходный transaction_id
	intent.TransactionID = ""
	return s.applyIntent(ctx, payment, intent, "")
}

// applyIntent переносит статус намерения на платеж и бронь
func (s *paymentService) applyIntent(ctx context.Context, payment *entity.Payment, intent *gateway.Intent, eventID string) (*entity.Payment, error) {
	status, ok := intent.Status.PaymentStatus()
	if !ok {
		return payment, nil
	}

	updated, applied, err := s.paymentRepo.ApplyOutcome(ctx, entity.PaymentOutcome{
		EventID:       eventID,
		IntentID:      intent.ID,
		Status:        status,
		TransactionID: intent.TransactionID,
	})
	if err != nil {
		return nil, err
	}
	if updated == nil {
		return payment, nil
	}
	if applied {
		s.paymentApplied(ctx, updated, intent.FailureCode)
	}
	return updated, nil
}

func (s *paymentService) paymentApplied(ctx context.Context, payment *entity.Payment, failureCode string) {
	metrics.IncPaymentTransition(string(payment.Status), string(payment.Method))

	log := s.log.WithFields(logrus.Fields{
		"booking_id": payment.BookingID,
		"intent_id":  payment.IntentID,
		"status":     payment.Status,
	})
	if failureCode != "" {
		log = log.WithField("failure_code", failureCode)
	}
	log.Info("Статус оплаты изменен")

	if key, ok := paymentEventKey(payment.Status); ok {
		publishEvent(ctx, s.events, s.log, key, paymentEventData(payment))
	}
}

// HandleGatewayEvent применяет уведомление шлюза. Повторная доставка того же
// события ничего не меняет и возвращает false.
func (s *paymentService) HandleGatewayEvent(ctx context.Context, event *entity.GatewayEvent) (bool, error) {
	status, ok := event.TargetStatus()
	if !ok {
		return false, entity.Validationf("type", "unknown event type %q", event.Type)
	}

	log := s.log.WithFields(logrus.Fields{
		"event_id":  event.ID,
		"intent_id": event.IntentID,
		"type":      event.Type,
	})

	payment, applied, err := s.paymentRepo.ApplyOutcome(ctx, entity.PaymentOutcome{
		EventID:       event.ID,
		IntentID:      event.IntentID,
		Status:        status,
		TransactionID: event.TransactionID,
	})
	if err != nil {
		log.WithError(err).Warn("Ошибка при обработке события шлюза")
		return false, err
	}
	if !applied {
		log.Debug("Событие шлюза уже обработано")
		return false, nil
	}

	s.paymentApplied(ctx, payment, "")
	return true, nil
}

// ReconcilePending опрашивает шлюз по зависшим намерениям. Возвращает число
// примененных исходов.
func (s *paymentService) ReconcilePending(ctx context.Context) (int, error) {
	pending, err := s.paymentRepo.ListPendingIntents(ctx, s.clock().Add(-s.reconcileAfter))
	if err != nil {
		return 0, err
	}

	reconciled := 0
	for _, payment := range pending {
		if ctx.Err() != nil {
			return reconciled, ctx.Err()
		}

		gctx, cancel := s.gatewayCtx(ctx)
		started := time.Now()
		intent, err := s.gateway.GetIntent(gctx, payment.IntentID)
		cancel()
		metrics.ObserveGatewayCall("get_intent", started, err)
		if err != nil {
			s.log.WithError(err).WithField("intent_id", payment.IntentID).Warn("Не удалось получить состояние намерения")
			continue
		}

		updated, err := s.applyIntent(ctx, payment, intent, "")
		if err != nil {
			if errors.Is(err, entity.ErrConflict) {
				s.log.WithError(err).WithField("intent_id", payment.IntentID).Warn("Исход намерения не применим")
				continue
			}
			return reconciled, err
		}
		if updated.Status != payment.Status {
			reconciled++
		}
	}

	if reconciled > 0 {
		s.log.WithField("count", reconciled).Info("Сверка намерений завершена")
	}
	return reconciled, nil
}

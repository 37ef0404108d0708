package worker

import (
	"context"
	"encoding/json"
	"errors"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"

	"github.com/ds124wfegd/roombooker/internal/entity"
)

// GatewayEventHandler применяет уведомление шлюза к платежу
type GatewayEventHandler interface {
	HandleGatewayEvent(ctx context.Context, event *entity.GatewayEvent) (bool, error)
}

// GatewayEventConsumer читает уведомления шлюза из очереди брокера. Это
// тот же путь, что и webhook, поэтому повторная доставка безопасна.
type GatewayEventConsumer struct {
	handler GatewayEventHandler
	log     *logrus.Entry
}

func NewGatewayEventConsumer(handler GatewayEventHandler, log *logrus.Entry) *GatewayEventConsumer {
	return &GatewayEventConsumer{
		handler: handler,
		log:     log.WithField("component", "gateway_event_consumer"),
	}
}

// Run обрабатывает доставки, пока не закроется канал или не отменится ctx
func (c *GatewayEventConsumer) Run(ctx context.Context, deliveries <-chan amqp.Delivery) {
	c.log.Info("Gateway event consumer started")
	defer c.log.Info("Gateway event consumer stopped")

	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				return
			}
			c.handleDelivery(ctx, d)
		}
	}
}

func (c *GatewayEventConsumer) handleDelivery(ctx context.Context, d amqp.Delivery) {
	entry := c.log.WithField("delivery_tag", d.DeliveryTag)

	ack, requeue := c.process(ctx, d.Body, entry)
	var err error
	if ack {
		err = d.Ack(false)
	} else {
		err = d.Nack(false, requeue)
	}
	if err != nil {
		entry.WithError(err).Error("Failed to acknowledge delivery")
	}
}

// process возвращает решение по доставке. Битые и неприменимые события не
// возвращаются в очередь, временные ошибки хранилища возвращаются.
func (c *GatewayEventConsumer) process(ctx context.Context, body []byte, entry *logrus.Entry) (ack bool, requeue bool) {
	var event entity.GatewayEvent
	if err := json.Unmarshal(body, &event); err != nil {
		entry.WithError(err).Error("Malformed gateway event dropped")
		return false, false
	}
	if event.ID == "" || event.IntentID == "" {
		entry.Error("Gateway event without id or intent_id dropped")
		return false, false
	}

	entry = entry.WithFields(logrus.Fields{
		"event_id":  event.ID,
		"type":      event.Type,
		"intent_id": event.IntentID,
	})

	applied, err := c.handler.HandleGatewayEvent(ctx, &event)
	switch {
	case err == nil:
		entry.WithField("applied", applied).Info("Gateway event processed")
		return true, false
	case errors.Is(err, entity.ErrValidation),
		errors.Is(err, entity.ErrNotFound),
		errors.Is(err, entity.ErrConflict):
		entry.WithError(err).Warn("Gateway event rejected")
		return false, false
	default:
		entry.WithError(err).Error("Gateway event failed, requeueing")
		return false, true
	}
}

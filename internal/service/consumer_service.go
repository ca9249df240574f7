package service

import (
	"context"
	"encoding/json"

	"apk-builder-be/internal/pkg/logger"
	"apk-builder-be/pkg/events"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// EventForwarder ships lifecycle events to the outside world (NATS in production).
type EventForwarder interface {
	Publish(ctx context.Context, event events.Event) error
}

type IConsumerService interface {
	Consume(ctx context.Context) error
}

type consumerService struct {
	pubSub    *gochannel.GoChannel
	topicName string
	forwarder EventForwarder
	logger    logger.ILogger
}

// NewConsumerService drains the in-process topic. forwarder may be nil, in
// which case events are only logged.
func NewConsumerService(
	pubSub *gochannel.GoChannel,
	topicName string,
	forwarder EventForwarder,
	logger logger.ILogger,
) IConsumerService {
	return &consumerService{
		pubSub:    pubSub,
		topicName: topicName,
		forwarder: forwarder,
		logger:    logger,
	}
}

func (cs *consumerService) Consume(ctx context.Context) error {
	messages, err := cs.pubSub.Subscribe(ctx, cs.topicName)
	if err != nil {
		return err
	}

	go func() {
		for msg := range messages {
			cs.processMessage(ctx, msg)
		}
	}()

	return nil
}

func (cs *consumerService) processMessage(ctx context.Context, msg *message.Message) {
	var event events.BaseEvent
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		cs.logger.Error("EVENTS", "Failed to unmarshal event", map[string]interface{}{
			"message_id": msg.UUID,
			"error":      err.Error(),
		})
		msg.Ack() // Ack invalid messages to prevent infinite retry
		return
	}

	cs.logger.Info("EVENTS", "Lifecycle event", map[string]interface{}{
		"type":    event.Type,
		"payload": event.Data,
	})

	if cs.forwarder == nil {
		msg.Ack()
		return
	}

	if err := cs.forwarder.Publish(ctx, event); err != nil {
		// The bus is best-effort; the session state is already correct locally.
		cs.logger.Warn("EVENTS", "Failed to forward event", map[string]interface{}{
			"type":  event.Type,
			"error": err.Error(),
		})
	}
	msg.Ack()
}

package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"shop-notification-service/internal/domain"

	log "github.com/sirupsen/logrus"
)

// ErrMalformedEnvelope marks messages that can never be processed.
var ErrMalformedEnvelope = errors.New("malformed event envelope")

// EventDispatcher defines the dispatcher entry point used by the handler.
type EventDispatcher interface {
	HandleEvent(ctx context.Context, eventType string, payload []byte) (domain.DispatchResult, error)
}

type eventHandler struct {
	dispatcher EventDispatcher
}

func NewEventHandler(dispatcher EventDispatcher) *eventHandler {
	return &eventHandler{dispatcher: dispatcher}
}

// HandleMessage decodes an event envelope and dispatches it. Undeliverable
// payloads are reported as errors; a notification that was not sent is not.
func (h *eventHandler) HandleMessage(ctx context.Context, message []byte) error {
	var env domain.EventEnvelope
	if err := json.Unmarshal(message, &env); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if env.EventType == "" {
		return fmt.Errorf("%w: event_type is empty", ErrMalformedEnvelope)
	}

	res, err := h.dispatcher.HandleEvent(ctx, env.EventType, env.Payload)
	if err != nil {
		return err
	}

	fields := log.Fields{
		"event_type": env.EventType,
		"delivered":  res.Delivered,
		"reason":     res.Reason,
	}
	if res.Err != nil {
		log.WithFields(fields).WithError(res.Err).Warn("Event processed without delivery")
		return nil
	}
	log.WithFields(fields).Info("Event processed")
	return nil
}

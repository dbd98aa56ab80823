package eventhandler

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jmehdipour/room-slots/internal/logger"
	"github.com/jmehdipour/room-slots/internal/model"
	"go.uber.org/zap"
)

// SlotManager is the part of the management service driven by inbound events.
type SlotManager interface {
	ConfirmAllByReservation(ctx context.Context, reservationID int64) (int, error)
	CancelAllByReservation(ctx context.Context, reservationID int64, reason string) (int, error)
}

type RequestProcessor interface {
	ProcessGeneration(ctx context.Context, id string) error
	ProcessClosedDates(ctx context.Context, id string) error
}

// NewRegistry wires the handlers of every consumed event type.
func NewRegistry(slots SlotManager, requests RequestProcessor, log *zap.Logger) (*Registry, error) {
	log = logger.Or(log).Named("eventhandler")
	b := NewBuilder()

	regs := []struct {
		eventType string
		h         Handler
	}{
		{model.EventPaymentCompleted, paymentCompleted(slots, log)},
		{model.EventReservationCancelled, reservationCancelled(slots, log)},
		{model.EventSlotGenerationRequested.String(), HandlerFunc(func(ctx context.Context, payload []byte) error {
			id, err := requestID(payload)
			if err != nil {
				return err
			}
			return requests.ProcessGeneration(ctx, id)
		})},
		{model.EventClosedDateUpdateRequested.String(), HandlerFunc(func(ctx context.Context, payload []byte) error {
			id, err := requestID(payload)
			if err != nil {
				return err
			}
			return requests.ProcessClosedDates(ctx, id)
		})},
	}
	for _, r := range regs {
		if err := b.Register(r.eventType, r.h); err != nil {
			return nil, err
		}
	}
	return b.Build(), nil
}

func paymentCompleted(slots SlotManager, log *zap.Logger) Handler {
	return HandlerFunc(func(ctx context.Context, payload []byte) error {
		var msg model.PaymentCompletedMessage
		if err := decode(payload, &msg); err != nil {
			return err
		}
		resID, err := model.ParseReservationID(msg.ReservationID)
		if err != nil {
			return fmt.Errorf("%w: payment %s: %w", model.ErrMalformedEvent, msg.PaymentID, err)
		}

		n, err := slots.ConfirmAllByReservation(ctx, resID)
		if err != nil {
			return err
		}
		log.Info("payment completed, slots confirmed",
			zap.Int64("reservation_id", resID),
			zap.String("payment_id", msg.PaymentID),
			zap.String("amount", msg.Amount.String()),
			zap.Int("confirmed", n),
		)
		return nil
	})
}

func reservationCancelled(slots SlotManager, log *zap.Logger) Handler {
	return HandlerFunc(func(ctx context.Context, payload []byte) error {
		var msg model.ReservationCancelledMessage
		if err := decode(payload, &msg); err != nil {
			return err
		}
		resID, err := model.ParseReservationID(msg.ReservationID)
		if err != nil {
			return fmt.Errorf("%w: %w", model.ErrMalformedEvent, err)
		}

		n, err := slots.CancelAllByReservation(ctx, resID, msg.CancelReason)
		if err != nil {
			return err
		}
		log.Info("reservation cancelled, slots released",
			zap.Int64("reservation_id", resID), zap.Int("released", n))
		return nil
	})
}

func requestID(payload []byte) (string, error) {
	var msg struct {
		RequestID string `json:"requestId"`
	}
	if err := decode(payload, &msg); err != nil {
		return "", err
	}
	if msg.RequestID == "" {
		return "", fmt.Errorf("%w: missing requestId", model.ErrMalformedEvent)
	}
	return msg.RequestID, nil
}

func decode(payload []byte, v any) error {
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("%w: %v", model.ErrMalformedEvent, err)
	}
	return nil
}

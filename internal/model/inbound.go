package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Inbound event types consumed from other services.
const (
	EventPaymentCompleted     = "PaymentCompleted"
	EventReservationCancelled = "ReservationCancelled"
)

// Envelope is the minimal part of every inbound payload used for dispatch.
type Envelope struct {
	EventType string `json:"eventType"`
}

// PaymentCompletedMessage is published by the payment service.
type PaymentCompletedMessage struct {
	EventType     string          `json:"eventType"`
	PaymentID     string          `json:"paymentId"`
	ReservationID string          `json:"reservationId"`
	OrderID       string          `json:"orderId"`
	Amount        decimal.Decimal `json:"amount"`
	OccurredAt    WireTime        `json:"occurredAt"`
}

// ReservationCancelledMessage is published by the reservation service.
type ReservationCancelledMessage struct {
	EventType     string    `json:"eventType"`
	ReservationID string    `json:"reservationId"`
	CancelReason  string    `json:"cancelReason"`
	OccurredAt    WireTime  `json:"occurredAt"`
}

// wireTimeLayouts are tried in order. Zoneless values are read as UTC.
var wireTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// WireTime is an informational timestamp sent by other services. It accepts
// RFC3339 and zoneless local date-times; anything else decodes to the zero
// time instead of failing the whole message.
type WireTime struct {
	time.Time
}

func ParseWireTime(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	for _, layout := range wireTimeLayouts {
		if t, err := time.ParseInLocation(layout, raw, time.UTC); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

func (w *WireTime) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		*w = WireTime{}
		return nil
	}
	var raw string
	if err := json.Unmarshal(b, &raw); err != nil {
		*w = WireTime{}
		return nil
	}
	t, _ := ParseWireTime(raw)
	*w = WireTime{Time: t}
	return nil
}

func (w WireTime) MarshalJSON() ([]byte, error) {
	if w.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(w.Time.Format(time.RFC3339Nano))
}

// ParseReservationID converts a wire identifier to its numeric form.
func ParseReservationID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidReservationID, raw)
	}
	return id, nil
}

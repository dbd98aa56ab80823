package model

import (
	"strconv"
	"time"
)

type EventType string

const (
	EventSlotReserved              EventType = "SlotReserved"
	EventSlotConfirmed             EventType = "SlotConfirmed"
	EventSlotCancelled             EventType = "SlotCancelled"
	EventSlotRestored              EventType = "SlotRestored"
	EventSlotClosed                EventType = "SlotClosed"
	EventSlotGenerationRequested   EventType = "SlotGenerationRequested"
	EventClosedDateUpdateRequested EventType = "ClosedDateUpdateRequested"
)

func (t EventType) String() string { return string(t) }

// Outbound topics.
const (
	TopicReservationReserved       = "reservation-reserved"
	TopicReservationConfirmed      = "reservation-confirmed"
	TopicReservationCancelled      = "reservation-cancelled"
	TopicReservationRestored       = "reservation-restored"
	TopicReservationClosed         = "reservation-closed"
	TopicSlotGenerationRequested   = "slot-generation-requested"
	TopicClosedDateUpdateRequested = "closed-date-update-requested"
)

// Aggregate types recorded on outbox rows.
const (
	AggregateSlot        = "slot"
	AggregateSlotRequest = "slot_request"
)

// Event is a domain event that can be appended to the outbox. The set of
// variants is closed; each variant converts itself to its wire message.
type Event interface {
	Type() EventType
	Topic() string
	AggregateType() string
	AggregateID() string
	// Message returns the JSON wire form. Identifiers are rendered as strings.
	Message(eventID string) any
	sealed()
}

var (
	_ Event = SlotReserved{}
	_ Event = SlotConfirmed{}
	_ Event = SlotCancelled{}
	_ Event = SlotRestored{}
	_ Event = SlotClosed{}
	_ Event = SlotGenerationRequested{}
	_ Event = ClosedDateUpdateRequested{}
)

// SlotRef is the part shared by every slot event. SlotID is nil until the
// slot has been persisted.
type SlotRef struct {
	SlotID     *int64
	RoomID     int64
	SlotDate   time.Time
	SlotTime   TimeOfDay
	OccurredAt time.Time
}

func (r SlotRef) AggregateType() string { return AggregateSlot }

// AggregateID uses the natural key so ids stay stable before persistence.
func (r SlotRef) AggregateID() string {
	return SlotKey{RoomID: r.RoomID, Date: r.SlotDate, Time: r.SlotTime}.String()
}

func (r SlotRef) header(eventID string, t EventType) SlotMessageHeader {
	h := SlotMessageHeader{
		EventID:    eventID,
		EventType:  t.String(),
		RoomID:     strconv.FormatInt(r.RoomID, 10),
		SlotDate:   FormatDate(r.SlotDate),
		SlotTime:   r.SlotTime.String(),
		OccurredAt: r.OccurredAt.UTC(),
	}
	if r.SlotID != nil {
		id := strconv.FormatInt(*r.SlotID, 10)
		h.SlotID = &id
	}
	return h
}

type SlotReserved struct {
	SlotRef
	ReservationID int64
}

func (SlotReserved) Type() EventType { return EventSlotReserved }
func (SlotReserved) Topic() string   { return TopicReservationReserved }
func (SlotReserved) sealed()         {}

func (e SlotReserved) Message(eventID string) any {
	return SlotReservationMessage{
		SlotMessageHeader: e.header(eventID, e.Type()),
		ReservationID:     strconv.FormatInt(e.ReservationID, 10),
	}
}

type SlotConfirmed struct {
	SlotRef
	ReservationID int64
}

func (SlotConfirmed) Type() EventType { return EventSlotConfirmed }
func (SlotConfirmed) Topic() string   { return TopicReservationConfirmed }
func (SlotConfirmed) sealed()         {}

func (e SlotConfirmed) Message(eventID string) any {
	return SlotReservationMessage{
		SlotMessageHeader: e.header(eventID, e.Type()),
		ReservationID:     strconv.FormatInt(e.ReservationID, 10),
	}
}

type SlotCancelled struct {
	SlotRef
	ReservationID int64
	CancelReason  string
}

func (SlotCancelled) Type() EventType { return EventSlotCancelled }
func (SlotCancelled) Topic() string   { return TopicReservationCancelled }
func (SlotCancelled) sealed()         {}

func (e SlotCancelled) Message(eventID string) any {
	return SlotCancelledMessage{
		SlotMessageHeader: e.header(eventID, e.Type()),
		ReservationID:     strconv.FormatInt(e.ReservationID, 10),
		CancelReason:      e.CancelReason,
	}
}

type SlotRestored struct {
	SlotRef
	RestoreReason string
}

func (SlotRestored) Type() EventType { return EventSlotRestored }
func (SlotRestored) Topic() string   { return TopicReservationRestored }
func (SlotRestored) sealed()         {}

func (e SlotRestored) Message(eventID string) any {
	return SlotRestoredMessage{
		SlotMessageHeader: e.header(eventID, e.Type()),
		RestoreReason:     e.RestoreReason,
	}
}

type SlotClosed struct {
	SlotRef
}

func (SlotClosed) Type() EventType { return EventSlotClosed }
func (SlotClosed) Topic() string   { return TopicReservationClosed }
func (SlotClosed) sealed()         {}

func (e SlotClosed) Message(eventID string) any {
	return e.header(eventID, e.Type())
}

type SlotGenerationRequested struct {
	RequestID  string
	RoomID     int64
	StartDate  time.Time
	EndDate    time.Time
	OccurredAt time.Time
}

func (SlotGenerationRequested) Type() EventType       { return EventSlotGenerationRequested }
func (SlotGenerationRequested) Topic() string         { return TopicSlotGenerationRequested }
func (SlotGenerationRequested) AggregateType() string { return AggregateSlotRequest }
func (e SlotGenerationRequested) AggregateID() string { return e.RequestID }
func (SlotGenerationRequested) sealed()               {}

func (e SlotGenerationRequested) Message(eventID string) any {
	return SlotGenerationRequestedMessage{
		EventID:    eventID,
		EventType:  e.Type().String(),
		RequestID:  e.RequestID,
		RoomID:     strconv.FormatInt(e.RoomID, 10),
		StartDate:  FormatDate(e.StartDate),
		EndDate:    FormatDate(e.EndDate),
		OccurredAt: e.OccurredAt.UTC(),
	}
}

type ClosedDateUpdateRequested struct {
	RequestID  string
	RoomID     int64
	OccurredAt time.Time
}

func (ClosedDateUpdateRequested) Type() EventType       { return EventClosedDateUpdateRequested }
func (ClosedDateUpdateRequested) Topic() string         { return TopicClosedDateUpdateRequested }
func (ClosedDateUpdateRequested) AggregateType() string { return AggregateSlotRequest }
func (e ClosedDateUpdateRequested) AggregateID() string { return e.RequestID }
func (ClosedDateUpdateRequested) sealed()               {}

func (e ClosedDateUpdateRequested) Message(eventID string) any {
	return ClosedDateUpdateRequestedMessage{
		EventID:    eventID,
		EventType:  e.Type().String(),
		RequestID:  e.RequestID,
		RoomID:     strconv.FormatInt(e.RoomID, 10),
		OccurredAt: e.OccurredAt.UTC(),
	}
}

// ---- wire messages ----

type SlotMessageHeader struct {
	EventID    string    `json:"eventId"`
	EventType  string    `json:"eventType"`
	SlotID     *string   `json:"slotId"`
	RoomID     string    `json:"roomId"`
	SlotDate   string    `json:"slotDate"`
	SlotTime   string    `json:"slotTime"`
	OccurredAt time.Time `json:"occurredAt"`
}

// SlotReservationMessage is the wire form of SlotReserved and SlotConfirmed.
type SlotReservationMessage struct {
	SlotMessageHeader
	ReservationID string `json:"reservationId"`
}

type SlotCancelledMessage struct {
	SlotMessageHeader
	ReservationID string `json:"reservationId"`
	CancelReason  string `json:"cancelReason"`
}

type SlotRestoredMessage struct {
	SlotMessageHeader
	RestoreReason string `json:"restoreReason"`
}

type SlotGenerationRequestedMessage struct {
	EventID    string    `json:"eventId"`
	EventType  string    `json:"eventType"`
	RequestID  string    `json:"requestId"`
	RoomID     string    `json:"roomId"`
	StartDate  string    `json:"startDate"`
	EndDate    string    `json:"endDate"`
	OccurredAt time.Time `json:"occurredAt"`
}

type ClosedDateUpdateRequestedMessage struct {
	EventID    string    `json:"eventId"`
	EventType  string    `json:"eventType"`
	RequestID  string    `json:"requestId"`
	RoomID     string    `json:"roomId"`
	OccurredAt time.Time `json:"occurredAt"`
}

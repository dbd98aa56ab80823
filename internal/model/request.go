package model

import "time"

type RequestKind string

const (
	RequestGeneration  RequestKind = "GENERATION"
	RequestClosedDates RequestKind = "CLOSED_DATES"
)

type RequestStatus string

const (
	RequestRequested  RequestStatus = "REQUESTED"
	RequestInProgress RequestStatus = "IN_PROGRESS"
	RequestCompleted  RequestStatus = "COMPLETED"
	RequestFailed     RequestStatus = "FAILED"
)

func (s RequestStatus) Terminal() bool { return s == RequestCompleted || s == RequestFailed }

// SlotRequest tracks an asynchronous generation or closed-date update.
type SlotRequest struct {
	ID        string        `db:"id" json:"id"`
	Kind      RequestKind   `db:"kind" json:"kind"`
	RoomID    int64         `db:"room_id" json:"roomId"`
	Payload   []byte        `db:"payload" json:"-"`
	Status    RequestStatus `db:"status" json:"status"`
	Error     *string       `db:"error" json:"error,omitempty"`
	CreatedAt time.Time     `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time     `db:"updated_at" json:"updatedAt"`
}

// GenerationRequestPayload is stored with GENERATION requests.
type GenerationRequestPayload struct {
	StartDate string `json:"startDate"`
	EndDate   string `json:"endDate"`
}

// ClosedDatesRequestPayload is stored with CLOSED_DATES requests.
type ClosedDatesRequestPayload struct {
	ClosedDates []ClosedDate `json:"closedDates"`
}

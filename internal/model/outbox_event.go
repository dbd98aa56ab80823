package model

import "time"

type OutboxStatus string

const (
	OutboxPending   OutboxStatus = "PENDING"
	OutboxPublished OutboxStatus = "PUBLISHED"
	OutboxFailed    OutboxStatus = "FAILED"
)

func (s OutboxStatus) String() string { return string(s) }

func (s OutboxStatus) Valid() bool {
	return s == OutboxPending || s == OutboxPublished || s == OutboxFailed
}

// StatusAfterFailure returns the status of an entry whose publish attempt
// failed, given its retry count after the increment.
func StatusAfterFailure(retryCount, maxRetries int) OutboxStatus {
	if retryCount >= maxRetries {
		return OutboxFailed
	}
	return OutboxPending
}

type OutboxEvent struct {
	ID            int64        `db:"id"`
	EventID       string       `db:"event_id"`
	AggregateType string       `db:"aggregate_type"` // slot | slot_request
	AggregateID   string       `db:"aggregate_id"`
	EventType     string       `db:"event_type"`
	Topic         string       `db:"topic"`
	Payload       []byte       `db:"payload"`
	Status        OutboxStatus `db:"status"`
	RetryCount    int          `db:"retry_count"`
	LastError     *string      `db:"last_error"`
	CreatedAt     time.Time    `db:"created_at"`
	PublishedAt   *time.Time   `db:"published_at"`
	UpdatedAt     time.Time    `db:"updated_at"`
}

// ArchivedEvent is a published outbox entry moved to the analytics store.
type ArchivedEvent struct {
	EventID       string    `db:"event_id" json:"eventId"`
	AggregateType string    `db:"aggregate_type" json:"aggregateType"`
	AggregateID   string    `db:"aggregate_id" json:"aggregateId"`
	EventType     string    `db:"event_type" json:"eventType"`
	Topic         string    `db:"topic" json:"topic"`
	Payload       string    `db:"payload" json:"payload"`
	CreatedAt     time.Time `db:"created_at" json:"createdAt"`
	PublishedAt   time.Time `db:"published_at" json:"publishedAt"`
}

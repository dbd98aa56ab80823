package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jmehdipour/room-slots/internal/model"
	"github.com/jmehdipour/room-slots/internal/repository/memrepo"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2025, 11, 5, 8, 0, 0, 0, time.UTC)

func clock() time.Time { return testNow }

type sent struct {
	topic, key string
	payload    []byte
}

type fakeChannel struct {
	mu       sync.Mutex
	err      error
	failNext int // calls to fail before err applies
	sent     []sent
}

func (f *fakeChannel) Publish(_ context.Context, topic, key string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext > 0 {
		f.failNext--
		return errors.New("broker timeout")
	}
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sent{topic: topic, key: key, payload: payload})
	return nil
}

func reservedEvent(resID int64) model.Event {
	return reservedAt(resID, model.NewTimeOfDay(9, 0))
}

func reservedAt(resID int64, at model.TimeOfDay) model.Event {
	id := int64(7)
	return model.SlotReserved{
		SlotRef: model.SlotRef{
			SlotID:     &id,
			RoomID:     100,
			SlotDate:   testNow,
			SlotTime:   at,
			OccurredAt: testNow,
		},
		ReservationID: resID,
	}
}

func cancelledEvent(resID int64) model.Event {
	id := int64(7)
	return model.SlotCancelled{
		SlotRef: model.SlotRef{
			SlotID:     &id,
			RoomID:     100,
			SlotDate:   testNow,
			SlotTime:   model.NewTimeOfDay(9, 0),
			OccurredAt: testNow,
		},
		ReservationID: resID,
		CancelReason:  "user",
	}
}

func sentTypes(t *testing.T, ch *fakeChannel) []string {
	t.Helper()
	ch.mu.Lock()
	defer ch.mu.Unlock()
	var out []string
	for _, s := range ch.sent {
		var msg map[string]any
		require.NoError(t, json.Unmarshal(s.payload, &msg))
		out = append(out, msg["eventType"].(string)+"@"+s.key)
	}
	return out
}

func appendEvents(t *testing.T, store *memrepo.Store, events ...model.Event) []int64 {
	t.Helper()
	w := NewWriter(store.Outbox()).WithClock(clock)
	var ids []int64
	require.NoError(t, store.WithTx(context.Background(), func(tx *sqlx.Tx) error {
		var err error
		ids, err = w.AppendAll(context.Background(), tx, events)
		return err
	}))
	return ids
}

func TestWriter_AppendStoresWireMessage(t *testing.T) {
	store := memrepo.New()
	ids := appendEvents(t, store, reservedEvent(555))
	require.Len(t, ids, 1)

	entries := store.Outbox().All()
	require.Len(t, entries, 1)
	e := entries[0]
	assert.Equal(t, model.OutboxPending, e.Status)
	assert.Equal(t, "reservation-reserved", e.Topic)
	assert.Equal(t, "SlotReserved", e.EventType)
	assert.Equal(t, "100/2025-11-05/09:00", e.AggregateID)
	assert.NotEmpty(t, e.EventID)

	var msg map[string]any
	require.NoError(t, json.Unmarshal(e.Payload, &msg))
	assert.Equal(t, "555", msg["reservationId"])
	assert.Equal(t, "7", msg["slotId"])
	assert.Equal(t, "100", msg["roomId"])
	assert.Equal(t, e.EventID, msg["eventId"])
}

func TestWriter_EntryDoesNotOutliveRolledBackTx(t *testing.T) {
	store := memrepo.New()
	w := NewWriter(store.Outbox()).WithClock(clock)

	err := store.WithTx(context.Background(), func(tx *sqlx.Tx) error {
		if _, err := w.Append(context.Background(), tx, reservedEvent(1)); err != nil {
			return err
		}
		return errors.New("downstream failure")
	})

	require.Error(t, err)
	assert.Empty(t, store.Outbox().All())
}

func TestPublisher_PublishByIDsMarksPublished(t *testing.T) {
	store := memrepo.New()
	ids := appendEvents(t, store, reservedEvent(1), reservedEvent(2))
	ch := &fakeChannel{}

	res := NewPublisher(store.Outbox(), ch, Config{}, nil).WithClock(clock).PublishByIDs(context.Background(), ids)

	assert.Equal(t, 2, res.Published)
	require.Len(t, ch.sent, 2)
	assert.Equal(t, "100/2025-11-05/09:00", ch.sent[0].key)
	for _, e := range store.Outbox().All() {
		assert.Equal(t, model.OutboxPublished, e.Status)
		require.NotNil(t, e.PublishedAt)
	}
}

func TestPublisher_ImmediateFailureLeavesEntryForDrain(t *testing.T) {
	store := memrepo.New()
	ids := appendEvents(t, store, reservedEvent(1))
	ch := &fakeChannel{err: errors.New("broker down")}
	p := NewPublisher(store.Outbox(), ch, Config{MaxRetries: 5}, nil).WithClock(clock)

	res := p.PublishByIDs(context.Background(), ids)
	assert.Equal(t, 1, res.Retried)

	e := store.Outbox().All()[0]
	assert.Equal(t, model.OutboxPending, e.Status)
	assert.Equal(t, 1, e.RetryCount)
	require.NotNil(t, e.LastError)
	assert.Equal(t, "broker down", *e.LastError)

	ch.err = nil
	dres, err := p.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, dres.Published)
	assert.Equal(t, model.OutboxPublished, store.Outbox().All()[0].Status)
}

func TestPublisher_DrainFailsOnlyAfterMaxRetries(t *testing.T) {
	store := memrepo.New()
	appendEvents(t, store, reservedEvent(1))
	ch := &fakeChannel{err: errors.New("broker down")}
	p := NewPublisher(store.Outbox(), ch, Config{MaxRetries: 3}, nil).WithClock(clock)

	for i := 1; i <= 2; i++ {
		res, err := p.Drain(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, res.Retried, "attempt %d", i)
		assert.Equal(t, model.OutboxPending, store.Outbox().All()[0].Status)
	}

	res, err := p.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, model.OutboxFailed, store.Outbox().All()[0].Status)

	res, err = p.Drain(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.Processed)
}

func TestPublisher_FirstFailureNeverTerminal(t *testing.T) {
	store := memrepo.New()
	appendEvents(t, store, reservedEvent(1))
	p := NewPublisher(store.Outbox(), &fakeChannel{err: errors.New("x")}, Config{MaxRetries: 1}, nil)

	assert.Equal(t, 2, p.MaxRetries())
	res, err := p.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Retried)
}

func TestPublisher_DrainOrderAndBatch(t *testing.T) {
	store := memrepo.New()
	t0 := testNow
	w := NewWriter(store.Outbox())
	for i := 0; i < 3; i++ {
		at := t0.Add(time.Duration(i) * time.Second)
		w.WithClock(func() time.Time { return at })
		require.NoError(t, store.WithTx(context.Background(), func(tx *sqlx.Tx) error {
			_, err := w.Append(context.Background(), tx, reservedEvent(int64(i+1)))
			return err
		}))
	}

	ch := &fakeChannel{}
	res, err := NewPublisher(store.Outbox(), ch, Config{BatchSize: 2}, nil).Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Published)

	var first map[string]any
	require.NoError(t, json.Unmarshal(ch.sent[0].payload, &first))
	assert.Equal(t, "1", first["reservationId"])
}

func TestPublisher_DrainKeepsAggregateOrderAfterFailure(t *testing.T) {
	store := memrepo.New()
	appendEvents(t, store, reservedEvent(1))
	appendEvents(t, store, cancelledEvent(1))
	appendEvents(t, store, reservedAt(2, model.NewTimeOfDay(10, 0)))
	ch := &fakeChannel{failNext: 1}
	p := NewPublisher(store.Outbox(), ch, Config{MaxRetries: 5}, nil).WithClock(clock)

	res, err := p.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Retried)
	assert.Equal(t, 1, res.Deferred)
	assert.Equal(t, 1, res.Published)
	// the other slot is not held back
	assert.Equal(t, []string{"SlotReserved@100/2025-11-05/10:00"}, sentTypes(t, ch))

	res, err = p.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Published)
	assert.Equal(t, []string{
		"SlotReserved@100/2025-11-05/10:00",
		"SlotReserved@100/2025-11-05/09:00",
		"SlotCancelled@100/2025-11-05/09:00",
	}, sentTypes(t, ch))
}

func TestPublisher_PublishByIDsWaitsForOlderPendingEntry(t *testing.T) {
	store := memrepo.New()
	ch := &fakeChannel{failNext: 1}
	p := NewPublisher(store.Outbox(), ch, Config{MaxRetries: 5}, nil).WithClock(clock)

	first := appendEvents(t, store, reservedEvent(1))
	assert.Equal(t, 1, p.PublishByIDs(context.Background(), first).Retried)

	second := appendEvents(t, store, cancelledEvent(1), reservedAt(2, model.NewTimeOfDay(10, 0)))
	res := p.PublishByIDs(context.Background(), second)
	assert.Equal(t, 1, res.Deferred)
	assert.Equal(t, 1, res.Published)
	assert.Equal(t, []string{"SlotReserved@100/2025-11-05/10:00"}, sentTypes(t, ch))

	_, err := p.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{
		"SlotReserved@100/2025-11-05/10:00",
		"SlotReserved@100/2025-11-05/09:00",
		"SlotCancelled@100/2025-11-05/09:00",
	}, sentTypes(t, ch))
	for _, e := range store.Outbox().All() {
		assert.Equal(t, model.OutboxPublished, e.Status)
	}
}

func TestPublisher_OlderPendingCheckFailureDefers(t *testing.T) {
	store := memrepo.New()
	ids := appendEvents(t, store, reservedEvent(1))
	store.FailOn("outbox.HasOlderPending", errors.New("db gone"))
	ch := &fakeChannel{}

	res := NewPublisher(store.Outbox(), ch, Config{}, nil).PublishByIDs(context.Background(), ids)
	assert.Equal(t, 1, res.Deferred)
	assert.Empty(t, ch.sent)
	assert.Equal(t, model.OutboxPending, store.Outbox().All()[0].Status)
}

func TestPublisher_StateUpdateFailureIsCounted(t *testing.T) {
	store := memrepo.New()
	ids := appendEvents(t, store, reservedEvent(1))
	store.FailOn("outbox.MarkPublished", errors.New("db gone"))

	res := NewPublisher(store.Outbox(), &fakeChannel{}, Config{}, nil).PublishByIDs(context.Background(), ids)
	assert.Equal(t, 1, res.StateUpdateFailed)
	assert.Equal(t, model.OutboxPending, store.Outbox().All()[0].Status)
}

func TestCleaner_ArchivesThenDeletes(t *testing.T) {
	store := memrepo.New()
	ids := appendEvents(t, store, reservedEvent(1), reservedEvent(2))
	old := testNow.Add(-10 * 24 * time.Hour)
	require.NoError(t, store.Outbox().MarkPublished(context.Background(), ids[0], old))
	require.NoError(t, store.Outbox().MarkPublished(context.Background(), ids[1], testNow))

	n, err := NewCleaner(store.Outbox(), store.Archive(), 7*24*time.Hour, nil).WithClock(clock).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	left := store.Outbox().All()
	require.Len(t, left, 1)
	assert.Equal(t, ids[1], left[0].ID)

	archived, err := store.Archive().ListByAggregate(context.Background(), model.AggregateSlot, "", 10, 0)
	require.NoError(t, err)
	require.Len(t, archived, 1)
	assert.Equal(t, old, archived[0].PublishedAt)
}

func TestCleaner_ArchiveFailureKeepsEntries(t *testing.T) {
	store := memrepo.New()
	ids := appendEvents(t, store, reservedEvent(1))
	require.NoError(t, store.Outbox().MarkPublished(context.Background(), ids[0], testNow.Add(-30*24*time.Hour)))
	store.FailOn("archive.Archive", errors.New("clickhouse down"))

	_, err := NewCleaner(store.Outbox(), store.Archive(), time.Hour, nil).WithClock(clock).Run(context.Background())
	require.Error(t, err)
	assert.Len(t, store.Outbox().All(), 1)
}

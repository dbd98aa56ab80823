package requests

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jmehdipour/room-slots/internal/model"
	"github.com/jmehdipour/room-slots/internal/outbox"
	"github.com/jmehdipour/room-slots/internal/repository/memrepo"
	"github.com/jmehdipour/room-slots/internal/service/generation"
	"github.com/jmehdipour/room-slots/internal/service/management"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testNow = time.Date(2025, 11, 5, 8, 0, 0, 0, time.UTC)
	today   = model.DateOf(testNow)
	nine    = model.NewTimeOfDay(9, 0)
)

type hourly struct{}

func (hourly) GetSlotUnit(context.Context, int64) (model.SlotUnit, error) { return model.SlotUnitHour, nil }

type countingPublisher struct{ ids []int64 }

func (p *countingPublisher) PublishByIDs(_ context.Context, ids []int64) outbox.Result {
	p.ids = append(p.ids, ids...)
	return outbox.Result{Processed: len(ids), Published: len(ids)}
}

type fixture struct {
	store *memrepo.Store
	pub   *countingPublisher
	svc   *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := func() time.Time { return testNow }
	store := memrepo.New()
	pub := &countingPublisher{}
	writer := outbox.NewWriter(store.Outbox()).WithClock(clock)

	src := generation.RepositorySource{Policies: store.Policies(), Units: hourly{}}
	gen := generation.New(store, store.Slots(), src, generation.Config{HorizonDays: 3, RegenerateDays: 5}, nil).WithClock(clock)
	mgmt := management.New(store, store.Slots(), writer, pub, 0, nil).WithClock(clock)

	svc := New(store, store.Requests(), store.Policies(), writer, pub, gen, mgmt, nil).WithClock(clock)
	return &fixture{store: store, pub: pub, svc: svc}
}

func dailyAt(roomID int64, start model.TimeOfDay) model.WeeklyPolicy {
	p := model.WeeklyPolicy{RoomID: roomID, Recurrence: model.EveryWeek}
	for wd := time.Sunday; wd <= time.Saturday; wd++ {
		p.Slots = append(p.Slots, model.WeeklySlotTime{Weekday: wd, Start: start})
	}
	return p
}

func TestUpdatePolicy_RegeneratesFutureSlots(t *testing.T) {
	f := newFixture(t)

	n, err := f.svc.UpdatePolicy(context.Background(), dailyAt(100, nine))
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	assert.Len(t, f.store.Slots().All(), 6)

	p, err := f.store.Policies().FindByRoom(context.Background(), 100)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, testNow, p.UpdatedAt)
}

func TestUpdatePolicy_Invalid(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.UpdatePolicy(context.Background(), model.WeeklyPolicy{RoomID: 100, Recurrence: "DAILY"})
	assert.ErrorIs(t, err, model.ErrInvalidInput)
	assert.Empty(t, f.store.Slots().All())
}

func TestSubmitGeneration_StoresRequestAndEvent(t *testing.T) {
	f := newFixture(t)

	req, err := f.svc.SubmitGeneration(context.Background(), 100, today, today.AddDate(0, 0, 2))
	require.NoError(t, err)
	assert.Equal(t, model.RequestRequested, req.Status)
	assert.Equal(t, model.RequestGeneration, req.Kind)
	assert.JSONEq(t, `{"startDate":"2025-11-05","endDate":"2025-11-07"}`, string(req.Payload))

	got, err := f.svc.GetRequest(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, req.ID, got.ID)

	evs := f.store.Outbox().All()
	require.Len(t, evs, 1)
	assert.Equal(t, model.TopicSlotGenerationRequested, evs[0].Topic)
	assert.Equal(t, model.AggregateSlotRequest, evs[0].AggregateType)
	assert.Equal(t, req.ID, evs[0].AggregateID)
	assert.Equal(t, []int64{evs[0].ID}, f.pub.ids)
}

func TestSubmitGeneration_InvalidRange(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.SubmitGeneration(context.Background(), 100, today, today.AddDate(0, 0, -1))
	assert.ErrorIs(t, err, model.ErrInvalidInput)

	_, err = f.svc.SubmitGeneration(context.Background(), 100, today, today.AddDate(0, 0, MaxRangeDays+1))
	assert.ErrorIs(t, err, model.ErrInvalidInput)
	assert.Empty(t, f.store.Outbox().All())
}

func TestSubmitGeneration_OutboxFailureRollsBackRequest(t *testing.T) {
	f := newFixture(t)
	f.store.FailOn("outbox.Insert", errors.New("boom"))

	_, err := f.svc.SubmitGeneration(context.Background(), 100, today, today)
	require.Error(t, err)
	assert.Empty(t, f.store.Outbox().All())
	assert.Empty(t, f.pub.ids)
}

func TestGetRequest_NotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.GetRequest(context.Background(), "nope")
	assert.ErrorIs(t, err, model.ErrRequestNotFound)
}

func TestProcessGeneration(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.Policies().Upsert(ctx, nil, dailyAt(100, nine)))

	req, err := f.svc.SubmitGeneration(ctx, 100, today, today.AddDate(0, 0, 2))
	require.NoError(t, err)

	require.NoError(t, f.svc.ProcessGeneration(ctx, req.ID))
	got, err := f.svc.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RequestCompleted, got.Status)
	assert.Nil(t, got.Error)
	assert.Len(t, f.store.Slots().All(), 3)

	// redelivery of a finished request is a no-op
	require.NoError(t, f.svc.ProcessGeneration(ctx, req.ID))
	assert.Len(t, f.store.Slots().All(), 3)
}

func TestProcessGeneration_MissingPolicyMarksFailed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req, err := f.svc.SubmitGeneration(ctx, 100, today, today)
	require.NoError(t, err)

	require.NoError(t, f.svc.ProcessGeneration(ctx, req.ID))
	got, err := f.svc.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RequestFailed, got.Status)
	require.NotNil(t, got.Error)
	assert.Contains(t, *got.Error, "2025-11-05")
}

func TestProcess_WrongKind(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req, err := f.svc.SubmitGeneration(ctx, 100, today, today)
	require.NoError(t, err)

	err = f.svc.ProcessClosedDates(ctx, req.ID)
	assert.ErrorIs(t, err, model.ErrMalformedEvent)
}

func TestSubmitClosedDates_RequiresPolicy(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.SubmitClosedDates(context.Background(), 100, nil)
	assert.ErrorIs(t, err, model.ErrPolicyNotFound)
}

func TestProcessClosedDates_ClosesThenReopens(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.UpdatePolicy(ctx, dailyAt(100, nine))
	require.NoError(t, err)

	tomorrow := model.SlotKey{RoomID: 100, Date: today.AddDate(0, 0, 1), Time: nine}

	req, err := f.svc.SubmitClosedDates(ctx, 100, []model.ClosedDate{{Date: tomorrow.Date}})
	require.NoError(t, err)
	require.NoError(t, f.svc.ProcessClosedDates(ctx, req.ID))

	got, err := f.svc.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RequestCompleted, got.Status)

	slot, err := f.store.Slots().GetByKey(ctx, tomorrow)
	require.NoError(t, err)
	require.NotNil(t, slot)
	assert.Equal(t, model.StatusClosed, slot.Status)

	p, err := f.store.Policies().FindByRoom(ctx, 100)
	require.NoError(t, err)
	require.Len(t, p.ClosedDates, 1)

	req, err = f.svc.SubmitClosedDates(ctx, 100, nil)
	require.NoError(t, err)
	require.NoError(t, f.svc.ProcessClosedDates(ctx, req.ID))

	slot, err = f.store.Slots().GetByKey(ctx, tomorrow)
	require.NoError(t, err)
	assert.Equal(t, model.StatusAvailable, slot.Status)

	p, err = f.store.Policies().FindByRoom(ctx, 100)
	require.NoError(t, err)
	assert.Empty(t, p.ClosedDates)
}

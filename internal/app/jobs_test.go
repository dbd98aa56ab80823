package app

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jmehdipour/room-slots/internal/config"
	"github.com/jmehdipour/room-slots/internal/model"
	"github.com/jmehdipour/room-slots/internal/outbox"
	"github.com/jmehdipour/room-slots/internal/repository/memrepo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type halfHour struct{}

func (halfHour) GetSlotUnit(context.Context, int64) (model.SlotUnit, error) {
	return model.SlotUnitHalfHour, nil
}

type captured struct {
	mu     sync.Mutex
	topics []string
	keys   []string
}

func (c *captured) channel() outbox.Channel {
	return outbox.ChannelFunc(func(_ context.Context, topic, key string, _ []byte) error {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.topics = append(c.topics, topic)
		c.keys = append(c.keys, key)
		return nil
	})
}

func testConfig() config.Config {
	var cfg config.Config
	cfg.Outbox.MaxRetries = 5
	cfg.Outbox.BatchSize = 10
	cfg.Slots.PendingTimeout = 15 * time.Minute
	cfg.Slots.HorizonDays = 30
	cfg.Slots.RegenerateDays = 60
	return cfg
}

func newTestServices(t *testing.T) (*Services, *memrepo.Store, *captured) {
	t.Helper()
	store := memrepo.New()
	ch := &captured{}
	svcs := NewServices(testConfig(), Repositories{
		Tx:       store,
		Slots:    store.Slots(),
		Outbox:   store.Outbox(),
		Policies: store.Policies(),
		Requests: store.Requests(),
		Archive:  store.Archive(),
	}, ch.channel(), halfHour{}, nil)
	return svcs, store, ch
}

func TestJobs_NamesAndSpecs(t *testing.T) {
	svcs, _, _ := newTestServices(t)
	cfg := config.SchedulerConfig{
		OutboxDrain:     config.JobConfig{Spec: "@every 5s", LockTTL: 30 * time.Second},
		ExpirePending:   config.JobConfig{Spec: "@every 1m", LockTTL: time.Minute},
		SlotPregenerate: config.JobConfig{Spec: "0 1 * * *", LockTTL: 10 * time.Minute},
		SlotCleanup:     config.JobConfig{Spec: "0 2 * * *", LockTTL: 10 * time.Minute},
		OutboxCleanup:   config.JobConfig{Spec: "0 3 * * *", LockTTL: 10 * time.Minute},
	}

	jobs := svcs.Jobs(cfg)
	names := make([]string, 0, len(jobs))
	for _, j := range jobs {
		names = append(names, j.Name)
		assert.NotEmpty(t, j.Spec)
		assert.Positive(t, j.LockTTL)
		assert.NotNil(t, j.Run)
	}
	assert.Equal(t, []string{
		JobOutboxDrain, JobExpirePending, JobSlotPregenerate, JobSlotCleanup, JobOutboxCleanup,
	}, names)
}

func TestServices_ReserveIsPublishedThroughChannel(t *testing.T) {
	svcs, store, ch := newTestServices(t)
	ctx := context.Background()
	date := model.DateOf(time.Now().UTC())
	store.Slots().Seed(model.Slot{RoomID: 1, SlotDate: date, SlotTime: model.NewTimeOfDay(9, 30), Status: model.StatusAvailable})

	key := model.SlotKey{RoomID: 1, Date: date, Time: model.NewTimeOfDay(9, 30)}
	_, err := svcs.Management.MarkPending(ctx, key, 9)
	require.NoError(t, err)

	ch.mu.Lock()
	assert.Equal(t, []string{model.TopicReservationReserved}, ch.topics)
	assert.Equal(t, []string{key.String()}, ch.keys)
	ch.mu.Unlock()

	entries := store.Outbox().All()
	require.Len(t, entries, 1)
	assert.Equal(t, model.OutboxPublished, entries[0].Status)

	// nothing left for the drain job
	for _, j := range svcs.Jobs(config.SchedulerConfig{}) {
		if j.Name == JobOutboxDrain {
			require.NoError(t, j.Run(ctx))
		}
	}
	ch.mu.Lock()
	assert.Len(t, ch.topics, 1)
	ch.mu.Unlock()
}

func TestJobs_PregenerateUsesUnitSource(t *testing.T) {
	svcs, store, _ := newTestServices(t)
	ctx := context.Background()

	p := model.WeeklyPolicy{RoomID: 3, Recurrence: model.EveryWeek}
	for wd := time.Sunday; wd <= time.Saturday; wd++ {
		p.Slots = append(p.Slots,
			model.WeeklySlotTime{Weekday: wd, Start: model.NewTimeOfDay(9, 0)},
			model.WeeklySlotTime{Weekday: wd, Start: model.NewTimeOfDay(9, 30)},
		)
	}
	require.NoError(t, store.Policies().Upsert(ctx, nil, p))

	for _, j := range svcs.Jobs(config.SchedulerConfig{}) {
		if j.Name == JobSlotPregenerate {
			require.NoError(t, j.Run(ctx))
		}
	}
	assert.Len(t, store.Slots().All(), 2)
}

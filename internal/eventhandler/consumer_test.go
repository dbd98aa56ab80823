package eventhandler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jmehdipour/room-slots/internal/kafka"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type chanSource struct {
	in chan kafka.Message

	mu        sync.Mutex
	committed []int64
}

func (s *chanSource) Fetch(ctx context.Context) (kafka.Message, error) {
	select {
	case m := <-s.in:
		return m, nil
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	}
}

func (s *chanSource) Commit(_ context.Context, m kafka.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.committed = append(s.committed, m.Offset)
	return nil
}

func (s *chanSource) commits() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int64(nil), s.committed...)
}

type memDLQ struct {
	mu      sync.Mutex
	offsets []int64
	reasons []string
}

func (d *memDLQ) SendToDLQ(_ context.Context, m kafka.Message, reason string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.offsets = append(d.offsets, m.Offset)
	d.reasons = append(d.reasons, reason)
	return nil
}

func (d *memDLQ) sent() []int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]int64(nil), d.offsets...)
}

func TestWorker_PoisonIsDeadLetteredAndFlakyIsRetried(t *testing.T) {
	var mu sync.Mutex
	flakyCalls := 0

	b := NewBuilder()
	require.NoError(t, b.Register("Ok", HandlerFunc(noop)))
	require.NoError(t, b.Register("Flaky", HandlerFunc(func(context.Context, []byte) error {
		mu.Lock()
		defer mu.Unlock()
		flakyCalls++
		if flakyCalls < 2 {
			return errors.New("temporary")
		}
		return nil
	})))

	src := &chanSource{in: make(chan kafka.Message, 8)}
	dlq := &memDLQ{}
	w := NewWorker(src, dlq, b.Build(), WorkerConfig{
		Workers:      2,
		InitialDelay: time.Millisecond,
		MaxDelay:     2 * time.Millisecond,
	}, nil)

	src.in <- kafka.Message{Topic: "t", Partition: 0, Offset: 1, Value: []byte(`{"eventType":"Ok"}`)}
	src.in <- kafka.Message{Topic: "t", Partition: 0, Offset: 2, Value: []byte(`{"eventType":"Unknown"}`)}
	src.in <- kafka.Message{Topic: "t", Partition: 0, Offset: 3, Value: []byte(`{"eventType":"Flaky"}`)}
	src.in <- kafka.Message{Topic: "t", Partition: 0, Offset: 4, Value: []byte(`garbage`)}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool { return len(src.commits()) == 4 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, []int64{1, 2, 3, 4}, src.commits())
	assert.Equal(t, []int64{2, 4}, dlq.sent())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, flakyCalls)
}

func TestWorker_TransientFailureHoldsOffsetUntilRecovered(t *testing.T) {
	var (
		mu    sync.Mutex
		down  = true
		calls int
	)
	b := NewBuilder()
	require.NoError(t, b.Register("PaymentCompleted", HandlerFunc(func(context.Context, []byte) error {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if down {
			return errors.New("connection refused")
		}
		return nil
	})))
	require.NoError(t, b.Register("Ok", HandlerFunc(noop)))

	src := &chanSource{in: make(chan kafka.Message, 4)}
	dlq := &memDLQ{}
	w := NewWorker(src, dlq, b.Build(), WorkerConfig{
		Workers:      1,
		AlertAfter:   2,
		InitialDelay: time.Millisecond,
		MaxDelay:     2 * time.Millisecond,
	}, nil)

	src.in <- kafka.Message{Topic: "t", Partition: 0, Offset: 1, Value: []byte(`{"eventType":"PaymentCompleted"}`)}
	src.in <- kafka.Message{Topic: "t", Partition: 0, Offset: 2, Value: []byte(`{"eventType":"Ok"}`)}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// well past any fixed attempt budget
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls >= 10
	}, 2*time.Second, time.Millisecond)
	assert.Empty(t, src.commits())
	assert.Empty(t, dlq.sent())

	mu.Lock()
	down = false
	mu.Unlock()

	require.Eventually(t, func() bool { return len(src.commits()) == 2 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, []int64{1, 2}, src.commits())
	assert.Empty(t, dlq.sent())
}

func TestWorker_StopDuringOutageLeavesOffsetUncommitted(t *testing.T) {
	failing := make(chan struct{}, 1)
	b := NewBuilder()
	require.NoError(t, b.Register("ReservationCancelled", HandlerFunc(func(context.Context, []byte) error {
		select {
		case failing <- struct{}{}:
		default:
		}
		return errors.New("lock wait timeout")
	})))
	require.NoError(t, b.Register("Ok", HandlerFunc(noop)))

	src := &chanSource{in: make(chan kafka.Message, 2)}
	dlq := &memDLQ{}
	w := NewWorker(src, dlq, b.Build(), WorkerConfig{
		Workers:      1,
		InitialDelay: time.Millisecond,
		MaxDelay:     time.Millisecond,
	}, nil)
	src.in <- kafka.Message{Topic: "t", Partition: 0, Offset: 9, Value: []byte(`{"eventType":"ReservationCancelled"}`)}
	src.in <- kafka.Message{Topic: "t", Partition: 0, Offset: 10, Value: []byte(`{"eventType":"Ok"}`)}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	<-failing
	// offset 10 is queued behind the failing one
	require.Eventually(t, func() bool { return len(src.in) == 0 }, 2*time.Second, time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}

	assert.Empty(t, src.commits())
	assert.Empty(t, dlq.sent())
}

func TestWorker_PartitionOrderPreserved(t *testing.T) {
	b := NewBuilder()
	require.NoError(t, b.Register("E", HandlerFunc(func(context.Context, []byte) error {
		time.Sleep(time.Millisecond)
		return nil
	})))

	src := &chanSource{in: make(chan kafka.Message, 32)}
	w := NewWorker(src, &memDLQ{}, b.Build(), WorkerConfig{Workers: 4}, nil)
	for i := int64(1); i <= 20; i++ {
		src.in <- kafka.Message{Topic: "t", Partition: 3, Offset: i, Value: []byte(`{"eventType":"E"}`)}
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool { return len(src.commits()) == 20 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	for i, off := range src.commits() {
		assert.Equal(t, int64(i+1), off)
	}
}

package broadcast

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/googleapis/gax-go/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lllllllleong/documentintake/internal/models"
)

type sinkRecord struct {
	topic string
	evt   models.Event
}

type memorySink struct {
	mu  sync.Mutex
	got []sinkRecord
}

func (s *memorySink) Send(topic string, evt models.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, sinkRecord{topic: topic, evt: evt})
	return true
}

func (s *memorySink) records() []sinkRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sinkRecord(nil), s.got...)
}

type failingBus struct{}

func (failingBus) Publish(context.Context, models.Event) error {
	return errors.New("connection refused")
}

func (failingBus) Subscribe(context.Context) (<-chan models.Event, error) {
	return nil, errors.New("connection refused")
}

// loopbackBus hands published events straight to its subscriber.
type loopbackBus struct{ ch chan models.Event }

func (b loopbackBus) Publish(_ context.Context, evt models.Event) error {
	b.ch <- evt
	return nil
}

func (b loopbackBus) Subscribe(context.Context) (<-chan models.Event, error) { return b.ch, nil }

func progressEvent(docID, userID string, p int) models.Event {
	return models.NewEvent(docID, userID, models.ProgressData{
		Status: models.StatusOCRProcessing, Stage: "ocr", Progress: p, Timestamp: time.Now(),
	})
}

func TestFabricDeliversLocallyWithoutBus(t *testing.T) {
	f := NewFabric(NewRegistry(), nil, nil)
	a, b, other := &memorySink{}, &memorySink{}, &memorySink{}
	f.Attach("a", a)
	f.Attach("b", b)
	f.Attach("other", other)
	f.Registry().Subscribe("a", "d1")
	f.Registry().Subscribe("b", "d1")
	f.Registry().Subscribe("other", "d2")

	for p := 20; p <= 90; p += 10 {
		require.NoError(t, f.Publish(context.Background(), progressEvent("d1", "", p)))
	}

	ra, rb := a.records(), b.records()
	require.Len(t, ra, 8)
	require.Len(t, rb, 8)
	for i := range ra {
		assert.Equal(t, ra[i].evt, rb[i].evt, "subscribers must see the same order")
	}
	assert.Empty(t, other.records())
}

func TestFabricFallsBackWhenBusFails(t *testing.T) {
	f := NewFabric(NewRegistry(), failingBus{}, nil)
	sink := &memorySink{}
	f.Attach("c1", sink)
	f.Registry().Subscribe("c1", "d1")

	err := f.Publish(context.Background(), progressEvent("d1", "", 40))
	assert.NoError(t, err)
	require.Len(t, sink.records(), 1)
	assert.Equal(t, "document:d1", sink.records()[0].topic)
}

func TestFabricFallsBackWhenRedisIsDown(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 200 * time.Millisecond, MaxRetries: -1})
	defer client.Close()
	f := NewFabric(NewRegistry(), NewRedisBus(client, "", "", nil), nil)
	sink := &memorySink{}
	f.Attach("c1", sink)
	f.Registry().Subscribe("c1", "d1")

	assert.NoError(t, f.Publish(context.Background(), progressEvent("d1", "", 40)))
	assert.Len(t, sink.records(), 1)
}

func TestFabricDeliversUserEventsOnce(t *testing.T) {
	f := NewFabric(NewRegistry(), nil, nil)
	sink := &memorySink{}
	f.Attach("c1", sink)
	f.Registry().Subscribe("c1", "d1")
	f.Registry().SubscribeUser("c1", "u1")

	require.NoError(t, f.Publish(context.Background(), progressEvent("d1", "u1", 30)))
	require.NoError(t, f.Publish(context.Background(), progressEvent("d9", "u1", 30)))

	recs := sink.records()
	require.Len(t, recs, 2)
	assert.Equal(t, "document:d1", recs[0].topic)
	assert.Equal(t, "user:u1", recs[1].topic)
}

func TestFabricRunDeliversBusEvents(t *testing.T) {
	bus := loopbackBus{ch: make(chan models.Event, 8)}
	f := NewFabric(NewRegistry(), bus, nil)
	sink := &memorySink{}
	f.Attach("c1", sink)
	f.Registry().Subscribe("c1", "d1")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.Run(ctx) }()
	require.Eventually(t, f.consuming.Load, time.Second, 5*time.Millisecond)

	require.NoError(t, f.Publish(ctx, progressEvent("d1", "", 50)))
	require.Eventually(t, func() bool { return len(sink.records()) == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
	assert.Len(t, sink.records(), 1)
}

// flakyBus fails the first failSubscribes subscriptions. Publish always
// succeeds and reaches the current subscriber, if any.
type flakyBus struct {
	mu             sync.Mutex
	failSubscribes int
	subscribes     int
	ch             chan models.Event
}

func (b *flakyBus) Publish(_ context.Context, evt models.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ch != nil {
		b.ch <- evt
	}
	return nil
}

func (b *flakyBus) Subscribe(context.Context) (<-chan models.Event, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribes++
	if b.subscribes <= b.failSubscribes {
		return nil, errors.New("connection refused")
	}
	b.ch = make(chan models.Event, 8)
	return b.ch, nil
}

// drop ends the current subscription.
func (b *flakyBus) drop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	close(b.ch)
	b.ch = nil
}

func (b *flakyBus) subscribeCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.subscribes
}

func fastRetry(f *Fabric) {
	f.retry = gax.Backoff{Initial: time.Millisecond, Max: 5 * time.Millisecond, Multiplier: 2}
}

func TestFabricDeliversLocallyWhileBusUnsubscribed(t *testing.T) {
	bus := &flakyBus{failSubscribes: 1 << 30}
	f := NewFabric(NewRegistry(), bus, nil)
	fastRetry(f)
	sink := &memorySink{}
	f.Attach("c1", sink)
	f.Registry().Subscribe("c1", "d1")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.Run(ctx) }()
	require.Eventually(t, func() bool { return bus.subscribeCount() >= 3 }, time.Second, time.Millisecond)

	require.NoError(t, f.Publish(ctx, progressEvent("d1", "", 30)))
	assert.Len(t, sink.records(), 1)

	cancel()
	assert.NoError(t, <-done)
}

func TestFabricResubscribesAfterSubscribeFailure(t *testing.T) {
	bus := &flakyBus{failSubscribes: 1}
	f := NewFabric(NewRegistry(), bus, nil)
	fastRetry(f)
	sink := &memorySink{}
	f.Attach("c1", sink)
	f.Registry().Subscribe("c1", "d1")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.Run(ctx) }()
	require.Eventually(t, f.consuming.Load, time.Second, time.Millisecond)
	assert.Equal(t, 2, bus.subscribeCount())

	require.NoError(t, f.Publish(ctx, progressEvent("d1", "", 40)))
	require.Eventually(t, func() bool { return len(sink.records()) == 1 }, time.Second, time.Millisecond)

	bus.drop()
	require.Eventually(t, func() bool { return bus.subscribeCount() == 3 && f.consuming.Load() }, time.Second, time.Millisecond)
	require.NoError(t, f.Publish(ctx, progressEvent("d1", "", 50)))
	require.Eventually(t, func() bool { return len(sink.records()) == 2 }, time.Second, time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
	recs := sink.records()
	require.Len(t, recs, 2)
	assert.Equal(t, 50, recs[1].evt.Data.(models.ProgressData).Progress)
}

func TestFabricDetachStopsDelivery(t *testing.T) {
	f := NewFabric(NewRegistry(), nil, nil)
	sink := &memorySink{}
	f.Attach("c1", sink)
	f.Registry().Subscribe("c1", "d1")
	f.Detach("c1")

	assert.Zero(t, f.Deliver(progressEvent("d1", "", 10)))
	topics, conns := f.Registry().Len()
	assert.Zero(t, topics)
	assert.Zero(t, conns)
}

func TestCloudEventEnvelope(t *testing.T) {
	evt := models.NewEvent("d1", "u1", models.ErrorData{
		Stage: "ocr", Progress: 40, Error: models.ErrorInfo{Kind: "extraction", Message: "page 2 extraction failed"},
	})
	b, err := EncodeCloudEvent("test", evt)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"type":"com.documentintake.document.error_occurred"`)
	assert.Contains(t, string(b), `"subject":"d1"`)

	got, err := DecodeCloudEvent(b)
	require.NoError(t, err)
	assert.Equal(t, models.EventErrorOccurred, got.Type())
	assert.Equal(t, "u1", got.UserID)
	assert.Equal(t, "page 2 extraction failed", got.Data.(models.ErrorData).Error.Message)

	_, err = DecodeCloudEvent([]byte("{"))
	assert.Error(t, err)
}

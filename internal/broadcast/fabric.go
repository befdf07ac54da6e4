package broadcast

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/googleapis/gax-go/v2"

	"github.com/Lllllllleong/documentintake/internal/models"
)

// Sink is a connection that can receive events. Send must not block.
type Sink interface {
	Send(topic string, evt models.Event) bool
}

// Bus carries events between processes.
type Bus interface {
	Publish(ctx context.Context, evt models.Event) error
	// Subscribe returns a channel of events published by any process. The
	// channel is closed when ctx is done or the subscription ends.
	Subscribe(ctx context.Context) (<-chan models.Event, error)
}

// Fabric routes published events to the sinks subscribed in its registry.
type Fabric struct {
	registry *Registry
	bus      Bus
	logger   *slog.Logger
	// retry paces resubscription after the bus subscription fails or ends.
	retry gax.Backoff
	// consuming is set while Run holds a live bus subscription.
	consuming atomic.Bool

	mu    sync.RWMutex
	sinks map[string]Sink
}

// NewFabric builds a fabric. bus may be nil for single-process delivery.
func NewFabric(registry *Registry, bus Bus, logger *slog.Logger) *Fabric {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fabric{
		registry: registry,
		bus:      bus,
		logger:   logger,
		retry:    gax.Backoff{Initial: 200 * time.Millisecond, Max: 30 * time.Second, Multiplier: 2},
		sinks:    make(map[string]Sink),
	}
}

// Registry returns the subscription registry.
func (f *Fabric) Registry() *Registry { return f.registry }

// Attach registers the sink for connID.
func (f *Fabric) Attach(connID string, sink Sink) {
	f.mu.Lock()
	f.sinks[connID] = sink
	f.mu.Unlock()
}

// Detach forgets connID and drops all of its subscriptions.
func (f *Fabric) Detach(connID string) {
	f.mu.Lock()
	delete(f.sinks, connID)
	f.mu.Unlock()
	f.registry.OnDisconnect(connID)
}

// Publish sends evt on the bus. Local subscribers get it directly when there
// is no bus, the bus publish fails, or no Run loop is consuming the bus. It
// always returns nil.
func (f *Fabric) Publish(ctx context.Context, evt models.Event) error {
	if f.bus != nil {
		err := f.bus.Publish(ctx, evt)
		if err == nil {
			if !f.consuming.Load() {
				f.Deliver(evt)
			}
			return nil
		}
		busErr := &models.BusUnavailableError{Cause: err}
		f.logger.Warn("Bus publish failed, delivering locally.", "documentId", evt.DocumentID, "event", evt.Type(), "error", busErr)
	}
	f.Deliver(evt)
	return nil
}

// Deliver enqueues evt on every local subscriber of its document or user, once each.
func (f *Fabric) Deliver(evt models.Event) int {
	recipients := f.registry.Recipients(evt.DocumentID, evt.UserID)
	if len(recipients) == 0 {
		return 0
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	delivered := 0
	for _, r := range recipients {
		sink, ok := f.sinks[r.ConnID]
		if !ok {
			continue
		}
		if sink.Send(r.Topic, evt) {
			delivered++
		}
	}
	return delivered
}

// Run delivers events from the bus until ctx is done. A failed or closed
// subscription is retried with backoff; local delivery covers the gap.
func (f *Fabric) Run(ctx context.Context) error {
	if f.bus == nil {
		<-ctx.Done()
		return nil
	}
	bo := f.retry
	for {
		err := f.consume(ctx, &bo)
		if ctx.Err() != nil {
			return nil
		}
		pause := bo.Pause()
		f.logger.Warn("Bus subscription lost, retrying.", "retryIn", pause, "error", err)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(pause):
		}
	}
}

// consume holds one bus subscription until it ends. bo is reset once the
// subscription is established.
func (f *Fabric) consume(ctx context.Context, bo *gax.Backoff) error {
	events, err := f.bus.Subscribe(ctx)
	if err != nil {
		return &models.BusUnavailableError{Cause: fmt.Errorf("failed to subscribe to bus: %w", err)}
	}
	*bo = f.retry
	f.consuming.Store(true)
	defer f.consuming.Store(false)
	f.logger.Info("Consuming events from bus.")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-events:
			if !ok {
				return &models.BusUnavailableError{Cause: fmt.Errorf("bus subscription closed")}
			}
			f.Deliver(evt)
		}
	}
}

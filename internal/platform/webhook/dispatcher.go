package webhook

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/labtracker/internal/domain/labrequest"
)

// Dispatcher is the labrequest.Publisher that queues changes for delivery
// by a fixed pool of workers. Publish never blocks: when the queue is full
// the event is dropped and logged.
type Dispatcher struct {
	manager *Manager
	logger  zerolog.Logger
	queue   chan Event
	now     func() time.Time

	wg     sync.WaitGroup
	once   sync.Once
	closed chan struct{}

	mu      sync.Mutex
	cancels []context.CancelFunc
}

var _ labrequest.Publisher = (*Dispatcher)(nil)

func NewDispatcher(manager *Manager, logger zerolog.Logger, queueSize int) *Dispatcher {
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Dispatcher{
		manager: manager,
		logger:  logger,
		queue:   make(chan Event, queueSize),
		now:     time.Now,
		closed:  make(chan struct{}),
	}
}

// NewEvent converts a stored change into its webhook body.
func NewEvent(c labrequest.Change, at time.Time) (Event, error) {
	ev := Event{
		ID:        uuid.NewString(),
		Type:      EventType(c),
		OrderID:   c.OrderID,
		From:      c.From,
		To:        c.To,
		Timestamp: at,
	}
	if c.Request == nil {
		return ev, nil
	}
	ev.RequestID = c.Request.ID
	ev.Branch = c.Request.Branch
	payload, err := json.Marshal(labrequest.NewView(c.Request))
	if err != nil {
		return ev, err
	}
	ev.Payload = payload
	return ev, nil
}

func (d *Dispatcher) Publish(_ context.Context, c labrequest.Change) {
	ev, err := NewEvent(c, d.now())
	if err != nil {
		d.logger.Error().Err(err).Str("event_type", ev.Type).Msg("build webhook event")
		return
	}
	select {
	case <-d.closed:
		return
	default:
	}
	select {
	case d.queue <- ev:
	default:
		d.logger.Warn().
			Str("event_type", ev.Type).
			Str("request_id", ev.RequestID).
			Msg("webhook queue full, dropping event")
	}
}

// Start launches workers that deliver queued events until ctx is cancelled
// or Close is called.
func (d *Dispatcher) Start(ctx context.Context, workers int) {
	if workers <= 0 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(ctx)
	d.mu.Lock()
	d.cancels = append(d.cancels, cancel)
	d.mu.Unlock()
	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.work(ctx)
	}
}

func (d *Dispatcher) work(ctx context.Context) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.closed:
			d.drain(ctx)
			return
		case ev := <-d.queue:
			d.deliver(ctx, ev)
		}
	}
}

func (d *Dispatcher) drain(ctx context.Context) {
	for ctx.Err() == nil {
		select {
		case ev := <-d.queue:
			d.deliver(ctx, ev)
		default:
			return
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, ev Event) {
	if _, err := d.manager.Deliver(ctx, ev); err != nil {
		d.logger.Error().Err(err).Str("event_type", ev.Type).Msg("deliver webhook event")
	}
}

// Close stops accepting events and lets workers flush what is queued. When
// ctx ends first, in-flight deliveries and their retries are cancelled, the
// rest of the queue is dropped and ctx's error is returned.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.once.Do(func() { close(d.closed) })

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
	}

	d.mu.Lock()
	for _, cancel := range d.cancels {
		cancel()
	}
	d.mu.Unlock()
	<-done
	if n := d.Pending(); n > 0 {
		d.logger.Warn().Int("dropped", n).Msg("webhook queue not flushed before shutdown")
	}
	return ctx.Err()
}

// Pending reports the number of queued events.
func (d *Dispatcher) Pending() int {
	return len(d.queue)
}

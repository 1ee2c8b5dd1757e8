package events

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/phrazzld/taskboard-api/internal/platform/logger"
)

// Common errors returned by the Dispatcher
var (
	ErrQueueClosed = errors.New("event queue is closed")
	ErrQueueFull   = errors.New("event queue is full")
)

// DispatcherConfig holds configuration options for the Dispatcher.
type DispatcherConfig struct {
	// QueueSize bounds the number of events waiting to be published. It is
	// split evenly across the workers' lanes.
	// If zero or negative, defaults to 1
	QueueSize int

	// WorkerCount determines how many concurrent worker goroutines to start.
	// Each worker drains its own lane.
	// If zero or negative, defaults to 1
	WorkerCount int

	// PublishTimeout bounds each downstream publish. Zero means 5 seconds.
	PublishTimeout time.Duration
}

// DefaultDispatcherConfig returns a DispatcherConfig with reasonable defaults
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		QueueSize:      256,
		WorkerCount:    2,
		PublishTimeout: 5 * time.Second,
	}
}

type dispatchJob struct {
	ctx   context.Context
	topic string
	event *Event
}

// Dispatcher is a Publisher that queues events and publishes them to the
// next Publisher from a pool of worker goroutines. Publish never blocks:
// when a lane is full the event is rejected with ErrQueueFull.
//
// Every worker owns one lane. Events with the same Key always use the same
// lane and are therefore published in the order they were queued; events
// without a Key are spread round-robin.
type Dispatcher struct {
	next    Publisher
	lanes   []chan dispatchJob
	rr      atomic.Uint32
	timeout time.Duration
	logger  *slog.Logger

	mu      sync.RWMutex
	closed  bool
	started bool
	wg      sync.WaitGroup
}

// NewDispatcher creates a dispatcher in front of next. Call Start before use.
func NewDispatcher(next Publisher, cfg DispatcherConfig, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	log = log.With(slog.String("component", "event_dispatcher"))

	if cfg.QueueSize <= 0 {
		log.Warn("invalid queue size specified, using default",
			slog.Int("specified_size", cfg.QueueSize),
			slog.Int("default_size", 1))
		cfg.QueueSize = 1
	}
	if cfg.WorkerCount <= 0 {
		log.Warn("invalid worker count specified, using default",
			slog.Int("specified_count", cfg.WorkerCount),
			slog.Int("default_count", 1))
		cfg.WorkerCount = 1
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 5 * time.Second
	}

	laneSize := max(1, (cfg.QueueSize+cfg.WorkerCount-1)/cfg.WorkerCount)
	lanes := make([]chan dispatchJob, cfg.WorkerCount)
	for i := range lanes {
		lanes[i] = make(chan dispatchJob, laneSize)
	}

	return &Dispatcher{
		next:    next,
		lanes:   lanes,
		timeout: cfg.PublishTimeout,
		logger:  log,
	}
}

// Start launches the worker goroutines. Calling it twice has no effect.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.started || d.closed {
		return
	}
	d.started = true

	d.logger.Info("starting event dispatcher", slog.Int("worker_count", len(d.lanes)))
	for i := range d.lanes {
		d.wg.Add(1)
		go d.worker(i)
	}
}

// Publish enqueues the event. The request context's values are kept but its
// cancellation is not, so publishing outlives the request.
func (d *Dispatcher) Publish(ctx context.Context, topic string, event *Event) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return ErrQueueClosed
	}

	lane := d.lanes[d.laneFor(event.Key)]
	select {
	case lane <- dispatchJob{ctx: context.WithoutCancel(ctx), topic: topic, event: event}:
		return nil
	default:
		return fmt.Errorf("%w: lane capacity %d reached", ErrQueueFull, cap(lane))
	}
}

// laneFor picks the lane for an event key.
func (d *Dispatcher) laneFor(key string) int {
	n := uint32(len(d.lanes))
	if key == "" {
		return int(d.rr.Add(1) % n)
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % n)
}

// Stop rejects new events, publishes everything already queued, then waits
// for the workers or for ctx to end.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	for _, lane := range d.lanes {
		close(lane)
	}
	started := d.started
	d.mu.Unlock()

	if !started {
		return nil
	}

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.logger.Info("event dispatcher stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event dispatcher did not drain: %w", ctx.Err())
	}
}

func (d *Dispatcher) worker(id int) {
	defer d.wg.Done()

	for job := range d.lanes[id] {
		d.publish(id, job)
	}
}

func (d *Dispatcher) publish(workerID int, job dispatchJob) {
	ctx, cancel := context.WithTimeout(job.ctx, d.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			logger.FromContextOrDefault(ctx, d.logger).Error("panic while publishing event",
				slog.Int("worker_id", workerID),
				slog.String("topic", job.topic),
				slog.Any("panic", r))
		}
	}()

	if err := d.next.Publish(ctx, job.topic, job.event); err != nil {
		logger.FromContextOrDefault(ctx, d.logger).Error("failed to publish event",
			slog.Int("worker_id", workerID),
			slog.String("topic", job.topic),
			slog.String("event", string(job.event.Name)),
			slog.String("error", err.Error()))
	}
}

package charityauth

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// auditDispatcher moves events off the request path onto one worker. A nil
// dispatcher is valid and discards everything.
type auditDispatcher struct {
	sink   AuditSink
	logger *zap.Logger
	drop   bool

	// mu guards closed and the send side of queue.
	mu      sync.RWMutex
	closed  bool
	queue   chan AuditEvent
	stopped chan struct{}
	dropped atomic.Uint64
}

func newAuditDispatcher(cfg AuditConfig, sink AuditSink, logger *zap.Logger) *auditDispatcher {
	if !cfg.Enabled {
		return nil
	}
	if sink == nil {
		sink = NoOpSink{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	d := &auditDispatcher{
		sink:    sink,
		logger:  logger,
		drop:    cfg.DropIfFull,
		queue:   make(chan AuditEvent, max(cfg.BufferSize, 1)),
		stopped: make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *auditDispatcher) run() {
	defer close(d.stopped)
	for event := range d.queue {
		d.deliver(event)
	}
}

func (d *auditDispatcher) deliver(event AuditEvent) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("audit sink panicked", zap.String("event", event.Kind), zap.Any("panic", r))
		}
	}()
	d.sink.Emit(context.Background(), event)
}

// Emit queues event. With DropIfFull a full queue drops and counts the event;
// otherwise Emit waits for room or for ctx.
func (d *auditDispatcher) Emit(ctx context.Context, event AuditEvent) {
	if d == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}

	if !d.drop {
		select {
		case d.queue <- event:
		case <-ctx.Done():
		}
		return
	}

	select {
	case d.queue <- event:
	default:
		if n := d.dropped.Add(1); n == 1 || n%1000 == 0 {
			d.logger.Warn("audit queue full, dropping events", zap.Uint64("dropped", n))
		}
	}
}

// Close stops intake, waits for the worker to drain the queue and returns.
// Repeated calls are no-ops.
func (d *auditDispatcher) Close() {
	if d == nil {
		return
	}
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()
	<-d.stopped
}

func (d *auditDispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}

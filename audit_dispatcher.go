package gatewarden

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// auditDispatcher decouples request handling from sink latency. Events
// flow through a buffered channel to a single consumer goroutine; close
// drains whatever is already buffered before returning.
//
// Under DropIfFull the dispatcher sheds events rather than blocking the
// request that emitted them, and the shed count is surfaced two ways:
// through droppedEvents, and as an EventAuditGap record inserted into
// the sink stream once delivery resumes, so a sink reading the log can
// tell where the holes are and how big they were.
type auditDispatcher struct {
	cfg       AuditConfig
	sink      AuditSink
	ch        chan AuditEvent
	done      chan struct{}
	wg        sync.WaitGroup
	dropped   atomic.Uint64
	unflagged atomic.Uint64 // drops not yet reported as a gap record
	closed    atomic.Bool
	closeOnce sync.Once
}

func newAuditDispatcher(cfg AuditConfig, sink AuditSink) *auditDispatcher {
	if !cfg.Enabled {
		return nil
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	if sink == nil {
		sink = NoOpSink{}
	}

	d := &auditDispatcher{
		cfg:  cfg,
		sink: sink,
		ch:   make(chan AuditEvent, cfg.BufferSize),
		done: make(chan struct{}),
	}

	d.wg.Add(1)
	go d.run()

	return d
}

func (d *auditDispatcher) run() {
	defer d.wg.Done()

	for {
		select {
		case event := <-d.ch:
			d.deliver(event)
		case <-d.done:
			for {
				select {
				case event := <-d.ch:
					d.deliver(event)
				default:
					d.reportGap()
					return
				}
			}
		}
	}
}

// deliver forwards one event to the sink, preceded by a gap record when
// events were shed since the previous delivery.
func (d *auditDispatcher) deliver(event AuditEvent) {
	d.reportGap()
	d.sink.Emit(context.Background(), event)
}

func (d *auditDispatcher) reportGap() {
	lost := d.unflagged.Swap(0)
	if lost == 0 {
		return
	}
	d.sink.Emit(context.Background(), AuditEvent{
		Timestamp: time.Now(),
		EventType: EventAuditGap,
		Metadata:  map[string]string{"lost": strconv.FormatUint(lost, 10)},
	})
}

func (d *auditDispatcher) emit(ctx context.Context, event AuditEvent) {
	if d == nil || d.closed.Load() {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if d.cfg.DropIfFull {
		select {
		case d.ch <- event:
		case <-d.done:
		default:
			d.dropped.Add(1)
			d.unflagged.Add(1)
		}
		return
	}

	select {
	case d.ch <- event:
	case <-ctx.Done():
	case <-d.done:
	}
}

func (d *auditDispatcher) close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		close(d.done)
		d.wg.Wait()
	})
}

// droppedEvents reports how many events were shed under backpressure.
func (d *auditDispatcher) droppedEvents() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}

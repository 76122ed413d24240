package bus

import (
	"context"
	"sync"
	"sync/atomic"
)

// Config controls the async publish pump.
type Config struct {
	BufferSize int
	// DropIfFull sheds events instead of blocking the emitter when the
	// buffer is saturated. Request paths should always run with this on.
	DropIfFull bool
}

// Pump decouples request handling from the transport: Emit enqueues and
// returns immediately, a single goroutine drains to the Publisher. Publish
// failures are counted, never surfaced to callers.
type Pump struct {
	cfg       Config
	publisher Publisher
	ch        chan Published
	done      chan struct{}
	wg        sync.WaitGroup
	dropped   atomic.Uint64
	failed    atomic.Uint64
	closed    atomic.Bool
	closeOnce sync.Once
}

func NewPump(cfg Config, publisher Publisher) *Pump {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 64
	}
	if publisher == nil {
		publisher = NoOpPublisher{}
	}

	p := &Pump{
		cfg:       cfg,
		publisher: publisher,
		ch:        make(chan Published, cfg.BufferSize),
		done:      make(chan struct{}),
	}

	p.wg.Add(1)
	go p.run()

	return p
}

func (p *Pump) run() {
	defer p.wg.Done()

	for {
		select {
		case item := <-p.ch:
			p.deliver(item)
		case <-p.done:
			for {
				select {
				case item := <-p.ch:
					p.deliver(item)
				default:
					return
				}
			}
		}
	}
}

func (p *Pump) deliver(item Published) {
	if err := p.publisher.Publish(context.Background(), item.Subject, item.Event); err != nil {
		p.failed.Add(1)
	}
}

// Emit enqueues an event. Nil receivers are valid no-ops so engines can
// run without a bus wired.
func (p *Pump) Emit(subject string, event Event) {
	if p == nil || p.closed.Load() {
		return
	}

	if p.cfg.DropIfFull {
		select {
		case p.ch <- Published{Subject: subject, Event: event}:
		case <-p.done:
		default:
			p.dropped.Add(1)
		}
		return
	}

	select {
	case p.ch <- Published{Subject: subject, Event: event}:
	case <-p.done:
	}
}

// Dropped reports events shed because the buffer was full.
func (p *Pump) Dropped() uint64 {
	if p == nil {
		return 0
	}
	return p.dropped.Load()
}

// Failed reports events the transport rejected.
func (p *Pump) Failed() uint64 {
	if p == nil {
		return 0
	}
	return p.failed.Load()
}

// Close drains buffered events and stops the pump. Safe to call more than
// once.
func (p *Pump) Close() {
	if p == nil {
		return
	}
	p.closeOnce.Do(func() {
		p.closed.Store(true)
		close(p.done)
		p.wg.Wait()
	})
}

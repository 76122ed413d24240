package bus

import "context"

// Publisher delivers one event to the transport. Implementations must be
// safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, subject string, event Event) error
}

// NoOpPublisher drops events.
type NoOpPublisher struct{}

func (NoOpPublisher) Publish(context.Context, string, Event) error { return nil }

// Published pairs an event with the subject it was sent under.
type Published struct {
	Subject string
	Event   Event
}

// ChannelPublisher captures events into a buffered channel. Used by tests
// and embedders that want to consume events in-process.
type ChannelPublisher struct {
	events chan Published
}

func NewChannelPublisher(buffer int) *ChannelPublisher {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelPublisher{events: make(chan Published, buffer)}
}

func (p *ChannelPublisher) Publish(ctx context.Context, subject string, event Event) error {
	select {
	case p.events <- Published{Subject: subject, Event: event}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *ChannelPublisher) Events() <-chan Published {
	return p.events
}

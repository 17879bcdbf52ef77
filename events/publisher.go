package events

import (
	"context"
)

// Publisher delivers lifecycle events. Delivery is at-most-once and
// fire-and-forget: the engine logs publish errors and moves on, it never
// blocks workflow progress on a publisher.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

type noopPublisher struct{}

// NewNoopPublisher returns a publisher that discards all events.
func NewNoopPublisher() Publisher {
	return &noopPublisher{}
}

func (*noopPublisher) Publish(context.Context, Event) error { return nil }

// ChannelPublisher buffers events on a channel for in-process consumers.
// When the buffer is full the oldest unconsumed event is dropped.
type ChannelPublisher struct {
	ch chan Event
}

func NewChannelPublisher(buffer int) *ChannelPublisher {
	if buffer <= 0 {
		buffer = 64
	}

	return &ChannelPublisher{ch: make(chan Event, buffer)}
}

func (p *ChannelPublisher) Publish(_ context.Context, event Event) error {
	for {
		select {
		case p.ch <- event:
			return nil
		default:
			// drop oldest
			select {
			case <-p.ch:
			default:
			}
		}
	}
}

// Events returns the channel events are delivered on.
func (p *ChannelPublisher) Events() <-chan Event {
	return p.ch
}

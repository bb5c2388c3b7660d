package room

import (
	"sync"

	"quizroom-service/internal/domain"
)

// Channel is an in-process pub/sub fan-out keyed by session ID. Subscribing
// to a session delivers every event published to it afterwards, in publish
// order. Delivery is best-effort per subscriber: a slow subscriber loses its
// oldest buffered event rather than blocking the publisher.
type Channel struct {
	mu   sync.RWMutex
	subs map[string]map[string]chan domain.Event
}

const subscriberBuffer = 16

func NewChannel() *Channel {
	return &Channel{subs: make(map[string]map[string]chan domain.Event)}
}

// Subscribe registers a new subscriber for sessionID and returns its event
// channel plus a cancel function. Cancel is idempotent and closes the channel.
func (c *Channel) Subscribe(sessionID string) (<-chan domain.Event, func()) {
	ch := make(chan domain.Event, subscriberBuffer)
	id := newID()

	c.mu.Lock()
	if c.subs[sessionID] == nil {
		c.subs[sessionID] = make(map[string]chan domain.Event)
	}
	c.subs[sessionID][id] = ch
	c.mu.Unlock()

	cancel := func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if _, ok := c.subs[sessionID][id]; !ok {
			return
		}
		delete(c.subs[sessionID], id)
		if len(c.subs[sessionID]) == 0 {
			delete(c.subs, sessionID)
		}
		close(ch)
	}
	return ch, cancel
}

// Publish delivers ev to every current subscriber of sessionID. Publishers
// for one session are already serialized by the coordinator, which preserves
// per-session event order end to end.
func (c *Channel) Publish(sessionID string, ev domain.Event) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, ch := range c.subs[sessionID] {
		select {
		case ch <- ev:
		default:
			// Drop the oldest buffered event so the latest state wins.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- ev:
			default:
			}
		}
	}
}

// Subscribers reports the current subscriber count for sessionID.
func (c *Channel) Subscribers(sessionID string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.subs[sessionID])
}

package badger

import (
	"context"
	"sync"
)

// broker is the in-process pub/sub fabric behind the gateway. Subscribers
// that fall behind drop messages rather than block publishers.
type broker struct {
	mu   sync.RWMutex
	subs map[string][]chan string
}

func newBroker() *broker {
	return &broker{subs: make(map[string][]chan string)}
}

// Publish fans a message out to current subscribers of a channel.
func (s *CoordStore) Publish(ctx context.Context, channel, msg string) error {
	s.broker.mu.RLock()
	defer s.broker.mu.RUnlock()
	for _, sub := range s.broker.subs[channel] {
		select {
		case sub <- msg:
		default:
			// Slow consumer; message dropped for this subscriber.
		}
	}
	return nil
}

// Subscribe registers a listener on a channel. The returned cancel func
// removes the subscription and closes the stream.
func (s *CoordStore) Subscribe(channel string) (<-chan string, func()) {
	sub := make(chan string, 64)

	s.broker.mu.Lock()
	s.broker.subs[channel] = append(s.broker.subs[channel], sub)
	s.broker.mu.Unlock()

	cancel := func() {
		s.broker.mu.Lock()
		defer s.broker.mu.Unlock()
		subs := s.broker.subs[channel]
		for i, candidate := range subs {
			if candidate == sub {
				s.broker.subs[channel] = append(subs[:i], subs[i+1:]...)
				close(sub)
				break
			}
		}
		if len(s.broker.subs[channel]) == 0 {
			delete(s.broker.subs, channel)
		}
	}

	return sub, cancel
}

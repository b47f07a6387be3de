package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Subscription streams the events of one client.
type Subscription struct {
	pubsub *redis.PubSub
	events chan Event
	done   chan struct{}
	logger *slog.Logger
	once   sync.Once
}

// Subscribe listens on the client's channel. The subscription is confirmed
// before it is returned, so no event published afterwards is missed.
func (p *Publisher) Subscribe(ctx context.Context, tag string) (*Subscription, error) {
	channel := p.Channel(tag)
	pubsub := p.redis.Subscribe(ctx, channel)

	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}

	s := &Subscription{
		pubsub: pubsub,
		events: make(chan Event, 64),
		done:   make(chan struct{}),
		logger: p.logger.With("channel", channel),
	}
	go s.forward(pubsub.Channel())

	return s, nil
}

func (s *Subscription) forward(messages <-chan *redis.Message) {
	defer close(s.events)

	for msg := range messages {
		var ev Event
		if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
			s.logger.Error("unmarshal event", "error", err)
			continue
		}
		select {
		case s.events <- ev:
		case <-s.done:
			return
		}
	}
}

// Events is closed once the subscription is closed.
func (s *Subscription) Events() <-chan Event {
	return s.events
}

func (s *Subscription) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.pubsub.Close()
	})
	return err
}

package cdc

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
)

// Subscriber opens change subscriptions keyed by table name plus an optional
// single-field equality filter.
type Subscriber struct {
	rdb *redis.Client
}

// NewSubscriber creates a subscriber on the given Redis client.
func NewSubscriber(rdb *redis.Client) *Subscriber {
	return &Subscriber{rdb: rdb}
}

// Subscription is one open change stream. Changes arrives decoded; the
// channel closes when the underlying Pub/Sub connection closes.
type Subscription struct {
	pubsub  *redis.PubSub
	changes chan Change
}

// Subscribe opens a subscription for a table. A nil filter subscribes to the
// unfiltered table channel.
func (s *Subscriber) Subscribe(ctx context.Context, table string, filter *FieldFilter) (*Subscription, error) {
	channel := Channel(table)
	if filter != nil {
		channel = FilterChannel(table, filter.Field, filter.Value)
	}

	pubsub := s.rdb.Subscribe(ctx, channel)
	// Force the SUBSCRIBE round trip so connection errors surface here.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, err
	}

	sub := &Subscription{
		pubsub:  pubsub,
		changes: make(chan Change, 64),
	}
	go sub.pump()
	return sub, nil
}

// Changes returns the decoded change stream.
func (s *Subscription) Changes() <-chan Change {
	return s.changes
}

// Close tears the subscription down; Changes() will be closed.
func (s *Subscription) Close() error {
	return s.pubsub.Close()
}

func (s *Subscription) pump() {
	defer close(s.changes)
	for msg := range s.pubsub.Channel() {
		var change Change
		if err := json.Unmarshal([]byte(msg.Payload), &change); err != nil {
			continue
		}
		s.changes <- change
	}
}

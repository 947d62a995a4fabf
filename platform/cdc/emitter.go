package cdc

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// Emitter publishes row images after repository writes. Each change goes to
// the table channel and to one filtered channel per provided filter field,
// so both subscription strategies observe it.
type Emitter struct {
	rdb *redis.Client
}

// NewEmitter creates an emitter on the given Redis client.
func NewEmitter(rdb *redis.Client) *Emitter {
	return &Emitter{rdb: rdb}
}

// Publish marshals and fans out a change. filterFields maps field names to
// the row's values for the filtered channels.
func (e *Emitter) Publish(ctx context.Context, change Change, filterFields map[string]string) error {
	if change.At.IsZero() {
		change.At = time.Now()
	}
	payload, err := json.Marshal(change)
	if err != nil {
		return err
	}

	if err := e.rdb.Publish(ctx, Channel(change.Table), payload).Err(); err != nil {
		return err
	}
	for field, value := range filterFields {
		if value == "" {
			continue
		}
		if err := e.rdb.Publish(ctx, FilterChannel(change.Table, field, value), payload).Err(); err != nil {
			return err
		}
	}
	return nil
}

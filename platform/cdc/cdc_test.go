package cdc

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	srv := miniredis.RunT(t)
	return redis.NewClient(&redis.Options{Addr: srv.Addr()})
}

func waitForChange(t *testing.T, sub *Subscription) Change {
	t.Helper()
	select {
	case change, ok := <-sub.Changes():
		if !ok {
			t.Fatalf("expected a change before the stream closed")
		}
		return change
	case <-time.After(2 * time.Second):
		t.Fatalf("expected a change within the deadline")
	}
	return Change{}
}

func TestPublishReachesTableSubscription(t *testing.T) {
	rdb := newTestRedis(t)
	ctx := context.Background()

	sub, err := NewSubscriber(rdb).Subscribe(ctx, "leads", nil)
	if err != nil {
		t.Fatalf("unexpected subscribe error: %v", err)
	}
	defer sub.Close()

	row := json.RawMessage(`{"id":"l-1","kanban_stage_id":"s-1"}`)
	err = NewEmitter(rdb).Publish(ctx, Change{Table: "leads", Op: OpUpdate, New: row}, nil)
	if err != nil {
		t.Fatalf("unexpected publish error: %v", err)
	}

	change := waitForChange(t, sub)
	if change.Table != "leads" || change.Op != OpUpdate {
		t.Fatalf("expected the published change, got %+v", change)
	}
	if string(change.New) != string(row) {
		t.Fatalf("expected the row image to round-trip, got %s", change.New)
	}
	if change.At.IsZero() {
		t.Fatalf("expected the emitter to stamp the change")
	}
}

func TestFilteredSubscriptionOnlySeesMatchingRows(t *testing.T) {
	rdb := newTestRedis(t)
	ctx := context.Background()

	filter := &FieldFilter{Field: "created_by_user_id", Value: "tenant-a"}
	sub, err := NewSubscriber(rdb).Subscribe(ctx, "leads", filter)
	if err != nil {
		t.Fatalf("unexpected subscribe error: %v", err)
	}
	defer sub.Close()

	emitter := NewEmitter(rdb)

	// A row from another tenant: published to the table channel and to its
	// own filtered channel, neither of which this subscription holds.
	err = emitter.Publish(ctx, Change{Table: "leads", Op: OpInsert, New: json.RawMessage(`{"id":"other"}`)},
		map[string]string{"created_by_user_id": "tenant-b"})
	if err != nil {
		t.Fatalf("unexpected publish error: %v", err)
	}

	err = emitter.Publish(ctx, Change{Table: "leads", Op: OpInsert, New: json.RawMessage(`{"id":"mine"}`)},
		map[string]string{"created_by_user_id": "tenant-a"})
	if err != nil {
		t.Fatalf("unexpected publish error: %v", err)
	}

	change := waitForChange(t, sub)
	var row struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(change.New, &row); err != nil {
		t.Fatalf("unexpected decode error: %v", err)
	}
	if row.ID != "mine" {
		t.Fatalf("expected only the matching tenant's row, got %q", row.ID)
	}
}

func TestEmptyFilterValueSkipsFilteredChannel(t *testing.T) {
	rdb := newTestRedis(t)
	ctx := context.Background()

	sub, err := NewSubscriber(rdb).Subscribe(ctx, "leads", &FieldFilter{Field: "whatsapp_instance_id", Value: ""})
	if err != nil {
		t.Fatalf("unexpected subscribe error: %v", err)
	}
	defer sub.Close()

	err = NewEmitter(rdb).Publish(ctx, Change{Table: "leads", Op: OpUpdate},
		map[string]string{"whatsapp_instance_id": ""})
	if err != nil {
		t.Fatalf("unexpected publish error: %v", err)
	}

	select {
	case <-sub.Changes():
		t.Fatalf("expected no publish to an empty-valued filter channel")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestCloseEndsTheChangeStream(t *testing.T) {
	rdb := newTestRedis(t)

	sub, err := NewSubscriber(rdb).Subscribe(context.Background(), "kanban_stages", nil)
	if err != nil {
		t.Fatalf("unexpected subscribe error: %v", err)
	}
	if err := sub.Close(); err != nil {
		t.Fatalf("unexpected close error: %v", err)
	}

	select {
	case _, ok := <-sub.Changes():
		if ok {
			t.Fatalf("expected no change after close")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("expected the change stream to close")
	}
}

package coordinator

import (
	"testing"
	"time"

	"funnelboard_backend/internal/board/domain"
	"funnelboard_backend/platform/clock"
	"funnelboard_backend/platform/logger"

	"github.com/google/uuid"
)

func newTestCoordinator() (*Coordinator, *clock.Virtual) {
	clk := clock.NewVirtual()
	return New(clk, logger.New("development")), clk
}

func TestImmediateEventsProcessSynchronously(t *testing.T) {
	c, _ := newTestCoordinator()

	var got []domain.EventKind
	c.Subscribe(domain.EventDragStart, func(e domain.FunnelEvent) {
		got = append(got, e.Payload.Kind())
	})

	c.Emit(domain.DragStart{LeadID: uuid.New()}, "test")

	if len(got) != 1 {
		t.Fatalf("expected drag start to be delivered synchronously, got %d deliveries", len(got))
	}
	if !c.State().IsProcessingDnD {
		t.Fatalf("expected IsProcessingDnD to be set before Emit returns")
	}
}

func TestQueuedEventsWaitForBatchTick(t *testing.T) {
	c, clk := newTestCoordinator()

	var got int
	c.Subscribe(domain.EventSelectionAdd, func(domain.FunnelEvent) { got++ })

	c.Emit(domain.SelectionAdd{LeadID: uuid.New()}, "test")
	if got != 0 {
		t.Fatalf("expected normal-priority event to wait for the tick")
	}

	clk.Advance(10 * time.Millisecond)
	if got != 1 {
		t.Fatalf("expected event delivery after the batch tick, got %d", got)
	}
}

func TestThrottleDropsRepeatedEmitFromSameSource(t *testing.T) {
	c, clk := newTestCoordinator()

	var got int
	c.Subscribe(domain.EventDragMove, func(domain.FunnelEvent) { got++ })

	leadID := uuid.New()
	c.Emit(domain.DragMove{LeadID: leadID}, "pointer")
	c.Emit(domain.DragMove{LeadID: leadID}, "pointer")
	clk.Advance(10 * time.Millisecond)

	if got != 1 {
		t.Fatalf("expected second emit within throttle window to be dropped, got %d deliveries", got)
	}

	clk.Advance(50 * time.Millisecond)
	c.Emit(domain.DragMove{LeadID: leadID}, "pointer")
	clk.Advance(10 * time.Millisecond)

	if got != 2 {
		t.Fatalf("expected emit after throttle window to pass, got %d deliveries", got)
	}
}

func TestThrottleIsPerSource(t *testing.T) {
	c, clk := newTestCoordinator()

	var got int
	c.Subscribe(domain.EventDragMove, func(domain.FunnelEvent) { got++ })

	c.Emit(domain.DragMove{LeadID: uuid.New()}, "pointer-a")
	c.Emit(domain.DragMove{LeadID: uuid.New()}, "pointer-b")
	clk.Advance(10 * time.Millisecond)

	if got != 2 {
		t.Fatalf("expected distinct sources to bypass each other's throttle, got %d", got)
	}
}

func TestBatchProcessesInPriorityOrderWithStableTies(t *testing.T) {
	c, clk := newTestCoordinator()

	var order []domain.EventKind
	record := func(e domain.FunnelEvent) { order = append(order, e.Payload.Kind()) }
	c.Subscribe(domain.EventScrollLoadMore, record)
	c.Subscribe(domain.EventSelectionAdd, record)
	c.Subscribe(domain.EventSelectionRemove, record)
	c.Subscribe(domain.EventRealtimePatch, record)

	// Emitted low first, then two normals, then high. Distinct sources keep
	// the throttle out of the way.
	c.Emit(domain.ScrollLoadMore{StageID: uuid.New()}, "scroll")
	c.Emit(domain.SelectionAdd{LeadID: uuid.New()}, "sel-a")
	c.Emit(domain.SelectionRemove{LeadID: uuid.New()}, "sel-b")
	c.Emit(domain.RealtimePatch{LeadID: uuid.New(), StageID: uuid.New()}, "stream")

	clk.Advance(10 * time.Millisecond)
	want := []domain.EventKind{domain.EventRealtimePatch, domain.EventSelectionAdd, domain.EventSelectionRemove}
	if len(order) != len(want) {
		t.Fatalf("expected first tick to process %d events, got %d", len(want), len(order))
	}
	for i, kind := range want {
		if order[i] != kind {
			t.Fatalf("expected event %d to be %s, got %s", i, kind, order[i])
		}
	}

	// The low-priority scroll event overflows to the next tick.
	clk.Advance(10 * time.Millisecond)
	if len(order) != 4 || order[3] != domain.EventScrollLoadMore {
		t.Fatalf("expected overflow event on the second tick, got %v", order)
	}
}

func TestCanExecutePolicyTable(t *testing.T) {
	c, clk := newTestCoordinator()

	for _, action := range []domain.Action{
		domain.ActionDrag, domain.ActionSelect, domain.ActionFilter,
		domain.ActionInfiniteScroll, domain.ActionRealtimePatch,
	} {
		if !c.CanExecute(action) {
			t.Fatalf("expected %s to be permitted on an idle board", action)
		}
	}

	c.Emit(domain.DragStart{LeadID: uuid.New()}, "test")
	for _, action := range []domain.Action{
		domain.ActionDrag, domain.ActionSelect, domain.ActionFilter,
		domain.ActionInfiniteScroll, domain.ActionRealtimePatch,
	} {
		if c.CanExecute(action) {
			t.Fatalf("expected %s to be blocked during drag processing", action)
		}
	}
	c.Emit(domain.DragEnd{LeadID: uuid.New()}, "test")

	c.Emit(domain.FilterApply{Filters: domain.LeadFilters{Search: "x"}}, "test")
	clk.Advance(10 * time.Millisecond)
	if c.CanExecute(domain.ActionInfiniteScroll) {
		t.Fatalf("expected infinite scroll to be blocked while filters are active")
	}
	if !c.CanExecute(domain.ActionDrag) {
		t.Fatalf("expected drag to stay permitted while filters are active")
	}

	c.EmitPriority(domain.ScrollLoadMore{StageID: uuid.New()}, "test", domain.PriorityImmediate)
	if c.CanExecute(domain.ActionDrag) {
		t.Fatalf("expected drag to be blocked while a load is in flight")
	}
	c.FinishLoadMore()
	if !c.CanExecute(domain.ActionDrag) {
		t.Fatalf("expected drag to be permitted after the load settled")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	c, clk := newTestCoordinator()

	var got int
	unsubscribe := c.Subscribe(domain.EventSelectionClear, func(domain.FunnelEvent) { got++ })

	c.Emit(domain.SelectionClear{}, "a")
	clk.Advance(10 * time.Millisecond)
	unsubscribe()
	clk.Advance(50 * time.Millisecond)
	c.Emit(domain.SelectionClear{}, "b")
	clk.Advance(10 * time.Millisecond)

	if got != 1 {
		t.Fatalf("expected no deliveries after unsubscribe, got %d", got)
	}
}

func TestSelectionEventsToggleSelectionMode(t *testing.T) {
	c, clk := newTestCoordinator()

	c.Emit(domain.SelectionAdd{LeadID: uuid.New()}, "a")
	clk.Advance(10 * time.Millisecond)
	if !c.State().IsSelectionMode {
		t.Fatalf("expected selection mode after an add")
	}

	clk.Advance(50 * time.Millisecond)
	c.Emit(domain.SelectionClear{}, "a")
	clk.Advance(10 * time.Millisecond)
	if c.State().IsSelectionMode {
		t.Fatalf("expected selection mode cleared after a clear")
	}
}

// Package coordinator implements the board event coordinator: a priority
// mailbox that serializes cross-cutting UI actions so independent actors
// never race each other. It holds no business logic and never touches the
// network.
package coordinator

import (
	"sort"
	"sync"
	"time"

	"funnelboard_backend/internal/board/domain"
	"funnelboard_backend/platform/clock"
	"funnelboard_backend/platform/logger"
)

const (
	// throttleWindow drops a repeated (kind, source) emit inside this window.
	throttleWindow = 50 * time.Millisecond
	// batchDelay is the tick delay after the first queued event.
	batchDelay = 10 * time.Millisecond
	// batchSize bounds how many queued events are processed per tick.
	batchSize = 3
)

// Listener receives processed events of a subscribed kind.
type Listener func(domain.FunnelEvent)

type throttleKey struct {
	kind   domain.EventKind
	source string
}

// Coordinator is the single choke point for board events. One instance is
// owned by each board session; it is safe for concurrent emitters.
type Coordinator struct {
	mu            sync.Mutex
	clock         clock.Clock
	log           *logger.Logger
	state         domain.CoordinatorState
	queue         []domain.FunnelEvent
	lastEmit      map[throttleKey]time.Time
	listeners     map[domain.EventKind]map[int]Listener
	nextListener  int
	tickScheduled bool
}

// New creates a coordinator driven by the given clock.
func New(clk clock.Clock, log *logger.Logger) *Coordinator {
	return &Coordinator{
		clock:     clk,
		log:       log,
		lastEmit:  make(map[throttleKey]time.Time),
		listeners: make(map[domain.EventKind]map[int]Listener),
	}
}

// Emit stamps and routes an event using its kind's default priority.
func (c *Coordinator) Emit(payload domain.EventPayload, source string) {
	c.EmitPriority(payload, source, domain.DefaultPriority(payload.Kind()))
}

// EmitPriority stamps and routes an event with an explicit priority.
// Immediate events are processed synchronously in the same call; everything
// else is queued for the next batch tick. A repeated (kind, source) emit
// within the throttle window is dropped silently.
func (c *Coordinator) EmitPriority(payload domain.EventPayload, source string, priority domain.Priority) {
	c.mu.Lock()
	now := c.clock.Now()
	key := throttleKey{kind: payload.Kind(), source: source}
	if last, ok := c.lastEmit[key]; ok && now.Sub(last) < throttleWindow {
		c.mu.Unlock()
		return
	}
	c.lastEmit[key] = now

	event := domain.FunnelEvent{
		Payload:   payload,
		Priority:  priority,
		Timestamp: now,
		Source:    source,
	}

	if priority == domain.PriorityImmediate {
		listeners := c.applyLocked(event)
		c.mu.Unlock()
		notify(listeners, event)
		return
	}

	c.queue = append(c.queue, event)
	c.scheduleTickLocked()
	c.mu.Unlock()
}

// Subscribe registers a listener for an event kind and returns its
// unsubscribe function. Multiple listeners per kind are supported.
func (c *Coordinator) Subscribe(kind domain.EventKind, fn Listener) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.listeners[kind] == nil {
		c.listeners[kind] = make(map[int]Listener)
	}
	c.nextListener++
	id := c.nextListener
	c.listeners[kind][id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.listeners[kind], id)
	}
}

// State returns a copy of the current coordinator state.
func (c *Coordinator) State() domain.CoordinatorState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// CanExecute reports whether an action is currently permitted. Callers must
// consult this before starting the corresponding action; the coordinator
// does not enforce it unilaterally.
func (c *Coordinator) CanExecute(action domain.Action) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch action {
	case domain.ActionDrag:
		return !c.state.IsLoadingMore && !c.state.IsProcessingDnD
	case domain.ActionFilter:
		return !c.state.IsProcessingDnD
	case domain.ActionInfiniteScroll:
		return !c.state.HasActiveFilters && !c.state.IsProcessingDnD
	case domain.ActionSelect:
		return !c.state.IsProcessingDnD
	case domain.ActionRealtimePatch:
		return !c.state.IsProcessingDnD
	default:
		return true
	}
}

// FinishLoadMore clears IsLoadingMore. The scroll consumer calls this once
// its own async fetch settles; the coordinator only sets the flag.
func (c *Coordinator) FinishLoadMore() {
	c.mu.Lock()
	c.state.IsLoadingMore = false
	c.mu.Unlock()
}

func (c *Coordinator) scheduleTickLocked() {
	if c.tickScheduled {
		return
	}
	c.tickScheduled = true
	c.clock.AfterFunc(batchDelay, c.drainBatch)
}

// drainBatch processes up to batchSize queued events in priority order and
// reschedules itself while the queue is non-empty. The sort is stable:
// arrival order is preserved within a priority.
func (c *Coordinator) drainBatch() {
	c.mu.Lock()
	c.tickScheduled = false
	sort.SliceStable(c.queue, func(i, j int) bool {
		return c.queue[i].Priority < c.queue[j].Priority
	})

	n := batchSize
	if n > len(c.queue) {
		n = len(c.queue)
	}
	batch := make([]domain.FunnelEvent, n)
	copy(batch, c.queue[:n])
	c.queue = c.queue[n:]

	type delivery struct {
		event     domain.FunnelEvent
		listeners []Listener
	}
	deliveries := make([]delivery, 0, n)
	for _, event := range batch {
		deliveries = append(deliveries, delivery{event: event, listeners: c.applyLocked(event)})
	}
	if len(c.queue) > 0 {
		c.scheduleTickLocked()
	}
	c.mu.Unlock()

	for _, d := range deliveries {
		notify(d.listeners, d.event)
	}
}

// applyLocked updates coordinator state for one event and returns the
// listeners to notify. Caller holds c.mu.
func (c *Coordinator) applyLocked(event domain.FunnelEvent) []Listener {
	switch event.Payload.Kind() {
	case domain.EventDragStart:
		c.state.IsProcessingDnD = true
	case domain.EventDragEnd:
		c.state.IsProcessingDnD = false
	case domain.EventDragMove:
		// no state change; hover previews are transient
	case domain.EventSelectionAdd, domain.EventSelectionRemove:
		c.state.IsSelectionMode = true
	case domain.EventSelectionClear:
		c.state.IsSelectionMode = false
	case domain.EventFilterApply:
		c.state.HasActiveFilters = true
	case domain.EventFilterClear:
		c.state.HasActiveFilters = false
	case domain.EventScrollLoadMore:
		c.state.IsLoadingMore = true
	case domain.EventRealtimeUpdate, domain.EventRealtimePatch:
		// realtime events carry no state transition
	}

	subs := c.listeners[event.Payload.Kind()]
	listeners := make([]Listener, 0, len(subs))
	for _, fn := range subs {
		listeners = append(listeners, fn)
	}
	return listeners
}

func notify(listeners []Listener, event domain.FunnelEvent) {
	for _, fn := range listeners {
		fn(event)
	}
}

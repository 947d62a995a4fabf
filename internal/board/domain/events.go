package domain

import (
	"time"

	"github.com/google/uuid"
)

// Priority orders queued board events. Lower values are processed first.
type Priority int

const (
	PriorityImmediate Priority = iota
	PriorityHigh
	PriorityNormal
	PriorityLow
)

// String returns the priority name for logging.
func (p Priority) String() string {
	switch p {
	case PriorityImmediate:
		return "immediate"
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	case PriorityLow:
		return "low"
	default:
		return "unknown"
	}
}

// EventKind identifies a board event variant.
type EventKind string

const (
	EventDragStart       EventKind = "dnd:start"
	EventDragMove        EventKind = "dnd:move"
	EventDragEnd         EventKind = "dnd:end"
	EventSelectionAdd    EventKind = "selection:add"
	EventSelectionRemove EventKind = "selection:remove"
	EventSelectionClear  EventKind = "selection:clear"
	EventFilterApply     EventKind = "filter:apply"
	EventFilterClear     EventKind = "filter:clear"
	EventRealtimeUpdate  EventKind = "realtime:update"
	EventRealtimePatch   EventKind = "realtime:patch"
	EventScrollLoadMore  EventKind = "scroll:load-more"
)

// EventPayload is the closed set of board event payloads. Each variant
// carries its own shape; the coordinator dispatches on Kind exhaustively.
type EventPayload interface {
	Kind() EventKind
}

// DragStart announces a drag gesture beginning on a lead.
type DragStart struct {
	LeadID uuid.UUID
}

func (DragStart) Kind() EventKind { return EventDragStart }

// DragMove announces the pointer crossing into a hover target during a drag.
type DragMove struct {
	LeadID        uuid.UUID
	HoverStageID  uuid.UUID
	HoverLeadID   *uuid.UUID
	PointerOffset float64
}

func (DragMove) Kind() EventKind { return EventDragMove }

// DragEnd announces a drag gesture finishing, dropped or cancelled.
type DragEnd struct {
	LeadID    uuid.UUID
	Cancelled bool
}

func (DragEnd) Kind() EventKind { return EventDragEnd }

// SelectionAdd adds a lead to the multi-select set.
type SelectionAdd struct {
	LeadID uuid.UUID
}

func (SelectionAdd) Kind() EventKind { return EventSelectionAdd }

// SelectionRemove removes a lead from the multi-select set.
type SelectionRemove struct {
	LeadID uuid.UUID
}

func (SelectionRemove) Kind() EventKind { return EventSelectionRemove }

// SelectionClear empties the multi-select set.
type SelectionClear struct{}

func (SelectionClear) Kind() EventKind { return EventSelectionClear }

// FilterApply activates a UI-level filter set.
type FilterApply struct {
	Filters LeadFilters
}

func (FilterApply) Kind() EventKind { return EventFilterApply }

// FilterClear deactivates all UI-level filters.
type FilterClear struct{}

func (FilterClear) Kind() EventKind { return EventFilterClear }

// RealtimeUpdate announces a validated change-stream row for a table.
type RealtimeUpdate struct {
	Table   string
	Op      string
	LeadID  *uuid.UUID
	StageID *uuid.UUID
}

func (RealtimeUpdate) Kind() EventKind { return EventRealtimeUpdate }

// RealtimePatch announces a partial local patch derived from a stream event.
type RealtimePatch struct {
	LeadID  uuid.UUID
	StageID uuid.UUID
}

func (RealtimePatch) Kind() EventKind { return EventRealtimePatch }

// ScrollLoadMore requests the next window of leads for a stage.
type ScrollLoadMore struct {
	StageID uuid.UUID
}

func (ScrollLoadMore) Kind() EventKind { return EventScrollLoadMore }

// FunnelEvent is the envelope the coordinator queues: a payload plus
// priority, emit timestamp and the UI actor that emitted it. Events are
// transient and never persisted.
type FunnelEvent struct {
	Payload   EventPayload
	Priority  Priority
	Timestamp time.Time
	Source    string
}

// DefaultPriority maps an event kind to its default queue priority.
func DefaultPriority(kind EventKind) Priority {
	switch kind {
	case EventDragStart, EventDragEnd:
		return PriorityImmediate
	case EventDragMove, EventRealtimeUpdate, EventRealtimePatch:
		return PriorityHigh
	case EventSelectionAdd, EventSelectionRemove, EventSelectionClear,
		EventFilterApply, EventFilterClear:
		return PriorityNormal
	case EventScrollLoadMore:
		return PriorityLow
	default:
		return PriorityNormal
	}
}

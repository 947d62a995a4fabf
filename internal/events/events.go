// Package events defines the domain events of the board and re-exports the
// platform event bus so internal modules have a single import.
package events

import (
	platformevents "funnelboard_backend/platform/events"
	"funnelboard_backend/platform/logger"

	"github.com/google/uuid"
)

// Bus is a type alias to the platform Bus interface.
type Bus = platformevents.Bus

// Event is a type alias to the platform Event interface.
type Event = platformevents.Event

// HandlerFunc is a type alias to the platform HandlerFunc adapter.
type HandlerFunc = platformevents.HandlerFunc

// InMemoryBus is a type alias to the platform InMemoryBus.
type InMemoryBus = platformevents.InMemoryBus

// NewInMemoryBus creates a new in-memory event bus.
func NewInMemoryBus(log *logger.Logger) *InMemoryBus {
	return platformevents.NewInMemoryBus(log)
}

// NewBaseEvent stamps an event with the current time.
func NewBaseEvent() platformevents.BaseEvent {
	return platformevents.NewBaseEvent()
}

// LeadMoved fires after a lead's cross-stage move is persisted.
type LeadMoved struct {
	platformevents.BaseEvent
	LeadID      uuid.UUID `json:"lead_id"`
	FromStageID uuid.UUID `json:"from_stage_id"`
	ToStageID   uuid.UUID `json:"to_stage_id"`
	MovedBy     uuid.UUID `json:"moved_by"`
}

// EventName returns the unique event identifier.
func (LeadMoved) EventName() string { return "board.lead_moved" }

// LeadsBulkMoved fires after a multi-select move is persisted.
type LeadsBulkMoved struct {
	platformevents.BaseEvent
	LeadIDs   []uuid.UUID `json:"lead_ids"`
	ToStageID uuid.UUID   `json:"to_stage_id"`
	MovedBy   uuid.UUID   `json:"moved_by"`
}

// EventName returns the unique event identifier.
func (LeadsBulkMoved) EventName() string { return "board.leads_bulk_moved" }

// StageReindexRequested asks the background scheduler to re-densify a
// stage's order positions after a partial reorder failure.
type StageReindexRequested struct {
	platformevents.BaseEvent
	StageID uuid.UUID `json:"stage_id"`
}

// EventName returns the unique event identifier.
func (StageReindexRequested) EventName() string { return "board.stage_reindex_requested" }

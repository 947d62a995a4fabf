// Package transport defines the request and response shapes of the board API.
package transport

import (
	"time"

	"funnelboard_backend/internal/board/domain"
	"funnelboard_backend/internal/board/repository"

	"github.com/google/uuid"
)

// StageResponse is one kanban column with its scoped lead total.
type StageResponse struct {
	ID            uuid.UUID `json:"id"`
	Title         string    `json:"title"`
	Color         string    `json:"color"`
	OrderPosition int       `json:"order_position"`
	FunnelID      uuid.UUID `json:"funnel_id"`
	IsWon         bool      `json:"is_won"`
	IsLost        bool      `json:"is_lost"`
	IsFixed       bool      `json:"is_fixed"`
	AIEnabled     bool      `json:"ai_enabled"`
	LeadTotal     int       `json:"lead_total"`
}

// LeadResponse is one card on the board.
type LeadResponse struct {
	ID            uuid.UUID   `json:"id"`
	Name          string      `json:"name"`
	Phone         string      `json:"phone"`
	Email         *string     `json:"email,omitempty"`
	StageID       uuid.UUID   `json:"kanban_stage_id"`
	FunnelID      uuid.UUID   `json:"funnel_id"`
	OwnerID       *uuid.UUID  `json:"owner_id,omitempty"`
	OrderPosition int         `json:"order_position"`
	TagIDs        []uuid.UUID `json:"tag_ids"`
	Value         *float64    `json:"value,omitempty"`
	DragActive    bool        `json:"drag_active"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// StageLeadsResponse is a stage window plus its paging state.
type StageLeadsResponse struct {
	Leads   []LeadResponse `json:"leads"`
	Total   int            `json:"total"`
	HasMore bool           `json:"has_more"`
}

// BoardStatusResponse summarizes the session for status surfaces.
type BoardStatusResponse struct {
	State       domain.CoordinatorState `json:"state"`
	Phase       string                  `json:"phase"`
	StreamState string                  `json:"stream_state"`
	SelectedIDs []uuid.UUID             `json:"selected_ids"`
	Filters     domain.LeadFilters      `json:"filters"`
}

// ApplyFiltersRequest sets the session's board-wide lead filters.
type ApplyFiltersRequest struct {
	Search       string      `json:"search" validate:"max=200"`
	StageID      *uuid.UUID  `json:"stage_id"`
	TagIDs       []uuid.UUID `json:"tag_ids" validate:"max=50"`
	CreatedAfter *time.Time  `json:"created_after"`
}

// Filters converts the request to the domain filter set.
func (r ApplyFiltersRequest) Filters() domain.LeadFilters {
	return domain.LeadFilters{
		Search:       r.Search,
		StageID:      r.StageID,
		TagIDs:       r.TagIDs,
		CreatedAfter: r.CreatedAfter,
	}
}

// DragStartRequest begins a drag gesture.
type DragStartRequest struct {
	LeadID uuid.UUID `json:"lead_id" validate:"required"`
}

// DragHoverRequest updates the hover target of an active gesture.
type DragHoverRequest struct {
	StageID uuid.UUID `json:"stage_id" validate:"required"`
}

// DragDropRequest releases the dragged lead over a stage or another lead.
type DragDropRequest struct {
	StageID *uuid.UUID `json:"stage_id"`
	LeadID  *uuid.UUID `json:"lead_id"`
}

// BulkMoveRequest moves a set of leads to a stage in one operation.
type BulkMoveRequest struct {
	LeadIDs       []uuid.UUID `json:"lead_ids" validate:"required,min=1,max=100"`
	TargetStageID uuid.UUID   `json:"target_stage_id" validate:"required"`
}

// RenameStageRequest retitles a stage.
type RenameStageRequest struct {
	Title string `json:"title" validate:"required,max=120"`
}

// SelectionRequest mutates the session's multi-select set.
type SelectionRequest struct {
	Action string     `json:"action" validate:"required,oneof=add remove clear"`
	LeadID *uuid.UUID `json:"lead_id"`
}

// NewStageResponse maps a repository stage row.
func NewStageResponse(row repository.StageWithTotal) StageResponse {
	return StageResponse{
		ID:            row.ID,
		Title:         row.Title,
		Color:         row.Color,
		OrderPosition: row.OrderPosition,
		FunnelID:      row.FunnelID,
		IsWon:         row.IsWon,
		IsLost:        row.IsLost,
		IsFixed:       row.IsFixed,
		AIEnabled:     row.AIEnabled,
		LeadTotal:     row.LeadTotal,
	}
}

// NewStageResponses maps a stage list.
func NewStageResponses(rows []repository.StageWithTotal) []StageResponse {
	out := make([]StageResponse, 0, len(rows))
	for _, row := range rows {
		out = append(out, NewStageResponse(row))
	}
	return out
}

// NewLeadResponse maps a domain lead. dragActive marks cards whose drop
// cool-down has not elapsed yet.
func NewLeadResponse(lead domain.Lead, dragActive bool) LeadResponse {
	return LeadResponse{
		ID:            lead.ID,
		Name:          lead.Name,
		Phone:         lead.Phone,
		Email:         lead.Email,
		StageID:       lead.StageID,
		FunnelID:      lead.FunnelID,
		OwnerID:       lead.OwnerID,
		OrderPosition: lead.OrderPosition,
		TagIDs:        lead.TagIDs,
		Value:         lead.Value,
		DragActive:    dragActive,
		CreatedAt:     lead.CreatedAt,
		UpdatedAt:     lead.UpdatedAt,
	}
}

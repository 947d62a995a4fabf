// Package domain defines the core data model of the funnel board bounded
// context: leads, stages, funnels and the board event vocabulary.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// Role is the access role of a board user.
type Role string

const (
	RoleAdmin       Role = "admin"
	RoleOperational Role = "operational"
	RoleUser        Role = "user"
)

// Lead is a pipeline record. A lead belongs to exactly one stage at any
// instant; OrderPosition is meaningful only relative to leads sharing the
// same StageID.
type Lead struct {
	ID              uuid.UUID   `json:"id"`
	Name            string      `json:"name"`
	Phone           string      `json:"phone"`
	Email           *string     `json:"email"`
	StageID         uuid.UUID   `json:"kanban_stage_id"`
	FunnelID        uuid.UUID   `json:"funnel_id"`
	OwnerID         *uuid.UUID  `json:"owner_id"`
	CreatedByUserID uuid.UUID   `json:"created_by_user_id"`
	OrderPosition   int         `json:"order_position"`
	WhatsappID      *uuid.UUID  `json:"whatsapp_instance_id"`
	TagIDs          []uuid.UUID `json:"tag_ids"`
	Value           *float64    `json:"value"`
	Notes           *string     `json:"notes"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

// Stage is a board column. Exactly one stage per funnel carries IsWon and one
// IsLost; IsFixed stages cannot be deleted or renamed.
type Stage struct {
	ID              uuid.UUID `json:"id"`
	Title           string    `json:"title"`
	Color           string    `json:"color"`
	OrderPosition   int       `json:"order_position"`
	FunnelID        uuid.UUID `json:"funnel_id"`
	IsWon           bool      `json:"is_won"`
	IsLost          bool      `json:"is_lost"`
	IsFixed         bool      `json:"is_fixed"`
	AIEnabled       bool      `json:"ai_enabled"`
	CreatedByUserID uuid.UUID `json:"created_by_user_id"`
}

// Funnel is a named pipeline owned by a tenant admin.
type Funnel struct {
	ID              uuid.UUID `json:"id"`
	Name            string    `json:"name"`
	CreatedByUserID uuid.UUID `json:"created_by_user_id"`
	CreatedAt       time.Time `json:"created_at"`
}

// Tag labels leads within a tenant.
type Tag struct {
	ID              uuid.UUID `json:"id"`
	Name            string    `json:"name"`
	Color           string    `json:"color"`
	CreatedByUserID uuid.UUID `json:"created_by_user_id"`
}

// LeadFilters are UI-level filters layered on top of the access scope. They
// can only narrow results, never widen them.
type LeadFilters struct {
	Search       string      `json:"search"`
	StageID      *uuid.UUID  `json:"stage_id"`
	TagIDs       []uuid.UUID `json:"tag_ids"`
	CreatedAfter *time.Time  `json:"created_after"`
}

// Empty reports whether no filter is set.
func (f LeadFilters) Empty() bool {
	return f.Search == "" && f.StageID == nil && len(f.TagIDs) == 0 && f.CreatedAfter == nil
}

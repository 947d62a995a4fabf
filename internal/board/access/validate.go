package access

import (
	"funnelboard_backend/internal/board/domain"

	"github.com/google/uuid"
)

// ValidateLeadAccess is the record-time twin of leadScopeClause. Every lead
// obtained from any source must pass it before it is trusted by the board or
// allowed to invalidate a cache entry.
func ValidateLeadAccess(c Context, lead domain.Lead) bool {
	switch c.Role {
	case domain.RoleAdmin:
		return lead.CreatedByUserID == c.TenantID
	case domain.RoleOperational:
		if c.OperationalScopeEmpty() {
			return false
		}
		if c.OwnerFilter != nil && lead.OwnerID != nil && *lead.OwnerID == *c.OwnerFilter {
			return true
		}
		if lead.WhatsappID != nil && containsID(c.InstanceFilter, *lead.WhatsappID) {
			return true
		}
		return containsID(c.FunnelFilter, lead.FunnelID)
	default:
		return false
	}
}

// ValidateStageAccess is the record-time twin of stageScopeClause.
func ValidateStageAccess(c Context, stage domain.Stage) bool {
	switch c.Role {
	case domain.RoleAdmin:
		return stage.CreatedByUserID == c.TenantID
	case domain.RoleOperational:
		return containsID(c.FunnelFilter, stage.FunnelID)
	default:
		return false
	}
}

// CanMutateLead gates writes. An admin may only update leads they created;
// operational writes defer to the same read scope, which backend row scoping
// re-checks on every statement.
func CanMutateLead(c Context, lead domain.Lead) bool {
	return ValidateLeadAccess(c, lead)
}

func containsID(ids []uuid.UUID, id uuid.UUID) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}

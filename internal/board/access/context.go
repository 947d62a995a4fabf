// Package access is the single source of truth for what a caller may see and
// mutate on the board. The same scope rules are enforced twice on purpose:
// once when queries are built and once as a pure predicate over every record
// obtained from any source (fetch, change stream, mutation response).
package access

import (
	"time"

	"funnelboard_backend/internal/board/domain"

	"github.com/google/uuid"
)

// Context is the resolved identity, role and scope of one session. It is
// computed once on session start and treated as immutable afterwards;
// UI-level filters are layered on top and can never widen it.
type Context struct {
	UserID     uuid.UUID
	Role       domain.Role
	TenantID   uuid.UUID
	ResolvedAt time.Time

	// OwnerFilter is the operational caller's own id; leads assigned to it
	// are visible regardless of channel or funnel scope.
	OwnerFilter *uuid.UUID
	// InstanceFilter is the set of permitted channel/instance ids.
	InstanceFilter []uuid.UUID
	// FunnelFilter is the set of assigned funnel ids.
	FunnelFilter []uuid.UUID
}

// OperationalScopeEmpty reports whether an operational context has no
// populated scope set at all. Such a context must deterministically see zero
// rows rather than an unfiltered query.
func (c Context) OperationalScopeEmpty() bool {
	return c.OwnerFilter == nil && len(c.InstanceFilter) == 0 && len(c.FunnelFilter) == 0
}

package access

import (
	"fmt"
	"strings"

	"funnelboard_backend/internal/board/domain"

	"github.com/google/uuid"
)

// The clause builders and the validators below are two renditions of one
// scope rule set. Keep them adjacent: any change to a clause must change the
// matching predicate in validate.go, and scope_test.go asserts they agree.

// impossibleID filters a query down to zero rows. Used when a role has no
// populated scope: the mandatory clause is never omitted, it is made
// unsatisfiable instead.
var impossibleID = uuid.Nil

// argList collects positional query arguments.
type argList struct {
	args []any
}

func (a *argList) add(v any) string {
	a.args = append(a.args, v)
	return fmt.Sprintf("$%d", len(a.args))
}

// leadScopeClause returns the mandatory WHERE fragment scoping leads to the
// context. Column references use the "l" alias.
func leadScopeClause(c Context, a *argList) string {
	switch c.Role {
	case domain.RoleAdmin:
		return "l.created_by_user_id = " + a.add(c.TenantID)
	case domain.RoleOperational:
		if c.OperationalScopeEmpty() {
			return "l.id = " + a.add(impossibleID)
		}
		var parts []string
		if c.OwnerFilter != nil {
			parts = append(parts, "l.owner_id = "+a.add(*c.OwnerFilter))
		}
		if len(c.InstanceFilter) > 0 {
			parts = append(parts, "l.whatsapp_instance_id = ANY("+a.add(c.InstanceFilter)+")")
		}
		if len(c.FunnelFilter) > 0 {
			parts = append(parts, "l.funnel_id = ANY("+a.add(c.FunnelFilter)+")")
		}
		return "(" + strings.Join(parts, " OR ") + ")"
	default:
		return "l.id = " + a.add(impossibleID)
	}
}

// stageScopeClause returns the mandatory WHERE fragment scoping stages.
// Column references use the "s" alias. Operational stage visibility follows
// funnel assignment; owner and channel scope grant lead rows, not columns.
func stageScopeClause(c Context, a *argList) string {
	switch c.Role {
	case domain.RoleAdmin:
		return "s.created_by_user_id = " + a.add(c.TenantID)
	case domain.RoleOperational:
		if len(c.FunnelFilter) == 0 {
			return "s.id = " + a.add(impossibleID)
		}
		return "s.funnel_id = ANY(" + a.add(c.FunnelFilter) + ")"
	default:
		return "s.id = " + a.add(impossibleID)
	}
}

const leadColumns = `l.id, l.name, l.phone, l.email, l.kanban_stage_id, l.funnel_id,
	l.owner_id, l.created_by_user_id, l.order_position, l.whatsapp_instance_id,
	COALESCE(array_agg(lt.tag_id) FILTER (WHERE lt.tag_id IS NOT NULL), '{}'),
	l.value, l.notes, l.created_at, l.updated_at`

// BuildSecureLeadsQuery builds the windowed per-stage leads query. The
// mandatory scope clause is always applied before any caller-chosen filter.
func BuildSecureLeadsQuery(c Context, stageID uuid.UUID, filters domain.LeadFilters, limit, offset int) (string, []any) {
	a := &argList{}
	where := []string{leadScopeClause(c, a)}
	where = append(where, "l.kanban_stage_id = "+a.add(stageID))
	where = appendFilterClauses(where, filters, a)

	query := `SELECT ` + leadColumns + `
		FROM leads l
		LEFT JOIN lead_tags lt ON lt.lead_id = l.id
		WHERE ` + strings.Join(where, " AND ") + `
		GROUP BY l.id
		ORDER BY l.order_position ASC, l.created_at ASC`

	if limit > 0 {
		query += " LIMIT " + a.add(limit)
		query += " OFFSET " + a.add(offset)
	}
	return query, a.args
}

// BuildSecureLeadsCountQuery counts the leads of a stage under the same
// mandatory scope and filters as BuildSecureLeadsQuery.
func BuildSecureLeadsCountQuery(c Context, stageID uuid.UUID, filters domain.LeadFilters) (string, []any) {
	a := &argList{}
	where := []string{leadScopeClause(c, a)}
	where = append(where, "l.kanban_stage_id = "+a.add(stageID))
	where = appendFilterClauses(where, filters, a)

	query := `SELECT COUNT(DISTINCT l.id) FROM leads l
		LEFT JOIN lead_tags lt ON lt.lead_id = l.id
		WHERE ` + strings.Join(where, " AND ")
	return query, a.args
}

// BuildSecureStagesQuery builds the funnel stage listing with per-stage lead
// totals, scoped identically for columns and the embedded lead counts.
func BuildSecureStagesQuery(c Context, funnelID uuid.UUID) (string, []any) {
	a := &argList{}
	stageScope := stageScopeClause(c, a)
	leadScope := leadScopeClause(c, a)
	funnelArg := a.add(funnelID)

	query := `SELECT s.id, s.title, s.color, s.order_position, s.funnel_id,
		s.is_won, s.is_lost, s.is_fixed, s.ai_enabled, s.created_by_user_id,
		(SELECT COUNT(*) FROM leads l WHERE l.kanban_stage_id = s.id AND ` + leadScope + `) AS lead_total
		FROM kanban_stages s
		WHERE ` + stageScope + ` AND s.funnel_id = ` + funnelArg + `
		ORDER BY s.order_position ASC`
	return query, a.args
}

func appendFilterClauses(where []string, filters domain.LeadFilters, a *argList) []string {
	if filters.Search != "" {
		pattern := a.add("%" + filters.Search + "%")
		where = append(where, "(l.name ILIKE "+pattern+" OR l.phone ILIKE "+pattern+" OR l.email ILIKE "+pattern+")")
	}
	if filters.StageID != nil {
		where = append(where, "l.kanban_stage_id = "+a.add(*filters.StageID))
	}
	if len(filters.TagIDs) > 0 {
		where = append(where, "lt.tag_id = ANY("+a.add(filters.TagIDs)+")")
	}
	if filters.CreatedAfter != nil {
		where = append(where, "l.created_at >= "+a.add(*filters.CreatedAfter))
	}
	return where
}

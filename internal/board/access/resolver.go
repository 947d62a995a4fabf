package access

import (
	"context"
	"errors"
	"sync"
	"time"

	"funnelboard_backend/internal/board/domain"
	"funnelboard_backend/platform/apperr"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// defaultContextTTL bounds how long a resolved context is reused before the
// profile and assignment tables are consulted again.
const defaultContextTTL = 5 * time.Minute

const profileQuery = `
	SELECT role, created_by_user_id
	FROM profiles
	WHERE id = $1`

const instanceAssignmentsQuery = `
	SELECT whatsapp_instance_id
	FROM user_whatsapp_instances
	WHERE user_id = $1
	ORDER BY whatsapp_instance_id`

const funnelAssignmentsQuery = `
	SELECT funnel_id
	FROM user_funnel_assignments
	WHERE user_id = $1
	ORDER BY funnel_id`

const ownsLeadsQuery = `
	SELECT EXISTS(SELECT 1 FROM leads WHERE owner_id = $1)`

// Resolver derives the access context of a session from the caller's profile
// and assignment tables. Results are cached briefly per user; a context is
// immutable once handed out.
type Resolver struct {
	pool *pgxpool.Pool
	ttl  time.Duration

	mu    sync.Mutex
	cache map[uuid.UUID]Context
}

// NewResolver creates a resolver backed by the given pool. A non-positive ttl
// falls back to the default.
func NewResolver(pool *pgxpool.Pool, ttl time.Duration) *Resolver {
	if ttl <= 0 {
		ttl = defaultContextTTL
	}
	return &Resolver{
		pool:  pool,
		ttl:   ttl,
		cache: make(map[uuid.UUID]Context),
	}
}

// Resolve loads the caller's role, tenant key and, for operational users,
// their owner/channel/funnel scopes.
func (r *Resolver) Resolve(ctx context.Context, userID uuid.UUID) (Context, error) {
	r.mu.Lock()
	if cached, ok := r.cache[userID]; ok && time.Since(cached.ResolvedAt) < r.ttl {
		r.mu.Unlock()
		return cached, nil
	}
	r.mu.Unlock()

	var role string
	var createdBy *uuid.UUID
	err := r.pool.QueryRow(ctx, profileQuery, userID).Scan(&role, &createdBy)
	if errors.Is(err, pgx.ErrNoRows) {
		return Context{}, apperr.Forbidden("profile not found")
	}
	if err != nil {
		return Context{}, err
	}

	ac := Context{
		UserID:     userID,
		Role:       domain.Role(role),
		ResolvedAt: time.Now(),
	}

	switch ac.Role {
	case domain.RoleAdmin:
		// An admin is the tenant: their created data carries their own id.
		ac.TenantID = userID
	case domain.RoleOperational:
		if createdBy != nil {
			ac.TenantID = *createdBy
		}
		// OwnerFilter is only considered populated when the caller actually
		// owns records; an empty scope must stay empty so the query builder
		// falls back to the impossible-id clause.
		var ownsLeads bool
		if err := r.pool.QueryRow(ctx, ownsLeadsQuery, userID).Scan(&ownsLeads); err != nil {
			return Context{}, err
		}
		if ownsLeads {
			owner := userID
			ac.OwnerFilter = &owner
		}
		if ac.InstanceFilter, err = r.queryIDs(ctx, instanceAssignmentsQuery, userID); err != nil {
			return Context{}, err
		}
		if ac.FunnelFilter, err = r.queryIDs(ctx, funnelAssignmentsQuery, userID); err != nil {
			return Context{}, err
		}
	default:
		// Unknown roles resolve, but every scope clause they produce is
		// unsatisfiable. Denial happens in the query, not here.
		if createdBy != nil {
			ac.TenantID = *createdBy
		}
	}

	r.mu.Lock()
	r.cache[userID] = ac
	r.mu.Unlock()
	return ac, nil
}

// Invalidate drops a cached context, forcing the next Resolve to reload.
func (r *Resolver) Invalidate(userID uuid.UUID) {
	r.mu.Lock()
	delete(r.cache, userID)
	r.mu.Unlock()
}

func (r *Resolver) queryIDs(ctx context.Context, query string, userID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make([]uuid.UUID, 0)
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

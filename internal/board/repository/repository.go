// Package repository provides persistence for the board bounded context.
// All list queries are built by the access package so the mandatory scope
// clause can never be omitted; every write re-validates the target row and
// publishes a change-data-capture row image.
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"funnelboard_backend/internal/board/access"
	"funnelboard_backend/internal/board/domain"
	"funnelboard_backend/platform/apperr"
	"funnelboard_backend/platform/cdc"
	"funnelboard_backend/platform/logger"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrNotFound = errors.New("lead not found")

const (
	// TableLeads and TableStages key change-stream subscriptions.
	TableLeads  = "leads"
	TableStages = "kanban_stages"
)

type Repository struct {
	pool    *pgxpool.Pool
	emitter *cdc.Emitter
	log     *logger.Logger
}

func New(pool *pgxpool.Pool, emitter *cdc.Emitter, log *logger.Logger) *Repository {
	return &Repository{pool: pool, emitter: emitter, log: log}
}

// ListStageLeads returns one window of a stage's leads under the caller's
// scope, ordered by position.
func (r *Repository) ListStageLeads(ctx context.Context, ac access.Context, stageID uuid.UUID, filters domain.LeadFilters, limit, offset int) ([]domain.Lead, error) {
	query, args := access.BuildSecureLeadsQuery(ac, stageID, filters, limit, offset)
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	leads := make([]domain.Lead, 0)
	for rows.Next() {
		lead, err := scanLead(rows)
		if err != nil {
			return nil, err
		}
		leads = append(leads, lead)
	}
	return leads, rows.Err()
}

// CountStageLeads returns the authoritative stage total under the caller's
// scope and filters.
func (r *Repository) CountStageLeads(ctx context.Context, ac access.Context, stageID uuid.UUID, filters domain.LeadFilters) (int, error) {
	query, args := access.BuildSecureLeadsCountQuery(ac, stageID, filters)
	var count int
	err := r.pool.QueryRow(ctx, query, args...).Scan(&count)
	return count, err
}

const getLeadQuery = `
	SELECT l.id, l.name, l.phone, l.email, l.kanban_stage_id, l.funnel_id,
		l.owner_id, l.created_by_user_id, l.order_position, l.whatsapp_instance_id,
		COALESCE(array_agg(lt.tag_id) FILTER (WHERE lt.tag_id IS NOT NULL), '{}'),
		l.value, l.notes, l.created_at, l.updated_at
	FROM leads l
	LEFT JOIN lead_tags lt ON lt.lead_id = l.id
	WHERE l.id = $1
	GROUP BY l.id`

// GetLead fetches one lead without scope filtering. Callers must validate
// the result against their access context before trusting it.
func (r *Repository) GetLead(ctx context.Context, id uuid.UUID) (domain.Lead, error) {
	lead, err := scanLead(r.pool.QueryRow(ctx, getLeadQuery, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Lead{}, ErrNotFound
	}
	return lead, err
}

// UpdateLeadStage moves a lead to a target stage and position. The row is
// re-fetched and re-validated inside the transaction before writing; the
// tenant-ownership field is never writable.
func (r *Repository) UpdateLeadStage(ctx context.Context, ac access.Context, leadID, targetStageID uuid.UUID, position int) (domain.Lead, error) {
	var before, after domain.Lead
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		var err error
		before, err = lockLead(ctx, tx, leadID)
		if err != nil {
			return err
		}
		if !access.CanMutateLead(ac, before) {
			return apperr.Forbidden("lead is outside your scope")
		}

		row := tx.QueryRow(ctx, `
			UPDATE leads
			SET kanban_stage_id = $2, order_position = $3, updated_at = now()
			WHERE id = $1
			RETURNING id, kanban_stage_id, funnel_id, order_position, updated_at`,
			leadID, targetStageID, position)
		after = before
		return row.Scan(&after.ID, &after.StageID, &after.FunnelID, &after.OrderPosition, &after.UpdatedAt)
	})
	if err != nil {
		return domain.Lead{}, err
	}

	r.publishLeadChange(ctx, cdc.OpUpdate, &before, &after)
	return after, nil
}

// UpdateLeadPosition persists one lead's order position within its stage.
func (r *Repository) UpdateLeadPosition(ctx context.Context, ac access.Context, leadID uuid.UUID, position int) error {
	var before, after domain.Lead
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		var err error
		before, err = lockLead(ctx, tx, leadID)
		if err != nil {
			return err
		}
		if !access.CanMutateLead(ac, before) {
			return apperr.Forbidden("lead is outside your scope")
		}

		after = before
		after.OrderPosition = position
		_, err = tx.Exec(ctx, `
			UPDATE leads SET order_position = $2, updated_at = now() WHERE id = $1`,
			leadID, position)
		return err
	})
	if err != nil {
		return err
	}

	r.publishLeadChange(ctx, cdc.OpUpdate, &before, &after)
	return nil
}

// BulkMoveLeads moves every given lead to the target stage in one
// transaction. The whole batch is validated up front; any failure rejects
// the batch before a single write occurs.
func (r *Repository) BulkMoveLeads(ctx context.Context, ac access.Context, leadIDs []uuid.UUID, targetStageID uuid.UUID) ([]domain.Lead, error) {
	if len(leadIDs) == 0 {
		return nil, nil
	}

	var befores, afters []domain.Lead
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		befores = befores[:0]
		for _, id := range leadIDs {
			lead, err := lockLead(ctx, tx, id)
			if err != nil {
				return err
			}
			befores = append(befores, lead)
		}
		for _, lead := range befores {
			if !access.CanMutateLead(ac, lead) {
				return apperr.Forbidden("one or more leads are outside your scope")
			}
		}

		var basePosition int
		if err := tx.QueryRow(ctx, `
			SELECT COALESCE(MAX(order_position) + 1, 0) FROM leads WHERE kanban_stage_id = $1`,
			targetStageID).Scan(&basePosition); err != nil {
			return err
		}

		afters = afters[:0]
		for i, lead := range befores {
			after := lead
			after.StageID = targetStageID
			after.OrderPosition = basePosition + i
			row := tx.QueryRow(ctx, `
				UPDATE leads
				SET kanban_stage_id = $2, order_position = $3, updated_at = now()
				WHERE id = $1
				RETURNING updated_at`,
				lead.ID, targetStageID, basePosition+i)
			if err := row.Scan(&after.UpdatedAt); err != nil {
				return err
			}
			afters = append(afters, after)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for i := range afters {
		r.publishLeadChange(ctx, cdc.OpUpdate, &befores[i], &afters[i])
	}
	return afters, nil
}

func lockLead(ctx context.Context, tx pgx.Tx, id uuid.UUID) (domain.Lead, error) {
	row := tx.QueryRow(ctx, `
		SELECT id, name, phone, email, kanban_stage_id, funnel_id, owner_id,
			created_by_user_id, order_position, whatsapp_instance_id,
			'{}'::uuid[], value, notes, created_at, updated_at
		FROM leads
		WHERE id = $1
		FOR UPDATE`, id)
	lead, err := scanLead(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Lead{}, ErrNotFound
	}
	return lead, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLead(row rowScanner) (domain.Lead, error) {
	var lead domain.Lead
	err := row.Scan(
		&lead.ID, &lead.Name, &lead.Phone, &lead.Email, &lead.StageID,
		&lead.FunnelID, &lead.OwnerID, &lead.CreatedByUserID,
		&lead.OrderPosition, &lead.WhatsappID, &lead.TagIDs,
		&lead.Value, &lead.Notes, &lead.CreatedAt, &lead.UpdatedAt,
	)
	return lead, err
}

// publishLeadChange emits a CDC row image. Stream delivery is freshness, not
// correctness: a publish failure is logged, never surfaced to the writer.
func (r *Repository) publishLeadChange(ctx context.Context, op cdc.Op, before, after *domain.Lead) {
	if r.emitter == nil {
		return
	}
	change := cdc.Change{Table: TableLeads, Op: op, At: time.Now()}
	filters := map[string]string{}
	if before != nil {
		change.Old, _ = json.Marshal(before)
		filters["created_by_user_id"] = before.CreatedByUserID.String()
		if before.WhatsappID != nil {
			filters["whatsapp_instance_id"] = before.WhatsappID.String()
		}
	}
	if after != nil {
		change.New, _ = json.Marshal(after)
		filters["created_by_user_id"] = after.CreatedByUserID.String()
		if after.WhatsappID != nil {
			filters["whatsapp_instance_id"] = after.WhatsappID.String()
		}
	}
	if err := r.emitter.Publish(ctx, change, filters); err != nil {
		r.log.Error("cdc publish failed", "table", TableLeads, "error", err)
	}
}

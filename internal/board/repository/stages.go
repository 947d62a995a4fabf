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

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

var ErrStageNotFound = errors.New("stage not found")

// StageWithTotal pairs a stage with its scoped lead count, the pagination
// controller's authoritative total.
type StageWithTotal struct {
	domain.Stage
	LeadTotal int `json:"lead_total"`
}

// ListStages returns a funnel's stages with per-stage lead totals under the
// caller's scope.
func (r *Repository) ListStages(ctx context.Context, ac access.Context, funnelID uuid.UUID) ([]StageWithTotal, error) {
	query, args := access.BuildSecureStagesQuery(ac, funnelID)
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stages := make([]StageWithTotal, 0)
	for rows.Next() {
		var s StageWithTotal
		if err := rows.Scan(
			&s.ID, &s.Title, &s.Color, &s.OrderPosition, &s.FunnelID,
			&s.IsWon, &s.IsLost, &s.IsFixed, &s.AIEnabled, &s.CreatedByUserID,
			&s.LeadTotal,
		); err != nil {
			return nil, err
		}
		stages = append(stages, s)
	}
	return stages, rows.Err()
}

// GetStage fetches one stage without scope filtering. Callers validate the
// result against their access context.
func (r *Repository) GetStage(ctx context.Context, id uuid.UUID) (domain.Stage, error) {
	var s domain.Stage
	err := r.pool.QueryRow(ctx, `
		SELECT id, title, color, order_position, funnel_id, is_won, is_lost,
			is_fixed, ai_enabled, created_by_user_id
		FROM kanban_stages
		WHERE id = $1`, id).Scan(
		&s.ID, &s.Title, &s.Color, &s.OrderPosition, &s.FunnelID,
		&s.IsWon, &s.IsLost, &s.IsFixed, &s.AIEnabled, &s.CreatedByUserID,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Stage{}, ErrStageNotFound
	}
	return s, err
}

// RenameStage retitles a stage. Fixed system stages refuse the rename.
func (r *Repository) RenameStage(ctx context.Context, ac access.Context, id uuid.UUID, title string) (domain.Stage, error) {
	stage, err := r.GetStage(ctx, id)
	if err != nil {
		return domain.Stage{}, err
	}
	if !access.ValidateStageAccess(ac, stage) {
		return domain.Stage{}, apperr.Forbidden("stage is outside your scope")
	}
	if stage.IsFixed {
		return domain.Stage{}, apperr.Conflict("system stages cannot be renamed")
	}

	before := stage
	if _, err := r.pool.Exec(ctx, `
		UPDATE kanban_stages SET title = $2 WHERE id = $1`, id, title); err != nil {
		return domain.Stage{}, err
	}
	stage.Title = title
	r.publishStageChange(ctx, cdc.OpUpdate, &before, &stage)
	return stage, nil
}

// ReindexStagePositions rewrites a stage's lead positions densely (0..N-1)
// in one statement. This is the repair path after a partial reorder failure.
func (r *Repository) ReindexStagePositions(ctx context.Context, stageID uuid.UUID) (int, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE leads l
		SET order_position = ranked.new_position
		FROM (
			SELECT id, ROW_NUMBER() OVER (ORDER BY order_position ASC, created_at ASC) - 1 AS new_position
			FROM leads
			WHERE kanban_stage_id = $1
		) ranked
		WHERE l.id = ranked.id AND l.order_position <> ranked.new_position`,
		stageID)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (r *Repository) publishStageChange(ctx context.Context, op cdc.Op, before, after *domain.Stage) {
	if r.emitter == nil {
		return
	}
	change := cdc.Change{Table: TableStages, Op: op, At: time.Now()}
	filters := map[string]string{}
	if before != nil {
		change.Old, _ = json.Marshal(before)
		filters["created_by_user_id"] = before.CreatedByUserID.String()
	}
	if after != nil {
		change.New, _ = json.Marshal(after)
		filters["created_by_user_id"] = after.CreatedByUserID.String()
	}
	if err := r.emitter.Publish(ctx, change, filters); err != nil {
		r.log.Error("cdc publish failed", "table", TableStages, "error", err)
	}
}

// Package placement implements the drag/drop and reorder protocol: optimistic
// local mutation, persistence and rollback.
package placement

import (
	"funnelboard_backend/internal/board/cache"
	"funnelboard_backend/internal/board/domain"

	"github.com/google/uuid"
)

// stageSnapshot captures a stage window before an optimistic mutation.
// Rollback is a pure replay of the snapshot, never re-derived ad hoc.
type stageSnapshot struct {
	stageID uuid.UUID
	leads   []domain.Lead
}

func snapshotStage(boardCache *cache.BoardCache, stageID uuid.UUID) stageSnapshot {
	return stageSnapshot{stageID: stageID, leads: boardCache.StageLeads(stageID)}
}

// command is an optimistic mutation with an explicit undo step.
type command struct {
	snapshots []stageSnapshot
	apply     func(*cache.BoardCache)
}

func (c *command) Apply(boardCache *cache.BoardCache) {
	c.apply(boardCache)
}

// Undo restores every captured stage window to its pre-drop contents.
func (c *command) Undo(boardCache *cache.BoardCache) {
	for _, snap := range c.snapshots {
		boardCache.ReplaceStageLeads(snap.stageID, snap.leads)
	}
}

// newReorderCommand moves a lead from one index to another within a stage
// and renumbers every position densely.
func newReorderCommand(boardCache *cache.BoardCache, stageID uuid.UUID, from, to int) *command {
	return &command{
		snapshots: []stageSnapshot{snapshotStage(boardCache, stageID)},
		apply: func(bc *cache.BoardCache) {
			leads := bc.StageLeads(stageID)
			arrayMove(leads, from, to)
			renumber(leads)
			bc.ReplaceStageLeads(stageID, leads)
		},
	}
}

// newMoveCommand splices a lead out of its source stage and into the target
// stage at the given index, updating its stage id and renumbering both sides.
func newMoveCommand(boardCache *cache.BoardCache, lead domain.Lead, sourceStageID, targetStageID uuid.UUID, index int) *command {
	return &command{
		snapshots: []stageSnapshot{
			snapshotStage(boardCache, sourceStageID),
			snapshotStage(boardCache, targetStageID),
		},
		apply: func(bc *cache.BoardCache) {
			source := removeLead(bc.StageLeads(sourceStageID), lead.ID)
			renumber(source)
			bc.ReplaceStageLeads(sourceStageID, source)

			target := bc.StageLeads(targetStageID)
			moved := lead
			moved.StageID = targetStageID
			target = insertLead(target, moved, index)
			renumber(target)
			bc.ReplaceStageLeads(targetStageID, target)
		},
	}
}

// newBulkMoveCommand moves a whole selection to the end of the target stage.
// Snapshots cover the target and every distinct source stage.
func newBulkMoveCommand(boardCache *cache.BoardCache, leads []domain.Lead, targetStageID uuid.UUID) *command {
	seen := map[uuid.UUID]bool{targetStageID: true}
	snapshots := []stageSnapshot{snapshotStage(boardCache, targetStageID)}
	for _, lead := range leads {
		if !seen[lead.StageID] {
			seen[lead.StageID] = true
			snapshots = append(snapshots, snapshotStage(boardCache, lead.StageID))
		}
	}

	return &command{
		snapshots: snapshots,
		apply: func(bc *cache.BoardCache) {
			for _, lead := range leads {
				if lead.StageID == targetStageID {
					continue
				}
				source := removeLead(bc.StageLeads(lead.StageID), lead.ID)
				renumber(source)
				bc.ReplaceStageLeads(lead.StageID, source)

				target := bc.StageLeads(targetStageID)
				moved := lead
				moved.StageID = targetStageID
				target = append(target, moved)
				renumber(target)
				bc.ReplaceStageLeads(targetStageID, target)
			}
		},
	}
}

// arrayMove relocates the element at from to index to, shifting the rest.
func arrayMove(leads []domain.Lead, from, to int) {
	if from == to || from < 0 || to < 0 || from >= len(leads) || to >= len(leads) {
		return
	}
	moved := leads[from]
	if from < to {
		copy(leads[from:], leads[from+1:to+1])
	} else {
		copy(leads[to+1:], leads[to:from])
	}
	leads[to] = moved
}

// renumber rewrites every lead's order position sequentially so the stage
// ordering stays dense (0..N-1).
func renumber(leads []domain.Lead) {
	for i := range leads {
		leads[i].OrderPosition = i
	}
}

func removeLead(leads []domain.Lead, id uuid.UUID) []domain.Lead {
	for i, lead := range leads {
		if lead.ID == id {
			return append(leads[:i], leads[i+1:]...)
		}
	}
	return leads
}

func insertLead(leads []domain.Lead, lead domain.Lead, index int) []domain.Lead {
	if index < 0 || index >= len(leads) {
		return append(leads, lead)
	}
	leads = append(leads, domain.Lead{})
	copy(leads[index+1:], leads[index:])
	leads[index] = lead
	return leads
}

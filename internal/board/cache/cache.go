// Package cache holds the in-memory board state of one session: per-stage
// ordered lead windows, authoritative totals and staleness markers. It is
// mutated only by the placement engine, the pagination controller and the
// change-stream listener.
package cache

import (
	"sync"

	"funnelboard_backend/internal/board/domain"

	"github.com/google/uuid"
)

// BoardCache is safe for concurrent use.
type BoardCache struct {
	mu          sync.RWMutex
	stages      []domain.Stage
	leads       map[uuid.UUID][]domain.Lead
	totals      map[uuid.UUID]int
	staleStages map[uuid.UUID]bool
	staleAll    bool
}

// New creates an empty board cache.
func New() *BoardCache {
	return &BoardCache{
		leads:       make(map[uuid.UUID][]domain.Lead),
		totals:      make(map[uuid.UUID]int),
		staleStages: make(map[uuid.UUID]bool),
	}
}

// SetStages replaces the stage list and clears the board-wide staleness marker.
func (c *BoardCache) SetStages(stages []domain.Stage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stages = append([]domain.Stage(nil), stages...)
	c.staleAll = false
}

// Stages returns a copy of the cached stage list.
func (c *BoardCache) Stages() []domain.Stage {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]domain.Stage(nil), c.stages...)
}

// ReplaceStageLeads swaps the full in-memory window of a stage.
func (c *BoardCache) ReplaceStageLeads(stageID uuid.UUID, leads []domain.Lead) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.leads[stageID] = append([]domain.Lead(nil), leads...)
	delete(c.staleStages, stageID)
}

// AppendStageLeads extends a stage window with a fetched page.
func (c *BoardCache) AppendStageLeads(stageID uuid.UUID, leads []domain.Lead) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.leads[stageID] = append(c.leads[stageID], leads...)
}

// StageLeads returns a copy of a stage's in-memory window.
func (c *BoardCache) StageLeads(stageID uuid.UUID) []domain.Lead {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]domain.Lead(nil), c.leads[stageID]...)
}

// StageLeadCount returns the in-memory window size of a stage.
func (c *BoardCache) StageLeadCount(stageID uuid.UUID) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.leads[stageID])
}

// SetTotal records the authoritative server-side count for a stage.
func (c *BoardCache) SetTotal(stageID uuid.UUID, total int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totals[stageID] = total
}

// Total returns the authoritative server-side count for a stage.
func (c *BoardCache) Total(stageID uuid.UUID) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.totals[stageID]
}

// FindLead locates a lead by scanning every stage window. Board scale keeps
// the linear scan acceptable.
func (c *BoardCache) FindLead(leadID uuid.UUID) (domain.Lead, uuid.UUID, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for stageID, leads := range c.leads {
		for _, lead := range leads {
			if lead.ID == leadID {
				return lead, stageID, true
			}
		}
	}
	return domain.Lead{}, uuid.Nil, false
}

// RemoveLead removes a lead from whichever stage window holds it.
func (c *BoardCache) RemoveLead(leadID uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for stageID, leads := range c.leads {
		for i, lead := range leads {
			if lead.ID == leadID {
				c.leads[stageID] = append(leads[:i], leads[i+1:]...)
				return
			}
		}
	}
}

// InvalidateStage marks one stage window stale; consumers refetch it.
func (c *BoardCache) InvalidateStage(stageID uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.staleStages[stageID] = true
}

// InvalidateStages marks the stage list itself stale (aggregate counts,
// won/lost boundaries).
func (c *BoardCache) InvalidateStages() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.staleAll = true
}

// StageStale reports whether a stage window needs a refetch.
func (c *BoardCache) StageStale(stageID uuid.UUID) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.staleAll || c.staleStages[stageID]
}

// StagesStale reports whether the stage list needs a refetch.
func (c *BoardCache) StagesStale() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.staleAll
}

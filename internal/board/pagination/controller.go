// Package pagination keeps a bounded, progressively growing view of each
// stage's leads without refetching everything.
package pagination

import (
	"context"
	"sync"

	"funnelboard_backend/internal/board/cache"
	"funnelboard_backend/internal/board/coordinator"
	"funnelboard_backend/internal/board/domain"

	"github.com/google/uuid"
)

const (
	// DefaultPageSize is how many rows a load-more reveals or fetches.
	DefaultPageSize = 25
	// scrollThreshold is the scroll fraction past which consumers should
	// trigger a load-more.
	scrollThreshold = 0.85
)

// FetchPage fetches the next window for a stage from the server and returns
// the page plus the authoritative total. A nil FetchPage puts the controller
// in fallback mode: it only reveals already-buffered rows.
type FetchPage func(ctx context.Context, stageID uuid.UUID, offset, limit int) ([]domain.Lead, int, error)

// Controller reconciles per-stage in-memory windows against server-side
// totals and decides whether load-more hits the network or just reveals
// buffered rows.
type Controller struct {
	mu       sync.Mutex
	coord    *coordinator.Coordinator
	cache    *cache.BoardCache
	fetch    FetchPage
	pageSize int
	loading  map[uuid.UUID]bool
	visible  map[uuid.UUID]int
}

// New creates a controller. fetch may be nil for fallback mode; a
// non-positive pageSize falls back to the default.
func New(coord *coordinator.Coordinator, boardCache *cache.BoardCache, fetch FetchPage, pageSize int) *Controller {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Controller{
		coord:    coord,
		cache:    boardCache,
		fetch:    fetch,
		pageSize: pageSize,
		loading:  make(map[uuid.UUID]bool),
		visible:  make(map[uuid.UUID]int),
	}
}

// PageSize returns the configured page size.
func (c *Controller) PageSize() int {
	return c.pageSize
}

// HasMore reports whether a stage has rows beyond the current view: unseen
// server rows when paging is wired, or buffered-but-hidden rows otherwise.
func (c *Controller) HasMore(stageID uuid.UUID) bool {
	inMemory := c.cache.StageLeadCount(stageID)
	if c.fetch != nil {
		return inMemory < c.cache.Total(stageID)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return inMemory > c.visibleLocked(stageID, inMemory)
}

// LoadMore grows the stage view by one page. It is idempotent under rapid
// re-invocation: a call while a fetch for the same stage is pending is a
// no-op. Callers gate it with CanExecute(scroll:infinite); filtered views
// bypass pagination entirely.
func (c *Controller) LoadMore(ctx context.Context, stageID uuid.UUID) error {
	if !c.coord.CanExecute(domain.ActionInfiniteScroll) {
		return nil
	}

	c.mu.Lock()
	if c.loading[stageID] {
		c.mu.Unlock()
		return nil
	}

	inMemory := c.cache.StageLeadCount(stageID)
	if c.fetch == nil {
		// Fallback mode: nothing left on the server, reveal buffered rows.
		visible := c.visibleLocked(stageID, inMemory)
		visible += c.pageSize
		if visible > inMemory {
			visible = inMemory
		}
		c.visible[stageID] = visible
		c.mu.Unlock()
		return nil
	}

	if inMemory >= c.cache.Total(stageID) {
		c.mu.Unlock()
		return nil
	}
	c.loading[stageID] = true
	c.mu.Unlock()

	// Processed synchronously so IsLoadingMore is set before the fetch and
	// cannot land after FinishLoadMore on a fast round trip.
	c.coord.EmitPriority(domain.ScrollLoadMore{StageID: stageID}, "pagination", domain.PriorityImmediate)
	defer c.coord.FinishLoadMore()

	page, total, err := c.fetch(ctx, stageID, inMemory, c.pageSize)

	c.mu.Lock()
	c.loading[stageID] = false
	c.mu.Unlock()

	if err != nil {
		return err
	}

	c.cache.AppendStageLeads(stageID, page)
	c.cache.SetTotal(stageID, total)
	c.mu.Lock()
	c.visible[stageID] = c.cache.StageLeadCount(stageID)
	c.mu.Unlock()
	return nil
}

// VisibleLeads returns the rows the stage should render. While any UI-level
// filter is active the full in-memory set is exposed: windowed pagination
// combined with client-side filtering produces wrong "no results" states.
func (c *Controller) VisibleLeads(stageID uuid.UUID) []domain.Lead {
	leads := c.cache.StageLeads(stageID)
	if c.coord.State().HasActiveFilters {
		return leads
	}
	if c.fetch != nil {
		return leads
	}
	c.mu.Lock()
	visible := c.visibleLocked(stageID, len(leads))
	c.mu.Unlock()
	if visible < len(leads) {
		return leads[:visible]
	}
	return leads
}

// ShouldTrigger reports whether a scroll position is past the load-more
// threshold of the scrollable area.
func ShouldTrigger(scrollOffset, scrollableHeight float64) bool {
	if scrollableHeight <= 0 {
		return false
	}
	return scrollOffset/scrollableHeight >= scrollThreshold
}

// visibleLocked returns the stage's visible count, seeded with one page.
// Caller holds c.mu.
func (c *Controller) visibleLocked(stageID uuid.UUID, inMemory int) int {
	visible, ok := c.visible[stageID]
	if !ok {
		visible = c.pageSize
		if visible > inMemory {
			visible = inMemory
		}
		c.visible[stageID] = visible
	}
	return visible
}

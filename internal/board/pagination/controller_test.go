package pagination

import (
	"context"
	"errors"
	"testing"

	"funnelboard_backend/internal/board/cache"
	"funnelboard_backend/internal/board/coordinator"
	"funnelboard_backend/internal/board/domain"
	"funnelboard_backend/platform/clock"
	"funnelboard_backend/platform/logger"

	"github.com/google/uuid"
)

func makeLeads(stageID uuid.UUID, n int) []domain.Lead {
	leads := make([]domain.Lead, 0, n)
	for i := 0; i < n; i++ {
		leads = append(leads, domain.Lead{ID: uuid.New(), StageID: stageID, OrderPosition: i})
	}
	return leads
}

type fetchRecorder struct {
	calls   int
	page    []domain.Lead
	total   int
	err     error
	entered chan struct{}
	block   chan struct{}
}

func (f *fetchRecorder) fetch(ctx context.Context, stageID uuid.UUID, offset, limit int) ([]domain.Lead, int, error) {
	f.calls++
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.block != nil {
		<-f.block
	}
	return f.page, f.total, f.err
}

func newTestController(fetch FetchPage) (*Controller, *cache.BoardCache, *coordinator.Coordinator) {
	coord := coordinator.New(clock.NewVirtual(), logger.New("development"))
	boardCache := cache.New()
	return New(coord, boardCache, fetch, 0), boardCache, coord
}

func TestLoadMoreFetchesNextPage(t *testing.T) {
	stageID := uuid.New()
	rec := &fetchRecorder{page: makeLeads(stageID, 10), total: 35}

	c, boardCache, _ := newTestController(rec.fetch)
	boardCache.ReplaceStageLeads(stageID, makeLeads(stageID, 25))
	boardCache.SetTotal(stageID, 35)

	if !c.HasMore(stageID) {
		t.Fatalf("expected more rows with 25 of 35 in memory")
	}
	if err := c.LoadMore(context.Background(), stageID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.calls != 1 {
		t.Fatalf("expected exactly one fetch, got %d", rec.calls)
	}
	if got := boardCache.StageLeadCount(stageID); got != 35 {
		t.Fatalf("expected 35 rows in memory after the page landed, got %d", got)
	}
	if c.HasMore(stageID) {
		t.Fatalf("expected no more rows once the total is in memory")
	}
}

func TestLoadMoreIsNoOpWhenEverythingIsLoaded(t *testing.T) {
	stageID := uuid.New()
	rec := &fetchRecorder{}

	c, boardCache, _ := newTestController(rec.fetch)
	boardCache.ReplaceStageLeads(stageID, makeLeads(stageID, 8))
	boardCache.SetTotal(stageID, 8)

	if err := c.LoadMore(context.Background(), stageID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.calls != 0 {
		t.Fatalf("expected no fetch when the stage is fully loaded, got %d", rec.calls)
	}
}

func TestLoadMoreSurfacesFetchErrors(t *testing.T) {
	stageID := uuid.New()
	rec := &fetchRecorder{err: errors.New("boom"), total: 50}

	c, boardCache, coord := newTestController(rec.fetch)
	boardCache.ReplaceStageLeads(stageID, makeLeads(stageID, 25))
	boardCache.SetTotal(stageID, 50)

	if err := c.LoadMore(context.Background(), stageID); err == nil {
		t.Fatalf("expected fetch error to surface")
	}
	if coord.State().IsLoadingMore {
		t.Fatalf("expected IsLoadingMore to clear after a failed fetch")
	}

	// A later call must not stay wedged on the loading flag.
	rec.err = nil
	rec.page = makeLeads(stageID, 5)
	rec.total = 50
	if err := c.LoadMore(context.Background(), stageID); err != nil {
		t.Fatalf("unexpected error on retry: %v", err)
	}
	if rec.calls != 2 {
		t.Fatalf("expected the retry to fetch again, got %d calls", rec.calls)
	}
}

func TestLoadMoreWhileFetchPendingIsNoOp(t *testing.T) {
	stageID := uuid.New()
	rec := &fetchRecorder{
		page:    makeLeads(stageID, 5),
		total:   50,
		entered: make(chan struct{}),
		block:   make(chan struct{}),
	}

	c, boardCache, _ := newTestController(rec.fetch)
	boardCache.ReplaceStageLeads(stageID, makeLeads(stageID, 25))
	boardCache.SetTotal(stageID, 50)

	done := make(chan error, 1)
	go func() { done <- c.LoadMore(context.Background(), stageID) }()
	<-rec.entered

	// The first fetch is in flight; a second call must not fetch again.
	if err := c.LoadMore(context.Background(), stageID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	close(rec.block)
	if err := <-done; err != nil {
		t.Fatalf("unexpected error from the pending load: %v", err)
	}
	if rec.calls != 1 {
		t.Fatalf("expected exactly one fetch for the rapid double call, got %d", rec.calls)
	}
	if got := boardCache.StageLeadCount(stageID); got != 30 {
		t.Fatalf("expected only the one page to land, got %d rows", got)
	}

	// The guard must release once the fetch settles.
	rec.entered = nil
	rec.block = nil
	if err := c.LoadMore(context.Background(), stageID); err != nil {
		t.Fatalf("unexpected error after the load settled: %v", err)
	}
	if rec.calls != 2 {
		t.Fatalf("expected the next call to fetch again, got %d calls", rec.calls)
	}
}

func TestConfiguredPageSizeDrivesReveal(t *testing.T) {
	stageID := uuid.New()
	coord := coordinator.New(clock.NewVirtual(), logger.New("development"))
	boardCache := cache.New()
	c := New(coord, boardCache, nil, 10)
	boardCache.ReplaceStageLeads(stageID, makeLeads(stageID, 25))

	if got := c.PageSize(); got != 10 {
		t.Fatalf("expected the configured page size, got %d", got)
	}
	if got := len(c.VisibleLeads(stageID)); got != 10 {
		t.Fatalf("expected the first window to match the configured size, got %d", got)
	}
	if err := c.LoadMore(context.Background(), stageID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := len(c.VisibleLeads(stageID)); got != 20 {
		t.Fatalf("expected the reveal to grow by the configured size, got %d", got)
	}
}

func TestLoadMoreBlockedByActiveFilters(t *testing.T) {
	stageID := uuid.New()
	rec := &fetchRecorder{}

	c, boardCache, coord := newTestController(rec.fetch)
	boardCache.ReplaceStageLeads(stageID, makeLeads(stageID, 25))
	boardCache.SetTotal(stageID, 100)

	coord.EmitPriority(domain.FilterApply{Filters: domain.LeadFilters{Search: "x"}}, "test", domain.PriorityImmediate)

	if err := c.LoadMore(context.Background(), stageID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.calls != 0 {
		t.Fatalf("expected no fetch while filters are active, got %d", rec.calls)
	}
}

func TestFallbackModeRevealsBufferedRowsOnly(t *testing.T) {
	stageID := uuid.New()

	c, boardCache, _ := newTestController(nil)
	boardCache.ReplaceStageLeads(stageID, makeLeads(stageID, 60))

	if got := len(c.VisibleLeads(stageID)); got != DefaultPageSize {
		t.Fatalf("expected first window of %d rows, got %d", DefaultPageSize, got)
	}
	if !c.HasMore(stageID) {
		t.Fatalf("expected hidden buffered rows to count as more")
	}

	if err := c.LoadMore(context.Background(), stageID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := len(c.VisibleLeads(stageID)); got != 50 {
		t.Fatalf("expected 50 visible rows after one reveal, got %d", got)
	}

	if err := c.LoadMore(context.Background(), stageID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := len(c.VisibleLeads(stageID)); got != 60 {
		t.Fatalf("expected the reveal to clamp at the buffer size, got %d", got)
	}
	if c.HasMore(stageID) {
		t.Fatalf("expected no more rows once everything is revealed")
	}
}

func TestVisibleLeadsIgnoresWindowWhileFiltered(t *testing.T) {
	stageID := uuid.New()

	c, boardCache, coord := newTestController(nil)
	boardCache.ReplaceStageLeads(stageID, makeLeads(stageID, 40))

	coord.EmitPriority(domain.FilterApply{Filters: domain.LeadFilters{Search: "x"}}, "test", domain.PriorityImmediate)

	if got := len(c.VisibleLeads(stageID)); got != 40 {
		t.Fatalf("expected full set while filtered, got %d", got)
	}
}

func TestShouldTrigger(t *testing.T) {
	if ShouldTrigger(0, 0) {
		t.Fatalf("expected no trigger on an empty scroll area")
	}
	if ShouldTrigger(840, 1000) {
		t.Fatalf("expected no trigger below the threshold")
	}
	if !ShouldTrigger(850, 1000) {
		t.Fatalf("expected trigger at the threshold")
	}
	if !ShouldTrigger(1000, 1000) {
		t.Fatalf("expected trigger at the bottom")
	}
}

package placement

import (
	"context"
	"errors"
	"testing"
	"time"

	"funnelboard_backend/internal/board/cache"
	"funnelboard_backend/internal/board/coordinator"
	"funnelboard_backend/internal/board/domain"
	"funnelboard_backend/platform/apperr"
	"funnelboard_backend/platform/clock"
	"funnelboard_backend/platform/logger"

	"github.com/google/uuid"
)

// fakeStore records placement writes and can fail selectively.
type fakeStore struct {
	stageCalls    int
	positionCalls map[uuid.UUID]int
	bulkCalls     int

	failStage     error
	failBulk      error
	failPositions map[uuid.UUID]int // lead id -> how many calls fail before succeeding
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		positionCalls: make(map[uuid.UUID]int),
		failPositions: make(map[uuid.UUID]int),
	}
}

func (f *fakeStore) UpdateLeadStage(ctx context.Context, leadID, targetStageID uuid.UUID, position int) (domain.Lead, error) {
	f.stageCalls++
	if f.failStage != nil {
		return domain.Lead{}, f.failStage
	}
	return domain.Lead{ID: leadID, StageID: targetStageID, OrderPosition: position}, nil
}

func (f *fakeStore) UpdateLeadPosition(ctx context.Context, leadID uuid.UUID, position int) error {
	f.positionCalls[leadID]++
	if remaining := f.failPositions[leadID]; remaining > 0 {
		f.failPositions[leadID] = remaining - 1
		return errors.New("write failed")
	}
	return nil
}

func (f *fakeStore) BulkMoveLeads(ctx context.Context, leadIDs []uuid.UUID, targetStageID uuid.UUID) ([]domain.Lead, error) {
	f.bulkCalls++
	if f.failBulk != nil {
		return nil, f.failBulk
	}
	leads := make([]domain.Lead, 0, len(leadIDs))
	for i, id := range leadIDs {
		leads = append(leads, domain.Lead{ID: id, StageID: targetStageID, OrderPosition: i})
	}
	return leads, nil
}

type fixture struct {
	engine *Engine
	cache  *cache.BoardCache
	coord  *coordinator.Coordinator
	clock  *clock.Virtual
	store  *fakeStore

	repaired []uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		clock: clock.NewVirtual(),
		cache: cache.New(),
		store: newFakeStore(),
	}
	f.coord = coordinator.New(f.clock, logger.New("development"))
	f.engine = New(f.coord, f.cache, f.store, f.clock, logger.New("development"), func(stageID uuid.UUID) {
		f.repaired = append(f.repaired, stageID)
	})
	return f
}

func seedStage(boardCache *cache.BoardCache, stageID uuid.UUID, n int) []domain.Lead {
	leads := make([]domain.Lead, 0, n)
	for i := 0; i < n; i++ {
		leads = append(leads, domain.Lead{ID: uuid.New(), StageID: stageID, OrderPosition: i})
	}
	boardCache.ReplaceStageLeads(stageID, leads)
	return leads
}

func idsOf(leads []domain.Lead) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(leads))
	for _, lead := range leads {
		ids = append(ids, lead.ID)
	}
	return ids
}

func TestReorderWithinStagePersistsEveryPosition(t *testing.T) {
	f := newFixture(t)
	stageID := uuid.New()
	leads := seedStage(f.cache, stageID, 4)

	if err := f.engine.StartDrag(leads[0].ID); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}
	if err := f.engine.Drop(context.Background(), DropTarget{LeadID: &leads[2].ID}); err != nil {
		t.Fatalf("unexpected drop error: %v", err)
	}

	got := f.cache.StageLeads(stageID)
	want := []uuid.UUID{leads[1].ID, leads[2].ID, leads[0].ID, leads[3].ID}
	for i, id := range want {
		if got[i].ID != id {
			t.Fatalf("expected lead %s at index %d, got %s", id, i, got[i].ID)
		}
		if got[i].OrderPosition != i {
			t.Fatalf("expected dense position %d, got %d", i, got[i].OrderPosition)
		}
	}
	if len(f.store.positionCalls) != 4 {
		t.Fatalf("expected a position write per lead, got %d", len(f.store.positionCalls))
	}
	if f.coord.State().IsProcessingDnD {
		t.Fatalf("expected drag processing flag cleared after settle")
	}
}

func TestReorderSamePositionIsNoOp(t *testing.T) {
	f := newFixture(t)
	stageID := uuid.New()
	leads := seedStage(f.cache, stageID, 3)

	if err := f.engine.StartDrag(leads[1].ID); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}
	if err := f.engine.Drop(context.Background(), DropTarget{LeadID: &leads[1].ID}); err != nil {
		t.Fatalf("expected same-position drop to be a no-op, got %v", err)
	}
	if len(f.store.positionCalls) != 0 {
		t.Fatalf("expected no persistence calls for a no-op, got %d", len(f.store.positionCalls))
	}
}

func TestReorderRollsBackWhenEveryWriteFails(t *testing.T) {
	f := newFixture(t)
	stageID := uuid.New()
	leads := seedStage(f.cache, stageID, 3)
	before := idsOf(f.cache.StageLeads(stageID))
	for _, lead := range leads {
		f.store.failPositions[lead.ID] = 2 // first pass and retry both fail
	}

	if err := f.engine.StartDrag(leads[0].ID); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}
	err := f.engine.Drop(context.Background(), DropTarget{LeadID: &leads[2].ID})
	if !apperr.Is(err, apperr.KindInternal) {
		t.Fatalf("expected an internal error when every write fails, got %v", err)
	}

	after := idsOf(f.cache.StageLeads(stageID))
	for i := range before {
		if before[i] != after[i] {
			t.Fatalf("expected rollback to restore pre-drop order at index %d", i)
		}
	}
	if len(f.repaired) != 1 || f.repaired[0] != stageID {
		t.Fatalf("expected a repair request for the stage, got %v", f.repaired)
	}
}

func TestReorderPartialFailureRetriesThenReports(t *testing.T) {
	f := newFixture(t)
	stageID := uuid.New()
	leads := seedStage(f.cache, stageID, 4)
	// One lead fails both the first pass and the retry; the rest succeed.
	f.store.failPositions[leads[3].ID] = 2

	if err := f.engine.StartDrag(leads[0].ID); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}
	err := f.engine.Drop(context.Background(), DropTarget{LeadID: &leads[2].ID})
	if !apperr.Is(err, apperr.KindPartialFailure) {
		t.Fatalf("expected a partial failure, got %v", err)
	}
	if f.store.positionCalls[leads[3].ID] != 2 {
		t.Fatalf("expected the failing row to be retried once, got %d calls", f.store.positionCalls[leads[3].ID])
	}
	if len(f.repaired) != 1 {
		t.Fatalf("expected a repair request after the partial failure")
	}
}

func TestMoveAcrossStagesSplicesAndRenumbersBothSides(t *testing.T) {
	f := newFixture(t)
	sourceID, targetID := uuid.New(), uuid.New()
	source := seedStage(f.cache, sourceID, 3)
	target := seedStage(f.cache, targetID, 2)

	if err := f.engine.StartDrag(source[1].ID); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}
	if err := f.engine.Drop(context.Background(), DropTarget{LeadID: &target[0].ID}); err != nil {
		t.Fatalf("unexpected drop error: %v", err)
	}

	gotSource := f.cache.StageLeads(sourceID)
	if len(gotSource) != 2 {
		t.Fatalf("expected source stage to shrink to 2, got %d", len(gotSource))
	}
	gotTarget := f.cache.StageLeads(targetID)
	if len(gotTarget) != 3 {
		t.Fatalf("expected target stage to grow to 3, got %d", len(gotTarget))
	}
	if gotTarget[0].ID != source[1].ID {
		t.Fatalf("expected the moved lead spliced in at the target index")
	}
	if gotTarget[0].StageID != targetID {
		t.Fatalf("expected the moved lead to carry the target stage id")
	}
	for i, lead := range gotTarget {
		if lead.OrderPosition != i {
			t.Fatalf("expected dense target positions, got %d at %d", lead.OrderPosition, i)
		}
	}
	if f.store.stageCalls != 1 {
		t.Fatalf("expected one stage write, got %d", f.store.stageCalls)
	}
}

func TestMoveAcrossStagesRollsBackOnFailure(t *testing.T) {
	f := newFixture(t)
	sourceID, targetID := uuid.New(), uuid.New()
	source := seedStage(f.cache, sourceID, 2)
	seedStage(f.cache, targetID, 2)
	f.store.failStage = errors.New("write failed")

	beforeSource := idsOf(f.cache.StageLeads(sourceID))
	beforeTarget := idsOf(f.cache.StageLeads(targetID))

	if err := f.engine.StartDrag(source[0].ID); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}
	err := f.engine.Drop(context.Background(), DropTarget{StageID: &targetID})
	if !apperr.Is(err, apperr.KindInternal) {
		t.Fatalf("expected an internal error, got %v", err)
	}

	afterSource := idsOf(f.cache.StageLeads(sourceID))
	afterTarget := idsOf(f.cache.StageLeads(targetID))
	if len(afterSource) != len(beforeSource) || len(afterTarget) != len(beforeTarget) {
		t.Fatalf("expected rollback to restore both stages")
	}
	for i := range beforeSource {
		if beforeSource[i] != afterSource[i] {
			t.Fatalf("expected source order restored at index %d", i)
		}
	}
}

func TestMoveAcrossStagesPreservesForbidden(t *testing.T) {
	f := newFixture(t)
	sourceID, targetID := uuid.New(), uuid.New()
	source := seedStage(f.cache, sourceID, 1)
	seedStage(f.cache, targetID, 0)
	f.store.failStage = apperr.Forbidden("lead is outside your scope")

	if err := f.engine.StartDrag(source[0].ID); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}
	err := f.engine.Drop(context.Background(), DropTarget{StageID: &targetID})
	if !apperr.Is(err, apperr.KindForbidden) {
		t.Fatalf("expected the forbidden kind to survive, got %v", err)
	}
}

func TestDropWithoutTargetCancelsSilently(t *testing.T) {
	f := newFixture(t)
	stageID := uuid.New()
	leads := seedStage(f.cache, stageID, 2)
	before := idsOf(f.cache.StageLeads(stageID))

	if err := f.engine.StartDrag(leads[0].ID); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}
	if err := f.engine.Drop(context.Background(), DropTarget{}); err != nil {
		t.Fatalf("expected a targetless drop to cancel silently, got %v", err)
	}
	after := idsOf(f.cache.StageLeads(stageID))
	for i := range before {
		if before[i] != after[i] {
			t.Fatalf("expected no mutation on a cancelled drop")
		}
	}
	if f.store.stageCalls != 0 || len(f.store.positionCalls) != 0 {
		t.Fatalf("expected no persistence calls on a cancelled drop")
	}
}

func TestDropOnVanishedLeadAborts(t *testing.T) {
	f := newFixture(t)
	stageID := uuid.New()
	leads := seedStage(f.cache, stageID, 2)

	if err := f.engine.StartDrag(leads[0].ID); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}
	f.cache.RemoveLead(leads[0].ID)

	err := f.engine.Drop(context.Background(), DropTarget{StageID: &stageID})
	if !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("expected not-found for a vanished lead, got %v", err)
	}
	if f.coord.State().IsProcessingDnD {
		t.Fatalf("expected drag processing flag cleared after the abort")
	}
}

func TestStartDragRefusedWhileLoading(t *testing.T) {
	f := newFixture(t)
	stageID := uuid.New()
	leads := seedStage(f.cache, stageID, 1)

	f.coord.EmitPriority(domain.ScrollLoadMore{StageID: stageID}, "test", domain.PriorityImmediate)

	err := f.engine.StartDrag(leads[0].ID)
	if !apperr.Is(err, apperr.KindConflict) {
		t.Fatalf("expected a conflict while a load is in flight, got %v", err)
	}
}

func TestSelectionDragMovesWholeSelection(t *testing.T) {
	f := newFixture(t)
	sourceID, targetID := uuid.New(), uuid.New()
	source := seedStage(f.cache, sourceID, 3)
	seedStage(f.cache, targetID, 1)

	f.coord.EmitPriority(domain.SelectionAdd{LeadID: source[0].ID}, "a", domain.PriorityImmediate)
	f.coord.EmitPriority(domain.SelectionAdd{LeadID: source[2].ID}, "b", domain.PriorityImmediate)

	if err := f.engine.StartDrag(source[0].ID); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}
	if err := f.engine.Drop(context.Background(), DropTarget{StageID: &targetID}); err != nil {
		t.Fatalf("unexpected drop error: %v", err)
	}

	if f.store.bulkCalls != 1 {
		t.Fatalf("expected one bulk write for a selection drag, got %d", f.store.bulkCalls)
	}
	if got := len(f.cache.StageLeads(targetID)); got != 3 {
		t.Fatalf("expected target to hold the selection plus its own lead, got %d", got)
	}
	if got := len(f.cache.StageLeads(sourceID)); got != 1 {
		t.Fatalf("expected source to keep only the unselected lead, got %d", got)
	}
}

func TestMoveManyRollsBackAllStagesOnFailure(t *testing.T) {
	f := newFixture(t)
	stageA, stageB, targetID := uuid.New(), uuid.New(), uuid.New()
	leadsA := seedStage(f.cache, stageA, 2)
	leadsB := seedStage(f.cache, stageB, 2)
	seedStage(f.cache, targetID, 0)
	f.store.failBulk = errors.New("write failed")

	err := f.engine.MoveMany(context.Background(), []uuid.UUID{leadsA[0].ID, leadsB[1].ID}, targetID)
	if !apperr.Is(err, apperr.KindInternal) {
		t.Fatalf("expected an internal error, got %v", err)
	}
	if got := len(f.cache.StageLeads(stageA)); got != len(leadsA) {
		t.Fatalf("expected stage A restored, got %d leads", got)
	}
	if got := len(f.cache.StageLeads(stageB)); got != len(leadsB) {
		t.Fatalf("expected stage B restored, got %d leads", got)
	}
	if got := len(f.cache.StageLeads(targetID)); got != 0 {
		t.Fatalf("expected target restored to empty, got %d leads", got)
	}
}

func TestDragCooldownClearsAfterDelay(t *testing.T) {
	f := newFixture(t)
	stageID := uuid.New()
	leads := seedStage(f.cache, stageID, 2)

	if err := f.engine.StartDrag(leads[0].ID); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}
	if err := f.engine.Drop(context.Background(), DropTarget{LeadID: &leads[1].ID}); err != nil {
		t.Fatalf("unexpected drop error: %v", err)
	}

	if !f.engine.DragActive(leads[0].ID) {
		t.Fatalf("expected the drag marker to survive the drop")
	}
	f.clock.Advance(3 * time.Second)
	if f.engine.DragActive(leads[0].ID) {
		t.Fatalf("expected the drag marker cleared after the cool-down")
	}
}

func TestReassertRestoresOptimisticOrderAfterMove(t *testing.T) {
	f := newFixture(t)
	sourceID, targetID := uuid.New(), uuid.New()
	source := seedStage(f.cache, sourceID, 1)
	seedStage(f.cache, targetID, 1)

	if err := f.engine.StartDrag(source[0].ID); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}
	if err := f.engine.Drop(context.Background(), DropTarget{StageID: &targetID}); err != nil {
		t.Fatalf("unexpected drop error: %v", err)
	}
	asserted := idsOf(f.cache.StageLeads(targetID))

	// A late stream patch rewrites the column; the reassert puts it back.
	f.cache.ReplaceStageLeads(targetID, nil)
	f.clock.Advance(500 * time.Millisecond)

	got := idsOf(f.cache.StageLeads(targetID))
	if len(got) != len(asserted) {
		t.Fatalf("expected reassert to restore %d leads, got %d", len(asserted), len(got))
	}
	for i := range asserted {
		if got[i] != asserted[i] {
			t.Fatalf("expected reasserted order preserved at index %d", i)
		}
	}
}

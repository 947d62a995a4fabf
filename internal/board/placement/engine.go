package placement

import (
	"context"
	"sync"
	"time"

	"funnelboard_backend/internal/board/cache"
	"funnelboard_backend/internal/board/coordinator"
	"funnelboard_backend/internal/board/domain"
	"funnelboard_backend/platform/apperr"
	"funnelboard_backend/platform/clock"
	"funnelboard_backend/platform/logger"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const (
	// reassertDelay re-applies a just-persisted cross-stage order so a
	// concurrent realtime patch cannot flicker it back before the backend's
	// own row lands in the change stream.
	reassertDelay = 500 * time.Millisecond
	// dragCooldown keeps drag-active markers set after a drop, for the same
	// reason.
	dragCooldown = 3 * time.Second
)

// Store persists placement mutations under the session's access scope.
type Store interface {
	UpdateLeadStage(ctx context.Context, leadID, targetStageID uuid.UUID, position int) (domain.Lead, error)
	UpdateLeadPosition(ctx context.Context, leadID uuid.UUID, position int) error
	BulkMoveLeads(ctx context.Context, leadIDs []uuid.UUID, targetStageID uuid.UUID) ([]domain.Lead, error)
}

// Phase is the drag gesture state.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseDragging   Phase = "dragging"
	PhaseDropped    Phase = "dropped"
	PhasePersisting Phase = "persisting"
	PhaseSettled    Phase = "settled"
	PhaseRolledBack Phase = "rolled_back"
)

// DropTarget is what the lead was released over: a stage column or another
// lead, whose owning stage is then used.
type DropTarget struct {
	StageID *uuid.UUID
	LeadID  *uuid.UUID
}

type dragState struct {
	lead          domain.Lead
	sourceStageID uuid.UUID
	phase         Phase
	preview       map[uuid.UUID][]domain.Lead
}

// Engine is the drag/drop state machine of one board session. The optimistic
// local mutation is always visible before its persistence call is issued,
// and a failed call fully restores pre-drop state before an error surfaces.
type Engine struct {
	mu     sync.Mutex
	coord  *coordinator.Coordinator
	cache  *cache.BoardCache
	store  Store
	clock  clock.Clock
	log    *logger.Logger
	repair func(stageID uuid.UUID)

	active     *dragState
	selection  map[uuid.UUID]struct{}
	dragActive map[uuid.UUID]bool
}

// New creates a placement engine. repair, if non-nil, is invoked with a
// stage id after a partial reorder failure so server-side positions can be
// re-densified in the background.
func New(coord *coordinator.Coordinator, boardCache *cache.BoardCache, store Store, clk clock.Clock, log *logger.Logger, repair func(uuid.UUID)) *Engine {
	e := &Engine{
		coord:      coord,
		cache:      boardCache,
		store:      store,
		clock:      clk,
		log:        log,
		repair:     repair,
		selection:  make(map[uuid.UUID]struct{}),
		dragActive: make(map[uuid.UUID]bool),
	}
	coord.Subscribe(domain.EventSelectionAdd, e.onSelectionEvent)
	coord.Subscribe(domain.EventSelectionRemove, e.onSelectionEvent)
	coord.Subscribe(domain.EventSelectionClear, e.onSelectionEvent)
	return e
}

func (e *Engine) onSelectionEvent(event domain.FunnelEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch payload := event.Payload.(type) {
	case domain.SelectionAdd:
		e.selection[payload.LeadID] = struct{}{}
	case domain.SelectionRemove:
		delete(e.selection, payload.LeadID)
	case domain.SelectionClear:
		e.selection = make(map[uuid.UUID]struct{})
	}
}

// StartDrag begins a gesture on a lead. The lead is located by scanning all
// stage windows; refusal (load in flight, drag already active) is a
// conflict, a vanished lead is not-found.
func (e *Engine) StartDrag(leadID uuid.UUID) error {
	if !e.coord.CanExecute(domain.ActionDrag) {
		return apperr.Conflict("another board operation is in flight")
	}

	lead, stageID, ok := e.cache.FindLead(leadID)
	if !ok {
		return apperr.NotFound("lead not found on the board")
	}

	e.mu.Lock()
	e.active = &dragState{lead: lead, sourceStageID: stageID, phase: PhaseDragging}
	e.dragActive[leadID] = true
	e.mu.Unlock()

	e.coord.Emit(domain.DragStart{LeadID: leadID}, "placement")
	return nil
}

// Hover recomputes the visual preview for a cross-stage hover target. The
// preview is re-derived on every target change and never persisted.
func (e *Engine) Hover(targetStageID uuid.UUID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active == nil || e.active.phase != PhaseDragging {
		return
	}
	if targetStageID == e.active.sourceStageID {
		e.active.preview = nil
		return
	}

	source := removeLead(e.cache.StageLeads(e.active.sourceStageID), e.active.lead.ID)
	moved := e.active.lead
	moved.StageID = targetStageID
	target := append(e.cache.StageLeads(targetStageID), moved)

	e.active.preview = map[uuid.UUID][]domain.Lead{
		e.active.sourceStageID: source,
		targetStageID:          target,
	}
}

// PreviewLeads returns the hover-preview window for a stage, or the cached
// window when the stage is not part of the current preview.
func (e *Engine) PreviewLeads(stageID uuid.UUID) []domain.Lead {
	e.mu.Lock()
	if e.active != nil && e.active.preview != nil {
		if leads, ok := e.active.preview[stageID]; ok {
			out := append([]domain.Lead(nil), leads...)
			e.mu.Unlock()
			return out
		}
	}
	e.mu.Unlock()
	return e.cache.StageLeads(stageID)
}

// Drop resolves the target and runs the matching mutation path. An
// unresolvable target cancels the gesture with no mutation and no call.
func (e *Engine) Drop(ctx context.Context, target DropTarget) error {
	e.mu.Lock()
	state := e.active
	e.mu.Unlock()
	if state == nil {
		return apperr.Conflict("no drag in progress")
	}

	// The dragged lead may have been deleted concurrently; abort without
	// mutation.
	lead, currentStageID, ok := e.cache.FindLead(state.lead.ID)
	if !ok {
		e.finish(state.lead.ID, PhaseRolledBack, true)
		return apperr.NotFound("dragged lead no longer exists")
	}

	targetStageID, targetLeadID, ok := e.resolveTarget(target)
	if !ok {
		e.finish(lead.ID, PhaseIdle, true)
		return nil
	}

	e.mu.Lock()
	state.phase = PhaseDropped
	state.preview = nil
	state.lead = lead
	state.sourceStageID = currentStageID
	e.mu.Unlock()

	var err error
	if targetStageID == currentStageID {
		err = e.reorderWithinStage(ctx, state, targetLeadID)
	} else {
		err = e.moveAcrossStages(ctx, state, targetStageID, targetLeadID)
	}

	cancelled := err != nil
	phase := PhaseSettled
	if cancelled {
		phase = PhaseRolledBack
	}
	e.finish(lead.ID, phase, cancelled)
	return err
}

// resolveTarget maps a drop target to its stage. Dropping onto a lead
// resolves to that lead's owning stage.
func (e *Engine) resolveTarget(target DropTarget) (uuid.UUID, *uuid.UUID, bool) {
	if target.LeadID != nil {
		_, stageID, ok := e.cache.FindLead(*target.LeadID)
		if !ok {
			return uuid.Nil, nil, false
		}
		return stageID, target.LeadID, true
	}
	if target.StageID != nil {
		return *target.StageID, nil, true
	}
	return uuid.Nil, nil, false
}

// reorderWithinStage applies the classic array move, renumbers the whole
// column densely, and persists one position update per lead concurrently.
// Failed rows are retried once; any remaining failure rolls the entire
// column back.
func (e *Engine) reorderWithinStage(ctx context.Context, state *dragState, overLeadID *uuid.UUID) error {
	stageID := state.sourceStageID
	leads := e.cache.StageLeads(stageID)

	activeIndex := indexOf(leads, state.lead.ID)
	overIndex := len(leads) - 1
	if overLeadID != nil {
		overIndex = indexOf(leads, *overLeadID)
	}
	if activeIndex < 0 || overIndex < 0 || activeIndex == overIndex {
		// Same position or unresolvable indices: a no-op, not an error.
		return nil
	}

	cmd := newReorderCommand(e.cache, stageID, activeIndex, overIndex)
	cmd.Apply(e.cache)
	e.setPhase(state, PhasePersisting)

	updated := e.cache.StageLeads(stageID)
	failed := e.persistPositions(ctx, updated)
	if len(failed) > 0 {
		failed = e.retryPositions(ctx, failed)
	}
	if len(failed) == 0 {
		return nil
	}

	cmd.Undo(e.cache)
	if e.repair != nil {
		// Some rows may already be written; schedule a server-side
		// re-densify.
		e.repair(stageID)
	}
	if len(failed) < len(updated) {
		return apperr.PartialFailure("some lead positions could not be saved").
			WithDetails(failedIDs(failed))
	}
	return apperr.Wrap(apperr.KindInternal, "reorder could not be saved", failed[0].err)
}

type positionFailure struct {
	lead domain.Lead
	err  error
}

func (e *Engine) persistPositions(ctx context.Context, leads []domain.Lead) []positionFailure {
	var mu sync.Mutex
	var failed []positionFailure

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, lead := range leads {
		lead := lead
		g.Go(func() error {
			if err := e.store.UpdateLeadPosition(gctx, lead.ID, lead.OrderPosition); err != nil {
				mu.Lock()
				failed = append(failed, positionFailure{lead: lead, err: err})
				mu.Unlock()
			}
			// Failures are collected, not returned: the batch always runs to
			// completion so the failure set is complete.
			return nil
		})
	}
	_ = g.Wait()
	return failed
}

func (e *Engine) retryPositions(ctx context.Context, failed []positionFailure) []positionFailure {
	var remaining []positionFailure
	for _, f := range failed {
		if err := e.store.UpdateLeadPosition(ctx, f.lead.ID, f.lead.OrderPosition); err != nil {
			remaining = append(remaining, positionFailure{lead: f.lead, err: err})
		}
	}
	return remaining
}

// moveAcrossStages splices the lead (or the whole selection containing it)
// into the target stage, persists, and re-asserts the optimistic order
// shortly after success.
func (e *Engine) moveAcrossStages(ctx context.Context, state *dragState, targetStageID uuid.UUID, targetLeadID *uuid.UUID) error {
	if ids := e.selectionWith(state.lead.ID); len(ids) > 1 {
		return e.bulkMove(ctx, state, ids, targetStageID)
	}

	index := len(e.cache.StageLeads(targetStageID))
	if targetLeadID != nil {
		if i := indexOf(e.cache.StageLeads(targetStageID), *targetLeadID); i >= 0 {
			index = i
		}
	}

	cmd := newMoveCommand(e.cache, state.lead, state.sourceStageID, targetStageID, index)
	cmd.Apply(e.cache)
	e.setPhase(state, PhasePersisting)

	if _, err := e.store.UpdateLeadStage(ctx, state.lead.ID, targetStageID, index); err != nil {
		cmd.Undo(e.cache)
		if apperr.Is(err, apperr.KindForbidden) {
			return err
		}
		return apperr.Wrap(apperr.KindInternal, "move could not be saved", err)
	}

	e.scheduleReassert(targetStageID)
	return nil
}

// MoveMany moves an explicit set of leads to a stage without a drag
// gesture, with the same optimistic apply and rollback as a drop.
func (e *Engine) MoveMany(ctx context.Context, leadIDs []uuid.UUID, targetStageID uuid.UUID) error {
	if len(leadIDs) == 0 {
		return apperr.BadRequest("no leads to move")
	}
	if !e.coord.CanExecute(domain.ActionDrag) {
		return apperr.Conflict("another board operation is in flight")
	}

	lead, stageID, ok := e.cache.FindLead(leadIDs[0])
	if !ok {
		return apperr.NotFound("selected lead no longer exists")
	}

	state := &dragState{lead: lead, sourceStageID: stageID, phase: PhaseDropped}
	e.mu.Lock()
	e.active = state
	e.dragActive[lead.ID] = true
	e.mu.Unlock()
	e.coord.Emit(domain.DragStart{LeadID: lead.ID}, "placement")

	err := e.bulkMove(ctx, state, leadIDs, targetStageID)

	phase := PhaseSettled
	if err != nil {
		phase = PhaseRolledBack
	}
	e.finish(lead.ID, phase, err != nil)
	return err
}

func (e *Engine) bulkMove(ctx context.Context, state *dragState, ids []uuid.UUID, targetStageID uuid.UUID) error {
	leads := make([]domain.Lead, 0, len(ids))
	for _, id := range ids {
		lead, _, ok := e.cache.FindLead(id)
		if !ok {
			return apperr.NotFound("selected lead no longer exists")
		}
		leads = append(leads, lead)
	}

	cmd := newBulkMoveCommand(e.cache, leads, targetStageID)
	cmd.Apply(e.cache)
	e.setPhase(state, PhasePersisting)

	if _, err := e.store.BulkMoveLeads(ctx, ids, targetStageID); err != nil {
		cmd.Undo(e.cache)
		if apperr.Is(err, apperr.KindForbidden) {
			return err
		}
		return apperr.Wrap(apperr.KindInternal, "bulk move could not be saved", err)
	}

	e.scheduleReassert(targetStageID)
	return nil
}

// scheduleReassert re-applies the current optimistic window once more a
// short delay later, guarding against a concurrent realtime patch
// overwriting the just-applied state.
func (e *Engine) scheduleReassert(stageID uuid.UUID) {
	asserted := e.cache.StageLeads(stageID)
	e.clock.AfterFunc(reassertDelay, func() {
		e.cache.ReplaceStageLeads(stageID, asserted)
	})
}

// finish ends the gesture. Drag-active markers outlive it by a cool-down so
// live-update races cannot flicker the just-finished mutation.
func (e *Engine) finish(leadID uuid.UUID, phase Phase, cancelled bool) {
	e.mu.Lock()
	if e.active != nil {
		e.active.phase = phase
	}
	e.active = nil
	e.mu.Unlock()

	e.coord.Emit(domain.DragEnd{LeadID: leadID, Cancelled: cancelled}, "placement")
	e.clock.AfterFunc(dragCooldown, func() {
		e.mu.Lock()
		delete(e.dragActive, leadID)
		e.mu.Unlock()
	})
}

// DragActive reports whether a lead still carries its drag marker (during
// the gesture or the post-drop cool-down).
func (e *Engine) DragActive(leadID uuid.UUID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dragActive[leadID]
}

// Phase returns the current gesture phase.
func (e *Engine) Phase() Phase {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active == nil {
		return PhaseIdle
	}
	return e.active.phase
}

// SelectedIDs returns the current multi-select set.
func (e *Engine) SelectedIDs() []uuid.UUID {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := make([]uuid.UUID, 0, len(e.selection))
	for id := range e.selection {
		ids = append(ids, id)
	}
	return ids
}

func (e *Engine) selectionWith(leadID uuid.UUID) []uuid.UUID {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.selection[leadID]; !ok {
		return nil
	}
	ids := make([]uuid.UUID, 0, len(e.selection))
	for id := range e.selection {
		ids = append(ids, id)
	}
	return ids
}

func (e *Engine) setPhase(state *dragState, phase Phase) {
	e.mu.Lock()
	state.phase = phase
	e.mu.Unlock()
}

func indexOf(leads []domain.Lead, id uuid.UUID) int {
	for i, lead := range leads {
		if lead.ID == id {
			return i
		}
	}
	return -1
}

func failedIDs(failures []positionFailure) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(failures))
	for _, f := range failures {
		ids = append(ids, f.lead.ID)
	}
	return ids
}

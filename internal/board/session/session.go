// Package session wires one board session per user: coordinator, cache,
// pagination, placement engine and change-stream listener all share the
// session's immutable access context.
package session

import (
	"context"
	"errors"
	"sync"

	"funnelboard_backend/internal/board/access"
	"funnelboard_backend/internal/board/cache"
	"funnelboard_backend/internal/board/coordinator"
	"funnelboard_backend/internal/board/domain"
	"funnelboard_backend/internal/board/pagination"
	"funnelboard_backend/internal/board/placement"
	"funnelboard_backend/internal/board/repository"
	"funnelboard_backend/internal/board/stream"
	"funnelboard_backend/internal/events"
	"funnelboard_backend/platform/apperr"
	"funnelboard_backend/platform/cdc"
	"funnelboard_backend/platform/clock"
	"funnelboard_backend/platform/logger"

	"github.com/google/uuid"
)

// Deps are the shared dependencies every session is built from.
type Deps struct {
	Repo       *repository.Repository
	Resolver   *access.Resolver
	Subscriber *cdc.Subscriber
	Bus        events.Bus
	Clock      clock.Clock
	Log        *logger.Logger

	// PageSize sizes every stage window; zero means the pagination default.
	PageSize int
}

// Manager owns the live sessions, one per user.
type Manager struct {
	deps Deps

	mu       sync.Mutex
	sessions map[uuid.UUID]*Session
}

// NewManager creates an empty session manager.
func NewManager(deps Deps) *Manager {
	return &Manager{deps: deps, sessions: make(map[uuid.UUID]*Session)}
}

// Session returns the caller's board session, creating and starting it on
// first use. The access context is resolved once here and never widened.
func (m *Manager) Session(ctx context.Context, userID uuid.UUID) (*Session, error) {
	m.mu.Lock()
	if s, ok := m.sessions[userID]; ok {
		m.mu.Unlock()
		return s, nil
	}
	m.mu.Unlock()

	ac, err := m.deps.Resolver.Resolve(ctx, userID)
	if err != nil {
		return nil, err
	}

	s := newSession(m.deps, ac)
	s.listener.Start(context.WithoutCancel(ctx))

	m.mu.Lock()
	if existing, ok := m.sessions[userID]; ok {
		m.mu.Unlock()
		s.listener.Stop()
		return existing, nil
	}
	m.sessions[userID] = s
	m.mu.Unlock()
	return s, nil
}

// Close stops every live session's listener.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		s.listener.Stop()
	}
	m.sessions = make(map[uuid.UUID]*Session)
}

// Session is one user's board: its state and the components operating on it.
type Session struct {
	Access      access.Context
	Coordinator *coordinator.Coordinator
	Cache       *cache.BoardCache
	Pagination  *pagination.Controller
	Placement   *placement.Engine

	repo     *repository.Repository
	bus      events.Bus
	listener *stream.Listener
	log      *logger.Logger

	mu      sync.Mutex
	filters domain.LeadFilters
}

func newSession(deps Deps, ac access.Context) *Session {
	coord := coordinator.New(deps.Clock, deps.Log)
	boardCache := cache.New()

	s := &Session{
		Access:      ac,
		Coordinator: coord,
		Cache:       boardCache,
		repo:        deps.Repo,
		bus:         deps.Bus,
		log:         deps.Log,
	}

	s.Pagination = pagination.New(coord, boardCache, s.fetchPage, deps.PageSize)
	store := &scopedStore{repo: deps.Repo, ac: ac, bus: deps.Bus}
	s.Placement = placement.New(coord, boardCache, store, deps.Clock, deps.Log, s.requestReindex)
	s.listener = stream.New(deps.Subscriber, ac, boardCache, coord, deps.Log)

	coord.Subscribe(domain.EventFilterApply, s.onFilterEvent)
	coord.Subscribe(domain.EventFilterClear, s.onFilterEvent)
	return s
}

// StreamState exposes the listener connection state for status surfaces.
func (s *Session) StreamState() stream.ConnState {
	return s.listener.State()
}

// Filters returns the session's active UI-level filters.
func (s *Session) Filters() domain.LeadFilters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filters
}

// ApplyFilters activates UI-level filters. Refused while a drag is
// processing, per the coordinator policy table.
func (s *Session) ApplyFilters(filters domain.LeadFilters) error {
	if !s.Coordinator.CanExecute(domain.ActionFilter) {
		return apperr.Conflict("cannot change filters during a drag")
	}
	if filters.Empty() {
		s.Coordinator.Emit(domain.FilterClear{}, "session")
		return nil
	}
	s.Coordinator.Emit(domain.FilterApply{Filters: filters}, "session")
	return nil
}

func (s *Session) onFilterEvent(event domain.FunnelEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch payload := event.Payload.(type) {
	case domain.FilterApply:
		s.filters = payload.Filters
	case domain.FilterClear:
		s.filters = domain.LeadFilters{}
	}
}

// LoadStages fetches, validates and caches the funnel's stage list.
// Every returned row is re-checked by the access validator even though the
// query was already scoped.
func (s *Session) LoadStages(ctx context.Context, funnelID uuid.UUID) ([]repository.StageWithTotal, error) {
	rows, err := s.repo.ListStages(ctx, s.Access, funnelID)
	if err != nil {
		return nil, err
	}

	stages := make([]domain.Stage, 0, len(rows))
	kept := rows[:0]
	for _, row := range rows {
		if !access.ValidateStageAccess(s.Access, row.Stage) {
			s.log.Warn("stage row failed record-time validation", "stageId", row.ID)
			continue
		}
		stages = append(stages, row.Stage)
		s.Cache.SetTotal(row.ID, row.LeadTotal)
		kept = append(kept, row)
	}
	s.Cache.SetStages(stages)
	return kept, nil
}

// LoadStageLeads fetches, validates and caches the first window of a stage.
func (s *Session) LoadStageLeads(ctx context.Context, stageID uuid.UUID) ([]domain.Lead, error) {
	filters := s.Filters()
	limit := s.Pagination.PageSize()
	if !filters.Empty() {
		// Filtered views bypass pagination and expose the whole filtered set.
		limit = 0
	}

	leads, err := s.repo.ListStageLeads(ctx, s.Access, stageID, filters, limit, 0)
	if err != nil {
		return nil, err
	}
	leads = s.validateLeads(leads)

	total, err := s.repo.CountStageLeads(ctx, s.Access, stageID, filters)
	if err != nil {
		return nil, err
	}

	s.Cache.ReplaceStageLeads(stageID, leads)
	s.Cache.SetTotal(stageID, total)
	return leads, nil
}

// RenameStage retitles a stage under the session's scope. Fixed system
// stages refuse the rename at the repository layer.
func (s *Session) RenameStage(ctx context.Context, stageID uuid.UUID, title string) (domain.Stage, error) {
	stage, err := s.repo.RenameStage(ctx, s.Access, stageID, title)
	if err != nil {
		if errors.Is(err, repository.ErrStageNotFound) {
			return domain.Stage{}, apperr.NotFound("stage not found")
		}
		return domain.Stage{}, err
	}
	s.Cache.InvalidateStages()
	return stage, nil
}

// fetchPage is the pagination controller's server-paging callback. It runs
// unfiltered: pagination is disabled while filters are active.
func (s *Session) fetchPage(ctx context.Context, stageID uuid.UUID, offset, limit int) ([]domain.Lead, int, error) {
	leads, err := s.repo.ListStageLeads(ctx, s.Access, stageID, domain.LeadFilters{}, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	leads = s.validateLeads(leads)

	total, err := s.repo.CountStageLeads(ctx, s.Access, stageID, domain.LeadFilters{})
	if err != nil {
		return nil, 0, err
	}
	return leads, total, nil
}

func (s *Session) validateLeads(leads []domain.Lead) []domain.Lead {
	kept := leads[:0]
	for _, lead := range leads {
		if access.ValidateLeadAccess(s.Access, lead) {
			kept = append(kept, lead)
			continue
		}
		s.log.Warn("lead row failed record-time validation", "leadId", lead.ID)
	}
	return kept
}

func (s *Session) requestReindex(stageID uuid.UUID) {
	event := events.StageReindexRequested{StageID: stageID}
	event.BaseEvent = events.NewBaseEvent()
	s.bus.Publish(context.Background(), event)
}

// scopedStore binds the repository to one session's access context and
// publishes domain events after successful placement writes.
type scopedStore struct {
	repo *repository.Repository
	ac   access.Context
	bus  events.Bus
}

func (st *scopedStore) UpdateLeadStage(ctx context.Context, leadID, targetStageID uuid.UUID, position int) (domain.Lead, error) {
	before, err := st.repo.GetLead(ctx, leadID)
	if err != nil {
		return domain.Lead{}, mapNotFound(err)
	}

	lead, err := st.repo.UpdateLeadStage(ctx, st.ac, leadID, targetStageID, position)
	if err != nil {
		return domain.Lead{}, mapNotFound(err)
	}

	event := events.LeadMoved{
		LeadID:      leadID,
		FromStageID: before.StageID,
		ToStageID:   targetStageID,
		MovedBy:     st.ac.UserID,
	}
	event.BaseEvent = events.NewBaseEvent()
	st.bus.Publish(context.WithoutCancel(ctx), event)
	return lead, nil
}

func (st *scopedStore) UpdateLeadPosition(ctx context.Context, leadID uuid.UUID, position int) error {
	return mapNotFound(st.repo.UpdateLeadPosition(ctx, st.ac, leadID, position))
}

func (st *scopedStore) BulkMoveLeads(ctx context.Context, leadIDs []uuid.UUID, targetStageID uuid.UUID) ([]domain.Lead, error) {
	leads, err := st.repo.BulkMoveLeads(ctx, st.ac, leadIDs, targetStageID)
	if err != nil {
		return nil, mapNotFound(err)
	}

	event := events.LeadsBulkMoved{LeadIDs: leadIDs, ToStageID: targetStageID, MovedBy: st.ac.UserID}
	event.BaseEvent = events.NewBaseEvent()
	st.bus.Publish(context.WithoutCancel(ctx), event)
	return leads, nil
}

func mapNotFound(err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return apperr.NotFound("lead not found")
	}
	return err
}

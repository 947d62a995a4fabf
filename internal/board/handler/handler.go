// Package handler exposes the board over HTTP. Every route resolves the
// caller's session first; all scoping decisions already live inside it.
package handler

import (
	"net/http"
	"strings"

	"funnelboard_backend/internal/board/domain"
	"funnelboard_backend/internal/board/placement"
	"funnelboard_backend/internal/board/session"
	"funnelboard_backend/internal/board/transport"
	"funnelboard_backend/platform/httpkit"
	"funnelboard_backend/platform/phone"
	"funnelboard_backend/platform/sanitize"
	"funnelboard_backend/platform/validator"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	msgInvalidRequest   = "invalid request"
	msgValidationFailed = "validation failed"
	msgInvalidStageID   = "invalid stage ID"
	msgInvalidFunnelID  = "invalid funnel ID"
)

// Handler handles HTTP requests for the board.
type Handler struct {
	sessions *session.Manager
	val      *validator.Validator
}

// New creates a new board handler.
func New(sessions *session.Manager, val *validator.Validator) *Handler {
	return &Handler{sessions: sessions, val: val}
}

func (h *Handler) session(c *gin.Context) (*session.Session, bool) {
	identity := httpkit.MustGetIdentity(c)
	if identity == nil {
		return nil, false
	}
	s, err := h.sessions.Session(c.Request.Context(), identity.UserID())
	if httpkit.HandleError(c, err) {
		return nil, false
	}
	return s, true
}

// ListStages retrieves the funnel's stages with scoped lead totals.
// GET /api/v1/board/funnels/:funnelId/stages
func (h *Handler) ListStages(c *gin.Context) {
	funnelID, err := uuid.Parse(c.Param("funnelId"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidFunnelID, nil)
		return
	}
	s, ok := h.session(c)
	if !ok {
		return
	}

	rows, err := s.LoadStages(c.Request.Context(), funnelID)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, transport.NewStageResponses(rows))
}

// StageLeads retrieves the first window of a stage.
// GET /api/v1/board/stages/:stageId/leads
func (h *Handler) StageLeads(c *gin.Context) {
	stageID, err := uuid.Parse(c.Param("stageId"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidStageID, nil)
		return
	}
	s, ok := h.session(c)
	if !ok {
		return
	}

	if _, err := s.LoadStageLeads(c.Request.Context(), stageID); httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, h.stageWindow(s, stageID))
}

// LoadMore extends a stage's visible window by one page.
// POST /api/v1/board/stages/:stageId/load-more
func (h *Handler) LoadMore(c *gin.Context) {
	stageID, err := uuid.Parse(c.Param("stageId"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidStageID, nil)
		return
	}
	s, ok := h.session(c)
	if !ok {
		return
	}

	if err := s.Pagination.LoadMore(c.Request.Context(), stageID); httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, h.stageWindow(s, stageID))
}

// DragStart begins a drag gesture on a lead.
// POST /api/v1/board/drag/start
func (h *Handler) DragStart(c *gin.Context) {
	var req transport.DragStartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, err.Error())
		return
	}
	s, ok := h.session(c)
	if !ok {
		return
	}

	if err := s.Placement.StartDrag(req.LeadID); httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, gin.H{"phase": string(s.Placement.Phase())})
}

// DragHover updates the hover target and returns the visual preview of the
// hovered stage.
// POST /api/v1/board/drag/hover
func (h *Handler) DragHover(c *gin.Context) {
	var req transport.DragHoverRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, err.Error())
		return
	}
	s, ok := h.session(c)
	if !ok {
		return
	}

	s.Placement.Hover(req.StageID)
	leads := s.Placement.PreviewLeads(req.StageID)
	httpkit.OK(c, h.leadResponses(s, leads))
}

// DragDrop releases the dragged lead.
// POST /api/v1/board/drag/drop
func (h *Handler) DragDrop(c *gin.Context) {
	var req transport.DragDropRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	s, ok := h.session(c)
	if !ok {
		return
	}

	target := placement.DropTarget{StageID: req.StageID, LeadID: req.LeadID}
	if err := s.Placement.Drop(c.Request.Context(), target); httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, gin.H{"phase": string(s.Placement.Phase())})
}

// BulkMove moves an explicit set of leads to a stage.
// POST /api/v1/board/leads/bulk-move
func (h *Handler) BulkMove(c *gin.Context) {
	var req transport.BulkMoveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, err.Error())
		return
	}
	s, ok := h.session(c)
	if !ok {
		return
	}

	if err := s.Placement.MoveMany(c.Request.Context(), req.LeadIDs, req.TargetStageID); httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, gin.H{"moved": len(req.LeadIDs)})
}

// RenameStage retitles a stage.
// PATCH /api/v1/board/stages/:stageId
func (h *Handler) RenameStage(c *gin.Context) {
	stageID, err := uuid.Parse(c.Param("stageId"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidStageID, nil)
		return
	}
	var req transport.RenameStageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, err.Error())
		return
	}
	s, ok := h.session(c)
	if !ok {
		return
	}

	stage, err := s.RenameStage(c.Request.Context(), stageID, sanitize.Text(req.Title))
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, gin.H{"id": stage.ID, "title": stage.Title})
}

// Selection mutates the multi-select set.
// POST /api/v1/board/selection
func (h *Handler) Selection(c *gin.Context) {
	var req transport.SelectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, err.Error())
		return
	}
	s, ok := h.session(c)
	if !ok {
		return
	}

	if !s.Coordinator.CanExecute(domain.ActionSelect) {
		httpkit.Error(c, http.StatusConflict, "cannot change selection during a drag", nil)
		return
	}

	switch req.Action {
	case "add", "remove":
		if req.LeadID == nil {
			httpkit.Error(c, http.StatusBadRequest, "lead_id is required", nil)
			return
		}
		if req.Action == "add" {
			s.Coordinator.Emit(domain.SelectionAdd{LeadID: *req.LeadID}, "api")
		} else {
			s.Coordinator.Emit(domain.SelectionRemove{LeadID: *req.LeadID}, "api")
		}
	case "clear":
		s.Coordinator.Emit(domain.SelectionClear{}, "api")
	}
	httpkit.OK(c, gin.H{"status": "accepted"})
}

// ApplyFilters activates board-wide filters.
// PUT /api/v1/board/filters
func (h *Handler) ApplyFilters(c *gin.Context) {
	var req transport.ApplyFiltersRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, err.Error())
		return
	}
	s, ok := h.session(c)
	if !ok {
		return
	}

	filters := req.Filters()
	filters.Search = normalizeSearch(filters.Search)
	if err := s.ApplyFilters(filters); httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, gin.H{"status": "accepted"})
}

// ClearFilters removes all board-wide filters.
// DELETE /api/v1/board/filters
func (h *Handler) ClearFilters(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	if err := s.ApplyFilters(domain.LeadFilters{}); httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, gin.H{"status": "accepted"})
}

// Status summarizes the session's coordinator, gesture and stream state.
// GET /api/v1/board/status
func (h *Handler) Status(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}

	httpkit.OK(c, transport.BoardStatusResponse{
		State:       s.Coordinator.State(),
		Phase:       string(s.Placement.Phase()),
		StreamState: string(s.StreamState()),
		SelectedIDs: s.Placement.SelectedIDs(),
		Filters:     s.Filters(),
	})
}

func (h *Handler) stageWindow(s *session.Session, stageID uuid.UUID) transport.StageLeadsResponse {
	leads := s.Pagination.VisibleLeads(stageID)
	return transport.StageLeadsResponse{
		Leads:   h.leadResponses(s, leads),
		Total:   s.Cache.Total(stageID),
		HasMore: s.Pagination.HasMore(stageID),
	}
}

func (h *Handler) leadResponses(s *session.Session, leads []domain.Lead) []transport.LeadResponse {
	out := make([]transport.LeadResponse, 0, len(leads))
	for _, lead := range leads {
		out = append(out, transport.NewLeadResponse(lead, s.Placement.DragActive(lead.ID)))
	}
	return out
}

// normalizeSearch strips markup from search input and converts phone-shaped
// terms to E.164 so the ILIKE match hits the stored format. Anything that
// fails to parse as a phone number passes through unchanged.
func normalizeSearch(search string) string {
	trimmed := sanitize.StripHTML(strings.TrimSpace(search))
	if trimmed == "" {
		return trimmed
	}
	return phone.NormalizeE164(trimmed)
}

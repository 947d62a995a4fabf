package domain

// CoordinatorState is the advisory mutual-exclusion state of one board
// session. It is mutated only by the event coordinator and read by every
// other component through CanExecute checks.
type CoordinatorState struct {
	IsProcessingDnD  bool `json:"is_processing_dnd"`
	IsSelectionMode  bool `json:"is_selection_mode"`
	HasActiveFilters bool `json:"has_active_filters"`
	IsLoadingMore    bool `json:"is_loading_more"`
}

// Action names a cross-cutting operation gated by CoordinatorState.
type Action string

const (
	ActionDrag           Action = "dnd:move"
	ActionSelect         Action = "selection"
	ActionFilter         Action = "filter:apply"
	ActionInfiniteScroll Action = "scroll:infinite"
	ActionRealtimePatch  Action = "realtime:patch"
)

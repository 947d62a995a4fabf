// Package stream keeps the board cache fresh when other sessions mutate
// shared data. Server-side subscription filters are an optimization; the
// access validator is always the final gate, so cross-tenant changes can
// never invalidate a cache entry.
package stream

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"funnelboard_backend/internal/board/access"
	"funnelboard_backend/internal/board/cache"
	"funnelboard_backend/internal/board/coordinator"
	"funnelboard_backend/internal/board/domain"
	"funnelboard_backend/internal/board/repository"
	"funnelboard_backend/platform/cdc"
	"funnelboard_backend/platform/logger"

	"github.com/google/uuid"
)

// ConnState is the listener connection lifecycle state.
type ConnState string

const (
	StateConnecting   ConnState = "connecting"
	StateConnected    ConnState = "connected"
	StateDisconnected ConnState = "disconnected"
	StateError        ConnState = "error"
)

const (
	// maxInstanceSubscriptions bounds how many channel-scoped subscriptions
	// an operational context may open before falling back to an unfiltered
	// one.
	maxInstanceSubscriptions = 5

	reconnectBase = time.Second
	reconnectMax  = 30 * time.Second
)

// subscriptionSpec is one (table, optional filter) subscription to hold open.
type subscriptionSpec struct {
	table  string
	filter *cdc.FieldFilter
}

// Listener owns the change subscriptions of one board session.
type Listener struct {
	subscriber *cdc.Subscriber
	ac         access.Context
	cache      *cache.BoardCache
	coord      *coordinator.Coordinator
	log        *logger.Logger

	mu       sync.Mutex
	state    ConnState
	stop     chan struct{}
	stopOnce sync.Once
	done     sync.WaitGroup
}

// New creates a listener for one session's access context.
func New(subscriber *cdc.Subscriber, ac access.Context, boardCache *cache.BoardCache, coord *coordinator.Coordinator, log *logger.Logger) *Listener {
	return &Listener{
		subscriber: subscriber,
		ac:         ac,
		cache:      boardCache,
		coord:      coord,
		log:        log,
		state:      StateConnecting,
		stop:       make(chan struct{}),
	}
}

// Start opens one goroutine per planned subscription, each with automatic
// resubscription on drop.
func (l *Listener) Start(ctx context.Context) {
	for _, spec := range l.plan() {
		l.done.Add(1)
		go l.run(ctx, spec)
	}
}

// Stop tears down every subscription. Safe to call more than once.
func (l *Listener) Stop() {
	l.stopOnce.Do(func() { close(l.stop) })
	l.done.Wait()
	l.setState(StateDisconnected)
}

// State returns the current connection state. Consumers derive any
// human-readable status from it.
func (l *Listener) State() ConnState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// plan chooses the subscription strategy for the session's role. Admin
// subscriptions are server-filtered by tenant key, the one field the
// transport can filter on. An operational scope is an OR of three conditions
// no single-field filter can express, so it gets bounded channel-scoped
// subscriptions where possible and an unfiltered stream otherwise; the
// validator in the handler stays the security boundary either way.
func (l *Listener) plan() []subscriptionSpec {
	switch l.ac.Role {
	case domain.RoleAdmin:
		tenantFilter := &cdc.FieldFilter{Field: "created_by_user_id", Value: l.ac.TenantID.String()}
		return []subscriptionSpec{
			{table: repository.TableLeads, filter: tenantFilter},
			{table: repository.TableStages, filter: tenantFilter},
		}
	case domain.RoleOperational:
		specs := []subscriptionSpec{{table: repository.TableStages}}
		broadScope := l.ac.OwnerFilter != nil || len(l.ac.FunnelFilter) > 0
		if !broadScope && len(l.ac.InstanceFilter) > 0 && len(l.ac.InstanceFilter) <= maxInstanceSubscriptions {
			for _, instanceID := range l.ac.InstanceFilter {
				specs = append(specs, subscriptionSpec{
					table:  repository.TableLeads,
					filter: &cdc.FieldFilter{Field: "whatsapp_instance_id", Value: instanceID.String()},
				})
			}
			return specs
		}
		return append(specs, subscriptionSpec{table: repository.TableLeads})
	default:
		return nil
	}
}

func (l *Listener) run(ctx context.Context, spec subscriptionSpec) {
	defer l.done.Done()

	backoff := reconnectBase
	for {
		select {
		case <-l.stop:
			return
		case <-ctx.Done():
			return
		default:
		}

		l.setState(StateConnecting)
		sub, err := l.subscriber.Subscribe(ctx, spec.table, spec.filter)
		if err != nil {
			l.setState(StateError)
			l.log.Warn("change stream subscribe failed", "table", spec.table, "error", err)
			if !l.sleep(backoff) {
				return
			}
			backoff = nextBackoff(backoff)
			continue
		}

		l.setState(StateConnected)
		backoff = reconnectBase
		l.consume(sub)
		_ = sub.Close()
		l.setState(StateDisconnected)

		// A connection that drops right after subscribing would otherwise
		// resubscribe in a hot loop.
		if !l.sleep(backoff) {
			return
		}
		backoff = nextBackoff(backoff)
	}
}

// consume drains one subscription until it closes or the listener stops.
func (l *Listener) consume(sub *cdc.Subscription) {
	for {
		select {
		case <-l.stop:
			return
		case change, ok := <-sub.Changes():
			if !ok {
				return
			}
			l.handle(change)
		}
	}
}

func (l *Listener) handle(change cdc.Change) {
	switch change.Table {
	case repository.TableLeads:
		l.handleLeadChange(change)
	case repository.TableStages:
		l.handleStageChange(change)
	}
}

// handleLeadChange validates both row images and invalidates only the stage
// windows the change could affect.
func (l *Listener) handleLeadChange(change cdc.Change) {
	newLead, hasNew := decodeLead(change.New)
	oldLead, hasOld := decodeLead(change.Old)

	allowed := (hasNew && access.ValidateLeadAccess(l.ac, newLead)) ||
		(hasOld && access.ValidateLeadAccess(l.ac, oldLead))
	if !allowed {
		return
	}

	event := domain.RealtimeUpdate{Table: change.Table, Op: string(change.Op)}
	if hasNew {
		l.cache.InvalidateStage(newLead.StageID)
		event.LeadID = &newLead.ID
		event.StageID = &newLead.StageID
	}
	if hasOld && (!hasNew || oldLead.StageID != newLead.StageID) {
		l.cache.InvalidateStage(oldLead.StageID)
		// A move across the won/lost boundary shifts stage aggregates too.
		if hasNew && l.crossesTerminalBoundary(oldLead.StageID, newLead.StageID) {
			l.cache.InvalidateStages()
		}
	}
	if change.Op == cdc.OpDelete && hasOld {
		l.cache.RemoveLead(oldLead.ID)
	}

	l.coord.Emit(event, "stream")
}

func (l *Listener) handleStageChange(change cdc.Change) {
	stage, ok := decodeStage(change.New)
	if !ok {
		stage, ok = decodeStage(change.Old)
	}
	if !ok || !access.ValidateStageAccess(l.ac, stage) {
		return
	}

	l.cache.InvalidateStages()
	l.coord.Emit(domain.RealtimeUpdate{Table: change.Table, Op: string(change.Op), StageID: &stage.ID}, "stream")
}

func (l *Listener) crossesTerminalBoundary(fromStageID, toStageID uuid.UUID) bool {
	var fromTerminal, toTerminal bool
	for _, stage := range l.cache.Stages() {
		if stage.ID == fromStageID {
			fromTerminal = stage.IsWon || stage.IsLost
		}
		if stage.ID == toStageID {
			toTerminal = stage.IsWon || stage.IsLost
		}
	}
	return fromTerminal != toTerminal
}

func (l *Listener) setState(state ConnState) {
	l.mu.Lock()
	l.state = state
	l.mu.Unlock()
}

func (l *Listener) sleep(d time.Duration) bool {
	select {
	case <-l.stop:
		return false
	case <-time.After(d):
		return true
	}
}

func nextBackoff(current time.Duration) time.Duration {
	next := current * 2
	if next > reconnectMax {
		return reconnectMax
	}
	return next
}

func decodeLead(raw json.RawMessage) (domain.Lead, bool) {
	if len(raw) == 0 {
		return domain.Lead{}, false
	}
	var lead domain.Lead
	if err := json.Unmarshal(raw, &lead); err != nil {
		return domain.Lead{}, false
	}
	return lead, true
}

func decodeStage(raw json.RawMessage) (domain.Stage, bool) {
	if len(raw) == 0 {
		return domain.Stage{}, false
	}
	var stage domain.Stage
	if err := json.Unmarshal(raw, &stage); err != nil {
		return domain.Stage{}, false
	}
	return stage, true
}

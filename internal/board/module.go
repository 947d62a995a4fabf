// Package board is the kanban pipeline bounded context: per-user sessions
// coordinating drag and drop, pagination, access scoping and the live
// change stream.
package board

import (
	"context"

	"funnelboard_backend/internal/board/access"
	"funnelboard_backend/internal/board/handler"
	"funnelboard_backend/internal/board/repository"
	"funnelboard_backend/internal/board/session"
	"funnelboard_backend/internal/events"
	apphttp "funnelboard_backend/internal/http"
	"funnelboard_backend/internal/scheduler"
	"funnelboard_backend/platform/cdc"
	"funnelboard_backend/platform/clock"
	"funnelboard_backend/platform/config"
	"funnelboard_backend/platform/logger"
	"funnelboard_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// Module is the board bounded context implementing http.Module.
type Module struct {
	handler   *handler.Handler
	sessions  *session.Manager
	repo      *repository.Repository
	reindexer scheduler.StageReindexer
	log       *logger.Logger
}

// NewModule creates and initializes the board module with all its dependencies.
func NewModule(pool *pgxpool.Pool, rdb *redis.Client, bus events.Bus, cfg config.BoardConfig, val *validator.Validator, log *logger.Logger) *Module {
	emitter := cdc.NewEmitter(rdb)
	repo := repository.New(pool, emitter, log)
	resolver := access.NewResolver(pool, cfg.GetAccessContextTTL())

	sessions := session.NewManager(session.Deps{
		Repo:       repo,
		Resolver:   resolver,
		Subscriber: cdc.NewSubscriber(rdb),
		Bus:        bus,
		Clock:      clock.Real(),
		Log:        log,
		PageSize:   cfg.GetBoardPageSize(),
	})

	return &Module{
		handler:  handler.New(sessions, val),
		sessions: sessions,
		repo:     repo,
		log:      log,
	}
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "board"
}

// Repository returns the repository for direct access if needed.
func (m *Module) Repository() *repository.Repository {
	return m.repo
}

// Sessions returns the session manager so main can close it on shutdown.
func (m *Module) Sessions() *session.Manager {
	return m.sessions
}

// SetReindexer wires the background scheduler used for stage position
// repair. Without it, reindex requests are logged and dropped.
func (m *Module) SetReindexer(reindexer scheduler.StageReindexer) {
	m.reindexer = reindexer
}

// RegisterRoutes mounts board routes on the provided router context.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	group := ctx.Protected.Group("/board")
	group.GET("/funnels/:funnelId/stages", m.handler.ListStages)
	group.GET("/stages/:stageId/leads", m.handler.StageLeads)
	group.POST("/stages/:stageId/load-more", m.handler.LoadMore)
	group.PATCH("/stages/:stageId", m.handler.RenameStage)
	group.GET("/status", m.handler.Status)
	group.POST("/selection", m.handler.Selection)
	group.PUT("/filters", m.handler.ApplyFilters)
	group.DELETE("/filters", m.handler.ClearFilters)

	drag := group.Group("/drag")
	drag.Use(ctx.DragRateLimiter.RateLimit())
	drag.POST("/start", m.handler.DragStart)
	drag.POST("/hover", m.handler.DragHover)
	drag.POST("/drop", m.handler.DragDrop)
	group.POST("/leads/bulk-move", ctx.DragRateLimiter.RateLimit(), m.handler.BulkMove)
}

// RegisterHandlers subscribes to domain events for background repair work.
func (m *Module) RegisterHandlers(bus events.Bus) {
	bus.Subscribe(events.StageReindexRequested{}.EventName(), events.HandlerFunc(m.handleEvent))
}

func (m *Module) handleEvent(ctx context.Context, event events.Event) error {
	switch e := event.(type) {
	case events.StageReindexRequested:
		if m.reindexer == nil {
			m.log.Warn("stage reindex requested but no scheduler configured", "stageId", e.StageID)
			return nil
		}
		return m.reindexer.EnqueueStageReindex(ctx, scheduler.StageReindexPayload{StageID: e.StageID})
	default:
		return nil
	}
}

// Compile-time check that Module implements http.Module
var _ apphttp.Module = (*Module)(nil)

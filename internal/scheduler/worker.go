package scheduler

import (
	"context"

	"funnelboard_backend/internal/board/repository"
	"funnelboard_backend/platform/config"
	"funnelboard_backend/platform/logger"

	"github.com/hibiken/asynq"
)

// Worker processes board maintenance tasks.
type Worker struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	log    *logger.Logger
}

// NewWorker creates an asynq worker bound to the board repository.
func NewWorker(cfg config.SchedulerConfig, repo *repository.Repository, log *logger.Logger) (*Worker, error) {
	opt, err := redisClientOpt(cfg.GetRedisURL())
	if err != nil {
		return nil, err
	}

	queue := cfg.GetAsynqQueueName()
	if queue == "" {
		queue = "default"
	}

	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: 4,
		Queues:      map[string]int{queue: 1},
	})

	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeStageReindex, func(ctx context.Context, task *asynq.Task) error {
		payload, err := ParseStageReindexPayload(task)
		if err != nil {
			return err
		}

		changed, err := repo.ReindexStagePositions(ctx, payload.StageID)
		if err != nil {
			log.Error("stage reindex failed", "stageId", payload.StageID, "error", err)
			return err
		}
		log.Info("stage reindexed", "stageId", payload.StageID, "rowsChanged", changed)
		return nil
	})

	return &Worker{server: server, mux: mux, log: log}, nil
}

// Run blocks processing tasks until Shutdown.
func (w *Worker) Run() error {
	return w.server.Run(w.mux)
}

// Shutdown stops the worker gracefully.
func (w *Worker) Shutdown() {
	w.server.Shutdown()
}

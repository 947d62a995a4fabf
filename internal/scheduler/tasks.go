// Package scheduler runs background board maintenance through asynq.
package scheduler

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

// TypeStageReindex re-densifies a stage's lead order positions. Enqueued
// after a partial reorder failure leaves gaps on the server.
const TypeStageReindex = "stage:reindex"

// StageReindexPayload is the task payload for TypeStageReindex.
type StageReindexPayload struct {
	StageID uuid.UUID `json:"stage_id"`
}

// NewStageReindexTask builds the asynq task for a stage reindex.
func NewStageReindexTask(payload StageReindexPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeStageReindex, data, asynq.MaxRetry(5)), nil
}

// ParseStageReindexPayload decodes a TypeStageReindex task payload.
func ParseStageReindexPayload(task *asynq.Task) (StageReindexPayload, error) {
	var payload StageReindexPayload
	err := json.Unmarshal(task.Payload(), &payload)
	return payload, err
}

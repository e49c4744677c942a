package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskRefreshViews refreshes the dashboard materialized views.
	TaskRefreshViews = "dashboard:refresh_views"
	// TaskWarmCache preloads the latest week into the result cache.
	TaskWarmCache = "dashboard:warm_cache"

	// RefreshCron keeps the views at most half an hour stale.
	RefreshCron = "*/30 * * * *"
	// WarmupCron runs shortly after each scheduled refresh.
	WarmupCron = "5,35 * * * *"

	refreshUniqueTTL = 10 * time.Minute
)

// Payload carries the reason a job was scheduled.
type Payload struct {
	Reason string `json:"reason"`
}

func newTask(typ, reason string) (*asynq.Task, error) {
	data, err := json.Marshal(Payload{Reason: reason})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(typ, data), nil
}

// NewRefreshTask constructs a refresh task.
func NewRefreshTask(reason string) (*asynq.Task, error) {
	return newTask(TaskRefreshViews, reason)
}

// NewWarmupTask constructs a cache warmup task.
func NewWarmupTask(reason string) (*asynq.Task, error) {
	return newTask(TaskWarmCache, reason)
}

func decodePayload(t *asynq.Task) (Payload, error) {
	var payload Payload
	if len(t.Payload()) == 0 {
		return payload, nil
	}
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return payload, err
	}
	return payload, nil
}

package upload

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	progressKeyPrefix  = "upload:progress:"
	defaultProgressTTL = 24 * time.Hour
)

// ErrUploadNotFound is returned for an unknown or expired upload ID.
var ErrUploadNotFound = errors.New("upload: not found")

// Status is the lifecycle state of an upload.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// BatchProgress is reported after every inserted batch.
type BatchProgress struct {
	Batch    int `json:"batch"`
	Batches  int `json:"batches"`
	Inserted int `json:"inserted"`
	Total    int `json:"total"`
}

// Progress is the persisted state of one upload.
type Progress struct {
	ID       string `json:"id"`
	Kind     Kind   `json:"kind"`
	Filename string `json:"filename"`
	Table    string `json:"table"`
	Status   Status `json:"status"`
	BatchProgress
	Error      string     `json:"error,omitempty"`
	ActorID    string     `json:"actor_id,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Percent returns the share of rows inserted, 0-100.
func (p Progress) Percent() float64 {
	if p.Total == 0 {
		return 0
	}
	return float64(p.Inserted) * 100 / float64(p.Total)
}

// Done reports whether the upload reached a terminal state.
func (p Progress) Done() bool {
	return p.Status == StatusCompleted || p.Status == StatusFailed
}

// ProgressStore keeps upload progress in Redis so any instance can serve it.
type ProgressStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewProgressStore constructs a store. ttl defaults to 24h.
func NewProgressStore(client *redis.Client, ttl time.Duration) *ProgressStore {
	if ttl <= 0 {
		ttl = defaultProgressTTL
	}
	return &ProgressStore{client: client, ttl: ttl}
}

// Save overwrites the progress record.
func (s *ProgressStore) Save(ctx context.Context, p Progress) error {
	payload, err := json.Marshal(p)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, progressKeyPrefix+p.ID, payload, s.ttl).Err(); err != nil {
		return fmt.Errorf("upload: save progress: %w", err)
	}
	return nil
}

// Get loads the progress record.
func (s *ProgressStore) Get(ctx context.Context, id string) (Progress, error) {
	raw, err := s.client.Get(ctx, progressKeyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return Progress{}, ErrUploadNotFound
	}
	if err != nil {
		return Progress{}, fmt.Errorf("upload: load progress: %w", err)
	}
	var p Progress
	if err := json.Unmarshal(raw, &p); err != nil {
		return Progress{}, fmt.Errorf("upload: decode progress: %w", err)
	}
	return p, nil
}

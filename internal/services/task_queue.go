package services

import (
	"context"
	"encoding/json"

	"github.com/hibiken/asynq"
	"github.com/huangang/ideaminer/backend/internal/config"
	"github.com/huangang/ideaminer/backend/pkg/logger"
)

const (
	TaskTypePipelineRun = "pipeline:run"
)

// PipelineTask is a request for one full pipeline pass.
type PipelineTask struct {
	Trigger     string `json:"trigger"` // api, schedule, cli
	RequestedAt int64  `json:"requested_at"`
}

// TaskQueue hands pipeline runs off to a worker.
type TaskQueue interface {
	Enqueue(task *PipelineTask) error
	// IsAsync returns true if queue processes tasks asynchronously
	IsAsync() bool
	Close() error
}

// NewTaskQueue returns a Redis-backed queue when enabled and reachable,
// otherwise an in-process queue running the given processor.
func NewTaskQueue(cfg *config.RedisConfig, processor func(context.Context, *PipelineTask) error) TaskQueue {
	if cfg.Enabled {
		queue, err := NewAsyncQueue(cfg)
		if err == nil {
			logger.Infof("[TaskQueue] Async queue initialized with Redis at %s", cfg.Addr)
			return queue
		}
		logger.Warnf("[TaskQueue] Redis unavailable, falling back to sync mode: %v", err)
	} else {
		logger.Infof("[TaskQueue] Sync queue initialized (Redis disabled)")
	}
	q := NewSyncQueue()
	q.SetProcessor(processor)
	return q
}

// AsyncQueue implements TaskQueue using asynq (Redis-based)
type AsyncQueue struct {
	client *asynq.Client
}

func redisClientOpt(cfg *config.RedisConfig) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
}

func NewAsyncQueue(cfg *config.RedisConfig) (*AsyncQueue, error) {
	redisOpt := redisClientOpt(cfg)
	client := asynq.NewClient(redisOpt)

	inspector := asynq.NewInspector(redisOpt)
	defer inspector.Close()

	if _, err := inspector.Queues(); err != nil {
		client.Close()
		return nil, err
	}

	return &AsyncQueue{client: client}, nil
}

func (q *AsyncQueue) Enqueue(task *PipelineTask) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return err
	}

	// A single pipeline task at a time; duplicates within the window are rejected.
	t := asynq.NewTask(TaskTypePipelineRun, payload)
	info, err := q.client.Enqueue(t,
		asynq.Queue("default"),
		asynq.MaxRetry(0),
		asynq.Unique(pipelineUniqueTTL),
	)
	if err != nil {
		return err
	}

	logger.Infof("[AsyncQueue] Task enqueued: id=%s, queue=%s, trigger=%s", info.ID, info.Queue, task.Trigger)
	return nil
}

func (q *AsyncQueue) IsAsync() bool {
	return true
}

func (q *AsyncQueue) Close() error {
	return q.client.Close()
}

// SyncQueue runs tasks in a background goroutine of this process.
type SyncQueue struct {
	processor func(context.Context, *PipelineTask) error
}

func NewSyncQueue() *SyncQueue {
	return &SyncQueue{}
}

func (q *SyncQueue) SetProcessor(processor func(context.Context, *PipelineTask) error) {
	q.processor = processor
}

func (q *SyncQueue) Enqueue(task *PipelineTask) error {
	if q.processor == nil {
		logger.Warnf("[SyncQueue] No processor set, task will be dropped")
		return nil
	}

	go func() {
		if err := q.processor(context.Background(), task); err != nil {
			logger.Errorf("[SyncQueue] Task processing failed: %v", err)
		}
	}()

	return nil
}

func (q *SyncQueue) IsAsync() bool {
	return false
}

func (q *SyncQueue) Close() error {
	return nil
}

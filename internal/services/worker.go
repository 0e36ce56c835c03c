package services

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/hibiken/asynq"
	"github.com/huangang/ideaminer/backend/internal/config"
	"github.com/huangang/ideaminer/backend/pkg/logger"
)

const pipelineUniqueTTL = 30 * time.Minute

// Worker processes pipeline tasks from Redis.
type Worker struct {
	server    *asynq.Server
	mux       *asynq.ServeMux
	processor func(context.Context, *PipelineTask) error
	running   bool
	mu        sync.Mutex
}

// NewWorker returns nil when Redis is disabled.
func NewWorker(cfg *config.RedisConfig) *Worker {
	if !cfg.Enabled {
		return nil
	}

	server := asynq.NewServer(
		redisClientOpt(cfg),
		asynq.Config{
			// Runs are serialized by the pipeline itself.
			Concurrency: 1,
			Queues: map[string]int{
				"default": 1,
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				logger.Errorf("[Worker] Error processing task %s: %v", task.Type(), err)
			}),
		},
	)

	return &Worker{
		server: server,
		mux:    asynq.NewServeMux(),
	}
}

func (w *Worker) SetProcessor(processor func(context.Context, *PipelineTask) error) {
	w.processor = processor
}

func (w *Worker) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return nil
	}

	w.mux.HandleFunc(TaskTypePipelineRun, w.handlePipelineTask)

	// Non-blocking; Stop shuts the server down.
	if err := w.server.Start(w.mux); err != nil {
		return err
	}
	w.running = true
	logger.Infof("[Worker] Async worker started")
	return nil
}

func (w *Worker) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return
	}

	logger.Infof("[Worker] Shutting down...")
	w.server.Shutdown()
	w.running = false
	logger.Infof("[Worker] Shutdown complete")
}

func (w *Worker) handlePipelineTask(ctx context.Context, t *asynq.Task) error {
	var task PipelineTask
	if err := json.Unmarshal(t.Payload(), &task); err != nil {
		logger.Errorf("[Worker] Failed to unmarshal task: %v", err)
		return err
	}

	logger.Infof("[Worker] Processing pipeline task: trigger=%s", task.Trigger)

	if w.processor == nil {
		logger.Warnf("[Worker] No processor set")
		return nil
	}

	return w.processor(ctx, &task)
}

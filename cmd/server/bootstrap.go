package main

import (
	"context"
	"errors"

	"github.com/huangang/ideaminer/backend/internal/app"
	"github.com/huangang/ideaminer/backend/internal/config"
	"github.com/huangang/ideaminer/backend/internal/services"
	"github.com/huangang/ideaminer/backend/pkg/logger"
)

// appServices holds the long-lived components of the server process.
type appServices struct {
	app       *app.App
	taskQueue services.TaskQueue
	worker    *services.Worker
	scheduler *services.SchedulerService
}

// bootstrap wires the pipeline, the trigger queue, the worker and the scheduler.
func bootstrap(cfg *config.Config) *appServices {
	a, err := app.New(cfg)
	if err != nil {
		logger.Fatalf("Failed to initialize: %v", err)
	}

	runPipeline := func(ctx context.Context, task *services.PipelineTask) error {
		logger.Infof("[Pipeline] Run requested by %s", task.Trigger)
		_, err := a.Pipeline.RunFullPipeline(ctx)
		if errors.Is(err, services.ErrCostLimitExceeded) || errors.Is(err, services.ErrPipelineRunning) {
			// Not retryable; already logged and recorded in the run status.
			return nil
		}
		return err
	}

	taskQueue := services.NewTaskQueue(&cfg.Redis, runPipeline)

	var worker *services.Worker
	if taskQueue.IsAsync() {
		worker = services.NewWorker(&cfg.Redis)
		worker.SetProcessor(runPipeline)
		if err := worker.Start(); err != nil {
			logger.Errorf("Failed to start worker: %v", err)
		}
	}

	scheduler := services.NewSchedulerService(a.DB, taskQueue, a.SystemLog, a.Usage, services.SchedulerOptions{
		PipelineEnabled: cfg.Pipeline.ScheduleEnabled,
		PipelineSpec:    cfg.Pipeline.Schedule,
		RetentionDays:   cfg.Log.RetentionDays,
	})
	if err := scheduler.Start(); err != nil {
		logger.Fatalf("Failed to start scheduler: %v", err)
	}

	return &appServices{
		app:       a,
		taskQueue: taskQueue,
		worker:    worker,
		scheduler: scheduler,
	}
}

// shutdown stops background work, then releases the database.
func (s *appServices) shutdown() {
	s.scheduler.Stop()
	logger.Info().Msg("Scheduler stopped")

	if s.worker != nil {
		s.worker.Stop()
	}
	if s.taskQueue != nil {
		s.taskQueue.Close()
	}
	s.app.Close()
}

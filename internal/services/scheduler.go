package services

import (
	"os"
	"time"

	"github.com/huangang/ideaminer/backend/internal/models"
	"github.com/huangang/ideaminer/backend/pkg/logger"
	"github.com/robfig/cron/v3"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	lockPipeline = "pipeline_run"
	lockCleanup  = "log_cleanup"
	cleanupSpec  = "30 3 * * *"
)

type SchedulerOptions struct {
	PipelineEnabled bool
	PipelineSpec    string
	RetentionDays   int
}

// SchedulerService enqueues periodic pipeline runs and prunes old logs.
// Each tick is claimed through a scheduler_locks row so that several
// server instances sharing a database fire it once.
type SchedulerService struct {
	db        *gorm.DB
	queue     TaskQueue
	systemLog *SystemLogService
	usage     *AIUsageService
	opts      SchedulerOptions
	instance  string
	now       func() time.Time

	cron *cron.Cron
}

func NewSchedulerService(db *gorm.DB, queue TaskQueue, systemLog *SystemLogService, usage *AIUsageService, opts SchedulerOptions) *SchedulerService {
	host, _ := os.Hostname()
	return &SchedulerService{
		db:        db,
		queue:     queue,
		systemLog: systemLog,
		usage:     usage,
		opts:      opts,
		instance:  host,
		now:       time.Now,
	}
}

func (s *SchedulerService) Start() error {
	s.cron = cron.New()

	if s.opts.PipelineEnabled {
		if _, err := s.cron.AddFunc(s.opts.PipelineSpec, s.triggerPipeline); err != nil {
			return err
		}
		logger.Infof("[Scheduler] Pipeline scheduled (cron: %s)", s.opts.PipelineSpec)
	}
	if s.opts.RetentionDays > 0 {
		if _, err := s.cron.AddFunc(cleanupSpec, s.cleanup); err != nil {
			return err
		}
		logger.Infof("[Scheduler] Log cleanup scheduled, retention %d days", s.opts.RetentionDays)
	}

	s.cron.Start()
	logger.Infof("[Scheduler] Started")
	return nil
}

func (s *SchedulerService) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
}

// TryLock claims (name, key) until ttl elapses. Expired claims are
// removed first so a key can be reused.
func (s *SchedulerService) TryLock(name, key string, ttl time.Duration) bool {
	now := s.now()
	s.db.Where("expires_at < ?", now).Delete(&models.SchedulerLock{})

	lock := &models.SchedulerLock{
		LockName:  name,
		LockKey:   key,
		LockedBy:  s.instance,
		LockedAt:  now,
		ExpiresAt: now.Add(ttl),
	}
	result := s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(lock)
	if result.Error != nil {
		logger.Warnf("[Scheduler] Failed to acquire lock %s/%s: %v", name, key, result.Error)
		return false
	}
	return result.RowsAffected == 1
}

func (s *SchedulerService) triggerPipeline() {
	slot := s.now().Truncate(time.Minute).UTC().Format(time.RFC3339)
	if !s.TryLock(lockPipeline, slot, time.Hour) {
		logger.Debug().Str("slot", slot).Msg("[Scheduler] Pipeline tick claimed by another instance")
		return
	}

	task := &PipelineTask{Trigger: "schedule", RequestedAt: s.now().Unix()}
	if err := s.queue.Enqueue(task); err != nil {
		logger.Errorf("[Scheduler] Failed to enqueue pipeline run: %v", err)
		s.systemLog.Error("scheduler", "pipeline", err.Error(), nil)
		return
	}
	logger.Infof("[Scheduler] Pipeline run enqueued for slot %s", slot)
}

func (s *SchedulerService) cleanup() {
	day := s.now().UTC().Format("2006-01-02")
	if !s.TryLock(lockCleanup, day, 24*time.Hour) {
		return
	}
	s.CleanupLogs()
}

// CleanupLogs deletes system and usage logs older than the retention window.
func (s *SchedulerService) CleanupLogs() (systemLogs, usageLogs int64) {
	if s.opts.RetentionDays <= 0 {
		return 0, 0
	}

	var err error
	if systemLogs, err = s.systemLog.CleanupOldLogs(s.opts.RetentionDays); err != nil {
		logger.Errorf("[Scheduler] System log cleanup failed: %v", err)
	}
	cutoff := s.now().AddDate(0, 0, -s.opts.RetentionDays)
	if usageLogs, err = s.usage.CleanupBefore(cutoff); err != nil {
		logger.Errorf("[Scheduler] Usage log cleanup failed: %v", err)
	}

	logger.Infof("[Scheduler] Removed %d system logs and %d usage logs older than %d days",
		systemLogs, usageLogs, s.opts.RetentionDays)
	return systemLogs, usageLogs
}

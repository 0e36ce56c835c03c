package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/huangang/ideaminer/backend/internal/models"
	"github.com/huangang/ideaminer/backend/internal/scrapers"
	"github.com/huangang/ideaminer/backend/pkg/logger"
)

var (
	// ErrCostLimitExceeded means admission control refused to start a run.
	ErrCostLimitExceeded = errors.New("cost limits exceeded, pipeline not started")
	ErrPipelineRunning   = errors.New("pipeline is already running")
)

type PipelineStats struct {
	StartedAt           time.Time        `json:"started_at"`
	FinishedAt          time.Time        `json:"finished_at"`
	ComplaintsScraped   int              `json:"complaints_scraped"`
	ComplaintsProcessed int              `json:"complaints_processed"`
	IdeasGenerated      int              `json:"ideas_generated"`
	Errors              int              `json:"errors"`
	HaltedByCostGuard   bool             `json:"halted_by_cost_guard"`
	Processing          *ProcessingStats `json:"processing,omitempty"`

	ideas []*models.Idea
}

type PipelineStatus struct {
	Running   bool           `json:"running"`
	LastRun   *PipelineStats `json:"last_run,omitempty"`
	LastError string         `json:"last_error,omitempty"`
}

type PipelineOptions struct {
	MaxIdeasPerRun int
	MaxConcurrent  int
	Events         *SSEHub              // optional progress stream
	Notifier       *NotificationService // optional run digest
}

// PipelineService runs scrape, filter, dedup, persist and idea generation
// as one pass, consulting the cost monitor before every generation batch.
type PipelineService struct {
	scrapers  []scrapers.Scraper
	processor *ComplaintProcessor
	generator *IdeaGenerator
	monitor   *CostMonitor
	store     Store
	usage     *AIUsageService
	systemLog *SystemLogService
	opts      PipelineOptions

	running atomic.Bool

	mu      sync.Mutex
	lastRun *PipelineStats
	lastErr string
}

func NewPipelineService(
	adapters []scrapers.Scraper,
	processor *ComplaintProcessor,
	generator *IdeaGenerator,
	monitor *CostMonitor,
	store Store,
	usage *AIUsageService,
	systemLog *SystemLogService,
	opts PipelineOptions,
) *PipelineService {
	if opts.MaxIdeasPerRun <= 0 {
		opts.MaxIdeasPerRun = 50
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 1
	}
	return &PipelineService{
		scrapers:  adapters,
		processor: processor,
		generator: generator,
		monitor:   monitor,
		store:     store,
		usage:     usage,
		systemLog: systemLog,
		opts:      opts,
	}
}

// Status reports whether a run is in progress and how the last one ended.
func (p *PipelineService) Status() PipelineStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PipelineStatus{
		Running:   p.running.Load(),
		LastRun:   p.lastRun,
		LastError: p.lastErr,
	}
}

// RunFullPipeline performs one complete pass. Stats are returned even
// when the run stops early; complaints and ideas already saved are kept.
func (p *PipelineService) RunFullPipeline(ctx context.Context) (*PipelineStats, error) {
	if !p.running.CompareAndSwap(false, true) {
		return nil, ErrPipelineRunning
	}
	defer p.running.Store(false)

	stats := &PipelineStats{StartedAt: time.Now()}
	p.opts.Events.Publish(PipelineEvent{Stage: StageStarted})
	err := p.run(ctx, stats)
	stats.FinishedAt = time.Now()

	p.mu.Lock()
	p.lastRun = stats
	p.lastErr = ""
	if err != nil {
		p.lastErr = err.Error()
	}
	p.mu.Unlock()

	if err != nil {
		logger.Errorf("[Pipeline] Run ended with error: %v", err)
		p.systemLog.Error("pipeline", "run", err.Error(), stats)
		p.opts.Events.Publish(PipelineEvent{Stage: StageFailed, Error: err.Error()})
	} else {
		logger.Infof("[Pipeline] Run completed: scraped=%d processed=%d ideas=%d errors=%d halted=%v",
			stats.ComplaintsScraped, stats.ComplaintsProcessed, stats.IdeasGenerated, stats.Errors, stats.HaltedByCostGuard)
		p.systemLog.Info("pipeline", "run", "pipeline run completed", stats)
		p.opts.Events.Publish(PipelineEvent{Stage: StageCompleted, Count: stats.IdeasGenerated})
		if len(stats.ideas) > 0 {
			if nerr := p.opts.Notifier.NotifyRun(ctx, stats, stats.ideas); nerr != nil {
				p.systemLog.Warning("pipeline", "notify", nerr.Error(), nil)
			}
		}
	}
	return stats, err
}

func (p *PipelineService) run(ctx context.Context, stats *PipelineStats) error {
	if !p.monitor.ShouldContinue() {
		stats.HaltedByCostGuard = true
		logger.Warnf("[Pipeline] Cost limits exceeded, not starting")
		return ErrCostLimitExceeded
	}

	defer p.persistFailures(ctx, stats)

	candidates := p.scrapeAll(ctx, stats)
	stats.ComplaintsScraped = len(candidates)

	complaints, procStats, err := p.processor.ProcessBatch(ctx, candidates)
	if err != nil {
		stats.Errors++
		return fmt.Errorf("process complaints: %w", err)
	}
	stats.Processing = procStats
	stats.Errors += procStats.Errors

	saved := p.saveComplaints(ctx, complaints, stats)
	stats.ComplaintsProcessed = len(saved)
	p.opts.Events.Publish(PipelineEvent{Stage: StageProcessed, Count: len(saved)})

	p.generateIdeas(ctx, saved, stats)
	return nil
}

func (p *PipelineService) scrapeAll(ctx context.Context, stats *PipelineStats) []models.RawCandidate {
	var all []models.RawCandidate
	for _, s := range p.scrapers {
		items, err := s.Scrape(ctx)
		if err != nil {
			stats.Errors++
			logger.Errorf("[Pipeline] Scraper %s failed: %v", s.Name(), err)
			continue
		}
		logger.Infof("[Pipeline] Scraper %s returned %d candidates", s.Name(), len(items))
		p.opts.Events.Publish(PipelineEvent{Stage: StageScraped, Source: s.Name(), Count: len(items)})
		all = append(all, items...)
	}
	return all
}

func (p *PipelineService) saveComplaints(ctx context.Context, complaints []*models.Complaint, stats *PipelineStats) []*models.Complaint {
	saved := make([]*models.Complaint, 0, len(complaints))
	for _, c := range complaints {
		err := p.store.SaveComplaint(ctx, c)
		switch {
		case errors.Is(err, ErrDuplicateComplaint):
			stats.Processing.Processed--
			stats.Processing.FilteredDuplicate++
		case err != nil:
			stats.Errors++
			logger.Errorf("[Pipeline] Failed to save complaint: %v", err)
		default:
			saved = append(saved, c)
		}
	}
	return saved
}

// generateIdeas works through complaints in batches of MaxConcurrent and
// stops as soon as the cost monitor refuses further spend.
func (p *PipelineService) generateIdeas(ctx context.Context, complaints []*models.Complaint, stats *PipelineStats) {
	if len(complaints) > p.opts.MaxIdeasPerRun {
		complaints = complaints[:p.opts.MaxIdeasPerRun]
	}

	for start := 0; start < len(complaints); start += p.opts.MaxConcurrent {
		if ctx.Err() != nil {
			logger.Warnf("[Pipeline] Context cancelled, stopping idea generation")
			return
		}
		if !p.monitor.ShouldContinue() {
			stats.HaltedByCostGuard = true
			logger.Warnf("[Pipeline] Cost guard tripped after %d ideas, halting", stats.IdeasGenerated)
			p.systemLog.Warning("pipeline", "cost_guard", "idea generation halted by cost guard", p.monitor.CostGuard(p.monitor.WindowDays()))
			p.opts.Events.Publish(PipelineEvent{Stage: StageHalted, Count: stats.IdeasGenerated})
			return
		}

		end := min(start+p.opts.MaxConcurrent, len(complaints))
		batch := complaints[start:end]
		inputs := make([]string, len(batch))
		for i, c := range batch {
			inputs[i] = c.Content
		}

		for i, item := range p.generator.BatchGenerate(ctx, inputs, p.opts.MaxConcurrent) {
			p.handleGeneration(ctx, batch[i], item, stats)
		}
	}
}

func (p *PipelineService) handleGeneration(ctx context.Context, c *models.Complaint, item BatchItem, stats *PipelineStats) {
	usageLog := &models.AIUsageLog{
		ComplaintID: c.ID,
		Provider:    p.generator.ProviderName(),
		Model:       p.generator.Model(),
		CreatedAt:   time.Now(),
	}

	if item.Err != nil {
		stats.Errors++
		logger.Warnf("[Pipeline] Idea generation failed for complaint %s: %v", c.ID, item.Err)
		if err := p.monitor.Record(c.Content, 0, 0, false); err != nil {
			logger.Warnf("[Pipeline] %v", err)
		}
		usageLog.ErrorMessage = truncate(item.Err.Error(), 500)
		p.recordUsage(usageLog)
		return
	}

	result := item.Result
	cost := p.generator.EstimateCost(result.TokensUsed)
	if err := p.monitor.Record(c.Content, result.TokensUsed, cost, true); err != nil {
		logger.Warnf("[Pipeline] %v", err)
	}

	usageLog.Model = result.Model
	usageLog.PromptTokens = result.Usage.PromptTokens
	usageLog.CompletionTokens = result.Usage.CompletionTokens
	usageLog.TotalTokens = result.TokensUsed
	usageLog.Cost = cost
	usageLog.LatencyMs = result.LatencyMs
	usageLog.Success = true
	p.recordUsage(usageLog)

	tokens := result.TokensUsed
	idea := &models.Idea{
		ID:                uuid.NewString(),
		ComplaintID:       c.ID,
		IdeaText:          result.Idea,
		ScoreMarket:       result.Scores.Market,
		ScoreTech:         result.Scores.Tech,
		ScoreCompetition:  result.Scores.Competition,
		ScoreMonetisation: result.Scores.Monetisation,
		ScoreFeasibility:  result.Scores.Feasibility,
		ScoreOverall:      result.Scores.Overall,
		RawResponse:       result.RawResponse,
		TokensUsed:        &tokens,
		GeneratedAt:       time.Now(),
	}
	if err := p.store.SaveIdea(ctx, idea); err != nil {
		stats.Errors++
		logger.Errorf("[Pipeline] Failed to save idea: %v", err)
		return
	}
	stats.IdeasGenerated++
	stats.ideas = append(stats.ideas, idea)
	p.opts.Events.Publish(PipelineEvent{Stage: StageIdea, ComplaintID: c.ID, IdeaID: idea.ID, Score: &idea.ScoreOverall})
}

func (p *PipelineService) recordUsage(log *models.AIUsageLog) {
	if p.usage != nil {
		p.usage.Record(log)
	}
}

// persistFailures saves and clears every adapter's recorded failures.
func (p *PipelineService) persistFailures(ctx context.Context, stats *PipelineStats) {
	for _, s := range p.scrapers {
		failures := s.Failures()
		s.ResetFailures()
		for i := range failures {
			stats.Errors++
			if err := p.store.SaveFailure(ctx, &failures[i]); err != nil {
				logger.Errorf("[Pipeline] Failed to save failure record: %v", err)
			}
		}
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

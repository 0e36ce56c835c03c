// Package app assembles the mining pipeline from configuration. Both the
// HTTP server and the CLI build on it.
package app

import (
	"fmt"

	"github.com/huangang/ideaminer/backend/internal/config"
	"github.com/huangang/ideaminer/backend/internal/fetcher"
	"github.com/huangang/ideaminer/backend/internal/models"
	"github.com/huangang/ideaminer/backend/internal/scrapers"
	"github.com/huangang/ideaminer/backend/internal/services"
	"github.com/huangang/ideaminer/backend/pkg/logger"
	"gorm.io/gorm"
)

type App struct {
	Config     *config.Config
	DB         *gorm.DB
	Store      *services.GormStore
	Monitor    *services.CostMonitor
	Generator  *services.IdeaGenerator
	Pipeline   *services.PipelineService
	Usage      *services.AIUsageService
	SystemLog  *services.SystemLogService
	Complaints *services.ComplaintService
	Ideas      *services.IdeaService
	Events     *services.SSEHub
	Dashboard  *services.DashboardService
}

// New opens and migrates the database and wires every pipeline stage.
func New(cfg *config.Config) (*App, error) {
	db, err := models.Open(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := models.AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	provider, err := services.NewLLMProvider(&cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("init llm provider: %w", err)
	}

	store := services.NewGormStore(db)
	analyzer := services.NewSentimentAnalyzer(cfg.Pipeline.SentimentThreshold, cfg.Pipeline.IdeaMarkers)
	processor := services.NewComplaintProcessor(analyzer, services.NewDeduplicator(cfg.Pipeline.DedupTokenLimit), store)
	generator := services.NewIdeaGenerator(provider, &cfg.LLM, cfg.Cost.CostPer1KTokens)
	monitor := services.NewCostMonitor(&cfg.Cost, services.NewFileLedger(cfg.Cost.LedgerPath))
	usage := services.NewAIUsageService(db)
	systemLog := services.NewSystemLogService(db)
	events := services.NewSSEHub()

	pipeline := services.NewPipelineService(Scrapers(&cfg.Scraping), processor, generator, monitor, store, usage, systemLog,
		services.PipelineOptions{
			MaxIdeasPerRun: cfg.Pipeline.MaxIdeasPerRun,
			MaxConcurrent:  cfg.Pipeline.MaxConcurrentGenerations,
			Events:         events,
			Notifier:       services.NewNotificationService(&cfg.Notify),
		})

	return &App{
		Config:     cfg,
		DB:         db,
		Store:      store,
		Monitor:    monitor,
		Generator:  generator,
		Pipeline:   pipeline,
		Usage:      usage,
		SystemLog:  systemLog,
		Complaints: services.NewComplaintService(db),
		Ideas:      services.NewIdeaService(db),
		Events:     events,
		Dashboard:  services.NewDashboardService(db),
	}, nil
}

// Scrapers builds the enabled source adapters, each with its own fetcher
// so failures are attributed to the right source.
func Scrapers(cfg *config.ScrapingConfig) []scrapers.Scraper {
	fetchCfg := fetcher.Config{
		MaxRetries:        cfg.MaxRetries,
		Timeout:           cfg.RequestTimeout(),
		BackoffBase:       cfg.BackoffBase(),
		RequestsPerSecond: cfg.RequestsPerSecond,
		Concurrency:       cfg.Concurrency,
	}

	var adapters []scrapers.Scraper
	if cfg.Forum.Enabled {
		adapters = append(adapters, scrapers.NewForumAdapter(cfg.Forum, fetcher.New(models.SourceForum, fetchCfg)))
	}
	if cfg.AppStore.Enabled {
		adapters = append(adapters, scrapers.NewAppStoreAdapter(cfg.AppStore, fetcher.New(models.SourceAppStore, fetchCfg)))
	}
	if len(adapters) == 0 {
		logger.Warnf("[App] No source adapters enabled")
	}
	return adapters
}

func (a *App) Close() {
	if sqlDB, err := a.DB.DB(); err == nil {
		sqlDB.Close()
	}
}

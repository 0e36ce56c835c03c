package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/huangang/ideaminer/backend/internal/config"
	"github.com/huangang/ideaminer/backend/pkg/logger"
	"github.com/montanaflynn/stats"
)

// UsageRecord is one idea-generation attempt in the usage ledger.
type UsageRecord struct {
	Timestamp     time.Time `json:"timestamp"`
	InputLength   int       `json:"complaint_length"`
	TokensUsed    int       `json:"tokens_used"`
	Cost          float64   `json:"cost"`
	Success       bool      `json:"idea_generated"`
	TokensPerChar float64   `json:"tokens_per_char"`
}

// LedgerStore persists the usage ledger.
type LedgerStore interface {
	Load() ([]UsageRecord, error)
	Save(records []UsageRecord) error
}

// FileLedger keeps the ledger as a JSON array in a single file.
type FileLedger struct {
	path string
}

func NewFileLedger(path string) *FileLedger {
	return &FileLedger{path: path}
}

func (l *FileLedger) Path() string { return l.path }

func (l *FileLedger) Load() ([]UsageRecord, error) {
	data, err := os.ReadFile(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}
	var records []UsageRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("decode ledger %s: %w", l.path, err)
	}
	return records, nil
}

func (l *FileLedger) Save(records []UsageRecord) error {
	if records == nil {
		records = []UsageRecord{}
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(l.path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	tmp := l.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, l.path)
}

type CostGuardResult struct {
	Passed            bool    `json:"passed"`
	MeanTokens        float64 `json:"mean_tokens"`
	Threshold         float64 `json:"threshold"`
	ThresholdExceeded bool    `json:"threshold_exceeded"`
	TotalCost         float64 `json:"total_cost_period"`
	TotalRequests     int     `json:"total_requests_period"`
	PeriodDays        int     `json:"period_days"`
}

type DailyLimitResult struct {
	DailyCost       float64 `json:"daily_cost"`
	DailyLimit      float64 `json:"daily_limit"`
	LimitExceeded   bool    `json:"limit_exceeded"`
	RemainingBudget float64 `json:"remaining_budget"`
}

type BatchEstimate struct {
	Count                  int     `json:"count"`
	EstimatedTokensPerItem float64 `json:"estimated_tokens_per_item"`
	EstimatedTotalTokens   float64 `json:"estimated_total_tokens"`
	EstimatedCost          float64 `json:"estimated_cost"`
	RemainingBudget        float64 `json:"remaining_budget"`
	CanAfford              bool    `json:"can_afford"`
	MaxAffordableCount     int     `json:"max_affordable_count"`
}

type UsageStatistics struct {
	PeriodDays         int     `json:"period_days"`
	TotalRequests      int     `json:"total_requests"`
	SuccessfulRequests int     `json:"successful_requests"`
	SuccessRate        float64 `json:"success_rate"`
	TotalTokens        int     `json:"total_tokens"`
	TotalCost          float64 `json:"total_cost"`
	MeanTokens         float64 `json:"mean_tokens"`
	MedianTokens       float64 `json:"median_tokens"`
	MinTokens          float64 `json:"min_tokens"`
	MaxTokens          float64 `json:"max_tokens"`
	StdDevTokens       float64 `json:"std_dev_tokens"`
}

// CostMonitor keeps a bounded, time-ordered usage ledger and answers the
// admission questions the pipeline asks before spending more tokens.
type CostMonitor struct {
	ledger               LedgerStore
	capacity             int
	maxTokensPerItem     float64
	dailyLimit           float64
	costPer1K            float64
	guardWindowDays      int
	defaultTokensPerItem int
	now                  func() time.Time

	mu      sync.Mutex
	records []UsageRecord
}

func NewCostMonitor(cfg *config.CostConfig, ledger LedgerStore) *CostMonitor {
	m := &CostMonitor{
		ledger:               ledger,
		capacity:             cfg.LedgerCapacity,
		maxTokensPerItem:     float64(cfg.MaxTokensPerComplaint),
		dailyLimit:           cfg.DailyLimitUSD,
		costPer1K:            cfg.CostPer1KTokens,
		guardWindowDays:      cfg.GuardWindowDays,
		defaultTokensPerItem: cfg.DefaultTokensPerItem,
		now:                  time.Now,
	}
	if m.capacity <= 0 {
		m.capacity = 1000
	}
	if m.guardWindowDays <= 0 {
		m.guardWindowDays = 7
	}
	if m.defaultTokensPerItem <= 0 {
		m.defaultTokensPerItem = 400
	}

	records, err := ledger.Load()
	if err != nil {
		logger.Warnf("[CostMonitor] Could not load usage ledger, starting empty: %v", err)
		records = nil
	}
	if len(records) > m.capacity {
		records = records[len(records)-m.capacity:]
	}
	m.records = records
	return m
}

// Record appends one attempt, evicting the oldest entries past capacity,
// and persists the ledger.
func (m *CostMonitor) Record(inputText string, tokensUsed int, cost float64, success bool) error {
	length := len([]rune(inputText))
	rec := UsageRecord{
		Timestamp:   m.now(),
		InputLength: length,
		TokensUsed:  tokensUsed,
		Cost:        cost,
		Success:     success,
	}
	if length > 0 {
		rec.TokensPerChar = float64(tokensUsed) / float64(length)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.records = append(m.records, rec)
	if len(m.records) > m.capacity {
		m.records = append([]UsageRecord(nil), m.records[len(m.records)-m.capacity:]...)
	}
	if err := m.ledger.Save(m.records); err != nil {
		logger.Errorf("[CostMonitor] Failed to persist usage ledger: %v", err)
		return fmt.Errorf("persist usage ledger: %w", err)
	}
	return nil
}

func (m *CostMonitor) window(days int) []UsageRecord {
	cutoff := m.now().Add(-time.Duration(days) * 24 * time.Hour)
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []UsageRecord
	for _, r := range m.records {
		if r.Timestamp.After(cutoff) {
			out = append(out, r)
		}
	}
	return out
}

func successfulTokens(records []UsageRecord) stats.Float64Data {
	var data stats.Float64Data
	for _, r := range records {
		if r.Success {
			data = append(data, float64(r.TokensUsed))
		}
	}
	return data
}

// MeanTokens is the mean tokens_used of successful records within the
// trailing window, or 0 when there are none.
func (m *CostMonitor) MeanTokens(windowDays int) float64 {
	data := successfulTokens(m.window(windowDays))
	if len(data) == 0 {
		return 0
	}
	mean, err := stats.Mean(data)
	if err != nil {
		return 0
	}
	return mean
}

// CostGuard fails when the mean tokens per item over the window exceeds
// the configured ceiling.
func (m *CostMonitor) CostGuard(windowDays int) CostGuardResult {
	records := m.window(windowDays)
	mean := m.MeanTokens(windowDays)
	exceeded := mean > m.maxTokensPerItem

	var total float64
	for _, r := range records {
		total += r.Cost
	}

	result := CostGuardResult{
		Passed:            !exceeded,
		MeanTokens:        mean,
		Threshold:         m.maxTokensPerItem,
		ThresholdExceeded: exceeded,
		TotalCost:         total,
		TotalRequests:     len(records),
		PeriodDays:        windowDays,
	}
	if exceeded {
		logger.Warnf("[CostMonitor] Cost guard failed: mean %.1f tokens > %.0f", mean, m.maxTokensPerItem)
	}
	return result
}

// TotalCost sums the cost of every record within the window.
func (m *CostMonitor) TotalCost(days int) float64 {
	var total float64
	for _, r := range m.window(days) {
		total += r.Cost
	}
	return total
}

func (m *CostMonitor) DailyLimitCheck() DailyLimitResult {
	daily := m.TotalCost(1)
	return DailyLimitResult{
		DailyCost:       daily,
		DailyLimit:      m.dailyLimit,
		LimitExceeded:   daily > m.dailyLimit,
		RemainingBudget: math.Max(0, m.dailyLimit-daily),
	}
}

// WindowDays is the trailing window the cost guard evaluates.
func (m *CostMonitor) WindowDays() int { return m.guardWindowDays }

// ShouldContinue reports whether more generation spend is allowed.
func (m *CostMonitor) ShouldContinue() bool {
	daily := m.DailyLimitCheck()
	guard := m.CostGuard(m.guardWindowDays)
	return !daily.LimitExceeded && guard.Passed
}

// EstimateBatchCost projects the cost of n more generations from the
// recent mean, or the default per-item tokens without history.
func (m *CostMonitor) EstimateBatchCost(n int) BatchEstimate {
	perItem := m.MeanTokens(7)
	if perItem == 0 {
		perItem = float64(m.defaultTokensPerItem)
	}
	totalTokens := perItem * float64(n)
	cost := totalTokens / 1000 * m.costPer1K
	remaining := m.DailyLimitCheck().RemainingBudget

	maxAffordable := 0
	if perItemCost := perItem / 1000 * m.costPer1K; perItemCost > 0 {
		maxAffordable = int(remaining / perItemCost)
	}

	return BatchEstimate{
		Count:                  n,
		EstimatedTokensPerItem: perItem,
		EstimatedTotalTokens:   totalTokens,
		EstimatedCost:          cost,
		RemainingBudget:        remaining,
		CanAfford:              cost <= remaining,
		MaxAffordableCount:     maxAffordable,
	}
}

func (m *CostMonitor) UsageStatistics(days int) UsageStatistics {
	records := m.window(days)
	out := UsageStatistics{PeriodDays: days, TotalRequests: len(records)}
	for _, r := range records {
		out.TotalTokens += r.TokensUsed
		out.TotalCost += r.Cost
	}

	data := successfulTokens(records)
	out.SuccessfulRequests = len(data)
	if len(records) > 0 {
		out.SuccessRate = float64(len(data)) / float64(len(records))
	}
	if len(data) == 0 {
		return out
	}

	out.MeanTokens, _ = stats.Mean(data)
	out.MedianTokens, _ = stats.Median(data)
	out.MinTokens, _ = stats.Min(data)
	out.MaxTokens, _ = stats.Max(data)
	if len(data) > 1 {
		out.StdDevTokens, _ = stats.StandardDeviationSample(data)
	}
	return out
}

// Records returns a copy of the ledger, oldest first.
func (m *CostMonitor) Records() []UsageRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]UsageRecord(nil), m.records...)
}

func (m *CostMonitor) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = nil
	return m.ledger.Save(nil)
}

// Export writes a copy of the ledger to path.
func (m *CostMonitor) Export(path string) error {
	return NewFileLedger(path).Save(m.Records())
}

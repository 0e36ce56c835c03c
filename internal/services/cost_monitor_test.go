package services

import (
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/huangang/ideaminer/backend/internal/config"
)

type memoryLedger struct {
	records []UsageRecord
	saves   int
}

func (l *memoryLedger) Load() ([]UsageRecord, error) { return l.records, nil }

func (l *memoryLedger) Save(records []UsageRecord) error {
	l.records = append([]UsageRecord(nil), records...)
	l.saves++
	return nil
}

func newTestCostMonitor(t *testing.T, maxTokens int, ledger LedgerStore) (*CostMonitor, *time.Time) {
	t.Helper()
	cfg := config.DefaultConfig().Cost
	cfg.MaxTokensPerComplaint = maxTokens
	m := NewCostMonitor(&cfg, ledger)
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }
	return m, &now
}

func almostEqual(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestCostMonitor_CostGuardScenario(t *testing.T) {
	tests := []struct {
		name      string
		maxTokens int
		passed    bool
	}{
		{name: "ceiling below mean", maxTokens: 350, passed: false},
		{name: "ceiling above mean", maxTokens: 500, passed: true},
		{name: "ceiling equal to mean", maxTokens: 400, passed: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _ := newTestCostMonitor(t, tt.maxTokens, &memoryLedger{})
			for _, tokens := range []int{400, 500, 300} {
				if err := m.Record("some complaint text", tokens, 0.001, true); err != nil {
					t.Fatal(err)
				}
			}

			if got := m.MeanTokens(30); got != 400 {
				t.Errorf("MeanTokens(30) = %v, expected 400", got)
			}
			guard := m.CostGuard(30)
			if guard.Passed != tt.passed {
				t.Errorf("Passed = %v, expected %v", guard.Passed, tt.passed)
			}
			if guard.ThresholdExceeded == guard.Passed {
				t.Error("ThresholdExceeded should be the inverse of Passed")
			}
			if guard.TotalRequests != 3 || guard.PeriodDays != 30 {
				t.Errorf("guard = %+v", guard)
			}
			if !almostEqual(guard.TotalCost, 0.003) {
				t.Errorf("TotalCost = %v, expected 0.003", guard.TotalCost)
			}
		})
	}
}

func TestCostMonitor_MeanTokensIgnoresFailuresAndOldRecords(t *testing.T) {
	m, now := newTestCostMonitor(t, 600, &memoryLedger{})

	*now = now.Add(-10 * 24 * time.Hour)
	m.Record("old", 5000, 0.01, true)
	*now = now.Add(10 * 24 * time.Hour)
	m.Record("failed", 0, 0, false)
	m.Record("ok", 200, 0.0004, true)

	if got := m.MeanTokens(7); got != 200 {
		t.Errorf("MeanTokens(7) = %v, expected 200", got)
	}
	if got := m.MeanTokens(30); got != 2600 {
		t.Errorf("MeanTokens(30) = %v, expected 2600", got)
	}

	empty, _ := newTestCostMonitor(t, 600, &memoryLedger{})
	if got := empty.MeanTokens(7); got != 0 {
		t.Errorf("MeanTokens on empty ledger = %v, expected 0", got)
	}
	if !empty.CostGuard(7).Passed {
		t.Error("empty ledger should pass the guard")
	}
}

func TestCostMonitor_DailyLimit(t *testing.T) {
	m, now := newTestCostMonitor(t, 600, &memoryLedger{})
	m.dailyLimit = 1.0

	*now = now.Add(-2 * 24 * time.Hour)
	m.Record("yesterday", 100, 5.0, true)
	*now = now.Add(2 * 24 * time.Hour)
	m.Record("today", 100, 0.4, true)

	daily := m.DailyLimitCheck()
	if !almostEqual(daily.DailyCost, 0.4) || daily.LimitExceeded {
		t.Errorf("daily = %+v, expected cost 0.4 within limit", daily)
	}
	if !almostEqual(daily.RemainingBudget, 0.6) {
		t.Errorf("RemainingBudget = %v, expected 0.6", daily.RemainingBudget)
	}
	if !m.ShouldContinue() {
		t.Error("ShouldContinue should be true under the limit")
	}

	m.Record("today again", 100, 0.8, true)
	daily = m.DailyLimitCheck()
	if !daily.LimitExceeded {
		t.Error("expected limit exceeded")
	}
	if daily.RemainingBudget != 0 {
		t.Errorf("RemainingBudget = %v, expected floor 0", daily.RemainingBudget)
	}
	if m.ShouldContinue() {
		t.Error("ShouldContinue should be false past the daily limit")
	}
}

func TestCostMonitor_ShouldContinueFailsOnGuard(t *testing.T) {
	m, _ := newTestCostMonitor(t, 300, &memoryLedger{})
	m.Record("complaint", 900, 0.0018, true)

	if m.ShouldContinue() {
		t.Error("ShouldContinue should be false when the guard fails")
	}
}

func TestCostMonitor_EstimateBatchCost(t *testing.T) {
	m, _ := newTestCostMonitor(t, 600, &memoryLedger{})
	m.dailyLimit = 0.009

	est := m.EstimateBatchCost(10)
	if est.EstimatedTokensPerItem != 400 {
		t.Errorf("EstimatedTokensPerItem = %v, expected default 400", est.EstimatedTokensPerItem)
	}
	if !almostEqual(est.EstimatedCost, 0.008) || !est.CanAfford {
		t.Errorf("estimate = %+v, expected cost 0.008 affordable", est)
	}
	if est.MaxAffordableCount != 11 {
		t.Errorf("MaxAffordableCount = %d, expected 11", est.MaxAffordableCount)
	}

	m.Record("complaint", 1000, 0.002, true)
	est = m.EstimateBatchCost(10)
	if est.EstimatedTokensPerItem != 1000 {
		t.Errorf("EstimatedTokensPerItem = %v, expected 1000 from history", est.EstimatedTokensPerItem)
	}
	if est.CanAfford {
		t.Errorf("estimate = %+v, expected unaffordable", est)
	}
	if est.MaxAffordableCount != 3 {
		t.Errorf("MaxAffordableCount = %d, expected 3", est.MaxAffordableCount)
	}
}

func TestCostMonitor_CapacityEviction(t *testing.T) {
	ledger := &memoryLedger{}
	m, _ := newTestCostMonitor(t, 600, ledger)
	m.capacity = 3

	for i := 1; i <= 5; i++ {
		m.Record("text", i*100, 0, true)
	}

	records := m.Records()
	if len(records) != 3 {
		t.Fatalf("records = %d, expected 3", len(records))
	}
	if records[0].TokensUsed != 300 || records[2].TokensUsed != 500 {
		t.Errorf("records = %+v, expected oldest evicted", records)
	}
	if ledger.saves != 5 || len(ledger.records) != 3 {
		t.Errorf("ledger saves = %d, stored = %d", ledger.saves, len(ledger.records))
	}
}

func TestFileLedger_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "sample_tokens.json")
	m, _ := newTestCostMonitor(t, 600, NewFileLedger(path))

	m.Record("The sync keeps failing", 450, 0.0009, true)
	m.Record("Crash on launch", 0, 0, false)

	reloaded := NewCostMonitor(&config.CostConfig{MaxTokensPerComplaint: 600}, NewFileLedger(path))
	got := reloaded.Records()
	want := m.Records()
	if len(got) != len(want) {
		t.Fatalf("records = %d, expected %d", len(got), len(want))
	}
	for i := range want {
		if !got[i].Timestamp.Equal(want[i].Timestamp) ||
			got[i].InputLength != want[i].InputLength ||
			got[i].TokensUsed != want[i].TokensUsed ||
			got[i].Cost != want[i].Cost ||
			got[i].Success != want[i].Success ||
			got[i].TokensPerChar != want[i].TokensPerChar {
			t.Errorf("record %d = %+v, expected %+v", i, got[i], want[i])
		}
	}
	if want[0].InputLength != 22 || !almostEqual(want[0].TokensPerChar, 450.0/22) {
		t.Errorf("record = %+v", want[0])
	}
}

func TestFileLedger_CorruptFileStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.json")
	os.WriteFile(path, []byte("{not json"), 0644)

	m := NewCostMonitor(&config.CostConfig{}, NewFileLedger(path))
	if len(m.Records()) != 0 {
		t.Errorf("records = %d, expected 0", len(m.Records()))
	}
}

func TestCostMonitor_UsageStatisticsClearExport(t *testing.T) {
	m, _ := newTestCostMonitor(t, 600, &memoryLedger{})
	for _, tokens := range []int{100, 200, 600} {
		m.Record("text", tokens, float64(tokens)/1000*0.002, true)
	}
	m.Record("text", 0, 0, false)

	s := m.UsageStatistics(7)
	if s.TotalRequests != 4 || s.SuccessfulRequests != 3 {
		t.Errorf("stats = %+v", s)
	}
	if s.SuccessRate != 0.75 || s.MeanTokens != 300 || s.MedianTokens != 200 || s.MinTokens != 100 || s.MaxTokens != 600 {
		t.Errorf("stats = %+v", s)
	}
	if s.StdDevTokens <= 0 {
		t.Errorf("StdDevTokens = %v, expected > 0", s.StdDevTokens)
	}

	exportPath := filepath.Join(t.TempDir(), "export.json")
	if err := m.Export(exportPath); err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	exported, err := NewFileLedger(exportPath).Load()
	if err != nil || len(exported) != 4 {
		t.Errorf("exported = %d records, err = %v", len(exported), err)
	}

	if err := m.Clear(); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	if len(m.Records()) != 0 {
		t.Error("Clear() should empty the ledger")
	}
}

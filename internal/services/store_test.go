package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/huangang/ideaminer/backend/internal/config"
	"github.com/huangang/ideaminer/backend/internal/models"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T, name string) *gorm.DB {
	t.Helper()
	db, err := models.Open(&config.DatabaseConfig{
		Driver: "sqlite",
		DSN:    "file:" + name + "?mode=memory&cache=shared",
	})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := models.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	t.Cleanup(func() { sqlDB.Close() })
	return db
}

func TestGormStore_SaveComplaintDuplicate(t *testing.T) {
	db := newTestDB(t, "store_dup")
	store := NewGormStore(db)
	ctx := context.Background()

	first := &models.Complaint{ID: "c-1", Source: models.SourceForum, Content: "broken sync", ContentHash: "h1", ScrapedAt: time.Now()}
	if err := store.SaveComplaint(ctx, first); err != nil {
		t.Fatalf("SaveComplaint() error = %v", err)
	}

	dup := &models.Complaint{ID: "c-2", Source: models.SourceAppStore, Content: "Broken sync!", ContentHash: "h1", ScrapedAt: time.Now()}
	if err := store.SaveComplaint(ctx, dup); !errors.Is(err, ErrDuplicateComplaint) {
		t.Errorf("error = %v, expected ErrDuplicateComplaint", err)
	}

	var count int64
	db.Model(&models.Complaint{}).Count(&count)
	if count != 1 {
		t.Errorf("complaints = %d, expected 1", count)
	}
}

func TestGormStore_LoadAllFingerprints(t *testing.T) {
	db := newTestDB(t, "store_fp")
	store := NewGormStore(db)
	ctx := context.Background()

	for i, h := range []string{"aa", "bb"} {
		c := &models.Complaint{ID: []string{"x", "y"}[i], Source: models.SourceForum, Content: h, ContentHash: h, ScrapedAt: time.Now()}
		if err := store.SaveComplaint(ctx, c); err != nil {
			t.Fatalf("SaveComplaint() error = %v", err)
		}
	}

	got, err := store.LoadAllFingerprints(ctx)
	if err != nil {
		t.Fatalf("LoadAllFingerprints() error = %v", err)
	}
	if len(got) != 2 {
		t.Errorf("fingerprints = %d, expected 2", len(got))
	}
	if _, ok := got["bb"]; !ok {
		t.Error("expected fingerprint bb")
	}
}

func TestGormStore_SaveIdeaAndFailure(t *testing.T) {
	db := newTestDB(t, "store_idea")
	store := NewGormStore(db)
	ctx := context.Background()

	c := &models.Complaint{ID: "c-1", Source: models.SourceForum, Content: "text", ContentHash: "h", ScrapedAt: time.Now()}
	if err := store.SaveComplaint(ctx, c); err != nil {
		t.Fatal(err)
	}

	tokens := 450
	idea := &models.Idea{
		ID: "i-1", ComplaintID: c.ID, IdeaText: "Offline-first notes",
		ScoreMarket: 7, ScoreTech: 6, ScoreCompetition: 5, ScoreMonetisation: 6, ScoreFeasibility: 8, ScoreOverall: 7,
		RawResponse: models.JSONMap{"model": "gpt-3.5-turbo"}, TokensUsed: &tokens, GeneratedAt: time.Now(),
	}
	if err := store.SaveIdea(ctx, idea); err != nil {
		t.Fatalf("SaveIdea() error = %v", err)
	}

	failure := &models.FailureRecord{Source: models.SourceForum, URL: "https://x", ErrorType: "MaxRetriesError", OccurredAt: time.Now(), RetryCount: 3}
	if err := store.SaveFailure(ctx, failure); err != nil {
		t.Fatalf("SaveFailure() error = %v", err)
	}

	var stored models.Idea
	if err := db.First(&stored, "id = ?", "i-1").Error; err != nil {
		t.Fatal(err)
	}
	if stored.RawResponse["model"] != "gpt-3.5-turbo" {
		t.Errorf("raw response = %v", stored.RawResponse)
	}
	if stored.TokensUsed == nil || *stored.TokensUsed != 450 {
		t.Errorf("tokens = %v, expected 450", stored.TokensUsed)
	}
}

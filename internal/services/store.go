package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/huangang/ideaminer/backend/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrDuplicateComplaint is returned when a complaint with the same
// content_hash is already stored.
var ErrDuplicateComplaint = errors.New("complaint with this content hash already exists")

// FingerprintSource supplies the set of persisted complaint fingerprints.
type FingerprintSource interface {
	LoadAllFingerprints(ctx context.Context) (map[string]struct{}, error)
}

// Store is the persistence boundary of the pipeline.
type Store interface {
	FingerprintSource
	SaveComplaint(ctx context.Context, c *models.Complaint) error
	SaveIdea(ctx context.Context, idea *models.Idea) error
	SaveFailure(ctx context.Context, f *models.FailureRecord) error
}

type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) LoadAllFingerprints(ctx context.Context) (map[string]struct{}, error) {
	var hashes []string
	if err := s.db.WithContext(ctx).Model(&models.Complaint{}).Pluck("content_hash", &hashes).Error; err != nil {
		return nil, fmt.Errorf("load fingerprints: %w", err)
	}
	out := make(map[string]struct{}, len(hashes))
	for _, h := range hashes {
		out[h] = struct{}{}
	}
	return out, nil
}

// SaveComplaint inserts c, reporting ErrDuplicateComplaint when its
// content_hash is already taken.
func (s *GormStore) SaveComplaint(ctx context.Context, c *models.Complaint) error {
	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "content_hash"}}, DoNothing: true}).
		Create(c)
	if result.Error != nil {
		return fmt.Errorf("save complaint: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrDuplicateComplaint
	}
	return nil
}

func (s *GormStore) SaveIdea(ctx context.Context, idea *models.Idea) error {
	if err := s.db.WithContext(ctx).Create(idea).Error; err != nil {
		return fmt.Errorf("save idea: %w", err)
	}
	return nil
}

func (s *GormStore) SaveFailure(ctx context.Context, f *models.FailureRecord) error {
	if err := s.db.WithContext(ctx).Create(f).Error; err != nil {
		return fmt.Errorf("save failure: %w", err)
	}
	return nil
}

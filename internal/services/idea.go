package services

import (
	"errors"

	"github.com/huangang/ideaminer/backend/internal/models"
	"gorm.io/gorm"
)

var ErrIdeaNotFound = errors.New("idea not found")

var ideaSortColumns = map[string]string{
	"generated_at":  "generated_at",
	"score_overall": "score_overall",
	"score_market":  "score_market",
}

type IdeaListRequest struct {
	Page         int    `form:"page" binding:"omitempty,min=1"`
	PageSize     int    `form:"page_size" binding:"omitempty,min=1,max=500"`
	SortBy       string `form:"sort_by" binding:"omitempty,oneof=generated_at score_overall score_market"`
	Order        string `form:"order" binding:"omitempty,oneof=asc desc"`
	FavoriteOnly bool   `form:"favorite_only"`
	MinScore     *int   `form:"min_score" binding:"omitempty,min=1,max=10"`
}

type IdeaListResponse struct {
	Total    int64         `json:"total"`
	Page     int           `json:"page"`
	PageSize int           `json:"page_size"`
	Items    []models.Idea `json:"items"`
}

type IdeaSummary struct {
	TotalIdeas     int64   `json:"total_ideas"`
	TotalFavorites int64   `json:"total_favorites"`
	AvgMarket      float64 `json:"avg_market"`
	AvgTech        float64 `json:"avg_tech"`
	AvgOverall     float64 `json:"avg_overall"`
}

type IdeaService struct {
	db *gorm.DB
}

func NewIdeaService(db *gorm.DB) *IdeaService {
	return &IdeaService{db: db}
}

// List returns ideas with their complaint, newest first unless sorted otherwise.
func (s *IdeaService) List(req *IdeaListRequest) (*IdeaListResponse, error) {
	if req.Page == 0 {
		req.Page = 1
	}
	if req.PageSize == 0 {
		req.PageSize = 100
	}

	column, ok := ideaSortColumns[req.SortBy]
	if !ok {
		column = "generated_at"
	}
	direction := "DESC"
	if req.Order == "asc" {
		direction = "ASC"
	}

	var ideas []models.Idea
	var total int64

	query := s.db.Model(&models.Idea{})
	if req.FavoriteOnly {
		query = query.Where("is_favorite = ?", true)
	}
	if req.MinScore != nil {
		query = query.Where("score_overall >= ?", *req.MinScore)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, err
	}

	offset := (req.Page - 1) * req.PageSize
	if err := query.Preload("Complaint").
		Order(column + " " + direction).
		Offset(offset).Limit(req.PageSize).
		Find(&ideas).Error; err != nil {
		return nil, err
	}

	return &IdeaListResponse{
		Total:    total,
		Page:     req.Page,
		PageSize: req.PageSize,
		Items:    ideas,
	}, nil
}

func (s *IdeaService) GetByID(id string) (*models.Idea, error) {
	var idea models.Idea
	if err := s.db.Preload("Complaint").Where("id = ?", id).First(&idea).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrIdeaNotFound
		}
		return nil, err
	}
	return &idea, nil
}

// ToggleFavorite flips is_favorite and returns the new value.
func (s *IdeaService) ToggleFavorite(id string) (bool, error) {
	var idea models.Idea
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", id).First(&idea).Error; err != nil {
			return err
		}
		idea.IsFavorite = !idea.IsFavorite
		return tx.Model(&idea).Update("is_favorite", idea.IsFavorite).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, ErrIdeaNotFound
	}
	return idea.IsFavorite, err
}

func (s *IdeaService) Summary() (*IdeaSummary, error) {
	var summary IdeaSummary
	err := s.db.Model(&models.Idea{}).
		Select("COUNT(*) as total_ideas, " +
			"COALESCE(SUM(CASE WHEN is_favorite THEN 1 ELSE 0 END), 0) as total_favorites, " +
			"COALESCE(AVG(score_market), 0) as avg_market, " +
			"COALESCE(AVG(score_tech), 0) as avg_tech, " +
			"COALESCE(AVG(score_overall), 0) as avg_overall").
		Scan(&summary).Error
	if err != nil {
		return nil, err
	}
	return &summary, nil
}

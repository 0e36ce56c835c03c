package services

import (
	"errors"

	"github.com/huangang/ideaminer/backend/internal/models"
	"gorm.io/gorm"
)

var ErrComplaintNotFound = errors.New("complaint not found")

type ComplaintListRequest struct {
	Page       int    `form:"page" binding:"omitempty,min=1"`
	PageSize   int    `form:"page_size" binding:"omitempty,min=1,max=500"`
	Source     string `form:"source"`
	SearchText string `form:"search_text"`
}

type ComplaintListResponse struct {
	Total    int64              `json:"total"`
	Page     int                `json:"page"`
	PageSize int                `json:"page_size"`
	Items    []models.Complaint `json:"items"`
}

type ComplaintService struct {
	db *gorm.DB
}

func NewComplaintService(db *gorm.DB) *ComplaintService {
	return &ComplaintService{db: db}
}

func (s *ComplaintService) List(req *ComplaintListRequest) (*ComplaintListResponse, error) {
	if req.Page == 0 {
		req.Page = 1
	}
	if req.PageSize == 0 {
		req.PageSize = 20
	}

	var complaints []models.Complaint
	var total int64

	query := s.db.Model(&models.Complaint{})
	if req.Source != "" {
		query = query.Where("source = ?", req.Source)
	}
	if req.SearchText != "" {
		query = query.Where("content LIKE ?", "%"+req.SearchText+"%")
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, err
	}

	offset := (req.Page - 1) * req.PageSize
	if err := query.Offset(offset).Limit(req.PageSize).Order("scraped_at DESC").Find(&complaints).Error; err != nil {
		return nil, err
	}

	return &ComplaintListResponse{
		Total:    total,
		Page:     req.Page,
		PageSize: req.PageSize,
		Items:    complaints,
	}, nil
}

// GetByID returns a complaint together with its generated ideas.
func (s *ComplaintService) GetByID(id string) (*models.Complaint, error) {
	var complaint models.Complaint
	if err := s.db.Preload("Ideas").Where("id = ?", id).First(&complaint).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrComplaintNotFound
		}
		return nil, err
	}
	return &complaint, nil
}

// Counts returns the number of stored complaints and ideas.
func (s *ComplaintService) Counts() (complaints, ideas int64, err error) {
	if err = s.db.Model(&models.Complaint{}).Count(&complaints).Error; err != nil {
		return 0, 0, err
	}
	err = s.db.Model(&models.Idea{}).Count(&ideas).Error
	return complaints, ideas, err
}

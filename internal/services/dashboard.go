package services

import (
	"time"

	"github.com/huangang/ideaminer/backend/internal/models"
	"gorm.io/gorm"
)

type DashboardService struct {
	db  *gorm.DB
	now func() time.Time
}

func NewDashboardService(db *gorm.DB) *DashboardService {
	return &DashboardService{db: db, now: time.Now}
}

type DashboardStatsRequest struct {
	StartDate string `form:"start_date"`
	EndDate   string `form:"end_date"`
	TopLimit  int    `form:"top_limit" binding:"omitempty,min=1,max=50"`
}

type DashboardStats struct {
	ComplaintsScraped int64   `json:"complaints_scraped"`
	IdeasGenerated    int64   `json:"ideas_generated"`
	AverageScore      float64 `json:"average_score"`
	Failures          int64   `json:"failures"`
}

type SourceStats struct {
	Source         string  `json:"source"`
	ComplaintCount int64   `json:"complaint_count"`
	IdeaCount      int64   `json:"idea_count"`
	AvgScore       float64 `json:"avg_score"`
}

type FailureStats struct {
	Source    string `json:"source"`
	ErrorType string `json:"error_type"`
	Count     int64  `json:"count"`
}

type DashboardResponse struct {
	StartDate    time.Time      `json:"start_date"`
	EndDate      time.Time      `json:"end_date"`
	Stats        DashboardStats `json:"stats"`
	SourceStats  []SourceStats  `json:"source_stats"`
	FailureStats []FailureStats `json:"failure_stats"`
	TopIdeas     []models.Idea  `json:"top_ideas"`
}

// GetStats aggregates complaints, ideas and failures in a date range,
// the last seven days by default. Unparseable dates fall back to the default.
func (s *DashboardService) GetStats(req *DashboardStatsRequest) (*DashboardResponse, error) {
	now := s.now()
	startDate := now.AddDate(0, 0, -7)
	endDate := now

	if req.StartDate != "" {
		if t, err := time.ParseInLocation("2006-01-02", req.StartDate, now.Location()); err == nil {
			startDate = t
		}
	}
	if req.EndDate != "" {
		if t, err := time.ParseInLocation("2006-01-02", req.EndDate, now.Location()); err == nil {
			endDate = t.Add(24*time.Hour - time.Second)
		}
	}
	topLimit := req.TopLimit
	if topLimit <= 0 {
		topLimit = 5
	}

	resp := &DashboardResponse{StartDate: startDate, EndDate: endDate}
	stats := &resp.Stats

	if err := s.db.Model(&models.Complaint{}).
		Where("scraped_at BETWEEN ? AND ?", startDate, endDate).
		Count(&stats.ComplaintsScraped).Error; err != nil {
		return nil, err
	}

	if err := s.db.Model(&models.Idea{}).
		Where("generated_at BETWEEN ? AND ?", startDate, endDate).
		Count(&stats.IdeasGenerated).Error; err != nil {
		return nil, err
	}

	if err := s.db.Model(&models.Idea{}).
		Where("generated_at BETWEEN ? AND ?", startDate, endDate).
		Select("COALESCE(AVG(score_overall), 0)").
		Scan(&stats.AverageScore).Error; err != nil {
		return nil, err
	}

	if err := s.db.Model(&models.FailureRecord{}).
		Where("occurred_at BETWEEN ? AND ?", startDate, endDate).
		Count(&stats.Failures).Error; err != nil {
		return nil, err
	}

	if err := s.db.Table("complaints AS c").
		Select("c.source AS source, COUNT(DISTINCT c.id) AS complaint_count, COUNT(i.id) AS idea_count, COALESCE(AVG(i.score_overall), 0) AS avg_score").
		Joins("LEFT JOIN ideas AS i ON i.complaint_id = c.id").
		Where("c.scraped_at BETWEEN ? AND ?", startDate, endDate).
		Group("c.source").
		Order("complaint_count DESC").
		Scan(&resp.SourceStats).Error; err != nil {
		return nil, err
	}

	if err := s.db.Model(&models.FailureRecord{}).
		Select("source, error_type, COUNT(*) AS count").
		Where("occurred_at BETWEEN ? AND ?", startDate, endDate).
		Group("source, error_type").
		Order("count DESC").
		Scan(&resp.FailureStats).Error; err != nil {
		return nil, err
	}

	if err := s.db.Where("generated_at BETWEEN ? AND ?", startDate, endDate).
		Order("score_overall DESC, generated_at DESC").
		Limit(topLimit).
		Find(&resp.TopIdeas).Error; err != nil {
		return nil, err
	}

	return resp, nil
}

package models

import "time"

// Idea is a scored startup idea generated for exactly one complaint.
type Idea struct {
	ID                string     `gorm:"primaryKey;size:36" json:"id"`
	ComplaintID       string     `gorm:"size:36;not null;index" json:"complaint_id"`
	Complaint         *Complaint `gorm:"foreignKey:ComplaintID" json:"complaint,omitempty"`
	IdeaText          string     `gorm:"type:text;not null" json:"idea_text"`
	ScoreMarket       int        `gorm:"not null;check:score_market BETWEEN 1 AND 10" json:"score_market"`
	ScoreTech         int        `gorm:"not null;check:score_tech BETWEEN 1 AND 10" json:"score_tech"`
	ScoreCompetition  int        `gorm:"not null;check:score_competition BETWEEN 1 AND 10" json:"score_competition"`
	ScoreMonetisation int        `gorm:"not null;check:score_monetisation BETWEEN 1 AND 10" json:"score_monetisation"`
	ScoreFeasibility  int        `gorm:"not null;check:score_feasibility BETWEEN 1 AND 10" json:"score_feasibility"`
	ScoreOverall      int        `gorm:"not null;index;check:score_overall BETWEEN 1 AND 10" json:"score_overall"`
	RawResponse       JSONMap    `gorm:"type:text" json:"raw_response,omitempty"`
	TokensUsed        *int       `json:"tokens_used"`
	GeneratedAt       time.Time  `gorm:"index" json:"generated_at"`
	IsFavorite        bool       `gorm:"default:false;index" json:"is_favorite"`
}

func (Idea) TableName() string { return "ideas" }

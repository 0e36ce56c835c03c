package models

import "time"

// AIUsageLog records each idea-generation call for cost and usage tracking.
type AIUsageLog struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	ComplaintID      string    `gorm:"size:36;index" json:"complaint_id"`
	Provider         string    `gorm:"size:50" json:"provider"`
	Model            string    `gorm:"size:100" json:"model"`
	PromptTokens     int       `json:"prompt_tokens"`
	CompletionTokens int       `json:"completion_tokens"`
	TotalTokens      int       `json:"total_tokens"`
	Cost             float64   `json:"cost"`
	LatencyMs        int64     `json:"latency_ms"`
	Success          bool      `json:"success"`
	ErrorMessage     string    `gorm:"size:500" json:"error_message,omitempty"`
	CreatedAt        time.Time `gorm:"index" json:"created_at"`
}

func (AIUsageLog) TableName() string { return "ai_usage_logs" }

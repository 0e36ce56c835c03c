package models

import "time"

// FailureRecord is an append-only record of a URL that could not be
// fetched or parsed.
type FailureRecord struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	Source       string    `gorm:"size:50;not null;index" json:"source"`
	URL          string    `gorm:"size:1000" json:"url,omitempty"`
	ErrorMessage string    `gorm:"type:text" json:"error_message,omitempty"`
	ErrorType    string    `gorm:"size:100;index" json:"error_type,omitempty"`
	OccurredAt   time.Time `gorm:"index" json:"occurred_at"`
	RetryCount   int       `gorm:"default:0" json:"retry_count"`
}

func (FailureRecord) TableName() string { return "errors" }

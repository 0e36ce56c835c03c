package models

import "time"

const (
	SourceForum    = "forum"
	SourceAppStore = "appstore"
)

// Complaint is a filtered, deduplicated piece of user text. It is never
// updated after creation; ContentHash is unique across the store.
type Complaint struct {
	ID             string    `gorm:"primaryKey;size:36" json:"id"`
	Source         string    `gorm:"size:50;not null;index" json:"source"`
	SourceURL      string    `gorm:"size:1000" json:"source_url,omitempty"`
	Content        string    `gorm:"type:text;not null" json:"content"`
	ContentHash    string    `gorm:"size:40;uniqueIndex;not null" json:"content_hash"`
	SentimentScore *float64  `json:"sentiment_score"`
	ScrapedAt      time.Time `gorm:"index" json:"scraped_at"`
	ExtraData      JSONMap   `gorm:"type:text" json:"extra_data,omitempty"`
	Ideas          []Idea    `gorm:"foreignKey:ComplaintID" json:"ideas,omitempty"`
}

func (Complaint) TableName() string { return "complaints" }

// IsIdea reports whether the filter classified the text as a feature request.
func (c *Complaint) IsIdea() bool {
	if c.ExtraData == nil {
		return false
	}
	v, ok := c.ExtraData["is_idea"].(bool)
	return ok && v
}

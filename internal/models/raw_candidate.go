package models

// RawCandidate is unfiltered text emitted by a source adapter. It is
// consumed by the complaint processor and never persisted directly.
type RawCandidate struct {
	Content   string                 `json:"content"`
	Source    string                 `json:"source"`
	SourceURL string                 `json:"source_url,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

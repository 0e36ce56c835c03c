package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/huangang/ideaminer/backend/internal/models"
	"github.com/huangang/ideaminer/backend/pkg/logger"
)

type ProcessOutcome int

const (
	OutcomeAccepted ProcessOutcome = iota
	OutcomeFiltered
	OutcomeDuplicate
	OutcomeMalformed
)

func (o ProcessOutcome) String() string {
	switch o {
	case OutcomeAccepted:
		return "accepted"
	case OutcomeFiltered:
		return "filtered_sentiment"
	case OutcomeDuplicate:
		return "filtered_duplicate"
	default:
		return "malformed"
	}
}

type ProcessingStats struct {
	Total             int `json:"total"`
	Processed         int `json:"processed"`
	FilteredSentiment int `json:"filtered_sentiment"`
	FilteredDuplicate int `json:"filtered_duplicate"`
	Errors            int `json:"errors"`
}

// ComplaintProcessor turns raw candidates into new complaints by applying
// the sentiment admission rule and fingerprint deduplication.
type ComplaintProcessor struct {
	analyzer     *SentimentAnalyzer
	deduplicator *Deduplicator
	fingerprints FingerprintSource
	now          func() time.Time
}

func NewComplaintProcessor(analyzer *SentimentAnalyzer, deduplicator *Deduplicator, fingerprints FingerprintSource) *ComplaintProcessor {
	return &ComplaintProcessor{
		analyzer:     analyzer,
		deduplicator: deduplicator,
		fingerprints: fingerprints,
		now:          time.Now,
	}
}

// ProcessOne returns a new complaint for candidate, or nil with the reason
// it was dropped. An accepted fingerprint is added to seen.
func (p *ComplaintProcessor) ProcessOne(candidate models.RawCandidate, known, seen map[string]struct{}) (*models.Complaint, ProcessOutcome) {
	if strings.TrimSpace(candidate.Content) == "" || candidate.Source == "" {
		return nil, OutcomeMalformed
	}

	if !p.analyzer.ShouldKeep(candidate.Content) {
		return nil, OutcomeFiltered
	}

	hash := p.deduplicator.Fingerprint(candidate.Content)
	if _, ok := known[hash]; ok {
		return nil, OutcomeDuplicate
	}
	if _, ok := seen[hash]; ok {
		return nil, OutcomeDuplicate
	}
	seen[hash] = struct{}{}

	score := p.analyzer.Analyze(candidate.Content)
	extra := make(models.JSONMap, len(candidate.Metadata)+1)
	for k, v := range candidate.Metadata {
		extra[k] = v
	}
	extra["is_idea"] = p.analyzer.IsIdeaOrRequest(candidate.Content)

	return &models.Complaint{
		ID:             uuid.NewString(),
		Source:         candidate.Source,
		SourceURL:      candidate.SourceURL,
		Content:        candidate.Content,
		ContentHash:    hash,
		SentimentScore: &score,
		ScrapedAt:      p.now(),
		ExtraData:      extra,
	}, OutcomeAccepted
}

// ProcessBatch reads the stored fingerprints once, then processes the
// candidates in order so the first occurrence of a fingerprint wins. It
// does not write to the store.
func (p *ComplaintProcessor) ProcessBatch(ctx context.Context, candidates []models.RawCandidate) ([]*models.Complaint, *ProcessingStats, error) {
	known, err := p.fingerprints.LoadAllFingerprints(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("process batch: %w", err)
	}

	stats := &ProcessingStats{Total: len(candidates)}
	seen := make(map[string]struct{})
	var complaints []*models.Complaint

	for _, candidate := range candidates {
		complaint, outcome := p.ProcessOne(candidate, known, seen)
		switch outcome {
		case OutcomeAccepted:
			complaints = append(complaints, complaint)
			stats.Processed++
		case OutcomeFiltered:
			stats.FilteredSentiment++
		case OutcomeDuplicate:
			stats.FilteredDuplicate++
		case OutcomeMalformed:
			stats.Errors++
		}
	}

	logger.Infof("[Processor] Batch done: total=%d processed=%d filtered_sentiment=%d filtered_duplicate=%d errors=%d",
		stats.Total, stats.Processed, stats.FilteredSentiment, stats.FilteredDuplicate, stats.Errors)
	return complaints, stats, nil
}

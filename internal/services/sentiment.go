package services

import (
	"strings"
	"sync"

	"github.com/jonreiter/govader"
)

// DefaultIdeaMarkers are the phrases that flag a text as a feature request.
var DefaultIdeaMarkers = []string{
	"i wish",
	"would be great",
	"should have",
	"needs to",
	"if only",
	"please add",
	"can you add",
	"hope they add",
	"is there an app",
	"can someone make",
	"why isn't there",
}

var (
	vaderOnce     sync.Once
	vaderAnalyzer *govader.SentimentIntensityAnalyzer
)

// sharedVader builds the VADER analyzer once; it is read-only afterwards.
func sharedVader() *govader.SentimentIntensityAnalyzer {
	vaderOnce.Do(func() {
		vaderAnalyzer = govader.NewSentimentIntensityAnalyzer()
	})
	return vaderAnalyzer
}

// SentimentScores holds the compound score plus the share of positive,
// negative and neutral tokens.
type SentimentScores struct {
	Compound float64 `json:"compound"`
	Positive float64 `json:"pos"`
	Negative float64 `json:"neg"`
	Neutral  float64 `json:"neu"`
}

type SentimentResult struct {
	Text       string  `json:"text"`
	Compound   float64 `json:"compound"`
	IsNegative bool    `json:"is_negative"`
	IsIdea     bool    `json:"is_idea"`
	Keep       bool    `json:"keep"`
}

// SentimentAnalyzer decides whether a text carries a complaint or a
// feature request.
type SentimentAnalyzer struct {
	threshold float64
	markers   []string
	vader     *govader.SentimentIntensityAnalyzer
}

func NewSentimentAnalyzer(threshold float64, markers []string) *SentimentAnalyzer {
	if len(markers) == 0 {
		markers = DefaultIdeaMarkers
	}
	lowered := make([]string, len(markers))
	for i, m := range markers {
		lowered[i] = strings.ToLower(m)
	}
	return &SentimentAnalyzer{
		threshold: threshold,
		markers:   lowered,
		vader:     sharedVader(),
	}
}

// Analyze returns the compound sentiment in [-1, 1]. Empty text scores 0.
func (s *SentimentAnalyzer) Analyze(text string) float64 {
	return s.DetailedScores(text).Compound
}

// IsNegative reports whether the compound score is below the threshold.
func (s *SentimentAnalyzer) IsNegative(text string) bool {
	if strings.TrimSpace(text) == "" {
		return false
	}
	return s.Analyze(text) < s.threshold
}

// IsIdeaOrRequest reports whether text contains any idea marker phrase.
func (s *SentimentAnalyzer) IsIdeaOrRequest(text string) bool {
	lower := strings.ToLower(text)
	for _, m := range s.markers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

// ShouldKeep is the admission rule of the complaint pipeline.
func (s *SentimentAnalyzer) ShouldKeep(text string) bool {
	return s.IsNegative(text) || s.IsIdeaOrRequest(text)
}

func (s *SentimentAnalyzer) BatchAnalyze(texts []string) []SentimentResult {
	out := make([]SentimentResult, len(texts))
	for i, text := range texts {
		compound := s.Analyze(text)
		negative := strings.TrimSpace(text) != "" && compound < s.threshold
		idea := s.IsIdeaOrRequest(text)
		out[i] = SentimentResult{
			Text:       text,
			Compound:   compound,
			IsNegative: negative,
			IsIdea:     idea,
			Keep:       negative || idea,
		}
	}
	return out
}

// DetailedScores returns the VADER polarity scores of text.
func (s *SentimentAnalyzer) DetailedScores(text string) SentimentScores {
	if strings.TrimSpace(text) == "" {
		return SentimentScores{}
	}
	p := s.vader.PolarityScores(text)
	return SentimentScores{
		Compound: p.Compound,
		Positive: p.Positive,
		Negative: p.Negative,
		Neutral:  p.Neutral,
	}
}

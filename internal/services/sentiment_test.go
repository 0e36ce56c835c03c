package services

import (
	"math"
	"testing"
)

func TestSentimentAnalyzer_ShouldKeep(t *testing.T) {
	s := NewSentimentAnalyzer(-0.3, nil)

	tests := []struct {
		name     string
		text     string
		negative bool
		idea     bool
		keep     bool
	}{
		{name: "positive praise", text: "This app is amazing and works perfectly", negative: false, idea: false, keep: false},
		{name: "negative complaint", text: "This app is terrible and crashes constantly", negative: true, idea: false, keep: true},
		{name: "idea marker", text: "I wish this app had dark mode", negative: false, idea: true, keep: true},
		{name: "marker is case-insensitive", text: "PLEASE ADD an export button", negative: false, idea: true, keep: true},
		{name: "empty", text: "", negative: false, idea: false, keep: false},
		{name: "whitespace", text: "   ", negative: false, idea: false, keep: false},
		{name: "neutral statement", text: "The app opens a calendar view", negative: false, idea: false, keep: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.IsNegative(tt.text); got != tt.negative {
				t.Errorf("IsNegative(%q) = %v, expected %v (score %.3f)", tt.text, got, tt.negative, s.Analyze(tt.text))
			}
			if got := s.IsIdeaOrRequest(tt.text); got != tt.idea {
				t.Errorf("IsIdeaOrRequest(%q) = %v, expected %v", tt.text, got, tt.idea)
			}
			if got := s.ShouldKeep(tt.text); got != tt.keep {
				t.Errorf("ShouldKeep(%q) = %v, expected %v", tt.text, got, tt.keep)
			}
		})
	}
}

func TestSentimentAnalyzer_AnalyzeBounds(t *testing.T) {
	s := NewSentimentAnalyzer(-0.3, nil)

	texts := []string{
		"",
		"terrible horrible awful worst useless garbage broken crashes!!!!",
		"AMAZING AMAZING amazing love love best perfect wonderful",
		"not bad",
	}
	for _, text := range texts {
		score := s.Analyze(text)
		if score < -1 || score > 1 {
			t.Errorf("Analyze(%q) = %v, expected within [-1,1]", text, score)
		}
	}
	if s.Analyze("") != 0 {
		t.Errorf("Analyze(\"\") = %v, expected 0", s.Analyze(""))
	}
}

func TestSentimentAnalyzer_Negation(t *testing.T) {
	s := NewSentimentAnalyzer(-0.3, nil)

	if s.Analyze("this is bad") >= 0 {
		t.Error("expected negative score for 'this is bad'")
	}
	if s.Analyze("this is not bad") <= 0 {
		t.Error("expected negation to flip 'not bad' positive")
	}
}

func TestSentimentAnalyzer_Emphasis(t *testing.T) {
	s := NewSentimentAnalyzer(-0.3, nil)

	plain := s.Analyze("the sync is bad")
	boosted := s.Analyze("the sync is really bad")
	shouted := s.Analyze("the sync is BAD")
	exclaimed := s.Analyze("the sync is bad!!")

	for name, v := range map[string]float64{"booster": boosted, "caps": shouted, "exclamation": exclaimed} {
		if v >= plain {
			t.Errorf("%s score %.3f should be more negative than %.3f", name, v, plain)
		}
	}
}

func TestSentimentAnalyzer_CustomMarkers(t *testing.T) {
	s := NewSentimentAnalyzer(-0.3, []string{"Feature Request"})

	if !s.IsIdeaOrRequest("feature request: offline mode") {
		t.Error("expected custom marker to match")
	}
	if s.IsIdeaOrRequest("I wish it had offline mode") {
		t.Error("default markers should be replaced by custom ones")
	}
}

func TestSentimentAnalyzer_DetailedScores(t *testing.T) {
	s := NewSentimentAnalyzer(-0.3, nil)

	scores := s.DetailedScores("the app is terrible")
	if scores.Compound >= 0 {
		t.Errorf("compound = %v, expected negative", scores.Compound)
	}
	if scores.Negative <= 0 || scores.Positive != 0 {
		t.Errorf("pos/neg = %v/%v, expected only negative share", scores.Positive, scores.Negative)
	}
	sum := scores.Positive + scores.Negative + scores.Neutral
	if sum < 0.99 || sum > 1.01 {
		t.Errorf("shares sum = %v, expected ~1", sum)
	}

	if empty := s.DetailedScores(""); empty != (SentimentScores{}) {
		t.Errorf("empty scores = %+v, expected zero", empty)
	}
}

func TestSentimentAnalyzer_BatchAnalyze(t *testing.T) {
	s := NewSentimentAnalyzer(-0.3, nil)

	results := s.BatchAnalyze([]string{
		"This app is terrible and crashes constantly",
		"This app is amazing and works perfectly",
		"Can someone make a better budget tracker",
	})
	expectedKeep := []bool{true, false, true}
	for i, r := range results {
		if r.Keep != expectedKeep[i] {
			t.Errorf("results[%d].Keep = %v, expected %v", i, r.Keep, expectedKeep[i])
		}
	}
	if !results[2].IsIdea {
		t.Error("expected results[2] to be flagged as idea")
	}
}

func TestSentimentAnalyzer_VaderReferenceScores(t *testing.T) {
	s := NewSentimentAnalyzer(-0.3, nil)

	tests := []struct {
		text     string
		compound float64
		keep     bool
	}{
		{text: "This app keeps crashing when I try to save my work", compound: 0.494, keep: false},
		{text: "Ads pop up every ten seconds, unusable garbage", compound: 0, keep: false},
		{text: "Battery drain is insane since last update", compound: -0.402, keep: true},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got := s.Analyze(tt.text)
			if math.Abs(got-tt.compound) > 0.01 {
				t.Errorf("Analyze(%q) = %.3f, expected %.3f", tt.text, got, tt.compound)
			}
			if keep := s.ShouldKeep(tt.text); keep != tt.keep {
				t.Errorf("ShouldKeep(%q) = %v, expected %v", tt.text, keep, tt.keep)
			}
		})
	}
}

package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/huangang/ideaminer/backend/internal/config"
	"github.com/huangang/ideaminer/backend/internal/models"
	"github.com/huangang/ideaminer/backend/pkg/logger"
)

// RunDigest summarises a finished run for chat notifications.
type RunDigest struct {
	Stats *PipelineStats
	Ideas []*models.Idea // best first, already filtered by the minimum score
}

// NotificationAdapter formats a digest for one chat platform.
type NotificationAdapter interface {
	Send(ctx context.Context, webhook string, digest *RunDigest) error
}

func getAdapter(kind string) NotificationAdapter {
	switch kind {
	case "slack":
		return &slackAdapter{}
	case "discord":
		return &discordAdapter{}
	default:
		return &genericAdapter{}
	}
}

// NotificationService posts a digest of high-scoring ideas after each run.
type NotificationService struct {
	webhooks []config.WebhookConfig
	minScore int
	maxIdeas int
}

func NewNotificationService(cfg *config.NotifyConfig) *NotificationService {
	minScore := cfg.MinScore
	if minScore <= 0 {
		minScore = 7
	}
	maxIdeas := cfg.MaxIdeas
	if maxIdeas <= 0 {
		maxIdeas = 5
	}
	return &NotificationService{
		webhooks: cfg.Webhooks,
		minScore: minScore,
		maxIdeas: maxIdeas,
	}
}

func (s *NotificationService) Enabled() bool {
	return s != nil && len(s.webhooks) > 0
}

// NotifyRun sends the digest to every webhook. Runs without a qualifying
// idea send nothing. Delivery failures are logged and do not stop the
// remaining webhooks; the first one is returned.
func (s *NotificationService) NotifyRun(ctx context.Context, stats *PipelineStats, ideas []*models.Idea) error {
	if !s.Enabled() {
		return nil
	}

	digest := s.buildDigest(stats, ideas)
	if len(digest.Ideas) == 0 {
		logger.Debugf("[Notification] No idea scored %d or more, skipping", s.minScore)
		return nil
	}

	var firstErr error
	for _, wh := range s.webhooks {
		if err := getAdapter(wh.Type).Send(ctx, wh.URL, digest); err != nil {
			logger.Errorf("[Notification] %s webhook failed: %v", wh.Type, err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		logger.Infof("[Notification] Sent %d ideas to %s webhook", len(digest.Ideas), wh.Type)
	}
	return firstErr
}

func (s *NotificationService) buildDigest(stats *PipelineStats, ideas []*models.Idea) *RunDigest {
	var top []*models.Idea
	for _, idea := range ideas {
		if idea.ScoreOverall >= s.minScore {
			top = append(top, idea)
		}
	}
	sort.SliceStable(top, func(i, j int) bool { return top[i].ScoreOverall > top[j].ScoreOverall })
	if len(top) > s.maxIdeas {
		top = top[:s.maxIdeas]
	}
	return &RunDigest{Stats: stats, Ideas: top}
}

// --- Helper functions shared by adapters ---

func postJSON(ctx context.Context, webhookURL string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := notificationHTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned status %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

var notificationHTTPClient = &http.Client{Timeout: 10 * time.Second}

// splitMessage cuts msg into chunks of at most maxLen bytes, preferring
// line breaks in the second half of each chunk.
func splitMessage(msg string, maxLen int) []string {
	if len(msg) <= maxLen {
		return []string{msg}
	}

	var parts []string
	remaining := msg

	for len(remaining) > 0 {
		if len(remaining) <= maxLen {
			parts = append(parts, remaining)
			break
		}

		chunk := remaining[:maxLen]
		breakPoint := maxLen

		for i := len(chunk) - 1; i > maxLen/2; i-- {
			if chunk[i] == '\n' {
				breakPoint = i + 1
				break
			}
		}

		parts = append(parts, remaining[:breakPoint])
		remaining = remaining[breakPoint:]
	}

	return parts
}

func scoreEmoji(score int) string {
	switch {
	case score >= 8:
		return "🟢"
	case score >= 5:
		return "🟡"
	default:
		return "🔴"
	}
}

func buildMessage(d *RunDigest) string {
	var sb strings.Builder
	sb.WriteString("## Idea Miner Run Report\n\n")
	if d.Stats != nil {
		fmt.Fprintf(&sb, "**Scraped**: %d  **Processed**: %d  **Ideas**: %d  **Errors**: %d\n",
			d.Stats.ComplaintsScraped, d.Stats.ComplaintsProcessed, d.Stats.IdeasGenerated, d.Stats.Errors)
		if d.Stats.HaltedByCostGuard {
			sb.WriteString("⚠️ Generation was halted by the cost guard\n")
		}
	}
	sb.WriteString("\n")
	for i, idea := range d.Ideas {
		fmt.Fprintf(&sb, "%d. %s **%d/10** %s\n", i+1, scoreEmoji(idea.ScoreOverall), idea.ScoreOverall, idea.IdeaText)
		fmt.Fprintf(&sb, "   market %d · tech %d · competition %d · monetisation %d · feasibility %d\n",
			idea.ScoreMarket, idea.ScoreTech, idea.ScoreCompetition, idea.ScoreMonetisation, idea.ScoreFeasibility)
	}
	return sb.String()
}

// slackAdapter handles Slack incoming webhooks
type slackAdapter struct{}

func (a *slackAdapter) Send(ctx context.Context, webhook string, d *RunDigest) error {
	// Slack mrkdwn uses single asterisks for bold.
	text := strings.ReplaceAll(buildMessage(d), "**", "*")
	text = strings.Replace(text, "## Idea Miner Run Report", "*Idea Miner Run Report*", 1)

	const maxLen = 3000
	parts := splitMessage(text, maxLen)
	for _, part := range parts {
		payload := map[string]any{
			"text": part,
			"blocks": []map[string]any{
				{
					"type": "section",
					"text": map[string]string{"type": "mrkdwn", "text": part},
				},
			},
		}
		if err := postJSON(ctx, webhook, payload); err != nil {
			return err
		}
	}
	return nil
}

// discordAdapter handles Discord webhooks
type discordAdapter struct{}

func (a *discordAdapter) Send(ctx context.Context, webhook string, d *RunDigest) error {
	const maxLen = 2000
	for _, part := range splitMessage(buildMessage(d), maxLen) {
		if err := postJSON(ctx, webhook, map[string]any{"content": part}); err != nil {
			return err
		}
	}
	return nil
}

type genericIdea struct {
	ID          string `json:"id"`
	ComplaintID string `json:"complaint_id"`
	IdeaText    string `json:"idea_text"`
	Score       int    `json:"score_overall"`
}

// genericAdapter posts the digest as plain JSON
type genericAdapter struct{}

func (a *genericAdapter) Send(ctx context.Context, webhook string, d *RunDigest) error {
	ideas := make([]genericIdea, 0, len(d.Ideas))
	for _, idea := range d.Ideas {
		ideas = append(ideas, genericIdea{ID: idea.ID, ComplaintID: idea.ComplaintID, IdeaText: idea.IdeaText, Score: idea.ScoreOverall})
	}
	return postJSON(ctx, webhook, map[string]any{
		"type":  "pipeline_run",
		"stats": d.Stats,
		"ideas": ideas,
	})
}

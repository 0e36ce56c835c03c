package scrapers

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/huangang/ideaminer/backend/internal/config"
	"github.com/huangang/ideaminer/backend/internal/fetcher"
	"github.com/huangang/ideaminer/backend/internal/models"
	"github.com/huangang/ideaminer/backend/pkg/logger"
)

const (
	minReviewTextLen = 10
	maxNegativeStars = 3
)

// ErrUnrecognizedMarkup means no parser strategy found any review.
var ErrUnrecognizedMarkup = errors.New("no review markup recognized")

// AppStoreAdapter scrapes low-star reviews from app-store detail pages.
type AppStoreAdapter struct {
	cfg     config.AppStoreConfig
	baseURL string
	fetcher *fetcher.Fetcher
}

func NewAppStoreAdapter(cfg config.AppStoreConfig, f *fetcher.Fetcher) *AppStoreAdapter {
	if cfg.ReviewsPerApp <= 0 {
		cfg.ReviewsPerApp = 200
	}
	if cfg.CategoryAppLimit <= 0 {
		cfg.CategoryAppLimit = 10
	}
	return &AppStoreAdapter{
		cfg:     cfg,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		fetcher: f,
	}
}

func (a *AppStoreAdapter) Name() string { return models.SourceAppStore }

func (a *AppStoreAdapter) Failures() []models.FailureRecord { return a.fetcher.Failures() }

func (a *AppStoreAdapter) ResetFailures() { a.fetcher.ResetFailures() }

// Scrape collects reviews for the configured apps, or for apps discovered
// from the configured categories when no app is configured.
func (a *AppStoreAdapter) Scrape(ctx context.Context) ([]models.RawCandidate, error) {
	appIDs := a.cfg.AppIDs
	if len(appIDs) == 0 {
		for _, category := range a.cfg.Categories {
			ids, err := a.DiscoverApps(ctx, category)
			if err != nil {
				logger.Warnf("[AppStore] Category %s discovery failed: %v", category, err)
				continue
			}
			appIDs = append(appIDs, ids...)
		}
	}
	appIDs = uniqueStrings(appIDs)

	logger.Infof("[AppStore] Scraping reviews for %d apps", len(appIDs))
	urls := make([]string, len(appIDs))
	byURL := make(map[string]string, len(appIDs))
	for i, id := range appIDs {
		urls[i] = a.detailsURL(id)
		byURL[urls[i]] = id
	}

	reviews := a.fetcher.FetchAll(ctx, urls, func(resp *fetcher.Response) ([]models.RawCandidate, error) {
		return a.ParseReviews(string(resp.Body), resp.URL, byURL[resp.URL])
	})

	logger.Infof("[AppStore] Scraped %d negative reviews", len(reviews))
	return reviews, nil
}

// DiscoverApps returns up to CategoryAppLimit distinct app IDs listed on a
// category page.
func (a *AppStoreAdapter) DiscoverApps(ctx context.Context, category string) ([]string, error) {
	categoryURL := fmt.Sprintf("%s/store/apps/category/%s", a.baseURL, url.PathEscape(strings.ToUpper(category)))
	resp, err := a.fetcher.Get(ctx, categoryURL)
	if err != nil {
		return nil, err
	}

	ids := extractAppIDs(string(resp.Body), a.cfg.CategoryAppLimit)
	logger.Infof("[AppStore] Category %s: discovered %d apps", category, len(ids))
	return ids, nil
}

// ScrapeAppByName resolves an app through the store search page and
// scrapes the reviews of the first hit.
func (a *AppStoreAdapter) ScrapeAppByName(ctx context.Context, name string) ([]models.RawCandidate, error) {
	searchURL := fmt.Sprintf("%s/store/search?q=%s&c=apps", a.baseURL, url.QueryEscape(name))
	resp, err := a.fetcher.Get(ctx, searchURL)
	if err != nil {
		return nil, err
	}

	ids := extractAppIDs(string(resp.Body), 1)
	if len(ids) == 0 {
		return nil, fmt.Errorf("no app found for %q", name)
	}

	appID := ids[0]
	logger.Infof("[AppStore] Resolved %q to %s", name, appID)
	return a.fetcher.FetchAndParse(ctx, a.detailsURL(appID), func(resp *fetcher.Response) ([]models.RawCandidate, error) {
		return a.ParseReviews(string(resp.Body), resp.URL, appID)
	})
}

// ParseReviews runs the review strategies in order and keeps the first
// one that yields a usable review. Reviews above three stars or shorter
// than ten characters are dropped before that decision, so a page whose
// embedded data holds only positive reviews still reaches the DOM cards.
func (a *AppStoreAdapter) ParseReviews(markup, sourceURL, appID string) ([]models.RawCandidate, error) {
	appName := extractAppName(markup)
	if appName == "" {
		appName = appID
	}

	recognized := false
	for _, strategy := range reviewStrategies {
		found := strategy.parse(markup)
		if len(found) == 0 {
			continue
		}
		recognized = true
		out := a.negativeCandidates(found, sourceURL, appID, appName)
		logger.Debug().Str("strategy", strategy.name).Int("reviews", len(found)).Int("kept", len(out)).Str("app", appID).Msg("[AppStore] parsed reviews")
		if len(out) > 0 {
			return out, nil
		}
	}
	if !recognized {
		return nil, ErrUnrecognizedMarkup
	}
	return nil, nil
}

func (a *AppStoreAdapter) negativeCandidates(found []review, sourceURL, appID, appName string) []models.RawCandidate {
	var out []models.RawCandidate
	for _, r := range found {
		if len(out) >= a.cfg.ReviewsPerApp {
			break
		}
		if r.Rating < 1 || r.Rating > maxNegativeStars {
			continue
		}
		text := strings.TrimSpace(r.Text)
		if textLen(text) < minReviewTextLen {
			continue
		}
		out = append(out, models.RawCandidate{
			Content:   text,
			Source:    models.SourceAppStore,
			SourceURL: sourceURL,
			Metadata: map[string]interface{}{
				"type":        "review",
				"app_id":      appID,
				"app_name":    appName,
				"reviewer":    r.Reviewer,
				"rating":      r.Rating,
				"review_date": r.Date,
			},
		})
	}
	return out
}

func (a *AppStoreAdapter) detailsURL(appID string) string {
	return fmt.Sprintf("%s/store/apps/details?id=%s&hl=en&showAllReviews=true", a.baseURL, url.QueryEscape(appID))
}

func uniqueStrings(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

package scrapers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/huangang/ideaminer/backend/internal/config"
	"github.com/huangang/ideaminer/backend/internal/fetcher"
	"github.com/huangang/ideaminer/backend/internal/models"
	"github.com/huangang/ideaminer/backend/pkg/logger"
)

const (
	minForumTextLen  = 20
	commentPageLimit = 100
)

var deletedPlaceholders = map[string]bool{
	"[deleted]": true,
	"[removed]": true,
}

type forumListing struct {
	Kind string `json:"kind"`
	Data struct {
		Children []forumThing `json:"children"`
	} `json:"data"`
}

type forumThing struct {
	Kind string         `json:"kind"`
	Data forumThingData `json:"data"`
}

type forumThingData struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Title       string  `json:"title"`
	Selftext    string  `json:"selftext"`
	Body        string  `json:"body"`
	Author      string  `json:"author"`
	Subreddit   string  `json:"subreddit"`
	Permalink   string  `json:"permalink"`
	LinkID      string  `json:"link_id"`
	IsVideo     bool    `json:"is_video"`
	IsGallery   bool    `json:"is_gallery"`
	Score       int     `json:"score"`
	NumComments int     `json:"num_comments"`
	CreatedUTC  float64 `json:"created_utc"`
}

// ForumAdapter scrapes posts and comment threads from a forum JSON API
// (reddit-compatible listings).
type ForumAdapter struct {
	cfg     config.ForumConfig
	baseURL string
	fetcher *fetcher.Fetcher
}

func NewForumAdapter(cfg config.ForumConfig, f *fetcher.Fetcher) *ForumAdapter {
	if cfg.PostsPerCommunity <= 0 {
		cfg.PostsPerCommunity = 100
	}
	if cfg.CommentPostLimit < 0 {
		cfg.CommentPostLimit = 0
	}
	return &ForumAdapter{
		cfg:     cfg,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		fetcher: f,
	}
}

func (a *ForumAdapter) Name() string { return models.SourceForum }

func (a *ForumAdapter) Failures() []models.FailureRecord { return a.fetcher.Failures() }

func (a *ForumAdapter) ResetFailures() { a.fetcher.ResetFailures() }

// Scrape fetches the hot and new listings of every configured community,
// then the comment threads of the first CommentPostLimit posts.
func (a *ForumAdapter) Scrape(ctx context.Context) ([]models.RawCandidate, error) {
	var listingURLs []string
	for _, community := range a.cfg.Communities {
		for _, view := range []string{"hot", "new"} {
			listingURLs = append(listingURLs, fmt.Sprintf("%s/r/%s/%s.json?limit=%d",
				a.baseURL, url.PathEscape(community), view, a.cfg.PostsPerCommunity))
		}
	}

	logger.Infof("[Forum] Fetching %d listings from %d communities", len(listingURLs), len(a.cfg.Communities))
	posts := a.fetcher.FetchAll(ctx, listingURLs, a.parseListingResponse)

	commentURLs := a.commentThreadURLs(posts)
	logger.Infof("[Forum] Got %d posts, fetching %d comment threads", len(posts), len(commentURLs))
	comments := a.fetcher.FetchAll(ctx, commentURLs, a.parseCommentsResponse)

	all := make([]models.RawCandidate, 0, len(posts)+len(comments))
	all = append(all, posts...)
	all = append(all, comments...)

	logger.Infof("[Forum] Scraped %d candidates (%d posts, %d comments)", len(all), len(posts), len(comments))
	return all, nil
}

// SearchQuery scrapes the newest posts matching query across the forum.
func (a *ForumAdapter) SearchQuery(ctx context.Context, query string, limit int) ([]models.RawCandidate, error) {
	if limit <= 0 {
		limit = a.cfg.PostsPerCommunity
	}
	searchURL := fmt.Sprintf("%s/search.json?q=%s&sort=new&limit=%d", a.baseURL, url.QueryEscape(query), limit)

	items, err := a.fetcher.FetchAndParse(ctx, searchURL, a.parseListingResponse)
	if err != nil {
		return nil, err
	}
	logger.Infof("[Forum] Search %q returned %d candidates", query, len(items))
	return items, nil
}

// commentThreadURLs picks the distinct posts, in listing order, whose
// comment threads should be scraped.
func (a *ForumAdapter) commentThreadURLs(posts []models.RawCandidate) []string {
	seen := make(map[string]bool)
	var urls []string
	for _, p := range posts {
		if len(urls) >= a.cfg.CommentPostLimit {
			break
		}
		if p.Metadata["type"] != "post" {
			continue
		}
		postID, _ := p.Metadata["post_id"].(string)
		community, _ := p.Metadata["subreddit"].(string)
		if postID == "" || community == "" || seen[postID] {
			continue
		}
		seen[postID] = true
		urls = append(urls, fmt.Sprintf("%s/r/%s/comments/%s.json?limit=%d",
			a.baseURL, url.PathEscape(community), postID, commentPageLimit))
	}
	return urls
}

func (a *ForumAdapter) parseListingResponse(resp *fetcher.Response) ([]models.RawCandidate, error) {
	return a.ParseListing(resp.Body, resp.URL)
}

func (a *ForumAdapter) parseCommentsResponse(resp *fetcher.Response) ([]models.RawCandidate, error) {
	return a.ParseComments(resp.Body, resp.URL)
}

// ParseListing extracts posts (t3) and comments (t1) from a listing payload.
func (a *ForumAdapter) ParseListing(payload []byte, sourceURL string) ([]models.RawCandidate, error) {
	var listing forumListing
	if err := json.Unmarshal(payload, &listing); err != nil {
		return nil, fmt.Errorf("invalid listing payload: %w", err)
	}
	if listing.Kind != "Listing" {
		return nil, fmt.Errorf("unexpected listing kind %q", listing.Kind)
	}

	var out []models.RawCandidate
	for _, child := range listing.Data.Children {
		switch child.Kind {
		case "t3":
			if c, ok := a.postCandidate(child.Data, sourceURL); ok {
				out = append(out, c)
			}
		case "t1":
			if c, ok := a.commentCandidate(child.Data, sourceURL); ok {
				out = append(out, c)
			}
		}
	}
	return out, nil
}

// ParseComments extracts top-level comments from a comment-thread payload,
// which is a two-element array of [post listing, comment listing].
func (a *ForumAdapter) ParseComments(payload []byte, sourceURL string) ([]models.RawCandidate, error) {
	var listings []forumListing
	if err := json.Unmarshal(payload, &listings); err != nil {
		return nil, fmt.Errorf("invalid comment payload: %w", err)
	}
	if len(listings) < 2 {
		return nil, fmt.Errorf("comment payload has %d listings, expected 2", len(listings))
	}

	var out []models.RawCandidate
	for _, child := range listings[1].Data.Children {
		if child.Kind != "t1" {
			continue
		}
		if c, ok := a.commentCandidate(child.Data, sourceURL); ok {
			out = append(out, c)
		}
	}
	return out, nil
}

func (a *ForumAdapter) postCandidate(d forumThingData, sourceURL string) (models.RawCandidate, bool) {
	if d.IsVideo || d.IsGallery {
		return models.RawCandidate{}, false
	}
	if deletedPlaceholders[d.Title] || deletedPlaceholders[d.Selftext] {
		return models.RawCandidate{}, false
	}

	content := strings.TrimSpace(d.Title)
	if body := strings.TrimSpace(d.Selftext); body != "" {
		content = content + "\n\n" + body
	}
	if textLen(content) < minForumTextLen {
		return models.RawCandidate{}, false
	}

	return models.RawCandidate{
		Content:   content,
		Source:    models.SourceForum,
		SourceURL: a.permalink(d.Permalink, sourceURL),
		Metadata: map[string]interface{}{
			"type":         "post",
			"subreddit":    d.Subreddit,
			"author":       d.Author,
			"post_id":      d.ID,
			"score":        d.Score,
			"num_comments": d.NumComments,
			"created_utc":  d.CreatedUTC,
		},
	}, true
}

func (a *ForumAdapter) commentCandidate(d forumThingData, sourceURL string) (models.RawCandidate, bool) {
	body := strings.TrimSpace(d.Body)
	if deletedPlaceholders[body] || textLen(body) < minForumTextLen {
		return models.RawCandidate{}, false
	}

	return models.RawCandidate{
		Content:   body,
		Source:    models.SourceForum,
		SourceURL: a.permalink(d.Permalink, sourceURL),
		Metadata: map[string]interface{}{
			"type":        "comment",
			"subreddit":   d.Subreddit,
			"author":      d.Author,
			"post_id":     strings.TrimPrefix(d.LinkID, "t3_"),
			"comment_id":  d.ID,
			"score":       d.Score,
			"created_utc": d.CreatedUTC,
		},
	}, true
}

func (a *ForumAdapter) permalink(path, fallback string) string {
	if path == "" {
		return fallback
	}
	return a.baseURL + path
}

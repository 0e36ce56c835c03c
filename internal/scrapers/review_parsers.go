package scrapers

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

type review struct {
	Reviewer string
	Text     string
	Rating   int
	Date     string
}

type reviewStrategy struct {
	name  string
	parse func(markup string) []review
}

// Tried in order; the first strategy yielding a kept review wins.
var reviewStrategies = []reviewStrategy{
	{name: "embedded", parse: parseEmbeddedReviews},
	{name: "dom", parse: parseReviewDOM},
}

var (
	embeddedReviewPattern = regexp.MustCompile(`"gp:AOqpTOH[^"]*","([^"]+)","([^"]*)",(\d+),[^,]*,[^,]*,"([^"]*)"`)
	appNamePattern        = regexp.MustCompile(`"name":"([^"]+)"`)
	appIDPattern          = regexp.MustCompile(`/store/apps/details\?id=([a-zA-Z0-9._]+)`)
	ratedStarsPattern     = regexp.MustCompile(`Rated (\d+) stars?`)
)

// parseEmbeddedReviews reads reviews from the structured data blob the
// store embeds in its detail pages.
func parseEmbeddedReviews(markup string) []review {
	var out []review
	for _, m := range embeddedReviewPattern.FindAllStringSubmatch(markup, -1) {
		rating, err := strconv.Atoi(m[3])
		if err != nil {
			continue
		}
		out = append(out, review{
			Reviewer: unescapeJSString(m[1]),
			Text:     unescapeJSString(m[2]),
			Rating:   rating,
			Date:     m[4],
		})
	}
	return out
}

// parseReviewDOM reads rendered review cards.
func parseReviewDOM(markup string) []review {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return nil
	}

	var out []review
	doc.Find("[data-review-id]").Each(func(_ int, card *goquery.Selection) {
		rating := 0
		card.Find("[aria-label]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
			if m := ratedStarsPattern.FindStringSubmatch(s.AttrOr("aria-label", "")); m != nil {
				rating, _ = strconv.Atoi(m[1])
				return false
			}
			return true
		})
		if rating == 0 {
			return
		}

		var text string
		card.Find("span[jsname]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
			text = strings.TrimSpace(s.Text())
			return text == ""
		})
		if text == "" {
			return
		}

		reviewer := "Anonymous"
		card.Find("span:not([jsname])").EachWithBreak(func(_ int, s *goquery.Selection) bool {
			if name := strings.TrimSpace(s.Text()); name != "" {
				reviewer = name
				return false
			}
			return true
		})

		out = append(out, review{
			Reviewer: reviewer,
			Text:     text,
			Rating:   rating,
		})
	})
	return out
}

func extractAppName(markup string) string {
	if m := appNamePattern.FindStringSubmatch(markup); m != nil {
		return unescapeJSString(m[1])
	}
	return ""
}

func extractAppIDs(markup string, limit int) []string {
	var ids []string
	seen := make(map[string]bool)
	for _, m := range appIDPattern.FindAllStringSubmatch(markup, -1) {
		if limit > 0 && len(ids) >= limit {
			break
		}
		if seen[m[1]] {
			continue
		}
		seen[m[1]] = true
		ids = append(ids, m[1])
	}
	return ids
}

// unescapeJSString decodes \uXXXX and similar escapes, returning s as is
// when it is not a valid quoted string body.
func unescapeJSString(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	if out, err := strconv.Unquote(`"` + s + `"`); err == nil {
		return out
	}
	return s
}

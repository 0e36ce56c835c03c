package scrapers

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/huangang/ideaminer/backend/internal/models"
)

// Scraper produces raw candidates from one public source.
type Scraper interface {
	Name() string
	Scrape(ctx context.Context) ([]models.RawCandidate, error)
	// Failures returns the URLs that could not be fetched or parsed since
	// the last ResetFailures.
	Failures() []models.FailureRecord
	ResetFailures()
}

func textLen(s string) int {
	return utf8.RuneCountInString(strings.TrimSpace(s))
}

package services

import (
	"crypto/sha1"
	"encoding/hex"
	"regexp"
	"strings"
)

const DefaultDedupTokenLimit = 120

var (
	urlPattern   = regexp.MustCompile(`https?://(?:[a-zA-Z]|[0-9]|[$-_@.&+]|[!*\(\),]|(?:%[0-9a-fA-F][0-9a-fA-F]))+`)
	tokenPattern = regexp.MustCompile(`[\p{L}\p{N}_]+`)
)

// Deduplicator fingerprints texts by the SHA-1 of their first tokens so
// that texts differing only in case, punctuation, URLs or trailing content
// collapse to one key.
type Deduplicator struct {
	tokenLimit int
}

func NewDeduplicator(tokenLimit int) *Deduplicator {
	if tokenLimit <= 0 {
		tokenLimit = DefaultDedupTokenLimit
	}
	return &Deduplicator{tokenLimit: tokenLimit}
}

// Tokenize strips URLs and returns the lowercase word tokens of text.
func (d *Deduplicator) Tokenize(text string) []string {
	stripped := urlPattern.ReplaceAllString(text, "")
	return tokenPattern.FindAllString(strings.ToLower(stripped), -1)
}

// Fingerprint returns the 40-char lowercase hex digest of the first
// tokenLimit tokens joined by single spaces.
func (d *Deduplicator) Fingerprint(text string) string {
	tokens := d.Tokenize(text)
	if len(tokens) > d.tokenLimit {
		tokens = tokens[:d.tokenLimit]
	}
	sum := sha1.Sum([]byte(strings.Join(tokens, " ")))
	return hex.EncodeToString(sum[:])
}

// IsDuplicate reports whether text's fingerprint is in known. known is
// never modified.
func (d *Deduplicator) IsDuplicate(text string, known map[string]struct{}) bool {
	_, ok := known[d.Fingerprint(text)]
	return ok
}

// BatchCheck reports, per text, whether it duplicates known or an earlier
// text of the same batch. known is copied, not modified.
func (d *Deduplicator) BatchCheck(texts []string, known map[string]struct{}) []bool {
	seen := make(map[string]struct{}, len(known)+len(texts))
	for k := range known {
		seen[k] = struct{}{}
	}

	out := make([]bool, len(texts))
	for i, text := range texts {
		fp := d.Fingerprint(text)
		if _, ok := seen[fp]; ok {
			out[i] = true
			continue
		}
		seen[fp] = struct{}{}
	}
	return out
}

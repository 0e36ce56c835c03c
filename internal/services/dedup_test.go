package services

import (
	"regexp"
	"strings"
	"testing"
)

var hexDigest = regexp.MustCompile(`^[0-9a-f]{40}$`)

func TestDeduplicator_Tokenize(t *testing.T) {
	d := NewDeduplicator(120)

	tests := []struct {
		name     string
		text     string
		expected []string
	}{
		{name: "lowercases", text: "The App CRASHES", expected: []string{"the", "app", "crashes"}},
		{name: "strips urls", text: "see https://example.com/bug?id=1 for details", expected: []string{"see", "for", "details"}},
		{name: "url removed without a gap", text: "abchttps://x.io/yéz", expected: []string{"abcéz"}},
		{name: "punctuation", text: "crash... again!!! (why?)", expected: []string{"crash", "again", "why"}},
		{name: "apostrophe splits", text: "can't sync", expected: []string{"can", "t", "sync"}},
		{name: "empty", text: "", expected: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := d.Tokenize(tt.text)
			if strings.Join(got, "|") != strings.Join(tt.expected, "|") {
				t.Errorf("Tokenize(%q) = %v, expected %v", tt.text, got, tt.expected)
			}
		})
	}
}

func TestDeduplicator_FingerprintFormat(t *testing.T) {
	d := NewDeduplicator(120)

	for _, text := range []string{"", "hello", "The app crashes when I save", strings.Repeat("word ", 500)} {
		fp := d.Fingerprint(text)
		if !hexDigest.MatchString(fp) {
			t.Errorf("Fingerprint(%q) = %q, expected 40 lowercase hex chars", text, fp)
		}
	}

	// sha1("")
	if got := d.Fingerprint(""); got != "da39a3ee5e6b4b0d3255bfef95601890afd80709" {
		t.Errorf("Fingerprint(\"\") = %q", got)
	}
}

func TestDeduplicator_FingerprintDeterminism(t *testing.T) {
	d := NewDeduplicator(5)

	tests := []struct {
		name string
		a, b string
		same bool
	}{
		{name: "case and punctuation", a: "The app crashes, always!", b: "the APP crashes always", same: true},
		{name: "url ignored", a: "app crashes http://x.io/y always", b: "app crashes always", same: true},
		{name: "differs after limit", a: "one two three four five six", b: "one two three four five seven", same: true},
		{name: "differs before limit", a: "one two three four five", b: "one two three four six", same: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := d.Fingerprint(tt.a) == d.Fingerprint(tt.b)
			if got != tt.same {
				t.Errorf("same fingerprint = %v, expected %v", got, tt.same)
			}
		})
	}
}

func TestDeduplicator_IsDuplicateDoesNotMutate(t *testing.T) {
	d := NewDeduplicator(120)
	known := map[string]struct{}{d.Fingerprint("existing complaint text"): {}}

	for i := 0; i < 3; i++ {
		if !d.IsDuplicate("Existing complaint text!", known) {
			t.Error("expected duplicate")
		}
		if d.IsDuplicate("a brand new complaint", known) {
			t.Error("expected non-duplicate")
		}
	}
	if len(known) != 1 {
		t.Errorf("known size = %d, expected 1", len(known))
	}
}

func TestDeduplicator_BatchCheck(t *testing.T) {
	d := NewDeduplicator(120)
	known := map[string]struct{}{d.Fingerprint("already stored"): {}}

	got := d.BatchCheck([]string{"A first text", "already stored", "a FIRST text", "something else"}, known)
	expected := []bool{false, true, true, false}
	for i := range expected {
		if got[i] != expected[i] {
			t.Errorf("BatchCheck[%d] = %v, expected %v", i, got[i], expected[i])
		}
	}
	if len(known) != 1 {
		t.Errorf("known size = %d, expected 1", len(known))
	}
}

func TestNewDeduplicator_DefaultLimit(t *testing.T) {
	d := NewDeduplicator(0)
	if d.tokenLimit != DefaultDedupTokenLimit {
		t.Errorf("tokenLimit = %d, expected %d", d.tokenLimit, DefaultDedupTokenLimit)
	}
}

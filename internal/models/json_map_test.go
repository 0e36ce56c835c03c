package models

import (
	"testing"
)

func TestJSONMap_ValueAndScan(t *testing.T) {
	original := JSONMap{
		"author":  "someone",
		"rating":  float64(2),
		"is_idea": true,
	}

	v, err := original.Value()
	if err != nil {
		t.Fatalf("Value() error = %v", err)
	}

	var restored JSONMap
	if err := restored.Scan(v); err != nil {
		t.Fatalf("Scan() error = %v", err)
	}

	if restored["author"] != "someone" {
		t.Errorf("author = %v, expected %q", restored["author"], "someone")
	}
	if restored["rating"] != float64(2) {
		t.Errorf("rating = %v, expected 2", restored["rating"])
	}
	if restored["is_idea"] != true {
		t.Errorf("is_idea = %v, expected true", restored["is_idea"])
	}
}

func TestJSONMap_NilRoundTrip(t *testing.T) {
	var m JSONMap
	v, err := m.Value()
	if err != nil {
		t.Fatalf("Value() error = %v", err)
	}
	if v != nil {
		t.Errorf("Value() = %v, expected nil", v)
	}

	var restored JSONMap
	if err := restored.Scan(nil); err != nil {
		t.Fatalf("Scan(nil) error = %v", err)
	}
	if restored != nil {
		t.Errorf("restored = %v, expected nil", restored)
	}
}

func TestJSONMap_ScanBytes(t *testing.T) {
	var m JSONMap
	if err := m.Scan([]byte(`{"type":"comment"}`)); err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if m["type"] != "comment" {
		t.Errorf("type = %v, expected %q", m["type"], "comment")
	}
}

func TestJSONMap_ScanUnsupported(t *testing.T) {
	var m JSONMap
	if err := m.Scan(42); err == nil {
		t.Error("expected error for unsupported source type")
	}
}

func TestComplaint_IsIdea(t *testing.T) {
	tests := []struct {
		name     string
		extra    JSONMap
		expected bool
	}{
		{name: "nil extra", extra: nil, expected: false},
		{name: "flag true", extra: JSONMap{"is_idea": true}, expected: true},
		{name: "flag false", extra: JSONMap{"is_idea": false}, expected: false},
		{name: "wrong type", extra: JSONMap{"is_idea": "yes"}, expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &Complaint{ExtraData: tt.extra}
			if got := c.IsIdea(); got != tt.expected {
				t.Errorf("IsIdea() = %v, expected %v", got, tt.expected)
			}
		})
	}
}

func TestTableNames(t *testing.T) {
	if (Complaint{}).TableName() != "complaints" {
		t.Error("Complaint table should be complaints")
	}
	if (Idea{}).TableName() != "ideas" {
		t.Error("Idea table should be ideas")
	}
	if (FailureRecord{}).TableName() != "errors" {
		t.Error("FailureRecord table should be errors")
	}
}

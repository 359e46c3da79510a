package main

import (
	"testing"
	"time"

	"github.com/quillnotes/quill/internal/note"
)

func TestParseSince(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		in   string
		want time.Time
	}{
		{"2025-06-01", time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)},
		{"2025-06-10T08:30:00Z", time.Date(2025, 6, 10, 8, 30, 0, 0, time.UTC)},
		{"3 days ago", now.Add(-3 * 24 * time.Hour)},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseSince(tt.in, now)
			if err != nil {
				t.Fatalf("parseSince failed: %v", err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("parseSince(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}

	if _, err := parseSince("zzzz", now); err == nil {
		t.Error("expected error for unparseable text")
	}
}

func TestUpdatedSince(t *testing.T) {
	cutoff := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	notes := []note.Note{
		{ID: "new", UpdatedAt: cutoff.Add(time.Hour)},
		{ID: "edge", UpdatedAt: cutoff},
		{ID: "old", UpdatedAt: cutoff.Add(-time.Hour)},
	}

	got := updatedSince(notes, cutoff)
	if len(got) != 2 || got[0].ID != "new" || got[1].ID != "edge" {
		t.Errorf("updatedSince = %+v", got)
	}
}

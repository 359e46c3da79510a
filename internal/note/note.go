// Package note provides the Note record shared by the store, the query cache,
// the edit buffer and the enrichment orchestrator.
package note

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"golang.org/x/text/cases"
)

// Note is an owned content unit.
//
// Title and Content are never nil; the empty string is the absence value.
// Summary is AI-derived and optional. Tags are ordered and unique.
type Note struct {
	// ===== Identification =====
	ID      string `json:"id" yaml:"id"`
	OwnerID string `json:"owner_id" yaml:"owner_id"`

	// ===== User content =====
	Title   string `json:"title" yaml:"title"`
	Content string `json:"content" yaml:"content"`

	// ===== Derived content =====
	Summary *string  `json:"summary,omitempty" yaml:"summary,omitempty"`
	Tags    []string `json:"tags" yaml:"tags"`

	Pinned bool `json:"pinned" yaml:"pinned"`

	// ===== Timestamps =====
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
	UpdatedAt time.Time `json:"updated_at" yaml:"updated_at"`
}

// Validate checks if the Note has valid field values.
func (n *Note) Validate() error {
	if n.ID == "" {
		return fmt.Errorf("id is required")
	}
	if n.OwnerID == "" {
		return fmt.Errorf("owner_id is required")
	}
	if n.CreatedAt.IsZero() {
		return fmt.Errorf("created_at is required")
	}
	if n.UpdatedAt.IsZero() {
		return fmt.Errorf("updated_at is required")
	}
	if n.UpdatedAt.Before(n.CreatedAt) {
		return fmt.Errorf("updated_at must not precede created_at")
	}
	if HasDuplicateTags(n.Tags) {
		return fmt.Errorf("tags must be unique (got %v)", n.Tags)
	}
	return nil
}

// SummaryText returns the summary or the empty string.
func (n *Note) SummaryText() string {
	if n.Summary == nil {
		return ""
	}
	return *n.Summary
}

// Clone returns a deep copy so cached slices are never shared with callers.
func (n Note) Clone() Note {
	out := n
	if n.Summary != nil {
		s := *n.Summary
		out.Summary = &s
	}
	if n.Tags != nil {
		out.Tags = append([]string(nil), n.Tags...)
	}
	return out
}

// Matches reports whether text occurs in the title or content, ignoring case.
// A blank query matches every note.
func (n *Note) Matches(text string) bool {
	return NewQuery(text).Matches(*n)
}

// Query is search text folded once for matching against many notes.
//
// The text is used as typed, surrounding spaces included. Only a query that
// is entirely blank is special: it matches everything.
type Query struct {
	folded string
	blank  bool
}

// NewQuery folds text with Unicode case folding, so "STRASSE" finds
// "Straße".
func NewQuery(text string) Query {
	if strings.TrimSpace(text) == "" {
		return Query{blank: true}
	}
	return Query{folded: cases.Fold().String(text)}
}

// Matches reports whether the query occurs in n's title or content.
func (q Query) Matches(n Note) bool {
	if q.blank {
		return true
	}
	fold := cases.Fold()
	return strings.Contains(fold.String(n.Title), q.folded) ||
		strings.Contains(fold.String(n.Content), q.folded)
}

// SortForList orders notes the way list views show them: pinned first, then
// most recently updated.
func SortForList(notes []Note) {
	sort.SliceStable(notes, func(i, j int) bool {
		if notes[i].Pinned != notes[j].Pinned {
			return notes[i].Pinned
		}
		return notes[i].UpdatedAt.After(notes[j].UpdatedAt)
	})
}

// SortByRecent orders notes by UpdatedAt descending, ignoring pins.
func SortByRecent(notes []Note) {
	sort.SliceStable(notes, func(i, j int) bool {
		return notes[i].UpdatedAt.After(notes[j].UpdatedAt)
	})
}

// Preview truncates text to maxLen runes, appending "..." when cut.
func Preview(text string, maxLen int) string {
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if maxLen <= 0 || len(runes) <= maxLen {
		return text
	}
	return string(runes[:maxLen]) + "..."
}

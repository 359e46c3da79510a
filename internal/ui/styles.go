// Package ui holds terminal styling and formatting helpers for the CLI.
package ui

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"

	"github.com/quillnotes/quill/internal/note"
)

var (
	accentStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	passStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("70"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("179"))
	failStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("203"))
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	tagStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("110"))
)

// ConfigureColor picks the color profile. Color is off when noColor is set,
// when NO_COLOR is present, or when stdout is not a terminal.
func ConfigureColor(noColor bool) {
	if noColor || termenv.EnvNoColor() || !term.IsTerminal(int(os.Stdout.Fd())) {
		lipgloss.SetColorProfile(termenv.Ascii)
		return
	}
	lipgloss.SetColorProfile(termenv.EnvColorProfile())
}

// Interactive reports whether stdin is a terminal a prompt can read from.
func Interactive() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

func RenderAccent(s string) string { return accentStyle.Render(s) }
func RenderPass(s string) string   { return passStyle.Render(s) }
func RenderWarn(s string) string   { return warnStyle.Render(s) }
func RenderFail(s string) string   { return failStyle.Render(s) }
func RenderMuted(s string) string  { return mutedStyle.Render(s) }

// NoteLine renders one listing row: pin marker, short ID, title, tags and
// age.
func NoteLine(n note.Note, now time.Time) string {
	marker := " "
	if n.Pinned {
		marker = RenderAccent("*")
	}

	title := n.Title
	if title == "" {
		title = RenderMuted("(untitled)")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s  %s", marker, RenderMuted(ShortID(n.ID)), title)
	if len(n.Tags) > 0 {
		tags := make([]string, len(n.Tags))
		for i, t := range n.Tags {
			tags[i] = "#" + t
		}
		b.WriteString("  " + tagStyle.Render(strings.Join(tags, " ")))
	}
	b.WriteString("  " + RenderMuted(RelativeTime(n.UpdatedAt, now)))
	return b.String()
}

// ShortID returns the first 8 characters of an ID.
func ShortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}

// RelativeTime formats t relative to now, e.g. "5 minutes ago".
func RelativeTime(t, now time.Time) string {
	if t.IsZero() {
		return ""
	}
	delta := now.Sub(t)
	if delta < 0 {
		delta = 0
	}

	switch {
	case delta < time.Minute:
		return "just now"
	case delta < time.Hour:
		return plural(int(delta/time.Minute), "minute")
	case delta < 24*time.Hour:
		return plural(int(delta/time.Hour), "hour")
	case delta < 30*24*time.Hour:
		return plural(int(delta/(24*time.Hour)), "day")
	default:
		return t.Format("Jan 2, 2006")
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit + " ago"
	}
	return fmt.Sprintf("%d %ss ago", n, unit)
}

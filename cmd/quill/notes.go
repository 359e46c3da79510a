package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"

	"github.com/quillnotes/quill/internal/note"
	"github.com/quillnotes/quill/internal/ui"
)

var notesCmd = &cobra.Command{
	Use:     "notes",
	GroupID: "notes",
	Short:   "List, search and manage notes",
}

var notesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List notes, pinned first",
	Long: `List your notes, pinned first and then most recently updated.

Examples:
  quill notes list
  quill notes list --since "3 days ago"
  quill notes list --since yesterday --json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		snap, err := a.ws.Notes(cmd.Context())
		if err != nil {
			return err
		}

		notes := snap.Notes
		if since, _ := cmd.Flags().GetString("since"); since != "" {
			cutoff, err := parseSince(since, time.Now())
			if err != nil {
				return err
			}
			notes = updatedSince(notes, cutoff)
		}
		return printNotes(cmd, notes)
	},
}

var notesSearchCmd = &cobra.Command{
	Use:   "search <text>",
	Short: "Find notes whose title or content contains text",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		snap, err := a.ws.Search(cmd.Context(), strings.Join(args, " "))
		if err != nil {
			return err
		}
		return printNotes(cmd, snap.Notes)
	},
}

var notesCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a note",
	Long: `Create a note. The content comes from --content, or from stdin when it is
not a terminal.

Examples:
  quill notes create --title "Groceries" --content "milk, eggs"
  pbpaste | quill notes create --title "Clipped"`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		title, _ := cmd.Flags().GetString("title")
		content, _ := cmd.Flags().GetString("content")
		if !cmd.Flags().Changed("content") && !ui.Interactive() {
			data, err := io.ReadAll(os.Stdin)
			if err != nil {
				return fmt.Errorf("failed to read stdin: %w", err)
			}
			content = string(data)
		}

		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		n, err := a.ws.Create(cmd.Context(), title, content)
		if err != nil {
			return err
		}
		fmt.Printf("%s Created %s\n", ui.RenderPass("✓"), ui.RenderAccent(n.ID))
		return nil
	},
}

var notesShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a note",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		n, err := a.resolve(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(n)
		}

		out := cmd.OutOrStdout()
		title := n.Title
		if title == "" {
			title = "(untitled)"
		}
		fmt.Fprintln(out, ui.RenderAccent(title))
		fmt.Fprintf(out, "%s  updated %s\n", ui.RenderMuted(n.ID), ui.RenderMuted(ui.RelativeTime(n.UpdatedAt, time.Now())))
		if len(n.Tags) > 0 {
			fmt.Fprintf(out, "tags: %s\n", strings.Join(n.Tags, ", "))
		}
		if n.Summary != nil {
			fmt.Fprintf(out, "summary: %s\n", *n.Summary)
		}
		fmt.Fprintf(out, "\n%s\n", n.Content)
		return nil
	},
}

var notesDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a note",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		n, err := a.resolve(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if err := a.ws.Delete(cmd.Context(), n.ID); err != nil {
			return err
		}
		fmt.Printf("%s Deleted %s\n", ui.RenderPass("✓"), n.ID)
		return nil
	},
}

var notesPinCmd = &cobra.Command{
	Use:   "pin <id>",
	Short: "Pin a note to the top of the list (--off to unpin)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		off, _ := cmd.Flags().GetBool("off")

		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		n, err := a.resolve(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if _, err := a.ws.TogglePin(cmd.Context(), n.ID, !off); err != nil {
			return err
		}

		verb := "Pinned"
		if off {
			verb = "Unpinned"
		}
		fmt.Printf("%s %s %s\n", ui.RenderPass("✓"), verb, n.ID)
		return nil
	},
}

func printNotes(cmd *cobra.Command, notes []note.Note) error {
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(notes)
	}

	out := cmd.OutOrStdout()
	if len(notes) == 0 {
		fmt.Fprintln(out, ui.RenderMuted("No notes."))
		return nil
	}
	now := time.Now()
	for _, n := range notes {
		fmt.Fprintln(out, ui.NoteLine(n, now))
		if preview := note.Preview(n.Content, 72); preview != "" {
			fmt.Fprintf(out, "    %s\n", ui.RenderMuted(preview))
		}
	}
	return nil
}

// parseSince accepts an RFC 3339 timestamp, a date, or an English phrase
// such as "yesterday" or "3 days ago".
func parseSince(text string, now time.Time) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.ParseInLocation(layout, text, now.Location()); err == nil {
			return t, nil
		}
	}

	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)

	r, err := w.Parse(text, now)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse date %q: %w", text, err)
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("failed to parse date %q", text)
	}
	return r.Time, nil
}

// updatedSince keeps notes updated at or after cutoff, preserving order.
func updatedSince(notes []note.Note, cutoff time.Time) []note.Note {
	out := make([]note.Note, 0, len(notes))
	for _, n := range notes {
		if !n.UpdatedAt.Before(cutoff) {
			out = append(out, n)
		}
	}
	return out
}

func init() {
	notesListCmd.Flags().String("since", "", "Only notes updated since this date (e.g. \"yesterday\", \"2 days ago\")")
	notesListCmd.Flags().Bool("json", false, "Output JSON")
	notesSearchCmd.Flags().Bool("json", false, "Output JSON")
	notesShowCmd.Flags().Bool("json", false, "Output JSON")

	notesCreateCmd.Flags().StringP("title", "t", "", "Note title")
	notesCreateCmd.Flags().StringP("content", "c", "", "Note content (default: stdin)")

	notesPinCmd.Flags().Bool("off", false, "Unpin instead")

	notesCmd.AddCommand(notesListCmd, notesSearchCmd, notesCreateCmd, notesShowCmd, notesDeleteCmd, notesPinCmd)
	rootCmd.AddCommand(notesCmd)
}

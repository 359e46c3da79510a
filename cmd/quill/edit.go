package main

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/quillnotes/quill/internal/editor"
	"github.com/quillnotes/quill/internal/ui"
)

var editCmd = &cobra.Command{
	Use:     "edit <id>",
	GroupID: "notes",
	Short:   "Edit a note's title or content",
	Long: `Edit a note. The new content is read from stdin when it is not a terminal,
otherwise $EDITOR is opened on the current content.

Edits go through the same buffer the interactive client uses: they are saved
once the autosave quiet period has passed, or immediately with --now.

Examples:
  quill edit 3f2a --title "Renamed"
  echo "new body" | quill edit 3f2a
  quill edit 3f2a --now`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		n, err := a.resolve(ctx, args[0])
		if err != nil {
			return err
		}

		buf, err := a.ws.Open(n)
		if err != nil {
			return err
		}

		if cmd.Flags().Changed("title") {
			title, _ := cmd.Flags().GetString("title")
			buf.SetTitle(title)
		}

		if !cmd.Flags().Changed("title") || !ui.Interactive() {
			content, err := readContent(n.Content)
			if err != nil {
				return err
			}
			if content != n.Content {
				buf.SetContent(content)
			}
		}

		if buf.State() == editor.Clean {
			fmt.Println(ui.RenderMuted("No changes."))
			return nil
		}

		if now, _ := cmd.Flags().GetBool("now"); now {
			buf.Flush()
		} else {
			fmt.Println(ui.RenderMuted(fmt.Sprintf("Autosaving after %s of quiet...", cfg.Autosave.QuietPeriod)))
		}

		ticker := time.NewTicker(50 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case saveErr := <-a.saveErrors:
				fmt.Fprintln(os.Stderr, ui.RenderWarn("Your edit was not saved. Draft follows:"))
				fmt.Fprintln(os.Stderr, saveErr.Content)
				return saveErr
			case <-ticker.C:
				if buf.State() == editor.Clean {
					fmt.Printf("%s Saved %s\n", ui.RenderPass("✓"), n.ID)
					return nil
				}
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	},
}

// readContent reads the new body from stdin, or from $EDITOR seeded with
// current when stdin is a terminal.
func readContent(current string) (string, error) {
	if !ui.Interactive() {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("failed to read stdin: %w", err)
		}
		return string(data), nil
	}

	editorCmd := os.Getenv("EDITOR")
	if editorCmd == "" {
		editorCmd = "vi"
	}

	tmp, err := os.CreateTemp("", "quill-*.md")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(current); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to write temp file: %w", err)
	}

	parts := strings.Fields(editorCmd)
	// #nosec G204 - editor comes from the user's environment
	c := exec.Command(parts[0], append(parts[1:], tmp.Name())...)
	c.Stdin, c.Stdout, c.Stderr = os.Stdin, os.Stdout, os.Stderr
	if err := c.Run(); err != nil {
		return "", fmt.Errorf("editor failed: %w", err)
	}

	data, err := os.ReadFile(tmp.Name())
	if err != nil {
		return "", fmt.Errorf("failed to read edited file: %w", err)
	}
	return string(data), nil
}

func init() {
	editCmd.Flags().StringP("title", "t", "", "New title")
	editCmd.Flags().Bool("now", false, "Save immediately instead of waiting for autosave")

	rootCmd.AddCommand(editCmd)
}

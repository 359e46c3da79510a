package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/quillnotes/quill/internal/enrich"
	"github.com/quillnotes/quill/internal/ui"
	"github.com/quillnotes/quill/internal/workspace"
)

var aiCmd = &cobra.Command{
	Use:     "ai",
	GroupID: "ai",
	Short:   "Summarize, tag, rewrite and ask questions about notes",
	Long: `AI enrichment for notes.

summarize and tags write their result back to the note's summary or tags
only, so they never overwrite edits to the title or content. improve shows a
rewrite and only replaces the content when you accept it. ask answers a
question from your 20 most recently updated notes.

Requires ai.provider = "anthropic" and an API key (ai.api_key,
QUILL_AI_API_KEY or ANTHROPIC_API_KEY).`,
}

var aiSummarizeCmd = &cobra.Command{
	Use:   "summarize <id>",
	Short: "Summarize a note into its summary field",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, orch, err := openEnrich(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		n, err := a.resolve(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		res, err := orch.Summarize(cmd.Context(), enrich.SnapshotOf(n))
		if err != nil {
			return err
		}
		if !res.Applied {
			fmt.Println(ui.RenderWarn("Note was deleted before the summary could be saved."))
		}
		fmt.Println(res.Summary)
		return nil
	},
}

var aiTagsCmd = &cobra.Command{
	Use:   "tags <id>",
	Short: "Generate tags for a note",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, orch, err := openEnrich(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		n, err := a.resolve(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		res, err := orch.GenerateTags(cmd.Context(), enrich.SnapshotOf(n))
		if err != nil {
			return err
		}
		if !res.Applied {
			fmt.Println(ui.RenderWarn("Note was deleted before the tags could be saved."))
		}
		fmt.Println(strings.Join(res.Tags, ", "))
		return nil
	},
}

var aiImproveCmd = &cobra.Command{
	Use:   "improve <id>",
	Short: "Propose a clearer rewrite of a note",
	Long: `Propose a rewrite of a note's content. The rewrite is shown first and only
replaces the content if you accept it, or if --yes is given.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, orch, err := openEnrich(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		ctx := cmd.Context()
		n, err := a.resolve(ctx, args[0])
		if err != nil {
			return err
		}
		res, err := orch.Improve(ctx, enrich.SnapshotOf(n))
		if err != nil {
			return err
		}

		fmt.Println(ui.RenderAccent("Proposed version:"))
		fmt.Println(res.Improved)
		fmt.Println()

		accept, _ := cmd.Flags().GetBool("yes")
		if !accept {
			if !ui.Interactive() {
				fmt.Println(ui.RenderMuted("Not applied. Re-run with --yes to accept."))
				return nil
			}
			err := huh.NewConfirm().
				Title("Use this version?").
				Affirmative("Use it").
				Negative("Keep mine").
				Value(&accept).
				Run()
			if err != nil {
				return fmt.Errorf("prompt failed: %w", err)
			}
		}
		if !accept {
			fmt.Println(ui.RenderMuted("Kept the original."))
			return nil
		}

		if err := a.ws.ApplyImproved(ctx, res); err != nil {
			return err
		}
		fmt.Printf("%s Updated %s\n", ui.RenderPass("✓"), n.ID)
		return nil
	},
}

var aiAskCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask a question about your notes",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, orch, err := openEnrich(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := orch.Ask(cmd.Context(), strings.Join(args, " "))
		if err != nil {
			return err
		}

		fmt.Println(res.Answer)
		if len(res.ReferencedNoteTitles) > 0 {
			fmt.Println()
			fmt.Println(ui.RenderMuted("Referenced: " + strings.Join(res.ReferencedNoteTitles, ", ")))
		}
		return nil
	},
}

func openEnrich(cmd *cobra.Command) (*app, *enrich.Orchestrator, error) {
	a, err := openApp(cmd.Context())
	if err != nil {
		return nil, nil, err
	}
	orch, err := a.ws.Enrich()
	if err != nil {
		a.Close()
		if errors.Is(err, workspace.ErrNoProvider) {
			return nil, nil, fmt.Errorf("%w: set ai.provider = \"anthropic\" and an API key", err)
		}
		return nil, nil, err
	}
	return a, orch, nil
}

func init() {
	aiImproveCmd.Flags().BoolP("yes", "y", false, "Apply the rewrite without asking")

	aiCmd.AddCommand(aiSummarizeCmd, aiTagsCmd, aiImproveCmd, aiAskCmd)
	rootCmd.AddCommand(aiCmd)
}

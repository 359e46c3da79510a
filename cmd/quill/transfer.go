package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/quillnotes/quill/internal/transfer"
	"github.com/quillnotes/quill/internal/ui"
)

var exportCmd = &cobra.Command{
	Use:     "export",
	GroupID: "advanced",
	Short:   "Export your notes to JSONL or YAML",
	Long: `Export the owner's notes to a file, one JSON object per line (jsonl) or as
a YAML list.

Examples:
  quill export -o notes.jsonl
  quill export --format yaml -o notes.yaml`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		formatName, _ := cmd.Flags().GetString("format")
		format, err := transfer.ParseFormat(formatName)
		if err != nil {
			return err
		}
		output, _ := cmd.Flags().GetString("output")

		if cfg.Owner == "" {
			return fmt.Errorf("no owner configured: pass --owner or set owner in quill.toml")
		}
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		if output == "" {
			notes, err := store.List(cmd.Context(), cfg.Owner)
			if err != nil {
				return err
			}
			return transfer.Write(os.Stdout, notes, format)
		}

		count, err := transfer.Export(cmd.Context(), store, cfg.Owner, output, format)
		if err != nil {
			return err
		}
		fmt.Printf("%s Exported %d notes to %s\n", ui.RenderPass("✓"), count, output)
		return nil
	},
}

var importCmd = &cobra.Command{
	Use:     "import <file>",
	GroupID: "advanced",
	Short:   "Import notes from a JSONL or YAML export",
	Long: `Import notes from a file written by 'quill export'. Notes keep their IDs and
timestamps; existing notes with the same ID are overwritten. Files ending in
.yaml or .yml are read as YAML, anything else as JSONL.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		backup, _ := cmd.Flags().GetBool("backup")
		reassign, _ := cmd.Flags().GetBool("reassign")

		opts := transfer.ImportOptions{Path: args[0], DryRun: dryRun, Backup: backup}
		if reassign {
			if cfg.Owner == "" {
				return fmt.Errorf("--reassign needs an owner: pass --owner or set owner in quill.toml")
			}
			opts.Owner = cfg.Owner
		}

		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		result, err := transfer.Import(cmd.Context(), store, opts)
		if err != nil {
			return err
		}

		for _, skipped := range result.Skipped {
			fmt.Fprintf(os.Stderr, "%s skipped %s\n", ui.RenderWarn("!"), skipped)
		}
		if result.BackupCreated != "" {
			fmt.Printf("Backup written to %s\n", result.BackupCreated)
		}
		if dryRun {
			fmt.Printf("Dry run: %d notes read, %d would be imported\n", result.Read, result.Read-len(result.Skipped))
			return nil
		}
		fmt.Printf("%s Imported %d of %d notes\n", ui.RenderPass("✓"), result.Imported, result.Read)
		return nil
	},
}

func init() {
	exportCmd.Flags().StringP("format", "f", "jsonl", "Output format: jsonl or yaml")
	exportCmd.Flags().StringP("output", "o", "", "Output file (default: stdout)")

	importCmd.Flags().Bool("dry-run", false, "Validate without writing")
	importCmd.Flags().Bool("backup", false, "Copy the input file aside first")
	importCmd.Flags().Bool("reassign", false, "Assign every imported note to the configured owner")

	rootCmd.AddCommand(exportCmd, importCmd)
}

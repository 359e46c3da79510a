package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/quillnotes/quill/internal/config"
	"github.com/quillnotes/quill/internal/logging"
	"github.com/quillnotes/quill/internal/ui"
)

var (
	v    *viper.Viper
	cfg  *config.Config
	logs *logging.Logger

	configPath string
)

var rootCmd = &cobra.Command{
	Use:   "quill",
	Short: "Notes with AI enrichment and realtime sync",
	Long: `quill keeps personal notes in a local store, syncs open views in realtime,
autosaves edits after a quiet period, and can summarize, tag, rewrite and
answer questions about your notes with an AI provider.

Configuration is read from quill.toml ($XDG_CONFIG_HOME/quill or the current
directory) and QUILL_* environment variables. Run 'quill config init' to
write a starter file.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		noColor, _ := cmd.Flags().GetBool("no-color")
		ui.ConfigureColor(noColor)

		loaded, err := config.Load(v)
		if err != nil {
			return err
		}
		cfg = loaded

		logs, err = logging.New(logging.Config{
			File:       cfg.Log.File,
			MaxSizeMB:  cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			Verbose:    cfg.Log.Verbose,
		})
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logs != nil {
			_ = logs.Close()
		}
	},
}

func init() {
	cobra.OnInitialize(func() {
		v = config.New(configPath)
		flags := rootCmd.PersistentFlags()
		_ = v.BindPFlag("owner", flags.Lookup("owner"))
		_ = v.BindPFlag("store.path", flags.Lookup("db"))
		_ = v.BindPFlag("log.verbose", flags.Lookup("verbose"))
	})

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: $XDG_CONFIG_HOME/quill/quill.toml)")
	rootCmd.PersistentFlags().String("owner", "", "Owner to act as (overrides config)")
	rootCmd.PersistentFlags().String("db", "", "Notes database path (overrides config)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Copy log output to stderr")
	rootCmd.PersistentFlags().Bool("no-color", false, "Disable colored output")

	rootCmd.AddGroup(
		&cobra.Group{ID: "notes", Title: "Notes:"},
		&cobra.Group{ID: "ai", Title: "AI:"},
		&cobra.Group{ID: "advanced", Title: "Advanced:"},
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, ui.RenderFail("Error:"), err)
		os.Exit(1)
	}
}

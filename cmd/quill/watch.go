package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/quillnotes/quill/internal/cache"
	"github.com/quillnotes/quill/internal/remote/sqlite"
	"github.com/quillnotes/quill/internal/ui"
)

var watchCmd = &cobra.Command{
	Use:     "watch",
	GroupID: "notes",
	Short:   "Print the note list again whenever it changes",
	Long: `Watch the note list (or a search with --search) and print it again every
time it changes, whether the change came from this machine, another quill
process writing the same database, or a push server (push.url).

Press Ctrl+C to stop.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		if cfg.Push.URL == "" {
			watcher, err := sqlite.NewExternalWatcher(a.store, sqlite.DefaultSettle, logs.Component("watcher"))
			if err != nil {
				return err
			}
			if err := watcher.Start(); err != nil {
				return err
			}
			defer watcher.Stop()
		}

		text, _ := cmd.Flags().GetString("search")
		unsubscribe, err := a.ws.Watch(ctx, text, func(snap cache.Snapshot) {
			printRefresh(snap)
		})
		if err != nil {
			return err
		}
		defer unsubscribe()

		<-ctx.Done()
		fmt.Println()
		return nil
	},
}

func printRefresh(snap cache.Snapshot) {
	fmt.Printf("\n%s %s\n", ui.RenderAccent("Notes"), ui.RenderMuted(snap.FetchedAt.Format(time.Kitchen)))
	if len(snap.Notes) == 0 {
		fmt.Println(ui.RenderMuted("No notes."))
		return
	}
	now := time.Now()
	for _, n := range snap.Notes {
		fmt.Println(ui.NoteLine(n, now))
	}
}

func init() {
	watchCmd.Flags().String("search", "", "Watch a search instead of the full list")

	rootCmd.AddCommand(watchCmd)
}

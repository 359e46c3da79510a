package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/quillnotes/quill/internal/push"
	"github.com/quillnotes/quill/internal/remote/sqlite"
	"github.com/quillnotes/quill/internal/ui"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	GroupID: "advanced",
	Short:   "Run the realtime push server",
	Long: `Run a WebSocket server that pushes note changes to quill clients.

Every write to the database, by this process or any other, is relayed to
the clients subscribed for that note's owner. Point clients at it with
push.url (or QUILL_PUSH_URL).

Endpoints:
  ws://<addr>/ws?owner=<owner>   change events for one owner
  http://<addr>/health           status and client count

Example usage:
  quill serve                        # listen on push.addr (127.0.0.1:8787)
  quill serve --addr 0.0.0.0:9000`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		addr := cfg.Push.Addr
		if cmd.Flags().Changed("addr") {
			addr, _ = cmd.Flags().GetString("addr")
		}

		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		watcher, err := sqlite.NewExternalWatcher(store, sqlite.DefaultSettle, logs.Component("watcher"))
		if err != nil {
			return err
		}
		if err := watcher.Start(); err != nil {
			return err
		}
		defer watcher.Stop()

		server := push.NewServer(store.Hub(), &push.Config{
			Addr:   addr,
			Logger: logs.Component("push"),
		})
		if err := server.Start(); err != nil {
			return fmt.Errorf("failed to start push server: %w", err)
		}

		fmt.Printf("%s Push server listening on %s\n", ui.RenderPass("✓"), ui.RenderAccent(server.GetAddr()))
		fmt.Printf("WebSocket endpoint: ws://%s/ws?owner=<owner>\n", server.GetAddr())
		fmt.Printf("Health check: http://%s/health\n", server.GetAddr())
		fmt.Println("\nPress Ctrl+C to stop...")

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()
		<-ctx.Done()

		fmt.Println("\nShutting down push server...")
		if err := server.Stop(); err != nil {
			return fmt.Errorf("error during shutdown: %w", err)
		}
		fmt.Println("Push server stopped")
		return nil
	},
}

func init() {
	serveCmd.Flags().String("addr", "", "Address to listen on (default: push.addr)")

	rootCmd.AddCommand(serveCmd)
}

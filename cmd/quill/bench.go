package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/quillnotes/quill/internal/loadtest"
	"github.com/quillnotes/quill/internal/ui"
)

var benchCmd = &cobra.Command{
	Use:     "bench",
	GroupID: "advanced",
	Short:   "Measure note store latency under concurrent clients",
	Long: `Seed a scratch database with notes spread over several owners, then run
many concurrent clients listing or searching and report latency percentiles.
With --verify, readers and writers also run together for a while and every
list a reader sees is checked for pinned-first, newest-first order.

The scratch database lives in a temp directory and is removed afterwards;
your notes are never touched.

Examples:
  # 100 clients, 1000 notes over 10 owners
  quill bench

  # Search workload with 200 clients
  quill bench --workload search --clients 200

  # Output results as JSON
  quill bench --json`,
	Args: cobra.NoArgs,
	RunE: runBench,
}

func init() {
	benchCmd.Flags().Int("clients", 100, "Number of concurrent clients to simulate")
	benchCmd.Flags().Int("notes", 1000, "Total number of notes in the database")
	benchCmd.Flags().Int("owners", 10, "Number of owners the notes are spread over")
	benchCmd.Flags().Int("queries", 10, "Number of queries per client")
	benchCmd.Flags().String("workload", "list", "Query workload: list or search")
	benchCmd.Flags().Duration("verify", 0, "Also run readers and writers together for this long")
	benchCmd.Flags().Bool("json", false, "Output results as JSON")

	rootCmd.AddCommand(benchCmd)
}

func runBench(cmd *cobra.Command, args []string) error {
	clients, _ := cmd.Flags().GetInt("clients")
	notes, _ := cmd.Flags().GetInt("notes")
	owners, _ := cmd.Flags().GetInt("owners")
	queries, _ := cmd.Flags().GetInt("queries")
	workload, _ := cmd.Flags().GetString("workload")
	verify, _ := cmd.Flags().GetDuration("verify")
	jsonOutput, _ := cmd.Flags().GetBool("json")

	if clients <= 0 || notes <= 0 || owners <= 0 || queries <= 0 {
		return fmt.Errorf("--clients, --notes, --owners and --queries must be positive")
	}
	if workload != string(loadtest.WorkloadList) && workload != string(loadtest.WorkloadSearch) {
		return fmt.Errorf("--workload must be 'list' or 'search'")
	}

	dir, err := os.MkdirTemp("", "quill-bench-*")
	if err != nil {
		return fmt.Errorf("failed to create scratch directory: %w", err)
	}
	defer os.RemoveAll(dir)

	start := time.Now()
	td, err := loadtest.CreateTestDatabase(filepath.Join(dir, "bench.db"), owners, notes, logs.Component("store"))
	if err != nil {
		return err
	}
	defer td.Close()
	seeded := time.Since(start)

	stats, err := td.RunConcurrentQueries(cmd.Context(), loadtest.Workload(workload), clients, queries)
	if err != nil {
		return err
	}

	var verifyErr error
	if verify > 0 {
		verifyErr = td.VerifyConsistency(clients, verify)
	}

	if jsonOutput {
		out := map[string]interface{}{
			"database": td.GetStats(),
			"workload": workload,
			"clients":  clients,
			"seed_ms":  seeded.Milliseconds(),
			"latency": map[string]interface{}{
				"total_queries": stats.TotalQueries,
				"errors":        stats.Errors,
				"min_us":        stats.Min.Microseconds(),
				"p50_us":        stats.P50.Microseconds(),
				"mean_us":       stats.Mean.Microseconds(),
				"p95_us":        stats.P95.Microseconds(),
				"p99_us":        stats.P99.Microseconds(),
				"max_us":        stats.Max.Microseconds(),
			},
		}
		if verify > 0 {
			out["consistent"] = verifyErr == nil
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(out); err != nil {
			return err
		}
		return verifyErr
	}

	fmt.Printf("%s %d notes over %d owners seeded in %v\n\n", ui.RenderAccent("Database:"), notes, owners, seeded.Round(time.Millisecond))
	stats.PrintStats(cmd.OutOrStdout())

	if verify > 0 {
		fmt.Println()
		if verifyErr != nil {
			fmt.Printf("%s consistency check failed: %v\n", ui.RenderFail("✗"), verifyErr)
			return verifyErr
		}
		fmt.Printf("%s consistency held for %v under concurrent writes\n", ui.RenderPass("✓"), verify)
	}
	return nil
}

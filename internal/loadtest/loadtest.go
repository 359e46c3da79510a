// Package loadtest measures the note store under concurrent clients.
//
// It seeds a database with notes spread across owners, then runs many
// simulated clients listing and searching at once, optionally while writers
// keep updating notes, and reports query latency percentiles.
package loadtest

import (
	"context"
	"fmt"
	"io"
	"log"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/quillnotes/quill/internal/note"
	"github.com/quillnotes/quill/internal/remote/sqlite"
)

// TestDatabase is a populated store for load testing.
type TestDatabase struct {
	Store      *sqlite.Store
	Owners     []string
	NoteIDs    map[string][]string
	TotalNotes int
}

// LatencyStats captures performance metrics from load tests.
type LatencyStats struct {
	Min          time.Duration
	Max          time.Duration
	Mean         time.Duration
	P50          time.Duration // Median
	P95          time.Duration
	P99          time.Duration
	TotalQueries int
	Errors       int
	Durations    []time.Duration
}

// Workload selects what each simulated client does per query.
type Workload string

const (
	WorkloadList   Workload = "list"
	WorkloadSearch Workload = "search"
)

// CreateTestDatabase opens dbPath and fills it with numNotes notes spread
// round-robin over numOwners owners. Roughly one note in ten is pinned.
// If logger is nil, the store logs to stderr.
func CreateTestDatabase(dbPath string, numOwners, numNotes int, logger *log.Logger) (*TestDatabase, error) {
	if numOwners <= 0 {
		return nil, fmt.Errorf("numOwners must be positive")
	}

	store, err := sqlite.Open(dbPath, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	td := &TestDatabase{
		Store:      store,
		NoteIDs:    make(map[string][]string),
		TotalNotes: numNotes,
	}
	for i := 0; i < numOwners; i++ {
		td.Owners = append(td.Owners, fmt.Sprintf("owner-%03d", i))
	}

	notes := generateNotes(td.Owners, numNotes)
	if err := store.Import(context.Background(), notes); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to seed notes: %w", err)
	}
	for _, n := range notes {
		td.NoteIDs[n.OwnerID] = append(td.NoteIDs[n.OwnerID], n.ID)
	}
	return td, nil
}

// Close closes the test database.
func (td *TestDatabase) Close() error {
	if td.Store != nil {
		return td.Store.Close()
	}
	return nil
}

// RunConcurrentQueries simulates numClients clients each running
// queriesPerClient queries of the given workload against one owner.
func (td *TestDatabase) RunConcurrentQueries(ctx context.Context, workload Workload, numClients, queriesPerClient int) (*LatencyStats, error) {
	var wg sync.WaitGroup
	resultsChan := make(chan []time.Duration, numClients)
	errorsChan := make(chan error, numClients)

	for i := 0; i < numClients; i++ {
		wg.Add(1)
		go func(clientID int) {
			defer wg.Done()

			owner := td.Owners[clientID%len(td.Owners)]
			durations := make([]time.Duration, 0, queriesPerClient)

			for j := 0; j < queriesPerClient; j++ {
				start := time.Now()
				var err error
				switch workload {
				case WorkloadSearch:
					_, err = td.Store.Search(ctx, owner, searchTerms[j%len(searchTerms)])
				default:
					_, err = td.Store.List(ctx, owner)
				}
				durations = append(durations, time.Since(start))

				if err != nil {
					errorsChan <- fmt.Errorf("client %d query %d failed: %w", clientID, j, err)
					return
				}
			}
			resultsChan <- durations
		}(i)
	}

	wg.Wait()
	close(resultsChan)
	close(errorsChan)

	errorCount := 0
	var firstErr error
	for err := range errorsChan {
		errorCount++
		if firstErr == nil {
			firstErr = err
		}
	}

	var allDurations []time.Duration
	for durations := range resultsChan {
		allDurations = append(allDurations, durations...)
	}
	if len(allDurations) == 0 {
		if firstErr != nil {
			return nil, fmt.Errorf("no successful queries completed: %w", firstErr)
		}
		return nil, fmt.Errorf("no successful queries completed")
	}

	stats := computeLatencyStats(allDurations)
	stats.Errors = errorCount
	return stats, nil
}

// VerifyConsistency runs readers and writers together for duration and
// checks that every list a reader sees is pinned-first, newest-first and
// free of duplicate tags.
func (td *TestDatabase) VerifyConsistency(numClients int, duration time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), duration)
	defer cancel()

	var wg sync.WaitGroup
	errorsChan := make(chan error, numClients*2)

	for i := 0; i < numClients; i++ {
		owner := td.Owners[i%len(td.Owners)]

		wg.Add(1)
		go func(clientID int) {
			defer wg.Done()
			for ctx.Err() == nil {
				notes, err := td.Store.List(ctx, owner)
				if err != nil {
					if ctx.Err() == nil {
						errorsChan <- fmt.Errorf("client %d read failed: %w", clientID, err)
					}
					return
				}
				if err := checkListOrder(notes); err != nil {
					errorsChan <- fmt.Errorf("client %d: %w", clientID, err)
					return
				}
				time.Sleep(time.Millisecond)
			}
		}(i)

		wg.Add(1)
		go func(clientID int) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(int64(clientID)))
			ids := td.NoteIDs[owner]
			for ctx.Err() == nil && len(ids) > 0 {
				id := ids[rng.Intn(len(ids))]
				patch := note.TagsOnly([]string{"touched", fmt.Sprintf("w%d", clientID), "touched"})
				if rng.Intn(2) == 0 {
					patch = note.ContentOnly(fmt.Sprintf("rewritten by %d at %d", clientID, time.Now().UnixNano()))
				}
				if _, err := td.Store.Update(ctx, owner, id, patch); err != nil && ctx.Err() == nil {
					errorsChan <- fmt.Errorf("writer %d update failed: %w", clientID, err)
					return
				}
				time.Sleep(time.Millisecond)
			}
		}(i)
	}

	wg.Wait()
	close(errorsChan)

	for err := range errorsChan {
		return err
	}
	return nil
}

// GetStats returns statistics about the test database.
func (td *TestDatabase) GetStats() map[string]interface{} {
	return map[string]interface{}{
		"total_notes":     td.TotalNotes,
		"owners":          len(td.Owners),
		"notes_per_owner": float64(td.TotalNotes) / float64(len(td.Owners)),
	}
}

var searchTerms = []string{"meeting", "idea", "recipe", "TODO", "zz-no-match"}

func generateNotes(owners []string, count int) []note.Note {
	notes := make([]note.Note, count)
	topics := []string{"meeting", "idea", "recipe", "journal"}
	baseTime := time.Now().Add(-30 * 24 * time.Hour)

	for i := 0; i < count; i++ {
		topic := topics[i%len(topics)]
		createdAt := baseTime.Add(time.Duration(i) * time.Minute)

		notes[i] = note.Note{
			ID:        fmt.Sprintf("load-%06d", i),
			OwnerID:   owners[i%len(owners)],
			Title:     fmt.Sprintf("Note %d: %s", i, topic),
			Content:   fmt.Sprintf("Load test %s note. TODO follow up on item %d.", topic, i),
			Tags:      []string{"loadtest", fmt.Sprintf("batch-%d", i/100)},
			Pinned:    i%10 == 0,
			CreatedAt: createdAt,
			UpdatedAt: createdAt,
		}
	}
	return notes
}

func checkListOrder(notes []note.Note) error {
	for i, n := range notes {
		if note.HasDuplicateTags(n.Tags) {
			return fmt.Errorf("note %s has duplicate tags %v", n.ID, n.Tags)
		}
		if i == 0 {
			continue
		}
		prev := notes[i-1]
		if !prev.Pinned && n.Pinned {
			return fmt.Errorf("pinned note %s listed after unpinned %s", n.ID, prev.ID)
		}
		if prev.Pinned == n.Pinned && prev.UpdatedAt.Before(n.UpdatedAt) {
			return fmt.Errorf("note %s listed before newer %s", prev.ID, n.ID)
		}
	}
	return nil
}

// computeLatencyStats calculates statistics from a slice of durations.
func computeLatencyStats(durations []time.Duration) *LatencyStats {
	if len(durations) == 0 {
		return &LatencyStats{}
	}

	sorted := make([]time.Duration, len(durations))
	copy(sorted, durations)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i] < sorted[j]
	})

	var sum time.Duration
	for _, d := range durations {
		sum += d
	}

	return &LatencyStats{
		Min:          sorted[0],
		Max:          sorted[len(sorted)-1],
		Mean:         sum / time.Duration(len(durations)),
		P50:          sorted[len(sorted)*50/100],
		P95:          sorted[len(sorted)*95/100],
		P99:          sorted[len(sorted)*99/100],
		TotalQueries: len(durations),
		Durations:    sorted,
	}
}

// PrintStats writes the statistics to w.
func (s *LatencyStats) PrintStats(w io.Writer) {
	fmt.Fprintf(w, "Latency Statistics:\n")
	fmt.Fprintf(w, "  Total Queries: %d\n", s.TotalQueries)
	fmt.Fprintf(w, "  Errors:        %d\n", s.Errors)
	fmt.Fprintf(w, "  Min:           %v\n", s.Min)
	fmt.Fprintf(w, "  P50 (Median):  %v\n", s.P50)
	fmt.Fprintf(w, "  Mean:          %v\n", s.Mean)
	fmt.Fprintf(w, "  P95:           %v\n", s.P95)
	fmt.Fprintf(w, "  P99:           %v\n", s.P99)
	fmt.Fprintf(w, "  Max:           %v\n", s.Max)
}

package workspace

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/quillnotes/quill/internal/cache"
	"github.com/quillnotes/quill/internal/clock"
	"github.com/quillnotes/quill/internal/editor"
	"github.com/quillnotes/quill/internal/enrich"
	"github.com/quillnotes/quill/internal/note"
	"github.com/quillnotes/quill/internal/remote"
	"github.com/quillnotes/quill/internal/remote/sqlite"
	"github.com/quillnotes/quill/internal/session"
)

var quiet = log.New(io.Discard, "", 0)

func quietLoggers() Loggers {
	return Loggers{
		Workspace: quiet,
		Remote:    quiet,
		Cache:     quiet,
		Realtime:  quiet,
		Autosave:  quiet,
		Enrich:    quiet,
	}
}

type testEnv struct {
	store *sqlite.Store
	clock *clock.Fake
	ws    *Workspace
}

func setup(t *testing.T, withFeed bool, gen enrich.Generator) *testEnv {
	t.Helper()

	store, err := sqlite.Open(sqlite.MemoryPath, quiet)
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	var feed remote.Feed
	if withFeed {
		feed = store.Hub()
	}

	fake := clock.NewFake(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	cfg := DefaultConfig()
	cfg.Clock = fake

	ws := New(store, feed, gen, session.NewManager(), cfg, quietLoggers())
	t.Cleanup(func() { ws.Close(context.Background()) })

	if err := ws.SignIn(context.Background(), "u1", "token"); err != nil {
		t.Fatalf("SignIn failed: %v", err)
	}
	return &testEnv{store: store, clock: fake, ws: ws}
}

// collector records snapshots delivered to a cache observer.
type collector struct {
	mu    sync.Mutex
	snaps []cache.Snapshot
}

func (c *collector) observe(s cache.Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snaps = append(c.snaps, s)
}

func (c *collector) last() (cache.Snapshot, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.snaps) == 0 {
		return cache.Snapshot{}, 0
	}
	return c.snaps[len(c.snaps)-1], len(c.snaps)
}

func TestWorkspace_CommitInvalidatesOwnerQueries(t *testing.T) {
	env := setup(t, false, nil)
	ctx := context.Background()

	var seen collector
	unsubscribe, err := env.ws.Watch(ctx, "", seen.observe)
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}
	defer unsubscribe()

	if _, err := env.ws.Create(ctx, "Groceries", "milk"); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	snap, ok := env.ws.Cache().Get(cache.ListKey("u1"))
	if !ok || !snap.Stale {
		t.Errorf("list after write: ok=%v stale=%v, want stale", ok, snap.Stale)
	}

	env.clock.Advance(cache.DefaultConfig().CoalesceWindow)

	last, count := seen.last()
	if count != 2 {
		t.Fatalf("observer called %d times, want 2", count)
	}
	if last.Stale || len(last.Notes) != 1 || last.Notes[0].Title != "Groceries" {
		t.Errorf("refetched snapshot = %+v", last)
	}
}

func TestWorkspace_RealtimeEventsRefreshWatchers(t *testing.T) {
	env := setup(t, true, nil)
	ctx := context.Background()

	var seen collector
	unsubscribe, err := env.ws.Watch(ctx, "", seen.observe)
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}
	defer unsubscribe()

	// Written by another writer: only the feed can tell the workspace.
	if _, err := env.store.Create(ctx, "u1", remote.CreateInput{Title: "from elsewhere"}); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for env.clock.Pending() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("realtime event never scheduled a refetch")
		}
		time.Sleep(5 * time.Millisecond)
	}
	env.clock.Advance(cache.DefaultConfig().CoalesceWindow)

	last, _ := seen.last()
	if len(last.Notes) != 1 || last.Notes[0].Title != "from elsewhere" {
		t.Errorf("snapshot = %+v", last)
	}
}

func TestWorkspace_SearchBlankIsList(t *testing.T) {
	env := setup(t, false, nil)
	ctx := context.Background()

	env.ws.Create(ctx, "alpha", "")
	env.ws.Create(ctx, "beta", "")

	list, err := env.ws.Notes(ctx)
	if err != nil {
		t.Fatalf("Notes failed: %v", err)
	}
	blank, err := env.ws.Search(ctx, "   ")
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if blank.Key != list.Key || len(blank.Notes) != 2 {
		t.Errorf("blank search = %+v, want list %+v", blank, list)
	}

	hits, err := env.ws.Search(ctx, "ALP")
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(hits.Notes) != 1 || hits.Notes[0].Title != "alpha" {
		t.Errorf("search hits = %+v", hits.Notes)
	}
}

func TestWorkspace_SwitchingOwnerFlushesAndResets(t *testing.T) {
	env := setup(t, true, nil)
	ctx := context.Background()

	n, err := env.ws.Create(ctx, "draft me", "")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := env.ws.Notes(ctx); err != nil {
		t.Fatalf("Notes failed: %v", err)
	}

	buf, err := env.ws.Open(n)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	buf.SetContent("unsaved words")

	if err := env.ws.SignIn(ctx, "u2", "token"); err != nil {
		t.Fatalf("SignIn failed: %v", err)
	}

	got, err := env.store.Get(ctx, "u1", n.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Content != "unsaved words" {
		t.Errorf("content = %q, want the flushed draft", got.Content)
	}
	if env.ws.OwnerID() != "u2" {
		t.Errorf("owner = %q, want u2", env.ws.OwnerID())
	}
	if env.ws.Cache().Len() != 0 {
		t.Errorf("cache has %d entries after switch", env.ws.Cache().Len())
	}
	if env.ws.Listener().Owner() != "u2" {
		t.Errorf("listener owner = %q", env.ws.Listener().Owner())
	}

	snap, err := env.ws.Notes(ctx)
	if err != nil {
		t.Fatalf("Notes failed: %v", err)
	}
	if len(snap.Notes) != 0 {
		t.Errorf("u2 sees %d notes of u1", len(snap.Notes))
	}
}

func TestWorkspace_SignOut(t *testing.T) {
	env := setup(t, false, nil)
	ctx := context.Background()

	env.ws.Notes(ctx)
	if err := env.ws.SignOut(ctx); err != nil {
		t.Fatalf("SignOut failed: %v", err)
	}

	if env.ws.Cache().Len() != 0 {
		t.Error("cache not cleared on sign-out")
	}
	if _, err := env.ws.Notes(ctx); !errors.Is(err, ErrSignedOut) {
		t.Errorf("Notes = %v, want ErrSignedOut", err)
	}
	if _, err := env.ws.Open(note.Note{ID: "x"}); !errors.Is(err, ErrSignedOut) {
		t.Errorf("Open = %v, want ErrSignedOut", err)
	}
}

// expiringStore rejects List once expired is set.
type expiringStore struct {
	*sqlite.Store
	mu      sync.Mutex
	expired bool
}

func (s *expiringStore) List(ctx context.Context, ownerID string) ([]note.Note, error) {
	s.mu.Lock()
	expired := s.expired
	s.mu.Unlock()
	if expired {
		return nil, fmt.Errorf("token expired: %w", remote.ErrUnauthorized)
	}
	return s.Store.List(ctx, ownerID)
}

func TestWorkspace_UnauthorizedSignsOut(t *testing.T) {
	base, err := sqlite.Open(sqlite.MemoryPath, quiet)
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	defer base.Close()
	store := &expiringStore{Store: base}

	mgr := session.NewManager()
	mgr.SignIn("u1", "token")
	ws := New(store, nil, nil, mgr, DefaultConfig(), quietLoggers())
	defer ws.Close(context.Background())

	ctx := context.Background()
	if _, err := ws.Notes(ctx); err != nil {
		t.Fatalf("Notes failed: %v", err)
	}

	store.mu.Lock()
	store.expired = true
	store.mu.Unlock()

	ws.Cache().Reset()
	if _, err := ws.Notes(ctx); !errors.Is(err, remote.ErrUnauthorized) {
		t.Fatalf("Notes = %v, want ErrUnauthorized", err)
	}
	if ws.OwnerID() != "" {
		t.Errorf("still scoped to %q after Unauthorized", ws.OwnerID())
	}
	if mgr.Current() != nil {
		t.Error("session still current")
	}
}

func TestWorkspace_DeleteDiscardsOpenBuffer(t *testing.T) {
	env := setup(t, false, nil)
	ctx := context.Background()

	n, _ := env.ws.Create(ctx, "doomed", "")
	buf, _ := env.ws.Open(n)
	buf.SetContent("pending edit")

	if err := env.ws.Delete(ctx, n.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	ed, _ := env.ws.Editor()
	if ed.Current() != nil {
		t.Error("deleted note is still open")
	}

	env.clock.Advance(editor.DefaultQuietPeriod)
	if _, err := env.store.Get(ctx, "u1", n.ID); !errors.Is(err, remote.ErrNotFound) {
		t.Errorf("Get = %v, want ErrNotFound", err)
	}
}

func TestWorkspace_CannotTouchAnotherOwnersNotes(t *testing.T) {
	env := setup(t, false, nil)
	ctx := context.Background()

	theirs, err := env.store.Create(ctx, "u2", remote.CreateInput{Title: "secret", Content: "u2 private"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if _, err := env.ws.TogglePin(ctx, theirs.ID, true); !errors.Is(err, remote.ErrNotFound) {
		t.Errorf("TogglePin = %v, want ErrNotFound", err)
	}
	if err := env.ws.Delete(ctx, theirs.ID); err != nil {
		t.Errorf("Delete = %v, want a no-op", err)
	}

	client, err := env.ws.Client()
	if err != nil {
		t.Fatalf("Client failed: %v", err)
	}
	if _, err := client.Get(ctx, theirs.ID); !errors.Is(err, remote.ErrNotFound) {
		t.Errorf("Get = %v, want ErrNotFound", err)
	}

	got, err := env.store.Get(ctx, "u2", theirs.ID)
	if err != nil {
		t.Fatalf("u2's note is gone: %v", err)
	}
	if got.Pinned || got.Content != "u2 private" {
		t.Errorf("u2's note changed: %+v", got)
	}
	if env.ws.OwnerID() != "u1" {
		t.Errorf("owner = %q, want u1", env.ws.OwnerID())
	}
}

func improver(text string) enrich.Generator {
	return enrich.GeneratorFunc(func(context.Context, string, enrich.Params) (string, error) {
		return text, nil
	})
}

func TestWorkspace_ApplyImproved(t *testing.T) {
	t.Run("open note goes through buffer", func(t *testing.T) {
		env := setup(t, false, improver("Polished text."))
		ctx := context.Background()

		n, _ := env.ws.Create(ctx, "t", "rough text")
		buf, _ := env.ws.Open(n)

		orch, err := env.ws.Enrich()
		if err != nil {
			t.Fatalf("Enrich failed: %v", err)
		}
		res, err := orch.Improve(ctx, enrich.SnapshotOf(n))
		if err != nil {
			t.Fatalf("Improve failed: %v", err)
		}

		if err := env.ws.ApplyImproved(ctx, res); err != nil {
			t.Fatalf("ApplyImproved failed: %v", err)
		}
		if buf.Content() != "Polished text." || buf.State() != editor.Clean {
			t.Errorf("buffer = %q/%v", buf.Content(), buf.State())
		}
		got, _ := env.store.Get(ctx, "u1", n.ID)
		if got.Content != "Polished text." || got.Title != "t" {
			t.Errorf("stored = %+v", got)
		}
	})

	t.Run("closed note is written directly", func(t *testing.T) {
		env := setup(t, false, improver("Better."))
		ctx := context.Background()

		n, _ := env.ws.Create(ctx, "t", "worse")
		res := enrich.ImproveResult{NoteID: n.ID, Original: "worse", Improved: "Better."}

		if err := env.ws.ApplyImproved(ctx, res); err != nil {
			t.Fatalf("ApplyImproved failed: %v", err)
		}
		got, _ := env.store.Get(ctx, "u1", n.ID)
		if got.Content != "Better." {
			t.Errorf("content = %q", got.Content)
		}
	})
}

func TestWorkspace_EnrichRequiresProvider(t *testing.T) {
	env := setup(t, false, nil)
	if _, err := env.ws.Enrich(); !errors.Is(err, ErrNoProvider) {
		t.Errorf("Enrich = %v, want ErrNoProvider", err)
	}
}

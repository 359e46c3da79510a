package remote_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"testing"
	"time"

	"github.com/quillnotes/quill/internal/note"
	"github.com/quillnotes/quill/internal/remote"
	"github.com/quillnotes/quill/internal/remote/sqlite"
	"github.com/quillnotes/quill/internal/session"
)

var quiet = log.New(io.Discard, "", 0)

func setupClient(t *testing.T) (*remote.Client, *sqlite.Store, *session.Manager) {
	t.Helper()

	store, err := sqlite.Open(sqlite.MemoryPath, quiet)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	mgr := session.NewManager()
	sess, err := mgr.SignIn("u1", "token")
	if err != nil {
		t.Fatalf("SignIn failed: %v", err)
	}
	return remote.NewClient(store, store.Hub(), sess, quiet), store, mgr
}

func TestClient_CommitHookRunsAfterWrites(t *testing.T) {
	c, _, _ := setupClient(t)
	ctx := context.Background()

	var owners []string
	c.OnCommit(func(ownerID string) { owners = append(owners, ownerID) })

	n, err := c.Create(ctx, "u1", remote.CreateInput{Title: "t"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := c.TogglePin(ctx, n.ID, true); err != nil {
		t.Fatalf("TogglePin failed: %v", err)
	}
	if _, err := c.List(ctx, "u1"); err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if err := c.Delete(ctx, n.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	if len(owners) != 3 {
		t.Fatalf("hook ran %d times, want 3 (reads must not commit)", len(owners))
	}
	for _, o := range owners {
		if o != "u1" {
			t.Errorf("hook owner = %q, want u1", o)
		}
	}
}

func TestClient_OtherOwnersNotesAreOutOfReach(t *testing.T) {
	c, store, _ := setupClient(t)
	ctx := context.Background()

	theirs, err := store.Create(ctx, "u2", remote.CreateInput{Title: "secret", Content: "u2 private"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	var owners []string
	c.OnCommit(func(ownerID string) { owners = append(owners, ownerID) })

	if _, err := c.Get(ctx, theirs.ID); !errors.Is(err, remote.ErrNotFound) {
		t.Errorf("Get = %v, want ErrNotFound", err)
	}
	if _, err := c.Update(ctx, theirs.ID, note.ContentOnly("overwritten by u1")); !errors.Is(err, remote.ErrNotFound) {
		t.Errorf("Update = %v, want ErrNotFound", err)
	}
	if err := c.Delete(ctx, theirs.ID); err != nil {
		t.Errorf("Delete = %v, want a no-op", err)
	}

	got, err := store.Get(ctx, "u2", theirs.ID)
	if err != nil {
		t.Fatalf("u2's note is gone: %v", err)
	}
	if got.Content != "u2 private" {
		t.Errorf("u2's content = %q", got.Content)
	}

	for _, o := range owners {
		if o != "u1" {
			t.Errorf("commit hook invalidated %q, want only u1", o)
		}
	}

	tests := []struct {
		name string
		call func() error
	}{
		{"create", func() error {
			_, err := c.Create(ctx, "u2", remote.CreateInput{Title: "planted"})
			return err
		}},
		{"list", func() error {
			_, err := c.List(ctx, "u2")
			return err
		}},
		{"search", func() error {
			_, err := c.Search(ctx, "u2", "secret")
			return err
		}},
		{"subscribe", func() error {
			_, err := c.SubscribeChanges(ctx, "u2")
			return err
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.call(); !errors.Is(err, remote.ErrUnauthorized) {
				t.Errorf("%s for u2 = %v, want ErrUnauthorized", tt.name, err)
			}
		})
	}

	if !c.Session().Valid() {
		t.Error("naming another owner must not end the session")
	}
	if n, _ := store.Count(ctx, "u2"); n != 1 {
		t.Errorf("u2 has %d notes, want 1", n)
	}
}

func TestClient_TogglePinOnlyTouchesPinned(t *testing.T) {
	c, _, _ := setupClient(t)
	ctx := context.Background()

	n, _ := c.Create(ctx, "u1", remote.CreateInput{Title: "t", Content: "c"})
	got, err := c.TogglePin(ctx, n.ID, true)
	if err != nil {
		t.Fatalf("TogglePin failed: %v", err)
	}
	if !got.Pinned || got.Title != "t" || got.Content != "c" {
		t.Errorf("after TogglePin = %+v", got)
	}
}

func TestClient_ErrorsAreClassified(t *testing.T) {
	c, _, _ := setupClient(t)

	_, err := c.Update(context.Background(), "missing", note.ContentOnly("x"))
	if !errors.Is(err, remote.ErrNotFound) {
		t.Fatalf("Update missing = %v, want ErrNotFound", err)
	}

	var rerr *remote.Error
	if !errors.As(err, &rerr) {
		t.Fatalf("error is %T, want *remote.Error", err)
	}
	if rerr.Op != "update" || rerr.ID != "missing" || rerr.Kind != remote.KindNotFound {
		t.Errorf("error = %+v", rerr)
	}
	if remote.IsRetryable(err) {
		t.Error("NotFound should not be retryable")
	}
}

func TestClient_EmptyPatchRejected(t *testing.T) {
	c, _, _ := setupClient(t)

	_, err := c.Update(context.Background(), "id", note.Patch{})
	if remote.KindOf(err) != remote.KindUnknown || err == nil {
		t.Errorf("empty patch = %v", err)
	}
}

func TestClient_SignedOutIsUnauthorized(t *testing.T) {
	c, _, mgr := setupClient(t)
	mgr.SignOut()

	_, err := c.List(context.Background(), "u1")
	if !errors.Is(err, remote.ErrUnauthorized) {
		t.Errorf("List after SignOut = %v, want ErrUnauthorized", err)
	}
}

// rejectingStore fails every call with ErrUnauthorized.
type rejectingStore struct{ remote.Store }

func (rejectingStore) List(ctx context.Context, ownerID string) ([]note.Note, error) {
	return nil, fmt.Errorf("token expired: %w", remote.ErrUnauthorized)
}

func TestClient_UnauthorizedInvalidatesSession(t *testing.T) {
	mgr := session.NewManager()
	sess, _ := mgr.SignIn("u1", "token")
	c := remote.NewClient(rejectingStore{}, nil, sess, quiet)

	var reason string
	mgr.OnChange(func(ch session.Change) { reason = ch.Reason })

	if _, err := c.List(context.Background(), "u1"); !errors.Is(err, remote.ErrUnauthorized) {
		t.Fatalf("List = %v, want ErrUnauthorized", err)
	}
	if sess.Valid() {
		t.Error("session still valid after Unauthorized")
	}
	if reason != "unauthorized" {
		t.Errorf("change reason = %q", reason)
	}
}

func TestClient_RecentIgnoresPinsAndCaps(t *testing.T) {
	c, _, _ := setupClient(t)
	ctx := context.Background()

	var last note.Note
	for i := 0; i < 5; i++ {
		n, err := c.Create(ctx, "u1", remote.CreateInput{Title: fmt.Sprintf("n%d", i)})
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		last = n
		time.Sleep(2 * time.Millisecond)
	}

	first, _ := c.List(ctx, "u1")
	oldest := first[len(first)-1]
	if _, err := c.Update(ctx, oldest.ID, note.SummaryOnly("touched")); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	recent, err := c.Recent(ctx, "u1", 2)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("Recent returned %d notes, want 2", len(recent))
	}
	if recent[0].ID != oldest.ID || recent[1].ID != last.ID {
		t.Errorf("Recent = [%s %s], want [%s %s]", recent[0].Title, recent[1].Title, oldest.Title, last.Title)
	}
}

func TestClient_SubscribeChanges(t *testing.T) {
	c, _, _ := setupClient(t)
	ctx := context.Background()

	sub, err := c.SubscribeChanges(ctx, "u1")
	if err != nil {
		t.Fatalf("SubscribeChanges failed: %v", err)
	}
	defer sub.Close()

	n, _ := c.Create(ctx, "u1", remote.CreateInput{Title: "t"})

	select {
	case ev := <-sub.Events():
		if ev.NoteID != n.ID {
			t.Errorf("event note = %s, want %s", ev.NoteID, n.ID)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestClient_SubscribeWithoutFeed(t *testing.T) {
	mgr := session.NewManager()
	sess, _ := mgr.SignIn("u1", "")
	c := remote.NewClient(rejectingStore{}, nil, sess, quiet)

	if _, err := c.SubscribeChanges(context.Background(), "u1"); err == nil {
		t.Error("expected error without a feed")
	}
}

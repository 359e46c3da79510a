package transfer

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/quillnotes/quill/internal/note"
	"github.com/quillnotes/quill/internal/remote"
	"github.com/quillnotes/quill/internal/remote/sqlite"
)

func setupStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.Open(sqlite.MemoryPath, nil)
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"jsonl", FormatJSONL, false},
		{"YAML", FormatYAML, false},
		{" yml ", FormatYAML, false},
		{"csv", "", true},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseFormat(%q) = %q, %v", tt.in, got, err)
		}
	}
}

func TestReadJSONL(t *testing.T) {
	input := `{"id":"n1","owner_id":"u1","title":"a","content":"","tags":["x","x","y"],"pinned":false,"created_at":"2025-01-01T00:00:00Z","updated_at":"2025-01-01T00:00:00Z"}

{"id":"n2","owner_id":"u1","title":"b","content":"c","tags":null,"pinned":true,"created_at":"2025-01-01T00:00:00Z","updated_at":"2025-01-02T00:00:00Z"}
`
	notes, err := ReadJSONL(strings.NewReader(input))
	if err != nil {
		t.Fatalf("ReadJSONL failed: %v", err)
	}
	if len(notes) != 2 {
		t.Fatalf("got %d notes, want 2", len(notes))
	}
	if got := notes[0].Tags; len(got) != 2 || got[0] != "x" || got[1] != "y" {
		t.Errorf("tags = %v, want [x y]", got)
	}
	if !notes[1].Pinned {
		t.Error("second note should be pinned")
	}
}

func TestReadJSONL_ReportsLine(t *testing.T) {
	_, err := ReadJSONL(strings.NewReader("{\"id\":\"n1\"}\nnot json\n"))
	if err == nil || !strings.Contains(err.Error(), "line 2") {
		t.Errorf("err = %v, want line 2", err)
	}
}

func TestExportImport_JSONL(t *testing.T) {
	ctx := context.Background()
	src := setupStore(t)

	created, err := src.Create(ctx, "u1", remote.CreateInput{Title: "Groceries", Content: "milk"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := src.Update(ctx, "u1", created.ID, note.TagsOnly([]string{"home"})); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if _, err := src.Create(ctx, "u2", remote.CreateInput{Title: "other owner"}); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	path := filepath.Join(t.TempDir(), "out", "notes.jsonl")
	count, err := Export(ctx, src, "u1", path, FormatJSONL)
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if count != 1 {
		t.Errorf("exported %d notes, want 1", count)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("temp file left behind")
	}

	dst := setupStore(t)
	result, err := Import(ctx, dst, ImportOptions{Path: path})
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if result.Read != 1 || result.Imported != 1 || len(result.Skipped) != 0 {
		t.Errorf("result = %+v", result)
	}

	got, err := dst.Get(ctx, "u1", created.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Title != "Groceries" || len(got.Tags) != 1 || got.Tags[0] != "home" {
		t.Errorf("imported note = %+v", got)
	}
}

func TestImport_YAMLWithOwnerAndDryRun(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	notes := []note.Note{
		{ID: "n1", OwnerID: "old", Title: "kept", CreatedAt: now, UpdatedAt: now},
		{ID: "", OwnerID: "old", Title: "no id", CreatedAt: now, UpdatedAt: now},
	}

	var buf bytes.Buffer
	if err := Write(&buf, notes, FormatYAML); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	path := filepath.Join(t.TempDir(), "notes.yaml")
	if err := os.WriteFile(path, buf.Bytes(), 0600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	store := setupStore(t)

	dry, err := Import(ctx, store, ImportOptions{Path: path, Owner: "u9", DryRun: true})
	if err != nil {
		t.Fatalf("dry run failed: %v", err)
	}
	if dry.Read != 2 || dry.Imported != 0 || len(dry.Skipped) != 1 {
		t.Errorf("dry run result = %+v", dry)
	}
	if n, _ := store.Count(ctx, ""); n != 0 {
		t.Errorf("dry run wrote %d notes", n)
	}

	result, err := Import(ctx, store, ImportOptions{Path: path, Owner: "u9", Backup: true})
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if result.Imported != 1 || result.BackupCreated == "" {
		t.Errorf("result = %+v", result)
	}

	got, err := store.Get(ctx, "u9", "n1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.OwnerID != "u9" {
		t.Errorf("owner = %q, want u9", got.OwnerID)
	}
}

// Package sqlite provides a notes store backed by embedded SQLite.
//
// The store implements remote.Store and, through its Hub, remote.Feed. It is
// the persistence collaborator the sync client talks to when quill runs
// against a local database file.
//
// Architecture:
//   - Database file: ~/.local/share/quill/notes.db (configurable)
//   - WAL mode: concurrent readers while the autosave and enrichment
//     write-backs commit
//   - Schema: a single notes table with an owner-scoped ordering index
//   - Timestamps: unix microseconds, so ordering is exact in SQL
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ncruces/go-sqlite3"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/quillnotes/quill/internal/note"
	"github.com/quillnotes/quill/internal/remote"
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// Store wraps the SQLite connection with note-specific queries.
type Store struct {
	conn   *sql.DB
	path   string
	hub    *Hub
	logger *log.Logger
	now    func() time.Time

	writeMu   sync.Mutex
	lastWrite time.Time
}

// Open creates a new store at path, creating the file and schema if needed.
//
// The caller MUST call Close() when done to ensure proper cleanup.
//
// Example:
//
//	store, err := sqlite.Open("notes.db", nil)
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
func Open(path string, logger *log.Logger) (*Store, error) {
	if logger == nil {
		logger = log.New(os.Stderr, "[store] ", log.LstdFlags)
	}

	connStr := MemoryPath
	if path != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		connStr = fmt.Sprintf("file:%s", path)
	}

	conn, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if path == MemoryPath {
		// Every connection to :memory: is a separate database.
		conn.SetMaxOpenConns(1)
	} else {
		conn.SetMaxOpenConns(8)
		conn.SetMaxIdleConns(4)
		conn.SetConnMaxLifetime(5 * time.Minute)
	}

	s := &Store{
		conn:   conn,
		path:   path,
		hub:    NewHub(),
		logger: logger,
		now:    time.Now,
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := s.conn.Exec(pragma); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	if err := s.InitSchema(context.Background()); err != nil {
		_ = s.Close()
		return nil, err
	}

	return s, nil
}

// Path returns the database path the store was opened with.
func (s *Store) Path() string {
	return s.path
}

// Hub returns the in-process change feed fed by this store's writes.
func (s *Store) Hub() *Hub {
	return s.hub
}

// Close closes the database connection and ends every subscription.
// Performs a WAL checkpoint to ensure all changes are persisted.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}

	s.hub.Close()

	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		s.logger.Printf("Warning: failed to checkpoint WAL: %v", err)
	}

	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	s.conn = nil
	return nil
}

// InitSchema creates the notes table if it doesn't exist. Safe to call more
// than once.
func (s *Store) InitSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS notes (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		content TEXT NOT NULL DEFAULT '',
		summary TEXT,
		tags TEXT NOT NULL DEFAULT '[]',  -- JSON array
		pinned INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,      -- unix microseconds
		updated_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_notes_owner_order
	    ON notes(owner_id, pinned DESC, updated_at DESC);
	`

	if _, err := s.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

const noteColumns = `id, owner_id, title, content, summary, tags, pinned, created_at, updated_at`

// Create implements remote.Store.Create.
func (s *Store) Create(ctx context.Context, ownerID string, in remote.CreateInput) (note.Note, error) {
	if ownerID == "" {
		return note.Note{}, fmt.Errorf("owner id is required: %w", remote.ErrUnauthorized)
	}

	now := s.now().UTC().Truncate(time.Microsecond)
	n := note.Note{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		Title:     in.Title,
		Content:   in.Content,
		Tags:      []string{},
		CreatedAt: now,
		UpdatedAt: now,
	}

	query := `INSERT INTO notes (` + noteColumns + `) VALUES (?, ?, ?, ?, NULL, '[]', 0, ?, ?)`
	_, err := s.conn.ExecContext(ctx, query,
		n.ID, n.OwnerID, n.Title, n.Content, now.UnixMicro(), now.UnixMicro())
	if err != nil {
		return note.Note{}, fmt.Errorf("failed to insert note: %w", translate(err))
	}

	s.published(remote.Event{Kind: remote.EventInsert, OwnerID: ownerID, NoteID: n.ID})
	return n, nil
}

// Get implements remote.Store.Get.
func (s *Store) Get(ctx context.Context, ownerID, id string) (note.Note, error) {
	row := s.conn.QueryRowContext(ctx, `SELECT `+noteColumns+` FROM notes WHERE id = ? AND owner_id = ?`, id, ownerID)
	n, err := scanNote(row)
	if errors.Is(err, sql.ErrNoRows) {
		return note.Note{}, fmt.Errorf("note %s: %w", id, remote.ErrNotFound)
	}
	if err != nil {
		return note.Note{}, fmt.Errorf("failed to get note %s: %w", id, translate(err))
	}
	return n, nil
}

// Update implements remote.Store.Update.
//
// The patch is applied with a single UPDATE ... RETURNING statement, so only
// the supplied columns change and the write is atomic. UpdatedAt always moves
// forward by at least one microsecond, even if the wall clock does not.
func (s *Store) Update(ctx context.Context, ownerID, id string, patch note.Patch) (note.Note, error) {
	var sets []string
	var args []interface{}

	if patch.Title != nil {
		sets = append(sets, "title = ?")
		args = append(args, *patch.Title)
	}
	if patch.Content != nil {
		sets = append(sets, "content = ?")
		args = append(args, *patch.Content)
	}
	if patch.Summary != nil {
		sets = append(sets, "summary = ?")
		args = append(args, *patch.Summary)
	}
	if patch.SetTags {
		tagsJSON, err := json.Marshal(note.NormalizeTags(patch.Tags))
		if err != nil {
			return note.Note{}, fmt.Errorf("failed to marshal tags: %w", err)
		}
		sets = append(sets, "tags = ?")
		args = append(args, string(tagsJSON))
	}
	if patch.Pinned != nil {
		sets = append(sets, "pinned = ?")
		args = append(args, boolToInt(*patch.Pinned))
	}
	if len(sets) == 0 {
		return note.Note{}, fmt.Errorf("empty patch for note %s", id)
	}

	sets = append(sets, "updated_at = MAX(?, updated_at + 1)")
	args = append(args, s.now().UTC().UnixMicro(), id, ownerID)

	query := `UPDATE notes SET ` + strings.Join(sets, ", ") + ` WHERE id = ? AND owner_id = ? RETURNING ` + noteColumns
	n, err := scanNote(s.conn.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return note.Note{}, fmt.Errorf("note %s: %w", id, remote.ErrNotFound)
	}
	if err != nil {
		return note.Note{}, fmt.Errorf("failed to update note %s: %w", id, translate(err))
	}

	s.published(remote.Event{Kind: remote.EventUpdate, OwnerID: n.OwnerID, NoteID: id})
	return n, nil
}

// Delete implements remote.Store.Delete.
//
// Returns nil if the owner has no such note (idempotent).
func (s *Store) Delete(ctx context.Context, ownerID, id string) error {
	var deleted string
	err := s.conn.QueryRowContext(ctx, `DELETE FROM notes WHERE id = ? AND owner_id = ? RETURNING id`, id, ownerID).Scan(&deleted)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to delete note %s: %w", id, translate(err))
	}

	s.published(remote.Event{Kind: remote.EventDelete, OwnerID: ownerID, NoteID: id})
	return nil
}

// List implements remote.Store.List.
func (s *Store) List(ctx context.Context, ownerID string) ([]note.Note, error) {
	query := `
		SELECT ` + noteColumns + `
		FROM notes
		WHERE owner_id = ?
		ORDER BY pinned DESC, updated_at DESC, id ASC
	`
	rows, err := s.conn.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to query notes: %w", translate(err))
	}
	defer rows.Close()

	return scanNotes(rows)
}

// Search implements remote.Store.Search.
//
// Matching runs in Go over the List result with Unicode case folding rather
// than with SQL LIKE, which only folds ASCII case. Reusing List also keeps a blank query identical to
// List in members and order.
func (s *Store) Search(ctx context.Context, ownerID, text string) ([]note.Note, error) {
	notes, err := s.List(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return notes, nil
	}

	q := note.NewQuery(text)
	matched := make([]note.Note, 0, len(notes))
	for _, n := range notes {
		if q.Matches(n) {
			matched = append(matched, n)
		}
	}
	return matched, nil
}

// Count returns the number of notes owned by ownerID, or all notes when
// ownerID is empty.
func (s *Store) Count(ctx context.Context, ownerID string) (int, error) {
	query := `SELECT COUNT(*) FROM notes`
	var args []interface{}
	if ownerID != "" {
		query += ` WHERE owner_id = ?`
		args = append(args, ownerID)
	}

	var count int
	if err := s.conn.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count notes: %w", translate(err))
	}
	return count, nil
}

// Import upserts fully-formed notes, keeping their IDs and timestamps.
// It is used to restore exports.
func (s *Store) Import(ctx context.Context, notes []note.Note) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
	INSERT INTO notes (` + noteColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		title = excluded.title,
		content = excluded.content,
		summary = excluded.summary,
		tags = excluded.tags,
		pinned = excluded.pinned,
		updated_at = MAX(excluded.updated_at, notes.updated_at + 1)
	`

	owners := make(map[string]bool)
	for i := range notes {
		n := notes[i]
		n.Tags = note.NormalizeTags(n.Tags)
		if err := n.Validate(); err != nil {
			return fmt.Errorf("invalid note %q: %w", n.ID, err)
		}
		tagsJSON, err := json.Marshal(n.Tags)
		if err != nil {
			return fmt.Errorf("failed to marshal tags: %w", err)
		}
		_, err = tx.ExecContext(ctx, query,
			n.ID, n.OwnerID, n.Title, n.Content, nullableString(n.Summary),
			string(tagsJSON), boolToInt(n.Pinned),
			n.CreatedAt.UTC().UnixMicro(), n.UpdatedAt.UTC().UnixMicro())
		if err != nil {
			return fmt.Errorf("failed to import note %s: %w", n.ID, translate(err))
		}
		owners[n.OwnerID] = true
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", translate(err))
	}

	for ownerID := range owners {
		s.published(remote.Event{Kind: remote.EventRefresh, OwnerID: ownerID})
	}
	return nil
}

// LastWrite returns when this store last committed a write.
func (s *Store) LastWrite() time.Time {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.lastWrite
}

func (s *Store) published(ev remote.Event) {
	s.writeMu.Lock()
	s.lastWrite = time.Now()
	s.writeMu.Unlock()

	s.hub.Publish(ev)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanNote(row rowScanner) (note.Note, error) {
	var n note.Note
	var summary sql.NullString
	var tagsJSON string
	var pinned int
	var createdAt, updatedAt int64

	err := row.Scan(&n.ID, &n.OwnerID, &n.Title, &n.Content, &summary,
		&tagsJSON, &pinned, &createdAt, &updatedAt)
	if err != nil {
		return note.Note{}, err
	}

	if summary.Valid {
		text := summary.String
		n.Summary = &text
	}
	n.Tags = []string{}
	if tagsJSON != "" && tagsJSON != "null" {
		if err := json.Unmarshal([]byte(tagsJSON), &n.Tags); err != nil {
			return note.Note{}, fmt.Errorf("failed to unmarshal tags: %w", err)
		}
	}
	n.Pinned = pinned != 0
	n.CreatedAt = time.UnixMicro(createdAt).UTC()
	n.UpdatedAt = time.UnixMicro(updatedAt).UTC()
	return n, nil
}

func scanNotes(rows *sql.Rows) ([]note.Note, error) {
	notes := []note.Note{}
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan note: %w", err)
		}
		notes = append(notes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating notes: %w", err)
	}
	return notes, nil
}

// translate maps SQLite lock contention onto remote.ErrTransient.
func translate(err error) error {
	if errors.Is(err, sqlite3.BUSY) || errors.Is(err, sqlite3.LOCKED) {
		return fmt.Errorf("%w: %v", remote.ErrTransient, err)
	}
	return err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

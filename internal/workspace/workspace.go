// Package workspace wires the sync core together for one signed-in owner.
//
// A Workspace owns the query cache, the realtime listener, the open edit
// buffer and the enrichment orchestrator. Every session change re-scopes
// them: the open buffer is flushed, the cache is reset, the listener is
// restarted for the new owner, and a fresh client and orchestrator are
// bound to the new session.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"

	"github.com/quillnotes/quill/internal/cache"
	"github.com/quillnotes/quill/internal/clock"
	"github.com/quillnotes/quill/internal/editor"
	"github.com/quillnotes/quill/internal/enrich"
	"github.com/quillnotes/quill/internal/note"
	"github.com/quillnotes/quill/internal/realtime"
	"github.com/quillnotes/quill/internal/remote"
	"github.com/quillnotes/quill/internal/session"
)

var (
	// ErrSignedOut is returned by operations that need an owner.
	ErrSignedOut = errors.New("not signed in")

	// ErrNoProvider is returned by AI operations when no enrichment
	// provider is configured.
	ErrNoProvider = errors.New("no AI provider configured")
)

// Config holds the settings of every component the workspace builds.
type Config struct {
	Autosave editor.Config
	Cache    cache.Config
	Realtime realtime.Config
	Params   enrich.Params

	// Clock, when set, overrides the clock of every component.
	Clock clock.Clock
}

// DefaultConfig returns the default workspace configuration.
func DefaultConfig() Config {
	return Config{
		Autosave: editor.DefaultConfig(),
		Cache:    cache.DefaultConfig(),
		Realtime: realtime.DefaultConfig(),
		Params:   enrich.DefaultParams(),
	}
}

// Loggers supplies the component loggers. Nil fields fall back to each
// component's stderr default.
type Loggers struct {
	Workspace *log.Logger
	Remote    *log.Logger
	Cache     *log.Logger
	Realtime  *log.Logger
	Autosave  *log.Logger
	Enrich    *log.Logger
}

// Workspace is the composition root of the sync core.
type Workspace struct {
	store    remote.Store
	feed     remote.Feed
	gen      enrich.Generator
	sessions *session.Manager
	cfg      Config
	loggers  Loggers
	logger   *log.Logger

	cache    *cache.Cache
	listener *realtime.Listener

	ctx    context.Context
	cancel context.CancelFunc
	stopFn func()

	mu      sync.Mutex
	client  *remote.Client
	orch    *enrich.Orchestrator
	editor  *editor.Session
	retired []*editor.Session
}

// New builds a workspace over store and feed and scopes it to the manager's
// current session, if any. feed and gen may be nil, which disables realtime
// updates and AI tasks respectively.
func New(store remote.Store, feed remote.Feed, gen enrich.Generator, sessions *session.Manager, cfg Config, loggers Loggers) *Workspace {
	logger := loggers.Workspace
	if logger == nil {
		logger = log.New(os.Stderr, "[workspace] ", log.LstdFlags)
	}
	if cfg.Clock != nil {
		cfg.Autosave.Clock = cfg.Clock
		cfg.Cache.Clock = cfg.Clock
		cfg.Realtime.Clock = cfg.Clock
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &Workspace{
		store:    store,
		feed:     feed,
		gen:      gen,
		sessions: sessions,
		cfg:      cfg,
		loggers:  loggers,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}
	w.cache = cache.NewWithConfig(cfg.Cache, loggers.Cache)
	w.listener = realtime.New(clientSource{w}, w.cache, cfg.Realtime, loggers.Realtime)

	w.stopFn = sessions.OnChange(w.rescope)
	if current := sessions.Current(); current != nil {
		w.rescope(session.Change{New: current, Reason: "attach"})
	}
	return w
}

// SignIn flushes the open buffer under the old session, then signs in.
func (w *Workspace) SignIn(ctx context.Context, ownerID, token string) error {
	if err := w.flush(ctx); err != nil {
		return err
	}
	if _, err := w.sessions.SignIn(ownerID, token); err != nil {
		return fmt.Errorf("failed to sign in: %w", err)
	}
	return nil
}

// SignOut flushes the open buffer, then signs out and drops every cached
// query.
func (w *Workspace) SignOut(ctx context.Context) error {
	if err := w.flush(ctx); err != nil {
		return err
	}
	w.sessions.SignOut()
	return nil
}

// Close flushes pending edits and stops background work.
func (w *Workspace) Close(ctx context.Context) error {
	err := w.flush(ctx)

	w.stopFn()
	w.listener.Stop()
	w.cancel()
	w.cache.Close()
	return err
}

// OwnerID returns the signed-in owner, or "".
func (w *Workspace) OwnerID() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.client == nil {
		return ""
	}
	return w.client.OwnerID()
}

// Client returns the client bound to the current session.
func (w *Workspace) Client() (*remote.Client, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.client == nil {
		return nil, ErrSignedOut
	}
	return w.client, nil
}

// Cache returns the query cache.
func (w *Workspace) Cache() *cache.Cache {
	return w.cache
}

// Listener returns the realtime listener.
func (w *Workspace) Listener() *realtime.Listener {
	return w.listener
}

// Notes returns the owner's list query through the cache.
func (w *Workspace) Notes(ctx context.Context) (cache.Snapshot, error) {
	client, err := w.Client()
	if err != nil {
		return cache.Snapshot{}, err
	}
	owner := client.OwnerID()
	return w.cache.Fetch(ctx, cache.ListKey(owner), listLoader(client, owner))
}

// Search returns the owner's search query through the cache. A blank text
// is the list query.
func (w *Workspace) Search(ctx context.Context, text string) (cache.Snapshot, error) {
	key, loader, err := w.query(text)
	if err != nil {
		return cache.Snapshot{}, err
	}
	return w.cache.Fetch(ctx, key, loader)
}

// Watch subscribes observer to the query for text ("" for the list) and
// loads it once. The observer then receives every refetch until the
// returned func is called.
func (w *Workspace) Watch(ctx context.Context, text string, observer cache.Observer) (func(), error) {
	key, loader, err := w.query(text)
	if err != nil {
		return nil, err
	}

	unsubscribe := w.cache.Subscribe(key, observer)
	if _, err := w.cache.Fetch(ctx, key, loader); err != nil {
		unsubscribe()
		return nil, err
	}
	return unsubscribe, nil
}

func (w *Workspace) query(text string) (cache.Key, cache.Loader, error) {
	client, err := w.Client()
	if err != nil {
		return cache.Key{}, nil, err
	}
	owner := client.OwnerID()

	if strings.TrimSpace(text) == "" {
		return cache.ListKey(owner), listLoader(client, owner), nil
	}
	loader := func(ctx context.Context) ([]note.Note, error) {
		return client.Search(ctx, owner, text)
	}
	return cache.SearchKey(owner, text), loader, nil
}

func listLoader(client *remote.Client, owner string) cache.Loader {
	return func(ctx context.Context) ([]note.Note, error) {
		return client.List(ctx, owner)
	}
}

// Create adds a note for the signed-in owner.
func (w *Workspace) Create(ctx context.Context, title, content string) (note.Note, error) {
	client, err := w.Client()
	if err != nil {
		return note.Note{}, err
	}
	return client.Create(ctx, client.OwnerID(), remote.CreateInput{Title: title, Content: content})
}

// Delete removes a note. If it is open, its buffer is discarded first so a
// pending autosave cannot race the delete.
func (w *Workspace) Delete(ctx context.Context, id string) error {
	client, err := w.Client()
	if err != nil {
		return err
	}

	w.mu.Lock()
	ed := w.editor
	w.mu.Unlock()
	if ed != nil {
		if buf := ed.Current(); buf != nil && buf.NoteID() == id {
			ed.Discard()
		}
	}
	return client.Delete(ctx, id)
}

// TogglePin sets the pinned flag of a note.
func (w *Workspace) TogglePin(ctx context.Context, id string, pinned bool) (note.Note, error) {
	client, err := w.Client()
	if err != nil {
		return note.Note{}, err
	}
	return client.TogglePin(ctx, id, pinned)
}

// Open selects n for editing and returns its buffer. The previously open
// buffer is flushed in the background.
func (w *Workspace) Open(n note.Note) (*editor.Buffer, error) {
	w.mu.Lock()
	ed := w.editor
	w.mu.Unlock()
	if ed == nil {
		return nil, ErrSignedOut
	}

	buf, _ := ed.Select(n)
	return buf, nil
}

// Editor returns the edit session of the current owner.
func (w *Workspace) Editor() (*editor.Session, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.editor == nil {
		return nil, ErrSignedOut
	}
	return w.editor, nil
}

// Enrich returns the orchestrator of the current owner.
func (w *Workspace) Enrich() (*enrich.Orchestrator, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.gen == nil {
		return nil, ErrNoProvider
	}
	if w.orch == nil {
		return nil, ErrSignedOut
	}
	return w.orch, nil
}

// ApplyImproved accepts a rewrite. When the note is open, the rewrite goes
// through its buffer so the buffer stays the only writer of the content;
// otherwise it is written directly.
func (w *Workspace) ApplyImproved(ctx context.Context, res enrich.ImproveResult) error {
	orch, err := w.Enrich()
	if err != nil {
		return err
	}

	w.mu.Lock()
	ed := w.editor
	w.mu.Unlock()
	if ed == nil {
		return ErrSignedOut
	}

	if buf := ed.Current(); buf != nil && buf.NoteID() == res.NoteID {
		buf.SetContent(res.Improved)
		done := buf.Flush()
		if done == nil {
			return nil
		}
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
		if buf.State() != editor.Clean {
			return fmt.Errorf("failed to save improved content for %s", res.NoteID)
		}
		return nil
	}

	_, err = orch.ApplyImproved(ctx, res)
	return err
}

// flush saves the open buffer and waits for every outstanding save,
// including those of editors retired by earlier session changes.
func (w *Workspace) flush(ctx context.Context) error {
	w.mu.Lock()
	editors := append([]*editor.Session(nil), w.retired...)
	w.retired = nil
	if w.editor != nil {
		editors = append(editors, w.editor)
	}
	w.mu.Unlock()

	for _, ed := range editors {
		ed.Close()
		if err := ed.Wait(ctx); err != nil {
			return fmt.Errorf("failed to flush edits: %w", err)
		}
	}
	return nil
}

// rescope rebuilds the per-owner components after a session change.
func (w *Workspace) rescope(c session.Change) {
	w.mu.Lock()
	if old := w.editor; old != nil {
		old.Close()
		w.retired = append(w.retired, old)
	}
	w.client, w.orch, w.editor = nil, nil, nil

	if c.New != nil {
		client := remote.NewClient(w.store, w.feed, c.New, w.loggers.Remote)
		client.OnCommit(func(ownerID string) {
			w.cache.Invalidate(cache.OwnerKey(ownerID))
		})
		w.client = client
		w.editor = editor.NewSession(client, w.cfg.Autosave, w.loggers.Autosave)
		if w.gen != nil {
			w.orch = enrich.New(w.gen, client, c.New, w.cfg.Params, w.loggers.Enrich)
		}
	}
	w.mu.Unlock()

	w.listener.Stop()
	w.cache.Reset()

	if c.New == nil {
		w.logger.Printf("Signed out (%s)", c.Reason)
		return
	}
	w.logger.Printf("Scoped to %s (%s)", c.New.OwnerID, c.Reason)

	if w.feed == nil {
		return
	}
	if err := w.listener.Start(w.ctx, c.New.OwnerID); err != nil {
		w.logger.Printf("WARNING: realtime updates unavailable: %v", err)
	}
}

// clientSource opens subscriptions through whichever client is current.
type clientSource struct {
	w *Workspace
}

func (s clientSource) SubscribeChanges(ctx context.Context, ownerID string) (remote.Subscription, error) {
	client, err := s.w.Client()
	if err != nil {
		return nil, &remote.Error{Kind: remote.KindUnauthorized, Op: "subscribe", ID: ownerID, Err: err}
	}
	return client.SubscribeChanges(ctx, ownerID)
}

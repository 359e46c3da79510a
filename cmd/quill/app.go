package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/quillnotes/quill/internal/editor"
	"github.com/quillnotes/quill/internal/enrich"
	"github.com/quillnotes/quill/internal/enrich/anthropic"
	"github.com/quillnotes/quill/internal/note"
	"github.com/quillnotes/quill/internal/remote"
	"github.com/quillnotes/quill/internal/remote/sqlite"
	"github.com/quillnotes/quill/internal/remote/wsfeed"
	"github.com/quillnotes/quill/internal/session"
	"github.com/quillnotes/quill/internal/workspace"
)

// app is one command's view of the sync core.
type app struct {
	store *sqlite.Store
	ws    *workspace.Workspace

	saveErrors chan *editor.SaveError
}

// openStore opens the configured database.
func openStore() (*sqlite.Store, error) {
	return sqlite.Open(cfg.Store.Path, logs.Component("store"))
}

// openApp opens the store, picks the change feed and AI provider, and signs
// the workspace in as the configured owner.
func openApp(ctx context.Context) (*app, error) {
	if cfg.Owner == "" {
		return nil, fmt.Errorf("no owner configured: pass --owner or set owner in quill.toml")
	}

	store, err := openStore()
	if err != nil {
		return nil, err
	}

	var feed remote.Feed = store.Hub()
	if cfg.Push.URL != "" {
		ws, err := wsfeed.New(cfg.Push.URL, logs.Component("realtime"))
		if err != nil {
			store.Close()
			return nil, err
		}
		feed = ws
	}

	gen, err := newGenerator()
	if err != nil {
		store.Close()
		return nil, err
	}

	a := &app{store: store, saveErrors: make(chan *editor.SaveError, 8)}

	wcfg := workspace.DefaultConfig()
	wcfg.Autosave.QuietPeriod = cfg.Autosave.QuietPeriod
	wcfg.Autosave.OnError = func(e *editor.SaveError) {
		select {
		case a.saveErrors <- e:
		default:
		}
	}
	wcfg.Cache.CoalesceWindow = cfg.Cache.CoalesceWindow
	wcfg.Realtime.ReconnectDelay = cfg.Realtime.ReconnectDelay
	wcfg.Params = enrich.Params{
		Temperature:     cfg.AI.Temperature,
		TopK:            cfg.AI.TopK,
		TopP:            cfg.AI.TopP,
		MaxOutputTokens: cfg.AI.MaxOutputTokens,
	}

	a.ws = workspace.New(store, feed, gen, session.NewManager(), wcfg, workspace.Loggers{
		Workspace: logs.Component("workspace"),
		Remote:    logs.Component("remote"),
		Cache:     logs.Component("cache"),
		Realtime:  logs.Component("realtime"),
		Autosave:  logs.Component("autosave"),
		Enrich:    logs.Component("enrich"),
	})

	if err := a.ws.SignIn(ctx, cfg.Owner, ""); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// newGenerator returns the configured provider, or nil when AI is off.
func newGenerator() (enrich.Generator, error) {
	if cfg.AI.Provider != "anthropic" || cfg.AI.APIKey == "" {
		return nil, nil
	}
	gen, err := anthropic.New(anthropic.Config{APIKey: cfg.AI.APIKey, Model: cfg.AI.Model})
	if err != nil {
		return nil, fmt.Errorf("failed to create AI provider: %w", err)
	}
	return gen, nil
}

// Close flushes pending edits and closes the store.
func (a *app) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := a.ws.Close(ctx)
	if cerr := a.store.Close(); err == nil {
		err = cerr
	}
	return err
}

// resolve finds the owner's note whose ID equals or starts with ref.
func (a *app) resolve(ctx context.Context, ref string) (note.Note, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return note.Note{}, fmt.Errorf("note id is required")
	}

	snap, err := a.ws.Notes(ctx)
	if err != nil {
		return note.Note{}, err
	}

	var matches []note.Note
	for _, n := range snap.Notes {
		if n.ID == ref {
			return n, nil
		}
		if strings.HasPrefix(n.ID, ref) {
			matches = append(matches, n)
		}
	}

	switch len(matches) {
	case 0:
		return note.Note{}, fmt.Errorf("no note matches %q", ref)
	case 1:
		return matches[0], nil
	default:
		return note.Note{}, fmt.Errorf("%q is ambiguous: matches %d notes", ref, len(matches))
	}
}

// Package cache provides the shared query cache for note lists and searches.
//
// Entries are keyed by owner, scope and params. A fetch stores the result and
// notifies subscribers; an invalidation marks entries stale and, for entries
// someone is watching, schedules one refetch. Further invalidations that land
// before that refetch's load starts join it. One that lands while a load is
// running cannot be answered by it, so the entry gets exactly one more
// refetch once that load finishes.
//
// Concurrent fetches of the same key share one load through singleflight.
// An entry with no observers is dropped when its last observer leaves, or
// RetainUnobserved after its last load if nobody ever watched it.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/quillnotes/quill/internal/clock"
	"github.com/quillnotes/quill/internal/note"
)

// ErrReset is returned by loads that were in flight when Reset was called.
var ErrReset = errors.New("cache reset during load")

// Scopes used by the workspace.
const (
	ScopeList   = "list"
	ScopeSearch = "search"
)

// Key identifies a cached query.
type Key struct {
	Owner  string
	Scope  string
	Params string
}

// ListKey is the key of an owner's full list.
func ListKey(owner string) Key {
	return Key{Owner: owner, Scope: ScopeList}
}

// SearchKey is the key of an owner's search for text.
func SearchKey(owner, text string) Key {
	return Key{Owner: owner, Scope: ScopeSearch, Params: text}
}

// OwnerKey is a prefix matching every key of owner.
func OwnerKey(owner string) Key {
	return Key{Owner: owner}
}

// HasPrefix reports whether k matches prefix. Empty prefix fields match
// anything.
func (k Key) HasPrefix(prefix Key) bool {
	if prefix.Owner != "" && prefix.Owner != k.Owner {
		return false
	}
	if prefix.Scope != "" && prefix.Scope != k.Scope {
		return false
	}
	if prefix.Params != "" && prefix.Params != k.Params {
		return false
	}
	return true
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s/%q", k.Owner, k.Scope, k.Params)
}

// Loader fetches the value for one key.
type Loader func(ctx context.Context) ([]note.Note, error)

// Snapshot is a copy of an entry's state.
type Snapshot struct {
	Key       Key
	Notes     []note.Note
	Stale     bool
	FetchedAt time.Time
}

// Observer receives the latest snapshot after every successful (re)fetch.
type Observer func(Snapshot)

// ErrorHandler receives background refetch failures.
type ErrorHandler func(key Key, err error)

// Config holds cache settings.
type Config struct {
	// CoalesceWindow is how long a refetch waits after the first
	// invalidation, so a burst of events collapses into one load.
	CoalesceWindow time.Duration

	// Clock schedules refetches. Defaults to the wall clock.
	Clock clock.Clock

	// OnError handles refetch failures. Defaults to logging them.
	OnError ErrorHandler

	// RetainUnobserved is how long a fetched entry nobody subscribes to
	// stays readable through Get before it is dropped.
	RetainUnobserved time.Duration
}

// DefaultRetainUnobserved is the default Config.RetainUnobserved.
const DefaultRetainUnobserved = 5 * time.Minute

// DefaultConfig returns the default cache configuration.
func DefaultConfig() Config {
	return Config{
		CoalesceWindow:   100 * time.Millisecond,
		Clock:            clock.Real{},
		RetainUnobserved: DefaultRetainUnobserved,
	}
}

type entry struct {
	key       Key
	notes     []note.Note
	hasValue  bool
	stale     bool
	fetchedAt time.Time
	loader    Loader

	observers map[int]Observer
	nextObs   int

	loading         bool
	staleDuringLoad bool

	// refetchPending is set from the moment a refetch is scheduled until
	// its load finishes. refetchSeq names the latest scheduled refetch.
	refetchPending bool
	refetchSeq     uint64
	cancelRefetch  clock.Cancel

	collectSeq    uint64
	cancelCollect clock.Cancel
}

// Cache is the query cache. It is safe for concurrent use.
type Cache struct {
	cfg    Config
	logger *log.Logger
	group  singleflight.Group

	// base is the context loads run under. Callers' contexts only bound
	// how long they wait, so one caller giving up cannot fail a shared load.
	base   context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	entries map[Key]*entry
	gen     uint64
}

// New creates a cache with the default configuration.
func New(logger *log.Logger) *Cache {
	return NewWithConfig(DefaultConfig(), logger)
}

// NewWithConfig creates a cache with custom configuration.
// If logger is nil, a default logger writing to stderr is used.
func NewWithConfig(cfg Config, logger *log.Logger) *Cache {
	if logger == nil {
		logger = log.New(os.Stderr, "[cache] ", log.LstdFlags)
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	if cfg.CoalesceWindow < 0 {
		cfg.CoalesceWindow = 0
	}
	if cfg.RetainUnobserved <= 0 {
		cfg.RetainUnobserved = DefaultRetainUnobserved
	}
	if cfg.OnError == nil {
		cfg.OnError = func(key Key, err error) {
			logger.Printf("WARNING: refetch of %s failed: %v", key, err)
		}
	}

	base, cancel := context.WithCancel(context.Background())
	return &Cache{
		cfg:     cfg,
		logger:  logger,
		base:    base,
		cancel:  cancel,
		entries: make(map[Key]*entry),
	}
}

// Close cancels in-flight loads and pending refetches.
func (c *Cache) Close() {
	c.Reset()
	c.cancel()
}

// Get returns the cached value for key without blocking on a load. ok is
// false if the key has never been fetched.
func (c *Cache) Get(key Key) (snap Snapshot, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, found := c.entries[key]
	if !found || !e.hasValue {
		return Snapshot{Key: key, Stale: true}, false
	}
	return e.snapshot(), true
}

// Fetch loads key with loader, sharing the load with any concurrent fetch of
// the same key. The loader is remembered for background refetches.
func (c *Cache) Fetch(ctx context.Context, key Key, loader Loader) (Snapshot, error) {
	c.mu.Lock()
	e := c.entryLocked(key)
	e.loader = loader
	e.stopCollectLocked()
	gen := c.gen
	c.mu.Unlock()

	ch := c.group.DoChan(flightKey(gen, key), func() (interface{}, error) {
		return c.load(gen, key, loader)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return Snapshot{Key: key, Stale: true}, res.Err
		}
		return res.Val.(Snapshot), nil
	case <-ctx.Done():
		return Snapshot{Key: key, Stale: true}, ctx.Err()
	}
}

// Subscribe registers observer for key and returns a func that removes it.
// When the last observer of a key leaves, the entry is dropped.
func (c *Cache) Subscribe(key Key, observer Observer) (unsubscribe func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.entryLocked(key)
	e.stopCollectLocked()
	id := e.nextObs
	e.nextObs++
	e.observers[id] = observer

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()

			delete(e.observers, id)
			if len(e.observers) == 0 && c.entries[key] == e {
				if e.cancelRefetch != nil {
					e.cancelRefetch()
				}
				delete(c.entries, key)
			}
		})
	}
}

// Invalidate marks every entry matching prefix stale. Entries with observers
// get one refetch after the coalesce window, unless one is already pending.
func (c *Cache) Invalidate(prefix Key) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key, e := range c.entries {
		if !key.HasPrefix(prefix) {
			continue
		}
		e.stale = true
		if e.loading {
			e.staleDuringLoad = true
		}
		if len(e.observers) == 0 || e.loader == nil || e.refetchPending {
			continue
		}
		c.scheduleRefetchLocked(key, e)
	}
}

// Reset drops every entry, observers included, and cancels pending refetches.
// Loads still in flight finish with ErrReset.
func (c *Cache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, e := range c.entries {
		if e.cancelRefetch != nil {
			e.cancelRefetch()
		}
		e.stopCollectLocked()
	}
	c.entries = make(map[Key]*entry)
	c.gen++
}

// Len returns the number of live entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// scheduleRefetchLocked arranges one refetch of e after the coalesce window,
// replacing a scheduled refetch that has not started yet. Caller holds mu.
func (c *Cache) scheduleRefetchLocked(key Key, e *entry) {
	if e.cancelRefetch != nil {
		e.cancelRefetch()
	}
	e.refetchSeq++
	e.refetchPending = true
	gen, seq := c.gen, e.refetchSeq
	e.cancelRefetch = c.cfg.Clock.AfterFunc(c.cfg.CoalesceWindow, func() {
		c.refetch(gen, seq, key, e)
	})
}

// scheduleCollectLocked drops e after RetainUnobserved unless an observer or
// a fetch claims it first. Caller holds mu.
func (c *Cache) scheduleCollectLocked(key Key, e *entry) {
	if len(e.observers) > 0 {
		return
	}
	e.stopCollectLocked()
	gen, seq := c.gen, e.collectSeq
	e.cancelCollect = c.cfg.Clock.AfterFunc(c.cfg.RetainUnobserved, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.gen != gen || e.collectSeq != seq || c.entries[key] != e {
			return
		}
		if len(e.observers) > 0 || e.loading || e.refetchPending {
			return
		}
		delete(c.entries, key)
	})
}

func (c *Cache) refetch(gen, seq uint64, key Key, e *entry) {
	c.mu.Lock()
	if c.gen != gen || c.entries[key] != e {
		c.mu.Unlock()
		return
	}
	loader := e.loader
	c.mu.Unlock()

	_, err, _ := c.group.Do(flightKey(gen, key), func() (interface{}, error) {
		return c.load(gen, key, loader)
	})

	c.mu.Lock()
	if e.refetchSeq == seq {
		e.refetchPending = false
		e.cancelRefetch = nil
	}
	c.mu.Unlock()

	if err != nil && !errors.Is(err, ErrReset) {
		c.cfg.OnError(key, err)
	}
}

// load runs loader and publishes the result. singleflight guarantees at most
// one load per key and generation.
func (c *Cache) load(gen uint64, key Key, loader Loader) (Snapshot, error) {
	c.mu.Lock()
	e, ok := c.entries[key]
	if ok && c.gen == gen {
		e.loading = true
		e.staleDuringLoad = false
	}
	c.mu.Unlock()

	notes, err := loader(c.base)

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		if err != nil {
			return Snapshot{}, err
		}
		return Snapshot{}, ErrReset
	}
	if ok {
		e.loading = false
	}
	if err != nil {
		if ok && c.entries[key] == e {
			c.scheduleCollectLocked(key, e)
		}
		c.mu.Unlock()
		return Snapshot{}, err
	}

	snap := Snapshot{Key: key, Notes: cloneNotes(notes), FetchedAt: c.cfg.Clock.Now()}
	if !ok || c.entries[key] != e {
		// Entry was collected while loading; the caller still gets the value.
		c.mu.Unlock()
		return snap, nil
	}

	e.notes = snap.Notes
	e.hasValue = true
	e.fetchedAt = snap.FetchedAt
	e.stale = e.staleDuringLoad
	if e.staleDuringLoad && len(e.observers) > 0 && e.loader != nil {
		// The load may have read before the change that invalidated it.
		c.scheduleRefetchLocked(key, e)
	}
	c.scheduleCollectLocked(key, e)
	snap = e.snapshot()
	observers := e.observerList()
	c.mu.Unlock()

	for _, obs := range observers {
		obs(snap)
	}
	return snap, nil
}

// entryLocked returns the entry for key, creating it. Caller holds mu.
func (c *Cache) entryLocked(key Key) *entry {
	e, ok := c.entries[key]
	if !ok {
		e = &entry{key: key, stale: true, observers: make(map[int]Observer)}
		c.entries[key] = e
	}
	return e
}

func (e *entry) stopCollectLocked() {
	e.collectSeq++
	if e.cancelCollect != nil {
		e.cancelCollect()
		e.cancelCollect = nil
	}
}

func (e *entry) snapshot() Snapshot {
	return Snapshot{
		Key:       e.key,
		Notes:     cloneNotes(e.notes),
		Stale:     e.stale,
		FetchedAt: e.fetchedAt,
	}
}

func (e *entry) observerList() []Observer {
	out := make([]Observer, 0, len(e.observers))
	for i := 0; i < e.nextObs; i++ {
		if obs, ok := e.observers[i]; ok {
			out = append(out, obs)
		}
	}
	return out
}

func flightKey(gen uint64, key Key) string {
	return fmt.Sprintf("%d|%s", gen, key)
}

func cloneNotes(notes []note.Note) []note.Note {
	out := make([]note.Note, len(notes))
	for i := range notes {
		out[i] = notes[i].Clone()
	}
	return out
}

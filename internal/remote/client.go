package remote

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"

	"github.com/quillnotes/quill/internal/note"
	"github.com/quillnotes/quill/internal/session"
)

// CommitHook is called after every successful write for the owner whose data
// changed. The workspace wires it to cache invalidation.
type CommitHook func(ownerID string)

// Client wraps a Store and a Feed for one session.
//
// Every call is scoped to the session's owner: reads and writes by ID only
// reach that owner's notes, and an owner argument naming anyone else is
// rejected as Unauthorized.
//
// Errors come back as *Error and are never retried here. An Unauthorized
// failure from the store also invalidates the session the client was built
// for.
type Client struct {
	store  Store
	feed   Feed
	sess   *session.Session
	logger *log.Logger

	hookMu sync.RWMutex
	hooks  []CommitHook
}

// NewClient creates a Client for sess.
//
// feed may be nil if realtime changes are not needed. If logger is nil, a
// default logger writing to stderr is used.
func NewClient(store Store, feed Feed, sess *session.Session, logger *log.Logger) *Client {
	if logger == nil {
		logger = log.New(os.Stderr, "[remote] ", log.LstdFlags)
	}
	return &Client{
		store:  store,
		feed:   feed,
		sess:   sess,
		logger: logger,
	}
}

// Session returns the session the client is bound to.
func (c *Client) Session() *session.Session {
	return c.sess
}

// OwnerID returns the bound session's owner, or "" when signed out.
func (c *Client) OwnerID() string {
	if c.sess == nil {
		return ""
	}
	return c.sess.OwnerID
}

// OnCommit registers a hook run after each successful write.
func (c *Client) OnCommit(hook CommitHook) {
	c.hookMu.Lock()
	defer c.hookMu.Unlock()
	c.hooks = append(c.hooks, hook)
}

// Create inserts a new note for ownerID.
func (c *Client) Create(ctx context.Context, ownerID string, in CreateInput) (note.Note, error) {
	if err := c.authorizeOwner("create", ownerID); err != nil {
		return note.Note{}, err
	}

	n, err := c.store.Create(ctx, ownerID, in)
	if err != nil {
		return note.Note{}, c.fail("create", ownerID, err)
	}

	c.logger.Printf("Created note: %s", n.ID)
	c.committed(ownerID)
	return n, nil
}

// Get reads one note.
func (c *Client) Get(ctx context.Context, id string) (note.Note, error) {
	owner, err := c.authorize("get", id)
	if err != nil {
		return note.Note{}, err
	}

	n, err := c.store.Get(ctx, owner, id)
	if err != nil {
		return note.Note{}, c.fail("get", id, err)
	}
	return n, nil
}

// Update applies only the fields present in patch.
func (c *Client) Update(ctx context.Context, id string, patch note.Patch) (note.Note, error) {
	owner, err := c.authorize("update", id)
	if err != nil {
		return note.Note{}, err
	}
	if patch.IsEmpty() {
		return note.Note{}, &Error{Kind: KindUnknown, Op: "update", ID: id, Err: fmt.Errorf("empty patch")}
	}

	n, err := c.store.Update(ctx, owner, id, patch)
	if err != nil {
		return note.Note{}, c.fail("update", id, err)
	}

	c.logger.Printf("Updated note: %s %s", id, patch)
	c.committed(n.OwnerID)
	return n, nil
}

// TogglePin sets the pinned flag and nothing else.
func (c *Client) TogglePin(ctx context.Context, id string, pinned bool) (note.Note, error) {
	return c.Update(ctx, id, note.PinnedOnly(pinned))
}

// Delete removes a note.
func (c *Client) Delete(ctx context.Context, id string) error {
	owner, err := c.authorize("delete", id)
	if err != nil {
		return err
	}

	if err := c.store.Delete(ctx, owner, id); err != nil {
		return c.fail("delete", id, err)
	}

	c.logger.Printf("Deleted note: %s", id)
	c.committed(owner)
	return nil
}

// List returns the owner's notes, pinned first, then newest first.
func (c *Client) List(ctx context.Context, ownerID string) ([]note.Note, error) {
	if err := c.authorizeOwner("list", ownerID); err != nil {
		return nil, err
	}

	notes, err := c.store.List(ctx, ownerID)
	if err != nil {
		return nil, c.fail("list", ownerID, err)
	}
	return notes, nil
}

// Search matches text against title and content, ignoring case. A blank
// text returns exactly what List returns.
func (c *Client) Search(ctx context.Context, ownerID, text string) ([]note.Note, error) {
	if err := c.authorizeOwner("search", ownerID); err != nil {
		return nil, err
	}

	notes, err := c.store.Search(ctx, ownerID, text)
	if err != nil {
		return nil, c.fail("search", ownerID, err)
	}
	return notes, nil
}

// Recent returns at most limit notes ordered by UpdatedAt descending,
// ignoring pins.
func (c *Client) Recent(ctx context.Context, ownerID string, limit int) ([]note.Note, error) {
	notes, err := c.List(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	note.SortByRecent(notes)
	if limit > 0 && len(notes) > limit {
		notes = notes[:limit]
	}
	return notes, nil
}

// SubscribeChanges starts the realtime stream for ownerID.
func (c *Client) SubscribeChanges(ctx context.Context, ownerID string) (Subscription, error) {
	if err := c.authorizeOwner("subscribe", ownerID); err != nil {
		return nil, err
	}
	if c.feed == nil {
		return nil, &Error{Kind: KindUnknown, Op: "subscribe", ID: ownerID, Err: fmt.Errorf("no change feed configured")}
	}

	sub, err := c.feed.Subscribe(ctx, ownerID)
	if err != nil {
		return nil, c.fail("subscribe", ownerID, err)
	}
	return sub, nil
}

// authorize returns the owner every store call for op must be scoped to.
func (c *Client) authorize(op, id string) (string, error) {
	if !c.sess.Valid() {
		return "", &Error{Kind: KindUnauthorized, Op: op, ID: id, Err: fmt.Errorf("no active session")}
	}
	return c.sess.OwnerID, nil
}

// authorizeOwner rejects an owner argument that is not the session's owner.
func (c *Client) authorizeOwner(op, ownerID string) error {
	owner, err := c.authorize(op, ownerID)
	if err != nil {
		return err
	}
	if ownerID != owner {
		return &Error{Kind: KindUnauthorized, Op: op, ID: ownerID, Err: fmt.Errorf("session belongs to %s", owner)}
	}
	return nil
}

func (c *Client) fail(op, id string, err error) error {
	classified := Classify(op, id, err)
	c.logger.Printf("WARNING: %v", classified)

	if KindOf(classified) == KindUnauthorized {
		c.sess.Invalidate("unauthorized")
	}
	return classified
}

func (c *Client) committed(ownerID string) {
	c.hookMu.RLock()
	hooks := append([]CommitHook(nil), c.hooks...)
	c.hookMu.RUnlock()

	for _, hook := range hooks {
		hook(ownerID)
	}
}

// Package editor holds the in-progress draft of the open note and commits it
// after the user stops typing.
//
// A Buffer moves between three states:
//
//	Clean --edit--> Dirty --quiet period--> Saving --ok--> Clean
//	                  ^                        |
//	                  +------ edit or error ---+
//
// Every edit restarts the quiet timer. At most one save per buffer is in
// flight, and an in-flight save is never cancelled. Failed saves are reported
// and left Dirty; nothing is retried automatically.
package editor

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/quillnotes/quill/internal/clock"
	"github.com/quillnotes/quill/internal/note"
)

// DefaultQuietPeriod is how long the draft must sit unchanged before it is
// saved.
const DefaultQuietPeriod = 2000 * time.Millisecond

// State is the save state of a buffer.
type State int

const (
	Clean State = iota
	Dirty
	Saving
)

func (s State) String() string {
	switch s {
	case Clean:
		return "clean"
	case Dirty:
		return "dirty"
	case Saving:
		return "saving"
	default:
		return "unknown"
	}
}

// Saver commits a patch. *remote.Client implements it.
type Saver interface {
	Update(ctx context.Context, id string, patch note.Patch) (note.Note, error)
}

// SaveError reports a failed save together with the draft that was not
// saved, so the user can copy it somewhere safe.
type SaveError struct {
	NoteID  string
	Title   string
	Content string
	Err     error
}

func (e *SaveError) Error() string {
	return fmt.Sprintf("failed to save note %s: %v", e.NoteID, e.Err)
}

func (e *SaveError) Unwrap() error { return e.Err }

// Config holds autosave settings.
type Config struct {
	QuietPeriod time.Duration
	Clock       clock.Clock

	// OnError receives failed saves. Defaults to logging them.
	OnError func(*SaveError)
}

// DefaultConfig returns the default autosave configuration.
func DefaultConfig() Config {
	return Config{
		QuietPeriod: DefaultQuietPeriod,
		Clock:       clock.Real{},
	}
}

func (cfg Config) withDefaults(logger *log.Logger) Config {
	if cfg.QuietPeriod <= 0 {
		cfg.QuietPeriod = DefaultQuietPeriod
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	if cfg.OnError == nil {
		cfg.OnError = func(err *SaveError) {
			logger.Printf("WARNING: %v", err)
		}
	}
	return cfg
}

// Buffer is the local draft of one note.
type Buffer struct {
	noteID string
	saver  Saver
	cfg    Config
	logger *log.Logger

	mu               sync.Mutex
	title            string
	content          string
	committedTitle   string
	committedContent string
	lastEditAt       time.Time

	dirty  bool
	saving bool

	// saveAgain asks the in-flight save to start another as soon as it
	// finishes, if there are unsaved edits. It is set when the quiet timer
	// fires mid-save or a flush is requested.
	saveAgain bool
	closed    bool

	timerSeq    uint64
	cancelTimer clock.Cancel
	waiters     []chan struct{}
}

// NewBuffer seeds a buffer from n.
// If logger is nil, a default logger writing to stderr is used.
func NewBuffer(n note.Note, saver Saver, cfg Config, logger *log.Logger) *Buffer {
	if logger == nil {
		logger = log.New(os.Stderr, "[autosave] ", log.LstdFlags)
	}
	return &Buffer{
		noteID:           n.ID,
		saver:            saver,
		cfg:              cfg.withDefaults(logger),
		logger:           logger,
		title:            n.Title,
		content:          n.Content,
		committedTitle:   n.Title,
		committedContent: n.Content,
	}
}

// NoteID returns the ID of the note being edited.
func (b *Buffer) NoteID() string {
	return b.noteID
}

// Title returns the draft title.
func (b *Buffer) Title() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.title
}

// Content returns the draft content.
func (b *Buffer) Content() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.content
}

// LastEditAt returns when the draft last changed.
func (b *Buffer) LastEditAt() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastEditAt
}

// State returns the current save state.
func (b *Buffer) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stateLocked()
}

func (b *Buffer) stateLocked() State {
	switch {
	case b.saving:
		return Saving
	case b.dirty:
		return Dirty
	default:
		return Clean
	}
}

// SetTitle replaces the draft title.
func (b *Buffer) SetTitle(title string) {
	b.edit(func() { b.title = title })
}

// SetContent replaces the draft content.
func (b *Buffer) SetContent(content string) {
	b.edit(func() { b.content = content })
}

func (b *Buffer) edit(apply func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		b.logger.Printf("WARNING: edit to closed buffer %s ignored", b.noteID)
		return
	}

	apply()
	b.dirty = true
	b.lastEditAt = b.cfg.Clock.Now()
	b.restartTimerLocked()
}

// restartTimerLocked cancels the quiet timer and starts a new one. The
// sequence number keeps a timer that already fired from acting on a newer
// edit. Caller holds mu.
func (b *Buffer) restartTimerLocked() {
	b.stopTimerLocked()
	b.timerSeq++
	seq := b.timerSeq
	b.cancelTimer = b.cfg.Clock.AfterFunc(b.cfg.QuietPeriod, func() {
		b.quiet(seq)
	})
}

func (b *Buffer) stopTimerLocked() {
	if b.cancelTimer != nil {
		b.cancelTimer()
		b.cancelTimer = nil
	}
	b.timerSeq++
}

// quiet runs when the draft has been unchanged for the quiet period.
func (b *Buffer) quiet(seq uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if seq != b.timerSeq {
		return
	}
	b.cancelTimer = nil

	if !b.dirty {
		return
	}
	if b.saving {
		b.saveAgain = true
		return
	}
	b.startSaveLocked()
}

// startSaveLocked sends the current draft. Caller holds mu.
func (b *Buffer) startSaveLocked() {
	b.saving = true
	b.dirty = false
	b.saveAgain = false

	title, content := b.title, b.content
	go b.save(title, content)
}

func (b *Buffer) save(title, content string) {
	// Saves outlive note switches and shutdown, so they get no deadline of
	// their own; the transport owns timeouts.
	_, err := b.saver.Update(context.Background(), b.noteID, note.TitleContent(title, content))

	b.mu.Lock()
	b.saving = false

	if err != nil {
		b.dirty = true
		b.saveAgain = false
		saveErr := &SaveError{NoteID: b.noteID, Title: b.title, Content: b.content, Err: err}
		waiters := b.takeWaitersLocked()
		b.mu.Unlock()

		b.cfg.OnError(saveErr)
		closeAll(waiters)
		return
	}

	b.committedTitle, b.committedContent = title, content

	if b.dirty {
		if b.saveAgain || b.closed {
			b.startSaveLocked()
			b.mu.Unlock()
			return
		}
		// The quiet timer for the newer edits is still running.
		b.mu.Unlock()
		return
	}

	b.title, b.content = title, content
	waiters := b.takeWaitersLocked()
	b.mu.Unlock()

	b.logger.Printf("Saved note %s", b.noteID)
	closeAll(waiters)
}

// Flush cancels the quiet timer and saves now. The returned channel is
// closed once no save is in flight and nothing is queued. Flushing a clean
// buffer is a no-op and returns nil.
func (b *Buffer) Flush() <-chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.flushLocked()
}

func (b *Buffer) flushLocked() <-chan struct{} {
	b.stopTimerLocked()

	if !b.dirty && !b.saving {
		return nil
	}

	done := make(chan struct{})
	b.waiters = append(b.waiters, done)

	if b.saving {
		b.saveAgain = true
		return done
	}
	b.startSaveLocked()
	return done
}

// Close stops accepting edits and flushes. An in-flight save is left to
// finish, and if edits arrived during it one more save follows.
func (b *Buffer) Close() <-chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	return b.flushLocked()
}

// Discard throws away unsaved edits and returns the draft to the last
// committed values. An in-flight save is not affected.
func (b *Buffer) Discard() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.stopTimerLocked()
	b.title, b.content = b.committedTitle, b.committedContent
	b.dirty = false
	b.saveAgain = false
}

func (b *Buffer) takeWaitersLocked() []chan struct{} {
	waiters := b.waiters
	b.waiters = nil
	return waiters
}

func closeAll(chans []chan struct{}) {
	for _, ch := range chans {
		close(ch)
	}
}

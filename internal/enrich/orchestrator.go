package enrich

import (
	"context"
	"errors"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/quillnotes/quill/internal/note"
	"github.com/quillnotes/quill/internal/remote"
	"github.com/quillnotes/quill/internal/session"
)

// Store is the slice of the sync client the orchestrator uses.
// *remote.Client implements it.
type Store interface {
	Update(ctx context.Context, id string, patch note.Patch) (note.Note, error)
	Recent(ctx context.Context, ownerID string, limit int) ([]note.Note, error)
}

// Snapshot is the note text captured when a task is requested. Tasks work
// on the snapshot, not on whatever the note holds when they finish.
type Snapshot struct {
	NoteID  string
	Title   string
	Content string
}

// SnapshotOf captures n.
func SnapshotOf(n note.Note) Snapshot {
	return Snapshot{NoteID: n.ID, Title: n.Title, Content: n.Content}
}

// SummarizeResult is the outcome of Summarize. Applied is false when the
// note was deleted before the summary could be written.
type SummarizeResult struct {
	NoteID  string
	Summary string
	Applied bool
}

// TagsResult is the outcome of GenerateTags.
type TagsResult struct {
	NoteID  string
	Tags    []string
	Applied bool
}

// ImproveResult is a proposed rewrite awaiting the user's decision.
type ImproveResult struct {
	NoteID   string
	Original string
	Improved string
}

// AnswerResult is the outcome of Ask. ReferencedNoteTitles is a best-effort
// guess: it lists the notes whose title appears verbatim in the answer.
type AnswerResult struct {
	Question             string
	Answer               string
	ReferencedNoteTitles []string
	AskedAt              time.Time
}

// Orchestrator runs enrichment tasks for one session.
type Orchestrator struct {
	gen    Generator
	store  Store
	sess   *session.Session
	params Params
	logger *log.Logger
	now    func() time.Time

	mu        sync.Mutex
	pending   map[Kind]int
	observers map[int]func(bool)
	nextObs   int
	history   []AnswerResult
}

// New creates an orchestrator bound to sess.
// If logger is nil, a default logger writing to stderr is used.
func New(gen Generator, store Store, sess *session.Session, params Params, logger *log.Logger) *Orchestrator {
	if logger == nil {
		logger = log.New(os.Stderr, "[enrich] ", log.LstdFlags)
	}
	return &Orchestrator{
		gen:       gen,
		store:     store,
		sess:      sess,
		params:    params,
		logger:    logger,
		now:       time.Now,
		pending:   make(map[Kind]int),
		observers: make(map[int]func(bool)),
	}
}

// Summarize generates a summary of snap and writes back the summary only.
func (o *Orchestrator) Summarize(ctx context.Context, snap Snapshot) (SummarizeResult, error) {
	defer o.begin(KindSummarize)()

	text, err := o.generate(ctx, KindSummarize, summarizePrompt(snap.Content))
	if err != nil {
		return SummarizeResult{NoteID: snap.NoteID}, err
	}

	res := SummarizeResult{NoteID: snap.NoteID, Summary: text}
	res.Applied, err = o.writeBack(ctx, snap.NoteID, note.SummaryOnly(text))
	return res, err
}

// GenerateTags generates tags for snap and writes back the tags only.
func (o *Orchestrator) GenerateTags(ctx context.Context, snap Snapshot) (TagsResult, error) {
	defer o.begin(KindTags)()

	text, err := o.generate(ctx, KindTags, tagsPrompt(snap.Content))
	if err != nil {
		return TagsResult{NoteID: snap.NoteID}, err
	}

	tags := note.ParseTagList(text)
	if len(tags) == 0 {
		return TagsResult{NoteID: snap.NoteID}, &EnrichmentError{Kind: KindTags, Err: errors.New("no tags in response")}
	}

	res := TagsResult{NoteID: snap.NoteID, Tags: tags}
	res.Applied, err = o.writeBack(ctx, snap.NoteID, note.TagsOnly(tags))
	return res, err
}

// Improve proposes a rewrite of snap. Nothing is written.
func (o *Orchestrator) Improve(ctx context.Context, snap Snapshot) (ImproveResult, error) {
	defer o.begin(KindImprove)()

	text, err := o.generate(ctx, KindImprove, improvePrompt(snap.Content))
	if err != nil {
		return ImproveResult{NoteID: snap.NoteID, Original: snap.Content}, err
	}
	return ImproveResult{NoteID: snap.NoteID, Original: snap.Content, Improved: text}, nil
}

// ApplyImproved writes an accepted rewrite as the note's content.
// Unlike background write-backs, a missing note is reported.
func (o *Orchestrator) ApplyImproved(ctx context.Context, res ImproveResult) (note.Note, error) {
	return o.store.Update(ctx, res.NoteID, note.ContentOnly(res.Improved))
}

// Ask answers question from the owner's most recently updated notes and
// records the exchange in History.
func (o *Orchestrator) Ask(ctx context.Context, question string) (AnswerResult, error) {
	defer o.begin(KindAsk)()

	res := AnswerResult{Question: question, ReferencedNoteTitles: []string{}, AskedAt: o.now()}
	if !o.sess.Valid() {
		return res, &remote.Error{Kind: remote.KindUnauthorized, Op: "ask", Err: errors.New("no active session")}
	}

	notes, err := o.store.Recent(ctx, o.sess.OwnerID, AskContextLimit)
	if err != nil {
		return res, err
	}

	if len(notes) == 0 {
		res.Answer = NoNotesAnswer
	} else {
		answer, err := o.generate(ctx, KindAsk, askPrompt(question, askContext(notes)))
		if err != nil {
			return res, err
		}
		res.Answer = answer
		res.ReferencedNoteTitles = referencedTitles(answer, notes)
	}

	o.mu.Lock()
	o.history = append([]AnswerResult{res}, o.history...)
	o.mu.Unlock()
	return res, nil
}

// History returns past answers of this session, newest first.
func (o *Orchestrator) History() []AnswerResult {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make([]AnswerResult, len(o.history))
	copy(out, o.history)
	return out
}

// ClearHistory forgets past answers.
func (o *Orchestrator) ClearHistory() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.history = nil
}

// Busy reports whether a task of any kind is pending.
func (o *Orchestrator) Busy() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.busyLocked()
}

// Pending returns how many tasks of kind are pending.
func (o *Orchestrator) Pending(kind Kind) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.pending[kind]
}

// OnBusyChange registers fn to be called whenever Busy flips, and returns a
// func that removes it.
func (o *Orchestrator) OnBusyChange(fn func(busy bool)) func() {
	o.mu.Lock()
	defer o.mu.Unlock()

	id := o.nextObs
	o.nextObs++
	o.observers[id] = fn
	return func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		delete(o.observers, id)
	}
}

func (o *Orchestrator) busyLocked() bool {
	for _, n := range o.pending {
		if n > 0 {
			return true
		}
	}
	return false
}

// begin marks a task of kind pending and returns the func that ends it.
func (o *Orchestrator) begin(kind Kind) func() {
	o.track(kind, 1)
	return func() { o.track(kind, -1) }
}

func (o *Orchestrator) track(kind Kind, delta int) {
	o.mu.Lock()
	was := o.busyLocked()
	o.pending[kind] += delta
	now := o.busyLocked()
	var observers []func(bool)
	if was != now {
		for _, fn := range o.observers {
			observers = append(observers, fn)
		}
	}
	o.mu.Unlock()

	for _, fn := range observers {
		fn(now)
	}
}

// generate calls the provider and normalizes its failures.
func (o *Orchestrator) generate(ctx context.Context, kind Kind, prompt string) (string, error) {
	text, err := o.gen.Generate(ctx, prompt, o.params)
	if err != nil {
		var enrichErr *EnrichmentError
		if errors.As(err, &enrichErr) {
			return "", err
		}
		return "", &EnrichmentError{Kind: kind, Err: err}
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return "", &EnrichmentError{Kind: kind, Err: errors.New("empty response")}
	}
	return text, nil
}

// writeBack applies a derived-field patch. A note deleted while the task
// ran is not an error.
func (o *Orchestrator) writeBack(ctx context.Context, id string, patch note.Patch) (bool, error) {
	if _, err := o.store.Update(ctx, id, patch); err != nil {
		if remote.IsNotFound(err) {
			o.logger.Printf("Note %s was deleted before its %s result arrived; dropping it", id, patch)
			return false, nil
		}
		return false, err
	}
	return true, nil
}

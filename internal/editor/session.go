package editor

import (
	"context"
	"log"
	"os"
	"sync"

	"github.com/quillnotes/quill/internal/note"
)

// Session tracks which note is open. Switching notes flushes the outgoing
// buffer before the next one is built.
type Session struct {
	saver  Saver
	cfg    Config
	logger *log.Logger

	mu       sync.Mutex
	current  *Buffer
	flushing []<-chan struct{}
}

// NewSession creates a session with nothing open.
// If logger is nil, a default logger writing to stderr is used.
func NewSession(saver Saver, cfg Config, logger *log.Logger) *Session {
	if logger == nil {
		logger = log.New(os.Stderr, "[autosave] ", log.LstdFlags)
	}
	return &Session{saver: saver, cfg: cfg, logger: logger}
}

// Current returns the open buffer, or nil.
func (s *Session) Current() *Buffer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Select opens n. The outgoing buffer's timer is cancelled and its draft is
// flushed immediately; the returned channel closes when that flush is done
// and is nil if there was nothing to flush. Selecting the note that is
// already open keeps its buffer.
func (s *Session) Select(n note.Note) (*Buffer, <-chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current != nil && s.current.NoteID() == n.ID {
		return s.current, nil
	}

	flushed := s.closeCurrentLocked()
	s.current = NewBuffer(n, s.saver, s.cfg, s.logger)
	return s.current, flushed
}

// Close flushes and closes the open buffer, leaving nothing selected.
func (s *Session) Close() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCurrentLocked()
}

// Discard drops the open buffer's unsaved edits and deselects it.
func (s *Session) Discard() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil {
		return
	}
	s.current.Discard()
	s.closeCurrentLocked()
}

// Wait blocks until every flush started by a switch or Close has finished,
// or ctx is done.
func (s *Session) Wait(ctx context.Context) error {
	s.mu.Lock()
	pending := s.flushing
	s.flushing = nil
	s.mu.Unlock()

	for _, ch := range pending {
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (s *Session) closeCurrentLocked() <-chan struct{} {
	if s.current == nil {
		return nil
	}
	flushed := s.current.Close()
	s.current = nil
	if flushed != nil {
		s.flushing = append(s.flushing, flushed)
	}
	return flushed
}

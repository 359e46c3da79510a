// Package wsfeed implements remote.Feed over the push server's WebSocket
// endpoint.
package wsfeed

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"
	"os"
	"strings"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/quillnotes/quill/internal/push"
	"github.com/quillnotes/quill/internal/remote"
)

// Feed dials a push server for each subscription.
type Feed struct {
	baseURL string
	logger  *log.Logger
}

// New creates a Feed for the push server at baseURL, e.g. ws://127.0.0.1:8787.
// If logger is nil, a default logger writing to stderr is used.
func New(baseURL string, logger *log.Logger) (*Feed, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid push url %q: %w", baseURL, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("invalid push url %q: scheme must be ws or wss", baseURL)
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[realtime] ", log.LstdFlags)
	}
	return &Feed{baseURL: strings.TrimRight(baseURL, "/"), logger: logger}, nil
}

// Subscribe implements remote.Feed.Subscribe. It returns once the server has
// registered the connection.
func (f *Feed) Subscribe(ctx context.Context, ownerID string) (remote.Subscription, error) {
	wsURL := fmt.Sprintf("%s/ws?owner=%s", f.baseURL, url.QueryEscape(ownerID))

	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", f.baseURL, classify(err))
	}

	var hello push.Message
	if err := wsjson.Read(ctx, conn, &hello); err != nil {
		conn.Close(websocket.StatusProtocolError, "no hello")
		return nil, fmt.Errorf("failed to read hello: %w", classify(err))
	}
	if hello.Type != push.MessageTypeHello {
		conn.Close(websocket.StatusProtocolError, "unexpected first message")
		return nil, fmt.Errorf("expected hello, got %q", hello.Type)
	}

	readCtx, cancel := context.WithCancel(ctx)
	sub := &subscription{
		conn:   conn,
		cancel: cancel,
		events: make(chan remote.Event, 64),
		done:   make(chan struct{}),
		logger: f.logger,
	}
	go sub.readLoop(readCtx)
	return sub, nil
}

type subscription struct {
	conn   *websocket.Conn
	cancel context.CancelFunc
	events chan remote.Event
	done   chan struct{}
	logger *log.Logger

	mu     sync.Mutex
	err    error
	closed bool
}

func (s *subscription) Events() <-chan remote.Event { return s.events }

func (s *subscription) Done() <-chan struct{} { return s.done }

func (s *subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *subscription) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	<-s.done
	return nil
}

func (s *subscription) readLoop(ctx context.Context) {
	defer close(s.done)
	defer s.conn.Close(websocket.StatusNormalClosure, "")

	for {
		var msg push.Message
		if err := wsjson.Read(ctx, s.conn, &msg); err != nil {
			s.mu.Lock()
			if !s.closed {
				s.err = classify(err)
			}
			s.mu.Unlock()
			return
		}
		if msg.Type != push.MessageTypeEvent || msg.Event == nil {
			continue
		}

		// A full buffer already holds an invalidation for this owner.
		select {
		case s.events <- *msg.Event:
		default:
		}
	}
}

// classify marks connection failures as transient so callers may reconnect.
func classify(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%w: %v", remote.ErrTransient, err)
}

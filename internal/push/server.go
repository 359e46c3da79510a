// Package push provides the realtime WebSocket server for note changes.
//
// The server relays every change the store publishes to the connected
// clients of the owner it belongs to. Clients connect to /ws?owner=<id> and
// receive a hello message once they are registered, followed by one event
// message per change. Events carry only the note ID; clients refetch.
package push

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/quillnotes/quill/internal/remote"
)

// MessageType defines the type of push message
type MessageType string

const (
	// MessageTypeHello is sent once a client is registered
	MessageTypeHello MessageType = "hello"

	// MessageTypeEvent carries one note change
	MessageTypeEvent MessageType = "event"
)

// Message is one frame sent to clients
type Message struct {
	Type      MessageType   `json:"type"`
	Timestamp time.Time     `json:"timestamp"`
	Owner     string        `json:"owner,omitempty"`
	Event     *remote.Event `json:"event,omitempty"`
}

// Source supplies every change regardless of owner. *sqlite.Hub implements it.
type Source interface {
	SubscribeAll(ctx context.Context) (remote.Subscription, error)
}

// Config holds server configuration
type Config struct {
	// Addr to listen on (default: 127.0.0.1:8787, use port 0 for a random port)
	Addr string

	// WriteTimeout bounds each frame sent to a client
	WriteTimeout time.Duration

	// Logger for server activity (default: stderr logger)
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Addr:         "127.0.0.1:8787",
		WriteTimeout: 5 * time.Second,
		Logger:       log.New(os.Stderr, "[push] ", log.LstdFlags),
	}
}

type client struct {
	owner string
	conn  *websocket.Conn
}

// Server manages WebSocket connections and relays store changes
type Server struct {
	addr         string
	writeTimeout time.Duration
	source       Source
	listener     net.Listener
	server       *http.Server

	clients   map[*websocket.Conn]*client
	clientsMu sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *log.Logger
}

// NewServer creates a push server fed by source
func NewServer(source Source, config *Config) *Server {
	defaults := DefaultConfig()
	if config == nil {
		config = defaults
	}
	if config.Addr == "" {
		config.Addr = defaults.Addr
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = defaults.WriteTimeout
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		addr:         config.Addr,
		writeTimeout: config.WriteTimeout,
		source:       source,
		clients:      make(map[*websocket.Conn]*client),
		ctx:          ctx,
		cancel:       cancel,
		logger:       config.Logger,
	}
}

// Handler returns the HTTP routes served by the server
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	return mux
}

// Start subscribes to the source and begins serving
func (s *Server) Start() error {
	sub, err := s.source.SubscribeAll(s.ctx)
	if err != nil {
		return fmt.Errorf("failed to subscribe to changes: %w", err)
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		sub.Close()
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	s.server = &http.Server{
		Handler:     s.Handler(),
		ReadTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go s.relayLoop(sub)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Printf("Push server listening on %s", ln.Addr())
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Printf("Server error: %v", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the server
func (s *Server) Stop() error {
	s.logger.Println("Stopping push server")

	s.cancel()
	s.closeClients(websocket.StatusGoingAway, "server shutting down")

	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(ctx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
	}

	s.wg.Wait()

	s.logger.Println("Push server stopped")
	return nil
}

// relayLoop forwards source events to the clients of the event's owner
func (s *Server) relayLoop(sub remote.Subscription) {
	defer s.wg.Done()
	defer sub.Close()

	for {
		select {
		case <-s.ctx.Done():
			return

		case <-sub.Done():
			if s.ctx.Err() == nil {
				// Clients reconnect and refetch once the store is back.
				s.logger.Printf("WARNING: change source ended: %v", sub.Err())
				s.closeClients(websocket.StatusTryAgainLater, "change source ended")
			}
			return

		case ev := <-sub.Events():
			s.Broadcast(Message{Type: MessageTypeEvent, Timestamp: time.Now(), Owner: ev.OwnerID, Event: &ev})
		}
	}
}

// Broadcast sends msg to every client of msg.Owner, or to every client when
// Owner is empty
func (s *Server) Broadcast(msg Message) {
	s.clientsMu.RLock()
	targets := make([]*client, 0, len(s.clients))
	for _, c := range s.clients {
		if msg.Owner == "" || c.owner == msg.Owner {
			targets = append(targets, c)
		}
	}
	s.clientsMu.RUnlock()

	for _, c := range targets {
		if err := s.send(c.conn, msg); err != nil {
			s.logger.Printf("Failed to send to client of %s: %v", c.owner, err)
			s.removeClient(c.conn)
		}
	}
}

func (s *Server) send(conn *websocket.Conn, msg Message) error {
	ctx, cancel := context.WithTimeout(s.ctx, s.writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, msg)
}

// handleWebSocket upgrades HTTP connections to WebSocket
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	owner := r.URL.Query().Get("owner")
	if owner == "" {
		http.Error(w, "owner is required", http.StatusBadRequest)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	s.clientsMu.Lock()
	s.clients[conn] = &client{owner: owner, conn: conn}
	clientCount := len(s.clients)
	s.clientsMu.Unlock()

	s.logger.Printf("Client connected for %s (total: %d)", owner, clientCount)

	if err := s.send(conn, Message{Type: MessageTypeHello, Timestamp: time.Now(), Owner: owner}); err != nil {
		s.removeClient(conn)
		return
	}

	go s.readLoop(conn)
}

// readLoop keeps the WebSocket connection alive and handles client disconnects
func (s *Server) readLoop(conn *websocket.Conn) {
	defer s.removeClient(conn)

	for {
		if _, _, err := conn.Read(s.ctx); err != nil {
			return
		}
	}
}

// removeClient safely removes a client connection
func (s *Server) removeClient(conn *websocket.Conn) {
	s.clientsMu.Lock()
	c, exists := s.clients[conn]
	if !exists {
		s.clientsMu.Unlock()
		return
	}
	delete(s.clients, conn)
	clientCount := len(s.clients)
	s.clientsMu.Unlock()

	_ = conn.Close(websocket.StatusNormalClosure, "")
	s.logger.Printf("Client of %s disconnected (total: %d)", c.owner, clientCount)
}

func (s *Server) closeClients(code websocket.StatusCode, reason string) {
	s.clientsMu.Lock()
	conns := make([]*websocket.Conn, 0, len(s.clients))
	for conn := range s.clients {
		conns = append(conns, conn)
		delete(s.clients, conn)
	}
	s.clientsMu.Unlock()

	for _, conn := range conns {
		_ = conn.Close(code, reason)
	}
}

// handleHealth returns server health status
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = fmt.Fprintf(w, `{"status":"ok","clients":%d}`, s.ClientCount())
}

// GetAddr returns the server's listening address
func (s *Server) GetAddr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// ClientCount returns the current number of connected clients
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

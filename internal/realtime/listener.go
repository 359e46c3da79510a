// Package realtime turns change-feed events into query cache invalidations.
//
// The listener keeps one subscription for the signed-in owner. Any event
// invalidates every cached query of that owner; the event payload is never
// trusted as a snapshot. When the subscription drops, the listener
// re-subscribes after a delay and invalidates the owner's queries once to
// cover whatever was missed while disconnected.
package realtime

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/quillnotes/quill/internal/cache"
	"github.com/quillnotes/quill/internal/clock"
	"github.com/quillnotes/quill/internal/remote"
)

// Source opens change subscriptions. *remote.Client implements it.
type Source interface {
	SubscribeChanges(ctx context.Context, ownerID string) (remote.Subscription, error)
}

// Invalidator marks cached queries stale. *cache.Cache implements it.
type Invalidator interface {
	Invalidate(prefix cache.Key)
}

// Config holds listener settings.
type Config struct {
	// ReconnectDelay is the wait before the first re-subscribe attempt.
	// Failed attempts double it up to MaxReconnectDelay.
	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration

	Clock clock.Clock
}

// DefaultConfig returns the default listener configuration.
func DefaultConfig() Config {
	return Config{
		ReconnectDelay:    time.Second,
		MaxReconnectDelay: 30 * time.Second,
		Clock:             clock.Real{},
	}
}

// Stats holds listener counters.
type Stats struct {
	Events     int
	Reconnects int
}

// Listener relays change events for one owner into cache invalidations.
type Listener struct {
	source      Source
	invalidator Invalidator
	cfg         Config
	logger      *log.Logger

	mu      sync.Mutex
	ownerID string
	cancel  context.CancelFunc
	stats   Stats
}

// New creates a listener. If logger is nil, a default logger writing to
// stderr is used.
func New(source Source, invalidator Invalidator, cfg Config, logger *log.Logger) *Listener {
	if logger == nil {
		logger = log.New(os.Stderr, "[realtime] ", log.LstdFlags)
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultConfig().ReconnectDelay
	}
	if cfg.MaxReconnectDelay < cfg.ReconnectDelay {
		cfg.MaxReconnectDelay = cfg.ReconnectDelay
	}
	return &Listener{
		source:      source,
		invalidator: invalidator,
		cfg:         cfg,
		logger:      logger,
	}
}

// Start subscribes for ownerID and relays events until Stop is called or ctx
// is cancelled. A listener already running for another owner is stopped
// first. The first subscribe happens synchronously so its error is returned.
func (l *Listener) Start(ctx context.Context, ownerID string) error {
	l.Stop()

	runCtx, cancel := context.WithCancel(ctx)
	sub, err := l.source.SubscribeChanges(runCtx, ownerID)
	if err != nil {
		cancel()
		return fmt.Errorf("failed to subscribe for %s: %w", ownerID, err)
	}

	l.mu.Lock()
	l.ownerID = ownerID
	l.cancel = cancel
	l.mu.Unlock()

	go l.run(runCtx, ownerID, sub)
	l.logger.Printf("Listening for changes to %s", ownerID)
	return nil
}

// Stop ends the subscription. It does not wait for the relay loop, which
// may be the goroutine whose Unauthorized failure triggered the stop.
func (l *Listener) Stop() {
	l.mu.Lock()
	cancel := l.cancel
	l.cancel = nil
	l.ownerID = ""
	l.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// Owner returns the owner being listened for, or "" when stopped.
func (l *Listener) Owner() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ownerID
}

// Stats returns a copy of the listener counters.
func (l *Listener) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stats
}

func (l *Listener) run(ctx context.Context, ownerID string, sub remote.Subscription) {
	for {
		if !l.relay(ctx, ownerID, sub) {
			sub.Close()
			return
		}

		l.logger.Printf("WARNING: change stream for %s lost: %v", ownerID, sub.Err())
		sub.Close()

		sub = l.resubscribe(ctx, ownerID)
		if sub == nil {
			return
		}

		l.mu.Lock()
		l.stats.Reconnects++
		l.mu.Unlock()

		l.logger.Printf("Reconnected change stream for %s", ownerID)
		l.invalidator.Invalidate(cache.OwnerKey(ownerID))
	}
}

// relay forwards events until the subscription ends. It returns false when
// ctx is done.
func (l *Listener) relay(ctx context.Context, ownerID string, sub remote.Subscription) bool {
	for {
		select {
		case <-ctx.Done():
			return false

		case <-sub.Events():
			l.mu.Lock()
			l.stats.Events++
			l.mu.Unlock()
			l.invalidator.Invalidate(cache.OwnerKey(ownerID))

		case <-sub.Done():
			if ctx.Err() != nil {
				return false
			}
			return true
		}
	}
}

// resubscribe retries with a doubling delay until it succeeds or ctx is done.
func (l *Listener) resubscribe(ctx context.Context, ownerID string) remote.Subscription {
	delay := l.cfg.ReconnectDelay
	for {
		if !l.sleep(ctx, delay) {
			return nil
		}

		sub, err := l.source.SubscribeChanges(ctx, ownerID)
		if err == nil {
			return sub
		}
		if remote.KindOf(err) == remote.KindUnauthorized {
			l.logger.Printf("WARNING: stopping change stream for %s: %v", ownerID, err)
			return nil
		}

		l.logger.Printf("WARNING: re-subscribe for %s failed: %v", ownerID, err)
		delay *= 2
		if delay > l.cfg.MaxReconnectDelay {
			delay = l.cfg.MaxReconnectDelay
		}
	}
}

func (l *Listener) sleep(ctx context.Context, d time.Duration) bool {
	wake := make(chan struct{})
	stop := l.cfg.Clock.AfterFunc(d, func() { close(wake) })
	select {
	case <-wake:
		return true
	case <-ctx.Done():
		stop()
		return false
	}
}

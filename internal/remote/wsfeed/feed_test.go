package wsfeed

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"
	"time"

	"github.com/quillnotes/quill/internal/push"
	"github.com/quillnotes/quill/internal/remote"
	"github.com/quillnotes/quill/internal/remote/sqlite"
)

var quiet = log.New(io.Discard, "", 0)

func startPush(t *testing.T) (*push.Server, *sqlite.Hub) {
	t.Helper()
	hub := sqlite.NewHub()
	server := push.NewServer(hub, &push.Config{Addr: "127.0.0.1:0", Logger: quiet})
	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start push server: %v", err)
	}
	t.Cleanup(func() { server.Stop() })
	return server, hub
}

func TestFeed_DeliversEvents(t *testing.T) {
	server, hub := startPush(t)

	feed, err := New("ws://"+server.GetAddr(), quiet)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sub, err := feed.Subscribe(ctx, "u1")
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer sub.Close()

	hub.Publish(remote.Event{Kind: remote.EventDelete, OwnerID: "u1", NoteID: "n1"})

	select {
	case ev := <-sub.Events():
		if ev.Kind != remote.EventDelete || ev.NoteID != "n1" {
			t.Errorf("event = %+v", ev)
		}
	case <-ctx.Done():
		t.Fatal("timeout waiting for event")
	}
}

func TestFeed_ServerShutdownEndsSubscription(t *testing.T) {
	server, _ := startPush(t)

	feed, _ := New("ws://"+server.GetAddr(), quiet)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sub, err := feed.Subscribe(ctx, "u1")
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	server.Stop()

	select {
	case <-sub.Done():
	case <-ctx.Done():
		t.Fatal("subscription did not end")
	}
	if !errors.Is(sub.Err(), remote.ErrTransient) {
		t.Errorf("Err() = %v, want transient", sub.Err())
	}
}

func TestFeed_CloseHasNoError(t *testing.T) {
	server, _ := startPush(t)

	feed, _ := New("ws://"+server.GetAddr(), quiet)
	sub, err := feed.Subscribe(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	if err := sub.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if sub.Err() != nil {
		t.Errorf("Err() after Close = %v", sub.Err())
	}
}

func TestFeed_DialFailureIsTransient(t *testing.T) {
	feed, _ := New("ws://127.0.0.1:1", quiet)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := feed.Subscribe(ctx, "u1")
	if !errors.Is(err, remote.ErrTransient) {
		t.Errorf("Subscribe = %v, want transient", err)
	}
}

func TestNew_RejectsBadScheme(t *testing.T) {
	if _, err := New("http://localhost", quiet); err == nil {
		t.Error("expected error for http scheme")
	}
}

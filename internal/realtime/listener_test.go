package realtime

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/quillnotes/quill/internal/cache"
	"github.com/quillnotes/quill/internal/clock"
	"github.com/quillnotes/quill/internal/note"
	"github.com/quillnotes/quill/internal/remote"
	"github.com/quillnotes/quill/internal/remote/sqlite"
	"github.com/quillnotes/quill/internal/session"
)

var quiet = log.New(io.Discard, "", 0)

// countingInvalidator forwards to an optional cache and counts calls.
type countingInvalidator struct {
	next  Invalidator
	calls int32
}

func (c *countingInvalidator) Invalidate(prefix cache.Key) {
	atomic.AddInt32(&c.calls, 1)
	if c.next != nil {
		c.next.Invalidate(prefix)
	}
}

func (c *countingInvalidator) count() int {
	return int(atomic.LoadInt32(&c.calls))
}

// waitFor polls cond until it holds or a second passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestListener_BurstOfInsertsRefetchesOnce(t *testing.T) {
	store, err := sqlite.Open(sqlite.MemoryPath, quiet)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer store.Close()

	mgr := session.NewManager()
	sess, _ := mgr.SignIn("U1", "")
	client := remote.NewClient(store, store.Hub(), sess, quiet)

	fake := clock.NewFake(time.Unix(0, 0))
	c := cache.NewWithConfig(cache.Config{CoalesceWindow: 100 * time.Millisecond, Clock: fake}, quiet)

	var loads int32
	key := cache.ListKey("U1")
	loader := func(ctx context.Context) ([]note.Note, error) {
		atomic.AddInt32(&loads, 1)
		return client.List(ctx, "U1")
	}
	unsubscribe := c.Subscribe(key, func(cache.Snapshot) {})
	defer unsubscribe()
	if _, err := c.Fetch(context.Background(), key, loader); err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}

	inv := &countingInvalidator{next: c}
	l := New(client, inv, Config{ReconnectDelay: time.Second, Clock: fake}, quiet)
	if err := l.Start(context.Background(), "U1"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer l.Stop()

	for i := 0; i < 3; i++ {
		if _, err := client.Create(context.Background(), "U1", remote.CreateInput{Title: "n"}); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
	}
	waitFor(t, "three invalidations", func() bool { return inv.count() == 3 })

	fake.Advance(50 * time.Millisecond)
	fake.Advance(time.Second)

	if got := atomic.LoadInt32(&loads); got != 2 {
		t.Errorf("loads = %d, want 2 (initial + one refetch)", got)
	}
	snap, _ := c.Get(key)
	if len(snap.Notes) != 3 || snap.Stale {
		t.Errorf("snapshot after refetch = %d notes, stale=%v", len(snap.Notes), snap.Stale)
	}
}

// fakeSub is a subscription the test ends by hand.
type fakeSub struct {
	events chan remote.Event
	done   chan struct{}
	once   sync.Once
	err    error
}

func newFakeSub() *fakeSub {
	return &fakeSub{events: make(chan remote.Event, 4), done: make(chan struct{})}
}

func (s *fakeSub) Events() <-chan remote.Event { return s.events }
func (s *fakeSub) Done() <-chan struct{}       { return s.done }
func (s *fakeSub) Err() error                  { return s.err }
func (s *fakeSub) Close() error                { s.drop(nil); return nil }

func (s *fakeSub) drop(err error) {
	s.once.Do(func() {
		s.err = err
		close(s.done)
	})
}

// fakeSource hands out fakeSubs and can be told to fail.
type fakeSource struct {
	mu    sync.Mutex
	subs  []*fakeSub
	fails int
}

func (f *fakeSource) SubscribeChanges(ctx context.Context, ownerID string) (remote.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fails > 0 {
		f.fails--
		return nil, &remote.Error{Kind: remote.KindTransient, Op: "subscribe", Err: errors.New("offline")}
	}
	sub := newFakeSub()
	f.subs = append(f.subs, sub)
	return sub, nil
}

func (f *fakeSource) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

func (f *fakeSource) latest() *fakeSub {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subs[len(f.subs)-1]
}

func TestListener_ReconnectInvalidatesOnce(t *testing.T) {
	fake := clock.NewFake(time.Unix(0, 0))
	src := &fakeSource{}
	inv := &countingInvalidator{}

	l := New(src, inv, Config{ReconnectDelay: time.Second, Clock: fake}, quiet)
	if err := l.Start(context.Background(), "U1"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer l.Stop()

	src.latest().drop(errors.New("connection reset"))
	waitFor(t, "reconnect timer", func() bool { return fake.Pending() == 1 })

	fake.Advance(999 * time.Millisecond)
	if src.count() != 1 {
		t.Fatal("re-subscribed before the reconnect delay")
	}
	fake.Advance(time.Millisecond)

	waitFor(t, "re-subscribe", func() bool { return src.count() == 2 })
	waitFor(t, "invalidation", func() bool { return inv.count() == 1 })

	time.Sleep(10 * time.Millisecond)
	if inv.count() != 1 {
		t.Errorf("invalidations = %d, want exactly 1", inv.count())
	}
	if l.Stats().Reconnects != 1 {
		t.Errorf("Reconnects = %d, want 1", l.Stats().Reconnects)
	}
}

func TestListener_ReconnectBacksOff(t *testing.T) {
	fake := clock.NewFake(time.Unix(0, 0))
	src := &fakeSource{}
	inv := &countingInvalidator{}

	l := New(src, inv, Config{ReconnectDelay: time.Second, MaxReconnectDelay: 4 * time.Second, Clock: fake}, quiet)
	if err := l.Start(context.Background(), "U1"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer l.Stop()

	src.mu.Lock()
	src.fails = 2
	src.mu.Unlock()
	src.latest().drop(errors.New("connection reset"))

	// 1s, then 2s, then 4s.
	for _, step := range []time.Duration{time.Second, 2 * time.Second, 4 * time.Second} {
		waitFor(t, "reconnect timer", func() bool { return fake.Pending() == 1 })
		fake.Advance(step)
	}

	waitFor(t, "re-subscribe", func() bool { return src.count() == 2 })
	waitFor(t, "invalidation", func() bool { return inv.count() == 1 })
}

func TestListener_EventsInvalidateOwnerKeys(t *testing.T) {
	src := &fakeSource{}
	var got []cache.Key
	var mu sync.Mutex
	inv := invalidatorFunc(func(k cache.Key) {
		mu.Lock()
		got = append(got, k)
		mu.Unlock()
	})

	l := New(src, inv, DefaultConfig(), quiet)
	if err := l.Start(context.Background(), "U1"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer l.Stop()

	src.latest().events <- remote.Event{Kind: remote.EventDelete, OwnerID: "U1", NoteID: "n1"}
	waitFor(t, "invalidation", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	})

	if got[0] != cache.OwnerKey("U1") {
		t.Errorf("invalidated %v, want owner prefix", got[0])
	}
}

func TestListener_StopEndsSubscription(t *testing.T) {
	src := &fakeSource{}
	l := New(src, &countingInvalidator{}, DefaultConfig(), quiet)
	if err := l.Start(context.Background(), "U1"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if l.Owner() != "U1" {
		t.Errorf("Owner() = %q", l.Owner())
	}

	sub := src.latest()
	l.Stop()

	select {
	case <-sub.Done():
	case <-time.After(time.Second):
		t.Fatal("subscription not closed after Stop")
	}
	if l.Owner() != "" {
		t.Errorf("Owner() after Stop = %q", l.Owner())
	}
}

func TestListener_StartFailure(t *testing.T) {
	src := &fakeSource{fails: 1}
	l := New(src, &countingInvalidator{}, DefaultConfig(), quiet)

	if err := l.Start(context.Background(), "U1"); err == nil {
		t.Fatal("expected Start to fail")
	}
}

type invalidatorFunc func(cache.Key)

func (f invalidatorFunc) Invalidate(k cache.Key) { f(k) }

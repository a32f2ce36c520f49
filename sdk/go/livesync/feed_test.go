package livesync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"vfxhub/internal/domain"
)

type msg struct {
	ID   string
	Body string
}

type backend struct {
	mu       sync.Mutex
	rows     map[string][]msg
	fetches  map[string]int
	signals  map[string]int
	gate     chan struct{}
	gateFor  string
	inflight chan struct{}
}

func newBackend() *backend {
	return &backend{rows: map[string][]msg{}, fetches: map[string]int{}, signals: map[string]int{}}
}

func (b *backend) fetch(ctx context.Context, scope string) ([]msg, error) {
	b.mu.Lock()
	b.fetches[scope]++
	gate, gated := b.gate, b.gateFor == scope && b.gate != nil
	out := append([]msg(nil), b.rows[scope]...)
	inflight := b.inflight
	if gated {
		b.inflight = nil
	}
	b.mu.Unlock()
	if gated {
		if inflight != nil {
			close(inflight)
		}
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return out, nil
}

func (b *backend) signal(_ context.Context, scope string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.signals[scope]++
	return fmt.Sprint(len(b.rows[scope])), nil
}

func (b *backend) insert(scope, id, body string) {
	b.mu.Lock()
	b.rows[scope] = append(b.rows[scope], msg{ID: id, Body: body})
	b.mu.Unlock()
}

func (b *backend) count(m map[string]int, scope string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return m[scope]
}

type fakeSub struct {
	scope    string
	onChange func(domain.Change)
	onStatus func(string)
	mu       sync.Mutex
	closed   bool
}

func (s *fakeSub) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *fakeSub) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type fakeChannel struct {
	mu   sync.Mutex
	subs []*fakeSub
}

func (c *fakeChannel) Subscribe(_ context.Context, scope string, _ []string, onChange func(domain.Change), onStatus func(string)) (Subscription, error) {
	s := &fakeSub{scope: scope, onChange: onChange, onStatus: onStatus}
	c.mu.Lock()
	c.subs = append(c.subs, s)
	c.mu.Unlock()
	return s, nil
}

func (c *fakeChannel) last() *fakeSub {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subs[len(c.subs)-1]
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func newTestFeed(t *testing.T, b *backend, ch Channel, scope string, notes *[]error) *Feed[msg] {
	t.Helper()
	var mu sync.Mutex
	f, err := NewFeed(Options[msg]{
		Scope:          scope,
		Channel:        ch,
		Fetch:          b.fetch,
		Signal:         b.signal,
		PollInterval:   10 * time.Millisecond,
		ReconcileDelay: 10 * time.Millisecond,
		Notifier: NotifierFunc(func(err error) {
			mu.Lock()
			defer mu.Unlock()
			if notes != nil {
				*notes = append(*notes, err)
			}
		}),
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = f.Close() })
	return f
}

func bodies(items []msg) map[string]int {
	out := map[string]int{}
	for _, m := range items {
		out[m.Body]++
	}
	return out
}

func hasTemp(items []msg) bool {
	for _, m := range items {
		if IsTempID(m.ID) {
			return true
		}
	}
	return false
}

func TestMutateFailureRemovesProvisional(t *testing.T) {
	b := newBackend()
	b.insert("conversation:a:b", "m1", "earlier")
	ch := &fakeChannel{}
	var notes []error
	f := newTestFeed(t, b, ch, "conversation:a:b", &notes)
	if err := f.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	ch.last().onStatus(StatusSubscribed)

	offline := errors.New("network unreachable")
	err := f.Mutate(context.Background(), func(id string) msg {
		return msg{ID: id, Body: "hello"}
	}, func(context.Context) error {
		if !hasTemp(f.Items()) {
			t.Error("provisional record not visible during write")
		}
		return offline
	})
	if !errors.Is(err, offline) {
		t.Fatalf("err = %v", err)
	}
	items := f.Items()
	if hasTemp(items) || bodies(items)["hello"] != 0 {
		t.Fatalf("provisional record survived failure: %+v", items)
	}
	if len(items) != 1 {
		t.Fatalf("authoritative list changed: %+v", items)
	}
	if len(notes) != 1 || !errors.Is(notes[0], offline) {
		t.Fatalf("notifications = %v", notes)
	}
}

func TestMutateSuccessReconcilesWithoutDuplicates(t *testing.T) {
	b := newBackend()
	ch := &fakeChannel{}
	f := newTestFeed(t, b, ch, "conversation:a:b", nil)
	if err := f.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	ch.last().onStatus(StatusSubscribed)

	err := f.Mutate(context.Background(), func(id string) msg {
		return msg{ID: id, Body: "hello"}
	}, func(context.Context) error {
		b.insert("conversation:a:b", "m1", "hello")
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	eventually(t, "reconcile", func() bool {
		items := f.Items()
		return len(items) == 1 && items[0].ID == "m1"
	})
	time.Sleep(30 * time.Millisecond)
	if got := bodies(f.Items())["hello"]; got != 1 {
		t.Fatalf("hello shown %d times", got)
	}
}

func TestInFlightWriteSurvivesRefetch(t *testing.T) {
	b := newBackend()
	ch := &fakeChannel{}
	f := newTestFeed(t, b, ch, "project:p1", nil)
	if err := f.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	ch.last().onStatus(StatusSubscribed)

	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- f.Mutate(context.Background(), func(id string) msg {
			return msg{ID: id, Body: "bid 300"}
		}, func(context.Context) error {
			<-release
			return errors.New("rejected")
		})
	}()
	eventually(t, "provisional", func() bool { return hasTemp(f.Items()) })
	if err := f.Refresh(); err != nil {
		t.Fatal(err)
	}
	if !hasTemp(f.Items()) {
		t.Fatal("refetch dropped a pending write")
	}
	close(release)
	if err := <-done; err == nil {
		t.Fatal("expected write error")
	}
	if hasTemp(f.Items()) {
		t.Fatal("failed bid still listed")
	}
}

func TestChangeTriggersRefetch(t *testing.T) {
	b := newBackend()
	ch := &fakeChannel{}
	f := newTestFeed(t, b, ch, "conversation:a:b", nil)
	if err := f.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	sub := ch.last()
	sub.onStatus(StatusSubscribed)
	if f.Mode() != ModeRealtime {
		t.Fatalf("mode = %s", f.Mode())
	}

	b.insert("conversation:a:b", "m1", "hello")
	sub.onChange(domain.Change{Table: "messages", Scope: "conversation:a:b", Op: "INSERT"})
	eventually(t, "hello", func() bool { return bodies(f.Items())["hello"] == 1 })
}

func TestPollingFollowsChannelStatus(t *testing.T) {
	b := newBackend()
	ch := &fakeChannel{}
	f := newTestFeed(t, b, ch, "machines", nil)
	if err := f.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	sub := ch.last()
	sub.onStatus(StatusSubscribed)
	time.Sleep(15 * time.Millisecond)
	base := b.count(b.signals, "machines")
	time.Sleep(50 * time.Millisecond)
	if got := b.count(b.signals, "machines"); got != base {
		t.Fatalf("polled while realtime: %d -> %d", base, got)
	}

	sub.onStatus(StatusChannelError)
	if f.Mode() != ModePolling {
		t.Fatalf("mode = %s", f.Mode())
	}
	eventually(t, "polls", func() bool { return b.count(b.signals, "machines") >= base+3 })

	sub.onStatus(StatusSubscribed)
	if f.Mode() != ModeRealtime {
		t.Fatalf("mode = %s", f.Mode())
	}
	stopped := b.count(b.signals, "machines")
	time.Sleep(60 * time.Millisecond)
	if got := b.count(b.signals, "machines"); got > stopped+1 {
		t.Fatalf("still polling after SUBSCRIBED: %d -> %d", stopped, got)
	}
}

func TestPollingRefetchesOnlyWhenSignalMoves(t *testing.T) {
	b := newBackend()
	f := newTestFeed(t, b, nil, "posts", nil)
	if err := f.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	eventually(t, "polls", func() bool { return b.count(b.signals, "posts") >= 4 })
	// initial fetch plus one for the first observed signal
	if got := b.count(b.fetches, "posts"); got != 2 {
		t.Fatalf("fetches = %d", got)
	}
	b.insert("posts", "p1", "render done")
	eventually(t, "refetch", func() bool { return bodies(f.Items())["render done"] == 1 })
	if got := b.count(b.fetches, "posts"); got != 3 {
		t.Fatalf("fetches after change = %d", got)
	}
}

func TestSetScopeRearmsAndDropsStaleResults(t *testing.T) {
	b := newBackend()
	b.insert("conversation:a:b", "m1", "to b")
	b.insert("conversation:a:c", "m2", "to c")
	ch := &fakeChannel{}
	f := newTestFeed(t, b, ch, "conversation:a:b", nil)
	if err := f.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	old := ch.last()
	old.onStatus(StatusChannelError)

	gate := make(chan struct{})
	inflight := make(chan struct{})
	b.mu.Lock()
	b.gate, b.gateFor, b.inflight = gate, "conversation:a:b", inflight
	b.mu.Unlock()
	old.onChange(domain.Change{Table: "messages"})
	<-inflight

	if err := f.SetScope("conversation:a:c"); err != nil {
		t.Fatal(err)
	}
	if !old.isClosed() {
		t.Fatal("old subscription left open")
	}
	if sub := ch.last(); sub == old || sub.scope != "conversation:a:c" {
		t.Fatal("channel not re-armed for the new scope")
	}
	close(gate)

	// status from the old subscription must not touch the new one
	old.onStatus(StatusSubscribed)
	if f.Mode() != ModePolling {
		t.Fatalf("stale status changed mode to %s", f.Mode())
	}

	oldPolls := b.count(b.signals, "conversation:a:b")
	time.Sleep(60 * time.Millisecond)
	if got := bodies(f.Items()); got["to b"] != 0 || got["to c"] != 1 {
		t.Fatalf("items = %+v", f.Items())
	}
	if got := b.count(b.signals, "conversation:a:b"); got > oldPolls+1 {
		t.Fatalf("old scope still polled: %d -> %d", oldPolls, got)
	}
	if b.count(b.signals, "conversation:a:c") == 0 {
		t.Fatal("new scope not polled")
	}
}

func TestCloseStopsEverything(t *testing.T) {
	b := newBackend()
	ch := &fakeChannel{}
	f := newTestFeed(t, b, ch, "machines", nil)
	if err := f.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	sub := ch.last()
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
	if !sub.isClosed() {
		t.Fatal("subscription left open")
	}
	polls := b.count(b.signals, "machines")
	time.Sleep(40 * time.Millisecond)
	if got := b.count(b.signals, "machines"); got != polls {
		t.Fatalf("polled after close: %d -> %d", polls, got)
	}
	if err := f.Mutate(context.Background(), func(id string) msg { return msg{ID: id} }, func(context.Context) error { return nil }); !errors.Is(err, ErrClosed) {
		t.Fatalf("mutate after close: %v", err)
	}
}

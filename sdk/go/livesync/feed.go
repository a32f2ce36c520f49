// Package livesync keeps an in-memory list in step with the backend: a
// realtime channel triggers full refetches, a polling loop takes over while
// the channel is degraded, and optimistic writes show up immediately and are
// rolled back when they fail.
package livesync

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"vfxhub/internal/domain"
)

// Channel statuses.
const (
	StatusSubscribed   = "SUBSCRIBED"
	StatusChannelError = "CHANNEL_ERROR"
	StatusTimedOut     = "TIMED_OUT"
	StatusClosed       = "CLOSED"
)

type Mode string

const (
	ModeRealtime Mode = "REALTIME"
	ModePolling  Mode = "POLLING"
)

const (
	DefaultPollInterval   = 3 * time.Second
	DefaultReconcileDelay = 500 * time.Millisecond

	// TempIDPrefix marks provisional records that have not been written yet.
	TempIDPrefix = "tmp-"
)

var (
	ErrStarted = errors.New("livesync: feed already started")
	ErrClosed  = errors.New("livesync: feed closed")
)

// Channel delivers change notifications for one scope. onStatus receives
// SUBSCRIBED on every successful (re)subscribe and one of the other statuses
// when the subscription degrades.
type Channel interface {
	Subscribe(ctx context.Context, scope string, tables []string, onChange func(domain.Change), onStatus func(string)) (Subscription, error)
}

type Subscription interface {
	Close() error
}

// Notifier surfaces failures to a human.
type Notifier interface {
	Notify(err error)
}

type NotifierFunc func(err error)

func (f NotifierFunc) Notify(err error) { f(err) }

// IsTempID reports whether id belongs to a provisional record.
func IsTempID(id string) bool {
	return strings.HasPrefix(id, TempIDPrefix)
}

type Options[T any] struct {
	Scope   string
	Tables  []string
	Channel Channel

	// Fetch loads the full list for a scope.
	Fetch func(ctx context.Context, scope string) ([]T, error)
	// Signal returns a cheap version marker for a scope. While polling, a
	// refetch only happens when it moved. Nil means refetch on every tick.
	Signal func(ctx context.Context, scope string) (string, error)

	PollInterval   time.Duration
	ReconcileDelay time.Duration
	Notifier       Notifier
	Logger         *slog.Logger
	// OnChange receives a snapshot whenever the visible list changes.
	OnChange func(items []T)
}

type provisional[T any] struct {
	id   string
	item T
	// settledAt is the fetch ticket issued when the write succeeded; only
	// fetches started after it may drop the record.
	settled   bool
	settledAt uint64
}

// Feed owns one list of records for the current scope.
type Feed[T any] struct {
	opts   Options[T]
	logger *slog.Logger

	mu      sync.Mutex
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
	closed  bool

	scope    string
	gen      uint64
	mode     Mode
	degraded bool
	sub      Subscription
	stopPoll chan struct{}

	lastSignal string
	haveSignal bool

	items   []T
	pending []*provisional[T]
	issued  uint64
	applied uint64

	timerSeq uint64
	timers   map[uint64]*time.Timer
}

func NewFeed[T any](opts Options[T]) (*Feed[T], error) {
	if opts.Fetch == nil {
		return nil, errors.New("livesync: fetch is required")
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.ReconcileDelay <= 0 {
		opts.ReconcileDelay = DefaultReconcileDelay
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Feed[T]{
		opts:   opts,
		logger: logger,
		scope:  opts.Scope,
		mode:   ModePolling,
		timers: make(map[uint64]*time.Timer),
	}, nil
}

// Start opens the channel and performs the initial fetch. The feed polls
// until the channel reports SUBSCRIBED.
func (f *Feed[T]) Start(ctx context.Context) error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return ErrClosed
	}
	if f.started {
		f.mu.Unlock()
		return ErrStarted
	}
	f.ctx, f.cancel = context.WithCancel(ctx)
	f.started = true
	gen, scope := f.gen, f.scope
	f.mu.Unlock()

	f.arm(gen, scope)
	return f.refetch(gen)
}

// SetScope switches the feed to another scope. The channel, poller and
// reconcile timers of the old scope are torn down and re-armed, and fetches
// still in flight for the old scope are discarded.
func (f *Feed[T]) SetScope(scope string) error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return ErrClosed
	}
	if scope == f.scope {
		f.mu.Unlock()
		return nil
	}
	f.gen++
	gen := f.gen
	f.scope = scope
	sub := f.sub
	f.sub = nil
	f.stopPollingLocked()
	f.stopTimersLocked()
	f.items = nil
	f.pending = nil
	f.haveSignal = false
	f.degraded = false
	started := f.started
	f.mu.Unlock()

	if sub != nil {
		_ = sub.Close()
	}
	f.emit(nil)
	if !started {
		return nil
	}
	f.logger.Debug("livesync scope switched", "scope", scope)
	f.arm(gen, scope)
	return f.refetch(gen)
}

// Close tears down the channel, poller and pending reconcile timers and
// waits for background refetches to finish.
func (f *Feed[T]) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	sub := f.sub
	f.sub = nil
	f.stopPollingLocked()
	f.stopTimersLocked()
	if f.cancel != nil {
		f.cancel()
	}
	f.mu.Unlock()

	var err error
	if sub != nil {
		err = sub.Close()
	}
	f.wg.Wait()
	return err
}

// Items returns the authoritative list followed by provisional records.
func (f *Feed[T]) Items() []T {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshotLocked()
}

func (f *Feed[T]) Mode() Mode {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mode
}

func (f *Feed[T]) Scope() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.scope
}

// Refresh forces a full refetch of the current scope.
func (f *Feed[T]) Refresh() error {
	f.mu.Lock()
	gen := f.gen
	f.mu.Unlock()
	return f.refetch(gen)
}

// Mutate shows the record built by build immediately under a temporary id,
// then runs write. On failure the record is removed, the notifier is told
// and the error returned. On success a reconcile refetch is scheduled that
// replaces the provisional record with the stored one.
func (f *Feed[T]) Mutate(ctx context.Context, build func(tempID string) T, write func(ctx context.Context) error) error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return ErrClosed
	}
	gen := f.gen
	p := &provisional[T]{id: TempIDPrefix + uuid.NewString()}
	p.item = build(p.id)
	f.pending = append(f.pending, p)
	snap := f.snapshotLocked()
	f.mu.Unlock()
	f.emit(snap)

	err := write(ctx)

	f.mu.Lock()
	if err != nil {
		removed := f.removePendingLocked(p)
		snap = f.snapshotLocked()
		f.mu.Unlock()
		if removed {
			f.emit(snap)
		}
		f.notify("write failed", err)
		return err
	}
	if gen != f.gen || f.closed {
		f.mu.Unlock()
		return nil
	}
	p.settled = true
	p.settledAt = f.issued
	f.scheduleLocked(gen)
	f.mu.Unlock()
	return nil
}

func (f *Feed[T]) arm(gen uint64, scope string) {
	f.mu.Lock()
	if gen != f.gen || f.closed {
		f.mu.Unlock()
		return
	}
	f.startPollingLocked(gen)
	ctx := f.ctx
	f.mu.Unlock()

	if f.opts.Channel == nil {
		return
	}
	sub, err := f.opts.Channel.Subscribe(ctx, scope, f.opts.Tables,
		func(c domain.Change) { f.onChange(gen, c) },
		func(status string) { f.onStatus(gen, status) },
	)
	if err != nil {
		f.logger.Warn("livesync subscribe failed, polling", "scope", scope, "err", err)
		return
	}
	f.mu.Lock()
	if gen != f.gen || f.closed {
		f.mu.Unlock()
		_ = sub.Close()
		return
	}
	f.sub = sub
	f.mu.Unlock()
}

func (f *Feed[T]) onChange(gen uint64, c domain.Change) {
	if len(f.opts.Tables) > 0 && !domain.OneOf(c.Table, f.opts.Tables) {
		return
	}
	f.background(gen)
}

func (f *Feed[T]) onStatus(gen uint64, status string) {
	f.mu.Lock()
	if gen != f.gen || f.closed {
		f.mu.Unlock()
		return
	}
	if status == StatusSubscribed {
		catchUp := f.degraded
		f.degraded = false
		f.stopPollingLocked()
		f.mode = ModeRealtime
		f.mu.Unlock()
		f.logger.Debug("livesync realtime", "scope", f.Scope())
		if catchUp {
			f.background(gen)
		}
		return
	}
	f.degraded = true
	wasRealtime := f.mode == ModeRealtime
	f.startPollingLocked(gen)
	f.mu.Unlock()
	if wasRealtime {
		f.logger.Info("livesync channel degraded, polling", "status", status)
	}
}

func (f *Feed[T]) startPollingLocked(gen uint64) {
	f.mode = ModePolling
	if f.stopPoll != nil {
		return
	}
	stop := make(chan struct{})
	f.stopPoll = stop
	ctx := f.ctx
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		ticker := time.NewTicker(f.opts.PollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				f.pollOnce(gen)
			}
		}
	}()
}

func (f *Feed[T]) stopPollingLocked() {
	if f.stopPoll != nil {
		close(f.stopPoll)
		f.stopPoll = nil
	}
}

func (f *Feed[T]) pollOnce(gen uint64) {
	if f.opts.Signal == nil {
		f.refetchLogged(gen)
		return
	}
	f.mu.Lock()
	if gen != f.gen || f.closed {
		f.mu.Unlock()
		return
	}
	ctx, scope := f.ctx, f.scope
	f.mu.Unlock()

	sig, err := f.opts.Signal(ctx, scope)
	if err != nil {
		if ctx.Err() == nil {
			f.logger.Warn("livesync poll failed", "scope", scope, "err", err)
		}
		return
	}
	f.mu.Lock()
	if gen != f.gen || f.closed {
		f.mu.Unlock()
		return
	}
	moved := !f.haveSignal || sig != f.lastSignal
	f.lastSignal = sig
	f.haveSignal = true
	f.mu.Unlock()
	if moved {
		f.refetchLogged(gen)
	}
}

// refetch replaces the list with a fresh fetch. Results of fetches started
// before the last applied one, or for an older scope, are dropped.
func (f *Feed[T]) refetch(gen uint64) error {
	f.mu.Lock()
	if gen != f.gen || f.closed || f.ctx == nil {
		f.mu.Unlock()
		return nil
	}
	f.issued++
	ticket := f.issued
	ctx, scope := f.ctx, f.scope
	f.mu.Unlock()

	items, err := f.opts.Fetch(ctx, scope)
	if err != nil {
		return err
	}

	f.mu.Lock()
	if gen != f.gen || f.closed || ticket <= f.applied {
		f.mu.Unlock()
		return nil
	}
	f.applied = ticket
	f.items = items
	kept := f.pending[:0]
	for _, p := range f.pending {
		if p.settled && ticket > p.settledAt {
			continue
		}
		kept = append(kept, p)
	}
	f.pending = kept
	snap := f.snapshotLocked()
	f.mu.Unlock()
	f.emit(snap)
	return nil
}

func (f *Feed[T]) refetchLogged(gen uint64) {
	if err := f.refetch(gen); err != nil {
		f.mu.Lock()
		cancelled := f.ctx != nil && f.ctx.Err() != nil
		f.mu.Unlock()
		if !cancelled {
			f.notify("refresh failed", err)
		}
	}
}

func (f *Feed[T]) background(gen uint64) {
	f.mu.Lock()
	if gen != f.gen || f.closed {
		f.mu.Unlock()
		return
	}
	f.wg.Add(1)
	f.mu.Unlock()
	go func() {
		defer f.wg.Done()
		f.refetchLogged(gen)
	}()
}

func (f *Feed[T]) scheduleLocked(gen uint64) {
	f.timerSeq++
	id := f.timerSeq
	f.timers[id] = time.AfterFunc(f.opts.ReconcileDelay, func() {
		f.mu.Lock()
		delete(f.timers, id)
		f.mu.Unlock()
		f.background(gen)
	})
}

func (f *Feed[T]) stopTimersLocked() {
	for id, t := range f.timers {
		t.Stop()
		delete(f.timers, id)
	}
}

func (f *Feed[T]) removePendingLocked(p *provisional[T]) bool {
	for i, q := range f.pending {
		if q == p {
			f.pending = append(f.pending[:i], f.pending[i+1:]...)
			return true
		}
	}
	return false
}

func (f *Feed[T]) snapshotLocked() []T {
	out := make([]T, 0, len(f.items)+len(f.pending))
	out = append(out, f.items...)
	for _, p := range f.pending {
		out = append(out, p.item)
	}
	return out
}

func (f *Feed[T]) emit(items []T) {
	if f.opts.OnChange != nil {
		f.opts.OnChange(items)
	}
}

func (f *Feed[T]) notify(msg string, err error) {
	f.logger.Warn("livesync "+msg, "scope", f.Scope(), "err", err)
	if f.opts.Notifier != nil {
		f.opts.Notifier.Notify(err)
	}
}

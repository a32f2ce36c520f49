package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"vfxhub/internal/config"
	"vfxhub/internal/domain"
	"vfxhub/internal/repo"
)

const (
	defaultWebhookInterval = 2 * time.Second
	defaultWebhookTimeout  = 5 * time.Second
	defaultWebhookBatch    = 100
	// recentDeliveryKeys bounds the per-hook memory used to skip the extra
	// scope rows of a write that was already delivered.
	recentDeliveryKeys = 512
)

// WebhookDispatcher posts change-log rows to configured endpoints. Each hook
// keeps its own cursor; a failed delivery stops that hook's batch and is
// retried on the next tick.
//
// A write that touches several scopes leaves one change row per scope. A
// hook receives such a write once: rows sharing table, op, record id and
// timestamp with a recent delivery advance the cursor without a POST.
type WebhookDispatcher struct {
	repo     repo.Repo
	webhooks []config.WebhookConfig
	client   *http.Client
	logger   *slog.Logger
	interval time.Duration
	mu       sync.Mutex
	cursors  map[int]int64
	seen     map[int]*recentSet
}

// recentSet is a bounded FIFO set of delivery keys.
type recentSet struct {
	keys  map[string]struct{}
	order []string
}

func (s *recentSet) has(key string) bool {
	_, ok := s.keys[key]
	return ok
}

func (s *recentSet) add(key string) {
	if s.has(key) {
		return
	}
	if len(s.order) >= recentDeliveryKeys {
		delete(s.keys, s.order[0])
		s.order = s.order[1:]
	}
	s.keys[key] = struct{}{}
	s.order = append(s.order, key)
}

func deliveryKey(c domain.Change) string {
	return c.Table + "|" + c.Op + "|" + c.RecordID + "|" + c.TS
}

func NewWebhookDispatcher(r repo.Repo, hooks []config.WebhookConfig, logger *slog.Logger) *WebhookDispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookDispatcher{
		repo:     r,
		webhooks: hooks,
		client:   &http.Client{Timeout: defaultWebhookTimeout},
		logger:   logger,
		interval: defaultWebhookInterval,
		cursors:  make(map[int]int64),
		seen:     make(map[int]*recentSet),
	}
}

// Run delivers until ctx is done. Hooks start at the current head, so
// history is not replayed on restart.
func (d *WebhookDispatcher) Run(ctx context.Context) {
	if len(d.webhooks) == 0 {
		return
	}
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		d.DispatchOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// DispatchOnce runs one delivery round over every enabled hook.
func (d *WebhookDispatcher) DispatchOnce(ctx context.Context) {
	for i, hook := range d.webhooks {
		if hook.Enabled != nil && !*hook.Enabled {
			continue
		}
		if strings.TrimSpace(hook.URL) == "" {
			continue
		}
		d.dispatchWebhook(ctx, i, hook)
	}
}

func (d *WebhookDispatcher) dispatchWebhook(ctx context.Context, idx int, hook config.WebhookConfig) {
	cursor, ok := d.cursorFor(ctx, idx)
	if !ok {
		return
	}
	changes, err := d.repo.ListChanges(ctx, repo.ChangeFilters{Tables: hook.Tables, AfterSeq: cursor, Limit: defaultWebhookBatch})
	if err != nil {
		d.logger.Warn("webhook: fetch changes failed", "err", err)
		return
	}
	seen := d.seenFor(idx)
	for _, c := range changes {
		key := deliveryKey(c)
		if seen.has(key) {
			d.setCursor(idx, c.Seq)
			continue
		}
		if err := d.postChange(ctx, hook, c); err != nil {
			d.logger.Warn("webhook: delivery failed", "url", hook.URL, "seq", c.Seq, "err", err)
			return
		}
		seen.add(key)
		d.setCursor(idx, c.Seq)
	}
}

func (d *WebhookDispatcher) cursorFor(ctx context.Context, idx int) (int64, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cur, ok := d.cursors[idx]; ok {
		return cur, true
	}
	cur, err := d.repo.LatestSeq(ctx, "")
	if err != nil {
		d.logger.Warn("webhook: init cursor failed", "err", err)
		return 0, false
	}
	d.cursors[idx] = cur
	return cur, true
}

func (d *WebhookDispatcher) seenFor(idx int) *recentSet {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.seen[idx]
	if !ok {
		s = &recentSet{keys: make(map[string]struct{})}
		d.seen[idx] = s
	}
	return s
}

func (d *WebhookDispatcher) setCursor(idx int, value int64) {
	d.mu.Lock()
	d.cursors[idx] = value
	d.mu.Unlock()
}

func (d *WebhookDispatcher) postChange(ctx context.Context, hook config.WebhookConfig, c domain.Change) error {
	data, err := json.Marshal(c)
	if err != nil {
		return err
	}
	client := d.client
	if hook.TimeoutSeconds > 0 {
		client = &http.Client{Timeout: time.Duration(hook.TimeoutSeconds) * time.Second}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Vfxhub-Table", c.Table)
	req.Header.Set("X-Vfxhub-Scope", c.Scope)
	req.Header.Set("X-Vfxhub-Delivery", strconv.FormatInt(c.Seq, 10))
	if strings.TrimSpace(hook.Secret) != "" {
		req.Header.Set("X-Vfxhub-Secret", hook.Secret)
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

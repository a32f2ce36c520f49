package vfxhubsdk

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"vfxhub/sdk/go/livesync"
)

const defaultRetryInterval = 5 * time.Second

// Realtime subscribes to scope change streams over websocket. It implements
// livesync.Channel: every successful (re)subscribe reports SUBSCRIBED and a
// lost connection reports CHANNEL_ERROR before retrying at a fixed interval.
type Realtime struct {
	Client        *Client
	RetryInterval time.Duration
	Logger        *slog.Logger
	Dialer        *websocket.Dialer
}

var _ livesync.Channel = (*Realtime)(nil)

// frame mirrors the server's websocket envelope.
type frame struct {
	Type   string  `json:"type"`
	Status string  `json:"status,omitempty"`
	Change *Change `json:"change,omitempty"`
	Error  string  `json:"error,omitempty"`
}

type realtimeSub struct {
	cancel context.CancelFunc
	done   chan struct{}
	mu     sync.Mutex
	conn   *websocket.Conn
}

func (s *realtimeSub) Close() error {
	s.cancel()
	s.mu.Lock()
	if s.conn != nil {
		_ = s.conn.Close()
	}
	s.mu.Unlock()
	<-s.done
	return nil
}

func (s *realtimeSub) setConn(c *websocket.Conn) {
	s.mu.Lock()
	s.conn = c
	s.mu.Unlock()
}

// Subscribe connects in the background and returns immediately.
func (r *Realtime) Subscribe(ctx context.Context, scope string, tables []string, onChange func(Change), onStatus func(string)) (livesync.Subscription, error) {
	if r.Client == nil {
		return nil, errors.New("vfxhub: realtime needs a client")
	}
	endpoint, err := r.endpoint(scope, tables)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(ctx)
	sub := &realtimeSub{cancel: cancel, done: make(chan struct{})}
	go r.run(ctx, sub, endpoint, scope, onChange, onStatus)
	return sub, nil
}

func (r *Realtime) endpoint(scope string, tables []string) (string, error) {
	u, err := url.Parse(r.Client.base() + "/v0/realtime")
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	q := url.Values{}
	q.Set("scope", scope)
	if len(tables) > 0 {
		q.Set("table", strings.Join(tables, ","))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (r *Realtime) run(ctx context.Context, sub *realtimeSub, endpoint, scope string, onChange func(Change), onStatus func(string)) {
	defer close(sub.done)
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}
	retry := r.RetryInterval
	if retry <= 0 {
		retry = defaultRetryInterval
	}
	dialer := r.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	for {
		status := r.stream(ctx, sub, dialer, endpoint, onChange, onStatus, logger)
		if ctx.Err() != nil {
			return
		}
		onStatus(status)
		logger.Debug("realtime reconnect scheduled", "scope", scope, "status", status, "in", retry)
		select {
		case <-ctx.Done():
			return
		case <-time.After(retry):
		}
	}
}

// stream runs one connection and returns the status that ended it.
func (r *Realtime) stream(ctx context.Context, sub *realtimeSub, dialer *websocket.Dialer, endpoint string, onChange func(Change), onStatus func(string), logger *slog.Logger) string {
	header := http.Header{}
	r.Client.authorize(header)
	conn, res, err := dialer.DialContext(ctx, endpoint, header)
	if err != nil {
		if res != nil {
			logger.Warn("realtime handshake rejected", "status", res.StatusCode)
		} else if ctx.Err() == nil {
			logger.Warn("realtime dial failed", "err", err)
		}
		return livesync.StatusChannelError
	}
	sub.setConn(conn)
	defer func() {
		sub.setConn(nil)
		_ = conn.Close()
	}()
	if ctx.Err() != nil {
		return livesync.StatusClosed
	}
	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) && closeErr.Code == websocket.CloseNormalClosure {
				return livesync.StatusClosed
			}
			return livesync.StatusChannelError
		}
		switch f.Type {
		case "status":
			if f.Status == livesync.StatusSubscribed {
				onStatus(f.Status)
				continue
			}
			// the server closes right after a terminal status
			return f.Status
		case "change":
			if f.Change != nil {
				onChange(*f.Change)
			}
		}
	}
}

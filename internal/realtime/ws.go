package realtime

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"vfxhub/internal/domain"
)

// Channel status values carried by status frames.
const (
	StatusSubscribed   = "SUBSCRIBED"
	StatusChannelError = "CHANNEL_ERROR"
	StatusTimedOut     = "TIMED_OUT"
	StatusClosed       = "CLOSED"
)

const (
	FrameStatus = "status"
	FrameChange = "change"
)

// Frame is the JSON envelope written to websocket clients.
type Frame struct {
	Type   string         `json:"type"`
	Status string         `json:"status,omitempty"`
	Change *domain.Change `json:"change,omitempty"`
	Error  string         `json:"error,omitempty"`
}

const writeWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Handler streams one scope over a websocket connection.
type Handler struct {
	Hub       *Hub
	Heartbeat time.Duration
	Logger    *slog.Logger
}

// Serve upgrades the request and streams changes for scope until the client
// goes away or the hub shuts down. Authorization must happen before.
func (h Handler) Serve(w http.ResponseWriter, r *http.Request, scope string, tables []string) {
	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}
	heartbeat := h.Heartbeat
	if heartbeat <= 0 {
		heartbeat = 25 * time.Second
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()
	conn.SetReadLimit(4096)

	sub := h.Hub.Subscribe(scope)
	defer sub.Cancel()

	gone := make(chan struct{})
	_ = conn.SetReadDeadline(time.Now().Add(2 * heartbeat))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(2 * heartbeat))
	})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	write := func(f Frame) error {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteJSON(f)
	}
	if err := write(Frame{Type: FrameStatus, Status: StatusSubscribed}); err != nil {
		return
	}
	logger.Debug("realtime subscribed", "scope", scope)

	allow := make(map[string]bool, len(tables))
	for _, t := range tables {
		allow[t] = true
	}
	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-gone:
			logger.Debug("realtime client left", "scope", scope)
			return
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case c, ok := <-sub.C:
			if !ok {
				status := StatusClosed
				if sub.Lagged() {
					status = StatusChannelError
				}
				_ = write(Frame{Type: FrameStatus, Status: status})
				_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, status), time.Now().Add(writeWait))
				return
			}
			if len(allow) > 0 && !allow[c.Table] {
				continue
			}
			change := c
			if err := write(Frame{Type: FrameChange, Change: &change}); err != nil {
				return
			}
		}
	}
}

package realtime

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"vfxhub/internal/domain"
)

func TestHubDeliversByScope(t *testing.T) {
	hub := NewHub(4, nil)
	a := hub.Subscribe("posts")
	b := hub.Subscribe("machines")
	defer a.Cancel()
	defer b.Cancel()

	hub.Publish(domain.Change{Seq: 1, Scope: "posts", Table: "posts"})
	select {
	case c := <-a.C:
		if c.Seq != 1 {
			t.Fatalf("unexpected change %+v", c)
		}
	case <-time.After(time.Second):
		t.Fatal("posts subscriber got nothing")
	}
	select {
	case c := <-b.C:
		t.Fatalf("machines subscriber got %+v", c)
	default:
	}
}

func TestHubDisconnectsSlowSubscriber(t *testing.T) {
	hub := NewHub(1, nil)
	sub := hub.Subscribe("posts")
	hub.Publish(domain.Change{Seq: 1, Scope: "posts"}, domain.Change{Seq: 2, Scope: "posts"})

	if hub.Subscribers("posts") != 0 {
		t.Fatalf("slow subscriber still registered")
	}
	if !sub.Lagged() {
		t.Fatalf("expected lagged flag")
	}
	if c, ok := <-sub.C; !ok || c.Seq != 1 {
		t.Fatalf("expected buffered change 1, got %+v ok=%v", c, ok)
	}
	if _, ok := <-sub.C; ok {
		t.Fatalf("expected closed channel after buffered change")
	}
	sub.Cancel()
}

func TestHubCloseIsNotLagged(t *testing.T) {
	hub := NewHub(1, nil)
	sub := hub.Subscribe("machines")
	hub.Close()
	if _, ok := <-sub.C; ok {
		t.Fatal("expected closed channel")
	}
	if sub.Lagged() {
		t.Fatal("shutdown must not be reported as lag")
	}
}

func TestHandlerStreamsFrames(t *testing.T) {
	hub := NewHub(8, nil)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		Handler{Hub: hub, Heartbeat: time.Second}.Serve(w, r, "posts", []string{"posts"})
	}))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))

	var f Frame
	if err := conn.ReadJSON(&f); err != nil || f.Status != StatusSubscribed {
		t.Fatalf("expected SUBSCRIBED frame, got %+v err=%v", f, err)
	}
	deadline := time.Now().Add(time.Second)
	for hub.Subscribers("posts") == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	hub.Publish(
		domain.Change{Seq: 1, Scope: "posts", Table: "post_likes"},
		domain.Change{Seq: 2, Scope: "posts", Table: "posts", Op: "INSERT"},
	)
	f = Frame{}
	if err := conn.ReadJSON(&f); err != nil {
		t.Fatalf("read change: %v", err)
	}
	if f.Type != FrameChange || f.Change == nil || f.Change.Seq != 2 {
		t.Fatalf("expected filtered change seq 2, got %+v", f)
	}

	hub.Close()
	f = Frame{}
	if err := conn.ReadJSON(&f); err != nil || f.Status != StatusClosed {
		t.Fatalf("expected CLOSED frame, got %+v err=%v", f, err)
	}
}

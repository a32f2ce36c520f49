package vfxhubsdk

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"vfxhub/internal/config"
	"vfxhub/internal/db"
	"vfxhub/internal/domain"
	"vfxhub/internal/engine"
	"vfxhub/internal/migrate"
	"vfxhub/internal/realtime"
	"vfxhub/internal/server"
	"vfxhub/sdk/go/livesync"
)

func newTestBackend(t *testing.T) string {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default()
	hub := realtime.NewHub(cfg.Realtime.SubscriberBuffer, nil)
	handler, err := server.New(server.Config{
		Engine:    engine.New(conn, cfg, hub, nil),
		BasePath:  "/v0",
		Auth:      server.AuthConfig{JWTSecret: "sdk-test", DevLogin: true},
		Hub:       hub,
		Heartbeat: time.Second,
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	srv := httptest.NewServer(handler)
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
		conn.Close()
	})
	return srv.URL
}

func login(t *testing.T, baseURL, userID, role string) *Client {
	t.Helper()
	res, err := New(baseURL, "").DevLogin(context.Background(), userID, userID, role)
	if err != nil {
		t.Fatalf("dev login %s: %v", userID, err)
	}
	return New(baseURL, res.Token)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestAPIErrorCarriesEnvelope(t *testing.T) {
	base := newTestBackend(t)
	_, err := New(base, "").Me(context.Background())
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v", err)
	}
	if apiErr.StatusCode != http.StatusUnauthorized || apiErr.Code != "unauthorized" {
		t.Fatalf("api error = %+v", apiErr)
	}
	if !IsStatus(err, http.StatusUnauthorized) {
		t.Fatal("IsStatus mismatch")
	}
}

func TestParseCoinResult(t *testing.T) {
	cases := []struct {
		name    string
		body    string
		wantErr bool
		want    CoinResult
	}{
		{"success", `{"ok":true,"balance":40,"transaction_id":"tx1"}`, false, CoinResult{OK: true, Balance: 40, TransactionID: "tx1"}},
		{"failure", `{"ok":false,"balance":5,"error_code":"insufficient_funds","message":"short"}`, false, CoinResult{Balance: 5, ErrorCode: CoinInsufficientFunds, Message: "short"}},
		{"array", `[1,2,3]`, true, CoinResult{}},
		{"null", `null`, true, CoinResult{}},
		{"missing balance", `{"ok":true,"transaction_id":"tx1"}`, true, CoinResult{}},
		{"success without id", `{"ok":true,"balance":1}`, true, CoinResult{}},
		{"failure without code", `{"ok":false,"balance":1}`, true, CoinResult{}},
		{"wrong type", `{"ok":"yes","balance":1}`, true, CoinResult{}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseCoinResult([]byte(tc.body))
			if tc.wantErr {
				if !errors.Is(err, ErrUnexpectedResponse) {
					t.Fatalf("err = %v", err)
				}
				if got.OK || got.ErrorCode != CoinFailed {
					t.Fatalf("malformed result not downgraded: %+v", got)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if got != tc.want {
				t.Fatalf("got %+v want %+v", got, tc.want)
			}
		})
	}
}

func TestApplyCoinReturnsTaggedFailure(t *testing.T) {
	base := newTestBackend(t)
	alice := login(t, base, "alice", domain.RoleArtist)
	login(t, base, "bob", domain.RoleArtist)
	ctx := context.Background()

	res, err := alice.ApplyCoin(ctx, CoinRequest{Type: domain.TxTransferOut, Amount: 1_000_000_000, CounterpartyID: "bob"})
	if err != nil {
		t.Fatalf("domain failure surfaced as error: %v", err)
	}
	if res.OK || res.ErrorCode != CoinInsufficientFunds {
		t.Fatalf("result = %+v", res)
	}
	var coinErr CoinError
	if !errors.As(res.Err(), &coinErr) || coinErr.Code != CoinInsufficientFunds {
		t.Fatalf("Err() = %v", res.Err())
	}
}

func TestDirectMessagesReachTheOtherSide(t *testing.T) {
	base := newTestBackend(t)
	alice := login(t, base, "alice", domain.RoleArtist)
	bob := login(t, base, "bob", domain.RoleArtist)
	ctx := context.Background()
	scope := domain.ConversationScope("alice", "bob")

	newFeed := func(c *Client, other string) *livesync.Feed[Message] {
		f, err := livesync.NewFeed(livesync.Options[Message]{
			Scope:   scope,
			Tables:  []string{"messages"},
			Channel: &Realtime{Client: c, RetryInterval: 50 * time.Millisecond},
			Fetch: func(ctx context.Context, _ string) ([]Message, error) {
				return c.Conversation(ctx, other)
			},
			ReconcileDelay: 20 * time.Millisecond,
		})
		if err != nil {
			t.Fatal(err)
		}
		if err := f.Start(ctx); err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() { _ = f.Close() })
		return f
	}
	aliceFeed := newFeed(alice, "bob")
	bobFeed := newFeed(bob, "alice")
	waitFor(t, "bob subscribed", func() bool { return bobFeed.Mode() == livesync.ModeRealtime })

	receiver := "bob"
	err := aliceFeed.Mutate(ctx, func(tempID string) Message {
		return Message{ID: tempID, SenderID: "alice", ReceiverID: &receiver, Content: "hello"}
	}, func(ctx context.Context) error {
		_, err := alice.SendDirectMessage(ctx, "bob", "hello")
		return err
	})
	if err != nil {
		t.Fatal(err)
	}

	waitFor(t, "bob sees hello", func() bool {
		items := bobFeed.Items()
		return len(items) == 1 && items[0].Content == "hello"
	})
	waitFor(t, "alice reconciled", func() bool {
		items := aliceFeed.Items()
		return len(items) == 1 && !livesync.IsTempID(items[0].ID)
	})
}

func TestRejectedBidIsRolledBack(t *testing.T) {
	base := newTestBackend(t)
	studio := login(t, base, "studio", domain.RoleStudio)
	alice := login(t, base, "alice", domain.RoleArtist)
	ctx := context.Background()

	project, err := studio.CreateProject(ctx, ProjectInput{Title: "Creature shots", Budget: 5000})
	if err != nil {
		t.Fatal(err)
	}
	task, err := studio.CreateTask(ctx, project.ID, TaskInput{Title: "Fur sim", Budget: 800})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := alice.PlaceBid(ctx, task.ID, 700, "first"); err != nil {
		t.Fatal(err)
	}

	var mu sync.Mutex
	var notified []error
	feed, err := livesync.NewFeed(livesync.Options[Bid]{
		Scope: domain.ProjectScope(project.ID),
		Fetch: func(ctx context.Context, _ string) ([]Bid, error) {
			return alice.Bids(ctx, BidQuery{TaskID: task.ID, ArtistID: "alice"})
		},
		Notifier: livesync.NotifierFunc(func(err error) {
			mu.Lock()
			notified = append(notified, err)
			mu.Unlock()
		}),
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := feed.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer feed.Close()

	err = feed.Mutate(ctx, func(tempID string) Bid {
		return Bid{ID: tempID, TaskID: task.ID, ArtistID: "alice", Amount: 650, Status: domain.BidPending}
	}, func(ctx context.Context) error {
		_, err := alice.PlaceBid(ctx, task.ID, 650, "second")
		return err
	})
	if !IsStatus(err, http.StatusConflict) {
		t.Fatalf("err = %v", err)
	}
	mu.Lock()
	count := len(notified)
	mu.Unlock()
	if count != 1 {
		t.Fatalf("notifications = %d", count)
	}
	for _, b := range feed.Items() {
		if b.Amount == 650 || livesync.IsTempID(b.ID) {
			t.Fatalf("rejected bid still listed: %+v", feed.Items())
		}
	}
}

func TestScopeVersionMovesWithWrites(t *testing.T) {
	base := newTestBackend(t)
	alice := login(t, base, "alice", domain.RoleArtist)
	ctx := context.Background()

	before, err := alice.ScopeVersion(ctx, domain.ScopePosts)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := alice.CreatePost(ctx, "new reel is up", []string{"reel"}); err != nil {
		t.Fatal(err)
	}
	after, err := alice.ScopeVersion(ctx, domain.ScopePosts)
	if err != nil {
		t.Fatal(err)
	}
	if after <= before {
		t.Fatalf("version did not move: %d -> %d", before, after)
	}
	page, err := alice.Changes(ctx, ChangeQuery{Scope: domain.ScopePosts, After: before})
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Items) == 0 || page.NextCursor != after {
		t.Fatalf("changes = %+v", page)
	}
}

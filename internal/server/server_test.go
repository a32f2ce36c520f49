package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"vfxhub/internal/config"
	"vfxhub/internal/db"
	"vfxhub/internal/domain"
	"vfxhub/internal/engine"
	"vfxhub/internal/migrate"
	"vfxhub/internal/realtime"
)

const testSecret = "test-secret"

type testServer struct {
	*httptest.Server
	Engine engine.Engine
	Hub    *realtime.Hub
	tokens map[string]string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default()
	hub := realtime.NewHub(cfg.Realtime.SubscriberBuffer, nil)
	e := engine.New(conn, cfg, hub, nil)
	ctx := context.Background()
	tokens := map[string]string{}
	for _, p := range []struct{ id, role string }{
		{"admin", domain.RoleAdmin},
		{"studio", domain.RoleStudio},
		{"alice", domain.RoleArtist},
		{"bob", domain.RoleArtist},
	} {
		if _, err := e.EnsureProfile(ctx, p.id, strings.ToUpper(p.id[:1])+p.id[1:], p.role); err != nil {
			t.Fatalf("seed %s: %v", p.id, err)
		}
		tok, err := SignToken(testSecret, p.id, p.id, time.Hour)
		if err != nil {
			t.Fatalf("sign token: %v", err)
		}
		tokens[p.id] = tok
	}
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v0",
		Auth:     AuthConfig{JWTSecret: testSecret, DevLogin: true},
		Hub:      hub,
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
	return &testServer{Server: srv, Engine: e, Hub: hub, tokens: tokens}
}

// do sends a JSON request as user (empty for anonymous) and decodes the
// response into out when given.
func (s *testServer) do(t *testing.T, user, method, path string, body any, out any) int {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, s.URL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set("Authorization", "Bearer "+s.tokens[user])
	}
	res, err := s.Client().Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			t.Fatalf("decode %s %s (%d): %v: %s", method, path, res.StatusCode, err, data)
		}
	}
	return res.StatusCode
}

type errorEnvelope struct {
	Error struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func (s *testServer) project(t *testing.T) (domain.Project, domain.Task) {
	t.Helper()
	var p domain.Project
	if code := s.do(t, "studio", http.MethodPost, "/v0/projects", map[string]any{"title": "Dragon", "budget": 900}, &p); code != http.StatusCreated {
		t.Fatalf("create project: %d", code)
	}
	var task domain.Task
	if code := s.do(t, "studio", http.MethodPost, "/v0/projects/"+p.ID+"/tasks", map[string]any{"title": "Roto", "budget": 100}, &task); code != http.StatusCreated {
		t.Fatalf("create task: %d", code)
	}
	return p, task
}

func TestAuthRequired(t *testing.T) {
	srv := newTestServer(t)
	if code := srv.do(t, "", http.MethodGet, "/v0/health", nil, nil); code != http.StatusOK {
		t.Fatalf("health: %d", code)
	}
	var env errorEnvelope
	if code := srv.do(t, "", http.MethodGet, "/v0/me", nil, &env); code != http.StatusUnauthorized {
		t.Fatalf("me without auth: %d", code)
	}
	if env.Error.Code != "unauthorized" {
		t.Fatalf("code = %q", env.Error.Code)
	}
	var me domain.Profile
	if code := srv.do(t, "alice", http.MethodGet, "/v0/me", nil, &me); code != http.StatusOK {
		t.Fatalf("me: %d", code)
	}
	if me.ID != "alice" || me.Balance != 100 {
		t.Fatalf("unexpected profile %+v", me)
	}
}

func TestDevLoginMintsUsableToken(t *testing.T) {
	srv := newTestServer(t)
	var login DevLoginResponse
	if code := srv.do(t, "", http.MethodPost, "/v0/auth/dev/login", map[string]any{"user_id": "carol", "display_name": "Carol"}, &login); code != http.StatusOK {
		t.Fatalf("dev login: %d", code)
	}
	if login.Token == "" || login.Profile.Role != domain.RoleArtist {
		t.Fatalf("unexpected login %+v", login)
	}
	srv.tokens["carol"] = login.Token
	var me domain.Profile
	if code := srv.do(t, "carol", http.MethodGet, "/v0/me", nil, &me); code != http.StatusOK || me.ID != "carol" {
		t.Fatalf("me: %d %+v", code, me)
	}
}

func TestAPIKeyLifecycle(t *testing.T) {
	srv := newTestServer(t)
	var issued APIKeyResponse
	if code := srv.do(t, "alice", http.MethodPost, "/v0/api-keys", map[string]any{"name": "farm"}, &issued); code != http.StatusCreated {
		t.Fatalf("create key: %d", code)
	}
	if issued.Key == "" {
		t.Fatal("plain key not returned")
	}

	withKey := func(key string) int {
		req, err := http.NewRequest(http.MethodGet, srv.URL+"/v0/me", nil)
		if err != nil {
			t.Fatal(err)
		}
		req.Header.Set("X-Api-Key", key)
		res, err := srv.Client().Do(req)
		if err != nil {
			t.Fatal(err)
		}
		res.Body.Close()
		return res.StatusCode
	}
	if code := withKey(issued.Key); code != http.StatusOK {
		t.Fatalf("me with key: %d", code)
	}

	var keys []APIKeyResponse
	srv.do(t, "alice", http.MethodGet, "/v0/api-keys", nil, &keys)
	if len(keys) != 1 || keys[0].Key != "" || keys[0].LastUsedAt == nil {
		t.Fatalf("keys = %+v", keys)
	}

	if code := srv.do(t, "bob", http.MethodDelete, "/v0/api-keys/"+issued.ID, nil, nil); code != http.StatusNotFound {
		t.Fatalf("foreign revoke: %d", code)
	}
	if code := srv.do(t, "alice", http.MethodDelete, "/v0/api-keys/"+issued.ID, nil, nil); code != http.StatusNoContent {
		t.Fatalf("revoke: %d", code)
	}
	if code := withKey(issued.Key); code != http.StatusUnauthorized {
		t.Fatalf("revoked key accepted: %d", code)
	}
}

func TestDirectMessageIsVisibleToReceiver(t *testing.T) {
	srv := newTestServer(t)
	scope := domain.ConversationScope("alice", "bob")

	var before VersionResponse
	if code := srv.do(t, "bob", http.MethodGet, "/v0/scopes/"+scope+"/version", nil, &before); code != http.StatusOK {
		t.Fatalf("version: %d", code)
	}
	var sent domain.Message
	if code := srv.do(t, "alice", http.MethodPost, "/v0/conversations/bob/messages", map[string]any{"content": "hello"}, &sent); code != http.StatusCreated {
		t.Fatalf("send: %d", code)
	}
	var after VersionResponse
	srv.do(t, "bob", http.MethodGet, "/v0/scopes/"+scope+"/version", nil, &after)
	if after.Version <= before.Version {
		t.Fatalf("version did not move: %d -> %d", before.Version, after.Version)
	}

	var msgs []domain.Message
	if code := srv.do(t, "bob", http.MethodGet, "/v0/conversations/alice/messages", nil, &msgs); code != http.StatusOK {
		t.Fatalf("list: %d", code)
	}
	if len(msgs) != 1 || msgs[0].Content != "hello" || msgs[0].SenderID != "alice" {
		t.Fatalf("unexpected messages %+v", msgs)
	}

	var notes []domain.Notification
	srv.do(t, "bob", http.MethodGet, "/v0/notifications?unread=true", nil, &notes)
	if len(notes) != 1 || notes[0].Kind != "message.direct" {
		t.Fatalf("unexpected notifications %+v", notes)
	}

	// Outsiders cannot observe the conversation.
	var env errorEnvelope
	if code := srv.do(t, "studio", http.MethodGet, "/v0/scopes/"+scope+"/version", nil, &env); code != http.StatusForbidden {
		t.Fatalf("outsider version: %d", code)
	}
	if code := srv.do(t, "alice", http.MethodGet, "/v0/scopes/nonsense/version", nil, &env); code != http.StatusBadRequest {
		t.Fatalf("bad scope: %d", code)
	}
}

func TestFailedBidDoesNotAppear(t *testing.T) {
	srv := newTestServer(t)
	p, task := srv.project(t)

	var env errorEnvelope
	if code := srv.do(t, "bob", http.MethodPost, "/v0/tasks/"+task.ID+"/bids", map[string]any{"amount": 0}, &env); code != http.StatusBadRequest {
		t.Fatalf("zero bid: %d", code)
	}
	if env.Error.Code != "bad_request" || env.Error.Details["field"] != "amount" {
		t.Fatalf("unexpected envelope %+v", env)
	}
	if code := srv.do(t, "studio", http.MethodPost, "/v0/tasks/"+task.ID+"/bids", map[string]any{"amount": 10}, &env); code != http.StatusForbidden {
		t.Fatalf("studio bid: %d", code)
	}

	var bids []domain.Bid
	srv.do(t, "studio", http.MethodGet, "/v0/bids?project_id="+p.ID, nil, &bids)
	if len(bids) != 0 {
		t.Fatalf("failed bids were stored: %+v", bids)
	}

	var bid domain.Bid
	if code := srv.do(t, "bob", http.MethodPost, "/v0/tasks/"+task.ID+"/bids", map[string]any{"amount": 80}, &bid); code != http.StatusCreated {
		t.Fatalf("bid: %d", code)
	}
	if code := srv.do(t, "bob", http.MethodPost, "/v0/tasks/"+task.ID+"/bids", map[string]any{"amount": 90}, &env); code != http.StatusConflict {
		t.Fatalf("duplicate bid: %d", code)
	}
	srv.do(t, "studio", http.MethodGet, "/v0/bids?project_id="+p.ID, nil, &bids)
	if len(bids) != 1 || bids[0].ID != bid.ID {
		t.Fatalf("unexpected bids %+v", bids)
	}

	var stats ProjectStatsResponse
	srv.do(t, "studio", http.MethodGet, "/v0/projects/"+p.ID+"/stats", nil, &stats)
	if stats.Tasks.Total != 1 || stats.Bids.Counts[domain.BidPending] != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestProjectListFilters(t *testing.T) {
	srv := newTestServer(t)
	for _, p := range []map[string]any{
		{"title": "Comp shots", "budget": 300, "skills": []string{"nuke"}},
		{"title": "Creature rig", "budget": 1200, "skills": []string{"maya", "houdini"}},
		{"title": "FX sim", "budget": 800, "skills": []string{"houdini"}},
	} {
		if code := srv.do(t, "studio", http.MethodPost, "/v0/projects", p, nil); code != http.StatusCreated {
			t.Fatalf("create: %d", code)
		}
	}
	var got []domain.Project
	if code := srv.do(t, "alice", http.MethodGet, "/v0/projects?skills=houdini&sort=budget&order=desc", nil, &got); code != http.StatusOK {
		t.Fatalf("list: %d", code)
	}
	if len(got) != 2 || got[0].Title != "Creature rig" || got[1].Title != "FX sim" {
		t.Fatalf("unexpected order %+v", got)
	}
	srv.do(t, "alice", http.MethodGet, "/v0/projects?min_budget=500&max_budget=1000", nil, &got)
	if len(got) != 1 || got[0].Title != "FX sim" {
		t.Fatalf("budget filter %+v", got)
	}
	var env errorEnvelope
	if code := srv.do(t, "alice", http.MethodGet, "/v0/projects?min_budget=lots", nil, &env); code != http.StatusBadRequest {
		t.Fatalf("bad budget: %d", code)
	}
}

func TestCoinProcedureReturnsTaggedResult(t *testing.T) {
	srv := newTestServer(t)
	var res engine.CoinResult
	if code := srv.do(t, "alice", http.MethodPost, "/v0/rpc/coins", map[string]any{
		"type": "transfer_out", "amount": 500, "counterparty_id": "bob",
	}, &res); code != http.StatusOK {
		t.Fatalf("rpc: %d", code)
	}
	if res.OK || res.ErrorCode != engine.CoinInsufficientFunds || res.Balance != 100 {
		t.Fatalf("unexpected result %+v", res)
	}

	srv.do(t, "alice", http.MethodPost, "/v0/rpc/coins", map[string]any{
		"type": "transfer_out", "amount": 30, "counterparty_id": "bob",
	}, &res)
	if !res.OK || res.Balance != 70 {
		t.Fatalf("unexpected result %+v", res)
	}
	var bal BalanceResponse
	srv.do(t, "bob", http.MethodGet, "/v0/coins/balance", nil, &bal)
	if bal.Balance != 130 {
		t.Fatalf("bob balance = %d", bal.Balance)
	}
	var env errorEnvelope
	if code := srv.do(t, "bob", http.MethodGet, "/v0/coins/balance?user_id=alice", nil, &env); code != http.StatusForbidden {
		t.Fatalf("foreign balance: %d", code)
	}
	srv.do(t, "alice", http.MethodPost, "/v0/rpc/coins", map[string]any{"type": "earn", "amount": 5}, &res)
	if res.OK || res.ErrorCode != engine.CoinForbidden {
		t.Fatalf("self credit: %+v", res)
	}
}

func TestRealtimeStreamsConversation(t *testing.T) {
	srv := newTestServer(t)
	scope := domain.ConversationScope("alice", "bob")
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v0/realtime?scope=" + scope + "&table=messages"

	if _, res, err := websocket.DefaultDialer.Dial(wsURL, nil); err == nil {
		t.Fatal("anonymous subscribe succeeded")
	} else if res == nil || res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("anonymous subscribe: %v", err)
	}
	header := http.Header{"Authorization": {"Bearer " + srv.tokens["studio"]}}
	if _, res, err := websocket.DefaultDialer.Dial(wsURL, header); err == nil {
		t.Fatal("outsider subscribe succeeded")
	} else if res == nil || res.StatusCode != http.StatusForbidden {
		t.Fatalf("outsider subscribe: %v", err)
	}

	conn, _, err := websocket.DefaultDialer.Dial(wsURL+"&access_token="+srv.tokens["alice"], nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var frame realtime.Frame
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("read status: %v", err)
	}
	if frame.Type != realtime.FrameStatus || frame.Status != realtime.StatusSubscribed {
		t.Fatalf("unexpected first frame %+v", frame)
	}

	var sent domain.Message
	if code := srv.do(t, "bob", http.MethodPost, "/v0/conversations/alice/messages", map[string]any{"content": "hi alice"}, &sent); code != http.StatusCreated {
		t.Fatalf("send: %d", code)
	}
	frame = realtime.Frame{}
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("read change: %v", err)
	}
	if frame.Type != realtime.FrameChange || frame.Change == nil || frame.Change.RecordID != sent.ID || frame.Change.Table != "messages" {
		t.Fatalf("unexpected change frame %+v", frame)
	}
}

func TestChangesListing(t *testing.T) {
	srv := newTestServer(t)
	srv.do(t, "alice", http.MethodPost, "/v0/posts", map[string]any{"body": "first reel"}, nil)
	srv.do(t, "bob", http.MethodPost, "/v0/posts", map[string]any{"body": "second reel"}, nil)

	var page ChangesResponse
	if code := srv.do(t, "alice", http.MethodGet, "/v0/changes?scope=posts&limit=1", nil, &page); code != http.StatusOK {
		t.Fatalf("changes: %d", code)
	}
	if len(page.Items) != 1 || page.NextCursor != page.Items[0].Seq {
		t.Fatalf("unexpected page %+v", page)
	}
	var rest ChangesResponse
	srv.do(t, "alice", http.MethodGet, "/v0/changes?scope=posts&after="+strconv.FormatInt(page.NextCursor, 10), nil, &rest)
	if len(rest.Items) != 1 || rest.Items[0].Seq <= page.NextCursor {
		t.Fatalf("unexpected rest %+v", rest)
	}
	var env errorEnvelope
	if code := srv.do(t, "alice", http.MethodGet, "/v0/changes", nil, &env); code != http.StatusBadRequest {
		t.Fatalf("unscoped changes as artist: %d", code)
	}
}

func TestWebhookDeliversNewChanges(t *testing.T) {
	srv := newTestServer(t)
	var mu sync.Mutex
	var got []domain.Change
	var secrets []string
	receiver := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var c domain.Change
		_ = json.NewDecoder(r.Body).Decode(&c)
		mu.Lock()
		got = append(got, c)
		secrets = append(secrets, r.Header.Get("X-Vfxhub-Secret"))
		mu.Unlock()
	}))
	defer receiver.Close()

	// Existing history is not replayed.
	srv.do(t, "alice", http.MethodPost, "/v0/posts", map[string]any{"body": "old"}, nil)
	d := NewWebhookDispatcher(srv.Engine.Repo, []config.WebhookConfig{{URL: receiver.URL, Tables: []string{"posts"}, Secret: "s3cret"}}, nil)
	ctx := context.Background()
	d.DispatchOnce(ctx)

	var post domain.Post
	srv.do(t, "alice", http.MethodPost, "/v0/posts", map[string]any{"body": "new"}, &post)
	srv.do(t, "bob", http.MethodPut, "/v0/posts/"+post.ID+"/like", nil, nil)
	d.DispatchOnce(ctx)

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || got[0].RecordID != post.ID || got[0].Table != "posts" {
		t.Fatalf("unexpected deliveries %+v", got)
	}
	if secrets[0] != "s3cret" {
		t.Fatalf("secret header = %q", secrets[0])
	}
}

func TestLongConversationShowsLatestMessage(t *testing.T) {
	srv := newTestServer(t)
	for i := 0; i < 50; i++ {
		if code := srv.do(t, "alice", http.MethodPost, "/v0/conversations/bob/messages", map[string]any{"content": "m" + strconv.Itoa(i)}, nil); code != http.StatusCreated {
			t.Fatalf("send %d: %d", i, code)
		}
	}
	if code := srv.do(t, "alice", http.MethodPost, "/v0/conversations/bob/messages", map[string]any{"content": "hello"}, nil); code != http.StatusCreated {
		t.Fatalf("send latest: %d", code)
	}

	var msgs []domain.Message
	if code := srv.do(t, "bob", http.MethodGet, "/v0/conversations/alice/messages", nil, &msgs); code != http.StatusOK {
		t.Fatalf("list: %d", code)
	}
	if len(msgs) != 50 {
		t.Fatalf("got %d messages, want a default page of 50", len(msgs))
	}
	if last := msgs[len(msgs)-1]; last.Content != "hello" {
		t.Fatalf("last message = %q", last.Content)
	}
	if msgs[0].Content != "m1" {
		t.Fatalf("first message = %q, want the oldest one dropped", msgs[0].Content)
	}
	for i := 1; i < len(msgs); i++ {
		if msgs[i].CreatedAt < msgs[i-1].CreatedAt {
			t.Fatalf("messages out of order at %d: %s before %s", i, msgs[i-1].CreatedAt, msgs[i].CreatedAt)
		}
	}

	var older []domain.Message
	srv.do(t, "bob", http.MethodGet, "/v0/conversations/alice/messages?offset=50", nil, &older)
	if len(older) != 1 || older[0].Content != "m0" {
		t.Fatalf("older page = %+v", older)
	}
}

func TestLongProjectThreadShowsLatestMessage(t *testing.T) {
	srv := newTestServer(t)
	p, _ := srv.project(t)
	for i := 0; i < 55; i++ {
		if code := srv.do(t, "studio", http.MethodPost, "/v0/projects/"+p.ID+"/messages", map[string]any{"content": "note " + strconv.Itoa(i)}, nil); code != http.StatusCreated {
			t.Fatalf("post %d: %d", i, code)
		}
	}
	var msgs []domain.Message
	if code := srv.do(t, "studio", http.MethodGet, "/v0/projects/"+p.ID+"/messages?limit=10", nil, &msgs); code != http.StatusOK {
		t.Fatalf("list: %d", code)
	}
	if len(msgs) != 10 || msgs[0].Content != "note 45" || msgs[9].Content != "note 54" {
		t.Fatalf("unexpected thread page %+v", msgs)
	}
}

func TestOpenAPIDocumentIsStableUnderConcurrentReads(t *testing.T) {
	srv := newTestServer(t)
	const readers = 8
	bodies := make([][]byte, readers)
	var wg sync.WaitGroup
	for i := 0; i < readers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := srv.Client().Get(srv.URL + "/v0/openapi.json")
			if err != nil {
				t.Error(err)
				return
			}
			defer res.Body.Close()
			if res.StatusCode != http.StatusOK {
				t.Errorf("status %d", res.StatusCode)
				return
			}
			bodies[i], _ = io.ReadAll(res.Body)
		}(i)
	}
	wg.Wait()
	if t.Failed() {
		return
	}
	for i := 1; i < readers; i++ {
		if !bytes.Equal(bodies[i], bodies[0]) {
			t.Fatalf("reader %d saw a different document", i)
		}
	}
	if !bytes.Contains(bodies[0], []byte(`"bearerAuth"`)) {
		t.Fatal("security schemes missing from document")
	}
}

func TestWebhookDeliversMultiScopeWriteOnce(t *testing.T) {
	srv := newTestServer(t)
	_, task := srv.project(t)
	var mu sync.Mutex
	var got []domain.Change
	receiver := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var c domain.Change
		_ = json.NewDecoder(r.Body).Decode(&c)
		mu.Lock()
		got = append(got, c)
		mu.Unlock()
	}))
	defer receiver.Close()

	d := NewWebhookDispatcher(srv.Engine.Repo, []config.WebhookConfig{{URL: receiver.URL, Tables: []string{"bids"}}}, nil)
	ctx := context.Background()
	d.DispatchOnce(ctx)

	var bid domain.Bid
	if code := srv.do(t, "bob", http.MethodPost, "/v0/tasks/"+task.ID+"/bids", map[string]any{"amount": 80}, &bid); code != http.StatusCreated {
		t.Fatalf("bid: %d", code)
	}
	d.DispatchOnce(ctx)
	d.DispatchOnce(ctx)

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || got[0].RecordID != bid.ID || got[0].Op != "INSERT" {
		t.Fatalf("unexpected deliveries %+v", got)
	}
}

package engine_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"vfxhub/internal/config"
	"vfxhub/internal/db"
	"vfxhub/internal/domain"
	"vfxhub/internal/engine"
	"vfxhub/internal/engine/auth"
	"vfxhub/internal/migrate"
	"vfxhub/internal/repo"
)

type recorder struct {
	mu      sync.Mutex
	changes []domain.Change
}

func (r *recorder) Publish(changes ...domain.Change) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, changes...)
}

func (r *recorder) scopes(table string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, c := range r.changes {
		if c.Table == table {
			out = append(out, c.Scope)
		}
	}
	return out
}

// tickingClock advances one millisecond per call so created_at orders rows.
func tickingClock() func() time.Time {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var ticks atomic.Int64
	return func() time.Time {
		return base.Add(time.Duration(ticks.Add(1)) * time.Millisecond)
	}
}

type testEnv struct {
	Engine engine.Engine
	Pub    *recorder
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	pub := &recorder{}
	eng := engine.New(conn, config.Default(), pub, nil)
	eng.Now = tickingClock()
	ctx := context.Background()
	if _, err := eng.EnsureProfile(ctx, "admin", "Admin", domain.RoleAdmin); err != nil {
		t.Fatalf("seed admin: %v", err)
	}
	for _, p := range []engine.ProfileInput{
		{ID: "studio", DisplayName: "Studio", Role: domain.RoleStudio},
		{ID: "alice", DisplayName: "Alice", Role: domain.RoleArtist, Skills: []string{"nuke"}},
		{ID: "bob", DisplayName: "Bob", Role: domain.RoleArtist},
	} {
		if _, err := eng.UpsertProfile(ctx, p); err != nil {
			t.Fatalf("profile %s: %v", p.ID, err)
		}
	}
	return testEnv{Engine: eng, Pub: pub, Ctx: ctx}
}

func (env testEnv) project(t *testing.T) (domain.Project, domain.Task) {
	t.Helper()
	p, err := env.Engine.CreateProject(env.Ctx, engine.ProjectCreateOptions{Title: "Dragon", Budget: 500, ActorID: "studio"})
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{ProjectID: p.ID, Title: "Roto", Budget: 100, ActorID: "studio"})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	return p, task
}

func TestSignupBonusCreditsLedger(t *testing.T) {
	env := newTestEnv(t)
	bal, err := env.Engine.Balance(env.Ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if bal != 100 {
		t.Fatalf("expected signup bonus 100, got %d", bal)
	}
	history, err := env.Engine.CoinHistory(env.Ctx, "alice", repo.Page{})
	if err != nil || len(history) != 1 || history[0].Type != domain.TxBonus {
		t.Fatalf("unexpected history %+v err=%v", history, err)
	}
}

func TestProfileRoleEscalationForbidden(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.UpsertProfile(env.Ctx, engine.ProfileInput{ID: "alice", DisplayName: "Alice", Role: domain.RoleAdmin, ActorID: "alice"})
	var forbidden auth.ForbiddenError
	if !errors.As(err, &forbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if _, err := env.Engine.UpsertProfile(env.Ctx, engine.ProfileInput{ID: "bob", DisplayName: "Bobby", ActorID: "alice"}); !errors.As(err, &forbidden) {
		t.Fatalf("expected forbidden editing another profile, got %v", err)
	}
}

func TestProjectRequiresStudio(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.CreateProject(env.Ctx, engine.ProjectCreateOptions{Title: "x", ActorID: "alice"})
	var forbidden auth.ForbiddenError
	if !errors.As(err, &forbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	_, err = env.Engine.CreateProject(env.Ctx, engine.ProjectCreateOptions{Title: "  ", ActorID: "studio"})
	var invalid engine.ValidationError
	if !errors.As(err, &invalid) || invalid.Field != "title" {
		t.Fatalf("expected title validation error, got %v", err)
	}
}

func TestTaskStatusAnyTransitionButEnumerated(t *testing.T) {
	env := newTestEnv(t)
	_, task := env.project(t)
	for _, s := range []string{domain.TaskCompleted, domain.TaskTodo, domain.TaskInProgress} {
		status := s
		updated, err := env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{ID: task.ID, Status: &status, ActorID: "studio"})
		if err != nil || updated.Status != s {
			t.Fatalf("to %s: %+v %v", s, updated, err)
		}
	}
	bad := "review"
	if _, err := env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{ID: task.ID, Status: &bad, ActorID: "studio"}); err == nil {
		t.Fatalf("expected validation error for unknown status")
	}
}

func TestBidLifecycle(t *testing.T) {
	env := newTestEnv(t)
	p, task := env.project(t)

	aliceBid, err := env.Engine.PlaceBid(env.Ctx, engine.BidOptions{TaskID: task.ID, Amount: 80, ActorID: "alice"})
	if err != nil {
		t.Fatalf("alice bid: %v", err)
	}
	bobBid, err := env.Engine.PlaceBid(env.Ctx, engine.BidOptions{TaskID: task.ID, Amount: 90, ActorID: "bob"})
	if err != nil {
		t.Fatalf("bob bid: %v", err)
	}
	_, err = env.Engine.PlaceBid(env.Ctx, engine.BidOptions{TaskID: task.ID, Amount: 70, ActorID: "alice"})
	var conflict engine.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected conflict on second active bid, got %v", err)
	}
	if _, err := env.Engine.ReviewBid(env.Ctx, aliceBid.ID, true, "alice"); err == nil {
		t.Fatalf("artist must not review bids")
	}

	approved, err := env.Engine.ReviewBid(env.Ctx, aliceBid.ID, true, "studio")
	if err != nil || approved.Status != domain.BidApproved {
		t.Fatalf("approve: %+v %v", approved, err)
	}
	got, err := env.Engine.GetTask(env.Ctx, task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.AssigneeID == nil || *got.AssigneeID != "alice" || got.Status != domain.TaskInProgress {
		t.Fatalf("task not assigned: %+v", got)
	}
	other, err := env.Engine.Repo.GetBid(env.Ctx, nil, bobBid.ID)
	if err != nil || other.Status != domain.BidRejected {
		t.Fatalf("other bid not rejected: %+v %v", other, err)
	}

	stats, err := env.Engine.ProjectStats(env.Ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Tasks.InProgress != 1 || stats.Bids.Counts[domain.BidApproved] != 1 {
		t.Fatalf("stats: %+v", stats)
	}

	notes, err := env.Engine.ListNotifications(env.Ctx, "studio", false, repo.Page{})
	if err != nil || len(notes) != 2 {
		t.Fatalf("expected 2 bid notifications for owner, got %d %v", len(notes), err)
	}
	bobNotes, _ := env.Engine.ListNotifications(env.Ctx, "bob", true, repo.Page{})
	if len(bobNotes) != 1 || bobNotes[0].Kind != "bid.rejected" {
		t.Fatalf("bob notifications: %+v", bobNotes)
	}
}

func TestBidOnCompletedTaskConflicts(t *testing.T) {
	env := newTestEnv(t)
	_, task := env.project(t)
	done := domain.TaskCompleted
	if _, err := env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{ID: task.ID, Status: &done, ActorID: "studio"}); err != nil {
		t.Fatal(err)
	}
	_, err := env.Engine.PlaceBid(env.Ctx, engine.BidOptions{TaskID: task.ID, Amount: 10, ActorID: "alice"})
	var conflict engine.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	bids, _ := env.Engine.ListBids(env.Ctx, "alice", repo.BidFilters{TaskID: task.ID})
	if len(bids) != 0 {
		t.Fatalf("failed bid persisted: %+v", bids)
	}
}

func TestWithdrawBid(t *testing.T) {
	env := newTestEnv(t)
	_, task := env.project(t)
	bid, err := env.Engine.PlaceBid(env.Ctx, engine.BidOptions{TaskID: task.ID, Amount: 10, ActorID: "alice"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.WithdrawBid(env.Ctx, bid.ID, "bob"); err == nil {
		t.Fatal("expected forbidden for another artist")
	}
	withdrawn, err := env.Engine.WithdrawBid(env.Ctx, bid.ID, "alice")
	if err != nil || withdrawn.Status != domain.BidWithdrawn {
		t.Fatalf("withdraw: %+v %v", withdrawn, err)
	}
	if _, err := env.Engine.PlaceBid(env.Ctx, engine.BidOptions{TaskID: task.ID, Amount: 12, ActorID: "alice"}); err != nil {
		t.Fatalf("rebid after withdraw: %v", err)
	}
}

func TestDirectMessageScopesAndNotifies(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.SendDirectMessage(env.Ctx, "bob", "alice", "hello"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.SendDirectMessage(env.Ctx, "alice", "bob", "  hi back "); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.SendDirectMessage(env.Ctx, "alice", "bob", "   "); err == nil {
		t.Fatal("expected empty content rejected")
	}
	msgs, err := env.Engine.Conversation(env.Ctx, "alice", "bob", repo.Page{})
	if err != nil || len(msgs) != 2 || msgs[1].Content != "hi back" {
		t.Fatalf("conversation: %+v %v", msgs, err)
	}
	scopes := env.Pub.scopes("messages")
	want := domain.ConversationScope("alice", "bob")
	if len(scopes) != 2 || scopes[0] != want || scopes[1] != want {
		t.Fatalf("message scopes %v", scopes)
	}
	version, err := env.Engine.ScopeVersion(env.Ctx, "alice", want)
	if err != nil || version == 0 {
		t.Fatalf("scope version %d %v", version, err)
	}
	if _, err := env.Engine.ScopeVersion(env.Ctx, "studio", want); err == nil {
		t.Fatal("outsider read conversation version")
	}
	partners, _ := env.Engine.ConversationPartners(env.Ctx, "alice")
	if len(partners) != 1 || partners[0] != "bob" {
		t.Fatalf("partners %v", partners)
	}
}

func TestProjectMessagesRequireParticipant(t *testing.T) {
	env := newTestEnv(t)
	p, task := env.project(t)
	if _, err := env.Engine.SendProjectMessage(env.Ctx, "alice", p.ID, "can I join?"); err == nil {
		t.Fatal("outsider posted to project thread")
	}
	if _, err := env.Engine.PlaceBid(env.Ctx, engine.BidOptions{TaskID: task.ID, Amount: 5, ActorID: "alice"}); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.SendProjectMessage(env.Ctx, "alice", p.ID, "bid placed"); err != nil {
		t.Fatalf("bidder message: %v", err)
	}
	msgs, err := env.Engine.ProjectMessages(env.Ctx, "studio", p.ID, repo.Page{})
	if err != nil || len(msgs) != 1 {
		t.Fatalf("project messages %+v %v", msgs, err)
	}
}

func TestShareRequestAndReview(t *testing.T) {
	env := newTestEnv(t)
	p, _ := env.project(t)
	share, err := env.Engine.RequestShare(env.Ctx, engine.ShareRequest{ResourceKind: "project", ResourceID: p.ID, ActorID: "bob"})
	if err != nil || share.Status != domain.SharePending || share.OwnerID != "studio" {
		t.Fatalf("request: %+v %v", share, err)
	}
	if _, err := env.Engine.RequestShare(env.Ctx, engine.ShareRequest{ResourceKind: "project", ResourceID: p.ID, ActorID: "bob"}); err == nil {
		t.Fatal("duplicate share accepted")
	}
	if err := env.Engine.Auth.CanSubscribe(env.Ctx, mustProfile(t, env, "bob"), domain.ProjectScope(p.ID)); err == nil {
		t.Fatal("pending grantee may subscribe")
	}
	reviewed, err := env.Engine.ReviewShare(env.Ctx, share.ID, true, "studio")
	if err != nil || reviewed.Status != domain.ShareApproved {
		t.Fatalf("review: %+v %v", reviewed, err)
	}
	if err := env.Engine.Auth.CanSubscribe(env.Ctx, mustProfile(t, env, "bob"), domain.ProjectScope(p.ID)); err != nil {
		t.Fatalf("approved grantee denied: %v", err)
	}
	if err := env.Engine.RevokeShare(env.Ctx, share.ID, "bob"); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	shares, _ := env.Engine.ListShares(env.Ctx, "studio", repo.ShareFilters{})
	if len(shares) != 0 {
		t.Fatalf("share not revoked: %+v", shares)
	}
}

func mustProfile(t *testing.T, env testEnv, id string) domain.Profile {
	t.Helper()
	p, err := env.Engine.GetProfile(env.Ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func TestCoinTransfers(t *testing.T) {
	env := newTestEnv(t)
	tx, err := env.Engine.ApplyCoinTransaction(env.Ctx, engine.CoinRequest{Type: domain.TxTransferOut, Amount: 30, CounterpartyID: "bob", ActorID: "alice"})
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if tx.BalanceAfter != 70 {
		t.Fatalf("alice balance %d", tx.BalanceAfter)
	}
	if bal, _ := env.Engine.Balance(env.Ctx, "bob"); bal != 130 {
		t.Fatalf("bob balance %d", bal)
	}
	bobHistory, _ := env.Engine.CoinHistory(env.Ctx, "bob", repo.Page{})
	if len(bobHistory) != 2 {
		t.Fatalf("bob ledger %+v", bobHistory)
	}

	_, err = env.Engine.ApplyCoinTransaction(env.Ctx, engine.CoinRequest{Type: domain.TxSpend, Amount: 1000, ActorID: "alice"})
	var insufficient engine.InsufficientFundsError
	if !errors.As(err, &insufficient) || insufficient.Balance != 70 {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
	if bal, _ := env.Engine.Balance(env.Ctx, "alice"); bal != 70 {
		t.Fatalf("failed debit changed balance to %d", bal)
	}
	res := engine.CoinResultFor(domain.Transaction{}, err)
	if res.OK || res.ErrorCode != engine.CoinInsufficientFunds {
		t.Fatalf("result %+v", res)
	}

	_, err = env.Engine.ApplyCoinTransaction(env.Ctx, engine.CoinRequest{UserID: "alice", Type: domain.TxEarn, Amount: 5, ActorID: "alice"})
	if res := engine.CoinResultFor(domain.Transaction{}, err); res.ErrorCode != engine.CoinForbidden {
		t.Fatalf("self credit allowed: %+v", res)
	}
	_, err = env.Engine.ApplyCoinTransaction(env.Ctx, engine.CoinRequest{Type: "steal", Amount: 5, ActorID: "alice"})
	if res := engine.CoinResultFor(domain.Transaction{}, err); res.ErrorCode != engine.CoinInvalidType {
		t.Fatalf("bad type: %+v", res)
	}
	earn, err := env.Engine.ApplyCoinTransaction(env.Ctx, engine.CoinRequest{UserID: "alice", Type: domain.TxEarn, Amount: 5, ActorID: "admin"})
	if err != nil || earn.BalanceAfter != 75 {
		t.Fatalf("admin credit: %+v %v", earn, err)
	}
}

func TestMachineAssignment(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.RegisterMachine(env.Ctx, "render-01", "", "alice"); err == nil {
		t.Fatal("non-admin registered machine")
	}
	m, err := env.Engine.RegisterMachine(env.Ctx, "render-01", "64c/256g", "admin")
	if err != nil {
		t.Fatal(err)
	}
	m, err = env.Engine.AssignMachine(env.Ctx, m.ID, "alice", "admin")
	if err != nil || m.Status != domain.MachineAssigned {
		t.Fatalf("assign %+v %v", m, err)
	}
	if _, err := env.Engine.AssignMachine(env.Ctx, m.ID, "bob", "admin"); err == nil {
		t.Fatal("double assignment accepted")
	}
	if _, err := env.Engine.ReleaseMachine(env.Ctx, m.ID, "bob"); err == nil {
		t.Fatal("non-holder released machine")
	}
	m, err = env.Engine.ReleaseMachine(env.Ctx, m.ID, "alice")
	if err != nil || m.Status != domain.MachineAvailable || m.AssignedTo != nil {
		t.Fatalf("release %+v %v", m, err)
	}
	if got := env.Pub.scopes("machines"); len(got) != 3 {
		t.Fatalf("machine changes %v", got)
	}
}

func TestPostsAndLikes(t *testing.T) {
	env := newTestEnv(t)
	p, err := env.Engine.CreatePost(env.Ctx, "alice", "new reel", []string{"reel", "Reel", "fx"})
	if err != nil || len(p.Tags) != 2 {
		t.Fatalf("post %+v %v", p, err)
	}
	for i := 0; i < 2; i++ {
		if p, err = env.Engine.LikePost(env.Ctx, p.ID, "bob"); err != nil {
			t.Fatal(err)
		}
	}
	if p.Likes != 1 {
		t.Fatalf("likes %d", p.Likes)
	}
	if p, err = env.Engine.UnlikePost(env.Ctx, p.ID, "bob"); err != nil || p.Likes != 0 {
		t.Fatalf("unlike %+v %v", p, err)
	}
	if err := env.Engine.DeletePost(env.Ctx, p.ID, "bob"); err == nil {
		t.Fatal("non-author deleted post")
	}
	if err := env.Engine.DeletePost(env.Ctx, p.ID, "alice"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.Repo.GetPost(env.Ctx, nil, p.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestChangesAreOrderedPerScope(t *testing.T) {
	env := newTestEnv(t)
	scope := domain.ConversationScope("alice", "bob")
	for _, text := range []string{"one", "two", "three"} {
		if _, err := env.Engine.SendDirectMessage(env.Ctx, "alice", "bob", text); err != nil {
			t.Fatal(err)
		}
	}
	changes, err := env.Engine.Changes(env.Ctx, "bob", repo.ChangeFilters{Scope: scope})
	if err != nil || len(changes) != 3 {
		t.Fatalf("changes %+v %v", changes, err)
	}
	for i := 1; i < len(changes); i++ {
		if changes[i].Seq <= changes[i-1].Seq {
			t.Fatalf("sequence not increasing: %+v", changes)
		}
	}
	after, _ := env.Engine.Changes(env.Ctx, "bob", repo.ChangeFilters{Scope: scope, AfterSeq: changes[1].Seq})
	if len(after) != 1 || after[0].Seq != changes[2].Seq {
		t.Fatalf("cursor read %+v", after)
	}
}

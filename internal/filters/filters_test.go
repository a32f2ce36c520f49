package filters

import (
	"math"
	"reflect"
	"testing"
	"time"

	"vfxhub/internal/domain"
)

func strPtr(s string) *string { return &s }
func i64(v int64) *int64      { return &v }

func sampleProjects() []domain.Project {
	return []domain.Project{
		{ID: "p1", Title: "Dragon FX", Status: domain.ProjectOpen, Budget: 500, Skills: []string{"houdini", "nuke"}, CreatedAt: "2024-01-01T00:00:00Z", Deadline: strPtr("2024-03-01T00:00:00Z")},
		{ID: "p2", Title: "Ocean sim", Description: "large water body", Status: domain.ProjectInProgress, Budget: 1500, Skills: []string{"houdini"}, CreatedAt: "2024-01-05T00:00:00Z"},
		{ID: "p3", Title: "Title cards", Status: domain.ProjectOpen, Budget: 100, Skills: []string{"after-effects"}, CreatedAt: "2024-02-01T00:00:00Z", Deadline: strPtr("2024-02-10T00:00:00Z")},
		{ID: "p4", Title: "Crowd", Status: domain.ProjectCancelled, Budget: 900, Skills: []string{"Nuke"}, CreatedAt: "2023-12-20T00:00:00Z"},
	}
}

func ids(list []domain.Project) []string {
	out := make([]string, 0, len(list))
	for _, p := range list {
		out = append(out, p.ID)
	}
	return out
}

func TestApplyProjects(t *testing.T) {
	after := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	deadline := time.Date(2024, 2, 15, 0, 0, 0, 0, time.UTC)
	cases := []struct {
		name   string
		filter ProjectFilter
		want   []string
	}{
		{"no filter sorts by created", ProjectFilter{}, []string{"p4", "p1", "p2", "p3"}},
		{"status", ProjectFilter{Statuses: []string{domain.ProjectOpen}}, []string{"p1", "p3"}},
		{"query matches description", ProjectFilter{Query: "WATER"}, []string{"p2"}},
		{"budget range", ProjectFilter{MinBudget: i64(200), MaxBudget: i64(1000)}, []string{"p4", "p1"}},
		{"any skill case insensitive", ProjectFilter{Skills: []string{"nuke"}}, []string{"p4", "p1"}},
		{"all skills", ProjectFilter{Skills: []string{"nuke", "houdini"}, MatchAllSkills: true}, []string{"p1"}},
		{"created after", ProjectFilter{CreatedAfter: &after}, []string{"p2", "p3"}},
		{"deadline before drops missing", ProjectFilter{DeadlineBefore: &deadline}, []string{"p3"}},
		{"budget desc", ProjectFilter{SortBy: SortBudget, Descending: true}, []string{"p2", "p4", "p1", "p3"}},
		{"deadline puts missing last", ProjectFilter{SortBy: SortDeadline}, []string{"p3", "p1", "p2", "p4"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ids(ApplyProjects(sampleProjects(), tc.filter))
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("got %v want %v", got, tc.want)
			}
		})
	}
}

func TestCreatedOrderWithinOneSecond(t *testing.T) {
	list := []domain.Project{
		{ID: "a", CreatedAt: "2024-05-01T10:00:05.12Z"},
		{ID: "b", CreatedAt: "2024-05-01T10:00:05.1Z"},
		{ID: "c", CreatedAt: "2024-05-01T10:00:05Z"},
		{ID: "d", CreatedAt: domain.Timestamp(time.Date(2024, 5, 1, 10, 0, 5, 500_000_000, time.UTC))},
	}
	got := ids(ApplyProjects(list, ProjectFilter{SortBy: SortCreated}))
	if want := []string{"c", "b", "a", "d"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestApplyProjectsIsIdempotentAndPure(t *testing.T) {
	in := sampleProjects()
	snapshot := sampleProjects()
	f := ProjectFilter{Skills: []string{"houdini"}, SortBy: SortBudget, Descending: true}

	first := ApplyProjects(in, f)
	second := ApplyProjects(in, f)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("filter not idempotent: %v vs %v", first, second)
	}
	if !reflect.DeepEqual(ApplyProjects(first, f), first) {
		t.Fatalf("re-applying to output changed it")
	}
	if !reflect.DeepEqual(in, snapshot) {
		t.Fatalf("input mutated")
	}
	first[0].Skills[0] = "changed"
	if in[1].Skills[0] != "houdini" {
		t.Fatalf("output aliases input skills")
	}
}

func TestApplyTasks(t *testing.T) {
	due := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	tasks := []domain.Task{
		{ID: "t1", Title: "Roto", Status: domain.TaskTodo, DueAt: strPtr("2024-04-01T00:00:00Z")},
		{ID: "t2", Title: "Comp", Status: domain.TaskInProgress, AssigneeID: strPtr("artist")},
		{ID: "t3", Title: "Roto cleanup", Status: domain.TaskCompleted, AssigneeID: strPtr("artist"), DueAt: strPtr("2024-06-01")},
	}
	got := ApplyTasks(tasks, TaskFilter{AssigneeID: "artist"})
	if len(got) != 2 || got[0].ID != "t2" || got[1].ID != "t3" {
		t.Fatalf("assignee filter: %+v", got)
	}
	got = ApplyTasks(tasks, TaskFilter{Query: "roto", DueBefore: &due})
	if len(got) != 1 || got[0].ID != "t1" {
		t.Fatalf("query+due filter: %+v", got)
	}
	got = ApplyTasks(tasks, TaskFilter{Statuses: []string{domain.TaskTodo, domain.TaskCompleted}})
	if len(got) != 2 {
		t.Fatalf("status filter: %+v", got)
	}
}

func TestTaskStatsCompletionRate(t *testing.T) {
	if s := TaskStats(nil); s.CompletionRate != 0 || s.Total != 0 {
		t.Fatalf("empty list: %+v", s)
	}
	for _, counts := range [][3]int{{1, 1, 1}, {2, 1, 0}, {0, 0, 5}, {3, 0, 0}, {1, 2, 4}, {5, 3, 1}} {
		c, p, todo := counts[0], counts[1], counts[2]
		var list []domain.Task
		for i := 0; i < c; i++ {
			list = append(list, domain.Task{Status: domain.TaskCompleted})
		}
		for i := 0; i < p; i++ {
			list = append(list, domain.Task{Status: domain.TaskInProgress})
		}
		for i := 0; i < todo; i++ {
			list = append(list, domain.Task{Status: domain.TaskTodo})
		}
		s := TaskStats(list)
		want := int(math.Round(100 * float64(c) / float64(c+p+todo)))
		if s.CompletionRate != want || s.Completed != c || s.InProgress != p || s.Todo != todo {
			t.Fatalf("counts %v: got %+v want rate %d", counts, s, want)
		}
	}
}

func TestBidSummary(t *testing.T) {
	s := BidSummary([]domain.Bid{
		{Amount: 100, Status: domain.BidPending},
		{Amount: 250, Status: domain.BidPending},
		{Amount: 50, Status: domain.BidRejected},
		{Amount: 301, Status: domain.BidPending},
	})
	if s.Counts[domain.BidPending] != 3 || s.Counts[domain.BidRejected] != 1 || s.Counts[domain.BidApproved] != 0 {
		t.Fatalf("counts: %+v", s.Counts)
	}
	if s.LowestPending != 100 || s.HighestPending != 301 || s.AveragePending != 217 {
		t.Fatalf("amounts: %+v", s)
	}
}

func TestLedgerSummary(t *testing.T) {
	l := LedgerSummary([]domain.Transaction{
		{Type: domain.TxBonus, Amount: 100},
		{Type: domain.TxTransferIn, Amount: 20},
		{Type: domain.TxSpend, Amount: 30},
		{Type: domain.TxDonate, Amount: 5},
	})
	if l.Earned != 120 || l.Spent != 35 || l.ByType[domain.TxSpend] != 30 {
		t.Fatalf("ledger: %+v", l)
	}
}

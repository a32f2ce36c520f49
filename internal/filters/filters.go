// Package filters derives views and aggregates from already-fetched lists.
// Every function here is pure: it never mutates its input and returns the
// same output for the same input.
package filters

import (
	"math"
	"sort"
	"strings"
	"time"

	"vfxhub/internal/domain"
)

// Project sort keys.
const (
	SortCreated  = "created_at"
	SortBudget   = "budget"
	SortDeadline = "deadline"
	SortTitle    = "title"
)

// ProjectFilter narrows and orders a project list. Zero values mean "no
// constraint".
type ProjectFilter struct {
	Statuses       []string
	Query          string
	MinBudget      *int64
	MaxBudget      *int64
	Skills         []string
	MatchAllSkills bool
	CreatedAfter   *time.Time
	CreatedBefore  *time.Time
	DeadlineBefore *time.Time
	SortBy         string
	Descending     bool
}

// ApplyProjects returns the projects matching f in the requested order. The
// input slice is left untouched.
func ApplyProjects(list []domain.Project, f ProjectFilter) []domain.Project {
	out := make([]domain.Project, 0, len(list))
	query := strings.ToLower(strings.TrimSpace(f.Query))
	for _, p := range list {
		if len(f.Statuses) > 0 && !domain.OneOf(p.Status, f.Statuses) {
			continue
		}
		if query != "" && !strings.Contains(strings.ToLower(p.Title), query) &&
			!strings.Contains(strings.ToLower(p.Description), query) {
			continue
		}
		if f.MinBudget != nil && p.Budget < *f.MinBudget {
			continue
		}
		if f.MaxBudget != nil && p.Budget > *f.MaxBudget {
			continue
		}
		if len(f.Skills) > 0 && !matchSkills(p.Skills, f.Skills, f.MatchAllSkills) {
			continue
		}
		if f.CreatedAfter != nil || f.CreatedBefore != nil {
			created, ok := parseTime(p.CreatedAt)
			if !ok {
				continue
			}
			if f.CreatedAfter != nil && created.Before(*f.CreatedAfter) {
				continue
			}
			if f.CreatedBefore != nil && created.After(*f.CreatedBefore) {
				continue
			}
		}
		if f.DeadlineBefore != nil {
			if p.Deadline == nil {
				continue
			}
			deadline, ok := parseTime(*p.Deadline)
			if !ok || deadline.After(*f.DeadlineBefore) {
				continue
			}
		}
		out = append(out, cloneProject(p))
	}
	sortProjects(out, f.SortBy, f.Descending)
	return out
}

func sortProjects(list []domain.Project, by string, desc bool) {
	less := func(a, b domain.Project) int {
		switch by {
		case SortBudget:
			return cmpInt(a.Budget, b.Budget)
		case SortTitle:
			return strings.Compare(strings.ToLower(a.Title), strings.ToLower(b.Title))
		case SortDeadline:
			// Projects without a deadline sort last.
			switch {
			case a.Deadline == nil && b.Deadline == nil:
				return 0
			case a.Deadline == nil:
				return 1
			case b.Deadline == nil:
				return -1
			}
			return cmpTime(*a.Deadline, *b.Deadline)
		default:
			return cmpTime(a.CreatedAt, b.CreatedAt)
		}
	}
	sort.SliceStable(list, func(i, j int) bool {
		c := less(list[i], list[j])
		if c == 0 {
			c = strings.Compare(list[i].ID, list[j].ID)
		}
		if desc {
			return c > 0
		}
		return c < 0
	})
}

func matchSkills(have, want []string, all bool) bool {
	set := make(map[string]bool, len(have))
	for _, s := range have {
		set[strings.ToLower(s)] = true
	}
	matched := 0
	for _, s := range want {
		if set[strings.ToLower(s)] {
			matched++
		}
	}
	if all {
		return matched == len(want)
	}
	return matched > 0
}

func cloneProject(p domain.Project) domain.Project {
	if p.Skills != nil {
		p.Skills = append([]string(nil), p.Skills...)
	}
	return p
}

// TaskFilter narrows a task list.
type TaskFilter struct {
	Statuses   []string
	AssigneeID string
	Query      string
	DueBefore  *time.Time
}

// ApplyTasks returns the tasks matching f, preserving input order.
func ApplyTasks(list []domain.Task, f TaskFilter) []domain.Task {
	out := make([]domain.Task, 0, len(list))
	query := strings.ToLower(strings.TrimSpace(f.Query))
	for _, t := range list {
		if len(f.Statuses) > 0 && !domain.OneOf(t.Status, f.Statuses) {
			continue
		}
		if f.AssigneeID != "" && (t.AssigneeID == nil || *t.AssigneeID != f.AssigneeID) {
			continue
		}
		if query != "" && !strings.Contains(strings.ToLower(t.Title), query) &&
			!strings.Contains(strings.ToLower(t.Description), query) {
			continue
		}
		if f.DueBefore != nil {
			if t.DueAt == nil {
				continue
			}
			due, ok := parseTime(*t.DueAt)
			if !ok || due.After(*f.DueBefore) {
				continue
			}
		}
		out = append(out, t)
	}
	return out
}

// Stats summarizes a task list.
type Stats struct {
	Total          int `json:"total"`
	Todo           int `json:"todo"`
	InProgress     int `json:"in_progress"`
	Completed      int `json:"completed"`
	CompletionRate int `json:"completion_rate"`
}

// TaskStats counts tasks per status. CompletionRate is the rounded
// percentage of completed tasks, 0 for an empty list.
func TaskStats(list []domain.Task) Stats {
	var s Stats
	for _, t := range list {
		switch t.Status {
		case domain.TaskTodo:
			s.Todo++
		case domain.TaskInProgress:
			s.InProgress++
		case domain.TaskCompleted:
			s.Completed++
		}
	}
	s.Total = s.Todo + s.InProgress + s.Completed
	if s.Total > 0 {
		s.CompletionRate = int(math.Round(100 * float64(s.Completed) / float64(s.Total)))
	}
	return s
}

// Bids summarizes the bids on a task or project.
type Bids struct {
	Counts         map[string]int `json:"counts"`
	LowestPending  int64          `json:"lowest_pending"`
	HighestPending int64          `json:"highest_pending"`
	AveragePending int64          `json:"average_pending"`
}

// BidSummary counts bids per status and describes the pending amounts.
func BidSummary(list []domain.Bid) Bids {
	out := Bids{Counts: make(map[string]int, len(domain.BidStatuses))}
	for _, s := range domain.BidStatuses {
		out.Counts[s] = 0
	}
	var sum, n int64
	for _, b := range list {
		out.Counts[b.Status]++
		if b.Status != domain.BidPending {
			continue
		}
		if n == 0 || b.Amount < out.LowestPending {
			out.LowestPending = b.Amount
		}
		if b.Amount > out.HighestPending {
			out.HighestPending = b.Amount
		}
		sum += b.Amount
		n++
	}
	if n > 0 {
		out.AveragePending = int64(math.Round(float64(sum) / float64(n)))
	}
	return out
}

// Ledger totals a coin history.
type Ledger struct {
	Earned int64            `json:"earned"`
	Spent  int64            `json:"spent"`
	ByType map[string]int64 `json:"by_type"`
}

// credit types add to the balance; everything else debits it.
var creditTypes = []string{domain.TxEarn, domain.TxBonus, domain.TxTransferIn}

// LedgerSummary totals earned and spent coins and the amount per type.
func LedgerSummary(list []domain.Transaction) Ledger {
	out := Ledger{ByType: map[string]int64{}}
	for _, t := range list {
		out.ByType[t.Type] += t.Amount
		if domain.OneOf(t.Type, creditTypes) {
			out.Earned += t.Amount
		} else {
			out.Spent += t.Amount
		}
	}
	return out
}

func cmpInt(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// cmpTime orders timestamps by instant; unparseable values fall back to
// string order after every parseable one.
func cmpTime(a, b string) int {
	ta, okA := parseTime(a)
	tb, okB := parseTime(b)
	switch {
	case okA && okB:
		return ta.Compare(tb)
	case okA:
		return -1
	case okB:
		return 1
	}
	return strings.Compare(a, b)
}

func parseTime(v string) (time.Time, bool) {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, v); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"vfxhub/internal/app"
	"vfxhub/internal/domain"
	"vfxhub/internal/migrate"
	"vfxhub/internal/server"
	vfxhubsdk "vfxhub/sdk/go"
	"vfxhub/sdk/go/livesync"
)

func adminCmd() *cobra.Command {
	adm := &cobra.Command{
		Use:   "admin",
		Short: "Local administration against the workspace database",
	}
	adm.AddCommand(adminBootstrapCmd())
	adm.AddCommand(adminTokenCmd())
	adm.AddCommand(adminMigrateCmd())
	return adm
}

func adminMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations and report the version",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.Open(cmd.Context(), app.Options{Workspace: viper.GetString("workspace"), Logger: cliLogger()})
			if err != nil {
				return err
			}
			defer a.Close()
			st, err := migrate.Inspect(a.DB)
			if err != nil {
				return err
			}
			return printOr(st, func() { fmt.Printf("%s schema at version %d of %d\n", st.Dialect, st.Current, st.Latest) })
		},
	}
}

func adminBootstrapCmd() *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "bootstrap",
		Short: "Create an admin profile if the user does not exist yet",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.Open(cmd.Context(), app.Options{Workspace: viper.GetString("workspace"), AdminID: userID, Logger: cliLogger()})
			if err != nil {
				return err
			}
			defer a.Close()
			p, err := a.Engine.GetProfile(cmd.Context(), userID)
			if err != nil {
				return err
			}
			return printOr(p, func() { fmt.Printf("admin %s ready (%s)\n", p.ID, p.Role) })
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func adminTokenCmd() *cobra.Command {
	var userID string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for an existing profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := viper.GetString("jwt-secret")
			if secret == "" {
				return fmt.Errorf("VFXHUB_JWT_SECRET is required to sign tokens")
			}
			a, err := app.Open(cmd.Context(), app.Options{Workspace: viper.GetString("workspace"), Logger: cliLogger()})
			if err != nil {
				return err
			}
			defer a.Close()
			p, err := a.Engine.GetProfile(cmd.Context(), userID)
			if err != nil {
				return err
			}
			tok, err := server.SignToken(secret, p.ID, p.DisplayName, ttl)
			if err != nil {
				return err
			}
			return printOr(map[string]string{"token": tok}, func() { fmt.Println(tok) })
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func loginCmd() *cobra.Command {
	var userID, name, role string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Dev login: mint a token and store it in the workspace .env",
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := newClient().DevLogin(cmd.Context(), userID, name, role)
			if err != nil {
				return err
			}
			if err := setEnvValue(envPath(), "VFXHUB_TOKEN", res.Token); err != nil {
				return err
			}
			return printOr(res.Profile, func() {
				fmt.Printf("logged in as %s (%s); token saved to %s\n", res.Profile.ID, res.Profile.Role, envPath())
			})
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&role, "role", "", "role for a new profile (studio, artist)")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func whoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the current profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := newClient().Me(cmd.Context())
			if err != nil {
				return err
			}
			return printOr(p, func() { printProfiles([]vfxhubsdk.Profile{p}) })
		},
	}
}

func apiKeyCmd() *cobra.Command {
	keys := &cobra.Command{Use: "api-key", Short: "Manage API keys"}
	var name string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create an API key (shown once)",
		RunE: func(cmd *cobra.Command, args []string) error {
			k, err := newClient().CreateAPIKey(cmd.Context(), name)
			if err != nil {
				return err
			}
			return printOr(k, func() { fmt.Printf("%s\t%s\n", k.ID, k.Key) })
		},
	}
	create.Flags().StringVar(&name, "name", "", "label")
	list := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			items, err := newClient().APIKeys(cmd.Context())
			if err != nil {
				return err
			}
			return printOr(items, func() {
				tw := newTable("ID", "Name", "Created", "Last Used")
				for _, k := range items {
					tw.AppendRow(table.Row{k.ID, k.Name, shortTime(k.CreatedAt), shortTime(deref(k.LastUsedAt))})
				}
				tw.Render()
			})
		},
	}
	revoke := &cobra.Command{
		Use:   "revoke <id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return newClient().RevokeAPIKey(cmd.Context(), args[0])
		},
	}
	keys.AddCommand(create, list, revoke)
	return keys
}

func profileCmd() *cobra.Command {
	prof := &cobra.Command{Use: "profile", Short: "Profiles"}
	var role, skill string
	list := &cobra.Command{
		Use:   "list",
		Short: "List profiles",
		RunE: func(cmd *cobra.Command, args []string) error {
			items, err := newClient().Profiles(cmd.Context(), role, skill)
			if err != nil {
				return err
			}
			return printOr(items, func() { printProfiles(items) })
		},
	}
	list.Flags().StringVar(&role, "role", "", "role filter")
	list.Flags().StringVar(&skill, "skill", "", "skill filter")

	var in vfxhubsdk.ProfileInput
	var skills string
	update := &cobra.Command{
		Use:   "update",
		Short: "Update your profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient()
			me, err := c.Me(cmd.Context())
			if err != nil {
				return err
			}
			if in.DisplayName == "" {
				in.DisplayName = me.DisplayName
			}
			in.Skills = me.Skills
			if cmd.Flags().Changed("skills") {
				in.Skills = splitCSV(skills)
			}
			p, err := c.UpdateMe(cmd.Context(), in)
			if err != nil {
				return err
			}
			return printOr(p, func() { printProfiles([]vfxhubsdk.Profile{p}) })
		},
	}
	update.Flags().StringVar(&in.DisplayName, "name", "", "display name")
	update.Flags().StringVar(&in.Role, "role", "", "role (studio, artist)")
	update.Flags().StringVar(&skills, "skills", "", "comma separated skills")
	prof.AddCommand(list, update)
	return prof
}

func printProfiles(items []vfxhubsdk.Profile) {
	tw := newTable("ID", "Name", "Role", "Skills", "Balance")
	for _, p := range items {
		tw.AppendRow(table.Row{p.ID, p.DisplayName, p.Role, strings.Join(p.Skills, ","), p.Balance})
	}
	tw.Render()
}

func projectCmd() *cobra.Command {
	prj := &cobra.Command{Use: "project", Short: "Manage projects"}
	prj.AddCommand(projectListCmd())
	prj.AddCommand(projectCreateCmd())
	prj.AddCommand(projectShowCmd())
	prj.AddCommand(projectUpdateCmd())
	prj.AddCommand(projectDeleteCmd())
	prj.AddCommand(projectStatsCmd())
	return prj
}

func projectListCmd() *cobra.Command {
	var q vfxhubsdk.ProjectQuery
	var statuses, skills string
	var minBudget, maxBudget int64
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List projects with filters",
		RunE: func(cmd *cobra.Command, args []string) error {
			q.Statuses = splitCSV(statuses)
			q.Skills = splitCSV(skills)
			if cmd.Flags().Changed("min-budget") {
				q.MinBudget = &minBudget
			}
			if cmd.Flags().Changed("max-budget") {
				q.MaxBudget = &maxBudget
			}
			items, err := newClient().Projects(cmd.Context(), q)
			if err != nil {
				return err
			}
			return printOr(items, func() { printProjects(items) })
		},
	}
	f := cmd.Flags()
	f.StringVar(&q.OwnerID, "owner", "", "owner id")
	f.StringVar(&statuses, "status", "", "comma separated statuses")
	f.StringVar(&q.Query, "q", "", "text search in title and description")
	f.Int64Var(&minBudget, "min-budget", 0, "minimum budget")
	f.Int64Var(&maxBudget, "max-budget", 0, "maximum budget")
	f.StringVar(&skills, "skills", "", "comma separated skills")
	f.BoolVar(&q.MatchAllSkills, "match-all", false, "require every skill")
	f.StringVar(&q.CreatedAfter, "created-after", "", "RFC3339 or YYYY-MM-DD")
	f.StringVar(&q.CreatedBefore, "created-before", "", "RFC3339 or YYYY-MM-DD")
	f.StringVar(&q.DeadlineBefore, "deadline-before", "", "RFC3339 or YYYY-MM-DD")
	f.StringVar(&q.Sort, "sort", "", "created_at, budget, deadline or title")
	f.BoolVar(&q.Descending, "desc", false, "descending order")
	f.IntVar(&q.Limit, "limit", 0, "page size")
	f.IntVar(&q.Offset, "offset", 0, "page offset")
	return cmd
}

func printProjects(items []vfxhubsdk.Project) {
	tw := newTable("ID", "Title", "Status", "Budget", "Deadline", "Owner")
	for _, p := range items {
		tw.AppendRow(table.Row{p.ID, p.Title, p.Status, p.Budget, shortTime(deref(p.Deadline)), p.OwnerID})
	}
	tw.Render()
}

func projectCreateCmd() *cobra.Command {
	var in vfxhubsdk.ProjectInput
	var deadline, skills string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create project",
		RunE: func(cmd *cobra.Command, args []string) error {
			in.Deadline = optionalString(deadline)
			in.Skills = splitCSV(skills)
			p, err := newClient().CreateProject(cmd.Context(), in)
			if err != nil {
				return err
			}
			return printOr(p, func() { printProjects([]vfxhubsdk.Project{p}) })
		},
	}
	cmd.Flags().StringVar(&in.Title, "title", "", "title")
	cmd.Flags().StringVar(&in.Description, "description", "", "description")
	cmd.Flags().Int64Var(&in.Budget, "budget", 0, "budget in coins")
	cmd.Flags().StringVar(&deadline, "deadline", "", "RFC3339 deadline")
	cmd.Flags().StringVar(&skills, "skills", "", "comma separated skills")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func projectShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := newClient().Project(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printOr(p, func() {
				printProjects([]vfxhubsdk.Project{p})
				if p.Description != "" {
					fmt.Println(p.Description)
				}
			})
		},
	}
}

func projectUpdateCmd() *cobra.Command {
	var title, description, status, deadline string
	var budget int64
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var patch vfxhubsdk.ProjectPatch
			if cmd.Flags().Changed("title") {
				patch.Title = &title
			}
			if cmd.Flags().Changed("description") {
				patch.Description = &description
			}
			if cmd.Flags().Changed("status") {
				patch.Status = &status
			}
			if cmd.Flags().Changed("budget") {
				patch.Budget = &budget
			}
			if cmd.Flags().Changed("deadline") {
				patch.Deadline = &deadline
			}
			p, err := newClient().UpdateProject(cmd.Context(), args[0], patch)
			if err != nil {
				return err
			}
			return printOr(p, func() { printProjects([]vfxhubsdk.Project{p}) })
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "title")
	cmd.Flags().StringVar(&description, "description", "", "description")
	cmd.Flags().StringVar(&status, "status", "", "open, in_progress, completed or cancelled")
	cmd.Flags().Int64Var(&budget, "budget", 0, "budget in coins")
	cmd.Flags().StringVar(&deadline, "deadline", "", "RFC3339 deadline")
	return cmd
}

func projectDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return newClient().DeleteProject(cmd.Context(), args[0])
		},
	}
}

func projectStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats <id>",
		Short: "Task completion and bid summary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newClient().ProjectStats(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printOr(s, func() {
				fmt.Printf("Project: %s\n", s.ProjectID)
				fmt.Printf("Tasks: %d todo, %d in progress, %d completed (%d%% complete)\n",
					s.Tasks.Todo, s.Tasks.InProgress, s.Tasks.Completed, s.Tasks.CompletionRate)
				c := s.Bids.Counts
				fmt.Printf("Bids: %d pending, %d approved, %d rejected, %d withdrawn\n",
					c[domain.BidPending], c[domain.BidApproved], c[domain.BidRejected], c[domain.BidWithdrawn])
				if c[domain.BidPending] > 0 {
					fmt.Printf("Pending amounts: low %d, high %d, avg %d\n", s.Bids.LowestPending, s.Bids.HighestPending, s.Bids.AveragePending)
				}
			})
		},
	}
}

func taskCmd() *cobra.Command {
	tsk := &cobra.Command{Use: "task", Short: "Manage tasks"}
	tsk.AddCommand(taskListCmd())
	tsk.AddCommand(taskCreateCmd())
	tsk.AddCommand(taskUpdateCmd())
	tsk.AddCommand(taskDeleteCmd())
	return tsk
}

func taskListCmd() *cobra.Command {
	var projectID, statuses string
	var q vfxhubsdk.TaskQuery
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks of a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			q.Statuses = splitCSV(statuses)
			items, err := newClient().Tasks(cmd.Context(), projectID, q)
			if err != nil {
				return err
			}
			return printOr(items, func() { printTasks(items) })
		},
	}
	cmd.Flags().StringVar(&projectID, "project", "", "project id")
	cmd.Flags().StringVar(&statuses, "status", "", "comma separated statuses")
	cmd.Flags().StringVar(&q.AssigneeID, "assignee", "", "assignee id")
	cmd.Flags().StringVar(&q.Query, "q", "", "text search")
	cmd.Flags().StringVar(&q.DueBefore, "due-before", "", "RFC3339 or YYYY-MM-DD")
	_ = cmd.MarkFlagRequired("project")
	return cmd
}

func printTasks(items []vfxhubsdk.Task) {
	tw := newTable("ID", "Title", "Status", "Assignee", "Budget", "Due")
	for _, t := range items {
		tw.AppendRow(table.Row{t.ID, t.Title, t.Status, deref(t.AssigneeID), t.Budget, shortTime(deref(t.DueAt))})
	}
	tw.Render()
}

func taskCreateCmd() *cobra.Command {
	var projectID, due string
	var in vfxhubsdk.TaskInput
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create task",
		RunE: func(cmd *cobra.Command, args []string) error {
			in.DueAt = optionalString(due)
			t, err := newClient().CreateTask(cmd.Context(), projectID, in)
			if err != nil {
				return err
			}
			return printOr(t, func() { printTasks([]vfxhubsdk.Task{t}) })
		},
	}
	cmd.Flags().StringVar(&projectID, "project", "", "project id")
	cmd.Flags().StringVar(&in.Title, "title", "", "title")
	cmd.Flags().StringVar(&in.Description, "description", "", "description")
	cmd.Flags().Int64Var(&in.Budget, "budget", 0, "budget in coins")
	cmd.Flags().StringVar(&due, "due", "", "RFC3339 due date")
	cmd.Flags().StringVar(&in.AssigneeID, "assignee", "", "assignee id")
	_ = cmd.MarkFlagRequired("project")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func taskUpdateCmd() *cobra.Command {
	var title, status, assignee, due string
	var budget int64
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var patch vfxhubsdk.TaskPatch
			if cmd.Flags().Changed("title") {
				patch.Title = &title
			}
			if cmd.Flags().Changed("status") {
				patch.Status = &status
			}
			if cmd.Flags().Changed("assignee") {
				patch.AssigneeID = &assignee
			}
			if cmd.Flags().Changed("budget") {
				patch.Budget = &budget
			}
			if cmd.Flags().Changed("due") {
				patch.DueAt = &due
			}
			t, err := newClient().UpdateTask(cmd.Context(), args[0], patch)
			if err != nil {
				return err
			}
			return printOr(t, func() { printTasks([]vfxhubsdk.Task{t}) })
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "title")
	cmd.Flags().StringVar(&status, "status", "", "todo, in_progress or completed")
	cmd.Flags().StringVar(&assignee, "assignee", "", "assignee id, empty to unassign")
	cmd.Flags().Int64Var(&budget, "budget", 0, "budget in coins")
	cmd.Flags().StringVar(&due, "due", "", "RFC3339 due date")
	return cmd
}

func taskDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return newClient().DeleteTask(cmd.Context(), args[0])
		},
	}
}

func bidCmd() *cobra.Command {
	bid := &cobra.Command{Use: "bid", Short: "Bid on tasks"}
	bid.AddCommand(bidPlaceCmd())
	bid.AddCommand(bidListCmd())
	bid.AddCommand(bidReviewCmd())
	bid.AddCommand(bidWithdrawCmd())
	return bid
}

// bidPlaceCmd shows the bid immediately and rolls it back when the backend
// rejects it.
func bidPlaceCmd() *cobra.Command {
	var taskID, note string
	var amount int64
	cmd := &cobra.Command{
		Use:   "place",
		Short: "Place a bid on a task",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient()
			ctx := cmd.Context()
			me, err := c.Me(ctx)
			if err != nil {
				return err
			}
			task, err := c.Task(ctx, taskID)
			if err != nil {
				return err
			}
			feed, err := newFeed(c, domain.ProjectScope(task.ProjectID), []string{"bids"},
				func(ctx context.Context, _ string) ([]vfxhubsdk.Bid, error) {
					return c.Bids(ctx, vfxhubsdk.BidQuery{TaskID: taskID, ArtistID: me.ID})
				}, nil)
			if err != nil {
				return err
			}
			defer feed.Close()
			if err := feed.Start(ctx); err != nil {
				return err
			}
			err = feed.Mutate(ctx, func(tempID string) vfxhubsdk.Bid {
				return vfxhubsdk.Bid{ID: tempID, TaskID: taskID, ArtistID: me.ID, Amount: amount, Note: note, Status: domain.BidPending}
			}, func(ctx context.Context) error {
				_, err := c.PlaceBid(ctx, taskID, amount, note)
				return err
			})
			if err != nil {
				return err
			}
			if err := feed.Refresh(); err != nil {
				return err
			}
			items := feed.Items()
			return printOr(items, func() { printBids(items) })
		},
	}
	cmd.Flags().StringVar(&taskID, "task", "", "task id")
	cmd.Flags().Int64Var(&amount, "amount", 0, "offer in coins")
	cmd.Flags().StringVar(&note, "note", "", "note for the studio")
	_ = cmd.MarkFlagRequired("task")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func printBids(items []vfxhubsdk.Bid) {
	tw := newTable("ID", "Task", "Artist", "Amount", "Status", "Note")
	for _, b := range items {
		tw.AppendRow(table.Row{b.ID, b.TaskID, b.ArtistID, b.Amount, b.Status, b.Note})
	}
	tw.Render()
}

func bidListCmd() *cobra.Command {
	var q vfxhubsdk.BidQuery
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List bids",
		RunE: func(cmd *cobra.Command, args []string) error {
			items, err := newClient().Bids(cmd.Context(), q)
			if err != nil {
				return err
			}
			return printOr(items, func() { printBids(items) })
		},
	}
	cmd.Flags().StringVar(&q.TaskID, "task", "", "task id")
	cmd.Flags().StringVar(&q.ProjectID, "project", "", "project id")
	cmd.Flags().StringVar(&q.ArtistID, "artist", "", "artist id")
	cmd.Flags().StringVar(&q.Status, "status", "", "status filter")
	return cmd
}

func bidReviewCmd() *cobra.Command {
	var reject bool
	cmd := &cobra.Command{
		Use:   "review <id>",
		Short: "Approve (default) or reject a bid",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := newClient().ReviewBid(cmd.Context(), args[0], !reject)
			if err != nil {
				return err
			}
			return printOr(b, func() { printBids([]vfxhubsdk.Bid{b}) })
		},
	}
	cmd.Flags().BoolVar(&reject, "reject", false, "reject instead of approve")
	return cmd
}

func bidWithdrawCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "withdraw <id>",
		Short: "Withdraw your bid",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := newClient().WithdrawBid(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printOr(b, func() { printBids([]vfxhubsdk.Bid{b}) })
		},
	}
}

func shareCmd() *cobra.Command {
	shr := &cobra.Command{Use: "share", Short: "Share projects and tasks"}

	var kind, resourceID, grantee string
	request := &cobra.Command{
		Use:   "request",
		Short: "Request access, or share directly with --grantee as owner",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newClient().RequestShare(cmd.Context(), kind, resourceID, grantee)
			if err != nil {
				return err
			}
			return printOr(s, func() { printShares([]vfxhubsdk.Share{s}) })
		},
	}
	request.Flags().StringVar(&kind, "kind", "project", "project or task")
	request.Flags().StringVar(&resourceID, "id", "", "resource id")
	request.Flags().StringVar(&grantee, "grantee", "", "grantee id")
	_ = request.MarkFlagRequired("id")

	var q vfxhubsdk.ShareQuery
	list := &cobra.Command{
		Use:   "list",
		Short: "List shares",
		RunE: func(cmd *cobra.Command, args []string) error {
			items, err := newClient().Shares(cmd.Context(), q)
			if err != nil {
				return err
			}
			return printOr(items, func() { printShares(items) })
		},
	}
	list.Flags().StringVar(&q.OwnerID, "owner", "", "owner id")
	list.Flags().StringVar(&q.GranteeID, "grantee", "", "grantee id")
	list.Flags().StringVar(&q.ResourceKind, "kind", "", "project or task")
	list.Flags().StringVar(&q.ResourceID, "id", "", "resource id")
	list.Flags().StringVar(&q.Status, "status", "", "status filter")

	var reject bool
	review := &cobra.Command{
		Use:   "review <id>",
		Short: "Approve (default) or reject a share request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newClient().ReviewShare(cmd.Context(), args[0], !reject)
			if err != nil {
				return err
			}
			return printOr(s, func() { printShares([]vfxhubsdk.Share{s}) })
		},
	}
	review.Flags().BoolVar(&reject, "reject", false, "reject instead of approve")

	revoke := &cobra.Command{
		Use:   "revoke <id>",
		Short: "Delete a share",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return newClient().DeleteShare(cmd.Context(), args[0])
		},
	}
	shr.AddCommand(request, list, review, revoke)
	return shr
}

func printShares(items []vfxhubsdk.Share) {
	tw := newTable("ID", "Kind", "Resource", "Owner", "Grantee", "Status")
	for _, s := range items {
		tw.AppendRow(table.Row{s.ID, s.ResourceKind, s.ResourceID, s.OwnerID, s.GranteeID, s.Status})
	}
	tw.Render()
}

// newFeed builds a livesync feed over scope with the workspace sync
// settings. A nil onChange makes a one-shot feed that never subscribes.
func newFeed[T any](c *vfxhubsdk.Client, scope string, tables []string, fetch func(context.Context, string) ([]T, error), onChange func([]T)) (*livesync.Feed[T], error) {
	cfg := syncConfig()
	logger := cliLogger()
	opts := livesync.Options[T]{
		Scope:   scope,
		Tables:  tables,
		Channel: &vfxhubsdk.Realtime{Client: c, RetryInterval: cfg.RetryInterval(), Logger: logger},
		Fetch:   fetch,
		Signal: func(ctx context.Context, scope string) (string, error) {
			v, err := c.ScopeVersion(ctx, scope)
			return fmt.Sprint(v), err
		},
		PollInterval:   cfg.PollInterval(),
		ReconcileDelay: cfg.ReconcileDelay(),
		Logger:         logger,
		OnChange:       onChange,
	}
	if onChange != nil {
		opts.Notifier = livesync.NotifierFunc(func(err error) {
			fmt.Fprintln(os.Stderr, "error:", err)
		})
	} else {
		// one-shot commands do not wait for the channel
		opts.Channel = nil
	}
	return livesync.NewFeed(opts)
}

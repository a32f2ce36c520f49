package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"vfxhub/internal/domain"
	vfxhubsdk "vfxhub/sdk/go"
)

func notificationCmd() *cobra.Command {
	n := &cobra.Command{
		Use:     "notification",
		Aliases: []string{"notifications"},
		Short:   "Your notifications",
	}
	var unread bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List notifications",
		RunE: func(cmd *cobra.Command, args []string) error {
			items, err := newClient().Notifications(cmd.Context(), unread)
			if err != nil {
				return err
			}
			return printOr(items, func() {
				tw := newTable("ID", "Time", "Kind", "Title", "Read")
				for _, it := range items {
					tw.AppendRow(table.Row{it.ID, shortTime(it.CreatedAt), it.Kind, it.Title, it.Read})
				}
				tw.Render()
			})
		},
	}
	list.Flags().BoolVar(&unread, "unread", false, "only unread")
	n.AddCommand(list)
	n.AddCommand(&cobra.Command{
		Use:   "read <id>",
		Short: "Mark a notification read",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return newClient().MarkNotificationRead(cmd.Context(), args[0])
		},
	})
	return n
}

func postCmd() *cobra.Command {
	p := &cobra.Command{
		Use:   "post",
		Short: "Community feed",
	}
	var author string
	list := &cobra.Command{
		Use:   "list",
		Short: "List posts, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			items, err := newClient().Posts(cmd.Context(), author)
			if err != nil {
				return err
			}
			return printOr(items, func() { printPosts(items) })
		},
	}
	list.Flags().StringVar(&author, "author", "", "filter by author id")
	p.AddCommand(list)

	var tags string
	create := &cobra.Command{
		Use:   "create <text>",
		Short: "Publish a post",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			post, err := newClient().CreatePost(cmd.Context(), strings.Join(args, " "), splitCSV(tags))
			if err != nil {
				return err
			}
			return printOr(post, func() { printPosts([]vfxhubsdk.Post{post}) })
		},
	}
	create.Flags().StringVar(&tags, "tags", "", "comma-separated tags")
	p.AddCommand(create)

	p.AddCommand(&cobra.Command{
		Use:   "delete <id>",
		Short: "Delete one of your posts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return newClient().DeletePost(cmd.Context(), args[0])
		},
	})
	p.AddCommand(postReactionCmd("like", (*vfxhubsdk.Client).LikePost))
	p.AddCommand(postReactionCmd("unlike", (*vfxhubsdk.Client).UnlikePost))
	p.AddCommand(&cobra.Command{
		Use:   "watch",
		Short: "Follow the feed live",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient()
			return watch(cmd.Context(), c, domain.ScopePosts, []string{"posts"},
				func(ctx context.Context, _ string) ([]vfxhubsdk.Post, error) {
					return c.Posts(ctx, "")
				},
				func(items []vfxhubsdk.Post) {
					if err := printOr(items, func() { printPosts(tail(items, 20)) }); err != nil {
						cliLogger().Warn("render posts", "err", err)
					}
				})
		},
	})
	return p
}

func postReactionCmd(use string, call func(*vfxhubsdk.Client, context.Context, string) (vfxhubsdk.Post, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: strings.ToUpper(use[:1]) + use[1:] + " a post",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			post, err := call(newClient(), cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printOr(post, func() { fmt.Printf("%s: %d likes\n", post.ID, post.Likes) })
		},
	}
}

func printPosts(items []vfxhubsdk.Post) {
	tw := newTable("ID", "Time", "Author", "Post", "Tags", "Likes")
	for _, p := range items {
		tw.AppendRow(table.Row{p.ID, shortTime(p.CreatedAt), p.AuthorID, p.Body, strings.Join(p.Tags, ","), p.Likes})
	}
	tw.Render()
}

func machineCmd() *cobra.Command {
	m := &cobra.Command{
		Use:     "machine",
		Aliases: []string{"machines"},
		Short:   "Render machines",
		Long:    "Anyone can list machines. Register, assign, release and status changes need the admin role.",
	}
	var status string
	list := &cobra.Command{
		Use:   "list",
		Short: "List machines",
		RunE: func(cmd *cobra.Command, args []string) error {
			items, err := newClient().Machines(cmd.Context(), status)
			if err != nil {
				return err
			}
			return printOr(items, func() { printMachines(items) })
		},
	}
	list.Flags().StringVar(&status, "status", "", "available|assigned|offline")
	m.AddCommand(list)

	var specs string
	register := &cobra.Command{
		Use:   "register <name>",
		Short: "Register a machine",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			machine, err := newClient().RegisterMachine(cmd.Context(), args[0], specs)
			return printMachine(machine, err)
		},
	}
	register.Flags().StringVar(&specs, "specs", "", "hardware summary")
	m.AddCommand(register)

	m.AddCommand(&cobra.Command{
		Use:   "assign <id> <user>",
		Short: "Assign a machine to a user",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return printMachine(newClient().AssignMachine(cmd.Context(), args[0], args[1]))
		},
	})
	m.AddCommand(&cobra.Command{
		Use:   "release <id>",
		Short: "Release an assigned machine",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return printMachine(newClient().ReleaseMachine(cmd.Context(), args[0]))
		},
	})
	m.AddCommand(&cobra.Command{
		Use:       "status <id> <status>",
		Short:     "Set a machine status",
		Args:      cobra.ExactArgs(2),
		ValidArgs: domain.MachineStatuses,
		RunE: func(cmd *cobra.Command, args []string) error {
			return printMachine(newClient().SetMachineStatus(cmd.Context(), args[0], args[1]))
		},
	})
	m.AddCommand(&cobra.Command{
		Use:   "watch",
		Short: "Follow machine status live",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient()
			return watch(cmd.Context(), c, domain.ScopeMachines, []string{"machines"},
				func(ctx context.Context, _ string) ([]vfxhubsdk.Machine, error) {
					return c.Machines(ctx, "")
				},
				func(items []vfxhubsdk.Machine) {
					if err := printOr(items, func() { printMachines(items) }); err != nil {
						cliLogger().Warn("render machines", "err", err)
					}
				})
		},
	})
	return m
}

func printMachine(m vfxhubsdk.Machine, err error) error {
	if err != nil {
		return err
	}
	return printOr(m, func() { printMachines([]vfxhubsdk.Machine{m}) })
}

func printMachines(items []vfxhubsdk.Machine) {
	tw := newTable("ID", "Name", "Status", "Assigned To", "Specs", "Updated")
	for _, m := range items {
		tw.AppendRow(table.Row{m.ID, m.Name, m.Status, deref(m.AssignedTo), m.Specs, shortTime(m.UpdatedAt)})
	}
	tw.Render()
}

func coinsCmd() *cobra.Command {
	coins := &cobra.Command{
		Use:   "coins",
		Short: "V3 Coins ledger",
		Long:  "Balances only change through the coin procedure. Failures such as insufficient funds are reported with their code and exit non-zero.",
	}
	var user string
	balance := &cobra.Command{
		Use:   "balance",
		Short: "Show a balance (default: yours)",
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := newClient().Balance(cmd.Context(), user)
			if err != nil {
				return err
			}
			return printOr(b, func() { fmt.Printf("%s: %d coins\n", b.UserID, b.Balance) })
		},
	}
	balance.Flags().StringVar(&user, "user", "", "user id (admins only for others)")
	coins.AddCommand(balance)

	var histUser string
	var limit int
	history := &cobra.Command{
		Use:   "history",
		Short: "List transactions, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			items, err := newClient().Transactions(cmd.Context(), histUser, limit)
			if err != nil {
				return err
			}
			return printOr(items, func() {
				tw := newTable("Time", "Type", "Amount", "Counterparty", "Balance", "Reference")
				for _, tx := range items {
					tw.AppendRow(table.Row{shortTime(tx.CreatedAt), tx.Type, tx.Amount, deref(tx.CounterpartyID), tx.BalanceAfter, tx.Reference})
				}
				tw.Render()
			})
		},
	}
	history.Flags().StringVar(&histUser, "user", "", "user id (admins only for others)")
	history.Flags().IntVar(&limit, "limit", 50, "max rows")
	coins.AddCommand(history)

	var sumUser string
	summary := &cobra.Command{
		Use:   "summary",
		Short: "Totals earned and spent by type",
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := newClient().LedgerSummary(cmd.Context(), sumUser)
			if err != nil {
				return err
			}
			return printOr(l, func() {
				tw := newTable("Type", "Amount")
				for _, t := range []string{domain.TxEarn, domain.TxBonus, domain.TxTransferIn, domain.TxSpend, domain.TxDonate, domain.TxTransferOut, domain.TxPayout} {
					if v, ok := l.ByType[t]; ok {
						tw.AppendRow(table.Row{t, v})
					}
				}
				tw.AppendFooter(table.Row{"earned / spent", fmt.Sprintf("%d / %d", l.Earned, l.Spent)})
				tw.Render()
			})
		},
	}
	summary.Flags().StringVar(&sumUser, "user", "", "user id (admins only for others)")
	coins.AddCommand(summary)

	var to, reference string
	var amount int64
	transfer := &cobra.Command{
		Use:   "transfer",
		Short: "Send coins to another user",
		RunE: func(cmd *cobra.Command, args []string) error {
			if to == "" {
				return fmt.Errorf("--to required")
			}
			return applyCoin(cmd.Context(), vfxhubsdk.CoinRequest{Type: domain.TxTransferOut, Amount: amount, CounterpartyID: to, Reference: reference})
		},
	}
	transfer.Flags().StringVar(&to, "to", "", "recipient user id")
	transfer.Flags().Int64Var(&amount, "amount", 0, "coins to send")
	transfer.Flags().StringVar(&reference, "reference", "", "free-form reference")
	coins.AddCommand(transfer)

	var req vfxhubsdk.CoinRequest
	apply := &cobra.Command{
		Use:   "apply",
		Short: "Run the coin procedure directly",
		Long:  "Types: earn, spend, donate, transfer_in, transfer_out, bonus, payout. Crediting another user needs the admin role.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return applyCoin(cmd.Context(), req)
		},
	}
	apply.Flags().StringVar(&req.Type, "type", "", "transaction type")
	apply.Flags().StringVar(&req.UserID, "user", "", "target user (default: you)")
	apply.Flags().Int64Var(&req.Amount, "amount", 0, "coins")
	apply.Flags().StringVar(&req.CounterpartyID, "counterparty", "", "other side of a transfer or donation")
	apply.Flags().StringVar(&req.Reference, "reference", "", "free-form reference")
	coins.AddCommand(apply)
	return coins
}

func applyCoin(ctx context.Context, req vfxhubsdk.CoinRequest) error {
	res, err := newClient().ApplyCoin(ctx, req)
	if err != nil {
		return err
	}
	if perr := printOr(res, func() {
		if res.OK {
			fmt.Printf("ok: balance %d (transaction %s)\n", res.Balance, res.TransactionID)
		}
	}); perr != nil {
		return perr
	}
	return res.Err()
}

func changesCmd() *cobra.Command {
	var scope, tables string
	var after int64
	var limit int
	var follow bool
	cmd := &cobra.Command{
		Use:   "changes",
		Short: "Read the change feed of a scope",
		Long:  "Scopes: conversation:<a>:<b>, project:<id>, user:<id>, machines, posts. --follow keeps polling from the last cursor.",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient()
			ctx := cmd.Context()
			interval := syncConfig().PollInterval()
			cursor := after
			for {
				page, err := c.Changes(ctx, vfxhubsdk.ChangeQuery{Scope: scope, Tables: splitCSV(tables), After: cursor, Limit: limit})
				if err != nil {
					return err
				}
				if err := printOr(page, func() { printChanges(page.Items) }); err != nil {
					return err
				}
				cursor = page.NextCursor
				if !follow {
					return nil
				}
				if len(page.Items) > 0 && len(page.Items) == limit {
					continue
				}
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(interval):
				}
			}
		},
	}
	cmd.Flags().StringVar(&scope, "scope", "", "scope to read (default: everything visible to you)")
	cmd.Flags().StringVar(&tables, "table", "", "comma-separated tables")
	cmd.Flags().Int64Var(&after, "after", 0, "start after this sequence")
	cmd.Flags().IntVar(&limit, "limit", 100, "max rows per page")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "keep polling")
	return cmd
}

func printChanges(items []vfxhubsdk.Change) {
	if len(items) == 0 {
		return
	}
	tw := newTable("Seq", "Time", "Table", "Op", "Record", "Actor")
	for _, ch := range items {
		tw.AppendRow(table.Row{ch.Seq, shortTime(ch.TS), ch.Table, ch.Op, ch.RecordID, ch.ActorID})
	}
	tw.Render()
}

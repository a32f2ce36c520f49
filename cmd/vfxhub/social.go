package main

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"vfxhub/internal/domain"
	vfxhubsdk "vfxhub/sdk/go"
	"vfxhub/sdk/go/livesync"
)

func messageCmd() *cobra.Command {
	msg := &cobra.Command{
		Use:   "message",
		Short: "Direct and project messages",
		Long:  "Use --to <user> for a direct conversation or --project <id> for a project thread.",
	}
	msg.AddCommand(messageSendCmd())
	msg.AddCommand(messageListCmd())
	msg.AddCommand(messageWatchCmd())
	msg.AddCommand(conversationsCmd())
	return msg
}

// thread resolves the scope and fetch function for --to / --project.
type thread struct {
	to, project string
}

func (th *thread) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&th.to, "to", "", "other user id (direct message)")
	cmd.Flags().StringVar(&th.project, "project", "", "project id (project thread)")
}

func (th *thread) resolve(c *vfxhubsdk.Client, me string) (string, func(context.Context, string) ([]vfxhubsdk.Message, error), error) {
	switch {
	case th.to != "" && th.project != "":
		return "", nil, fmt.Errorf("use either --to or --project")
	case th.to != "":
		return domain.ConversationScope(me, th.to), func(ctx context.Context, _ string) ([]vfxhubsdk.Message, error) {
			return c.Conversation(ctx, th.to)
		}, nil
	case th.project != "":
		return domain.ProjectScope(th.project), func(ctx context.Context, _ string) ([]vfxhubsdk.Message, error) {
			return c.ProjectMessages(ctx, th.project)
		}, nil
	default:
		return "", nil, fmt.Errorf("--to or --project required")
	}
}

func messageSendCmd() *cobra.Command {
	th := &thread{}
	cmd := &cobra.Command{
		Use:   "send <text>",
		Short: "Send a message",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient()
			ctx := cmd.Context()
			me, err := c.Me(ctx)
			if err != nil {
				return err
			}
			scope, fetch, err := th.resolve(c, me.ID)
			if err != nil {
				return err
			}
			content := strings.Join(args, " ")
			feed, err := newFeed(c, scope, []string{"messages"}, fetch, nil)
			if err != nil {
				return err
			}
			defer feed.Close()
			if err := feed.Start(ctx); err != nil {
				return err
			}
			err = feed.Mutate(ctx, func(tempID string) vfxhubsdk.Message {
				m := vfxhubsdk.Message{ID: tempID, SenderID: me.ID, Content: content, CreatedAt: domain.Timestamp(time.Now())}
				if th.to != "" {
					m.ReceiverID = &th.to
				} else {
					m.ProjectID = &th.project
				}
				return m
			}, func(ctx context.Context) error {
				var err error
				if th.to != "" {
					_, err = c.SendDirectMessage(ctx, th.to, content)
				} else {
					_, err = c.SendProjectMessage(ctx, th.project, content)
				}
				return err
			})
			if err != nil {
				return err
			}
			if err := feed.Refresh(); err != nil {
				return err
			}
			items := feed.Items()
			return printOr(items, func() { printMessages(tail(items, 10)) })
		},
	}
	th.register(cmd)
	return cmd
}

func messageListCmd() *cobra.Command {
	th := &thread{}
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List messages of a conversation or project",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient()
			me, err := c.Me(cmd.Context())
			if err != nil {
				return err
			}
			scope, fetch, err := th.resolve(c, me.ID)
			if err != nil {
				return err
			}
			items, err := fetch(cmd.Context(), scope)
			if err != nil {
				return err
			}
			return printOr(items, func() { printMessages(items) })
		},
	}
	th.register(cmd)
	return cmd
}

func messageWatchCmd() *cobra.Command {
	th := &thread{}
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow a conversation live",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient()
			me, err := c.Me(cmd.Context())
			if err != nil {
				return err
			}
			scope, fetch, err := th.resolve(c, me.ID)
			if err != nil {
				return err
			}
			seen := map[string]bool{}
			return watch(cmd.Context(), c, scope, []string{"messages"}, fetch, func(items []vfxhubsdk.Message) {
				for _, m := range items {
					if seen[m.ID] {
						continue
					}
					seen[m.ID] = true
					if viper.GetBool("json") {
						_ = printJSON(m)
						continue
					}
					fmt.Printf("[%s] %s: %s\n", shortTime(m.CreatedAt), m.SenderID, m.Content)
				}
			})
		},
	}
	th.register(cmd)
	return cmd
}

func conversationsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "conversations",
		Short: "List users you have exchanged messages with",
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := newClient().Conversations(cmd.Context())
			if err != nil {
				return err
			}
			return printOr(ids, func() {
				for _, id := range ids {
					fmt.Println(id)
				}
			})
		},
	}
}

func printMessages(items []vfxhubsdk.Message) {
	tw := newTable("Time", "From", "Message")
	for _, m := range items {
		from := m.SenderID
		if livesync.IsTempID(m.ID) {
			from += " (sending)"
		}
		tw.AppendRow(table.Row{shortTime(m.CreatedAt), from, m.Content})
	}
	tw.Render()
}

func tail[T any](items []T, n int) []T {
	if len(items) <= n {
		return items
	}
	return items[len(items)-n:]
}

// watch runs a feed until the command context ends. render receives the
// initial list and every later snapshot, one call at a time.
func watch[T any](ctx context.Context, c *vfxhubsdk.Client, scope string, tables []string, fetch func(context.Context, string) ([]T, error), render func([]T)) error {
	var mu sync.Mutex
	var latest []T
	wake := make(chan struct{}, 1)
	feed, err := newFeed(c, scope, tables, fetch, func(items []T) {
		mu.Lock()
		latest = items
		mu.Unlock()
		select {
		case wake <- struct{}{}:
		default:
		}
	})
	if err != nil {
		return err
	}
	defer feed.Close()
	if err := feed.Start(ctx); err != nil {
		return err
	}
	render(feed.Items())
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-wake:
			mu.Lock()
			items := latest
			mu.Unlock()
			render(items)
		}
	}
}

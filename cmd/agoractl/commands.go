package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/matheus3301/agora/internal/api"
	"github.com/matheus3301/agora/internal/client"
	"github.com/matheus3301/agora/internal/thread"
	"github.com/spf13/cobra"
)

func newSendCommand(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send a direct message, inquiry, response or follow-up",
	}

	var subject string
	dm := &cobra.Command{
		Use:   "dm <recipient> <message>",
		Short: "Send a direct message",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			return g.send(thread.Draft{
				Kind: thread.KindDirect, SenderRole: thread.RoleUser,
				RecipientID: args[0], Subject: subject, Body: strings.Join(args[1:], " "),
			})
		},
	}
	dm.Flags().StringVar(&subject, "subject", "", "message subject")

	var serviceID, companyID string
	inquiry := &cobra.Command{
		Use:   "inquiry <message>",
		Short: "Ask a company about one of its services",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return g.send(thread.Draft{
				Kind: thread.KindInquiry, SenderRole: thread.RoleUser,
				ServiceID: serviceID, CompanyID: companyID, Body: strings.Join(args, " "),
			})
		},
	}
	inquiry.Flags().StringVar(&serviceID, "service", "", "service id")
	inquiry.Flags().StringVar(&companyID, "company", "", "company owning the service")
	_ = inquiry.MarkFlagRequired("service")
	_ = inquiry.MarkFlagRequired("company")

	response := &cobra.Command{
		Use:   "response <inquiry-id> <message>",
		Short: "Answer an inquiry as the company",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			return g.send(thread.Draft{
				Kind: thread.KindResponse, SenderRole: thread.RoleCompany,
				InquiryID: args[0], Body: strings.Join(args[1:], " "),
			})
		},
	}

	var role string
	followup := &cobra.Command{
		Use:   "followup <inquiry-id> <message>",
		Short: "Continue an inquiry thread",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			return g.send(thread.Draft{
				Kind: thread.KindFollowup, SenderRole: thread.Role(role),
				InquiryID: args[0], Body: strings.Join(args[1:], " "),
			})
		},
	}
	followup.Flags().StringVar(&role, "role", string(thread.RoleUser), "sender role: user or company")

	cmd.AddCommand(dm, inquiry, response, followup)
	return cmd
}

func (g *globals) send(d thread.Draft) error {
	user, err := g.user()
	if err != nil {
		return err
	}
	d.SenderID = user
	d.ClaimedAt = time.Now()

	c, err := g.connect()
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()
	ctx, cancel := g.context()
	defer cancel()

	e, err := c.Send(ctx, d)
	if err != nil {
		return err
	}
	g.output(e, func() {
		fmt.Printf("Sent %s %s to %s\n", e.Kind, e.ID, e.Key)
	})
	return nil
}

func newShowCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "show <conversation-key>",
		Short: "Print a conversation timeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			key, user, c, err := g.open(args[0])
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()
			ctx, cancel := g.context()
			defer cancel()

			entries, err := c.Snapshot(ctx, key, user)
			if err != nil {
				return err
			}
			g.output(entries, func() {
				if len(entries) == 0 {
					fmt.Println("No messages.")
				}
				for _, e := range entries {
					printEntry(e, user)
				}
			})
			return nil
		},
	}
}

func newWatchCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "watch <conversation-key>",
		Short: "Print a conversation and follow new messages until interrupted",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			key, user, c, err := g.open(args[0])
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()
			return c.Watch(ctx, key, user, func(f api.WatchFrame) error {
				if f.Phase == api.PhaseStatus {
					g.output(map[string]any{"phase": f.Phase, "state": f.State}, func() {
						fmt.Printf("-- %s\n", f.State)
					})
					return nil
				}
				g.output(map[string]any{"phase": f.Phase, "entry": f.Entry}, func() {
					if f.Phase == api.PhaseLive {
						fmt.Print("* ")
					}
					printEntry(f.Entry, user)
				})
				return nil
			})
		},
	}
}

func newReadCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "read <conversation-key>",
		Short: "Mark a direct conversation as read",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			key, user, c, err := g.open(args[0])
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()
			ctx, cancel := g.context()
			defer cancel()

			n, err := c.MarkRead(ctx, key, user)
			if err != nil {
				return err
			}
			g.output(map[string]int64{"marked": n}, func() {
				fmt.Printf("Marked %d message(s) read\n", n)
			})
			return nil
		},
	}
}

func newInboxCommand(g *globals) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "inbox",
		Short: "List conversations and inquiry threads",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			user, err := g.user()
			if err != nil {
				return err
			}
			c, err := g.connect()
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()
			ctx, cancel := g.context()
			defer cancel()

			inbox, err := c.ListConversations(ctx, user, limit)
			if err != nil {
				return err
			}
			g.output(inbox, func() {
				fmt.Printf("%d unread\n", inbox.Unread)
				for _, conv := range inbox.Conversations {
					fmt.Printf("%-40s %-12s unread=%d  %s\n", conv.Key, conv.CounterpartID, conv.UnreadCount, conv.LastMessagePreview)
				}
				for _, q := range inbox.Inquiries {
					fmt.Printf("%-40s service=%s  %s\n", thread.InquiryKey(q.ID), q.ServiceID, q.Body)
				}
			})
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum rows per section")
	return cmd
}

func newNotificationsCommand(g *globals) *cobra.Command {
	var limit int
	var follow bool
	cmd := &cobra.Command{
		Use:   "notifications",
		Short: "List recent notifications",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			user, err := g.user()
			if err != nil {
				return err
			}
			c, err := g.connect()
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()
			ctx, cancel := g.context()
			defer cancel()

			notes, err := c.ListNotifications(ctx, user, limit)
			if err != nil {
				return err
			}
			g.output(notes, func() {
				for _, n := range notes {
					printNotification(n)
				}
			})
			if !follow {
				return nil
			}

			watchCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()
			return c.WatchNotifications(watchCtx, user, func(n thread.Notification) error {
				g.output(n, func() { printNotification(n) })
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum notifications")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "keep printing new notifications until interrupted")
	return cmd
}

func (g *globals) open(rawKey string) (thread.Key, string, *client.Client, error) {
	key, err := thread.ParseKey(rawKey)
	if err != nil {
		return "", "", nil, err
	}
	user, err := g.user()
	if err != nil {
		return "", "", nil, err
	}
	c, err := g.connect()
	if err != nil {
		return "", "", nil, err
	}
	return key, user, c, nil
}

func printNotification(n thread.Notification) {
	fmt.Printf("%s  %-18s %s: %s\n", n.CreatedAt.Local().Format(time.DateTime), n.Kind, n.Title, n.Body)
}

func printEntry(e thread.Entry, viewer string) {
	who := e.AuthorID
	if e.AuthorID == viewer {
		who = "you"
	}
	mark := ""
	if e.Kind == thread.KindDirect && e.RecipientID == viewer && !e.Read {
		mark = " (unread)"
	}
	fmt.Printf("[%s] %s (%s, %s)%s: %s\n",
		e.CreatedAt.Local().Format(time.DateTime), who, e.AuthorRole, e.Kind, mark, e.Body)
}

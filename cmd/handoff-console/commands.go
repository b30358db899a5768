// ABOUTME: Console subcommands: watch, list, agents, transfer and end
// ABOUTME: Each command loads config, builds the session and renders results to stdout

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/2389/handoff-console/internal/console"
	"github.com/2389/handoff-console/internal/stage"
)

func newWatchCmd(root *rootOptions) *cobra.Command {
	var conversationID int64

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow the live dashboard",
		Long: `Open the dashboard and presence feeds and redraw the stage board on
every change. With --conversation the detail view of that conversation is
followed as well and new messages are printed as they arrive.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(root)
			if err != nil {
				return err
			}
			defer a.Close()
			return runWatch(cmd.Context(), a, cmd.OutOrStdout(), conversationID)
		},
	}
	cmd.Flags().Int64Var(&conversationID, "conversation", 0, "also follow this conversation's messages")
	return cmd
}

func runWatch(ctx context.Context, a *app, out io.Writer, conversationID int64) error {
	s := a.console
	if err := s.Start(ctx); err != nil {
		return fmt.Errorf("starting console: %w", err)
	}
	a.logger.Info("watching",
		"backend", a.cfg.Backend.BaseURL,
		"operator_id", s.OperatorID(),
		"metrics", a.cfg.Metrics.Enabled)

	var detail *console.Detail
	if conversationID != 0 {
		d, err := s.OpenConversation(ctx, conversationID)
		if err != nil {
			return err
		}
		detail = d
	} else {
		detail = s.Detail()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.serveMetrics(gctx) })
	g.Go(func() error {
		snaps, _ := s.Store().Subscribe(gctx)
		presence, _ := s.Presence().Subscribe(gctx)
		var updates <-chan struct{}
		printed := newMessageLog()
		if detail != nil {
			updates = detail.Updates()
		}

		redraw := func() {
			fmt.Fprint(out, "\033[H\033[2J")
			renderBoard(out, s.Board(), len(s.Presence().Online()), time.Now())
		}

		for {
			select {
			case <-gctx.Done():
				return nil
			case _, ok := <-snaps:
				if !ok {
					return nil
				}
				redraw()
			case _, ok := <-presence:
				if !ok {
					return nil
				}
				redraw()
			case _, ok := <-updates:
				if !ok {
					updates = nil
					continue
				}
				if fresh := printed.unseen(detail.Messages()); len(fresh) > 0 {
					fmt.Fprintln(out)
					renderMessages(out, fresh)
				}
			}
		}
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func newListCmd(root *rootOptions) *cobra.Command {
	var tab, search string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List conversations by tab",
		Long: `List conversations for one tab: mine, unassigned or ai. The tab and
search text are remembered for the next run.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(root)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			s := a.console
			if err := s.Load(ctx); err != nil {
				return err
			}

			sel := s.Selection()
			if !cmd.Flags().Changed("tab") {
				tab = sel.Tab
			}
			if !cmd.Flags().Changed("search") {
				search = sel.Search
			}
			t, err := parseTab(tab)
			if err != nil {
				return err
			}
			if err := s.SetListView(ctx, t, search); err != nil {
				a.logger.Warn("saving list view failed", "error", err)
			}

			all := s.Store().Snapshot().All()
			convs := s.List(stage.ListFilter{Tab: t, Search: search})
			renderList(cmd.OutOrStdout(), convs, stage.TabCounts(all, s.OperatorID()), t, time.Now())
			return nil
		},
	}
	cmd.Flags().StringVarP(&tab, "tab", "t", "", "tab to show: mine, unassigned or ai")
	cmd.Flags().StringVarP(&search, "search", "s", "", "filter by contact name or last message")
	return cmd
}

func parseTab(name string) (stage.Tab, error) {
	switch t := stage.Tab(name); t {
	case "":
		return stage.TabMine, nil
	case stage.TabMine, stage.TabUnassigned, stage.TabAI:
		return t, nil
	}
	return "", fmt.Errorf("unknown tab %q (want mine, unassigned or ai)", name)
}

func newAgentsCmd(root *rootOptions) *cobra.Command {
	var showTeams bool

	cmd := &cobra.Command{
		Use:   "agents",
		Short: "List transfer candidates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(root)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			h := a.console.Handoff()
			agents, err := h.Candidates(ctx)
			if err != nil {
				return fmt.Errorf("listing agents: %w", err)
			}
			renderAgents(cmd.OutOrStdout(), agents)

			if showTeams {
				teams, err := h.Teams(ctx)
				if err != nil {
					return fmt.Errorf("listing teams: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout())
				renderTeams(cmd.OutOrStdout(), teams)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&showTeams, "teams", false, "also list teams")
	return cmd
}

func newTransferCmd(root *rootOptions) *cobra.Command {
	var agentID, teamID int64

	cmd := &cobra.Command{
		Use:   "transfer <conversation-id>",
		Short: "Transfer a conversation to an agent or a team",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			convID, err := parseID(args[0])
			if err != nil {
				return err
			}
			if (agentID == 0) == (teamID == 0) {
				return errors.New("exactly one of --agent or --team is required")
			}

			a, err := loadApp(root)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			h := a.console.Handoff()
			if teamID != 0 {
				_, err = h.TransferToTeam(ctx, convID, teamID)
			} else {
				_, err = h.TransferToAgent(ctx, convID, agentID)
			}
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			green.Fprint(out, "✓ ")
			if teamID != 0 {
				fmt.Fprintf(out, "conversation #%d transferred to team %d\n", convID, teamID)
			} else {
				fmt.Fprintf(out, "conversation #%d transferred to agent %d\n", convID, agentID)
			}
			return nil
		},
	}
	cmd.Flags().Int64Var(&agentID, "agent", 0, "target agent id")
	cmd.Flags().Int64Var(&teamID, "team", 0, "target team id")
	return cmd
}

func newEndCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "end <conversation-id>",
		Short: "End the attendance of a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			convID, err := parseID(args[0])
			if err != nil {
				return err
			}

			a, err := loadApp(root)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.console.EndAttendance(cmd.Context(), convID); err != nil {
				return err
			}
			green.Fprint(cmd.OutOrStdout(), "✓ ")
			fmt.Fprintf(cmd.OutOrStdout(), "conversation #%d ended\n", convID)
			return nil
		},
	}
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid conversation id %q", s)
	}
	return id, nil
}

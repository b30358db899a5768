// ABOUTME: Plain-text rendering of the dashboard, conversation list, agent picker and messages
// ABOUTME: Writes to any io.Writer with fatih/color highlighting

package main

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/2389/handoff-console/internal/model"
	"github.com/2389/handoff-console/internal/stage"
)

// columnLimit caps the rows shown per dashboard column.
const columnLimit = 10

var (
	bold    = color.New(color.Bold)
	gray    = color.New(color.FgHiBlack)
	green   = color.New(color.FgGreen)
	yellow  = color.New(color.FgYellow)
	cyan    = color.New(color.FgCyan)
	magenta = color.New(color.FgMagenta)
	active  = color.New(color.FgCyan, color.Underline)
)

func stageColor(s stage.Stage) *color.Color {
	switch s {
	case stage.AI:
		return magenta
	case stage.Waiting:
		return yellow
	default:
		return green
	}
}

func stageTitle(s stage.Stage) string {
	switch s {
	case stage.AI:
		return "AI"
	case stage.Waiting:
		return "Waiting"
	case stage.Agent:
		return "Agent"
	}
	return s.String()
}

func renderBoard(w io.Writer, board stage.Board, online int, now time.Time) {
	counts := board.Counts()
	bold.Fprint(w, "Conversations  ")
	magenta.Fprintf(w, "AI %d  ", counts.AI)
	yellow.Fprintf(w, "Waiting %d  ", counts.Waiting)
	green.Fprintf(w, "Agent %d  ", counts.Agent)
	gray.Fprintf(w, "(%d agents online)\n", online)

	for _, s := range stage.All {
		col := board.Column(s)
		fmt.Fprintln(w)
		stageColor(s).Fprintf(w, "▶ %s (%d)\n", stageTitle(s), len(col))
		for i, c := range col {
			if i == columnLimit {
				gray.Fprintf(w, "    … %d more\n", len(col)-columnLimit)
				break
			}
			fmt.Fprintf(w, "    %s\n", conversationLine(c, now))
		}
	}
}

func renderList(w io.Writer, convs []model.Conversation, counts map[stage.Tab]int, current stage.Tab, now time.Time) {
	for i, tab := range []stage.Tab{stage.TabMine, stage.TabUnassigned, stage.TabAI} {
		if i > 0 {
			fmt.Fprint(w, "  ")
		}
		label := fmt.Sprintf("%s (%d)", tab, counts[tab])
		if tab == current {
			active.Fprint(w, label)
			continue
		}
		gray.Fprint(w, label)
	}
	fmt.Fprintln(w)

	if len(convs) == 0 {
		gray.Fprintln(w, "  no conversations")
		return
	}
	for _, c := range convs {
		st := stage.Classify(c)
		stageColor(st).Fprintf(w, "  %-8s", stageTitle(st))
		fmt.Fprintln(w, conversationLine(c, now))
	}
}

func conversationLine(c model.Conversation, now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "#%-6d %-20s", c.ID, truncate(contactLabel(c), 20))
	owner := "unassigned"
	if c.Assignee != nil {
		owner = c.Assignee.DisplayName()
	}
	fmt.Fprintf(&b, " %-16s", truncate(owner, 16))
	if c.Team != nil && c.Team.Name != "" {
		fmt.Fprintf(&b, " [%s]", c.Team.Name)
	}
	b.WriteString(gray.Sprint(" " + age(now.Sub(c.Recency()))))
	if msg := c.LastMessageContent(); msg != "" {
		b.WriteString(gray.Sprint("  " + truncate(oneLine(msg), 40)))
	}
	return b.String()
}

func contactLabel(c model.Conversation) string {
	if name := c.ContactName(); name != "" {
		return name
	}
	if phone := c.ContactPhone(); phone != "" {
		return phone
	}
	return "unknown contact"
}

func renderAgents(w io.Writer, agents []model.Agent) {
	if len(agents) == 0 {
		gray.Fprintln(w, "no agents")
		return
	}
	for _, a := range agents {
		if a.IsOnline {
			green.Fprint(w, "● ")
		} else {
			gray.Fprint(w, "○ ")
		}
		fmt.Fprintf(w, "%-6d %s", a.ID, a.DisplayName())
		if a.Username != "" && a.Username != a.DisplayName() {
			gray.Fprintf(w, " @%s", a.Username)
		}
		fmt.Fprintln(w)
	}
}

func renderTeams(w io.Writer, teams []model.Team) {
	for _, t := range teams {
		fmt.Fprintf(w, "%-6d %s", t.ID, t.Name)
		gray.Fprintf(w, " (%d members)", len(t.Members))
		if !t.IsActive {
			yellow.Fprint(w, " inactive")
		}
		fmt.Fprintln(w)
	}
}

func renderMessages(w io.Writer, msgs []model.Message) {
	for _, m := range msgs {
		gray.Fprint(w, m.CreatedAt.Local().Format("15:04 "))
		if m.IsFromCustomer {
			cyan.Fprint(w, "customer ")
		} else {
			green.Fprint(w, "agent    ")
		}
		fmt.Fprintln(w, oneLine(m.Content))
	}
}

// messageLog remembers which message versions were already printed.
type messageLog struct {
	printed map[int64]model.Message
}

func newMessageLog() *messageLog {
	return &messageLog{printed: make(map[int64]model.Message)}
}

// unseen returns the messages of msgs that were never printed or changed
// since, in the order given, and marks them printed.
func (l *messageLog) unseen(msgs []model.Message) []model.Message {
	var out []model.Message
	for _, m := range msgs {
		if prev, ok := l.printed[m.ID]; ok && sameMessage(prev, m) {
			continue
		}
		l.printed[m.ID] = m
		out = append(out, m)
	}
	return out
}

func sameMessage(a, b model.Message) bool {
	return a.Content == b.Content &&
		a.MessageType == b.MessageType &&
		a.IsFromCustomer == b.IsFromCustomer &&
		a.CreatedAt.Equal(b.CreatedAt) &&
		bytes.Equal(a.Attributes, b.Attributes)
}

// age formats a duration the way the dashboard shows it: 45s, 12m, 3h, 2d.
func age(d time.Duration) string {
	switch {
	case d < 0:
		return "now"
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d/time.Second))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d/time.Minute))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d/time.Hour))
	}
	return fmt.Sprintf("%dd", int(d/(24*time.Hour)))
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 1 {
		return string(r[:n])
	}
	return string(r[:n-1]) + "…"
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

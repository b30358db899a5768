// ABOUTME: Hand-off coordinator for transfer-to-agent, transfer-to-team and end of attendance
// ABOUTME: Mutates the store only from confirmed backend results and never after Close

package handoff

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/2389/handoff-console/internal/backend"
	"github.com/2389/handoff-console/internal/model"
	"github.com/2389/handoff-console/internal/presence"
	"github.com/2389/handoff-console/internal/store"
)

var (
	// ErrTransferFailed indicates the backend rejected or failed a transfer.
	ErrTransferFailed = errors.New("transfer failed")

	// ErrNoEligibleMember indicates a team has no member that can receive a transfer.
	ErrNoEligibleMember = errors.New("no eligible team member")

	// ErrDeletionFailed indicates the backend did not confirm an end of attendance.
	ErrDeletionFailed = errors.New("deletion failed")

	// ErrClosed indicates the coordinator was torn down.
	ErrClosed = errors.New("coordinator closed")
)

// Backend is the subset of the REST client the coordinator needs.
type Backend interface {
	Transfer(ctx context.Context, conversationID, agentID int64) (*model.Conversation, error)
	DeleteConversation(ctx context.Context, conversationID int64) error
	ListTeams(ctx context.Context) ([]model.Team, error)
	ListAgents(ctx context.Context) ([]model.Agent, error)
}

// Coordinator performs user-initiated ownership changes.
type Coordinator struct {
	backend  Backend
	store    *store.Store
	presence *presence.Tracker

	life   context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	teams       map[int64]model.Team
	teamOrder   []int64
	teamsLoaded bool
	closed      bool

	logger *slog.Logger
}

// New creates a coordinator. Pass nil logger for default.
func New(b Backend, st *store.Store, tr *presence.Tracker, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	life, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		backend:  b,
		store:    st,
		presence: tr,
		life:     life,
		cancel:   cancel,
		teams:    make(map[int64]model.Team),
		logger:   logger.With("component", "handoff"),
	}
}

// TransferToAgent assigns a conversation to an agent. When the backend
// returns the updated conversation it is applied to the store and returned;
// otherwise the store changes when the dashboard feed delivers the update
// and the result is nil. On failure the store is untouched.
func (c *Coordinator) TransferToAgent(ctx context.Context, conversationID, agentID int64) (*model.Conversation, error) {
	ctx, done, err := c.bind(ctx)
	if err != nil {
		return nil, err
	}
	defer done()

	c.logger.Info("transferring conversation",
		"conversation_id", conversationID,
		"agent_id", agentID,
		"agent_online", c.presence.IsOnline(agentID))

	conv, err := c.backend.Transfer(ctx, conversationID, agentID)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		c.logger.Debug("discarding transfer result after close", "conversation_id", conversationID)
		return nil, ErrClosed
	}
	if err != nil {
		c.logger.Warn("transfer failed", "conversation_id", conversationID, "agent_id", agentID, "error", err)
		return nil, fmt.Errorf("%w: conversation %d to agent %d: %w", ErrTransferFailed, conversationID, agentID, err)
	}

	if conv == nil {
		return nil, nil
	}
	if conv.ID != conversationID {
		c.logger.Warn("transfer response describes another conversation",
			"conversation_id", conversationID,
			"response_id", conv.ID)
		return nil, nil
	}
	c.store.Apply(*conv)
	out := conv.Clone()
	return &out, nil
}

// TransferToTeam transfers a conversation to the first member of a team in
// stored order. A team without members, or whose first member has no agent,
// fails with ErrNoEligibleMember before any transfer request.
func (c *Coordinator) TransferToTeam(ctx context.Context, conversationID, teamID int64) (*model.Conversation, error) {
	team, err := c.Team(ctx, teamID)
	if err != nil {
		return nil, err
	}

	if len(team.Members) == 0 {
		return nil, fmt.Errorf("%w: team %d has no members", ErrNoEligibleMember, teamID)
	}
	first := team.Members[0]
	if first.User == nil {
		return nil, fmt.Errorf("%w: first member %d of team %d has no agent", ErrNoEligibleMember, first.ID, teamID)
	}

	c.logger.Debug("team transfer resolved member",
		"conversation_id", conversationID,
		"team_id", teamID,
		"agent_id", first.User.ID)

	return c.TransferToAgent(ctx, conversationID, first.User.ID)
}

// EndAttendance deletes a conversation on the backend and, once confirmed,
// removes it from the store.
func (c *Coordinator) EndAttendance(ctx context.Context, conversationID int64) error {
	ctx, done, err := c.bind(ctx)
	if err != nil {
		return err
	}
	defer done()

	err = c.backend.DeleteConversation(ctx, conversationID)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		c.logger.Debug("discarding deletion result after close", "conversation_id", conversationID)
		return ErrClosed
	}
	if err != nil {
		c.logger.Warn("end of attendance failed", "conversation_id", conversationID, "error", err)
		return fmt.Errorf("%w: conversation %d: %w", ErrDeletionFailed, conversationID, err)
	}

	c.store.Remove(conversationID)
	c.logger.Info("attendance ended", "conversation_id", conversationID)
	return nil
}

// Candidates returns the agents a conversation can be transferred to, online
// first, then by name. The agent directory is fetched when the tracker has
// not seen any names yet.
func (c *Coordinator) Candidates(ctx context.Context) ([]model.Agent, error) {
	if agents := c.presence.Agents(); len(agents) > 0 {
		return agents, nil
	}

	ctx, done, err := c.bind(ctx)
	if err != nil {
		return nil, err
	}
	defer done()

	agents, err := c.backend.ListAgents(ctx)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	c.presence.Update(agents)
	return c.presence.Agents(), nil
}

// SetTeams seeds the team cache.
func (c *Coordinator) SetTeams(teams []model.Team) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setTeamsLocked(teams)
}

func (c *Coordinator) setTeamsLocked(teams []model.Team) {
	c.teams = make(map[int64]model.Team, len(teams))
	c.teamOrder = c.teamOrder[:0]
	for _, t := range teams {
		if _, dup := c.teams[t.ID]; !dup {
			c.teamOrder = append(c.teamOrder, t.ID)
		}
		c.teams[t.ID] = t
	}
	c.teamsLoaded = true
}

// Teams returns the cached teams in backend order, fetching them on first use.
func (c *Coordinator) Teams(ctx context.Context) ([]model.Team, error) {
	c.mu.Lock()
	loaded := c.teamsLoaded
	c.mu.Unlock()

	if !loaded {
		if err := c.refreshTeams(ctx); err != nil {
			return nil, err
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]model.Team, 0, len(c.teamOrder))
	for _, id := range c.teamOrder {
		out = append(out, c.teams[id])
	}
	return out, nil
}

// Team returns one team. A cache miss refetches the team list once.
func (c *Coordinator) Team(ctx context.Context, teamID int64) (model.Team, error) {
	if t, ok := c.cachedTeam(teamID); ok {
		return t, nil
	}
	if err := c.refreshTeams(ctx); err != nil {
		return model.Team{}, err
	}
	if t, ok := c.cachedTeam(teamID); ok {
		return t, nil
	}
	return model.Team{}, fmt.Errorf("team %d: %w", teamID, backend.ErrNotFound)
}

func (c *Coordinator) cachedTeam(teamID int64) (model.Team, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.teams[teamID]
	return t, ok
}

func (c *Coordinator) refreshTeams(ctx context.Context) error {
	ctx, done, err := c.bind(ctx)
	if err != nil {
		return err
	}
	defer done()

	teams, err := c.backend.ListTeams(ctx)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.setTeamsLocked(teams)
	return nil
}

// Close tears the coordinator down. In-flight requests are cancelled and
// their results discarded; later calls fail with ErrClosed.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.cancel()
}

// bind derives a request context that also ends when the coordinator closes.
func (c *Coordinator) bind(ctx context.Context) (context.Context, func(), error) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return nil, nil, ErrClosed
	}

	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(c.life, cancel)
	return ctx, func() {
		stop()
		cancel()
	}, nil
}

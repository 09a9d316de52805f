package agent

import (
	"fmt"

	"go.uber.org/zap"
)

// Directory is the slice of the record store the router needs.
type Directory interface {
	GetAgents() ([]Agent, error)
	GetAgent(id string) (*Agent, error)
	SetConversationAssignedAgent(chatID, agentID string) error
}

// Selector picks the default agent for a not-yet-assigned conversation.
// The stock policy is "first stored active agent"; deployments wanting
// round-robin or load-based routing swap this in.
type Selector func(agents []Agent) *Agent

// FirstActive returns the first agent that is not paused or errored.
func FirstActive(agents []Agent) *Agent {
	for i := range agents {
		if agents[i].Active() {
			return &agents[i]
		}
	}
	return nil
}

// Router resolves which agent answers a conversation. Assignments are
// sticky: once a conversation is bound to an agent it keeps that
// binding until changed by an external management action.
type Router struct {
	dir    Directory
	pick   Selector
	logger *zap.Logger
}

// NewRouter creates a router using the given selection policy.
// A nil selector defaults to FirstActive.
func NewRouter(dir Directory, pick Selector, logger *zap.Logger) *Router {
	if pick == nil {
		pick = FirstActive
	}
	return &Router{dir: dir, pick: pick, logger: logger}
}

// Resolve returns the agent bound to the conversation, assigning one
// lazily on first contact. assignedID is the conversation's current
// sticky binding ("" when unbound). Returns nil when no agent is
// resolvable.
func (r *Router) Resolve(chatID, assignedID string) (*Agent, error) {
	if assignedID != "" {
		a, err := r.dir.GetAgent(assignedID)
		if err != nil {
			return nil, fmt.Errorf("get assigned agent: %w", err)
		}
		if a != nil {
			return a, nil
		}
		r.logger.Warn("assigned agent no longer exists, reselecting",
			zap.String("chat_id", chatID),
			zap.String("agent_id", assignedID))
	}

	agents, err := r.dir.GetAgents()
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	a := r.pick(agents)
	if a == nil {
		return nil, nil
	}
	if err := r.dir.SetConversationAssignedAgent(chatID, a.ID); err != nil {
		return nil, fmt.Errorf("persist assignment: %w", err)
	}
	r.logger.Info("agent assigned to conversation",
		zap.String("chat_id", chatID),
		zap.String("agent_id", a.ID))
	return a, nil
}

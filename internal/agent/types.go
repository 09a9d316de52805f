package agent

// Mode selects how an agent produces replies.
type Mode string

const (
	ModeRule Mode = "rule"
	ModeAI   Mode = "ai"
)

// Status is an agent's health/availability state.
type Status string

const (
	StatusActive       Status = "active"
	StatusPaused       Status = "paused"
	StatusErrored      Status = "errored"
	StatusDisconnected Status = "disconnected"
)

// Rule is a keyword-triggered canned response. Keywords is a
// comma-separated list; a rule fires when any keyword appears in the
// inbound text (case-insensitive substring match).
type Rule struct {
	ID        string   `json:"id"`
	Keywords  string   `json:"keywords"`
	Responses []string `json:"responses"`
}

// AISettings configures the external AI capability for AI-mode agents.
type AISettings struct {
	Provider     string  `json:"provider"`
	APIKey       string  `json:"apiKey,omitempty"`
	SystemPrompt string  `json:"systemPrompt"`
	MaxLen       int     `json:"maxLen"`
	Temperature  float64 `json:"temperature"`
}

// Agent is a responder: either an ordered keyword rule set or an
// AI-backed generator, plus a fallback text used when nothing matches.
type Agent struct {
	ID               string      `json:"id"`
	Name             string      `json:"name"`
	Description      string      `json:"description"`
	Mode             Mode        `json:"mode"`
	Rules            []Rule      `json:"rules"`
	FallbackResponse string      `json:"fallbackResponse"`
	AISettings       *AISettings `json:"aiSettings,omitempty"`
	Status           Status      `json:"status"`
}

// Active reports whether the agent may be assigned to conversations.
func (a *Agent) Active() bool {
	return a.Status == "" || a.Status == StatusActive
}

package store

// Conversation is one chat thread, keyed by the provider chat ID.
type Conversation struct {
	ID              string
	Name            string
	UnreadCount     int
	LastMessageText string
	LastMessageAt   int64
	Avatar          string
	AssignedAgentID string
}

// Message is a single inbound or outbound message. Immutable once
// persisted.
type Message struct {
	ID         string
	ChatID     string
	FromMe     bool
	Text       string
	SenderName string
	Timestamp  int64
}

// LastMessage is a conversation's newest-message summary.
type LastMessage struct {
	Text      string
	Timestamp int64
}

// ConversationUpdate is a partial update applied to a conversation.
// Nil fields are left untouched. IncrementUnread adds one to the
// unread counter atomically and wins over UnreadCount when both are
// set.
type ConversationUpdate struct {
	Name            *string
	UnreadCount     *int
	IncrementUnread bool
	LastMessage     *LastMessage
	AssignedAgentID *string
}

// LogEntry is one activity feed record.
type LogEntry struct {
	ID        string
	Timestamp int64
	User      string
	Action    string
	Details   string
	Type      string // info, warning, error, success
}

// Stats holds the daemon's lifetime counters.
type Stats struct {
	Sent     int64
	Received int64
	Errors   int64
}

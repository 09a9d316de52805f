package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// GetConversation returns a conversation by chat ID, or nil if unknown.
func (db *DB) GetConversation(chatID string) (*Conversation, error) {
	var c Conversation
	err := db.QueryRow(`
		SELECT id, name, unread_count, last_message_text, last_message_at, avatar, assigned_agent_id
		FROM conversations
		WHERE id = ?`, chatID).
		Scan(&c.ID, &c.Name, &c.UnreadCount, &c.LastMessageText, &c.LastMessageAt, &c.Avatar, &c.AssignedAgentID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ListConversations returns conversations sorted by last message
// timestamp descending.
func (db *DB) ListConversations(limit, offset int) ([]Conversation, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(`
		SELECT id, name, unread_count, last_message_text, last_message_at, avatar, assigned_agent_id
		FROM conversations
		ORDER BY last_message_at DESC
		LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var convos []Conversation
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(&c.ID, &c.Name, &c.UnreadCount, &c.LastMessageText, &c.LastMessageAt, &c.Avatar, &c.AssignedAgentID); err != nil {
			return nil, err
		}
		convos = append(convos, c)
	}
	return convos, rows.Err()
}

// UpdateConversation applies a partial update, creating the conversation
// if it does not exist yet. New conversations get a display name derived
// from the chat ID and a placeholder avatar unless the update supplies
// them.
func (db *DB) UpdateConversation(chatID string, update ConversationUpdate) error {
	now := time.Now().UnixMilli()

	name := deriveName(chatID)
	if update.Name != nil && *update.Name != "" {
		name = *update.Name
	}
	unread := 0
	if update.UnreadCount != nil {
		unread = *update.UnreadCount
	}
	if update.IncrementUnread {
		unread = 1
	}
	var lastText string
	var lastAt int64
	if update.LastMessage != nil {
		lastText = update.LastMessage.Text
		lastAt = update.LastMessage.Timestamp
	}
	assigned := ""
	if update.AssignedAgentID != nil {
		assigned = *update.AssignedAgentID
	}
	avatar := placeholderAvatar(name)

	// Insert-or-update in one statement so concurrent writers cannot
	// lose unread increments.
	set := []string{"updated_at = excluded.updated_at"}
	if update.Name != nil {
		set = append(set, "name = excluded.name")
	}
	if update.IncrementUnread {
		set = append(set, "unread_count = conversations.unread_count + 1")
	} else if update.UnreadCount != nil {
		set = append(set, "unread_count = excluded.unread_count")
	}
	if update.LastMessage != nil {
		set = append(set, "last_message_text = excluded.last_message_text", "last_message_at = excluded.last_message_at")
	}
	if update.AssignedAgentID != nil {
		set = append(set, "assigned_agent_id = excluded.assigned_agent_id")
	}

	query := fmt.Sprintf(`
		INSERT INTO conversations (id, name, unread_count, last_message_text, last_message_at, avatar, assigned_agent_id, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET %s`, strings.Join(set, ", "))

	_, err := db.Exec(query, chatID, name, unread, lastText, lastAt, avatar, assigned, now)
	return err
}

// SetConversationAssignedAgent binds a conversation to a responder.
func (db *DB) SetConversationAssignedAgent(chatID, agentID string) error {
	return db.UpdateConversation(chatID, ConversationUpdate{AssignedAgentID: &agentID})
}

// deriveName returns the local part of a chat JID, e.g.
// "5511999999999@s.whatsapp.net" -> "5511999999999".
func deriveName(chatID string) string {
	if i := strings.IndexByte(chatID, '@'); i > 0 {
		return chatID[:i]
	}
	return chatID
}

func placeholderAvatar(name string) string {
	initial := "?"
	if name != "" {
		initial = strings.ToUpper(name[:1])
	}
	return "https://placehold.co/100x100.png?text=" + initial
}

package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/zapdesk/zapdesk/internal/agent"
)

// GetAgents returns all agents in stored order.
func (db *DB) GetAgents() ([]agent.Agent, error) {
	rows, err := db.Query(`
		SELECT id, name, description, mode, rules, fallback_response, ai_settings, status
		FROM agents
		ORDER BY position, id`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var agents []agent.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		agents = append(agents, *a)
	}
	return agents, rows.Err()
}

// GetAgent returns an agent by ID, or nil if unknown.
func (db *DB) GetAgent(id string) (*agent.Agent, error) {
	row := db.QueryRow(`
		SELECT id, name, description, mode, rules, fallback_response, ai_settings, status
		FROM agents
		WHERE id = ?`, id)
	a, err := scanAgent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

// AddAgent persists a new agent at the end of the stored order.
func (db *DB) AddAgent(a *agent.Agent) error {
	rules, aiSettings, err := marshalAgent(a)
	if err != nil {
		return err
	}
	status := a.Status
	if status == "" {
		status = agent.StatusActive
	}
	_, err = db.Exec(`
		INSERT INTO agents (id, name, description, mode, rules, fallback_response, ai_settings, status, position, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, (SELECT COALESCE(MAX(position), 0) + 1 FROM agents), ?)`,
		a.ID, a.Name, a.Description, string(a.Mode), rules, a.FallbackResponse, aiSettings, string(status), time.Now().UnixMilli())
	return err
}

// UpdateAgent replaces the stored agent with the same ID.
func (db *DB) UpdateAgent(a *agent.Agent) error {
	rules, aiSettings, err := marshalAgent(a)
	if err != nil {
		return err
	}
	_, err = db.Exec(`
		UPDATE agents
		SET name = ?, description = ?, mode = ?, rules = ?, fallback_response = ?, ai_settings = ?, status = ?, updated_at = ?
		WHERE id = ?`,
		a.Name, a.Description, string(a.Mode), rules, a.FallbackResponse, aiSettings, string(a.Status), time.Now().UnixMilli(), a.ID)
	return err
}

// DeleteAgent removes an agent. Conversations keep their (now dangling)
// assignment; the router falls back to default selection for them.
func (db *DB) DeleteAgent(id string) error {
	_, err := db.Exec(`DELETE FROM agents WHERE id = ?`, id)
	return err
}

func marshalAgent(a *agent.Agent) (rules string, aiSettings sql.NullString, err error) {
	rs := a.Rules
	if rs == nil {
		rs = []agent.Rule{}
	}
	data, err := json.Marshal(rs)
	if err != nil {
		return "", sql.NullString{}, fmt.Errorf("marshal rules: %w", err)
	}
	rules = string(data)
	if a.AISettings != nil {
		data, err := json.Marshal(a.AISettings)
		if err != nil {
			return "", sql.NullString{}, fmt.Errorf("marshal ai settings: %w", err)
		}
		aiSettings = sql.NullString{String: string(data), Valid: true}
	}
	return rules, aiSettings, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAgent(row rowScanner) (*agent.Agent, error) {
	var a agent.Agent
	var mode, status, rules string
	var aiSettings sql.NullString
	if err := row.Scan(&a.ID, &a.Name, &a.Description, &mode, &rules, &a.FallbackResponse, &aiSettings, &status); err != nil {
		return nil, err
	}
	a.Mode = agent.Mode(mode)
	a.Status = agent.Status(status)
	if err := json.Unmarshal([]byte(rules), &a.Rules); err != nil {
		return nil, fmt.Errorf("unmarshal rules for agent %s: %w", a.ID, err)
	}
	if aiSettings.Valid && aiSettings.String != "" {
		var s agent.AISettings
		if err := json.Unmarshal([]byte(aiSettings.String), &s); err != nil {
			return nil, fmt.Errorf("unmarshal ai settings for agent %s: %w", a.ID, err)
		}
		a.AISettings = &s
	}
	return &a, nil
}

// Package conversation holds the append-only log of turns for one
// interactive session.
package conversation

import (
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// Role tags who produced a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// ToolCall records one tool invocation made while producing a turn.
type ToolCall struct {
	ID        string                 `json:"id"`
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments,omitempty"`
	Result    string                 `json:"result,omitempty"`
	Failed    bool                   `json:"failed,omitempty"`
}

// Turn is one role-tagged message. Immutable once appended.
type Turn struct {
	ID        string     `json:"id"`
	Role      Role       `json:"role"`
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

// NewTurn builds a turn with a fresh id and timestamp.
func NewTurn(role Role, content string) Turn {
	id, err := gonanoid.New()
	if err != nil {
		// nanoid only fails when the system entropy source does.
		id = time.Now().Format("20060102150405.000000000")
	}
	return Turn{
		ID:        id,
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	}
}

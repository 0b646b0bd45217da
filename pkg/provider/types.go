package provider

import (
	"context"
	"encoding/json"
)

// Spec describes how to launch one tool provider subprocess.
type Spec struct {
	ID      string            `json:"id"`
	Command string            `json:"command"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
}

// Status tracks a connection through its lifecycle.
type Status string

const (
	StatusStarting Status = "starting"
	StatusReady    Status = "ready"
	StatusClosed   Status = "closed"
	StatusFailed   Status = "failed"
)

// ToolDescriptor describes one callable capability exposed by a provider.
// Name is unique within the owning provider; uniqueness across providers
// is the registry's problem.
type ToolDescriptor struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Provider    string          `json:"provider"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

// Conn is the surface the supervisor and registry need from a started
// provider connection.
type Conn interface {
	ID() string
	Tools() []ToolDescriptor
	CallTool(ctx context.Context, name string, args map[string]interface{}) (string, error)
	Ping(ctx context.Context) error
	Close() error
}

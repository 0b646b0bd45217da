// Package registry flattens the capability lists of every started
// provider connection into one addressable tool namespace and dispatches
// calls to the owning provider.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/xeipuuv/gojsonschema"

	"github.com/tgokhale/batak/pkg/provider"
)

// ErrUnknownTool marks a dispatch to a name no provider registered.
var ErrUnknownTool = errors.New("unknown tool")

// ExecutionError reports a failed tool dispatch: an unknown name, invalid
// arguments, or a provider-side failure. It is returned to the caller so
// the reasoning loop can react instead of crashing the session.
type ExecutionError struct {
	Tool string
	Err  error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("tool %s: %v", e.Tool, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// Binding is one invocable capability: descriptor plus invoke closure.
// Callers can hand Bindings straight into a reasoning provider (transparent
// binding) or route through Dispatch (explicit dispatch) without the
// registry changing shape.
type Binding struct {
	Name        string
	Description string
	Schema      json.RawMessage
	Invoke      func(ctx context.Context, args map[string]interface{}) (string, error)
}

type entry struct {
	desc     provider.ToolDescriptor
	original string
	conn     provider.Conn
	schema   *gojsonschema.Schema
}

// Registry is the flat tool namespace. One writer during startup
// registration; read-only afterwards.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	order   []string
	logger  zerolog.Logger
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		entries: make(map[string]*entry),
		logger:  log.With().Str("component", "registry").Logger(),
	}
}

// Register indexes every tool of a started connection. A name already
// claimed by another provider is prefixed with this connection's id;
// the original name is kept for the wire call. Returns the names as
// registered.
func (r *Registry) Register(conn provider.Conn) ([]string, error) {
	if conn == nil {
		return nil, fmt.Errorf("connection is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var registered []string
	for _, desc := range conn.Tools() {
		if desc.Name == "" {
			continue
		}

		name := desc.Name
		if _, taken := r.entries[name]; taken {
			name = conn.ID() + "_" + desc.Name
			r.logger.Warn().
				Str("tool", desc.Name).
				Str("provider", conn.ID()).
				Str("renamed", name).
				Msg("Tool name collision resolved by provider prefix")
		}
		if _, taken := r.entries[name]; taken {
			return registered, fmt.Errorf("tool %s from provider %s already registered", name, conn.ID())
		}

		var schema *gojsonschema.Schema
		if len(desc.InputSchema) > 0 {
			compiled, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(desc.InputSchema))
			if err != nil {
				return registered, fmt.Errorf("compile schema for tool %s: %w", desc.Name, err)
			}
			schema = compiled
		}

		stored := desc
		stored.Name = name
		r.entries[name] = &entry{
			desc:     stored,
			original: desc.Name,
			conn:     conn,
			schema:   schema,
		}
		r.order = append(r.order, name)
		registered = append(registered, name)

		r.logger.Debug().Str("tool", name).Str("provider", conn.ID()).Msg("Tool registered")
	}

	return registered, nil
}

// Dispatch validates args against the tool's schema and forwards the call
// to the owning provider. Failures come back as *ExecutionError.
func (r *Registry) Dispatch(ctx context.Context, name string, args map[string]interface{}) (string, error) {
	r.mu.RLock()
	e := r.entries[name]
	r.mu.RUnlock()

	if e == nil {
		return "", &ExecutionError{Tool: name, Err: ErrUnknownTool}
	}

	if e.schema != nil {
		if err := validateArgs(e.schema, args); err != nil {
			return "", &ExecutionError{Tool: name, Err: err}
		}
	}

	out, err := e.conn.CallTool(ctx, e.original, args)
	if err != nil {
		return "", &ExecutionError{Tool: name, Err: err}
	}
	return out, nil
}

func validateArgs(schema *gojsonschema.Schema, args map[string]interface{}) error {
	if args == nil {
		args = map[string]interface{}{}
	}
	result, err := schema.Validate(gojsonschema.NewGoLoader(args))
	if err != nil {
		return fmt.Errorf("validate arguments: %w", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			msgs = append(msgs, desc.String())
		}
		return fmt.Errorf("invalid arguments: %v", msgs)
	}
	return nil
}

// Descriptors returns every registered tool in registration order.
func (r *Registry) Descriptors() []provider.ToolDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	descs := make([]provider.ToolDescriptor, 0, len(r.order))
	for _, name := range r.order {
		descs = append(descs, r.entries[name].desc)
	}
	return descs
}

// Bindings returns {name, schema, invoke} records for every tool, sorted
// by name.
func (r *Registry) Bindings() []Binding {
	r.mu.RLock()
	defer r.mu.RUnlock()

	bindings := make([]Binding, 0, len(r.entries))
	for name, e := range r.entries {
		e := e
		bindings = append(bindings, Binding{
			Name:        name,
			Description: e.desc.Description,
			Schema:      e.desc.InputSchema,
			Invoke: func(ctx context.Context, args map[string]interface{}) (string, error) {
				return r.Dispatch(ctx, e.desc.Name, args)
			},
		})
	}
	sort.Slice(bindings, func(i, j int) bool { return bindings[i].Name < bindings[j].Name })
	return bindings
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

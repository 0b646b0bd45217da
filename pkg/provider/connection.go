package provider

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	protocolVersion = "2024-11-05"
	requestTimeout  = 30 * time.Second

	// maxResponseSize bounds one response line; PDF extractions routinely
	// exceed bufio's 64KB default.
	maxResponseSize = 16 * 1024 * 1024
)

// newResponseScanner builds the line scanner used on the provider's
// stdout, with the raised token limit.
func newResponseScanner(r io.Reader) *bufio.Scanner {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxResponseSize)
	return scanner
}

// JSON-RPC messages for the provider wire protocol.
type rpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
	ID      interface{} `json:"id,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
	ID      interface{}     `json:"id"`
}

type rpcError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Connection owns one subprocess-backed tool provider: its process handle,
// stdio transport, and the capability list retrieved during the handshake.
// A Connection is created by the Supervisor and never shared outside it;
// callers reach it through the Conn interface.
type Connection struct {
	spec   Spec
	logger zerolog.Logger

	mu      sync.Mutex
	status  Status
	process *exec.Cmd
	stdin   io.WriteCloser
	stdout  *bufio.Scanner
	id      int
	pending map[int]chan *rpcResponse
	tools   []ToolDescriptor
	done    chan struct{}
}

// NewConnection creates an unstarted connection for the given spec.
func NewConnection(spec Spec) *Connection {
	return &Connection{
		spec:    spec,
		logger:  log.With().Str("provider", spec.ID).Logger(),
		status:  StatusStarting,
		pending: make(map[int]chan *rpcResponse),
		done:    make(chan struct{}),
	}
}

// ID returns the provider id from the spec.
func (c *Connection) ID() string {
	return c.spec.ID
}

// Status returns the current lifecycle status.
func (c *Connection) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Tools returns the capability list retrieved during Start.
func (c *Connection) Tools() []ToolDescriptor {
	c.mu.Lock()
	defer c.mu.Unlock()
	tools := make([]ToolDescriptor, len(c.tools))
	copy(tools, c.tools)
	return tools
}

// Start launches the provider subprocess, performs the initialize
// handshake, and fetches the tool list. The process outlives ctx; ctx
// only bounds the handshake itself.
func (c *Connection) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.process != nil {
		c.mu.Unlock()
		return nil
	}

	cmd := exec.Command(c.spec.Command, c.spec.Args...)
	cmd.Env = os.Environ()
	for k, v := range c.spec.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		c.status = StatusFailed
		c.mu.Unlock()
		return fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		c.status = StatusFailed
		c.mu.Unlock()
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		c.status = StatusFailed
		c.mu.Unlock()
		return fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		c.status = StatusFailed
		c.mu.Unlock()
		return fmt.Errorf("launch %s: %w", c.spec.Command, err)
	}

	c.process = cmd
	c.stdin = stdin
	c.stdout = newResponseScanner(stdout)
	c.mu.Unlock()

	go c.listen()
	go c.drainStderr(stderr)

	if err := c.handshake(ctx); err != nil {
		c.fail()
		return err
	}

	tools, err := c.listTools(ctx)
	if err != nil {
		c.fail()
		return fmt.Errorf("list tools: %w", err)
	}

	c.mu.Lock()
	c.tools = tools
	c.status = StatusReady
	c.mu.Unlock()

	c.logger.Info().Int("tools", len(tools)).Msg("Provider connected")
	return nil
}

// handshake performs initialize followed by the initialized notification.
func (c *Connection) handshake(ctx context.Context) error {
	params := map[string]interface{}{
		"protocolVersion": protocolVersion,
		"capabilities":    map[string]interface{}{},
		"clientInfo": map[string]interface{}{
			"name":    "batak",
			"version": "0.1.0",
		},
	}
	if _, err := c.call(ctx, "initialize", params); err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	return c.notify("notifications/initialized", nil)
}

func (c *Connection) listTools(ctx context.Context) ([]ToolDescriptor, error) {
	resp, err := c.call(ctx, "tools/list", nil)
	if err != nil {
		return nil, err
	}

	var listResult struct {
		Tools []struct {
			Name        string          `json:"name"`
			Description string          `json:"description"`
			InputSchema json.RawMessage `json:"inputSchema"`
		} `json:"tools"`
	}
	if err := json.Unmarshal(resp.Result, &listResult); err != nil {
		return nil, err
	}

	descs := make([]ToolDescriptor, 0, len(listResult.Tools))
	for _, t := range listResult.Tools {
		descs = append(descs, ToolDescriptor{
			Name:        t.Name,
			Description: t.Description,
			Provider:    c.spec.ID,
			InputSchema: t.InputSchema,
		})
	}
	return descs, nil
}

// CallTool invokes one tool on the provider and returns the textual
// result. A provider-reported tool failure comes back as an error.
func (c *Connection) CallTool(ctx context.Context, name string, args map[string]interface{}) (string, error) {
	if args == nil {
		args = map[string]interface{}{}
	}
	resp, err := c.call(ctx, "tools/call", map[string]interface{}{
		"name":      name,
		"arguments": args,
	})
	if err != nil {
		return "", err
	}

	var result struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
		IsError bool `json:"isError"`
	}
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return "", fmt.Errorf("decode tool result: %w", err)
	}

	parts := make([]string, 0, len(result.Content))
	for _, block := range result.Content {
		if block.Type == "text" {
			parts = append(parts, block.Text)
		}
	}
	text := strings.Join(parts, "\n")

	if result.IsError {
		return "", fmt.Errorf("tool %s reported failure: %s", name, text)
	}
	return text, nil
}

// Ping checks that the provider still answers on the transport.
func (c *Connection) Ping(ctx context.Context) error {
	_, err := c.call(ctx, "ping", nil)
	return err
}

func (c *Connection) call(ctx context.Context, method string, params interface{}) (*rpcResponse, error) {
	c.mu.Lock()
	if c.status == StatusClosed || c.status == StatusFailed {
		c.mu.Unlock()
		return nil, fmt.Errorf("provider %s is %s", c.spec.ID, c.status)
	}
	c.id++
	id := c.id
	ch := make(chan *rpcResponse, 1)
	c.pending[id] = ch
	stdin := c.stdin
	c.mu.Unlock()

	req := rpcRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      id,
	}

	data, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	if _, err := stdin.Write(append(data, '\n')); err != nil {
		return nil, fmt.Errorf("write request: %w", err)
	}

	select {
	case resp := <-ch:
		if resp.Error != nil {
			return nil, fmt.Errorf("provider error (%d): %s", resp.Error.Code, resp.Error.Message)
		}
		return resp, nil
	case <-c.done:
		return nil, fmt.Errorf("provider %s transport closed", c.spec.ID)
	case <-ctx.Done():
		c.forget(id)
		return nil, ctx.Err()
	case <-time.After(requestTimeout):
		c.forget(id)
		return nil, fmt.Errorf("provider %s: %s timed out", c.spec.ID, method)
	}
}

// forget drops the pending entry of an abandoned request so a response
// that never comes cannot pin the channel forever.
func (c *Connection) forget(id int) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// notify sends a request without an id; no response is expected.
func (c *Connection) notify(method string, params interface{}) error {
	c.mu.Lock()
	stdin := c.stdin
	c.mu.Unlock()

	data, err := json.Marshal(rpcRequest{JSONRPC: "2.0", Method: method, Params: params})
	if err != nil {
		return err
	}
	_, err = stdin.Write(append(data, '\n'))
	return err
}

// listen demultiplexes responses from stdout into the pending map.
func (c *Connection) listen() {
	for c.stdout.Scan() {
		line := c.stdout.Bytes()
		if len(line) == 0 {
			continue
		}

		var resp rpcResponse
		if err := json.Unmarshal(line, &resp); err != nil {
			c.logger.Error().Err(err).Msg("Failed to decode provider response")
			continue
		}

		id, ok := resp.ID.(float64)
		if !ok {
			// Server-initiated notification; nothing routes to it.
			continue
		}

		c.mu.Lock()
		ch, exists := c.pending[int(id)]
		if exists {
			delete(c.pending, int(id))
		}
		c.mu.Unlock()
		if exists {
			ch <- &resp
		}
	}

	// Transport gone: unblock every in-flight call.
	c.mu.Lock()
	if c.status != StatusClosed {
		c.status = StatusFailed
	}
	c.mu.Unlock()
	close(c.done)
}

func (c *Connection) drainStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		c.logger.Debug().Str("stream", "stderr").Msg(scanner.Text())
	}
}

func (c *Connection) fail() {
	c.mu.Lock()
	c.status = StatusFailed
	process := c.process
	c.mu.Unlock()
	if process != nil && process.Process != nil {
		_ = process.Process.Kill()
		_ = process.Wait()
	}
}

// Close terminates the provider subprocess. Safe to call more than once.
func (c *Connection) Close() error {
	c.mu.Lock()
	if c.status == StatusClosed {
		c.mu.Unlock()
		return nil
	}
	c.status = StatusClosed
	process := c.process
	stdin := c.stdin
	c.mu.Unlock()

	if stdin != nil {
		_ = stdin.Close()
	}
	if process != nil && process.Process != nil {
		if err := process.Process.Kill(); err != nil {
			return err
		}
		_ = process.Wait()
	}

	c.logger.Info().Msg("Provider connection closed")
	return nil
}

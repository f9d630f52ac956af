package tools

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"sync"
	"time"

	"coagent/internal/config"
)

// MCPRequest is the mcp_call request shape: {server, tool, args}.
type MCPRequest struct {
	Server string
	Tool   string
	Args   map[string]interface{}
}

type jsonrpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      int         `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

type jsonrpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int             `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// MCPClients holds one spawned child process + stdio transport per
// configured server name, reused across calls within the process lifetime.
type MCPClients struct {
	mu      sync.Mutex
	clients map[string]*mcpClient
	servers map[string]config.MCPServerConfig
}

type mcpClient struct {
	cmd     *exec.Cmd
	stdin   *bufio.Writer
	scanner *bufio.Scanner
	nextID  int
	mu      sync.Mutex
}

// NewMCPClients returns an MCPClients registry for the configured servers.
func NewMCPClients(servers map[string]config.MCPServerConfig) *MCPClients {
	return &MCPClients{clients: map[string]*mcpClient{}, servers: servers}
}

func (m *MCPClients) get(server string) (*mcpClient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if c, ok := m.clients[server]; ok {
		return c, nil
	}

	cfg, ok := m.servers[server]
	if !ok {
		return nil, fmt.Errorf("mcp_call: unknown server %q", server)
	}

	cmd := exec.Command(cfg.Command, cfg.Args...)
	cmd.Env = envSlice(cfg.Env)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}

	client := &mcpClient{
		cmd:     cmd,
		stdin:   bufio.NewWriter(stdin),
		scanner: bufio.NewScanner(stdout),
	}
	client.scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	if err := client.initialize(); err != nil {
		return nil, fmt.Errorf("mcp_call: initialize %q: %w", server, err)
	}

	m.clients[server] = client
	return client, nil
}

func envSlice(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}

// initialize performs the MCP initialization handshake before any tool call.
func (c *mcpClient) initialize() error {
	_, err := c.call("initialize", map[string]interface{}{
		"protocolVersion": "2024-11-05",
		"clientInfo":      map[string]string{"name": "coagent", "version": "0.1.0"},
		"capabilities":    map[string]interface{}{},
	})
	return err
}

func (c *mcpClient) call(method string, params interface{}) (json.RawMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	req := jsonrpcRequest{JSONRPC: "2.0", ID: c.nextID, Method: method, Params: params}
	data, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	if _, err := c.stdin.Write(append(data, '\n')); err != nil {
		return nil, err
	}
	if err := c.stdin.Flush(); err != nil {
		return nil, err
	}

	if !c.scanner.Scan() {
		if err := c.scanner.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("mcp server closed stdout")
	}

	var resp jsonrpcResponse
	if err := json.Unmarshal(c.scanner.Bytes(), &resp); err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("mcp error %d: %s", resp.Error.Code, resp.Error.Message)
	}
	return resp.Result, nil
}

// Call performs one mcp_call: tools/call against the named server, bounded
// by a 20-30s per-request timeout.
func (m *MCPClients) Call(ctx context.Context, req MCPRequest) (json.RawMessage, error) {
	client, err := m.get(req.Server)
	if err != nil {
		return nil, err
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, 25*time.Second)
	defer cancel()

	type out struct {
		result json.RawMessage
		err    error
	}
	done := make(chan out, 1)
	go func() {
		result, err := client.call("tools/call", map[string]interface{}{
			"name":      req.Tool,
			"arguments": req.Args,
		})
		done <- out{result, err}
	}()

	select {
	case o := <-done:
		return o.result, o.err
	case <-timeoutCtx.Done():
		return nil, timeoutCtx.Err()
	}
}

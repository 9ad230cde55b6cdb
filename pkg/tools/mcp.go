package tools

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/strandlabs/strand/pkg/config"
	"github.com/strandlabs/strand/pkg/httpclient"
	"github.com/strandlabs/strand/pkg/llms"
)

const (
	mcpProtocolVersion = "2024-11-05"
	mcpClientName      = "strand"
	mcpClientVersion   = "0.1.0"

	// sseResponseTimeout bounds reading one SSE-framed JSON-RPC response.
	// Generous because tool calls can legitimately run for minutes.
	sseResponseTimeout = 5 * time.Minute
)

// MCPSource connects one MCP server and exposes its tools. Stdio servers
// run as a subprocess through mcp-go; HTTP servers speak JSON-RPC through
// the retrying httpclient, with SSE-framed responses supported.
type MCPSource struct {
	name string
	cfg  *config.MCPServerConfig

	mu        sync.Mutex
	stdio     *client.Client
	http      *httpclient.Client
	tools     []Tool
	connected bool
	filter    map[string]bool
	logger    *slog.Logger

	sessionMu sync.RWMutex
	sessionID string
}

// NewMCPSource builds a source for one configured server.
func NewMCPSource(name string, cfg *config.MCPServerConfig) *MCPSource {
	var filter map[string]bool
	if len(cfg.Filter) > 0 {
		filter = make(map[string]bool, len(cfg.Filter))
		for _, toolName := range cfg.Filter {
			filter[toolName] = true
		}
	}
	return &MCPSource{
		name:   name,
		cfg:    cfg,
		filter: filter,
		logger: slog.Default(),
	}
}

func (s *MCPSource) Name() string { return s.name }

// Tools returns the discovered tools. Empty until Connect succeeds.
func (s *MCPSource) Tools() []Tool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tools
}

// Connect establishes the transport and discovers the server's tools.
func (s *MCPSource) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connected {
		return nil
	}
	if s.cfg.Transport == config.MCPTransportStdio {
		return s.connectStdio(ctx)
	}
	return s.connectHTTP(ctx)
}

func (s *MCPSource) connectStdio(ctx context.Context) error {
	mcpClient, err := client.NewStdioMCPClient(s.cfg.Command, convertEnv(s.cfg.Env), s.cfg.Args...)
	if err != nil {
		return fmt.Errorf("tools: create MCP client: %w", err)
	}

	if err := mcpClient.Start(ctx); err != nil {
		return fmt.Errorf("tools: start MCP client: %w", err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ClientInfo = mcp.Implementation{
		Name:    mcpClientName,
		Version: mcpClientVersion,
	}
	initReq.Params.ProtocolVersion = mcpProtocolVersion

	if _, err := mcpClient.Initialize(ctx, initReq); err != nil {
		mcpClient.Close()
		return fmt.Errorf("tools: initialize MCP: %w", err)
	}

	listResp, err := mcpClient.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		mcpClient.Close()
		return fmt.Errorf("tools: list tools: %w", err)
	}

	var discovered []Tool
	for _, mcpTool := range listResp.Tools {
		if s.filter != nil && !s.filter[mcpTool.Name] {
			continue
		}
		discovered = append(discovered, &mcpBoundTool{
			source: s,
			def: llms.ToolDefinition{
				Name:        mcpTool.Name,
				Description: mcpTool.Description,
				Parameters:  convertSchema(mcpTool.InputSchema),
			},
			stdio: true,
		})
	}

	s.stdio = mcpClient
	s.tools = discovered
	s.connected = true

	s.logger.Info("Connected to MCP server (stdio)",
		"server", s.name, "command", s.cfg.Command, "tools", len(discovered))
	return nil
}

func (s *MCPSource) connectHTTP(ctx context.Context) error {
	s.http = httpclient.New(
		httpclient.WithHTTPClient(&http.Client{Timeout: s.cfg.Timeout.Duration()}),
		httpclient.WithMaxRetries(3),
	)

	initResp, err := s.rpc(ctx, "initialize", map[string]any{
		"protocolVersion": mcpProtocolVersion,
		"clientInfo": map[string]any{
			"name":    mcpClientName,
			"version": mcpClientVersion,
		},
		"capabilities": map[string]any{},
	})
	if err != nil {
		return fmt.Errorf("tools: initialize MCP: %w", err)
	}
	if initResp.Error != nil {
		return fmt.Errorf("tools: MCP init error: %s", initResp.Error.Message)
	}

	listResp, err := s.rpc(ctx, "tools/list", nil)
	if err != nil {
		return fmt.Errorf("tools: list tools: %w", err)
	}
	if listResp.Error != nil {
		return fmt.Errorf("tools: MCP list error: %s", listResp.Error.Message)
	}

	resultMap, ok := listResp.Result.(map[string]any)
	if !ok {
		return fmt.Errorf("tools: unexpected result type from tools/list")
	}
	toolsList, ok := resultMap["tools"].([]any)
	if !ok {
		return fmt.Errorf("tools: missing tools in tools/list response")
	}

	var discovered []Tool
	for _, raw := range toolsList {
		toolMap, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		name, _ := toolMap["name"].(string)
		if s.filter != nil && !s.filter[name] {
			continue
		}
		desc, _ := toolMap["description"].(string)
		schema, _ := toolMap["inputSchema"].(map[string]any)

		discovered = append(discovered, &mcpBoundTool{
			source: s,
			def: llms.ToolDefinition{
				Name:        name,
				Description: desc,
				Parameters:  schema,
			},
		})
	}

	s.tools = discovered
	s.connected = true

	s.logger.Info("Connected to MCP server (HTTP)",
		"server", s.name, "url", s.cfg.URL, "tools", len(discovered))
	return nil
}

// Close releases the connection.
func (s *MCPSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.connected = false
	s.tools = nil
	if s.stdio != nil {
		err := s.stdio.Close()
		s.stdio = nil
		return err
	}
	s.http = nil
	return nil
}

// JSON-RPC wire types for the HTTP transport.
type jsonRPCRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type jsonRPCResponse struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int           `json:"id"`
	Result  any           `json:"result,omitempty"`
	Error   *jsonRPCError `json:"error,omitempty"`
}

type jsonRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// rpc sends one JSON-RPC request over HTTP and decodes the response,
// following the server between plain JSON and SSE framing.
func (s *MCPSource) rpc(ctx context.Context, method string, params any) (*jsonRPCResponse, error) {
	body, err := json.Marshal(jsonRPCRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")

	s.sessionMu.RLock()
	sessionID := s.sessionID
	s.sessionMu.RUnlock()
	if sessionID != "" {
		req.Header.Set("mcp-session-id", sessionID)
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if newSessionID := resp.Header.Get("mcp-session-id"); newSessionID != "" {
		s.sessionMu.Lock()
		s.sessionID = newSessionID
		s.sessionMu.Unlock()
	}

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("HTTP error %d: %s", resp.StatusCode, string(raw))
	}

	if strings.Contains(resp.Header.Get("Content-Type"), "text/event-stream") {
		return s.readSSEResponse(resp)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	var rpcResp jsonRPCResponse
	if err := json.Unmarshal(raw, &rpcResp); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	return &rpcResp, nil
}

// readSSEResponse reads the first complete JSON-RPC message from an SSE
// stream. Servers using streamable HTTP frame tool results this way.
func (s *MCPSource) readSSEResponse(resp *http.Response) (*jsonRPCResponse, error) {
	type result struct {
		response *jsonRPCResponse
		err      error
	}
	resultChan := make(chan result, 1)

	go func() {
		reader := bufio.NewReader(resp.Body)
		var data strings.Builder

		flush := func() *jsonRPCResponse {
			if data.Len() == 0 {
				return nil
			}
			var rpcResp jsonRPCResponse
			if err := json.Unmarshal([]byte(data.String()), &rpcResp); err == nil {
				return &rpcResp
			}
			data.Reset()
			return nil
		}

		for {
			line, err := reader.ReadBytes('\n')
			if err != nil {
				break
			}
			text := strings.TrimSpace(string(line))
			if text == "" {
				if rpcResp := flush(); rpcResp != nil {
					resultChan <- result{response: rpcResp}
					return
				}
				continue
			}
			if strings.HasPrefix(text, "data:") {
				data.WriteString(strings.TrimSpace(strings.TrimPrefix(text, "data:")))
			}
		}
		if rpcResp := flush(); rpcResp != nil {
			resultChan <- result{response: rpcResp}
			return
		}
		resultChan <- result{err: fmt.Errorf("SSE stream ended without a complete message")}
	}()

	select {
	case res := <-resultChan:
		return res.response, res.err
	case <-time.After(sseResponseTimeout):
		return nil, fmt.Errorf("timeout reading SSE response after %v", sseResponseTimeout)
	}
}

// mcpBoundTool is one discovered tool bound to its source.
type mcpBoundTool struct {
	source *MCPSource
	def    llms.ToolDefinition
	stdio  bool
}

func (t *mcpBoundTool) Definition() llms.ToolDefinition { return t.def }

// Call executes the tool. The server's per-call timeout applies.
func (t *mcpBoundTool) Call(ctx context.Context, args map[string]any) (string, error) {
	if timeout := t.source.cfg.Timeout.Duration(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if t.stdio {
		return t.callStdio(ctx, args)
	}
	return t.callHTTP(ctx, args)
}

func (t *mcpBoundTool) callStdio(ctx context.Context, args map[string]any) (string, error) {
	t.source.mu.Lock()
	mcpClient := t.source.stdio
	t.source.mu.Unlock()
	if mcpClient == nil {
		return "", fmt.Errorf("tools: MCP client not connected")
	}

	req := mcp.CallToolRequest{}
	req.Params.Name = t.def.Name
	req.Params.Arguments = args

	resp, err := mcpClient.CallTool(ctx, req)
	if err != nil {
		return "", fmt.Errorf("tools: MCP call failed: %w", err)
	}

	var texts []string
	for _, content := range resp.Content {
		if textContent, ok := content.(mcp.TextContent); ok {
			texts = append(texts, textContent.Text)
		}
	}
	text := strings.Join(texts, "\n")
	if resp.IsError {
		if text == "" {
			text = "unknown error"
		}
		return "", fmt.Errorf("tools: %s", text)
	}
	return text, nil
}

func (t *mcpBoundTool) callHTTP(ctx context.Context, args map[string]any) (string, error) {
	resp, err := t.source.rpc(ctx, "tools/call", map[string]any{
		"name":      t.def.Name,
		"arguments": args,
	})
	if err != nil {
		return "", fmt.Errorf("tools: MCP call failed: %w", err)
	}
	if resp.Error != nil {
		return "", fmt.Errorf("tools: %s", resp.Error.Message)
	}

	resultMap, ok := resp.Result.(map[string]any)
	if !ok {
		return fmt.Sprintf("%v", resp.Result), nil
	}

	var texts []string
	if content, ok := resultMap["content"].([]any); ok {
		for _, c := range content {
			cm, ok := c.(map[string]any)
			if !ok {
				continue
			}
			if cm["type"] == "text" {
				if text, ok := cm["text"].(string); ok {
					texts = append(texts, text)
				}
			}
		}
	}
	text := strings.Join(texts, "\n")

	if isError, _ := resultMap["isError"].(bool); isError {
		if text == "" {
			text = "unknown error"
		}
		return "", fmt.Errorf("tools: %s", text)
	}
	return text, nil
}

// convertEnv renders an env map as "KEY=VALUE" pairs for the subprocess.
func convertEnv(env map[string]string) []string {
	if env == nil {
		return nil
	}
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, fmt.Sprintf("%s=%s", k, v))
	}
	return out
}

// convertSchema renders an MCP input schema as a plain map.
func convertSchema(schema mcp.ToolInputSchema) map[string]any {
	data, err := json.Marshal(schema)
	if err != nil {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	return out
}

var (
	_ Source = (*MCPSource)(nil)
	_ Tool   = (*mcpBoundTool)(nil)
)

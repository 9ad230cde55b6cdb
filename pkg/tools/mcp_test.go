package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strandlabs/strand/pkg/config"
)

type recordedRPC struct {
	Method  string
	Params  map[string]any
	Session string
}

type rpcServer struct {
	mu         sync.Mutex
	calls      []recordedRPC
	tools      []map[string]any
	callResult any
	callError  *jsonRPCError
	sse        bool
	srv        *httptest.Server
}

func newRPCServer(t *testing.T, tools []map[string]any) *rpcServer {
	t.Helper()
	s := &rpcServer{tools: tools}
	s.srv = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.srv.Close)
	return s
}

func (s *rpcServer) handle(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	var req struct {
		Method string         `json:"method"`
		Params map[string]any `json:"params"`
	}
	_ = json.Unmarshal(body, &req)

	s.mu.Lock()
	s.calls = append(s.calls, recordedRPC{
		Method:  req.Method,
		Params:  req.Params,
		Session: r.Header.Get("mcp-session-id"),
	})
	s.mu.Unlock()

	w.Header().Set("mcp-session-id", "sess-42")

	resp := map[string]any{"jsonrpc": "2.0", "id": 1}
	switch req.Method {
	case "initialize":
		resp["result"] = map[string]any{"protocolVersion": mcpProtocolVersion}
	case "tools/list":
		resp["result"] = map[string]any{"tools": s.tools}
	case "tools/call":
		if s.callError != nil {
			resp["error"] = s.callError
		} else {
			resp["result"] = s.callResult
		}
	default:
		resp["error"] = &jsonRPCError{Code: -32601, Message: "method not found"}
	}

	payload, _ := json.Marshal(resp)
	if s.sse {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprintf(w, "event: message\ndata: %s\n\n", payload)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(payload)
}

func (s *rpcServer) recorded() []recordedRPC {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]recordedRPC, len(s.calls))
	copy(out, s.calls)
	return out
}

func gmailToolList() []map[string]any {
	return []map[string]any{
		{
			"name":        "gmail_send_email",
			"description": "Send an email",
			"inputSchema": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"to": map[string]any{"type": "string"},
				},
			},
		},
		{
			"name":        "gmail_search_emails",
			"description": "Search the mailbox",
			"inputSchema": map[string]any{"type": "object"},
		},
	}
}

func httpServerConfig(url string) *config.MCPServerConfig {
	cfg := &config.MCPServerConfig{URL: url}
	cfg.SetDefaults()
	return cfg
}

func TestMCPSource_ConnectHTTP_DiscoversTools(t *testing.T) {
	srv := newRPCServer(t, gmailToolList())

	source := NewMCPSource("gmail", httpServerConfig(srv.srv.URL))
	require.NoError(t, source.Connect(context.Background()))

	tools := source.Tools()
	require.Len(t, tools, 2)
	assert.Equal(t, "gmail_send_email", tools[0].Definition().Name)
	assert.Equal(t, "Send an email", tools[0].Definition().Description)
	assert.Equal(t, "object", tools[0].Definition().Parameters["type"])
	assert.Equal(t, "gmail_search_emails", tools[1].Definition().Name)

	calls := srv.recorded()
	require.Len(t, calls, 2)
	assert.Equal(t, "initialize", calls[0].Method)
	assert.Empty(t, calls[0].Session)
	assert.Equal(t, "tools/list", calls[1].Method)
	assert.Equal(t, "sess-42", calls[1].Session, "session id from the first response is echoed")
}

func TestMCPSource_ConnectHTTP_AppliesFilter(t *testing.T) {
	srv := newRPCServer(t, gmailToolList())

	cfg := httpServerConfig(srv.srv.URL)
	cfg.Filter = []string{"gmail_search_emails"}

	source := NewMCPSource("gmail", cfg)
	require.NoError(t, source.Connect(context.Background()))

	tools := source.Tools()
	require.Len(t, tools, 1)
	assert.Equal(t, "gmail_search_emails", tools[0].Definition().Name)
}

func TestMCPSource_ConnectHTTP_SSEFraming(t *testing.T) {
	srv := newRPCServer(t, gmailToolList())
	srv.sse = true

	source := NewMCPSource("gmail", httpServerConfig(srv.srv.URL))
	require.NoError(t, source.Connect(context.Background()))
	assert.Len(t, source.Tools(), 2)
}

func TestMCPSource_CallHTTP_FlattensTextContent(t *testing.T) {
	srv := newRPCServer(t, gmailToolList())
	srv.callResult = map[string]any{
		"content": []any{
			map[string]any{"type": "text", "text": "Found 2 emails."},
			map[string]any{"type": "image", "data": "ignored"},
			map[string]any{"type": "text", "text": "Most recent is from Bob."},
		},
	}

	source := NewMCPSource("gmail", httpServerConfig(srv.srv.URL))
	require.NoError(t, source.Connect(context.Background()))

	tools := source.Tools()
	out, err := tools[1].Call(context.Background(), map[string]any{"query": "from:bob"})
	require.NoError(t, err)
	assert.Equal(t, "Found 2 emails.\nMost recent is from Bob.", out)

	calls := srv.recorded()
	last := calls[len(calls)-1]
	assert.Equal(t, "tools/call", last.Method)
	assert.Equal(t, "gmail_search_emails", last.Params["name"])
	args, ok := last.Params["arguments"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "from:bob", args["query"])
	assert.Equal(t, "sess-42", last.Session)
}

func TestMCPSource_CallHTTP_IsErrorBecomesError(t *testing.T) {
	srv := newRPCServer(t, gmailToolList())
	srv.callResult = map[string]any{
		"isError": true,
		"content": []any{
			map[string]any{"type": "text", "text": "rate limited"},
		},
	}

	source := NewMCPSource("gmail", httpServerConfig(srv.srv.URL))
	require.NoError(t, source.Connect(context.Background()))

	_, err := source.Tools()[0].Call(context.Background(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limited")
}

func TestMCPSource_CallHTTP_RPCError(t *testing.T) {
	srv := newRPCServer(t, gmailToolList())
	srv.callError = &jsonRPCError{Code: -32000, Message: "backend exploded"}

	source := NewMCPSource("gmail", httpServerConfig(srv.srv.URL))
	require.NoError(t, source.Connect(context.Background()))

	_, err := source.Tools()[0].Call(context.Background(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backend exploded")
}

func TestMCPSource_Close(t *testing.T) {
	srv := newRPCServer(t, gmailToolList())

	source := NewMCPSource("gmail", httpServerConfig(srv.srv.URL))
	require.NoError(t, source.Connect(context.Background()))
	require.Len(t, source.Tools(), 2)

	require.NoError(t, source.Close())
	assert.Empty(t, source.Tools())
}

func TestConvertEnv(t *testing.T) {
	assert.Nil(t, convertEnv(nil))

	out := convertEnv(map[string]string{"API_KEY": "secret"})
	assert.Equal(t, []string{"API_KEY=secret"}, out)
}

func TestConvertSchema(t *testing.T) {
	schema := mcp.ToolInputSchema{
		Type: "object",
		Properties: map[string]any{
			"query": map[string]any{"type": "string"},
		},
	}

	out := convertSchema(schema)
	require.NotNil(t, out)
	assert.Equal(t, "object", out["type"])
	props, ok := out["properties"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, props, "query")
}

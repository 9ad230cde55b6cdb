package tools

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strandlabs/strand/pkg/config"
	"github.com/strandlabs/strand/pkg/llms"
)

type staticTool struct {
	def     llms.ToolDefinition
	result  string
	err     error
	gotArgs map[string]any
}

func (t *staticTool) Definition() llms.ToolDefinition { return t.def }

func (t *staticTool) Call(_ context.Context, args map[string]any) (string, error) {
	t.gotArgs = args
	return t.result, t.err
}

type fakeSource struct {
	name       string
	tools      []Tool
	connectErr error
	closed     bool
}

func (s *fakeSource) Name() string { return s.name }

func (s *fakeSource) Connect(context.Context) error { return s.connectErr }

func (s *fakeSource) Tools() []Tool { return s.tools }

func (s *fakeSource) Close() error {
	s.closed = true
	return nil
}

func namedTool(name, result string) *staticTool {
	return &staticTool{
		def:    llms.ToolDefinition{Name: name, Description: name + " tool"},
		result: result,
	}
}

func TestRegistry_Connect_AggregatesToolsAcrossSources(t *testing.T) {
	send := namedTool("gmail_send_email", "sent")
	search := namedTool("gmail_search_emails", "found")
	create := namedTool("github_create_issue", "created")

	r := NewRegistry(nil)
	r.AddSource(&fakeSource{name: "gmail", tools: []Tool{send, search}})
	r.AddSource(&fakeSource{name: "github", tools: []Tool{create}})

	r.Connect(context.Background())
	assert.True(t, r.Connected())

	defs := r.Definitions()
	require.Len(t, defs, 3)
	assert.Equal(t, "gmail_send_email", defs[0].Name)
	assert.Equal(t, "gmail_search_emails", defs[1].Name)
	assert.Equal(t, "github_create_issue", defs[2].Name)
}

func TestRegistry_Connect_SkipsFailedSource(t *testing.T) {
	working := namedTool("gmail_send_email", "sent")

	r := NewRegistry(nil)
	r.AddSource(&fakeSource{name: "broken", connectErr: errors.New("connection refused")})
	r.AddSource(&fakeSource{name: "gmail", tools: []Tool{working}})

	r.Connect(context.Background())
	assert.True(t, r.Connected())
	assert.Len(t, r.Definitions(), 1)
}

func TestRegistry_Connect_AllSourcesFail(t *testing.T) {
	r := NewRegistry(nil)
	r.AddSource(&fakeSource{name: "broken", connectErr: errors.New("connection refused")})

	r.Connect(context.Background())
	assert.False(t, r.Connected())
	assert.Empty(t, r.Definitions())
}

func TestRegistry_Connect_DuplicateToolNamesKeepFirst(t *testing.T) {
	first := namedTool("search", "from gmail")
	second := namedTool("search", "from github")

	r := NewRegistry(nil)
	r.AddSource(&fakeSource{name: "gmail", tools: []Tool{first}})
	r.AddSource(&fakeSource{name: "github", tools: []Tool{second}})

	r.Connect(context.Background())
	require.Len(t, r.Definitions(), 1)

	out, err := r.Execute(context.Background(), llms.ToolCall{Name: "search"})
	require.NoError(t, err)
	assert.Equal(t, "from gmail", out)
}

func TestRegistry_Execute_RoutesArguments(t *testing.T) {
	send := namedTool("gmail_send_email", "Email sent.")

	r := NewRegistry(nil)
	r.AddSource(&fakeSource{name: "gmail", tools: []Tool{send}})
	r.Connect(context.Background())

	out, err := r.Execute(context.Background(), llms.ToolCall{
		Name:      "gmail_send_email",
		Arguments: map[string]any{"to": "bob@example.com", "subject": "report"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Email sent.", out)
	assert.Equal(t, "bob@example.com", send.gotArgs["to"])
}

func TestRegistry_Execute_UnknownTool(t *testing.T) {
	r := NewRegistry(nil)
	r.AddSource(&fakeSource{name: "gmail", tools: []Tool{namedTool("gmail_send_email", "sent")}})
	r.Connect(context.Background())

	_, err := r.Execute(context.Background(), llms.ToolCall{Name: "slack_post"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "slack_post")
}

func TestRegistry_Connected_FalseBeforeConnect(t *testing.T) {
	r := NewRegistry(nil)
	r.AddSource(&fakeSource{name: "gmail", tools: []Tool{namedTool("x", "y")}})
	assert.False(t, r.Connected())
}

func TestRegistry_Close_ResetsState(t *testing.T) {
	src := &fakeSource{name: "gmail", tools: []Tool{namedTool("gmail_send_email", "sent")}}

	r := NewRegistry(nil)
	r.AddSource(src)
	r.Connect(context.Background())
	require.True(t, r.Connected())

	require.NoError(t, r.Close())
	assert.True(t, src.closed)
	assert.False(t, r.Connected())
	assert.Empty(t, r.Definitions())
}

func TestNewRegistry_BuildsEnabledServersInNameOrder(t *testing.T) {
	cfg := &config.ToolsConfig{
		Servers: map[string]*config.MCPServerConfig{
			"zeta":     {URL: "http://localhost:9001/mcp"},
			"alpha":    {URL: "http://localhost:9002/mcp"},
			"disabled": {URL: "http://localhost:9003/mcp", Enabled: config.BoolPtr(false)},
		},
	}
	cfg.SetDefaults()

	r := NewRegistry(cfg)
	require.Len(t, r.sources, 2)
	assert.Equal(t, "alpha", r.sources[0].Name())
	assert.Equal(t, "zeta", r.sources[1].Name())
}

func TestNewRegistry_NilConfig(t *testing.T) {
	r := NewRegistry(nil)
	assert.False(t, r.Connected())
	assert.Empty(t, r.Definitions())
	r.Connect(context.Background())
	assert.False(t, r.Connected())
}

package config

import "fmt"

// MCPTransport identifies the MCP server transport.
type MCPTransport string

const (
	// MCPTransportStdio launches the server as a subprocess.
	MCPTransportStdio MCPTransport = "stdio"

	// MCPTransportHTTP talks JSON-RPC over streamable HTTP.
	MCPTransportHTTP MCPTransport = "http"
)

// ToolsConfig configures external tool integrations.
type ToolsConfig struct {
	// Servers maps a server name to its MCP connection settings.
	Servers map[string]*MCPServerConfig `yaml:"servers,omitempty" json:"servers,omitempty" jsonschema:"title=Servers,description=Named MCP servers"`
}

// MCPServerConfig configures one MCP server connection.
type MCPServerConfig struct {
	// Enabled controls whether the server is connected.
	Enabled *bool `yaml:"enabled,omitempty" json:"enabled,omitempty" jsonschema:"title=Enabled,description=Whether the server is connected,default=true"`

	// Transport (stdio, http). Auto-detected from URL/Command when empty.
	Transport MCPTransport `yaml:"transport,omitempty" json:"transport,omitempty" jsonschema:"title=Transport,description=MCP transport type,enum=stdio,enum=http"`

	// URL of the server for HTTP transport.
	URL string `yaml:"url,omitempty" json:"url,omitempty" jsonschema:"title=URL,description=MCP server URL (http transport)"`

	// Command launches the server for stdio transport.
	Command string `yaml:"command,omitempty" json:"command,omitempty" jsonschema:"title=Command,description=Command to execute MCP server (stdio transport)"`

	// Args for the stdio command.
	Args []string `yaml:"args,omitempty" json:"args,omitempty" jsonschema:"title=Args,description=Arguments for stdio transport"`

	// Env for the stdio command. Supports ${VAR} expansion.
	Env map[string]string `yaml:"env,omitempty" json:"env,omitempty" jsonschema:"title=Environment Variables,description=Environment for stdio transport"`

	// Filter limits which tools are exposed from this server.
	Filter []string `yaml:"filter,omitempty" json:"filter,omitempty" jsonschema:"title=Filter,description=Limit which tools are exposed"`

	// Timeout bounds a single tool call.
	Timeout Duration `yaml:"timeout,omitempty" json:"timeout,omitempty" jsonschema:"title=Timeout,description=Per-call timeout,default=30s"`
}

// SetDefaults applies default values.
func (c *ToolsConfig) SetDefaults() {
	for _, server := range c.Servers {
		if server != nil {
			server.SetDefaults()
		}
	}
}

// Validate checks every configured server.
func (c *ToolsConfig) Validate() error {
	for name, server := range c.Servers {
		if server == nil {
			continue
		}
		if err := server.Validate(); err != nil {
			return fmt.Errorf("server %q: %w", name, err)
		}
	}
	return nil
}

// SetDefaults applies default values.
func (c *MCPServerConfig) SetDefaults() {
	if c.Enabled == nil {
		c.Enabled = BoolPtr(true)
	}
	if c.Transport == "" {
		if c.URL != "" {
			c.Transport = MCPTransportHTTP
		} else if c.Command != "" {
			c.Transport = MCPTransportStdio
		}
	}
	if c.Timeout == 0 {
		c.Timeout = Seconds(30)
	}
}

// Validate checks the server configuration.
func (c *MCPServerConfig) Validate() error {
	if !BoolValue(c.Enabled, true) {
		return nil
	}

	switch c.Transport {
	case MCPTransportStdio:
		if c.Command == "" {
			return fmt.Errorf("command is required for stdio transport")
		}
	case MCPTransportHTTP:
		if c.URL == "" {
			return fmt.Errorf("url is required for http transport")
		}
	default:
		return fmt.Errorf("transport must be stdio or http (set url or command)")
	}

	return nil
}

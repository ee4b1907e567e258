package types

// Config represents the Lim-Code server configuration.
type Config struct {
	// Schema reference (for editor support)
	Schema string `json:"$schema,omitempty" yaml:"$schema,omitempty"`

	// Model selection, "provider/model" (e.g. "anthropic/claude-sonnet-4-20250514")
	Model string `json:"model,omitempty" yaml:"model,omitempty"`

	// Log level (DEBUG|INFO|WARN|ERROR)
	LogLevel string `json:"logLevel,omitempty" yaml:"logLevel,omitempty"`

	// Provider configs keyed by provider id
	Provider map[string]ProviderConfig `json:"provider,omitempty" yaml:"provider,omitempty"`

	// MCP server configs keyed by server name
	MCP map[string]MCPServerConfig `json:"mcp,omitempty" yaml:"mcp,omitempty"`

	// Image-processing engine configs keyed by engine name
	Engine map[string]EngineConfig `json:"engine,omitempty" yaml:"engine,omitempty"`

	// Global tools enable/disable
	Tools map[string]bool `json:"tools,omitempty" yaml:"tools,omitempty"`

	// Server settings
	Server *ServerConfig `json:"server,omitempty" yaml:"server,omitempty"`
}

// ProviderConfig holds configuration for a specific provider.
type ProviderConfig struct {
	APIKey    string `json:"apiKey,omitempty" yaml:"apiKey,omitempty"`
	BaseURL   string `json:"baseURL,omitempty" yaml:"baseURL,omitempty"`
	Model     string `json:"model,omitempty" yaml:"model,omitempty"`
	MaxTokens int    `json:"maxTokens,omitempty" yaml:"maxTokens,omitempty"`
	Disable   bool   `json:"disable,omitempty" yaml:"disable,omitempty"`
}

// MCPServerConfig holds configuration for one MCP server.
type MCPServerConfig struct {
	Enabled     bool              `json:"enabled" yaml:"enabled"`
	Type        string            `json:"type,omitempty" yaml:"type,omitempty"` // "stdio" | "sse"
	URL         string            `json:"url,omitempty" yaml:"url,omitempty"`
	Headers     map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	Command     []string          `json:"command,omitempty" yaml:"command,omitempty"`
	Environment map[string]string `json:"environment,omitempty" yaml:"environment,omitempty"`
	Timeout     int               `json:"timeout,omitempty" yaml:"timeout,omitempty"` // milliseconds
}

// EngineConfig holds configuration for an image-processing engine.
type EngineConfig struct {
	Type        string `json:"type" yaml:"type"` // "local" | "remote"
	Endpoint    string `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	APIKey      string `json:"apiKey,omitempty" yaml:"apiKey,omitempty"`
	ModelPath   string `json:"modelPath,omitempty" yaml:"modelPath,omitempty"`
	Concurrency int    `json:"concurrency,omitempty" yaml:"concurrency,omitempty"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port     int    `json:"port,omitempty" yaml:"port,omitempty"`
	Hostname string `json:"hostname,omitempty" yaml:"hostname,omitempty"`
}

// Model describes a model offered by a provider.
type Model struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	ProviderID      string `json:"providerID"`
	ContextWindow   int    `json:"contextWindow,omitempty"`
	MaxOutputTokens int    `json:"maxOutputTokens,omitempty"`
	SupportsTools   bool   `json:"supportsTools"`
}

package types

// Config represents the yabot daemon configuration.
type Config struct {
	// Schema reference (for editor support)
	Schema string `json:"$schema,omitempty"`

	// Protocol server binding
	Server ServerConfig `json:"server"`

	// Model selection: "provider/model" or a bare model id
	Model  string   `json:"model,omitempty"`
	Models []string `json:"models,omitempty"`

	// Provider credentials keyed by provider id (openai, anthropic, ark)
	Provider map[string]ProviderConfig `json:"provider,omitempty"`

	// Sender identities permitted to issue commands; empty means unrestricted
	AllowedUsers []string `json:"allowed_users,omitempty"`

	Agent     AgentConfig  `json:"agent"`
	Retry     RetryConfig  `json:"retry"`
	Tools     ToolsConfig  `json:"tools"`
	Approvals GrantSet     `json:"approvals"`
	Skills    SkillsConfig `json:"skills"`
	Log       LogConfig    `json:"log"`

	// TracePath overrides the trace file location
	TracePath string `json:"trace_path,omitempty"`

	// StateDir holds conversation snapshots
	StateDir string `json:"state_dir,omitempty"`
}

// ServerConfig configures the client protocol server.
type ServerConfig struct {
	Host        string   `json:"host,omitempty"`
	Port        int      `json:"port,omitempty"`
	CORSOrigins []string `json:"cors_origins,omitempty"`
}

// ProviderConfig holds configuration for a specific model provider.
type ProviderConfig struct {
	APIKey    string `json:"api_key,omitempty"`
	BaseURL   string `json:"base_url,omitempty"`
	Model     string `json:"model,omitempty"`
	MaxTokens int    `json:"max_tokens,omitempty"`
	Disable   bool   `json:"disable,omitempty"`
}

// AgentConfig tunes the agent loop.
type AgentConfig struct {
	MaxSteps     int    `json:"max_steps,omitempty"`
	MaxTurns     int    `json:"max_turns,omitempty"`
	SystemPrompt string `json:"system_prompt,omitempty"`
	WorkDir      string `json:"work_dir,omitempty"`
}

// RetryConfig bounds automatic retries of unavailable model backends.
// MaxRetries of zero disables retries.
type RetryConfig struct {
	MaxRetries      *int `json:"max_retries,omitempty"`
	InitialInterval int  `json:"initial_interval_ms,omitempty"`
	MaxInterval     int  `json:"max_interval_ms,omitempty"`
	Timeout         int  `json:"timeout_ms,omitempty"`
}

// ToolsConfig configures built-in tools.
type ToolsConfig struct {
	ShellTimeout   int               `json:"shell_timeout_ms,omitempty"`
	MaxOutput      int               `json:"max_output,omitempty"`
	Sensitivity    map[string]string `json:"sensitivity,omitempty"`
	ShellDeny      []string          `json:"shell_deny,omitempty"`
	Disabled       []string          `json:"disabled,omitempty"`
	FetchTimeoutMS int               `json:"fetch_timeout_ms,omitempty"`
}

// SkillsConfig lists skill directories.
type SkillsConfig struct {
	Dirs  []string `json:"dirs,omitempty"`
	Watch *bool    `json:"watch,omitempty"`
}

// LogConfig configures daemon logging.
type LogConfig struct {
	Level  string `json:"level,omitempty"`
	Pretty bool   `json:"pretty,omitempty"`
	File   string `json:"file,omitempty"`
}

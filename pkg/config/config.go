package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Tool fallback policies applied when the selected model cannot call tools.
const (
	FallbackDegrade = "degrade" // answer directly without offering tools
	FallbackError   = "error"   // fail the run immediately
)

// Config defines the global application configuration structure.
// This structure maps directly to the config.json file and holds
// business-level settings like the LLM provider groups and the persona.
type Config struct {
	// LLM holds the provider group list in raw JSON. Each group is decoded
	// by the matching llm.ProviderFactory.
	LLM jsoniter.RawMessage `json:"llm"`
	// SystemPrompt is the persona/instruction text rendered at the top of
	// the system message of every agent run.
	SystemPrompt string `json:"system_prompt"`
	// DefaultModel is used when a chat request does not name a model.
	DefaultModel string `json:"default_model"`
	// Server configures the HTTP surface.
	Server ServerConfig `json:"server"`
}

// ServerConfig holds the listen address and the CORS allow list.
type ServerConfig struct {
	Addr           string   `json:"addr"`
	AllowedOrigins []string `json:"allowed_origins"`
}

// DefaultConfig returns the configuration used when config.json is absent.
// The LLM list stays empty; main fills in a single local Ollama group.
func DefaultConfig() *Config {
	return &Config{
		DefaultModel: "qwen3:8b",
		Server: ServerConfig{
			Addr:           "127.0.0.1:8000",
			AllowedOrigins: []string{"http://localhost:5173"},
		},
	}
}

// Validate ensures the configuration structure is usable.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.DefaultModel) == "" {
		return fmt.Errorf("'default_model' must not be empty")
	}
	if c.Server.Addr == "" {
		return fmt.Errorf("'server.addr' must not be empty")
	}
	return nil
}

// SystemConfig defines engine-level technical parameters.
// These settings are stored in system.json and control the limits,
// timeouts and policies of the agent engine. The file is watched and
// reloaded at runtime; a reload only affects runs started afterwards.
type SystemConfig struct {
	// MaxIterations caps the number of model calls per agent run.
	MaxIterations int `json:"max_iterations"`
	// ModelTimeoutMs is the hard cutoff (in milliseconds) for a single
	// model call inside a run.
	ModelTimeoutMs int `json:"model_timeout_ms"`
	// ToolTimeoutMs is the hard cutoff (in milliseconds) for a single tool
	// invocation.
	ToolTimeoutMs int `json:"tool_timeout_ms"`
	// PassthroughTimeoutMs bounds a plain (non-agentic) chat request.
	PassthroughTimeoutMs int `json:"passthrough_timeout_ms"`
	// MaxToolResultChars truncates tool output in tool_result events.
	MaxToolResultChars int `json:"max_tool_result_chars"`
	// ToolFallback is either "degrade" or "error".
	ToolFallback string `json:"tool_fallback"`
	// ParallelTools executes all tool calls of one model response
	// concurrently. Results are still emitted in request order.
	ParallelTools bool `json:"parallel_tools"`
	// EnableTools globally toggles agent mode. If false every run answers
	// directly.
	EnableTools bool `json:"enable_tools"`
	// DisabledTools removes built-in tools from the registry at startup.
	DisabledTools []string `json:"disabled_tools"`
	// OllamaDefaultURL is the endpoint used by Ollama groups that do not
	// set their own base_url.
	OllamaDefaultURL string `json:"ollama_default_url"`
	// DebugChunks saves every raw model response to the debug/ folder.
	DebugChunks bool `json:"debug_chunks"`
	// CLIMonitor echoes every agent event to the terminal.
	CLIMonitor bool `json:"cli_monitor"`
	// LogLevel sets the minimum severity for log output.
	// Accepted values: "debug", "info", "warn", "error". Default: "info".
	LogLevel string `json:"log_level"`
}

// DefaultSystemConfig returns a SystemConfig pointer initialized with hardcoded
// safe default values. This is used as a fallback when the system.json file
// is missing or corrupt, ensuring the engine can always start.
func DefaultSystemConfig() *SystemConfig {
	return &SystemConfig{
		MaxIterations:        10,
		ModelTimeoutMs:       120000,
		ToolTimeoutMs:        10000,
		PassthroughTimeoutMs: 300000,
		MaxToolResultChars:   500,
		ToolFallback:         FallbackDegrade,
		EnableTools:          true,
		OllamaDefaultURL:     "http://localhost:11434",
		LogLevel:             "info",
	}
}

// Normalize replaces out-of-range values with defaults.
func (s *SystemConfig) Normalize() {
	def := DefaultSystemConfig()
	if s.MaxIterations <= 0 {
		s.MaxIterations = def.MaxIterations
	}
	if s.ModelTimeoutMs <= 0 {
		s.ModelTimeoutMs = def.ModelTimeoutMs
	}
	if s.ToolTimeoutMs <= 0 {
		s.ToolTimeoutMs = def.ToolTimeoutMs
	}
	if s.PassthroughTimeoutMs <= 0 {
		s.PassthroughTimeoutMs = def.PassthroughTimeoutMs
	}
	if s.MaxToolResultChars <= 0 {
		s.MaxToolResultChars = def.MaxToolResultChars
	}
	switch s.ToolFallback {
	case FallbackDegrade, FallbackError:
	default:
		s.ToolFallback = def.ToolFallback
	}
	if s.OllamaDefaultURL == "" {
		s.OllamaDefaultURL = def.OllamaDefaultURL
	}
}

// Load reads config.json and system.json from the given paths.
// A missing config.json yields DefaultConfig; a malformed one is an error.
// system.json never fails the load (see LoadSystemConfig).
// Environment overrides are applied last.
func Load(appPath, systemPath string) (*Config, *SystemConfig, error) {
	cfg := DefaultConfig()

	appFile, err := os.ReadFile(appPath)
	switch {
	case err == nil:
		if err := json.Unmarshal(appFile, cfg); err != nil {
			return nil, nil, fmt.Errorf("failed to parse config file %s: %w", appPath, err)
		}
	case os.IsNotExist(err):
		// defaults
	default:
		return nil, nil, fmt.Errorf("failed to read config file %s: %w", appPath, err)
	}

	sysCfg := LoadSystemConfig(systemPath)

	ApplyEnv(cfg, sysCfg, os.Getenv)

	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	return cfg, sysCfg, nil
}

// LoadSystemConfig attempts to load system settings, returns defaults if it fails
func LoadSystemConfig(path string) *SystemConfig {
	cfg := DefaultSystemConfig()

	file, err := os.ReadFile(path)
	if err != nil {
		return cfg // File not found, use defaults
	}

	if err := json.Unmarshal(file, cfg); err != nil {
		return DefaultSystemConfig() // Parse failed, use defaults
	}

	cfg.Normalize()
	return cfg
}

// ApplyEnv overrides file settings with the environment variables the
// original deployment used. getenv is injected for tests.
func ApplyEnv(cfg *Config, sys *SystemConfig, getenv func(string) string) {
	if v := getenv("DEFAULT_MODEL"); v != "" {
		cfg.DefaultModel = v
	}
	if host := getenv("OLLAMA_HOST"); host != "" {
		if !strings.Contains(host, "://") {
			host = "http://" + host
		}
		host = strings.TrimRight(host, "/")
		hostPart := host[strings.Index(host, "://")+3:]
		if strings.Contains(hostPart, ":") {
			sys.OllamaDefaultURL = host
		} else {
			port := getenv("OLLAMA_PORT")
			if port == "" {
				port = "11434"
			}
			sys.OllamaDefaultURL = host + ":" + port
		}
	} else if port := getenv("OLLAMA_PORT"); port != "" {
		sys.OllamaDefaultURL = "http://localhost:" + port
	}
	if v := getenv("ENABLE_AGENT_MODE"); v != "" {
		v = strings.ToLower(v)
		sys.EnableTools = v == "true" || v == "1"
	}
	if v := getenv("MAX_ITERATIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			sys.MaxIterations = n
		}
	}
	if v := getenv("LOG_LEVEL"); v != "" {
		sys.LogLevel = v
	}
}

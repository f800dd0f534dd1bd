package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
)

// Config holds engine configuration.
type Config struct {
	// ChunkCharLimit is the maximum character count for a single host
	// submission. Payloads longer than this are split into chunks.
	ChunkCharLimit int `json:"chunk_char_limit"`

	// ChunkResponseTimeoutSecs bounds how long the engine waits for the host
	// to finish responding to one chunk before aborting the session.
	ChunkResponseTimeoutSecs int `json:"chunk_response_timeout_secs,omitempty"`

	// ExecutionTimeoutSecs is the engine-imposed deadline on one bridge tool
	// call, independent of any timeout inside the bridge itself.
	ExecutionTimeoutSecs int `json:"execution_timeout_secs,omitempty"`

	// DedupWindowSecs is the width of the execution-window bucket used when
	// deriving dedup identities for observed tool calls.
	DedupWindowSecs int `json:"dedup_window_secs,omitempty"`

	// AutoApproveServers lists bridge servers whose tools all execute without
	// user approval.
	AutoApproveServers []string `json:"auto_approve_servers,omitempty"`

	// AutoApproveTools lists individual tools ("server/tool") that execute
	// without user approval even when their server is not auto-approved.
	AutoApproveTools []string `json:"auto_approve_tools,omitempty"`

	// DisabledServers lists bridge servers whose tool calls are ignored
	// entirely: markers targeting them are left untouched on the page.
	DisabledServers []string `json:"disabled_servers,omitempty"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		ChunkCharLimit:           39500,
		ChunkResponseTimeoutSecs: 120,
		ExecutionTimeoutSecs:     30,
		DedupWindowSecs:          10,
	}
}

// Load loads configuration from baseDir/config.json.
// Returns default config if the file doesn't exist.
// The baseDir parameter allows tests to use t.TempDir() instead of ~/.webmcp.
func Load(baseDir string) (*Config, error) {
	cfg, err := loadFileRaw(filepath.Join(baseDir, "config.json"))
	if err != nil {
		return nil, err
	}
	return Merge(DefaultConfig(), cfg), nil
}

// loadFileRaw loads configuration from a specific file path.
// Returns zero-valued config if the file doesn't exist (not defaults).
func loadFileRaw(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, err
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Merge combines base and overlay configs.
// Overlay values take precedence for scalars; arrays are merged and deduplicated.
func Merge(base, overlay *Config) *Config {
	result := &Config{}

	result.ChunkCharLimit = overlay.ChunkCharLimit
	if result.ChunkCharLimit == 0 {
		result.ChunkCharLimit = base.ChunkCharLimit
	}

	result.ChunkResponseTimeoutSecs = overlay.ChunkResponseTimeoutSecs
	if result.ChunkResponseTimeoutSecs == 0 {
		result.ChunkResponseTimeoutSecs = base.ChunkResponseTimeoutSecs
	}

	result.ExecutionTimeoutSecs = overlay.ExecutionTimeoutSecs
	if result.ExecutionTimeoutSecs == 0 {
		result.ExecutionTimeoutSecs = base.ExecutionTimeoutSecs
	}

	result.DedupWindowSecs = overlay.DedupWindowSecs
	if result.DedupWindowSecs == 0 {
		result.DedupWindowSecs = base.DedupWindowSecs
	}

	result.AutoApproveServers = mergeStringSlice(base.AutoApproveServers, overlay.AutoApproveServers)
	result.AutoApproveTools = mergeStringSlice(base.AutoApproveTools, overlay.AutoApproveTools)
	result.DisabledServers = mergeStringSlice(base.DisabledServers, overlay.DisabledServers)

	return result
}

// ServerAutoApproved reports whether every tool on the given server is
// approved without asking the user.
func (c *Config) ServerAutoApproved(server string) bool {
	return containsFold(c.AutoApproveServers, server)
}

// ToolAutoApproved reports whether the individual tool is approved without
// asking the user. The server-wide flag is checked first.
func (c *Config) ToolAutoApproved(server, tool string) bool {
	if c.ServerAutoApproved(server) {
		return true
	}
	return containsFold(c.AutoApproveTools, server+"/"+tool)
}

// ServerDisabled reports whether tool calls targeting the server are ignored.
func (c *Config) ServerDisabled(server string) bool {
	return containsFold(c.DisabledServers, server)
}

func containsFold(list []string, s string) bool {
	for _, item := range list {
		if strings.EqualFold(strings.TrimSpace(item), s) {
			return true
		}
	}
	return false
}

// mergeStringSlice combines two slices, trims whitespace, and removes duplicates.
func mergeStringSlice(a, b []string) []string {
	seen := make(map[string]bool)
	result := make([]string, 0, len(a)+len(b))

	for _, s := range a {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}
	for _, s := range b {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}

	if len(result) == 0 {
		return nil
	}
	return result
}

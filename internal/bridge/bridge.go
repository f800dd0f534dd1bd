// Package bridge connects the engine to the external tool-execution bridge:
// named MCP servers that actually run tools and return results.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ToolDescriptor describes one tool offered by a bridge server, used at
// prompt-construction time.
type ToolDescriptor struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

// Bridge is the collaborator contract the engine executes tools through. The
// engine imposes its own timeout on Execute, independent of any timeout
// inside the bridge.
type Bridge interface {
	// Execute runs the named tool on the named server and returns its text
	// output. A non-nil error covers both transport failures and
	// tool-reported failures.
	Execute(ctx context.Context, server, tool string, params map[string]any) (string, error)

	// ListTools returns the tool descriptors offered by a server.
	ListTools(ctx context.Context, server string) ([]ToolDescriptor, error)
}

// ServerCommand describes how to launch one stdio MCP server.
type ServerCommand struct {
	Command string   `json:"command"`
	Args    []string `json:"args,omitempty"`
	Env     []string `json:"env,omitempty"`
}

// LoadServers reads the bridge server registry from baseDir/servers.json,
// a map of server id to launch command. A missing file yields an empty
// registry, not an error.
func LoadServers(baseDir string) (map[string]ServerCommand, error) {
	data, err := os.ReadFile(filepath.Join(baseDir, "servers.json"))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[string]ServerCommand{}, nil
		}
		return nil, err
	}

	servers := map[string]ServerCommand{}
	if err := json.Unmarshal(data, &servers); err != nil {
		return nil, fmt.Errorf("parse servers.json: %w", err)
	}
	return servers, nil
}

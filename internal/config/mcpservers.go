package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// mcpServersFileName is an optional YAML sidecar describing MCP servers,
// merged over the mcp_servers section of agent.config.json so hand-edited
// server definitions survive config rewrites.
const mcpServersFileName = "mcp_servers.yaml"

// loadMCPServersFile reads mcp_servers.yaml from dir, if present, and merges
// its entries into cfg.MCPServers (file entries win).
func loadMCPServersFile(dir string, cfg *ConfigShape) error {
	data, err := os.ReadFile(filepath.Join(dir, mcpServersFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read %s: %w", mcpServersFileName, err)
	}

	var servers map[string]MCPServerConfig
	if err := yaml.Unmarshal(data, &servers); err != nil {
		return fmt.Errorf("parse %s: %w", mcpServersFileName, err)
	}

	if cfg.MCPServers == nil {
		cfg.MCPServers = map[string]MCPServerConfig{}
	}
	for name, sc := range servers {
		cfg.MCPServers[name] = sc
	}
	return nil
}

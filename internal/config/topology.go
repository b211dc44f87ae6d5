package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultTopologyFile is read when tool_servers.config_file is empty and the file exists
const DefaultTopologyFile = "browser_mcp.json"

// Tool-server transports
const (
	TransportStdio          = "stdio"
	TransportSSE            = "sse"
	TransportStreamableHTTP = "streamable-http"
)

// ToolServerConfig describes one MCP tool server. Immutable once resolved.
type ToolServerConfig struct {
	Name      string            `json:"-" yaml:"-"`
	Transport string            `json:"type,omitempty" yaml:"type,omitempty"`
	Command   string            `json:"command,omitempty" yaml:"command,omitempty"`
	Args      []string          `json:"args,omitempty" yaml:"args,omitempty"`
	Env       map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
	URL       string            `json:"url,omitempty" yaml:"url,omitempty"`
	Headers   map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	Timeout   Duration          `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	Disabled  bool              `json:"disabled,omitempty" yaml:"disabled,omitempty"`
}

// TopologyFile is the mcpServers document shared with other MCP clients
type TopologyFile struct {
	MCPServers map[string]ToolServerConfig `json:"mcpServers" yaml:"mcpServers"`
}

// Duration accepts "30s" style strings or integer seconds
type Duration time.Duration

// UnmarshalJSON implements json.Unmarshaler
func (d *Duration) UnmarshalJSON(data []byte) error {
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	return d.set(raw)
}

// UnmarshalYAML implements yaml.Unmarshaler
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw interface{}
	if err := node.Decode(&raw); err != nil {
		return err
	}
	return d.set(raw)
}

func (d *Duration) set(raw interface{}) error {
	switch v := raw.(type) {
	case nil:
		*d = 0
	case float64:
		*d = Duration(time.Duration(v * float64(time.Second)))
	case int:
		*d = Duration(time.Duration(v) * time.Second)
	case string:
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", v, err)
		}
		*d = Duration(parsed)
	default:
		return fmt.Errorf("invalid duration %v", raw)
	}
	return nil
}

// preset is a built-in tool server whose credentials come from the environment
type preset struct {
	description string
	server      ToolServerConfig
}

var presets = map[string]preset{
	"notion": {
		description: "Notion pages and databases (NOTION_API_KEY)",
		server: ToolServerConfig{
			Command: "npx",
			Args:    []string{"-y", "@notionhq/notion-mcp-server"},
			Env: map[string]string{
				"OPENAPI_MCP_HEADERS": `{"Authorization": "Bearer ${NOTION_API_KEY}", "Notion-Version": "2022-06-28"}`,
			},
		},
	},
	"github": {
		description: "GitHub repositories, issues and pull requests (GITHUB_PERSONAL_ACCESS_TOKEN)",
		server: ToolServerConfig{
			Command: "npx",
			Args:    []string{"-y", "@modelcontextprotocol/server-github"},
			Env: map[string]string{
				"GITHUB_PERSONAL_ACCESS_TOKEN": "${GITHUB_PERSONAL_ACCESS_TOKEN}",
			},
		},
	},
	"slack": {
		description: "Slack channels and messages (SLACK_BOT_TOKEN, SLACK_TEAM_ID)",
		server: ToolServerConfig{
			Command: "npx",
			Args:    []string{"-y", "@modelcontextprotocol/server-slack"},
			Env: map[string]string{
				"SLACK_BOT_TOKEN": "${SLACK_BOT_TOKEN}",
				"SLACK_TEAM_ID":   "${SLACK_TEAM_ID}",
			},
		},
	},
}

// PresetNames lists the built-in tool servers
func PresetNames() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// PresetDescription returns the human description of a preset
func PresetDescription(name string) string {
	return presets[name].description
}

// LoadTopologyFile parses an mcpServers document. The format follows the extension:
// .yaml/.yml are YAML, anything else is JSON.
func LoadTopologyFile(path string) (*TopologyFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read tool-server config %s: %w", path, err)
	}

	var topo TopologyFile
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &topo)
	default:
		err = json.Unmarshal(data, &topo)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse tool-server config %s: %w", path, err)
	}
	return &topo, nil
}

// ResolveToolServers builds the tool-server topology from the config file and presets,
// expanding ${VAR} references. The result is sorted by name.
func ResolveToolServers(cfg *Config, lookup LookupFunc) ([]ToolServerConfig, error) {
	if lookup == nil {
		lookup = os.LookupEnv
	}

	raw := map[string]ToolServerConfig{}

	path := cfg.ToolServers.ConfigFile
	explicit := path != ""
	if !explicit {
		path = DefaultTopologyFile
	}
	if _, err := os.Stat(path); err == nil {
		topo, err := LoadTopologyFile(path)
		if err != nil {
			return nil, err
		}
		for name, server := range topo.MCPServers {
			raw[name] = server
		}
	} else if explicit || !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("tool-server config %s: %w", path, err)
	}

	for _, name := range cfg.ToolServers.Presets {
		p, ok := presets[name]
		if !ok {
			return nil, fmt.Errorf("unknown tool-server preset %q", name)
		}
		if _, dup := raw[name]; dup {
			return nil, fmt.Errorf("tool server %q is defined both in %s and as a preset", name, path)
		}
		raw[name] = p.server
	}

	names := make([]string, 0, len(raw))
	for name := range raw {
		names = append(names, name)
	}
	sort.Strings(names)

	servers := make([]ToolServerConfig, 0, len(raw))
	for _, name := range names {
		server := raw[name]
		if server.Disabled {
			continue
		}
		server.Name = name
		resolved, err := resolveServer(server, lookup)
		if err != nil {
			return nil, fmt.Errorf("tool server %q: %w", name, err)
		}
		servers = append(servers, resolved)
	}

	return servers, nil
}

// resolveServer expands secrets and fills in the transport
func resolveServer(server ToolServerConfig, lookup LookupFunc) (ToolServerConfig, error) {
	missing := map[string]bool{}
	expand := func(s string) string {
		out, err := expandEnvVars(s, lookup)
		var missingErr *MissingEnvError
		if errors.As(err, &missingErr) {
			for _, name := range missingErr.Vars {
				missing[name] = true
			}
		}
		return out
	}

	out := server
	out.Command = expand(server.Command)
	out.URL = expand(server.URL)
	out.Args = make([]string, len(server.Args))
	for i, arg := range server.Args {
		out.Args[i] = expand(arg)
	}
	out.Env = expandMap(server.Env, expand)
	out.Headers = expandMap(server.Headers, expand)
	if len(missing) > 0 {
		vars := make([]string, 0, len(missing))
		for name := range missing {
			vars = append(vars, name)
		}
		sort.Strings(vars)
		return ToolServerConfig{}, &MissingEnvError{Vars: vars}
	}

	if out.Transport == "" {
		if out.Command != "" {
			out.Transport = TransportStdio
		} else {
			out.Transport = TransportStreamableHTTP
		}
	}
	if out.Transport == "http" {
		out.Transport = TransportStreamableHTTP
	}

	switch out.Transport {
	case TransportStdio:
		if out.Command == "" {
			return ToolServerConfig{}, fmt.Errorf("command is required for stdio transport")
		}
	case TransportSSE, TransportStreamableHTTP:
		if out.URL == "" {
			return ToolServerConfig{}, fmt.Errorf("url is required for %s transport", out.Transport)
		}
	default:
		return ToolServerConfig{}, fmt.Errorf("unsupported transport %q (must be: stdio, sse, streamable-http)", out.Transport)
	}

	return out, nil
}

func expandMap(in map[string]string, expand func(string) string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = expand(v)
	}
	return out
}

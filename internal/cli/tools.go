package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/harun/mcpagent/internal/config"
	"github.com/harun/mcpagent/pkg/toolserver"
)

var (
	toolsJSON    bool
	toolsTimeout time.Duration
)

// toolRegistryOptions lets tests swap the MCP dialer
var toolRegistryOptions []toolserver.Option

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List the tools exposed by the configured MCP servers",
	Long: `Connect to every configured tool server, list its tools, and disconnect.
Useful to check credentials and the mcpServers file before starting the relay.`,
	RunE: runTools,
}

func init() {
	toolsCmd.Flags().BoolVar(&toolsJSON, "json", false, "print tools as JSON")
	toolsCmd.Flags().DurationVar(&toolsTimeout, "timeout", time.Minute, "connect timeout")
	rootCmd.AddCommand(toolsCmd)
}

func runTools(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()

	servers, err := config.ResolveToolServers(cfg, nil)
	if err != nil {
		return fmt.Errorf("failed to resolve tool servers: %w", err)
	}
	if len(servers) == 0 {
		printNoServers(out)
		return nil
	}

	opts := append([]toolserver.Option{toolserver.WithLogger(zerolog.Nop())}, toolRegistryOptions...)
	registry := toolserver.NewRegistry(servers, opts...)
	defer registry.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), toolsTimeout)
	defer cancel()

	if err := registry.Connect(ctx); err != nil {
		return err
	}
	tools, err := registry.Tools(ctx)
	if err != nil {
		return err
	}
	sort.Slice(tools, func(i, j int) bool {
		if tools[i].Server != tools[j].Server {
			return tools[i].Server < tools[j].Server
		}
		return tools[i].Name < tools[j].Name
	})

	if toolsJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(tools)
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SERVER\tTOOL\tDESCRIPTION")
	for _, t := range tools {
		fmt.Fprintf(w, "%s\t%s\t%s\n", t.Server, t.Name, firstLine(t.Description))
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(out, "\n%d tools from %d servers\n", len(tools), len(servers))
	return nil
}

func printNoServers(out io.Writer) {
	fmt.Fprintln(out, "No tool servers configured.")
	fmt.Fprintf(out, "Add an mcpServers file (%s) or enable presets:\n", config.DefaultTopologyFile)
	for _, name := range config.PresetNames() {
		fmt.Fprintf(out, "  %-8s %s\n", name, config.PresetDescription(name))
	}
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(s), "\n")
	return line
}

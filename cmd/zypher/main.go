// Command zypher runs a Zypher agent process: the Session Facade, the MCP
// Server Manager, and the websocket control plane, driven from a YAML
// configuration file (§4.9).
//
// # Basic Usage
//
// Start the server:
//
//	zypher serve --config zypher.yaml
//
// Inspect and manage checkpoints:
//
//	zypher checkpoint list --config zypher.yaml
//	zypher checkpoint apply <id> --config zypher.yaml
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})))

	root := buildRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "zypher",
		Short:   "Zypher agent orchestrator",
		Version: fmt.Sprintf("%s (%s)", version, commit),
	}
	cmd.AddCommand(buildServeCmd(), buildCheckpointCmd())
	return cmd
}

func defaultConfigPath() string {
	if path := os.Getenv("ZYPHER_CONFIG"); path != "" {
		return path
	}
	return "zypher.yaml"
}

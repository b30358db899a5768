// ABOUTME: Interactive init command that writes a starter YAML config
// ABOUTME: Prompts for backend endpoints, operator id and logging, with defaults

package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/2389/handoff-console/internal/config"
)

func newInitCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create a config file interactively",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(bufio.NewReader(cmd.InOrStdin()), cmd.OutOrStdout(), root.configPath)
		},
	}
}

func runInit(reader *bufio.Reader, out io.Writer, defaultPath string) error {
	fmt.Fprintln(out, "handoff-console configuration setup")
	fmt.Fprintln(out, "===================================")
	fmt.Fprintln(out)

	outputFile := prompt(reader, out, "Config file path", defaultPath)
	if _, err := os.Stat(outputFile); err == nil {
		if !yes(prompt(reader, out, "File exists. Overwrite?", "no")) {
			fmt.Fprintln(out, "Aborted.")
			return nil
		}
	}

	fmt.Fprintln(out, "\n--- Backend ---")
	baseURL := prompt(reader, out, "REST base URL", "https://support.example.com")
	wsURL := prompt(reader, out, "Push server URL (empty to reuse the REST URL)", "")
	authScheme := prompt(reader, out, "Authorization scheme", config.DefaultAuthScheme)

	fmt.Fprintln(out, "\n--- Operator ---")
	agentID := prompt(reader, out, "Your agent id", "0")
	statePath := prompt(reader, out, "Session state database", config.DefaultStatePath())

	fmt.Fprintln(out, "\n--- Logging ---")
	logLevel := prompt(reader, out, "Log level (debug/info/warn/error)", "info")
	logFormat := prompt(reader, out, "Log format (text/json)", "text")

	var cfg strings.Builder
	cfg.WriteString("# handoff-console configuration\n")
	cfg.WriteString("# Generated by handoff-console init\n\n")

	cfg.WriteString("backend:\n")
	cfg.WriteString(fmt.Sprintf("  base_url: %q\n", baseURL))
	if wsURL != "" {
		cfg.WriteString(fmt.Sprintf("  ws_url: %q\n", wsURL))
	}
	cfg.WriteString("  token: \"${HANDOFF_TOKEN}\"\n")
	cfg.WriteString(fmt.Sprintf("  auth_scheme: %q\n", authScheme))
	cfg.WriteString("  request_timeout: \"15s\"\n\n")

	cfg.WriteString("channels:\n")
	cfg.WriteString("  reconnect_delay: \"2s\"\n")
	cfg.WriteString("  dedupe_ttl: \"5m\"\n")
	cfg.WriteString(fmt.Sprintf("  dedupe_size: %d\n\n", config.DefaultDedupeSize))

	cfg.WriteString("session:\n")
	cfg.WriteString(fmt.Sprintf("  agent_id: %s\n", agentID))
	cfg.WriteString(fmt.Sprintf("  state_path: %q\n\n", statePath))

	cfg.WriteString("logging:\n")
	cfg.WriteString(fmt.Sprintf("  level: %q\n", logLevel))
	cfg.WriteString(fmt.Sprintf("  format: %q\n\n", logFormat))

	cfg.WriteString("metrics:\n")
	cfg.WriteString("  enabled: false\n")
	cfg.WriteString(fmt.Sprintf("  addr: %q\n", config.DefaultMetricsAddr))
	cfg.WriteString(fmt.Sprintf("  path: %q\n", config.DefaultMetricsPath))

	if err := os.MkdirAll(filepath.Dir(outputFile), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(outputFile, []byte(cfg.String()), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	fmt.Fprintf(out, "\nConfig written to %s\n", outputFile)
	fmt.Fprintln(out, "Export HANDOFF_TOKEN with your API token, then run:")
	fmt.Fprintln(out, "  handoff-console watch")
	return nil
}

func prompt(reader *bufio.Reader, out io.Writer, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Fprintf(out, "%s [%s]: ", question, defaultVal)
	} else {
		fmt.Fprintf(out, "%s: ", question)
	}

	line, _ := reader.ReadString('\n')
	line = strings.TrimSpace(line)
	if line == "" {
		return defaultVal
	}
	return line
}

func yes(answer string) bool {
	a := strings.ToLower(strings.TrimSpace(answer))
	return a == "y" || a == "yes"
}

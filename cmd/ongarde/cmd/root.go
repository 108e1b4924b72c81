// Package cmd provides the CLI commands for OnGarde.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ongarde/ongarde/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "ongarde",
	Short: "OnGarde - transparent LLM security proxy",
	Long: `OnGarde is a self-hosted security proxy that sits between a local
AI-agent platform and an upstream OpenAI- or Anthropic-compatible LLM API.

Every request and response is scanned for credentials, dangerous shell
patterns, sensitive file references, prompt-injection markers, and
personal data. Anything that fails a scan is blocked before it reaches
either side (fail-safe = BLOCK).

Quick start:
  1. Create a config file: config.yaml
  2. Run: ongarde start

Configuration:
  Config is loaded from config.yaml in the current directory or
  $ONGARDE_HOME (default ~/.ongarde/).

  Environment variables override config values with the ONGARDE_ prefix.
  Example: ONGARDE_PORT=9090

Commands:
  start       Start the proxy server
  stop        Stop the running server
  status      Report whether the server is running
  hash-key    Generate an argon2id hash for an API key
  version     Print version information`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")
}

func initConfig() {
	config.InitViper(cfgFile)
}

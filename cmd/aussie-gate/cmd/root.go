// Package cmd provides the CLI commands for Aussie Gate.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Aussie-Gate/Aussiegate/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "aussie-gate",
	Short: "Aussie Gate - API Gateway",
	Long: `Aussie Gate is an API gateway that routes HTTP and WebSocket
traffic to registered backend services.

It provides route matching, visibility-based access control, token
authentication, rate limiting, and request forwarding in front of
backends that register themselves through the admin API.

Quick start:
  1. Create a config file: aussie-gate.yaml
  2. Run: aussie-gate serve

Configuration:
  Config is loaded from aussie-gate.yaml in the current directory,
  $HOME/.aussie-gate/, or /etc/aussie-gate/.

  Environment variables can override config values with the AUSSIE_GATE_ prefix.
  Example: AUSSIE_GATE_SERVER_LISTEN_ADDR=0.0.0.0:9090

Commands:
  serve       Start the gateway
  hash-key    Generate a hash for an admin API key
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
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./aussie-gate.yaml)")
}

func initConfig() {
	config.InitViper(cfgFile)
}

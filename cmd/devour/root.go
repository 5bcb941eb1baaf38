package main

import (
	"fmt"
	"os"

	"devour/internal/config"
	logx "devour/pkg/logx"

	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "devour",
	Short: "Per-channel message retention bot for Discord",
	Long: `devour deletes messages older than a configurable period, per channel.

Channels are configured with the /consume and /release slash commands or with
"devour policy". Without a subcommand devour runs the bot.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runBot,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "devour:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "config.yaml", "config file path (yaml or json)")
}

// loadConfig reads the config file with the environment overlay applied.
func loadConfig() (*config.Config, error) {
	env, err := config.LoadEnv()
	if err != nil {
		return nil, fmt.Errorf("environment: %w", err)
	}
	return config.NewManager(cfgFile, env).Load()
}

// cliLogger keeps offline commands quiet unless something goes wrong.
func cliLogger() logx.Logger {
	return logx.NewConsole("warn").With(logx.String("comp", "cli"))
}

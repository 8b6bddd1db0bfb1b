// Package cli provides the command-line interface for livechat.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/raphaelgruber/livechat/internal/config"
	"github.com/spf13/cobra"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	verbose    bool
	configPath string
	ownerFlag  string
	serverFlag string
	localFlag  string

	// Global config and logger
	cfg         config.Config
	logger      *slog.Logger
	closeLogger func() error
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "livechat",
	Short: "Real-time chat client",
	Long: `Livechat talks to a streaming chat service over a persistent WebSocket
connection and keeps conversation history locally or in SurrealDB.

Without an owner, history lives in the local store and is scoped to this
machine. With --owner (or LIVECHAT_OWNER) history is saved remotely.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip setup for version and help commands
		if cmd.Name() == "version" || cmd.Name() == "help" {
			return nil
		}

		var err error
		if configPath != "" {
			cfg, err = config.LoadFile(configPath)
			if err != nil {
				return err
			}
		} else {
			cfg = config.Load()
		}

		if ownerFlag != "" {
			cfg.Owner = ownerFlag
		}
		if serverFlag != "" {
			cfg.ServerURL = serverFlag
		}
		if localFlag != "" {
			cfg.LocalStore = localFlag
		}
		if verbose {
			cfg.LogLevel = slog.LevelDebug
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}

		logger, closeLogger = config.SetupQuietLogger(cfg.LogFile, cfg.LogLevel)
		slog.SetDefault(logger)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if closeLogger != nil {
			if err := closeLogger(); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to close log file: %v\n", err)
			}
		}
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "livechat %s\n", Version)
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file")
	rootCmd.PersistentFlags().StringVar(&ownerFlag, "owner", "", "owner key; saves history remotely")
	rootCmd.PersistentFlags().StringVarP(&serverFlag, "server", "s", "", "chat service URL (ws:// or wss://)")
	rootCmd.PersistentFlags().StringVar(&localFlag, "local-store", "", "SQLite file for local history (default in-memory)")

	// Add subcommands
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(conversationsCmd)
	rootCmd.AddCommand(versionCmd)
}

package cli

import (
	"github.com/spf13/cobra"
)

const version = "0.1.0"

// Global flags shared by every subcommand.
var (
	cfgFile  string
	logLevel string
	envFile  string
)

var rootCmd = &cobra.Command{
	Use:   "chainpilot",
	Short: "ChainPilot - Telegram front-end for an on-chain planning agent",
	Long: `ChainPilot connects Telegram chats to a planning agent that reads and
acts on blockchain wallets. Every state-changing action is shown to the user
for confirmation before it runs.`,
	Version:      version,
	SilenceUsage: true,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.chainpilot/chainpilot.json)")
	flags.StringVar(&logLevel, "log-level", "", "log level override (debug, info, warn, error)")
	flags.StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the config; missing is fine")

	rootCmd.SetVersionTemplate("{{.Name}} version {{.Version}}\n")
}

// Execute runs the command tree.
func Execute() error {
	return rootCmd.Execute()
}

// GetRootCmd returns the root command for testing
func GetRootCmd() *cobra.Command {
	return rootCmd
}

func GetVersion() string {
	return version
}

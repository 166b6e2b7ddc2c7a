package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the configuration",
	Long: `Load the configuration the way the daemon would (dotenv file, config
file, CHAINPILOT_* environment) and report whether it is valid.`,
	RunE: runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Configuration OK\n")
	fmt.Fprintf(out, "Data dir: %s\n", cfg.DataDir)
	fmt.Fprintf(out, "Database: %s\n", cfg.Database.Driver)
	fmt.Fprintf(out, "Networks: %d\n", len(cfg.Networks))
	fmt.Fprintf(out, "Tools: %d remote\n", len(cfg.Agent.Tools))
	return nil
}

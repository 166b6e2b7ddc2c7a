package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/harun/chainpilot/internal/config"
	"github.com/harun/chainpilot/internal/daemon"
	"github.com/harun/chainpilot/internal/logger"
	"github.com/spf13/cobra"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the ChainPilot daemon service",
	Long: `Start the ChainPilot daemon service in the foreground.
The daemon polls Telegram for messages and runs until SIGINT or SIGTERM.`,
	RunE: runStart,
}

func init() {
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	pidFile := daemon.PIDFile(cfg.DataDir)
	if isRunning(pidFile) {
		return fmt.Errorf("daemon is already running (PID file: %s)", pidFile)
	}

	log, err := logger.New(logger.Config{
		Level:     cfg.Logging.Level,
		File:      cfg.Logging.File,
		Console:   true,
		Pretty:    cfg.Logging.Pretty,
		Redaction: cfg.Logging.Redaction,
		MaxSize:   cfg.Logging.MaxSize,
		MaxAge:    cfg.Logging.MaxAge,
		Compress:  cfg.Logging.Compress,
	})
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer log.Close()

	daemon.Version = version
	d, err := daemon.New(cfg, log, daemon.WithConfigPath(config.NewLoader(cfgFile).GetConfigPath()))
	if err != nil {
		return fmt.Errorf("failed to create daemon: %w", err)
	}
	if err := d.Start(); err != nil {
		_ = d.Stop()
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "ChainPilot daemon running (PID %d)\n", os.Getpid())
	d.Wait()
	return nil
}

// getPIDFilePath resolves the PID file from the configured data dir,
// falling back to ~/.chainpilot.
func getPIDFilePath() string {
	if cfg, err := loadConfig(); err == nil && cfg.DataDir != "" {
		return daemon.PIDFile(cfg.DataDir)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "chainpilot.pid")
	}
	return daemon.PIDFile(filepath.Join(home, ".chainpilot"))
}

func isRunning(pidFile string) bool {
	pid, err := readPID(pidFile)
	if err != nil {
		return false
	}
	return daemon.ProcessAlive(pid)
}

func readPID(pidFile string) (int, error) {
	data, err := os.ReadFile(pidFile)
	if err != nil {
		return 0, err
	}
	var pid int
	if _, err := fmt.Sscanf(string(data), "%d", &pid); err != nil {
		return 0, fmt.Errorf("invalid PID file: %w", err)
	}
	return pid, nil
}

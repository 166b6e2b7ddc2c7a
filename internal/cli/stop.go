package cli

import (
	"errors"
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

var stopTimeout time.Duration

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the ChainPilot daemon service",
	Long: `Stop the ChainPilot daemon service gracefully.
Sends SIGTERM and escalates to SIGKILL when the daemon outlives --timeout.`,
	RunE: runStop,
}

func init() {
	stopCmd.Flags().DurationVar(&stopTimeout, "timeout", 30*time.Second, "how long to wait for a graceful shutdown")
	rootCmd.AddCommand(stopCmd)
}

func runStop(cmd *cobra.Command, args []string) error {
	pidFile := getPIDFilePath()
	out := cmd.OutOrStdout()

	pid, err := stopDaemon(pidFile)
	if err != nil {
		return err
	}
	defer os.Remove(pidFile)

	if waitForExit(pidFile, stopTimeout) {
		fmt.Fprintln(out, "Daemon stopped successfully")
		return nil
	}

	fmt.Fprintf(out, "Daemon still running after %s, sending SIGKILL\n", stopTimeout)
	if err := syscall.Kill(pid, syscall.SIGKILL); err != nil {
		return fmt.Errorf("failed to send SIGKILL: %w", err)
	}
	fmt.Fprintln(out, "Daemon killed")
	return nil
}

var errNotRunning = errors.New("daemon is not running")

// stopDaemon sends SIGTERM to the process named in pidFile.
func stopDaemon(pidFile string) (int, error) {
	if !isRunning(pidFile) {
		return 0, errNotRunning
	}
	pid, err := readPID(pidFile)
	if err != nil {
		return 0, err
	}
	if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
		return 0, fmt.Errorf("failed to send SIGTERM: %w", err)
	}
	return pid, nil
}

// waitForExit polls until the process in pidFile is gone or timeout passes.
func waitForExit(pidFile string, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if !isRunning(pidFile) {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(100 * time.Millisecond)
	}
}

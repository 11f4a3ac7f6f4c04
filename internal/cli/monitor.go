package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"decoywatch/internal/backend"
	"decoywatch/pkg/models"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Control the monitoring engine",
}

var monitorStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show monitoring engine status",
	RunE: func(cmd *cobra.Command, args []string) error {
		status, err := newClient().MonitorStatus(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to get monitoring status: %w", err)
		}
		if out.Structured() {
			return out.Data(status)
		}
		if status.Running {
			out.Success("Monitoring engine running")
		} else {
			out.Warn("Monitoring engine stopped")
		}
		for _, dir := range status.WatchedDirectories {
			out.Info("  %s", dir)
		}
		return nil
	},
}

var monitorStartCmd = &cobra.Command{
	Use:   "start [directories...]",
	Short: "Start monitoring, optionally on specific directories",
	Long: `Start the monitoring engine. Without arguments it watches every seed
location of the registered honeyfiles.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newClient()
		directories := args
		if len(directories) == 0 {
			files, err := client.ListHoneyfiles(cmd.Context(), 0, backend.MaxLimit)
			if err != nil {
				return fmt.Errorf("failed to list honeyfiles: %w", err)
			}
			directories = seedLocations(files)
		}

		res, err := client.StartMonitoring(cmd.Context(), directories)
		if err != nil {
			return fmt.Errorf("failed to start monitoring: %w", err)
		}
		return printMonitorResult(res)
	},
}

var monitorStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop monitoring",
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := newClient().StopMonitoring(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to stop monitoring: %w", err)
		}
		return printMonitorResult(res)
	},
}

// seedLocations is the de-duplicated union of the honeyfiles' seed
// locations, in first-seen order.
func seedLocations(files []models.Honeyfile) []string {
	seen := make(map[string]bool)
	var dirs []string
	for _, f := range files {
		for _, loc := range f.SeedLocations {
			if loc == "" || seen[loc] {
				continue
			}
			seen[loc] = true
			dirs = append(dirs, loc)
		}
	}
	return dirs
}

func printMonitorResult(res models.MonitorResult) error {
	if out.Structured() {
		return out.Data(res)
	}
	msg := res.Message
	if msg == "" {
		msg = res.Status
	}
	out.Success("%s", msg)
	if res.HoneyfilesRegistered > 0 {
		out.Info("%d honeyfiles registered", res.HoneyfilesRegistered)
	}
	return nil
}

func init() {
	rootCmd.AddCommand(monitorCmd)
	monitorCmd.AddCommand(monitorStatusCmd)
	monitorCmd.AddCommand(monitorStartCmd)
	monitorCmd.AddCommand(monitorStopCmd)
}

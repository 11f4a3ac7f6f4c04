package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"decoywatch/internal/clock"
	"decoywatch/internal/stats"
)

var statsCmd = &cobra.Command{
	Use:     "stats",
	Aliases: []string{"dashboard"},
	Short:   "Show dashboard statistics and monitoring status",
	RunE: func(cmd *cobra.Command, args []string) error {
		agg := stats.NewAggregator(newClient(), clock.Real())

		statsErr := agg.Refresh(cmd.Context())
		engineErr := agg.RefreshEngine(cmd.Context())
		if statsErr != nil && engineErr != nil {
			return fmt.Errorf("backend unavailable: %w", statsErr)
		}

		view := agg.View()
		if out.Structured() {
			return out.Data(view)
		}

		if statsErr != nil {
			out.Warn("dashboard counters unavailable: %v", statsErr)
		} else {
			s := view.Snapshot
			out.Info("Honeyfiles:        %d", s.TotalHoneyfiles)
			out.Info("Events (total):    %d", s.TotalEvents)
			out.Info("Events (last hour): %d", s.EventsLastHour)
			out.Info("Alerts today:      %d", s.AlertsToday)
		}

		if engineErr != nil {
			out.Warn("monitoring status unavailable: %v", engineErr)
			return nil
		}
		e := view.Snapshot.Engine
		if e.Running {
			out.Success("Monitoring engine running")
		} else {
			out.Warn("Monitoring engine stopped")
		}
		if e.StartedAt != nil {
			out.Info("Started:           %s", formatTime(*e.StartedAt))
		}
		if e.LastHeartbeat != nil {
			out.Info("Last heartbeat:    %s", formatTime(*e.LastHeartbeat))
		}
		out.Info("Engine events:     %d (errors: %d)", e.TotalEvents, e.ErrorCount)
		if len(e.WatchedDirectories) > 0 {
			out.Info("Watching:          %s", strings.Join(e.WatchedDirectories, ", "))
		}
		return nil
	},
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check backend health",
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := newClient().Health(cmd.Context())
		if err != nil {
			return fmt.Errorf("backend unhealthy: %w", err)
		}
		if out.Structured() {
			return out.Data(h)
		}
		out.Success("%s %s: %s", orDash(h.Service), orDash(h.Version), h.Status)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(healthCmd)
}

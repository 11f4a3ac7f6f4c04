package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"decoywatch/internal/backend"
	"decoywatch/internal/output"
	"decoywatch/internal/store"
	"decoywatch/pkg/models"
)

const timeLayout = "2006-01-02 15:04:05"

func formatTime(ts models.Timestamp) string {
	if ts.IsZero() {
		return "-"
	}
	return ts.Format(timeLayout)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

var eventsCmd = &cobra.Command{
	Use:     "events",
	Aliases: []string{"logs"},
	Short:   "Query the decoy access log",
	Long:    "Fetch recent decoy access events from the backend, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		skip, _ := cmd.Flags().GetInt("skip")
		limit, _ := cmd.Flags().GetInt("limit")
		hours, _ := cmd.Flags().GetInt("hours")
		decoy, _ := cmd.Flags().GetString("decoy")
		eventType, _ := cmd.Flags().GetString("type")

		if eventType != "" && !models.EventType(eventType).Valid() {
			return fmt.Errorf("unknown event type %q (want one of %v)", eventType, models.EventTypes())
		}

		records, err := newClient().EventLogs(cmd.Context(), backend.LogQuery{
			Skip:    skip,
			Limit:   limit,
			DecoyID: decoy,
			Hours:   hours,
		})
		if err != nil {
			return fmt.Errorf("failed to fetch events: %w", err)
		}
		records = store.Window{Events: records}.Filter(store.Filter{EventType: models.EventType(eventType)})

		if out.Structured() {
			return out.Data(records)
		}
		if len(records) == 0 {
			out.Info("No events in the last %d hours", max(hours, 1))
			return nil
		}
		out.Table(eventsTable(records))
		return nil
	},
}

func eventsTable(records []models.EventRecord) *output.Table {
	table := output.NewTable("TIME", "TYPE", "DECOY", "USER", "HOST", "PROCESS", "PATH")
	for _, e := range records {
		table.AddRow(
			formatTime(e.Timestamp),
			string(e.EventType),
			e.DecoyID,
			orDash(e.Username),
			orDash(e.Hostname),
			orDash(e.ProcessName),
			output.Truncate(e.AccessedPath, 60),
		)
	}
	return table
}

var eventsCountCmd = &cobra.Command{
	Use:   "count [decoy-id]",
	Short: "Count events in the last 24 hours",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var decoy string
		if len(args) == 1 {
			decoy = args[0]
		}
		count, err := newClient().EventCount(cmd.Context(), decoy)
		if err != nil {
			return fmt.Errorf("failed to count events: %w", err)
		}
		if out.Structured() {
			return out.Data(count)
		}
		out.Info("%s events (%s)", strconv.Itoa(count.Count), orDash(count.Period))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(eventsCmd)
	eventsCmd.AddCommand(eventsCountCmd)

	eventsCmd.Flags().Int("skip", 0, "number of events to skip")
	eventsCmd.Flags().Int("limit", 100, "maximum number of events")
	eventsCmd.Flags().Int("hours", 24, "look-back window in hours")
	eventsCmd.Flags().String("decoy", "", "only events for this decoy ID")
	eventsCmd.Flags().String("type", "", "only events of this type")
}

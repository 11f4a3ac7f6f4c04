package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"decoywatch/internal/app"
	"decoywatch/internal/backend"
	"decoywatch/internal/clock"
	"decoywatch/internal/link"
	"decoywatch/internal/logging"
	"decoywatch/pkg/models"
)

var tailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Stream live decoy access events",
	Long: `Print decoy access events as the backend pushes them. With --history,
the most recent events are printed first. The live channel reconnects on
its own until interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		history, _ := cmd.Flags().GetInt("history")
		decoy, _ := cmd.Flags().GetString("decoy")

		url, err := app.StreamURL(cfg)
		if err != nil {
			return err
		}

		if history > 0 {
			records, err := newClient().EventLogs(cmd.Context(), backend.LogQuery{Limit: history, DecoyID: decoy})
			if err != nil {
				return fmt.Errorf("failed to fetch recent events: %w", err)
			}
			if len(records) > history {
				records = records[:history]
			}
			// Newest first on the wire; print oldest first like the live stream.
			for i := len(records) - 1; i >= 0; i-- {
				if err := printEvent(records[i]); err != nil {
					return err
				}
			}
		}

		live := make(chan models.EventRecord, 64)
		l := link.New(link.Config{
			URL:            url,
			Clock:          clock.Real(),
			ReconnectDelay: cfg.Link.ReconnectDelay,
			PingInterval:   cfg.Link.PingInterval,
			OnError: func(err error) {
				var invalid *link.ValidationError
				if errors.As(err, &invalid) {
					logger.Info("dropped live message", zap.Error(err), zap.String("payload", invalid.Payload))
					return
				}
				logger.Warn("live channel error", zap.Error(err))
			},
			Logger: logging.Component(logger, "link"),
		})
		unsubscribe := l.Subscribe(func(rec models.EventRecord) {
			if decoy != "" && rec.DecoyID != decoy {
				return
			}
			select {
			case live <- rec:
			default:
				logger.Warn("tail output is behind, dropping event", zap.String("decoy_id", rec.DecoyID))
			}
		})
		defer func() {
			unsubscribe()
			l.Close()
			l.Wait()
		}()
		l.Connect()

		if !out.Structured() {
			out.Info("Following live events (Ctrl-C to stop)")
		}
		for {
			select {
			case <-cmd.Context().Done():
				return nil
			case rec := <-live:
				if err := printEvent(rec); err != nil {
					return err
				}
			}
		}
	},
}

func printEvent(rec models.EventRecord) error {
	if out.Structured() {
		return out.Data(rec)
	}
	out.Info("%s  %-8s  %s  %s@%s  %s",
		formatTime(rec.Timestamp), rec.EventType, rec.DecoyID,
		orDash(rec.Username), orDash(rec.Hostname), rec.AccessedPath)
	return nil
}

func init() {
	rootCmd.AddCommand(tailCmd)
	tailCmd.Flags().Int("history", 0, "print this many recent events before following")
	tailCmd.Flags().String("decoy", "", "only events for this decoy ID")
}

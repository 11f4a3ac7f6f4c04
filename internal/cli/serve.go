package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"decoywatch/internal/api"
	"decoywatch/internal/app"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Follow the backend and serve the live state locally",
	Long: `Load the event window and statistics, connect the live channel and
serve snapshots over HTTP and change notifications over WebSocket until
interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
			cfg.Server.Addr = addr
		}

		a, err := app.New(cfg, app.Deps{Logger: logger})
		if err != nil {
			return fmt.Errorf("failed to build application: %w", err)
		}
		defer a.Teardown()

		if err := a.Init(cmd.Context()); err != nil {
			var partial *app.PartialFailure
			if !errors.As(err, &partial) {
				return fmt.Errorf("failed to initialise: %w", err)
			}
			out.Warn("started with stale data: %v", err)
		}

		logger.Info("serving", zap.String("addr", cfg.Server.Addr))
		out.Success("Serving on http://%s", cfg.Server.Addr)
		return api.NewServer(cfg, a, logger).Run(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("addr", "", "listen address (overrides config)")
}

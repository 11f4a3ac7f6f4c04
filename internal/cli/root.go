// Package cli is the decoywatch command tree.
package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"decoywatch/internal/app"
	"decoywatch/internal/backend"
	"decoywatch/internal/clock"
	"decoywatch/internal/config"
	"decoywatch/internal/logging"
	"decoywatch/internal/output"
)

var (
	cfgFile string
	cfg     *config.Config
	logger  *zap.Logger
	out     *output.Printer
)

var rootCmd = &cobra.Command{
	Use:   "decoywatch",
	Short: "Honeyfile monitoring client",
	Long: `decoywatch follows a honeyfile backend: it keeps a live window of decoy
access events, aggregate statistics and monitoring status, and manages
honeyfiles, alert channels and file shares from the terminal.`,
	Version:           "0.1.0",
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

func Execute() error {
	return rootCmd.Execute()
}

// ExecuteContext runs the command tree with ctx as every command's
// context.
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML)")
	rootCmd.PersistentFlags().String("output", output.FormatTable, "output format: table, json, yaml")
	rootCmd.PersistentFlags().String("base-url", "", "backend API base URL (overrides config)")
	rootCmd.PersistentFlags().String("log-level", "", "log level: debug, info, warn, error (overrides config)")
}

func setup(cmd *cobra.Command, args []string) error {
	loaded, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	if baseURL, _ := cmd.Flags().GetString("base-url"); baseURL != "" {
		loaded.Backend.BaseURL = baseURL
		if err := loaded.Validate(); err != nil {
			return err
		}
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		loaded.Log.Level = level
	}
	cfg = loaded

	format, _ := cmd.Flags().GetString("output")
	if !output.ValidFormat(format) {
		return fmt.Errorf("unknown output format %q", format)
	}
	out = output.New(cmd.OutOrStdout(), cmd.ErrOrStderr(), format)
	logger = logging.NewWithWriter(cfg.Log.Level, cmd.ErrOrStderr())
	return nil
}

func newClient() *backend.Client {
	return app.NewBackendClient(cfg, clock.Real(), logger)
}

// SetOutput redirects command output, for embedding and tests.
func SetOutput(stdout, stderr io.Writer) {
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)
}

// SetArgs replaces os.Args for the next Execute.
func SetArgs(args []string) {
	rootCmd.SetArgs(args)
}

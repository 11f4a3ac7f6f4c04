package cli

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"decoywatch/internal/output"
	"decoywatch/pkg/models"
)

var alertTypes = []string{"slack", "email"}

func validAlertType(t string) error {
	for _, known := range alertTypes {
		if t == known {
			return nil
		}
	}
	return fmt.Errorf("unknown alert type %q (want one of %s)", t, strings.Join(alertTypes, ", "))
}

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "Manage alert channels",
}

var alertsSettingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Show alert channel settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, err := newClient().AlertSettings(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to get alert settings: %w", err)
		}
		if out.Structured() {
			return out.Data(settings)
		}
		if len(settings) == 0 {
			out.Info("No alert channels configured")
			return nil
		}

		names := make([]string, 0, len(settings))
		for name := range settings {
			names = append(names, name)
		}
		sort.Strings(names)

		table := output.NewTable("CHANNEL", "ENABLED", "CONFIG")
		for _, name := range names {
			s := settings[name]
			table.AddRow(name, fmt.Sprintf("%t", s.Enabled), configSummary(s.Config))
		}
		out.Table(table)
		return nil
	},
}

// configSummary lists config keys only; values may hold credentials.
func configSummary(cfg map[string]any) string {
	if len(cfg) == 0 {
		return "-"
	}
	keys := make([]string, 0, len(cfg))
	for k := range cfg {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return strings.Join(keys, ",")
}

var alertsSetCmd = &cobra.Command{
	Use:   "set [slack|email]",
	Short: "Enable or disable an alert channel",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := validAlertType(args[0]); err != nil {
			return err
		}
		disable, _ := cmd.Flags().GetBool("disable")
		pairs, _ := cmd.Flags().GetStringToString("set")

		config := make(map[string]any, len(pairs))
		for k, v := range pairs {
			config[k] = v
		}

		setting, err := newClient().UpdateAlertSettings(cmd.Context(), models.AlertSettingRequest{
			AlertType: args[0],
			Enabled:   !disable,
			Config:    config,
		})
		if err != nil {
			return fmt.Errorf("failed to update alert settings: %w", err)
		}
		if out.Structured() {
			return out.Data(setting)
		}
		if setting.Enabled {
			out.Success("%s alerts enabled", args[0])
		} else {
			out.Success("%s alerts disabled", args[0])
		}
		return nil
	},
}

var alertsTestCmd = &cobra.Command{
	Use:   "test [slack|email]",
	Short: "Send a test alert",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := validAlertType(args[0]); err != nil {
			return err
		}
		res, err := newClient().TestAlert(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("failed to send test alert: %w", err)
		}
		if out.Structured() {
			return out.Data(res)
		}
		out.Success("Test %s alert sent", args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(alertsCmd)
	alertsCmd.AddCommand(alertsSettingsCmd)
	alertsCmd.AddCommand(alertsSetCmd)
	alertsCmd.AddCommand(alertsTestCmd)

	alertsSetCmd.Flags().Bool("disable", false, "disable the channel")
	alertsSetCmd.Flags().StringToString("set", nil, "channel config key=value (e.g. webhook_url=...)")
}

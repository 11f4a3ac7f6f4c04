package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"decoywatch/internal/output"
	"decoywatch/pkg/models"
)

var sharesCmd = &cobra.Command{
	Use:   "shares",
	Short: "Manage decoy file shares",
}

var sharesListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List file shares",
	RunE: func(cmd *cobra.Command, args []string) error {
		skip, _ := cmd.Flags().GetInt("skip")
		limit, _ := cmd.Flags().GetInt("limit")

		shares, err := newClient().ListFileShares(cmd.Context(), skip, limit)
		if err != nil {
			return fmt.Errorf("failed to list file shares: %w", err)
		}
		if out.Structured() {
			return out.Data(shares)
		}
		if len(shares) == 0 {
			out.Info("No file shares found")
			return nil
		}

		table := output.NewTable("ID", "NAME", "PATH", "SENSITIVE", "ACCESSES", "LAST ACCESS")
		for _, s := range shares {
			last := "-"
			if s.LastAccessed != nil {
				last = formatTime(*s.LastAccessed)
			}
			table.AddRow(s.ID, s.ShareName, s.SharePath, strconv.FormatBool(s.IsSensitive), strconv.Itoa(s.AccessCount), last)
		}
		out.Table(table)
		return nil
	},
}

var sharesCreateCmd = &cobra.Command{
	Use:   "create [name] [path]",
	Short: "Create a decoy file share",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		description, _ := cmd.Flags().GetString("description")
		sensitive, _ := cmd.Flags().GetBool("sensitive")
		users, _ := cmd.Flags().GetStringSlice("user")
		groups, _ := cmd.Flags().GetStringSlice("group")

		share, err := newClient().CreateFileShare(cmd.Context(), models.FileShareCreateRequest{
			ShareName:        args[0],
			SharePath:        args[1],
			Description:      description,
			IsSensitive:      sensitive,
			SharedWithUsers:  users,
			SharedWithGroups: groups,
		})
		if err != nil {
			return fmt.Errorf("failed to create file share: %w", err)
		}
		if out.Structured() {
			return out.Data(share)
		}
		out.Success("Created file share %s (%s)", share.ShareName, share.ID)
		return nil
	},
}

var sharesDeleteCmd = &cobra.Command{
	Use:     "delete [id]",
	Aliases: []string{"rm"},
	Short:   "Delete a file share",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := newClient().DeleteFileShare(cmd.Context(), args[0]); err != nil {
			return fmt.Errorf("failed to delete file share: %w", err)
		}
		out.Success("Deleted file share %s", args[0])
		return nil
	},
}

var sharesLogsCmd = &cobra.Command{
	Use:   "logs [id]",
	Short: "Show access logs for a file share",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		logs, err := newClient().FileShareAccessLogs(cmd.Context(), args[0], limit)
		if err != nil {
			return fmt.Errorf("failed to get access logs: %w", err)
		}
		if out.Structured() {
			return out.Data(logs)
		}
		if len(logs) == 0 {
			out.Info("No access recorded")
			return nil
		}

		table := output.NewTable("TIME", "USER", "HOST", "IP", "ACCESS", "OK")
		for _, l := range logs {
			table.AddRow(formatTime(l.AccessedAt), orDash(l.Username), orDash(l.Hostname), orDash(l.IPAddress), l.AccessType, strconv.FormatBool(l.Success))
		}
		out.Table(table)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sharesCmd)
	sharesCmd.AddCommand(sharesListCmd)
	sharesCmd.AddCommand(sharesCreateCmd)
	sharesCmd.AddCommand(sharesDeleteCmd)
	sharesCmd.AddCommand(sharesLogsCmd)

	sharesListCmd.Flags().Int("skip", 0, "number of shares to skip")
	sharesListCmd.Flags().Int("limit", 100, "maximum number of shares")

	sharesCreateCmd.Flags().String("description", "", "share description")
	sharesCreateCmd.Flags().Bool("sensitive", false, "mark the share as sensitive")
	sharesCreateCmd.Flags().StringSlice("user", nil, "user with access (repeatable)")
	sharesCreateCmd.Flags().StringSlice("group", nil, "group with access (repeatable)")

	sharesLogsCmd.Flags().Int("limit", 100, "maximum number of log entries")
}

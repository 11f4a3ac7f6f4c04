package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"decoywatch/internal/output"
	"decoywatch/pkg/models"
)

var honeyfilesCmd = &cobra.Command{
	Use:     "honeyfiles",
	Aliases: []string{"hf"},
	Short:   "Manage honeyfiles",
}

var honeyfilesListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List honeyfiles",
	RunE: func(cmd *cobra.Command, args []string) error {
		skip, _ := cmd.Flags().GetInt("skip")
		limit, _ := cmd.Flags().GetInt("limit")

		files, err := newClient().ListHoneyfiles(cmd.Context(), skip, limit)
		if err != nil {
			return fmt.Errorf("failed to list honeyfiles: %w", err)
		}
		if out.Structured() {
			return out.Data(files)
		}
		if len(files) == 0 {
			out.Info("No honeyfiles found")
			return nil
		}

		table := output.NewTable("DECOY ID", "NAME", "TYPE", "TEMPLATE", "CREATED", "PATH")
		for _, f := range files {
			table.AddRow(f.DecoyID, f.FileName, f.FileType, f.TemplateType, formatTime(f.CreatedAt), orDash(f.FilePath))
		}
		out.Table(table)
		return nil
	},
}

var honeyfilesGetCmd = &cobra.Command{
	Use:   "get [decoy-id]",
	Short: "Show one honeyfile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := newClient().GetHoneyfile(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("failed to get honeyfile: %w", err)
		}
		if out.Structured() {
			return out.Data(f)
		}

		out.Info("Decoy ID:      %s", f.DecoyID)
		out.Info("File name:     %s", f.FileName)
		out.Info("Type:          %s (%s template)", f.FileType, f.TemplateType)
		out.Info("Created:       %s", formatTime(f.CreatedAt))
		out.Info("Expected hash: %s", orDash(f.ExpectedHash))
		out.Info("Path:          %s", orDash(f.FilePath))
		for _, loc := range f.SeedLocations {
			out.Info("Seeded at:     %s", loc)
		}
		return nil
	},
}

var honeyfilesCreateCmd = &cobra.Command{
	Use:   "create [file-name]",
	Short: "Create a honeyfile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fileType, _ := cmd.Flags().GetString("type")
		template, _ := cmd.Flags().GetString("template")
		seeds, _ := cmd.Flags().GetStringSlice("seed")

		f, err := newClient().CreateHoneyfile(cmd.Context(), models.HoneyfileCreateRequest{
			FileName:      args[0],
			FileType:      fileType,
			TemplateType:  template,
			SeedLocations: seeds,
		})
		if err != nil {
			return fmt.Errorf("failed to create honeyfile: %w", err)
		}
		if out.Structured() {
			return out.Data(f)
		}
		out.Success("Created honeyfile %s (%s)", f.DecoyID, f.FileName)
		return nil
	},
}

var honeyfilesDeleteCmd = &cobra.Command{
	Use:     "delete [id]",
	Aliases: []string{"rm"},
	Short:   "Delete a honeyfile",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := newClient().DeleteHoneyfile(cmd.Context(), args[0]); err != nil {
			return fmt.Errorf("failed to delete honeyfile: %w", err)
		}
		out.Success("Deleted honeyfile %s", args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(honeyfilesCmd)
	honeyfilesCmd.AddCommand(honeyfilesListCmd)
	honeyfilesCmd.AddCommand(honeyfilesGetCmd)
	honeyfilesCmd.AddCommand(honeyfilesCreateCmd)
	honeyfilesCmd.AddCommand(honeyfilesDeleteCmd)

	honeyfilesListCmd.Flags().Int("skip", 0, "number of honeyfiles to skip")
	honeyfilesListCmd.Flags().Int("limit", 100, "maximum number of honeyfiles")

	honeyfilesCreateCmd.Flags().String("type", "docx", "file type: docx, xlsx, pdf")
	honeyfilesCreateCmd.Flags().String("template", "passwords", "content template: passwords, salaries, project_secrets")
	honeyfilesCreateCmd.Flags().StringSlice("seed", nil, "directory to seed the honeyfile into (repeatable)")
}

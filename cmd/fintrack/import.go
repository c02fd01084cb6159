package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	importservice "github.com/rms81/fintrack-sub001/internal/domain/import/service"
	"github.com/rms81/fintrack-sub001/internal/domain/import/sniffer"
)

func newImportCmd() *cobra.Command {
	var (
		accountFlag    string
		confirm        bool
		skipDuplicates bool
		formatFile     string
	)
	cmd := &cobra.Command{
		Use:   "import <statement-file>",
		Short: "Upload a statement, preview it and optionally confirm the import",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			accountID, err := uuid.Parse(accountFlag)
			if err != nil {
				return fmt.Errorf("invalid account id: %w", err)
			}

			var override *sniffer.FormatConfig
			if formatFile != "" {
				data, err := os.ReadFile(formatFile)
				if err != nil {
					return err
				}
				override = &sniffer.FormatConfig{}
				if err := json.Unmarshal(data, override); err != nil {
					return fmt.Errorf("parse format file: %w", err)
				}
			}

			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			upload, err := a.imports.Upload(ctx, accountID, filepath.Base(args[0]), data)
			if err != nil {
				return err
			}
			if upload.DetectionError != "" {
				fmt.Fprintf(out, "format detection failed: %s\n", upload.DetectionError)
				if override == nil {
					fmt.Fprintln(out, "re-run with --format-file to supply the format explicitly")
					return nil
				}
			}

			preview, err := a.imports.Preview(ctx, upload.Session.ID, override)
			if err != nil {
				return err
			}

			fmt.Fprintf(out, "session %s: %d rows, %d parsed, %d duplicates\n",
				preview.Session.ID, preview.Session.RowCount,
				len(preview.Previews), preview.Duplicates)
			for _, p := range preview.Previews {
				marker := " "
				if p.Duplicate {
					marker = "D"
				}
				fmt.Fprintf(out, "%s %s  %10s  %s\n",
					marker, p.Date.Format("2006-01-02"), p.Amount.StringFixed(2), p.Description)
			}
			for _, rowErr := range preview.RowErrors {
				fmt.Fprintf(out, "! %s\n", rowErr.Error())
			}

			if !confirm {
				fmt.Fprintln(out, "re-run with --confirm to import")
				return nil
			}

			result, err := a.imports.Confirm(ctx, preview.Session.ID,
				importservice.ConfirmOptions{SkipDuplicates: skipDuplicates})
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "imported %d transactions (%d duplicates skipped, %d categorized)\n",
				result.Imported, result.DuplicatesSkipped, result.Categorized)
			return nil
		},
	}
	cmd.Flags().StringVar(&accountFlag, "account", "", "account id to import into")
	cmd.Flags().BoolVar(&confirm, "confirm", false, "persist the previewed rows")
	cmd.Flags().BoolVar(&skipDuplicates, "skip-duplicates", true, "leave duplicate rows out of the import")
	cmd.Flags().StringVar(&formatFile, "format-file", "", "JSON file with an explicit format config")
	_ = cmd.MarkFlagRequired("account")
	return cmd
}

package commands

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"translate-rx/internal/domain"
)

func newDoctorCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check ffmpeg, endpoints and local paths",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer app.Close()

			report := app.GetDiagnostics()
			printReport(cmd.OutOrStdout(), report)
			if report.HasFailures {
				return errors.New("diagnostics reported failures")
			}
			return nil
		},
	}
}

func printReport(w io.Writer, report domain.DiagnosticReport) {
	for _, item := range report.Items {
		fmt.Fprintf(w, "%-4s %-18s %s\n", item.Status, item.Name, item.Message)
		if item.Hint != "" {
			fmt.Fprintf(w, "     %-18s hint: %s\n", "", item.Hint)
		}
	}
}

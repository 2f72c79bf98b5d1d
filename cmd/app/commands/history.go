package commands

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"translate-rx/internal/domain"
	"translate-rx/internal/history"
)

func newHistoryCmd(opts *rootOptions) *cobra.Command {
	var (
		slot  string
		limit int
	)
	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "List finished jobs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			list := history.ListOptions{Limit: limit}
			if slot != "" {
				parsed, err := domain.ParseSlot(slot)
				if err != nil {
					return err
				}
				list.Slot = parsed
			}

			app, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer app.Close()

			entries, err := app.History(cmd.Context(), list)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No jobs recorded.")
				return nil
			}
			for _, e := range entries {
				printEntry(cmd.OutOrStdout(), e)
			}
			return nil
		},
	}

	historyCmd.Flags().StringVar(&slot, "slot", "", "only list one slot")
	historyCmd.Flags().IntVar(&limit, "limit", 20, "maximum entries (0 lists all)")
	return historyCmd
}

func printEntry(w io.Writer, e history.Entry) {
	fmt.Fprintf(w, "%s  %-19s %-9s %s\n", e.FinishedAt.Local().Format(time.DateTime), e.Slot, e.Status, e.ID)
	switch {
	case e.ErrorMessage != "":
		fmt.Fprintf(w, "    %s\n", e.ErrorMessage)
	case len(e.Questions) > 0:
		fmt.Fprintf(w, "    %s\n", strings.Join(e.Questions, " | "))
	case e.TranslatedText != "":
		fmt.Fprintf(w, "    %s -> %s\n", e.OriginalText, e.TranslatedText)
	}
}

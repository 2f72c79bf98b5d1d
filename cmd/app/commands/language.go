package commands

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"translate-rx/internal/domain"
	"translate-rx/internal/language"
)

func newLanguageCmd(opts *rootOptions) *cobra.Command {
	languageCmd := &cobra.Command{
		Use:   "language",
		Short: "Inspect the language toggles",
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show the speaking side, target language and voice",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer app.Close()
			printLanguage(cmd.OutOrStdout(), app.Preferences())
			return nil
		},
	}

	languageCmd.AddCommand(showCmd)
	return languageCmd
}

func printLanguage(w io.Writer, st language.State) {
	pref := language.NewPreference(nil, st)
	fmt.Fprintf(w, "side:    %s\n", st.Side)
	fmt.Fprintf(w, "variant: %s\n", st.Variant)
	fmt.Fprintf(w, "voice:   %s\n", pref.VoiceCode())
	fmt.Fprintf(w, "audio submitted as: %s\n", pref.SubmissionLanguage(domain.SlotAudioTranslate))
}

package commands

import (
	"context"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"translate-rx/internal/bootstrap"
	"translate-rx/internal/config"
)

// rootOptions holds the persistent flags shared by every subcommand.
type rootOptions struct {
	configPath string
	variant    string
	side       string
	timeout    time.Duration

	// newApp is swapped in tests.
	newApp func(bootstrap.Options) (*bootstrap.App, error)
}

// NewRootCmd creates the root command
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{newApp: bootstrap.New}
	return newRootCmd(opts)
}

func newRootCmd(opts *rootOptions) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "translate-rx",
		Short:         "Translate patient recordings and photos and draft follow-up questions",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", filepath.Join(config.DefaultDir(), "settings.json"), "settings file")
	flags.StringVar(&opts.variant, "variant", "", "target language for this run (mandarin|spanish)")
	flags.StringVar(&opts.side, "side", "", "speaking side for this run (recording|playback)")
	flags.DurationVar(&opts.timeout, "timeout", 0, "give up waiting after this long (0 waits for the polling bound)")

	rootCmd.AddCommand(
		newTranslateCmd(opts),
		newSessionCmd(opts),
		newLanguageCmd(opts),
		newConfigCmd(opts),
		newDoctorCmd(opts),
		newHistoryCmd(opts),
	)
	return rootCmd
}

func (o *rootOptions) store() *config.FileStore {
	return config.NewFileStore(o.configPath)
}

// open builds a session whose output goes to cmd and applies the
// language flags before any job exists.
func (o *rootOptions) open(cmd *cobra.Command) (*bootstrap.App, error) {
	console := newConsole(cmd.OutOrStdout())
	app, err := o.newApp(bootstrap.Options{
		Store:     o.store(),
		Presenter: console,
		Speaker:   console,
	})
	if err != nil {
		return nil, err
	}

	if o.variant != "" {
		if _, err := app.SetVariant(o.variant); err != nil {
			_ = app.Close()
			return nil, err
		}
	}
	if o.side != "" {
		if _, err := app.SetSourceSide(o.side); err != nil {
			_ = app.Close()
			return nil, err
		}
	}
	return app, nil
}

// waitContext bounds ctx by the --timeout flag when set.
func (o *rootOptions) waitContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, o.timeout)
}

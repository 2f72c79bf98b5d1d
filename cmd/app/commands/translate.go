package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"translate-rx/internal/bootstrap"
	"translate-rx/internal/domain"
)

func newTranslateCmd(opts *rootOptions) *cobra.Command {
	translateCmd := &cobra.Command{
		Use:   "translate",
		Short: "Submit media and wait for its translation",
	}

	for _, target := range []struct {
		use   string
		short string
		slot  domain.Slot
	}{
		{"audio <file>", "Transcribe and translate a recording", domain.SlotAudioTranslate},
		{"image <file>", "Extract and translate text from a photo", domain.SlotImageTranslate},
	} {
		slot := target.slot
		translateCmd.AddCommand(&cobra.Command{
			Use:   target.use,
			Short: target.short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				app, err := opts.open(cmd)
				if err != nil {
					return err
				}
				defer app.Close()

				ctx, cancel := opts.waitContext(cmd.Context())
				defer cancel()
				job, err := translateAndWait(ctx, app, slot, args[0])
				if err != nil {
					return err
				}
				if job.Status != domain.JobStatusCompleted {
					return fmt.Errorf("%s job %s ended %s", slot, job.ID, job.Status)
				}
				return nil
			},
		})
	}
	return translateCmd
}

// translateAndWait submits path and blocks until polling ends or ctx is
// done.
func translateAndWait(ctx context.Context, app *bootstrap.App, slot domain.Slot, path string) (domain.Job, error) {
	if _, err := app.Translate(ctx, slot, path); err != nil {
		return domain.Job{}, err
	}
	return awaitSlot(ctx, app, slot)
}

// awaitSlot waits for the slot's polling loop. On ctx expiry polling is
// cancelled and the job keeps its record.
func awaitSlot(ctx context.Context, app *bootstrap.App, slot domain.Slot) (domain.Job, error) {
	type outcome struct {
		job domain.Job
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		job, err := app.Await(slot)
		done <- outcome{job, err}
	}()

	select {
	case out := <-done:
		return out.job, out.err
	case <-ctx.Done():
		_ = app.Cancel(slot)
		return domain.Job{}, fmt.Errorf("wait for %s: %w", slot, ctx.Err())
	}
}

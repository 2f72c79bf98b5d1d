package commands

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"translate-rx/internal/bootstrap"
	"translate-rx/internal/domain"
)

const sessionHelp = `commands:
  audio <file>        submit a recording
  image <file>        submit a photo
  questions <text>    generate follow-up questions for symptom text
  wait <slot>         block until the slot's polling ends
  status              list current jobs
  events <slot>       show the slot's transitions
  cancel <slot>       stop polling and keep the job
  clear <slot>        stop polling and discard the job
  side | variant      toggle the speaking side or target language
  language            show the language toggles
  quit`

func newSessionCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "session",
		Short: "Run an interactive session with one language context",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer app.Close()

			s := &session{id: uuid.NewString(), app: app, opts: opts, out: cmd.OutOrStdout()}
			return s.run(cmd.Context(), cmd.InOrStdin())
		},
	}
}

type session struct {
	id   string
	app  *bootstrap.App
	opts *rootOptions
	out  io.Writer
}

func (s *session) run(ctx context.Context, in io.Reader) error {
	fmt.Fprintf(s.out, "session %s (type help for commands)\n", s.id)
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(s.out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(s.out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		verb, rest, _ := strings.Cut(line, " ")
		rest = strings.TrimSpace(rest)
		if verb == "quit" || verb == "exit" {
			return nil
		}
		if err := s.exec(ctx, verb, rest); err != nil {
			fmt.Fprintf(s.out, "error: %v\n", err)
		}
	}
}

func (s *session) exec(ctx context.Context, verb, arg string) error {
	switch verb {
	case "help":
		fmt.Fprintln(s.out, sessionHelp)
	case "audio", "image":
		slot, _ := domain.ParseSlot(verb)
		if arg == "" {
			return fmt.Errorf("usage: %s <file>", verb)
		}
		job, err := s.app.Translate(ctx, slot, arg)
		if err != nil {
			return err
		}
		fmt.Fprintf(s.out, "submitted %s job %s\n", slot, job.ID)
	case "questions":
		job, err := s.app.GenerateQuestions(ctx, arg)
		if err != nil {
			return err
		}
		fmt.Fprintf(s.out, "question job %s %s\n", job.ID, job.Status)
	case "wait":
		slot, err := domain.ParseSlot(arg)
		if err != nil {
			return err
		}
		waitCtx, cancel := s.opts.waitContext(ctx)
		defer cancel()
		job, err := awaitSlot(waitCtx, s.app, slot)
		if err != nil {
			return err
		}
		fmt.Fprintf(s.out, "%s job %s %s\n", slot, job.ID, job.Status)
	case "status":
		jobs := s.app.Jobs()
		if len(jobs) == 0 {
			fmt.Fprintln(s.out, "no jobs")
		}
		for _, job := range jobs {
			fmt.Fprintf(s.out, "%-19s %-10s attempt %d  %s\n", job.Slot, job.Status, job.Attempt, job.ID)
		}
	case "events":
		slot, err := domain.ParseSlot(arg)
		if err != nil {
			return err
		}
		events, _ := s.app.SlotEvents(slot, 0)
		for _, ev := range events {
			fmt.Fprintf(s.out, "#%d %s %-8s %s\n", ev.Seq, ev.Timestamp.Local().Format(time.TimeOnly), ev.Type, ev.Message)
		}
	case "cancel", "clear":
		slot, err := domain.ParseSlot(arg)
		if err != nil {
			return err
		}
		if verb == "cancel" {
			return s.app.Cancel(slot)
		}
		return s.app.Clear(slot)
	case "side":
		st, err := s.app.ToggleSourceSide()
		if err != nil {
			return err
		}
		printLanguage(s.out, st)
	case "variant":
		st, err := s.app.ToggleVariant()
		if err != nil {
			return err
		}
		printLanguage(s.out, st)
	case "language":
		printLanguage(s.out, s.app.Preferences())
	default:
		return fmt.Errorf("unknown command %q", verb)
	}
	return nil
}

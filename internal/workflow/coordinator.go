package workflow

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"translate-rx/internal/domain"
	"translate-rx/internal/jobs"
	"translate-rx/internal/language"
	"translate-rx/internal/transport"
)

// Messages surfaced when a backend gives none.
const (
	DefaultQuestionRejectedMessage = "Question generation API returned an error."
	DefaultFailureMessage          = "Something went wrong. Please try again."
)

// FallbackQuestions is the local result used when there is no symptom text.
var FallbackQuestions = []string{"Error Generating the Questions.", "Please Contact Support."}

// Speaker reads text aloud with a voice code such as "es-ES".
type Speaker interface {
	Speak(ctx context.Context, text, voice string) error
}

// Presenter receives the user-facing outcome of every workflow.
type Presenter interface {
	ShowTranslation(slot domain.Slot, result domain.Result)
	ShowQuestions(questions []string)
	ShowFailure(slot domain.Slot, message string)
}

// Coordinator turns terminal jobs into derived actions: audio results
// are spoken and feed question generation, other results and failures
// go straight to the presenter.
type Coordinator struct {
	store     *jobs.Store
	client    transport.Client
	endpoint  string
	pref      *language.Preference
	speaker   Speaker
	presenter Presenter
	log       logrus.FieldLogger
	newID     func() string
}

// Options carries the optional collaborators of NewCoordinator.
type Options struct {
	Speaker   Speaker
	Presenter Presenter
	Logger    logrus.FieldLogger
}

// NewCoordinator wires the coordinator to the store and the
// question-generation endpoint.
func NewCoordinator(
	store *jobs.Store,
	client transport.Client,
	questionEndpoint string,
	pref *language.Preference,
	opts Options,
) *Coordinator {
	c := &Coordinator{
		store:     store,
		client:    client,
		endpoint:  questionEndpoint,
		pref:      pref,
		speaker:   opts.Speaker,
		presenter: opts.Presenter,
		log:       opts.Logger,
		newID:     uuid.NewString,
	}
	if c.log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		c.log = l
	}
	if c.presenter == nil {
		c.presenter = nopPresenter{}
	}
	return c
}

// Attach subscribes to every slot. Derived work runs with ctx until the
// returned detach func is called.
func (c *Coordinator) Attach(ctx context.Context) func() {
	return c.store.SubscribeAll(func(ev jobs.Event) {
		c.handle(ctx, ev)
	})
}

func (c *Coordinator) handle(ctx context.Context, ev jobs.Event) {
	switch ev.Type {
	case jobs.EventTypeResult:
		if ev.Job.Result == nil {
			return
		}
		result := *ev.Job.Result
		switch ev.Slot {
		case domain.SlotAudioTranslate:
			c.onAudioCompleted(ctx, result)
		case domain.SlotImageTranslate:
			c.presenter.ShowTranslation(ev.Slot, result)
		case domain.SlotQuestionGeneration:
			c.presenter.ShowQuestions(result.Questions)
		}
	case jobs.EventTypeError:
		msg := ev.Job.ErrorMessage
		if strings.TrimSpace(msg) == "" {
			msg = DefaultFailureMessage
		}
		c.log.WithFields(logrus.Fields{"slot": ev.Slot, "job_id": ev.JobID, "status": ev.Status}).Warn(msg)
		c.presenter.ShowFailure(ev.Slot, msg)
	}
}

func (c *Coordinator) onAudioCompleted(ctx context.Context, result domain.Result) {
	c.presenter.ShowTranslation(domain.SlotAudioTranslate, result)

	if c.speaker != nil && result.TranslatedText != "" {
		voice := c.pref.VoiceCode()
		if err := c.speaker.Speak(ctx, result.TranslatedText, voice); err != nil {
			c.log.WithError(err).WithField("voice", voice).Warn("speech synthesis failed")
		}
	}

	symptoms := c.pref.SymptomText(result)
	if _, err := c.GenerateQuestions(ctx, symptoms); err != nil && errors.Is(err, domain.ErrPrecondition) {
		c.log.WithError(err).Warn("question generation skipped")
		c.presenter.ShowFailure(domain.SlotQuestionGeneration, err.Error())
	}
}

// GenerateQuestions runs a synchronous question-generation job for
// symptoms. Empty symptom text completes locally with FallbackQuestions.
// Backend failures are recorded on the job and returned with it.
func (c *Coordinator) GenerateQuestions(ctx context.Context, symptoms string) (domain.Job, error) {
	slot := domain.SlotQuestionGeneration
	res, err := c.store.Reserve(slot)
	if err != nil {
		return domain.Job{}, err
	}
	defer res.Release()

	job := domain.Job{
		ID:      c.newID(),
		Slot:    slot,
		Status:  domain.JobStatusSubmitted,
		Payload: domain.Payload{Data: symptoms},
	}
	if err := res.Put(job); err != nil {
		return domain.Job{}, err
	}
	log := c.log.WithFields(logrus.Fields{"slot": slot, "job_id": job.ID})

	if strings.TrimSpace(symptoms) == "" {
		log.Info("no symptom text, using fallback questions")
		return c.complete(slot, FallbackQuestions)
	}

	resp, err := c.client.Post(ctx, c.endpoint, map[string]string{"symptoms": symptoms})
	if err != nil {
		log.WithError(err).Warn("question generation request failed")
		return c.fail(slot, DefaultQuestionRejectedMessage)
	}
	if !resp.OK() {
		return c.fail(slot, resp.Message(DefaultQuestionRejectedMessage))
	}

	var data struct {
		Questions []string `json:"questions"`
	}
	if err := resp.Decode(&data); err != nil || len(data.Questions) == 0 {
		log.WithError(err).Warn("question generation returned no questions")
		return c.fail(slot, DefaultQuestionRejectedMessage)
	}
	log.WithField("questions", len(data.Questions)).Info("questions generated")
	return c.complete(slot, data.Questions)
}

func (c *Coordinator) complete(slot domain.Slot, questions []string) (domain.Job, error) {
	return c.store.Update(slot, func(j *domain.Job) error {
		j.Status = domain.JobStatusCompleted
		j.Result = &domain.Result{Questions: append([]string(nil), questions...)}
		return nil
	})
}

func (c *Coordinator) fail(slot domain.Slot, msg string) (domain.Job, error) {
	return c.store.Update(slot, func(j *domain.Job) error {
		j.Status = domain.JobStatusFailed
		j.ErrorMessage = msg
		return nil
	})
}

type nopPresenter struct{}

func (nopPresenter) ShowTranslation(domain.Slot, domain.Result) {}

func (nopPresenter) ShowQuestions([]string) {}

func (nopPresenter) ShowFailure(domain.Slot, string) {}

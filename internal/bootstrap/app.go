package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"translate-rx/internal/config"
	"translate-rx/internal/diagnostics"
	"translate-rx/internal/domain"
	"translate-rx/internal/history"
	"translate-rx/internal/jobs"
	"translate-rx/internal/language"
	"translate-rx/internal/logging"
	"translate-rx/internal/media"
	"translate-rx/internal/transport"
	"translate-rx/internal/workflow"
)

// ErrHistoryDisabled is returned by History when no journal is configured.
var ErrHistoryDisabled = errors.New("history is disabled")

// DefaultPollStartMessage is recorded on a job whose polling could not start.
const DefaultPollStartMessage = "Could not start checking on the submitted job."

// mediaLoader isolates media loading behind an interface.
type mediaLoader interface {
	Load(ctx context.Context, kind media.Kind, path string) (media.Payload, error)
}

// Options overrides collaborators of New. Zero fields use production
// implementations built from the loaded settings.
type Options struct {
	Store     config.Store
	Client    transport.Client
	Loader    mediaLoader
	Presenter workflow.Presenter
	Speaker   workflow.Speaker
	Logger    logrus.FieldLogger
	Language  *language.State
}

// App wires configuration, transport, jobs, workflow and history for one
// session.
type App struct {
	Store config.Store

	log      logrus.FieldLogger
	closeLog func()

	mu          sync.Mutex
	settings    domain.Settings
	diagnostics domain.DiagnosticReport
	checker     *diagnostics.Checker

	events    *jobs.EventBus
	jobs      *jobs.Store
	submitter *jobs.Submitter
	scheduler *jobs.Scheduler
	coord     *workflow.Coordinator
	pref      *language.Preference
	loader    mediaLoader
	journal   *history.Journal

	ctx    context.Context
	cancel context.CancelFunc
	detach []func()
}

// New builds a session from persisted settings.
func New(opts Options) (*App, error) {
	if opts.Store == nil {
		return nil, errors.New("settings store is required")
	}
	settings, err := opts.Store.Load()
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}

	a := &App{
		Store:    opts.Store,
		settings: settings,
		checker:  diagnostics.NewChecker(),
		events:   jobs.NewEventBus(1000),
		closeLog: func() {},
	}

	a.log = opts.Logger
	if a.log == nil {
		logger, closeLog, err := logging.New(settings.Logger)
		if err != nil {
			return nil, fmt.Errorf("configure logger: %w", err)
		}
		a.log, a.closeLog = logger, closeLog
	}

	client := opts.Client
	if client == nil {
		client = transport.NewHTTPClient(settings.Endpoints.BaseURL, transport.Options{
			Timeout:          settings.Transport.Timeout,
			BreakerFailures:  settings.Transport.BreakerFailures,
			BreakerOpenDelay: settings.Transport.BreakerOpenDelay,
			Logger:           a.log.WithField("component", "transport"),
		})
	}

	a.loader = opts.Loader
	if a.loader == nil {
		a.loader = media.NewLoader(settings.Media)
	}

	state, err := language.StateFromSettings(settings.Language)
	if err != nil {
		a.closeLog()
		return nil, err
	}
	if opts.Language != nil {
		state = *opts.Language
	}

	routes := jobs.RoutesFromEndpoints(settings.Endpoints)
	policies := make(map[domain.Slot]domain.PollingPolicy, len(routes))
	for slot := range routes {
		if policy, ok := settings.PolicyFor(slot); ok {
			policies[slot] = policy
		}
	}

	a.jobs = jobs.NewStore(a.events)
	a.submitter = jobs.NewSubmitter(a.jobs, client, routes, a.log.WithField("component", "submitter"))
	a.scheduler = jobs.NewScheduler(a.jobs, client, routes, policies, a.log.WithField("component", "scheduler"))
	a.pref = language.NewPreference(a.jobs, state)
	a.coord = workflow.NewCoordinator(a.jobs, client, settings.Endpoints.QuestionGenerator, a.pref, workflow.Options{
		Speaker:   opts.Speaker,
		Presenter: opts.Presenter,
		Logger:    a.log.WithField("component", "workflow"),
	})

	a.ctx, a.cancel = context.WithCancel(context.Background())
	a.detach = append(a.detach, a.coord.Attach(a.ctx))

	if path := strings.TrimSpace(settings.HistoryPath); path != "" {
		journal, err := history.Open(path)
		if err != nil {
			a.log.WithError(err).WithField("path", path).Warn("history disabled")
		} else {
			a.journal = journal
			a.detach = append(a.detach, journal.Attach(a.jobs, a.log.WithField("component", "history")))
		}
	}

	a.diagnostics = a.checker.Run(settings)
	return a, nil
}

// Translate loads the file at path, submits it to slot and starts
// polling in the background. The returned job is the Submitted record.
func (a *App) Translate(ctx context.Context, slot domain.Slot, path string) (domain.Job, error) {
	kind, ok := media.KindForSlot(slot)
	if !ok {
		return domain.Job{}, fmt.Errorf("%w: %s", jobs.ErrUnsupportedSlot, slot)
	}

	payload, err := a.loader.Load(ctx, kind, path)
	if err != nil {
		return domain.Job{}, err
	}

	lang := a.pref.SubmissionLanguage(slot)
	id, err := a.submitter.Submit(ctx, slot, payload.Data, lang)
	if err != nil {
		return domain.Job{}, err
	}
	if err := a.scheduler.Start(a.ctx, slot); err != nil && !errors.Is(err, jobs.ErrSchedulerActive) {
		return a.abandon(slot, id, err)
	}

	job, _ := a.jobs.Get(slot)
	return job, nil
}

// abandon fails a submitted job that no poller will drive, so the slot
// and the language toggles are not left locked.
func (a *App) abandon(slot domain.Slot, id string, cause error) (domain.Job, error) {
	a.log.WithError(cause).WithFields(logrus.Fields{"slot": slot, "job_id": id}).Error("polling did not start")
	job, err := a.jobs.Update(slot, func(j *domain.Job) error {
		if j.ID != id || j.Status.Terminal() {
			return jobs.ErrNoJob
		}
		j.Status = domain.JobStatusFailed
		j.ErrorMessage = DefaultPollStartMessage
		return nil
	})
	if err != nil {
		job, _ = a.jobs.Get(slot)
	}
	return job, fmt.Errorf("start polling %s: %w", slot, cause)
}

// TranslateAudio submits a recording for transcription and translation.
func (a *App) TranslateAudio(ctx context.Context, path string) (domain.Job, error) {
	return a.Translate(ctx, domain.SlotAudioTranslate, path)
}

// TranslateImage submits a photo for text extraction and translation.
func (a *App) TranslateImage(ctx context.Context, path string) (domain.Job, error) {
	return a.Translate(ctx, domain.SlotImageTranslate, path)
}

// Await blocks until the slot's polling loop exits. Audio results have
// already produced their question job when Await returns.
func (a *App) Await(slot domain.Slot) (domain.Job, error) {
	return a.scheduler.Wait(slot)
}

// Cancel stops polling for slot and keeps its record.
func (a *App) Cancel(slot domain.Slot) error {
	return a.scheduler.Cancel(slot)
}

// Clear stops polling for slot, if any, and discards its record.
func (a *App) Clear(slot domain.Slot) error {
	if err := a.scheduler.Cancel(slot); err != nil && !errors.Is(err, jobs.ErrNotRunning) {
		return err
	}
	return a.jobs.Clear(slot)
}

// GenerateQuestions runs question generation for free text.
func (a *App) GenerateQuestions(ctx context.Context, symptoms string) (domain.Job, error) {
	return a.coord.GenerateQuestions(ctx, symptoms)
}

// CurrentJob returns the slot's job, if any.
func (a *App) CurrentJob(slot domain.Slot) (domain.Job, bool) {
	return a.jobs.Get(slot)
}

// Jobs returns every current job ordered by slot.
func (a *App) Jobs() []domain.Job {
	return a.jobs.Snapshot()
}

// JobEvents returns all events with sequence greater than sinceSeq.
func (a *App) JobEvents(sinceSeq int64) []jobs.Event {
	return a.events.Since(sinceSeq)
}

// SlotEvents returns the slot's events with sequence greater than
// sinceSeq, and the oldest sequence still retained.
func (a *App) SlotEvents(slot domain.Slot, sinceSeq int64) ([]jobs.Event, int64) {
	return a.events.ForSlot(slot, sinceSeq), a.events.Oldest()
}

// Preferences returns the current language toggles.
func (a *App) Preferences() language.State {
	return a.pref.State()
}

// ToggleSourceSide swaps the speaking side.
func (a *App) ToggleSourceSide() (language.State, error) {
	return a.pref.ToggleSide()
}

// ToggleVariant swaps the target language.
func (a *App) ToggleVariant() (language.State, error) {
	return a.pref.ToggleVariant()
}

// SetVariant selects the target language by name.
func (a *App) SetVariant(raw string) (language.State, error) {
	v, err := language.ParseVariant(raw)
	if err != nil {
		return a.pref.State(), err
	}
	return a.pref.SetVariant(v)
}

// SetSourceSide selects the speaking side by name.
func (a *App) SetSourceSide(raw string) (language.State, error) {
	side, err := language.ParseSide(raw)
	if err != nil {
		return a.pref.State(), err
	}
	return a.pref.SetSide(side)
}

// History lists recorded jobs.
func (a *App) History(ctx context.Context, opts history.ListOptions) ([]history.Entry, error) {
	if a.journal == nil {
		return nil, ErrHistoryDisabled
	}
	return a.journal.List(ctx, opts)
}

// GetDiagnostics returns the latest cached diagnostics report.
func (a *App) GetDiagnostics() domain.DiagnosticReport {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.diagnostics
}

// RefreshDiagnostics reloads settings and reruns environment checks.
func (a *App) RefreshDiagnostics() (domain.DiagnosticReport, error) {
	settings, err := a.Store.Load()
	if err != nil {
		return domain.DiagnosticReport{}, fmt.Errorf("load settings: %w", err)
	}

	report := a.checker.Run(settings)
	a.mu.Lock()
	a.settings = settings
	a.diagnostics = report
	a.mu.Unlock()
	return report, nil
}

// GetSettings returns the settings this session runs with.
func (a *App) GetSettings() domain.Settings {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.settings
}

// SaveSettings normalizes and persists settings, then refreshes
// diagnostics. Endpoint, polling and language changes apply to the next
// session.
func (a *App) SaveSettings(settings domain.Settings) (domain.Settings, error) {
	normalized := normalizeSettings(settings)
	if err := a.Store.Save(normalized); err != nil {
		return domain.Settings{}, fmt.Errorf("save settings: %w", err)
	}

	report := a.checker.Run(normalized)
	a.mu.Lock()
	a.settings = normalized
	a.diagnostics = report
	a.mu.Unlock()
	return normalized, nil
}

// Close stops every polling loop and releases resources.
func (a *App) Close() error {
	a.scheduler.Shutdown()
	a.cancel()
	for _, detach := range a.detach {
		detach()
	}
	a.detach = nil

	var err error
	if a.journal != nil {
		err = a.journal.Close()
		a.journal = nil
	}
	a.closeLog()
	return err
}

// normalizeSettings trims user inputs.
func normalizeSettings(settings domain.Settings) domain.Settings {
	e := &settings.Endpoints
	e.BaseURL = strings.TrimSpace(e.BaseURL)
	e.AudioSubmit = strings.TrimSpace(e.AudioSubmit)
	e.AudioPoll = strings.TrimSpace(e.AudioPoll)
	e.ImageSubmit = strings.TrimSpace(e.ImageSubmit)
	e.ImagePoll = strings.TrimSpace(e.ImagePoll)
	e.QuestionGenerator = strings.TrimSpace(e.QuestionGenerator)
	settings.Language.Variant = strings.ToLower(strings.TrimSpace(settings.Language.Variant))
	settings.Language.SourceSide = strings.ToLower(strings.TrimSpace(settings.Language.SourceSide))
	settings.Media.FFmpegPath = strings.TrimSpace(settings.Media.FFmpegPath)
	settings.HistoryPath = strings.TrimSpace(settings.HistoryPath)
	return settings
}

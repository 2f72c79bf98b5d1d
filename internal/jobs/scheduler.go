package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"translate-rx/internal/domain"
	"translate-rx/internal/transport"
)

// Messages written to jobs when the backend gives none.
const (
	DefaultPollRejectedMessage = "Polling API returned an error."
	DefaultRemoteFailedMessage = "The backend could not process the request."
	DefaultTimeoutMessage      = "Timed out while waiting for translation to complete."
	DefaultMalformedMessage    = "Unexpected response from the backend."
)

// Scheduler drives submitted jobs to a terminal state by polling at a
// fixed interval with a bounded number of attempts.
type Scheduler struct {
	store    *Store
	client   transport.Client
	routes   map[domain.Slot]Route
	policies map[domain.Slot]domain.PollingPolicy
	log      logrus.FieldLogger
	sleep    func(ctx context.Context, d time.Duration) error

	mu       sync.Mutex
	running  map[domain.Slot]*pollRun
	finished map[domain.Slot]*pollRun
	runs     int
}

// pollRun tracks one background loop started by Start.
type pollRun struct {
	seq    int
	jobID  string
	cancel context.CancelFunc
	done   chan struct{}
	job    domain.Job
	err    error
}

// NewScheduler builds a scheduler with per-slot polling policies.
func NewScheduler(
	store *Store,
	client transport.Client,
	routes map[domain.Slot]Route,
	policies map[domain.Slot]domain.PollingPolicy,
	log logrus.FieldLogger,
) *Scheduler {
	return &Scheduler{
		store:    store,
		client:   client,
		routes:   routes,
		policies: policies,
		log:      log,
		sleep:    sleepContext,
		running:  make(map[domain.Slot]*pollRun),
		finished: make(map[domain.Slot]*pollRun),
	}
}

// Run polls the slot's current job until it is terminal or ctx is
// cancelled. Cancellation is checked before each round and leaves the
// record as-is, returning ErrCancelled.
func (s *Scheduler) Run(ctx context.Context, slot domain.Slot) (domain.Job, error) {
	route, ok := s.routes[slot]
	if !ok {
		return domain.Job{}, fmt.Errorf("%w: %s", ErrUnsupportedSlot, slot)
	}
	policy := s.policies[slot]
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}

	job, ok := s.store.Get(slot)
	if !ok {
		return domain.Job{}, ErrNoJob
	}
	if job.Status.Terminal() {
		return job, nil
	}
	if err := s.store.Acquire(slot, job.ID); err != nil {
		return job, err
	}
	defer s.store.Release(slot, job.ID)

	log := s.log.WithFields(logrus.Fields{"slot": slot, "job_id": job.ID})
	log.WithFields(logrus.Fields{"interval": policy.Interval, "max_attempts": policy.MaxAttempts}).Debug("polling started")

	for {
		if ctx.Err() != nil {
			current, _ := s.store.Get(slot)
			log.WithField("attempt", current.Attempt).Info("polling cancelled")
			return current, ErrCancelled
		}

		next, err := s.round(ctx, slot, route, policy, job.ID, log)
		if err != nil {
			return next, err
		}
		if next.Status.Terminal() {
			log.WithFields(logrus.Fields{"status": next.Status, "attempt": next.Attempt}).Info("job finished")
			return next, nil
		}

		_ = s.sleep(ctx, policy.Interval)
	}
}

// round issues one status request and applies the resulting transition.
func (s *Scheduler) round(
	ctx context.Context,
	slot domain.Slot,
	route Route,
	policy domain.PollingPolicy,
	jobID string,
	log logrus.FieldLogger,
) (domain.Job, error) {
	resp, err := s.client.Post(ctx, route.PollEndpoint, map[string]string{route.IDField: jobID})
	if err != nil {
		if ctx.Err() != nil {
			current, _ := s.store.Get(slot)
			return current, nil
		}
		if errors.Is(err, transport.ErrMalformedResponse) {
			log.WithError(err).Warn("malformed poll response")
			return s.fail(slot, domain.JobStatusFailed, DefaultMalformedMessage)
		}

		log.WithError(err).Warn("poll round failed, will retry")
		return s.store.Update(slot, func(j *domain.Job) error {
			j.Attempt++
			j.TransportFailures++
			if j.Attempt >= policy.MaxAttempts {
				j.Status = domain.JobStatusTimedOut
				j.ErrorMessage = DefaultTimeoutMessage
			}
			return nil
		})
	}

	if !resp.OK() {
		return s.fail(slot, domain.JobStatusFailed, resp.Message(DefaultPollRejectedMessage))
	}

	var data pollData
	if err := resp.Decode(&data); err != nil {
		log.WithError(err).Warn("poll response has no usable data")
		return s.fail(slot, domain.JobStatusFailed, DefaultMalformedMessage)
	}

	switch data.status() {
	case remoteStatusCompleted:
		result := data.result()
		return s.store.Update(slot, func(j *domain.Job) error {
			j.Status = domain.JobStatusCompleted
			j.Result = result
			return nil
		})
	case remoteStatusFailed:
		msg := data.Message
		if msg == "" {
			msg = resp.Message(DefaultRemoteFailedMessage)
		}
		return s.fail(slot, domain.JobStatusFailed, msg)
	case remoteStatusPending, remoteStatusProcessing:
		return s.advance(slot, policy)
	default:
		log.WithField("remote_status", data.Status).Debug("unrecognized status, continuing")
		return s.advance(slot, policy)
	}
}

// advance records one more in-progress round, timing out at the bound.
func (s *Scheduler) advance(slot domain.Slot, policy domain.PollingPolicy) (domain.Job, error) {
	return s.store.Update(slot, func(j *domain.Job) error {
		j.Attempt++
		j.Status = domain.JobStatusPending
		if j.Attempt >= policy.MaxAttempts {
			j.Status = domain.JobStatusTimedOut
			j.ErrorMessage = DefaultTimeoutMessage
		}
		return nil
	})
}

func (s *Scheduler) fail(slot domain.Slot, status domain.JobStatus, msg string) (domain.Job, error) {
	return s.store.Update(slot, func(j *domain.Job) error {
		j.Status = status
		j.ErrorMessage = msg
		return nil
	})
}

// Start runs the slot's polling loop in the background. A loop still
// registered for an earlier job of the slot does not block a new job: the
// store only accepts a new job after that loop released ownership.
func (s *Scheduler) Start(ctx context.Context, slot domain.Slot) error {
	if _, ok := s.routes[slot]; !ok {
		return fmt.Errorf("%w: %s", ErrUnsupportedSlot, slot)
	}
	job, _ := s.store.Get(slot)

	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.running[slot]; ok && prev.jobID == job.ID {
		return ErrSchedulerActive
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.runs++
	run := &pollRun{seq: s.runs, jobID: job.ID, cancel: cancel, done: make(chan struct{})}
	s.running[slot] = run

	go func() {
		job, err := s.Run(runCtx, slot)

		s.mu.Lock()
		run.job, run.err = job, err
		if s.running[slot] == run {
			delete(s.running, slot)
		}
		if last, ok := s.finished[slot]; !ok || last.seq < run.seq {
			s.finished[slot] = run
		}
		s.mu.Unlock()

		cancel()
		close(run.done)
	}()
	return nil
}

// Cancel stops the slot's background loop and waits for it to exit.
func (s *Scheduler) Cancel(slot domain.Slot) error {
	s.mu.Lock()
	run, ok := s.running[slot]
	s.mu.Unlock()
	if !ok {
		return ErrNotRunning
	}

	run.cancel()
	<-run.done
	return nil
}

// Wait blocks until the slot's background loop exits and returns its
// outcome. A loop that already exited reports its last outcome.
func (s *Scheduler) Wait(slot domain.Slot) (domain.Job, error) {
	s.mu.Lock()
	run, ok := s.running[slot]
	if !ok {
		run, ok = s.finished[slot]
	}
	s.mu.Unlock()
	if !ok {
		return domain.Job{}, ErrNotRunning
	}

	<-run.done
	return run.job, run.err
}

// Running reports whether a background loop is active for slot.
func (s *Scheduler) Running(slot domain.Slot) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.running[slot]
	return ok
}

// Shutdown cancels every background loop and waits for them.
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	runs := make([]*pollRun, 0, len(s.running))
	for _, run := range s.running {
		runs = append(runs, run)
	}
	s.mu.Unlock()

	for _, run := range runs {
		run.cancel()
		<-run.done
	}
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

package jobs

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"translate-rx/internal/domain"
	"translate-rx/internal/transport"
)

type sleepCounter struct {
	mu    sync.Mutex
	calls int
}

func (c *sleepCounter) sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	return ctx.Err()
}

func (c *sleepCounter) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func newTestScheduler(client *fakeClient, maxAttempts int) (*Scheduler, *Store, *sleepCounter) {
	store := NewStore(nil)
	policy := domain.PollingPolicy{Interval: time.Millisecond, MaxAttempts: maxAttempts}
	scheduler := NewScheduler(store, client, testRoutes(), map[domain.Slot]domain.PollingPolicy{
		domain.SlotAudioTranslate: policy,
		domain.SlotImageTranslate: policy,
	}, testLogger())
	counter := &sleepCounter{}
	scheduler.sleep = counter.sleep
	return scheduler, store, counter
}

// TestRunCompletesImageTranslation follows a job from submit to result.
func TestRunCompletesImageTranslation(t *testing.T) {
	client := newFakeClient()
	client.script("image-submit", envelope(200, `{"imageId":"img-1"}`))
	client.script("image-poll",
		pollStatus("PROCESSING"),
		pollStatus("PROCESSING"),
		envelope(200, `{"status":"COMPLETED","orginalText":"Hello","translation":"你好"}`),
	)
	scheduler, store, sleeps := newTestScheduler(client, 45)
	submitter := NewSubmitter(store, client, testRoutes(), testLogger())
	rec := &recorder{}
	_, err := store.Subscribe(domain.SlotImageTranslate, rec.handle)
	require.NoError(t, err)

	id, err := submitter.Submit(context.Background(), domain.SlotImageTranslate, []byte("jpeg"), "mandarin")
	require.NoError(t, err)

	job, err := scheduler.Run(context.Background(), domain.SlotImageTranslate)
	require.NoError(t, err)
	assert.Equal(t, id, job.ID)
	assert.Equal(t, domain.JobStatusCompleted, job.Status)
	assert.Equal(t, 2, job.Attempt)
	require.NotNil(t, job.Result)
	assert.Equal(t, "Hello", job.Result.OriginalText)
	assert.Equal(t, "你好", job.Result.TranslatedText)

	assert.Equal(t, 3, client.callCount("image-poll"))
	assert.Equal(t, map[string]string{"imageId": "img-1"}, client.lastCall().body)
	assert.Equal(t, 2, sleeps.count())
	assert.Equal(t, []domain.JobStatus{
		domain.JobStatusSubmitted,
		domain.JobStatusPending,
		domain.JobStatusPending,
		domain.JobStatusCompleted,
	}, rec.statuses())
	assert.False(t, store.HasActive())
}

// TestRunAcceptsTranscriptFields reads audio results from the older field names.
func TestRunAcceptsTranscriptFields(t *testing.T) {
	client := newFakeClient()
	client.script("audio-poll", envelope(200, `{"status":"completed","transcript":"my head hurts","translate":"me duele la cabeza"}`))
	scheduler, store, _ := newTestScheduler(client, 3)
	submittedJob(t, store, domain.SlotAudioTranslate, "tr-1")

	job, err := scheduler.Run(context.Background(), domain.SlotAudioTranslate)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, job.Status)
	assert.Equal(t, "my head hurts", job.Result.OriginalText)
	assert.Equal(t, "me duele la cabeza", job.Result.TranslatedText)
	assert.Equal(t, 0, job.Attempt)
}

// TestRunTimesOutAfterMaxAttempts bounds polling of a job that never finishes.
func TestRunTimesOutAfterMaxAttempts(t *testing.T) {
	const maxAttempts = 5
	client := newFakeClient()
	client.script("image-poll", pollStatus("PENDING"))
	scheduler, store, sleeps := newTestScheduler(client, maxAttempts)
	submittedJob(t, store, domain.SlotImageTranslate, "img-1")

	job, err := scheduler.Run(context.Background(), domain.SlotImageTranslate)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusTimedOut, job.Status)
	assert.Equal(t, maxAttempts, job.Attempt)
	assert.Equal(t, DefaultTimeoutMessage, job.ErrorMessage)
	assert.Nil(t, job.Result)
	assert.Equal(t, maxAttempts, client.callCount("image-poll"))
	assert.Equal(t, maxAttempts-1, sleeps.count())
}

// TestRunRetriesTransportFailures keeps polling through transient errors.
func TestRunRetriesTransportFailures(t *testing.T) {
	client := newFakeClient()
	client.script("image-poll",
		transportFailure(),
		transportFailure(),
		envelope(200, `{"status":"COMPLETED","orginalText":"Hola","translation":"Hello"}`),
	)
	scheduler, store, _ := newTestScheduler(client, 10)
	submittedJob(t, store, domain.SlotImageTranslate, "img-1")

	job, err := scheduler.Run(context.Background(), domain.SlotImageTranslate)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, job.Status)
	assert.Equal(t, 2, job.Attempt)
	assert.Equal(t, 2, job.TransportFailures)
}

// TestRunTransportFailuresCountTowardBound times out when the backend stays unreachable.
func TestRunTransportFailuresCountTowardBound(t *testing.T) {
	client := newFakeClient()
	client.script("image-poll", transportFailure())
	scheduler, store, _ := newTestScheduler(client, 3)
	submittedJob(t, store, domain.SlotImageTranslate, "img-1")

	job, err := scheduler.Run(context.Background(), domain.SlotImageTranslate)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusTimedOut, job.Status)
	assert.Equal(t, 3, job.Attempt)
	assert.Equal(t, 3, job.TransportFailures)
	assert.Equal(t, 3, client.callCount("image-poll"))
}

// TestRunFailureOutcomes covers contract errors and backend failures.
func TestRunFailureOutcomes(t *testing.T) {
	cases := []struct {
		name    string
		reply   fakeReply
		message string
	}{
		{"contract error with message", envelope(500, `null`, "Invalid imageId"), "Invalid imageId"},
		{"contract error without message", envelope(404, `null`), DefaultPollRejectedMessage},
		{"remote failed with message", envelope(200, `{"status":"FAILED","message":"unreadable image"}`), "unreadable image"},
		{"remote failed without message", pollStatus("FAILED"), DefaultRemoteFailedMessage},
		{"missing data", envelope(200, `null`), DefaultMalformedMessage},
		{"gateway page without envelope", fakeReply{err: fmt.Errorf("%w: status 404", transport.ErrMalformedResponse)}, DefaultMalformedMessage},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client := newFakeClient()
			client.script("image-poll", tc.reply)
			scheduler, store, sleeps := newTestScheduler(client, 10)
			submittedJob(t, store, domain.SlotImageTranslate, "img-1")

			job, err := scheduler.Run(context.Background(), domain.SlotImageTranslate)
			require.NoError(t, err)
			assert.Equal(t, domain.JobStatusFailed, job.Status)
			assert.Equal(t, tc.message, job.ErrorMessage)
			assert.Nil(t, job.Result)
			assert.Equal(t, 1, client.callCount("image-poll"))
			assert.Zero(t, sleeps.count())
		})
	}
}

// TestRunUnknownStatusKeepsPolling treats unrecognized statuses as in progress.
func TestRunUnknownStatusKeepsPolling(t *testing.T) {
	client := newFakeClient()
	client.script("image-poll",
		pollStatus("QUEUED"),
		envelope(200, `{"status":"COMPLETED","orginalText":"a","translation":"b"}`),
	)
	scheduler, store, _ := newTestScheduler(client, 10)
	submittedJob(t, store, domain.SlotImageTranslate, "img-1")

	job, err := scheduler.Run(context.Background(), domain.SlotImageTranslate)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, job.Status)
	assert.Equal(t, 1, job.Attempt)
}

// TestRunCancelledContextLeavesJob stops before the first round.
func TestRunCancelledContextLeavesJob(t *testing.T) {
	client := newFakeClient()
	client.script("image-poll", pollStatus("PENDING"))
	scheduler, store, _ := newTestScheduler(client, 10)
	before := submittedJob(t, store, domain.SlotImageTranslate, "img-1")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	job, err := scheduler.Run(ctx, domain.SlotImageTranslate)
	require.ErrorIs(t, err, ErrCancelled)
	assert.Equal(t, before, job)
	assert.Zero(t, client.callCount("image-poll"))

	require.NoError(t, store.Clear(domain.SlotImageTranslate), "cancelled job is no longer owned")
}

// TestRunWithoutJob reports an empty slot.
func TestRunWithoutJob(t *testing.T) {
	scheduler, _, _ := newTestScheduler(newFakeClient(), 10)
	_, err := scheduler.Run(context.Background(), domain.SlotImageTranslate)
	assert.ErrorIs(t, err, ErrNoJob)

	_, err = scheduler.Run(context.Background(), domain.SlotQuestionGeneration)
	assert.ErrorIs(t, err, ErrUnsupportedSlot)
}

// TestRunSingleSchedulerPerJob rejects a second loop for an owned job.
func TestRunSingleSchedulerPerJob(t *testing.T) {
	client := newFakeClient()
	client.script("image-poll", pollStatus("PENDING"))
	scheduler, store, _ := newTestScheduler(client, 1000)
	submittedJob(t, store, domain.SlotImageTranslate, "img-1")

	started := make(chan struct{})
	var once sync.Once
	scheduler.sleep = func(ctx context.Context, d time.Duration) error {
		once.Do(func() { close(started) })
		<-ctx.Done()
		return ctx.Err()
	}

	require.NoError(t, scheduler.Start(context.Background(), domain.SlotImageTranslate))
	<-started

	_, err := scheduler.Run(context.Background(), domain.SlotImageTranslate)
	assert.ErrorIs(t, err, ErrSchedulerActive)
	assert.ErrorIs(t, scheduler.Start(context.Background(), domain.SlotImageTranslate), ErrSchedulerActive)

	require.NoError(t, scheduler.Cancel(domain.SlotImageTranslate))
	assert.False(t, scheduler.Running(domain.SlotImageTranslate))
}

// TestStartReplacesExitingLoop starts a new job while the previous job's
// loop is still unregistering.
func TestStartReplacesExitingLoop(t *testing.T) {
	client := newFakeClient()
	client.script("image-poll", envelope(200, `{"status":"COMPLETED","orginalText":"a","translation":"b"}`))
	scheduler, store, _ := newTestScheduler(client, 3)
	scheduler.running[domain.SlotImageTranslate] = &pollRun{jobID: "img-0", cancel: func() {}, done: make(chan struct{})}
	submittedJob(t, store, domain.SlotImageTranslate, "img-1")

	require.NoError(t, scheduler.Start(context.Background(), domain.SlotImageTranslate))
	job, err := scheduler.Wait(domain.SlotImageTranslate)
	require.NoError(t, err)
	assert.Equal(t, "img-1", job.ID)
	assert.Equal(t, domain.JobStatusCompleted, job.Status)
	assert.False(t, store.HasActive())
}

// TestResubmitFromTerminalSubscriber polls a job submitted as soon as the
// previous one finished.
func TestResubmitFromTerminalSubscriber(t *testing.T) {
	slot := domain.SlotImageTranslate
	client := newFakeClient()
	client.script("image-submit", envelope(200, `{"imageId":"img-2"}`))
	client.script("image-poll", envelope(200, `{"status":"COMPLETED","orginalText":"a","translation":"b"}`))
	scheduler, store, _ := newTestScheduler(client, 3)
	submitter := NewSubmitter(store, client, testRoutes(), testLogger())
	submittedJob(t, store, slot, "img-1")

	restarted := make(chan error, 1)
	var once sync.Once
	unsub, err := store.Subscribe(slot, func(ev Event) {
		if ev.JobID != "img-1" || !ev.Status.Terminal() {
			return
		}
		once.Do(func() {
			go func() {
				for {
					_, err := submitter.Submit(context.Background(), slot, []byte("jpeg"), "spanish")
					if errors.Is(err, ErrAlreadyInFlight) {
						runtime.Gosched()
						continue
					}
					if err != nil {
						restarted <- err
						return
					}
					restarted <- scheduler.Start(context.Background(), slot)
					return
				}
			}()
		})
	})
	require.NoError(t, err)
	defer unsub()

	require.NoError(t, scheduler.Start(context.Background(), slot))
	require.NoError(t, <-restarted)

	job, err := scheduler.Wait(slot)
	require.NoError(t, err)
	assert.Equal(t, "img-2", job.ID)
	assert.Equal(t, domain.JobStatusCompleted, job.Status)
	assert.False(t, store.HasActive())
}

// TestStartRejectsUnsupportedSlot refuses slots without a poll route.
func TestStartRejectsUnsupportedSlot(t *testing.T) {
	scheduler, _, _ := newTestScheduler(newFakeClient(), 3)
	assert.ErrorIs(t, scheduler.Start(context.Background(), domain.SlotQuestionGeneration), ErrUnsupportedSlot)
	assert.False(t, scheduler.Running(domain.SlotQuestionGeneration))
}

// TestStartCancelStopsLoop cancels a running background loop.
func TestStartCancelStopsLoop(t *testing.T) {
	client := newFakeClient()
	client.script("image-poll", pollStatus("PROCESSING"))
	scheduler, store, _ := newTestScheduler(client, 1000)
	submittedJob(t, store, domain.SlotImageTranslate, "img-1")

	started := make(chan struct{})
	var once sync.Once
	scheduler.sleep = func(ctx context.Context, d time.Duration) error {
		once.Do(func() { close(started) })
		<-ctx.Done()
		return ctx.Err()
	}

	require.NoError(t, scheduler.Start(context.Background(), domain.SlotImageTranslate))
	<-started
	assert.True(t, scheduler.Running(domain.SlotImageTranslate))

	require.NoError(t, scheduler.Cancel(domain.SlotImageTranslate))
	assert.ErrorIs(t, scheduler.Cancel(domain.SlotImageTranslate), ErrNotRunning)

	job, ok := store.Get(domain.SlotImageTranslate)
	require.True(t, ok)
	assert.Equal(t, domain.JobStatusPending, job.Status)
	assert.Equal(t, 1, job.Attempt)
	assert.Equal(t, 1, client.callCount("image-poll"))
}

// TestStartWaitReturnsOutcome exposes the background result.
func TestStartWaitReturnsOutcome(t *testing.T) {
	client := newFakeClient()
	client.script("audio-poll", envelope(200, `{"status":"COMPLETED","transcript":"hi","translate":"hola"}`))
	scheduler, store, _ := newTestScheduler(client, 3)
	submittedJob(t, store, domain.SlotAudioTranslate, "tr-1")

	_, err := scheduler.Wait(domain.SlotAudioTranslate)
	require.ErrorIs(t, err, ErrNotRunning)

	require.NoError(t, scheduler.Start(context.Background(), domain.SlotAudioTranslate))
	job, err := scheduler.Wait(domain.SlotAudioTranslate)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, job.Status)
	assert.Equal(t, "hola", job.Result.TranslatedText)
	assert.False(t, scheduler.Running(domain.SlotAudioTranslate))
}

// TestShutdownStopsAllLoops cancels every background loop.
func TestShutdownStopsAllLoops(t *testing.T) {
	client := newFakeClient()
	client.script("image-poll", pollStatus("PENDING"))
	client.script("audio-poll", pollStatus("PENDING"))
	scheduler, store, _ := newTestScheduler(client, 1000)
	submittedJob(t, store, domain.SlotImageTranslate, "img-1")
	submittedJob(t, store, domain.SlotAudioTranslate, "tr-1")
	scheduler.sleep = func(ctx context.Context, d time.Duration) error {
		<-ctx.Done()
		return ctx.Err()
	}

	require.NoError(t, scheduler.Start(context.Background(), domain.SlotImageTranslate))
	require.NoError(t, scheduler.Start(context.Background(), domain.SlotAudioTranslate))

	scheduler.Shutdown()
	assert.False(t, scheduler.Running(domain.SlotImageTranslate))
	assert.False(t, scheduler.Running(domain.SlotAudioTranslate))

	job, err := scheduler.Wait(domain.SlotImageTranslate)
	assert.ErrorIs(t, err, ErrCancelled)
	assert.False(t, job.Status.Terminal())
}

// TestSleepContextHonoursCancel returns early on cancellation.
func TestSleepContextHonoursCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	err := sleepContext(ctx, time.Minute)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
	assert.NoError(t, sleepContext(context.Background(), 0))
}

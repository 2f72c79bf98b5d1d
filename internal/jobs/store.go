package jobs

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"translate-rx/internal/domain"
)

// Handler observes transitions of one slot. Handlers run synchronously in
// transition order and must not mutate the slot they observe.
type Handler func(Event)

// Store maps each slot to at most one job record and serializes all
// mutations per slot.
type Store struct {
	slots map[domain.Slot]*slotState
	bus   *EventBus
	now   func() time.Time
}

type slotState struct {
	mu sync.Mutex
	// deliver is taken before mu is released so handlers observe
	// transitions in commit order.
	deliver sync.Mutex

	job      *domain.Job
	reserved bool
	// token identifies the current reservation.
	token    int
	owner    string
	handlers map[int]Handler
	nextID   int
}

// NewStore creates an empty store publishing every transition to bus.
func NewStore(bus *EventBus) *Store {
	if bus == nil {
		bus = NewEventBus(0)
	}
	slots := make(map[domain.Slot]*slotState, len(domain.Slots))
	for _, slot := range domain.Slots {
		slots[slot] = &slotState{handlers: make(map[int]Handler)}
	}
	return &Store{
		slots: slots,
		bus:   bus,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Get returns a snapshot of the slot's job.
func (s *Store) Get(slot domain.Slot) (domain.Job, bool) {
	st, ok := s.slots[slot]
	if !ok {
		return domain.Job{}, false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.job == nil {
		return domain.Job{}, false
	}
	return st.job.Clone(), true
}

// Put records a freshly submitted job. The slot must be empty or hold a
// terminal job and must not be reserved by a submission in progress.
func (s *Store) Put(slot domain.Slot, job domain.Job) error {
	return s.put(slot, job, 0)
}

// put commits job; token is the caller's reservation, 0 for none.
func (s *Store) put(slot domain.Slot, job domain.Job, token int) error {
	if job.Slot == "" {
		job.Slot = slot
	}
	if job.Slot != slot {
		return fmt.Errorf("%w: job slot %s does not match %s", ErrInvalidTransition, job.Slot, slot)
	}
	if job.ID == "" {
		return ErrMissingJobID
	}
	if job.Status != domain.JobStatusSubmitted || job.Attempt != 0 || job.Result != nil || job.ErrorMessage != "" {
		return fmt.Errorf("%w: new jobs start submitted with no attempts", ErrInvalidTransition)
	}

	_, err := s.mutate(slot, func(st *slotState) (Event, error) {
		if st.job != nil && !st.job.Status.Terminal() {
			return Event{}, ErrAlreadyInFlight
		}
		if st.owner != "" {
			return Event{}, ErrSchedulerActive
		}
		if st.reserved && st.token != token {
			return Event{}, ErrAlreadyInFlight
		}

		now := s.now()
		if job.CreatedAt.IsZero() {
			job.CreatedAt = now
		}
		job.UpdatedAt = now
		stored := job.Clone()
		st.job = &stored
		st.reserved = false
		return eventFor(stored, "job submitted"), nil
	})
	return err
}

// Update applies mutate to a copy of the slot's job and commits it when
// the result is a valid transition.
func (s *Store) Update(slot domain.Slot, mutate func(*domain.Job) error) (domain.Job, error) {
	ev, err := s.mutate(slot, func(st *slotState) (Event, error) {
		if st.job == nil {
			return Event{}, ErrNoJob
		}
		current := *st.job
		next := current.Clone()
		if err := mutate(&next); err != nil {
			return Event{}, err
		}
		if err := checkTransition(current, next); err != nil {
			return Event{}, err
		}

		next.UpdatedAt = s.now()
		st.job = &next
		return eventFor(next.Clone(), ""), nil
	})
	if err != nil {
		return domain.Job{}, err
	}
	return ev.Job, nil
}

// Clear removes the slot's job. Absent and terminal jobs may always be
// cleared; a live job only once no scheduler owns it.
func (s *Store) Clear(slot domain.Slot) error {
	st, ok := s.slots[slot]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSlot, slot)
	}
	st.mu.Lock()
	if st.job == nil {
		st.mu.Unlock()
		return nil
	}
	st.mu.Unlock()

	_, err := s.mutate(slot, func(st *slotState) (Event, error) {
		if st.job == nil {
			return Event{Slot: slot, Type: EventTypeCleared}, nil
		}
		if !st.job.Status.Terminal() && st.owner != "" {
			return Event{}, ErrNotTerminal
		}
		ev := Event{Slot: slot, JobID: st.job.ID, Type: EventTypeCleared, Message: "job cleared"}
		st.job = nil
		return ev, nil
	})
	return err
}

// Subscribe registers h for every transition of slot. The returned func
// removes the registration.
func (s *Store) Subscribe(slot domain.Slot, h Handler) (func(), error) {
	st, ok := s.slots[slot]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSlot, slot)
	}
	st.mu.Lock()
	id := st.nextID
	st.nextID++
	st.handlers[id] = h
	st.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			st.mu.Lock()
			delete(st.handlers, id)
			st.mu.Unlock()
		})
	}, nil
}

// SubscribeAll registers h on every slot.
func (s *Store) SubscribeAll(h Handler) func() {
	unsubs := make([]func(), 0, len(domain.Slots))
	for _, slot := range domain.Slots {
		unsub, _ := s.Subscribe(slot, h)
		unsubs = append(unsubs, unsub)
	}
	return func() {
		for _, unsub := range unsubs {
			unsub()
		}
	}
}

// Reservation holds a slot for one submission that has not produced a
// job yet. Only its holder can Put into the slot until it is released.
type Reservation struct {
	store *Store
	slot  domain.Slot
	st    *slotState
	token int
	once  sync.Once
}

// Reserve claims the slot for a submission. Callers must Release the
// reservation; Release is a no-op once Put consumed it.
func (s *Store) Reserve(slot domain.Slot) (*Reservation, error) {
	st, ok := s.slots[slot]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSlot, slot)
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.reserved || st.owner != "" || (st.job != nil && !st.job.Status.Terminal()) {
		return nil, ErrAlreadyInFlight
	}
	st.reserved = true
	st.token++
	return &Reservation{store: s, slot: slot, st: st, token: st.token}, nil
}

// Put records the reserved submission's job and consumes the reservation.
func (r *Reservation) Put(job domain.Job) error {
	return r.store.put(r.slot, job, r.token)
}

// Release frees the slot unless Put already consumed the reservation or a
// newer one replaced it.
func (r *Reservation) Release() {
	r.once.Do(func() {
		r.st.mu.Lock()
		if r.st.token == r.token {
			r.st.reserved = false
		}
		r.st.mu.Unlock()
	})
}

// Acquire marks jobID's scheduler as the single owner of slot.
func (s *Store) Acquire(slot domain.Slot, jobID string) error {
	st, ok := s.slots[slot]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSlot, slot)
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.job == nil || st.job.ID != jobID {
		return ErrNoJob
	}
	if st.job.Status.Terminal() {
		return fmt.Errorf("%w: job %s is %s", ErrInvalidTransition, jobID, st.job.Status)
	}
	if st.owner != "" {
		return ErrSchedulerActive
	}
	st.owner = jobID
	return nil
}

// Release drops ownership taken by Acquire.
func (s *Store) Release(slot domain.Slot, jobID string) {
	st, ok := s.slots[slot]
	if !ok {
		return
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.owner == jobID {
		st.owner = ""
	}
}

// HasActive reports whether any slot holds a non-terminal job or a
// pending submission.
func (s *Store) HasActive() bool {
	for _, st := range s.slots {
		st.mu.Lock()
		active := st.reserved || (st.job != nil && !st.job.Status.Terminal())
		st.mu.Unlock()
		if active {
			return true
		}
	}
	return false
}

// Snapshot returns copies of all stored jobs ordered by slot.
func (s *Store) Snapshot() []domain.Job {
	out := make([]domain.Job, 0, len(s.slots))
	for _, slot := range domain.Slots {
		if job, ok := s.Get(slot); ok {
			out = append(out, job)
		}
	}
	return out
}

// Events returns transitions with sequence greater than since.
func (s *Store) Events(since int64) []Event {
	return s.bus.Since(since)
}

// mutate runs fn under the slot lock, then publishes and delivers the
// resulting event while still holding the delivery lock.
func (s *Store) mutate(slot domain.Slot, fn func(st *slotState) (Event, error)) (Event, error) {
	st, ok := s.slots[slot]
	if !ok {
		return Event{}, fmt.Errorf("%w: %s", ErrUnknownSlot, slot)
	}

	st.mu.Lock()
	ev, err := fn(st)
	if err != nil {
		st.mu.Unlock()
		return Event{}, err
	}
	handlers := st.orderedHandlers()
	st.deliver.Lock()
	st.mu.Unlock()
	defer st.deliver.Unlock()

	ev = s.bus.Publish(ev)
	for _, h := range handlers {
		h(ev)
	}
	return ev, nil
}

func (st *slotState) orderedHandlers() []Handler {
	ids := make([]int, 0, len(st.handlers))
	for id := range st.handlers {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	out := make([]Handler, 0, len(ids))
	for _, id := range ids {
		out = append(out, st.handlers[id])
	}
	return out
}

// eventFor builds the transition event for a committed job snapshot.
func eventFor(job domain.Job, message string) Event {
	ev := Event{
		Slot:    job.Slot,
		JobID:   job.ID,
		Type:    EventTypeStatus,
		Status:  job.Status,
		Attempt: job.Attempt,
		Message: message,
		Job:     job,
	}
	switch job.Status {
	case domain.JobStatusCompleted:
		ev.Type = EventTypeResult
	case domain.JobStatusFailed, domain.JobStatusTimedOut:
		ev.Type = EventTypeError
		ev.Message = job.ErrorMessage
	}
	if ev.Message == "" {
		ev.Message = fmt.Sprintf("%s (attempt %d)", job.Status, job.Attempt)
	}
	return ev
}

// checkTransition enforces the job state machine and record invariants.
func checkTransition(current, next domain.Job) error {
	if next.ID != current.ID || next.Slot != current.Slot || next.Payload != current.Payload {
		return fmt.Errorf("%w: identity and payload are immutable", ErrInvalidTransition)
	}
	if !current.CreatedAt.Equal(next.CreatedAt) {
		return fmt.Errorf("%w: createdAt is immutable", ErrInvalidTransition)
	}
	if !isValidTransition(current.Status, next.Status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.Status, next.Status)
	}
	if next.Attempt < current.Attempt || next.TransportFailures < current.TransportFailures {
		return fmt.Errorf("%w: attempt counters cannot decrease", ErrInvalidTransition)
	}
	if (next.Status == domain.JobStatusCompleted) != (next.Result != nil) {
		return fmt.Errorf("%w: result is set iff completed", ErrInvalidTransition)
	}
	failed := next.Status == domain.JobStatusFailed || next.Status == domain.JobStatusTimedOut
	if failed != (next.ErrorMessage != "") {
		return fmt.Errorf("%w: error message is set iff failed or timed out", ErrInvalidTransition)
	}
	return nil
}

// isValidTransition enforces the allowed job state machine edges.
func isValidTransition(from, to domain.JobStatus) bool {
	switch from {
	case domain.JobStatusSubmitted:
		return to == domain.JobStatusSubmitted || to == domain.JobStatusPending || to.Terminal()
	case domain.JobStatusPending:
		return to == domain.JobStatusPending || to.Terminal()
	default:
		return false
	}
}

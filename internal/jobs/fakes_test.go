package jobs

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"

	"translate-rx/internal/domain"
	"translate-rx/internal/transport"
)

// fakeReply is one scripted transport outcome.
type fakeReply struct {
	resp transport.Response
	err  error
}

// fakeCall records one request made through fakeClient.
type fakeCall struct {
	endpoint string
	body     map[string]string
}

// fakeClient replays scripted replies per endpoint; the last reply repeats.
type fakeClient struct {
	mu      sync.Mutex
	replies map[string][]fakeReply
	calls   []fakeCall
}

func newFakeClient() *fakeClient {
	return &fakeClient{replies: make(map[string][]fakeReply)}
}

func (f *fakeClient) script(endpoint string, replies ...fakeReply) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies[endpoint] = append(f.replies[endpoint], replies...)
}

// Post returns the next scripted reply for endpoint.
func (f *fakeClient) Post(ctx context.Context, endpoint string, body any) (transport.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	call := fakeCall{endpoint: endpoint}
	if m, ok := body.(map[string]string); ok {
		call.body = m
	}
	f.calls = append(f.calls, call)

	queue := f.replies[endpoint]
	if len(queue) == 0 {
		return transport.Response{}, &transport.Error{Endpoint: endpoint, Err: context.DeadlineExceeded}
	}
	reply := queue[0]
	if len(queue) > 1 {
		f.replies[endpoint] = queue[1:]
	}
	return reply.resp, reply.err
}

func (f *fakeClient) callCount(endpoint string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.endpoint == endpoint {
			n++
		}
	}
	return n
}

func (f *fakeClient) lastCall() fakeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.calls) == 0 {
		return fakeCall{}
	}
	return f.calls[len(f.calls)-1]
}

// envelope builds a response envelope with raw JSON data.
func envelope(status int, data string, errs ...string) fakeReply {
	return fakeReply{resp: transport.Response{StatusCode: status, Data: json.RawMessage(data), Error: errs}}
}

func pollStatus(status string) fakeReply {
	return envelope(200, `{"status":"`+status+`"}`)
}

func transportFailure() fakeReply {
	return fakeReply{err: &transport.Error{Endpoint: "poll", Err: context.DeadlineExceeded}}
}

func testLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

func testRoutes() map[domain.Slot]Route {
	return RoutesFromEndpoints(domain.Endpoints{
		AudioSubmit: "audio-submit",
		AudioPoll:   "audio-poll",
		ImageSubmit: "image-submit",
		ImagePoll:   "image-poll",
	})
}

// submittedJob seeds the store with a fresh job for slot.
func submittedJob(t *testing.T, store *Store, slot domain.Slot, id string) domain.Job {
	t.Helper()
	job := domain.Job{
		ID:      id,
		Slot:    slot,
		Status:  domain.JobStatusSubmitted,
		Payload: domain.Payload{Data: "aGVsbG8=", Language: "mandarin"},
	}
	if err := store.Put(slot, job); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, _ := store.Get(slot)
	return got
}

// recorder collects delivered events.
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) handle(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) statuses() []domain.JobStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.JobStatus, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Status)
	}
	return out
}

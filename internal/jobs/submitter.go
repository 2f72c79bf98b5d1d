package jobs

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/sirupsen/logrus"

	"translate-rx/internal/domain"
	"translate-rx/internal/transport"
)

// DefaultSubmitRejectedMessage is used when a rejected submission carries no error text.
const DefaultSubmitRejectedMessage = "Invoke API returned an error."

// Submitter turns captured media into a Submitted job.
type Submitter struct {
	store  *Store
	client transport.Client
	routes map[domain.Slot]Route
	log    logrus.FieldLogger
}

// NewSubmitter wires a submitter to the store and transport.
func NewSubmitter(store *Store, client transport.Client, routes map[domain.Slot]Route, log logrus.FieldLogger) *Submitter {
	return &Submitter{store: store, client: client, routes: routes, log: log}
}

// Submit sends media to the slot's submit endpoint and records the new
// job as Submitted. It never starts polling.
func (s *Submitter) Submit(ctx context.Context, slot domain.Slot, media []byte, language string) (string, error) {
	route, ok := s.routes[slot]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedSlot, slot)
	}
	if len(media) == 0 {
		return "", ErrEmptyMedia
	}

	res, err := s.store.Reserve(slot)
	if err != nil {
		return "", err
	}
	defer res.Release()

	encoded := base64.StdEncoding.EncodeToString(media)
	log := s.log.WithFields(logrus.Fields{"slot": slot, "language": language, "bytes": len(media)})
	log.Debug("submitting job")

	resp, err := s.client.Post(ctx, route.SubmitEndpoint, map[string]string{
		route.MediaField: encoded,
		"language":       language,
	})
	if err != nil {
		log.WithError(err).Warn("submission failed")
		return "", fmt.Errorf("submit %s: %w", slot, err)
	}
	if !resp.OK() {
		rejected := &BackendRejectedError{
			Slot:       slot,
			StatusCode: resp.StatusCode,
			Message:    resp.Message(DefaultSubmitRejectedMessage),
		}
		log.WithError(rejected).Warn("submission rejected")
		return "", rejected
	}

	var data map[string]any
	_ = resp.Decode(&data)
	id, _ := data[route.IDField].(string)
	if id == "" {
		return "", fmt.Errorf("%w: failed to get %s", ErrMissingJobID, route.IDField)
	}

	job := domain.Job{
		ID:     id,
		Slot:   slot,
		Status: domain.JobStatusSubmitted,
		Payload: domain.Payload{
			Data:     encoded,
			Language: language,
		},
	}
	if err := res.Put(job); err != nil {
		return "", err
	}

	log.WithField("job_id", id).Info("job submitted")
	return id, nil
}

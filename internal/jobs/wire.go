package jobs

import (
	"strings"

	"translate-rx/internal/domain"
)

// Backend status values reported by poll responses.
const (
	remoteStatusPending    = "PENDING"
	remoteStatusProcessing = "PROCESSING"
	remoteStatusCompleted  = "COMPLETED"
	remoteStatusFailed     = "FAILED"
)

// Route describes the wire shape of one asynchronous slot.
type Route struct {
	SubmitEndpoint string
	PollEndpoint   string
	// MediaField carries the base64 media in the submit body.
	MediaField string
	// IDField names the job identifier in responses and poll bodies.
	IDField string
}

// RoutesFromEndpoints maps configured endpoints onto the translate slots.
func RoutesFromEndpoints(e domain.Endpoints) map[domain.Slot]Route {
	return map[domain.Slot]Route{
		domain.SlotAudioTranslate: {
			SubmitEndpoint: e.AudioSubmit,
			PollEndpoint:   e.AudioPoll,
			MediaField:     "audio",
			IDField:        "transcriptId",
		},
		domain.SlotImageTranslate: {
			SubmitEndpoint: e.ImageSubmit,
			PollEndpoint:   e.ImagePoll,
			MediaField:     "imageBytes",
			IDField:        "imageId",
		},
	}
}

// pollData is the data member of a poll response. The backend spells
// the original text key "orginalText"; audio responses from the older
// transcriber use transcript/translate.
type pollData struct {
	Status       string `json:"status"`
	OrginalText  string `json:"orginalText"`
	OriginalText string `json:"originalText"`
	Translation  string `json:"translation"`
	Transcript   string `json:"transcript"`
	Translate    string `json:"translate"`
	Message      string `json:"message"`
}

func (d pollData) status() string {
	return strings.ToUpper(strings.TrimSpace(d.Status))
}

func (d pollData) result() *domain.Result {
	return &domain.Result{
		OriginalText:   firstNonEmpty(d.OrginalText, d.OriginalText, d.Transcript),
		TranslatedText: firstNonEmpty(d.Translation, d.Translate),
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

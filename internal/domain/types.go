package domain

import (
	"fmt"
	"strings"
	"time"
)

// Slot identifies the workflow that owns a job.
type Slot string

const (
	SlotAudioTranslate     Slot = "audio-translate"
	SlotImageTranslate     Slot = "image-translate"
	SlotQuestionGeneration Slot = "question-gen"
)

// Slots lists every known workflow slot.
var Slots = []Slot{SlotAudioTranslate, SlotImageTranslate, SlotQuestionGeneration}

// Valid reports whether s is a known slot.
func (s Slot) Valid() bool {
	switch s {
	case SlotAudioTranslate, SlotImageTranslate, SlotQuestionGeneration:
		return true
	default:
		return false
	}
}

// ParseSlot maps user input such as "audio" or "image-translate" to a slot.
func ParseSlot(raw string) (Slot, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "audio", string(SlotAudioTranslate):
		return SlotAudioTranslate, nil
	case "image", string(SlotImageTranslate):
		return SlotImageTranslate, nil
	case "questions", "question", string(SlotQuestionGeneration):
		return SlotQuestionGeneration, nil
	default:
		return "", fmt.Errorf("unknown slot: %q", raw)
	}
}

// JobStatus tracks the remote lifecycle of one asynchronous job.
type JobStatus string

const (
	JobStatusSubmitted JobStatus = "submitted"
	JobStatusPending   JobStatus = "pending"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusTimedOut  JobStatus = "timed_out"
)

// Terminal reports whether no further transitions are possible.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusTimedOut:
		return true
	default:
		return false
	}
}

// Payload is the immutable submission input of a job.
type Payload struct {
	// Data is base64 media for translate slots and symptom text for
	// question generation.
	Data     string `json:"-"`
	Language string `json:"language,omitempty"`
}

// Result holds the output of a completed job. Translate slots fill the
// text fields, question generation fills Questions.
type Result struct {
	OriginalText   string   `json:"originalText,omitempty"`
	TranslatedText string   `json:"translatedText,omitempty"`
	Questions      []string `json:"questions,omitempty"`
}

// Job is one asynchronous unit of backend work.
type Job struct {
	ID                string    `json:"id"`
	Slot              Slot      `json:"slot"`
	Status            JobStatus `json:"status"`
	Payload           Payload   `json:"payload"`
	Attempt           int       `json:"attempt"`
	TransportFailures int       `json:"transportFailures,omitempty"`
	Result            *Result   `json:"result,omitempty"`
	ErrorMessage      string    `json:"errorMessage,omitempty"`
	CreatedAt         time.Time `json:"createdAt"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

// Clone returns a deep copy safe to hand to other goroutines.
func (j Job) Clone() Job {
	if j.Result != nil {
		r := *j.Result
		if r.Questions != nil {
			r.Questions = append([]string(nil), r.Questions...)
		}
		j.Result = &r
	}
	return j
}

// PollingPolicy bounds the polling loop of one slot.
type PollingPolicy struct {
	Interval    time.Duration `json:"interval" mapstructure:"interval" validate:"gte=0"`
	MaxAttempts int           `json:"maxAttempts" mapstructure:"maxAttempts" validate:"min=1"`
}

// Endpoints locates the remote operations relative to BaseURL.
type Endpoints struct {
	BaseURL           string `json:"baseUrl" mapstructure:"baseUrl" validate:"required,url"`
	AudioSubmit       string `json:"audioSubmit" mapstructure:"audioSubmit" validate:"required"`
	AudioPoll         string `json:"audioPoll" mapstructure:"audioPoll" validate:"required"`
	ImageSubmit       string `json:"imageSubmit" mapstructure:"imageSubmit" validate:"required"`
	ImagePoll         string `json:"imagePoll" mapstructure:"imagePoll" validate:"required"`
	QuestionGenerator string `json:"questionGenerator" mapstructure:"questionGenerator" validate:"required"`
}

// Polling groups per-slot polling policies.
type Polling struct {
	Audio PollingPolicy `json:"audio" mapstructure:"audio"`
	Image PollingPolicy `json:"image" mapstructure:"image"`
}

// TransportSettings tunes the HTTP client and its circuit breaker.
type TransportSettings struct {
	Timeout          time.Duration `json:"timeout" mapstructure:"timeout" validate:"gt=0"`
	BreakerFailures  uint32        `json:"breakerFailures" mapstructure:"breakerFailures"`
	BreakerOpenDelay time.Duration `json:"breakerOpenDelay" mapstructure:"breakerOpenDelay" validate:"gte=0"`
}

// LanguageSettings are the session defaults of the language toggles.
type LanguageSettings struct {
	Variant    string `json:"variant" mapstructure:"variant" validate:"oneof=mandarin spanish"`
	SourceSide string `json:"sourceSide" mapstructure:"sourceSide" validate:"oneof=recording playback"`
}

// MediaSettings controls how captured files become transport payloads.
type MediaSettings struct {
	NormalizeAudio bool   `json:"normalizeAudio" mapstructure:"normalizeAudio"`
	FFmpegPath     string `json:"ffmpegPath" mapstructure:"ffmpegPath"`
	MaxBytes       int64  `json:"maxBytes" mapstructure:"maxBytes" validate:"gt=0"`
}

// LoggerSettings configures the process logger.
type LoggerSettings struct {
	Level      string `json:"level" mapstructure:"level" validate:"oneof=trace debug info warn error"`
	Format     string `json:"format" mapstructure:"format" validate:"oneof=text json"`
	Output     string `json:"output" mapstructure:"output" validate:"oneof=stdout stderr file"`
	OutputFile string `json:"outputFile,omitempty" mapstructure:"outputFile" validate:"required_if=Output file"`
}

// Settings contains user-selectable runtime configuration.
type Settings struct {
	Endpoints   Endpoints         `json:"endpoints" mapstructure:"endpoints"`
	Polling     Polling           `json:"polling" mapstructure:"polling"`
	Transport   TransportSettings `json:"transport" mapstructure:"transport"`
	Language    LanguageSettings  `json:"language" mapstructure:"language"`
	Media       MediaSettings     `json:"media" mapstructure:"media"`
	Logger      LoggerSettings    `json:"logger" mapstructure:"logger"`
	HistoryPath string            `json:"historyPath" mapstructure:"historyPath"`
}

// PolicyFor returns the polling policy configured for slot.
func (s Settings) PolicyFor(slot Slot) (PollingPolicy, bool) {
	switch slot {
	case SlotAudioTranslate:
		return s.Polling.Audio, true
	case SlotImageTranslate:
		return s.Polling.Image, true
	default:
		return PollingPolicy{}, false
	}
}

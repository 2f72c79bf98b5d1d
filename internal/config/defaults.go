package config

import (
	"os"
	"path/filepath"
	"time"

	"translate-rx/internal/domain"
)

// DefaultBaseURL is the API gateway stage that hosts every operation.
const DefaultBaseURL = "https://5ymnjpng6d.execute-api.us-east-1.amazonaws.com/GetTranscript"

// DefaultDir returns the per-user state directory.
func DefaultDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}
	return filepath.Join(homeDir, ".translate-rx")
}

// DefaultSettings returns baseline configuration for first launch.
func DefaultSettings() domain.Settings {
	return domain.Settings{
		Endpoints: domain.Endpoints{
			BaseURL:           DefaultBaseURL,
			AudioSubmit:       "mytranscriber",
			AudioPoll:         "fetch-transcript",
			ImageSubmit:       "image-translation-invoke",
			ImagePoll:         "fetch-image-translation",
			QuestionGenerator: "questionGenerator",
		},
		Polling: domain.Polling{
			Audio: domain.PollingPolicy{Interval: 5 * time.Second, MaxAttempts: 12},
			Image: domain.PollingPolicy{Interval: 2 * time.Second, MaxAttempts: 45},
		},
		Transport: domain.TransportSettings{
			Timeout:          30 * time.Second,
			BreakerFailures:  5,
			BreakerOpenDelay: 10 * time.Second,
		},
		Language: domain.LanguageSettings{
			Variant:    "spanish",
			SourceSide: "recording",
		},
		Media: domain.MediaSettings{
			NormalizeAudio: false,
			FFmpegPath:     "ffmpeg",
			MaxBytes:       10 << 20,
		},
		Logger: domain.LoggerSettings{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		HistoryPath: filepath.Join(DefaultDir(), "history.db"),
	}
}

package diagnostics

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"translate-rx/internal/domain"
)

// Checker validates external tools, backend endpoints and local paths.
type Checker struct {
	lookPath   func(string) (string, error)
	stat       func(string) (os.FileInfo, error)
	mkdirAll   func(string, os.FileMode) error
	createTemp func(string, string) (*os.File, error)
	remove     func(string) error
}

// NewChecker builds a checker using real OS dependencies.
func NewChecker() *Checker {
	return &Checker{
		lookPath:   exec.LookPath,
		stat:       os.Stat,
		mkdirAll:   os.MkdirAll,
		createTemp: os.CreateTemp,
		remove:     os.Remove,
	}
}

// Run executes all checks and returns a combined report.
func (c *Checker) Run(settings domain.Settings) domain.DiagnosticReport {
	items := []domain.DiagnosticItem{
		c.checkFFmpeg(settings.Media),
		checkBaseURL(settings.Endpoints.BaseURL),
		checkEndpoints(settings.Endpoints),
		c.checkHistoryPath(settings.HistoryPath),
		c.checkLogFile(settings.Logger),
	}

	hasFailures := false
	for _, item := range items {
		if item.Status == domain.DiagnosticStatusFail {
			hasFailures = true
			break
		}
	}

	return domain.DiagnosticReport{
		GeneratedAt: time.Now().UTC(),
		HasFailures: hasFailures,
		Items:       items,
	}
}

// checkFFmpeg verifies the converter is on PATH when normalization is on.
func (c *Checker) checkFFmpeg(media domain.MediaSettings) domain.DiagnosticItem {
	name := strings.TrimSpace(media.FFmpegPath)
	if name == "" {
		name = "ffmpeg"
	}
	item := domain.DiagnosticItem{ID: "tool_ffmpeg", Name: "ffmpeg"}
	if !media.NormalizeAudio {
		item.Status = domain.DiagnosticStatusSkip
		item.Message = "Audio normalization is disabled."
		return item
	}

	path, err := c.lookPath(name)
	if err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Tool not found in PATH: %s", name)
		item.Hint = "Install ffmpeg or disable media.normalizeAudio."
		return item
	}

	item.Status = domain.DiagnosticStatusPass
	item.Message = fmt.Sprintf("Found at %s", path)
	return item
}

// checkBaseURL validates the backend base URL.
func checkBaseURL(raw string) domain.DiagnosticItem {
	item := domain.DiagnosticItem{ID: "base_url", Name: "Backend URL"}

	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Invalid backend URL: %q", raw)
		item.Hint = "Set endpoints.baseUrl to an absolute http(s) URL."
		return item
	}

	item.Status = domain.DiagnosticStatusPass
	item.Message = fmt.Sprintf("Using %s", u.String())
	if u.Scheme != "https" {
		item.Hint = "Media and transcripts are sent unencrypted over http."
	}
	return item
}

// checkEndpoints verifies every operation has a path.
func checkEndpoints(e domain.Endpoints) domain.DiagnosticItem {
	item := domain.DiagnosticItem{ID: "endpoints", Name: "Endpoints"}

	named := []struct {
		key   string
		value string
	}{
		{"audioSubmit", e.AudioSubmit},
		{"audioPoll", e.AudioPoll},
		{"imageSubmit", e.ImageSubmit},
		{"imagePoll", e.ImagePoll},
		{"questionGenerator", e.QuestionGenerator},
	}
	var missing []string
	for _, n := range named {
		if strings.TrimSpace(n.value) == "" {
			missing = append(missing, n.key)
		}
	}
	if len(missing) > 0 {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Missing endpoints: %s", strings.Join(missing, ", "))
		item.Hint = "Run `config set endpoints.<name> <path>` for each missing endpoint."
		return item
	}

	item.Status = domain.DiagnosticStatusPass
	item.Message = fmt.Sprintf("%d endpoints configured", len(named))
	return item
}

// checkHistoryPath validates the history database location.
func (c *Checker) checkHistoryPath(path string) domain.DiagnosticItem {
	item := domain.DiagnosticItem{ID: "history_path", Name: "History database"}

	if strings.TrimSpace(path) == "" {
		item.Status = domain.DiagnosticStatusSkip
		item.Message = "History is disabled."
		return item
	}
	if info, err := c.stat(path); err == nil && info.IsDir() {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("History path is a directory: %s", path)
		item.Hint = "Point historyPath at a file, for example history.db."
		return item
	} else if err != nil && !IsNotExist(err) {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Cannot access history path: %s", path)
		item.Hint = "Check permissions for the history database."
		return item
	}

	return c.checkWritableDir(item, filepath.Dir(path))
}

// checkLogFile validates the log file directory when logging to a file.
func (c *Checker) checkLogFile(logger domain.LoggerSettings) domain.DiagnosticItem {
	item := domain.DiagnosticItem{ID: "log_file", Name: "Log file"}
	if logger.Output != "file" {
		item.Status = domain.DiagnosticStatusSkip
		item.Message = fmt.Sprintf("Logging to %s.", logger.Output)
		return item
	}
	if strings.TrimSpace(logger.OutputFile) == "" {
		item.Status = domain.DiagnosticStatusFail
		item.Message = "Log file path is empty."
		item.Hint = "Set logger.outputFile or log to stderr."
		return item
	}
	return c.checkWritableDir(item, filepath.Dir(logger.OutputFile))
}

// checkWritableDir validates directory existence and write access.
func (c *Checker) checkWritableDir(item domain.DiagnosticItem, dir string) domain.DiagnosticItem {
	if err := c.mkdirAll(dir, 0o755); err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Cannot create directory: %s", dir)
		item.Hint = "Choose a writable location or adjust filesystem permissions."
		return item
	}

	tmpFile, err := c.createTemp(dir, ".write-check-*")
	if err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Directory is not writable: %s", dir)
		item.Hint = "Choose a writable directory."
		return item
	}

	tmpPath := tmpFile.Name()
	_ = tmpFile.Close()
	_ = c.remove(tmpPath)

	item.Status = domain.DiagnosticStatusPass
	item.Message = fmt.Sprintf("Writable directory: %s", dir)
	return item
}

// NewCheckerForTests creates checker with injectable dependencies.
func NewCheckerForTests(
	lookPath func(string) (string, error),
	stat func(string) (os.FileInfo, error),
	mkdirAll func(string, os.FileMode) error,
	createTemp func(string, string) (*os.File, error),
	remove func(string) error,
) *Checker {
	return &Checker{
		lookPath:   lookPath,
		stat:       stat,
		mkdirAll:   mkdirAll,
		createTemp: createTemp,
		remove:     remove,
	}
}

// IsNotExist reports whether error represents file-not-found.
func IsNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}

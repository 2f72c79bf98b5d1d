package media

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"translate-rx/internal/domain"
)

// Loading stages reported by Error.
const (
	StageReading     = "reading"
	StageValidating  = "validating"
	StageNormalizing = "normalizing"
)

var (
	ErrEmpty           = errors.New("media file is empty")
	ErrTooLarge        = errors.New("media file is too large")
	ErrUnsupportedType = errors.New("unsupported media type")
)

// Kind is the media family a slot submits.
type Kind string

const (
	KindAudio Kind = "audio"
	KindImage Kind = "image"
)

// KindForSlot returns the media kind a translate slot accepts.
func KindForSlot(slot domain.Slot) (Kind, bool) {
	switch slot {
	case domain.SlotAudioTranslate:
		return KindAudio, true
	case domain.SlotImageTranslate:
		return KindImage, true
	default:
		return "", false
	}
}

// Payload is a captured file ready for submission.
type Payload struct {
	Path       string
	MIME       string
	Data       []byte
	Normalized bool
	Logs       []CommandLog
}

// Loader reads captured media, checks its type and size, and optionally
// converts audio to 16 kHz mono PCM WAV with ffmpeg.
type Loader struct {
	ffmpegPath string
	normalize  bool
	maxBytes   int64
	runner     commandRunner
	mkdirTemp  func(dir, pattern string) (string, error)
	removeAll  func(path string) error
	stat       func(name string) (os.FileInfo, error)
	readFile   func(name string) ([]byte, error)
	onLog      func(CommandLog)
}

// NewLoader constructs the production loader for cfg.
func NewLoader(cfg domain.MediaSettings) *Loader {
	return NewLoaderForTests(cfg, &execRunner{})
}

// NewLoaderForTests constructs a loader with an injectable command runner.
func NewLoaderForTests(cfg domain.MediaSettings, runner commandRunner) *Loader {
	ffmpeg := strings.TrimSpace(cfg.FFmpegPath)
	if ffmpeg == "" {
		ffmpeg = "ffmpeg"
	}
	return &Loader{
		ffmpegPath: ffmpeg,
		normalize:  cfg.NormalizeAudio,
		maxBytes:   cfg.MaxBytes,
		runner:     runner,
		mkdirTemp:  os.MkdirTemp,
		removeAll:  os.RemoveAll,
		stat:       os.Stat,
		readFile:   os.ReadFile,
	}
}

// OnCommand registers a callback for every external command run.
func (l *Loader) OnCommand(cb func(CommandLog)) {
	l.onLog = cb
}

// Load reads the file at path as media of the given kind.
func (l *Loader) Load(ctx context.Context, kind Kind, path string) (Payload, error) {
	if strings.TrimSpace(path) == "" {
		return Payload{}, &Error{Stage: StageReading, Message: "input media path is required"}
	}

	info, err := l.stat(path)
	if err != nil {
		return Payload{}, &Error{
			Stage:   StageReading,
			Message: fmt.Sprintf("cannot access input media: %s", path),
			Err:     err,
		}
	}
	if info.IsDir() {
		return Payload{}, &Error{Stage: StageReading, Message: fmt.Sprintf("input media is a directory: %s", path)}
	}
	if err := l.checkSize(info.Size()); err != nil {
		return Payload{}, err
	}

	data, err := l.readFile(path)
	if err != nil {
		return Payload{}, &Error{
			Stage:   StageReading,
			Message: fmt.Sprintf("failed to read input media: %s", path),
			Err:     err,
		}
	}

	mime := mimetype.Detect(data)
	if !accepts(kind, mime.String(), l.normalize) {
		return Payload{}, &Error{
			Stage:   StageValidating,
			Message: fmt.Sprintf("%s is not a supported %s file (%s)", filepath.Base(path), kind, mime.String()),
			Err:     ErrUnsupportedType,
		}
	}

	payload := Payload{Path: path, MIME: mime.String(), Data: data}
	if kind != KindAudio || !l.normalize {
		return payload, nil
	}
	return l.normalizeAudio(ctx, payload)
}

func (l *Loader) checkSize(size int64) error {
	if size == 0 {
		return &Error{Stage: StageValidating, Message: "media file is empty", Err: ErrEmpty}
	}
	if l.maxBytes > 0 && size > l.maxBytes {
		return &Error{
			Stage:   StageValidating,
			Message: fmt.Sprintf("media file is %d bytes, limit is %d", size, l.maxBytes),
			Err:     ErrTooLarge,
		}
	}
	return nil
}

func (l *Loader) normalizeAudio(ctx context.Context, in Payload) (Payload, error) {
	tempDir, err := l.mkdirTemp("", "translate-rx-*")
	if err != nil {
		return Payload{}, &Error{
			Stage:   StageNormalizing,
			Message: "failed to create temporary workspace",
			Err:     err,
		}
	}
	defer func() { _ = l.removeAll(tempDir) }()

	outPath := filepath.Join(tempDir, "normalized-16k-mono.wav")
	args := buildFFmpegArgs(in.Path, outPath)
	res, runErr := l.runner.Run(ctx, l.ffmpegPath, args...)
	log := CommandLog{
		Command:  l.ffmpegPath,
		Args:     args,
		ExitCode: res.ExitCode,
		Stdout:   res.Stdout,
		Stderr:   res.Stderr,
	}
	if l.onLog != nil {
		l.onLog(log)
	}
	if runErr != nil {
		return Payload{}, &Error{
			Stage:      StageNormalizing,
			Message:    "ffmpeg audio conversion failed",
			CommandLog: log,
			Err:        runErr,
		}
	}

	info, err := l.stat(outPath)
	if err != nil {
		return Payload{}, &Error{
			Stage:      StageNormalizing,
			Message:    "ffmpeg completed but output file is missing",
			CommandLog: log,
			Err:        err,
		}
	}
	if err := l.checkSize(info.Size()); err != nil {
		return Payload{}, err
	}
	data, err := l.readFile(outPath)
	if err != nil {
		return Payload{}, &Error{
			Stage:      StageNormalizing,
			Message:    "failed to read converted audio",
			CommandLog: log,
			Err:        err,
		}
	}

	return Payload{
		Path:       in.Path,
		MIME:       "audio/wav",
		Data:       data,
		Normalized: true,
		Logs:       []CommandLog{log},
	}, nil
}

// accepts reports whether a sniffed type fits kind. Video containers are
// only accepted for audio when ffmpeg can extract the track.
func accepts(kind Kind, mime string, normalize bool) bool {
	switch kind {
	case KindImage:
		return strings.HasPrefix(mime, "image/")
	case KindAudio:
		if strings.HasPrefix(mime, "audio/") {
			return true
		}
		return normalize && strings.HasPrefix(mime, "video/")
	default:
		return false
	}
}

// buildFFmpegArgs builds preprocessing CLI args for mono 16k PCM WAV output.
func buildFFmpegArgs(inputPath, outPath string) []string {
	return []string{
		"-hide_banner",
		"-nostdin",
		"-y",
		"-i", inputPath,
		"-vn",
		"-ac", "1",
		"-ar", "16000",
		"-c:a", "pcm_s16le",
		outPath,
	}
}

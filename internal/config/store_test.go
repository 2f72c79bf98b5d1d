package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestDefaultSettings verifies baseline defaults are present and valid.
func TestDefaultSettings(t *testing.T) {
	cfg := DefaultSettings()
	require.NoError(t, Validate(cfg))
	assert.Equal(t, "spanish", cfg.Language.Variant)
	assert.Equal(t, "recording", cfg.Language.SourceSide)
	assert.Equal(t, 45, cfg.Polling.Image.MaxAttempts)
	assert.Equal(t, 2*time.Second, cfg.Polling.Image.Interval)
	assert.NotEmpty(t, cfg.HistoryPath)
}

// TestFileStoreLoadMissingReturnsDefaults checks first-run behavior.
func TestFileStoreLoadMissingReturnsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "settings.json")
	store := NewFileStore(path)

	got, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultSettings(), got)
}

// TestFileStoreSaveAndLoadRoundTrip checks persisted settings fidelity.
func TestFileStoreSaveAndLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg", "settings.json")
	store := NewFileStore(path)
	want := DefaultSettings()
	want.Language.Variant = "mandarin"
	want.Polling.Audio.Interval = 3 * time.Second
	want.Polling.Audio.MaxAttempts = 6
	want.Media.NormalizeAudio = true
	want.HistoryPath = ""

	require.NoError(t, store.Save(want))

	got, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

// TestFileStoreLoadInvalidJSON checks parse error handling.
func TestFileStoreLoadInvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg", "settings.json")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("{not-json"), 0o644))

	_, err := NewFileStore(path).Load()
	assert.Error(t, err)
}

// TestFileStoreLoadRejectsInvalidValues checks validation after decode.
func TestFileStoreLoadRejectsInvalidValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"language":{"variant":"klingon"}}`), 0o644))

	_, err := NewFileStore(path).Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid settings")
}

// TestFileStoreEnvOverride verifies TRANSLATERX_* variables win over defaults.
func TestFileStoreEnvOverride(t *testing.T) {
	t.Setenv("TRANSLATERX_POLLING_IMAGE_MAXATTEMPTS", "7")
	t.Setenv("TRANSLATERX_POLLING_IMAGE_INTERVAL", "750ms")

	got, err := NewFileStore(filepath.Join(t.TempDir(), "settings.json")).Load()
	require.NoError(t, err)
	assert.Equal(t, 7, got.Polling.Image.MaxAttempts)
	assert.Equal(t, 750*time.Millisecond, got.Polling.Image.Interval)
}

// TestApplySetsTypedValues checks string values are decoded per field type.
func TestApplySetsTypedValues(t *testing.T) {
	cfg, err := Apply(DefaultSettings(), "polling.audio.interval", "4s")
	require.NoError(t, err)
	assert.Equal(t, 4*time.Second, cfg.Polling.Audio.Interval)

	cfg, err = Apply(cfg, "media.normalizeAudio", "true")
	require.NoError(t, err)
	assert.True(t, cfg.Media.NormalizeAudio)
	assert.Equal(t, 4*time.Second, cfg.Polling.Audio.Interval)
}

// TestApplyRejectsUnknownAndInvalid checks key lookup and validation.
func TestApplyRejectsUnknownAndInvalid(t *testing.T) {
	_, err := Apply(DefaultSettings(), "polling.video.interval", "1s")
	assert.ErrorContains(t, err, "unknown config key")

	_, err = Apply(DefaultSettings(), "polling.image.maxAttempts", "0")
	assert.ErrorContains(t, err, "invalid settings")
}

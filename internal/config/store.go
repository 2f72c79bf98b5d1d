package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"translate-rx/internal/domain"
)

// EnvPrefix prefixes environment overrides, e.g. TRANSLATERX_POLLING_IMAGE_INTERVAL.
const EnvPrefix = "TRANSLATERX"

var validate = validator.New()

// Store defines persistence operations for app settings.
type Store interface {
	Load() (domain.Settings, error)
	Save(domain.Settings) error
}

// FileStore reads settings through viper (file, env, defaults) and
// persists them as indented JSON.
type FileStore struct {
	path string
}

// NewFileStore creates a file-backed settings store.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the settings file location.
func (s *FileStore) Path() string {
	return s.path
}

// Load merges defaults, the settings file when present and environment
// overrides, then validates the result.
func (s *FileStore) Load() (domain.Settings, error) {
	v, err := newViper(DefaultSettings())
	if err != nil {
		return domain.Settings{}, err
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("logger.outputFile"); err != nil {
		return domain.Settings{}, err
	}

	v.SetConfigFile(s.path)
	if filepath.Ext(s.path) == "" {
		v.SetConfigType("json")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.Is(err, os.ErrNotExist) && !errors.As(err, &notFound) {
			return domain.Settings{}, fmt.Errorf("read settings: %w", err)
		}
	}

	return decode(v)
}

// Save writes settings as indented JSON and creates parent directories.
func (s *FileStore) Save(cfg domain.Settings) error {
	if err := Validate(cfg); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(s.path, data, 0o644)
}

// Apply sets one dotted key (e.g. "polling.image.maxAttempts") from its
// string form and returns the validated result.
func Apply(cfg domain.Settings, key, value string) (domain.Settings, error) {
	v, err := newViper(cfg)
	if err != nil {
		return domain.Settings{}, err
	}
	if !slices.Contains(v.AllKeys(), strings.ToLower(key)) {
		return domain.Settings{}, fmt.Errorf("unknown config key: %s", key)
	}

	v.Set(key, value)
	return decode(v)
}

// Validate checks struct constraints on settings.
func Validate(cfg domain.Settings) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}
	return nil
}

// newViper returns a viper instance whose defaults are the flattened
// fields of base.
func newViper(base domain.Settings) (*viper.Viper, error) {
	data, err := json.Marshal(base)
	if err != nil {
		return nil, err
	}
	var tree map[string]any
	if err := json.Unmarshal(data, &tree); err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v, "", tree)
	return v, nil
}

func setDefaults(v *viper.Viper, prefix string, tree map[string]any) {
	for key, value := range tree {
		full := key
		if prefix != "" {
			full = prefix + "." + key
		}
		if nested, ok := value.(map[string]any); ok {
			setDefaults(v, full, nested)
			continue
		}
		v.SetDefault(full, value)
	}
}

func decode(v *viper.Viper) (domain.Settings, error) {
	var cfg domain.Settings
	if err := v.Unmarshal(&cfg); err != nil {
		return domain.Settings{}, fmt.Errorf("decode settings: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return domain.Settings{}, err
	}
	return cfg, nil
}

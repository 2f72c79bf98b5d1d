package language

import (
	"fmt"
	"strings"
	"sync"

	"translate-rx/internal/domain"
)

// ErrJobActive is returned when a toggle changes while any slot holds a
// live job.
var ErrJobActive = fmt.Errorf("%w: language cannot change while a job is active", domain.ErrPrecondition)

// Side names which logical side currently speaks the user's language.
type Side string

const (
	SideRecording Side = "recording"
	SidePlayback  Side = "playback"
)

// Variant is the foreign language the session translates to and from.
type Variant string

const (
	VariantMandarin Variant = "mandarin"
	VariantSpanish  Variant = "spanish"
)

// Voice codes handed to speech synthesis.
const (
	VoiceSpanish  = "es-ES"
	VoiceMandarin = "zh-CN"
	VoiceEnglish  = "en-US"
)

// SourceLanguage is sent with audio submissions recorded on the user side.
const SourceLanguage = "english"

// ParseSide accepts "recording" or "playback".
func ParseSide(raw string) (Side, error) {
	switch Side(strings.ToLower(strings.TrimSpace(raw))) {
	case SideRecording:
		return SideRecording, nil
	case SidePlayback:
		return SidePlayback, nil
	default:
		return "", fmt.Errorf("unknown source side: %q", raw)
	}
}

// ParseVariant accepts a variant name or its common aliases.
func ParseVariant(raw string) (Variant, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "mandarin", "chinese", "zh":
		return VariantMandarin, nil
	case "spanish", "es":
		return VariantSpanish, nil
	default:
		return "", fmt.Errorf("unknown language variant: %q", raw)
	}
}

// VoiceCode returns the synthesis voice for v.
func (v Variant) VoiceCode() string {
	if v == VariantMandarin {
		return VoiceMandarin
	}
	return VoiceSpanish
}

func (s Side) opposite() Side {
	if s == SideRecording {
		return SidePlayback
	}
	return SideRecording
}

func (v Variant) other() Variant {
	if v == VariantMandarin {
		return VariantSpanish
	}
	return VariantMandarin
}

// ActivityChecker reports whether any slot holds a non-terminal job.
type ActivityChecker interface {
	HasActive() bool
}

// State is a snapshot of both toggles.
type State struct {
	Side    Side    `json:"sourceSide"`
	Variant Variant `json:"variant"`
}

// StateFromSettings converts configured defaults into a State.
func StateFromSettings(s domain.LanguageSettings) (State, error) {
	side, err := ParseSide(s.SourceSide)
	if err != nil {
		return State{}, err
	}
	variant, err := ParseVariant(s.Variant)
	if err != nil {
		return State{}, err
	}
	return State{Side: side, Variant: variant}, nil
}

// Preference holds the session's language toggles. Writes are refused
// while jobs report activity.
type Preference struct {
	mu    sync.RWMutex
	state State
	jobs  ActivityChecker
}

// NewPreference starts a session with initial toggles.
func NewPreference(jobs ActivityChecker, initial State) *Preference {
	if initial.Side == "" {
		initial.Side = SideRecording
	}
	if initial.Variant == "" {
		initial.Variant = VariantSpanish
	}
	return &Preference{state: initial, jobs: jobs}
}

// State returns the current toggles.
func (p *Preference) State() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// ToggleSide swaps the source side.
func (p *Preference) ToggleSide() (State, error) {
	return p.write(func(s *State) { s.Side = s.Side.opposite() })
}

// SetSide selects the source side.
func (p *Preference) SetSide(side Side) (State, error) {
	if _, err := ParseSide(string(side)); err != nil {
		return p.State(), err
	}
	return p.write(func(s *State) { s.Side = side })
}

// ToggleVariant swaps the target variant.
func (p *Preference) ToggleVariant() (State, error) {
	return p.write(func(s *State) { s.Variant = s.Variant.other() })
}

// SetVariant selects the target variant.
func (p *Preference) SetVariant(v Variant) (State, error) {
	if _, err := ParseVariant(string(v)); err != nil {
		return p.State(), err
	}
	return p.write(func(s *State) { s.Variant = v })
}

func (p *Preference) write(fn func(*State)) (State, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.jobs != nil && p.jobs.HasActive() {
		return p.state, ErrJobActive
	}
	fn(&p.state)
	return p.state, nil
}

// SymptomText picks the text fed to question generation: the original
// transcript when the recording side speaks, the translation otherwise.
func (p *Preference) SymptomText(r domain.Result) string {
	if p.State().Side == SideRecording {
		return r.OriginalText
	}
	return r.TranslatedText
}

// VoiceCode is the voice used to read a translation aloud.
func (p *Preference) VoiceCode() string {
	st := p.State()
	if st.Side == SideRecording {
		return st.Variant.VoiceCode()
	}
	return VoiceEnglish
}

// SubmissionLanguage is the language field sent with a slot's submission.
func (p *Preference) SubmissionLanguage(slot domain.Slot) string {
	st := p.State()
	if slot == domain.SlotAudioTranslate && st.Side == SideRecording {
		return SourceLanguage
	}
	return string(st.Variant)
}

package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to reject unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm": {"openai", "anthropic", "gemini", "ollama", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"stt": {"vosk"},
	"tts": {"say", "openjtalk"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. Values not present in the file keep their [Default] values.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r over the defaults and validates
// the result. Useful in tests where configs are constructed from string
// literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if err := validateProviderName("llm", cfg.Providers.LLM.Name); err != nil {
		errs = append(errs, err)
	}
	if err := validateProviderName("llm", cfg.Providers.FallbackLLM.Name); err != nil {
		errs = append(errs, fmt.Errorf("fallback_%w", err))
	}
	if err := validateProviderName("stt", cfg.Providers.STT.Name); err != nil {
		errs = append(errs, err)
	}
	if err := validateProviderName("tts", cfg.Providers.TTS.Name); err != nil {
		errs = append(errs, err)
	}

	d := cfg.Dialogue
	if d.SilenceThreshold <= 0 {
		errs = append(errs, errors.New("dialogue.silence_threshold must be positive"))
	}
	if d.MinSpeechDuration <= 0 {
		errs = append(errs, errors.New("dialogue.min_speech_duration must be positive"))
	}
	if d.MaxWait <= 0 {
		errs = append(errs, errors.New("dialogue.max_wait must be positive"))
	}
	if d.MaxWait > 0 && d.SilenceThreshold > 0 && d.MaxWait.Std() < d.SilenceThreshold.Std() {
		errs = append(errs, errors.New("dialogue.max_wait must not be shorter than dialogue.silence_threshold"))
	}
	if d.ConsecutiveSilenceLimit <= 0 {
		errs = append(errs, errors.New("dialogue.consecutive_silence_limit must be positive"))
	}
	if d.BackchannelMaxRunes <= 0 {
		errs = append(errs, errors.New("dialogue.backchannel_max_runes must be positive"))
	}

	if cfg.Topics.MaxSize <= 0 {
		errs = append(errs, errors.New("topics.max_size must be positive"))
	}

	if cfg.Storage.Dir == "" && cfg.Storage.PostgresDSN == "" {
		errs = append(errs, errors.New("storage: either dir or postgres_dsn must be set"))
	}

	return errors.Join(errs...)
}

// validateProviderName checks name against the known providers of a kind.
// An empty name is allowed (the component stays unconfigured).
func validateProviderName(kind, name string) error {
	if name == "" {
		return nil
	}
	valid := ValidProviderNames[kind]
	if !slices.Contains(valid, name) {
		return fmt.Errorf("%s provider %q is unknown; valid values: %v", kind, name, valid)
	}
	return nil
}

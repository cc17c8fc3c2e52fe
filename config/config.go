package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"gopkg.in/yaml.v3"
)

// Config is one immutable snapshot of user settings. Components receive a
// snapshot and never write back; updates replace the whole value through a
// Store.
type Config struct {
	Audio     AudioConfig     `yaml:"audio"`
	Provider  ProviderConfig  `yaml:"provider"`
	Injection InjectionConfig `yaml:"injection"`
	Hotkey    HotkeyConfig    `yaml:"hotkey"`
	Archive   ArchiveConfig   `yaml:"archive"`
}

type AudioConfig struct {
	DeviceID   string `yaml:"device_id"`
	SampleRate int    `yaml:"sample_rate"`
	Channels   int    `yaml:"channels"`
	// RingSeconds sizes the capture ring buffer.
	RingSeconds int `yaml:"ring_seconds"`
}

type ProviderConfig struct {
	Endpoint string `yaml:"endpoint"`
	Model    string `yaml:"model"`
	Language string `yaml:"language"`
	// APIKey may be left empty in the file; the VOXD_API_KEY environment
	// variable fills it at load time so the key stays out of the config.
	APIKey string `yaml:"api_key"`
}

type InjectionConfig struct {
	// Method is keyboard, clipboard, or auto.
	Method        string `yaml:"method"`
	ShortTextMax  int    `yaml:"short_text_max"`
	SettleDelayMs int    `yaml:"settle_delay_ms"`
}

type HotkeyConfig struct {
	// Chord names the push-to-talk binding, e.g. "ctrl+shift+space".
	Chord string `yaml:"chord"`
}

type ArchiveConfig struct {
	// Enabled turns on per-activation FLAC dumps of the resampled stream.
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir"`
}

// Default returns the stock configuration.
func Default() *Config {
	return &Config{
		Audio: AudioConfig{
			SampleRate:  48000,
			Channels:    1,
			RingSeconds: 10,
		},
		Provider: ProviderConfig{
			Endpoint: "wss://api.elevenlabs.io/v1/speech-to-text/stream",
			Model:    "scribe_v1",
		},
		Injection: InjectionConfig{
			Method:        "auto",
			ShortTextMax:  10,
			SettleDelayMs: 50,
		},
		Hotkey: HotkeyConfig{
			Chord: "ctrl+shift+space",
		},
	}
}

// Load reads path, overlays it on the defaults, applies environment
// fallbacks, and validates. A missing file is not an error: defaults apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// defaults only
		case err != nil:
			return nil, fmt.Errorf("config: reading %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("config: parsing %s: %w", path, err)
			}
		}
	}

	if cfg.Provider.APIKey == "" {
		cfg.Provider.APIKey = os.Getenv("VOXD_API_KEY")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DefaultPath is the conventional config location.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	xdg := os.Getenv("XDG_CONFIG_HOME")
	if xdg == "" {
		xdg = filepath.Join(home, ".config")
	}
	return filepath.Join(xdg, "voxd", "config.yaml"), nil
}

func (c *Config) Validate() error {
	if err := c.Audio.Validate(); err != nil {
		return err
	}
	if err := c.Provider.Validate(); err != nil {
		return err
	}
	if err := c.Injection.Validate(); err != nil {
		return err
	}
	return nil
}

func (a *AudioConfig) Validate() error {
	if a.SampleRate <= 0 {
		return fmt.Errorf("config: audio.sample_rate must be positive, got %d", a.SampleRate)
	}
	if a.Channels != 1 {
		return fmt.Errorf("config: audio.channels must be 1 (mono capture), got %d", a.Channels)
	}
	if a.RingSeconds <= 0 {
		return fmt.Errorf("config: audio.ring_seconds must be positive, got %d", a.RingSeconds)
	}
	return nil
}

func (p *ProviderConfig) Validate() error {
	if p.Endpoint == "" {
		return fmt.Errorf("config: provider.endpoint is required")
	}
	if p.Model == "" {
		return fmt.Errorf("config: provider.model is required")
	}
	return nil
}

func (i *InjectionConfig) Validate() error {
	switch i.Method {
	case "auto", "keyboard", "clipboard":
	default:
		return fmt.Errorf("config: injection.method must be auto, keyboard, or clipboard, got %q", i.Method)
	}
	if i.ShortTextMax <= 0 {
		return fmt.Errorf("config: injection.short_text_max must be positive, got %d", i.ShortTextMax)
	}
	return nil
}

// Store holds the current snapshot and swaps it atomically; readers never
// see a torn value.
type Store struct {
	cur atomic.Pointer[Config]
}

func NewStore(cfg *Config) *Store {
	s := &Store{}
	s.cur.Store(cfg)
	return s
}

// Current returns the active snapshot. Callers must not mutate it.
func (s *Store) Current() *Config {
	return s.cur.Load()
}

// Replace validates and installs a new snapshot.
func (s *Store) Replace(cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	s.cur.Store(cfg)
	return nil
}

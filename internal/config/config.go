package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hperssn/tourguide/internal/domain"
	"github.com/hperssn/tourguide/internal/runner"
)

var ErrInvalidConfig = errors.New("invalid config")

// Config holds all tourguide configuration.
type Config struct {
	Listen     string `yaml:"listen"`
	StaticDir  string `yaml:"static_dir"`
	SessionTTL string `yaml:"session_ttl"`

	Log       LogConfig       `yaml:"log"`
	Storage   StorageConfig   `yaml:"storage"`
	Narration NarrationConfig `yaml:"narration"`
	Player    PlayerConfig    `yaml:"player"`

	Tours []TourConfig `yaml:"tours"`
}

type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, console
}

type StorageConfig struct {
	Driver string `yaml:"driver"` // sqlite, postgres
	DSN    string `yaml:"dsn"`
}

// NarrationConfig selects how step descriptions are voiced.
type NarrationConfig struct {
	Mode           string `yaml:"mode"` // timed, client, off
	WordsPerMinute int    `yaml:"words_per_minute"`
	MinDuration    string `yaml:"min_duration"`
}

type PlayerConfig struct {
	AutoplayPause string `yaml:"autoplay_pause"`
	// FallbackDelay advances autoplay tours whose narration failed. A
	// negative value disables it.
	FallbackDelay string `yaml:"fallback_delay"`
	NextLabel     string `yaml:"next_label"`
	FinishLabel   string `yaml:"finish_label"`
}

type TourConfig struct {
	Name   string       `yaml:"name"`
	Flag   string       `yaml:"flag"`
	Home   string       `yaml:"home"`
	Panels []string     `yaml:"panels"`
	Steps  []StepConfig `yaml:"steps"`
}

type StepConfig struct {
	Panel       string `yaml:"panel"`
	Title       string `yaml:"title"`
	Description string `yaml:"description"`
}

// DefaultConfig ships the food scanner tour.
func DefaultConfig() *Config {
	return &Config{
		Listen:     ":8080",
		StaticDir:  "./static",
		SessionTTL: "1h",

		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},

		Storage: StorageConfig{
			Driver: "sqlite",
			DSN:    "tourguide.db",
		},

		Narration: NarrationConfig{
			Mode:           string(runner.NarrationTimed),
			WordsPerMinute: 160,
			MinDuration:    "1s",
		},

		Player: PlayerConfig{
			AutoplayPause: "1s",
			FallbackDelay: "4s",
			NextLabel:     runner.DefaultNextLabel,
			FinishLabel:   runner.DefaultFinishLabel,
		},

		Tours: []TourConfig{
			{
				Name:   "scanner",
				Flag:   domain.DefaultFlagName,
				Home:   "panel-scan",
				Panels: []string{"panel-scan", "panel-settings", "panel-history"},
				Steps: []StepConfig{
					{Panel: "panel-scan", Title: "Scanner", Description: "Scan food samples. Results appear here."},
					{Panel: "panel-settings", Title: "API Setup", Description: "Enter your Gemini 3.0 key here."},
					{Panel: "panel-history", Title: "Records", Description: "View GPS locations and export PDFs."},
				},
			},
		},
	}
}

// Load reads configuration from a YAML file over the defaults. A missing
// file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, fmt.Errorf("failed to read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save writes configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("TOURGUIDE_LISTEN"); v != "" {
		c.Listen = v
	}
	if v := os.Getenv("TOURGUIDE_STORAGE_DRIVER"); v != "" {
		c.Storage.Driver = v
	}
	if v := os.Getenv("TOURGUIDE_DSN"); v != "" {
		c.Storage.DSN = v
	}
	if v := os.Getenv("TOURGUIDE_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
}

// Validate checks every duration, the narration mode and every tour.
func (c *Config) Validate() error {
	durations := map[string]string{
		"session_ttl":            c.SessionTTL,
		"narration.min_duration": c.Narration.MinDuration,
		"player.autoplay_pause":  c.Player.AutoplayPause,
		"player.fallback_delay":  c.Player.FallbackDelay,
	}
	for key, v := range durations {
		if v == "" {
			continue
		}
		if _, err := time.ParseDuration(v); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidConfig, key, err)
		}
	}

	switch runner.NarrationMode(c.Narration.Mode) {
	case "", runner.NarrationTimed, runner.NarrationClient, runner.NarrationOff:
	default:
		return fmt.Errorf("%w: unknown narration mode %q", ErrInvalidConfig, c.Narration.Mode)
	}

	_, err := c.BuildTours()
	return err
}

// BuildTours turns the tour sections into validated tours. Names must be
// unique.
func (c *Config) BuildTours() ([]*domain.Tour, error) {
	seen := make(map[string]bool, len(c.Tours))
	tours := make([]*domain.Tour, 0, len(c.Tours))

	for i, tc := range c.Tours {
		if seen[tc.Name] {
			return nil, fmt.Errorf("%w: tour %q defined twice", ErrInvalidConfig, tc.Name)
		}
		seen[tc.Name] = true

		steps := make([]domain.TourStep, len(tc.Steps))
		for j, s := range tc.Steps {
			steps[j] = domain.TourStep{PanelID: s.Panel, Title: s.Title, Description: s.Description}
		}

		t, err := domain.NewTour(tc.Name, tc.Flag, tc.Home, tc.Panels, steps)
		if err != nil {
			return nil, fmt.Errorf("tour %d (%s): %w", i, tc.Name, err)
		}
		tours = append(tours, t)
	}

	return tours, nil
}

// GetSessionTTL returns how long a finished player is kept.
func (c *Config) GetSessionTTL() time.Duration {
	d, err := time.ParseDuration(c.SessionTTL)
	if err != nil {
		return runner.DefaultSessionTTL
	}
	return d
}

func (c *Config) GetMinUtterance() time.Duration {
	d, err := time.ParseDuration(c.Narration.MinDuration)
	if err != nil {
		return time.Second
	}
	return d
}

func (c *Config) GetAutoplayPause() time.Duration {
	d, err := time.ParseDuration(c.Player.AutoplayPause)
	if err != nil {
		return runner.DefaultAutoplayPause
	}
	return d
}

func (c *Config) GetFallbackDelay() time.Duration {
	d, err := time.ParseDuration(c.Player.FallbackDelay)
	if err != nil {
		return runner.DefaultFallbackDelay
	}
	return d
}

// ManagerOptions converts the runtime sections for runner.NewTourManager.
func (c *Config) ManagerOptions() runner.ManagerOptions {
	return runner.ManagerOptions{
		Player: runner.Options{
			AutoplayPause: c.GetAutoplayPause(),
			FallbackDelay: c.GetFallbackDelay(),
			NextLabel:     c.Player.NextLabel,
			FinishLabel:   c.Player.FinishLabel,
		},
		Narration:      runner.NarrationMode(c.Narration.Mode),
		WordsPerMinute: c.Narration.WordsPerMinute,
		MinUtterance:   c.GetMinUtterance(),
		SessionTTL:     c.GetSessionTTL(),
	}
}

// Package appconfig loads and serializes the player/downloader YAML
// configuration recognised by spec.md section 6, styled after the
// teacher's internal/config package's load-then-process shape, adapted
// from JSON to YAML via gopkg.in/yaml.v3.
package appconfig

import (
	"embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed resources/*.yaml
var resources embed.FS

// BufferSettings holds the player's buffer-related thresholds, all in
// seconds unless noted.
type BufferSettings struct {
	BufferDuration     float64 `yaml:"buffer_duration"`
	SafeBufferLevel    float64 `yaml:"safe_buffer_level"`
	PanicBufferLevel   float64 `yaml:"panic_buffer_level"`
	MinRebufferDuration float64 `yaml:"min_rebuffer_duration"`
	MinStartDuration   float64 `yaml:"min_start_duration"`
}

// PlayerConfig is the `player` top-level YAML key.
type PlayerConfig struct {
	BufferSettings BufferSettings `yaml:"buffer-settings"`
	Downloader     string         `yaml:"downloader"` // "quic" or "tcp"
}

// SchedulerConfig gates the experimental slope-based post-ABR adjustment,
// per spec.md section 9's open question: disabled unless explicitly
// turned on.
type SchedulerConfig struct {
	SlopeAdjustmentEnabled bool    `yaml:"slope_adjustment_enabled"`
	NumPreviousSamples     int     `yaml:"num_previous_samples"`
	SlopeThreshold         float64 `yaml:"slope_threshold"`
	ReduceQL               int     `yaml:"reduce_ql"`
}

// Config is the full recognised YAML configuration.
type Config struct {
	Player    PlayerConfig    `yaml:"player"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
}

// Default returns a Config populated with the spec's documented defaults.
func Default() Config {
	return Config{
		Player: PlayerConfig{
			BufferSettings: BufferSettings{
				BufferDuration:      30,
				SafeBufferLevel:     7.5,
				PanicBufferLevel:    3,
				MinRebufferDuration: 1,
				MinStartDuration:    2,
			},
			Downloader: "quic",
		},
		Scheduler: SchedulerConfig{
			SlopeAdjustmentEnabled: false,
			NumPreviousSamples:     5,
			SlopeThreshold:         0.1,
			ReduceQL:               1,
		},
	}
}

// Load reads and parses a YAML configuration file from path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file at %s: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config YAML: %w", err)
	}

	if cfg.Player.Downloader != "quic" && cfg.Player.Downloader != "tcp" {
		return nil, fmt.Errorf("invalid player.downloader %q: must be 'quic' or 'tcp'", cfg.Player.Downloader)
	}

	return &cfg, nil
}

// LoadNamed resolves nameOrPath the way the original's
// pkg_resources.resource_stream fallback did: first as the name of a bundled
// preset under resources/ (without its .yaml suffix), then, if no such
// preset exists, as a filesystem path via Load.
func LoadNamed(nameOrPath string) (*Config, error) {
	data, err := resources.ReadFile("resources/" + nameOrPath + ".yaml")
	if err != nil {
		return Load(nameOrPath)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal embedded config %q: %w", nameOrPath, err)
	}
	if cfg.Player.Downloader != "quic" && cfg.Player.Downloader != "tcp" {
		return nil, fmt.Errorf("invalid player.downloader %q: must be 'quic' or 'tcp'", cfg.Player.Downloader)
	}
	return &cfg, nil
}

// Save serializes cfg as YAML to path, preserving every recognised field
// for a later Load to round-trip.
func Save(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config YAML: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file at %s: %w", path, err)
	}
	return nil
}

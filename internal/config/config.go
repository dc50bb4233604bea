package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config holds phonotek runtime configuration loaded from TOML.
type Config struct {
	ConfigVersion int             `toml:"config_version"`
	Source        string          `toml:"source"` // "archive" or "localdir"
	Archive       ArchiveConfig   `toml:"archive"`
	LocalDir      LocalDirConfig  `toml:"localdir"`
	Probe         ProbeConfig     `toml:"probe"`
	Resolver      ResolverConfig  `toml:"resolver"`
	Preload       PreloadConfig   `toml:"preload"`
	Validity      ValidityConfig  `toml:"validity"`
	Telemetry     TelemetryConfig `toml:"telemetry"`
	Player        PlayerConfig    `toml:"player"`
	Logging       LoggingConfig   `toml:"logging"`
}

// ArchiveConfig points at the backend that serves catalogue data and audio
// containers.
type ArchiveConfig struct {
	BaseURL        string `toml:"base_url"`
	BearerToken    string `toml:"bearer_token"`
	NetworkTimeout int    `toml:"network_timeout_ms"`
}

// LocalDirConfig configures the local-mirror catalogue source.
type LocalDirConfig struct {
	Roots []string `toml:"roots"`
}

// ProbeConfig bounds the content-probe pipeline.
type ProbeConfig struct {
	Ceiling         int `toml:"ceiling"`
	TimeoutSeconds  int `toml:"timeout_seconds"`
	Retries         int `toml:"retries"`
	BackoffMs       int `toml:"backoff_ms"`
	CacheTTLMinutes int `toml:"cache_ttl_minutes"`
	SniffBytes      int `toml:"sniff_bytes"`
}

type ResolverConfig struct {
	RefreshTTLMinutes int `toml:"refresh_ttl_minutes"`
}

type PreloadConfig struct {
	Limit         int `toml:"limit"`
	PrefetchBytes int `toml:"prefetch_bytes"`
}

type ValidityConfig struct {
	SampleTracks int `toml:"sample_tracks"`
	TTLMinutes   int `toml:"ttl_minutes"`
}

type TelemetryConfig struct {
	Disabled                bool `toml:"disabled"`
	ProgressIntervalSeconds int  `toml:"progress_interval_seconds"`
	QueueSize               int  `toml:"queue_size"`
}

type PlayerConfig struct {
	MPVPath string `toml:"mpv_path"` // empty disables the external engine
	IPC     string `toml:"ipc"`
}

type LoggingConfig struct {
	Level string `toml:"level"` // debug, info, warn, error
}

// Load reads configuration from disk. If path is empty, a default OS-specific
// location is used. A missing file is not an error; defaults apply.
func Load(path string) (*Config, string, error) {
	cfgPath := path
	if cfgPath == "" {
		var err error
		cfgPath, err = defaultPath()
		if err != nil {
			return nil, "", fmt.Errorf("resolve config path: %w", err)
		}
	}

	var cfg Config
	data, err := os.ReadFile(cfgPath)
	switch {
	case err == nil:
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, cfgPath, fmt.Errorf("parse config: %w", err)
		}
	case errors.Is(err, os.ErrNotExist):
		// fall through to defaults
	default:
		return nil, cfgPath, fmt.Errorf("read config: %w", err)
	}

	applyDefaults(&cfg)

	if err := Validate(cfg); err != nil {
		return nil, cfgPath, err
	}

	return &cfg, cfgPath, nil
}

func defaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	base := filepath.Join(dir, "phonotek")
	if err := os.MkdirAll(base, 0o755); err != nil {
		return "", err
	}
	return filepath.Join(base, "config.toml"), nil
}

func applyDefaults(cfg *Config) {
	if cfg.Source == "" {
		cfg.Source = "archive"
	}
	if cfg.Archive.NetworkTimeout == 0 {
		cfg.Archive.NetworkTimeout = 8000
	}
	if cfg.Probe.Ceiling == 0 {
		cfg.Probe.Ceiling = 6
	}
	if cfg.Probe.TimeoutSeconds == 0 {
		cfg.Probe.TimeoutSeconds = 12
	}
	if cfg.Probe.Retries == 0 {
		cfg.Probe.Retries = 2
	}
	if cfg.Probe.BackoffMs == 0 {
		cfg.Probe.BackoffMs = 600
	}
	if cfg.Probe.CacheTTLMinutes == 0 {
		cfg.Probe.CacheTTLMinutes = 10
	}
	if cfg.Probe.SniffBytes == 0 {
		cfg.Probe.SniffBytes = 4096
	}
	if cfg.Resolver.RefreshTTLMinutes == 0 {
		cfg.Resolver.RefreshTTLMinutes = 30
	}
	if cfg.Preload.Limit == 0 {
		cfg.Preload.Limit = 4
	}
	if cfg.Preload.PrefetchBytes == 0 {
		cfg.Preload.PrefetchBytes = 64 * 1024
	}
	if cfg.Validity.SampleTracks == 0 {
		cfg.Validity.SampleTracks = 2
	}
	if cfg.Validity.TTLMinutes == 0 {
		cfg.Validity.TTLMinutes = 10
	}
	if cfg.Telemetry.ProgressIntervalSeconds == 0 {
		cfg.Telemetry.ProgressIntervalSeconds = 30
	}
	if cfg.Telemetry.QueueSize == 0 {
		cfg.Telemetry.QueueSize = 50
	}
	if cfg.Player.MPVPath == "" {
		cfg.Player.MPVPath = "mpv"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

// Validate performs semantic validation of config.
func Validate(cfg Config) error {
	switch cfg.Source {
	case "archive":
		if cfg.Archive.BaseURL == "" {
			return errors.New("archive.base_url is required")
		}
	case "localdir":
		if len(cfg.LocalDir.Roots) == 0 {
			return errors.New("localdir.roots is required")
		}
		for _, r := range cfg.LocalDir.Roots {
			if r == "" {
				return errors.New("localdir.roots contains empty path")
			}
			if _, err := os.Stat(r); err != nil {
				return fmt.Errorf("localdir root %s: %w", r, err)
			}
		}
	default:
		return fmt.Errorf("unknown source: %s", cfg.Source)
	}
	if cfg.Probe.Ceiling < 1 {
		return errors.New("probe.ceiling must be at least 1")
	}
	if cfg.Probe.Retries < 0 {
		return errors.New("probe.retries must not be negative")
	}
	if cfg.Preload.Limit < 1 {
		return errors.New("preload.limit must be at least 1")
	}
	if cfg.Validity.SampleTracks < 1 {
		return errors.New("validity.sample_tracks must be at least 1")
	}
	switch cfg.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown logging.level: %s", cfg.Logging.Level)
	}
	if cfg.Player.MPVPath != "" && cfg.Player.MPVPath != "off" {
		if _, err := os.Stat(cfg.Player.MPVPath); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				if _, lookErr := execLookPath(cfg.Player.MPVPath); lookErr != nil {
					return fmt.Errorf("mpv not found (%s): %w", cfg.Player.MPVPath, lookErr)
				}
			}
		}
	}
	return nil
}

// EngineEnabled reports whether an external playback engine is configured.
func (c Config) EngineEnabled() bool {
	return c.Player.MPVPath != "" && c.Player.MPVPath != "off"
}

// ProbeTimeout is the hard per-attempt deadline for content probes.
func (c Config) ProbeTimeout() time.Duration {
	return time.Duration(c.Probe.TimeoutSeconds) * time.Second
}

// ProbeBackoff is the linear backoff step between probe retries.
func (c Config) ProbeBackoff() time.Duration {
	return time.Duration(c.Probe.BackoffMs) * time.Millisecond
}

// ProbeCacheTTL bounds how long a probe outcome stays fresh.
func (c Config) ProbeCacheTTL() time.Duration {
	return time.Duration(c.Probe.CacheTTLMinutes) * time.Minute
}

// RefreshTTL bounds how long a minted container URL stays trusted.
func (c Config) RefreshTTL() time.Duration {
	return time.Duration(c.Resolver.RefreshTTLMinutes) * time.Minute
}

// ValidityTTL bounds how long an album validity verdict stays fresh.
func (c Config) ValidityTTL() time.Duration {
	return time.Duration(c.Validity.TTLMinutes) * time.Minute
}

// ProgressInterval is the minimum spacing between PROGRESS telemetry events.
func (c Config) ProgressInterval() time.Duration {
	return time.Duration(c.Telemetry.ProgressIntervalSeconds) * time.Second
}

// DeadlineContext returns a context with the archive network timeout applied.
func (c Config) DeadlineContext() (context.Context, context.CancelFunc) {
	d := time.Duration(c.Archive.NetworkTimeout) * time.Millisecond
	if d == 0 {
		d = 8 * time.Second
	}
	return context.WithTimeout(context.Background(), d)
}

// execLookPath is a test seam.
var execLookPath = func(file string) (string, error) {
	return exec.LookPath(file)
}

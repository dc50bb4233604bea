package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestValidate(t *testing.T) {
	// Setup
	tmp, err := os.CreateTemp("", "mpv")
	if err != nil {
		t.Fatal(err)
	}
	defer os.Remove(tmp.Name())
	mpvPath := tmp.Name()

	base := func() Config {
		var cfg Config
		applyDefaults(&cfg)
		cfg.Archive.BaseURL = "https://archive.example.com"
		cfg.Player.MPVPath = mpvPath
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid config",
			mutate:  func(cfg *Config) {},
			wantErr: false,
		},
		{
			name: "missing base url",
			mutate: func(cfg *Config) {
				cfg.Archive.BaseURL = ""
			},
			wantErr: true,
		},
		{
			name: "unknown source",
			mutate: func(cfg *Config) {
				cfg.Source = "subspace"
			},
			wantErr: true,
		},
		{
			name: "localdir without roots",
			mutate: func(cfg *Config) {
				cfg.Source = "localdir"
			},
			wantErr: true,
		},
		{
			name: "localdir with roots",
			mutate: func(cfg *Config) {
				cfg.Source = "localdir"
				cfg.LocalDir.Roots = []string{os.TempDir()}
			},
			wantErr: false,
		},
		{
			name: "invalid mpv path",
			mutate: func(cfg *Config) {
				cfg.Player.MPVPath = "/invalid/mpv/path"
			},
			wantErr: true,
		},
		{
			name: "engine disabled skips mpv check",
			mutate: func(cfg *Config) {
				cfg.Player.MPVPath = "off"
			},
			wantErr: false,
		},
		{
			name: "zero ceiling",
			mutate: func(cfg *Config) {
				cfg.Probe.Ceiling = -1
			},
			wantErr: true,
		},
		{
			name: "bad logging level",
			mutate: func(cfg *Config) {
				cfg.Logging.Level = "loud"
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(&cfg)
			err := Validate(cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	restore := execLookPath
	execLookPath = func(string) (string, error) { return "/usr/bin/mpv", nil }
	defer func() { execLookPath = restore }()

	path := filepath.Join(t.TempDir(), "nope.toml")
	_, _, err := Load(path)
	// Defaults select the archive source, which requires a base URL.
	if err == nil {
		t.Fatal("expected validation error for defaults without base_url")
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	restore := execLookPath
	execLookPath = func(string) (string, error) { return "/usr/bin/mpv", nil }
	defer func() { execLookPath = restore }()

	path := filepath.Join(t.TempDir(), "config.toml")
	body := "[archive]\nbase_url = \"https://archive.example.com\"\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, gotPath, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if gotPath != path {
		t.Fatalf("expected path %s got %s", path, gotPath)
	}
	if cfg.Probe.Ceiling != 6 {
		t.Fatalf("expected probe ceiling 6 got %d", cfg.Probe.Ceiling)
	}
	if cfg.Probe.TimeoutSeconds != 12 {
		t.Fatalf("expected probe timeout 12 got %d", cfg.Probe.TimeoutSeconds)
	}
	if cfg.Preload.Limit != 4 {
		t.Fatalf("expected preload limit 4 got %d", cfg.Preload.Limit)
	}
	if cfg.Validity.SampleTracks != 2 {
		t.Fatalf("expected sample 2 got %d", cfg.Validity.SampleTracks)
	}
	if cfg.Telemetry.ProgressIntervalSeconds != 30 {
		t.Fatalf("expected progress interval 30 got %d", cfg.Telemetry.ProgressIntervalSeconds)
	}
}

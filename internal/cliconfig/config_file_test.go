package cliconfig

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestApplyFileConfig(t *testing.T) {
	trueVal := true
	falseVal := false

	tests := []struct {
		name       string
		fileConfig FileConfig
		changed    map[string]bool
		initial    Config
		expected   Config
		wantErr    bool
	}{
		{
			name: "applies all valid config values",
			fileConfig: FileConfig{
				ListenAddr:     ":9000",
				BatchSize:      500,
				FlushInterval:  "250ms",
				CPUThreshold:   80,
				MaxConnections: 64,
				TLS:            TLSFileConfig{Enabled: &trueVal, KeyStore: "/tls/server.p12", KeyStoreType: "PKCS12"},
				Spill:          SpillFileConfig{Quota: 50, Dir: "/var/spill"},
				Upstream:       UpstreamFileConfig{Source: "nats", NATSSubject: "telemetry"},
			},
			changed: map[string]bool{},
			initial: Config{},
			expected: Config{
				ListenAddr:     ":9000",
				BatchSize:      500,
				FlushInterval:  250 * time.Millisecond,
				CPUThreshold:   80,
				MaxConnections: 64,
				Secure:         true,
				KeyStore:       "/tls/server.p12",
				KeyStoreType:   "PKCS12",
				QueueQuota:     50,
				SpillDir:       "/var/spill",
				Upstream:       "nats",
				NATSSubject:    "telemetry",
			},
		},
		{
			name: "respects changed flags",
			fileConfig: FileConfig{
				ListenAddr: ":9000",
				BatchSize:  500,
			},
			changed: map[string]bool{"listen": true},
			initial: Config{ListenAddr: ":7000"},
			expected: Config{
				ListenAddr: ":7000",
				BatchSize:  500,
			},
		},
		{
			name:       "explicit false overrides true",
			fileConfig: FileConfig{TLS: TLSFileConfig{Enabled: &falseVal}},
			changed:    map[string]bool{},
			initial:    Config{Secure: true},
			expected:   Config{Secure: false},
		},
		{
			name:       "ignores zero values",
			fileConfig: FileConfig{},
			changed:    map[string]bool{},
			initial:    Config{ListenAddr: ":8900", BatchSize: 1000},
			expected:   Config{ListenAddr: ":8900", BatchSize: 1000},
		},
		{
			name:       "returns error for invalid duration",
			fileConfig: FileConfig{FlushInterval: "soon"},
			changed:    map[string]bool{},
			wantErr:    true,
		},
		{
			name:       "returns error for invalid spill duration",
			fileConfig: FileConfig{Spill: SpillFileConfig{Timeout: "later"}},
			changed:    map[string]bool{},
			wantErr:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.initial
			err := ApplyFileConfig(&cfg, tt.fileConfig, tt.changed)

			if tt.wantErr {
				if err == nil {
					t.Error("ApplyFileConfig() expected error but got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("ApplyFileConfig() unexpected error: %v", err)
			}
			if cfg != tt.expected {
				t.Errorf("ApplyFileConfig() =\n%+v\nwant\n%+v", cfg, tt.expected)
			}
		})
	}
}

func TestLoadFileConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "fanrelay.toml")

	tomlContent := `
listen = ":9100"
metrics_addr = "127.0.0.1:9101"
batch_size = 200
flush_interval = "1s"
max_connections = 500
cpu_threshold = 90.0

[tls]
enabled = true
keystore = "/etc/fanrelay/server.pem"
truststore = "/etc/fanrelay/ca.pem"
client_auth = true
protocol = "TLSv1.3"

[spill]
quota = 100
capacity = 5000
dir = "/var/lib/fanrelay"
max_age = "2h"

[upstream]
source = "nats"
nats_url = "nats://broker:4222"
nats_subject = "telemetry.>"
nats_queue = "relays"
`

	if err := os.WriteFile(configPath, []byte(tomlContent), 0644); err != nil {
		t.Fatalf("Failed to create test config file: %v", err)
	}

	fc, err := LoadFileConfig(configPath)
	if err != nil {
		t.Fatalf("LoadFileConfig() error = %v", err)
	}

	if fc.ListenAddr != ":9100" {
		t.Errorf("ListenAddr = %v, want :9100", fc.ListenAddr)
	}
	if fc.FlushInterval != "1s" {
		t.Errorf("FlushInterval = %v, want 1s", fc.FlushInterval)
	}
	if fc.TLS.Enabled == nil || !*fc.TLS.Enabled {
		t.Errorf("TLS.Enabled = %v, want true", fc.TLS.Enabled)
	}
	if fc.TLS.Protocol != "TLSv1.3" {
		t.Errorf("TLS.Protocol = %v, want TLSv1.3", fc.TLS.Protocol)
	}
	if fc.Spill.Capacity != 5000 || fc.Spill.MaxAge != "2h" {
		t.Errorf("Spill = %+v", fc.Spill)
	}
	if fc.Upstream.NATSQueue != "relays" {
		t.Errorf("Upstream.NATSQueue = %v, want relays", fc.Upstream.NATSQueue)
	}

	cfg := DefaultConfig()
	if err := ApplyFileConfig(&cfg, fc, map[string]bool{}); err != nil {
		t.Fatalf("ApplyFileConfig() error = %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if cfg.SpillMaxAge != 2*time.Hour {
		t.Errorf("SpillMaxAge = %v, want 2h", cfg.SpillMaxAge)
	}
	if !cfg.ClientAuth || cfg.TrustStore != "/etc/fanrelay/ca.pem" {
		t.Errorf("client auth not applied: %+v", cfg.Redacted())
	}
}

func TestLoadFileConfig_InvalidFile(t *testing.T) {
	_, err := LoadFileConfig("/nonexistent/path/config.toml")
	if err == nil {
		t.Error("LoadFileConfig() expected error for nonexistent file")
	}
}

func TestLoadFileConfig_InvalidTOML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid.toml")

	invalidContent := `
listen = ":9000"
this is not valid toml
`

	if err := os.WriteFile(configPath, []byte(invalidContent), 0644); err != nil {
		t.Fatalf("Failed to create test config file: %v", err)
	}

	if _, err := LoadFileConfig(configPath); err == nil {
		t.Error("LoadFileConfig() expected error for invalid TOML")
	}
}

func TestDefaultConfigPath(t *testing.T) {
	path := DefaultConfigPath()

	if path != "" && !strings.Contains(path, ".fanrelay") {
		t.Errorf("DefaultConfigPath() = %v, should contain .fanrelay", path)
	}
}

func TestFileExists(t *testing.T) {
	tmpDir := t.TempDir()
	existingFile := filepath.Join(tmpDir, "exists.txt")

	if err := os.WriteFile(existingFile, []byte("test"), 0644); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}

	if !FileExists(existingFile) {
		t.Error("FileExists() = false, want true for existing file")
	}
	if FileExists(filepath.Join(tmpDir, "nonexistent.txt")) {
		t.Error("FileExists() = true, want false for nonexistent file")
	}
}

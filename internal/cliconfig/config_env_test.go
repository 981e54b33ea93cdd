package cliconfig

import (
	"testing"
	"time"
)

func TestApplyEnvConfig(t *testing.T) {
	tests := []struct {
		name     string
		envVars  map[string]string
		changed  map[string]bool
		initial  Config
		expected Config
		wantErr  bool
	}{
		{
			name: "applies all valid env vars",
			envVars: map[string]string{
				"FANRELAY_LISTEN":          ":9200",
				"FANRELAY_BATCH_SIZE":      "64",
				"FANRELAY_FLUSH_INTERVAL":  "500ms",
				"FANRELAY_CPU_THRESHOLD":   "75.5",
				"FANRELAY_SECURE":          "true",
				"FANRELAY_KEYSTORE":        "/env/server.pem",
				"FANRELAY_UPSTREAM":        "nats",
				"FANRELAY_NATS_SUBJECT":    "env.telemetry",
				"FANRELAY_MAX_CONNECTIONS": "10",
			},
			changed: map[string]bool{},
			expected: Config{
				ListenAddr:     ":9200",
				BatchSize:      64,
				FlushInterval:  500 * time.Millisecond,
				CPUThreshold:   75.5,
				Secure:         true,
				KeyStore:       "/env/server.pem",
				Upstream:       "nats",
				NATSSubject:    "env.telemetry",
				MaxConnections: 10,
			},
		},
		{
			name: "respects changed flags",
			envVars: map[string]string{
				"FANRELAY_LISTEN":     ":9200",
				"FANRELAY_BATCH_SIZE": "64",
			},
			changed:  map[string]bool{"listen": true},
			initial:  Config{ListenAddr: ":7000"},
			expected: Config{ListenAddr: ":7000", BatchSize: 64},
		},
		{
			name:    "returns error for invalid duration",
			envVars: map[string]string{"FANRELAY_FLUSH_INTERVAL": "not-a-duration"},
			changed: map[string]bool{},
			wantErr: true,
		},
		{
			name:    "returns error for invalid int",
			envVars: map[string]string{"FANRELAY_QUEUE_QUOTA": "lots"},
			changed: map[string]bool{},
			wantErr: true,
		},
		{
			name:    "returns error for invalid float",
			envVars: map[string]string{"FANRELAY_ACCEPT_RATE": "fast"},
			changed: map[string]bool{},
			wantErr: true,
		},
		{
			name:     "ignores non-positive ints",
			envVars:  map[string]string{"FANRELAY_BATCH_SIZE": "0"},
			changed:  map[string]bool{},
			initial:  Config{BatchSize: 1000},
			expected: Config{BatchSize: 1000},
		},
		{
			name:     "handles bool '1' as true",
			envVars:  map[string]string{"FANRELAY_CLIENT_AUTH": "1"},
			changed:  map[string]bool{},
			expected: Config{ClientAuth: true},
		},
		{
			name:     "handles bool 'false' as false",
			envVars:  map[string]string{"FANRELAY_TLS_RELOAD": "false"},
			changed:  map[string]bool{},
			initial:  Config{TLSReload: true},
			expected: Config{TLSReload: false},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.envVars {
				t.Setenv(k, v)
			}

			cfg := tt.initial
			err := ApplyEnvConfig(&cfg, tt.changed)

			if tt.wantErr {
				if err == nil {
					t.Error("ApplyEnvConfig() expected error but got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("ApplyEnvConfig() unexpected error: %v", err)
			}
			if cfg != tt.expected {
				t.Errorf("ApplyEnvConfig() =\n%+v\nwant\n%+v", cfg, tt.expected)
			}
		})
	}
}

// Precedence order: flags > env > file > defaults.
func TestConfigPrecedence(t *testing.T) {
	fileConf := FileConfig{
		ListenAddr:    ":9000",
		BatchSize:     200,
		FlushInterval: "3s",
	}

	t.Setenv("FANRELAY_LISTEN", ":9100")
	t.Setenv("FANRELAY_BATCH_SIZE", "300")

	changed := map[string]bool{"listen": true}

	cfg := DefaultConfig()
	cfg.ListenAddr = ":9999"

	if err := ApplyFileConfig(&cfg, fileConf, changed); err != nil {
		t.Fatalf("ApplyFileConfig failed: %v", err)
	}
	if err := ApplyEnvConfig(&cfg, changed); err != nil {
		t.Fatalf("ApplyEnvConfig failed: %v", err)
	}

	if cfg.ListenAddr != ":9999" {
		t.Errorf("ListenAddr = %v, want :9999 (flag should win)", cfg.ListenAddr)
	}
	if cfg.BatchSize != 300 {
		t.Errorf("BatchSize = %v, want 300 (env should override file)", cfg.BatchSize)
	}
	if cfg.FlushInterval != 3*time.Second {
		t.Errorf("FlushInterval = %v, want 3s (file should override default)", cfg.FlushInterval)
	}
	if cfg.QueueQuota != 1000 {
		t.Errorf("QueueQuota = %v, want default 1000", cfg.QueueQuota)
	}
}

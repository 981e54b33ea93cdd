package spillsweep

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bft-labs/fanrelay/pkg/fanrelay"
)

func mkdirAged(t *testing.T, root, name string, age time.Duration) string {
	t.Helper()
	path := filepath.Join(root, name)
	if err := os.MkdirAll(path, 0o750); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(path, "000001.log"), []byte("x"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	mt := time.Now().Add(-age)
	if err := os.Chtimes(path, mt, mt); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	return path
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func TestSweep(t *testing.T) {
	root := t.TempDir()
	self := os.Getpid()
	other := self + 1

	staleForeign := mkdirAged(t, root, fmt.Sprintf("spill-1b4e28ba-2fa1-11d2-883f-0016d3cca427-%d-1700000000000000000", other), 2*time.Hour)
	freshForeign := mkdirAged(t, root, fmt.Sprintf("spill-conn-%d-1700000000000000001", other), time.Minute)
	staleOwn := mkdirAged(t, root, fmt.Sprintf("spill-conn-%d-1700000000000000002", self), 2*time.Hour)
	unrelated := mkdirAged(t, root, "keep-me", 2*time.Hour)
	malformed := mkdirAged(t, root, "spill-nopid", 2*time.Hour)

	p := New(Config{MaxAge: time.Hour})
	if err := p.Initialize(context.Background(), fanrelay.PluginConfig{}); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	p.dir = root

	removed, err := p.Sweep(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if removed != 1 {
		t.Errorf("Sweep() removed %d, want 1", removed)
	}
	if exists(staleForeign) {
		t.Error("stale foreign spill directory was kept")
	}
	for _, keep := range []string{freshForeign, staleOwn, unrelated, malformed} {
		if !exists(keep) {
			t.Errorf("%s was removed", filepath.Base(keep))
		}
	}
}

func TestSweep_MissingDir(t *testing.T) {
	p := New(DefaultConfig())
	_ = p.Initialize(context.Background(), fanrelay.PluginConfig{})
	p.dir = filepath.Join(t.TempDir(), "absent")

	removed, err := p.Sweep(context.Background(), time.Now())
	if err != nil || removed != 0 {
		t.Errorf("Sweep() = %d, %v; want 0, nil", removed, err)
	}
}

func TestPlugin_SweepsOnStart(t *testing.T) {
	root := t.TempDir()
	stale := mkdirAged(t, root, fmt.Sprintf("spill-conn-%d-1", os.Getpid()+1), 3*time.Hour)

	p := New(Config{Interval: time.Hour, MaxAge: time.Hour, RunImmediately: true})
	if err := p.Initialize(context.Background(), fanrelay.PluginConfig{SpillDir: root}); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	defer p.Shutdown(context.Background())

	deadline := time.Now().Add(2 * time.Second)
	for exists(stale) {
		if time.Now().After(deadline) {
			t.Fatal("stale directory not swept on start")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestOwnerPID(t *testing.T) {
	tests := []struct {
		name   string
		pid    int
		wantOK bool
	}{
		{"spill-abc-42-1700000000", 42, true},
		{"spill-a-b-c-7-1", 7, true},
		{"spill-abc-1700000000", 0, false},
		{"spill-abc-x-1", 0, false},
		{"spill-abc-1-y", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pid, ok := ownerPID(tt.name)
			if ok != tt.wantOK || pid != tt.pid {
				t.Errorf("ownerPID(%q) = %d, %v; want %d, %v", tt.name, pid, ok, tt.pid, tt.wantOK)
			}
		})
	}
}

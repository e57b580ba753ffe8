package main

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Jeansidharta/yeelight-controller/internal/bridges/yeelight"
	"github.com/Jeansidharta/yeelight-controller/internal/device"
	"github.com/Jeansidharta/yeelight-controller/internal/infrastructure/config"
	"github.com/Jeansidharta/yeelight-controller/internal/infrastructure/logging"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

// TestRun_InvalidYAML verifies run fails when the config cannot be parsed.
func TestRun_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "api: [not, a, map")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx, path); err == nil {
		t.Fatal("run() should fail with unparsable config")
	}
}

// TestRun_InvalidConfig verifies validation errors stop startup.
func TestRun_InvalidConfig(t *testing.T) {
	path := writeConfig(t, `
lamp:
  control_port: 0
api:
  port: 70000
logging:
  level: none
`)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx, path); err == nil {
		t.Fatal("run() should fail with an invalid config")
	}
}

// TestRun_BadDatabasePath verifies run fails when the database cannot be opened.
func TestRun_BadDatabasePath(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(blocker, nil, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	path := writeConfig(t, `
database:
  enabled: true
  path: "`+filepath.Join(blocker, "sub", "yeelight.db")+`"
discovery:
  enabled: false
logging:
  level: none
`)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx, path); err == nil {
		t.Fatal("run() should fail when the database directory cannot be created")
	}
}

func TestGetConfigPath(t *testing.T) {
	t.Setenv("YEELIGHT_CONFIG", "")
	if got := getConfigPath(""); got != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", got, defaultConfigPath)
	}

	t.Setenv("YEELIGHT_CONFIG", "/etc/yeelightd.yaml")
	if got := getConfigPath(""); got != "/etc/yeelightd.yaml" {
		t.Errorf("getConfigPath() = %q, want env value", got)
	}
	if got := getConfigPath("local.yaml"); got != "local.yaml" {
		t.Errorf("getConfigPath(flag) = %q, want local.yaml", got)
	}
}

func TestSessionConfig(t *testing.T) {
	cfg := &config.Config{
		Lamp:  config.LampConfig{ControlPort: 55443, ConnectTimeout: 3, ConnectRetries: 4, CommandTimeout: 7},
		Music: config.MusicConfig{Host: "10.0.0.2", PortMin: 50000, PortMax: 50010, Attempts: 5},
	}

	got := sessionConfig(cfg)
	want := yeelight.SessionConfig{
		Port:           55443,
		ConnectTimeout: 3 * time.Second,
		ConnectRetries: 4,
		CommandTimeout: 7 * time.Second,
		Music:          yeelight.MusicConfig{Host: "10.0.0.2", PortMin: 50000, PortMax: 50010, Attempts: 5},
	}
	if got != want {
		t.Errorf("sessionConfig() = %+v, want %+v", got, want)
	}
}

type countingHistory struct {
	prunes atomic.Int32
	maxAge atomic.Int64
}

func (h *countingHistory) Record(context.Context, int64, yeelight.DeviceState, string) error {
	return nil
}

func (h *countingHistory) Recent(context.Context, int64, int) ([]device.StateHistoryEntry, error) {
	return nil, nil
}

func (h *countingHistory) Prune(_ context.Context, olderThan time.Duration) (int64, error) {
	h.prunes.Add(1)
	h.maxAge.Store(int64(olderThan))
	return 1, nil
}

func TestPruneHistory(t *testing.T) {
	history := &countingHistory{}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		pruneHistory(ctx, history, 7, logging.Discard())
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for history.prunes.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("Prune was not called at start")
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	<-done

	if got := time.Duration(history.maxAge.Load()); got != 7*24*time.Hour {
		t.Errorf("Prune maxAge = %v, want 168h", got)
	}
}

func TestPruneHistory_ZeroRetention(t *testing.T) {
	history := &countingHistory{}
	pruneHistory(context.Background(), history, 0, logging.Discard())

	if got := history.prunes.Load(); got != 0 {
		t.Errorf("Prune calls = %d, want 0", got)
	}
}

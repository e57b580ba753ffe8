package influxdb_test

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/Jeansidharta/yeelight-controller/internal/infrastructure/config"
	"github.com/Jeansidharta/yeelight-controller/internal/infrastructure/influxdb"
)

// testConfig returns a configuration for a local dev InfluxDB.
func testConfig() config.InfluxDBConfig {
	return config.InfluxDBConfig{
		Enabled:       true,
		URL:           "http://127.0.0.1:8086",
		Token:         "yeelight-dev-token",
		Org:           "yeelight",
		Bucket:        "lamps",
		BatchSize:     100,
		FlushInterval: 1,
	}
}

// skipIfNoInfluxDB skips the test if InfluxDB is not running.
func skipIfNoInfluxDB(t *testing.T) {
	t.Helper()
	if os.Getenv("RUN_INTEGRATION") == "" {
		client, err := influxdb.Connect(testConfig())
		if err != nil {
			t.Skip("InfluxDB not available, skipping integration test")
		}
		client.Close()
	}
}

func TestConnect_Disabled(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false

	if _, err := influxdb.Connect(cfg); !errors.Is(err, influxdb.ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestConnect_Unreachable(t *testing.T) {
	cfg := testConfig()
	cfg.URL = "http://127.0.0.1:59999"

	if _, err := influxdb.Connect(cfg); !errors.Is(err, influxdb.ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestLampStatePoint(t *testing.T) {
	at := time.Unix(1700000000, 0)
	point := influxdb.LampStatePoint(influxdb.LampSample{
		LampID: 1385535,
		Model:  "color",
		Source: "lamp",
		Power:  true,
		Bright: 80,
		CT:     4000,
	}, at)

	line := write.PointToLineProtocol(point, time.Second)

	if !strings.HasPrefix(line, "lamp_state,") {
		t.Errorf("line = %q, want lamp_state measurement", line)
	}
	for _, want := range []string{"lamp_id=1385535", "model=color", "source=lamp", "power=true", "bright=80i", "ct=4000i", "music=false", " 1700000000"} {
		if !strings.Contains(line, want) {
			t.Errorf("line = %q, missing %q", line, want)
		}
	}
}

func TestLampStatePoint_OmitsEmptyTags(t *testing.T) {
	point := influxdb.LampStatePoint(influxdb.LampSample{LampID: 7}, time.Now())
	line := write.PointToLineProtocol(point, time.Second)

	if strings.Contains(line, "model=") || strings.Contains(line, "source=") {
		t.Errorf("line = %q, want only lamp_id tag", line)
	}
}

func TestWriteLampState_Disconnected(t *testing.T) {
	var client influxdb.Client

	// Must be a no-op without a server.
	client.WriteLampState(influxdb.LampSample{LampID: 1}, time.Now())
	client.Flush()

	if err := client.HealthCheck(context.Background()); !errors.Is(err, influxdb.ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}
	if err := client.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestConnect(t *testing.T) {
	skipIfNoInfluxDB(t)

	client, err := influxdb.Connect(testConfig())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	if !client.IsConnected() {
		t.Error("IsConnected() = false after Connect()")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.HealthCheck(ctx); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}

func TestWriteLampState(t *testing.T) {
	skipIfNoInfluxDB(t)

	client, err := influxdb.Connect(testConfig())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	var writeErr error
	var mu sync.Mutex
	client.SetOnError(func(err error) {
		mu.Lock()
		writeErr = err
		mu.Unlock()
	})

	client.WriteLampState(influxdb.LampSample{LampID: 424242, Model: "mono", Power: true, Bright: 50}, time.Now())
	client.Flush()

	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if writeErr != nil {
		t.Errorf("Write error = %v", writeErr)
	}
}

func TestClose(t *testing.T) {
	skipIfNoInfluxDB(t)

	client, err := influxdb.Connect(testConfig())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	client.WriteLampState(influxdb.LampSample{LampID: 424242}, time.Now())

	if err := client.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if client.IsConnected() {
		t.Error("IsConnected() = true after Close()")
	}
}

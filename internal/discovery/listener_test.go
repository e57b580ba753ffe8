package discovery

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Jeansidharta/yeelight-controller/internal/bridges/yeelight"
	"github.com/Jeansidharta/yeelight-controller/internal/device"
)

// fakeSink records CreateOrUpdate calls.
type fakeSink struct {
	mu    sync.Mutex
	calls []yeelight.StatePatch
	ids   []int64
	err   error
}

func (f *fakeSink) CreateOrUpdate(_ context.Context, id int64, patch yeelight.StatePatch) (yeelight.DeviceState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ids = append(f.ids, id)
	f.calls = append(f.calls, patch)
	return yeelight.DeviceState{ID: id}, f.err
}

func (f *fakeSink) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

var fromLamp = &net.UDPAddr{IP: net.IPv4(10, 0, 0, 5), Port: 1982}

func newTestListener(t *testing.T, cfg Config, sink Sink) *Listener {
	t.Helper()
	l, err := NewListener(cfg, sink)
	if err != nil {
		t.Fatalf("NewListener() error: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func TestNewListener_Defaults(t *testing.T) {
	l := newTestListener(t, Config{}, &fakeSink{})

	if l.group.String() != DefaultMulticastAddress {
		t.Errorf("group = %s, want %s", l.group, DefaultMulticastAddress)
	}
	if l.cfg.ProbePort != DefaultProbePort {
		t.Errorf("ProbePort = %d, want %d", l.cfg.ProbePort, DefaultProbePort)
	}
	if l.cfg.TTL != DefaultTTL {
		t.Errorf("TTL = %d, want %d", l.cfg.TTL, DefaultTTL)
	}
}

func TestNewListener_InvalidAddress(t *testing.T) {
	if _, err := NewListener(Config{MulticastAddress: "not an address"}, &fakeSink{}); !errors.Is(err, ErrInvalidAddress) {
		t.Errorf("NewListener() error = %v, want ErrInvalidAddress", err)
	}
}

func TestListener_HandleNotifyIntoRegistry(t *testing.T) {
	registry := device.NewRegistry(device.RegistryConfig{})
	defer registry.Close()

	l := newTestListener(t, Config{}, registry)
	l.handle(datagram("NOTIFY * HTTP/1.1",
		"Host: 239.255.255.250:1982",
		"Cache-Control: max-age=3600",
		"Location: yeelight://10.0.0.5:55443",
		"NTS: ssdp:alive",
		"Server: POSIX, UPnP/1.0 YGLC/1",
		"id: 0x00000001",
		"power: on",
		"bright: 80"), fromLamp)

	if registry.Count() != 1 {
		t.Fatalf("registry Count() = %d, want 1", registry.Count())
	}
	state, err := registry.Get(1)
	if err != nil {
		t.Fatalf("registry Get(1) error: %v", err)
	}
	if state.Address != "10.0.0.5" || !state.IsPowerOn || state.Bright != 80 {
		t.Errorf("state = %+v, want 10.0.0.5 on bright 80", state)
	}
	if l.Stats().LampsAnnounced != 1 {
		t.Errorf("LampsAnnounced = %d, want 1", l.Stats().LampsAnnounced)
	}
}

func TestListener_HandleDrops(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"not an announcement", []byte("garbage")},
		{"bad location", datagram("NOTIFY * HTTP/1.1", "Location: nowhere", "id: 0x1")},
		{"untranslatable value", datagram("NOTIFY * HTTP/1.1", "Location: yeelight://10.0.0.5:55443", "id: 0x1", "bright: very")},
		{"missing id", datagram("NOTIFY * HTTP/1.1", "Location: yeelight://10.0.0.5:55443", "power: on")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink := &fakeSink{}
			l := newTestListener(t, Config{}, sink)
			l.handle(tt.data, fromLamp)

			if sink.Calls() != 0 {
				t.Errorf("sink called %d times, want 0", sink.Calls())
			}
			if l.Stats().DatagramsDropped != 1 {
				t.Errorf("DatagramsDropped = %d, want 1", l.Stats().DatagramsDropped)
			}
		})
	}
}

func TestListener_HandleSkipsUnknownHeaders(t *testing.T) {
	sink := &fakeSink{}
	l := newTestListener(t, Config{}, sink)

	l.handle(datagram("HTTP/1.1 200 OK",
		"Location: yeelight://10.0.0.5:55443",
		"id: 0x2",
		"nl_br: 0",
		"active_mode: 0",
		"bright: 5"), fromLamp)

	if sink.Calls() != 1 {
		t.Fatalf("sink called %d times, want 1", sink.Calls())
	}
	patch := sink.calls[0]
	if sink.ids[0] != 2 || patch.Bright == nil || *patch.Bright != 5 {
		t.Errorf("patch = %+v for id %d, want bright 5 for id 2", patch, sink.ids[0])
	}
	if patch.Address == nil || *patch.Address != "10.0.0.5" {
		t.Errorf("Address = %v, want 10.0.0.5", patch.Address)
	}
}

func TestListener_ProbeBeforeStart(t *testing.T) {
	l := newTestListener(t, Config{}, &fakeSink{})

	if err := l.Probe(context.Background()); !errors.Is(err, ErrNotStarted) {
		t.Errorf("Probe() error = %v, want ErrNotStarted", err)
	}
}

// startUDPLamp answers every M-SEARCH with a discovery response.
func startUDPLamp(t *testing.T) (*net.UDPConn, <-chan string) {
	t.Helper()
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("Failed to create lamp socket: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	probes := make(chan string, 10)
	go func() {
		buf := make([]byte, maxDatagramSize)
		for {
			n, from, err := conn.ReadFromUDP(buf)
			if err != nil {
				return
			}
			msg := string(buf[:n])
			probes <- msg
			if !strings.HasPrefix(msg, "M-SEARCH") {
				continue
			}
			reply := datagram("HTTP/1.1 200 OK",
				"Cache-Control: max-age=3600",
				"Location: yeelight://10.0.0.5:55443",
				"id: 0x00000001",
				"model: color",
				"power: on",
				"bright: 80")
			conn.WriteToUDP(reply, from) //nolint:errcheck // test responder
		}
	}()
	return conn, probes
}

func TestListener_ProbeScenario(t *testing.T) {
	lamp, probes := startUDPLamp(t)

	registry := device.NewRegistry(device.RegistryConfig{})
	defer registry.Close()

	l := newTestListener(t, Config{
		MulticastAddress: lamp.LocalAddr().String(),
		ProbePort:        -1,
	}, registry)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := l.Start(ctx); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	select {
	case msg := <-probes:
		if !strings.Contains(msg, "ST: wifi_bulb") {
			t.Errorf("probe = %q, want wifi_bulb search", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("lamp never received a probe")
	}

	state, err := registry.WaitFor(ctx, 1)
	if err != nil {
		t.Fatalf("WaitFor() error: %v", err)
	}
	if state.Address != "10.0.0.5" || !state.IsPowerOn || state.Bright != 80 {
		t.Errorf("state = %+v, want 10.0.0.5 on bright 80", state)
	}
	if registry.Count() != 1 {
		t.Errorf("registry Count() = %d, want 1", registry.Count())
	}

	if err := l.Start(ctx); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second Start() error = %v, want ErrAlreadyStarted", err)
	}
}

func TestListener_PeriodicProbe(t *testing.T) {
	lamp, probes := startUDPLamp(t)

	l := newTestListener(t, Config{
		MulticastAddress: lamp.LocalAddr().String(),
		ProbePort:        -1,
		ProbeInterval:    50 * time.Millisecond,
	}, &fakeSink{})

	if err := l.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	for i := range 3 {
		select {
		case <-probes:
		case <-time.After(2 * time.Second):
			t.Fatalf("probe %d never arrived", i+1)
		}
	}
}

func TestListener_Close(t *testing.T) {
	lamp, _ := startUDPLamp(t)

	l, err := NewListener(Config{MulticastAddress: lamp.LocalAddr().String(), ProbePort: -1}, &fakeSink{})
	if err != nil {
		t.Fatalf("NewListener() error: %v", err)
	}
	if err := l.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	if err := l.Close(); err != nil {
		t.Errorf("Close() error: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Errorf("second Close() error: %v", err)
	}

	if err := l.Probe(context.Background()); !errors.Is(err, ErrListenerClosed) {
		t.Errorf("Probe() after Close error = %v, want ErrListenerClosed", err)
	}
	if err := l.Start(context.Background()); !errors.Is(err, ErrListenerClosed) {
		t.Errorf("Start() after Close error = %v, want ErrListenerClosed", err)
	}
}

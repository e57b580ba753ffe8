package yeelight

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"
)

// lampRequest is a command as seen by the fake lamp.
type lampRequest struct {
	ID     int64  `json:"id"`
	Method string `json:"method"`
	Params []any  `json:"params"`
}

// fakeLamp simulates a lamp control port on loopback.
type fakeLamp struct {
	t        *testing.T
	listener net.Listener

	mu        sync.Mutex
	conns     []net.Conn
	requests  []lampRequest
	musicReqs []lampRequest
	accepted  int

	// reply returns the raw text written back for a request. An empty
	// string writes nothing.
	reply func(req lampRequest) string
}

func okReply(req lampRequest) string {
	return fmt.Sprintf(`{"id":%d,"result":["ok"]}`+"\r\n", req.ID)
}

func newFakeLamp(t *testing.T) *fakeLamp {
	t.Helper()
	listener, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to create listener: %v", err)
	}

	lamp := &fakeLamp{t: t, listener: listener, reply: okReply}
	go lamp.acceptLoop()
	t.Cleanup(lamp.Close)
	return lamp
}

func (l *fakeLamp) acceptLoop() {
	for {
		conn, err := l.listener.Accept()
		if err != nil {
			return
		}
		l.mu.Lock()
		l.conns = append(l.conns, conn)
		l.accepted++
		l.mu.Unlock()
		go l.serve(conn)
	}
}

func (l *fakeLamp) serve(conn net.Conn) {
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		var req lampRequest
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			continue
		}

		l.mu.Lock()
		l.requests = append(l.requests, req)
		reply := l.reply
		l.mu.Unlock()

		if req.Method == "set_music" && len(req.Params) == 3 {
			l.dialMusic(req.Params[1].(string), int(req.Params[2].(float64)))
		}

		if out := reply(req); out != "" {
			if _, err := conn.Write([]byte(out)); err != nil {
				return
			}
		}
	}
}

// dialMusic connects back to the controller like a lamp entering music mode.
func (l *fakeLamp) dialMusic(host string, port int) {
	conn, err := net.Dial("tcp4", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		l.t.Logf("music dial failed: %v", err)
		return
	}
	l.mu.Lock()
	l.conns = append(l.conns, conn)
	l.mu.Unlock()

	go func() {
		scanner := bufio.NewScanner(conn)
		for scanner.Scan() {
			var req lampRequest
			if err := json.Unmarshal(scanner.Bytes(), &req); err == nil {
				l.mu.Lock()
				l.musicReqs = append(l.musicReqs, req)
				l.mu.Unlock()
			}
		}
	}()
}

func (l *fakeLamp) Port() int {
	return l.listener.Addr().(*net.TCPAddr).Port
}

func (l *fakeLamp) SetReply(reply func(lampRequest) string) {
	l.mu.Lock()
	l.reply = reply
	l.mu.Unlock()
}

func (l *fakeLamp) Requests() []lampRequest {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]lampRequest(nil), l.requests...)
}

func (l *fakeLamp) MusicRequests() []lampRequest {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]lampRequest(nil), l.musicReqs...)
}

func (l *fakeLamp) Accepted() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.accepted
}

// Push writes a raw line on the most recent control connection.
func (l *fakeLamp) Push(t *testing.T, line string) {
	t.Helper()
	l.mu.Lock()
	var conn net.Conn
	if len(l.conns) > 0 {
		conn = l.conns[len(l.conns)-1]
	}
	l.mu.Unlock()

	if conn == nil {
		t.Fatal("No connection to push to")
	}
	if _, err := conn.Write([]byte(line)); err != nil {
		t.Fatalf("push failed: %v", err)
	}
}

// DropConnections closes every connection the lamp holds.
func (l *fakeLamp) DropConnections() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, c := range l.conns {
		c.Close()
	}
	l.conns = nil
}

func (l *fakeLamp) Close() {
	l.listener.Close()
	l.DropConnections()
}

func newTestSession(lamp *fakeLamp) *Session {
	state := DefaultState()
	state.ID = 42
	state.Address = "127.0.0.1"
	return NewSession(state, SessionConfig{
		Port:           lamp.Port(),
		ConnectTimeout: time.Second,
		ConnectRetries: 1,
		Music:          MusicConfig{Host: "127.0.0.1"},
	})
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", what)
}

func TestNewSession_Defaults(t *testing.T) {
	s := NewSession(DeviceState{ID: 1, Address: "10.0.0.5"}, SessionConfig{})
	if s.cfg.Port != DefaultControlPort {
		t.Errorf("Port = %d, want %d", s.cfg.Port, DefaultControlPort)
	}
	if s.cfg.ConnectTimeout != defaultConnectTimeout {
		t.Errorf("ConnectTimeout = %v, want %v", s.cfg.ConnectTimeout, defaultConnectTimeout)
	}
	if s.ConnState() != StateDisconnected {
		t.Errorf("ConnState() = %v, want disconnected", s.ConnState())
	}
}

func TestSession_SendOk(t *testing.T) {
	lamp := newFakeLamp(t)
	s := newTestSession(lamp)
	defer s.Close()

	cmd, err := SetBright(50, EffectSmooth, 500)
	if err != nil {
		t.Fatalf("SetBright() error: %v", err)
	}

	frame, err := s.Send(context.Background(), cmd)
	if err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	if !frame.IsResultOk() {
		t.Errorf("frame = %+v, want ok result", frame)
	}

	reqs := lamp.Requests()
	if len(reqs) != 1 {
		t.Fatalf("lamp received %d requests, want 1", len(reqs))
	}
	if reqs[0].ID != 42 || reqs[0].Method != "set_bright" {
		t.Errorf("request = %+v, want id 42 set_bright", reqs[0])
	}
	if len(reqs[0].Params) != 3 || reqs[0].Params[1] != "smooth" {
		t.Errorf("params = %v, want [50 smooth 500]", reqs[0].Params)
	}

	stats := s.Stats()
	if stats.CommandsSent != 1 {
		t.Errorf("CommandsSent = %d, want 1", stats.CommandsSent)
	}
	if stats.State != StateConnected {
		t.Errorf("State = %v, want connected", stats.State)
	}
}

func TestSession_SendDeviceError(t *testing.T) {
	lamp := newFakeLamp(t)
	lamp.SetReply(func(req lampRequest) string {
		return fmt.Sprintf(`{"id":%d,"error":{"code":-1,"message":"unsupported method"}}`+"\r\n", req.ID)
	})
	s := newTestSession(lamp)
	defer s.Close()

	_, err := s.Send(context.Background(), Toggle())

	var devErr *DeviceError
	if !errors.As(err, &devErr) {
		t.Fatalf("Send() error = %v, want *DeviceError", err)
	}
	if devErr.Code != -1 || devErr.Message != "unsupported method" {
		t.Errorf("DeviceError = %+v", devErr)
	}
}

func TestSession_SendResultNotOk(t *testing.T) {
	lamp := newFakeLamp(t)
	lamp.SetReply(func(req lampRequest) string {
		return fmt.Sprintf(`{"id":%d,"result":["on","100"]}`+"\r\n", req.ID)
	})
	s := newTestSession(lamp)
	defer s.Close()

	if _, err := s.Send(context.Background(), Toggle()); !errors.Is(err, ErrCommandFailed) {
		t.Errorf("Send(toggle) error = %v, want ErrCommandFailed", err)
	}

	cmd, _ := GetProp("power", "bright")
	frame, err := s.Send(context.Background(), cmd)
	if err != nil {
		t.Fatalf("Send(get_prop) error: %v", err)
	}
	if len(frame.Result) != 2 || frame.Result[0] != "on" {
		t.Errorf("get_prop result = %v, want [on 100]", frame.Result)
	}
}

func TestSession_PushUpdate(t *testing.T) {
	lamp := newFakeLamp(t)
	s := newTestSession(lamp)
	defer s.Close()

	changes := make(chan DeviceState, 1)
	s.SetOnChange(func(state DeviceState) { changes <- state })

	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	waitFor(t, "lamp to accept", func() bool { return lamp.Accepted() == 1 })

	lamp.Push(t, `{"method":"props","params":{"power":"on","bright":"10","ct":4000}}`+"\r\n")

	select {
	case state := <-changes:
		if !state.IsPowerOn || state.Bright != 10 || state.ColorTemperature != 4000 {
			t.Errorf("state = %+v, want power on bright 10 ct 4000", state)
		}
		if state.ID != 42 {
			t.Errorf("ID = %d, want 42", state.ID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for change callback")
	}

	if got := s.State(); got.Bright != 10 {
		t.Errorf("State().Bright = %d, want 10", got.Bright)
	}
	if s.Stats().UpdatesApplied != 1 {
		t.Errorf("UpdatesApplied = %d, want 1", s.Stats().UpdatesApplied)
	}
}

func TestSession_UntranslatableUpdateDropped(t *testing.T) {
	lamp := newFakeLamp(t)
	s := newTestSession(lamp)
	defer s.Close()

	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	waitFor(t, "lamp to accept", func() bool { return lamp.Accepted() == 1 })

	lamp.Push(t, `{"method":"props","params":{"mystery":"1"}}`+"\r\n")
	waitFor(t, "error to be counted", func() bool { return s.Stats().ErrorsTotal == 1 })

	if s.Stats().UpdatesApplied != 0 {
		t.Errorf("UpdatesApplied = %d, want 0", s.Stats().UpdatesApplied)
	}
}

func TestSession_MalformedFrameSkipped(t *testing.T) {
	lamp := newFakeLamp(t)
	lamp.SetReply(func(req lampRequest) string {
		return "not json\r\n" + okReply(req)
	})
	s := newTestSession(lamp)
	defer s.Close()

	if _, err := s.Send(context.Background(), Toggle()); err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	if s.Stats().ErrorsTotal == 0 {
		t.Error("ErrorsTotal = 0, want malformed frame counted")
	}
}

func TestSession_ReconnectsAfterClose(t *testing.T) {
	lamp := newFakeLamp(t)
	s := newTestSession(lamp)
	defer s.Close()

	if _, err := s.Send(context.Background(), Toggle()); err != nil {
		t.Fatalf("first Send() error: %v", err)
	}

	lamp.DropConnections()
	waitFor(t, "session to disconnect", func() bool { return s.ConnState() == StateDisconnected })

	if _, err := s.Send(context.Background(), Toggle()); err != nil {
		t.Fatalf("Send() after drop error: %v", err)
	}
	if lamp.Accepted() != 2 {
		t.Errorf("lamp accepted %d connections, want 2", lamp.Accepted())
	}
}

func TestSession_ConnectFailure(t *testing.T) {
	listener, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to create listener: %v", err)
	}
	port := listener.Addr().(*net.TCPAddr).Port
	listener.Close()

	s := NewSession(DeviceState{ID: 1, Address: "127.0.0.1"}, SessionConfig{
		Port:           port,
		ConnectTimeout: 200 * time.Millisecond,
		ConnectRetries: 1,
	})
	defer s.Close()

	_, err = s.Send(context.Background(), Toggle())
	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Send() error = %v, want ErrConnectionFailed", err)
	}
	if s.ConnState() != StateDisconnected {
		t.Errorf("ConnState() = %v, want disconnected", s.ConnState())
	}
}

func TestSession_ReplyTimeout(t *testing.T) {
	lamp := newFakeLamp(t)
	lamp.SetReply(func(lampRequest) string { return "" })
	s := newTestSession(lamp)
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	if _, err := s.Send(ctx, Toggle()); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Send() error = %v, want context.DeadlineExceeded", err)
	}
}

func TestSession_ConnectionClosedWhileWaiting(t *testing.T) {
	lamp := newFakeLamp(t)
	lamp.SetReply(func(lampRequest) string {
		go lamp.DropConnections()
		return ""
	})
	s := newTestSession(lamp)
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if _, err := s.Send(ctx, Toggle()); !errors.Is(err, ErrConnectionClosed) {
		t.Errorf("Send() error = %v, want ErrConnectionClosed", err)
	}
}

func TestSession_ConcurrentSendsAreSerialised(t *testing.T) {
	lamp := newFakeLamp(t)
	s := newTestSession(lamp)
	defer s.Close()

	const n = 10
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Send(context.Background(), Toggle())
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("Send() error: %v", err)
		}
	}
	if got := len(lamp.Requests()); got != n {
		t.Errorf("lamp received %d requests, want %d", got, n)
	}
	if lamp.Accepted() != 1 {
		t.Errorf("lamp accepted %d connections, want 1", lamp.Accepted())
	}
}

func TestSession_MusicMode(t *testing.T) {
	lamp := newFakeLamp(t)
	s := newTestSession(lamp)
	defer s.Close()

	changes := make(chan DeviceState, 4)
	s.SetOnChange(func(state DeviceState) { changes <- state })

	ctx := context.Background()
	if err := s.SetMusic(ctx, true); err != nil {
		t.Fatalf("SetMusic(on) error: %v", err)
	}
	if !s.MusicMode() {
		t.Fatal("MusicMode() = false after SetMusic(on)")
	}
	port := s.music.port

	sent := s.Stats().CommandsSent
	if err := s.SetMusic(ctx, true); err != nil {
		t.Fatalf("second SetMusic(on) error: %v", err)
	}
	if s.Stats().CommandsSent != sent {
		t.Error("second SetMusic(on) sent a command")
	}
	if s.music.port != port {
		t.Error("second SetMusic(on) opened a new listener")
	}

	cmd, _ := SetBright(10, EffectSudden, 30)
	frame, err := s.Send(ctx, cmd)
	if err != nil {
		t.Fatalf("Send() over music error: %v", err)
	}
	if frame.IsResult() {
		t.Error("music send should not wait for a reply")
	}
	waitFor(t, "music command", func() bool { return len(lamp.MusicRequests()) == 1 })
	if got := lamp.MusicRequests()[0].Method; got != "set_bright" {
		t.Errorf("music request method = %q, want set_bright", got)
	}

	// Only set_music itself went over the control socket.
	if reqs := lamp.Requests(); len(reqs) != 1 || reqs[0].Method != "set_music" {
		t.Errorf("control requests = %+v, want only set_music", reqs)
	}

	if err := s.SetMusic(ctx, false); err != nil {
		t.Fatalf("SetMusic(off) error: %v", err)
	}
	if s.MusicMode() {
		t.Error("MusicMode() = true after SetMusic(off)")
	}
	select {
	case state := <-changes:
		if state.IsMusicModeOn {
			t.Error("IsMusicModeOn = true after SetMusic(off)")
		}
	case <-time.After(time.Second):
		t.Fatal("no change published for music off")
	}
}

func TestSession_MusicConnectionLostFallsBackToControl(t *testing.T) {
	lamp := newFakeLamp(t)
	s := newTestSession(lamp)
	defer s.Close()

	var (
		mu      sync.Mutex
		changes []DeviceState
	)
	s.SetOnChange(func(state DeviceState) {
		mu.Lock()
		changes = append(changes, state)
		mu.Unlock()
	})

	ctx := context.Background()
	if err := s.SetMusic(ctx, true); err != nil {
		t.Fatalf("SetMusic(on) error: %v", err)
	}
	s.Merge(StatePatch{IsMusicModeOn: Ptr(true)})

	lamp.DropConnections()
	waitFor(t, "music mode off", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(changes) > 0
	})
	if s.MusicMode() {
		t.Error("MusicMode() = true after the lamp dropped the music connection")
	}
	waitFor(t, "session to disconnect", func() bool { return s.ConnState() == StateDisconnected })

	mu.Lock()
	last := changes[len(changes)-1]
	mu.Unlock()
	if last.IsMusicModeOn {
		t.Error("published IsMusicModeOn = true, want false")
	}

	if _, err := s.Send(ctx, Toggle()); err != nil {
		t.Fatalf("Send() after music loss error: %v", err)
	}
	reqs := lamp.Requests()
	if got := reqs[len(reqs)-1].Method; got != "toggle" {
		t.Errorf("last control request = %q, want toggle", got)
	}
	if n := len(lamp.MusicRequests()); n != 0 {
		t.Errorf("music requests = %d, want 0", n)
	}
	if s.State().IsMusicModeOn {
		t.Error("State().IsMusicModeOn = true after fallback")
	}
}

func TestSession_SetMusicOffWhenOffIsNoop(t *testing.T) {
	s := NewSession(DeviceState{ID: 1, Address: "127.0.0.1"}, SessionConfig{})
	defer s.Close()

	called := false
	s.SetOnChange(func(DeviceState) { called = true })

	if err := s.SetMusic(context.Background(), false); err != nil {
		t.Fatalf("SetMusic(off) error: %v", err)
	}
	if called {
		t.Error("SetMusic(off) without music published a change")
	}
}

func TestSession_Merge(t *testing.T) {
	lamp := newFakeLamp(t)
	s := newTestSession(lamp)
	defer s.Close()

	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}

	state := s.Merge(StatePatch{Name: Ptr("desk")})
	if state.Name != "desk" {
		t.Errorf("Name = %q, want desk", state.Name)
	}
	if s.ConnState() != StateConnected {
		t.Error("merge without address change dropped the connection")
	}

	s.Merge(StatePatch{Address: Ptr("127.0.0.2")})
	waitFor(t, "session to disconnect", func() bool { return s.ConnState() == StateDisconnected })
}

func TestSession_Close(t *testing.T) {
	lamp := newFakeLamp(t)
	s := newTestSession(lamp)

	if _, err := s.Send(context.Background(), Toggle()); err != nil {
		t.Fatalf("Send() error: %v", err)
	}

	if err := s.Close(); err != nil {
		t.Errorf("Close() error: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close() error: %v", err)
	}

	if _, err := s.Send(context.Background(), Toggle()); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("Send() after Close error = %v, want ErrSessionClosed", err)
	}
	if err := s.SetMusic(context.Background(), true); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("SetMusic() after Close error = %v, want ErrSessionClosed", err)
	}
}

func TestSession_CallbackPanicRecovered(t *testing.T) {
	lamp := newFakeLamp(t)
	s := newTestSession(lamp)
	defer s.Close()

	s.SetOnChange(func(DeviceState) { panic("boom") })
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	waitFor(t, "lamp to accept", func() bool { return lamp.Accepted() == 1 })

	lamp.Push(t, `{"method":"props","params":{"bright":"5"}}`+"\r\n")
	waitFor(t, "update applied", func() bool { return s.Stats().UpdatesApplied == 1 })

	// The receive loop survived the panic and still answers commands.
	if _, err := s.Send(context.Background(), Toggle()); err != nil {
		t.Errorf("Send() after callback panic error: %v", err)
	}
}

func TestSessionState_String(t *testing.T) {
	tests := []struct {
		state SessionState
		want  string
	}{
		{StateDisconnected, "disconnected"},
		{StateConnecting, "connecting"},
		{StateConnected, "connected"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}

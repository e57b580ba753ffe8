package yeelight

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shimmeringbee/retry"
)

// closeOnce wraps a channel with sync.Once to prevent double-close panics.
type closeOnce struct {
	ch   chan struct{}
	once sync.Once
}

func newCloseOnce() *closeOnce {
	return &closeOnce{ch: make(chan struct{})}
}

func (c *closeOnce) Close() {
	c.once.Do(func() { close(c.ch) })
}

func (c *closeOnce) Done() <-chan struct{} {
	return c.ch
}

// Default timeouts for lamp communication.
const (
	// DefaultControlPort is the TCP port every lamp listens on.
	DefaultControlPort = 55443

	// defaultConnectTimeout bounds each dial attempt.
	defaultConnectTimeout = 5 * time.Second

	// defaultConnectRetries is the number of dial attempts per Connect.
	defaultConnectRetries = 2

	// defaultWriteTimeout bounds a command write.
	defaultWriteTimeout = 5 * time.Second

	// musicConnectTimeout is how long a lamp gets to dial back after set_music.
	musicConnectTimeout = 5 * time.Second
)

// queryMethods answer with values instead of "ok".
var queryMethods = map[string]bool{
	"get_prop": true,
	"cron_get": true,
}

// SessionState is the connection state of a Session.
type SessionState int

// Session states.
const (
	StateDisconnected SessionState = iota
	StateConnecting
	StateConnected
)

// String returns a lower-case name for logging.
func (s SessionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// SessionConfig holds per-lamp connection settings.
type SessionConfig struct {
	// Port is the lamp control port. Default: 55443.
	Port int

	// ConnectTimeout bounds each dial attempt. Default: 5 seconds.
	ConnectTimeout time.Duration

	// ConnectRetries is the number of dial attempts. Default: 2.
	ConnectRetries int

	// CommandTimeout bounds the wait for a reply when the caller's context
	// has no deadline. 0 waits for the caller's context only.
	CommandTimeout time.Duration

	// Music configures the listener opened for music mode.
	Music MusicConfig
}

// SessionStats holds operational statistics.
type SessionStats struct {
	CommandsSent   uint64
	FramesReceived uint64
	UpdatesApplied uint64
	ErrorsTotal    uint64
	LastActivity   time.Time
	State          SessionState
	MusicMode      bool
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Sender is the part of a Session the rest of the controller depends on.
type Sender interface {
	Send(ctx context.Context, cmd Command) (Frame, error)
	SetMusic(ctx context.Context, on bool) error
	State() DeviceState
	Close() error
}

// Ensure Session implements Sender.
var _ Sender = (*Session)(nil)

// link is one live TCP connection and the channels tied to its lifetime.
type link struct {
	conn    net.Conn
	replies chan Frame
	closed  chan struct{}
}

// Session owns the control connection to one lamp and its current state.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Only one command is in flight at a time; concurrent Send calls queue.
//
// Connection lifecycle:
//   - No connection is opened until the first Send (or an explicit Connect).
//   - When the lamp closes the socket the session returns to Disconnected
//     and the next Send dials again.
type Session struct {
	cfg SessionConfig

	// mu guards state, connState, link and music.
	mu        sync.Mutex
	state     DeviceState
	connState SessionState
	link      *link
	music     *MusicServer

	// connectMu serialises dialing.
	connectMu sync.Mutex

	// cmdMu keeps one command in flight so replies can be matched by arrival order.
	cmdMu sync.Mutex

	// musicMu serialises music mode changes.
	musicMu sync.Mutex

	onChange   func(DeviceState)
	callbackMu sync.RWMutex

	done *closeOnce
	wg   sync.WaitGroup

	logger   Logger
	loggerMu sync.RWMutex

	commandsTx     atomic.Uint64
	framesRx       atomic.Uint64
	updatesApplied atomic.Uint64
	errorsTotal    atomic.Uint64
	lastActivity   atomic.Int64
}

// NewSession creates a disconnected session for a lamp.
func NewSession(state DeviceState, cfg SessionConfig) *Session {
	if cfg.Port == 0 {
		cfg.Port = DefaultControlPort
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.ConnectRetries <= 0 {
		cfg.ConnectRetries = defaultConnectRetries
	}

	return &Session{
		cfg:   cfg,
		state: state.Clone(),
		done:  newCloseOnce(),
	}
}

// ID returns the lamp id.
func (s *Session) ID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.ID
}

// State returns a snapshot of the lamp state.
func (s *Session) State() DeviceState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

// ConnState returns the current connection state.
func (s *Session) ConnState() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connState
}

// Merge applies a patch to the lamp state and returns the result. It does
// not fire the change callback; the caller owns notification.
//
// A changed address drops the current connection so the next command dials
// the new one.
func (s *Session) Merge(patch StatePatch) DeviceState {
	s.mu.Lock()
	oldAddress := s.state.Address
	patch.Apply(&s.state)
	moved := s.state.Address != oldAddress && s.link != nil
	var conn net.Conn
	if moved {
		conn = s.link.conn
	}
	snapshot := s.state.Clone()
	s.mu.Unlock()

	if conn != nil {
		s.logInfo("lamp address changed, dropping connection", "lamp_id", snapshot.ID, "ip", snapshot.Address)
		conn.Close()
	}
	return snapshot
}

// setState records a connection state transition. Callers hold mu.
func (s *Session) setState(next SessionState) {
	if s.connState == next {
		return
	}
	s.logDebug("session state", "lamp_id", s.state.ID, "from", s.connState.String(), "to", next.String())
	s.connState = next
}

// Connect dials the lamp unless a connection is already open.
//
// Dial failures are retried ConnectRetries times, each attempt bounded by
// ConnectTimeout. On failure the session stays Disconnected.
func (s *Session) Connect(ctx context.Context) error {
	_, err := s.ensureConnected(ctx)
	return err
}

func (s *Session) ensureConnected(ctx context.Context) (*link, error) {
	if s.isClosed() {
		return nil, ErrSessionClosed
	}

	s.connectMu.Lock()
	defer s.connectMu.Unlock()

	s.mu.Lock()
	if s.link != nil {
		l := s.link
		s.mu.Unlock()
		return l, nil
	}
	s.setState(StateConnecting)
	address := net.JoinHostPort(s.state.Address, strconv.Itoa(s.cfg.Port))
	s.mu.Unlock()

	var conn net.Conn
	err := retry.Retry(ctx, s.cfg.ConnectTimeout, s.cfg.ConnectRetries, func(ctx context.Context) error {
		var dialer net.Dialer
		c, err := dialer.DialContext(ctx, "tcp4", address)
		if err != nil {
			return err
		}
		conn = c
		return nil
	})
	if err == nil && conn == nil {
		err = errors.New("no dial attempt made")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err != nil {
		s.setState(StateDisconnected)
		s.errorsTotal.Add(1)
		return nil, fmt.Errorf("%w: %s: %w", ErrConnectionFailed, address, err)
	}
	if s.isClosed() {
		conn.Close()
		s.setState(StateDisconnected)
		return nil, ErrSessionClosed
	}

	l := &link{
		conn:    conn,
		replies: make(chan Frame, 1),
		closed:  make(chan struct{}),
	}
	s.link = l
	s.setState(StateConnected)
	s.lastActivity.Store(time.Now().Unix())

	s.wg.Add(1)
	go s.receiveLoop(l)

	s.logInfo("connected to lamp", "lamp_id", s.state.ID, "address", address)
	return l, nil
}

// receiveLoop reads frames until the connection closes.
func (s *Session) receiveLoop(l *link) {
	defer s.wg.Done()
	defer s.handleDisconnect(l)

	reader := NewFrameReader(l.conn)
	for {
		frame, err := reader.Next()
		if err != nil {
			if errors.Is(err, ErrMalformedFrame) {
				s.errorsTotal.Add(1)
				s.logWarn("dropping malformed frame", "lamp_id", s.ID(), "error", err)
				continue
			}
			if !errors.Is(err, io.EOF) && !s.isClosed() {
				s.logDebug("lamp read ended", "lamp_id", s.ID(), "error", err)
			}
			return
		}

		s.framesRx.Add(1)
		s.lastActivity.Store(time.Now().Unix())
		s.handleFrame(l, frame)
	}
}

func (s *Session) handleFrame(l *link, frame Frame) {
	switch frame.Kind() {
	case FrameResult, FrameError:
		select {
		case l.replies <- frame:
		default:
			s.logDebug("reply with no command waiting", "lamp_id", s.ID(), "kind", frame.Kind().String())
		}
	case FrameUpdate:
		s.handleUpdate(frame.Params)
	default:
		s.logWarn("unrecognized frame from lamp", "lamp_id", s.ID(), "frame", frame)
	}
}

func (s *Session) handleUpdate(params map[string]any) {
	patch, err := Translate(RawRecord(params))
	if err != nil {
		s.errorsTotal.Add(1)
		s.logError("dropping lamp update", "lamp_id", s.ID(), "error", err)
		return
	}
	s.updatesApplied.Add(1)
	s.publish(s.Merge(patch))
}

// handleDisconnect clears the link if it is still the current one.
func (s *Session) handleDisconnect(l *link) {
	l.conn.Close()
	close(l.closed)

	s.mu.Lock()
	if s.link == l {
		s.link = nil
		s.setState(StateDisconnected)
	}
	id := s.state.ID
	s.mu.Unlock()

	if !s.isClosed() {
		s.logInfo("lamp connection closed", "lamp_id", id)
	}
}

// Send writes a command and waits for the lamp's reply.
//
// With music mode on, the command goes over the music channel and Send
// returns immediately with a zero Frame. If the lamp has left the music
// channel, music mode is switched off and the command takes the control
// connection instead. Otherwise the session dials if
// needed, writes the command, and takes the next result or error frame as
// the reply. A non-ok result returns ErrCommandFailed; an error frame
// returns the *DeviceError.
func (s *Session) Send(ctx context.Context, cmd Command) (Frame, error) {
	if s.isClosed() {
		return Frame{}, ErrSessionClosed
	}

	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()

	payload, err := s.encode(cmd)
	if err != nil {
		return Frame{}, err
	}

	s.mu.Lock()
	music := s.music
	s.mu.Unlock()

	if music != nil {
		err := music.Send(payload)
		if err == nil {
			s.commandsTx.Add(1)
			s.lastActivity.Store(time.Now().Unix())
			return Frame{}, nil
		}
		if music.ConnectionCount() > 0 {
			s.errorsTotal.Add(1)
			return Frame{}, fmt.Errorf("yeelight: music send %s: %w", cmd.Method, err)
		}
		// The lamp left the music channel; it listens on the control port again.
		s.detachMusic(music)
	}

	l, err := s.ensureConnected(ctx)
	if err != nil {
		return Frame{}, err
	}

	if _, ok := ctx.Deadline(); !ok && s.cfg.CommandTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.CommandTimeout)
		defer cancel()
	}

	// Discard a late reply to an earlier command that timed out.
	select {
	case <-l.replies:
	default:
	}

	if err := s.write(ctx, l, payload); err != nil {
		s.errorsTotal.Add(1)
		l.conn.Close()
		return Frame{}, fmt.Errorf("%w: write %s: %w", ErrConnectionClosed, cmd.Method, err)
	}
	s.commandsTx.Add(1)
	s.lastActivity.Store(time.Now().Unix())

	select {
	case frame := <-l.replies:
		return s.interpret(cmd, frame)
	case <-l.closed:
		return Frame{}, fmt.Errorf("%w: waiting for %s reply", ErrConnectionClosed, cmd.Method)
	case <-ctx.Done():
		return Frame{}, fmt.Errorf("yeelight: waiting for %s reply: %w", cmd.Method, ctx.Err())
	case <-s.done.Done():
		return Frame{}, ErrSessionClosed
	}
}

func (s *Session) interpret(cmd Command, frame Frame) (Frame, error) {
	if frame.IsError() {
		s.errorsTotal.Add(1)
		return frame, frame.Error
	}
	if !frame.IsResultOk() && !queryMethods[cmd.Method] {
		s.errorsTotal.Add(1)
		return frame, fmt.Errorf("%w: %s: %v", ErrCommandFailed, cmd.Method, frame.Result)
	}
	return frame, nil
}

func (s *Session) write(ctx context.Context, l *link, payload []byte) error {
	deadline := time.Now().Add(defaultWriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := l.conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("set deadline: %w", err)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	_, err := l.conn.Write(payload)
	return err
}

// encode serialises a command as one CRLF-terminated JSON line.
func (s *Session) encode(cmd Command) ([]byte, error) {
	params := cmd.Params
	if params == nil {
		params = []any{}
	}
	msg := struct {
		ID     int64  `json:"id"`
		Method string `json:"method"`
		Params []any  `json:"params"`
	}{
		ID:     s.ID(),
		Method: cmd.Method,
		Params: params,
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("yeelight: encoding %s: %w", cmd.Method, err)
	}
	return append(data, crlf...), nil
}

// SetMusic turns music mode on or off.
//
// Turning it on when already on does nothing. Otherwise a music server is
// opened, the lamp is told its address with set_music over the control
// connection, and the session waits for the lamp to dial back. Turning it
// off closes the server and records isMusicModeOn=false, since the lamp
// stops reporting it once the socket is gone.
func (s *Session) SetMusic(ctx context.Context, on bool) error {
	if s.isClosed() {
		return ErrSessionClosed
	}

	s.musicMu.Lock()
	defer s.musicMu.Unlock()

	s.mu.Lock()
	current := s.music
	s.mu.Unlock()

	if !on {
		if current == nil {
			return nil
		}
		s.mu.Lock()
		s.music = nil
		s.mu.Unlock()
		current.Close()
		s.publish(s.Merge(StatePatch{IsMusicModeOn: Ptr(false)}))
		return nil
	}

	if current != nil {
		s.logInfo("music mode already on", "lamp_id", s.ID())
		return nil
	}

	server, err := OpenMusicServer(ctx, s.cfg.Music, s.getLogger())
	if err != nil {
		return err
	}

	host, port := server.Addr()
	cmd, err := SetMusic(true, host, port)
	if err != nil {
		server.Close()
		return err
	}
	if _, err := s.Send(ctx, cmd); err != nil {
		server.Close()
		return err
	}

	waitCtx, cancel := context.WithTimeout(ctx, musicConnectTimeout)
	defer cancel()
	if err := server.WaitForConnection(waitCtx); err != nil {
		server.Close()
		return fmt.Errorf("yeelight: lamp did not connect to music server: %w", err)
	}

	s.mu.Lock()
	s.music = server
	s.mu.Unlock()
	server.SetOnIdle(func() { s.detachMusic(server) })

	s.logInfo("music mode on", "lamp_id", s.ID(), "host", host, "port", port)
	if server.ConnectionCount() == 0 {
		s.detachMusic(server)
	}
	return nil
}

// detachMusic drops server if it is still the active music channel and
// records that music mode is off.
func (s *Session) detachMusic(server *MusicServer) {
	s.mu.Lock()
	if s.music != server {
		s.mu.Unlock()
		return
	}
	s.music = nil
	s.mu.Unlock()

	server.Close()
	s.logInfo("music connection lost, using control connection", "lamp_id", s.ID())
	s.publish(s.Merge(StatePatch{IsMusicModeOn: Ptr(false)}))
}

// MusicMode reports whether commands currently go over a music channel.
func (s *Session) MusicMode() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.music != nil
}

// SetOnChange sets the callback fired with the full state after a lamp
// push update or a music mode change.
//
// The callback runs on the session's receive goroutine. Panics in the
// callback are recovered and logged.
func (s *Session) SetOnChange(callback func(DeviceState)) {
	s.callbackMu.Lock()
	s.onChange = callback
	s.callbackMu.Unlock()
}

func (s *Session) publish(state DeviceState) {
	s.callbackMu.RLock()
	callback := s.onChange
	s.callbackMu.RUnlock()

	if callback == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			s.logError("state callback panic", "lamp_id", state.ID, "error", fmt.Errorf("%v", r))
		}
	}()
	callback(state)
}

// Close closes the control connection and any music server.
// Safe to call multiple times.
func (s *Session) Close() error {
	s.done.Close()

	s.mu.Lock()
	l := s.link
	music := s.music
	s.music = nil
	s.mu.Unlock()

	if l != nil {
		l.conn.Close()
	}
	if music != nil {
		music.Close()
	}

	s.wg.Wait()
	return nil
}

func (s *Session) isClosed() bool {
	select {
	case <-s.done.Done():
		return true
	default:
		return false
	}
}

// Stats returns current operational statistics.
func (s *Session) Stats() SessionStats {
	s.mu.Lock()
	state := s.connState
	music := s.music != nil
	s.mu.Unlock()

	return SessionStats{
		CommandsSent:   s.commandsTx.Load(),
		FramesReceived: s.framesRx.Load(),
		UpdatesApplied: s.updatesApplied.Load(),
		ErrorsTotal:    s.errorsTotal.Load(),
		LastActivity:   time.Unix(s.lastActivity.Load(), 0),
		State:          state,
		MusicMode:      music,
	}
}

// SetLogger sets the logger for this session.
func (s *Session) SetLogger(logger Logger) {
	s.loggerMu.Lock()
	s.logger = logger
	s.loggerMu.Unlock()
}

func (s *Session) getLogger() Logger {
	s.loggerMu.RLock()
	defer s.loggerMu.RUnlock()
	if s.logger == nil {
		return noopLogger{}
	}
	return s.logger
}

func (s *Session) logDebug(msg string, keysAndValues ...any) {
	s.getLogger().Debug(msg, keysAndValues...)
}

func (s *Session) logInfo(msg string, keysAndValues ...any) {
	s.getLogger().Info(msg, keysAndValues...)
}

func (s *Session) logWarn(msg string, keysAndValues ...any) {
	s.getLogger().Warn(msg, keysAndValues...)
}

func (s *Session) logError(msg string, keysAndValues ...any) {
	s.getLogger().Error(msg, keysAndValues...)
}

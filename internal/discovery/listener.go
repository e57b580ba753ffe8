package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/net/ipv4"

	"github.com/Jeansidharta/yeelight-controller/internal/bridges/yeelight"
)

const (
	// DefaultMulticastAddress is the SSDP group lamps announce on.
	DefaultMulticastAddress = "239.255.255.250:1982"

	// DefaultProbePort is the source port of M-SEARCH probes.
	DefaultProbePort = 55555

	// DefaultTTL is the multicast hop limit of probes.
	DefaultTTL = 4

	// maxDatagramSize bounds a single SSDP datagram.
	maxDatagramSize = 4096

	// handleTimeout bounds the registry update for one datagram.
	handleTimeout = 5 * time.Second
)

// Sink receives every lamp the listener hears about.
type Sink interface {
	CreateOrUpdate(ctx context.Context, id int64, patch yeelight.StatePatch) (yeelight.DeviceState, error)
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

// Config holds discovery settings.
type Config struct {
	// MulticastAddress is where probes are sent and NOTIFYs are heard.
	// Default: 239.255.255.250:1982.
	MulticastAddress string

	// ProbePort is the local port probes are sent from; lamps reply to it.
	// Default: 55555. Negative selects an ephemeral port.
	ProbePort int

	// TTL is the multicast hop limit. Default: 4.
	TTL int

	// Interface pins multicast traffic to one NIC. Empty uses the default.
	Interface string

	// ProbeInterval re-probes periodically. 0 probes once at Start.
	ProbeInterval time.Duration

	// ListenNotify opens the socket bound to the group port for NOTIFY
	// announcements.
	ListenNotify bool
}

// Stats holds operational statistics.
type Stats struct {
	ProbesSent        uint64
	DatagramsReceived uint64
	LampsAnnounced    uint64
	DatagramsDropped  uint64
}

// Listener runs SSDP discovery: it probes for lamps and listens for their
// responses and periodic NOTIFY announcements, feeding every announced lamp
// into a Sink.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Listener struct {
	cfg   Config
	sink  Sink
	group *net.UDPAddr
	ifi   *net.Interface

	mu     sync.Mutex
	probe  *net.UDPConn
	notify *net.UDPConn
	closed bool

	done chan struct{}
	wg   sync.WaitGroup

	logger   Logger
	loggerMu sync.RWMutex

	probesSent atomic.Uint64
	received   atomic.Uint64
	announced  atomic.Uint64
	dropped    atomic.Uint64
}

// NewListener validates cfg and creates a stopped listener.
func NewListener(cfg Config, sink Sink) (*Listener, error) {
	if cfg.MulticastAddress == "" {
		cfg.MulticastAddress = DefaultMulticastAddress
	}
	if cfg.ProbePort == 0 {
		cfg.ProbePort = DefaultProbePort
	}
	if cfg.ProbePort < 0 {
		cfg.ProbePort = 0
	}
	if cfg.TTL == 0 {
		cfg.TTL = DefaultTTL
	}

	group, err := net.ResolveUDPAddr("udp4", cfg.MulticastAddress)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidAddress, cfg.MulticastAddress, err)
	}

	var ifi *net.Interface
	if cfg.Interface != "" {
		ifi, err = net.InterfaceByName(cfg.Interface)
		if err != nil {
			return nil, fmt.Errorf("%w: interface %s: %w", ErrInvalidAddress, cfg.Interface, err)
		}
	}

	return &Listener{
		cfg:    cfg,
		sink:   sink,
		group:  group,
		ifi:    ifi,
		done:   make(chan struct{}),
		logger: noopLogger{},
	}, nil
}

// Start opens the sockets, starts the read loops, sends a first probe and,
// when ProbeInterval is set, keeps probing until Close or ctx ends.
func (l *Listener) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrListenerClosed
	}
	if l.probe != nil {
		return ErrAlreadyStarted
	}

	probe, err := l.openProbe()
	if err != nil {
		return err
	}

	var notify *net.UDPConn
	if l.cfg.ListenNotify {
		notify, err = l.openNotify()
		if err != nil {
			probe.Close()
			return err
		}
	}

	l.probe = probe
	l.notify = notify

	l.wg.Add(1)
	go l.readLoop(probe, "probe")
	if notify != nil {
		l.wg.Add(1)
		go l.readLoop(notify, "notify")
	}

	l.wg.Add(1)
	go l.probeLoop(ctx)

	l.getLogger().Info("discovery started",
		"group", l.group.String(),
		"probe_port", probe.LocalAddr().(*net.UDPAddr).Port,
		"notify", notify != nil,
	)
	return nil
}

// openProbe binds the probe socket and, for a multicast group, joins it and
// sets the hop limit.
func (l *Listener) openProbe() (*net.UDPConn, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: l.cfg.ProbePort})
	if err != nil {
		return nil, fmt.Errorf("%w: probe port %d: %w", ErrSocketFailed, l.cfg.ProbePort, err)
	}

	if !l.group.IP.IsMulticast() {
		return conn, nil
	}

	pc := ipv4.NewPacketConn(conn)
	if err := pc.SetMulticastTTL(l.cfg.TTL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: multicast ttl: %w", ErrSocketFailed, err)
	}
	if l.ifi != nil {
		if err := pc.SetMulticastInterface(l.ifi); err != nil {
			conn.Close()
			return nil, fmt.Errorf("%w: multicast interface: %w", ErrSocketFailed, err)
		}
	}
	if err := pc.JoinGroup(l.ifi, &net.UDPAddr{IP: l.group.IP}); err != nil {
		// Unicast replies to probes still arrive without membership.
		l.getLogger().Warn("probe socket could not join multicast group", "group", l.group.IP.String(), "error", err)
	}
	return conn, nil
}

// openNotify binds the group port and joins the group.
func (l *Listener) openNotify() (*net.UDPConn, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: l.group.Port})
	if err != nil {
		return nil, fmt.Errorf("%w: notify port %d: %w", ErrSocketFailed, l.group.Port, err)
	}

	if l.group.IP.IsMulticast() {
		pc := ipv4.NewPacketConn(conn)
		if err := pc.JoinGroup(l.ifi, &net.UDPAddr{IP: l.group.IP}); err != nil {
			conn.Close()
			return nil, fmt.Errorf("%w: join %s: %w", ErrSocketFailed, l.group.IP, err)
		}
	}
	return conn, nil
}

// Probe sends one M-SEARCH datagram and returns once it is written.
func (l *Listener) Probe(ctx context.Context) error {
	l.mu.Lock()
	conn := l.probe
	closed := l.closed
	l.mu.Unlock()

	if closed {
		return ErrListenerClosed
	}
	if conn == nil {
		return ErrNotStarted
	}

	deadline := time.Now().Add(handleTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("discovery: set deadline: %w", err)
	}

	if _, err := conn.WriteToUDP([]byte(searchMessage), l.group); err != nil {
		return fmt.Errorf("discovery: sending probe: %w", err)
	}
	l.probesSent.Add(1)
	l.getLogger().Debug("discovery probe sent", "group", l.group.String())
	return nil
}

func (l *Listener) probeLoop(ctx context.Context) {
	defer l.wg.Done()

	if err := l.Probe(ctx); err != nil {
		l.getLogger().Warn("discovery probe failed", "error", err)
	}
	if l.cfg.ProbeInterval <= 0 {
		return
	}

	ticker := time.NewTicker(l.cfg.ProbeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-l.done:
			return
		case <-ticker.C:
			if err := l.Probe(ctx); err != nil {
				l.getLogger().Warn("discovery probe failed", "error", err)
			}
		}
	}
}

func (l *Listener) readLoop(conn *net.UDPConn, name string) {
	defer l.wg.Done()

	buf := make([]byte, maxDatagramSize)
	for {
		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) || l.isClosed() {
				return
			}
			l.getLogger().Warn("discovery read failed", "socket", name, "error", err)
			continue
		}

		l.received.Add(1)
		data := make([]byte, n)
		copy(data, buf[:n])
		l.handle(data, from)
	}
}

// handle parses one datagram and hands the lamp to the sink.
func (l *Listener) handle(data []byte, from *net.UDPAddr) {
	logger := l.getLogger()

	msg, ok := parseMessage(data)
	if !ok {
		l.dropped.Add(1)
		logger.Debug("ignoring datagram", "from", from.String(), "size", len(data))
		return
	}
	for _, line := range msg.Malformed {
		logger.Debug("malformed header line", "from", from.String(), "line", line)
	}

	raw := make(yeelight.RawRecord, len(msg.Record))
	for key, value := range msg.Record {
		if _, known := yeelight.ParseWireKey(key); !known {
			logger.Debug("skipping unknown lamp header", "header", key, "value", value)
			continue
		}
		raw[key] = value
	}

	patch, err := yeelight.Translate(raw)
	if err != nil {
		l.dropped.Add(1)
		logger.Warn("dropping lamp announcement", "from", from.String(), "error", err)
		return
	}
	if patch.ID == nil || *patch.ID == 0 {
		l.dropped.Add(1)
		logger.Warn("lamp announcement without id", "from", from.String())
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), handleTimeout)
	defer cancel()

	if _, err := l.sink.CreateOrUpdate(ctx, *patch.ID, patch); err != nil {
		logger.Error("failed to record lamp", "lamp_id", *patch.ID, "error", err)
		return
	}
	l.announced.Add(1)
	logger.Debug("lamp announced", "lamp_id", *patch.ID, "kind", msg.Kind.String(), "ip", raw[string(yeelight.KeyAddress)])
}

// Close stops probing and closes both sockets.
// Safe to call multiple times.
func (l *Listener) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	close(l.done)
	probe, notify := l.probe, l.notify
	l.mu.Unlock()

	var errs []error
	if probe != nil {
		errs = append(errs, probe.Close())
	}
	if notify != nil {
		errs = append(errs, notify.Close())
	}

	l.wg.Wait()
	return errors.Join(errs...)
}

func (l *Listener) isClosed() bool {
	select {
	case <-l.done:
		return true
	default:
		return false
	}
}

// Stats returns current operational statistics.
func (l *Listener) Stats() Stats {
	return Stats{
		ProbesSent:        l.probesSent.Load(),
		DatagramsReceived: l.received.Load(),
		LampsAnnounced:    l.announced.Load(),
		DatagramsDropped:  l.dropped.Load(),
	}
}

// SetLogger sets the logger for this listener.
func (l *Listener) SetLogger(logger Logger) {
	l.loggerMu.Lock()
	l.logger = logger
	l.loggerMu.Unlock()
}

func (l *Listener) getLogger() Logger {
	l.loggerMu.RLock()
	defer l.loggerMu.RUnlock()
	return l.logger
}

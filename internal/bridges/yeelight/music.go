package yeelight

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net"
	"strconv"
	"sync"
	"time"
)

const (
	// musicPollInterval is how often WaitForConnection checks for the lamp.
	musicPollInterval = 100 * time.Millisecond

	// musicWriteTimeout bounds a single write to a music connection.
	musicWriteTimeout = 2 * time.Second
)

// MusicConfig controls where a music server listens.
type MusicConfig struct {
	// Host is the address advertised to the lamp. Empty means the first
	// non-loopback IPv4 address of this machine.
	Host string

	// Port pins the listener. 0 selects from PortMin..PortMax, or an
	// ephemeral port when no range is set.
	Port int

	PortMin  int
	PortMax  int
	Attempts int
}

// MusicServer is the TCP listener a lamp dials back to in music mode.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type MusicServer struct {
	listener net.Listener
	host     string
	port     int

	connsMu sync.Mutex
	conns   map[net.Conn]struct{}
	onIdle  func()

	done   *closeOnce
	closer sync.Once
	wg     sync.WaitGroup

	logger Logger
}

// OpenMusicServer binds a listener according to cfg and starts accepting
// connections.
//
// Returns ErrNoFreePort when every attempted port is taken, and
// ErrNoLocalAddress when no host is configured and none can be found.
func OpenMusicServer(ctx context.Context, cfg MusicConfig, logger Logger) (*MusicServer, error) {
	if logger == nil {
		logger = noopLogger{}
	}

	host := cfg.Host
	if host == "" {
		ip, err := LocalIPv4()
		if err != nil {
			return nil, err
		}
		host = ip.String()
	}

	listener, err := listenMusic(ctx, cfg)
	if err != nil {
		return nil, err
	}

	tcpAddr, ok := listener.Addr().(*net.TCPAddr)
	if !ok {
		listener.Close()
		return nil, fmt.Errorf("yeelight: unexpected listener address %T", listener.Addr())
	}

	s := &MusicServer{
		listener: listener,
		host:     host,
		port:     tcpAddr.Port,
		conns:    make(map[net.Conn]struct{}),
		done:     newCloseOnce(),
		logger:   logger,
	}

	s.wg.Add(1)
	go s.acceptLoop()

	logger.Info("music server listening", "host", host, "port", s.port)
	return s, nil
}

// listenMusic binds the configured port, a random port from the range, or
// an ephemeral port.
func listenMusic(ctx context.Context, cfg MusicConfig) (net.Listener, error) {
	var lc net.ListenConfig

	if cfg.Port > 0 || (cfg.PortMin == 0 && cfg.PortMax == 0) {
		l, err := lc.Listen(ctx, "tcp4", ":"+strconv.Itoa(cfg.Port))
		if err != nil {
			return nil, fmt.Errorf("%w: port %d: %w", ErrNoFreePort, cfg.Port, err)
		}
		return l, nil
	}

	attempts := max(cfg.Attempts, 1)
	var lastErr error
	for range attempts {
		port := cfg.PortMin + rand.IntN(cfg.PortMax-cfg.PortMin+1) //nolint:gosec // port choice is not security sensitive
		l, err := lc.Listen(ctx, "tcp4", ":"+strconv.Itoa(port))
		if err == nil {
			return l, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	return nil, fmt.Errorf("%w: %d attempts in %d-%d: %w",
		ErrNoFreePort, attempts, cfg.PortMin, cfg.PortMax, lastErr)
}

// LocalIPv4 returns the first non-loopback IPv4 address on an interface
// other than "lo".
func LocalIPv4() (net.IP, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoLocalAddress, err)
	}
	for _, iface := range ifaces {
		if iface.Name == "lo" || iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagUp == 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipNet, ok := addr.(*net.IPNet)
			if !ok || ipNet.IP.IsLoopback() {
				continue
			}
			if ip4 := ipNet.IP.To4(); ip4 != nil {
				return ip4, nil
			}
		}
	}
	return nil, ErrNoLocalAddress
}

func (s *MusicServer) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.isClosed() {
				return
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			s.logger.Error("music server accept failed", "error", err)
			return
		}

		s.connsMu.Lock()
		if s.isClosed() {
			s.connsMu.Unlock()
			conn.Close()
			return
		}
		s.conns[conn] = struct{}{}
		s.connsMu.Unlock()

		s.logger.Info("lamp connected to music server", "remote", conn.RemoteAddr().String())

		s.wg.Add(1)
		go s.watch(conn)
	}
}

// watch drains a connection until the lamp closes it, then forgets it.
func (s *MusicServer) watch(conn net.Conn) {
	defer s.wg.Done()
	_, _ = io.Copy(io.Discard, conn)
	s.drop(conn)
}

// drop forgets a connection. Losing the last one fires the idle callback
// on its own goroutine, since the callback may Close the server.
func (s *MusicServer) drop(conn net.Conn) {
	s.connsMu.Lock()
	_, known := s.conns[conn]
	delete(s.conns, conn)
	var idle func()
	if known && len(s.conns) == 0 && !s.isClosed() {
		idle = s.onIdle
	}
	s.connsMu.Unlock()
	conn.Close()

	if idle != nil {
		s.logger.Info("last lamp left music server", "port", s.port)
		go idle()
	}
}

// SetOnIdle sets the callback fired when the last connected lamp goes away
// while the server is open.
func (s *MusicServer) SetOnIdle(callback func()) {
	s.connsMu.Lock()
	s.onIdle = callback
	s.connsMu.Unlock()
}

// Send writes every frame to every connected lamp.
//
// Returns ErrNoMusicConnection when no lamp is connected.
func (s *MusicServer) Send(frames ...[]byte) error {
	if s.isClosed() {
		return ErrMusicServerClosed
	}

	s.connsMu.Lock()
	if len(s.conns) == 0 {
		s.connsMu.Unlock()
		return ErrNoMusicConnection
	}
	conns := make([]net.Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.connsMu.Unlock()

	var errs []error
	for _, conn := range conns {
		if err := conn.SetWriteDeadline(time.Now().Add(musicWriteTimeout)); err != nil {
			errs = append(errs, err)
			continue
		}
		for _, frame := range frames {
			if _, err := conn.Write(frame); err != nil {
				s.logger.Warn("music write failed, dropping connection", "error", err)
				errs = append(errs, err)
				s.drop(conn)
				break
			}
		}
	}
	return errors.Join(errs...)
}

// ConnectionCount returns the number of lamps currently connected.
func (s *MusicServer) ConnectionCount() int {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	return len(s.conns)
}

// WaitForConnection blocks until at least one lamp has connected.
func (s *MusicServer) WaitForConnection(ctx context.Context) error {
	ticker := time.NewTicker(musicPollInterval)
	defer ticker.Stop()

	for {
		if s.ConnectionCount() > 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done.Done():
			return ErrMusicServerClosed
		case <-ticker.C:
		}
	}
}

// Addr returns the host and port advertised to the lamp.
func (s *MusicServer) Addr() (string, int) {
	return s.host, s.port
}

// Close destroys every connection and releases the listener.
// Safe to call multiple times.
func (s *MusicServer) Close() error {
	var err error
	s.closer.Do(func() {
		s.done.Close()
		err = s.listener.Close()

		s.connsMu.Lock()
		for c := range s.conns {
			c.Close()
			delete(s.conns, c)
		}
		s.connsMu.Unlock()

		s.wg.Wait()
		s.logger.Info("music server closed", "port", s.port)
	})
	return err
}

func (s *MusicServer) isClosed() bool {
	select {
	case <-s.done.Done():
		return true
	default:
		return false
	}
}

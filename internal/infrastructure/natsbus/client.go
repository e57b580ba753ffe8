package natsbus

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/Jeansidharta/yeelight-controller/internal/infrastructure/config"
)

const (
	defaultConnectTimeout = 5 * time.Second
	defaultFlushTimeout   = 2 * time.Second
)

// Logger interface for optional logging support.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// MessageHandler handles one message. When the message was sent as a
// request, a non-nil reply is sent back to the requester.
type MessageHandler func(subject string, data []byte) (reply []byte, err error)

// Client wraps a nats.go connection for the relay.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Client struct {
	conn     *nats.Conn
	subjects Subjects

	mu   sync.Mutex
	subs []*nats.Subscription

	logger   Logger
	loggerMu sync.RWMutex
}

// Connect dials the server in cfg.URL. Reconnects are handled by nats.go
// with the configured wait and limit (-1 retries forever).
func Connect(cfg config.NATSConfig) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	c := &Client{subjects: NewSubjects(cfg.SubjectPrefix)}

	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.Timeout(defaultConnectTimeout),
		nats.ReconnectWait(time.Duration(cfg.ReconnectWait) * time.Second),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if logger := c.getLogger(); logger != nil && err != nil {
				logger.Warn("NATS disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			if logger := c.getLogger(); logger != nil {
				logger.Info("NATS reconnected", "url", nc.ConnectedUrl())
			}
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			if logger := c.getLogger(); logger != nil {
				subject := ""
				if sub != nil {
					subject = sub.Subject
				}
				logger.Error("NATS async error", "subject", subject, "error", err)
			}
		}),
	}
	if cfg.Username != "" {
		opts = append(opts, nats.UserInfo(cfg.Username, cfg.Password))
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrConnectionFailed, cfg.URL, err)
	}
	c.conn = conn
	return c, nil
}

// Subjects returns the subject builders for the configured prefix.
func (c *Client) Subjects() Subjects {
	return c.subjects
}

// IsConnected reports whether the connection is currently up.
func (c *Client) IsConnected() bool {
	return c.conn != nil && c.conn.IsConnected()
}

// Publish queues data on subject.
func (c *Client) Publish(subject string, data []byte) error {
	if subject == "" {
		return ErrInvalidSubject
	}
	if c.conn == nil || c.conn.IsClosed() {
		return ErrNotConnected
	}
	if err := c.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrPublishFailed, subject, err)
	}
	return nil
}

// PublishJSON marshals v and publishes it.
func (c *Client) PublishJSON(subject string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: encoding payload: %w", ErrPublishFailed, err)
	}
	return c.Publish(subject, data)
}

// Subscribe registers handler for subject, which may use * and >.
func (c *Client) Subscribe(subject string, handler MessageHandler) error {
	if subject == "" {
		return ErrInvalidSubject
	}
	if handler == nil {
		return fmt.Errorf("%w: handler cannot be nil", ErrSubscribeFailed)
	}
	if c.conn == nil || c.conn.IsClosed() {
		return ErrNotConnected
	}

	sub, err := c.conn.Subscribe(subject, c.wrapHandler(handler))
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrSubscribeFailed, subject, err)
	}

	c.mu.Lock()
	c.subs = append(c.subs, sub)
	c.mu.Unlock()
	return nil
}

// wrapHandler adapts a MessageHandler to nats.go, recovering panics and
// answering requests.
func (c *Client) wrapHandler(handler MessageHandler) nats.MsgHandler {
	return func(msg *nats.Msg) {
		defer func() {
			if r := recover(); r != nil {
				if logger := c.getLogger(); logger != nil {
					logger.Error("NATS handler panic recovered", "subject", msg.Subject, "panic", r)
				}
			}
		}()

		reply, err := handler(msg.Subject, msg.Data)
		if err != nil {
			if logger := c.getLogger(); logger != nil {
				logger.Warn("NATS handler returned error", "subject", msg.Subject, "error", err)
			}
		}
		if msg.Reply == "" || reply == nil {
			return
		}
		if err := msg.Respond(reply); err != nil {
			if logger := c.getLogger(); logger != nil {
				logger.Warn("NATS reply failed", "subject", msg.Subject, "error", err)
			}
		}
	}
}

// Close unsubscribes, flushes pending messages and closes the connection.
// Safe to call more than once.
func (c *Client) Close() error {
	if c.conn == nil || c.conn.IsClosed() {
		return nil
	}

	c.mu.Lock()
	subs := c.subs
	c.subs = nil
	c.mu.Unlock()

	for _, sub := range subs {
		sub.Unsubscribe() //nolint:errcheck // connection closes next
	}
	if err := c.conn.FlushTimeout(defaultFlushTimeout); err != nil {
		if logger := c.getLogger(); logger != nil {
			logger.Warn("NATS flush on close failed", "error", err)
		}
	}
	c.conn.Close()
	return nil
}

// SetLogger sets the logger for connection events and handler errors.
func (c *Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

func (c *Client) getLogger() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}

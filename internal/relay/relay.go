package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Jeansidharta/yeelight-controller/internal/bridges/yeelight"
	"github.com/Jeansidharta/yeelight-controller/internal/device"
	"github.com/Jeansidharta/yeelight-controller/internal/infrastructure/influxdb"
	"github.com/Jeansidharta/yeelight-controller/internal/infrastructure/mqtt"
	"github.com/Jeansidharta/yeelight-controller/internal/infrastructure/natsbus"
)

const (
	// defaultCommandTimeout bounds one bus command, dial included.
	defaultCommandTimeout = 10 * time.Second

	// historyWriteTimeout bounds one state history insert.
	historyWriteTimeout = 2 * time.Second

	// commandQoS is used for command subscriptions and acks.
	commandQoS byte = 1
)

// Registry is the part of *device.Registry the relay uses.
type Registry interface {
	Subscribe(o device.Observer) (unsubscribe func())
	Send(ctx context.Context, id int64, cmd yeelight.Command) (yeelight.Frame, error)
}

// MQTTClient is the part of *mqtt.Client the relay uses.
type MQTTClient interface {
	Topics() mqtt.Topics
	Publish(topic string, payload []byte, qos byte, retained bool) error
	PublishJSON(topic string, v any, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
}

// NATSClient is the part of *natsbus.Client the relay uses.
type NATSClient interface {
	Subjects() natsbus.Subjects
	Publish(subject string, data []byte) error
	Subscribe(subject string, handler natsbus.MessageHandler) error
}

// MetricsWriter receives one sample per lamp-state event.
type MetricsWriter interface {
	WriteLampState(s influxdb.LampSample, at time.Time)
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Options configures a Relay. Only Registry is required; a nil sink is
// skipped.
type Options struct {
	Registry Registry
	MQTT     MQTTClient
	NATS     NATSClient
	Metrics  MetricsWriter
	History  device.StateHistoryRepository
	Logger   Logger

	// CommandTimeout bounds each bus command. Zero selects 10 seconds.
	CommandTimeout time.Duration
}

// Stats holds relay counters for monitoring.
type Stats struct {
	EventsRelayed   uint64
	PublishErrors   uint64
	CommandsHandled uint64
	CommandsFailed  uint64
	HistoryErrors   uint64
}

// Relay forwards registry events to the buses and bus commands to lamps.
type Relay struct {
	opts   Options
	logger Logger

	mu          sync.Mutex
	started     bool
	unsubscribe func()
	ctx         context.Context
	cancel      context.CancelFunc

	eventsRelayed   atomic.Uint64
	publishErrors   atomic.Uint64
	commandsHandled atomic.Uint64
	commandsFailed  atomic.Uint64
	historyErrors   atomic.Uint64
}

// New creates a relay. Call Start to begin forwarding.
func New(opts Options) (*Relay, error) {
	if opts.Registry == nil {
		return nil, ErrNoRegistry
	}
	if opts.CommandTimeout <= 0 {
		opts.CommandTimeout = defaultCommandTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	return &Relay{opts: opts, logger: logger}, nil
}

// Start subscribes to the registry and to the command topics of every
// configured bus.
func (r *Relay) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		return ErrAlreadyStarted
	}

	if r.opts.MQTT != nil {
		topic := r.opts.MQTT.Topics().AllLampCommands()
		if err := r.opts.MQTT.Subscribe(topic, commandQoS, r.handleMQTTCommand); err != nil {
			return fmt.Errorf("subscribing to %s: %w", topic, err)
		}
	}
	if r.opts.NATS != nil {
		subject := r.opts.NATS.Subjects().AllLampCommands()
		if err := r.opts.NATS.Subscribe(subject, r.handleNATSCommand); err != nil {
			return fmt.Errorf("subscribing to %s: %w", subject, err)
		}
	}

	r.ctx, r.cancel = context.WithCancel(ctx)
	r.unsubscribe = r.opts.Registry.Subscribe(r.handleEvent)
	r.started = true

	r.logger.Info("relay started",
		"mqtt", r.opts.MQTT != nil,
		"nats", r.opts.NATS != nil,
		"influxdb", r.opts.Metrics != nil,
		"history", r.opts.History != nil)
	return nil
}

// Stop detaches from the registry and cancels in-flight commands. Bus
// subscriptions end when the bus clients are closed.
func (r *Relay) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.started {
		return
	}
	r.unsubscribe()
	r.cancel()
	r.started = false
}

// Stats returns current relay counters.
func (r *Relay) Stats() Stats {
	return Stats{
		EventsRelayed:   r.eventsRelayed.Load(),
		PublishErrors:   r.publishErrors.Load(),
		CommandsHandled: r.commandsHandled.Load(),
		CommandsFailed:  r.commandsFailed.Load(),
		HistoryErrors:   r.historyErrors.Load(),
	}
}

func (r *Relay) baseContext() context.Context {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ctx == nil {
		return context.Background()
	}
	return r.ctx
}

// handleEvent runs on a registry dispatcher worker.
func (r *Relay) handleEvent(ev device.Event) {
	r.eventsRelayed.Add(1)

	switch ev.Type {
	case device.EventLampState:
		r.relayState(ev)
	case device.EventLampRemoved:
		r.relayRemoval(ev)
	default:
		r.logger.Debug("ignoring registry event", "type", ev.Type)
	}
}

func (r *Relay) relayState(ev device.Event) {
	id := ev.State.ID

	payload, err := json.Marshal(ev.State)
	if err != nil {
		r.logger.Error("encoding lamp state", "lamp_id", id, "error", err)
		return
	}

	if r.opts.MQTT != nil {
		topic := r.opts.MQTT.Topics().LampState(id)
		if err := r.opts.MQTT.Publish(topic, payload, commandQoS, true); err != nil {
			r.publishFailed("mqtt", topic, err)
		}
	}
	if r.opts.NATS != nil {
		subject := r.opts.NATS.Subjects().LampState(id)
		if err := r.opts.NATS.Publish(subject, payload); err != nil {
			r.publishFailed("nats", subject, err)
		}
	}
	if r.opts.Metrics != nil {
		r.opts.Metrics.WriteLampState(sampleFromState(ev.State, ev.Source), ev.Time)
	}
	if r.opts.History != nil {
		ctx, cancel := context.WithTimeout(r.baseContext(), historyWriteTimeout)
		defer cancel()
		if err := r.opts.History.Record(ctx, id, ev.State, ev.Source); err != nil {
			r.historyErrors.Add(1)
			r.logger.Warn("recording lamp state history", "lamp_id", id, "error", err)
		}
	}
}

func (r *Relay) relayRemoval(ev device.Event) {
	id := ev.State.ID

	if r.opts.MQTT != nil {
		topics := r.opts.MQTT.Topics()
		// An empty retained message clears the broker's copy.
		if err := r.opts.MQTT.Publish(topics.LampState(id), nil, commandQoS, true); err != nil {
			r.publishFailed("mqtt", topics.LampState(id), err)
		}
		if err := r.opts.MQTT.PublishJSON(topics.LampRemoved(id), ev.State, false); err != nil {
			r.publishFailed("mqtt", topics.LampRemoved(id), err)
		}
	}
	if r.opts.NATS != nil {
		subject := r.opts.NATS.Subjects().LampRemoved(id)
		payload, err := json.Marshal(ev.State)
		if err == nil {
			err = r.opts.NATS.Publish(subject, payload)
		}
		if err != nil {
			r.publishFailed("nats", subject, err)
		}
	}
}

func (r *Relay) publishFailed(bus, target string, err error) {
	r.publishErrors.Add(1)
	r.logger.Warn("relay publish failed", "bus", bus, "target", target, "error", err)
}

// handleMQTTCommand handles yeelight/command/<id> and publishes the ack.
func (r *Relay) handleMQTTCommand(topic string, payload []byte) error {
	topics := r.opts.MQTT.Topics()
	id, ok := topics.LampIDFromTopic(topic)
	if !ok {
		return fmt.Errorf("%w: topic %s has no lamp id", ErrInvalidCommand, topic)
	}

	ack := r.execute(id, payload)
	if err := r.opts.MQTT.PublishJSON(topics.LampAck(id), ack, false); err != nil {
		r.publishFailed("mqtt", topics.LampAck(id), err)
		return err
	}
	return nil
}

// handleNATSCommand handles yeelight.lamp.<id>.command; the ack is the reply.
func (r *Relay) handleNATSCommand(subject string, data []byte) ([]byte, error) {
	id, ok := r.opts.NATS.Subjects().LampIDFromSubject(subject)
	if !ok {
		return nil, fmt.Errorf("%w: subject %s has no lamp id", ErrInvalidCommand, subject)
	}

	ack := r.execute(id, data)
	reply, err := json.Marshal(ack)
	if err != nil {
		return nil, fmt.Errorf("encoding ack: %w", err)
	}
	return reply, nil
}

// execute decodes and sends one command, always producing an ack.
func (r *Relay) execute(id int64, payload []byte) AckMessage {
	r.commandsHandled.Add(1)

	msg, err := ParseCommand(payload)
	if err != nil {
		r.commandsFailed.Add(1)
		return newAckError(msg, id, ErrCodeInvalidPayload, err.Error())
	}

	cmd, err := yeelight.Build(msg.Method, msg.Args)
	if err != nil {
		r.commandsFailed.Add(1)
		return newAckError(msg, id, ErrCodeInvalidPayload, err.Error())
	}

	ctx, cancel := context.WithTimeout(r.baseContext(), r.opts.CommandTimeout)
	defer cancel()

	frame, err := r.opts.Registry.Send(ctx, id, cmd)
	if err != nil {
		r.commandsFailed.Add(1)
		r.logger.Warn("bus command failed", "lamp_id", id, "method", msg.Method, "error", err)
		return newAckError(msg, id, errorCode(err), err.Error())
	}

	r.logger.Debug("bus command sent", "lamp_id", id, "method", msg.Method)
	return newAck(msg, id, frame.Result)
}

// errorCode maps a send error to an ack error code.
func errorCode(err error) string {
	var deviceErr *yeelight.DeviceError
	switch {
	case errors.Is(err, device.ErrLampNotFound):
		return ErrCodeUnknownLamp
	case errors.As(err, &deviceErr):
		return ErrCodeLampError
	case errors.Is(err, context.DeadlineExceeded):
		return ErrCodeTimeout
	default:
		return ErrCodeCommandFailed
	}
}

package device

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Jeansidharta/yeelight-controller/internal/bridges/yeelight"
)

const (
	// defaultEventWorkers is the number of dispatcher goroutines.
	defaultEventWorkers = 4

	// defaultEventQueueSize is the per-worker queue depth.
	defaultEventQueueSize = 256

	// defaultEnqueueTimeout is how long emit waits for room in a full queue.
	defaultEnqueueTimeout = 250 * time.Millisecond
)

// EventType identifies a registry change.
type EventType string

// Registry event types.
const (
	// EventLampState carries the full state after a create, update or
	// push frame.
	EventLampState EventType = "lamp-state"

	// EventLampRemoved is emitted after a lamp leaves the registry.
	EventLampRemoved EventType = "lamp-removed"
)

// Event sources, recorded in the state history.
const (
	SourceDiscovery = "discovery"
	SourceLamp      = "lamp"
	SourceRestore   = "restore"
	SourceRemove    = "remove"
)

// Event is delivered to every observer on a registry change.
type Event struct {
	Type   EventType            `json:"type"`
	State  yeelight.DeviceState `json:"state"`
	Source string               `json:"source"`
	Time   time.Time            `json:"time"`
}

// Observer receives registry events. It runs on a dispatcher worker and
// should return promptly.
type Observer func(Event)

// dispatcher fans events out to observers through bounded queues.
//
// Events are sharded by lamp id so one lamp's events are handled by one
// worker, in order. A full queue holds the producer for up to
// enqueueTimeout before the event is dropped.
type dispatcher struct {
	queues         []chan Event
	enqueueTimeout time.Duration

	// mu guards closed and the queue channels against send-after-close.
	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup

	observersMu  sync.RWMutex
	observers    map[uint64]Observer
	nextObserver uint64

	delivered atomic.Uint64
	dropped   atomic.Uint64

	logger func() Logger
}

func newDispatcher(workers, queueSize int, enqueueTimeout time.Duration, logger func() Logger) *dispatcher {
	if workers <= 0 {
		workers = defaultEventWorkers
	}
	if queueSize <= 0 {
		queueSize = defaultEventQueueSize
	}
	if enqueueTimeout <= 0 {
		enqueueTimeout = defaultEnqueueTimeout
	}

	d := &dispatcher{
		queues:         make([]chan Event, workers),
		enqueueTimeout: enqueueTimeout,
		observers:      make(map[uint64]Observer),
		logger:         logger,
	}
	for i := range d.queues {
		d.queues[i] = make(chan Event, queueSize)
		d.wg.Add(1)
		go d.run(d.queues[i])
	}
	return d
}

func (d *dispatcher) subscribe(o Observer) func() {
	d.observersMu.Lock()
	id := d.nextObserver
	d.nextObserver++
	d.observers[id] = o
	d.observersMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			d.observersMu.Lock()
			delete(d.observers, id)
			d.observersMu.Unlock()
		})
	}
}

func (d *dispatcher) observerCount() int {
	d.observersMu.RLock()
	defer d.observersMu.RUnlock()
	return len(d.observers)
}

// emit queues an event, waiting up to enqueueTimeout for a full queue to
// drain. Returns false when it was dropped.
func (d *dispatcher) emit(ev Event) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return false
	}

	shard := uint64(ev.State.ID) % uint64(len(d.queues)) //nolint:gosec // ids are non-negative
	select {
	case d.queues[shard] <- ev:
		return true
	default:
	}

	timer := time.NewTimer(d.enqueueTimeout)
	defer timer.Stop()
	select {
	case d.queues[shard] <- ev:
		return true
	case <-timer.C:
		d.dropped.Add(1)
		d.logger().Warn("event queue full, dropping event",
			"lamp_id", ev.State.ID, "type", string(ev.Type))
		return false
	}
}

func (d *dispatcher) run(queue <-chan Event) {
	defer d.wg.Done()
	for ev := range queue {
		d.deliver(ev)
	}
}

func (d *dispatcher) deliver(ev Event) {
	d.observersMu.RLock()
	observers := make([]Observer, 0, len(d.observers))
	for _, o := range d.observers {
		observers = append(observers, o)
	}
	d.observersMu.RUnlock()

	for _, o := range observers {
		d.call(o, ev)
	}
	d.delivered.Add(1)
}

// call runs one observer, recovering from panics.
func (d *dispatcher) call(o Observer, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			d.logger().Error("observer panic", "lamp_id", ev.State.ID, "error", fmt.Errorf("%v", r))
		}
	}()
	o(ev)
}

// close stops accepting events, drains the queues and waits for workers.
func (d *dispatcher) close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	for _, q := range d.queues {
		close(q)
	}
	d.mu.Unlock()

	d.wg.Wait()
}

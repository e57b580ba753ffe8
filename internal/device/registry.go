package device

import (
	"context"
	"fmt"
	"math/rand/v2"
	"slices"
	"sync"
	"time"

	"github.com/Jeansidharta/yeelight-controller/internal/bridges/yeelight"
)

// waitPollInterval is how often WaitFor and WaitForAny re-check the registry.
const waitPollInterval = 500 * time.Millisecond

// Logger defines the logging interface used by the Registry.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// RegistryConfig configures a Registry.
type RegistryConfig struct {
	// Session is applied to every lamp session the registry creates.
	Session yeelight.SessionConfig

	// Repository persists known lamps. Nil disables persistence.
	Repository Repository

	// EventWorkers and EventQueueSize size the observer dispatcher.
	// Zero selects the defaults (4 workers, 256 events each).
	EventWorkers   int
	EventQueueSize int

	// EventEnqueueTimeout is how long an emit waits on a full queue before
	// dropping the event. Zero selects 250ms.
	EventEnqueueTimeout time.Duration
}

// Stats holds registry statistics for monitoring.
type Stats struct {
	Lamps           int
	Observers       int
	EventsDelivered uint64
	EventsDropped   uint64
}

// Registry caches one yeelight.Session per lamp, keyed by lamp id.
//
// All public methods are thread-safe.
type Registry struct {
	cfg  RegistryConfig
	repo Repository

	// lifecycleMu orders CreateOrUpdate against Remove so a removed lamp
	// is never persisted or announced again by an update already in flight.
	lifecycleMu sync.Mutex

	mu       sync.RWMutex
	sessions map[int64]*yeelight.Session
	count    int
	closed   bool

	events *dispatcher

	logger   Logger
	loggerMu sync.RWMutex
}

// NewRegistry creates an empty registry and starts its event dispatcher.
func NewRegistry(cfg RegistryConfig) *Registry {
	r := &Registry{
		cfg:      cfg,
		repo:     cfg.Repository,
		sessions: make(map[int64]*yeelight.Session),
		logger:   noopLogger{},
	}
	r.events = newDispatcher(cfg.EventWorkers, cfg.EventQueueSize, cfg.EventEnqueueTimeout, r.getLogger)
	return r
}

// SetLogger sets the logger for the registry and the sessions it creates.
func (r *Registry) SetLogger(logger Logger) {
	r.loggerMu.Lock()
	r.logger = logger
	r.loggerMu.Unlock()
}

func (r *Registry) getLogger() Logger {
	r.loggerMu.RLock()
	defer r.loggerMu.RUnlock()
	return r.logger
}

// Subscribe registers an observer for every subsequent event and returns a
// function that removes it.
func (r *Registry) Subscribe(o Observer) (unsubscribe func()) {
	return r.events.subscribe(o)
}

// CreateOrUpdate records what is known about a lamp.
//
// An unknown id gets a new session whose state is DefaultState() with the
// patch applied. A known id has the patch merged into its session. Either
// way a lamp-state event with the full resulting state is emitted, even
// when nothing changed, and the lamp is persisted when a repository is
// configured.
func (r *Registry) CreateOrUpdate(ctx context.Context, id int64, patch yeelight.StatePatch) (yeelight.DeviceState, error) {
	r.lifecycleMu.Lock()
	defer r.lifecycleMu.Unlock()

	state, created, err := r.upsert(id, patch)
	if err != nil {
		return yeelight.DeviceState{}, err
	}

	if created {
		r.getLogger().Info("lamp discovered", "lamp_id", id, "ip", state.Address, "model", state.Model)
	}
	r.emit(EventLampState, state, SourceDiscovery)
	r.persist(ctx, state)
	return state, nil
}

// upsert creates or merges without emitting events.
func (r *Registry) upsert(id int64, patch yeelight.StatePatch) (yeelight.DeviceState, bool, error) {
	if id == 0 {
		return yeelight.DeviceState{}, false, ErrInvalidLampID
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return yeelight.DeviceState{}, false, ErrRegistryClosed
	}

	if session, ok := r.sessions[id]; ok {
		r.mu.Unlock()
		return session.Merge(patch), false, nil
	}

	state := yeelight.DefaultState()
	state.ID = id
	patch.Apply(&state)

	session := yeelight.NewSession(state, r.cfg.Session)
	session.SetLogger(r.getLogger())
	session.SetOnChange(func(s yeelight.DeviceState) {
		if !r.registered(id, session) {
			return
		}
		r.emit(EventLampState, s, SourceLamp)
	})
	r.sessions[id] = session
	r.count++
	r.mu.Unlock()

	return session.State(), true, nil
}

// registered reports whether session is still the live session for id.
func (r *Registry) registered(id int64, session *yeelight.Session) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[id] == session
}

func (r *Registry) emit(t EventType, state yeelight.DeviceState, source string) {
	r.events.emit(Event{Type: t, State: state, Source: source, Time: time.Now().UTC()})
}

// persist stores the lamp, logging failures.
func (r *Registry) persist(ctx context.Context, state yeelight.DeviceState) {
	if r.repo == nil {
		return
	}
	if err := r.repo.Upsert(ctx, state); err != nil {
		r.getLogger().Warn("failed to persist lamp", "lamp_id", state.ID, "error", err)
	}
}

// Remove closes a lamp's session and forgets it.
// Returns ErrLampNotFound for unknown ids.
func (r *Registry) Remove(ctx context.Context, id int64) error {
	r.lifecycleMu.Lock()
	defer r.lifecycleMu.Unlock()

	r.mu.Lock()
	session, ok := r.sessions[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrLampNotFound, id)
	}
	delete(r.sessions, id)
	r.count--
	r.mu.Unlock()

	state := session.State()
	if err := session.Close(); err != nil {
		r.getLogger().Warn("closing lamp session", "lamp_id", id, "error", err)
	}

	if r.repo != nil {
		if err := r.repo.Delete(ctx, id); err != nil {
			r.getLogger().Warn("failed to delete persisted lamp", "lamp_id", id, "error", err)
		}
	}

	r.emit(EventLampRemoved, state, SourceRemove)
	r.getLogger().Info("lamp removed", "lamp_id", id)
	return nil
}

// Session returns the live session for a lamp.
func (r *Registry) Session(id int64) (*yeelight.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	session, ok := r.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrLampNotFound, id)
	}
	return session, nil
}

// Get returns a snapshot of one lamp's state.
func (r *Registry) Get(id int64) (yeelight.DeviceState, error) {
	session, err := r.Session(id)
	if err != nil {
		return yeelight.DeviceState{}, err
	}
	return session.State(), nil
}

// GetAll returns every lamp's state, ordered by id.
func (r *Registry) GetAll() []yeelight.DeviceState {
	r.mu.RLock()
	sessions := make([]*yeelight.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()

	states := make([]yeelight.DeviceState, 0, len(sessions))
	for _, s := range sessions {
		states = append(states, s.State())
	}
	slices.SortFunc(states, func(a, b yeelight.DeviceState) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		default:
			return 0
		}
	})
	return states
}

// GetRandom returns the state of a lamp chosen uniformly at random.
// Returns ErrRegistryEmpty when no lamp is known.
func (r *Registry) GetRandom() (yeelight.DeviceState, error) {
	r.mu.RLock()
	if len(r.sessions) == 0 {
		r.mu.RUnlock()
		return yeelight.DeviceState{}, ErrRegistryEmpty
	}
	pick := rand.IntN(len(r.sessions)) //nolint:gosec // lamp choice is not security sensitive
	var chosen *yeelight.Session
	for _, s := range r.sessions {
		if pick == 0 {
			chosen = s
			break
		}
		pick--
	}
	r.mu.RUnlock()

	return chosen.State(), nil
}

// Count returns the number of lamps in the registry.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.count
}

// WaitFor blocks until the lamp with the given id is known or ctx ends.
func (r *Registry) WaitFor(ctx context.Context, id int64) (yeelight.DeviceState, error) {
	return r.poll(ctx, func() (yeelight.DeviceState, error) { return r.Get(id) })
}

// WaitForAny blocks until at least one lamp is known or ctx ends, and
// returns a random one.
func (r *Registry) WaitForAny(ctx context.Context) (yeelight.DeviceState, error) {
	return r.poll(ctx, r.GetRandom)
}

func (r *Registry) poll(ctx context.Context, try func() (yeelight.DeviceState, error)) (yeelight.DeviceState, error) {
	ticker := time.NewTicker(waitPollInterval)
	defer ticker.Stop()

	for {
		if state, err := try(); err == nil {
			return state, nil
		}
		select {
		case <-ctx.Done():
			return yeelight.DeviceState{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Send issues a command to one lamp and returns its reply.
func (r *Registry) Send(ctx context.Context, id int64, cmd yeelight.Command) (yeelight.Frame, error) {
	session, err := r.Session(id)
	if err != nil {
		return yeelight.Frame{}, err
	}
	return session.Send(ctx, cmd)
}

// SetMusic turns music mode on or off for one lamp.
func (r *Registry) SetMusic(ctx context.Context, id int64, on bool) error {
	session, err := r.Session(id)
	if err != nil {
		return err
	}
	return session.SetMusic(ctx, on)
}

// Restore loads lamps persisted by a previous run so they can be commanded
// before they announce themselves again. Lamps already in the registry are
// left untouched.
func (r *Registry) Restore(ctx context.Context) error {
	if r.repo == nil {
		return ErrNoRepository
	}

	states, err := r.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading lamps: %w", err)
	}

	restored := 0
	for _, stored := range states {
		if _, err := r.Get(stored.ID); err == nil {
			continue
		}
		stored.IsMusicModeOn = false
		state, created, err := r.upsert(stored.ID, patchFromState(stored))
		if err != nil {
			return err
		}
		if created {
			restored++
			r.emit(EventLampState, state, SourceRestore)
		}
	}

	r.getLogger().Info("lamps restored", "count", restored)
	return nil
}

// Stats returns current registry statistics.
func (r *Registry) Stats() Stats {
	return Stats{
		Lamps:           r.Count(),
		Observers:       r.events.observerCount(),
		EventsDelivered: r.events.delivered.Load(),
		EventsDropped:   r.events.dropped.Load(),
	}
}

// Close closes every session and stops event delivery.
// Safe to call multiple times.
func (r *Registry) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	sessions := r.sessions
	r.sessions = make(map[int64]*yeelight.Session)
	r.count = 0
	r.mu.Unlock()

	for id, s := range sessions {
		if err := s.Close(); err != nil {
			r.getLogger().Warn("closing lamp session", "lamp_id", id, "error", err)
		}
	}

	r.events.close()
	return nil
}

// patchFromState builds a patch that sets every field of s.
func patchFromState(s yeelight.DeviceState) yeelight.StatePatch {
	return yeelight.StatePatch{
		ID:               yeelight.Ptr(s.ID),
		Address:          yeelight.Ptr(s.Address),
		Model:            yeelight.Ptr(s.Model),
		FirmwareVersion:  yeelight.Ptr(s.FirmwareVersion),
		SupportedMethods: slices.Clone(s.SupportedMethods),
		IsPowerOn:        yeelight.Ptr(s.IsPowerOn),
		Bright:           yeelight.Ptr(s.Bright),
		ColorMode:        yeelight.Ptr(s.ColorMode),
		ColorTemperature: yeelight.Ptr(s.ColorTemperature),
		RGB:              yeelight.Ptr(s.RGB),
		Hue:              yeelight.Ptr(s.Hue),
		Saturation:       yeelight.Ptr(s.Saturation),
		Name:             yeelight.Ptr(s.Name),
		Flowing:          yeelight.Ptr(s.Flowing),
		FlowParams:       slices.Clone(s.FlowParams),
		IsMusicModeOn:    yeelight.Ptr(s.IsMusicModeOn),
		SmartSwitch:      yeelight.Ptr(s.SmartSwitch),
		InitPowerOption:  yeelight.Ptr(s.InitPowerOption),
		LANControl:       yeelight.Ptr(s.LANControl),
		DelayOff:         yeelight.Ptr(s.DelayOff),
		SaveState:        yeelight.Ptr(s.SaveState),
		BrightWithZero:   yeelight.Ptr(s.BrightWithZero),
	}
}

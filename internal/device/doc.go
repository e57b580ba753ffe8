// Package device provides the lamp registry for the Yeelight controller.
//
// The registry is the in-memory catalogue of every lamp the controller has
// heard from. Each entry owns a yeelight.Session (the TCP control
// connection plus the lamp's current state). Discovery feeds it, the REST
// and WebSocket surfaces read from it, and the relay fans its change
// events out to MQTT, NATS, InfluxDB and the state history table.
//
// # Architecture
//
//	┌──────────────────────────────────────────────────────────────────────┐
//	│                            Lamp Registry                              │
//	│                                                                       │
//	│  ┌──────────────────┐    ┌──────────────────┐    ┌─────────────────┐  │
//	│  │     Registry     │    │   Dispatcher     │    │   Repository    │  │
//	│  │  (registry.go)   │───▶│   (events.go)    │    │ (repository.go) │  │
//	│  │                  │    │                  │    │                 │  │
//	│  │ • id → Session   │    │ • bounded queues │    │ • lamps table   │  │
//	│  │ • count          │    │ • per-lamp order │    │ • state history │  │
//	│  │ • wait / random  │    │ • drop counting  │    │                 │  │
//	│  └──────────────────┘    └──────────────────┘    └─────────────────┘  │
//	│           │                       │                       │           │
//	└───────────│───────────────────────│───────────────────────│───────────┘
//	            ▼                       ▼                       ▼
//	   yeelight.Session          Observers (relay,        SQLite database
//	   (one per lamp)            WebSocket hub)
//
// # Usage
//
//	registry := device.NewRegistry(device.RegistryConfig{
//	    Session:    yeelight.SessionConfig{ConnectTimeout: 5 * time.Second},
//	    Repository: device.NewSQLiteRepository(db.DB),
//	})
//	registry.SetLogger(log)
//	defer registry.Close()
//
//	unsubscribe := registry.Subscribe(func(ev device.Event) {
//	    fmt.Println(ev.Type, ev.State.ID, ev.State.Bright)
//	})
//	defer unsubscribe()
//
//	// Lamps persisted by a previous run are usable before the first NOTIFY.
//	_ = registry.Restore(ctx)
//
//	state, err := registry.CreateOrUpdate(ctx, 0x7e7c4b9, patch)
//	frame, err := registry.Send(ctx, state.ID, yeelight.Toggle())
//
// # Thread Safety
//
// All Registry methods are safe for concurrent use. Observers run on the
// dispatcher workers, never on the caller's goroutine; events for one lamp
// are delivered in order.
package device

package device

import (
	"context"
	"time"

	"github.com/Jeansidharta/yeelight-controller/internal/bridges/yeelight"
)

// StateHistoryEntry is one recorded lamp state.
//
// Each entry stores a full snapshot of the lamp at the time the change was
// observed. This provides a local audit trail even when the time-series
// database is unavailable.
type StateHistoryEntry struct {
	// ID is the auto-incremented primary key for the history row.
	ID int64 `json:"id"`

	LampID int64                `json:"lampId"`
	State  yeelight.DeviceState `json:"state"`

	// Source identifies what produced the change (discovery, lamp, restore).
	Source string `json:"source"`

	CreatedAt time.Time `json:"createdAt"`
}

// StateHistoryRepository stores and retrieves lamp state history.
//
// Implementations must be thread-safe and use UTC timestamps.
type StateHistoryRepository interface {
	// Record stores a snapshot. An empty source is stored as "lamp".
	Record(ctx context.Context, lampID int64, state yeelight.DeviceState, source string) error

	// Recent returns up to limit entries for the lamp, newest first.
	// Implementations clamp limit to a sane range.
	Recent(ctx context.Context, lampID int64, limit int) ([]StateHistoryEntry, error)

	// Prune deletes entries older than the given age and returns how many
	// were removed.
	Prune(ctx context.Context, olderThan time.Duration) (int64, error)
}

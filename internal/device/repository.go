package device

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Jeansidharta/yeelight-controller/internal/bridges/yeelight"
)

// Repository persists the lamps the registry has seen.
// This abstraction allows for different implementations (SQLite, mock, etc.)
// and enables unit testing without database dependencies.
type Repository interface {
	// Upsert inserts the lamp or replaces its stored state.
	Upsert(ctx context.Context, state yeelight.DeviceState) error

	// List returns every stored lamp, ordered by id.
	List(ctx context.Context) ([]yeelight.DeviceState, error)

	// Delete removes a lamp.
	// Returns ErrLampNotFound if the lamp is not stored.
	Delete(ctx context.Context, id int64) error
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
// The db parameter should be an open SQLite connection.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Upsert stores the lamp's identity columns plus a JSON snapshot of its
// full state. first_seen is kept from the original insert.
func (r *SQLiteRepository) Upsert(ctx context.Context, state yeelight.DeviceState) error {
	if state.ID == 0 {
		return ErrInvalidLampID
	}

	stateJSON, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshalling lamp state: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO lamps (id, ip, model, name, firmware_version, support, state, first_seen, last_seen)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			ip = excluded.ip,
			model = excluded.model,
			name = excluded.name,
			firmware_version = excluded.firmware_version,
			support = excluded.support,
			state = excluded.state,
			last_seen = excluded.last_seen`,
		state.ID,
		state.Address,
		state.Model,
		state.Name,
		state.FirmwareVersion,
		strings.Join(state.SupportedMethods, " "),
		string(stateJSON),
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("upserting lamp %d: %w", state.ID, err)
	}
	return nil
}

// List returns every stored lamp, ordered by id.
func (r *SQLiteRepository) List(ctx context.Context) ([]yeelight.DeviceState, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT id, state FROM lamps ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("querying lamps: %w", err)
	}
	defer rows.Close()

	var states []yeelight.DeviceState
	for rows.Next() {
		var id int64
		var stateJSON string
		if err := rows.Scan(&id, &stateJSON); err != nil {
			return nil, fmt.Errorf("scanning lamp: %w", err)
		}

		state := yeelight.DefaultState()
		if err := json.Unmarshal([]byte(stateJSON), &state); err != nil {
			return nil, fmt.Errorf("unmarshalling lamp %d: %w", id, err)
		}
		state.ID = id
		states = append(states, state)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating lamps: %w", err)
	}
	return states, nil
}

// Delete removes a lamp. Its state history is kept until pruned.
func (r *SQLiteRepository) Delete(ctx context.Context, id int64) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM lamps WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting lamp: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w: %d", ErrLampNotFound, id)
	}
	return nil
}

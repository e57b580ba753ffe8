package device

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/Jeansidharta/yeelight-controller/internal/bridges/yeelight"
)

// insertStateHistoryRow inserts a state history row with a specific timestamp.
func insertStateHistoryRow(t *testing.T, db *sql.DB, lampID int64, stateJSON, source string, createdAt time.Time) {
	t.Helper()

	_, err := db.Exec(
		"INSERT INTO lamp_state_history (lamp_id, state, source, created_at) VALUES (?, ?, ?, ?)",
		lampID,
		stateJSON,
		source,
		createdAt.UTC().Format(historyTimeFormat),
	)
	if err != nil {
		t.Fatalf("failed to insert state history row: %v", err)
	}
}

func TestStateHistory_Record(t *testing.T) {
	repo := NewSQLiteStateHistoryRepository(setupTestDB(t))
	ctx := context.Background()

	state := testLamp(1, "desk")
	if err := repo.Record(ctx, 1, state, SourceDiscovery); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	entries, err := repo.Recent(ctx, 1, 10)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries length = %d, want 1", len(entries))
	}

	entry := entries[0]
	if entry.LampID != 1 {
		t.Errorf("LampID = %d, want 1", entry.LampID)
	}
	if entry.Source != SourceDiscovery {
		t.Errorf("Source = %q, want %q", entry.Source, SourceDiscovery)
	}
	if entry.CreatedAt.IsZero() {
		t.Error("CreatedAt is zero, want non-zero")
	}
	if entry.State.Name != "desk" || entry.State.Bright != 80 {
		t.Errorf("State = %+v, want desk bright 80", entry.State)
	}
}

func TestStateHistory_RecordDefaults(t *testing.T) {
	repo := NewSQLiteStateHistoryRepository(setupTestDB(t))
	ctx := context.Background()

	if err := repo.Record(ctx, 0, yeelight.DefaultState(), ""); !errors.Is(err, ErrInvalidLampID) {
		t.Errorf("Record(id 0) error = %v, want ErrInvalidLampID", err)
	}

	if err := repo.Record(ctx, 2, testLamp(2, "x"), ""); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	entries, err := repo.Recent(ctx, 2, 0)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(entries) != 1 || entries[0].Source != SourceLamp {
		t.Errorf("entries = %+v, want one entry with source lamp", entries)
	}
}

func TestStateHistory_RecentOrderAndLimit(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteStateHistoryRepository(db)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Microsecond)
	insertStateHistoryRow(t, db, 1, `{"bright":1}`, SourceDiscovery, now.Add(-2*time.Hour))
	insertStateHistoryRow(t, db, 1, `{"bright":2}`, SourceLamp, now.Add(-1*time.Hour))
	insertStateHistoryRow(t, db, 1, `{"bright":3}`, SourceLamp, now)
	insertStateHistoryRow(t, db, 2, `{"bright":9}`, SourceLamp, now)

	entries, err := repo.Recent(ctx, 1, 2)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries length = %d, want 2", len(entries))
	}

	if !entries[0].CreatedAt.Equal(now) {
		t.Errorf("entry[0] CreatedAt = %s, want %s", entries[0].CreatedAt, now)
	}
	if entries[0].State.Bright != 3 || entries[1].State.Bright != 2 {
		t.Errorf("brights = %d,%d, want 3,2", entries[0].State.Bright, entries[1].State.Bright)
	}
}

func TestStateHistory_Prune(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteStateHistoryRepository(db)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Microsecond)
	insertStateHistoryRow(t, db, 1, `{"bright":1}`, SourceLamp, now.Add(-40*24*time.Hour))
	insertStateHistoryRow(t, db, 1, `{"bright":2}`, SourceLamp, now.Add(-12*time.Hour))

	deleted, err := repo.Prune(ctx, 30*24*time.Hour)
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if deleted != 1 {
		t.Fatalf("deleted = %d, want 1", deleted)
	}

	entries, err := repo.Recent(ctx, 1, 10)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries length = %d, want 1", len(entries))
	}
	if !entries[0].CreatedAt.Equal(now.Add(-12 * time.Hour)) {
		t.Errorf("remaining CreatedAt = %s, want %s", entries[0].CreatedAt, now.Add(-12*time.Hour))
	}

	if _, err := repo.Prune(ctx, 0); err == nil {
		t.Error("Prune(0) expected error")
	}
}

func TestParseHistoryTimestamp(t *testing.T) {
	tests := []struct {
		value   string
		wantErr bool
	}{
		{"2026-10-18T12:00:00.000001Z", false},
		{"2026-10-18T12:00:00Z", false},
		{"", true},
		{"yesterday", true},
	}

	for _, tt := range tests {
		_, err := parseHistoryTimestamp(tt.value)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseHistoryTimestamp(%q) error = %v, wantErr %v", tt.value, err, tt.wantErr)
		}
	}
}

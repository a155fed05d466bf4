package telemetry

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	defaultPowerLogLimit = 100
	maxPowerLogLimit     = 100
)

// Store persists device status, sensor readings and power logs.
type Store interface {
	// UpsertPower sets the power state and connectivity of a (client, entity).
	UpsertPower(ctx context.Context, clientID, entity string, power Power, conn Connectivity, at time.Time) error

	// UpsertConnectivity sets connectivity and message without touching power.
	UpsertConnectivity(ctx context.Context, clientID, entity string, conn Connectivity, message string, at time.Time) error

	// RecordSensor appends a sensor reading.
	RecordSensor(ctx context.Context, reading *SensorReading) error

	// RecordPowerLog appends a power log entry.
	RecordPowerLog(ctx context.Context, entry *PowerLog) error

	// LatestSensor returns the newest reading for (client, entity), or nil.
	LatestSensor(ctx context.Context, clientID, entity string) (*SensorReading, error)

	// GetStatus returns the current status for (client, entity), or nil.
	GetStatus(ctx context.Context, clientID, entity string) (*Status, error)

	// ListPowerLogs returns power logs newest first. A nil clientIDs slice
	// means every client; an empty non-nil slice matches nothing.
	ListPowerLogs(ctx context.Context, clientIDs []string, limit int) ([]PowerLog, error)
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite telemetry store.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// UpsertPower inserts or updates the status row for (clientID, entity).
func (s *SQLiteStore) UpsertPower(ctx context.Context, clientID, entity string, power Power, conn Connectivity, at time.Time) error {
	if power != PowerOn && power != PowerOff && power != PowerUnknown {
		return fmt.Errorf("%w: %q", ErrInvalidPower, power)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO device_status (client_id, entity, power, connectivity, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (client_id, entity) DO UPDATE SET
			power = excluded.power,
			connectivity = excluded.connectivity,
			updated_at = excluded.updated_at`,
		clientID, entity, string(power), string(conn), formatTime(at),
	)
	if err != nil {
		return fmt.Errorf("upserting power status: %w", err)
	}
	return nil
}

// UpsertConnectivity inserts or updates connectivity, leaving power as is.
// A new row starts with power "unknown".
func (s *SQLiteStore) UpsertConnectivity(ctx context.Context, clientID, entity string, conn Connectivity, message string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO device_status (client_id, entity, connectivity, message, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (client_id, entity) DO UPDATE SET
			connectivity = excluded.connectivity,
			message = excluded.message,
			updated_at = excluded.updated_at`,
		clientID, entity, string(conn), message, formatTime(at),
	)
	if err != nil {
		return fmt.Errorf("upserting connectivity: %w", err)
	}
	return nil
}

// RecordSensor inserts a sensor reading and sets its ID.
func (s *SQLiteStore) RecordSensor(ctx context.Context, r *SensorReading) error {
	data := r.Data
	if data == nil {
		data = map[string]any{}
	}
	dataJSON, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshalling sensor data: %w", err)
	}
	if r.RecordedAt.IsZero() {
		r.RecordedAt = time.Now().UTC()
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO sensor_readings (client_id, entity, data, recorded_at) VALUES (?, ?, ?, ?)`,
		r.ClientID, r.Entity, string(dataJSON), formatTime(r.RecordedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting sensor reading: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		r.ID = id
	}
	return nil
}

// RecordPowerLog inserts a power log entry and sets its ID.
func (s *SQLiteStore) RecordPowerLog(ctx context.Context, e *PowerLog) error {
	if e.Power != PowerOn && e.Power != PowerOff {
		return fmt.Errorf("%w: %q", ErrInvalidPower, e.Power)
	}
	if e.RecordedAt.IsZero() {
		e.RecordedAt = time.Now().UTC()
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO power_logs (client_id, entity, power, recorded_at) VALUES (?, ?, ?, ?)`,
		e.ClientID, e.Entity, string(e.Power), formatTime(e.RecordedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting power log: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		e.ID = id
	}
	return nil
}

// LatestSensor returns the newest reading for (clientID, entity).
func (s *SQLiteStore) LatestSensor(ctx context.Context, clientID, entity string) (*SensorReading, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, client_id, entity, data, recorded_at
		FROM sensor_readings
		WHERE client_id = ? AND entity = ?
		ORDER BY id DESC
		LIMIT 1`, clientID, entity)

	var r SensorReading
	var dataJSON, recordedAt string
	if err := row.Scan(&r.ID, &r.ClientID, &r.Entity, &dataJSON, &recordedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil //nolint:nilnil // absence is not an error here
		}
		return nil, fmt.Errorf("querying sensor reading: %w", err)
	}
	if err := json.Unmarshal([]byte(dataJSON), &r.Data); err != nil {
		return nil, fmt.Errorf("unmarshalling sensor data: %w", err)
	}
	r.RecordedAt = parseTime(recordedAt)
	return &r, nil
}

// GetStatus returns the current status for (clientID, entity).
func (s *SQLiteStore) GetStatus(ctx context.Context, clientID, entity string) (*Status, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT client_id, entity, power, connectivity, message, updated_at
		FROM device_status
		WHERE client_id = ? AND entity = ?`, clientID, entity)

	var st Status
	var power, conn, updatedAt string
	if err := row.Scan(&st.ClientID, &st.Entity, &power, &conn, &st.Message, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil //nolint:nilnil // absence is not an error here
		}
		return nil, fmt.Errorf("querying device status: %w", err)
	}
	st.Power = Power(power)
	st.Connectivity = Connectivity(conn)
	st.UpdatedAt = parseTime(updatedAt)
	return &st, nil
}

// ListPowerLogs returns power logs, newest first.
func (s *SQLiteStore) ListPowerLogs(ctx context.Context, clientIDs []string, limit int) ([]PowerLog, error) {
	if clientIDs != nil && len(clientIDs) == 0 {
		return []PowerLog{}, nil
	}
	if limit <= 0 {
		limit = defaultPowerLogLimit
	}
	if limit > maxPowerLogLimit {
		limit = maxPowerLogLimit
	}

	query := `SELECT id, client_id, entity, power, recorded_at FROM power_logs`
	args := make([]any, 0, len(clientIDs)+1)
	if clientIDs != nil {
		query += ` WHERE client_id IN (?` + strings.Repeat(", ?", len(clientIDs)-1) + `)`
		for _, id := range clientIDs {
			args = append(args, id)
		}
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying power logs: %w", err)
	}
	defer rows.Close()

	logs := make([]PowerLog, 0, limit)
	for rows.Next() {
		var e PowerLog
		var power, recordedAt string
		if err := rows.Scan(&e.ID, &e.ClientID, &e.Entity, &power, &recordedAt); err != nil {
			return nil, fmt.Errorf("scanning power log: %w", err)
		}
		e.Power = Power(power)
		e.RecordedAt = parseTime(recordedAt)
		logs = append(logs, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating power logs: %w", err)
	}
	return logs, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// parseTime accepts RFC3339 and falls back to the SQLite datetime() format.
func parseTime(s string) time.Time {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t
	}
	if t, err := time.Parse("2006-01-02 15:04:05", s); err == nil {
		return t.UTC()
	}
	return time.Time{}
}

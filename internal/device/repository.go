package device

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Repository defines the persistence operations for devices and their owners.
type Repository interface {
	// GetByID retrieves a device by its unique identifier.
	// Returns ErrDeviceNotFound if the device does not exist.
	GetByID(ctx context.Context, id string) (*Device, error)

	// FindByKey retrieves a device by (client_id, entity).
	// Returns ErrDeviceNotFound if the pair is not registered.
	FindByKey(ctx context.Context, clientID, entity string) (*Device, error)

	// List retrieves all devices ordered by client and entity.
	List(ctx context.Context) ([]Device, error)

	// ListByOwner retrieves the devices owned by subjectID.
	ListByOwner(ctx context.Context, subjectID string) ([]Device, error)

	// Create inserts a new device.
	// Returns ErrDeviceExists if (client_id, entity) is already registered.
	Create(ctx context.Context, device *Device) error

	// Delete removes a device by ID together with its ownership rows.
	Delete(ctx context.Context, id string) error

	// AddOwner grants subjectID ownership of a device. Granting twice is a no-op.
	AddOwner(ctx context.Context, deviceID, subjectID string) error

	// RemoveOwner revokes ownership. Revoking a missing grant is a no-op.
	RemoveOwner(ctx context.Context, deviceID, subjectID string) error
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const selectDevice = `
	SELECT d.id, d.client_id, d.entity, d.type, d.created_at,
		COALESCE((SELECT group_concat(o.subject_id, ',')
			FROM device_owners o WHERE o.device_id = d.id), '')
	FROM devices d`

// GetByID retrieves a device by its unique identifier.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Device, error) {
	row := r.db.QueryRowContext(ctx, selectDevice+` WHERE d.id = ?`, id)
	d, err := scanDevice(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("querying device: %w", err)
	}
	return d, nil
}

// FindByKey retrieves a device by its (client_id, entity) pair.
func (r *SQLiteRepository) FindByKey(ctx context.Context, clientID, entity string) (*Device, error) {
	row := r.db.QueryRowContext(ctx, selectDevice+` WHERE d.client_id = ? AND d.entity = ?`, clientID, entity)
	d, err := scanDevice(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("querying device: %w", err)
	}
	return d, nil
}

// List retrieves all devices.
func (r *SQLiteRepository) List(ctx context.Context) ([]Device, error) {
	return r.queryDevices(ctx, selectDevice+` ORDER BY d.client_id, d.entity`)
}

// ListByOwner retrieves the devices owned by subjectID.
func (r *SQLiteRepository) ListByOwner(ctx context.Context, subjectID string) ([]Device, error) {
	query := selectDevice + `
		WHERE d.id IN (SELECT device_id FROM device_owners WHERE subject_id = ?)
		ORDER BY d.client_id, d.entity`
	return r.queryDevices(ctx, query, subjectID)
}

func (r *SQLiteRepository) queryDevices(ctx context.Context, query string, args ...any) ([]Device, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	var devices []Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning device: %w", err)
		}
		devices = append(devices, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating devices: %w", err)
	}
	return devices, nil
}

// Create inserts a new device.
func (r *SQLiteRepository) Create(ctx context.Context, d *Device) error {
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO devices (id, client_id, entity, type, created_at) VALUES (?, ?, ?, ?, ?)`,
		d.ID, d.ClientID, d.Entity, d.Type, d.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrDeviceExists
		}
		return fmt.Errorf("inserting device: %w", err)
	}
	return nil
}

// Delete removes a device by ID.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM devices WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting device: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrDeviceNotFound
	}
	return nil
}

// AddOwner grants subjectID ownership of deviceID.
func (r *SQLiteRepository) AddOwner(ctx context.Context, deviceID, subjectID string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO device_owners (device_id, subject_id, created_at) VALUES (?, ?, ?)
		ON CONFLICT (device_id, subject_id) DO NOTHING`,
		deviceID, subjectID, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		if isForeignKeyError(err) {
			return ErrDeviceNotFound
		}
		return fmt.Errorf("adding device owner: %w", err)
	}
	return nil
}

// RemoveOwner revokes subjectID's ownership of deviceID.
func (r *SQLiteRepository) RemoveOwner(ctx context.Context, deviceID, subjectID string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM device_owners WHERE device_id = ? AND subject_id = ?`, deviceID, subjectID)
	if err != nil {
		return fmt.Errorf("removing device owner: %w", err)
	}
	return nil
}

// rowScanner is an interface that sql.Row and sql.Rows both implement.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanDevice(row rowScanner) (*Device, error) {
	var d Device
	var createdAt, owners string
	if err := row.Scan(&d.ID, &d.ClientID, &d.Entity, &d.Type, &createdAt, &owners); err != nil {
		return nil, err
	}

	t, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at %q: %w", createdAt, err)
	}
	d.CreatedAt = t
	if owners != "" {
		d.Owners = strings.Split(owners, ",")
	}
	return &d, nil
}

// isUniqueConstraintError checks if an error is a SQLite unique constraint violation.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "unique constraint")
}

func isForeignKeyError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}

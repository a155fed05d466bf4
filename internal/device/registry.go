package device

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Logger defines the logging interface used by the Registry.
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

// Registry provides device lookup and lazy registration with caching.
// It wraps a Repository and keeps an in-memory index by (client_id, entity).
//
// Ownership is managed outside this process, so owner lists are always
// read from the repository rather than the cache.
//
// All public methods are thread-safe.
type Registry struct {
	repo    Repository
	byKey   map[Key]*Device
	cacheMu sync.RWMutex
	logger  Logger
}

// NewRegistry creates a new device registry.
func NewRegistry(repo Repository) *Registry {
	return &Registry{
		repo:   repo,
		byKey:  make(map[Key]*Device),
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// RefreshCache reloads all devices from the repository into the cache.
// This should be called on application startup.
func (r *Registry) RefreshCache(ctx context.Context) error {
	devices, err := r.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading devices: %w", err)
	}

	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()

	r.byKey = make(map[Key]*Device, len(devices))
	for i := range devices {
		d := devices[i].Clone()
		r.byKey[d.Key()] = d
	}

	r.logger.Info("device cache refreshed", "count", len(devices))
	return nil
}

// Register ensures a device exists for (clientID, entity).
//
// Registration is idempotent: if the pair is already known the existing
// device is returned with created=false and no error. A concurrent insert
// that loses the uniqueness race resolves to the winner's record.
func (r *Registry) Register(ctx context.Context, clientID, entity, deviceType string) (dev *Device, created bool, err error) {
	if err := ValidateKey(clientID, entity); err != nil {
		return nil, false, err
	}

	if d, ok := r.cached(Key{ClientID: clientID, Entity: entity}); ok {
		return d, false, nil
	}

	existing, err := r.repo.FindByKey(ctx, clientID, entity)
	switch {
	case err == nil:
		r.store(existing)
		return existing.Clone(), false, nil
	case !errors.Is(err, ErrDeviceNotFound):
		return nil, false, fmt.Errorf("looking up device: %w", err)
	}

	d := &Device{
		ID:       GenerateID(),
		ClientID: clientID,
		Entity:   entity,
		Type:     deviceType,
	}
	if err := r.repo.Create(ctx, d); err != nil {
		if !errors.Is(err, ErrDeviceExists) {
			return nil, false, fmt.Errorf("registering device: %w", err)
		}
		winner, findErr := r.repo.FindByKey(ctx, clientID, entity)
		if findErr != nil {
			return nil, false, fmt.Errorf("looking up device after conflict: %w", findErr)
		}
		r.store(winner)
		return winner.Clone(), false, nil
	}

	r.store(d)
	r.logger.Info("device registered", "device_id", d.ID, "client_id", clientID, "entity", entity, "type", deviceType)
	return d.Clone(), true, nil
}

// FindDevice retrieves the device registered for (clientID, entity).
// Returns ErrDeviceNotFound if the pair is unknown.
func (r *Registry) FindDevice(ctx context.Context, clientID, entity string) (*Device, error) {
	if d, ok := r.cached(Key{ClientID: clientID, Entity: entity}); ok {
		return d, nil
	}

	d, err := r.repo.FindByKey(ctx, clientID, entity)
	if err != nil {
		return nil, err
	}
	r.store(d)
	return d.Clone(), nil
}

// GetDevice retrieves a device by ID, including its current owners.
func (r *Registry) GetDevice(ctx context.Context, id string) (*Device, error) {
	d, err := r.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	r.store(d)
	return d, nil
}

// ListDevices retrieves all registered devices.
func (r *Registry) ListDevices(ctx context.Context) ([]Device, error) {
	return r.repo.List(ctx)
}

// ListOwnedDevices retrieves the devices owned by subjectID.
func (r *Registry) ListOwnedDevices(ctx context.Context, subjectID string) ([]Device, error) {
	return r.repo.ListByOwner(ctx, subjectID)
}

// IsOwner reports whether subjectID owns the device with the given ID.
func (r *Registry) IsOwner(ctx context.Context, deviceID, subjectID string) (bool, error) {
	d, err := r.repo.GetByID(ctx, deviceID)
	if err != nil {
		return false, err
	}
	return d.HasOwner(subjectID), nil
}

// AddOwner grants subjectID ownership of a device.
func (r *Registry) AddOwner(ctx context.Context, deviceID, subjectID string) error {
	if err := r.repo.AddOwner(ctx, deviceID, subjectID); err != nil {
		return err
	}
	r.logger.Info("device owner added", "device_id", deviceID, "subject_id", subjectID)
	return nil
}

// DeleteDevice removes a device and evicts it from the cache.
func (r *Registry) DeleteDevice(ctx context.Context, id string) error {
	if err := r.repo.Delete(ctx, id); err != nil {
		return err
	}

	r.cacheMu.Lock()
	for k, d := range r.byKey {
		if d.ID == id {
			delete(r.byKey, k)
			break
		}
	}
	r.cacheMu.Unlock()

	r.logger.Info("device deleted", "device_id", id)
	return nil
}

// GetDeviceCount returns the number of cached devices.
func (r *Registry) GetDeviceCount() int {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()
	return len(r.byKey)
}

func (r *Registry) cached(k Key) (*Device, bool) {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()
	d, ok := r.byKey[k]
	if !ok {
		return nil, false
	}
	return d.Clone(), true
}

func (r *Registry) store(d *Device) {
	c := d.Clone()
	c.Owners = nil
	r.cacheMu.Lock()
	r.byKey[c.Key()] = c
	r.cacheMu.Unlock()
}

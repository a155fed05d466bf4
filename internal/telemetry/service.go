package telemetry

import (
	"context"
	"fmt"

	"github.com/nerrad567/fieldlink-core/internal/auth"
	"github.com/nerrad567/fieldlink-core/internal/device"
)

// TokenVerifier turns an access token into a caller identity.
type TokenVerifier interface {
	Verify(token string) (auth.Identity, error)
}

// DeviceLister answers which devices a caller may see.
type DeviceLister interface {
	ListOwnedDevices(ctx context.Context, subjectID string) ([]device.Device, error)
}

// Service is the read side of the telemetry store.
type Service struct {
	store    Store
	verifier TokenVerifier
	devices  DeviceLister
}

// NewService creates a telemetry read service.
func NewService(store Store, verifier TokenVerifier, devices DeviceLister) *Service {
	return &Service{store: store, verifier: verifier, devices: devices}
}

// LatestSensorData returns the newest reading and current status for
// (clientID, entity). ErrNoData is returned when neither exists.
func (s *Service) LatestSensorData(ctx context.Context, clientID, entity string) (*Snapshot, error) {
	reading, err := s.store.LatestSensor(ctx, clientID, entity)
	if err != nil {
		return nil, fmt.Errorf("loading sensor reading: %w", err)
	}
	status, err := s.store.GetStatus(ctx, clientID, entity)
	if err != nil {
		return nil, fmt.Errorf("loading status: %w", err)
	}
	if reading == nil && status == nil {
		return nil, ErrNoData
	}
	return &Snapshot{Sensor: reading, Status: status}, nil
}

// PowerLogs returns up to 100 power logs, newest first, for the devices the
// caller may see. Admins see every log; other callers see logs for the
// clients of devices they own.
func (s *Service) PowerLogs(ctx context.Context, token string) ([]PowerLog, error) {
	id, err := s.verifier.Verify(token)
	if err != nil {
		return nil, err
	}

	if id.IsAdmin {
		return s.store.ListPowerLogs(ctx, nil, maxPowerLogLimit)
	}

	owned, err := s.devices.ListOwnedDevices(ctx, id.SubjectID)
	if err != nil {
		return nil, fmt.Errorf("listing owned devices: %w", err)
	}

	seen := make(map[string]struct{}, len(owned))
	clientIDs := make([]string, 0, len(owned))
	for _, d := range owned {
		if _, ok := seen[d.ClientID]; ok {
			continue
		}
		seen[d.ClientID] = struct{}{}
		clientIDs = append(clientIDs, d.ClientID)
	}
	return s.store.ListPowerLogs(ctx, clientIDs, maxPowerLogLimit)
}

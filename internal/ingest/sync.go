package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/fieldlink-core/internal/device"
)

// Registrar is the device registry write path used by the syncer.
type Registrar interface {
	Register(ctx context.Context, clientID, entity, deviceType string) (*device.Device, bool, error)
}

// SyncedDevice is one (client, entity) pair confirmed by a sync.
type SyncedDevice struct {
	ClientID string `json:"client_id"`
	Entity   string `json:"entity"`
	Type     string `json:"type,omitempty"`
}

// SyncResult lists the devices a sync saw.
type SyncResult struct {
	Count      int            `json:"count"`
	Registered int            `json:"registered"`
	Devices    []SyncedDevice `json:"devices"`
}

// Syncer registers every entity seen in the session registry as a device.
//
// It runs periodically and once more after each burst of SENSOR messages
// has been quiet for the configured delay.
type Syncer struct {
	sessions  *SessionRegistry
	registrar Registrar
	interval  time.Duration
	delay     time.Duration
	logger    Logger

	runMu sync.Mutex // serialises Sync

	mu    sync.Mutex
	ctx   context.Context //nolint:containedctx // timer callbacks need the run context
	timer *time.Timer
}

// NewSyncer creates a syncer. interval is the periodic sweep; delay is the
// quiet period after SENSOR traffic before an extra sweep.
func NewSyncer(sessions *SessionRegistry, registrar Registrar, interval, delay time.Duration) *Syncer {
	return &Syncer{
		sessions:  sessions,
		registrar: registrar,
		interval:  interval,
		delay:     delay,
		logger:    noopLogger{},
		ctx:       context.Background(),
	}
}

// SetLogger sets the logger.
func (s *Syncer) SetLogger(logger Logger) {
	s.logger = logger
}

// Sync registers every observed (client, entity) pair. Pairs already
// registered are counted but not rewritten. The placeholder entity is
// never registered. A failure for one pair does not stop the others.
func (s *Syncer) Sync(ctx context.Context) (SyncResult, error) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	result := SyncResult{Devices: []SyncedDevice{}}
	var errs []error

	for _, sess := range s.sessions.Snapshot() {
		for _, entity := range sess.Entities {
			if entity == device.PlaceholderEntity {
				continue
			}
			if err := ctx.Err(); err != nil {
				return result, err
			}

			_, created, err := s.registrar.Register(ctx, sess.ClientID, entity, sess.Type)
			if err != nil {
				s.logger.Error("failed to register device", "client_id", sess.ClientID, "entity", entity, "error", err)
				errs = append(errs, fmt.Errorf("%s/%s: %w", sess.ClientID, entity, err))
				continue
			}
			if created {
				result.Registered++
			}
			result.Devices = append(result.Devices, SyncedDevice{ClientID: sess.ClientID, Entity: entity, Type: sess.Type})
		}
	}

	result.Count = len(result.Devices)
	return result, errors.Join(errs...)
}

// Trigger schedules a sync after the quiet delay, restarting the delay if
// one is already pending.
func (s *Syncer) Trigger() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.timer != nil {
		s.timer.Stop()
	}
	ctx := s.ctx
	s.timer = time.AfterFunc(s.delay, func() {
		if ctx.Err() != nil {
			return
		}
		s.syncAndLog(ctx, "sensor burst")
	})
}

// Run syncs every interval until ctx is cancelled.
func (s *Syncer) Run(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.mu.Lock()
			if s.timer != nil {
				s.timer.Stop()
			}
			s.mu.Unlock()
			return
		case <-ticker.C:
			s.syncAndLog(ctx, "periodic")
		}
	}
}

func (s *Syncer) syncAndLog(ctx context.Context, reason string) {
	res, err := s.Sync(ctx)
	if err != nil && ctx.Err() == nil {
		s.logger.Warn("device sync completed with errors", "reason", reason, "error", err)
	}
	s.logger.Info("device sync", "reason", reason, "count", res.Count, "registered", res.Registered)
}

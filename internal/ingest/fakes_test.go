package ingest

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/nerrad567/fieldlink-core/internal/device"
	"github.com/nerrad567/fieldlink-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/fieldlink-core/internal/telemetry"
)

var errStoreDown = errors.New("store unavailable")

type statusRow struct {
	power        telemetry.Power
	connectivity telemetry.Connectivity
	message      string
}

// fakeStore is an in-memory telemetry.Store that counts every call.
type fakeStore struct {
	mu        sync.Mutex
	status    map[[2]string]statusRow
	readings  []telemetry.SensorReading
	powerLogs []telemetry.PowerLog
	calls     int
	failNext  int
}

func newFakeStore() *fakeStore {
	return &fakeStore{status: make(map[[2]string]statusRow)}
}

func (f *fakeStore) fail() error {
	f.calls++
	if f.failNext > 0 {
		f.failNext--
		return errStoreDown
	}
	return nil
}

func (f *fakeStore) UpsertPower(_ context.Context, clientID, entity string, power telemetry.Power, conn telemetry.Connectivity, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail(); err != nil {
		return err
	}
	row := f.status[[2]string{clientID, entity}]
	row.power = power
	row.connectivity = conn
	f.status[[2]string{clientID, entity}] = row
	return nil
}

func (f *fakeStore) UpsertConnectivity(_ context.Context, clientID, entity string, conn telemetry.Connectivity, message string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail(); err != nil {
		return err
	}
	row, ok := f.status[[2]string{clientID, entity}]
	if !ok {
		row.power = telemetry.PowerUnknown
	}
	row.connectivity = conn
	row.message = message
	f.status[[2]string{clientID, entity}] = row
	return nil
}

func (f *fakeStore) RecordSensor(_ context.Context, r *telemetry.SensorReading) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail(); err != nil {
		return err
	}
	f.readings = append(f.readings, *r)
	return nil
}

func (f *fakeStore) RecordPowerLog(_ context.Context, e *telemetry.PowerLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail(); err != nil {
		return err
	}
	f.powerLogs = append(f.powerLogs, *e)
	return nil
}

func (f *fakeStore) LatestSensor(context.Context, string, string) (*telemetry.SensorReading, error) {
	return nil, nil //nolint:nilnil // unused by the dispatcher
}

func (f *fakeStore) GetStatus(context.Context, string, string) (*telemetry.Status, error) {
	return nil, nil //nolint:nilnil // unused by the dispatcher
}

func (f *fakeStore) ListPowerLogs(context.Context, []string, int) ([]telemetry.PowerLog, error) {
	return nil, nil
}

func (f *fakeStore) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 7, 30, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type metricCall struct {
	measurement string
	clientID    string
	entity      string
	power       string
}

type fakeMetrics struct {
	calls []metricCall
}

func (m *fakeMetrics) WriteSensorReading(clientID, entity string, _ map[string]any, _ time.Time) {
	m.calls = append(m.calls, metricCall{measurement: "sensor", clientID: clientID, entity: entity})
}

func (m *fakeMetrics) WritePowerEvent(clientID, entity, power string, _ time.Time) {
	m.calls = append(m.calls, metricCall{measurement: "power", clientID: clientID, entity: entity, power: power})
}

type fakeEvents struct {
	events []string
}

func (e *fakeEvents) Broadcast(eventType string, _ any) {
	e.events = append(e.events, eventType)
}

type fakeSubscriber struct {
	topics []string
	err    error
}

func (s *fakeSubscriber) Subscribe(topic string, _ byte, _ mqtt.MessageHandler) error {
	if s.err != nil {
		return s.err
	}
	s.topics = append(s.topics, topic)
	return nil
}

// fakeRegistrar records registrations and mimics idempotent registration.
type fakeRegistrar struct {
	mu    sync.Mutex
	known map[device.Key]bool
	calls []device.Key
	fail  map[device.Key]bool
}

func newFakeRegistrar() *fakeRegistrar {
	return &fakeRegistrar{known: make(map[device.Key]bool), fail: make(map[device.Key]bool)}
}

func (r *fakeRegistrar) Register(_ context.Context, clientID, entity, deviceType string) (*device.Device, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := device.Key{ClientID: clientID, Entity: entity}
	r.calls = append(r.calls, k)
	if r.fail[k] {
		return nil, false, errStoreDown
	}
	created := !r.known[k]
	r.known[k] = true
	return &device.Device{ClientID: clientID, Entity: entity, Type: deviceType}, created, nil
}

func (r *fakeRegistrar) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

// newTestDispatcher wires a dispatcher to fakes sharing one clock.
func newTestDispatcher() (*Dispatcher, *fakeStore, *fakeClock) {
	clock := newFakeClock()
	store := newFakeStore()

	sessions := NewSessionRegistry()
	sessions.now = clock.Now
	debouncer := NewPowerDebouncer(time.Second)
	debouncer.now = clock.Now

	d := NewDispatcher(store, sessions, debouncer)
	d.now = clock.Now
	return d, store, clock
}

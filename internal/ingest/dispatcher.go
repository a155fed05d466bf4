package ingest

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/nerrad567/fieldlink-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/fieldlink-core/internal/telemetry"
)

// timeKey is the reserved timestamp key in a SENSOR payload.
const timeKey = "Time"

// LWT payloads published by Tasmota.
const (
	lwtOnline  = "online"
	lwtOffline = "offline"
)

// Event names broadcast to live listeners.
const (
	EventDeviceStatus = "device.status"
	EventPowerLogged  = "power.logged"
)

// Logger defines the logging interface used by the ingest package.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// MetricsSink mirrors telemetry into a time-series store.
// Writes are fire-and-forget.
type MetricsSink interface {
	WriteSensorReading(clientID, entity string, data map[string]any, at time.Time)
	WritePowerEvent(clientID, entity, power string, at time.Time)
}

// EventSink receives live events for connected dashboards.
type EventSink interface {
	Broadcast(eventType string, payload any)
}

// Subscriber is the part of the MQTT client the dispatcher needs.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
}

// Message is one inbound transport message.
type Message struct {
	Topic   string
	Payload []byte

	// Username is the publishing connection's broker username, when the
	// transport exposes it. It only feeds device type inference.
	Username string
}

// StatusEvent is broadcast whenever a device status row changes.
type StatusEvent struct {
	ClientID     string                 `json:"client_id"`
	Entity       string                 `json:"entity"`
	Power        telemetry.Power        `json:"power,omitempty"`
	Connectivity telemetry.Connectivity `json:"connectivity"`
	At           time.Time              `json:"at"`
}

// EventClientID scopes the event to its device.
func (e StatusEvent) EventClientID() string { return e.ClientID }

// Dispatcher routes Tasmota messages into the session registry, the power
// debouncer and the telemetry store.
//
// Handle never returns an error: malformed input is dropped and store
// failures are logged so one bad write cannot stall the stream.
type Dispatcher struct {
	store     telemetry.Store
	sessions  *SessionRegistry
	debouncer *PowerDebouncer

	metrics  MetricsSink
	events   EventSink
	onSensor func()

	logger Logger
	now    func() time.Time
}

// NewDispatcher creates a dispatcher writing to store.
func NewDispatcher(store telemetry.Store, sessions *SessionRegistry, debouncer *PowerDebouncer) *Dispatcher {
	return &Dispatcher{
		store:     store,
		sessions:  sessions,
		debouncer: debouncer,
		logger:    noopLogger{},
		now:       time.Now,
	}
}

// SetLogger sets the logger.
func (d *Dispatcher) SetLogger(logger Logger) {
	d.logger = logger
}

// SetMetrics mirrors sensor readings and power logs into m. Optional.
func (d *Dispatcher) SetMetrics(m MetricsSink) {
	d.metrics = m
}

// SetEvents broadcasts status changes and power logs to e. Optional.
func (d *Dispatcher) SetEvents(e EventSink) {
	d.events = e
}

// SetSensorHook registers fn to run after every SENSOR message.
// The device syncer uses it to schedule a sweep after a burst.
func (d *Dispatcher) SetSensorHook(fn func()) {
	d.onSensor = fn
}

// Subscribe registers the dispatcher for every ingest topic on sub.
// Handlers run with ctx so shutdown cancels in-flight store writes.
func (d *Dispatcher) Subscribe(ctx context.Context, sub Subscriber, qos byte) error {
	handler := func(topic string, payload []byte) error {
		d.Handle(ctx, Message{Topic: topic, Payload: payload})
		return nil
	}
	for _, topic := range (mqtt.Topics{}).IngestSubscriptions() {
		if err := sub.Subscribe(topic, qos, handler); err != nil {
			return err
		}
		d.logger.Info("subscribed to device topic", "topic", topic)
	}
	return nil
}

// Handle processes one inbound message.
func (d *Dispatcher) Handle(ctx context.Context, msg Message) {
	ev := Match(msg.Topic)
	if ev.Kind == KindUnmatched {
		return
	}

	d.sessions.Touch(ev.ClientID, InferType(ev.ClientID, msg.Username))

	switch ev.Kind {
	case KindSensor:
		d.handleSensor(ctx, ev.ClientID, msg.Payload)
	case KindPower:
		d.handlePower(ctx, ev.ClientID, msg.Payload)
	case KindResult, KindState:
		d.handleResult(ctx, ev.ClientID, msg.Payload)
	case KindLastWill:
		d.handleLastWill(ctx, ev.ClientID, msg.Payload)
	}
}

func (d *Dispatcher) handleSensor(ctx context.Context, clientID string, payload []byte) {
	var body map[string]any
	if err := json.Unmarshal(payload, &body); err != nil {
		d.logger.Debug("ignoring malformed sensor payload", "client_id", clientID, "error", err)
		body = nil
	}

	entities := make([]string, 0, len(body))
	for k := range body {
		entities = append(entities, k)
	}
	sort.Strings(entities)

	now := d.now()
	for _, entity := range entities {
		if entity == timeKey {
			continue
		}
		data, ok := body[entity].(map[string]any)
		if !ok {
			continue
		}

		d.sessions.RecordEntity(clientID, entity)

		reading := &telemetry.SensorReading{
			ClientID:   clientID,
			Entity:     entity,
			Data:       data,
			RecordedAt: now,
		}
		if err := d.store.RecordSensor(ctx, reading); err != nil {
			d.logger.Error("failed to store sensor reading", "client_id", clientID, "entity", entity, "error", err)
			continue
		}
		if d.metrics != nil {
			d.metrics.WriteSensorReading(clientID, entity, data, now)
		}
	}

	if d.onSensor != nil {
		d.onSensor()
	}
}

func (d *Dispatcher) handlePower(ctx context.Context, clientID string, payload []byte) {
	power, ok := telemetry.ParsePower(string(payload))
	if !ok {
		d.logger.Debug("ignoring unrecognised power payload", "client_id", clientID, "payload", string(payload))
		return
	}

	entity := d.sessions.PrimaryEntity(clientID)
	if !d.debouncer.ShouldLog(clientID, entity, power) {
		d.logger.Debug("suppressed duplicate power log", "client_id", clientID, "entity", entity, "power", power)
		return
	}

	now := d.now()
	entry := &telemetry.PowerLog{ClientID: clientID, Entity: entity, Power: power, RecordedAt: now}
	if err := d.store.RecordPowerLog(ctx, entry); err != nil {
		d.logger.Error("failed to store power log", "client_id", clientID, "entity", entity, "error", err)
	} else {
		if d.metrics != nil {
			d.metrics.WritePowerEvent(clientID, entity, string(power), now)
		}
		d.broadcast(EventPowerLogged, entry)
	}

	d.upsertPower(ctx, clientID, entity, power, now)
}

func (d *Dispatcher) handleResult(ctx context.Context, clientID string, payload []byte) {
	power, ok := telemetry.PowerFromJSON(payload)
	if !ok {
		return
	}
	d.upsertPower(ctx, clientID, d.sessions.PrimaryEntity(clientID), power, d.now())
}

func (d *Dispatcher) handleLastWill(ctx context.Context, clientID string, payload []byte) {
	msg := strings.TrimSpace(string(payload))

	var conn telemetry.Connectivity
	switch strings.ToLower(msg) {
	case lwtOnline:
		conn = telemetry.Connected
	case lwtOffline:
		conn = telemetry.Disconnected
	default:
		d.logger.Debug("ignoring unrecognised LWT payload", "client_id", clientID, "payload", msg)
		return
	}

	entity := d.sessions.PrimaryEntity(clientID)
	now := d.now()
	if err := d.store.UpsertConnectivity(ctx, clientID, entity, conn, msg, now); err != nil {
		d.logger.Error("failed to update connectivity", "client_id", clientID, "entity", entity, "error", err)
		return
	}
	d.broadcast(EventDeviceStatus, StatusEvent{ClientID: clientID, Entity: entity, Connectivity: conn, At: now})
}

func (d *Dispatcher) upsertPower(ctx context.Context, clientID, entity string, power telemetry.Power, at time.Time) {
	if err := d.store.UpsertPower(ctx, clientID, entity, power, telemetry.Connected, at); err != nil {
		d.logger.Error("failed to update device status", "client_id", clientID, "entity", entity, "error", err)
		return
	}
	d.broadcast(EventDeviceStatus, StatusEvent{
		ClientID:     clientID,
		Entity:       entity,
		Power:        power,
		Connectivity: telemetry.Connected,
		At:           at,
	})
}

func (d *Dispatcher) broadcast(event string, payload any) {
	if d.events != nil {
		d.events.Broadcast(event, payload)
	}
}

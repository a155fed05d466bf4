package command

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/fieldlink-core/internal/device"
	"github.com/nerrad567/fieldlink-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/fieldlink-core/internal/telemetry"
)

const (
	// DefaultTimeout is how long a command waits for the device to answer.
	DefaultTimeout = 5 * time.Second

	payloadToggle = "TOGGLE"

	// replyEchoWindow is how long after a reply its copy on the sibling
	// reply topic is still recognised. Tasmota publishes both back to back.
	replyEchoWindow = 500 * time.Millisecond
)

// Logger defines the logging interface used by the Correlator.
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

// Transport is the MQTT surface the correlator needs.
type Transport interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// DeviceLookup resolves a (client, entity) to its registration.
type DeviceLookup interface {
	FindDevice(ctx context.Context, clientID, entity string) (*device.Device, error)
}

// Response is what a device answered to a command.
type Response struct {
	DeviceID string `json:"device_id"`
	ClientID string `json:"client_id"`
	Entity   string `json:"entity"`
	Topic    string `json:"topic"`
	Payload  string `json:"payload"`

	// Power is the reported relay state, empty if the payload carried none.
	Power      telemetry.Power `json:"power,omitempty"`
	ReceivedAt time.Time       `json:"received_at"`
}

// Correlator publishes power commands and waits for the matching reply on
// stat/<id>/RESULT or stat/<id>/POWER.
//
// Each call owns a pending entry that is finished exactly once, by the first
// of: a reply, the timeout, a publish failure or ctx cancellation. Reply
// subscriptions are reference counted per topic, so concurrent commands to
// one device share them and the last caller out unsubscribes.
//
// A device answers one command on both reply topics. The second copy is
// absorbed so it never resolves a later command, and explicit ON/OFF
// commands only accept a reply reporting the requested state.
type Correlator struct {
	transport Transport
	devices   DeviceLookup
	timeout   time.Duration
	qos       byte
	logger    Logger
	now       func() time.Time

	mu      sync.Mutex
	waiters map[string][]*pending // by client ID, oldest first
	echoes  map[string]*echo      // by client ID, last delivered reply
	nextID  uint64

	subMu sync.Mutex
	subs  map[string]int // response topic -> reference count
}

// NewCorrelator creates a correlator. A non-positive timeout uses DefaultTimeout.
func NewCorrelator(transport Transport, devices DeviceLookup, timeout time.Duration, qos byte) *Correlator {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Correlator{
		transport: transport,
		devices:   devices,
		timeout:   timeout,
		qos:       qos,
		logger:    noopLogger{},
		now:       time.Now,
		waiters:   make(map[string][]*pending),
		echoes:    make(map[string]*echo),
		subs:      make(map[string]int),
	}
}

// SetLogger sets the logger.
func (c *Correlator) SetLogger(logger Logger) {
	c.logger = logger
}

// SendCommand toggles the relay behind (clientID, entity) and returns the
// device's reply.
func (c *Correlator) SendCommand(ctx context.Context, clientID, entity string) (*Response, error) {
	dev, err := c.lookup(ctx, clientID, entity)
	if err != nil {
		return nil, err
	}
	return c.send(ctx, dev, payloadToggle, "")
}

// SendPower switches the relay behind (clientID, entity) to power.
func (c *Correlator) SendPower(ctx context.Context, clientID, entity string, power telemetry.Power) (*Response, error) {
	word := power.Wire()
	if word == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAction, power)
	}
	dev, err := c.lookup(ctx, clientID, entity)
	if err != nil {
		return nil, err
	}
	return c.send(ctx, dev, word, power)
}

// Pending returns the number of commands awaiting a reply.
func (c *Correlator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, ws := range c.waiters {
		n += len(ws)
	}
	return n
}

func (c *Correlator) lookup(ctx context.Context, clientID, entity string) (*device.Device, error) {
	dev, err := c.devices.FindDevice(ctx, clientID, entity)
	if err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			return nil, fmt.Errorf("%w: %s/%s", ErrNoDevice, clientID, entity)
		}
		return nil, fmt.Errorf("looking up device: %w", err)
	}
	return dev, nil
}

// send publishes payload and waits for the reply. want is the power the
// reply must report, empty for a toggle.
func (c *Correlator) send(ctx context.Context, dev *device.Device, payload string, want telemetry.Power) (*Response, error) {
	topics := mqtt.Topics{}
	replyTopics := topics.PowerResponses(dev.ClientID)

	var acquired []string
	defer func() {
		for _, t := range acquired {
			c.release(t)
		}
	}()

	p := c.register(dev, want)
	defer c.unregister(p)

	for _, t := range replyTopics {
		if err := c.acquire(t, dev.ClientID); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
		}
		acquired = append(acquired, t)
	}

	cmdTopic := topics.Command(dev.ClientID, mqtt.CommandPower)
	if err := c.transport.Publish(cmdTopic, []byte(payload), c.qos, false); err != nil {
		p.finish(nil, fmt.Errorf("%w: %w", ErrPublishFailed, err))
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case <-p.done:
	case <-timer.C:
		p.finish(nil, ErrNoResponse)
	case <-ctx.Done():
		p.finish(nil, ctx.Err())
	}

	// A reply may have won the race against the timer.
	<-p.done
	if p.err != nil {
		c.logger.Warn("command failed", "client_id", dev.ClientID, "entity", dev.Entity, "payload", payload, "error", p.err)
		return nil, p.err
	}
	c.logger.Debug("command answered", "client_id", dev.ClientID, "entity", dev.Entity, "payload", payload, "reply", p.resp.Payload)
	return p.resp, nil
}

// deliver hands a reply to the oldest pending command for clientID that it
// can answer. Sibling-topic copies of the previous reply and replies no
// pending command accepts are dropped.
func (c *Correlator) deliver(clientID, topic string, payload []byte) {
	power, _ := telemetry.ParsePowerPayload(payload)
	now := c.now()

	c.mu.Lock()
	if c.absorbEchoLocked(clientID, topic, power, now) {
		c.mu.Unlock()
		c.logger.Debug("dropping duplicate reply", "client_id", clientID, "topic", topic)
		return
	}
	p := c.matchLocked(clientID, power)
	if p == nil {
		c.mu.Unlock()
		c.logger.Debug("dropping reply with no matching command", "client_id", clientID, "topic", topic)
		return
	}
	c.removeLocked(p)
	c.recordEchoLocked(clientID, topic, power, now)
	c.mu.Unlock()

	p.finish(&Response{
		DeviceID:   p.deviceID,
		ClientID:   clientID,
		Entity:     p.entity,
		Topic:      topic,
		Payload:    string(payload),
		Power:      power,
		ReceivedAt: now,
	}, nil)
}

// matchLocked returns the oldest waiter that accepts a reply reporting power.
func (c *Correlator) matchLocked(clientID string, power telemetry.Power) *pending {
	for _, w := range c.waiters[clientID] {
		if w.want == "" || power == "" || w.want == power {
			return w
		}
	}
	return nil
}

// absorbEchoLocked reports whether a reply is the sibling-topic copy of the
// last reply delivered for clientID, and marks the topic as seen if so.
func (c *Correlator) absorbEchoLocked(clientID, topic string, power telemetry.Power, now time.Time) bool {
	e, ok := c.echoes[clientID]
	if !ok {
		return false
	}
	if now.Sub(e.at) > replyEchoWindow {
		delete(c.echoes, clientID)
		return false
	}
	if _, seen := e.topics[topic]; seen {
		return false
	}
	if power != "" && e.power != "" && power != e.power {
		return false
	}
	e.topics[topic] = struct{}{}
	return true
}

func (c *Correlator) recordEchoLocked(clientID, topic string, power telemetry.Power, now time.Time) {
	for id, e := range c.echoes {
		if now.Sub(e.at) > replyEchoWindow {
			delete(c.echoes, id)
		}
	}
	c.echoes[clientID] = &echo{
		topics: map[string]struct{}{topic: {}},
		power:  power,
		at:     now,
	}
}

func (c *Correlator) register(dev *device.Device, want telemetry.Power) *pending {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	p := &pending{
		id:       c.nextID,
		deviceID: dev.ID,
		clientID: dev.ClientID,
		entity:   dev.Entity,
		want:     want,
		done:     make(chan struct{}),
	}
	c.waiters[dev.ClientID] = append(c.waiters[dev.ClientID], p)
	return p
}

func (c *Correlator) unregister(p *pending) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removeLocked(p)
}

func (c *Correlator) removeLocked(p *pending) {
	ws := c.waiters[p.clientID]
	for i, w := range ws {
		if w == p {
			ws = append(ws[:i], ws[i+1:]...)
			break
		}
	}
	if len(ws) == 0 {
		delete(c.waiters, p.clientID)
		return
	}
	c.waiters[p.clientID] = ws
}

// acquire subscribes to topic on first use. Subscription changes are
// serialised by subMu, which reply handlers never take.
func (c *Correlator) acquire(topic, clientID string) error {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	if c.subs[topic] > 0 {
		c.subs[topic]++
		return nil
	}

	err := c.transport.Subscribe(topic, c.qos, func(t string, payload []byte) error {
		c.deliver(clientID, t, payload)
		return nil
	})
	if err != nil {
		return err
	}
	c.subs[topic] = 1
	return nil
}

func (c *Correlator) release(topic string) {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	c.subs[topic]--
	if c.subs[topic] > 0 {
		return
	}
	delete(c.subs, topic)
	if err := c.transport.Unsubscribe(topic); err != nil {
		c.logger.Warn("failed to unsubscribe reply topic", "topic", topic, "error", err)
	}
}

// pending is one in-flight command. finish moves it out of the pending
// state exactly once; later calls are ignored.
type pending struct {
	id       uint64
	deviceID string
	clientID string
	entity   string
	want     telemetry.Power

	once sync.Once
	done chan struct{}
	resp *Response
	err  error
}

func (p *pending) finish(resp *Response, err error) {
	p.once.Do(func() {
		p.resp = resp
		p.err = err
		close(p.done)
	})
}

// echo is the last reply delivered for a device, kept briefly so its copy
// on the other reply topic can be recognised.
type echo struct {
	topics map[string]struct{}
	power  telemetry.Power
	at     time.Time
}

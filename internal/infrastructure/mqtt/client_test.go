package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/fieldlink-core/internal/infrastructure/config"
)

func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: "fieldlink-test",
		},
		QoS: 1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
	}
}

// newTestClient returns a Client bound to an in-memory paho fake.
func newTestClient(t *testing.T) (*Client, *fakePaho) {
	t.Helper()
	fake := newFakePaho()
	c := newClient(testConfig())
	c.client = fake
	c.setConnected(true)
	return c, fake
}

type recordingLogger struct {
	mu     sync.Mutex
	infos  []string
	warns  []string
	errors []string
}

func (l *recordingLogger) Info(msg string, _ ...any) {
	l.mu.Lock()
	l.infos = append(l.infos, msg)
	l.mu.Unlock()
}

func (l *recordingLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	l.warns = append(l.warns, msg)
	l.mu.Unlock()
}

func (l *recordingLogger) Error(msg string, _ ...any) {
	l.mu.Lock()
	l.errors = append(l.errors, msg)
	l.mu.Unlock()
}

func TestPublish(t *testing.T) {
	c, fake := newTestClient(t)

	if err := c.Publish("cmnd/sonoff_1/POWER", []byte("TOGGLE"), 1, false); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	got, ok := fake.lastPublished()
	if !ok {
		t.Fatal("nothing published")
	}
	if got.topic != "cmnd/sonoff_1/POWER" || string(got.payload) != "TOGGLE" || got.retained {
		t.Errorf("published %+v, want TOGGLE on cmnd/sonoff_1/POWER", got)
	}
}

func TestPublish_Validation(t *testing.T) {
	c, _ := newTestClient(t)

	tests := []struct {
		name    string
		topic   string
		payload []byte
		qos     byte
		wantErr error
	}{
		{"empty topic", "", []byte("x"), 1, ErrInvalidTopic},
		{"invalid qos", "a/b", []byte("x"), 3, ErrInvalidQoS},
		{"payload too large", "a/b", make([]byte, maxPayloadSize+1), 1, ErrPublishFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := c.Publish(tt.topic, tt.payload, tt.qos, false)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Publish() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestPublish_BrokerError(t *testing.T) {
	c, fake := newTestClient(t)
	fake.publishErr = errors.New("broker said no")

	err := c.PublishString("cmnd/x/POWER", "ON", 1, false)
	if !errors.Is(err, ErrPublishFailed) {
		t.Errorf("Publish() error = %v, want ErrPublishFailed", err)
	}
}

func TestPublish_Disconnected(t *testing.T) {
	c, _ := newTestClient(t)
	c.setConnected(false)

	if err := c.PublishString("a/b", "x", 1, false); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Publish() error = %v, want ErrNotConnected", err)
	}
}

func TestSubscribe_DeliversMessages(t *testing.T) {
	c, fake := newTestClient(t)

	var gotTopic, gotPayload string
	err := c.Subscribe("stat/sonoff_1/POWER", 1, func(topic string, payload []byte) error {
		gotTopic, gotPayload = topic, string(payload)
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if !c.HasSubscription("stat/sonoff_1/POWER") {
		t.Error("HasSubscription() = false after Subscribe")
	}

	fake.deliver("stat/sonoff_1/POWER", []byte("ON"))
	if gotTopic != "stat/sonoff_1/POWER" || gotPayload != "ON" {
		t.Errorf("handler got (%q, %q)", gotTopic, gotPayload)
	}
}

func TestSubscribe_Validation(t *testing.T) {
	c, _ := newTestClient(t)
	noop := func(string, []byte) error { return nil }

	if err := c.Subscribe("", 1, noop); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("empty topic error = %v", err)
	}
	if err := c.Subscribe("a/b", 3, noop); !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("invalid qos error = %v", err)
	}
	if err := c.Subscribe("a/b", 1, nil); !errors.Is(err, ErrSubscribeFailed) {
		t.Errorf("nil handler error = %v", err)
	}

	c.setConnected(false)
	if err := c.Subscribe("a/b", 1, noop); !errors.Is(err, ErrNotConnected) {
		t.Errorf("disconnected error = %v", err)
	}
}

func TestSubscribe_BrokerErrorNotTracked(t *testing.T) {
	c, fake := newTestClient(t)
	fake.subscribeErr = errors.New("acl denied")

	err := c.Subscribe("tele/+/SENSOR", 1, func(string, []byte) error { return nil })
	if !errors.Is(err, ErrSubscribeFailed) {
		t.Fatalf("Subscribe() error = %v, want ErrSubscribeFailed", err)
	}
	if c.SubscriptionCount() != 0 {
		t.Errorf("SubscriptionCount() = %d, want 0 after failed subscribe", c.SubscriptionCount())
	}
}

func TestBrokerAckTimeout(t *testing.T) {
	noop := func(string, []byte) error { return nil }
	tests := []struct {
		name    string
		call    func(c *Client) error
		wantErr error
	}{
		{"publish", func(c *Client) error { return c.Publish("cmnd/sonoff_1/POWER", []byte("ON"), 1, false) }, ErrPublishFailed},
		{"subscribe", func(c *Client) error { return c.Subscribe("stat/sonoff_1/RESULT", 1, noop) }, ErrSubscribeFailed},
		{"unsubscribe", func(c *Client) error { return c.Unsubscribe("stat/sonoff_1/RESULT") }, ErrUnsubscribeFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, fake := newTestClient(t)
			fake.stall = true

			err := tt.call(c)
			if !errors.Is(err, ErrTimeout) || !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v wrapping ErrTimeout", err, tt.wantErr)
			}
		})
	}

	c, fake := newTestClient(t)
	fake.stall = true
	if err := c.Subscribe("tele/+/LWT", 1, noop); err == nil {
		t.Fatal("stalled Subscribe() error = nil")
	}
	if c.HasSubscription("tele/+/LWT") {
		t.Error("timed out subscription still tracked")
	}
}

func TestUnsubscribe(t *testing.T) {
	c, fake := newTestClient(t)

	topic := "stat/sonoff_1/RESULT"
	if err := c.Subscribe(topic, 1, func(string, []byte) error { return nil }); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if err := c.Unsubscribe(topic); err != nil {
		t.Fatalf("Unsubscribe() error = %v", err)
	}
	if c.HasSubscription(topic) {
		t.Error("subscription still tracked after Unsubscribe")
	}
	if fake.deliver(topic, []byte("{}")) {
		t.Error("message delivered after Unsubscribe")
	}

	if err := c.Unsubscribe(""); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Unsubscribe(\"\") error = %v", err)
	}
}

func TestUnsubscribe_DisconnectedStillForgets(t *testing.T) {
	c, _ := newTestClient(t)
	topic := "stat/x/POWER"
	if err := c.Subscribe(topic, 1, func(string, []byte) error { return nil }); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	c.setConnected(false)

	if err := c.Unsubscribe(topic); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Unsubscribe() error = %v, want ErrNotConnected", err)
	}
	if c.HasSubscription(topic) {
		t.Error("subscription would be restored on reconnect")
	}
}

func TestHandlerPanicRecovered(t *testing.T) {
	c, fake := newTestClient(t)
	logger := &recordingLogger{}
	c.SetLogger(logger)

	if err := c.Subscribe("tele/x/SENSOR", 1, func(string, []byte) error { panic("boom") }); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	fake.deliver("tele/x/SENSOR", []byte("{}"))

	if len(logger.errors) != 1 {
		t.Errorf("logged errors = %v, want one panic entry", logger.errors)
	}
}

func TestHandlerErrorLogged(t *testing.T) {
	c, fake := newTestClient(t)
	logger := &recordingLogger{}
	c.SetLogger(logger)

	if err := c.Subscribe("tele/x/LWT", 1, func(string, []byte) error { return errors.New("bad") }); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	fake.deliver("tele/x/LWT", []byte("Online"))

	if len(logger.warns) != 1 {
		t.Errorf("logged warnings = %v, want one", logger.warns)
	}
}

func TestHandleConnect_RestoresAndAnnounces(t *testing.T) {
	c, fake := newTestClient(t)
	if err := c.Subscribe("tele/+/SENSOR", 1, func(string, []byte) error { return nil }); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	// Simulate the broker dropping the session.
	fake.mu.Lock()
	fake.handlers = make(map[string]pahomqtt.MessageHandler)
	fake.mu.Unlock()

	called := false
	c.SetOnConnect(func() { called = true })
	c.handleConnect()

	if !fake.deliver("tele/+/SENSOR", []byte("{}")) {
		t.Error("subscription not restored on reconnect")
	}
	if !called {
		t.Error("OnConnect callback not invoked")
	}

	statusTopic := Topics{}.ServiceStatus()
	got, ok := fake.lastPublished()
	if !ok || got.topic != statusTopic || !got.retained {
		t.Fatalf("last publish = %+v, want retained service status", got)
	}
	var status statusPayload
	if err := json.Unmarshal(got.payload, &status); err != nil {
		t.Fatalf("status payload not JSON: %v", err)
	}
	if status.Status != statusOnline || status.ClientID != "fieldlink-test" {
		t.Errorf("status = %+v, want online for fieldlink-test", status)
	}
}

func TestHandleDisconnect(t *testing.T) {
	c, _ := newTestClient(t)

	var gotErr error
	c.SetOnDisconnect(func(err error) { gotErr = err })
	c.handleDisconnect(errors.New("network down"))

	if c.IsConnected() {
		t.Error("IsConnected() = true after disconnect")
	}
	if gotErr == nil || !strings.Contains(gotErr.Error(), "network down") {
		t.Errorf("OnDisconnect error = %v", gotErr)
	}
	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}
}

func TestHealthCheck(t *testing.T) {
	c, _ := newTestClient(t)

	if err := c.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.HealthCheck(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("HealthCheck(cancelled) error = %v, want context.Canceled", err)
	}
}

func TestClose(t *testing.T) {
	c, fake := newTestClient(t)

	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if !fake.disconnected {
		t.Error("paho client not disconnected")
	}
	got, _ := fake.lastPublished()
	var status statusPayload
	if err := json.Unmarshal(got.payload, &status); err != nil {
		t.Fatalf("status payload not JSON: %v", err)
	}
	if status.Status != statusOffline || status.Reason != reasonGraceful {
		t.Errorf("status = %+v, want graceful offline", status)
	}

	var nilClient Client
	if err := nilClient.Close(); err != nil {
		t.Errorf("Close() on unconnected client error = %v", err)
	}
}

func TestBuildClientOptions(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.TLS = true
	cfg.Auth.Username = "fieldlink"
	cfg.Auth.Password = "secret"

	opts := buildClientOptions(cfg)

	if len(opts.Servers) != 1 || opts.Servers[0].String() != "ssl://127.0.0.1:1883" {
		t.Errorf("Servers = %v, want ssl://127.0.0.1:1883", opts.Servers)
	}
	if opts.Username != "fieldlink" || opts.Password != "secret" {
		t.Errorf("credentials not applied: %q/%q", opts.Username, opts.Password)
	}
	if opts.TLSConfig == nil || opts.TLSConfig.MinVersion != tlsMinVersion {
		t.Error("TLS config not applied")
	}
	if !opts.AutoReconnect || !opts.CleanSession {
		t.Error("expected auto-reconnect and clean session")
	}
}

func TestConfigureLWT(t *testing.T) {
	opts := buildClientOptions(testConfig())
	configureLWT(opts, "fieldlink-test")

	if !opts.WillEnabled || opts.WillTopic != "fieldlink/status" || !opts.WillRetained {
		t.Errorf("will = enabled:%v topic:%q retained:%v", opts.WillEnabled, opts.WillTopic, opts.WillRetained)
	}
	var status statusPayload
	if err := json.Unmarshal(opts.WillPayload, &status); err != nil {
		t.Fatalf("will payload not JSON: %v", err)
	}
	if status.Status != statusOffline || status.Reason != reasonUnexpected {
		t.Errorf("will status = %+v", status)
	}
}

//go:build integration

package mqtt

import (
	"errors"
	"testing"
	"time"
)

// These tests require a running MQTT broker at 127.0.0.1:1883.
//
//	go test -tags=integration -count=1 ./internal/infrastructure/mqtt/...

func TestIntegration_ConnectAndClose(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.ClientID = "fieldlink-int-connect"

	client, err := Connect(cfg)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if !client.IsConnected() {
		t.Error("IsConnected() = false after Connect")
	}
	if err := client.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if client.IsConnected() {
		t.Error("IsConnected() = true after Close")
	}
}

func TestIntegration_ConnectRefused(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.Port = 19999

	_, err := Connect(cfg)
	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestIntegration_PowerRoundtrip(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.ClientID = "fieldlink-int-roundtrip"

	client, err := Connect(cfg)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	received := make(chan string, 1)
	topic := Topics{}.Stat("fieldlink_itest", SuffixPower)
	if err := client.Subscribe(Topics{}.Stat(SingleLevelAny, SuffixPower), 1, func(got string, payload []byte) error {
		if got == topic {
			received <- string(payload)
		}
		return nil
	}); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	if err := client.PublishString(topic, "ON", 1, false); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case payload := <-received:
		if payload != "ON" {
			t.Errorf("payload = %q, want ON", payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for message")
	}
}

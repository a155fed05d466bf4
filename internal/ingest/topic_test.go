package ingest

import "testing"

func TestMatch(t *testing.T) {
	tests := []struct {
		topic string
		want  Event
	}{
		{"tele/VIOT_1A2B/SENSOR", Event{Kind: KindSensor, ClientID: "VIOT_1A2B"}},
		{"tele/sonoff_44/STATE", Event{Kind: KindState, ClientID: "sonoff_44"}},
		{"tele/sonoff_44/LWT", Event{Kind: KindLastWill, ClientID: "sonoff_44"}},
		{"stat/sonoff_44/POWER", Event{Kind: KindPower, ClientID: "sonoff_44"}},
		{"stat/sonoff_44/RESULT", Event{Kind: KindResult, ClientID: "sonoff_44"}},

		// Unmatched
		{"tele/sonoff_44/POWER", Event{}},
		{"stat/sonoff_44/SENSOR", Event{}},
		{"cmnd/sonoff_44/POWER", Event{}},
		{"tele//SENSOR", Event{}},
		{"tele/a/b/SENSOR", Event{}},
		{"tele/sonoff_44/sensor", Event{}},
		{"tele/sonoff_44/SENSOR/extra", Event{}},
		{"fieldlink/status", Event{}},
		{"", Event{}},
	}
	for _, tt := range tests {
		t.Run(tt.topic, func(t *testing.T) {
			if got := Match(tt.topic); got != tt.want {
				t.Errorf("Match(%q) = %+v, want %+v", tt.topic, got, tt.want)
			}
		})
	}
}

func TestKindString(t *testing.T) {
	if KindSensor.String() != "SENSOR" || KindUnmatched.String() != "unmatched" {
		t.Errorf("unexpected Kind strings: %s, %s", KindSensor, KindUnmatched)
	}
}

func TestInferType(t *testing.T) {
	tests := []struct {
		name     string
		clientID string
		username string
		want     string
	}{
		{"viot prefix", "VIOT_1A2B", "", "th"},
		{"tasmota prefix", "tasmota_5C3F", "", "bridge"},
		{"sonoff prefix", "sonoff_44", "", "sonoff"},
		{"prefix wins over username", "sonoff_44", "site_TH_07", "sonoff"},
		{"username fallback", "kitchen", "site_TH_07", "th"},
		{"username without tag", "kitchen", "plainuser", ""},
		{"unknown", "kitchen", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := InferType(tt.clientID, tt.username); got != tt.want {
				t.Errorf("InferType(%q, %q) = %q, want %q", tt.clientID, tt.username, got, tt.want)
			}
		})
	}
}

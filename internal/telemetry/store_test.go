package telemetry

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/nerrad567/fieldlink-core/internal/infrastructure/database"
	"github.com/nerrad567/fieldlink-core/migrations"
)

func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	ctx := context.Background()
	db, err := database.Open(ctx, database.Config{
		Path:        filepath.Join(t.TempDir(), "telemetry.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup

	if err := db.Migrate(ctx, migrations.FS); err != nil {
		t.Fatalf("migrating database: %v", err)
	}
	return NewSQLiteStore(db.DB)
}

func TestParsePower(t *testing.T) {
	tests := []struct {
		in     string
		want   Power
		wantOK bool
	}{
		{"ON", PowerOn, true},
		{"OFF", PowerOff, true},
		{"on", "", false},
		{"Off", "", false},
		{" ON", "", false},
		{"TOGGLE", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParsePower(tt.in)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("ParsePower(%q) = (%q, %v), want (%q, %v)", tt.in, got, ok, tt.want, tt.wantOK)
			}
		})
	}

	if PowerOn.Wire() != "ON" || PowerOff.Wire() != "OFF" || PowerUnknown.Wire() != "" {
		t.Error("Wire() mismatch")
	}
}

func TestSQLiteStore_UpsertPowerKeepsOneRow(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)
	t0 := time.Date(2026, 3, 1, 7, 30, 0, 0, time.UTC)

	if err := s.UpsertPower(ctx, "sonoff_44", "main", PowerOn, Connected, t0); err != nil {
		t.Fatalf("UpsertPower() error = %v", err)
	}
	if err := s.UpsertPower(ctx, "sonoff_44", "main", PowerOff, Connected, t0.Add(time.Second)); err != nil {
		t.Fatalf("UpsertPower() error = %v", err)
	}

	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM device_status`).Scan(&n); err != nil {
		t.Fatalf("counting rows: %v", err)
	}
	if n != 1 {
		t.Errorf("device_status rows = %d, want 1", n)
	}

	st, err := s.GetStatus(ctx, "sonoff_44", "main")
	if err != nil {
		t.Fatalf("GetStatus() error = %v", err)
	}
	if st.Power != PowerOff || st.Connectivity != Connected {
		t.Errorf("status = %+v, want off/connected", st)
	}
	if !st.UpdatedAt.Equal(t0.Add(time.Second)) {
		t.Errorf("UpdatedAt = %v, want %v", st.UpdatedAt, t0.Add(time.Second))
	}
}

func TestSQLiteStore_UpsertConnectivityPreservesPower(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)
	now := time.Now()

	// A fresh row starts unknown.
	if err := s.UpsertConnectivity(ctx, "sonoff_44", "main", Connected, "Online", now); err != nil {
		t.Fatalf("UpsertConnectivity() error = %v", err)
	}
	st, err := s.GetStatus(ctx, "sonoff_44", "main")
	if err != nil {
		t.Fatalf("GetStatus() error = %v", err)
	}
	if st.Power != PowerUnknown {
		t.Errorf("Power = %q, want unknown", st.Power)
	}

	if err := s.UpsertPower(ctx, "sonoff_44", "main", PowerOn, Connected, now); err != nil {
		t.Fatalf("UpsertPower() error = %v", err)
	}
	if err := s.UpsertConnectivity(ctx, "sonoff_44", "main", Disconnected, "Offline", now); err != nil {
		t.Fatalf("UpsertConnectivity() error = %v", err)
	}

	st, err = s.GetStatus(ctx, "sonoff_44", "main")
	if err != nil {
		t.Fatalf("GetStatus() error = %v", err)
	}
	if st.Power != PowerOn || st.Connectivity != Disconnected || st.Message != "Offline" {
		t.Errorf("status = %+v, want on/disconnected/Offline", st)
	}
}

func TestSQLiteStore_RejectsInvalidPower(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)

	if err := s.UpsertPower(ctx, "c", "e", Power("ON"), Connected, time.Now()); !errors.Is(err, ErrInvalidPower) {
		t.Errorf("UpsertPower() error = %v, want ErrInvalidPower", err)
	}
	if err := s.RecordPowerLog(ctx, &PowerLog{ClientID: "c", Entity: "e", Power: PowerUnknown}); !errors.Is(err, ErrInvalidPower) {
		t.Errorf("RecordPowerLog() error = %v, want ErrInvalidPower", err)
	}
}

func TestSQLiteStore_SensorReadings(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)

	got, err := s.LatestSensor(ctx, "VIOT_1A2B", "SI7021")
	if err != nil || got != nil {
		t.Fatalf("LatestSensor() on empty = (%v, %v), want (nil, nil)", got, err)
	}

	first := &SensorReading{ClientID: "VIOT_1A2B", Entity: "SI7021", Data: map[string]any{"Temperature": 21.5}}
	second := &SensorReading{ClientID: "VIOT_1A2B", Entity: "SI7021", Data: map[string]any{"Temperature": 22.0, "Humidity": 40.0}}
	for _, r := range []*SensorReading{first, second} {
		if err := s.RecordSensor(ctx, r); err != nil {
			t.Fatalf("RecordSensor() error = %v", err)
		}
	}
	if second.ID <= first.ID {
		t.Errorf("IDs not increasing: %d, %d", first.ID, second.ID)
	}

	got, err = s.LatestSensor(ctx, "VIOT_1A2B", "SI7021")
	if err != nil {
		t.Fatalf("LatestSensor() error = %v", err)
	}
	if got.ID != second.ID {
		t.Errorf("LatestSensor() ID = %d, want %d", got.ID, second.ID)
	}
	if got.Data["Humidity"] != 40.0 || got.Data["Temperature"] != 22.0 {
		t.Errorf("LatestSensor() data = %v", got.Data)
	}
}

func TestSQLiteStore_ListPowerLogs(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)

	for i := range 120 {
		client := "sonoff_a"
		if i%2 == 1 {
			client = "sonoff_b"
		}
		power := PowerOn
		if i%3 == 0 {
			power = PowerOff
		}
		if err := s.RecordPowerLog(ctx, &PowerLog{ClientID: client, Entity: "main", Power: power}); err != nil {
			t.Fatalf("RecordPowerLog() error = %v", err)
		}
	}

	t.Run("all capped at 100 newest first", func(t *testing.T) {
		logs, err := s.ListPowerLogs(ctx, nil, 500)
		if err != nil {
			t.Fatalf("ListPowerLogs() error = %v", err)
		}
		if len(logs) != 100 {
			t.Fatalf("len = %d, want 100", len(logs))
		}
		for i := 1; i < len(logs); i++ {
			if logs[i].ID >= logs[i-1].ID {
				t.Fatalf("logs not newest first at %d", i)
			}
		}
	})

	t.Run("filtered by client", func(t *testing.T) {
		logs, err := s.ListPowerLogs(ctx, []string{"sonoff_b"}, 10)
		if err != nil {
			t.Fatalf("ListPowerLogs() error = %v", err)
		}
		if len(logs) != 10 {
			t.Fatalf("len = %d, want 10", len(logs))
		}
		for _, l := range logs {
			if l.ClientID != "sonoff_b" {
				t.Errorf("ClientID = %q, want sonoff_b", l.ClientID)
			}
		}
	})

	t.Run("empty filter matches nothing", func(t *testing.T) {
		logs, err := s.ListPowerLogs(ctx, []string{}, 10)
		if err != nil {
			t.Fatalf("ListPowerLogs() error = %v", err)
		}
		if len(logs) != 0 {
			t.Errorf("len = %d, want 0", len(logs))
		}
	})
}

func TestPowerFromJSON(t *testing.T) {
	tests := []struct {
		payload string
		want    Power
		ok      bool
	}{
		{`{"POWER":"ON"}`, PowerOn, true},
		{`{"POWER1":"OFF"}`, PowerOff, true},
		{`{"POWER":"","POWER1":"ON"}`, PowerOn, true},
		{`{"POWER":1}`, "", false},
		{`{}`, "", false},
		{`OFF`, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.payload, func(t *testing.T) {
			got, ok := PowerFromJSON([]byte(tt.payload))
			if got != tt.want || ok != tt.ok {
				t.Errorf("PowerFromJSON(%s) = (%q, %v), want (%q, %v)", tt.payload, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestParsePowerPayload(t *testing.T) {
	tests := []struct {
		payload string
		want    Power
		ok      bool
	}{
		{`{"POWER":"ON"}`, PowerOn, true},
		{`OFF`, PowerOff, true},
		{"ON\n", PowerOn, true},
		{`on`, "", false},
		{`{"Dimmer":10}`, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.payload, func(t *testing.T) {
			got, ok := ParsePowerPayload([]byte(tt.payload))
			if got != tt.want || ok != tt.ok {
				t.Errorf("ParsePowerPayload(%q) = (%q, %v), want (%q, %v)", tt.payload, got, ok, tt.want, tt.ok)
			}
		})
	}
}

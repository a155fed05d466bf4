package migrations

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/nerrad567/fieldlink-core/internal/infrastructure/database"
)

func TestMigrations_ApplyAndRollBack(t *testing.T) {
	ctx := context.Background()
	db, err := database.Open(ctx, database.Config{Path: filepath.Join(t.TempDir(), "m.db"), BusyTimeout: 5})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer db.Close() //nolint:errcheck // Test cleanup

	if err := db.Migrate(ctx, FS); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	for _, table := range []string{"devices", "device_owners", "device_status", "sensor_readings", "power_logs", "automation_rules", "automation_logs"} {
		var n int
		if err := db.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&n); err != nil {
			t.Fatalf("querying sqlite_master: %v", err)
		}
		if n != 1 {
			t.Errorf("table %s missing after migrate", table)
		}
	}

	migrations, err := database.LoadMigrations(FS)
	if err != nil {
		t.Fatalf("LoadMigrations() error = %v", err)
	}
	for range migrations {
		if err := db.MigrateDown(ctx, FS); err != nil {
			t.Fatalf("MigrateDown() error = %v", err)
		}
	}

	_, pending, err := db.GetMigrationStatus(ctx, FS)
	if err != nil {
		t.Fatalf("GetMigrationStatus() error = %v", err)
	}
	if len(pending) != len(migrations) {
		t.Errorf("pending = %d after full rollback, want %d", len(pending), len(migrations))
	}
}

package device

import (
	"context"
	"errors"
	"path/filepath"
	"sort"
	"testing"

	"github.com/nerrad567/fieldlink-core/internal/infrastructure/database"
	"github.com/nerrad567/fieldlink-core/migrations"
)

// setupTestDB opens a migrated SQLite database in a temp directory.
func setupTestDB(t *testing.T) *database.DB {
	t.Helper()

	ctx := context.Background()
	db, err := database.Open(ctx, database.Config{
		Path:        filepath.Join(t.TempDir(), "device.db"),
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
	return db
}

func newTestDevice(clientID, entity string) *Device {
	return &Device{
		ID:       GenerateID(),
		ClientID: clientID,
		Entity:   entity,
		Type:     TypeBridge,
	}
}

func TestSQLiteRepository_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	repo := NewSQLiteRepository(setupTestDB(t).DB)

	d := newTestDevice("VIOT_1A2B", "SI7021")
	if err := repo.Create(ctx, d); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	got, err := repo.GetByID(ctx, d.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.ClientID != "VIOT_1A2B" || got.Entity != "SI7021" || got.Type != TypeBridge {
		t.Errorf("GetByID() = %+v", got)
	}
	if got.CreatedAt.IsZero() {
		t.Error("CreatedAt should be set")
	}

	byKey, err := repo.FindByKey(ctx, "VIOT_1A2B", "SI7021")
	if err != nil {
		t.Fatalf("FindByKey() error = %v", err)
	}
	if byKey.ID != d.ID {
		t.Errorf("FindByKey() ID = %q, want %q", byKey.ID, d.ID)
	}
}

func TestSQLiteRepository_NotFound(t *testing.T) {
	ctx := context.Background()
	repo := NewSQLiteRepository(setupTestDB(t).DB)

	if _, err := repo.GetByID(ctx, "missing"); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("GetByID() error = %v, want ErrDeviceNotFound", err)
	}
	if _, err := repo.FindByKey(ctx, "VIOT_1A2B", "SI7021"); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("FindByKey() error = %v, want ErrDeviceNotFound", err)
	}
	if err := repo.Delete(ctx, "missing"); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("Delete() error = %v, want ErrDeviceNotFound", err)
	}
}

func TestSQLiteRepository_CreateDuplicateKey(t *testing.T) {
	ctx := context.Background()
	repo := NewSQLiteRepository(setupTestDB(t).DB)

	if err := repo.Create(ctx, newTestDevice("VIOT_1A2B", "SI7021")); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	err := repo.Create(ctx, newTestDevice("VIOT_1A2B", "SI7021"))
	if !errors.Is(err, ErrDeviceExists) {
		t.Errorf("second Create() error = %v, want ErrDeviceExists", err)
	}

	// Same client, different entity is a distinct device.
	if err := repo.Create(ctx, newTestDevice("VIOT_1A2B", "DS18B20")); err != nil {
		t.Errorf("Create() other entity error = %v", err)
	}
}

func TestSQLiteRepository_Owners(t *testing.T) {
	ctx := context.Background()
	repo := NewSQLiteRepository(setupTestDB(t).DB)

	a := newTestDevice("VIOT_1A2B", "SI7021")
	b := newTestDevice("sonoff_44", PlaceholderEntity)
	for _, d := range []*Device{a, b} {
		if err := repo.Create(ctx, d); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}

	if err := repo.AddOwner(ctx, a.ID, "user-1"); err != nil {
		t.Fatalf("AddOwner() error = %v", err)
	}
	if err := repo.AddOwner(ctx, a.ID, "user-1"); err != nil {
		t.Fatalf("AddOwner() twice error = %v", err)
	}
	if err := repo.AddOwner(ctx, a.ID, "user-2"); err != nil {
		t.Fatalf("AddOwner() error = %v", err)
	}
	if err := repo.AddOwner(ctx, "missing", "user-1"); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("AddOwner() missing device error = %v, want ErrDeviceNotFound", err)
	}

	got, err := repo.GetByID(ctx, a.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	sort.Strings(got.Owners)
	if len(got.Owners) != 2 || got.Owners[0] != "user-1" || got.Owners[1] != "user-2" {
		t.Errorf("Owners = %v, want [user-1 user-2]", got.Owners)
	}

	owned, err := repo.ListByOwner(ctx, "user-1")
	if err != nil {
		t.Fatalf("ListByOwner() error = %v", err)
	}
	if len(owned) != 1 || owned[0].ID != a.ID {
		t.Errorf("ListByOwner() = %+v, want only %s", owned, a.ID)
	}

	if err := repo.RemoveOwner(ctx, a.ID, "user-1"); err != nil {
		t.Fatalf("RemoveOwner() error = %v", err)
	}
	owned, err = repo.ListByOwner(ctx, "user-1")
	if err != nil {
		t.Fatalf("ListByOwner() error = %v", err)
	}
	if len(owned) != 0 {
		t.Errorf("ListByOwner() after removal = %d devices, want 0", len(owned))
	}
}

func TestSQLiteRepository_DeleteCascadesOwners(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db.DB)

	d := newTestDevice("VIOT_1A2B", "SI7021")
	if err := repo.Create(ctx, d); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := repo.AddOwner(ctx, d.ID, "user-1"); err != nil {
		t.Fatalf("AddOwner() error = %v", err)
	}
	if err := repo.Delete(ctx, d.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	var n int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM device_owners`).Scan(&n); err != nil {
		t.Fatalf("counting owners: %v", err)
	}
	if n != 0 {
		t.Errorf("device_owners rows = %d, want 0", n)
	}
}

func TestSQLiteRepository_List(t *testing.T) {
	ctx := context.Background()
	repo := NewSQLiteRepository(setupTestDB(t).DB)

	for _, d := range []*Device{
		newTestDevice("VIOT_B", "SI7021"),
		newTestDevice("VIOT_A", "DS18B20"),
		newTestDevice("VIOT_A", "AM2301"),
	} {
		if err := repo.Create(ctx, d); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}

	devices, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	want := []Key{{"VIOT_A", "AM2301"}, {"VIOT_A", "DS18B20"}, {"VIOT_B", "SI7021"}}
	if len(devices) != len(want) {
		t.Fatalf("List() returned %d devices, want %d", len(devices), len(want))
	}
	for i, k := range want {
		if devices[i].Key() != k {
			t.Errorf("List()[%d] = %+v, want %+v", i, devices[i].Key(), k)
		}
	}
}

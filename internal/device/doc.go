// Package device provides the Device Registry for Fieldlink Core.
//
// A device is one (client_id, entity) pair observed on the broker: a Tasmota
// client publishing tele/VIOT_1A2B/SENSOR with SI7021 and DS18B20 readings
// yields two devices. The registry is written to lazily by the ingestion
// sync sweep and read by the command correlator and the automation service.
//
// # Key Types
//
//   - Device: registered (client_id, entity) with its owners
//   - Repository: persistence interface, implemented by SQLiteRepository
//   - Registry: cached, idempotent registration and lookup
//
// # Usage
//
//	repo := device.NewSQLiteRepository(db.DB)
//	registry := device.NewRegistry(repo)
//	registry.SetLogger(log)
//	if err := registry.RefreshCache(ctx); err != nil {
//	    return err
//	}
//
//	dev, created, err := registry.Register(ctx, "VIOT_1A2B", "SI7021", device.TypeBridge)
//
// # Thread Safety
//
// Registry methods are safe for concurrent use. Returned devices are copies.
package device

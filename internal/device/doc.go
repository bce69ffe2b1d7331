// Package device provides the Device Registry for the LCN gateway.
//
// The registry is the catalogue of physical devices that integrations
// have discovered: PCHK gateways, LCN modules and LCN groups. Devices are
// keyed by integration-owned identifiers rather than by their internal ID,
// so an integration can find "its" device again after a restart without
// remembering anything but its own addressing scheme.
//
// # Architecture
//
//	┌──────────────────────────────────────────────────────────────┐
//	│                       Device Registry                        │
//	│                                                              │
//	│  ┌──────────────────┐          ┌──────────────────┐          │
//	│  │     Registry     │          │    Repository    │          │
//	│  │   (registry.go)  │─────────▶│  (repository.go) │          │
//	│  │                  │          │                  │          │
//	│  │ • GetOrCreate    │          │ • SQLite         │          │
//	│  │ • Identifier idx │          │ • Memory         │          │
//	│  └──────────────────┘          └──────────────────┘          │
//	└──────────────────────────────────────────────────────────────┘
//
// # Key Types
//
//   - Device: A registered device with its identifiers and owning config entries
//   - Identifier: (domain, id) pair assigned by an integration
//   - DeviceInfo: What an integration knows about a device when registering it
//   - Update: Partial change applied through Registry.Update
//
// # Usage
//
//	repo := device.NewSQLiteRepository(db.DB)
//	registry := device.NewRegistry(repo)
//	registry.SetLogger(log)
//
//	if err := registry.RefreshCache(ctx); err != nil {
//	    return err
//	}
//
//	dev, err := registry.GetOrCreate(ctx, entryID, device.DeviceInfo{
//	    Identifiers: []device.Identifier{{Domain: "lcn", ID: uniqueID}},
//	    Name:        "Kitchen module",
//	})
//
// # Ownership
//
// A device may be registered by several config entries. RemoveConfigEntry
// detaches one entry and deletes devices that no entry owns any more.
//
// # Thread Safety
//
// All Registry methods are safe for concurrent use. Returned devices are
// deep copies.
package device

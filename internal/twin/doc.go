// Package twin models device twins and keeps the hub's twin registry.
//
// A twin is a pair of JSON documents per device: the desired properties
// written by services and the reported properties written by the device.
// Each side carries its own version, incremented on every applied patch.
//
// # Patches
//
// Both sides are updated with JSON merge patches (RFC 7386). A desired
// patch of null clears every desired property; the device receives that
// as a reset. Applying a desired patch yields a DesiredDelta, the message
// forwarded to the device.
//
// # Persistence
//
// Registry caches twins in memory in front of a Repository (SQLite in
// production) and records every applied patch through a HistoryRepository.
// Writes are serialised per registry, and twins returned to callers are
// deep copies.
//
// # Usage
//
//	repo := twin.NewSQLiteRepository(db.DB)
//	history := twin.NewSQLiteHistoryRepository(db.DB)
//	registry := twin.NewRegistry(repo, history)
//	if err := registry.Refresh(ctx); err != nil {
//	    return err
//	}
//
//	t, delta, err := registry.UpdateDesired(ctx, "MyTwinDevice", patch, twin.AnyVersion)
package twin

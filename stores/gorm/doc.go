// Package gorm provides GORM-based implementations of the courtside account
// and profile stores.  It works with any database GORM supports; Open runs
// it on the same pure-Go SQLite engine as stores/sqlite, which is how the
// CLI's local gateway keeps its data on a device.
//
// # Database Schema
//
// The package auto-migrates the following tables:
//   - accounts: identities and their password hashes
//   - profiles: the onboarding record for each identity
//
// # Usage
//
//	store, _ := gormstore.Open(filepath.Join(dataDir, "courtside.db"))
//	defer store.Close()
//	gw := local.New(store, store, sessions)
package gorm

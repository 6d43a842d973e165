// Package db provides the embedded migrations and seed catalog.
package db

import "embed"

// Migrations holds the golang-migrate SQL files under migrations/.
//
//go:embed migrations/*.sql
var Migrations embed.FS

// SeedCatalog is the demo catalog loaded by cmd/seed-db.
//
//go:embed seed/catalog.json
var SeedCatalog []byte

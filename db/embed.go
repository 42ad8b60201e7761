// Package db provides the embedded catalog schema and seed data.
package db

import _ "embed"

// Schema contains the DDL statements for the catalog tables.
//
//go:embed migrations/001_schema.sql
var Schema string

// SeedCatalog is the default catalog document used by seed-db and by the
// server when no catalog file is configured.
//
//go:embed seed/catalog.json
var SeedCatalog []byte

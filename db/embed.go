// Package db embeds the catalog schema.
package db

import _ "embed"

// Schema creates the product, margin rule and member tables. It is
// idempotent.
//
//go:embed migrations/001_schema.sql
var Schema string

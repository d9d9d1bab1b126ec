//go:build cgo_sqlite

// CGO SQLite oracle driver, using mattn/go-sqlite3.
//
// Build with: go test -tags cgo_sqlite ./ferrotest/...
// Requires CGO_ENABLED=1.
package ferrotest

import (
	_ "github.com/mattn/go-sqlite3" // CGO SQLite driver
)

const (
	oracleDriverName = "sqlite3"
	oracleDriverType = "cgo"
)

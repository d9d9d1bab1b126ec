//go:build !cgo_sqlite

// Pure Go SQLite oracle driver, using modernc.org/sqlite. Default when
// CGO is disabled or the cgo_sqlite build tag is not set.
package ferrotest

import (
	_ "modernc.org/sqlite" // pure Go SQLite driver
)

const (
	oracleDriverName = "sqlite"
	oracleDriverType = "purego"
)

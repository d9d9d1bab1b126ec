// Package ferrotest runs the same scripted sequence of table
// operations against this engine's B-tree (§8.3) and a real SQLite
// connection opened on an equivalent single-table schema, then diffs
// the observed key/value sequences. It exists purely to catch
// divergence from SQLite's on-disk format semantics; the oracle never
// appears in a non-test build.
package ferrotest

import (
	"database/sql"
	"fmt"
)

// OpenOracle opens a SQLite database at path using whichever oracle
// driver this build was compiled with (modernc.org/sqlite by default,
// mattn/go-sqlite3 under -tags cgo_sqlite).
func OpenOracle(path string) (*sql.DB, error) {
	db, err := sql.Open(oracleDriverName, path)
	if err != nil {
		return nil, fmt.Errorf("open oracle: %w", err)
	}
	return db, nil
}

// OracleDriverType identifies the underlying oracle implementation:
// "purego" for modernc.org/sqlite, "cgo" for mattn/go-sqlite3.
func OracleDriverType() string {
	return oracleDriverType
}

// Op is one step of a scripted table operation sequence (§8.3).
type Op struct {
	Rowid   int64
	Payload []byte // nil for a Delete
}

// IsDelete reports whether this op removes Rowid rather than
// inserting or overwriting it.
func (o Op) IsDelete() bool {
	return o.Payload == nil
}

// Row is one surviving (rowid, payload) pair after a script runs.
type Row struct {
	Rowid   int64
	Payload []byte
}

package bunx

import (
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
)

// IsPostgreSQL reports whether db (or a transaction on it) speaks the PostgreSQL dialect.
// Row locking clauses such as FOR UPDATE are only valid there.
func IsPostgreSQL(db bun.IDB) bool {
	return db.Dialect().Name() == dialect.PG
}

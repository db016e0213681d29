package repo

import (
	"database/sql"
	"regexp"

	"github.com/tapreward/server/internal/db"
)

var pgPlaceholder = regexp.MustCompile(`\$(\d+)`)

// store carries the handle and dialect shared by every repository. Queries are written
// with PostgreSQL placeholders and rewritten to SQLite's ?NNN form when needed.
type store struct {
	db      *sql.DB
	dialect db.Dialect
}

func newStore(database *sql.DB, dialect db.Dialect) store {
	return store{db: database, dialect: dialect}
}

func (s store) rebind(query string) string {
	if s.dialect != db.DialectSQLite {
		return query
	}
	return pgPlaceholder.ReplaceAllString(query, "?$1")
}

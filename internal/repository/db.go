package repository

import "database/sql"

// querier abstracts *sql.DB and *sql.Tx so repository methods can run either
// standalone or inside a caller-owned transaction.
type querier interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
	Query(query string, args ...interface{}) (*sql.Rows, error)
	QueryRow(query string, args ...interface{}) *sql.Row
}

// conn returns tx when present, db otherwise
func conn(db *sql.DB, tx *sql.Tx) querier {
	if tx != nil {
		return tx
	}
	return db
}

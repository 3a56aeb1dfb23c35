// Package sqlsource reads work items from a SQL query.
package sqlsource

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/utkarsh5026/fetchpool/pool"
)

// ErrNoQuery is returned by Each when the Query has no SQL text or database.
var ErrNoQuery = errors.New(pool.Namespace + ": sqlsource: missing database or query")

// Query is a pool.Source whose items are the single column returned by a
// SELECT. Rows are streamed, so the producer's backpressure applies to the
// cursor and large tables are not loaded into memory.
//
// Example:
//
//	src := sqlsource.New[int](db, `SELECT id FROM people WHERE active = ?`, true)
//	report, err := pool.Run(ctx, src, client)
type Query[K comparable] struct {
	db    *sql.DB
	query string
	args  []any
}

var _ pool.Source[int] = (*Query[int])(nil)

// New creates a Query. args are bound to the query's placeholders.
func New[K comparable](db *sql.DB, query string, args ...any) *Query[K] {
	return &Query[K]{db: db, query: query, args: args}
}

// Each runs the query and emits the first column of every row.
// A scan or iteration error ends the pass and is returned.
func (q *Query[K]) Each(ctx context.Context, emit func(K) bool) (err error) {
	if q == nil || q.db == nil || q.query == "" {
		return ErrNoQuery
	}

	rows, err := q.db.QueryContext(ctx, q.query, q.args...)
	if err != nil {
		return fmt.Errorf("query items: %w", err)
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close rows: %w", cerr)
		}
	}()

	n := 0
	for rows.Next() {
		var item K
		if err := rows.Scan(&item); err != nil {
			return fmt.Errorf("scan row %d: %w", n, err)
		}
		n++
		if !emit(item) {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate rows: %w", err)
	}
	return nil
}
